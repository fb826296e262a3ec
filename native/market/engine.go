package market

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"deedmarket/core/events"
	"deedmarket/core/types"
	nativecommon "deedmarket/native/common"
)

const moduleName = "market"

var (
	errNilState    = errors.New("market engine: state not configured")
	errNilRegistry = errors.New("market engine: deed registry not configured")
	errNilPayments = errors.New("market engine: payment ledger not configured")
	errNilTreasury = errors.New("market engine: fee treasury not configured")
)

// marketState is the narrow state surface the engine mutates. Implementations
// must support snapshot/revert so a failed operation can be rolled back
// without partial effects, and commit so a successful one becomes durable.
type marketState interface {
	ListingPut(*Listing) error
	ListingGet(assetID uint64) (*Listing, bool)
	ListingDelete(assetID uint64) error
	BidPut(*Bid) error
	BidGet(assetID uint64) (*Bid, bool)
	BidDelete(assetID uint64) error
	RefundCredit(beneficiary [20]byte, instrument string, amount *big.Int) error
	RefundBalance(beneficiary [20]byte, instrument string) (*big.Int, error)
	RefundClear(beneficiary [20]byte, instrument string) error
	EarningsCredit(instrument string, amount *big.Int) error
	EarningsBalance(instrument string) (*big.Int, error)
	EarningsClear(instrument string) error
	Snapshot() int
	RevertToSnapshot(int)
	Commit() error
}

// AssetRegistry is the deed-ownership collaborator. The engine only queries
// ownership and approval state and moves custody; it never inspects registry
// internals.
type AssetRegistry interface {
	OwnerOf(assetID uint64) ([20]byte, error)
	GetApproved(assetID uint64) ([20]byte, error)
	IsApprovedForAll(owner, operator [20]byte) (bool, error)
	TransferFrom(from, to [20]byte, assetID uint64) error
}

// PaymentLedger is the payment-instrument collaborator. Deposit pulls funds
// from a payer into the market escrow, Payout pushes escrowed funds out.
// Outbound transfers can invoke third-party code on the payee side, so both
// report failure explicitly and the engine treats failure as an ordinary error
// path triggering full rollback.
type PaymentLedger interface {
	Deposit(payer [20]byte, instrument string, amount *big.Int) error
	Payout(payee [20]byte, instrument string, amount *big.Int) error
	VaultBalance(instrument string) (*big.Int, error)
}

// ParamsView exposes the administratively controlled policy values consumed
// by the engine.
type ParamsView interface {
	FeeBps() (uint32, error)
	InstrumentSupported(symbol string) (bool, error)
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine is the listing/bid/settlement state machine. Every public mutating
// operation is atomic: it snapshots state at entry and reverts every mutation
// on any failure, including failures of outbound custody or payment
// transfers. A single-entry guard rejects reentrant calls into any mutating
// entry point while a transfer is in flight.
type Engine struct {
	state    marketState
	registry AssetRegistry
	payments PaymentLedger
	params   ParamsView
	pauses   nativecommon.PauseView
	emitter  events.Emitter
	vault    [20]byte
	treasury [20]byte
	nowFn    func() int64
	entered  bool
}

// NewEngine creates a marketplace engine with a no-op emitter. Callers wire
// state, registry, ledger, and policy via the setters before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state marketState) { e.state = state }

// SetRegistry configures the deed registry collaborator.
func (e *Engine) SetRegistry(registry AssetRegistry) { e.registry = registry }

// SetPayments configures the payment ledger collaborator.
func (e *Engine) SetPayments(payments PaymentLedger) { e.payments = payments }

// SetParams configures the policy view used for fee and instrument checks.
func (e *Engine) SetParams(view ParamsView) { e.params = view }

// SetPauses configures the pause view guarding mutating entry points.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetVault configures the address holding deeds in market custody.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetFeeTreasury configures the address entitled to withdraw fee earnings.
func (e *Engine) SetFeeTreasury(addr [20]byte) { e.treasury = addr }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if e.payments == nil {
		return errNilPayments
	}
	return nil
}

// enter acquires the single-entry guard. The guard spans the whole operation,
// so a payee callback reentering any mutating entry point fails before
// touching state.
func (e *Engine) enter() error {
	if e.entered {
		return ErrReentrantCall
	}
	e.entered = true
	return nil
}

func (e *Engine) exit() { e.entered = false }

// finish commits on success and reverts every mutation back to snap on
// failure, so callers observe either the full effect or none of it.
func (e *Engine) finish(snap int, err error) error {
	if err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	return e.state.Commit()
}

func (e *Engine) feeBps() (uint32, error) {
	if e.params == nil {
		return 0, nil
	}
	return e.params.FeeBps()
}

func (e *Engine) instrumentAccepted(symbol string) (bool, error) {
	if symbol == InstrumentNative {
		return true, nil
	}
	if e.params == nil {
		return false, nil
	}
	return e.params.InstrumentSupported(symbol)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// CreateListing takes custody of the deed and records an active listing at
// the supplied floor price.
func (e *Engine) CreateListing(caller [20]byte, assetID uint64, instrument string, minPrice *big.Int) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	snap := e.state.Snapshot()
	listing, err := e.createListing(caller, assetID, instrument, minPrice)
	if err := e.finish(snap, err); err != nil {
		return nil, err
	}
	return listing, nil
}

func (e *Engine) createListing(caller [20]byte, assetID uint64, instrument string, minPrice *big.Int) (*Listing, error) {
	normalized, err := NormalizeInstrument(instrument)
	if err != nil {
		return nil, err
	}
	accepted, err := e.instrumentAccepted(normalized)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, ErrUnsupportedInstrument
	}
	price := cloneBigInt(minPrice)
	if price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if existing, ok := e.state.ListingGet(assetID); ok && existing.Active {
		return nil, ErrListingExists
	}
	owner, err := e.registry.OwnerOf(assetID)
	if err != nil {
		return nil, fmt.Errorf("market: owner lookup: %w", err)
	}
	if owner != caller {
		return nil, ErrNotOwner
	}
	approved, err := e.custodyApproved(caller, assetID)
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, ErrApprovalMissing
	}
	if err := e.registry.TransferFrom(caller, e.vault, assetID); err != nil {
		return nil, fmt.Errorf("market: custody transfer: %w", err)
	}
	listing := &Listing{
		AssetID:    assetID,
		Seller:     caller,
		Instrument: normalized,
		MinPrice:   price,
		CreatedAt:  e.now(),
		Active:     true,
	}
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(NewListingCreatedEvent(listing))
	return listing.Clone(), nil
}

func (e *Engine) custodyApproved(owner [20]byte, assetID uint64) (bool, error) {
	operatorApproved, err := e.registry.IsApprovedForAll(owner, e.vault)
	if err != nil {
		return false, fmt.Errorf("market: approval lookup: %w", err)
	}
	if operatorApproved {
		return true, nil
	}
	approved, err := e.registry.GetApproved(assetID)
	if err != nil {
		return false, fmt.Errorf("market: approval lookup: %w", err)
	}
	return approved == e.vault, nil
}

// CancelListing returns the deed to the seller and clears the listing. A
// standing bid is deliberately left untouched: its escrowed funds stay
// recoverable through displacement or acceptance after a re-listing.
func (e *Engine) CancelListing(caller [20]byte, assetID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	snap := e.state.Snapshot()
	return e.finish(snap, e.cancelListing(caller, assetID))
}

func (e *Engine) cancelListing(caller [20]byte, assetID uint64) error {
	listing, ok := e.state.ListingGet(assetID)
	if !ok || !listing.Active {
		return ErrListingNotActive
	}
	if listing.Seller != caller {
		return ErrNotSeller
	}
	if err := e.state.ListingDelete(assetID); err != nil {
		return err
	}
	if err := e.registry.TransferFrom(e.vault, listing.Seller, assetID); err != nil {
		return fmt.Errorf("market: custody return: %w", err)
	}
	e.emit(NewListingCancelledEvent(listing))
	return nil
}

// PlaceBid escrows the offered amount and replaces the standing bid. The
// attached value is the native currency accompanying the call: native bids
// must attach exactly the bid amount, instrument bids must attach nothing.
// The escrow pull for the new bid happens before the displaced bid's refund
// credit, so escrowed funds never momentarily dip below the ledgered total.
func (e *Engine) PlaceBid(caller [20]byte, assetID uint64, amount *big.Int, instrument string, attached *big.Int) (*Bid, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	snap := e.state.Snapshot()
	bid, err := e.placeBid(caller, assetID, amount, instrument, attached)
	if err := e.finish(snap, err); err != nil {
		return nil, err
	}
	return bid, nil
}

func (e *Engine) placeBid(caller [20]byte, assetID uint64, amount *big.Int, instrument string, attached *big.Int) (*Bid, error) {
	listing, ok := e.state.ListingGet(assetID)
	if !ok || !listing.Active {
		return nil, ErrListingNotActive
	}
	normalized, err := NormalizeInstrument(instrument)
	if err != nil {
		return nil, err
	}
	// Any supported instrument is accepted regardless of the listing's
	// declared one; amounts are compared numerically without normalising
	// across instruments.
	accepted, err := e.instrumentAccepted(normalized)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, ErrUnsupportedInstrument
	}
	offer := cloneBigInt(amount)
	if offer.Sign() <= 0 || offer.Cmp(listing.MinPrice) < 0 {
		return nil, ErrBidTooLow
	}
	if normalized == InstrumentNative {
		if attached == nil || attached.Cmp(offer) != 0 {
			return nil, ErrBadPaymentChannel
		}
	} else if attached != nil && attached.Sign() != 0 {
		return nil, ErrBadPaymentChannel
	}
	standing, hasStanding := e.state.BidGet(assetID)
	if hasStanding && offer.Cmp(standing.Amount) <= 0 {
		return nil, ErrBidTooLow
	}
	if err := e.payments.Deposit(caller, normalized, offer); err != nil {
		return nil, fmt.Errorf("market: bid deposit: %w", err)
	}
	if hasStanding {
		if err := e.state.RefundCredit(standing.Bidder, standing.Instrument, standing.Amount); err != nil {
			return nil, err
		}
		e.emit(NewRefundCreditedEvent(standing.Bidder, standing.Instrument, standing.Amount))
	}
	bid := &Bid{
		AssetID:    assetID,
		Bidder:     caller,
		Instrument: normalized,
		Amount:     offer,
		PlacedAt:   e.now(),
	}
	if err := e.state.BidPut(bid); err != nil {
		return nil, err
	}
	e.emit(NewBidPlacedEvent(bid))
	return bid.Clone(), nil
}

// Settlement reports the amounts moved by an accepted bid.
type Settlement struct {
	AssetID    uint64
	Seller     [20]byte
	Buyer      [20]byte
	Instrument string
	Amount     *big.Int
	Fee        *big.Int
	Proceeds   *big.Int
}

// AcceptBid settles the sale atomically: the seller is paid the bid amount
// minus the platform fee in the bid's instrument, the fee accrues to the
// earnings pool for that instrument, and deed custody moves to the bidder.
func (e *Engine) AcceptBid(caller [20]byte, assetID uint64) (*Settlement, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	snap := e.state.Snapshot()
	settlement, err := e.acceptBid(caller, assetID)
	if err := e.finish(snap, err); err != nil {
		return nil, err
	}
	return settlement, nil
}

func (e *Engine) acceptBid(caller [20]byte, assetID uint64) (*Settlement, error) {
	listing, ok := e.state.ListingGet(assetID)
	if !ok || !listing.Active {
		return nil, ErrListingNotActive
	}
	if listing.Seller != caller {
		return nil, ErrNotSeller
	}
	bid, ok := e.state.BidGet(assetID)
	if !ok || bid.Amount == nil || bid.Amount.Sign() <= 0 {
		return nil, ErrNoActiveBid
	}
	feeBps, err := e.feeBps()
	if err != nil {
		return nil, err
	}
	// The parameter store caps the rate well below the denominator; a view
	// reporting more would book a fee larger than the escrowed amount.
	if feeBps > 10_000 {
		return nil, fmt.Errorf("market: fee bps %d exceeds denominator", feeBps)
	}
	fee, proceeds := SplitFee(bid.Amount, feeBps)
	if err := e.state.ListingDelete(assetID); err != nil {
		return nil, err
	}
	if err := e.state.BidDelete(assetID); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		if err := e.state.EarningsCredit(bid.Instrument, fee); err != nil {
			return nil, err
		}
	}
	if proceeds.Sign() > 0 {
		if err := e.payments.Payout(listing.Seller, bid.Instrument, proceeds); err != nil {
			return nil, fmt.Errorf("market: seller payout: %w", err)
		}
	}
	if err := e.registry.TransferFrom(e.vault, bid.Bidder, assetID); err != nil {
		return nil, fmt.Errorf("market: deed transfer: %w", err)
	}
	e.emit(NewSaleSettledEvent(listing, bid, fee, proceeds))
	return &Settlement{
		AssetID:    assetID,
		Seller:     listing.Seller,
		Buyer:      bid.Bidder,
		Instrument: bid.Instrument,
		Amount:     cloneBigInt(bid.Amount),
		Fee:        fee,
		Proceeds:   proceeds,
	}, nil
}

// WithdrawRefund pays out the caller's accrued refund credit for the supplied
// instrument. The credit is zeroed before the outbound transfer is attempted;
// combined with the entry guard this is the reentrancy defense, so the
// ordering must not change.
func (e *Engine) WithdrawRefund(caller [20]byte, instrument string) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	snap := e.state.Snapshot()
	amount, err := e.withdrawRefund(caller, instrument)
	if err := e.finish(snap, err); err != nil {
		return nil, err
	}
	return amount, nil
}

func (e *Engine) withdrawRefund(caller [20]byte, instrument string) (*big.Int, error) {
	normalized, err := NormalizeInstrument(instrument)
	if err != nil {
		return nil, err
	}
	credit, err := e.state.RefundBalance(caller, normalized)
	if err != nil {
		return nil, err
	}
	if credit.Sign() <= 0 {
		return nil, ErrNothingToWithdraw
	}
	held, err := e.payments.VaultBalance(normalized)
	if err != nil {
		return nil, err
	}
	if held.Cmp(credit) < 0 {
		return nil, ErrInsolventEscrow
	}
	if err := e.state.RefundClear(caller, normalized); err != nil {
		return nil, err
	}
	if err := e.payments.Payout(caller, normalized, credit); err != nil {
		return nil, fmt.Errorf("market: refund payout: %w", err)
	}
	e.emit(NewRefundWithdrawnEvent(caller, normalized, credit))
	return credit, nil
}

// WithdrawEarnings pays the accrued platform fee pool for the supplied
// instrument out to the fee treasury. Same zero-then-transfer ordering as
// refund withdrawal.
func (e *Engine) WithdrawEarnings(caller [20]byte, instrument string) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.treasury == ([20]byte{}) {
		return nil, errNilTreasury
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	snap := e.state.Snapshot()
	amount, err := e.withdrawEarnings(caller, instrument)
	if err := e.finish(snap, err); err != nil {
		return nil, err
	}
	return amount, nil
}

func (e *Engine) withdrawEarnings(caller [20]byte, instrument string) (*big.Int, error) {
	if caller != e.treasury {
		return nil, ErrNotTreasury
	}
	normalized, err := NormalizeInstrument(instrument)
	if err != nil {
		return nil, err
	}
	earned, err := e.state.EarningsBalance(normalized)
	if err != nil {
		return nil, err
	}
	if earned.Sign() <= 0 {
		return nil, ErrNothingToWithdraw
	}
	held, err := e.payments.VaultBalance(normalized)
	if err != nil {
		return nil, err
	}
	if held.Cmp(earned) < 0 {
		return nil, ErrInsolventEscrow
	}
	if err := e.state.EarningsClear(normalized); err != nil {
		return nil, err
	}
	if err := e.payments.Payout(caller, normalized, earned); err != nil {
		return nil, fmt.Errorf("market: earnings payout: %w", err)
	}
	e.emit(NewEarningsWithdrawnEvent(caller, normalized, earned))
	return earned, nil
}

// GetListing returns the stored listing for an asset, if any.
func (e *Engine) GetListing(assetID uint64) (*Listing, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	listing, ok := e.state.ListingGet(assetID)
	if !ok {
		return nil, false, nil
	}
	return listing.Clone(), true, nil
}

// GetBid returns the standing bid for an asset, if any.
func (e *Engine) GetBid(assetID uint64) (*Bid, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	bid, ok := e.state.BidGet(assetID)
	if !ok {
		return nil, false, nil
	}
	return bid.Clone(), true, nil
}

// RefundBalance reports the withdrawable refund credit for a beneficiary.
func (e *Engine) RefundBalance(beneficiary [20]byte, instrument string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeInstrument(instrument)
	if err != nil {
		return nil, err
	}
	return e.state.RefundBalance(beneficiary, normalized)
}

// EarningsBalance reports the accrued platform fee pool for an instrument.
func (e *Engine) EarningsBalance(instrument string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeInstrument(instrument)
	if err != nil {
		return nil, err
	}
	return e.state.EarningsBalance(normalized)
}

// SplitFee computes the platform fee and seller proceeds for a settlement
// amount. The fee uses integer floor division over a 10_000 basis-point
// denominator, so rounding favours the seller by at most one smallest unit
// and fee + proceeds always equals the full amount.
func SplitFee(amount *big.Int, feeBps uint32) (fee, proceeds *big.Int) {
	total := cloneBigInt(amount)
	fee = new(big.Int).Mul(total, new(big.Int).SetUint64(uint64(feeBps)))
	fee.Div(fee, big.NewInt(10_000))
	proceeds = new(big.Int).Sub(total, fee)
	return fee, proceeds
}
