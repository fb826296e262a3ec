package market

import "errors"

// Precondition violations surfaced by the public entry points. Every failure
// leaves global state unchanged; callers correct the input and resubmit.
var (
	ErrNotOwner              = errors.New("market: caller does not own asset")
	ErrApprovalMissing       = errors.New("market: market not approved to take custody")
	ErrUnsupportedInstrument = errors.New("market: unsupported payment instrument")
	ErrInvalidPrice          = errors.New("market: minimum price must be positive")
	ErrListingExists         = errors.New("market: active listing already exists")
	ErrListingNotActive      = errors.New("market: listing not active")
	ErrNotSeller             = errors.New("market: caller is not the seller")
	ErrBidTooLow             = errors.New("market: bid must exceed standing bid and minimum price")
	ErrBadPaymentChannel     = errors.New("market: attached value does not match payment instrument")
	ErrNoActiveBid           = errors.New("market: no standing bid to accept")
	ErrNothingToWithdraw     = errors.New("market: no balance to withdraw")
	ErrNotTreasury           = errors.New("market: caller is not the fee treasury")
	ErrReentrantCall         = errors.New("market: reentrant call rejected")
	ErrInsolventEscrow       = errors.New("market: escrow balance below credited amount")
)
