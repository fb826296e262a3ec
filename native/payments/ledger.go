package payments

import (
	"errors"
	"fmt"
	"math/big"

	"deedmarket/native/market"
)

var (
	ErrInsufficientFunds = errors.New("payments: insufficient balance")

	errNilState = errors.New("payments: state not configured")
)

// ledgerState captures the balance-book capabilities the ledger needs from
// the state manager.
type ledgerState interface {
	Balance(addr []byte, symbol string) (*big.Int, error)
	SetBalance(addr []byte, symbol string, amount *big.Int) error
}

// Ledger implements the marketplace's payment surface over state-backed
// instrument balances. Every escrowed unit is held under the vault address,
// so the vault balance per instrument is the escrow solvency ceiling.
//
// The native settlement currency is moved through the same balance book under
// the native sentinel symbol; the distinct calling convention of native
// transfers is confined to this package.
type Ledger struct {
	state ledgerState
	vault [20]byte
}

// NewLedger constructs a payment ledger escrowing into the supplied vault
// address.
func NewLedger(state ledgerState, vault [20]byte) *Ledger {
	return &Ledger{state: state, vault: vault}
}

func (l *Ledger) transfer(from, to [20]byte, instrument string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	symbol, err := market.NormalizeInstrument(instrument)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("payments: negative transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBalance, err := l.state.Balance(from[:], symbol)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toBalance, err := l.state.Balance(to[:], symbol)
	if err != nil {
		return err
	}
	if err := l.state.SetBalance(from[:], symbol, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.state.SetBalance(to[:], symbol, new(big.Int).Add(toBalance, amount))
}

// Deposit pulls amount of the instrument from the payer into escrow.
func (l *Ledger) Deposit(payer [20]byte, instrument string, amount *big.Int) error {
	return l.transfer(payer, l.vault, instrument, amount)
}

// Payout pushes amount of the instrument out of escrow to the payee.
func (l *Ledger) Payout(payee [20]byte, instrument string, amount *big.Int) error {
	return l.transfer(l.vault, payee, instrument, amount)
}

// VaultBalance reports the escrowed balance held for an instrument.
func (l *Ledger) VaultBalance(instrument string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	symbol, err := market.NormalizeInstrument(instrument)
	if err != nil {
		return nil, err
	}
	return l.state.Balance(l.vault[:], symbol)
}

// Mint credits an address with freshly issued units of an instrument. Used by
// genesis wiring and tests to fund accounts.
func (l *Ledger) Mint(addr [20]byte, instrument string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	symbol, err := market.NormalizeInstrument(instrument)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("payments: mint amount must be positive")
	}
	balance, err := l.state.Balance(addr[:], symbol)
	if err != nil {
		return err
	}
	return l.state.SetBalance(addr[:], symbol, new(big.Int).Add(balance, amount))
}
