package state

import (
	"fmt"
	"math/big"
	"strings"
)

var (
	refundCreditPrefix = []byte("market/refund/")
	earningsPrefix     = []byte("market/earnings/")
)

func refundCreditKey(beneficiary [20]byte, instrument string) []byte {
	buf := make([]byte, 0, len(refundCreditPrefix)+len(instrument)+1+len(beneficiary))
	buf = append(buf, refundCreditPrefix...)
	buf = append(buf, instrument...)
	buf = append(buf, ':')
	buf = append(buf, beneficiary[:]...)
	return buf
}

func earningsKey(instrument string) []byte {
	buf := make([]byte, 0, len(earningsPrefix)+len(instrument))
	buf = append(buf, earningsPrefix...)
	buf = append(buf, instrument...)
	return buf
}

func normalizeSymbol(instrument string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(instrument))
	if trimmed == "" {
		return "", fmt.Errorf("state: instrument symbol required")
	}
	return trimmed, nil
}

// RefundCredit appends to the refund balance owed to a displaced bidder. The
// ledger is credit-only from the engine's perspective; the only debit is the
// atomic zeroing performed at withdrawal start.
func (m *Manager) RefundCredit(beneficiary [20]byte, instrument string, amount *big.Int) error {
	symbol, err := normalizeSymbol(instrument)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: refund credit must be positive")
	}
	current, err := m.RefundBalance(beneficiary, symbol)
	if err != nil {
		return err
	}
	return m.KVPut(refundCreditKey(beneficiary, symbol), new(big.Int).Add(current, amount))
}

// RefundBalance reads the refund credit owed to a beneficiary for an
// instrument. A missing record reads as zero.
func (m *Manager) RefundBalance(beneficiary [20]byte, instrument string) (*big.Int, error) {
	symbol, err := normalizeSymbol(instrument)
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	ok, err := m.KVGet(refundCreditKey(beneficiary, symbol), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// RefundClear zeroes the refund credit owed to a beneficiary.
func (m *Manager) RefundClear(beneficiary [20]byte, instrument string) error {
	symbol, err := normalizeSymbol(instrument)
	if err != nil {
		return err
	}
	return m.KVDelete(refundCreditKey(beneficiary, symbol))
}

// EarningsCredit accrues a platform fee to the earnings pool for an
// instrument. The native settlement currency pool uses the native sentinel
// symbol.
func (m *Manager) EarningsCredit(instrument string, amount *big.Int) error {
	symbol, err := normalizeSymbol(instrument)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: earnings credit must be positive")
	}
	current, err := m.EarningsBalance(symbol)
	if err != nil {
		return err
	}
	return m.KVPut(earningsKey(symbol), new(big.Int).Add(current, amount))
}

// EarningsBalance reads the accrued platform earnings for an instrument.
func (m *Manager) EarningsBalance(instrument string) (*big.Int, error) {
	symbol, err := normalizeSymbol(instrument)
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	ok, err := m.KVGet(earningsKey(symbol), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// EarningsClear zeroes the accrued platform earnings for an instrument.
func (m *Manager) EarningsClear(instrument string) error {
	symbol, err := normalizeSymbol(instrument)
	if err != nil {
		return err
	}
	return m.KVDelete(earningsKey(symbol))
}
