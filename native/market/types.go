package market

import (
	"fmt"
	"math/big"
	"strings"
)

// InstrumentNative is the sentinel symbol for the native settlement currency.
// Every other symbol names a fungible payment instrument registered in the
// supported-instrument set.
const InstrumentNative = "NATIVE"

// Listing captures a seller's standing offer for a single deed. While the
// listing is active the deed itself is held by the market vault, not the
// seller.
type Listing struct {
	AssetID    uint64
	Seller     [20]byte
	Instrument string
	MinPrice   *big.Int
	CreatedAt  int64
	Active     bool
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.MinPrice != nil {
		clone.MinPrice = new(big.Int).Set(l.MinPrice)
	} else {
		clone.MinPrice = big.NewInt(0)
	}
	return &clone
}

// Bid is the standing highest offer against an active listing. At most one
// bid exists per asset; a higher bid displaces it into the refund ledger.
//
// The instrument is recorded alongside the amount because a bid may be placed
// in any supported instrument, not only the listing's declared one. Amount
// comparison between bids is purely numeric and ignores the instrument.
type Bid struct {
	AssetID    uint64
	Bidder     [20]byte
	Instrument string
	Amount     *big.Int
	PlacedAt   int64
}

// Clone returns a deep copy of the bid.
func (b *Bid) Clone() *Bid {
	if b == nil {
		return nil
	}
	clone := *b
	if b.Amount != nil {
		clone.Amount = new(big.Int).Set(b.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// NormalizeInstrument canonicalises an instrument symbol to uppercase and
// validates its shape. Whether the symbol is actually accepted for payment is
// decided by the supported-instrument set, not here.
func NormalizeInstrument(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("market: instrument symbol required")
	}
	for _, r := range trimmed {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("market: invalid instrument symbol %q", symbol)
		}
	}
	return trimmed, nil
}

// SanitizeListing validates and normalises the supplied listing, returning a
// cloned instance with canonical instrument casing and a non-nil price. The
// original value is not mutated.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("market: nil listing")
	}
	clone := l.Clone()
	instrument, err := NormalizeInstrument(clone.Instrument)
	if err != nil {
		return nil, err
	}
	clone.Instrument = instrument
	if clone.MinPrice == nil {
		clone.MinPrice = big.NewInt(0)
	}
	if clone.MinPrice.Sign() < 0 {
		return nil, fmt.Errorf("market: listing price must be non-negative")
	}
	return clone, nil
}

// SanitizeBid validates and normalises the supplied bid, returning a cloned
// instance. The original value is not mutated.
func SanitizeBid(b *Bid) (*Bid, error) {
	if b == nil {
		return nil, fmt.Errorf("market: nil bid")
	}
	clone := b.Clone()
	instrument, err := NormalizeInstrument(clone.Instrument)
	if err != nil {
		return nil, err
	}
	clone.Instrument = instrument
	if clone.Amount == nil {
		clone.Amount = big.NewInt(0)
	}
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("market: bid amount must be non-negative")
	}
	return clone, nil
}
