package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"deedmarket/native/market"
)

var (
	listingRecordPrefix = []byte("market/listing/")
	bidRecordPrefix     = []byte("market/bid/")
)

func listingStorageKey(assetID uint64) []byte {
	buf := make([]byte, len(listingRecordPrefix)+8)
	copy(buf, listingRecordPrefix)
	binary.BigEndian.PutUint64(buf[len(listingRecordPrefix):], assetID)
	return buf
}

func bidStorageKey(assetID uint64) []byte {
	buf := make([]byte, len(bidRecordPrefix)+8)
	copy(buf, bidRecordPrefix)
	binary.BigEndian.PutUint64(buf[len(bidRecordPrefix):], assetID)
	return buf
}

// Signed timestamps are stored as big.Int because RLP has no signed integer
// encoding.
type storedListing struct {
	AssetID    uint64
	Seller     [20]byte
	Instrument string
	MinPrice   *big.Int
	CreatedAt  *big.Int
	Active     bool
}

type storedBid struct {
	AssetID    uint64
	Bidder     [20]byte
	Instrument string
	Amount     *big.Int
	PlacedAt   *big.Int
}

func newStoredListing(l *market.Listing) *storedListing {
	if l == nil {
		return nil
	}
	minPrice := big.NewInt(0)
	if l.MinPrice != nil {
		minPrice = new(big.Int).Set(l.MinPrice)
	}
	return &storedListing{
		AssetID:    l.AssetID,
		Seller:     l.Seller,
		Instrument: l.Instrument,
		MinPrice:   minPrice,
		CreatedAt:  big.NewInt(l.CreatedAt),
		Active:     l.Active,
	}
}

func (s *storedListing) toListing() (*market.Listing, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil listing record")
	}
	out := &market.Listing{
		AssetID:    s.AssetID,
		Seller:     s.Seller,
		Instrument: s.Instrument,
		MinPrice:   big.NewInt(0),
		Active:     s.Active,
	}
	if s.MinPrice != nil {
		out.MinPrice = new(big.Int).Set(s.MinPrice)
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	return market.SanitizeListing(out)
}

func newStoredBid(b *market.Bid) *storedBid {
	if b == nil {
		return nil
	}
	amount := big.NewInt(0)
	if b.Amount != nil {
		amount = new(big.Int).Set(b.Amount)
	}
	return &storedBid{
		AssetID:    b.AssetID,
		Bidder:     b.Bidder,
		Instrument: b.Instrument,
		Amount:     amount,
		PlacedAt:   big.NewInt(b.PlacedAt),
	}
}

func (s *storedBid) toBid() (*market.Bid, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil bid record")
	}
	out := &market.Bid{
		AssetID:    s.AssetID,
		Bidder:     s.Bidder,
		Instrument: s.Instrument,
		Amount:     big.NewInt(0),
	}
	if s.Amount != nil {
		out.Amount = new(big.Int).Set(s.Amount)
	}
	if s.PlacedAt != nil {
		out.PlacedAt = s.PlacedAt.Int64()
	}
	return market.SanitizeBid(out)
}

// ListingPut persists the supplied listing after sanitising it.
func (m *Manager) ListingPut(l *market.Listing) error {
	sanitized, err := market.SanitizeListing(l)
	if err != nil {
		return err
	}
	return m.KVPut(listingStorageKey(sanitized.AssetID), newStoredListing(sanitized))
}

// ListingGet loads the listing recorded for the supplied asset, if any.
func (m *Manager) ListingGet(assetID uint64) (*market.Listing, bool) {
	var stored storedListing
	ok, err := m.KVGet(listingStorageKey(assetID), &stored)
	if err != nil || !ok {
		return nil, false
	}
	listing, err := stored.toListing()
	if err != nil {
		return nil, false
	}
	return listing, true
}

// ListingDelete clears the listing recorded for the supplied asset.
func (m *Manager) ListingDelete(assetID uint64) error {
	return m.KVDelete(listingStorageKey(assetID))
}

// BidPut persists the supplied standing bid after sanitising it.
func (m *Manager) BidPut(b *market.Bid) error {
	sanitized, err := market.SanitizeBid(b)
	if err != nil {
		return err
	}
	return m.KVPut(bidStorageKey(sanitized.AssetID), newStoredBid(sanitized))
}

// BidGet loads the standing bid recorded for the supplied asset, if any.
func (m *Manager) BidGet(assetID uint64) (*market.Bid, bool) {
	var stored storedBid
	ok, err := m.KVGet(bidStorageKey(assetID), &stored)
	if err != nil || !ok {
		return nil, false
	}
	bid, err := stored.toBid()
	if err != nil {
		return nil, false
	}
	return bid, true
}

// BidDelete clears the standing bid recorded for the supplied asset.
func (m *Manager) BidDelete(assetID uint64) error {
	return m.KVDelete(bidStorageKey(assetID))
}
