package market

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"deedmarket/core/types"
)

const (
	EventTypeListingCreated    = "market.listing.created"
	EventTypeListingCancelled  = "market.listing.cancelled"
	EventTypeBidPlaced         = "market.bid.placed"
	EventTypeSaleSettled       = "market.sale.settled"
	EventTypeRefundCredited    = "market.refund.credited"
	EventTypeRefundWithdrawn   = "market.refund.withdrawn"
	EventTypeEarningsWithdrawn = "market.earnings.withdrawn"
)

// NewListingCreatedEvent returns the canonical payload for a new listing.
func NewListingCreatedEvent(l *Listing) *types.Event {
	attrs := make(map[string]string)
	if sanitized, err := SanitizeListing(l); err == nil {
		attrs["assetId"] = strconv.FormatUint(sanitized.AssetID, 10)
		attrs["seller"] = hex.EncodeToString(sanitized.Seller[:])
		attrs["instrument"] = sanitized.Instrument
		attrs["minPrice"] = sanitized.MinPrice.String()
		attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	}
	return &types.Event{Type: EventTypeListingCreated, Attributes: attrs}
}

// NewListingCancelledEvent returns the canonical payload emitted when a seller
// takes a listing down and the deed returns to their custody.
func NewListingCancelledEvent(l *Listing) *types.Event {
	attrs := make(map[string]string)
	if sanitized, err := SanitizeListing(l); err == nil {
		attrs["assetId"] = strconv.FormatUint(sanitized.AssetID, 10)
		attrs["seller"] = hex.EncodeToString(sanitized.Seller[:])
	}
	return &types.Event{Type: EventTypeListingCancelled, Attributes: attrs}
}

// NewBidPlacedEvent returns the canonical payload for a newly standing bid.
func NewBidPlacedEvent(b *Bid) *types.Event {
	attrs := make(map[string]string)
	if sanitized, err := SanitizeBid(b); err == nil {
		attrs["assetId"] = strconv.FormatUint(sanitized.AssetID, 10)
		attrs["bidder"] = hex.EncodeToString(sanitized.Bidder[:])
		attrs["instrument"] = sanitized.Instrument
		attrs["amount"] = sanitized.Amount.String()
		attrs["placedAt"] = strconv.FormatInt(sanitized.PlacedAt, 10)
	}
	return &types.Event{Type: EventTypeBidPlaced, Attributes: attrs}
}

// NewSaleSettledEvent returns the canonical payload emitted when a bid is
// accepted and the sale settles atomically.
func NewSaleSettledEvent(l *Listing, b *Bid, fee, proceeds *big.Int) *types.Event {
	attrs := make(map[string]string)
	sanitizedListing, errL := SanitizeListing(l)
	sanitizedBid, errB := SanitizeBid(b)
	if errL == nil && errB == nil {
		attrs["assetId"] = strconv.FormatUint(sanitizedListing.AssetID, 10)
		attrs["seller"] = hex.EncodeToString(sanitizedListing.Seller[:])
		attrs["buyer"] = hex.EncodeToString(sanitizedBid.Bidder[:])
		attrs["instrument"] = sanitizedBid.Instrument
		attrs["amount"] = sanitizedBid.Amount.String()
		attrs["fee"] = formatAmount(fee)
		attrs["proceeds"] = formatAmount(proceeds)
	}
	return &types.Event{Type: EventTypeSaleSettled, Attributes: attrs}
}

// NewRefundCreditedEvent returns the payload recorded when a displaced bid is
// moved into the refund ledger.
func NewRefundCreditedEvent(beneficiary [20]byte, instrument string, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeRefundCredited, Attributes: map[string]string{
		"beneficiary": hex.EncodeToString(beneficiary[:]),
		"instrument":  instrument,
		"amount":      formatAmount(amount),
	}}
}

// NewRefundWithdrawnEvent returns the payload emitted when a displaced bidder
// pulls their credited refund out of escrow.
func NewRefundWithdrawnEvent(beneficiary [20]byte, instrument string, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeRefundWithdrawn, Attributes: map[string]string{
		"beneficiary": hex.EncodeToString(beneficiary[:]),
		"instrument":  instrument,
		"amount":      formatAmount(amount),
	}}
}

// NewEarningsWithdrawnEvent returns the payload emitted when the fee treasury
// withdraws accrued platform earnings.
func NewEarningsWithdrawnEvent(treasury [20]byte, instrument string, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeEarningsWithdrawn, Attributes: map[string]string{
		"treasury":   hex.EncodeToString(treasury[:]),
		"instrument": instrument,
		"amount":     formatAmount(amount),
	}}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
