package rpc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"deedmarket/native/common"
	"deedmarket/native/market"
)

type createListingParams struct {
	Caller     string `json:"caller"`
	AssetID    uint64 `json:"assetId"`
	Instrument string `json:"instrument"`
	MinPrice   string `json:"minPrice"`
}

type assetActorParams struct {
	Caller  string `json:"caller"`
	AssetID uint64 `json:"assetId"`
}

type assetParams struct {
	AssetID uint64 `json:"assetId"`
}

type placeBidParams struct {
	Caller     string `json:"caller"`
	AssetID    uint64 `json:"assetId"`
	Amount     string `json:"amount"`
	Instrument string `json:"instrument"`
	Attached   string `json:"attached,omitempty"`
}

type withdrawParams struct {
	Caller     string `json:"caller"`
	Instrument string `json:"instrument"`
}

type balanceParams struct {
	Address    string `json:"address,omitempty"`
	Instrument string `json:"instrument"`
}

type listingJSON struct {
	AssetID    uint64 `json:"assetId"`
	Seller     string `json:"seller"`
	Instrument string `json:"instrument"`
	MinPrice   string `json:"minPrice"`
	CreatedAt  int64  `json:"createdAt"`
	Active     bool   `json:"active"`
}

type bidJSON struct {
	AssetID    uint64 `json:"assetId"`
	Bidder     string `json:"bidder"`
	Instrument string `json:"instrument"`
	Amount     string `json:"amount"`
	PlacedAt   int64  `json:"placedAt"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

type settlementJSON struct {
	AssetID    uint64 `json:"assetId"`
	Buyer      string `json:"buyer"`
	Instrument string `json:"instrument"`
	Amount     string `json:"amount"`
	Fee        string `json:"fee"`
	Proceeds   string `json:"proceeds"`
}

func listingToJSON(l *market.Listing) listingJSON {
	return listingJSON{
		AssetID:    l.AssetID,
		Seller:     "0x" + hex.EncodeToString(l.Seller[:]),
		Instrument: l.Instrument,
		MinPrice:   l.MinPrice.String(),
		CreatedAt:  l.CreatedAt,
		Active:     l.Active,
	}
}

func bidToJSON(b *market.Bid) bidJSON {
	return bidJSON{
		AssetID:    b.AssetID,
		Bidder:     "0x" + hex.EncodeToString(b.Bidder[:]),
		Instrument: b.Instrument,
		Amount:     b.Amount.String(),
		PlacedAt:   b.PlacedAt,
	}
}

func parseHexAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid address %q", value)
	}
	if len(decoded) != 20 {
		return out, fmt.Errorf("invalid address length %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if parsed.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return parsed, nil
}

// marketErrorCode classifies an engine failure into a JSON-RPC error code.
func marketErrorCode(err error) int {
	switch {
	case errors.Is(err, market.ErrNotOwner),
		errors.Is(err, market.ErrNotSeller),
		errors.Is(err, market.ErrNotTreasury),
		errors.Is(err, market.ErrApprovalMissing):
		return codeMarketForbidden
	case errors.Is(err, market.ErrListingNotActive),
		errors.Is(err, market.ErrNoActiveBid),
		errors.Is(err, market.ErrNothingToWithdraw):
		return codeMarketNotFound
	case errors.Is(err, market.ErrListingExists),
		errors.Is(err, market.ErrBidTooLow),
		errors.Is(err, market.ErrReentrantCall),
		errors.Is(err, market.ErrInsolventEscrow),
		errors.Is(err, common.ErrModulePaused):
		return codeMarketConflict
	case errors.Is(err, market.ErrInvalidPrice),
		errors.Is(err, market.ErrUnsupportedInstrument),
		errors.Is(err, market.ErrBadPaymentChannel):
		return codeMarketInvalidParams
	default:
		return codeMarketInternal
	}
}

func writeMarketError(w http.ResponseWriter, id interface{}, err error) {
	code := marketErrorCode(err)
	status := http.StatusBadRequest
	switch code {
	case codeMarketForbidden:
		status = http.StatusForbidden
	case codeMarketNotFound:
		status = http.StatusNotFound
	case codeMarketConflict:
		status = http.StatusConflict
	case codeMarketInternal:
		status = http.StatusInternalServerError
	}
	writeError(w, status, id, code, "market_error", err.Error())
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params assetParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, ok, err := s.engine.GetListing(params.AssetID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMarketNotFound, "not_found", "no listing for asset")
		return
	}
	writeResult(w, req.ID, listingToJSON(listing))
}

func (s *Server) handleGetBid(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params assetParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	bid, ok, err := s.engine.GetBid(params.AssetID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMarketNotFound, "not_found", "no standing bid for asset")
		return
	}
	writeResult(w, req.ID, bidToJSON(bid))
}

func (s *Server) handleRefundBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params balanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseHexAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.engine.RefundBalance(addr, params.Instrument)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: balance.String()})
}

func (s *Server) handleEarningsBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params balanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.engine.EarningsBalance(params.Instrument)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: balance.String()})
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params createListingParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	minPrice, err := parsePositiveBigInt(params.MinPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, err := s.engine.CreateListing(caller, params.AssetID, params.Instrument, minPrice)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingToJSON(listing))
}

func (s *Server) handleCancelListing(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params assetActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.CancelListing(caller, params.AssetID); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"cancelled": true})
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params placeBidParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var attached *big.Int
	if strings.TrimSpace(params.Attached) != "" {
		attached, err = parsePositiveBigInt(params.Attached)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	bid, err := s.engine.PlaceBid(caller, params.AssetID, amount, params.Instrument, attached)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, bidToJSON(bid))
}

func (s *Server) handleAcceptBid(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params assetActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	settlement, err := s.engine.AcceptBid(caller, params.AssetID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	feeUnits, _ := new(big.Float).SetInt(settlement.Fee).Float64()
	s.metrics.ObserveSettlement(settlement.Instrument, feeUnits)
	writeResult(w, req.ID, settlementJSON{
		AssetID:    settlement.AssetID,
		Buyer:      "0x" + hex.EncodeToString(settlement.Buyer[:]),
		Instrument: settlement.Instrument,
		Amount:     settlement.Amount.String(),
		Fee:        settlement.Fee.String(),
		Proceeds:   settlement.Proceeds.String(),
	})
}

func (s *Server) handleWithdrawRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params withdrawParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.engine.WithdrawRefund(caller, params.Instrument)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amount.String()})
}

func (s *Server) handleWithdrawEarnings(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params withdrawParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.engine.WithdrawEarnings(caller, params.Instrument)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amount.String()})
}
