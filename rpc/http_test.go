package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"deedmarket/core/state"
	"deedmarket/native/assets"
	"deedmarket/native/market"
	"deedmarket/native/params"
	"deedmarket/native/payments"
	"deedmarket/storage"
)

const testToken = "test-token"

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func hexAddr(addr [20]byte) string {
	return fmt.Sprintf("0x%x", addr[:])
}

type testFixture struct {
	server   *Server
	handler  http.Handler
	registry *assets.Registry
	ledger   *payments.Ledger
	vault    [20]byte
	treasury [20]byte
	seller   [20]byte
	bidder   [20]byte
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	t.Setenv("DEEDMARKET_RPC_TOKEN", testToken)

	manager := state.NewManager(storage.NewMemDB())
	vault := testAddr(0xAA)
	treasury := testAddr(0xFE)
	seller := testAddr(0x01)
	bidder := testAddr(0x02)

	store := params.NewStore(manager)
	if err := store.SetFeePolicy(params.FeePolicy{FeeBps: 250}); err != nil {
		t.Fatalf("SetFeePolicy: %v", err)
	}
	if err := store.SetInstruments([]string{"USDX"}); err != nil {
		t.Fatalf("SetInstruments: %v", err)
	}

	registry := assets.NewRegistry(manager)
	ledger := payments.NewLedger(manager, vault)

	engine := market.NewEngine()
	engine.SetState(manager)
	engine.SetRegistry(registry)
	engine.SetPayments(ledger)
	engine.SetParams(store)
	engine.SetPauses(store)
	engine.SetVault(vault)
	engine.SetFeeTreasury(treasury)

	if err := registry.Mint(seller, 7); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := registry.SetApprovalForAll(seller, vault, true); err != nil {
		t.Fatalf("SetApprovalForAll: %v", err)
	}
	if err := ledger.Mint(bidder, "USDX", big.NewInt(10_000)); err != nil {
		t.Fatalf("fund bidder: %v", err)
	}

	server := NewServer(engine, nil)
	return &testFixture{
		server:   server,
		handler:  server.Handler(),
		registry: registry,
		ledger:   ledger,
		vault:    vault,
		treasury: treasury,
		seller:   seller,
		bidder:   bidder,
	}
}

func (f *testFixture) call(t *testing.T, token, method string, param interface{}) (*httptest.ResponseRecorder, rpcResponse) {
	t.Helper()
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []interface{}{param},
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, httpReq)
	var resp rpcResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return recorder, resp
}

func resultField(t *testing.T, resp rpcResponse, field string) string {
	t.Helper()
	payload, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result is not an object: %+v", resp.Result)
	}
	value, ok := payload[field].(string)
	if !ok {
		t.Fatalf("result field %q missing or not a string: %+v", field, payload)
	}
	return value
}

func TestRejectsNonPost(t *testing.T) {
	fixture := newTestFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
}

func TestRejectsWrongVersion(t *testing.T) {
	fixture := newTestFixture(t)
	body := []byte(`{"jsonrpc":"1.0","id":1,"method":"market_getListing","params":[{}]}`)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestUnknownMethod(t *testing.T) {
	fixture := newTestFixture(t)
	recorder, resp := fixture.call(t, "", "market_unknown", map[string]interface{}{})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method_not_found, got %+v", resp.Error)
	}
}

func TestMutatingMethodsRequireToken(t *testing.T) {
	fixture := newTestFixture(t)
	param := map[string]interface{}{
		"caller":     hexAddr(fixture.seller),
		"assetId":    7,
		"instrument": "USDX",
		"minPrice":   "100",
	}
	recorder, resp := fixture.call(t, "", "market_createListing", param)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}
	recorder, _ = fixture.call(t, "wrong-token", "market_createListing", param)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", recorder.Code)
	}
}

func TestListingLifecycleOverRPC(t *testing.T) {
	fixture := newTestFixture(t)

	recorder, resp := fixture.call(t, testToken, "market_createListing", map[string]interface{}{
		"caller":     hexAddr(fixture.seller),
		"assetId":    7,
		"instrument": "USDX",
		"minPrice":   "100",
	})
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("createListing: status=%d err=%+v", recorder.Code, resp.Error)
	}

	recorder, resp = fixture.call(t, "", "market_getListing", map[string]interface{}{"assetId": 7})
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("getListing: status=%d err=%+v", recorder.Code, resp.Error)
	}
	if got := resultField(t, resp, "minPrice"); got != "100" {
		t.Fatalf("unexpected minPrice %q", got)
	}

	recorder, resp = fixture.call(t, testToken, "market_placeBid", map[string]interface{}{
		"caller":     hexAddr(fixture.bidder),
		"assetId":    7,
		"amount":     "200",
		"instrument": "USDX",
	})
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("placeBid: status=%d err=%+v", recorder.Code, resp.Error)
	}

	recorder, resp = fixture.call(t, "", "market_getBid", map[string]interface{}{"assetId": 7})
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("getBid: status=%d err=%+v", recorder.Code, resp.Error)
	}
	if got := resultField(t, resp, "amount"); got != "200" {
		t.Fatalf("unexpected bid amount %q", got)
	}

	recorder, resp = fixture.call(t, testToken, "market_acceptBid", map[string]interface{}{
		"caller":  hexAddr(fixture.seller),
		"assetId": 7,
	})
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("acceptBid: status=%d err=%+v", recorder.Code, resp.Error)
	}
	if got := resultField(t, resp, "fee"); got != "5" {
		t.Fatalf("settlement should report the accrued fee, got %q", got)
	}
	if got := resultField(t, resp, "proceeds"); got != "195" {
		t.Fatalf("settlement should report the seller proceeds, got %q", got)
	}

	owner, err := fixture.registry.OwnerOf(7)
	if err != nil {
		t.Fatalf("OwnerOf: %v", err)
	}
	if owner != fixture.bidder {
		t.Fatalf("deed should belong to the bidder after settlement")
	}

	recorder, resp = fixture.call(t, "", "market_earningsBalance", map[string]interface{}{"instrument": "USDX"})
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("earningsBalance: status=%d err=%+v", recorder.Code, resp.Error)
	}
	if got := resultField(t, resp, "amount"); got != "5" {
		t.Fatalf("expected 5 fee units accrued, got %q", got)
	}

	recorder, resp = fixture.call(t, testToken, "market_withdrawEarnings", map[string]interface{}{
		"caller":     hexAddr(fixture.treasury),
		"instrument": "USDX",
	})
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("withdrawEarnings: status=%d err=%+v", recorder.Code, resp.Error)
	}
	if got := resultField(t, resp, "amount"); got != "5" {
		t.Fatalf("treasury should withdraw 5, got %q", got)
	}
}

func TestRefundFlowOverRPC(t *testing.T) {
	fixture := newTestFixture(t)
	other := testAddr(0x03)
	if err := fixture.ledger.Mint(other, "USDX", big.NewInt(10_000)); err != nil {
		t.Fatalf("fund second bidder: %v", err)
	}

	if _, resp := fixture.call(t, testToken, "market_createListing", map[string]interface{}{
		"caller":     hexAddr(fixture.seller),
		"assetId":    7,
		"instrument": "USDX",
		"minPrice":   "100",
	}); resp.Error != nil {
		t.Fatalf("createListing: %+v", resp.Error)
	}
	if _, resp := fixture.call(t, testToken, "market_placeBid", map[string]interface{}{
		"caller":     hexAddr(fixture.bidder),
		"assetId":    7,
		"amount":     "150",
		"instrument": "USDX",
	}); resp.Error != nil {
		t.Fatalf("first bid: %+v", resp.Error)
	}
	if _, resp := fixture.call(t, testToken, "market_placeBid", map[string]interface{}{
		"caller":     hexAddr(other),
		"assetId":    7,
		"amount":     "200",
		"instrument": "USDX",
	}); resp.Error != nil {
		t.Fatalf("second bid: %+v", resp.Error)
	}

	recorder, resp := fixture.call(t, "", "market_refundBalance", map[string]interface{}{
		"address":    hexAddr(fixture.bidder),
		"instrument": "USDX",
	})
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("refundBalance: status=%d err=%+v", recorder.Code, resp.Error)
	}
	if got := resultField(t, resp, "amount"); got != "150" {
		t.Fatalf("displaced bidder should be owed 150, got %q", got)
	}

	recorder, resp = fixture.call(t, testToken, "market_withdrawRefund", map[string]interface{}{
		"caller":     hexAddr(fixture.bidder),
		"instrument": "USDX",
	})
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("withdrawRefund: status=%d err=%+v", recorder.Code, resp.Error)
	}
	if got := resultField(t, resp, "amount"); got != "150" {
		t.Fatalf("expected withdrawal of 150, got %q", got)
	}

	recorder, resp = fixture.call(t, testToken, "market_withdrawRefund", map[string]interface{}{
		"caller":     hexAddr(fixture.bidder),
		"instrument": "USDX",
	})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("drained refund should report not found, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeMarketNotFound {
		t.Fatalf("expected market not-found code, got %+v", resp.Error)
	}
}

func TestConcurrentBidsAreSerialized(t *testing.T) {
	fixture := newTestFixture(t)
	if _, resp := fixture.call(t, testToken, "market_createListing", map[string]interface{}{
		"caller":     hexAddr(fixture.seller),
		"assetId":    7,
		"instrument": "USDX",
		"minPrice":   "100",
	}); resp.Error != nil {
		t.Fatalf("createListing: %+v", resp.Error)
	}

	const bidders = 32
	amounts := make([]int64, bidders)
	addrs := make([][20]byte, bidders)
	for i := 0; i < bidders; i++ {
		amounts[i] = int64(100 + i)
		addrs[i] = testAddr(byte(0x10 + i))
		if err := fixture.ledger.Mint(addrs[i], "USDX", big.NewInt(10_000)); err != nil {
			t.Fatalf("fund bidder %d: %v", i, err)
		}
	}

	// Handlers run on per-request goroutines; the server must serialise them
	// so every accepted bid lands whole and rejected ones leave no trace.
	accepted := make([]bool, bidders)
	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload, err := json.Marshal(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      i,
				"method":  "market_placeBid",
				"params": []interface{}{map[string]interface{}{
					"caller":     hexAddr(addrs[i]),
					"assetId":    7,
					"amount":     big.NewInt(amounts[i]).String(),
					"instrument": "USDX",
				}},
			})
			if err != nil {
				return
			}
			httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
			httpReq.Header.Set("Authorization", "Bearer "+testToken)
			recorder := httptest.NewRecorder()
			fixture.handler.ServeHTTP(recorder, httpReq)
			accepted[i] = recorder.Code == http.StatusOK
		}(i)
	}
	wg.Wait()

	escrowed := big.NewInt(0)
	var highest int64
	acceptedCount := 0
	for i := 0; i < bidders; i++ {
		if !accepted[i] {
			continue
		}
		acceptedCount++
		escrowed.Add(escrowed, big.NewInt(amounts[i]))
		if amounts[i] > highest {
			highest = amounts[i]
		}
	}
	if acceptedCount == 0 {
		t.Fatalf("at least one bid must be accepted")
	}

	_, resp := fixture.call(t, "", "market_getBid", map[string]interface{}{"assetId": 7})
	if resp.Error != nil {
		t.Fatalf("getBid: %+v", resp.Error)
	}
	if got := resultField(t, resp, "amount"); got != big.NewInt(highest).String() {
		t.Fatalf("standing bid should be the highest accepted amount %d, got %q", highest, got)
	}

	// Escrow solvency: the vault holds exactly the accepted bids, split
	// between the standing bid and the displaced bidders' refund credits.
	held, err := fixture.ledger.VaultBalance("USDX")
	if err != nil {
		t.Fatalf("VaultBalance: %v", err)
	}
	if held.Cmp(escrowed) != 0 {
		t.Fatalf("vault should hold %s, got %s", escrowed, held)
	}
	for i := 0; i < bidders; i++ {
		_, resp := fixture.call(t, "", "market_refundBalance", map[string]interface{}{
			"address":    hexAddr(addrs[i]),
			"instrument": "USDX",
		})
		if resp.Error != nil {
			t.Fatalf("refundBalance %d: %+v", i, resp.Error)
		}
		refund := resultField(t, resp, "amount")
		switch {
		case accepted[i] && amounts[i] == highest:
			if refund != "0" {
				t.Fatalf("standing bidder should hold no refund, got %q", refund)
			}
		case accepted[i]:
			if refund != big.NewInt(amounts[i]).String() {
				t.Fatalf("displaced bidder %d should be owed %d, got %q", i, amounts[i], refund)
			}
		default:
			if refund != "0" {
				t.Fatalf("rejected bidder %d should be owed nothing, got %q", i, refund)
			}
		}
	}
}

func TestEngineErrorsMapToRPCCodes(t *testing.T) {
	fixture := newTestFixture(t)
	if _, resp := fixture.call(t, testToken, "market_createListing", map[string]interface{}{
		"caller":     hexAddr(fixture.seller),
		"assetId":    7,
		"instrument": "USDX",
		"minPrice":   "100",
	}); resp.Error != nil {
		t.Fatalf("createListing: %+v", resp.Error)
	}

	recorder, resp := fixture.call(t, testToken, "market_placeBid", map[string]interface{}{
		"caller":     hexAddr(fixture.bidder),
		"assetId":    7,
		"amount":     "50",
		"instrument": "USDX",
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("low bid should map to 409, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeMarketConflict {
		t.Fatalf("expected market conflict code, got %+v", resp.Error)
	}

	recorder, resp = fixture.call(t, testToken, "market_cancelListing", map[string]interface{}{
		"caller":  hexAddr(fixture.bidder),
		"assetId": 7,
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("non-seller cancel should map to 403, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeMarketForbidden {
		t.Fatalf("expected market forbidden code, got %+v", resp.Error)
	}

	recorder, resp = fixture.call(t, testToken, "market_placeBid", map[string]interface{}{
		"caller":     hexAddr(fixture.bidder),
		"assetId":    7,
		"amount":     "150",
		"instrument": "DOGE",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unsupported instrument should map to 400, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeMarketInvalidParams {
		t.Fatalf("expected market invalid-params code, got %+v", resp.Error)
	}
}
