package okx

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradingcore/internal/exchange"
	"tradingcore/pkg/types"
)

func TestTakerSideIsExplicit(t *testing.T) {
	t.Parallel()

	if got := takerSide("sell"); got != types.Sell {
		t.Errorf("takerSide(sell) = %v, want SELL", got)
	}
	if got := takerSide("buy"); got != types.Buy {
		t.Errorf("takerSide(buy) = %v, want BUY", got)
	}
}

func TestNormalizeBookComputesBestAndMid(t *testing.T) {
	t.Parallel()

	snap := normalizeBook("BTC-USDT-SWAP",
		[][]string{{"100", "1", "0", "1"}, {"99", "2", "0", "1"}},
		[][]string{{"101", "1", "0", "1"}, {"102", "3", "0", "1"}},
		"top5",
	)

	if !snap.BestBid.Equal(decimal.RequireFromString("100")) {
		t.Errorf("BestBid = %v, want 100", snap.BestBid)
	}
	if !snap.Mid.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("Mid = %v, want 100.5", snap.Mid)
	}
}

func TestMapOrderState(t *testing.T) {
	t.Parallel()

	tests := map[string]types.OrderState{
		"live":             types.StateAccepted,
		"partially_filled": types.StatePartial,
		"filled":           types.StateFilled,
		"canceled":         types.StateCancelled,
	}
	for state, want := range tests {
		state, want := state, want
		t.Run(state, func(t *testing.T) {
			t.Parallel()
			if got := mapOrderState(state); got != want {
				t.Errorf("mapOrderState(%q) = %v, want %v", state, got, want)
			}
		})
	}
}

func TestBuildOrderBodyUsesHedgeModePositionSide(t *testing.T) {
	t.Parallel()

	body := buildOrderBody(exchange.OrderRequest{
		Symbol: "BTC-USDT-SWAP", Side: types.Buy, Type: types.Limit,
		Qty: "1", Price: "50000", PosSide: types.PosLong, ClientOrderID: "abc",
	})

	if body["posSide"] != "long" {
		t.Errorf("posSide = %v, want long", body["posSide"])
	}
	if body["ordType"] != "limit" {
		t.Errorf("ordType = %v, want limit", body["ordType"])
	}
}

func TestOkxOrdTypePrefersPostOnlyAndFOKOverLimit(t *testing.T) {
	t.Parallel()

	if got := okxOrdType(types.Limit, types.TIFPostOnly); got != "post_only" {
		t.Errorf("got %q, want post_only", got)
	}
	if got := okxOrdType(types.Limit, types.FOK); got != "fok" {
		t.Errorf("got %q, want fok", got)
	}
	if got := okxOrdType(types.Market, types.GTC); got != "market" {
		t.Errorf("got %q, want market", got)
	}
}

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(true, "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestPlaceOrderWSBuildsSignedParams(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)
	creds := types.CredentialSet{APIKey: "key1", Secret: "secret1", Passphrase: "pp"}

	frame, requestID, err := a.PlaceOrderWS(creds, exchange.OrderRequest{
		ClientOrderID: "c1", Symbol: "BTC-USDT-SWAP", Side: types.Buy, Type: types.Limit, Qty: "1", Price: "50000",
	})
	if err != nil {
		t.Fatalf("PlaceOrderWS: %v", err)
	}
	if requestID != "c1" {
		t.Errorf("requestID = %q, want c1", requestID)
	}
	msg := frame.(map[string]any)
	if msg["method"] != "order.place" {
		t.Errorf("method = %v, want order.place", msg["method"])
	}
	params := msg["params"].(map[string]string)
	if params["signature"] == "" {
		t.Error("expected a non-empty signature")
	}
	if params["instId"] != "BTC-USDT-SWAP" || params["clOrdId"] != "c1" {
		t.Errorf("params = %+v, missing expected fields", params)
	}
}

func TestCancelOrderWSFallsBackToOrdIDWithoutClientOrderID(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)
	creds := types.CredentialSet{APIKey: "key1", Secret: "secret1", Passphrase: "pp"}

	frame, requestID, err := a.CancelOrderWS(creds, exchange.CancelRequest{Symbol: "BTC-USDT-SWAP", VenueOrderID: "v1"})
	if err != nil {
		t.Fatalf("CancelOrderWS: %v", err)
	}
	if requestID != "v1" {
		t.Errorf("requestID = %q, want v1", requestID)
	}
	params := frame.(map[string]any)["params"].(map[string]string)
	if params["ordId"] != "v1" {
		t.Errorf("params[ordId] = %q, want v1", params["ordId"])
	}
}

func TestParseTradingResponseMapsRejectOnNonZeroCode(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	raw := []byte(`{"id":"c1","code":"51008","msg":"insufficient balance"}`)
	report, err := a.ParseTradingResponse(raw)
	if err != nil {
		t.Fatalf("ParseTradingResponse: %v", err)
	}
	if report.Status != types.StateRejected {
		t.Errorf("Status = %v, want REJECTED", report.Status)
	}
	if report.ErrorCode != "51008" {
		t.Errorf("ErrorCode = %q, want 51008", report.ErrorCode)
	}
}

func TestParseTradingResponseMapsSuccessResult(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	raw := []byte(`{"id":"c1","code":"0","data":[{"ordId":"555","clOrdId":"c1","state":"filled","accFillSz":"1","avgPx":"50000"}]}`)
	report, err := a.ParseTradingResponse(raw)
	if err != nil {
		t.Fatalf("ParseTradingResponse: %v", err)
	}
	if report.Status != types.StateFilled {
		t.Errorf("Status = %v, want FILLED", report.Status)
	}
	if report.VenueOrderID != "555" {
		t.Errorf("VenueOrderID = %q, want 555", report.VenueOrderID)
	}
	if !report.AvgFillPrice.Equal(decimal.RequireFromString("50000")) {
		t.Errorf("AvgFillPrice = %v, want 50000", report.AvgFillPrice)
	}
}
