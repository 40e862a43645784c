package binance

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradingcore/internal/exchange"
	"tradingcore/pkg/types"
)

func TestAggressorSideMirrorsMakerFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		isBuyerMaker bool
		want         types.Side
	}{
		{"maker buy means taker sold", true, types.Sell},
		{"maker sell means taker bought", false, types.Buy},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := aggressorSide(tt.isBuyerMaker); got != tt.want {
				t.Errorf("aggressorSide(%v) = %v, want %v", tt.isBuyerMaker, got, tt.want)
			}
		})
	}
}

func TestNormalizeDepthComputesBestAndMid(t *testing.T) {
	t.Parallel()

	snap := normalizeDepth("BTCUSDT",
		[][2]string{{"100", "1"}, {"99", "2"}},
		[][2]string{{"101", "1"}, {"102", "3"}},
		"top5",
	)

	if !snap.BestBid.Equal(decimal.RequireFromString("100")) {
		t.Errorf("BestBid = %v, want 100", snap.BestBid)
	}
	if !snap.BestAsk.Equal(decimal.RequireFromString("101")) {
		t.Errorf("BestAsk = %v, want 101", snap.BestAsk)
	}
	if !snap.Mid.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("Mid = %v, want 100.5", snap.Mid)
	}
	if !snap.Spread.Equal(decimal.RequireFromString("1")) {
		t.Errorf("Spread = %v, want 1", snap.Spread)
	}
}

func TestMapOrderStatus(t *testing.T) {
	t.Parallel()

	tests := map[string]types.OrderState{
		"NEW":              types.StateAccepted,
		"PARTIALLY_FILLED": types.StatePartial,
		"FILLED":           types.StateFilled,
		"CANCELED":         types.StateCancelled,
		"REJECTED":         types.StateRejected,
		"PENDING_CANCEL":   types.StateSubmitted,
	}
	for venueStatus, want := range tests {
		venueStatus, want := venueStatus, want
		t.Run(venueStatus, func(t *testing.T) {
			t.Parallel()
			if got := mapOrderStatus(venueStatus); got != want {
				t.Errorf("mapOrderStatus(%q) = %v, want %v", venueStatus, got, want)
			}
		})
	}
}

func TestDecimalOrZeroFallsBackOnGarbage(t *testing.T) {
	t.Parallel()
	if got := decimalOrZero("not-a-number"); !got.IsZero() {
		t.Errorf("decimalOrZero(garbage) = %v, want 0", got)
	}
}

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(types.Spot, true, "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestPlaceOrderWSBuildsSignedParams(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)
	creds := types.CredentialSet{APIKey: "key1", Secret: "secret1"}

	frame, requestID, err := a.PlaceOrderWS(creds, exchange.OrderRequest{
		ClientOrderID: "c1", Symbol: "BTCUSDT", Side: types.Buy, Type: types.Limit, Qty: "1", Price: "100", TIF: types.GTC,
	})
	if err != nil {
		t.Fatalf("PlaceOrderWS: %v", err)
	}
	if requestID != "c1" {
		t.Errorf("requestID = %q, want c1 (mirrors ClientOrderID)", requestID)
	}
	msg, ok := frame.(map[string]any)
	if !ok {
		t.Fatalf("frame has unexpected type %T", frame)
	}
	if msg["method"] != "order.place" {
		t.Errorf("method = %v, want order.place", msg["method"])
	}
	params, ok := msg["params"].(map[string]string)
	if !ok {
		t.Fatalf("params has unexpected type %T", msg["params"])
	}
	if params["signature"] == "" {
		t.Error("expected a non-empty signature")
	}
	if params["symbol"] != "BTCUSDT" || params["newClientOrderId"] != "c1" {
		t.Errorf("params = %+v, missing expected fields", params)
	}
}

func TestModifyOrderWSFallsBackToOrderIDWithoutClientOrderID(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)
	creds := types.CredentialSet{APIKey: "key1", Secret: "secret1"}

	frame, requestID, err := a.ModifyOrderWS(creds, exchange.ModifyRequest{
		Symbol: "BTCUSDT", VenueOrderID: "v1", Qty: "2", Price: "101",
	})
	if err != nil {
		t.Fatalf("ModifyOrderWS: %v", err)
	}
	if requestID != "v1" {
		t.Errorf("requestID = %q, want v1 (falls back to venue order id)", requestID)
	}
	msg := frame.(map[string]any)
	params := msg["params"].(map[string]string)
	if params["orderId"] != "v1" {
		t.Errorf("params[orderId] = %q, want v1", params["orderId"])
	}
	if _, hasClientID := params["origClientOrderId"]; hasClientID {
		t.Error("did not expect origClientOrderId when only a venue order id was given")
	}
}

func TestParseTradingResponseMapsRejectOnErrorCode(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	raw := []byte(`{"id":"c1","status":400,"error":{"code":-2010,"msg":"insufficient balance"}}`)
	report, err := a.ParseTradingResponse(raw)
	if err != nil {
		t.Fatalf("ParseTradingResponse: %v", err)
	}
	if report.Status != types.StateRejected {
		t.Errorf("Status = %v, want REJECTED", report.Status)
	}
	if report.ClientOrderID != "c1" {
		t.Errorf("ClientOrderID = %q, want c1", report.ClientOrderID)
	}
	if report.ErrorMsg != "insufficient balance" {
		t.Errorf("ErrorMsg = %q, want insufficient balance", report.ErrorMsg)
	}
}

func TestParseTradingResponseMapsSuccessResult(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t)

	raw := []byte(`{"id":"c1","status":200,"result":{"symbol":"BTCUSDT","orderId":555,"clientOrderId":"c1","status":"FILLED","executedQty":"1"}}`)
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
	if !report.FilledQty.Equal(decimal.RequireFromString("1")) {
		t.Errorf("FilledQty = %v, want 1", report.FilledQty)
	}
}
