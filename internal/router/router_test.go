package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tradingcore/internal/admission"
	"tradingcore/internal/exchange"
	"tradingcore/internal/registry"
	"tradingcore/pkg/errs"
	"tradingcore/pkg/types"
)

type fakeAdapter struct {
	placeResp *types.OrderReport
	placeErr  error
	cancelResp *types.OrderReport
	cancelErr  error

	caps types.Capability

	placeWSFrame  any
	placeWSReqID  string
	placeWSErr    error
	modifyWSFrame any
	modifyWSReqID string
	modifyWSErr   error
}

func (f *fakeAdapter) Venue() types.Venue                  { return types.Binance }
func (f *fakeAdapter) Variant() types.MarketVariant         { return types.USDTPerp }
func (f *fakeAdapter) Capabilities() types.Capability       { return f.caps }
func (f *fakeAdapter) ConnectivityCheck(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeAdapter) ServerTimeMS(ctx context.Context) (int64, error)     { return 0, nil }
func (f *fakeAdapter) Depth(ctx context.Context, symbol string, n int) (*types.BookSnapshot, error) {
	return nil, nil
}
func (f *fakeAdapter) RecentTrades(ctx context.Context, symbol string, n int) ([]types.Trade, error) {
	return nil, nil
}
func (f *fakeAdapter) Klines(ctx context.Context, symbol, interval string, startMS, endMS int64, n int) ([]types.Kline, error) {
	return nil, nil
}
func (f *fakeAdapter) Ticker24h(ctx context.Context, symbol string) (map[string]any, error) {
	return nil, nil
}
func (f *fakeAdapter) FundingRate(ctx context.Context, symbol string, n int) ([]types.FundingRate, error) {
	return nil, nil
}
func (f *fakeAdapter) PlaceOrder(ctx context.Context, creds types.CredentialSet, req exchange.OrderRequest) (*types.OrderReport, error) {
	return f.placeResp, f.placeErr
}
func (f *fakeAdapter) CancelOrder(ctx context.Context, creds types.CredentialSet, req exchange.CancelRequest) (*types.OrderReport, error) {
	return f.cancelResp, f.cancelErr
}
func (f *fakeAdapter) CancelAll(ctx context.Context, creds types.CredentialSet, symbol string) (*types.OrderReport, error) {
	return &types.OrderReport{Status: types.StateCancelled}, nil
}
func (f *fakeAdapter) BatchPlace(ctx context.Context, creds types.CredentialSet, reqs []exchange.OrderRequest) ([]types.OrderReport, error) {
	return nil, nil
}
func (f *fakeAdapter) QueryOrder(ctx context.Context, creds types.CredentialSet, req exchange.CancelRequest) (*types.Order, error) {
	return nil, nil
}
func (f *fakeAdapter) OpenOrders(ctx context.Context, creds types.CredentialSet, symbol string) ([]types.Order, error) {
	return nil, nil
}
func (f *fakeAdapter) AllOrders(ctx context.Context, creds types.CredentialSet, symbol string, n int) ([]types.Order, error) {
	return nil, nil
}
func (f *fakeAdapter) AccountInfo(ctx context.Context, creds types.CredentialSet) (map[string]any, error) {
	return nil, nil
}
func (f *fakeAdapter) Balances(ctx context.Context, creds types.CredentialSet) (map[string]any, error) {
	return nil, nil
}
func (f *fakeAdapter) Positions(ctx context.Context, creds types.CredentialSet) (map[string]any, error) {
	return nil, nil
}
func (f *fakeAdapter) SetLeverage(ctx context.Context, creds types.CredentialSet, symbol string, leverage int) error {
	return nil
}
func (f *fakeAdapter) SetMarginMode(ctx context.Context, creds types.CredentialSet, symbol, mode string) error {
	return nil
}
func (f *fakeAdapter) SetPositionMode(ctx context.Context, creds types.CredentialSet, hedgeMode bool) error {
	return nil
}
func (f *fakeAdapter) CreateListenKey(ctx context.Context, creds types.CredentialSet) (string, error) {
	return "", nil
}
func (f *fakeAdapter) KeepaliveListenKey(ctx context.Context, creds types.CredentialSet, key string) error {
	return nil
}
func (f *fakeAdapter) StreamURL(variant types.MarketVariant, stream types.Channel) string { return "" }
func (f *fakeAdapter) SubscribeFrame(channel types.Channel, symbol, interval string) any   { return nil }
func (f *fakeAdapter) UnsubscribeFrame(channel types.Channel, symbol, interval string) any { return nil }
func (f *fakeAdapter) ParseFrame(raw []byte) (*types.MarketFrame, error)                   { return nil, nil }
func (f *fakeAdapter) ParseUserEvent(raw []byte) (*types.OrderReport, error)               { return nil, nil }
func (f *fakeAdapter) PlaceOrderWS(creds types.CredentialSet, req exchange.OrderRequest) (any, string, error) {
	if f.placeWSErr != nil || f.placeWSFrame != nil {
		return f.placeWSFrame, f.placeWSReqID, f.placeWSErr
	}
	return nil, "", errors.New("ws trading not supported by fakeAdapter")
}
func (f *fakeAdapter) CancelOrderWS(creds types.CredentialSet, req exchange.CancelRequest) (any, string, error) {
	return nil, "", errors.New("ws trading not supported by fakeAdapter")
}
func (f *fakeAdapter) ModifyOrderWS(creds types.CredentialSet, req exchange.ModifyRequest) (any, string, error) {
	if f.modifyWSErr != nil || f.modifyWSFrame != nil {
		return f.modifyWSFrame, f.modifyWSReqID, f.modifyWSErr
	}
	return nil, "", errors.New("ws trading not supported by fakeAdapter")
}
func (f *fakeAdapter) QueryOrderWS(creds types.CredentialSet, req exchange.CancelRequest) (any, string, error) {
	return nil, "", errors.New("ws trading not supported by fakeAdapter")
}
func (f *fakeAdapter) ParseTradingResponse(raw []byte) (*types.OrderReport, error) { return nil, nil }

type fakeResolver struct {
	adapter exchange.Adapter
}

func (r *fakeResolver) Adapter(venue types.Venue, variant types.MarketVariant) (exchange.Adapter, bool) {
	if r.adapter == nil {
		return nil, false
	}
	return r.adapter, true
}

type fakeSender struct {
	sendErr error
	sent    []any
}

func (s *fakeSender) Send(frame any) error {
	s.sent = append(s.sent, frame)
	return s.sendErr
}

type fakeSenderResolver struct {
	sender *fakeSender
	ok     bool
}

func (r *fakeSenderResolver) TradingSender(venue types.Venue, variant types.MarketVariant) (TradingSender, bool) {
	if !r.ok || r.sender == nil {
		return nil, false
	}
	return r.sender, true
}

type fakePublisher struct {
	mu      sync.Mutex
	reports []types.OrderReport
}

func (p *fakePublisher) PublishReport(report types.OrderReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, report)
}

func (p *fakePublisher) last() types.OrderReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reports[len(p.reports)-1]
}

func setup(t *testing.T, adapter exchange.Adapter) (*Router, *registry.Registry, *fakePublisher) {
	t.Helper()
	return setupWithSenders(t, adapter, nil)
}

func setupWithSenders(t *testing.T, adapter exchange.Adapter, senders TradingSenderResolver) (*Router, *registry.Registry, *fakePublisher) {
	t.Helper()
	reg := registry.New(nil)
	if err := reg.Register(registry.RegisterInput{StrategyID: "s1", Exchange: types.Binance, APIKey: "k", SecretKey: "s"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	gate := admission.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	pub := &fakePublisher{}
	r := New(reg, &fakeResolver{adapter: adapter}, senders, gate, pub, "test")
	return r, reg, pub
}

func TestPlaceOrderUnknownStrategyRejectsWithoutTransmission(t *testing.T) {
	t.Parallel()
	r, _, pub := setup(t, &fakeAdapter{})

	report, err := r.PlaceOrder(context.Background(), "ghost", exchange.OrderRequest{Symbol: "BTCUSDT", Qty: "1"})
	if err == nil {
		t.Fatal("expected an error for an unknown strategy")
	}
	if report.Status != types.StateRejected {
		t.Errorf("Status = %v, want REJECTED", report.Status)
	}
	if report.ErrorCode != string(errs.CodeUnknownStrategy) {
		t.Errorf("ErrorCode = %v, want UNKNOWN_STRATEGY", report.ErrorCode)
	}
	if len(pub.reports) != 1 {
		t.Fatalf("expected exactly one published report, got %d", len(pub.reports))
	}
}

func TestPlaceOrderGeneratesClientOrderIDWhenMissing(t *testing.T) {
	t.Parallel()
	r, _, _ := setup(t, &fakeAdapter{placeResp: &types.OrderReport{Status: types.StateAccepted, VenueOrderID: "v1"}})

	report, err := r.PlaceOrder(context.Background(), "s1", exchange.OrderRequest{Symbol: "BTCUSDT", Qty: "1", Price: "100"})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if report.ClientOrderID == "" {
		t.Error("expected a generated client_order_id")
	}
}

func TestPlaceOrderAcceptWithoutVenueOrderIDBecomesFailed(t *testing.T) {
	t.Parallel()
	r, _, _ := setup(t, &fakeAdapter{placeResp: &types.OrderReport{Status: types.StateAccepted}})

	report, err := r.PlaceOrder(context.Background(), "s1", exchange.OrderRequest{ClientOrderID: "c1", Symbol: "BTCUSDT", Qty: "1", Price: "100"})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if report.Status != types.StateFailed {
		t.Errorf("Status = %v, want FAILED for a malformed accept", report.Status)
	}
}

func TestPlaceOrderTransportErrorBecomesFailedRetryableWithoutRetry(t *testing.T) {
	t.Parallel()
	txErr := &errs.TransportError{Kind: "timeout", Err: errors.New("deadline exceeded")}
	adapter := &fakeAdapter{placeErr: txErr}
	r, _, _ := setup(t, adapter)

	report, err := r.PlaceOrder(context.Background(), "s1", exchange.OrderRequest{ClientOrderID: "c2", Symbol: "BTCUSDT", Qty: "1", Price: "100"})
	if err != nil {
		t.Fatalf("PlaceOrder should not itself error on a transport failure: %v", err)
	}
	if report.Status != types.StateFailed {
		t.Errorf("Status = %v, want FAILED", report.Status)
	}

	order, ok := r.Lookup("c2")
	if !ok {
		t.Fatal("expected an in-flight entry for c2")
	}
	if !order.Retryable {
		t.Error("expected Retryable=true for a transport error")
	}
}

func TestCorrelateUserEventPrefersClientOrderIDThenVenueOrderID(t *testing.T) {
	t.Parallel()
	r, _, pub := setup(t, &fakeAdapter{placeResp: &types.OrderReport{Status: types.StateAccepted, VenueOrderID: "v9"}})

	if _, err := r.PlaceOrder(context.Background(), "s1", exchange.OrderRequest{ClientOrderID: "c9", Symbol: "BTCUSDT", Qty: "1", Price: "100"}); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	r.CorrelateUserEvent(types.OrderReport{VenueOrderID: "v9", Status: types.StateFilled, TS: time.Now()})

	last := pub.last()
	if last.ClientOrderID != "c9" {
		t.Errorf("ClientOrderID = %q, want c9 (resolved via venue_order_id)", last.ClientOrderID)
	}
	if last.StrategyID != "s1" {
		t.Errorf("StrategyID = %q, want s1", last.StrategyID)
	}

	order, ok := r.Lookup("c9")
	if !ok || order.State != types.StateFilled {
		t.Errorf("expected in-flight state FILLED after correlation, got %+v ok=%v", order, ok)
	}
}

func TestRetireExpiredRemovesOnlyTerminalPastTTL(t *testing.T) {
	t.Parallel()
	r, _, _ := setup(t, &fakeAdapter{placeResp: &types.OrderReport{Status: types.StateAccepted, VenueOrderID: "v1"}})

	if _, err := r.PlaceOrder(context.Background(), "s1", exchange.OrderRequest{ClientOrderID: "c1", Symbol: "BTCUSDT", Qty: "1", Price: "100"}); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	r.CorrelateUserEvent(types.OrderReport{ClientOrderID: "c1", Status: types.StateFilled})

	if removed := r.RetireExpired(time.Now()); removed != 0 {
		t.Errorf("expected no removals before TTL elapses, got %d", removed)
	}
	if removed := r.RetireExpired(time.Now().Add(DefaultRetentionTTL + time.Second)); removed != 1 {
		t.Errorf("expected 1 removal after TTL elapses, got %d", removed)
	}
	if _, ok := r.Lookup("c1"); ok {
		t.Error("expected c1 to be gone after retirement")
	}
}

func TestGenerateClientOrderIDIsUniquePerCall(t *testing.T) {
	t.Parallel()
	r, _, _ := setup(t, &fakeAdapter{})

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := r.GenerateClientOrderID()
		if seen[id] {
			t.Fatalf("duplicate client_order_id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestPlaceOrderPrefersLiveTradingStreamOverREST(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{
		caps:         types.CapTradingStream,
		placeWSFrame: map[string]string{"op": "order.place"},
		placeWSReqID: "req-1",
		placeResp:    &types.OrderReport{Status: types.StateAccepted, VenueOrderID: "v-should-not-be-used"},
	}
	sender := &fakeSender{}
	r, _, pub := setupWithSenders(t, adapter, &fakeSenderResolver{sender: sender, ok: true})

	report, err := r.PlaceOrder(context.Background(), "s1", exchange.OrderRequest{ClientOrderID: "c1", Symbol: "BTCUSDT", Qty: "1", Price: "100"})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if report.Status != types.StateSubmitted {
		t.Errorf("Status = %v, want SUBMITTED for the WS dispatch path", report.Status)
	}
	if report.ClientOrderID != "req-1" {
		t.Errorf("ClientOrderID = %q, want the WS request id req-1", report.ClientOrderID)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one frame sent over the trading stream, got %d", len(sender.sent))
	}
	if len(pub.reports) != 1 {
		t.Fatalf("expected exactly one published report, got %d", len(pub.reports))
	}
}

func TestPlaceOrderFallsBackToRESTWhenNoTradingSender(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{
		caps:      types.CapTradingStream,
		placeResp: &types.OrderReport{Status: types.StateAccepted, VenueOrderID: "v1"},
	}
	r, _, _ := setupWithSenders(t, adapter, &fakeSenderResolver{ok: false})

	report, err := r.PlaceOrder(context.Background(), "s1", exchange.OrderRequest{ClientOrderID: "c1", Symbol: "BTCUSDT", Qty: "1", Price: "100"})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if report.VenueOrderID != "v1" {
		t.Errorf("expected the REST response to be used when no trading stream is live, got %+v", report)
	}
}

func TestPlaceOrderFallsBackToRESTWithoutCapTradingStream(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{
		placeResp: &types.OrderReport{Status: types.StateAccepted, VenueOrderID: "v1"},
	}
	sender := &fakeSender{}
	r, _, _ := setupWithSenders(t, adapter, &fakeSenderResolver{sender: sender, ok: true})

	report, err := r.PlaceOrder(context.Background(), "s1", exchange.OrderRequest{ClientOrderID: "c1", Symbol: "BTCUSDT", Qty: "1", Price: "100"})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if report.VenueOrderID != "v1" {
		t.Errorf("expected REST path when the adapter lacks CapTradingStream, got %+v", report)
	}
	if len(sender.sent) != 0 {
		t.Error("expected no frames sent over the trading stream without CapTradingStream")
	}
}

func TestModifyOrderDispatchesOverTradingStream(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{
		caps:          types.CapTradingStream,
		modifyWSFrame: map[string]string{"op": "order.modify"},
		modifyWSReqID: "req-2",
	}
	sender := &fakeSender{}
	r, _, pub := setupWithSenders(t, adapter, &fakeSenderResolver{sender: sender, ok: true})

	report, err := r.ModifyOrder(context.Background(), "s1", exchange.ModifyRequest{ClientOrderID: "c1", Symbol: "BTCUSDT", Qty: "2", Price: "101"})
	if err != nil {
		t.Fatalf("ModifyOrder: %v", err)
	}
	if report.Status != types.StateSubmitted {
		t.Errorf("Status = %v, want SUBMITTED", report.Status)
	}
	if report.ClientOrderID != "req-2" {
		t.Errorf("ClientOrderID = %q, want req-2", report.ClientOrderID)
	}
	if len(pub.reports) != 1 {
		t.Fatalf("expected exactly one published report, got %d", len(pub.reports))
	}
}

func TestModifyOrderRejectedWithoutLiveTradingStream(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{caps: types.CapTradingStream}
	r, _, pub := setup(t, adapter)

	report, err := r.ModifyOrder(context.Background(), "s1", exchange.ModifyRequest{ClientOrderID: "c1", Symbol: "BTCUSDT", Qty: "2", Price: "101"})
	if err == nil {
		t.Fatal("expected an error: modify has no REST fallback")
	}
	if report.Status != types.StateRejected {
		t.Errorf("Status = %v, want REJECTED", report.Status)
	}
	if report.ErrorCode != string(errs.CodeCapabilityUnsupported) {
		t.Errorf("ErrorCode = %v, want CAPABILITY_UNSUPPORTED", report.ErrorCode)
	}
	if len(pub.reports) != 1 {
		t.Fatalf("expected exactly one published report, got %d", len(pub.reports))
	}
}

func TestModifyOrderUnknownStrategyRejectsWithoutTransmission(t *testing.T) {
	t.Parallel()
	r, _, pub := setup(t, &fakeAdapter{})

	report, err := r.ModifyOrder(context.Background(), "ghost", exchange.ModifyRequest{Symbol: "BTCUSDT", Qty: "1", Price: "100"})
	if err == nil {
		t.Fatal("expected an error for an unknown strategy")
	}
	if report.Status != types.StateRejected {
		t.Errorf("Status = %v, want REJECTED", report.Status)
	}
	if report.ErrorCode != string(errs.CodeUnknownStrategy) {
		t.Errorf("ErrorCode = %v, want UNKNOWN_STRATEGY", report.ErrorCode)
	}
	if len(pub.reports) != 1 {
		t.Fatalf("expected exactly one published report, got %d", len(pub.reports))
	}
}
