// Package router implements the Trading Core's Order Router (component G):
// the central desk that resolves strategy_id to an Account, generates
// client_order_id, tracks in-flight orders, invokes the resolved Adapter,
// and correlates asynchronous user-data updates back to the originating
// request.
//
// Grounded on the teacher's internal/strategy.Inventory (RWMutex-guarded
// per-key state map, defensive copies out) and internal/engine.Engine
// (context-driven background loop orchestrating other components), adapted
// from "one inventory per market" to "one in-flight table entry per
// client_order_id".
package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/admission"
	"tradingcore/internal/exchange"
	"tradingcore/internal/registry"
	"tradingcore/pkg/errs"
	"tradingcore/pkg/types"
)

// DefaultRetentionTTL is how long a terminal in-flight entry is kept for
// late-duplicate correlation before retirement (§4.G).
const DefaultRetentionTTL = 5 * time.Minute

// AdapterResolver looks up the Adapter responsible for a (venue, variant)
// pair. Implemented by the core's adapter set; kept as an interface so the
// Router has no import-time dependency on binance/okx.
type AdapterResolver interface {
	Adapter(venue types.Venue, variant types.MarketVariant) (exchange.Adapter, bool)
}

// Publisher delivers a normalized report to the IPC reports channel,
// tagged with strategy_id.
type Publisher interface {
	PublishReport(report types.OrderReport)
}

// TradingSender sends one trading-stream request frame over a venue's live
// WebSocket trading connection (§4.D, §6).
type TradingSender interface {
	Send(frame any) error
}

// TradingSenderResolver looks up the TradingSender for a (venue, variant)
// pair, if a trading-stream connection is currently live. Implemented by
// the core's adapter set, mirroring AdapterResolver.
type TradingSenderResolver interface {
	TradingSender(venue types.Venue, variant types.MarketVariant) (TradingSender, bool)
}

// Router is the Order Router. Safe for concurrent use.
type Router struct {
	registry  *registry.Registry
	resolver  AdapterResolver
	senders   TradingSenderResolver
	admission *admission.Gate
	publisher Publisher
	retention time.Duration

	counter atomic.Int64
	pidTag  string

	mu      sync.Mutex
	inflight map[string]*entry // keyed by client_order_id
	byVenue  map[string]string // venue_order_id -> client_order_id
}

type entry struct {
	order      types.Order
	retireAt   time.Time // zero until the order reaches a terminal state
}

// New creates a Router. pidTag is a short process-unique prefix (e.g. a
// hostname/pid fragment) mixed into generated client_order_ids so two Core
// processes never collide even if their monotonic counters overlap.
// senders may be nil, in which case every order is placed over REST.
func New(reg *registry.Registry, resolver AdapterResolver, senders TradingSenderResolver, gate *admission.Gate, pub Publisher, pidTag string) *Router {
	return &Router{
		registry: reg, resolver: resolver, senders: senders, admission: gate, publisher: pub,
		retention: DefaultRetentionTTL, pidTag: pidTag,
		inflight: make(map[string]*entry), byVenue: make(map[string]string),
	}
}

// GenerateClientOrderID produces a Core-unique id: a monotonic counter
// mixed with a millisecond time prefix and the process tag, guaranteeing
// uniqueness per process for the lifetime of the Router (§4.G step 2).
func (r *Router) GenerateClientOrderID() string {
	n := r.counter.Add(1)
	return fmt.Sprintf("%s-%d-%d", r.pidTag, time.Now().UnixMilli(), n)
}

// PlaceOrder runs the full admission→transmit→report pipeline for one
// order command (§4.G steps 1-5).
func (r *Router) PlaceOrder(ctx context.Context, strategyID string, req exchange.OrderRequest) (types.OrderReport, error) {
	strat, err := r.registry.Get(strategyID)
	if err != nil {
		report := rejected(strategyID, req.ClientOrderID, err)
		r.publisher.PublishReport(report)
		return report, err
	}

	if req.ClientOrderID == "" {
		req.ClientOrderID = r.GenerateClientOrderID()
	}

	notional := notionalOf(req)
	if err := r.admission.Check(ctx, strategyID, strat.Risk, notional); err != nil {
		report := rejected(strategyID, req.ClientOrderID, err)
		r.publisher.PublishReport(report)
		return report, err
	}

	adapter, ok := r.resolver.Adapter(strat.Account.Venue, strat.Account.MarketVariant)
	if !ok {
		err := errs.NewAdmissionError(errs.CodeCapabilityUnsupported, "no adapter for "+string(strat.Account.Venue))
		report := rejected(strategyID, req.ClientOrderID, err)
		r.publisher.PublishReport(report)
		return report, err
	}

	r.record(strategyID, req)

	if report, ok := r.dispatchWS(strategyID, strat.Account, adapter, func(sender TradingSender) (any, string, error) {
		return adapter.PlaceOrderWS(strat.Account.Credentials, req)
	}); ok {
		r.publisher.PublishReport(report)
		return report, nil
	}

	resp, err := adapter.PlaceOrder(ctx, strat.Account.Credentials, req)
	if err != nil {
		report := r.toFailed(strategyID, req.ClientOrderID, err)
		r.publisher.PublishReport(report)
		return report, nil
	}

	report := r.applySyncResponse(req.ClientOrderID, resp)
	r.publisher.PublishReport(report)
	return report, nil
}

// dispatchWS attempts the trading-stream path for an op gated on
// CapTradingStream plus a currently-live TradingSender (§4.D). build
// produces the venue-specific request frame. On success it returns a
// SUBMITTED report — the real terminal status arrives asynchronously via
// ParseTradingResponse → CorrelateUserEvent, keyed on client_order_id
// exactly like the user-data-stream path (§4.G step 6). Any failure to
// build or send the frame falls back to the caller's REST path.
func (r *Router) dispatchWS(strategyID string, account types.Account, adapter exchange.Adapter, build func(TradingSender) (any, string, error)) (types.OrderReport, bool) {
	if r.senders == nil || adapter.Capabilities()&types.CapTradingStream == 0 {
		return types.OrderReport{}, false
	}
	sender, ok := r.senders.TradingSender(account.Venue, account.MarketVariant)
	if !ok {
		return types.OrderReport{}, false
	}
	frame, requestID, err := build(sender)
	if err != nil || frame == nil {
		return types.OrderReport{}, false
	}
	if err := sender.Send(frame); err != nil {
		return types.OrderReport{}, false
	}
	return types.OrderReport{
		Type: types.ReportOrderUpdate, StrategyID: strategyID, ClientOrderID: requestID,
		Status: types.StateSubmitted, TS: time.Now(),
	}, true
}

// record inserts a NEW→SUBMITTED entry into the in-flight table before the
// adapter call, so a user-data update racing the synchronous response still
// has something to correlate against (§4.G step 3).
func (r *Router) record(strategyID string, req exchange.OrderRequest) {
	qty, _ := decimal.NewFromString(req.Qty)
	price, _ := decimal.NewFromString(req.Price)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight[req.ClientOrderID] = &entry{order: types.Order{
		ClientOrderID: req.ClientOrderID, StrategyID: strategyID, Symbol: req.Symbol,
		Side: req.Side, Type: req.Type, TIF: req.TIF, Qty: qty, Price: price,
		PosSide: req.PosSide, State: types.StateSubmitted, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}}
}

// applySyncResponse transforms the adapter's synchronous placement result
// into a normalized report and updates the in-flight entry. A venue accept
// without venue_order_id is malformed and becomes FAILED (§4.G failure
// semantics).
func (r *Router) applySyncResponse(clientOrderID string, resp *types.OrderReport) types.OrderReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.inflight[clientOrderID]
	if !ok {
		return *resp
	}

	if resp.Status == types.StateAccepted && resp.VenueOrderID == "" {
		e.order.State = types.StateFailed
		e.order.ErrorCode = string(errs.CodeProtocol)
		e.order.ErrorMsg = "venue accepted without a venue_order_id"
		e.order.UpdatedAt = time.Now()
		r.retireIfTerminalLocked(clientOrderID, e)
		return types.OrderReport{
			Type: types.ReportOrderUpdate, StrategyID: e.order.StrategyID, ClientOrderID: clientOrderID,
			Status: types.StateFailed, ErrorCode: e.order.ErrorCode, ErrorMsg: e.order.ErrorMsg, TS: time.Now(),
		}
	}

	e.order.State = resp.Status
	e.order.VenueOrderID = resp.VenueOrderID
	e.order.FilledQty = resp.FilledQty
	e.order.AvgFillPrice = resp.AvgFillPrice
	e.order.UpdatedAt = time.Now()
	if resp.VenueOrderID != "" {
		r.byVenue[resp.VenueOrderID] = clientOrderID
	}
	r.retireIfTerminalLocked(clientOrderID, e)

	out := *resp
	out.StrategyID = e.order.StrategyID
	out.ClientOrderID = clientOrderID
	if out.Type == "" {
		out.Type = types.ReportOrderUpdate
	}
	return out
}

// toFailed marks an in-flight entry FAILED{retryable} after a transport
// error during submission — the Router never auto-retries (§4.G failure
// semantics).
func (r *Router) toFailed(strategyID, clientOrderID string, err error) types.OrderReport {
	retryable := isRetryable(err)

	r.mu.Lock()
	if e, ok := r.inflight[clientOrderID]; ok {
		e.order.State = types.StateFailed
		e.order.Retryable = retryable
		e.order.ErrorMsg = err.Error()
		e.order.UpdatedAt = time.Now()
		r.retireIfTerminalLocked(clientOrderID, e)
	}
	r.mu.Unlock()

	return types.OrderReport{
		Type: types.ReportOrderUpdate, StrategyID: strategyID, ClientOrderID: clientOrderID,
		Status: types.StateFailed, ErrorMsg: err.Error(), TS: time.Now(),
	}
}

func isRetryable(err error) bool {
	var te *errs.TransportError
	if e, ok := err.(*errs.TransportError); ok {
		te = e
	}
	return te != nil
}

// CorrelateUserEvent matches an asynchronous user-data-stream report to its
// in-flight entry, preferring client_order_id and falling back to
// venue_order_id (§4.G step 6), then re-publishes the normalized report. A
// report that matches nothing is published as-is (e.g. an account/balance
// update with no order identity).
func (r *Router) CorrelateUserEvent(report types.OrderReport) {
	r.mu.Lock()
	clientOrderID := report.ClientOrderID
	if clientOrderID == "" && report.VenueOrderID != "" {
		clientOrderID = r.byVenue[report.VenueOrderID]
	}

	if e, ok := r.inflight[clientOrderID]; clientOrderID != "" && ok {
		e.order.State = report.Status
		e.order.FilledQty = report.FilledQty
		e.order.AvgFillPrice = report.AvgFillPrice
		if report.VenueOrderID != "" {
			e.order.VenueOrderID = report.VenueOrderID
			r.byVenue[report.VenueOrderID] = clientOrderID
		}
		e.order.UpdatedAt = time.Now()
		report.StrategyID = e.order.StrategyID
		report.ClientOrderID = clientOrderID
		r.retireIfTerminalLocked(clientOrderID, e)
	}
	r.mu.Unlock()

	r.publisher.PublishReport(report)
}

// retireIfTerminalLocked marks the entry for TTL-based eviction once it
// reaches a terminal state. Must be called with r.mu held.
func (r *Router) retireIfTerminalLocked(clientOrderID string, e *entry) {
	if e.order.State.Terminal() && e.retireAt.IsZero() {
		e.retireAt = time.Now().Add(r.retention)
	}
	_ = clientOrderID
}

// RetireExpired removes terminal entries whose retention TTL has elapsed.
// Intended to be called periodically (e.g. every minute) by the core's
// background loop.
func (r *Router) RetireExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.inflight {
		if !e.retireAt.IsZero() && now.After(e.retireAt) {
			if e.order.VenueOrderID != "" {
				delete(r.byVenue, e.order.VenueOrderID)
			}
			delete(r.inflight, id)
			removed++
		}
	}
	return removed
}

// OpenClientOrderIDs implements supervisor.Reconciler: a defensive copy of
// every in-flight entry, keyed by client_order_id, for the user-data
// supervisor's post-reconnect REST diff (§4.I).
func (r *Router) OpenClientOrderIDs() map[string]types.Order {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]types.Order, len(r.inflight))
	for id, e := range r.inflight {
		out[id] = e.order
	}
	return out
}

// EmitSyntheticUpdate implements supervisor.Reconciler: folds a
// reconciliation-derived report into the in-flight table exactly like a
// live user-data event, then republishes it.
func (r *Router) EmitSyntheticUpdate(report types.OrderReport) {
	r.CorrelateUserEvent(report)
}

// Lookup returns a defensive copy of the in-flight entry for
// client_order_id, if present.
func (r *Router) Lookup(clientOrderID string) (types.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.inflight[clientOrderID]
	if !ok {
		return types.Order{}, false
	}
	return e.order, true
}

// CancelOrder resolves strategy_id, invokes the adapter's cancel, and
// publishes the normalized result. Unlike PlaceOrder it does not create a
// new in-flight entry; it updates the existing one if found.
func (r *Router) CancelOrder(ctx context.Context, strategyID string, req exchange.CancelRequest) (types.OrderReport, error) {
	strat, err := r.registry.Get(strategyID)
	if err != nil {
		report := rejected(strategyID, req.ClientOrderID, err)
		r.publisher.PublishReport(report)
		return report, err
	}

	adapter, ok := r.resolver.Adapter(strat.Account.Venue, strat.Account.MarketVariant)
	if !ok {
		err := errs.NewAdmissionError(errs.CodeCapabilityUnsupported, "no adapter for "+string(strat.Account.Venue))
		report := rejected(strategyID, req.ClientOrderID, err)
		r.publisher.PublishReport(report)
		return report, err
	}

	if report, ok := r.dispatchWS(strategyID, strat.Account, adapter, func(sender TradingSender) (any, string, error) {
		return adapter.CancelOrderWS(strat.Account.Credentials, req)
	}); ok {
		report.Type = types.ReportCancelResult
		r.publisher.PublishReport(report)
		return report, nil
	}

	resp, err := adapter.CancelOrder(ctx, strat.Account.Credentials, req)
	if err != nil {
		report := r.toFailed(strategyID, req.ClientOrderID, err)
		report.Type = types.ReportCancelResult
		r.publisher.PublishReport(report)
		return report, nil
	}

	clientOrderID := req.ClientOrderID
	if clientOrderID == "" && req.VenueOrderID != "" {
		r.mu.Lock()
		clientOrderID = r.byVenue[req.VenueOrderID]
		r.mu.Unlock()
	}
	report := r.applySyncResponse(clientOrderID, resp)
	report.Type = types.ReportCancelResult
	r.publisher.PublishReport(report)
	return report, nil
}

// ModifyOrder amends a resting order's price/quantity over the trading
// stream (§4.D order.modify). Unlike PlaceOrder/CancelOrder there is no
// REST fallback — order.modify exists only on the trading stream — so a
// venue without a live TradingSender rejects the request outright rather
// than silently degrading to a different op.
func (r *Router) ModifyOrder(ctx context.Context, strategyID string, req exchange.ModifyRequest) (types.OrderReport, error) {
	strat, err := r.registry.Get(strategyID)
	if err != nil {
		report := rejected(strategyID, req.ClientOrderID, err)
		r.publisher.PublishReport(report)
		return report, err
	}

	adapter, ok := r.resolver.Adapter(strat.Account.Venue, strat.Account.MarketVariant)
	if !ok {
		err := errs.NewAdmissionError(errs.CodeCapabilityUnsupported, "no adapter for "+string(strat.Account.Venue))
		report := rejected(strategyID, req.ClientOrderID, err)
		r.publisher.PublishReport(report)
		return report, err
	}

	if report, ok := r.dispatchWS(strategyID, strat.Account, adapter, func(sender TradingSender) (any, string, error) {
		return adapter.ModifyOrderWS(strat.Account.Credentials, req)
	}); ok {
		r.publisher.PublishReport(report)
		return report, nil
	}

	err = errs.NewAdmissionError(errs.CodeCapabilityUnsupported, "modify_order requires a live trading stream")
	report := rejected(strategyID, req.ClientOrderID, err)
	r.publisher.PublishReport(report)
	return report, err
}

// CancelAll resolves strategy_id and invokes the adapter's bulk cancel,
// publishing a single batch_result report.
func (r *Router) CancelAll(ctx context.Context, strategyID, symbol string) (types.OrderReport, error) {
	strat, err := r.registry.Get(strategyID)
	if err != nil {
		report := rejected(strategyID, "", err)
		r.publisher.PublishReport(report)
		return report, err
	}

	adapter, ok := r.resolver.Adapter(strat.Account.Venue, strat.Account.MarketVariant)
	if !ok {
		err := errs.NewAdmissionError(errs.CodeCapabilityUnsupported, "no adapter for "+string(strat.Account.Venue))
		report := rejected(strategyID, "", err)
		r.publisher.PublishReport(report)
		return report, err
	}

	resp, err := adapter.CancelAll(ctx, strat.Account.Credentials, symbol)
	if err != nil {
		report := r.toFailed(strategyID, "", err)
		report.Type = types.ReportBatchResult
		r.publisher.PublishReport(report)
		return report, nil
	}
	resp.Type = types.ReportBatchResult
	resp.StrategyID = strategyID
	r.publisher.PublishReport(*resp)
	return *resp, nil
}

func notionalOf(req exchange.OrderRequest) decimal.Decimal {
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		return decimal.Zero
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return qty
	}
	return qty.Mul(price)
}

func rejected(strategyID, clientOrderID string, err error) types.OrderReport {
	code := ""
	if c, ok := err.(errs.Coder); ok {
		code = string(c.Code())
	}
	return types.OrderReport{
		Type: types.ReportOrderUpdate, StrategyID: strategyID, ClientOrderID: clientOrderID,
		Status: types.StateRejected, ErrorCode: code, ErrorMsg: err.Error(), TS: time.Now(),
	}
}
