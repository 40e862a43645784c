package ipc

import (
	"sync"

	"tradingcore/pkg/types"
)

// ReportSubscriber receives reports for exactly one strategy_id. Strategy
// affinity is structural here, not filtered: a strategy can only ever be
// handed the channel registered under its own id (§4.H: "order/position/
// balance updates MUST reach only the owning strategy").
type ReportSubscriber struct {
	strategyID string
	ch         chan types.OrderReport
}

// Chan returns the subscriber's read side.
func (s *ReportSubscriber) Chan() <-chan types.OrderReport { return s.ch }

// ReportsBus is the fan-out reports channel. Unlike the market bus it
// never drops a report for a subscribed strategy: Publish blocks until the
// owning subscriber's buffer has room (a strategy with no subscriber is
// the one case where PublishReport drops), because operators must not silently lose order updates (§4.H, §7
// OVERFLOW: "report channel backpressure (blocks producer)").
type ReportsBus struct {
	mu   sync.RWMutex
	subs map[string]*ReportSubscriber // keyed by strategy_id — one live subscriber per strategy
}

// NewReportsBus creates an empty reports bus.
func NewReportsBus() *ReportsBus {
	return &ReportsBus{subs: make(map[string]*ReportSubscriber)}
}

// Subscribe registers the (sole) subscriber for strategyID, replacing any
// prior one.
func (b *ReportsBus) Subscribe(strategyID string, bufferSize int) *ReportSubscriber {
	sub := &ReportSubscriber{strategyID: strategyID, ch: make(chan types.OrderReport, bufferSize)}
	b.mu.Lock()
	if prev, ok := b.subs[strategyID]; ok {
		close(prev.ch)
	}
	b.subs[strategyID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes strategyID's subscriber, if it is still
// the one registered (guards against a stale Unsubscribe racing a newer
// Subscribe for the same strategy).
func (b *ReportsBus) Unsubscribe(strategyID string, sub *ReportSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subs[strategyID]; ok && cur == sub {
		close(cur.ch)
		delete(b.subs, strategyID)
	}
}

// PublishReport implements router.Publisher: delivers report to its owning
// strategy's subscriber only. A strategy with no live subscriber has
// nothing to block against — the report is dropped rather than buffered
// forever, since there is no bounded memory budget for an absent consumer.
//
// The RLock is held across the send rather than released beforehand: a
// concurrent Subscribe/Unsubscribe takes the exclusive Lock to close the
// channel, so holding RLock here guarantees the channel we send on cannot
// be closed out from under us mid-send.
func (b *ReportsBus) PublishReport(report types.OrderReport) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sub, ok := b.subs[report.StrategyID]
	if !ok {
		return
	}
	sub.ch <- report
}
