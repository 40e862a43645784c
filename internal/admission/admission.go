// Package admission enforces the Trading Core's order-admission checks
// (§3 RiskConfig: "the Core stores and exposes, enforces only at
// admission-level checks"): per-order notional cap and order rate, checked
// before an order reaches the Router's adapter call. Deeper portfolio risk
// (position value, daily loss) is read-only metadata exposed via the Query
// Facade, not enforced here.
//
// Grounded on the teacher's internal/risk.Manager: per-strategy aggregate
// state guarded by one mutex, structured slog logging on breach. The
// teacher's kill-switch/cooldown state machine is replaced with a stateless
// per-order check plus a token-bucket rate gate (internal/ratelimit),
// matching this spec's narrower admission-only scope.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"tradingcore/internal/ratelimit"
	"tradingcore/pkg/errs"
	"tradingcore/pkg/types"
)

// Gate checks an order request against a strategy's RiskConfig before the
// Router transmits it.
type Gate struct {
	logger *slog.Logger

	mu      sync.Mutex
	limiter map[string]*ratelimit.TokenBucket // keyed by strategy_id
}

// New creates an admission gate.
func New(logger *slog.Logger) *Gate {
	return &Gate{logger: logger.With("component", "admission"), limiter: make(map[string]*ratelimit.TokenBucket)}
}

// Check validates notional against the strategy's per-order cap and
// consumes one token from its order-rate bucket, creating the bucket on
// first use from risk.OrderRatePerSec. Returns an AdmissionError with
// CodeOverflow on either breach.
func (g *Gate) Check(ctx context.Context, strategyID string, risk types.RiskConfig, notional decimal.Decimal) error {
	if risk.PerOrderCap.IsPositive() && notional.GreaterThan(risk.PerOrderCap) {
		g.logger.Warn("order rejected: per-order cap exceeded",
			"strategy_id", strategyID, "notional", notional.String(), "cap", risk.PerOrderCap.String())
		return errs.NewAdmissionError(errs.CodeOverflow,
			fmt.Sprintf("notional %s exceeds per-order cap %s", notional.String(), risk.PerOrderCap.String()))
	}

	bucket := g.bucketFor(strategyID, risk.OrderRatePerSec)
	if bucket == nil {
		return nil
	}
	if err := bucket.Wait(ctx); err != nil {
		g.logger.Warn("order rejected: rate limit wait cancelled", "strategy_id", strategyID, "err", err)
		return errs.NewAdmissionError(errs.CodeOverflow, "order rate exceeded: "+err.Error())
	}
	return nil
}

func (g *Gate) bucketFor(strategyID string, ratePerSec float64) *ratelimit.TokenBucket {
	if ratePerSec <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.limiter[strategyID]
	if !ok {
		b = ratelimit.NewTokenBucket(ratePerSec, ratePerSec)
		g.limiter[strategyID] = b
	}
	return b
}

// Forget releases a strategy's rate-limit state — called on Unregister so
// a re-registered strategy starts with a full bucket rather than picking
// up stale consumption.
func (g *Gate) Forget(strategyID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.limiter, strategyID)
}
