package core

import (
	"tradingcore/internal/registry"
	"tradingcore/internal/router"
)

// dispatcher composes the Router and the Registry into the single
// ipc.Dispatcher (and query.Mutator) the orders channel and Query Facade
// need. Router contributes PlaceOrder/CancelOrder/CancelAll/ModifyOrder
// by promotion; Register/Unregister are overridden here rather than
// promoted from Registry, so every caller of either — the orders
// channel's register_account/unregister_account envelope or the Query
// Facade's query type of the same name — drives the same per-strategy
// market-stream subscribe/unsubscribe hook.
type dispatcher struct {
	*router.Router
	*registry.Registry
	core *Core
}

func newDispatcher(r *router.Router, reg *registry.Registry, c *Core) *dispatcher {
	return &dispatcher{Router: r, Registry: reg, core: c}
}

func (d *dispatcher) Register(in registry.RegisterInput) error {
	if err := d.Registry.Register(in); err != nil {
		return err
	}
	d.core.subscribeStrategy(in.StrategyID)
	return nil
}

func (d *dispatcher) Unregister(strategyID string) (bool, error) {
	d.core.unsubscribeStrategy(strategyID)
	return d.Registry.Unregister(strategyID)
}
