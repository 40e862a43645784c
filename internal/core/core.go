// Package core wires every Trading Core component into a single runnable
// process (analogous to the teacher's internal/engine.Engine): registry,
// exchange adapters, market cache, admission gate, order router, the three
// IPC buses, per-venue supervisors, and the query facade.
//
// Grounded on the teacher's internal/engine.Engine: a New() that builds
// every subsystem and wires their cross-references, a Start() that
// launches one goroutine per background loop under a shared context, and
// a Stop() that cancels and waits — generalized from one exchange
// (Polymarket CLOB) to an arbitrary configured venue/variant set.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradingcore/internal/admission"
	"tradingcore/internal/api"
	"tradingcore/internal/config"
	"tradingcore/internal/exchange"
	"tradingcore/internal/ipc"
	"tradingcore/internal/marketcache"
	"tradingcore/internal/query"
	"tradingcore/internal/ratelimit"
	"tradingcore/internal/registry"
	"tradingcore/internal/router"
	"tradingcore/internal/store"
	"tradingcore/internal/supervisor"
	"tradingcore/internal/wstransport"
	"tradingcore/pkg/types"
)

// Core owns the lifecycle of every subsystem in one process.
type Core struct {
	cfg    config.Config
	logger *slog.Logger

	store      *store.Store
	registry   *registry.Registry
	limiter    *ratelimit.Limiter
	adapters   *adapterSet
	cache      *marketcache.Cache
	admission  *admission.Gate
	marketBus  *ipc.MarketBus
	reportsBus *ipc.ReportsBus
	ordersBus  *ipc.OrdersBus
	router     *router.Router
	query      *query.Facade
	apiServer  *api.Server

	supervisors    []*supervisor.Supervisor
	userDataSupers []*supervisor.UserDataSupervisor
	tradingSupers  []*supervisor.TradingStreamSupervisor

	// marketSubs holds each venue/variant's live SubscriptionSet, keyed the
	// same way adapterSet keys adapters, so subscribeStrategy/
	// unsubscribeStrategy can reach the right Supervisor's replay set.
	// subRefs ref-counts each subscription key within that set so two
	// strategies sharing one stream don't have the second's unregister
	// drop the first's subscription out from under it.
	marketSubs map[adapterKey]*supervisor.SubscriptionSet
	subRefs    map[adapterKey]map[string]int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds and wires every component. It does not start any goroutine —
// call Start for that.
func New(cfg config.Config, logger *slog.Logger) (*Core, error) {
	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := registry.New(st)
	if _, err := reg.RestoreSnapshot(); err != nil {
		logger.Warn("registry snapshot restore failed", "err", err)
	}
	if err := reg.LoadDir(cfg.StrategyDir); err != nil {
		return nil, fmt.Errorf("load strategy dir: %w", err)
	}

	limiter := ratelimit.NewLimiter()
	adapters, err := buildAdapters(cfg, limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("build adapters: %w", err)
	}

	cache := marketcache.New(marketcache.DefaultCapacities())
	gate := admission.New(logger)
	marketBus := ipc.NewMarketBus()
	reportsBus := ipc.NewReportsBus()

	rt := router.New(reg, adapters, adapters, gate, reportsBus, cfg.Router.PIDTag)

	c := &Core{
		cfg: cfg, logger: logger.With("component", "core"),
		store: st, registry: reg, limiter: limiter, adapters: adapters, cache: cache,
		admission: gate, marketBus: marketBus, reportsBus: reportsBus,
		router: rt,
		marketSubs: make(map[adapterKey]*supervisor.SubscriptionSet),
		subRefs:    make(map[adapterKey]map[string]int),
	}

	// dispatcher wraps Register/Unregister so both the orders channel's
	// register_account/unregister_account envelopes and the Query
	// Facade's register_account/unregister_account query types drive the
	// same subscribe/unsubscribe hook (§4.F, §4.I).
	disp := newDispatcher(rt, reg, c)
	ordersBus := ipc.NewOrdersBus(disp, logger, cfg.IPC.OrdersWorkers)
	queryFacade := query.New(reg, adapters, disp, logger)
	c.ordersBus, c.query = ordersBus, queryFacade

	c.apiServer = api.NewServer(cfg.Listen.Addr, queryFacade, marketBus, reportsBus, ordersBus, c, cfg.Listen.AllowedOrigins, cfg.IPC.MarketBufferSize, cfg.IPC.ReportsBufferSize, logger)
	c.buildSupervisors()
	c.subscribeAllStrategies()

	return c, nil
}

// buildSupervisors creates one market-data Supervisor per adapter, one
// TradingStreamSupervisor per adapter with CapTradingStream (skipped in a
// dry run), and one UserDataSupervisor per distinct (venue, API key) among
// enabled strategies whose adapter has trading capability (§4.I: "at most
// one live user-data stream per (venue, account)").
func (c *Core) buildSupervisors() {
	for _, adapter := range c.adapters.all() {
		c.supervisors = append(c.supervisors, c.newMarketSupervisor(adapter))

		// A dry run never dials the authenticated trading stream — Router's
		// TradingSender lookup then naturally misses and every order falls
		// back to the (dry-run-safe) REST path.
		if c.cfg.DryRun || adapter.Capabilities()&types.CapTradingStream == 0 {
			continue
		}
		sup := c.newTradingStreamSupervisor(adapter)
		c.tradingSupers = append(c.tradingSupers, sup)
		c.adapters.putSender(adapter.Venue(), adapter.Variant(), sup)
	}

	// At most one live user-data stream per (venue, account) — keyed on the
	// account's API key rather than venue alone, since two strategies can
	// register distinct credentials on the same venue (§4.I).
	type accountKey struct {
		venue  types.Venue
		apiKey string
	}
	seen := make(map[accountKey]bool)
	for _, strat := range c.registry.All() {
		key := accountKey{venue: strat.Account.Venue, apiKey: strat.Account.Credentials.APIKey}
		if !strat.Enabled || seen[key] {
			continue
		}
		adapter, ok := c.adapters.Adapter(strat.Account.Venue, strat.Account.MarketVariant)
		if !ok || adapter.Capabilities()&(types.CapSpotTrading|types.CapFuturesTrading) == 0 {
			continue
		}
		seen[key] = true
		c.userDataSupers = append(c.userDataSupers, c.newUserDataSupervisor(adapter, strat.Account))
	}
}

// subscribeAllStrategies seeds every venue's SubscriptionSet from the
// market streams the strategy files loaded at startup asked for, so the
// very first connection already has something to subscribe (not just
// replay on reconnect).
func (c *Core) subscribeAllStrategies() {
	for _, strat := range c.registry.All() {
		if !strat.Enabled {
			continue
		}
		c.subscribeStrategy(strat.ID)
	}
}

// subscribeStrategy adds strategyID's configured market streams to its
// venue's live SubscriptionSet (§4.I: the Supervisor replays whatever is
// in the set on every reconnect). Reachable from both the orders
// channel's register_account envelope and the Query Facade's
// register_account query type via dispatcher.Register.
func (c *Core) subscribeStrategy(strategyID string) {
	strat, ok := c.registry.Lookup(strategyID)
	if !ok {
		return
	}
	key := adapterKey{venue: strat.Account.Venue, variant: strat.Account.MarketVariant}
	subs, ok := c.marketSubs[key]
	if !ok {
		return
	}
	for _, ms := range strat.MarketStreams {
		sub := types.Subscription{StrategyID: strategyID, Venue: strat.Account.Venue, Channel: ms.Channel, Symbol: ms.Symbol, Interval: ms.Interval}
		if c.subRefs[key][sub.Key()] == 0 {
			subs.Add(sub)
		}
		c.subRefs[key][sub.Key()]++
	}
}

// unsubscribeStrategy is subscribeStrategy's inverse, called before a
// strategy is removed from the registry. A stream still wanted by
// another strategy on the same venue stays subscribed — only the last
// referent's removal actually calls SubscriptionSet.Remove.
func (c *Core) unsubscribeStrategy(strategyID string) {
	strat, ok := c.registry.Lookup(strategyID)
	if !ok {
		return
	}
	key := adapterKey{venue: strat.Account.Venue, variant: strat.Account.MarketVariant}
	subs, ok := c.marketSubs[key]
	if !ok {
		return
	}
	for _, ms := range strat.MarketStreams {
		sub := types.Subscription{StrategyID: strategyID, Venue: strat.Account.Venue, Channel: ms.Channel, Symbol: ms.Symbol, Interval: ms.Interval}
		if c.subRefs[key][sub.Key()] == 0 {
			continue
		}
		c.subRefs[key][sub.Key()]--
		if c.subRefs[key][sub.Key()] == 0 {
			subs.Remove(sub)
		}
	}
}

// Start launches every background loop: per-venue market supervisors,
// per-account user-data supervisors, the retention sweep, and the HTTP/WS
// surface.
func (c *Core) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	for _, sup := range c.supervisors {
		sup := sup
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := sup.Run(c.ctx); err != nil && c.ctx.Err() == nil {
				c.logger.Error("market supervisor exited", "err", err)
			}
		}()
	}

	for _, uds := range c.userDataSupers {
		uds := uds
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := uds.Run(c.ctx); err != nil && c.ctx.Err() == nil {
				c.logger.Error("user-data supervisor exited", "err", err)
			}
		}()
	}

	for _, ts := range c.tradingSupers {
		ts := ts
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := ts.Run(c.ctx); err != nil && c.ctx.Err() == nil {
				c.logger.Error("trading stream supervisor exited", "err", err)
			}
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.retentionLoop(c.ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.apiServer.Start(); err != nil {
			c.logger.Error("api server exited", "err", err)
		}
	}()

	if c.cfg.DryRun {
		c.logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	c.logger.Info("trading core started", "venues", len(c.cfg.Venues), "strategies", len(c.registry.All()), "dry_run", c.cfg.DryRun)
	return nil
}

// Stop cancels every background loop and waits for them to exit.
func (c *Core) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.apiServer.Stop(); err != nil {
		c.logger.Error("api server shutdown failed", "err", err)
	}
	c.ordersBus.Wait()
	c.wg.Wait()
	return c.store.Close()
}

func (c *Core) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Router.RetireEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := c.router.RetireExpired(now); n > 0 {
				c.logger.Debug("retired terminal in-flight entries", "count", n)
			}
		}
	}
}

// Health implements api.HealthProvider (§10 HTTP health/introspection
// surface).
func (c *Core) Health() api.HealthStatus {
	streams := make(map[string]bool, len(c.supervisors)+len(c.tradingSupers))
	for _, sup := range c.supervisors {
		streams[sup.Name()] = sup.IsConnected()
	}
	for _, sup := range c.tradingSupers {
		streams[sup.Name()] = sup.IsConnected()
	}
	return api.HealthStatus{
		Status:            "ok",
		DryRun:            c.cfg.DryRun,
		Strategies:        len(c.registry.All()),
		MarketSubscribers: c.marketBus.SubscriberCount(),
		Streams:           streams,
	}
}

func (c *Core) newMarketSupervisor(adapter exchange.Adapter) *supervisor.Supervisor {
	name := string(adapter.Venue()) + "/" + string(adapter.Variant()) + "/market"
	subs := supervisor.NewSubscriptionSet()
	key := adapterKey{venue: adapter.Venue(), variant: adapter.Variant()}
	c.marketSubs[key] = subs
	c.subRefs[key] = make(map[string]int)

	send := func(conn *wstransport.Conn, sub types.Subscription) error {
		return conn.Send(adapter.SubscribeFrame(sub.Channel, sub.Symbol, sub.Interval))
	}
	onFrame := func(raw []byte) {
		frame, err := adapter.ParseFrame(raw)
		if err != nil {
			c.logger.Warn("market frame parse failed", "venue", adapter.Venue(), "err", err)
			return
		}
		c.cache.Put(*frame)
		c.marketBus.Publish(ipc.Topic(frame.Venue, streamTag(*frame), symbolTag(*frame)), raw)
	}

	cfg := wstransport.Config{URL: adapter.StreamURL(adapter.Variant(), types.ChanTrade)}
	return supervisor.New(name, cfg, subs, onFrame, send, c.logger)
}

func (c *Core) newTradingStreamSupervisor(adapter exchange.Adapter) *supervisor.TradingStreamSupervisor {
	name := string(adapter.Venue()) + "/" + string(adapter.Variant()) + "/trading"
	cfg := wstransport.Config{URL: adapter.StreamURL(adapter.Variant(), types.ChanTrading)}
	onReport := func(report *types.OrderReport) { c.router.CorrelateUserEvent(*report) }
	return supervisor.NewTradingStreamSupervisor(name, cfg, adapter, onReport, c.logger)
}

func (c *Core) newUserDataSupervisor(adapter exchange.Adapter, account types.Account) *supervisor.UserDataSupervisor {
	connectFn := func(ctx context.Context, listenKey string) error {
		return c.runUserDataConnection(ctx, adapter, listenKey)
	}
	return supervisor.NewUserDataSupervisor(adapter, account.Credentials, c.router, connectFn, c.logger)
}

// runUserDataConnection dials the venue's user-data stream and correlates
// every parsed event back into the Router (§4.G step 6, §4.I).
func (c *Core) runUserDataConnection(ctx context.Context, adapter exchange.Adapter, listenKey string) error {
	url := adapter.StreamURL(adapter.Variant(), types.ChanUserData) + "/" + listenKey
	conn, err := wstransport.New(wstransport.Config{URL: url})
	if err != nil {
		return err
	}
	return conn.Run(ctx, func(raw []byte) {
		report, err := adapter.ParseUserEvent(raw)
		if err != nil {
			c.logger.Warn("user event parse failed", "venue", adapter.Venue(), "err", err)
			return
		}
		c.router.CorrelateUserEvent(*report)
	})
}

func streamTag(f types.MarketFrame) string {
	switch f.Type {
	case types.FrameKline:
		return string(types.ChanKline) + "|" + f.Kline.Interval
	case types.FrameTrade:
		return string(types.ChanTrade)
	case types.FrameBook:
		return string(types.ChanBook) + "|" + f.Book.ChannelTag
	case types.FrameFundingRate:
		return string(types.ChanFundingRate)
	default:
		return "unknown"
	}
}

func symbolTag(f types.MarketFrame) string {
	switch f.Type {
	case types.FrameKline:
		return f.Kline.Symbol
	case types.FrameTrade:
		return f.Trade.Symbol
	case types.FrameBook:
		return f.Book.Symbol
	case types.FrameFundingRate:
		return f.FundingRate.Symbol
	default:
		return ""
	}
}
