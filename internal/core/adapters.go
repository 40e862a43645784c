package core

import (
	"fmt"
	"log/slog"

	"tradingcore/internal/config"
	"tradingcore/internal/exchange"
	"tradingcore/internal/exchange/binance"
	"tradingcore/internal/exchange/okx"
	"tradingcore/internal/ratelimit"
	"tradingcore/internal/router"
	"tradingcore/internal/supervisor"
	"tradingcore/pkg/types"
)

// adapterKey is the resolver's lookup key.
type adapterKey struct {
	venue   types.Venue
	variant types.MarketVariant
}

// adapterSet implements router.AdapterResolver, router.TradingSenderResolver
// and query.AdapterResolver (identical adapter-lookup shape, declared
// independently in each package to avoid coupling them to each other —
// see internal/router and internal/query).
type adapterSet struct {
	byKey   map[adapterKey]exchange.Adapter
	senders map[adapterKey]*supervisor.TradingStreamSupervisor
}

func newAdapterSet() *adapterSet {
	return &adapterSet{byKey: make(map[adapterKey]exchange.Adapter), senders: make(map[adapterKey]*supervisor.TradingStreamSupervisor)}
}

func (s *adapterSet) Adapter(venue types.Venue, variant types.MarketVariant) (exchange.Adapter, bool) {
	a, ok := s.byKey[adapterKey{venue: venue, variant: variant}]
	return a, ok
}

// TradingSender implements router.TradingSenderResolver. A venue with no
// live TradingStreamSupervisor (dry-run mode, or a venue never wired one)
// reports ok=false, which Router treats as "no WS path" and falls back
// to REST.
func (s *adapterSet) TradingSender(venue types.Venue, variant types.MarketVariant) (router.TradingSender, bool) {
	sup, ok := s.senders[adapterKey{venue: venue, variant: variant}]
	return sup, ok
}

func (s *adapterSet) put(a exchange.Adapter) {
	s.byKey[adapterKey{venue: a.Venue(), variant: a.Variant()}] = a
}

func (s *adapterSet) putSender(venue types.Venue, variant types.MarketVariant, sup *supervisor.TradingStreamSupervisor) {
	s.senders[adapterKey{venue: venue, variant: variant}] = sup
}

func (s *adapterSet) all() []exchange.Adapter {
	out := make([]exchange.Adapter, 0, len(s.byKey))
	for _, a := range s.byKey {
		out = append(out, a)
	}
	return out
}

// buildAdapters constructs one Adapter per configured venue/variant,
// registers its rate-limit buckets (§10 Supplementary Features: Rate
// limiting), and wraps it in a DryRunAdapter when dryRun is set.
func buildAdapters(cfg config.Config, limiter *ratelimit.Limiter, logger *slog.Logger) (*adapterSet, error) {
	set := newAdapterSet()

	for _, vc := range cfg.Venues {
		venue := types.Venue(vc.Venue)
		variant := types.MarketVariant(vc.Variant)

		configureRateLimits(limiter, vc)

		var adapter exchange.Adapter
		var err error
		switch venue {
		case types.Binance:
			adapter, err = binance.New(variant, vc.IsTestnet, vc.ProxyURL, limiter)
		case types.OKX:
			if variant != types.USDTPerp {
				return nil, fmt.Errorf("okx: unsupported variant %s", variant)
			}
			adapter, err = okx.New(vc.IsTestnet, vc.ProxyURL, limiter)
		default:
			return nil, fmt.Errorf("unknown venue %q", vc.Venue)
		}
		if err != nil {
			return nil, fmt.Errorf("build adapter %s/%s: %w", venue, variant, err)
		}

		if cfg.DryRun {
			adapter = exchange.NewDryRunAdapter(adapter, logger)
		}
		set.put(adapter)
	}

	return set, nil
}

func configureRateLimits(limiter *ratelimit.Limiter, vc config.VenueConfig) {
	if vc.OrderRatePerSec > 0 {
		burst := vc.OrderBurst
		if burst == 0 {
			burst = vc.OrderRatePerSec
		}
		limiter.Configure(vc.Venue, ratelimit.CategoryOrder, burst, vc.OrderRatePerSec)
	}
	if vc.CancelRatePerSec > 0 {
		burst := vc.CancelBurst
		if burst == 0 {
			burst = vc.CancelRatePerSec
		}
		limiter.Configure(vc.Venue, ratelimit.CategoryCancel, burst, vc.CancelRatePerSec)
	}
	if vc.MarketDataRatePerSec > 0 {
		burst := vc.MarketDataBurst
		if burst == 0 {
			burst = vc.MarketDataRatePerSec
		}
		limiter.Configure(vc.Venue, ratelimit.CategoryMarketData, burst, vc.MarketDataRatePerSec)
	}
}
