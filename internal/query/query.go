// Package query implements the Trading Core's Query Facade (component J):
// a request/reply surface over the registry and runtime state, served as
// its own /query path on the same HTTP listener as the IPC broker's three
// channels, apart from those channels.
//
// Grounded on the teacher's internal/api/handlers.go: a single Handlers
// type holding its dependencies, one method per route, JSON in/out,
// structured slog on failure. Adapted from HTTP-route-per-concern to one
// {query_type, params} -> {code, msg, data} dispatch table, since the
// query surface is a single request/reply endpoint rather than a REST API.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"tradingcore/internal/exchange"
	"tradingcore/internal/registry"
	"tradingcore/pkg/types"
)

// Request is the Query Facade's wire request: a discriminated query type
// plus loosely-typed params (§6).
type Request struct {
	QueryType string         `json:"query_type"`
	Params    map[string]any `json:"params"`
}

// Response is the Query Facade's wire reply: code 0 means success,
// nonzero is one of the facade's own codes below (bad request, not found,
// upstream failure), with the detail in Msg.
type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

const (
	codeOK         = 0
	codeBadRequest = 1
	codeNotFound   = 2
	codeUpstream   = 3
)

// AdapterResolver looks up the Adapter for a (venue, variant) pair —
// shared with the Router's resolver so the Core wires a single
// implementation for both.
type AdapterResolver interface {
	Adapter(venue types.Venue, variant types.MarketVariant) (exchange.Adapter, bool)
}

// Mutator is the subset of Registry mutation the Query Facade exposes as
// write endpoints.
type Mutator interface {
	Register(in registry.RegisterInput) error
	Unregister(strategyID string) (bool, error)
}

// Facade dispatches Request values to registry reads, adapter-backed
// account reads, and registry mutation.
type Facade struct {
	registry *registry.Registry
	resolver AdapterResolver
	mutator  Mutator
	logger   *slog.Logger
}

// New creates a Query Facade.
func New(reg *registry.Registry, resolver AdapterResolver, mutator Mutator, logger *slog.Logger) *Facade {
	return &Facade{registry: reg, resolver: resolver, mutator: mutator, logger: logger.With("component", "query-facade")}
}

// Handle dispatches one request by query_type.
func (f *Facade) Handle(ctx context.Context, req Request) Response {
	switch req.QueryType {
	case "get_strategy_config":
		return f.getStrategyConfig(req)
	case "get_all_strategy_configs":
		return f.getAllStrategyConfigs()
	case "get_strategy_contacts":
		return f.getStrategyContacts(req)
	case "get_strategy_risk_control":
		return f.getStrategyRiskControl(req)
	case "get_positions":
		return f.getPositions(ctx, req)
	case "get_balances":
		return f.getBalances(ctx, req)
	case "get_open_orders":
		return f.getOpenOrders(ctx, req)
	case "register_account":
		return f.registerAccount(req)
	case "unregister_account":
		return f.unregisterAccount(req)
	default:
		return Response{Code: codeBadRequest, Msg: "unknown query_type: " + req.QueryType}
	}
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (f *Facade) getStrategyConfig(req Request) Response {
	id, ok := stringParam(req.Params, "strategy_id")
	if !ok || id == "" {
		return Response{Code: codeBadRequest, Msg: "strategy_id is required"}
	}
	strat, err := f.registry.Get(id)
	if err != nil {
		return Response{Code: codeNotFound, Msg: err.Error()}
	}
	return Response{Code: codeOK, Msg: "ok", Data: strat}
}

func (f *Facade) getAllStrategyConfigs() Response {
	return Response{Code: codeOK, Msg: "ok", Data: f.registry.All()}
}

func (f *Facade) getStrategyContacts(req Request) Response {
	id, ok := stringParam(req.Params, "strategy_id")
	if !ok || id == "" {
		return Response{Code: codeBadRequest, Msg: "strategy_id is required"}
	}
	strat, err := f.registry.Get(id)
	if err != nil {
		return Response{Code: codeNotFound, Msg: err.Error()}
	}
	return Response{Code: codeOK, Msg: "ok", Data: strat.Contacts}
}

func (f *Facade) getStrategyRiskControl(req Request) Response {
	id, ok := stringParam(req.Params, "strategy_id")
	if !ok || id == "" {
		return Response{Code: codeBadRequest, Msg: "strategy_id is required"}
	}
	strat, err := f.registry.Get(id)
	if err != nil {
		return Response{Code: codeNotFound, Msg: err.Error()}
	}
	return Response{Code: codeOK, Msg: "ok", Data: strat.Risk}
}

// resolveAdapter is shared by the three account-introspection queries:
// resolve strategy_id -> Account -> Adapter, so a bad strategy_id or an
// unwired venue both fail uniformly.
func (f *Facade) resolveAdapter(req Request) (types.Strategy, exchange.Adapter, *Response) {
	id, ok := stringParam(req.Params, "strategy_id")
	if !ok || id == "" {
		return types.Strategy{}, nil, &Response{Code: codeBadRequest, Msg: "strategy_id is required"}
	}
	strat, err := f.registry.Get(id)
	if err != nil {
		return types.Strategy{}, nil, &Response{Code: codeNotFound, Msg: err.Error()}
	}
	adapter, ok := f.resolver.Adapter(strat.Account.Venue, strat.Account.MarketVariant)
	if !ok {
		return types.Strategy{}, nil, &Response{Code: codeNotFound, Msg: "no adapter for " + string(strat.Account.Venue)}
	}
	return strat, adapter, nil
}

func (f *Facade) getPositions(ctx context.Context, req Request) Response {
	strat, adapter, errResp := f.resolveAdapter(req)
	if errResp != nil {
		return *errResp
	}
	data, err := adapter.Positions(ctx, strat.Account.Credentials)
	if err != nil {
		f.logger.Warn("get_positions upstream failure", "strategy_id", strat.ID, "err", err)
		return Response{Code: codeUpstream, Msg: err.Error()}
	}
	return Response{Code: codeOK, Msg: "ok", Data: data}
}

func (f *Facade) getBalances(ctx context.Context, req Request) Response {
	strat, adapter, errResp := f.resolveAdapter(req)
	if errResp != nil {
		return *errResp
	}
	data, err := adapter.Balances(ctx, strat.Account.Credentials)
	if err != nil {
		f.logger.Warn("get_balances upstream failure", "strategy_id", strat.ID, "err", err)
		return Response{Code: codeUpstream, Msg: err.Error()}
	}
	return Response{Code: codeOK, Msg: "ok", Data: data}
}

func (f *Facade) getOpenOrders(ctx context.Context, req Request) Response {
	strat, adapter, errResp := f.resolveAdapter(req)
	if errResp != nil {
		return *errResp
	}
	symbol, _ := stringParam(req.Params, "symbol")
	data, err := adapter.OpenOrders(ctx, strat.Account.Credentials, symbol)
	if err != nil {
		f.logger.Warn("get_open_orders upstream failure", "strategy_id", strat.ID, "err", err)
		return Response{Code: codeUpstream, Msg: err.Error()}
	}
	return Response{Code: codeOK, Msg: "ok", Data: data}
}

func (f *Facade) registerAccount(req Request) Response {
	id, _ := stringParam(req.Params, "strategy_id")
	exchangeName, _ := stringParam(req.Params, "exchange")
	apiKey, _ := stringParam(req.Params, "api_key")
	secretKey, _ := stringParam(req.Params, "secret_key")
	passphrase, _ := stringParam(req.Params, "passphrase")
	market, _ := stringParam(req.Params, "market")
	isTestnet, _ := req.Params["is_testnet"].(bool)

	in := registry.RegisterInput{
		StrategyID: id, Exchange: types.Venue(exchangeName), APIKey: apiKey,
		SecretKey: secretKey, Passphrase: passphrase, IsTestnet: isTestnet, Market: types.MarketVariant(market),
		MarketStreams: marketStreamsParam(req.Params, "market_streams"),
	}
	if err := f.mutator.Register(in); err != nil {
		return Response{Code: codeBadRequest, Msg: err.Error()}
	}
	return Response{Code: codeOK, Msg: "ok"}
}

// marketStreamsParam decodes the loosely-typed "market_streams" param back
// into its concrete shape via a JSON round-trip — the simplest correct way
// to recover a []types.MarketStream from a request that arrived as
// map[string]any.
func marketStreamsParam(params map[string]any, key string) []types.MarketStream {
	raw, ok := params[key]
	if !ok {
		return nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var streams []types.MarketStream
	if err := json.Unmarshal(encoded, &streams); err != nil {
		return nil
	}
	return streams
}

func (f *Facade) unregisterAccount(req Request) Response {
	id, ok := stringParam(req.Params, "strategy_id")
	if !ok || id == "" {
		return Response{Code: codeBadRequest, Msg: "strategy_id is required"}
	}
	existed, err := f.mutator.Unregister(id)
	if err != nil {
		return Response{Code: codeUpstream, Msg: err.Error()}
	}
	if !existed {
		return Response{Code: codeNotFound, Msg: fmt.Sprintf("strategy_id %q not registered", id)}
	}
	return Response{Code: codeOK, Msg: "ok"}
}
