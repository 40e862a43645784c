package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"tradingcore/internal/exchange"
	"tradingcore/internal/registry"
	"tradingcore/pkg/errs"
	"tradingcore/pkg/types"
)

// envelopeType discriminates the orders-channel command envelope (§6).
type envelopeType string

const (
	envOrderRequest      envelopeType = "order_request"
	envCancelRequest     envelopeType = "cancel_request"
	envCancelAllRequest  envelopeType = "cancel_all_request"
	envModifyRequest     envelopeType = "modify_request"
	envRegisterAccount   envelopeType = "register_account"
	envUnregisterAccount envelopeType = "unregister_account"
)

// envelope is the wire shape of every orders-channel command, fields
// superset across all six types per §6.
type envelope struct {
	Type          envelopeType        `json:"type"`
	StrategyID    string              `json:"strategy_id"`
	ClientOrderID string              `json:"client_order_id"`
	VenueOrderID  string              `json:"venue_order_id"`
	Symbol        string              `json:"symbol"`
	Side          types.Side          `json:"side"`
	OrderType     types.OrderType     `json:"order_type"`
	Quantity      string              `json:"quantity"`
	Price         string              `json:"price"`
	PosSide       types.PositionSide  `json:"pos_side"`
	TIF           types.TimeInForce   `json:"tif"`
	Exchange      types.Venue         `json:"exchange"`
	APIKey        string              `json:"api_key"`
	SecretKey     string              `json:"secret_key"`
	Passphrase    string              `json:"passphrase"`
	IsTestnet     bool                 `json:"is_testnet"`
	Market        types.MarketVariant  `json:"market"`
	MarketStreams []types.MarketStream `json:"market_streams,omitempty"`
	Timestamp     int64                `json:"timestamp"`
}

// Dispatcher is the set of operations the orders channel routes commands
// to: the Router for order/cancel traffic, the Registry for account
// mutation. Kept as an interface so ipc has no import-time dependency on
// the concrete router/registry wiring.
type Dispatcher interface {
	PlaceOrder(ctx context.Context, strategyID string, req exchange.OrderRequest) (types.OrderReport, error)
	CancelOrder(ctx context.Context, strategyID string, req exchange.CancelRequest) (types.OrderReport, error)
	CancelAll(ctx context.Context, strategyID, symbol string) (types.OrderReport, error)
	ModifyOrder(ctx context.Context, strategyID string, req exchange.ModifyRequest) (types.OrderReport, error)
	Register(in registry.RegisterInput) error
	Unregister(strategyID string) (bool, error)
}

// OrdersBus is the fan-in orders channel: validate the envelope, then hand
// it to a bounded worker pool so one slow dispatch never stalls another
// strategy's command (§4.H: "single I/O thread per channel ... incoming
// commands are handed to a worker pool").
type OrdersBus struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	sem        chan struct{}
	wg         sync.WaitGroup
}

// NewOrdersBus creates an orders bus with the given worker-pool size.
func NewOrdersBus(dispatcher Dispatcher, logger *slog.Logger, workers int) *OrdersBus {
	if workers <= 0 {
		workers = 1
	}
	return &OrdersBus{dispatcher: dispatcher, logger: logger.With("component", "ipc-orders"), sem: make(chan struct{}, workers)}
}

// Ingest validates raw as a command envelope and dispatches it
// asynchronously on the worker pool. Returns a PROTOCOL error immediately
// for a malformed envelope (§7: "malformed frame ... non-retryable, logged,
// frame dropped") without ever touching the dispatcher.
func (b *OrdersBus) Ingest(ctx context.Context, raw []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &errs.ProtocolError{Reason: "malformed order envelope: " + err.Error()}
	}
	if env.StrategyID == "" {
		return &errs.ProtocolError{Reason: "order envelope missing strategy_id"}
	}

	b.sem <- struct{}{}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.sem }()
		if err := b.dispatch(ctx, env); err != nil {
			b.logger.Warn("dispatch failed", "type", env.Type, "strategy_id", env.StrategyID, "err", err)
		}
	}()
	return nil
}

// Wait blocks until all in-flight dispatches complete — used by tests and
// graceful shutdown.
func (b *OrdersBus) Wait() { b.wg.Wait() }

func (b *OrdersBus) dispatch(ctx context.Context, env envelope) error {
	switch env.Type {
	case envOrderRequest:
		_, err := b.dispatcher.PlaceOrder(ctx, env.StrategyID, exchange.OrderRequest{
			ClientOrderID: env.ClientOrderID, Symbol: env.Symbol, Side: env.Side, Type: env.OrderType,
			TIF: env.TIF, Qty: env.Quantity, Price: env.Price, PosSide: env.PosSide,
		})
		return err
	case envCancelRequest:
		_, err := b.dispatcher.CancelOrder(ctx, env.StrategyID, exchange.CancelRequest{
			Symbol: env.Symbol, ClientOrderID: env.ClientOrderID, VenueOrderID: env.VenueOrderID,
		})
		return err
	case envCancelAllRequest:
		_, err := b.dispatcher.CancelAll(ctx, env.StrategyID, env.Symbol)
		return err
	case envModifyRequest:
		_, err := b.dispatcher.ModifyOrder(ctx, env.StrategyID, exchange.ModifyRequest{
			Symbol: env.Symbol, ClientOrderID: env.ClientOrderID, VenueOrderID: env.VenueOrderID,
			Qty: env.Quantity, Price: env.Price,
		})
		return err
	case envRegisterAccount:
		return b.dispatcher.Register(registry.RegisterInput{
			StrategyID: env.StrategyID, Exchange: env.Exchange, APIKey: env.APIKey,
			SecretKey: env.SecretKey, Passphrase: env.Passphrase, IsTestnet: env.IsTestnet, Market: env.Market,
			MarketStreams: env.MarketStreams,
		})
	case envUnregisterAccount:
		_, err := b.dispatcher.Unregister(env.StrategyID)
		return err
	default:
		return &errs.ProtocolError{Reason: fmt.Sprintf("unknown envelope type %q", env.Type)}
	}
}
