// Package exchange defines the common Adapter contract every venue
// implementation (binance, okx) satisfies (component D), plus the
// capability-bitmap gate shared by all of them.
//
// Grounded on the teacher's Polymarket CLOB Client shape, generalized from
// one venue to a per-(venue,variant) capability-gated interface per §4.D.
package exchange

import (
	"context"

	"tradingcore/pkg/errs"
	"tradingcore/pkg/types"
)

// OrderRequest is the adapter-facing order placement request, already
// resolved to one Account by the Router.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          types.Side
	Type          types.OrderType
	TIF           types.TimeInForce
	Qty           string
	Price         string
	PosSide       types.PositionSide
}

// CancelRequest identifies the order to cancel by either id.
type CancelRequest struct {
	Symbol        string
	ClientOrderID string
	VenueOrderID  string
}

// ModifyRequest amends a resting order's price and/or quantity in place
// (§4.D order.modify), identified by either id.
type ModifyRequest struct {
	Symbol        string
	ClientOrderID string
	VenueOrderID  string
	Qty           string
	Price         string
}

// Adapter is the per-(venue,variant) strategy object. Every method that
// hits the network must first consult Capabilities and fail fast with
// CAPABILITY_UNSUPPORTED when the bit is unset (§4.D "Variant gating").
type Adapter interface {
	Venue() types.Venue
	Variant() types.MarketVariant
	Capabilities() types.Capability

	ConnectivityCheck(ctx context.Context) (bool, error)
	ServerTimeMS(ctx context.Context) (int64, error)

	Depth(ctx context.Context, symbol string, depthN int) (*types.BookSnapshot, error)
	RecentTrades(ctx context.Context, symbol string, n int) ([]types.Trade, error)
	Klines(ctx context.Context, symbol, interval string, startMS, endMS int64, n int) ([]types.Kline, error)
	Ticker24h(ctx context.Context, symbol string) (map[string]any, error)
	FundingRate(ctx context.Context, symbol string, n int) ([]types.FundingRate, error)

	PlaceOrder(ctx context.Context, creds types.CredentialSet, req OrderRequest) (*types.OrderReport, error)
	CancelOrder(ctx context.Context, creds types.CredentialSet, req CancelRequest) (*types.OrderReport, error)
	CancelAll(ctx context.Context, creds types.CredentialSet, symbol string) (*types.OrderReport, error)
	BatchPlace(ctx context.Context, creds types.CredentialSet, reqs []OrderRequest) ([]types.OrderReport, error)

	QueryOrder(ctx context.Context, creds types.CredentialSet, req CancelRequest) (*types.Order, error)
	OpenOrders(ctx context.Context, creds types.CredentialSet, symbol string) ([]types.Order, error)
	AllOrders(ctx context.Context, creds types.CredentialSet, symbol string, n int) ([]types.Order, error)

	// PlaceOrderWS, CancelOrderWS, ModifyOrderWS and QueryOrderWS build the
	// trading-stream request frame for their op (§4.D, §6) instead of
	// issuing it over REST. requestID is the correlation id the caller
	// must track until ParseTradingResponse reports the matching reply —
	// callers gate on Capabilities()&CapTradingStream before using these.
	PlaceOrderWS(creds types.CredentialSet, req OrderRequest) (frame any, requestID string, err error)
	CancelOrderWS(creds types.CredentialSet, req CancelRequest) (frame any, requestID string, err error)
	ModifyOrderWS(creds types.CredentialSet, req ModifyRequest) (frame any, requestID string, err error)
	QueryOrderWS(creds types.CredentialSet, req CancelRequest) (frame any, requestID string, err error)
	// ParseTradingResponse normalizes one trading-stream reply frame into
	// an OrderReport, keyed the same way ParseUserEvent is so the Router's
	// existing correlation table needs no WS-specific branch.
	ParseTradingResponse(raw []byte) (*types.OrderReport, error)

	AccountInfo(ctx context.Context, creds types.CredentialSet) (map[string]any, error)
	Balances(ctx context.Context, creds types.CredentialSet) (map[string]any, error)
	Positions(ctx context.Context, creds types.CredentialSet) (map[string]any, error)
	SetLeverage(ctx context.Context, creds types.CredentialSet, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, creds types.CredentialSet, symbol, mode string) error
	SetPositionMode(ctx context.Context, creds types.CredentialSet, hedgeMode bool) error

	CreateListenKey(ctx context.Context, creds types.CredentialSet) (string, error)
	KeepaliveListenKey(ctx context.Context, creds types.CredentialSet, key string) error

	StreamURL(variant types.MarketVariant, stream types.Channel) string
	SubscribeFrame(channel types.Channel, symbol, interval string) any
	UnsubscribeFrame(channel types.Channel, symbol, interval string) any
	ParseFrame(raw []byte) (*types.MarketFrame, error)
	ParseUserEvent(raw []byte) (*types.OrderReport, error)
}

// RequireCapability returns a CAPABILITY_UNSUPPORTED AdmissionError if cap is
// not present in have. Adapters call this before any network I/O.
func RequireCapability(have, want types.Capability, op string) error {
	if have&want == 0 {
		return errs.NewAdmissionError(errs.CodeCapabilityUnsupported, op+" is not supported for this variant")
	}
	return nil
}
