// Package types defines the common vocabulary shared by every layer of the
// Trading Core: venue/variant identifiers, normalized market frames, the
// order lifecycle, and the envelopes exchanged over the IPC broker. It has
// no dependency on any internal package so it can be imported from the
// exchange adapters, the market cache, the router and the IPC layer alike.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Venue / variant
// ————————————————————————————————————————————————————————————————————————

// Venue identifies an exchange the Core speaks to.
type Venue string

const (
	Binance Venue = "binance"
	OKX     Venue = "okx"
)

// MarketVariant distinguishes spot from margined futures. It changes
// endpoints, symbol conventions and capabilities.
type MarketVariant string

const (
	Spot      MarketVariant = "SPOT"
	USDTPerp  MarketVariant = "USDT_PERP"
	CoinPerp  MarketVariant = "COIN_PERP"
)

// Capability is a bit in a per-(adapter,variant) capability bitmap. An
// operation that is not advertised fails fast with CAPABILITY_UNSUPPORTED
// before any network I/O is attempted.
type Capability uint32

const (
	CapSpotTrading Capability = 1 << iota
	CapFuturesTrading
	CapFundingRate
	CapBatchPlace
	CapPositions
	CapTradingStream
)

// ————————————————————————————————————————————————————————————————————————
// Identity: strategy / account / contacts / risk
// ————————————————————————————————————————————————————————————————————————

// CredentialSet holds the API key triplet used to authenticate REST and
// WebSocket requests. Passphrase is required for venues that use it (OKX)
// and forbidden for venues that don't (Binance); the Registry enforces this
// on load.
type CredentialSet struct {
	APIKey     string `json:"api_key"`
	Secret     string `json:"secret_key"`
	Passphrase string `json:"passphrase,omitempty"`
}

// Account binds one credential set to one venue/variant. At most one live
// user-data stream exists per (venue, account) at any time — the Supervisor
// enforces this.
type Account struct {
	Venue         Venue         `json:"exchange"`
	MarketVariant MarketVariant `json:"market,omitempty"`
	Credentials   CredentialSet `json:"-"`
	IsTestnet     bool          `json:"is_testnet"`
	ProxyURL      string        `json:"proxy,omitempty"`
}

// Contact is a single notification target for a strategy's operators.
type Contact struct {
	Name    string            `json:"name"`
	Channel map[string]string `json:"channel"`
}

// RiskConfig is denormalized, read-only metadata the Core stores and
// exposes. The Core enforces it only at admission time (per-order cap,
// order rate); deeper enforcement is the strategy's and the risk plane's
// responsibility.
type RiskConfig struct {
	MaxPositionValue decimal.Decimal `json:"max_position_value"`
	MaxDailyLoss     decimal.Decimal `json:"max_daily_loss"`
	PerOrderCap      decimal.Decimal `json:"per_order_cap"`
	OrderRatePerSec  float64         `json:"order_rate_per_sec"`
}

// Strategy is a logical identity bound to one Account for its lifetime.
type Strategy struct {
	ID            string         `json:"strategy_id"`
	DisplayName   string         `json:"strategy_name"`
	Kind          string         `json:"strategy_type"`
	Enabled       bool           `json:"enabled"`
	Account       Account        `json:"-"`
	Contacts      []Contact      `json:"contacts"`
	Risk          RiskConfig     `json:"risk_control"`
	MarketStreams []MarketStream `json:"market_streams,omitempty"`
	Params        map[string]any `json:"params,omitempty"`
}

// MarketStream is one market-data feed a strategy wants subscribed on its
// venue — the config-driven source of the Supervisor's SubscriptionSet
// (§4.I: replayed verbatim on reconnect). A strategy with no streams
// configured still gets its venue's connection; it just never asks the
// venue to push anything down it.
type MarketStream struct {
	Channel  Channel `json:"channel"`
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval,omitempty"`
}

// InstrumentRef identifies a tradable instrument on one venue. The Core
// never translates symbols across venues — CanonicalSymbol is whatever
// string the venue itself uses.
type InstrumentRef struct {
	Venue          Venue         `json:"venue"`
	MarketVariant  MarketVariant `json:"market_variant"`
	CanonicalSymbol string       `json:"symbol"`
}

// ————————————————————————————————————————————————————————————————————————
// Market frames
// ————————————————————————————————————————————————————————————————————————

// FrameType discriminates the MarketFrame sum type on the wire.
type FrameType string

const (
	FrameKline       FrameType = "kline"
	FrameTrade       FrameType = "trade"
	FrameBook        FrameType = "orderbook"
	FrameFundingRate FrameType = "funding_rate"
)

// Kline is one candle. IsClosed is false while the candle is still being
// updated within its interval; an adapter/cache must coalesce updates by
// OpenTS and only promote to a new slot when OpenTS advances.
type Kline struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	OpenTS   int64           `json:"open_ts"`
	Open     decimal.Decimal `json:"o"`
	High     decimal.Decimal `json:"h"`
	Low      decimal.Decimal `json:"l"`
	Close    decimal.Decimal `json:"c"`
	Volume   decimal.Decimal `json:"v"`
	IsClosed bool            `json:"is_closed"`
}

// Trade is a single executed print. Side always reflects the aggressor
// (taker), normalized at the adapter boundary so downstream consumers never
// have to reason about venue-specific maker/taker flag naming.
type Trade struct {
	Symbol  string          `json:"symbol"`
	TradeID string          `json:"trade_id"`
	TS      int64           `json:"ts"`
	Price   decimal.Decimal `json:"price"`
	Qty     decimal.Decimal `json:"qty"`
	Side    Side            `json:"side"`
}

// PriceLevel is one (price, size) pair in an order book.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// BookSnapshot is a normalized order book view. Bids are ordered decreasing
// in price, asks increasing. ChannelTag identifies the depth profile the
// frame came from (e.g. "top5@100ms", "top1@10ms", "full@100ms") so a
// top-N and a diff channel for the same symbol don't collide in the cache.
type BookSnapshot struct {
	Symbol     string          `json:"symbol"`
	TS         int64           `json:"ts"`
	Bids       []PriceLevel    `json:"bids"`
	Asks       []PriceLevel    `json:"asks"`
	BestBid    decimal.Decimal `json:"best_bid"`
	BestAsk    decimal.Decimal `json:"best_ask"`
	Mid        decimal.Decimal `json:"mid"`
	Spread     decimal.Decimal `json:"spread"`
	ChannelTag string          `json:"channel_tag"`
}

// FundingRate is a perpetual-futures funding snapshot. Unsupported on spot;
// adapters reject with CAPABILITY_UNSUPPORTED before transmission.
type FundingRate struct {
	Symbol            string          `json:"symbol"`
	TS                int64           `json:"ts"`
	Current           decimal.Decimal `json:"current"`
	NextPredicted     decimal.Decimal `json:"next_predicted"`
	FundingTime       int64           `json:"funding_time"`
	NextFundingTime   int64           `json:"next_funding_time"`
	Method            string          `json:"method"`
	SettleState       string          `json:"settle_state"`
}

// MarketFrame is the normalized envelope published on the IPC market
// channel and stored in the Market Cache. Exactly one of the typed fields
// is populated, matching Type.
type MarketFrame struct {
	Type        FrameType    `json:"type"`
	Venue       Venue        `json:"venue"`
	Kline       *Kline       `json:"kline,omitempty"`
	Trade       *Trade       `json:"trade,omitempty"`
	Book        *BookSnapshot `json:"orderbook,omitempty"`
	FundingRate *FundingRate `json:"funding_rate,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type OrderType string

const (
	Market      OrderType = "MARKET"
	Limit       OrderType = "LIMIT"
	Stop        OrderType = "STOP"
	StopLimit   OrderType = "STOP_LIMIT"
	TakeProfit  OrderType = "TAKE_PROFIT"
	TPLimit     OrderType = "TP_LIMIT"
	PostOnly    OrderType = "POST_ONLY"
)

type TimeInForce string

const (
	GTC      TimeInForce = "GTC"
	IOC      TimeInForce = "IOC"
	FOK      TimeInForce = "FOK"
	TIFPostOnly TimeInForce = "POST_ONLY"
)

// PositionSide distinguishes net-mode from hedge-mode (long/short) books,
// needed on variants like OKX perpetuals that support hedge mode.
type PositionSide string

const (
	PosNet   PositionSide = "NET"
	PosLong  PositionSide = "LONG"
	PosShort PositionSide = "SHORT"
)

// OrderState is the order lifecycle state machine (§3 of the spec):
//
//	NEW → SUBMITTED → (ACCEPTED → (PARTIAL ↻ | FILLED | CANCELLED)) | REJECTED | FAILED
type OrderState string

const (
	StateNew       OrderState = "NEW"
	StateSubmitted OrderState = "SUBMITTED"
	StateAccepted  OrderState = "ACCEPTED"
	StatePartial   OrderState = "PARTIAL"
	StateFilled    OrderState = "FILLED"
	StateCancelled OrderState = "CANCELLED"
	StateRejected  OrderState = "REJECTED"
	StateFailed    OrderState = "FAILED"
)

// Terminal reports whether o is a terminal state — retained for report
// correlation until the Router's retention TTL elapses.
func (s OrderState) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected, StateFailed:
		return true
	default:
		return false
	}
}

// Order is the Router's in-flight record for a single order request.
type Order struct {
	ClientOrderID string          `json:"client_order_id"`
	VenueOrderID  string          `json:"venue_order_id,omitempty"`
	StrategyID    string          `json:"strategy_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Type          OrderType       `json:"order_type"`
	TIF           TimeInForce     `json:"tif"`
	Qty           decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price,omitempty"`
	PosSide       PositionSide    `json:"pos_side,omitempty"`
	State         OrderState      `json:"state"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	AvgFillPrice  decimal.Decimal `json:"avg_fill_price"`
	Retryable     bool            `json:"retryable,omitempty"`
	ErrorCode     string          `json:"error_code,omitempty"`
	ErrorMsg      string          `json:"error_msg,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// OrderReportType discriminates the OrderReport sum type.
type OrderReportType string

const (
	ReportOrderUpdate     OrderReportType = "order_update"
	ReportCancelResult    OrderReportType = "cancel_result"
	ReportBatchResult     OrderReportType = "batch_result"
	ReportRegisterResult  OrderReportType = "register_result"
	ReportAccountUpdate   OrderReportType = "account_update"
	ReportPositionUpdate  OrderReportType = "position_update"
	ReportBalanceUpdate   OrderReportType = "balance_update"
)

// OrderReport is the normalized envelope published on the IPC reports
// channel, strategy-scoped: a strategy must never receive a report for a
// client_order_id it did not originate.
type OrderReport struct {
	Type          OrderReportType `json:"type"`
	StrategyID    string          `json:"strategy_id"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	VenueOrderID  string          `json:"venue_order_id,omitempty"`
	Status        OrderState      `json:"status"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	AvgFillPrice  decimal.Decimal `json:"avg_fill_price"`
	Fee           decimal.Decimal `json:"fee,omitempty"`
	ErrorCode     string          `json:"error_code,omitempty"`
	ErrorMsg      string          `json:"error_msg,omitempty"`
	TS            time.Time       `json:"ts"`
}

// ————————————————————————————————————————————————————————————————————————
// Subscriptions
// ————————————————————————————————————————————————————————————————————————

// Channel enumerates the streaming channel kinds an adapter exposes.
type Channel string

const (
	ChanKline       Channel = "kline"
	ChanTrade       Channel = "trade"
	ChanBook        Channel = "book"
	ChanFundingRate Channel = "funding_rate"
	ChanUserData    Channel = "user_data"
	ChanTrading     Channel = "trading"
)

// Subscription is set-valued per venue; the Supervisor replays the full set
// verbatim on reconnect.
type Subscription struct {
	StrategyID string  `json:"strategy_id"`
	Venue      Venue   `json:"venue"`
	Channel    Channel `json:"channel"`
	Symbol     string  `json:"symbol"`
	Interval   string  `json:"interval,omitempty"`
}

// Key returns the dedup key for a subscription set: the tuple that must be
// unique regardless of which strategy asked for it, since the underlying
// venue stream is shared.
func (s Subscription) Key() string {
	return string(s.Venue) + "|" + string(s.Channel) + "|" + s.Symbol + "|" + s.Interval
}
