// Package binance implements the Trading Core's Binance adapter (component
// D): spot and USDT-margined perpetual variants, no passphrase, signed via
// X-MBX-APIKEY header + query-string HMAC.
//
// Grounded on the teacher's CLOB Client shape (internal/exchange/client.go)
// for the REST/rate-limit/dry-run wiring, and on the retrieved Binance
// USDT-M futures reference client
// (other_examples/0d3cc915_monjeychiang-DES-V2...futures_usdt-client.go)
// for the endpoint table and listen-key idiom.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"tradingcore/internal/exchange"
	"tradingcore/internal/ratelimit"
	"tradingcore/internal/restclient"
	"tradingcore/internal/signer"
	"tradingcore/pkg/errs"
	"tradingcore/pkg/types"
)

const (
	spotMainBase  = "https://api.binance.com"
	spotTestBase  = "https://testnet.binance.vision"
	perpMainBase  = "https://fapi.binance.com"
	perpTestBase  = "https://testnet.binancefuture.com"

	spotMarketWS  = "wss://stream.binance.com:9443/ws"
	perpMarketWS  = "wss://fstream.binance.com/ws"
	perpUserWS    = "wss://fstream.binance.com/ws"
	spotTradingWS = "wss://ws-api.binance.com:443/ws-api/v3"
	perpTradingWS = "wss://fstream-auth.binance.com/ws-fapi/v1"
)

// capabilities per variant, per §4.D / §9 "hidden coupling across venues".
var variantCapabilities = map[types.MarketVariant]types.Capability{
	types.Spot:     types.CapSpotTrading | types.CapTradingStream,
	types.USDTPerp: types.CapFuturesTrading | types.CapFundingRate | types.CapBatchPlace | types.CapPositions | types.CapTradingStream,
}

// Adapter implements exchange.Adapter for Binance spot and USDT perpetuals.
type Adapter struct {
	variant   types.MarketVariant
	isTestnet bool
	rest      *restclient.Client
	rl        *ratelimit.Limiter
	baseURL   string
}

// New builds a Binance adapter for one variant/testnet combination. proxyURL
// may be empty.
func New(variant types.MarketVariant, isTestnet bool, proxyURL string, rl *ratelimit.Limiter) (*Adapter, error) {
	base, err := baseURL(variant, isTestnet)
	if err != nil {
		return nil, err
	}
	rest, err := restclient.New(base, proxyURL)
	if err != nil {
		return nil, err
	}
	return &Adapter{variant: variant, isTestnet: isTestnet, rest: rest, rl: rl, baseURL: base}, nil
}

func baseURL(variant types.MarketVariant, isTestnet bool) (string, error) {
	switch variant {
	case types.Spot:
		if isTestnet {
			return spotTestBase, nil
		}
		return spotMainBase, nil
	case types.USDTPerp:
		if isTestnet {
			return perpTestBase, nil
		}
		return perpMainBase, nil
	default:
		return "", fmt.Errorf("binance: unsupported variant %s", variant)
	}
}

func (a *Adapter) Venue() types.Venue               { return types.Binance }
func (a *Adapter) Variant() types.MarketVariant     { return a.variant }
func (a *Adapter) Capabilities() types.Capability   { return variantCapabilities[a.variant] }

func (a *Adapter) path(spot, perp string) string {
	if a.variant == types.Spot {
		return spot
	}
	return perp
}

func (a *Adapter) ConnectivityCheck(ctx context.Context) (bool, error) {
	_, err := a.rest.Do(ctx, restclient.Request{Method: "GET", Path: a.path("/api/v3/ping", "/fapi/v1/ping")})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (a *Adapter) ServerTimeMS(ctx context.Context) (int64, error) {
	resp, err := a.rest.Do(ctx, restclient.Request{Method: "GET", Path: a.path("/api/v3/time", "/fapi/v1/time")})
	if err != nil {
		return 0, err
	}
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return 0, &errs.ProtocolError{Reason: "server time: " + err.Error()}
	}
	return out.ServerTime, nil
}

func (a *Adapter) Depth(ctx context.Context, symbol string, depthN int) (*types.BookSnapshot, error) {
	resp, err := a.rest.Do(ctx, restclient.Request{
		Method: "GET",
		Path:   a.path("/api/v3/depth", "/fapi/v1/depth"),
		Query:  map[string]string{"symbol": symbol, "limit": strconv.Itoa(depthN)},
	})
	if err != nil {
		return nil, err
	}
	var raw struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, &errs.ProtocolError{Reason: "depth: " + err.Error()}
	}
	return normalizeDepth(symbol, raw.Bids, raw.Asks, fmt.Sprintf("top%d", depthN)), nil
}

func (a *Adapter) RecentTrades(ctx context.Context, symbol string, n int) ([]types.Trade, error) {
	resp, err := a.rest.Do(ctx, restclient.Request{
		Method: "GET",
		Path:   a.path("/api/v3/trades", "/fapi/v1/trades"),
		Query:  map[string]string{"symbol": symbol, "limit": strconv.Itoa(n)},
	})
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID       int64  `json:"id"`
		Price    string `json:"price"`
		Qty      string `json:"qty"`
		Time     int64  `json:"time"`
		IsBuyerM bool   `json:"isBuyerMaker"`
	}
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, &errs.ProtocolError{Reason: "trades: " + err.Error()}
	}
	out := make([]types.Trade, 0, len(raw))
	for _, t := range raw {
		out = append(out, types.Trade{
			Symbol:  symbol,
			TradeID: strconv.FormatInt(t.ID, 10),
			TS:      t.Time,
			Price:   decimalOrZero(t.Price),
			Qty:     decimalOrZero(t.Qty),
			Side:    aggressorSide(t.IsBuyerM),
		})
	}
	return out, nil
}

func (a *Adapter) Klines(ctx context.Context, symbol, interval string, startMS, endMS int64, n int) ([]types.Kline, error) {
	query := map[string]string{"symbol": symbol, "interval": interval, "limit": strconv.Itoa(n)}
	if startMS > 0 {
		query["startTime"] = strconv.FormatInt(startMS, 10)
	}
	if endMS > 0 {
		query["endTime"] = strconv.FormatInt(endMS, 10)
	}
	resp, err := a.rest.Do(ctx, restclient.Request{Method: "GET", Path: a.path("/api/v3/klines", "/fapi/v1/klines"), Query: query})
	if err != nil {
		return nil, err
	}
	var raw [][]any
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, &errs.ProtocolError{Reason: "klines: " + err.Error()}
	}
	out := make([]types.Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		out = append(out, types.Kline{
			Symbol:   symbol,
			Interval: interval,
			OpenTS:   int64(row[0].(float64)),
			Open:     decimalOrZero(fmt.Sprint(row[1])),
			High:     decimalOrZero(fmt.Sprint(row[2])),
			Low:      decimalOrZero(fmt.Sprint(row[3])),
			Close:    decimalOrZero(fmt.Sprint(row[4])),
			Volume:   decimalOrZero(fmt.Sprint(row[5])),
			IsClosed: true,
		})
	}
	return out, nil
}

func (a *Adapter) Ticker24h(ctx context.Context, symbol string) (map[string]any, error) {
	query := map[string]string{}
	if symbol != "" {
		query["symbol"] = symbol
	}
	resp, err := a.rest.Do(ctx, restclient.Request{Method: "GET", Path: a.path("/api/v3/ticker/24hr", "/fapi/v1/ticker/24hr"), Query: query})
	if err != nil {
		return nil, err
	}
	return toMap(resp.Body)
}

func (a *Adapter) FundingRate(ctx context.Context, symbol string, n int) ([]types.FundingRate, error) {
	if err := exchange.RequireCapability(a.Capabilities(), types.CapFundingRate, "funding_rate"); err != nil {
		return nil, err
	}
	resp, err := a.rest.Do(ctx, restclient.Request{
		Method: "GET",
		Path:   "/fapi/v1/fundingRate",
		Query:  map[string]string{"symbol": symbol, "limit": strconv.Itoa(n)},
	})
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol      string `json:"symbol"`
		FundingRate string `json:"fundingRate"`
		FundingTime int64  `json:"fundingTime"`
	}
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, &errs.ProtocolError{Reason: "funding rate: " + err.Error()}
	}
	out := make([]types.FundingRate, 0, len(raw))
	for _, f := range raw {
		out = append(out, types.FundingRate{
			Symbol:      f.Symbol,
			FundingTime: f.FundingTime,
			Current:     decimalOrZero(f.FundingRate),
			Method:      "predicted",
		})
	}
	return out, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, creds types.CredentialSet, req exchange.OrderRequest) (*types.OrderReport, error) {
	if req.Type == types.TakeProfit || req.Type == types.TPLimit {
		if err := exchange.RequireCapability(a.Capabilities(), types.CapFuturesTrading, "place_order:"+string(req.Type)); err != nil {
			return nil, err
		}
	}
	if err := a.rl.Wait(ctx, string(types.Binance), ratelimit.CategoryOrder); err != nil {
		return nil, err
	}

	params := []signer.KV{
		{Key: "symbol", Value: req.Symbol},
		{Key: "side", Value: string(req.Side)},
		{Key: "type", Value: string(req.Type)},
		{Key: "quantity", Value: req.Qty},
		{Key: "newClientOrderId", Value: req.ClientOrderID},
	}
	if req.Price != "" {
		params = append(params, signer.KV{Key: "price", Value: req.Price}, signer.KV{Key: "timeInForce", Value: string(req.TIF)})
	}

	query, err := signer.New(creds).SignForm(params, signer.NowMS())
	if err != nil {
		return nil, err
	}

	resp, err := a.rest.Do(ctx, restclient.Request{
		Method:  "POST",
		Path:    a.path("/api/v3/order", "/fapi/v1/order") + "?" + query,
		Headers: apiKeyHeader(creds),
	})
	if err != nil {
		return toFailedReport(req.ClientOrderID, err), nil
	}

	var ack struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
	}
	if jsonErr := json.Unmarshal(resp.Body, &ack); jsonErr != nil || ack.OrderID == 0 {
		return toFailedReport(req.ClientOrderID, &errs.ProtocolError{Reason: "place_order: malformed acknowledgement"}), nil
	}

	return &types.OrderReport{
		Type:          types.ReportOrderUpdate,
		ClientOrderID: ack.ClientOrderID,
		VenueOrderID:  strconv.FormatInt(ack.OrderID, 10),
		Status:        mapOrderStatus(ack.Status),
	}, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, creds types.CredentialSet, req exchange.CancelRequest) (*types.OrderReport, error) {
	if err := a.rl.Wait(ctx, string(types.Binance), ratelimit.CategoryCancel); err != nil {
		return nil, err
	}
	params := []signer.KV{{Key: "symbol", Value: req.Symbol}}
	if req.ClientOrderID != "" {
		params = append(params, signer.KV{Key: "origClientOrderId", Value: req.ClientOrderID})
	} else {
		params = append(params, signer.KV{Key: "orderId", Value: req.VenueOrderID})
	}
	query, err := signer.New(creds).SignForm(params, signer.NowMS())
	if err != nil {
		return nil, err
	}
	resp, err := a.rest.Do(ctx, restclient.Request{
		Method:  "DELETE",
		Path:    a.path("/api/v3/order", "/fapi/v1/order") + "?" + query,
		Headers: apiKeyHeader(creds),
	})
	if err != nil {
		return toFailedReport(req.ClientOrderID, err), nil
	}
	var ack struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
	}
	json.Unmarshal(resp.Body, &ack)
	return &types.OrderReport{
		Type:          types.ReportCancelResult,
		ClientOrderID: ack.ClientOrderID,
		VenueOrderID:  strconv.FormatInt(ack.OrderID, 10),
		Status:        mapOrderStatus(ack.Status),
	}, nil
}

func (a *Adapter) CancelAll(ctx context.Context, creds types.CredentialSet, symbol string) (*types.OrderReport, error) {
	if err := a.rl.Wait(ctx, string(types.Binance), ratelimit.CategoryCancel); err != nil {
		return nil, err
	}
	query, err := signer.New(creds).SignForm([]signer.KV{{Key: "symbol", Value: symbol}}, signer.NowMS())
	if err != nil {
		return nil, err
	}
	_, err = a.rest.Do(ctx, restclient.Request{
		Method:  "DELETE",
		Path:    a.path("/api/v3/openOrders", "/fapi/v1/allOpenOrders") + "?" + query,
		Headers: apiKeyHeader(creds),
	})
	if err != nil {
		return toFailedReport("", err), nil
	}
	return &types.OrderReport{Type: types.ReportBatchResult, Status: types.StateCancelled}, nil
}

func (a *Adapter) BatchPlace(ctx context.Context, creds types.CredentialSet, reqs []exchange.OrderRequest) ([]types.OrderReport, error) {
	if err := exchange.RequireCapability(a.Capabilities(), types.CapBatchPlace, "batch_place"); err != nil {
		return nil, err
	}
	if len(reqs) > 20 {
		return nil, errs.NewAdmissionError(errs.CodeOverflow, "batch_place accepts at most 20 orders")
	}
	out := make([]types.OrderReport, 0, len(reqs))
	for _, r := range reqs {
		report, err := a.PlaceOrder(ctx, creds, r)
		if err != nil {
			return nil, err
		}
		out = append(out, *report)
	}
	return out, nil
}

func (a *Adapter) QueryOrder(ctx context.Context, creds types.CredentialSet, req exchange.CancelRequest) (*types.Order, error) {
	params := []signer.KV{{Key: "symbol", Value: req.Symbol}}
	if req.ClientOrderID != "" {
		params = append(params, signer.KV{Key: "origClientOrderId", Value: req.ClientOrderID})
	} else {
		params = append(params, signer.KV{Key: "orderId", Value: req.VenueOrderID})
	}
	query, err := signer.New(creds).SignForm(params, signer.NowMS())
	if err != nil {
		return nil, err
	}
	resp, err := a.rest.Do(ctx, restclient.Request{
		Method:  "GET",
		Path:    a.path("/api/v3/order", "/fapi/v1/order") + "?" + query,
		Headers: apiKeyHeader(creds),
	})
	if err != nil {
		return nil, err
	}
	return parseOrder(resp.Body)
}

func (a *Adapter) OpenOrders(ctx context.Context, creds types.CredentialSet, symbol string) ([]types.Order, error) {
	return a.listOrders(ctx, creds, a.path("/api/v3/openOrders", "/fapi/v1/openOrders"), symbol, 0)
}

func (a *Adapter) AllOrders(ctx context.Context, creds types.CredentialSet, symbol string, n int) ([]types.Order, error) {
	return a.listOrders(ctx, creds, a.path("/api/v3/allOrders", "/fapi/v1/allOrders"), symbol, n)
}

func (a *Adapter) listOrders(ctx context.Context, creds types.CredentialSet, path, symbol string, n int) ([]types.Order, error) {
	params := []signer.KV{}
	if symbol != "" {
		params = append(params, signer.KV{Key: "symbol", Value: symbol})
	}
	if n > 0 {
		params = append(params, signer.KV{Key: "limit", Value: strconv.Itoa(n)})
	}
	query, err := signer.New(creds).SignForm(params, signer.NowMS())
	if err != nil {
		return nil, err
	}
	resp, err := a.rest.Do(ctx, restclient.Request{Method: "GET", Path: path + "?" + query, Headers: apiKeyHeader(creds)})
	if err != nil {
		return nil, err
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, &errs.ProtocolError{Reason: "order list: " + err.Error()}
	}
	out := make([]types.Order, 0, len(raw))
	for _, r := range raw {
		o, err := parseOrder(r)
		if err != nil {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

// buildTradingParams assembles the common apiKey/timestamp pair every WS
// trading request needs, signs with SignWSParams's sorted-key
// canonicalization, and returns the full params map including "signature"
// (§4.A.2, §6).
func buildTradingParams(creds types.CredentialSet, fields map[string]string) (map[string]string, error) {
	params := make(map[string]string, len(fields)+2)
	for k, v := range fields {
		if v != "" {
			params[k] = v
		}
	}
	params["apiKey"] = creds.APIKey
	params["timestamp"] = strconv.FormatInt(signer.NowMS(), 10)

	sig, err := signer.New(creds).SignWSParams(params)
	if err != nil {
		return nil, err
	}
	params["signature"] = sig
	return params, nil
}

// PlaceOrderWS builds the order.place trading-stream request (§4.D, §6).
// requestID mirrors ClientOrderID so the eventual ParseTradingResponse
// reply correlates through the Router's existing CorrelateUserEvent path.
func (a *Adapter) PlaceOrderWS(creds types.CredentialSet, req exchange.OrderRequest) (any, string, error) {
	if err := exchange.RequireCapability(a.Capabilities(), types.CapTradingStream, "place_order_ws"); err != nil {
		return nil, "", err
	}
	fields := map[string]string{
		"symbol": req.Symbol, "side": string(req.Side), "type": string(req.Type),
		"quantity": req.Qty, "newClientOrderId": req.ClientOrderID,
	}
	if req.Price != "" {
		fields["price"] = req.Price
		fields["timeInForce"] = string(req.TIF)
	}
	params, err := buildTradingParams(creds, fields)
	if err != nil {
		return nil, "", err
	}
	return map[string]any{"id": req.ClientOrderID, "method": "order.place", "params": params}, req.ClientOrderID, nil
}

// CancelOrderWS builds the order.cancel trading-stream request.
func (a *Adapter) CancelOrderWS(creds types.CredentialSet, req exchange.CancelRequest) (any, string, error) {
	if err := exchange.RequireCapability(a.Capabilities(), types.CapTradingStream, "cancel_order_ws"); err != nil {
		return nil, "", err
	}
	fields := map[string]string{"symbol": req.Symbol}
	if req.ClientOrderID != "" {
		fields["origClientOrderId"] = req.ClientOrderID
	} else {
		fields["orderId"] = req.VenueOrderID
	}
	params, err := buildTradingParams(creds, fields)
	if err != nil {
		return nil, "", err
	}
	id := tradingRequestID(req.ClientOrderID, req.VenueOrderID)
	return map[string]any{"id": id, "method": "order.cancel", "params": params}, id, nil
}

// ModifyOrderWS builds the order.modify trading-stream request (§4.D).
func (a *Adapter) ModifyOrderWS(creds types.CredentialSet, req exchange.ModifyRequest) (any, string, error) {
	if err := exchange.RequireCapability(a.Capabilities(), types.CapTradingStream, "modify_order_ws"); err != nil {
		return nil, "", err
	}
	fields := map[string]string{"symbol": req.Symbol, "quantity": req.Qty, "price": req.Price}
	if req.ClientOrderID != "" {
		fields["origClientOrderId"] = req.ClientOrderID
	} else {
		fields["orderId"] = req.VenueOrderID
	}
	params, err := buildTradingParams(creds, fields)
	if err != nil {
		return nil, "", err
	}
	id := tradingRequestID(req.ClientOrderID, req.VenueOrderID)
	return map[string]any{"id": id, "method": "order.modify", "params": params}, id, nil
}

// QueryOrderWS builds the order.status trading-stream request.
func (a *Adapter) QueryOrderWS(creds types.CredentialSet, req exchange.CancelRequest) (any, string, error) {
	if err := exchange.RequireCapability(a.Capabilities(), types.CapTradingStream, "query_order_ws"); err != nil {
		return nil, "", err
	}
	fields := map[string]string{"symbol": req.Symbol}
	if req.ClientOrderID != "" {
		fields["origClientOrderId"] = req.ClientOrderID
	} else {
		fields["orderId"] = req.VenueOrderID
	}
	params, err := buildTradingParams(creds, fields)
	if err != nil {
		return nil, "", err
	}
	id := tradingRequestID(req.ClientOrderID, req.VenueOrderID)
	return map[string]any{"id": id, "method": "order.status", "params": params}, id, nil
}

func tradingRequestID(clientOrderID, venueOrderID string) string {
	if clientOrderID != "" {
		return clientOrderID
	}
	return venueOrderID
}

// ParseTradingResponse normalizes one order.place/cancel/modify/status
// reply into an OrderReport. A non-zero error code maps to StateRejected
// rather than StateFailed — the venue rejected the request itself, as
// opposed to a transport failure (§4.D).
func (a *Adapter) ParseTradingResponse(raw []byte) (*types.OrderReport, error) {
	var envelope struct {
		ID     string `json:"id"`
		Status int    `json:"status"`
		Result struct {
			Symbol        string `json:"symbol"`
			OrderID       int64  `json:"orderId"`
			ClientOrderID string `json:"clientOrderId"`
			Status        string `json:"status"`
			ExecutedQty   string `json:"executedQty"`
		} `json:"result"`
		Error struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &errs.ProtocolError{Reason: "malformed trading response: " + err.Error()}
	}

	if envelope.Status >= 400 || envelope.Error.Code != 0 {
		return &types.OrderReport{
			Type:          types.ReportOrderUpdate,
			ClientOrderID: envelope.ID,
			Status:        types.StateRejected,
			ErrorCode:     strconv.Itoa(envelope.Error.Code),
			ErrorMsg:      envelope.Error.Msg,
		}, nil
	}

	clientID := envelope.Result.ClientOrderID
	if clientID == "" {
		clientID = envelope.ID
	}
	return &types.OrderReport{
		Type:          types.ReportOrderUpdate,
		ClientOrderID: clientID,
		VenueOrderID:  strconv.FormatInt(envelope.Result.OrderID, 10),
		Status:        mapOrderStatus(envelope.Result.Status),
		FilledQty:     decimalOrZero(envelope.Result.ExecutedQty),
	}, nil
}

func (a *Adapter) AccountInfo(ctx context.Context, creds types.CredentialSet) (map[string]any, error) {
	return a.signedGet(ctx, creds, a.path("/api/v3/account", "/fapi/v2/account"))
}

func (a *Adapter) Balances(ctx context.Context, creds types.CredentialSet) (map[string]any, error) {
	return a.signedGet(ctx, creds, a.path("/api/v3/account", "/fapi/v2/balance"))
}

func (a *Adapter) Positions(ctx context.Context, creds types.CredentialSet) (map[string]any, error) {
	if err := exchange.RequireCapability(a.Capabilities(), types.CapPositions, "positions"); err != nil {
		return nil, err
	}
	return a.signedGet(ctx, creds, "/fapi/v2/positionRisk")
}

func (a *Adapter) SetLeverage(ctx context.Context, creds types.CredentialSet, symbol string, leverage int) error {
	if err := exchange.RequireCapability(a.Capabilities(), types.CapFuturesTrading, "set_leverage"); err != nil {
		return err
	}
	query, err := signer.New(creds).SignForm([]signer.KV{
		{Key: "symbol", Value: symbol}, {Key: "leverage", Value: strconv.Itoa(leverage)},
	}, signer.NowMS())
	if err != nil {
		return err
	}
	_, err = a.rest.Do(ctx, restclient.Request{Method: "POST", Path: "/fapi/v1/leverage?" + query, Headers: apiKeyHeader(creds)})
	return err
}

func (a *Adapter) SetMarginMode(ctx context.Context, creds types.CredentialSet, symbol, mode string) error {
	if err := exchange.RequireCapability(a.Capabilities(), types.CapFuturesTrading, "set_margin_mode"); err != nil {
		return err
	}
	query, err := signer.New(creds).SignForm([]signer.KV{
		{Key: "symbol", Value: symbol}, {Key: "marginType", Value: strings.ToUpper(mode)},
	}, signer.NowMS())
	if err != nil {
		return err
	}
	_, err = a.rest.Do(ctx, restclient.Request{Method: "POST", Path: "/fapi/v1/marginType?" + query, Headers: apiKeyHeader(creds)})
	return err
}

func (a *Adapter) SetPositionMode(ctx context.Context, creds types.CredentialSet, hedgeMode bool) error {
	if err := exchange.RequireCapability(a.Capabilities(), types.CapFuturesTrading, "set_position_mode"); err != nil {
		return err
	}
	query, err := signer.New(creds).SignForm([]signer.KV{
		{Key: "dualSidePosition", Value: strconv.FormatBool(hedgeMode)},
	}, signer.NowMS())
	if err != nil {
		return err
	}
	_, err = a.rest.Do(ctx, restclient.Request{Method: "POST", Path: "/fapi/v1/positionSide/dual?" + query, Headers: apiKeyHeader(creds)})
	return err
}

func (a *Adapter) CreateListenKey(ctx context.Context, creds types.CredentialSet) (string, error) {
	resp, err := a.rest.Do(ctx, restclient.Request{
		Method:  "POST",
		Path:    a.path("/api/v3/userDataStream", "/fapi/v1/listenKey"),
		Headers: apiKeyHeader(creds),
	})
	if err != nil {
		return "", err
	}
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", &errs.ProtocolError{Reason: "listen key: " + err.Error()}
	}
	return out.ListenKey, nil
}

func (a *Adapter) KeepaliveListenKey(ctx context.Context, creds types.CredentialSet, key string) error {
	_, err := a.rest.Do(ctx, restclient.Request{
		Method:  "PUT",
		Path:    a.path("/api/v3/userDataStream", "/fapi/v1/listenKey"),
		Query:   map[string]string{"listenKey": key},
		Headers: apiKeyHeader(creds),
	})
	return err
}

func (a *Adapter) StreamURL(variant types.MarketVariant, stream types.Channel) string {
	if stream == types.ChanUserData {
		if variant == types.Spot {
			return spotMarketWS
		}
		return perpUserWS
	}
	if stream == types.ChanTrading {
		if variant == types.Spot {
			return spotTradingWS
		}
		return perpTradingWS
	}
	if variant == types.Spot {
		return spotMarketWS
	}
	return perpMarketWS
}

func (a *Adapter) SubscribeFrame(channel types.Channel, symbol, interval string) any {
	return map[string]any{"method": "SUBSCRIBE", "params": []string{streamName(channel, symbol, interval)}, "id": signer.NowMS()}
}

func (a *Adapter) UnsubscribeFrame(channel types.Channel, symbol, interval string) any {
	return map[string]any{"method": "UNSUBSCRIBE", "params": []string{streamName(channel, symbol, interval)}, "id": signer.NowMS()}
}

func streamName(channel types.Channel, symbol, interval string) string {
	lowerSym := strings.ToLower(symbol)
	switch channel {
	case types.ChanKline:
		return lowerSym + "@kline_" + interval
	case types.ChanTrade:
		return lowerSym + "@trade"
	case types.ChanBook:
		return lowerSym + "@depth20@100ms"
	default:
		return lowerSym + "@" + string(channel)
	}
}

func (a *Adapter) ParseFrame(raw []byte) (*types.MarketFrame, error) {
	var envelope struct {
		EventType string `json:"e"`
		Stream    string `json:"stream"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &errs.ProtocolError{Reason: "malformed market frame: " + err.Error()}
	}

	switch envelope.EventType {
	case "kline":
		var evt struct {
			Symbol string `json:"s"`
			K      struct {
				OpenTS   int64  `json:"t"`
				Interval string `json:"i"`
				Open     string `json:"o"`
				High     string `json:"h"`
				Low      string `json:"l"`
				Close    string `json:"c"`
				Volume   string `json:"v"`
				Closed   bool   `json:"x"`
			} `json:"k"`
		}
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, &errs.ProtocolError{Reason: "kline: " + err.Error()}
		}
		return &types.MarketFrame{Type: types.FrameKline, Venue: types.Binance, Kline: &types.Kline{
			Symbol: evt.Symbol, Interval: evt.K.Interval, OpenTS: evt.K.OpenTS,
			Open: decimalOrZero(evt.K.Open), High: decimalOrZero(evt.K.High),
			Low: decimalOrZero(evt.K.Low), Close: decimalOrZero(evt.K.Close),
			Volume: decimalOrZero(evt.K.Volume), IsClosed: evt.K.Closed,
		}}, nil

	case "trade":
		var evt struct {
			Symbol   string `json:"s"`
			TradeID  int64  `json:"t"`
			Price    string `json:"p"`
			Qty      string `json:"q"`
			TS       int64  `json:"T"`
			IsBuyerM bool   `json:"m"`
		}
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, &errs.ProtocolError{Reason: "trade: " + err.Error()}
		}
		return &types.MarketFrame{Type: types.FrameTrade, Venue: types.Binance, Trade: &types.Trade{
			Symbol: evt.Symbol, TradeID: strconv.FormatInt(evt.TradeID, 10), TS: evt.TS,
			Price: decimalOrZero(evt.Price), Qty: decimalOrZero(evt.Qty), Side: aggressorSide(evt.IsBuyerM),
		}}, nil

	case "depthUpdate":
		var evt struct {
			Symbol string      `json:"s"`
			TS     int64       `json:"E"`
			Bids   [][2]string `json:"b"`
			Asks   [][2]string `json:"a"`
		}
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, &errs.ProtocolError{Reason: "depth update: " + err.Error()}
		}
		frame := types.MarketFrame{Type: types.FrameBook, Venue: types.Binance, Book: normalizeDepth(evt.Symbol, evt.Bids, evt.Asks, "diff")}
		frame.Book.TS = evt.TS
		return &frame, nil

	default:
		return nil, &errs.ProtocolError{Reason: "unknown frame event type: " + envelope.EventType}
	}
}

func (a *Adapter) ParseUserEvent(raw []byte) (*types.OrderReport, error) {
	var envelope struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &errs.ProtocolError{Reason: "malformed user event: " + err.Error()}
	}
	if envelope.EventType != "ORDER_TRADE_UPDATE" && envelope.EventType != "executionReport" {
		return nil, &errs.ProtocolError{Reason: "unhandled user event type: " + envelope.EventType}
	}

	var evt struct {
		Order struct {
			ClientOrderID string `json:"c"`
			OrderID       int64  `json:"i"`
			Status        string `json:"X"`
			FilledQty     string `json:"z"`
			AvgPrice      string `json:"ap"`
		} `json:"o"`
		ClientOrderIDFlat string `json:"c"`
		OrderIDFlat       int64  `json:"i"`
		StatusFlat        string `json:"X"`
		FilledQtyFlat     string `json:"z"`
	}
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, &errs.ProtocolError{Reason: "order update: " + err.Error()}
	}

	clientID, venueID, status, filled := evt.Order.ClientOrderID, evt.Order.OrderID, evt.Order.Status, evt.Order.FilledQty
	if clientID == "" {
		clientID, venueID, status, filled = evt.ClientOrderIDFlat, evt.OrderIDFlat, evt.StatusFlat, evt.FilledQtyFlat
	}

	return &types.OrderReport{
		Type:          types.ReportOrderUpdate,
		ClientOrderID: clientID,
		VenueOrderID:  strconv.FormatInt(venueID, 10),
		Status:        mapOrderStatus(status),
		FilledQty:     decimalOrZero(filled),
	}, nil
}

func apiKeyHeader(creds types.CredentialSet) map[string]string {
	return map[string]string{"X-MBX-APIKEY": creds.APIKey}
}
