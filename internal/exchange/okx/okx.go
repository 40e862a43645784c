// Package okx implements the Trading Core's OKX adapter (component D):
// USDT-margined perpetual variant only, passphrase required, signed via
// OK-ACCESS-* headers and a base64 HMAC digest over
// timestamp+method+path+body.
//
// Grounded on the teacher's CLOB Client shape for the REST/rate-limit
// wiring (internal/exchange/client.go), with the OKX-specific header set
// and hedge-mode position-side naming informed by the retrieved
// trading-core reference material's venue-table idiom.
package okx

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
	mainBase = "https://www.okx.com"
	marketWS = "wss://ws.okx.com:8443/ws/v5/public"
	privateWS = "wss://ws.okx.com:8443/ws/v5/private"
	tradingWS = "wss://ws.okx.com:8443/ws/v5/private"
)

var capabilities = types.CapFuturesTrading | types.CapFundingRate | types.CapBatchPlace | types.CapPositions | types.CapTradingStream

// Adapter implements exchange.Adapter for OKX USDT-margined perpetuals.
type Adapter struct {
	isTestnet bool
	rest      *restclient.Client
	rl        *ratelimit.Limiter
}

// New builds an OKX adapter. isTestnet selects the x-simulated-trading
// header rather than a distinct host, per OKX's own demo-trading contract.
func New(isTestnet bool, proxyURL string, rl *ratelimit.Limiter) (*Adapter, error) {
	rest, err := restclient.New(mainBase, proxyURL)
	if err != nil {
		return nil, err
	}
	return &Adapter{isTestnet: isTestnet, rest: rest, rl: rl}, nil
}

func (a *Adapter) Venue() types.Venue             { return types.OKX }
func (a *Adapter) Variant() types.MarketVariant    { return types.USDTPerp }
func (a *Adapter) Capabilities() types.Capability  { return capabilities }

func (a *Adapter) headers(creds types.CredentialSet, method, path, body string) (map[string]string, error) {
	if creds.Passphrase == "" {
		return nil, errs.NewAdmissionError(errs.CodeCredentialIncomplete, "okx requires a passphrase")
	}
	ts := okxTimestamp()
	mac := signer.New(creds).Base64HMAC(ts + method + path + body)
	h := map[string]string{
		"OK-ACCESS-KEY":        creds.APIKey,
		"OK-ACCESS-SIGN":       mac,
		"OK-ACCESS-TIMESTAMP":  ts,
		"OK-ACCESS-PASSPHRASE": creds.Passphrase,
		"Content-Type":         "application/json",
	}
	if a.isTestnet {
		h["x-simulated-trading"] = "1"
	}
	return h, nil
}

func (a *Adapter) ConnectivityCheck(ctx context.Context) (bool, error) {
	_, err := a.rest.Do(ctx, restclient.Request{Method: "GET", Path: "/api/v5/public/time"})
	return err == nil, err
}

func (a *Adapter) ServerTimeMS(ctx context.Context) (int64, error) {
	resp, err := a.rest.Do(ctx, restclient.Request{Method: "GET", Path: "/api/v5/public/time"})
	if err != nil {
		return 0, err
	}
	var out struct {
		Data []struct {
			Ts string `json:"ts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil || len(out.Data) == 0 {
		return 0, &errs.ProtocolError{Reason: "server time: malformed response"}
	}
	ms, _ := strconv.ParseInt(out.Data[0].Ts, 10, 64)
	return ms, nil
}

func (a *Adapter) Depth(ctx context.Context, symbol string, depthN int) (*types.BookSnapshot, error) {
	resp, err := a.rest.Do(ctx, restclient.Request{
		Method: "GET", Path: "/api/v5/market/books",
		Query: map[string]string{"instId": symbol, "sz": strconv.Itoa(depthN)},
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Data []struct {
			Bids [][]string `json:"bids"`
			Asks [][]string `json:"asks"`
			TS   string     `json:"ts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil || len(out.Data) == 0 {
		return nil, &errs.ProtocolError{Reason: "depth: malformed response"}
	}
	snap := normalizeBook(symbol, out.Data[0].Bids, out.Data[0].Asks, fmt.Sprintf("top%d", depthN))
	snap.TS, _ = strconv.ParseInt(out.Data[0].TS, 10, 64)
	return snap, nil
}

func (a *Adapter) RecentTrades(ctx context.Context, symbol string, n int) ([]types.Trade, error) {
	resp, err := a.rest.Do(ctx, restclient.Request{
		Method: "GET", Path: "/api/v5/market/trades",
		Query: map[string]string{"instId": symbol, "limit": strconv.Itoa(n)},
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Data []struct {
			TradeID string `json:"tradeId"`
			Px      string `json:"px"`
			Sz      string `json:"sz"`
			Side    string `json:"side"`
			TS      string `json:"ts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, &errs.ProtocolError{Reason: "trades: " + err.Error()}
	}
	trades := make([]types.Trade, 0, len(out.Data))
	for _, t := range out.Data {
		ts, _ := strconv.ParseInt(t.TS, 10, 64)
		trades = append(trades, types.Trade{
			Symbol: symbol, TradeID: t.TradeID, TS: ts,
			Price: decimalOrZero(t.Px), Qty: decimalOrZero(t.Sz),
			Side: takerSide(t.Side),
		})
	}
	return trades, nil
}

func (a *Adapter) Klines(ctx context.Context, symbol, interval string, startMS, endMS int64, n int) ([]types.Kline, error) {
	query := map[string]string{"instId": symbol, "bar": interval, "limit": strconv.Itoa(n)}
	if startMS > 0 {
		query["before"] = strconv.FormatInt(startMS, 10)
	}
	if endMS > 0 {
		query["after"] = strconv.FormatInt(endMS, 10)
	}
	resp, err := a.rest.Do(ctx, restclient.Request{Method: "GET", Path: "/api/v5/market/candles", Query: query})
	if err != nil {
		return nil, err
	}
	var out struct {
		Data [][]string `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, &errs.ProtocolError{Reason: "klines: " + err.Error()}
	}
	klines := make([]types.Kline, 0, len(out.Data))
	for _, row := range out.Data {
		if len(row) < 6 {
			continue
		}
		openTS, _ := strconv.ParseInt(row[0], 10, 64)
		klines = append(klines, types.Kline{
			Symbol: symbol, Interval: interval, OpenTS: openTS,
			Open: decimalOrZero(row[1]), High: decimalOrZero(row[2]),
			Low: decimalOrZero(row[3]), Close: decimalOrZero(row[4]),
			Volume: decimalOrZero(row[5]), IsClosed: true,
		})
	}
	return klines, nil
}

func (a *Adapter) Ticker24h(ctx context.Context, symbol string) (map[string]any, error) {
	resp, err := a.rest.Do(ctx, restclient.Request{Method: "GET", Path: "/api/v5/market/ticker", Query: map[string]string{"instId": symbol}})
	if err != nil {
		return nil, err
	}
	return toMap(resp.Body)
}

func (a *Adapter) FundingRate(ctx context.Context, symbol string, n int) ([]types.FundingRate, error) {
	resp, err := a.rest.Do(ctx, restclient.Request{Method: "GET", Path: "/api/v5/public/funding-rate", Query: map[string]string{"instId": symbol}})
	if err != nil {
		return nil, err
	}
	var out struct {
		Data []struct {
			FundingRate     string `json:"fundingRate"`
			NextFundingRate string `json:"nextFundingRate"`
			FundingTime     string `json:"fundingTime"`
			NextFundingTime string `json:"nextFundingTime"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, &errs.ProtocolError{Reason: "funding rate: " + err.Error()}
	}
	rates := make([]types.FundingRate, 0, len(out.Data))
	for _, f := range out.Data {
		fundingTime, _ := strconv.ParseInt(f.FundingTime, 10, 64)
		nextTime, _ := strconv.ParseInt(f.NextFundingTime, 10, 64)
		rates = append(rates, types.FundingRate{
			Symbol: symbol, Current: decimalOrZero(f.FundingRate), NextPredicted: decimalOrZero(f.NextFundingRate),
			FundingTime: fundingTime, NextFundingTime: nextTime, Method: "predicted",
		})
	}
	return rates, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, creds types.CredentialSet, req exchange.OrderRequest) (*types.OrderReport, error) {
	if err := a.rl.Wait(ctx, string(types.OKX), ratelimit.CategoryOrder); err != nil {
		return nil, err
	}
	body, err := json.Marshal(buildOrderBody(req))
	if err != nil {
		return nil, err
	}
	headers, err := a.headers(creds, "POST", "/api/v5/trade/order", string(body))
	if err != nil {
		return nil, err
	}
	resp, err := a.rest.Do(ctx, restclient.Request{Method: "POST", Path: "/api/v5/trade/order", Body: body, Headers: headers})
	if err != nil {
		return toFailedReport(req.ClientOrderID, err), nil
	}
	return parseOrderAck(resp.Body, req.ClientOrderID), nil
}

func (a *Adapter) CancelOrder(ctx context.Context, creds types.CredentialSet, req exchange.CancelRequest) (*types.OrderReport, error) {
	if err := a.rl.Wait(ctx, string(types.OKX), ratelimit.CategoryCancel); err != nil {
		return nil, err
	}
	payload := map[string]string{"instId": req.Symbol}
	if req.ClientOrderID != "" {
		payload["clOrdId"] = req.ClientOrderID
	} else {
		payload["ordId"] = req.VenueOrderID
	}
	body, _ := json.Marshal(payload)
	headers, err := a.headers(creds, "POST", "/api/v5/trade/cancel-order", string(body))
	if err != nil {
		return nil, err
	}
	resp, err := a.rest.Do(ctx, restclient.Request{Method: "POST", Path: "/api/v5/trade/cancel-order", Body: body, Headers: headers})
	if err != nil {
		return toFailedReport(req.ClientOrderID, err), nil
	}
	return parseOrderAck(resp.Body, req.ClientOrderID), nil
}

func (a *Adapter) CancelAll(ctx context.Context, creds types.CredentialSet, symbol string) (*types.OrderReport, error) {
	open, err := a.OpenOrders(ctx, creds, symbol)
	if err != nil {
		return nil, err
	}
	for _, o := range open {
		if _, err := a.CancelOrder(ctx, creds, exchange.CancelRequest{Symbol: o.Symbol, VenueOrderID: o.VenueOrderID}); err != nil {
			return nil, err
		}
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
	body, err := json.Marshal(func() []map[string]any {
		out := make([]map[string]any, 0, len(reqs))
		for _, r := range reqs {
			out = append(out, buildOrderBody(r))
		}
		return out
	}())
	if err != nil {
		return nil, err
	}
	headers, err := a.headers(creds, "POST", "/api/v5/trade/batch-orders", string(body))
	if err != nil {
		return nil, err
	}
	resp, err := a.rest.Do(ctx, restclient.Request{Method: "POST", Path: "/api/v5/trade/batch-orders", Body: body, Headers: headers})
	if err != nil {
		return nil, err
	}
	var out struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, &errs.ProtocolError{Reason: "batch_place: " + err.Error()}
	}
	reports := make([]types.OrderReport, 0, len(out.Data))
	for i, d := range out.Data {
		clientID := ""
		if i < len(reqs) {
			clientID = reqs[i].ClientOrderID
		}
		reports = append(reports, *parseOrderAck(d, clientID))
	}
	return reports, nil
}

func (a *Adapter) QueryOrder(ctx context.Context, creds types.CredentialSet, req exchange.CancelRequest) (*types.Order, error) {
	query := map[string]string{"instId": req.Symbol}
	if req.ClientOrderID != "" {
		query["clOrdId"] = req.ClientOrderID
	} else {
		query["ordId"] = req.VenueOrderID
	}
	headers, err := a.headers(creds, "GET", "/api/v5/trade/order", "")
	if err != nil {
		return nil, err
	}
	resp, err := a.rest.Do(ctx, restclient.Request{Method: "GET", Path: "/api/v5/trade/order", Query: query, Headers: headers})
	if err != nil {
		return nil, err
	}
	var out struct {
		Data []okxOrder `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil || len(out.Data) == 0 {
		return nil, &errs.ProtocolError{Reason: "query_order: malformed response"}
	}
	return out.Data[0].toOrder(), nil
}

func (a *Adapter) OpenOrders(ctx context.Context, creds types.CredentialSet, symbol string) ([]types.Order, error) {
	query := map[string]string{}
	if symbol != "" {
		query["instId"] = symbol
	}
	headers, err := a.headers(creds, "GET", "/api/v5/trade/orders-pending", "")
	if err != nil {
		return nil, err
	}
	resp, err := a.rest.Do(ctx, restclient.Request{Method: "GET", Path: "/api/v5/trade/orders-pending", Query: query, Headers: headers})
	if err != nil {
		return nil, err
	}
	return parseOrderList(resp.Body)
}

func (a *Adapter) AllOrders(ctx context.Context, creds types.CredentialSet, symbol string, n int) ([]types.Order, error) {
	query := map[string]string{"limit": strconv.Itoa(n)}
	if symbol != "" {
		query["instId"] = symbol
	}
	headers, err := a.headers(creds, "GET", "/api/v5/trade/orders-history", "")
	if err != nil {
		return nil, err
	}
	resp, err := a.rest.Do(ctx, restclient.Request{Method: "GET", Path: "/api/v5/trade/orders-history", Query: query, Headers: headers})
	if err != nil {
		return nil, err
	}
	return parseOrderList(resp.Body)
}

// buildTradingParams assembles the common apiKey/timestamp pair every WS
// trading request needs and signs with SignWSParams's sorted-key
// canonicalization (§4.A.2, §6) — the same universal shape Binance's
// trading stream uses, per the wire format both venues share on this
// channel.
func buildTradingParams(creds types.CredentialSet, fields map[string]string) (map[string]string, error) {
	params := make(map[string]string, len(fields)+2)
	for k, v := range fields {
		if v != "" {
			params[k] = v
		}
	}
	params["apiKey"] = creds.APIKey
	params["timestamp"] = okxTimestamp()

	sig, err := signer.New(creds).SignWSParams(params)
	if err != nil {
		return nil, err
	}
	params["signature"] = sig
	return params, nil
}

func tradingRequestID(clientOrderID, venueOrderID string) string {
	if clientOrderID != "" {
		return clientOrderID
	}
	return venueOrderID
}

// PlaceOrderWS builds the order.place trading-stream request.
func (a *Adapter) PlaceOrderWS(creds types.CredentialSet, req exchange.OrderRequest) (any, string, error) {
	if err := exchange.RequireCapability(a.Capabilities(), types.CapTradingStream, "place_order_ws"); err != nil {
		return nil, "", err
	}
	fields := map[string]string{
		"instId": req.Symbol, "side": strings.ToLower(string(req.Side)),
		"ordType": okxOrdType(req.Type, req.TIF), "sz": req.Qty, "clOrdId": req.ClientOrderID,
	}
	if req.Price != "" {
		fields["px"] = req.Price
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
	fields := map[string]string{"instId": req.Symbol}
	if req.ClientOrderID != "" {
		fields["clOrdId"] = req.ClientOrderID
	} else {
		fields["ordId"] = req.VenueOrderID
	}
	params, err := buildTradingParams(creds, fields)
	if err != nil {
		return nil, "", err
	}
	id := tradingRequestID(req.ClientOrderID, req.VenueOrderID)
	return map[string]any{"id": id, "method": "order.cancel", "params": params}, id, nil
}

// ModifyOrderWS builds the order.modify trading-stream request.
func (a *Adapter) ModifyOrderWS(creds types.CredentialSet, req exchange.ModifyRequest) (any, string, error) {
	if err := exchange.RequireCapability(a.Capabilities(), types.CapTradingStream, "modify_order_ws"); err != nil {
		return nil, "", err
	}
	fields := map[string]string{"instId": req.Symbol, "newSz": req.Qty, "newPx": req.Price}
	if req.ClientOrderID != "" {
		fields["clOrdId"] = req.ClientOrderID
	} else {
		fields["ordId"] = req.VenueOrderID
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
	fields := map[string]string{"instId": req.Symbol}
	if req.ClientOrderID != "" {
		fields["clOrdId"] = req.ClientOrderID
	} else {
		fields["ordId"] = req.VenueOrderID
	}
	params, err := buildTradingParams(creds, fields)
	if err != nil {
		return nil, "", err
	}
	id := tradingRequestID(req.ClientOrderID, req.VenueOrderID)
	return map[string]any{"id": id, "method": "order.status", "params": params}, id, nil
}

// ParseTradingResponse normalizes one order.place/cancel/modify/status
// reply into an OrderReport (§4.D). OKX's own sCode/sMsg fields substitute
// for the plain error-code shape Binance's trading stream uses.
func (a *Adapter) ParseTradingResponse(raw []byte) (*types.OrderReport, error) {
	var envelope struct {
		ID   string `json:"id"`
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []okxOrder `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &errs.ProtocolError{Reason: "malformed trading response: " + err.Error()}
	}

	if envelope.Code != "" && envelope.Code != "0" {
		return &types.OrderReport{
			Type:          types.ReportOrderUpdate,
			ClientOrderID: envelope.ID,
			Status:        types.StateRejected,
			ErrorCode:     envelope.Code,
			ErrorMsg:      envelope.Msg,
		}, nil
	}
	if len(envelope.Data) == 0 {
		return &types.OrderReport{Type: types.ReportOrderUpdate, ClientOrderID: envelope.ID, Status: types.StateSubmitted}, nil
	}

	o := envelope.Data[0]
	clientID := o.ClOrdID
	if clientID == "" {
		clientID = envelope.ID
	}
	return &types.OrderReport{
		Type:          types.ReportOrderUpdate,
		ClientOrderID: clientID,
		VenueOrderID:  o.OrdID,
		Status:        mapOrderState(o.State),
		FilledQty:     decimalOrZero(o.AccFillSz),
		AvgFillPrice:  decimalOrZero(o.AvgPx),
	}, nil
}

func (a *Adapter) AccountInfo(ctx context.Context, creds types.CredentialSet) (map[string]any, error) {
	return a.signedGet(ctx, creds, "/api/v5/account/config")
}

func (a *Adapter) Balances(ctx context.Context, creds types.CredentialSet) (map[string]any, error) {
	return a.signedGet(ctx, creds, "/api/v5/account/balance")
}

func (a *Adapter) Positions(ctx context.Context, creds types.CredentialSet) (map[string]any, error) {
	return a.signedGet(ctx, creds, "/api/v5/account/positions")
}

func (a *Adapter) SetLeverage(ctx context.Context, creds types.CredentialSet, symbol string, leverage int) error {
	body, _ := json.Marshal(map[string]string{"instId": symbol, "lever": strconv.Itoa(leverage), "mgnMode": "cross"})
	headers, err := a.headers(creds, "POST", "/api/v5/account/set-leverage", string(body))
	if err != nil {
		return err
	}
	_, err = a.rest.Do(ctx, restclient.Request{Method: "POST", Path: "/api/v5/account/set-leverage", Body: body, Headers: headers})
	return err
}

func (a *Adapter) SetMarginMode(ctx context.Context, creds types.CredentialSet, symbol, mode string) error {
	body, _ := json.Marshal(map[string]string{"instId": symbol, "lever": "1", "mgnMode": strings.ToLower(mode)})
	headers, err := a.headers(creds, "POST", "/api/v5/account/set-leverage", string(body))
	if err != nil {
		return err
	}
	_, err = a.rest.Do(ctx, restclient.Request{Method: "POST", Path: "/api/v5/account/set-leverage", Body: body, Headers: headers})
	return err
}

func (a *Adapter) SetPositionMode(ctx context.Context, creds types.CredentialSet, hedgeMode bool) error {
	mode := "net_mode"
	if hedgeMode {
		mode = "long_short_mode"
	}
	body, _ := json.Marshal(map[string]string{"posMode": mode})
	headers, err := a.headers(creds, "POST", "/api/v5/account/set-position-mode", string(body))
	if err != nil {
		return err
	}
	_, err = a.rest.Do(ctx, restclient.Request{Method: "POST", Path: "/api/v5/account/set-position-mode", Body: body, Headers: headers})
	return err
}

// CreateListenKey has no OKX equivalent: private channel auth is performed
// per-connection via a signed "login" frame rather than a REST-issued key.
// It returns the fixed string "login-frame" as the key; no login frame is
// built or sent on the private stream.
func (a *Adapter) CreateListenKey(ctx context.Context, creds types.CredentialSet) (string, error) {
	return "login-frame", nil
}

func (a *Adapter) KeepaliveListenKey(ctx context.Context, creds types.CredentialSet, key string) error {
	return nil // OKX private channels stay alive via the transport's own ping/pong
}

func (a *Adapter) StreamURL(variant types.MarketVariant, stream types.Channel) string {
	if stream == types.ChanUserData {
		return privateWS
	}
	if stream == types.ChanTrading {
		return tradingWS
	}
	return marketWS
}

func (a *Adapter) SubscribeFrame(channel types.Channel, symbol, interval string) any {
	return map[string]any{"op": "subscribe", "args": []map[string]string{okxArg(channel, symbol, interval)}}
}

func (a *Adapter) UnsubscribeFrame(channel types.Channel, symbol, interval string) any {
	return map[string]any{"op": "unsubscribe", "args": []map[string]string{okxArg(channel, symbol, interval)}}
}

func okxArg(channel types.Channel, symbol, interval string) map[string]string {
	switch channel {
	case types.ChanKline:
		return map[string]string{"channel": "candle" + interval, "instId": symbol}
	case types.ChanTrade:
		return map[string]string{"channel": "trades", "instId": symbol}
	case types.ChanBook:
		return map[string]string{"channel": "books", "instId": symbol}
	case types.ChanFundingRate:
		return map[string]string{"channel": "funding-rate", "instId": symbol}
	default:
		return map[string]string{"channel": string(channel), "instId": symbol}
	}
}

func (a *Adapter) ParseFrame(raw []byte) (*types.MarketFrame, error) {
	var envelope struct {
		Arg struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"arg"`
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &errs.ProtocolError{Reason: "malformed market frame: " + err.Error()}
	}
	if len(envelope.Data) == 0 {
		return nil, &errs.ProtocolError{Reason: "market frame has no data"}
	}

	switch {
	case strings.HasPrefix(envelope.Arg.Channel, "candle"):
		var row []string
		if err := json.Unmarshal(envelope.Data[0], &row); err != nil || len(row) < 6 {
			return nil, &errs.ProtocolError{Reason: "candle: malformed row"}
		}
		openTS, _ := strconv.ParseInt(row[0], 10, 64)
		return &types.MarketFrame{Type: types.FrameKline, Venue: types.OKX, Kline: &types.Kline{
			Symbol: envelope.Arg.InstID, Interval: strings.TrimPrefix(envelope.Arg.Channel, "candle"),
			OpenTS: openTS, Open: decimalOrZero(row[1]), High: decimalOrZero(row[2]),
			Low: decimalOrZero(row[3]), Close: decimalOrZero(row[4]), Volume: decimalOrZero(row[5]),
			IsClosed: len(row) > 8 && row[8] == "1",
		}}, nil

	case envelope.Arg.Channel == "trades":
		var t struct {
			TradeID string `json:"tradeId"`
			Px      string `json:"px"`
			Sz      string `json:"sz"`
			Side    string `json:"side"`
			TS      string `json:"ts"`
		}
		if err := json.Unmarshal(envelope.Data[0], &t); err != nil {
			return nil, &errs.ProtocolError{Reason: "trade: " + err.Error()}
		}
		ts, _ := strconv.ParseInt(t.TS, 10, 64)
		return &types.MarketFrame{Type: types.FrameTrade, Venue: types.OKX, Trade: &types.Trade{
			Symbol: envelope.Arg.InstID, TradeID: t.TradeID, TS: ts,
			Price: decimalOrZero(t.Px), Qty: decimalOrZero(t.Sz), Side: takerSide(t.Side),
		}}, nil

	case envelope.Arg.Channel == "books":
		var b struct {
			Bids [][]string `json:"bids"`
			Asks [][]string `json:"asks"`
			TS   string     `json:"ts"`
		}
		if err := json.Unmarshal(envelope.Data[0], &b); err != nil {
			return nil, &errs.ProtocolError{Reason: "book: " + err.Error()}
		}
		snap := normalizeBook(envelope.Arg.InstID, b.Bids, b.Asks, "diff")
		snap.TS, _ = strconv.ParseInt(b.TS, 10, 64)
		return &types.MarketFrame{Type: types.FrameBook, Venue: types.OKX, Book: snap}, nil

	default:
		return nil, &errs.ProtocolError{Reason: "unknown channel: " + envelope.Arg.Channel}
	}
}

func (a *Adapter) ParseUserEvent(raw []byte) (*types.OrderReport, error) {
	var envelope struct {
		Arg struct {
			Channel string `json:"channel"`
		} `json:"arg"`
		Data []okxOrder `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &errs.ProtocolError{Reason: "malformed user event: " + err.Error()}
	}
	if envelope.Arg.Channel != "orders" || len(envelope.Data) == 0 {
		return nil, &errs.ProtocolError{Reason: "unhandled user event channel: " + envelope.Arg.Channel}
	}
	o := envelope.Data[0]
	return &types.OrderReport{
		Type:          types.ReportOrderUpdate,
		ClientOrderID: o.ClOrdID,
		VenueOrderID:  o.OrdID,
		Status:        mapOrderState(o.State),
		FilledQty:     decimalOrZero(o.AccFillSz),
		AvgFillPrice:  decimalOrZero(o.AvgPx),
	}, nil
}

func (a *Adapter) signedGet(ctx context.Context, creds types.CredentialSet, path string) (map[string]any, error) {
	headers, err := a.headers(creds, "GET", path, "")
	if err != nil {
		return nil, err
	}
	resp, err := a.rest.Do(ctx, restclient.Request{Method: "GET", Path: path, Headers: headers})
	if err != nil {
		return nil, err
	}
	return toMap(resp.Body)
}

func okxTimestamp() string {
	return strconv.FormatInt(signer.NowMS(), 10)
}
