package okx

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"tradingcore/internal/exchange"
	"tradingcore/pkg/types"
)

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// takerSide normalizes OKX's explicit "side" field (already the taker's
// side) to the common Side vocabulary.
func takerSide(side string) types.Side {
	if side == "sell" {
		return types.Sell
	}
	return types.Buy
}

func normalizeBook(symbol string, rawBids, rawAsks [][]string, channelTag string) *types.BookSnapshot {
	bids := make([]types.PriceLevel, 0, len(rawBids))
	for _, lvl := range rawBids {
		if len(lvl) < 2 {
			continue
		}
		bids = append(bids, types.PriceLevel{Price: decimalOrZero(lvl[0]), Size: decimalOrZero(lvl[1])})
	}
	asks := make([]types.PriceLevel, 0, len(rawAsks))
	for _, lvl := range rawAsks {
		if len(lvl) < 2 {
			continue
		}
		asks = append(asks, types.PriceLevel{Price: decimalOrZero(lvl[0]), Size: decimalOrZero(lvl[1])})
	}

	snap := &types.BookSnapshot{Symbol: symbol, Bids: bids, Asks: asks, ChannelTag: channelTag}
	if len(bids) > 0 {
		snap.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		snap.BestAsk = asks[0].Price
	}
	if len(bids) > 0 && len(asks) > 0 {
		snap.Mid = snap.BestBid.Add(snap.BestAsk).Div(decimal.NewFromInt(2))
		snap.Spread = snap.BestAsk.Sub(snap.BestBid)
	}
	return snap
}

// mapOrderState translates OKX's order state vocabulary to the common
// OrderState machine (§3).
func mapOrderState(state string) types.OrderState {
	switch state {
	case "live":
		return types.StateAccepted
	case "partially_filled":
		return types.StatePartial
	case "filled":
		return types.StateFilled
	case "canceled":
		return types.StateCancelled
	default:
		return types.StateSubmitted
	}
}

func toFailedReport(clientOrderID string, err error) *types.OrderReport {
	return &types.OrderReport{
		Type:          types.ReportOrderUpdate,
		ClientOrderID: clientOrderID,
		Status:        types.StateFailed,
		ErrorMsg:      err.Error(),
	}
}

func toMap(body []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// buildOrderBody converts the common OrderRequest into OKX's
// place-order body shape. Position side follows OKX's hedge-mode naming
// (long/short) rather than the common NET/LONG/SHORT vocabulary directly.
func buildOrderBody(req exchange.OrderRequest) map[string]any {
	body := map[string]any{
		"instId":  req.Symbol,
		"tdMode":  "cross",
		"side":    strings.ToLower(string(req.Side)),
		"ordType": okxOrdType(req.Type, req.TIF),
		"sz":      req.Qty,
		"clOrdId": req.ClientOrderID,
	}
	if req.Price != "" {
		body["px"] = req.Price
	}
	switch req.PosSide {
	case types.PosLong:
		body["posSide"] = "long"
	case types.PosShort:
		body["posSide"] = "short"
	default:
		body["posSide"] = "net"
	}
	return body
}

func okxOrdType(t types.OrderType, tif types.TimeInForce) string {
	switch {
	case t == types.Market:
		return "market"
	case tif == types.TIFPostOnly:
		return "post_only"
	case tif == types.FOK:
		return "fok"
	case tif == types.IOC:
		return "ioc"
	default:
		return "limit"
	}
}

// okxOrder is the shared order-record shape OKX returns from
// orders-pending, orders-history, trade/order and the private orders
// channel.
type okxOrder struct {
	InstID    string `json:"instId"`
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	Side      string `json:"side"`
	OrdType   string `json:"ordType"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	State     string `json:"state"`
}

func (o okxOrder) toOrder() *types.Order {
	return &types.Order{
		Symbol:        o.InstID,
		VenueOrderID:  o.OrdID,
		ClientOrderID: o.ClOrdID,
		Side:          types.Side(upper(o.Side)),
		Type:          types.OrderType(upper(o.OrdType)),
		Qty:           decimalOrZero(o.Sz),
		Price:         decimalOrZero(o.Px),
		FilledQty:     decimalOrZero(o.AccFillSz),
		AvgFillPrice:  decimalOrZero(o.AvgPx),
		State:         mapOrderState(o.State),
	}
}

func parseOrderAck(raw json.RawMessage, clientOrderID string) *types.OrderReport {
	var ack struct {
		OrdID   string `json:"ordId"`
		ClOrdID string `json:"clOrdId"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil {
		return &types.OrderReport{Type: types.ReportOrderUpdate, ClientOrderID: clientOrderID, Status: types.StateFailed, ErrorMsg: "malformed acknowledgement"}
	}
	if ack.SCode != "" && ack.SCode != "0" {
		return &types.OrderReport{Type: types.ReportOrderUpdate, ClientOrderID: clientOrderID, Status: types.StateRejected, ErrorCode: ack.SCode, ErrorMsg: ack.SMsg}
	}
	return &types.OrderReport{
		Type:          types.ReportOrderUpdate,
		ClientOrderID: ack.ClOrdID,
		VenueOrderID:  ack.OrdID,
		Status:        types.StateSubmitted,
	}
}

func parseOrderList(body []byte) ([]types.Order, error) {
	var out struct {
		Data []okxOrder `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	orders := make([]types.Order, 0, len(out.Data))
	for _, o := range out.Data {
		orders = append(orders, *o.toOrder())
	}
	return orders, nil
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
