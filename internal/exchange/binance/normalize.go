package binance

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"

	"tradingcore/internal/restclient"
	"tradingcore/internal/signer"
	"tradingcore/pkg/types"
)

// decimalOrZero parses s as decimal.Decimal, returning the zero value on a
// malformed string rather than propagating a parse error through every
// normalization call site.
func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// aggressorSide normalizes Binance's "isBuyerMaker" flag to the spec's
// side-is-always-the-aggressor convention (§4.D, §8 scenario S5):
// maker-buy implies the taker sold.
func aggressorSide(isBuyerMaker bool) types.Side {
	if isBuyerMaker {
		return types.Sell
	}
	return types.Buy
}

func normalizeDepth(symbol string, rawBids, rawAsks [][2]string, channelTag string) *types.BookSnapshot {
	bids := make([]types.PriceLevel, 0, len(rawBids))
	for _, lvl := range rawBids {
		bids = append(bids, types.PriceLevel{Price: decimalOrZero(lvl[0]), Size: decimalOrZero(lvl[1])})
	}
	asks := make([]types.PriceLevel, 0, len(rawAsks))
	for _, lvl := range rawAsks {
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

// mapOrderStatus translates Binance's order status vocabulary to the
// common OrderState machine (§3).
func mapOrderStatus(venueStatus string) types.OrderState {
	switch venueStatus {
	case "NEW":
		return types.StateAccepted
	case "PARTIALLY_FILLED":
		return types.StatePartial
	case "FILLED":
		return types.StateFilled
	case "CANCELED", "EXPIRED":
		return types.StateCancelled
	case "REJECTED":
		return types.StateRejected
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

func (a *Adapter) signedGet(ctx context.Context, creds types.CredentialSet, path string) (map[string]any, error) {
	query, err := signer.New(creds).SignForm(nil, signer.NowMS())
	if err != nil {
		return nil, err
	}
	resp, err := a.rest.Do(ctx, restclient.Request{Method: "GET", Path: path + "?" + query, Headers: apiKeyHeader(creds)})
	if err != nil {
		return nil, err
	}
	return toMap(resp.Body)
}

func toMap(body []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseOrder(raw []byte) (*types.Order, error) {
	var o struct {
		Symbol        string `json:"symbol"`
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Side          string `json:"side"`
		Type          string `json:"type"`
		TIF           string `json:"timeInForce"`
		OrigQty       string `json:"origQty"`
		Price         string `json:"price"`
		ExecutedQty   string `json:"executedQty"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	return &types.Order{
		Symbol:        o.Symbol,
		VenueOrderID:  strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Side:          types.Side(o.Side),
		Type:          types.OrderType(o.Type),
		TIF:           types.TimeInForce(o.TIF),
		Qty:           decimalOrZero(o.OrigQty),
		Price:         decimalOrZero(o.Price),
		FilledQty:     decimalOrZero(o.ExecutedQty),
		State:         mapOrderStatus(o.Status),
	}, nil
}
