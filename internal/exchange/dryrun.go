package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tradingcore/pkg/types"
)

// DryRunAdapter wraps a real Adapter and short-circuits every
// order-mutating call to a synthetic ACCEPTED/CANCELLED report without
// touching the network (§10 Supplementary Features: Dry-run mode).
// Read-only and streaming methods pass through unchanged, so market data
// and account introspection still reflect the real venue.
//
// Grounded on the teacher's exchange/client.go dryRun checks at the top of
// every mutating method (PostOrders, CancelOrders, CancelAll,
// CancelMarketOrders), generalized from four Polymarket-specific methods
// to the Adapter interface's order-mutating subset.
type DryRunAdapter struct {
	Adapter
	logger *slog.Logger
}

// NewDryRunAdapter wraps adapter so its order-mutating calls never reach
// the venue.
func NewDryRunAdapter(adapter Adapter, logger *slog.Logger) *DryRunAdapter {
	return &DryRunAdapter{Adapter: adapter, logger: logger.With("component", "dry-run-adapter", "venue", adapter.Venue())}
}

func (a *DryRunAdapter) PlaceOrder(ctx context.Context, creds types.CredentialSet, req OrderRequest) (*types.OrderReport, error) {
	a.logger.Info("DRY-RUN: would place order", "symbol", req.Symbol, "side", req.Side, "qty", req.Qty, "price", req.Price)
	return &types.OrderReport{
		Type: types.ReportOrderUpdate, ClientOrderID: req.ClientOrderID, VenueOrderID: "dry-run-" + req.ClientOrderID,
		Status: types.StateAccepted, TS: time.Now(),
	}, nil
}

func (a *DryRunAdapter) CancelOrder(ctx context.Context, creds types.CredentialSet, req CancelRequest) (*types.OrderReport, error) {
	a.logger.Info("DRY-RUN: would cancel order", "client_order_id", req.ClientOrderID, "venue_order_id", req.VenueOrderID)
	return &types.OrderReport{
		Type: types.ReportCancelResult, ClientOrderID: req.ClientOrderID, VenueOrderID: req.VenueOrderID,
		Status: types.StateCancelled, TS: time.Now(),
	}, nil
}

func (a *DryRunAdapter) CancelAll(ctx context.Context, creds types.CredentialSet, symbol string) (*types.OrderReport, error) {
	a.logger.Info("DRY-RUN: would cancel all orders", "symbol", symbol)
	return &types.OrderReport{Type: types.ReportBatchResult, Status: types.StateCancelled, TS: time.Now()}, nil
}

func (a *DryRunAdapter) BatchPlace(ctx context.Context, creds types.CredentialSet, reqs []OrderRequest) ([]types.OrderReport, error) {
	a.logger.Info("DRY-RUN: would batch place orders", "count", len(reqs))
	out := make([]types.OrderReport, len(reqs))
	for i, req := range reqs {
		out[i] = types.OrderReport{
			Type: types.ReportOrderUpdate, ClientOrderID: req.ClientOrderID,
			VenueOrderID: fmt.Sprintf("dry-run-%d-%s", i, req.ClientOrderID), Status: types.StateAccepted, TS: time.Now(),
		}
	}
	return out, nil
}
