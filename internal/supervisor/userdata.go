package supervisor

import (
	"context"
	"log/slog"
	"time"

	"tradingcore/internal/exchange"
	"tradingcore/pkg/types"
)

// keepaliveInterval matches §4.I's "~30 minutes" listen-key refresh cadence.
const keepaliveInterval = 30 * time.Minute

// Reconciler supplies the in-flight snapshot the user-data supervisor
// diffs fresh REST state against after a listen-key re-creation, and the
// sink for the synthetic deltas that fall out of that diff. Implemented by
// the Router (in-flight table) and the IPC reports bus respectively.
type Reconciler interface {
	OpenClientOrderIDs() map[string]types.Order // keyed by client_order_id, as currently tracked
	EmitSyntheticUpdate(report types.OrderReport)
}

// UserDataSupervisor owns one authenticated user-data connection: listen
// key creation, periodic keepalive, and REST reconciliation of in-flight
// orders whenever the key has to be re-created (§4.I).
type UserDataSupervisor struct {
	adapter    exchange.Adapter
	creds      types.CredentialSet
	reconciler Reconciler
	logger     *slog.Logger

	connectFn func(ctx context.Context, listenKey string) error // dials and runs the ws connection until it drops
}

// NewUserDataSupervisor creates a user-data supervisor. connectFn is
// expected to block until the connection drops (mirroring Supervisor.Run's
// per-attempt contract) so this type can reuse the same retry shape.
func NewUserDataSupervisor(adapter exchange.Adapter, creds types.CredentialSet, reconciler Reconciler, connectFn func(ctx context.Context, listenKey string) error, logger *slog.Logger) *UserDataSupervisor {
	return &UserDataSupervisor{adapter: adapter, creds: creds, reconciler: reconciler, connectFn: connectFn, logger: logger.With("component", "user-data-supervisor")}
}

// Run creates a listen key, connects, keeps the key alive, and
// re-establishes everything (fresh key, fresh connection, REST
// reconciliation) whenever the keepalive fails or the connection drops.
// Blocks until ctx is cancelled.
func (u *UserDataSupervisor) Run(ctx context.Context) error {
	backoff := minBackoff

	for {
		err := u.sessionOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		u.logger.Warn("user-data session ended, recreating", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// sessionOnce creates a listen key, reconciles, connects, and keeps the
// key alive until either the keepalive fails or the connection drops —
// whichever happens first tears the whole session down for Run to retry.
func (u *UserDataSupervisor) sessionOnce(ctx context.Context) error {
	listenKey, err := u.adapter.CreateListenKey(ctx, u.creds)
	if err != nil {
		return err
	}

	u.reconcile(ctx)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	connErr := make(chan error, 1)
	go func() { connErr <- u.connectFn(sessionCtx, listenKey) }()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sessionCtx.Done():
			return <-connErr
		case err := <-connErr:
			return err
		case <-ticker.C:
			if err := u.adapter.KeepaliveListenKey(ctx, u.creds, listenKey); err != nil {
				u.logger.Warn("listen key keepalive failed, tearing down session", "err", err)
				cancel()
				<-connErr
				return err
			}
		}
	}
}

// reconcile re-queries open orders from REST and emits synthetic
// order_update reports for any delta relative to the Router's in-flight
// table (§4.I: "reconcile any in-flight orders ... emit synthetic
// order_update reports for deltas").
func (u *UserDataSupervisor) reconcile(ctx context.Context) {
	tracked := u.reconciler.OpenClientOrderIDs()

	openOrders, err := u.adapter.OpenOrders(ctx, u.creds, "")
	if err != nil {
		u.logger.Error("reconciliation: OpenOrders failed", "err", err)
		return
	}

	seen := make(map[string]bool, len(openOrders))
	for _, o := range openOrders {
		seen[o.ClientOrderID] = true
		local, ok := tracked[o.ClientOrderID]
		if ok && local.State == o.State && local.FilledQty.Equal(o.FilledQty) {
			continue
		}
		u.reconciler.EmitSyntheticUpdate(types.OrderReport{
			Type: types.ReportOrderUpdate, ClientOrderID: o.ClientOrderID, VenueOrderID: o.VenueOrderID,
			Status: o.State, FilledQty: o.FilledQty, AvgFillPrice: o.AvgFillPrice, TS: time.Now(),
		})
	}

	// An order the Router still tracks as open but REST no longer reports
	// must have reached a terminal state while the connection was down.
	for clientOrderID, local := range tracked {
		if local.State.Terminal() || seen[clientOrderID] {
			continue
		}
		u.reconciler.EmitSyntheticUpdate(types.OrderReport{
			Type: types.ReportOrderUpdate, ClientOrderID: clientOrderID, VenueOrderID: local.VenueOrderID,
			Status: types.StateFilled, TS: time.Now(),
		})
	}
}
