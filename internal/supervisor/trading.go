package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradingcore/internal/exchange"
	"tradingcore/internal/wstransport"
	"tradingcore/pkg/errs"
	"tradingcore/pkg/types"
)

// TradingStreamSupervisor owns one venue's authenticated trading-stream
// connection (§4.D order.place/cancel/modify/status over the trading
// stream). Unlike Supervisor it carries no subscription replay — a
// trading stream has nothing to resubscribe to — but it exposes Send so
// the Router can push order.* frames over whichever connection is
// currently live, and reconnects with the same exponential backoff as
// every other stream owner.
//
// Grounded on Supervisor's reconnect loop, generalized to own a
// reference to the live *wstransport.Conn instead of a FrameSender, so
// a caller outside the reconnect loop (the Router) can write to it.
type TradingStreamSupervisor struct {
	name    string
	cfg     wstransport.Config
	adapter exchange.Adapter
	onFrame func(*types.OrderReport)
	logger  *slog.Logger

	mu   sync.Mutex
	conn *wstransport.Conn
}

// NewTradingStreamSupervisor creates a trading-stream supervisor for one
// (venue, variant). onReport receives every parsed order report as it
// comes off the stream.
func NewTradingStreamSupervisor(name string, cfg wstransport.Config, adapter exchange.Adapter, onReport func(*types.OrderReport), logger *slog.Logger) *TradingStreamSupervisor {
	return &TradingStreamSupervisor{name: name, cfg: cfg, adapter: adapter, onFrame: onReport, logger: logger.With("component", "trading-stream-supervisor", "feed", name)}
}

// Run blocks until ctx is cancelled, reconnecting with exponential
// backoff on every disconnect — same shape as Supervisor.Run.
func (t *TradingStreamSupervisor) Run(ctx context.Context) error {
	backoff := minBackoff

	for {
		err := t.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t.logger.Warn("trading stream disconnected, reconnecting", "err", err, "backoff", backoff)

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

func (t *TradingStreamSupervisor) runOnce(ctx context.Context) error {
	conn, err := wstransport.New(t.cfg)
	if err != nil {
		return err
	}

	go func() {
		for ev := range conn.Events() {
			if ev.State == wstransport.StateClosed || ev.State == wstransport.StateFail {
				t.clearConn(conn)
			}
		}
	}()

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	defer t.clearConn(conn)

	return conn.Run(ctx, func(raw []byte) {
		report, err := t.adapter.ParseTradingResponse(raw)
		if err != nil {
			t.logger.Warn("trading response parse failed", "venue", t.adapter.Venue(), "err", err)
			return
		}
		t.onFrame(report)
	})
}

// Name identifies this supervisor's feed — used by introspection (§10
// health surface).
func (t *TradingStreamSupervisor) Name() string { return t.name }

// IsConnected reports whether a trading-stream connection is currently
// open — used by introspection (§10 health surface).
func (t *TradingStreamSupervisor) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *TradingStreamSupervisor) clearConn(conn *wstransport.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == conn {
		t.conn = nil
	}
}

// Send writes frame over the current live connection. Returns a
// TransportError if no trading-stream connection is currently open —
// the Router treats that as "no WS path available" and falls back
// accordingly.
func (t *TradingStreamSupervisor) Send(frame any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return &errs.TransportError{Kind: "write", Err: fmt.Errorf("trading stream not connected")}
	}
	return conn.Send(frame)
}
