package supervisor

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"tradingcore/internal/wstransport"
	"tradingcore/pkg/errs"
	"tradingcore/pkg/types"
)

func newTestTradingSupervisor() *TradingStreamSupervisor {
	return NewTradingStreamSupervisor(
		"binance/usdt_perp/trading",
		wstransport.Config{URL: "wss://example.invalid/ws"},
		&stubAdapter{},
		func(*types.OrderReport) {},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func TestTradingStreamSupervisorSendWithoutConnectionReturnsTransportError(t *testing.T) {
	t.Parallel()
	sup := newTestTradingSupervisor()

	err := sup.Send(map[string]any{"method": "order.place"})
	if err == nil {
		t.Fatal("expected an error when no connection is live")
	}
	var txErr *errs.TransportError
	if !errors.As(err, &txErr) {
		t.Fatalf("err = %v (%T), want *errs.TransportError", err, err)
	}
}

func TestTradingStreamSupervisorIsConnectedFalseBeforeRun(t *testing.T) {
	t.Parallel()
	sup := newTestTradingSupervisor()

	if sup.IsConnected() {
		t.Error("expected IsConnected=false before Run has dialed anything")
	}
}

func TestTradingStreamSupervisorName(t *testing.T) {
	t.Parallel()
	sup := newTestTradingSupervisor()

	if sup.Name() != "binance/usdt_perp/trading" {
		t.Errorf("Name() = %q, want binance/usdt_perp/trading", sup.Name())
	}
}

func TestTradingStreamSupervisorClearConnOnlyClearsMatchingConn(t *testing.T) {
	t.Parallel()
	sup := newTestTradingSupervisor()

	stale := &wstransport.Conn{}
	sup.mu.Lock()
	sup.conn = &wstransport.Conn{}
	live := sup.conn
	sup.mu.Unlock()

	sup.clearConn(stale)
	if !sup.IsConnected() {
		t.Fatal("clearConn with a non-matching *Conn must not clear the live connection")
	}

	sup.clearConn(live)
	if sup.IsConnected() {
		t.Error("clearConn with the matching *Conn must clear it")
	}
}
