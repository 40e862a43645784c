// Package api exposes the Trading Core process over HTTP/WebSocket: a
// health/introspection endpoint, the Query Facade's request/reply surface,
// and the three IPC buses re-terminated as WebSocket connections for
// strategy processes that prefer a socket to a local IPC transport (§10
// Supplementary Features: HTTP health/introspection surface).
//
// Grounded on the teacher's internal/api/server.go: an http.ServeMux
// wiring a handful of routes onto one *http.Server with fixed
// read/write/idle timeouts, Start/Stop around ListenAndServe/Shutdown.
// Generalized from "one dashboard" to "one health route, one query
// route, three IPC-bus routes".
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tradingcore/internal/ipc"
	"tradingcore/internal/query"
)

// Server runs the Trading Core's HTTP/WebSocket surface.
type Server struct {
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires every route onto a fresh mux and a bounded *http.Server.
// allowedOrigins, when empty, falls back to localhost/same-host WebSocket
// origin checks (§10).
func NewServer(
	addr string,
	facade *query.Facade,
	marketBus *ipc.MarketBus,
	reportsBus *ipc.ReportsBus,
	ordersBus *ipc.OrdersBus,
	health HealthProvider,
	allowedOrigins []string,
	marketBufDefault, reportsBufDefault int,
	logger *slog.Logger,
) *Server {
	handlers := NewHandlers(facade, marketBus, reportsBus, ordersBus, health, allowedOrigins, marketBufDefault, reportsBufDefault, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HandleHealth)
	mux.HandleFunc("/query", handlers.HandleQuery)
	mux.HandleFunc("/ws/market", handlers.HandleMarketStream)
	mux.HandleFunc("/ws/reports", handlers.HandleReportsStream)
	mux.HandleFunc("/ws/orders", handlers.HandleOrdersStream)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start blocks serving until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info("api server stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
