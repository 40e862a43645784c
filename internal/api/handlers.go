package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"tradingcore/internal/ipc"
	"tradingcore/internal/query"
)

// Handlers holds every HTTP/WebSocket route's dependencies.
type Handlers struct {
	facade            *query.Facade
	marketBus         *ipc.MarketBus
	reportsBus        *ipc.ReportsBus
	ordersBus         *ipc.OrdersBus
	health            HealthProvider
	allowed           []string
	marketBufDefault  int
	reportsBufDefault int
	logger            *slog.Logger
}

// NewHandlers creates the handler set. marketBufDefault/reportsBufDefault
// are the per-connection WebSocket buffer sizes used when a stream's
// ?buffer= query param is absent (internal/config.IPCConfig's
// MarketBufferSize/ReportsBufferSize).
func NewHandlers(facade *query.Facade, marketBus *ipc.MarketBus, reportsBus *ipc.ReportsBus, ordersBus *ipc.OrdersBus, health HealthProvider, allowedOrigins []string, marketBufDefault, reportsBufDefault int, logger *slog.Logger) *Handlers {
	return &Handlers{
		facade: facade, marketBus: marketBus, reportsBus: reportsBus, ordersBus: ordersBus,
		health: health, allowed: allowedOrigins,
		marketBufDefault: marketBufDefault, reportsBufDefault: reportsBufDefault,
		logger: logger.With("component", "api-handlers"),
	}
}

// HandleHealth returns the process HealthStatus (§10 health surface).
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.health.Health())
}

// HandleQuery decodes a query.Request body and returns its query.Response
// (§6, the Query Facade's wire shape reused verbatim over HTTP).
func (h *Handlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req query.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	resp := h.facade.Handle(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode query response", "err", err)
	}
}

var upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}

// HandleMarketStream upgrades to WebSocket and streams MarketBus frames
// matching ?prefix= to the client (§4.H market channel, §6 "topic|json").
func (h *Handlers) HandleMarketStream(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.upgrade(w, r)
	if !ok {
		return
	}
	defer conn.Close()

	id := r.URL.Query().Get("id")
	if id == "" {
		id = r.RemoteAddr
	}
	prefix := r.URL.Query().Get("prefix")
	buf := queryInt(r, "buffer", h.marketBufDefault)

	sub := h.marketBus.Subscribe(id, prefix, buf)
	defer h.marketBus.Unsubscribe(id)

	for msg := range sub.Chan() {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Topic+"|"+string(msg.Payload))); err != nil {
			return
		}
	}
}

// HandleReportsStream upgrades to WebSocket and streams OrderReport
// updates for ?strategy_id= (§4.H reports channel — one subscriber per
// strategy, never dropped).
func (h *Handlers) HandleReportsStream(w http.ResponseWriter, r *http.Request) {
	strategyID := r.URL.Query().Get("strategy_id")
	if strategyID == "" {
		http.Error(w, "strategy_id is required", http.StatusBadRequest)
		return
	}

	conn, ok := h.upgrade(w, r)
	if !ok {
		return
	}
	defer conn.Close()

	buf := queryInt(r, "buffer", h.reportsBufDefault)
	sub := h.reportsBus.Subscribe(strategyID, buf)
	defer h.reportsBus.Unsubscribe(strategyID, sub)

	for report := range sub.Chan() {
		data, err := json.Marshal(report)
		if err != nil {
			h.logger.Error("failed to marshal order report", "err", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// HandleOrdersStream upgrades to WebSocket and hands every inbound text
// frame to the OrdersBus as a command envelope (§4.H orders channel —
// fan-in, worker-pool dispatch).
func (h *Handlers) HandleOrdersStream(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.upgrade(w, r)
	if !ok {
		return
	}
	defer conn.Close()

	ctx := context.Background()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := h.ordersBus.Ingest(ctx, raw); err != nil {
			h.logger.Warn("orders envelope rejected", "err", err)
			if ack, merr := json.Marshal(map[string]string{"error": err.Error()}); merr == nil {
				conn.WriteMessage(websocket.TextMessage, ack)
			}
		}
	}
}

func (h *Handlers) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	upgrader.CheckOrigin = func(req *http.Request) bool {
		return isOriginAllowed(req.Header.Get("Origin"), h.allowed, req.Host)
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return nil, false
	}
	return conn, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// isOriginAllowed decides whether a WebSocket upgrade's Origin header may
// proceed: empty origin (non-browser clients), an explicit allowlist
// match, or same-host traffic is allowed; everything else is denied.
func isOriginAllowed(origin string, allowedOrigins []string, reqHost string) bool {
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
