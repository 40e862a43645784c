// Package wstransport implements the Trading Core's generic framed
// streaming client (component C): TLS, optional HTTP proxy tunnel,
// ping/pong handling and per-message dispatch of raw frames. It owns exactly one
// logical channel (market stream, user-data stream or trading stream) per
// Conn and never resubscribes on its own — reconnection and subscription
// replay are the Supervisor's job (component I).
//
// Grounded on the teacher's internal/exchange/ws.go WSFeed, stripped of its
// reconnect loop and venue-specific message routing, which the spec
// explicitly separates out.
package wstransport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradingcore/pkg/errs"
)

// State is one of the three transitions Conn reports over its State channel.
type State int

const (
	StateOpen State = iota
	StateClosed
	StateFail
)

// Event is a state transition emitted on Conn's state channel.
type Event struct {
	State  State
	Reason string // set for StateClosed
	Err    error  // set for StateFail
}

// Dispatch is called once per inbound message with its raw payload.
type Dispatch func(msg []byte)

// Config configures one Conn.
type Config struct {
	URL          string
	ProxyURL     string        // optional HTTP proxy, tunneled for wss://
	PingInterval time.Duration // 0 disables client-initiated pings
	ReadTimeout  time.Duration // deadline reset on every inbound frame/pong
	WriteTimeout time.Duration
}

const (
	defaultReadTimeout  = 90 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Conn is one framed WebSocket connection. It is single-use: once Run
// returns, the Conn must be discarded and a new one dialed.
type Conn struct {
	cfg    Config
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	events chan Event
}

// New builds a Conn ready to dial. Call Run to connect and start reading.
func New(cfg Config) (*Conn, error) {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if cfg.ProxyURL != "" {
		parsed, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		dialer.Proxy = http.ProxyURL(parsed)
	}

	return &Conn{
		cfg:    cfg,
		dialer: dialer,
		events: make(chan Event, 1),
	}, nil
}

// Events reports OPEN/CLOSED(reason)/FAIL(err) transitions. Callers should
// drain it; Run closes it when it returns.
func (c *Conn) Events() <-chan Event { return c.events }

// Run dials, replies to server pings, emits a client ping every
// PingInterval, and dispatches every inbound frame to onMessage. It
// blocks until ctx is cancelled or the connection fails, then returns.
func (c *Conn) Run(ctx context.Context, onMessage Dispatch) error {
	defer close(c.events)

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.events <- Event{State: StateFail, Err: err}
		return &errs.TransportError{Kind: "dial", Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		conn.Close()
		c.conn = nil
		c.mu.Unlock()
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		c.mu.Lock()
		defer c.mu.Unlock()
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		return c.conn.WriteMessage(websocket.PongMessage, []byte(data))
	})

	c.events <- Event{State: StateOpen}

	var pingCancel context.CancelFunc
	if c.cfg.PingInterval > 0 {
		var pingCtx context.Context
		pingCtx, pingCancel = context.WithCancel(ctx)
		defer pingCancel()
		go c.pingLoop(pingCtx)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	for {
		if ctx.Err() != nil {
			c.events <- Event{State: StateClosed, Reason: "context cancelled"}
			return ctx.Err()
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				c.events <- Event{State: StateClosed, Reason: "context cancelled"}
				return ctx.Err()
			}
			c.events <- Event{State: StateFail, Err: err}
			return &errs.TransportError{Kind: "read", Err: err}
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

		onMessage(msg)
	}
}

// Send writes one JSON-marshalable value to the connection.
func (c *Conn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return &errs.TransportError{Kind: "write", Err: fmt.Errorf("not connected")}
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		return &errs.TransportError{Kind: "write", Err: err}
	}
	return nil
}

// Close closes the underlying connection, unblocking Run's read loop.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Conn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn == nil {
				c.mu.Unlock()
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
