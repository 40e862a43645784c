// Package supervisor implements the Trading Core's Supervisor (component
// I): the long-lived-stream owner. On disconnect it waits an exponential
// backoff capped at 30s, reconnects, and replays the subscription set held
// for that channel — then, for user-data streams specifically, keeps the
// listen key alive and reconciles in-flight orders against REST on
// re-creation.
//
// Grounded on the teacher's internal/exchange/ws.go WSFeed.Run: the same
// backoff-then-reconnect loop and subscribed-ids map replayed on
// reconnect, adapted from Polymarket's two fixed channels to an arbitrary
// (venue, channel) feed driven by the Adapter interface.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tradingcore/internal/wstransport"
	"tradingcore/pkg/types"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// SubscriptionSet is the set of subscriptions replayed verbatim on
// reconnect (§8 invariant 6: "post-reconnect subscription set equals the
// pre-reconnect set").
type SubscriptionSet struct {
	mu   sync.Mutex
	subs map[string]types.Subscription
}

// NewSubscriptionSet creates an empty set.
func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{subs: make(map[string]types.Subscription)}
}

// Add inserts sub, keyed by its dedup key (shared venue streams collapse
// to one subscribe frame regardless of how many strategies asked for it).
func (s *SubscriptionSet) Add(sub types.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.Key()] = sub
}

// Remove drops sub from the set.
func (s *SubscriptionSet) Remove(sub types.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub.Key())
}

// All returns a defensive copy of the current subscription set.
func (s *SubscriptionSet) All() []types.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

// FrameSender renders a subscription into the adapter's wire subscribe
// frame and sends it on the live connection. Supplied by the caller so
// Supervisor has no import-time dependency on a specific adapter.
type FrameSender func(conn *wstransport.Conn, sub types.Subscription) error

// Supervisor owns one logical streaming connection's reconnect loop.
type Supervisor struct {
	name    string
	cfg     wstransport.Config
	subs    *SubscriptionSet
	onFrame wstransport.Dispatch
	send    FrameSender
	logger  *slog.Logger

	mu        sync.Mutex
	connected bool
}

// New creates a Supervisor for one (venue, channel-group) connection.
// send may be nil for connections that carry no subscribe handshake (e.g.
// a user-data stream keyed by listen key).
func New(name string, cfg wstransport.Config, subs *SubscriptionSet, onFrame wstransport.Dispatch, send FrameSender, logger *slog.Logger) *Supervisor {
	return &Supervisor{name: name, cfg: cfg, subs: subs, onFrame: onFrame, send: send, logger: logger.With("component", "supervisor", "feed", name)}
}

// Run blocks until ctx is cancelled, reconnecting with exponential backoff
// on every disconnect.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := minBackoff

	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("stream disconnected, reconnecting", "err", err, "backoff", backoff)

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

// Name identifies this supervisor's feed — used by introspection (§10
// health surface).
func (s *Supervisor) Name() string { return s.name }

// IsConnected reports whether the current connection has completed its
// open handshake — used by introspection (§10 health surface).
func (s *Supervisor) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Supervisor) runOnce(ctx context.Context) error {
	conn, err := wstransport.New(s.cfg)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		for ev := range conn.Events() {
			switch ev.State {
			case wstransport.StateOpen:
				s.mu.Lock()
				s.connected = true
				s.mu.Unlock()
				s.replay(conn)
			case wstransport.StateClosed, wstransport.StateFail:
				s.mu.Lock()
				s.connected = false
				s.mu.Unlock()
			}
		}
	}()

	return conn.Run(runCtx, s.onFrame)
}

// replay sends a subscribe frame for every subscription currently held,
// in the order they're returned by All() — ordering within the replay is
// not load-bearing since each frame targets a distinct stream.
func (s *Supervisor) replay(conn *wstransport.Conn) {
	if s.send == nil {
		return
	}
	for _, sub := range s.subs.All() {
		if err := s.send(conn, sub); err != nil {
			s.logger.Error("subscription replay failed", "subscription", sub.Key(), "err", err)
		}
	}
}
