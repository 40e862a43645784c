// Package ipc implements the Trading Core's IPC Broker (component H): the
// three logical channels — market (fan-out, drop-oldest), orders (fan-in,
// worker-pool dispatch), reports (fan-out, backpressure, strategy-scoped) —
// that the Core terminates on one side and strategy processes terminate on
// the other.
//
// Grounded on the teacher's internal/api.Hub/Client (stream.go):
// register/unregister channels guarding a client map, a buffered send
// channel per client, non-blocking broadcast that drops a client that
// can't keep up. Generalized from "one hub, drop-everything" to three
// differently-disciplined buses per §4.H.
package ipc

import (
	"strings"
	"sync"

	"tradingcore/pkg/types"
)

// Topic renders the (venue, stream, symbol) tuple into the prefix-filterable
// string used on the market channel's wire topic (§6: "topic|json").
func Topic(venue types.Venue, stream, symbol string) string {
	return string(venue) + "|" + stream + "|" + symbol
}

// MarketSubscriber receives topic-tagged frames. Topic encodes
// (venue, stream, symbol) per §6; subscribers filter by prefix so a
// strategy subscribed to one venue never pays for another's volume.
type MarketSubscriber struct {
	id     string
	prefix string
	ch     chan MarketMessage
}

// MarketMessage is one published frame, topic-tagged per §6's
// "topic|json" wire shape — callers render/parse the json payload
// themselves (internal/exchange adapters produce it, strategies consume
// it); the Broker only routes bytes.
type MarketMessage struct {
	Topic   string
	Payload []byte
}

// Chan returns the subscriber's read side.
func (s *MarketSubscriber) Chan() <-chan MarketMessage { return s.ch }

// MarketBus is the fan-out market channel. Overflow drops the oldest
// queued message for the lagging subscriber rather than blocking the
// publisher (§4.H: "dropped-oldest on overflow (market frames)").
type MarketBus struct {
	mu   sync.RWMutex
	subs map[string]*MarketSubscriber
}

// NewMarketBus creates an empty market bus.
func NewMarketBus() *MarketBus {
	return &MarketBus{subs: make(map[string]*MarketSubscriber)}
}

// Subscribe registers a subscriber interested in topics starting with
// prefix ("" matches everything) with the given bounded buffer size.
func (b *MarketBus) Subscribe(id, prefix string, bufferSize int) *MarketSubscriber {
	sub := &MarketSubscriber{id: id, prefix: prefix, ch: make(chan MarketMessage, bufferSize)}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *MarketBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Publish fans topic/payload out to every matching subscriber. A
// subscriber whose buffer is full has its oldest queued message dropped
// to make room — the publisher is never blocked by a slow reader.
func (b *MarketBus) Publish(topic string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msg := MarketMessage{Topic: topic, Payload: payload}
	for _, sub := range b.subs {
		if sub.prefix != "" && !strings.HasPrefix(topic, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- msg:
			default:
			}
		}
	}
}

// SubscriberCount reports how many subscribers are currently registered —
// used by introspection (§10 HTTP health surface).
func (b *MarketBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
