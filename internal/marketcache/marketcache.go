// Package marketcache implements the Trading Core's Market Cache
// (component E): a thread-safe map of per-(venue, symbol, stream) ring
// buffers for klines, trades, books and funding frames.
//
// Grounded on the teacher's market.Book (RWMutex-guarded snapshot store),
// generalized from "one book per market" to "one ring buffer per
// (venue, symbol, stream)" per §4.E, with per-bucket locking so the writer
// is never blocked by reader contention on another bucket.
package marketcache

import (
	"sync"

	"tradingcore/pkg/types"
)

// bucketKey identifies one ring buffer: a (venue, symbol, stream) tuple.
// Stream distinguishes channel and, for klines, interval, and for books,
// channel tag, so a top-5 and a diff feed for the same symbol never
// collide (§4.E).
type bucketKey struct {
	Venue  types.Venue
	Symbol string
	Stream string
}

// bucket is one ring buffer plus the lock guarding it. Write path is
// single-threaded per stream by construction (the adapter's parse
// goroutine); the lock exists for reader safety, not writer serialization.
type bucket struct {
	mu       sync.RWMutex
	frames   []types.MarketFrame
	capacity int
	head     int // index of the oldest frame once full
	size     int
}

func newBucket(capacity int) *bucket {
	return &bucket{frames: make([]types.MarketFrame, capacity), capacity: capacity}
}

// append adds a frame, overwriting the oldest slot once at capacity. The
// caller — Cache.Put — decides whether this is a fresh append or a kline
// coalesce before calling it.
func (b *bucket) append(f types.MarketFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size < b.capacity {
		b.frames[(b.head+b.size)%b.capacity] = f
		b.size++
		return
	}
	b.frames[b.head] = f
	b.head = (b.head + 1) % b.capacity
}

// replaceTail overwrites the most recently appended frame in place — used
// to coalesce an in-progress kline update (§3 Kline, §8 boundary behavior).
func (b *bucket) replaceTail(f types.MarketFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		b.frames[0] = f
		b.size = 1
		return
	}
	idx := (b.head + b.size - 1) % b.capacity
	b.frames[idx] = f
}

// tailOpenTS returns the open_ts of the most recent kline frame, or -1 if
// the bucket is empty or holds a non-kline frame.
func (b *bucket) tailOpenTS() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.size == 0 {
		return -1
	}
	idx := (b.head + b.size - 1) % b.capacity
	f := b.frames[idx]
	if f.Type != types.FrameKline || f.Kline == nil {
		return -1
	}
	return f.Kline.OpenTS
}

// snapshot returns a defensive copy of the last n frames in chronological
// order (n<=0 means all). Each frame's pointer field is deep-copied —
// otherwise a caller mutating a returned Kline/Trade/Book/FundingRate
// would reach back into the cache's own storage (§4.E, §3).
func (b *bucket) snapshot(n int) []types.MarketFrame {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]types.MarketFrame, n)
	start := b.size - n
	for i := 0; i < n; i++ {
		idx := (b.head + start + i) % b.capacity
		out[i] = cloneFrame(b.frames[idx])
	}
	return out
}

// cloneFrame deep-copies the one typed pointer field a MarketFrame carries,
// so a snapshot is safe for the caller to mutate.
func cloneFrame(f types.MarketFrame) types.MarketFrame {
	switch f.Type {
	case types.FrameKline:
		if f.Kline != nil {
			k := *f.Kline
			f.Kline = &k
		}
	case types.FrameTrade:
		if f.Trade != nil {
			tr := *f.Trade
			f.Trade = &tr
		}
	case types.FrameBook:
		if f.Book != nil {
			bk := *f.Book
			bk.Bids = append([]types.PriceLevel(nil), f.Book.Bids...)
			bk.Asks = append([]types.PriceLevel(nil), f.Book.Asks...)
			f.Book = &bk
		}
	case types.FrameFundingRate:
		if f.FundingRate != nil {
			fr := *f.FundingRate
			f.FundingRate = &fr
		}
	}
	return f
}

func (b *bucket) sinceIndex(predicate func(types.MarketFrame) bool) []types.MarketFrame {
	all := b.snapshot(0)
	out := make([]types.MarketFrame, 0, len(all))
	for _, f := range all {
		if predicate(f) {
			out = append(out, f)
		}
	}
	return out
}

// Cache is the Market Cache: one ring buffer per (venue, symbol, stream).
type Cache struct {
	mu         sync.RWMutex
	buckets    map[bucketKey]*bucket
	capacities Capacities
}

// Capacities sets the ring-buffer depth per stream type. Klines, trades,
// books and funding frames arrive at wildly different rates, so a single
// uniform depth either wastes memory on low-rate streams or starves
// high-rate ones of history (§3 Ring Buffer).
type Capacities struct {
	Kline       int
	Trade       int
	Book        int
	FundingRate int
}

// DefaultCapacities returns the per-stream-type ring depths §3 mandates.
func DefaultCapacities() Capacities {
	return Capacities{Kline: 7200, Trade: 10000, Book: 1000, FundingRate: 100}
}

func (c Capacities) forType(t types.FrameType) int {
	switch t {
	case types.FrameKline:
		return c.Kline
	case types.FrameTrade:
		return c.Trade
	case types.FrameBook:
		return c.Book
	case types.FrameFundingRate:
		return c.FundingRate
	default:
		return c.Trade
	}
}

// Uniform builds a Capacities with the same depth for every stream type —
// for tests that don't care about the per-type split.
func Uniform(n int) Capacities {
	return Capacities{Kline: n, Trade: n, Book: n, FundingRate: n}
}

// New creates an empty cache; each bucket created on first write is sized
// from capacities according to its frame type.
func New(capacities Capacities) *Cache {
	return &Cache{buckets: make(map[bucketKey]*bucket), capacities: capacities}
}

func streamOf(frame types.MarketFrame) string {
	switch frame.Type {
	case types.FrameKline:
		return string(types.ChanKline) + "|" + frame.Kline.Interval
	case types.FrameTrade:
		return string(types.ChanTrade)
	case types.FrameBook:
		return string(types.ChanBook) + "|" + frame.Book.ChannelTag
	case types.FrameFundingRate:
		return string(types.ChanFundingRate)
	default:
		return "unknown"
	}
}

func symbolOf(frame types.MarketFrame) string {
	switch frame.Type {
	case types.FrameKline:
		return frame.Kline.Symbol
	case types.FrameTrade:
		return frame.Trade.Symbol
	case types.FrameBook:
		return frame.Book.Symbol
	case types.FrameFundingRate:
		return frame.FundingRate.Symbol
	default:
		return ""
	}
}

// Put stores frame in its (venue, symbol, stream) bucket, creating the
// bucket on first write. Kline frames are coalesced by open_ts (§3, §8
// boundary behavior): an update to the currently open candle mutates the
// tail in place; a new open_ts appends a fresh slot.
func (c *Cache) Put(frame types.MarketFrame) {
	key := bucketKey{Venue: frame.Venue, Symbol: symbolOf(frame), Stream: streamOf(frame)}

	c.mu.Lock()
	b, ok := c.buckets[key]
	if !ok {
		b = newBucket(c.capacities.forType(frame.Type))
		c.buckets[key] = b
	}
	c.mu.Unlock()

	if frame.Type == types.FrameKline {
		if tail := b.tailOpenTS(); tail == frame.Kline.OpenTS {
			b.replaceTail(frame)
			return
		}
	}
	b.append(frame)
}

// LastN returns a defensive copy of the most recent n frames for
// (venue, symbol, stream); n<=0 returns the whole window. Returns nil if
// the bucket doesn't exist.
func (c *Cache) LastN(venue types.Venue, symbol, stream string, n int) []types.MarketFrame {
	c.mu.RLock()
	b, ok := c.buckets[bucketKey{Venue: venue, Symbol: symbol, Stream: stream}]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return b.snapshot(n)
}

// Since returns frames with event time >= sinceMS for (venue, symbol,
// stream). Returns nil if the bucket doesn't exist.
func (c *Cache) Since(venue types.Venue, symbol, stream string, sinceMS int64) []types.MarketFrame {
	c.mu.RLock()
	b, ok := c.buckets[bucketKey{Venue: venue, Symbol: symbol, Stream: stream}]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return b.sinceIndex(func(f types.MarketFrame) bool { return eventTime(f) >= sinceMS })
}

func eventTime(f types.MarketFrame) int64 {
	switch f.Type {
	case types.FrameKline:
		return f.Kline.OpenTS
	case types.FrameTrade:
		return f.Trade.TS
	case types.FrameBook:
		return f.Book.TS
	case types.FrameFundingRate:
		return f.FundingRate.TS
	default:
		return 0
	}
}

// Closes returns the derived close-price series for a kline stream,
// computed on demand rather than stored redundantly (§4.E).
func (c *Cache) Closes(venue types.Venue, symbol, interval string, n int) []string {
	frames := c.LastN(venue, symbol, string(types.ChanKline)+"|"+interval, n)
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		if f.Kline != nil {
			out = append(out, f.Kline.Close.String())
		}
	}
	return out
}

// Highs returns the derived high-price series for a kline stream.
func (c *Cache) Highs(venue types.Venue, symbol, interval string, n int) []string {
	frames := c.LastN(venue, symbol, string(types.ChanKline)+"|"+interval, n)
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		if f.Kline != nil {
			out = append(out, f.Kline.High.String())
		}
	}
	return out
}

// Volumes returns the derived volume series for a kline stream.
func (c *Cache) Volumes(venue types.Venue, symbol, interval string, n int) []string {
	frames := c.LastN(venue, symbol, string(types.ChanKline)+"|"+interval, n)
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		if f.Kline != nil {
			out = append(out, f.Kline.Volume.String())
		}
	}
	return out
}

// Timestamps returns the derived event-time series for a kline stream.
func (c *Cache) Timestamps(venue types.Venue, symbol, interval string, n int) []int64 {
	frames := c.LastN(venue, symbol, string(types.ChanKline)+"|"+interval, n)
	out := make([]int64, 0, len(frames))
	for _, f := range frames {
		if f.Kline != nil {
			out = append(out, f.Kline.OpenTS)
		}
	}
	return out
}
