package marketcache

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradingcore/pkg/types"
)

func klineFrame(openTS int64, close string, isClosed bool) types.MarketFrame {
	return types.MarketFrame{
		Type:  types.FrameKline,
		Venue: types.Binance,
		Kline: &types.Kline{
			Symbol: "BTCUSDT", Interval: "1m", OpenTS: openTS,
			Close: decimal.RequireFromString(close), IsClosed: isClosed,
		},
	}
}

func TestPutCoalescesSameOpenTS(t *testing.T) {
	t.Parallel()
	c := New(Uniform(10))

	c.Put(klineFrame(1000, "100", false))
	c.Put(klineFrame(1000, "101", false))
	c.Put(klineFrame(1000, "102", true))

	frames := c.LastN(types.Binance, "BTCUSDT", string(types.ChanKline)+"|1m", 0)
	if len(frames) != 1 {
		t.Fatalf("expected 1 coalesced frame, got %d", len(frames))
	}
	if frames[0].Kline.Close.String() != "102" {
		t.Errorf("Close = %s, want 102", frames[0].Kline.Close.String())
	}
}

func TestPutAppendsOnNewOpenTS(t *testing.T) {
	t.Parallel()
	c := New(Uniform(10))

	c.Put(klineFrame(1000, "100", true))
	c.Put(klineFrame(1060, "105", false))

	frames := c.LastN(types.Binance, "BTCUSDT", string(types.ChanKline)+"|1m", 0)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Kline.OpenTS != 1000 || frames[1].Kline.OpenTS != 1060 {
		t.Errorf("unexpected open_ts ordering: %v", frames)
	}
}

func TestRingBufferAtCapacityKeepsMostRecentN(t *testing.T) {
	t.Parallel()
	c := New(Uniform(3))

	for i := int64(0); i < 5; i++ {
		c.Put(klineFrame(i*60000, "1", true))
	}

	frames := c.LastN(types.Binance, "BTCUSDT", string(types.ChanKline)+"|1m", 0)
	if len(frames) != 3 {
		t.Fatalf("expected capacity-bound 3 frames, got %d", len(frames))
	}
	wantOpenTS := []int64{2 * 60000, 3 * 60000, 4 * 60000}
	for i, f := range frames {
		if f.Kline.OpenTS != wantOpenTS[i] {
			t.Errorf("frame[%d].OpenTS = %d, want %d", i, f.Kline.OpenTS, wantOpenTS[i])
		}
	}
}

func TestLastNReturnsDefensiveCopy(t *testing.T) {
	t.Parallel()
	c := New(Uniform(10))
	c.Put(klineFrame(1000, "100", true))

	frames := c.LastN(types.Binance, "BTCUSDT", string(types.ChanKline)+"|1m", 0)
	frames[0].Kline.Close = decimal.RequireFromString("999")

	again := c.LastN(types.Binance, "BTCUSDT", string(types.ChanKline)+"|1m", 0)
	if again[0].Kline.Close.String() == "999" {
		t.Error("mutating a returned snapshot must not affect the cache")
	}
}

func TestLastNOnUnknownBucketReturnsNil(t *testing.T) {
	t.Parallel()
	c := New(Uniform(10))
	if got := c.LastN(types.OKX, "ETHUSDT", "kline|5m", 0); got != nil {
		t.Errorf("expected nil for unknown bucket, got %v", got)
	}
}

func TestHighsReturnsDerivedSeries(t *testing.T) {
	t.Parallel()
	c := New(Uniform(10))
	c.Put(types.MarketFrame{
		Type: types.FrameKline, Venue: types.Binance,
		Kline: &types.Kline{Symbol: "BTCUSDT", Interval: "1m", OpenTS: 1000, High: decimal.RequireFromString("101.5"), IsClosed: true},
	})
	c.Put(types.MarketFrame{
		Type: types.FrameKline, Venue: types.Binance,
		Kline: &types.Kline{Symbol: "BTCUSDT", Interval: "1m", OpenTS: 1060, High: decimal.RequireFromString("102.25"), IsClosed: true},
	})

	highs := c.Highs(types.Binance, "BTCUSDT", "1m", 0)
	if len(highs) != 2 || highs[0] != "101.5" || highs[1] != "102.25" {
		t.Fatalf("Highs = %v, want [101.5 102.25]", highs)
	}
}

func TestSnapshotDeepCopiesBookLevels(t *testing.T) {
	t.Parallel()
	c := New(Uniform(10))
	c.Put(types.MarketFrame{
		Type: types.FrameBook, Venue: types.Binance,
		Book: &types.BookSnapshot{
			Symbol: "BTCUSDT", ChannelTag: "top5",
			Bids: []types.PriceLevel{{Price: decimal.RequireFromString("100"), Size: decimal.RequireFromString("1")}},
		},
	})

	frames := c.LastN(types.Binance, "BTCUSDT", string(types.ChanBook)+"|top5", 0)
	frames[0].Book.Bids[0].Price = decimal.RequireFromString("999")

	again := c.LastN(types.Binance, "BTCUSDT", string(types.ChanBook)+"|top5", 0)
	if again[0].Book.Bids[0].Price.String() == "999" {
		t.Error("mutating a returned snapshot's book levels must not affect the cache")
	}
}

func TestPerStreamTypeCapacityDefaults(t *testing.T) {
	t.Parallel()
	caps := DefaultCapacities()
	if caps.Kline != 7200 || caps.Trade != 10000 || caps.Book != 1000 || caps.FundingRate != 100 {
		t.Fatalf("DefaultCapacities = %+v, want {7200 10000 1000 100}", caps)
	}

	c := New(caps)
	for i := 0; i < caps.Book+5; i++ {
		c.Put(types.MarketFrame{Type: types.FrameBook, Venue: types.Binance, Book: &types.BookSnapshot{Symbol: "BTCUSDT", ChannelTag: "top5", TS: int64(i)}})
	}
	books := c.LastN(types.Binance, "BTCUSDT", string(types.ChanBook)+"|top5", 0)
	if len(books) != caps.Book {
		t.Fatalf("book bucket held %d frames, want capacity-bound %d", len(books), caps.Book)
	}
}

func TestDifferentStreamsDoNotCollide(t *testing.T) {
	t.Parallel()
	c := New(Uniform(10))

	c.Put(types.MarketFrame{Type: types.FrameBook, Venue: types.Binance, Book: &types.BookSnapshot{Symbol: "BTCUSDT", ChannelTag: "top5"}})
	c.Put(types.MarketFrame{Type: types.FrameBook, Venue: types.Binance, Book: &types.BookSnapshot{Symbol: "BTCUSDT", ChannelTag: "diff"}})

	top5 := c.LastN(types.Binance, "BTCUSDT", string(types.ChanBook)+"|top5", 0)
	diff := c.LastN(types.Binance, "BTCUSDT", string(types.ChanBook)+"|diff", 0)
	if len(top5) != 1 || len(diff) != 1 {
		t.Fatalf("expected isolated single-entry buckets, got top5=%d diff=%d", len(top5), len(diff))
	}
}
