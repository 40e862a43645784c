package ipc

import (
	"sync"
	"testing"
	"time"

	"tradingcore/pkg/types"
)

func TestReportsBusDeliversOnlyToOwningStrategy(t *testing.T) {
	t.Parallel()
	bus := NewReportsBus()
	a := bus.Subscribe("s1", 4)
	b := bus.Subscribe("s2", 4)

	bus.PublishReport(types.OrderReport{StrategyID: "s1", Status: types.StateAccepted})

	select {
	case r := <-a.Chan():
		if r.StrategyID != "s1" {
			t.Errorf("StrategyID = %q, want s1", r.StrategyID)
		}
	case <-time.After(time.Second):
		t.Fatal("s1 did not receive its own report")
	}

	select {
	case <-b.Chan():
		t.Fatal("s2 must never receive s1's report")
	default:
	}
}

func TestReportsBusBlocksProducerOnFullBuffer(t *testing.T) {
	t.Parallel()
	bus := NewReportsBus()
	sub := bus.Subscribe("s1", 1)

	bus.PublishReport(types.OrderReport{StrategyID: "s1", Status: types.StateAccepted})

	published := make(chan struct{})
	go func() {
		bus.PublishReport(types.OrderReport{StrategyID: "s1", Status: types.StateFilled})
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("expected PublishReport to block while the buffer is full")
	case <-time.After(50 * time.Millisecond):
	}

	<-sub.Chan() // drain one slot
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("expected PublishReport to unblock once the buffer drains")
	}
}

func TestReportsBusPublishToAbsentSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()
	bus := NewReportsBus()

	done := make(chan struct{})
	go func() {
		bus.PublishReport(types.OrderReport{StrategyID: "ghost"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishReport to a strategy with no subscriber should not block")
	}
}

func TestReportsBusSubscribeReplacesPriorSubscriber(t *testing.T) {
	t.Parallel()
	bus := NewReportsBus()
	first := bus.Subscribe("s1", 4)
	second := bus.Subscribe("s1", 4)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, ok := <-first.Chan()
		if ok {
			t.Error("expected first subscriber's channel to be closed, not delivered to")
		}
	}()
	wg.Wait()

	bus.PublishReport(types.OrderReport{StrategyID: "s1"})
	select {
	case <-second.Chan():
	case <-time.After(time.Second):
		t.Fatal("expected the replacement subscriber to receive the report")
	}
}
