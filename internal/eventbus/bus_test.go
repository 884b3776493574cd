package eventbus

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"solana-trade-indexer/internal/domain"
)

func testEvent(sig string) *domain.NormalizedEvent {
	return &domain.NormalizedEvent{
		Kind:      domain.EventKindTrade,
		Signature: sig,
		Slot:      100,
		BlockTime: 1700000000,
		Mint:      "mintX",
		Trade: &domain.TradeEvent{
			Venue: domain.VenueBonding, Side: domain.SideBuy,
			TokenAmount: 1000, QuoteAmount: 50000, Price: 50,
		},
	}
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(testLogger())

	ch1, cancel1 := bus.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(4)
	defer cancel2()

	if err := bus.PublishEvents(context.Background(), []*domain.NormalizedEvent{testEvent("sig1")}); err != nil {
		t.Fatalf("PublishEvents: %v", err)
	}

	for i, ch := range []<-chan *domain.NormalizedEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Signature != "sig1" {
				t.Fatalf("subscriber %d got %q, want sig1", i, ev.Signature)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus(testLogger())

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	events := []*domain.NormalizedEvent{testEvent("sig1"), testEvent("sig2")}
	if err := bus.PublishEvents(context.Background(), events); err != nil {
		t.Fatalf("PublishEvents: %v", err)
	}

	ev := <-ch
	if ev.Signature != "sig1" {
		t.Fatalf("got %q, want sig1", ev.Signature)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected second delivery: %q", extra.Signature)
	default:
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus(testLogger())

	ch, cancel := bus.Subscribe(1)
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after cancel")
	}

	// Publishing after cancel must not panic or deliver.
	if err := bus.PublishEvents(context.Background(), []*domain.NormalizedEvent{testEvent("sig1")}); err != nil {
		t.Fatalf("PublishEvents after cancel: %v", err)
	}

	// Cancel twice is safe.
	cancel()
}

type recordingPublisher struct {
	events  int
	candles int
	err     error
}

func (r *recordingPublisher) PublishEvents(ctx context.Context, events []*domain.NormalizedEvent) error {
	r.events += len(events)
	return r.err
}

func (r *recordingPublisher) PublishCandles(ctx context.Context, candles []domain.Candle) error {
	r.candles += len(candles)
	return r.err
}

func TestFanoutContinuesPastFailures(t *testing.T) {
	failing := &recordingPublisher{err: context.DeadlineExceeded}
	healthy := &recordingPublisher{}
	fanout := NewFanout(testLogger(), failing, healthy)

	var failures []string
	fanout.OnError = func(sink string) { failures = append(failures, sink) }

	if err := fanout.PublishEvents(context.Background(), []*domain.NormalizedEvent{testEvent("sig1")}); err != nil {
		t.Fatalf("PublishEvents: %v", err)
	}
	if err := fanout.PublishCandles(context.Background(), []domain.Candle{{Mint: "mintX"}}); err != nil {
		t.Fatalf("PublishCandles: %v", err)
	}

	if healthy.events != 1 || healthy.candles != 1 {
		t.Fatalf("healthy publisher saw %d events, %d candles; want 1, 1", healthy.events, healthy.candles)
	}
	if failing.events != 1 {
		t.Fatalf("failing publisher saw %d events, want 1", failing.events)
	}
	// One failure per publish call, named by the sink's concrete type.
	if len(failures) != 2 || failures[0] != "*eventbus.recordingPublisher" {
		t.Fatalf("failures = %v, want two *eventbus.recordingPublisher entries", failures)
	}
}
