// Package eventbus fans committed events out to downstream consumers.
// Publishing happens strictly after the storage commit, so subscribers
// only ever see durable events.
package eventbus

import (
	"context"
	"fmt"
	"log"
	"sync"

	"solana-trade-indexer/internal/domain"
)

// Publisher receives post-commit notifications.
type Publisher interface {
	PublishEvents(ctx context.Context, events []*domain.NormalizedEvent) error
	PublishCandles(ctx context.Context, candles []domain.Candle) error
}

// Bus is an in-process Publisher with channel subscribers. Slow
// subscribers lose notifications rather than stall the pipeline.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan *domain.NormalizedEvent
	logger *log.Logger
}

// Compile-time interface check.
var _ Publisher = (*Bus)(nil)

// NewBus creates an empty bus. A nil logger falls back to log.Default().
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		subs:   make(map[int]chan *domain.NormalizedEvent),
		logger: logger,
	}
}

// Subscribe registers a buffered subscriber channel. The returned
// cancel function unregisters and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan *domain.NormalizedEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *domain.NormalizedEvent, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// PublishEvents delivers events to every subscriber. Full subscriber
// buffers drop the event.
func (b *Bus) PublishEvents(ctx context.Context, events []*domain.NormalizedEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ev := range events {
		for id, ch := range b.subs {
			select {
			case ch <- ev:
			default:
				b.logger.Printf("eventbus: subscriber %d full, dropping event %s/%d",
					id, ev.Signature, ev.IxIndex)
			}
		}
	}
	return nil
}

// PublishCandles is a no-op for the in-process bus; channel subscribers
// consume events, not aggregates.
func (b *Bus) PublishCandles(ctx context.Context, candles []domain.Candle) error {
	return nil
}

// Fanout publishes to several publishers in order. Errors are logged
// and swallowed so one failing sink cannot block the others or the
// pipeline.
type Fanout struct {
	publishers []Publisher
	logger     *log.Logger

	// OnError observes per-publisher failures; the sink name is the
	// publisher's concrete type. Optional, set before publishing starts.
	OnError func(sink string)
}

// Compile-time interface check.
var _ Publisher = (*Fanout)(nil)

// NewFanout creates a Fanout over the given publishers.
func NewFanout(logger *log.Logger, publishers ...Publisher) *Fanout {
	if logger == nil {
		logger = log.Default()
	}
	return &Fanout{publishers: publishers, logger: logger}
}

// PublishEvents implements Publisher.
func (f *Fanout) PublishEvents(ctx context.Context, events []*domain.NormalizedEvent) error {
	for _, p := range f.publishers {
		if err := p.PublishEvents(ctx, events); err != nil {
			f.logger.Printf("eventbus: publish events: %v", err)
			f.fail(p)
		}
	}
	return nil
}

// PublishCandles implements Publisher.
func (f *Fanout) PublishCandles(ctx context.Context, candles []domain.Candle) error {
	for _, p := range f.publishers {
		if err := p.PublishCandles(ctx, candles); err != nil {
			f.logger.Printf("eventbus: publish candles: %v", err)
			f.fail(p)
		}
	}
	return nil
}

func (f *Fanout) fail(p Publisher) {
	if f.OnError != nil {
		f.OnError(fmt.Sprintf("%T", p))
	}
}
