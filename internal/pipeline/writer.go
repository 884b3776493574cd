package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"solana-trade-indexer/internal/candles"
	"solana-trade-indexer/internal/domain"
	"solana-trade-indexer/internal/ledger"
	"solana-trade-indexer/internal/storage"
)

// WriterConfig configures batch building and commit retries.
type WriterConfig struct {
	// StreamID keys the checkpoint row.
	StreamID string
	// Timeframes for candle aggregation. Empty uses the defaults.
	Timeframes []int64
	// MaxAttempts bounds commit retries before the error is fatal.
	MaxAttempts int
	// RetryDelay is the initial backoff between commit attempts.
	RetryDelay time.Duration
	// MaxRetryDelay caps the backoff.
	MaxRetryDelay time.Duration
	// KeepOwner filters wallets out of the balance ledger. Nil keeps all.
	KeepOwner func(wallet string) bool
	// Decimals resolves a mint's decimals for lazy mint creation.
	// Nil or unresolved records the mint with zero decimals.
	Decimals func(mint string) (uint8, bool)
	// Logger defaults to log.Default().
	Logger *log.Logger
}

// DefaultWriterConfig returns production defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		StreamID:      domain.DefaultStreamID,
		Timeframes:    domain.DefaultTimeframes,
		MaxAttempts:   5,
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Writer turns parsed events into idempotent storage batches. Derived
// state (balance deltas, candle merges, mints) is computed only from
// events not already persisted, so redelivered blocks are no-ops.
type Writer struct {
	store  storage.EventWriter
	cfg    WriterConfig
	logger *log.Logger

	// retries counts commit retries. Only the single commit goroutine
	// touches it.
	retries int
}

// NewWriter creates a Writer.
func NewWriter(store storage.EventWriter, cfg WriterConfig) *Writer {
	def := DefaultWriterConfig()
	if cfg.StreamID == "" {
		cfg.StreamID = def.StreamID
	}
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = def.Timeframes
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = def.MaxRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Writer{store: store, cfg: cfg, logger: logger}
}

// Commit builds and commits a batch for one block's events. The
// returned batch holds only the events that were actually new; callers
// publish those after the commit returns. Duplicates reports how many
// redelivered events were dropped by the pre-filter.
func (w *Writer) Commit(ctx context.Context, slot int64, events []*domain.NormalizedEvent) (batch *storage.Batch, duplicates int, err error) {
	fresh, duplicates, err := w.filterExisting(ctx, events)
	if err != nil {
		return nil, 0, err
	}

	batch = w.buildBatch(slot, fresh)
	if err := w.commitWithRetry(ctx, batch); err != nil {
		return nil, duplicates, err
	}
	return batch, duplicates, nil
}

func (w *Writer) filterExisting(ctx context.Context, events []*domain.NormalizedEvent) ([]*domain.NormalizedEvent, int, error) {
	if len(events) == 0 {
		return nil, 0, nil
	}

	keys := make([]domain.EventKey, len(events))
	for i, ev := range events {
		keys[i] = ev.Key()
	}
	existing, err := w.store.ExistingKeys(ctx, keys)
	if err != nil {
		return nil, 0, fmt.Errorf("check existing keys: %w", err)
	}
	if len(existing) == 0 {
		return events, 0, nil
	}

	fresh := make([]*domain.NormalizedEvent, 0, len(events))
	for _, ev := range events {
		if existing[ev.Key()] {
			continue
		}
		fresh = append(fresh, ev)
	}
	return fresh, len(events) - len(fresh), nil
}

func (w *Writer) buildBatch(slot int64, fresh []*domain.NormalizedEvent) *storage.Batch {
	batch := &storage.Batch{
		StreamID: w.cfg.StreamID,
		Slot:     slot,
		Events:   fresh,
	}

	agg := candles.New(w.cfg.Timeframes)
	mintSlots := make(map[string]int64)

	for _, ev := range fresh {
		for _, d := range ledger.DeltasFor(ev) {
			if w.cfg.KeepOwner != nil && !w.cfg.KeepOwner(d.Wallet) {
				continue
			}
			batch.Deltas = append(batch.Deltas, d)
		}
		agg.Apply(ev)

		if first, ok := mintSlots[ev.Mint]; !ok || ev.Slot < first {
			mintSlots[ev.Mint] = ev.Slot
		}
	}
	batch.Candles = agg.Candles()

	for mint, firstSlot := range mintSlots {
		m := domain.Mint{Address: mint, FirstSeenSlot: firstSlot}
		if w.cfg.Decimals != nil {
			if d, ok := w.cfg.Decimals(mint); ok {
				m.Decimals = d
			}
		}
		batch.Mints = append(batch.Mints, m)
	}
	return batch
}

// commitWithRetry retries transient commit failures with capped backoff.
// Retries counts attempts beyond the first; the checkpoint only advances
// when the whole batch lands.
func (w *Writer) commitWithRetry(ctx context.Context, batch *storage.Batch) error {
	delay := w.cfg.RetryDelay

	var err error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		err = w.store.CommitBatch(ctx, batch)
		if err == nil {
			w.retries += attempt - 1
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Logical conflicts and bad batches fail the same way on every
		// attempt. Retrying them only delays the crash.
		if errors.Is(err, storage.ErrDuplicateKey) || errors.Is(err, storage.ErrInvalidInput) {
			w.retries += attempt - 1
			return fmt.Errorf("commit slot %d: %w", batch.Slot, err)
		}
		if attempt == w.cfg.MaxAttempts {
			break
		}
		w.logger.Printf("pipeline: commit of slot %d failed (attempt %d/%d): %v, retrying in %s",
			batch.Slot, attempt, w.cfg.MaxAttempts, err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > w.cfg.MaxRetryDelay {
			delay = w.cfg.MaxRetryDelay
		}
	}
	return fmt.Errorf("commit slot %d after %d attempts: %w", batch.Slot, w.cfg.MaxAttempts, err)
}

// Checkpoint returns the stream's committed checkpoint slot, or -1 when
// no checkpoint exists yet.
func (w *Writer) Checkpoint(ctx context.Context) (int64, error) {
	cp, err := w.store.Checkpoint(ctx, w.cfg.StreamID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return -1, nil
		}
		return 0, err
	}
	return cp.Slot, nil
}

// Retries reports the total number of commit retries so far.
func (w *Writer) Retries() int { return w.retries }
