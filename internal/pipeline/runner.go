package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"solana-trade-indexer/internal/blockstream"
	"solana-trade-indexer/internal/domain"
	"solana-trade-indexer/internal/eventbus"
	"solana-trade-indexer/internal/observability"
	"solana-trade-indexer/internal/parser"
)

// RunnerConfig configures the pipeline loop.
type RunnerConfig struct {
	// StartSlot overrides the resume point when > 0. Otherwise the
	// pipeline resumes after its checkpoint, or from the tip on a cold
	// start.
	StartSlot int64
	// Workers sizes the per-transaction parse pool.
	Workers int
	// LiveLagSlots separates Backfilling from LiveTailing.
	LiveLagSlots int64
	// TipRefreshInterval bounds how often the tip is polled for state
	// decisions.
	TipRefreshInterval time.Duration
	// Logger defaults to log.Default().
	Logger *log.Logger
}

// DefaultRunnerConfig returns production defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:            4,
		LiveLagSlots:       50,
		TipRefreshInterval: 10 * time.Second,
	}
}

// Runner owns the pipeline loop: one sequential block reader, a parse
// fan-out per transaction rejoined in stream order, one in-flight
// commit, then post-commit fan-out.
type Runner struct {
	source    blockstream.Source
	tipReader blockstream.TipReader
	router    *parser.Router
	writer    *Writer
	publisher eventbus.Publisher
	metrics   *observability.Metrics
	cfg       RunnerConfig
	logger    *log.Logger

	state *stateMachine

	// retriesSeen tracks the writer's retry count already exported to
	// metrics. Only the block loop touches it.
	retriesSeen int

	tipMu      sync.Mutex
	tipSlot    int64
	tipFetched time.Time
}

// NewRunner creates a Runner. The publisher and metrics are optional.
func NewRunner(source blockstream.Source, tipReader blockstream.TipReader, router *parser.Router, writer *Writer, publisher eventbus.Publisher, metrics *observability.Metrics, cfg RunnerConfig) *Runner {
	def := DefaultRunnerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.LiveLagSlots <= 0 {
		cfg.LiveLagSlots = def.LiveLagSlots
	}
	if cfg.TipRefreshInterval <= 0 {
		cfg.TipRefreshInterval = def.TipRefreshInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		source:    source,
		tipReader: tipReader,
		router:    router,
		writer:    writer,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
}

// State returns the pipeline's current state.
func (r *Runner) State() State {
	if r.state == nil {
		return Backfilling
	}
	return r.state.current()
}

// OnGap observes a detected slot gap. Wire into the stream client's
// OnGap callback.
func (r *Runner) OnGap(gap blockstream.SlotGap) {
	r.logger.Printf("pipeline: %v", gap)
	if r.metrics != nil {
		r.metrics.SlotGapsTotal.Inc()
	}
}

// OnReconnect observes live stream reconnect attempts. Wire into the
// stream client's OnReconnect callback.
func (r *Runner) OnReconnect() {
	if r.metrics != nil {
		r.metrics.ReconnectsTotal.Inc()
	}
}

// OnRepair observes repair begin/end. Wire into the stream client's
// OnRepair callback.
func (r *Runner) OnRepair(active bool) {
	if r.state != nil {
		r.state.repairing(active)
	}
	if r.metrics != nil && !active {
		r.metrics.RepairsTotal.WithLabelValues("repaired").Inc()
	}
}

// Run drives the pipeline until ctx is cancelled or a commit fails
// permanently.
func (r *Runner) Run(ctx context.Context) error {
	fromSlot, err := r.resumeSlot(ctx)
	if err != nil {
		return err
	}

	tip := r.refreshTip(ctx)
	initial := StateFor(fromSlot-1, tip, r.cfg.LiveLagSlots)
	r.state = newStateMachine(initial, r.stateChanged)
	r.logger.Printf("pipeline: starting from slot %d in state %s", fromSlot, initial)

	blocks, err := r.source.Open(ctx, fromSlot)
	if err != nil {
		return fmt.Errorf("open block stream: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, open := <-blocks:
			if !open {
				return ctx.Err()
			}
			if err := r.handleBlock(ctx, b); err != nil {
				return err
			}
		}
	}
}

// resumeSlot picks where to start: explicit override, after the
// checkpoint, or the current tip on a cold start.
func (r *Runner) resumeSlot(ctx context.Context) (int64, error) {
	if r.cfg.StartSlot > 0 {
		return r.cfg.StartSlot, nil
	}

	cp, err := r.writer.Checkpoint(ctx)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp >= 0 {
		return cp + 1, nil
	}

	if r.tipReader != nil {
		tip, err := r.tipReader.TipSlot(ctx)
		if err != nil {
			return 0, fmt.Errorf("read tip slot: %w", err)
		}
		return tip, nil
	}
	return 0, nil
}

func (r *Runner) handleBlock(ctx context.Context, b domain.Block) error {
	if r.metrics != nil {
		r.metrics.BlocksReceived.Inc()
		r.metrics.HighestSlotSeen.Set(float64(b.Slot))
	}

	events := r.parseBlock(b)

	start := time.Now()
	batch, duplicates, err := r.writer.Commit(ctx, b.Slot, events)
	if err != nil {
		return err
	}

	for _, nb := range batch.Negatives {
		r.logger.Printf("pipeline: negative balance %s/%s = %d after slot %d",
			nb.Wallet, nb.Mint, nb.Amount, b.Slot)
	}

	if r.metrics != nil {
		r.metrics.BatchesCommitted.Inc()
		r.metrics.CommitDuration.Observe(time.Since(start).Seconds())
		r.metrics.CheckpointSlot.Set(float64(b.Slot))
		if duplicates > 0 {
			r.metrics.DuplicateEventsTotal.Add(float64(duplicates))
		}
		if n := r.writer.Retries(); n > r.retriesSeen {
			r.metrics.CommitRetriesTotal.Add(float64(n - r.retriesSeen))
			r.retriesSeen = n
		}
		if len(batch.Negatives) > 0 {
			r.metrics.NegativeBalancesTotal.Add(float64(len(batch.Negatives)))
		}
		for _, ev := range batch.Events {
			r.metrics.EventsCommitted.WithLabelValues(string(ev.Kind)).Inc()
		}
	}

	if r.publisher != nil {
		if err := r.publisher.PublishEvents(ctx, batch.Events); err != nil {
			r.logger.Printf("pipeline: publish events for slot %d: %v", b.Slot, err)
		}
		if err := r.publisher.PublishCandles(ctx, batch.Candles); err != nil {
			r.logger.Printf("pipeline: publish candles for slot %d: %v", b.Slot, err)
		}
	}

	r.updateState(ctx, b.Slot)
	return nil
}

// parseBlock fans transactions out over the worker pool and rejoins
// results in (tx_index, ix_index) order.
func (r *Runner) parseBlock(b domain.Block) []*domain.NormalizedEvent {
	txs := b.Transactions
	if len(txs) == 0 {
		return nil
	}

	results := make([][]*domain.NormalizedEvent, len(txs))
	if r.cfg.Workers <= 1 || len(txs) == 1 {
		for i, tx := range txs {
			results[i] = r.router.ParseTransaction(b.Slot, b.BlockTime, tx)
		}
	} else {
		// Stateful parsers (the SPL token-account registry) must observe
		// the block in stream order first; otherwise whether a plain
		// transfer resolves would depend on worker scheduling.
		for _, tx := range txs {
			r.router.PrescanTransaction(tx)
		}

		jobs := make(chan int)
		var wg sync.WaitGroup
		workers := r.cfg.Workers
		if workers > len(txs) {
			workers = len(txs)
		}
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					results[i] = r.router.ParseTransaction(b.Slot, b.BlockTime, txs[i])
				}
			}()
		}
		for i := range txs {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
	}

	var events []*domain.NormalizedEvent
	for _, res := range results {
		events = append(events, res...)
	}
	if r.metrics != nil {
		for _, ev := range events {
			r.metrics.EventsParsed.WithLabelValues(string(ev.Kind)).Inc()
		}
	}
	return events
}

// updateState rechecks the backfill/live boundary against a cached tip.
func (r *Runner) updateState(ctx context.Context, slot int64) {
	tip := r.refreshTip(ctx)
	if tip <= 0 {
		return
	}
	r.state.set(StateFor(slot, tip, r.cfg.LiveLagSlots))
}

func (r *Runner) refreshTip(ctx context.Context) int64 {
	if r.tipReader == nil {
		return 0
	}

	r.tipMu.Lock()
	defer r.tipMu.Unlock()
	if time.Since(r.tipFetched) < r.cfg.TipRefreshInterval && r.tipSlot > 0 {
		return r.tipSlot
	}

	tip, err := r.tipReader.TipSlot(ctx)
	if err != nil {
		r.logger.Printf("pipeline: read tip slot: %v", err)
		return r.tipSlot
	}
	r.tipSlot = tip
	r.tipFetched = time.Now()
	return tip
}

func (r *Runner) stateChanged(s State) {
	r.logger.Printf("pipeline: state -> %s", s)
	if r.metrics != nil {
		r.metrics.SetState(s.String())
	}
}
