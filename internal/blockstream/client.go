package blockstream

import (
	"context"
	"log"
	"time"

	"solana-trade-indexer/internal/domain"
)

// ClientConfig configures the reconnecting client.
type ClientConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	// Policy decides how slot gaps are handled.
	Policy GapPolicy
	// OnGap, when set, observes every detected gap before it is handled.
	OnGap func(gap SlotGap)
	// OnRepair, when set, observes repair start/end around backfill
	// fetches.
	OnRepair func(repairing bool)
	// OnReconnect, when set, observes every reconnect attempt to the
	// live source.
	OnReconnect func()
	// Logger defaults to log.Default().
	Logger *log.Logger
}

// DefaultClientConfig returns the default reconnect/backoff settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		Policy:            GapRepair,
	}
}

// Client turns a live Source into a gap-free ordered stream. It reopens
// the source with capped exponential backoff on disconnect, drops stale
// or duplicate slots, and on a gap either repairs the missing range from
// the backfill Fetcher or accepts the jump, per policy.
type Client struct {
	live     Source
	backfill Fetcher
	cfg      ClientConfig
	logger   *log.Logger
}

// NewClient creates a client over a live source and backfill fetcher.
// The fetcher may be nil when the policy is GapAccept.
func NewClient(live Source, backfill Fetcher, cfg ClientConfig) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultClientConfig().ReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = DefaultClientConfig().MaxReconnectDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Client{live: live, backfill: backfill, cfg: cfg, logger: logger}
}

// Open implements Source. The returned channel closes only when ctx is
// cancelled; upstream disconnects are retried internally.
func (c *Client) Open(ctx context.Context, fromSlot int64) (<-chan domain.Block, error) {
	out := make(chan domain.Block)
	go c.run(ctx, fromSlot, out)
	return out, nil
}

func (c *Client) run(ctx context.Context, fromSlot int64, out chan<- domain.Block) {
	defer close(out)

	next := fromSlot
	delay := c.cfg.ReconnectDelay

	for {
		blocks, err := c.live.Open(ctx, next)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Printf("blockstream: open from slot %d failed: %v, retrying in %s", next, err, delay)
			if !sleep(ctx, delay) {
				return
			}
			delay = nextDelay(delay, c.cfg.MaxReconnectDelay)
			c.reconnecting()
			continue
		}
		delay = c.cfg.ReconnectDelay

		advanced, ok := c.consume(ctx, blocks, next, out)
		if !ok {
			return
		}
		next = advanced
		if ctx.Err() != nil {
			return
		}
		c.logger.Printf("blockstream: stream ended at slot %d, reconnecting in %s", next-1, delay)
		if !sleep(ctx, delay) {
			return
		}
		delay = nextDelay(delay, c.cfg.MaxReconnectDelay)
		c.reconnecting()
	}
}

func (c *Client) reconnecting() {
	if c.cfg.OnReconnect != nil {
		c.cfg.OnReconnect()
	}
}

// consume forwards blocks until the channel closes, enforcing slot order.
// It returns the next expected slot and false if ctx was cancelled.
func (c *Client) consume(ctx context.Context, blocks <-chan domain.Block, next int64, out chan<- domain.Block) (int64, bool) {
	for {
		select {
		case <-ctx.Done():
			return next, false
		case b, open := <-blocks:
			if !open {
				return next, true
			}
			if b.Slot < next {
				// Replay after reconnect; already delivered.
				continue
			}
			if b.Slot > next {
				gap := SlotGap{Expected: next, Got: b.Slot}
				if c.cfg.OnGap != nil {
					c.cfg.OnGap(gap)
				}
				if !c.handleGap(ctx, gap, out) {
					return next, false
				}
			}
			if !send(ctx, out, b) {
				return next, false
			}
			next = b.Slot + 1
		}
	}
}

// handleGap repairs or accepts a gap. Repaired blocks are delivered
// before the block that exposed the gap, keeping the output ordered.
func (c *Client) handleGap(ctx context.Context, gap SlotGap, out chan<- domain.Block) bool {
	if c.cfg.Policy == GapAccept || c.backfill == nil {
		c.logger.Printf("blockstream: accepting %v", gap)
		return true
	}

	if c.cfg.OnRepair != nil {
		c.cfg.OnRepair(true)
		defer c.cfg.OnRepair(false)
	}

	delay := c.cfg.ReconnectDelay
	for {
		repaired, err := c.backfill.FetchBlocks(ctx, gap.Expected, gap.Got-1)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			c.logger.Printf("blockstream: repair of [%d,%d] failed: %v, retrying in %s", gap.Expected, gap.Got-1, err, delay)
			if !sleep(ctx, delay) {
				return false
			}
			delay = nextDelay(delay, c.cfg.MaxReconnectDelay)
			continue
		}
		for _, b := range repaired {
			if !send(ctx, out, b) {
				return false
			}
		}
		c.logger.Printf("blockstream: repaired %v with %d blocks", gap, len(repaired))
		return true
	}
}

func send(ctx context.Context, out chan<- domain.Block, b domain.Block) bool {
	select {
	case out <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func nextDelay(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		d = max
	}
	return d
}
