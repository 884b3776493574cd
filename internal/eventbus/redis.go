package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"solana-trade-indexer/internal/domain"
)

// RedisConfig holds Redis Streams publisher settings.
type RedisConfig struct {
	// Prefix namespaces every stream key.
	Prefix string
	// MaxLen trims each stream to approximately this many entries.
	MaxLen int64
}

// DefaultRedisConfig returns production defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Prefix: "indexer:",
		MaxLen: 10000,
	}
}

// RedisPublisher writes committed events and candles to per-topic Redis
// Streams. Trades go to "{prefix}trades:{venue}:{mint}", transfers to
// "{prefix}transfers:{mint}", candles to
// "{prefix}candles:{mint}:{timeframe}". Streams are trimmed with
// approximate MAXLEN on every append.
type RedisPublisher struct {
	cli *redis.Client
	cfg RedisConfig
}

// Compile-time interface check.
var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher creates a publisher over an existing client.
func NewRedisPublisher(cli *redis.Client, cfg RedisConfig) *RedisPublisher {
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultRedisConfig().MaxLen
	}
	return &RedisPublisher{cli: cli, cfg: cfg}
}

// PublishEvents implements Publisher.
func (p *RedisPublisher) PublishEvents(ctx context.Context, events []*domain.NormalizedEvent) error {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s/%d: %w", ev.Signature, ev.IxIndex, err)
		}

		err = p.cli.XAdd(ctx, &redis.XAddArgs{
			Stream: p.eventStream(ev),
			MaxLen: p.cfg.MaxLen,
			Approx: true,
			Values: map[string]any{
				"signature": ev.Signature,
				"ix_index":  strconv.Itoa(ev.IxIndex),
				"slot":      strconv.FormatInt(ev.Slot, 10),
				"kind":      string(ev.Kind),
				"mint":      ev.Mint,
				"payload":   payload,
			},
		}).Err()
		if err != nil {
			return fmt.Errorf("xadd event: %w", err)
		}
	}
	return nil
}

// PublishCandles implements Publisher.
func (p *RedisPublisher) PublishCandles(ctx context.Context, candles []domain.Candle) error {
	for _, c := range candles {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal candle: %w", err)
		}

		stream := fmt.Sprintf("%scandles:%s:%d", p.cfg.Prefix, c.Mint, c.TimeframeSecs)
		err = p.cli.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			MaxLen: p.cfg.MaxLen,
			Approx: true,
			Values: map[string]any{
				"bucket_start": strconv.FormatInt(c.BucketStart, 10),
				"close":        strconv.FormatUint(c.Close, 10),
				"payload":      payload,
			},
		}).Err()
		if err != nil {
			return fmt.Errorf("xadd candle: %w", err)
		}
	}
	return nil
}

func (p *RedisPublisher) eventStream(ev *domain.NormalizedEvent) string {
	if ev.Kind == domain.EventKindTrade && ev.Trade != nil {
		return fmt.Sprintf("%strades:%s:%s", p.cfg.Prefix, ev.Trade.Venue, ev.Mint)
	}
	return fmt.Sprintf("%stransfers:%s", p.cfg.Prefix, ev.Mint)
}
