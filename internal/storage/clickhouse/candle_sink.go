package clickhouse

import (
	"context"
	"fmt"

	"solana-trade-indexer/internal/domain"
	"solana-trade-indexer/internal/storage"
)

// CandleSink mirrors committed candles into ClickHouse for analytic
// queries. Postgres stays the source of truth; the candles table here
// is a ReplacingMergeTree keyed (mint, timeframe_secs, bucket_start)
// versioned by last_rank, so re-mirroring a merged candle supersedes
// the earlier row at merge time.
type CandleSink struct {
	conn *Conn
}

// NewCandleSink creates a new CandleSink.
func NewCandleSink(conn *Conn) *CandleSink {
	return &CandleSink{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleSink = (*CandleSink)(nil)

// InsertCandles appends a batch of candle snapshots.
func (s *CandleSink) InsertCandles(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			mint, timeframe_secs, bucket_start,
			open, high, low, close,
			volume_token, volume_quote, trade_count,
			first_rank, last_rank
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare candle batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.Mint, uint64(c.TimeframeSecs), uint64(c.BucketStart),
			c.Open, c.High, c.Low, c.Close,
			c.VolumeToken, c.VolumeQuote, uint64(c.TradeCount),
			c.FirstRank, c.LastRank,
		)
		if err != nil {
			return fmt.Errorf("append candle to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send candle batch: %w", err)
	}

	return nil
}

// CandlesByMint reads mirrored candles back, oldest bucket first. FINAL
// collapses superseded versions.
func (s *CandleSink) CandlesByMint(ctx context.Context, mint string, timeframeSecs int64) ([]domain.Candle, error) {
	query := `
		SELECT mint, timeframe_secs, bucket_start,
		       open, high, low, close,
		       volume_token, volume_quote, trade_count,
		       first_rank, last_rank
		FROM candles FINAL
		WHERE mint = ? AND timeframe_secs = ?
		ORDER BY bucket_start ASC
	`

	rows, err := s.conn.Query(ctx, query, mint, uint64(timeframeSecs))
	if err != nil {
		return nil, fmt.Errorf("query mirrored candles: %w", err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var timeframe, bucket, tradeCount uint64

		err := rows.Scan(
			&c.Mint, &timeframe, &bucket,
			&c.Open, &c.High, &c.Low, &c.Close,
			&c.VolumeToken, &c.VolumeQuote, &tradeCount,
			&c.FirstRank, &c.LastRank,
		)
		if err != nil {
			return nil, fmt.Errorf("scan mirrored candle row: %w", err)
		}
		c.TimeframeSecs = int64(timeframe)
		c.BucketStart = int64(bucket)
		c.TradeCount = int64(tradeCount)
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mirrored candle rows: %w", err)
	}
	return candles, nil
}
