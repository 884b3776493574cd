package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"solana-trade-indexer/internal/domain"
	"solana-trade-indexer/internal/storage"
)

// Store implements storage.Store using PostgreSQL. Events land in
// per-venue tables (token_transfers, bonding_curve_trades, amm_swaps,
// dlmm_trades), each keyed by (signature, ix_index).
type Store struct {
	pool *Pool
}

// NewStore creates a new Store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// eventTables lists every table holding rows keyed (signature, ix_index).
var eventTables = []string{
	"token_transfers",
	"bonding_curve_trades",
	"amm_swaps",
	"dlmm_trades",
}

// ExistingKeys returns which of the given keys are already persisted.
func (s *Store) ExistingKeys(ctx context.Context, keys []domain.EventKey) (map[domain.EventKey]bool, error) {
	existing := make(map[domain.EventKey]bool)
	if len(keys) == 0 {
		return existing, nil
	}

	sigs := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k.Signature]; ok {
			continue
		}
		seen[k.Signature] = struct{}{}
		sigs = append(sigs, k.Signature)
	}

	requested := make(map[domain.EventKey]struct{}, len(keys))
	for _, k := range keys {
		requested[k] = struct{}{}
	}

	for _, table := range eventTables {
		query := fmt.Sprintf(
			`SELECT signature, ix_index FROM %s WHERE signature = ANY($1)`, table)

		rows, err := s.pool.Query(ctx, query, sigs)
		if err != nil {
			return nil, fmt.Errorf("query existing keys in %s: %w", table, err)
		}
		for rows.Next() {
			var key domain.EventKey
			if err := rows.Scan(&key.Signature, &key.IxIndex); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan existing key: %w", err)
			}
			if _, ok := requested[key]; ok {
				existing[key] = true
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate existing key rows: %w", err)
		}
	}

	return existing, nil
}

// CommitBatch persists a block batch in a single transaction: events,
// lazily-created mints, balance deltas, candle merges and the checkpoint
// advance all land together or not at all.
func (s *Store) CommitBatch(ctx context.Context, batch *storage.Batch) error {
	if batch.StreamID == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, ev := range batch.Events {
		if err := insertEvent(ctx, tx, ev); err != nil {
			// The insert conflict targets cover the primary key, so a
			// unique violation here means the row clashed with another
			// unique index. That is not transient; surface it as a
			// duplicate so the retry loop fails fast.
			if isDuplicateKeyError(err) {
				return fmt.Errorf("insert event %s/%d: %w", ev.Signature, ev.IxIndex, storage.ErrDuplicateKey)
			}
			return err
		}
	}
	if err := upsertMints(ctx, tx, batch.Mints); err != nil {
		return err
	}
	negatives, err := applyDeltas(ctx, tx, batch.Deltas)
	if err != nil {
		return err
	}
	if err := mergeCandles(ctx, tx, batch.Candles); err != nil {
		return err
	}
	if err := advanceCheckpoint(ctx, tx, batch.StreamID, batch.Slot); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	batch.Negatives = negatives
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev *domain.NormalizedEvent) error {
	switch ev.Kind {
	case domain.EventKindTransfer:
		return insertTransfer(ctx, tx, ev)
	case domain.EventKindTrade:
		return insertTrade(ctx, tx, ev)
	default:
		return storage.ErrInvalidInput
	}
}

func insertTransfer(ctx context.Context, tx pgx.Tx, ev *domain.NormalizedEvent) error {
	query := `
		INSERT INTO token_transfers (
			signature, ix_index, slot, block_time, tx_index, mint,
			kind, source_owner, dest_owner, source_ata, dest_ata, amount
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (signature, ix_index) DO NOTHING
	`

	t := ev.Transfer
	_, err := tx.Exec(ctx, query,
		ev.Signature, ev.IxIndex, ev.Slot, ev.BlockTime, ev.TxIndex, ev.Mint,
		t.Kind, t.SourceOwner, t.DestOwner, t.SourceATA, t.DestATA, int64(t.Amount),
	)
	if err != nil {
		return fmt.Errorf("insert token transfer: %w", err)
	}
	return nil
}

func insertTrade(ctx context.Context, tx pgx.Tx, ev *domain.NormalizedEvent) error {
	t := ev.Trade
	switch t.Venue {
	case domain.VenueBonding:
		query := `
			INSERT INTO bonding_curve_trades (
				signature, ix_index, slot, block_time, tx_index, mint,
				pool, trader, side, token_amount, quote_amount, price
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (signature, ix_index) DO NOTHING
		`
		_, err := tx.Exec(ctx, query,
			ev.Signature, ev.IxIndex, ev.Slot, ev.BlockTime, ev.TxIndex, ev.Mint,
			t.Pool, t.Trader, t.Side,
			int64(t.TokenAmount), int64(t.QuoteAmount), int64(t.Price),
		)
		if err != nil {
			return fmt.Errorf("insert bonding curve trade: %w", err)
		}
	case domain.VenueAMM:
		query := `
			INSERT INTO amm_swaps (
				signature, ix_index, slot, block_time, tx_index, mint,
				pool, trader, side, token_amount, quote_amount, price,
				input_mint, output_mint
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (signature, ix_index) DO NOTHING
		`
		_, err := tx.Exec(ctx, query,
			ev.Signature, ev.IxIndex, ev.Slot, ev.BlockTime, ev.TxIndex, ev.Mint,
			t.Pool, t.Trader, t.Side,
			int64(t.TokenAmount), int64(t.QuoteAmount), int64(t.Price),
			t.InputMint, t.OutputMint,
		)
		if err != nil {
			return fmt.Errorf("insert amm swap: %w", err)
		}
	case domain.VenueDLMM:
		query := `
			INSERT INTO dlmm_trades (
				signature, ix_index, slot, block_time, tx_index, mint,
				pool, trader, side, token_amount, quote_amount, price,
				active_bin, bins_touched
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (signature, ix_index) DO NOTHING
		`
		_, err := tx.Exec(ctx, query,
			ev.Signature, ev.IxIndex, ev.Slot, ev.BlockTime, ev.TxIndex, ev.Mint,
			t.Pool, t.Trader, t.Side,
			int64(t.TokenAmount), int64(t.QuoteAmount), int64(t.Price),
			t.ActiveBin, t.BinsTouched,
		)
		if err != nil {
			return fmt.Errorf("insert dlmm trade: %w", err)
		}
	default:
		return storage.ErrInvalidInput
	}
	return nil
}

func upsertMints(ctx context.Context, tx pgx.Tx, mints []domain.Mint) error {
	query := `
		INSERT INTO mints (address, decimals, first_seen_slot)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE
		SET first_seen_slot = LEAST(mints.first_seen_slot, EXCLUDED.first_seen_slot)
	`

	for _, m := range mints {
		if _, err := tx.Exec(ctx, query, m.Address, int16(m.Decimals), m.FirstSeenSlot); err != nil {
			return fmt.Errorf("upsert mint %s: %w", m.Address, err)
		}
	}
	return nil
}

// applyDeltas folds balance deltas into the balances table and reports
// the balances the batch left below zero, sorted by (wallet, mint).
func applyDeltas(ctx context.Context, tx pgx.Tx, deltas []domain.BalanceDelta) ([]domain.Balance, error) {
	query := `
		INSERT INTO balances (wallet, mint, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (wallet, mint) DO UPDATE
		SET amount = balances.amount + EXCLUDED.amount
		RETURNING amount
	`

	// Several deltas may hit the same key; the last returned amount is
	// the final one.
	type key struct{ wallet, mint string }
	final := make(map[key]int64, len(deltas))
	for _, d := range deltas {
		var amount int64
		if err := tx.QueryRow(ctx, query, d.Wallet, d.Mint, d.Delta).Scan(&amount); err != nil {
			return nil, fmt.Errorf("apply balance delta: %w", err)
		}
		final[key{wallet: d.Wallet, mint: d.Mint}] = amount
	}

	var negatives []domain.Balance
	for k, amount := range final {
		if amount < 0 {
			negatives = append(negatives, domain.Balance{Wallet: k.wallet, Mint: k.mint, Amount: amount})
		}
	}
	sort.Slice(negatives, func(i, j int) bool {
		if negatives[i].Wallet != negatives[j].Wallet {
			return negatives[i].Wallet < negatives[j].Wallet
		}
		return negatives[i].Mint < negatives[j].Mint
	})
	return negatives, nil
}

// mergeCandles folds partial candles into stored ones. The rank columns
// decide which side contributes the open and close, so repaired slots
// arriving after later ones still produce the right candle.
func mergeCandles(ctx context.Context, tx pgx.Tx, candles []domain.Candle) error {
	query := `
		INSERT INTO candles (
			mint, timeframe_secs, bucket_start,
			open, high, low, close,
			volume_token, volume_quote, trade_count,
			first_rank, last_rank
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (mint, timeframe_secs, bucket_start) DO UPDATE SET
			open = CASE WHEN EXCLUDED.first_rank < candles.first_rank
				THEN EXCLUDED.open ELSE candles.open END,
			close = CASE WHEN EXCLUDED.last_rank > candles.last_rank
				THEN EXCLUDED.close ELSE candles.close END,
			high = GREATEST(candles.high, EXCLUDED.high),
			low = LEAST(candles.low, EXCLUDED.low),
			volume_token = candles.volume_token + EXCLUDED.volume_token,
			volume_quote = candles.volume_quote + EXCLUDED.volume_quote,
			trade_count = candles.trade_count + EXCLUDED.trade_count,
			first_rank = LEAST(candles.first_rank, EXCLUDED.first_rank),
			last_rank = GREATEST(candles.last_rank, EXCLUDED.last_rank)
	`

	for _, c := range candles {
		_, err := tx.Exec(ctx, query,
			c.Mint, c.TimeframeSecs, c.BucketStart,
			int64(c.Open), int64(c.High), int64(c.Low), int64(c.Close),
			int64(c.VolumeToken), int64(c.VolumeQuote), c.TradeCount,
			c.FirstRank, c.LastRank,
		)
		if err != nil {
			return fmt.Errorf("merge candle: %w", err)
		}
	}
	return nil
}

func advanceCheckpoint(ctx context.Context, tx pgx.Tx, streamID string, slot int64) error {
	query := `
		INSERT INTO checkpoints (stream_id, slot)
		VALUES ($1, $2)
		ON CONFLICT (stream_id) DO UPDATE
		SET slot = GREATEST(checkpoints.slot, EXCLUDED.slot)
	`

	if _, err := tx.Exec(ctx, query, streamID, slot); err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}

// Checkpoint returns the stream's committed checkpoint.
func (s *Store) Checkpoint(ctx context.Context, streamID string) (*domain.Checkpoint, error) {
	query := `SELECT stream_id, slot FROM checkpoints WHERE stream_id = $1`

	var cp domain.Checkpoint
	err := s.pool.QueryRow(ctx, query, streamID).Scan(&cp.StreamID, &cp.Slot)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return &cp, nil
}
