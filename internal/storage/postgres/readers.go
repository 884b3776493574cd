package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"solana-trade-indexer/internal/domain"
	"solana-trade-indexer/internal/storage"
)

// EventsByMint returns every persisted event for a mint in stream order,
// oldest first. Used by the replay reconciler.
func (s *Store) EventsByMint(ctx context.Context, mint string) ([]*domain.NormalizedEvent, error) {
	transfers, err := s.queryTransfers(ctx, mint, 0, 0)
	if err != nil {
		return nil, err
	}
	trades, err := s.queryTrades(ctx, mint, 0, 0)
	if err != nil {
		return nil, err
	}

	events := append(transfers, trades...)
	sort.Slice(events, func(i, j int) bool { return events[i].Rank() < events[j].Rank() })
	return events, nil
}

// TransfersByMint returns transfers for a mint, newest first.
// beforeSlot <= 0 means from the tip.
func (s *Store) TransfersByMint(ctx context.Context, mint string, beforeSlot int64, limit int) ([]*domain.NormalizedEvent, error) {
	events, err := s.queryTransfers(ctx, mint, beforeSlot, limit)
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Rank() > events[j].Rank() })
	return events, nil
}

// TradesByMint returns trades for a mint across all venues, newest first.
// beforeSlot <= 0 means from the tip.
func (s *Store) TradesByMint(ctx context.Context, mint string, beforeSlot int64, limit int) ([]*domain.NormalizedEvent, error) {
	events, err := s.queryTrades(ctx, mint, beforeSlot, limit)
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Rank() > events[j].Rank() })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *Store) queryTransfers(ctx context.Context, mint string, beforeSlot int64, limit int) ([]*domain.NormalizedEvent, error) {
	query := `
		SELECT signature, ix_index, slot, block_time, tx_index, mint,
		       kind, source_owner, dest_owner, source_ata, dest_ata, amount
		FROM token_transfers
		WHERE mint = $1 AND ($2 <= 0 OR slot < $2)
		ORDER BY slot DESC, tx_index DESC, ix_index DESC
	`
	args := []any{mint, beforeSlot}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query token transfers: %w", err)
	}
	defer rows.Close()

	return scanTransfers(rows)
}

// queryTrades unions the three venue tables. The limit applies per
// table; callers re-sort and trim the merged result.
func (s *Store) queryTrades(ctx context.Context, mint string, beforeSlot int64, limit int) ([]*domain.NormalizedEvent, error) {
	var events []*domain.NormalizedEvent

	bonding, err := s.queryBondingTrades(ctx, mint, beforeSlot, limit)
	if err != nil {
		return nil, err
	}
	events = append(events, bonding...)

	amm, err := s.queryAMMSwaps(ctx, mint, beforeSlot, limit)
	if err != nil {
		return nil, err
	}
	events = append(events, amm...)

	dlmm, err := s.queryDLMMTrades(ctx, mint, beforeSlot, limit)
	if err != nil {
		return nil, err
	}
	events = append(events, dlmm...)

	return events, nil
}

func (s *Store) queryBondingTrades(ctx context.Context, mint string, beforeSlot int64, limit int) ([]*domain.NormalizedEvent, error) {
	query := `
		SELECT signature, ix_index, slot, block_time, tx_index, mint,
		       pool, trader, side, token_amount, quote_amount, price
		FROM bonding_curve_trades
		WHERE mint = $1 AND ($2 <= 0 OR slot < $2)
		ORDER BY slot DESC, tx_index DESC, ix_index DESC
	`
	args := []any{mint, beforeSlot}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bonding curve trades: %w", err)
	}
	defer rows.Close()

	var events []*domain.NormalizedEvent
	for rows.Next() {
		ev, err := scanTrade(rows, domain.VenueBonding)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bonding curve trade rows: %w", err)
	}
	return events, nil
}

func (s *Store) queryAMMSwaps(ctx context.Context, mint string, beforeSlot int64, limit int) ([]*domain.NormalizedEvent, error) {
	query := `
		SELECT signature, ix_index, slot, block_time, tx_index, mint,
		       pool, trader, side, token_amount, quote_amount, price,
		       input_mint, output_mint
		FROM amm_swaps
		WHERE mint = $1 AND ($2 <= 0 OR slot < $2)
		ORDER BY slot DESC, tx_index DESC, ix_index DESC
	`
	args := []any{mint, beforeSlot}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query amm swaps: %w", err)
	}
	defer rows.Close()

	var events []*domain.NormalizedEvent
	for rows.Next() {
		ev, err := scanTrade(rows, domain.VenueAMM)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate amm swap rows: %w", err)
	}
	return events, nil
}

func (s *Store) queryDLMMTrades(ctx context.Context, mint string, beforeSlot int64, limit int) ([]*domain.NormalizedEvent, error) {
	query := `
		SELECT signature, ix_index, slot, block_time, tx_index, mint,
		       pool, trader, side, token_amount, quote_amount, price,
		       active_bin, bins_touched
		FROM dlmm_trades
		WHERE mint = $1 AND ($2 <= 0 OR slot < $2)
		ORDER BY slot DESC, tx_index DESC, ix_index DESC
	`
	args := []any{mint, beforeSlot}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dlmm trades: %w", err)
	}
	defer rows.Close()

	var events []*domain.NormalizedEvent
	for rows.Next() {
		ev, err := scanDLMMTrade(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dlmm trade rows: %w", err)
	}
	return events, nil
}

func scanTransfers(rows pgx.Rows) ([]*domain.NormalizedEvent, error) {
	var events []*domain.NormalizedEvent

	for rows.Next() {
		ev := &domain.NormalizedEvent{Kind: domain.EventKindTransfer}
		t := &domain.TransferEvent{}
		var amount int64

		err := rows.Scan(
			&ev.Signature, &ev.IxIndex, &ev.Slot, &ev.BlockTime, &ev.TxIndex, &ev.Mint,
			&t.Kind, &t.SourceOwner, &t.DestOwner, &t.SourceATA, &t.DestATA, &amount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan token transfer row: %w", err)
		}
		t.Amount = uint64(amount)
		ev.Transfer = t
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token transfer rows: %w", err)
	}
	return events, nil
}

func scanTrade(rows pgx.Rows, venue string) (*domain.NormalizedEvent, error) {
	ev := &domain.NormalizedEvent{Kind: domain.EventKindTrade}
	t := &domain.TradeEvent{Venue: venue}
	var tokenAmount, quoteAmount, price int64

	dest := []any{
		&ev.Signature, &ev.IxIndex, &ev.Slot, &ev.BlockTime, &ev.TxIndex, &ev.Mint,
		&t.Pool, &t.Trader, &t.Side, &tokenAmount, &quoteAmount, &price,
	}
	if venue == domain.VenueAMM {
		dest = append(dest, &t.InputMint, &t.OutputMint)
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan %s trade row: %w", venue, err)
	}
	t.TokenAmount = uint64(tokenAmount)
	t.QuoteAmount = uint64(quoteAmount)
	t.Price = uint64(price)
	ev.Trade = t
	return ev, nil
}

func scanDLMMTrade(rows pgx.Rows) (*domain.NormalizedEvent, error) {
	ev := &domain.NormalizedEvent{Kind: domain.EventKindTrade}
	t := &domain.TradeEvent{Venue: domain.VenueDLMM}
	var tokenAmount, quoteAmount, price int64

	err := rows.Scan(
		&ev.Signature, &ev.IxIndex, &ev.Slot, &ev.BlockTime, &ev.TxIndex, &ev.Mint,
		&t.Pool, &t.Trader, &t.Side, &tokenAmount, &quoteAmount, &price,
		&t.ActiveBin, &t.BinsTouched,
	)
	if err != nil {
		return nil, fmt.Errorf("scan dlmm trade row: %w", err)
	}
	t.TokenAmount = uint64(tokenAmount)
	t.QuoteAmount = uint64(quoteAmount)
	t.Price = uint64(price)
	ev.Trade = t
	return ev, nil
}

// TopHolders returns the largest non-zero balances for a mint.
func (s *Store) TopHolders(ctx context.Context, mint string, limit int) ([]domain.Balance, error) {
	query := `
		SELECT wallet, mint, amount
		FROM balances
		WHERE mint = $1 AND amount <> 0
		ORDER BY amount DESC, wallet ASC
	`
	args := []any{mint}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query top holders: %w", err)
	}
	defer rows.Close()

	return scanBalances(rows)
}

// WalletBalances returns a wallet's non-zero balances across all mints.
func (s *Store) WalletBalances(ctx context.Context, wallet string) ([]domain.Balance, error) {
	query := `
		SELECT wallet, mint, amount
		FROM balances
		WHERE wallet = $1 AND amount <> 0
		ORDER BY mint ASC
	`

	rows, err := s.pool.Query(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("query wallet balances: %w", err)
	}
	defer rows.Close()

	return scanBalances(rows)
}

// BalancesByMint returns every non-zero balance for a mint. Feeds the
// replay reconciler.
func (s *Store) BalancesByMint(ctx context.Context, mint string) ([]domain.Balance, error) {
	query := `
		SELECT wallet, mint, amount
		FROM balances
		WHERE mint = $1 AND amount <> 0
		ORDER BY wallet ASC
	`

	rows, err := s.pool.Query(ctx, query, mint)
	if err != nil {
		return nil, fmt.Errorf("query balances by mint: %w", err)
	}
	defer rows.Close()

	return scanBalances(rows)
}

func scanBalances(rows pgx.Rows) ([]domain.Balance, error) {
	var balances []domain.Balance

	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.Wallet, &b.Mint, &b.Amount); err != nil {
			return nil, fmt.Errorf("scan balance row: %w", err)
		}
		balances = append(balances, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balance rows: %w", err)
	}
	return balances, nil
}

// Candles returns candles for a mint and timeframe, newest bucket first.
// beforeBucket <= 0 means from the tip.
func (s *Store) Candles(ctx context.Context, mint string, timeframeSecs, beforeBucket int64, limit int) ([]domain.Candle, error) {
	query := `
		SELECT mint, timeframe_secs, bucket_start,
		       open, high, low, close,
		       volume_token, volume_quote, trade_count,
		       first_rank, last_rank
		FROM candles
		WHERE mint = $1 AND timeframe_secs = $2 AND ($3 <= 0 OR bucket_start < $3)
		ORDER BY bucket_start DESC
	`
	args := []any{mint, timeframeSecs, beforeBucket}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var open, high, low, close_, volToken, volQuote int64

		err := rows.Scan(
			&c.Mint, &c.TimeframeSecs, &c.BucketStart,
			&open, &high, &low, &close_,
			&volToken, &volQuote, &c.TradeCount,
			&c.FirstRank, &c.LastRank,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.Open = uint64(open)
		c.High = uint64(high)
		c.Low = uint64(low)
		c.Close = uint64(close_)
		c.VolumeToken = uint64(volToken)
		c.VolumeQuote = uint64(volQuote)
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return candles, nil
}

// GetMint returns a mint by address. Returns ErrNotFound if unknown.
func (s *Store) GetMint(ctx context.Context, address string) (*domain.Mint, error) {
	query := `SELECT address, decimals, first_seen_slot FROM mints WHERE address = $1`

	var m domain.Mint
	var decimals int16
	err := s.pool.QueryRow(ctx, query, address).Scan(&m.Address, &decimals, &m.FirstSeenSlot)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get mint: %w", err)
	}
	m.Decimals = uint8(decimals)
	return &m, nil
}
