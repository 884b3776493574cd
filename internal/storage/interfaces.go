package storage

import (
	"context"

	"solana-trade-indexer/internal/domain"
)

// Batch is everything one pipeline commit persists. CommitBatch applies
// it atomically: either all of it becomes visible, including the
// checkpoint advance, or none of it does.
//
// Deltas and Candles must be derived from Events only; the writer
// pre-filters events already persisted (via ExistingKeys) so replayed
// batches leave derived state untouched.
type Batch struct {
	StreamID string
	Slot     int64 // highest slot covered by the batch
	Events   []*domain.NormalizedEvent
	Mints    []domain.Mint
	Deltas   []domain.BalanceDelta
	Candles  []domain.Candle

	// Negatives is filled in by CommitBatch: the balances this batch's
	// deltas left below zero, sorted by (wallet, mint). A negative
	// balance means the parsers missed an inbound movement; it is
	// persisted as-is and surfaced as a defect signal, never clamped.
	Negatives []domain.Balance
}

// EventWriter is the pipeline's write path.
type EventWriter interface {
	// ExistingKeys reports which of the given keys are already persisted.
	ExistingKeys(ctx context.Context, keys []domain.EventKey) (map[domain.EventKey]bool, error)

	// CommitBatch persists a batch in one transaction. The checkpoint
	// only moves forward: committing a repaired (older) batch keeps the
	// newer checkpoint.
	CommitBatch(ctx context.Context, batch *Batch) error

	// Checkpoint returns the stream's checkpoint. ErrNotFound if the
	// stream never committed.
	Checkpoint(ctx context.Context, streamID string) (*domain.Checkpoint, error)
}

// EventReader serves the API's event queries.
type EventReader interface {
	// EventsByMint returns the mint's full event history ordered by
	// (slot, tx_index, ix_index) ASC. Used by replay reconciliation.
	EventsByMint(ctx context.Context, mint string) ([]*domain.NormalizedEvent, error)

	// TransfersByMint returns transfers with slot < beforeSlot, newest
	// first. beforeSlot <= 0 means from the tip.
	TransfersByMint(ctx context.Context, mint string, beforeSlot int64, limit int) ([]*domain.NormalizedEvent, error)

	// TradesByMint returns trades with slot < beforeSlot, newest first,
	// across all venues. beforeSlot <= 0 means from the tip.
	TradesByMint(ctx context.Context, mint string, beforeSlot int64, limit int) ([]*domain.NormalizedEvent, error)
}

// BalanceStore serves holder and portfolio queries.
type BalanceStore interface {
	// TopHolders returns the mint's largest balances, descending.
	TopHolders(ctx context.Context, mint string, limit int) ([]domain.Balance, error)

	// WalletBalances returns all non-zero balances of a wallet.
	WalletBalances(ctx context.Context, wallet string) ([]domain.Balance, error)

	// BalancesByMint returns all non-zero balances of a mint, ordered by
	// wallet. Used by replay reconciliation.
	BalancesByMint(ctx context.Context, mint string) ([]domain.Balance, error)
}

// CandleStore serves chart queries.
type CandleStore interface {
	// Candles returns candles with bucket_start < beforeBucket, newest
	// first. beforeBucket <= 0 means from the tip.
	Candles(ctx context.Context, mint string, timeframeSecs, beforeBucket int64, limit int) ([]domain.Candle, error)
}

// MintStore serves mint metadata.
type MintStore interface {
	// GetMint returns a mint row. ErrNotFound if never observed.
	GetMint(ctx context.Context, address string) (*domain.Mint, error)
}

// Store bundles the full persistence surface of one backend.
type Store interface {
	EventWriter
	EventReader
	BalanceStore
	CandleStore
	MintStore
}

// CandleSink receives committed candles for analytic mirroring. Best
// effort: failures are logged, never block the pipeline.
type CandleSink interface {
	InsertCandles(ctx context.Context, candles []domain.Candle) error
}
