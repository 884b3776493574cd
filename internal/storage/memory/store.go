// Package memory implements storage.Store with in-process maps. Used by
// tests and the pipeline's dry-run mode. Commit semantics mirror the
// postgres store: batches apply atomically under the write lock and the
// checkpoint never moves backwards.
package memory

import (
	"context"
	"sort"
	"sync"

	"solana-trade-indexer/internal/domain"
	"solana-trade-indexer/internal/storage"
)

// Store is an in-memory storage.Store. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	events      map[domain.EventKey]*domain.NormalizedEvent
	mints       map[string]domain.Mint
	balances    map[balanceKey]int64
	candles     map[candleKey]domain.Candle
	checkpoints map[string]int64
}

type balanceKey struct {
	wallet string
	mint   string
}

type candleKey struct {
	mint      string
	timeframe int64
	bucket    int64
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		events:      make(map[domain.EventKey]*domain.NormalizedEvent),
		mints:       make(map[string]domain.Mint),
		balances:    make(map[balanceKey]int64),
		candles:     make(map[candleKey]domain.Candle),
		checkpoints: make(map[string]int64),
	}
}

// ExistingKeys implements storage.EventWriter.
func (s *Store) ExistingKeys(ctx context.Context, keys []domain.EventKey) (map[domain.EventKey]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing := make(map[domain.EventKey]bool)
	for _, k := range keys {
		if _, ok := s.events[k]; ok {
			existing[k] = true
		}
	}
	return existing, nil
}

// CommitBatch implements storage.EventWriter.
func (s *Store) CommitBatch(ctx context.Context, batch *storage.Batch) error {
	if batch.StreamID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range batch.Events {
		key := ev.Key()
		if _, ok := s.events[key]; ok {
			continue
		}
		clone := *ev
		if ev.Transfer != nil {
			tr := *ev.Transfer
			clone.Transfer = &tr
		}
		if ev.Trade != nil {
			td := *ev.Trade
			td.BinsTouched = append([]int32(nil), ev.Trade.BinsTouched...)
			clone.Trade = &td
		}
		s.events[key] = &clone
	}

	for _, m := range batch.Mints {
		prev, ok := s.mints[m.Address]
		if !ok {
			s.mints[m.Address] = m
			continue
		}
		// Decimals are immutable; only first_seen_slot can improve.
		if m.FirstSeenSlot < prev.FirstSeenSlot {
			prev.FirstSeenSlot = m.FirstSeenSlot
			s.mints[m.Address] = prev
		}
	}

	touched := make(map[balanceKey]bool, len(batch.Deltas))
	for _, d := range batch.Deltas {
		key := balanceKey{wallet: d.Wallet, mint: d.Mint}
		s.balances[key] += d.Delta
		touched[key] = true
	}
	batch.Negatives = nil
	for key := range touched {
		if amount := s.balances[key]; amount < 0 {
			batch.Negatives = append(batch.Negatives, domain.Balance{
				Wallet: key.wallet, Mint: key.mint, Amount: amount,
			})
		}
	}
	sort.Slice(batch.Negatives, func(i, j int) bool {
		if batch.Negatives[i].Wallet != batch.Negatives[j].Wallet {
			return batch.Negatives[i].Wallet < batch.Negatives[j].Wallet
		}
		return batch.Negatives[i].Mint < batch.Negatives[j].Mint
	})

	for _, c := range batch.Candles {
		key := candleKey{mint: c.Mint, timeframe: c.TimeframeSecs, bucket: c.BucketStart}
		if existing, ok := s.candles[key]; ok {
			mergeCandle(&existing, c)
			s.candles[key] = existing
		} else {
			s.candles[key] = c
		}
	}

	if batch.Slot > s.checkpoints[batch.StreamID] {
		s.checkpoints[batch.StreamID] = batch.Slot
	}
	return nil
}

func mergeCandle(dst *domain.Candle, src domain.Candle) {
	if src.FirstRank < dst.FirstRank {
		dst.Open = src.Open
		dst.FirstRank = src.FirstRank
	}
	if src.LastRank > dst.LastRank {
		dst.Close = src.Close
		dst.LastRank = src.LastRank
	}
	if src.High > dst.High {
		dst.High = src.High
	}
	if src.Low < dst.Low {
		dst.Low = src.Low
	}
	dst.VolumeToken += src.VolumeToken
	dst.VolumeQuote += src.VolumeQuote
	dst.TradeCount += src.TradeCount
}

// Checkpoint implements storage.EventWriter.
func (s *Store) Checkpoint(ctx context.Context, streamID string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.checkpoints[streamID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &domain.Checkpoint{StreamID: streamID, Slot: slot}, nil
}

// EventsByMint implements storage.EventReader.
func (s *Store) EventsByMint(ctx context.Context, mint string) ([]*domain.NormalizedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.NormalizedEvent
	for _, ev := range s.events {
		if ev.Mint == mint {
			clone := *ev
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out, nil
}

// TransfersByMint implements storage.EventReader.
func (s *Store) TransfersByMint(ctx context.Context, mint string, beforeSlot int64, limit int) ([]*domain.NormalizedEvent, error) {
	return s.eventsByKind(mint, domain.EventKindTransfer, beforeSlot, limit), nil
}

// TradesByMint implements storage.EventReader.
func (s *Store) TradesByMint(ctx context.Context, mint string, beforeSlot int64, limit int) ([]*domain.NormalizedEvent, error) {
	return s.eventsByKind(mint, domain.EventKindTrade, beforeSlot, limit), nil
}

func (s *Store) eventsByKind(mint string, kind domain.EventKind, beforeSlot int64, limit int) []*domain.NormalizedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.NormalizedEvent
	for _, ev := range s.events {
		if ev.Mint != mint || ev.Kind != kind {
			continue
		}
		if beforeSlot > 0 && ev.Slot >= beforeSlot {
			continue
		}
		clone := *ev
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() > out[j].Rank() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// TopHolders implements storage.BalanceStore.
func (s *Store) TopHolders(ctx context.Context, mint string, limit int) ([]domain.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Balance
	for k, v := range s.balances {
		if k.mint == mint && v != 0 {
			out = append(out, domain.Balance{Wallet: k.wallet, Mint: k.mint, Amount: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Wallet < out[j].Wallet
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// WalletBalances implements storage.BalanceStore.
func (s *Store) WalletBalances(ctx context.Context, wallet string) ([]domain.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Balance
	for k, v := range s.balances {
		if k.wallet == wallet && v != 0 {
			out = append(out, domain.Balance{Wallet: k.wallet, Mint: k.mint, Amount: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mint < out[j].Mint })
	return out, nil
}

// BalancesByMint implements storage.BalanceStore.
func (s *Store) BalancesByMint(ctx context.Context, mint string) ([]domain.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Balance
	for k, v := range s.balances {
		if k.mint == mint && v != 0 {
			out = append(out, domain.Balance{Wallet: k.wallet, Mint: k.mint, Amount: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out, nil
}

// Candles implements storage.CandleStore.
func (s *Store) Candles(ctx context.Context, mint string, timeframeSecs, beforeBucket int64, limit int) ([]domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Candle
	for k, c := range s.candles {
		if k.mint != mint || k.timeframe != timeframeSecs {
			continue
		}
		if beforeBucket > 0 && k.bucket >= beforeBucket {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart > out[j].BucketStart })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetMint implements storage.MintStore.
func (s *Store) GetMint(ctx context.Context, address string) (*domain.Mint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mints[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &m, nil
}
