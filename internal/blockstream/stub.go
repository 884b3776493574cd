package blockstream

import (
	"context"
	"sync"

	"solana-trade-indexer/internal/domain"
)

// StubSource plays scripted block batches, one batch per Open call, then
// closes the channel to simulate a disconnect. Used in tests and local
// dry runs.
type StubSource struct {
	mu      sync.Mutex
	batches [][]domain.Block
	errs    []error // error returned by the n-th Open, nil entries skipped
	opens   int
}

// NewStubSource creates a stub that serves the given batches in order.
func NewStubSource(batches ...[]domain.Block) *StubSource {
	return &StubSource{batches: batches}
}

// FailOpens injects errors for the first Open calls, one per entry.
func (s *StubSource) FailOpens(errs ...error) *StubSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = errs
	return s
}

// Opens reports how many times Open was called.
func (s *StubSource) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Open implements Source. Once all batches are exhausted it blocks until
// ctx is cancelled, like an idle live stream.
func (s *StubSource) Open(ctx context.Context, fromSlot int64) (<-chan domain.Block, error) {
	s.mu.Lock()
	call := s.opens
	s.opens++
	if call < len(s.errs) && s.errs[call] != nil {
		err := s.errs[call]
		s.mu.Unlock()
		return nil, err
	}
	errOffset := len(s.errs)
	var batch []domain.Block
	batchIdx := call - errOffset
	if batchIdx >= 0 && batchIdx < len(s.batches) {
		batch = s.batches[batchIdx]
	}
	exhausted := batchIdx >= len(s.batches)
	s.mu.Unlock()

	out := make(chan domain.Block)
	go func() {
		defer close(out)
		if exhausted {
			<-ctx.Done()
			return
		}
		for _, b := range batch {
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// StubFetcher serves blocks by slot from a fixed set and records the
// ranges requested.
type StubFetcher struct {
	mu     sync.Mutex
	blocks map[int64]domain.Block
	err    error
	ranges [][2]int64
}

// NewStubFetcher creates a fetcher over the given blocks.
func NewStubFetcher(blocks ...domain.Block) *StubFetcher {
	m := make(map[int64]domain.Block, len(blocks))
	for _, b := range blocks {
		m[b.Slot] = b
	}
	return &StubFetcher{blocks: m}
}

// Fail makes every fetch return err until cleared.
func (f *StubFetcher) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Ranges returns the requested [from, to] ranges.
func (f *StubFetcher) Ranges() [][2]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]int64(nil), f.ranges...)
}

// FetchBlocks implements Fetcher.
func (f *StubFetcher) FetchBlocks(ctx context.Context, fromSlot, toSlot int64) ([]domain.Block, error) {
	f.mu.Lock()
	f.ranges = append(f.ranges, [2]int64{fromSlot, toSlot})
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []domain.Block
	for slot := fromSlot; slot <= toSlot; slot++ {
		if b, ok := f.blocks[slot]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}
