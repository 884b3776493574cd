package memory

import (
	"context"
	"testing"

	"solana-trade-indexer/internal/domain"
	"solana-trade-indexer/internal/storage"
)

func tradeEvent(sig string, slot int64, txIndex, ixIndex int, mint string, token, quote uint64) *domain.NormalizedEvent {
	return &domain.NormalizedEvent{
		Kind:      domain.EventKindTrade,
		Signature: sig,
		Slot:      slot,
		BlockTime: 1700000000,
		TxIndex:   txIndex,
		IxIndex:   ixIndex,
		Mint:      mint,
		Trade: &domain.TradeEvent{
			Venue:       domain.VenueBonding,
			Pool:        "pool1",
			Trader:      "walletA",
			Side:        domain.SideBuy,
			TokenAmount: token,
			QuoteAmount: quote,
			Price:       quote / token,
		},
	}
}

func transferEvent(sig string, slot int64, ixIndex int, mint string, amount uint64) *domain.NormalizedEvent {
	return &domain.NormalizedEvent{
		Kind:      domain.EventKindTransfer,
		Signature: sig,
		Slot:      slot,
		BlockTime: 1700000000,
		TxIndex:   0,
		IxIndex:   ixIndex,
		Mint:      mint,
		Transfer: &domain.TransferEvent{
			Kind:        domain.TransferKindTransfer,
			SourceOwner: "walletA",
			DestOwner:   "walletB",
			SourceATA:   "ataA",
			DestATA:     "ataB",
			Amount:      amount,
		},
	}
}

func TestCommitBatchPersistsEventsAndCheckpoint(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	ev := tradeEvent("sig1", 100, 0, 2, "mintX", 1000, 50000)
	batch := &storage.Batch{
		StreamID: domain.DefaultStreamID,
		Slot:     100,
		Events:   []*domain.NormalizedEvent{ev},
		Mints:    []domain.Mint{{Address: "mintX", Decimals: 6, FirstSeenSlot: 100}},
		Deltas: []domain.BalanceDelta{
			{Wallet: "walletA", Mint: "mintX", Delta: 1000},
		},
	}
	if err := store.CommitBatch(ctx, batch); err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}

	cp, err := store.Checkpoint(ctx, domain.DefaultStreamID)
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if cp.Slot != 100 {
		t.Fatalf("checkpoint slot = %d, want 100", cp.Slot)
	}

	events, err := store.EventsByMint(ctx, "mintX")
	if err != nil {
		t.Fatalf("EventsByMint: %v", err)
	}
	if len(events) != 1 || events[0].Signature != "sig1" {
		t.Fatalf("events = %+v, want one sig1", events)
	}
}

func TestCommitBatchIsIdempotent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	ev := tradeEvent("sig1", 100, 0, 2, "mintX", 1000, 50000)
	batch := &storage.Batch{
		StreamID: domain.DefaultStreamID,
		Slot:     100,
		Events:   []*domain.NormalizedEvent{ev},
		Deltas:   []domain.BalanceDelta{{Wallet: "walletA", Mint: "mintX", Delta: 1000}},
		Candles: []domain.Candle{{
			Mint: "mintX", TimeframeSecs: 60, BucketStart: 1699999980,
			Open: 50, High: 50, Low: 50, Close: 50,
			VolumeToken: 1000, VolumeQuote: 50000, TradeCount: 1,
			FirstRank: ev.Rank(), LastRank: ev.Rank(),
		}},
	}
	if err := store.CommitBatch(ctx, batch); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	// A redelivered batch is pre-filtered through ExistingKeys before
	// commit, so the replayed copy carries no derived rows.
	existing, err := store.ExistingKeys(ctx, []domain.EventKey{ev.Key()})
	if err != nil {
		t.Fatalf("ExistingKeys: %v", err)
	}
	if !existing[ev.Key()] {
		t.Fatal("committed key not reported as existing")
	}
	replay := &storage.Batch{StreamID: domain.DefaultStreamID, Slot: 100}
	if err := store.CommitBatch(ctx, replay); err != nil {
		t.Fatalf("replay commit: %v", err)
	}

	holders, err := store.TopHolders(ctx, "mintX", 10)
	if err != nil {
		t.Fatalf("TopHolders: %v", err)
	}
	if len(holders) != 1 || holders[0].Amount != 1000 {
		t.Fatalf("holders = %+v, want walletA=1000", holders)
	}
	candles, err := store.Candles(ctx, "mintX", 60, 0, 10)
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(candles) != 1 || candles[0].TradeCount != 1 {
		t.Fatalf("candles = %+v, want one with TradeCount 1", candles)
	}
}

func TestCheckpointNeverMovesBackwards(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.CommitBatch(ctx, &storage.Batch{StreamID: domain.DefaultStreamID, Slot: 200}); err != nil {
		t.Fatal(err)
	}
	// Repair backfill re-commits an older slot.
	if err := store.CommitBatch(ctx, &storage.Batch{StreamID: domain.DefaultStreamID, Slot: 150}); err != nil {
		t.Fatal(err)
	}
	cp, err := store.Checkpoint(ctx, domain.DefaultStreamID)
	if err != nil {
		t.Fatal(err)
	}
	if cp.Slot != 200 {
		t.Fatalf("checkpoint slot = %d, want 200", cp.Slot)
	}
}

func TestCheckpointUnknownStream(t *testing.T) {
	store := NewStore()
	if _, err := store.Checkpoint(context.Background(), "devnet"); err != storage.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCommitBatchRejectsEmptyStreamID(t *testing.T) {
	store := NewStore()
	if err := store.CommitBatch(context.Background(), &storage.Batch{Slot: 1}); err != storage.ErrInvalidInput {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCandleMergeOnCommit(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	first := domain.Candle{
		Mint: "mintX", TimeframeSecs: 60, BucketStart: 1699999980,
		Open: 50, High: 80, Low: 50, Close: 80,
		VolumeToken: 200, VolumeQuote: 13000, TradeCount: 2,
		FirstRank: domain.Rank(105, 0, 0), LastRank: domain.Rank(107, 0, 0),
	}
	if err := store.CommitBatch(ctx, &storage.Batch{
		StreamID: domain.DefaultStreamID, Slot: 107,
		Candles: []domain.Candle{first},
	}); err != nil {
		t.Fatal(err)
	}

	// Repaired slot 106 arrives after: earlier rank takes over the open,
	// the close from slot 107 stays.
	repaired := domain.Candle{
		Mint: "mintX", TimeframeSecs: 60, BucketStart: 1699999980,
		Open: 30, High: 30, Low: 30, Close: 30,
		VolumeToken: 100, VolumeQuote: 3000, TradeCount: 1,
		FirstRank: domain.Rank(106, 0, 0), LastRank: domain.Rank(106, 0, 0),
	}
	if err := store.CommitBatch(ctx, &storage.Batch{
		StreamID: domain.DefaultStreamID, Slot: 106,
		Candles: []domain.Candle{repaired},
	}); err != nil {
		t.Fatal(err)
	}

	candles, err := store.Candles(ctx, "mintX", 60, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 1 {
		t.Fatalf("got %d candles, want 1", len(candles))
	}
	c := candles[0]
	if c.Open != 50 || c.High != 80 || c.Low != 30 || c.Close != 80 {
		t.Fatalf("ohlc = (%d,%d,%d,%d), want (50,80,30,80)", c.Open, c.High, c.Low, c.Close)
	}
	if c.TradeCount != 3 || c.VolumeQuote != 16000 {
		t.Fatalf("count/volume = %d/%d, want 3/16000", c.TradeCount, c.VolumeQuote)
	}
}

func TestReadersFilterAndPage(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	events := []*domain.NormalizedEvent{
		transferEvent("sig1", 100, 0, "mintX", 500),
		tradeEvent("sig2", 101, 0, 1, "mintX", 1000, 50000),
		tradeEvent("sig3", 102, 0, 1, "mintX", 2000, 90000),
		tradeEvent("sig4", 103, 0, 1, "mintY", 10, 500),
	}
	if err := store.CommitBatch(ctx, &storage.Batch{
		StreamID: domain.DefaultStreamID, Slot: 103, Events: events,
	}); err != nil {
		t.Fatal(err)
	}

	trades, err := store.TradesByMint(ctx, "mintX", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 || trades[0].Signature != "sig3" || trades[1].Signature != "sig2" {
		t.Fatalf("trades = %+v, want sig3 then sig2", trades)
	}

	older, err := store.TradesByMint(ctx, "mintX", 102, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 1 || older[0].Signature != "sig2" {
		t.Fatalf("paged trades = %+v, want only sig2", older)
	}

	transfers, err := store.TransfersByMint(ctx, "mintX", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(transfers) != 1 || transfers[0].Signature != "sig1" {
		t.Fatalf("transfers = %+v, want only sig1", transfers)
	}
}

func TestMintFirstSeenSlotOnlyImproves(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.CommitBatch(ctx, &storage.Batch{
		StreamID: domain.DefaultStreamID, Slot: 100,
		Mints: []domain.Mint{{Address: "mintX", Decimals: 6, FirstSeenSlot: 100}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.CommitBatch(ctx, &storage.Batch{
		StreamID: domain.DefaultStreamID, Slot: 101,
		Mints: []domain.Mint{{Address: "mintX", Decimals: 6, FirstSeenSlot: 101}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.CommitBatch(ctx, &storage.Batch{
		StreamID: domain.DefaultStreamID, Slot: 102,
		Mints: []domain.Mint{{Address: "mintX", Decimals: 6, FirstSeenSlot: 90}},
	}); err != nil {
		t.Fatal(err)
	}

	m, err := store.GetMint(ctx, "mintX")
	if err != nil {
		t.Fatal(err)
	}
	if m.FirstSeenSlot != 90 {
		t.Fatalf("first seen slot = %d, want 90", m.FirstSeenSlot)
	}
	if _, err := store.GetMint(ctx, "mintZ"); err != storage.ErrNotFound {
		t.Fatalf("unknown mint err = %v, want ErrNotFound", err)
	}
}

func TestCommitBatchReportsNegativeBalances(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.CommitBatch(ctx, &storage.Batch{
		StreamID: domain.DefaultStreamID, Slot: 100,
		Deltas: []domain.BalanceDelta{
			{Wallet: "walletA", Mint: "mintX", Delta: 1000},
		},
	}); err != nil {
		t.Fatal(err)
	}

	// Outbound movement the parsers never saw the inbound side of.
	batch := &storage.Batch{
		StreamID: domain.DefaultStreamID, Slot: 101,
		Deltas: []domain.BalanceDelta{
			{Wallet: "walletA", Mint: "mintX", Delta: -400},
			{Wallet: "walletB", Mint: "mintX", Delta: -300},
		},
	}
	if err := store.CommitBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}

	if len(batch.Negatives) != 1 {
		t.Fatalf("negatives = %+v, want walletB only", batch.Negatives)
	}
	if nb := batch.Negatives[0]; nb.Wallet != "walletB" || nb.Amount != -300 {
		t.Fatalf("negative = %+v, want walletB/-300", nb)
	}
}

func TestBalanceQueries(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.CommitBatch(ctx, &storage.Batch{
		StreamID: domain.DefaultStreamID, Slot: 100,
		Deltas: []domain.BalanceDelta{
			{Wallet: "walletA", Mint: "mintX", Delta: 1000},
			{Wallet: "walletB", Mint: "mintX", Delta: 3000},
			{Wallet: "walletA", Mint: "mintY", Delta: 50},
			{Wallet: "walletC", Mint: "mintX", Delta: 200},
			{Wallet: "walletC", Mint: "mintX", Delta: -200},
		},
	}); err != nil {
		t.Fatal(err)
	}

	holders, err := store.TopHolders(ctx, "mintX", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(holders) != 2 || holders[0].Wallet != "walletB" || holders[1].Wallet != "walletA" {
		t.Fatalf("holders = %+v, want walletB then walletA (zero balances dropped)", holders)
	}

	wallets, err := store.WalletBalances(ctx, "walletA")
	if err != nil {
		t.Fatal(err)
	}
	if len(wallets) != 2 || wallets[0].Mint != "mintX" || wallets[1].Mint != "mintY" {
		t.Fatalf("wallet balances = %+v, want mintX then mintY", wallets)
	}
}
