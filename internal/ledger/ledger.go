// Package ledger derives signed balance deltas from normalized events and
// maintains per-wallet holdings. Applying every event of the stream in
// order reproduces the balances table exactly; Reconcile checks that.
package ledger

import (
	"sort"

	"solana-trade-indexer/internal/domain"
)

// DeltasFor derives the balance deltas of a single event.
//
//	transfer: -amount from the source owner, +amount to the destination
//	mint:     +amount to the destination
//	burn:     -amount from the source
//	buy:      trader gains tokens, pays the quote asset
//	sell:     trader loses tokens, receives the quote asset
func DeltasFor(ev *domain.NormalizedEvent) []domain.BalanceDelta {
	switch ev.Kind {
	case domain.EventKindTransfer:
		return transferDeltas(ev)
	case domain.EventKindTrade:
		return tradeDeltas(ev)
	default:
		return nil
	}
}

func transferDeltas(ev *domain.NormalizedEvent) []domain.BalanceDelta {
	tr := ev.Transfer
	amount := int64(tr.Amount)
	switch tr.Kind {
	case domain.TransferKindMint:
		return []domain.BalanceDelta{
			{Wallet: tr.DestOwner, Mint: ev.Mint, Delta: amount},
		}
	case domain.TransferKindBurn:
		return []domain.BalanceDelta{
			{Wallet: tr.SourceOwner, Mint: ev.Mint, Delta: -amount},
		}
	default:
		return []domain.BalanceDelta{
			{Wallet: tr.SourceOwner, Mint: ev.Mint, Delta: -amount},
			{Wallet: tr.DestOwner, Mint: ev.Mint, Delta: amount},
		}
	}
}

func tradeDeltas(ev *domain.NormalizedEvent) []domain.BalanceDelta {
	tr := ev.Trade
	token := int64(tr.TokenAmount)
	quote := int64(tr.QuoteAmount)
	if tr.Side == domain.SideSell {
		token, quote = -token, -quote
	}
	return []domain.BalanceDelta{
		{Wallet: tr.Trader, Mint: ev.Mint, Delta: token},
		{Wallet: tr.Trader, Mint: domain.WSOLMint, Delta: -quote},
	}
}

type balanceKey struct {
	wallet string
	mint   string
}

// Option configures a Book.
type Option func(*Book)

// WithOwnerFilter restricts the book to wallets the filter accepts.
// Typically wired to an on-curve check so pool vault PDAs don't pollute
// user balances.
func WithOwnerFilter(keep func(wallet string) bool) Option {
	return func(b *Book) { b.keep = keep }
}

// WithNegativeBalanceHook is called whenever an applied delta takes a
// balance below zero. A negative balance means the parsers missed an
// inbound movement; it is reported, never clamped.
func WithNegativeBalanceHook(hook func(wallet, mint string, amount int64)) Option {
	return func(b *Book) { b.onNegative = hook }
}

// WithMintScope restricts the book to a single mint. Reconciliation against
// stored balances of one mint needs this: trades also move the quote asset,
// and those legs would diff against a stored set that never contains them.
func WithMintScope(mint string) Option {
	return func(b *Book) { b.mint = mint }
}

// Book is an in-memory balance ledger. Not safe for concurrent use; the
// pipeline applies events from a single goroutine.
type Book struct {
	balances   map[balanceKey]int64
	keep       func(string) bool
	mint       string
	onNegative func(wallet, mint string, amount int64)
}

// NewBook creates an empty ledger.
func NewBook(opts ...Option) *Book {
	b := &Book{balances: make(map[balanceKey]int64)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Apply folds one event's deltas into the book.
func (b *Book) Apply(ev *domain.NormalizedEvent) {
	for _, d := range DeltasFor(ev) {
		b.applyDelta(d)
	}
}

func (b *Book) applyDelta(d domain.BalanceDelta) {
	if b.mint != "" && d.Mint != b.mint {
		return
	}
	if b.keep != nil && !b.keep(d.Wallet) {
		return
	}
	key := balanceKey{wallet: d.Wallet, mint: d.Mint}
	next := b.balances[key] + d.Delta
	b.balances[key] = next
	if next < 0 && b.onNegative != nil {
		b.onNegative(d.Wallet, d.Mint, next)
	}
}

// Balance returns the current holding, zero if never touched.
func (b *Book) Balance(wallet, mint string) int64 {
	return b.balances[balanceKey{wallet: wallet, mint: mint}]
}

// Snapshot returns all non-zero balances sorted by (wallet, mint).
func (b *Book) Snapshot() []domain.Balance {
	out := make([]domain.Balance, 0, len(b.balances))
	for k, v := range b.balances {
		if v == 0 {
			continue
		}
		out = append(out, domain.Balance{Wallet: k.wallet, Mint: k.mint, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Wallet != out[j].Wallet {
			return out[i].Wallet < out[j].Wallet
		}
		return out[i].Mint < out[j].Mint
	})
	return out
}

// Drift is a mismatch between a stored balance and the replayed one.
type Drift struct {
	Wallet   string
	Mint     string
	Stored   int64
	Replayed int64
}

// Reconcile replays an ordered event history into a fresh book and diffs
// it against stored balances. An empty result means the store matches the
// event stream. Events must be supplied in (slot, tx_index, ix_index)
// order; options are applied to the replay book. When the stored set
// covers a single mint, pass WithMintScope so the quote legs of trades
// don't diff against balances the set was never meant to contain.
func Reconcile(events []*domain.NormalizedEvent, stored []domain.Balance, opts ...Option) []Drift {
	book := NewBook(opts...)
	for _, ev := range events {
		book.Apply(ev)
	}

	replayed := make(map[balanceKey]int64, len(book.balances))
	for k, v := range book.balances {
		if v != 0 {
			replayed[k] = v
		}
	}

	var drifts []Drift
	seen := make(map[balanceKey]bool, len(stored))
	for _, s := range stored {
		key := balanceKey{wallet: s.Wallet, mint: s.Mint}
		seen[key] = true
		if got := replayed[key]; got != s.Amount {
			drifts = append(drifts, Drift{Wallet: s.Wallet, Mint: s.Mint, Stored: s.Amount, Replayed: got})
		}
	}
	for k, v := range replayed {
		if !seen[k] {
			drifts = append(drifts, Drift{Wallet: k.wallet, Mint: k.mint, Stored: 0, Replayed: v})
		}
	}
	sort.Slice(drifts, func(i, j int) bool {
		if drifts[i].Wallet != drifts[j].Wallet {
			return drifts[i].Wallet < drifts[j].Wallet
		}
		return drifts[i].Mint < drifts[j].Mint
	})
	return drifts
}
