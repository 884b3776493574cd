package domain

// Balance is the current holding of one wallet in one mint. Negative
// values indicate a parse or ingestion defect and are surfaced via
// metrics rather than clamped.
type Balance struct {
	Wallet string
	Mint   string
	Amount int64 // base units, sum of applied deltas
}

// BalanceDelta is a signed balance adjustment produced by the ledger
// from a single event.
type BalanceDelta struct {
	Wallet string
	Mint   string
	Delta  int64 // base units, may be negative
}
