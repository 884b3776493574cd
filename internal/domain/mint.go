package domain

// Mint is a token observed by the pipeline. Rows are created lazily on
// the first event referencing the mint; Decimals is immutable once set.
type Mint struct {
	Address       string
	Decimals      uint8
	FirstSeenSlot int64
}
