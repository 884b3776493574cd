package domain

// EventKind discriminates the payload of a NormalizedEvent.
type EventKind string

const (
	EventKindTransfer EventKind = "transfer"
	EventKindTrade    EventKind = "trade"
)

// Transfer sub-kinds. Mints and burns are one-sided ledger entries.
const (
	TransferKindTransfer = "transfer"
	TransferKindMint     = "mint"
	TransferKindBurn     = "burn"
)

// Trade venues.
const (
	VenueBonding = "bonding"
	VenueAMM     = "amm"
	VenueDLMM    = "dlmm"
)

// Trade sides, relative to the tracked (non-quote) mint.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// WSOLMint is the wrapped-SOL mint used as the quote asset.
const WSOLMint = "So11111111111111111111111111111111111111112"

// NormalizedEvent is the common shape every parser emits. Exactly one of
// Transfer or Trade is set, matching Kind. Events are unique per
// (Signature, IxIndex).
type NormalizedEvent struct {
	Kind      EventKind
	Signature string // base58 transaction signature
	Slot      int64  // Solana slot number
	BlockTime int64  // Unix timestamp in seconds
	TxIndex   int    // transaction position within the block
	IxIndex   int    // instruction position within the transaction
	Mint      string // tracked token mint

	Transfer *TransferEvent
	Trade    *TradeEvent
}

// TransferEvent carries SPL token movement details.
type TransferEvent struct {
	Kind        string // "transfer" | "mint" | "burn"
	SourceOwner string // owner wallet of the source account ("system" for mints)
	DestOwner   string // owner wallet of the destination account ("burn" for burns)
	SourceATA   string // source token account, empty for mints
	DestATA     string // destination token account, empty for burns
	Amount      uint64 // base units
}

// TradeEvent carries swap details from any venue.
type TradeEvent struct {
	Venue       string  // "bonding" | "amm" | "dlmm"
	Pool        string  // pool or curve address
	Trader      string  // user wallet
	Side        string  // "buy" | "sell"
	TokenAmount uint64  // base units of the tracked mint
	QuoteAmount uint64  // base units of the quote asset
	Price       uint64  // quote units per whole token
	InputMint   string  // AMM only: mint paid in
	OutputMint  string  // AMM only: mint received
	ActiveBin   int32   // DLMM only
	BinsTouched []int32 // DLMM v2 only, capped
}

// EventKey is the idempotency key for persisted events.
type EventKey struct {
	Signature string
	IxIndex   int
}

// Key returns the event's idempotency key.
func (e *NormalizedEvent) Key() EventKey {
	return EventKey{Signature: e.Signature, IxIndex: e.IxIndex}
}

// Rank bit layout, low to high: instruction index in bits 0-11,
// transaction index in bits 12-29, slot from bit 30 up. The constants
// are the shift of each field, not its width. Fits int64 for any
// realistic slot.
const (
	rankTxBits   = 12
	rankSlotBits = 30
)

// Rank encodes (slot, tx_index, ix_index) into a single ordering key.
// Comparing ranks compares stream position.
func Rank(slot int64, txIndex, ixIndex int) int64 {
	return slot<<rankSlotBits | int64(txIndex)<<rankTxBits | int64(ixIndex)
}

// Rank returns the event's position in the global stream order.
func (e *NormalizedEvent) Rank() int64 {
	return Rank(e.Slot, e.TxIndex, e.IxIndex)
}

// Before reports whether e precedes other in stream order.
func (e *NormalizedEvent) Before(other *NormalizedEvent) bool {
	return e.Rank() < other.Rank()
}
