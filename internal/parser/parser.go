package parser

import (
	"solana-trade-indexer/internal/domain"
)

// Meta carries the stream position of the instruction being parsed.
type Meta struct {
	Signature string
	Slot      int64
	BlockTime int64 // Unix seconds
	TxIndex   int
}

// Parser decodes instructions of one or more programs into normalized
// events. Returning (nil, nil) means the instruction is valid but not of
// interest (unknown discriminator, missing quote leg). A non-nil error
// means the payload was recognized but malformed; the caller logs and
// drops it without failing the block.
type Parser interface {
	// ProgramIDs lists the base58 program addresses this parser handles.
	ProgramIDs() []string
	// Parse decodes a single instruction.
	Parse(meta Meta, ix domain.Instruction) (*domain.NormalizedEvent, error)
}

// Prescanner is implemented by parsers that learn account state from the
// stream. Prescan applies an instruction's state side effects without
// producing an event. The pipeline prescans a whole block in stream order
// before handing transactions to parallel parse workers, so resolution
// that depends on earlier instructions never depends on worker
// scheduling.
type Prescanner interface {
	Prescan(ix domain.Instruction)
}
