package parser

import (
	"fmt"
	"log"

	"solana-trade-indexer/internal/domain"
)

// Router dispatches instructions to the parser registered for their
// program id. Instructions of unregistered programs are dropped silently;
// the registry is fixed after construction, so routing needs no locking.
type Router struct {
	parsers map[string]Parser // programID -> parser
	tracked map[string]bool   // mint whitelist, empty = all mints
	logger  *log.Logger

	// Hooks observe routing outcomes. Optional; set before parsing
	// starts, parse workers read them concurrently.
	Hooks RouterHooks
}

// RouterHooks carries instrumentation callbacks for routing outcomes.
type RouterHooks struct {
	// OnParseError fires when a parser rejects a malformed instruction.
	OnParseError func(programID string)
	// OnUnknownProgram fires for every instruction of an unregistered
	// program.
	OnUnknownProgram func(programID string)
	// OnWhitelistDrop fires when a parsed event's mint is not tracked.
	OnWhitelistDrop func(mint string)
}

// NewRouter creates a router with the given parsers registered.
// trackedMints, when non-empty, restricts output to the listed mints.
func NewRouter(logger *log.Logger, trackedMints []string, parsers ...Parser) (*Router, error) {
	if logger == nil {
		logger = log.Default()
	}
	r := &Router{
		parsers: make(map[string]Parser),
		tracked: make(map[string]bool, len(trackedMints)),
		logger:  logger,
	}
	for _, m := range trackedMints {
		r.tracked[m] = true
	}
	for _, p := range parsers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register binds a parser to its program ids. Each program id may have at
// most one parser.
func (r *Router) Register(p Parser) error {
	for _, id := range p.ProgramIDs() {
		if _, ok := r.parsers[id]; ok {
			return fmt.Errorf("parser already registered for program %s", id)
		}
		r.parsers[id] = p
	}
	return nil
}

// PrescanTransaction runs the registry side effects of one transaction's
// routable instructions, in instruction order, without producing events.
// Call it for every transaction of a block in stream order before parsing
// the block concurrently.
func (r *Router) PrescanTransaction(tx domain.Transaction) {
	for _, ix := range tx.Instructions {
		p, ok := r.parsers[ix.ProgramID]
		if !ok {
			continue
		}
		if ps, ok := p.(Prescanner); ok {
			ps.Prescan(ix)
		}
	}
}

// ParseTransaction decodes all routable instructions of one transaction,
// in instruction order. Malformed instructions are logged and skipped.
func (r *Router) ParseTransaction(slot, blockTime int64, tx domain.Transaction) []*domain.NormalizedEvent {
	meta := Meta{
		Signature: tx.Signature,
		Slot:      slot,
		BlockTime: blockTime,
		TxIndex:   tx.Index,
	}

	var events []*domain.NormalizedEvent
	for _, ix := range tx.Instructions {
		p, ok := r.parsers[ix.ProgramID]
		if !ok {
			if r.Hooks.OnUnknownProgram != nil {
				r.Hooks.OnUnknownProgram(ix.ProgramID)
			}
			continue
		}
		ev, err := p.Parse(meta, ix)
		if err != nil {
			r.logger.Printf("parser: dropping instruction %s:%d: %v", tx.Signature, ix.Index, err)
			if r.Hooks.OnParseError != nil {
				r.Hooks.OnParseError(ix.ProgramID)
			}
			continue
		}
		if ev == nil {
			continue
		}
		if len(r.tracked) > 0 && !r.tracked[ev.Mint] {
			if r.Hooks.OnWhitelistDrop != nil {
				r.Hooks.OnWhitelistDrop(ev.Mint)
			}
			continue
		}
		events = append(events, ev)
	}
	return events
}
