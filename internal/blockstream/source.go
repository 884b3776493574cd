// Package blockstream delivers confirmed blocks in strict slot order.
// A Source produces blocks from some upstream (websocket subscription,
// RPC polling, scripted stub); the Client wraps a live source with
// reconnection, gap detection and gap repair.
package blockstream

import (
	"context"
	"fmt"

	"solana-trade-indexer/internal/domain"
)

// Source streams blocks starting at a slot. The returned channel closes
// when the upstream disconnects or ctx is cancelled; callers reopen to
// resume. Blocks arrive in ascending slot order per connection.
type Source interface {
	Open(ctx context.Context, fromSlot int64) (<-chan domain.Block, error)
}

// Fetcher retrieves a bounded, inclusive slot range, used for backfill
// and gap repair. Returned blocks are in ascending slot order.
type Fetcher interface {
	FetchBlocks(ctx context.Context, fromSlot, toSlot int64) ([]domain.Block, error)
}

// TipReader reports the current tip of the chain, used to decide between
// backfilling and live tailing.
type TipReader interface {
	TipSlot(ctx context.Context) (int64, error)
}

// SlotGap reports a discontinuity in the delivered stream: the next block
// was Got while Expected was due. It is surfaced before any event of the
// Got block is committed.
type SlotGap struct {
	Expected int64
	Got      int64
}

func (g SlotGap) Error() string {
	return fmt.Sprintf("slot gap: expected %d, got %d", g.Expected, g.Got)
}

// GapPolicy decides what happens when a SlotGap is detected.
type GapPolicy int

const (
	// GapRepair fetches the missing range from the backfill source and
	// delivers it before the block that exposed the gap. The default.
	GapRepair GapPolicy = iota
	// GapAccept records the gap and continues with the later block.
	GapAccept
)

// String implements fmt.Stringer.
func (p GapPolicy) String() string {
	switch p {
	case GapRepair:
		return "repair"
	case GapAccept:
		return "accept"
	default:
		return fmt.Sprintf("GapPolicy(%d)", int(p))
	}
}

// ParseGapPolicy converts a config string to a GapPolicy.
func ParseGapPolicy(s string) (GapPolicy, error) {
	switch s {
	case "repair", "":
		return GapRepair, nil
	case "accept":
		return GapAccept, nil
	default:
		return 0, fmt.Errorf("unknown gap policy %q", s)
	}
}
