// Package pipeline drives blocks from the stream client through parsing,
// batch commit and post-commit fan-out.
package pipeline

import "sync"

// State is the pipeline's position relative to the chain tip.
type State int

const (
	// Backfilling: the checkpoint trails the tip by more than the live
	// lag threshold.
	Backfilling State = iota
	// LiveTailing: within the live lag threshold of the tip.
	LiveTailing
	// Repairing: a gap repair is in flight. Transient; returns to the
	// interrupted state.
	Repairing
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Backfilling:
		return "backfilling"
	case LiveTailing:
		return "live_tailing"
	case Repairing:
		return "repairing"
	default:
		return "unknown"
	}
}

// StateFor picks the steady state for a checkpoint given the tip.
func StateFor(checkpointSlot, tipSlot, liveLagSlots int64) State {
	if tipSlot-checkpointSlot > liveLagSlots {
		return Backfilling
	}
	return LiveTailing
}

// stateMachine tracks the current state and notifies on change. Safe
// for concurrent use; repair begin/end restores the interrupted state.
type stateMachine struct {
	mu       sync.Mutex
	state    State
	resume   State
	onChange func(State)
}

func newStateMachine(initial State, onChange func(State)) *stateMachine {
	m := &stateMachine{state: initial, resume: initial, onChange: onChange}
	if onChange != nil {
		onChange(initial)
	}
	return m
}

func (m *stateMachine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// set moves to a steady state. Ignored while a repair is in flight; the
// repair end restores the latest steady state instead.
func (m *stateMachine) set(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resume = s
	if m.state == Repairing || m.state == s {
		return
	}
	m.state = s
	m.notify(s)
}

// repairing flags repair begin/end.
func (m *stateMachine) repairing(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if active {
		if m.state == Repairing {
			return
		}
		m.resume = m.state
		m.state = Repairing
		m.notify(Repairing)
		return
	}
	if m.state != Repairing {
		return
	}
	m.state = m.resume
	m.notify(m.state)
}

func (m *stateMachine) notify(s State) {
	if m.onChange != nil {
		m.onChange(s)
	}
}
