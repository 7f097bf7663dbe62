package tradesession

import (
	"fmt"
	"sync"
)

// State is the lifecycle state of a trade session.
type State string

const (
	// StateClosed means no session resources are held.
	StateClosed State = "closed"
	// StateOpening means the initial load and subscription are in progress.
	StateOpening State = "opening"
	// StateOpen means the session is live with realtime updates.
	StateOpen State = "open"
	// StateDegraded means the session is live but the change subscription
	// could not be established; updates require manual refresh.
	StateDegraded State = "degraded"
	// StateFailed means the initial load failed and the session holds no
	// usable data.
	StateFailed State = "failed"
)

var stateTransitions = map[State][]State{
	StateClosed:   {StateOpening},
	StateOpening:  {StateOpen, StateDegraded, StateFailed, StateClosed},
	StateOpen:     {StateClosed},
	StateDegraded: {StateOpen, StateClosed},
	StateFailed:   {StateClosed},
}

// Machine is a small thread-safe state machine for one session.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine creates a machine in the closed state.
func NewMachine() *Machine {
	return &Machine{state: StateClosed}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the given state, or reports the invalid edge.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, next := range stateTransitions[m.state] {
		if next == to {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid session transition %s -> %s", m.state, to)
}
