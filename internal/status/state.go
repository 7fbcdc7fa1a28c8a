package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/wppgw/internal/bus"
)

// State is a session's connection lifecycle state.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	AwaitingScan State = "awaiting-scan"
	Connected    State = "connected"
	Closing      State = "closing"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, AwaitingScan, Closing},
	Connecting:   {AwaitingScan, Connected, Closing, Disconnected},
	AwaitingScan: {Connecting, Connected, Closing, Disconnected},
	Connected:    {Closing, Disconnected},
	Closing:      {Disconnected},
}

// Machine tracks and enforces one session's lifecycle transitions.
type Machine struct {
	mu      sync.RWMutex
	session string
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine for session starting in Disconnected.
func NewMachine(session string, b *bus.Bus) *Machine {
	return &Machine{
		session: session,
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	m.setLocked(to)
	return nil
}

// TransitionAny moves to the first of path whose step is valid from the
// current state, walking intermediate states as needed. It is used when an
// event is authoritative regardless of the state observed so far, for example
// an open event arriving while still Disconnected.
func (m *Machine) TransitionAny(path ...State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, to := range path {
		if m.current == to {
			continue
		}
		if !slices.Contains(validTransitions[m.current], to) {
			return fmt.Errorf("invalid transition from %s to %s", m.current, to)
		}
		m.setLocked(to)
	}
	return nil
}

func (m *Machine) setLocked(to State) {
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:    bus.KindStatusChanged,
			Session: m.session,
			Payload: StatusChange{
				Session: m.session,
				From:    from,
				To:      to,
			},
		})
	}
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	Session string
	From    State
	To      State
}

// Public renders a state the way the status endpoint reports it.
func Public(s State) string {
	switch s {
	case Connected:
		return "CONNECTED"
	case Connecting, AwaitingScan:
		return "connecting"
	default:
		return "disconnected"
	}
}
