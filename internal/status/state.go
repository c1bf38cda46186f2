package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State represents the lifecycle state of one realtime connection.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connected, Disconnected},
}

// Machine tracks and enforces connection state transitions for a single domain.
type Machine struct {
	mu      sync.RWMutex
	domain  string
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(domain string, b *bus.Bus) *Machine {
	return &Machine{
		domain:  domain,
		current: Disconnected,
		bus:     b,
	}
}

// Domain returns the chat domain this machine belongs to.
func (m *Machine) Domain() string {
	return m.domain
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
	return m.transitionLocked(to)
}

// TransitionFrom moves to the given state only when the machine is currently
// in from. It reports whether the transition happened. The check and the
// move are atomic, which is what makes Connect a no-op outside Disconnected.
func (m *Machine) TransitionFrom(from, to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != from {
		return false
	}
	return m.transitionLocked(to) == nil
}

func (m *Machine) transitionLocked(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindConnState, m.domain, StatusChange{
		Domain: m.domain,
		From:   from,
		To:     to,
	})
	return nil
}

// StatusChange is the payload for state change events.
type StatusChange struct {
	Domain string
	From   State
	To     State
}
