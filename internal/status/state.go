package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
)

// State is the sync controller's connectivity/activity state.
type State string

const (
	Offline       State = "OFFLINE"
	OnlineIdle    State = "ONLINE_IDLE"
	OnlinePolling State = "ONLINE_POLLING"
	Sending       State = "SENDING"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Offline:       {OnlineIdle},
	OnlineIdle:    {OnlinePolling, Sending, Offline},
	OnlinePolling: {OnlineIdle, Sending, Offline},
	Sending:       {OnlineIdle, Offline},
}

// Machine tracks and enforces sync state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in the given state, which is
// Offline unless connectivity is already known.
func NewMachine(b *bus.Bus, initial State) *Machine {
	if _, ok := validTransitions[initial]; !ok {
		initial = Offline
	}
	return &Machine{
		current: initial,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Online reports whether the machine is in any online state.
func (m *Machine) Online() bool {
	return m.Current() != Offline
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// TransitionFrom moves to `to` only if the current state is one of from.
// It reports whether the transition happened.
func (m *Machine) TransitionFrom(to State, from ...State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(from, m.current) {
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
	m.since = time.Now()
	m.bus.Emit(bus.KindStateChanged, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for state change events.
type StatusChange struct {
	From State
	To   State
}
