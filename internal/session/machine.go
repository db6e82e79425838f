package session

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rafaelmp2/zaprelay/internal/hub"
)

// State represents the connection lifecycle phase.
type State string

const (
	Disconnected  State = "disconnected"
	AwaitingAuth  State = "awaiting_auth"
	Authenticated State = "authenticated"
	Connected     State = "connected"
)

// validTransitions defines allowed phase transitions. Any phase may fall
// back to Disconnected on connection loss; forward movement is monotonic
// within one attempt.
var validTransitions = map[State][]State{
	Disconnected:  {AwaitingAuth, Authenticated, Connected},
	AwaitingAuth:  {Authenticated, Disconnected},
	Authenticated: {Connected, Disconnected},
	Connected:     {Disconnected},
}

// Machine tracks and enforces session phase transitions, publishing a
// status event on every change.
type Machine struct {
	mu      sync.RWMutex
	current State
	hub     *hub.Hub
}

// StatusChange is the payload for session.status events.
type StatusChange struct {
	From State
	To   State
}

// Connected reports whether the change landed in the operational phase.
func (c StatusChange) Connected() bool {
	return c.To == Connected
}

// NewMachine creates a machine starting in Disconnected.
func NewMachine(h *hub.Hub) *Machine {
	return &Machine{current: Disconnected, hub: h}
}

// Current returns the current phase.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsConnected reports whether the session is operational.
func (m *Machine) IsConnected() bool {
	return m.Current() == Connected
}

// Transition attempts to move to a new phase. Returns an error if the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.hub != nil {
		m.hub.Publish(hub.Event{
			Kind:      hub.KindStatus,
			Timestamp: time.Now(),
			Payload:   StatusChange{From: from, To: to},
		})
	}
	return nil
}
