package session

import (
	"testing"
	"time"

	"github.com/rafaelmp2/zaprelay/internal/hub"
)

// walkTo transitions the machine through the given phases sequentially.
func walkTo(t *testing.T, m *Machine, states ...State) {
	t.Helper()
	for _, s := range states {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
}

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want disconnected", m.Current())
	}
	if m.IsConnected() {
		t.Error("IsConnected() = true on a fresh machine")
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, AwaitingAuth},
		{Disconnected, Connected},
		{AwaitingAuth, Authenticated},
		{AwaitingAuth, Disconnected},
		{Authenticated, Connected},
		{Authenticated, Disconnected},
		{Connected, Disconnected},
	}
	paths := map[State][]State{
		Disconnected:  {},
		AwaitingAuth:  {AwaitingAuth},
		Authenticated: {AwaitingAuth, Authenticated},
		Connected:     {Connected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, paths[tt.from]...)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	m := NewMachine(nil)
	// Cannot authenticate without a challenge or credentials path.
	if err := m.Transition(Disconnected); err == nil {
		t.Error("disconnected -> disconnected should fail")
	}
	walkTo(t, m, Connected)
	// Connected cannot move forward, only drop.
	if err := m.Transition(AwaitingAuth); err == nil {
		t.Error("connected -> awaiting_auth should fail")
	}
}

// TestFreshPairingLifecycle walks the full first-run path:
// disconnected -> awaiting_auth -> authenticated -> connected.
func TestFreshPairingLifecycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, AwaitingAuth, Authenticated, Connected)
	if !m.IsConnected() {
		t.Error("not connected after full pairing walk")
	}
}

// TestReturningUserLifecycle: with persisted credentials the phase goes
// straight from disconnected to connected.
func TestReturningUserLifecycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)
	if !m.IsConnected() {
		t.Error("not connected")
	}
}

// TestDropAndReconnectCycle: connection loss drops to disconnected, a
// reconnect attempt lands back in connected.
func TestDropAndReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected, Disconnected, Connected)
	if !m.IsConnected() {
		t.Error("not connected after reconnect cycle")
	}
}

func TestTransitionPublishesStatusEvent(t *testing.T) {
	h := hub.New()
	ch, unsub := h.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(h)
	if err := m.Transition(AwaitingAuth); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != hub.KindStatus {
			t.Errorf("event kind = %q, want %q", evt.Kind, hub.KindStatus)
		}
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if change.From != Disconnected || change.To != AwaitingAuth {
			t.Errorf("change = %v -> %v", change.From, change.To)
		}
		if change.Connected() {
			t.Error("Connected() = true for awaiting_auth")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}

func TestStatusChangeConnected(t *testing.T) {
	c := StatusChange{From: Authenticated, To: Connected}
	if !c.Connected() {
		t.Error("Connected() = false for transition into connected")
	}
}
