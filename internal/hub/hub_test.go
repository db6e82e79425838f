package hub

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	h := New()
	ch, unsub := h.Subscribe("session.", 10)
	defer unsub()

	h.Publish(Event{Kind: KindStatus, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindStatus {
			t.Errorf("got kind %q, want %q", evt.Kind, KindStatus)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	h := New()
	ch, unsub := h.Subscribe("message.", 10)
	defer unsub()

	h.Publish(Event{Kind: KindStatus})
	h.Publish(Event{Kind: KindMsgReceived})

	select {
	case evt := <-ch:
		if evt.Kind != KindMsgReceived {
			t.Errorf("got kind %q, want %q", evt.Kind, KindMsgReceived)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the session event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	h := New()
	ch, unsub := h.Subscribe("session.", 10)
	unsub()

	h.Publish(Event{Kind: KindStatus})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	h := New()
	ch, unsub := h.Subscribe("test.", 1)
	defer unsub()

	h.Publish(Event{Kind: "test.one"})
	// Buffer is full; this one is dropped rather than blocking the producer.
	h.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}

func TestSlowObserverDoesNotAffectOthers(t *testing.T) {
	h := New()
	slow, unsubSlow := h.Subscribe("", 1)
	defer unsubSlow()
	fast, unsubFast := h.Subscribe("", 10)
	defer unsubFast()

	for i := 0; i < 5; i++ {
		h.Publish(Event{Kind: KindMsgReceived})
	}

	if got := len(fast); got != 5 {
		t.Errorf("fast observer got %d events, want 5", got)
	}
	if got := len(slow); got != 1 {
		t.Errorf("slow observer got %d events, want 1 (rest dropped)", got)
	}
}

// TestAttachReplaysSnapshot verifies that a late joiner immediately receives
// the replay events before any live event, without waiting for a producer to
// publish again.
func TestAttachReplaysSnapshot(t *testing.T) {
	h := New()
	h.SetReplay(func() []Event {
		return []Event{
			{Kind: KindStatus, Payload: true},
			{Kind: KindContacts, Payload: []string{"a", "b"}},
		}
	})

	ch, unsub := h.Attach(16)
	defer unsub()

	h.Publish(Event{Kind: KindMsgReceived})

	want := []string{KindStatus, KindContacts, KindMsgReceived}
	for _, kind := range want {
		select {
		case evt := <-ch:
			if evt.Kind != kind {
				t.Fatalf("got kind %q, want %q", evt.Kind, kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %q", kind)
		}
	}
}

func TestAttachWithoutReplayFunc(t *testing.T) {
	h := New()
	ch, unsub := h.Attach(4)
	defer unsub()

	h.Publish(Event{Kind: KindStatus})

	select {
	case evt := <-ch:
		if evt.Kind != KindStatus {
			t.Errorf("got kind %q, want %q", evt.Kind, KindStatus)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}
