package msglog

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rafaelmp2/zaprelay/internal/docstore"
	"github.com/rafaelmp2/zaprelay/internal/hub"
	"go.uber.org/zap"
)

func testDocstore(t *testing.T) *docstore.Store {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	s, err := docstore.Open(filepath.Join(t.TempDir(), "data.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rec(id, from, to string, ts int64) Record {
	return Record{ID: id, From: from, To: to, Body: "b", Direction: DirectionReceived, Timestamp: ts, Status: StatusDelivered}
}

func TestAppendAndLen(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	l := New(nil, 10, logger)
	l.Append(rec("1", "a", "me", 1))
	l.Append(rec("2", "a", "me", 2))
	if l.Len() != 2 {
		t.Errorf("len = %d, want 2", l.Len())
	}
}

func TestCapEvictsOldestFirst(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	l := New(nil, 5, logger)
	for i := 0; i < 8; i++ {
		l.Append(rec(fmt.Sprintf("%d", i), "a", "me", int64(i)))
	}
	if l.Len() != 5 {
		t.Fatalf("len = %d, want 5", l.Len())
	}
	got := l.History("a", 50)
	if got[0].ID != "3" || got[len(got)-1].ID != "7" {
		t.Errorf("window = [%s..%s], want [3..7] (FIFO eviction)", got[0].ID, got[len(got)-1].ID)
	}
}

func TestHistoryFiltersByCounterpart(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	l := New(nil, 100, logger)
	l.Append(rec("1", "alice", "me", 1))
	l.Append(rec("2", "bob", "me", 2))
	l.Append(Record{ID: "3", To: "alice", Body: "hi", Direction: DirectionSent, Timestamp: 3, Status: StatusSent})

	got := l.History("alice", 50)
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	// Chronological order, both directions.
	if got[0].ID != "1" || got[1].ID != "3" {
		t.Errorf("order = [%s, %s], want [1, 3]", got[0].ID, got[1].ID)
	}
}

func TestHistoryLimitKeepsMostRecent(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	l := New(nil, 200, logger)
	for i := 0; i < 60; i++ {
		l.Append(rec(fmt.Sprintf("%d", i), "a", "me", int64(i)))
	}
	got := l.History("a", 50)
	if len(got) != 50 {
		t.Fatalf("got %d records, want 50", len(got))
	}
	if got[0].ID != "10" || got[49].ID != "59" {
		t.Errorf("window = [%s..%s], want [10..59]", got[0].ID, got[49].ID)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	store := testDocstore(t)
	logger, _ := zap.NewDevelopment()

	l := New(store, 10, logger)
	l.Append(rec("1", "a", "me", 1))
	l.Append(rec("2", "a", "me", 2))

	// A fresh log over the same store sees the persisted records.
	l2 := New(store, 10, logger)
	if l2.Len() != 2 {
		t.Fatalf("reloaded len = %d, want 2", l2.Len())
	}
	got := l2.History("a", 50)
	if got[0].ID != "1" || got[1].ID != "2" {
		t.Errorf("reloaded order = [%s, %s], want [1, 2]", got[0].ID, got[1].ID)
	}
}

func TestReloadAppliesCap(t *testing.T) {
	store := testDocstore(t)
	logger, _ := zap.NewDevelopment()

	l := New(store, 100, logger)
	for i := 0; i < 50; i++ {
		l.Append(rec(fmt.Sprintf("%d", i), "a", "me", int64(i)))
	}

	// Reload with a smaller cap: only the newest records survive.
	l2 := New(store, 10, logger)
	if l2.Len() != 10 {
		t.Fatalf("reloaded len = %d, want 10", l2.Len())
	}
	got := l2.History("a", 50)
	if got[0].ID != "40" {
		t.Errorf("oldest surviving = %s, want 40", got[0].ID)
	}
}

func TestRecorderAppendsInboundEvents(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	h := hub.New()
	l := New(nil, 10, logger)
	r := NewRecorder(l, h, logger)
	r.Start(context.Background())
	defer r.Stop()

	h.Publish(hub.Event{Kind: hub.KindMsgReceived, Timestamp: time.Now(), Payload: rec("1", "a", "me", 1)})

	deadline := time.After(2 * time.Second)
	for l.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for recorder to append")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := l.History("a", 50); len(got) != 1 || got[0].ID != "1" {
		t.Errorf("history = %v, want single record 1", got)
	}
}

func TestCounterpart(t *testing.T) {
	sent := Record{Direction: DirectionSent, To: "x", From: "me"}
	if sent.Counterpart() != "x" {
		t.Errorf("sent counterpart = %q, want x", sent.Counterpart())
	}
	recv := Record{Direction: DirectionReceived, From: "y"}
	if recv.Counterpart() != "y" {
		t.Errorf("received counterpart = %q, want y", recv.Counterpart())
	}
}
