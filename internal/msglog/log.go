// Package msglog keeps a bounded append-only record of sent and received
// messages, persisted through the docstore.
package msglog

import (
	"encoding/json"
	"sync"

	"github.com/rafaelmp2/zaprelay/internal/docstore"
	"go.uber.org/zap"
)

// Message directions.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Delivery statuses. A record only ever moves forward:
// queued -> sent -> delivered, or -> failed.
const (
	StatusQueued    = "queued"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// DefaultCap bounds the log to the most recent entries, matching the
// history window the web client browses.
const DefaultCap = 1000

const collection = "messages"

// Record is one message in the log. Field names match the wire shape the
// web client consumes.
type Record struct {
	ID        string `json:"id"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Body      string `json:"message"`
	Direction string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Status    string `json:"status"`
	Bulk      bool   `json:"bulk,omitempty"`
}

// Counterpart returns the remote party of the record.
func (r Record) Counterpart() string {
	if r.Direction == DirectionSent {
		return r.To
	}
	return r.From
}

// Log is the bounded in-memory message log with write-through persistence.
type Log struct {
	mu      sync.RWMutex
	records []Record
	cap     int
	store   *docstore.Store
	logger  *zap.Logger
}

// New creates a log bounded to capacity entries and loads any persisted
// records from the store. capacity <= 0 selects DefaultCap.
func New(store *docstore.Store, capacity int, logger *zap.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	l := &Log{cap: capacity, store: store, logger: logger}
	l.load()
	return l
}

func (l *Log) load() {
	if l.store == nil {
		return
	}
	for _, doc := range l.store.Load(collection) {
		var rec Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			l.logger.Warn("skipping unreadable message record", zap.Error(err))
			continue
		}
		l.records = append(l.records, rec)
	}
	l.truncate()
}

// Append adds a record, evicting the oldest entries beyond the cap, and
// persists the log. Persistence failures are logged, not returned: the
// in-memory log stays authoritative for the running process.
func (l *Log) Append(rec Record) {
	l.mu.Lock()
	l.records = append(l.records, rec)
	l.truncate()
	l.persistLocked()
	l.mu.Unlock()
}

// truncate drops the oldest entries beyond the cap. Caller must hold the
// lock (or have exclusive access during load).
func (l *Log) truncate() {
	if len(l.records) > l.cap {
		l.records = append([]Record(nil), l.records[len(l.records)-l.cap:]...)
	}
}

func (l *Log) persistLocked() {
	if l.store == nil {
		return
	}
	docs := make([]json.RawMessage, 0, len(l.records))
	for _, rec := range l.records {
		body, err := json.Marshal(rec)
		if err != nil {
			l.logger.Warn("skipping unencodable message record", zap.Error(err))
			continue
		}
		docs = append(docs, body)
	}
	if err := l.store.Save(collection, docs); err != nil {
		l.logger.Error("failed to persist message log", zap.Error(err))
	}
}

// Len returns the number of records currently held.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// History returns up to limit records involving the counterpart, in
// chronological order (the log itself is append-ordered).
func (l *Log) History(counterpart string, limit int) []Record {
	if limit <= 0 {
		limit = 50
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []Record
	for _, rec := range l.records {
		if rec.From == counterpart || rec.To == counterpart {
			matched = append(matched, rec)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}
