package docstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists named collections of JSON documents in SQLite. A collection
// is a flat ordered list; Save replaces the whole collection in one
// transaction, Load never fails from the caller's point of view (an absent
// or corrupt collection reads as empty and is logged).
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates a SQLite-backed store with WAL mode and recommended pragmas.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open docstore: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping docstore: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns every document in the collection in insertion order. Errors
// and invalid JSON are logged and reported as an empty collection.
func (s *Store) Load(collection string) []json.RawMessage {
	rows, err := s.db.Query(`
		SELECT body FROM documents
		WHERE collection = ?
		ORDER BY seq`, collection)
	if err != nil {
		s.logger.Warn("docstore read failed, treating collection as empty",
			zap.String("collection", collection), zap.Error(err))
		return nil
	}
	defer func() { _ = rows.Close() }()

	var docs []json.RawMessage
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			s.logger.Warn("docstore scan failed, treating collection as empty",
				zap.String("collection", collection), zap.Error(err))
			return nil
		}
		if !json.Valid(body) {
			s.logger.Warn("corrupt document skipped",
				zap.String("collection", collection))
			continue
		}
		docs = append(docs, json.RawMessage(body))
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("docstore read failed, treating collection as empty",
			zap.String("collection", collection), zap.Error(err))
		return nil
	}
	return docs
}

// Save replaces the entire collection with the given documents. The swap is
// transactional: readers never observe a partially written collection.
func (s *Store) Save(collection string, docs []json.RawMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM documents WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("clear collection %s: %w", collection, err)
	}
	stmt, err := tx.Prepare(`INSERT INTO documents (collection, seq, body) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, doc := range docs {
		if _, err := stmt.Exec(collection, i, []byte(doc)); err != nil {
			return fmt.Errorf("insert into %s: %w", collection, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}
