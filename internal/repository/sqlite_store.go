package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var sqliteBuckets = []string{"tickets", "details", "logs", "stock", "seq"}

// SQLiteStore is a MemoryStore that snapshots its full state into a single
// SQLite table after every transaction. A failed snapshot aborts the commit.
// Each commit re-encodes every bucket, so it shares the MemoryStore write
// cost and suits single-node development setups only.
type SQLiteStore struct {
	*MemoryStore
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path and hydrates state from it.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "ticketflow.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &SQLiteStore{MemoryStore: NewMemoryStore(), db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.MemoryStore.onCommit = s.persist
	return s, nil
}

func (s *SQLiteStore) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := newSnapshot()
	found := false
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		found = true
		var target any
		switch bucket {
		case "tickets":
			target = &snapshot.Tickets
		case "details":
			target = &snapshot.Details
		case "logs":
			target = &snapshot.Logs
		case "stock":
			target = &snapshot.Stock
		case "seq":
			target = &snapshot.Seq
		default:
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if found {
		s.ImportState(snapshot)
	}
	return nil
}

func (s *SQLiteStore) persist(snapshot MemorySnapshot) (retErr error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range sqliteBuckets {
		var data []byte
		switch bucket {
		case "tickets":
			data, err = json.Marshal(snapshot.Tickets)
		case "details":
			data, err = json.Marshal(snapshot.Details)
		case "logs":
			data, err = json.Marshal(snapshot.Logs)
		case "stock":
			data, err = json.Marshal(snapshot.Stock)
		case "seq":
			data, err = json.Marshal(snapshot.Seq)
		}
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err = tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	return tx.Commit()
}

// Ping verifies the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the configured database path.
func (s *SQLiteStore) Path() string { return s.path }
