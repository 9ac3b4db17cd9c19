package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// Lifecycle errors. Every operation outside the Ready state fails with
// one of these.
var (
	ErrNotReady = errors.New("store not ready")
	ErrClosed   = errors.New("store closed")
)

const (
	stateUninitialized int32 = iota
	stateReady
	stateClosed
)

// Store wraps the SQLite database connection and schema lifecycle. It
// moves Uninitialized -> Ready (after InitSchema) -> Closed and rejects
// calls made outside Ready.
type Store struct {
	db    *sql.DB
	state atomic.Int32
}

// Open initializes the database connection, creating directories as
// needed. The store accepts no queries until InitSchema has completed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.state.Store(stateClosed)
	return s.db.Close()
}

// ready gates every query on the lifecycle state.
func (s *Store) ready() error {
	switch s.state.Load() {
	case stateReady:
		return nil
	case stateClosed:
		return ErrClosed
	default:
		return ErrNotReady
	}
}

// Ready reports whether the store accepts queries.
func (s *Store) Ready() bool {
	return s.state.Load() == stateReady
}

// InitSchema ensures baseline tables and indexes exist and marks the
// store ready.
func (s *Store) InitSchema(ctx context.Context) error {
	if s.state.Load() == stateClosed {
		return ErrClosed
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS placements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mason_id TEXT NOT NULL,
			brick_number TEXT NOT NULL,
			rfid_tag TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			received_at INTEGER NOT NULL,
			latitude REAL NOT NULL DEFAULT 0.0,
			longitude REAL NOT NULL DEFAULT 0.0,
			altitude REAL NOT NULL DEFAULT 0.0,
			accuracy REAL NOT NULL DEFAULT 0.0,
			build_session_id TEXT NOT NULL DEFAULT '',
			event_seq INTEGER NOT NULL DEFAULT 0,
			rssi_avg INTEGER NOT NULL DEFAULT 0,
			rssi_peak INTEGER NOT NULL DEFAULT 0,
			reads_in_window INTEGER NOT NULL DEFAULT 0,
			power_level INTEGER NOT NULL DEFAULT 0,
			decision_status TEXT NOT NULL DEFAULT 'ACCEPTED',
			event_id TEXT NOT NULL UNIQUE,
			scan_type TEXT NOT NULL DEFAULT 'placement',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		// Covers live feed and per-mason listings.
		`CREATE INDEX IF NOT EXISTS idx_placements_mason_time ON placements(mason_id, timestamp DESC);`,
		// Covers the critical dedup lookup during sync.
		`CREATE INDEX IF NOT EXISTS idx_placements_mason_brick ON placements(mason_id, brick_number, timestamp DESC);`,
		// Covers the cross-mason conflict check.
		`CREATE INDEX IF NOT EXISTS idx_placements_brick_time ON placements(brick_number, timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_placements_session_seq ON placements(build_session_id, event_seq);`,
		`CREATE TABLE IF NOT EXISTS placement_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			placement_id INTEGER NOT NULL,
			mason_id TEXT NOT NULL,
			brick_number TEXT NOT NULL,
			rfid_tag TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			received_at INTEGER NOT NULL DEFAULT 0,
			latitude REAL NOT NULL DEFAULT 0.0,
			longitude REAL NOT NULL DEFAULT 0.0,
			altitude REAL NOT NULL DEFAULT 0.0,
			accuracy REAL NOT NULL DEFAULT 0.0,
			build_session_id TEXT NOT NULL DEFAULT '',
			event_seq INTEGER NOT NULL DEFAULT 0,
			rssi_avg INTEGER NOT NULL DEFAULT 0,
			rssi_peak INTEGER NOT NULL DEFAULT 0,
			reads_in_window INTEGER NOT NULL DEFAULT 0,
			power_level INTEGER NOT NULL DEFAULT 0,
			decision_status TEXT NOT NULL DEFAULT 'ACCEPTED',
			event_id TEXT NOT NULL DEFAULT '',
			scan_type TEXT NOT NULL DEFAULT 'placement',
			action_type TEXT NOT NULL DEFAULT 'UPDATE',
			archived_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		// event_id is deliberately not unique here: the same event id may
		// recur across archived snapshots of a lineage.
		`CREATE INDEX IF NOT EXISTS idx_history_brick ON placement_history(brick_number, timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_history_mason ON placement_history(mason_id, timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_history_placement ON placement_history(placement_id);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	s.state.Store(stateReady)
	return nil
}

// DB exposes the underlying sql.DB for callers that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}
