// Package history keeps an append-only sqlite record of zone transitions.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alxld/new-zone-light/internal/clock"
	"github.com/alxld/new-zone-light/internal/zone"
)

// DefaultLimit is used when Recent is asked for a non-positive number of rows
const DefaultLimit = 50

// Entry is one recorded transition
type Entry struct {
	ID         int64     `json:"id"`
	Zone       string    `json:"zone"`
	Kind       string    `json:"kind"`
	Source     string    `json:"source"`
	Brightness int       `json:"brightness"`
	Override   int       `json:"brightness_override"`
	Mode       string    `json:"mode"`
	SwitchedOn bool      `json:"switched_on"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store wraps the sqlite connection
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

// Open opens the database and initializes the schema
func Open(path string, clk clock.Clock) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; one connection keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Store{db: db, clock: clk}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS zone_transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			zone TEXT NOT NULL,
			kind TEXT NOT NULL,
			source TEXT NOT NULL,
			brightness INTEGER NOT NULL,
			override INTEGER NOT NULL,
			mode TEXT NOT NULL,
			switched_on INTEGER NOT NULL,
			error TEXT,
			timestamp INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transitions_zone_ts ON zone_transitions(zone, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create zone_transitions table: %w", err)
	}
	return nil
}

// Record appends a transition stamped with the store's clock
func (s *Store) Record(t zone.Transition) error {
	var errText sql.NullString
	if t.Err != nil {
		errText = sql.NullString{String: t.Err.Error(), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO zone_transitions
			(zone, kind, source, brightness, override, mode, switched_on, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.Zone, t.Kind, t.Source.String(), t.State.Brightness, t.State.BrightnessOverride,
		t.State.Mode, t.State.SwitchedOn, errText, s.clock.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// Recent returns the newest transitions of a zone, newest first
func (s *Store) Recent(zoneName string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.Query(`
		SELECT id, zone, kind, source, brightness, override, mode, switched_on, error, timestamp
		FROM zone_transitions
		WHERE zone = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, zoneName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var errText sql.NullString
		var ts int64
		if err := rows.Scan(&e.ID, &e.Zone, &e.Kind, &e.Source, &e.Brightness, &e.Override,
			&e.Mode, &e.SwitchedOn, &errText, &ts); err != nil {
			return nil, err
		}
		e.Error = errText.String
		e.Timestamp = time.UnixMilli(ts).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteOlderThan removes entries older than the retention period
func (s *Store) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := s.clock.Now().Add(-retention).UTC().UnixMilli()
	result, err := s.db.Exec(`DELETE FROM zone_transitions WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
