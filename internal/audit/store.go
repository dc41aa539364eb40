// Package audit keeps an append-only sqlite history of access grants and
// revocations. It is written to, never read back to restore state.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/knockd/internal/clock"
)

// Actions recorded in the audit trail.
const (
	ActionGrant   = "grant"
	ActionRevoke  = "revoke"
	ActionStale   = "stale"
	ActionFailure = "failure"
)

// Record represents a single audit log entry.
type Record struct {
	ID         int64          `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     string         `json:"action"`
	GrantID    string         `json:"grant_id,omitempty"`
	Address    string         `json:"address"`
	Port       int            `json:"port"`
	Generation uint64         `json:"generation"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Filter narrows Query results. Zero values match everything.
type Filter struct {
	Since   time.Time
	Action  string
	Address string
	Limit   int
}

// Store provides persistent storage for audit records.
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	clock         clock.Clock
	retentionDays int
}

// Open creates or opens the audit database at dbPath.
func Open(dbPath string, retentionDays int, clk clock.Clock) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS access_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			action TEXT NOT NULL,
			grant_id TEXT,
			address TEXT NOT NULL,
			port INTEGER NOT NULL,
			generation INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			details TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_access_ts ON access_events(ts);
		CREATE INDEX IF NOT EXISTS idx_access_address ON access_events(address);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = 90
	}

	return &Store{
		db:            db,
		clock:         clock.OrDefault(clk),
		retentionDays: retentionDays,
	}, nil
}

// Write persists an audit record. A zero Timestamp is stamped with the
// store's clock.
func (s *Store) Write(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.clock.Now()
	}

	var detailsJSON []byte
	if rec.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(rec.Details)
		if err != nil {
			detailsJSON = []byte("{}")
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_events (ts, action, grant_id, address, port, generation, error, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Timestamp.UnixNano(), rec.Action, rec.GrantID, rec.Address, rec.Port,
		int64(rec.Generation), rec.Error, string(detailsJSON))
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Query returns audit records matching f, newest first.
func (s *Store) Query(ctx context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, ts, action, grant_id, address, port, generation, error, details
		FROM access_events WHERE ts >= ?`
	args := []any{f.Since.UnixNano()}
	if f.Since.IsZero() {
		args[0] = int64(0)
	}

	if f.Action != "" {
		query += " AND action = ?"
		args = append(args, f.Action)
	}
	if f.Address != "" {
		query += " AND address = ?"
		args = append(args, f.Address)
	}

	query += " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec         Record
			ts          int64
			generation  int64
			grantID     sql.NullString
			errText     sql.NullString
			detailsJSON sql.NullString
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Action, &grantID, &rec.Address, &rec.Port,
			&generation, &errText, &detailsJSON); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}

		rec.Timestamp = time.Unix(0, ts)
		rec.Generation = uint64(generation)
		rec.GrantID = grantID.String
		rec.Error = errText.String
		if detailsJSON.Valid && detailsJSON.String != "" {
			json.Unmarshal([]byte(detailsJSON.String), &rec.Details)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune removes records older than the retention period.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().AddDate(0, 0, -s.retentionDays)
	result, err := s.db.ExecContext(ctx, "DELETE FROM access_events WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune audit records: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the total number of records in the store.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM access_events").Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
