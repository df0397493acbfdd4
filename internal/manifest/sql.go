package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dbsmedya/goextract/internal/logger"
	"github.com/dbsmedya/goextract/internal/sqlutil"
)

// createRunTableSQL is portable between MySQL and SQLite.
const createRunTableSQL = `
CREATE TABLE IF NOT EXISTS extract_run (
	run_id VARCHAR(36) PRIMARY KEY,
	fingerprint VARCHAR(255) NOT NULL,
	started_at DATETIME NOT NULL,
	completed_at DATETIME NOT NULL,
	attempted INT NOT NULL DEFAULT 0,
	skipped INT NOT NULL DEFAULT 0,
	is_current TINYINT NOT NULL DEFAULT 0,
	kinds TEXT
)`

// SQLStore keeps every run record in the extract_run table; the newest wins.
type SQLStore struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSQLStore creates a run ledger on db.
func NewSQLStore(db *sql.DB, log *logger.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &SQLStore{db: db, logger: log}, nil
}

// InitializeTables creates the run table if it doesn't exist.
//
// This method is idempotent and safe to call on every startup.
func (s *SQLStore) InitializeTables(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createRunTableSQL); err != nil {
		return fmt.Errorf("failed to create extract_run table: %w", err)
	}
	s.logger.Debug("Run ledger table initialized")
	return nil
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context) (*RunRecord, error) {
	var rec RunRecord
	var current int
	var kinds sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT run_id, fingerprint, started_at, completed_at, attempted, skipped, is_current, kinds FROM extract_run ORDER BY completed_at DESC LIMIT 1",
	).Scan(&rec.RunID, &rec.Fingerprint, &rec.StartedAt, &rec.CompletedAt, &rec.Attempted, &rec.Skipped, &current, &kinds)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run record: %w", err)
	}

	rec.Current = current != 0
	if kinds.Valid && kinds.String != "" {
		if err := json.Unmarshal([]byte(kinds.String), &rec.Kinds); err != nil {
			return nil, fmt.Errorf("failed to decode kind counts: %w", err)
		}
	}
	return &rec, nil
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, rec *RunRecord) error {
	if rec == nil {
		return fmt.Errorf("run record is nil")
	}
	kinds, err := json.Marshal(rec.Kinds)
	if err != nil {
		return fmt.Errorf("failed to encode kind counts: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO extract_run (run_id, fingerprint, started_at, completed_at, attempted, skipped, is_current, kinds) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		rec.RunID, rec.Fingerprint, rec.StartedAt.UTC(), rec.CompletedAt.UTC(), rec.Attempted, rec.Skipped, sqlutil.BoolInt(rec.Current), string(kinds),
	)
	if err != nil {
		return fmt.Errorf("failed to save run record %s: %w", rec.RunID, err)
	}
	s.logger.Debugf("Run %s recorded (current=%t)", rec.RunID, rec.Current)
	return nil
}
