package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dbsmedya/goextract/internal/logger"
	"github.com/dbsmedya/goextract/internal/sqlutil"
	"github.com/dbsmedya/goextract/internal/types"
)

// DefaultTable is the record table used when none is configured.
const DefaultTable = "extract_record"

// createRecordTableSQL is portable between MySQL and SQLite.
const createRecordTableSQL = `
CREATE TABLE IF NOT EXISTS %s (
	kind VARCHAR(191) NOT NULL,
	record_id VARCHAR(512) NOT NULL,
	seq INT NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (kind, record_id)
)`

// SQLSink stores one row per record in a shared table.
type SQLSink struct {
	db     *sql.DB
	table  string
	logger *logger.Logger
}

// NewSQLSink creates a SQLSink writing to table (DefaultTable when empty).
func NewSQLSink(db *sql.DB, table string, log *logger.Logger) (*SQLSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if table == "" {
		table = DefaultTable
	}
	quoted, err := sqlutil.QuoteIdentifierSafe(table)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &SQLSink{db: db, table: quoted, logger: log}, nil
}

// InitializeTables creates the record table if it doesn't exist.
func (s *SQLSink) InitializeTables(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(createRecordTableSQL, s.table)); err != nil {
		return fmt.Errorf("failed to create %s table: %w", s.table, err)
	}
	return nil
}

// Write implements Sink. The whole write happens in one transaction.
func (s *SQLSink) Write(ctx context.Context, kind string, records []*types.Record, mode Mode) (res WriteResult, err error) {
	res = WriteResult{Kind: kind, Mode: mode}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Errorf("Failed to rollback transaction: %v", rbErr)
			}
		}
	}()

	seen := make(map[string]bool)
	next := 0
	if mode == Full {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE kind = ?", s.table), kind); err != nil {
			return res, fmt.Errorf("failed to clear %s: %w", kind, err)
		}
	} else {
		if next, err = s.existing(ctx, tx, kind, seen); err != nil {
			return res, err
		}
	}

	added := dedupe(records, seen)
	if mode == Additive && len(added) == 0 {
		res.Total = next
		res.Skipped = true
		s.logger.Debugw("No new records, table left untouched", "kind", kind)
		return res, nil
	}

	if len(added) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			fmt.Sprintf("INSERT INTO %s (kind, record_id, seq, payload) VALUES (?, ?, ?, ?)", s.table))
		if err != nil {
			return res, fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer func() {
			if err := stmt.Close(); err != nil {
				s.logger.Warnf("Failed to close statement: %v", err)
			}
		}()

		for i, r := range added {
			payload, err := json.Marshal(r)
			if err != nil {
				return res, fmt.Errorf("failed to encode %s/%s: %w", kind, r.Name, err)
			}
			if _, err := stmt.ExecContext(ctx, kind, r.Name, next+i, string(payload)); err != nil {
				return res, fmt.Errorf("failed to insert %s/%s: %w", kind, r.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("failed to commit %s: %w", kind, err)
	}
	tx = nil

	res.Total = next + len(added)
	res.Added = len(added)
	s.logger.Debugw("Stored records", "kind", kind, "mode", mode.String(), "total", res.Total, "added", res.Added)
	return res, nil
}

// existing marks stored record IDs of kind as seen and returns the row count.
func (s *SQLSink) existing(ctx context.Context, tx *sql.Tx, kind string, seen map[string]bool) (int, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT record_id FROM %s WHERE kind = ?", s.table), kind)
	if err != nil {
		return 0, fmt.Errorf("failed to query stored %s: %w", kind, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warnf("Failed to close rows: %v", err)
		}
	}()

	n := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to scan record id: %w", err)
		}
		seen[id] = true
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating stored %s: %w", kind, err)
	}
	return n, nil
}

// Load implements Source.
func (s *SQLSink) Load(ctx context.Context, kind string) ([]*types.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT payload FROM %s WHERE kind = ? ORDER BY seq ASC", s.table), kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", kind, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warnf("Failed to close rows: %v", err)
		}
	}()

	var records []*types.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan payload: %w", err)
		}
		r := &types.Record{}
		if err := json.Unmarshal([]byte(payload), r); err != nil {
			return nil, fmt.Errorf("failed to decode %s record: %w", kind, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Kinds implements Source.
func (s *SQLSink) Kinds(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT kind FROM %s ORDER BY kind", s.table))
	if err != nil {
		return nil, fmt.Errorf("failed to list kinds: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warnf("Failed to close rows: %v", err)
		}
	}()

	var kinds []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan kind: %w", err)
		}
		kinds = append(kinds, k)
	}
	return kinds, rows.Err()
}

// Close implements Sink. The connection belongs to the caller.
func (s *SQLSink) Close() error {
	return nil
}
