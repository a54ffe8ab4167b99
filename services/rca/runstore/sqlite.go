// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

//go:embed schema/0001_init.sql
var sqliteSchema string

const selectColumns = "SELECT run_id, status, message, payload, result, created_at, updated_at FROM run_records"

// SQLiteStore keeps run records in a single SQLite table. Timestamps are
// stored as Unix nanoseconds.
type SQLiteStore struct {
	db    *sql.DB
	mu    sync.Mutex
	clock *writeClock
}

// OpenSQLite opens or creates the database file at path and applies the
// schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("path is required for sqlite run store")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create run store directory %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite run store: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply run store schema: %w", err)
	}
	return &SQLiteStore{db: db, clock: newWriteClock()}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*datatypes.RunRecord, error) {
	var (
		rec             datatypes.RunRecord
		status          string
		payload, result sql.NullString
		created, update int64
	)
	if err := row.Scan(&rec.RunID, &status, &rec.Message, &payload, &result, &created, &update); err != nil {
		return nil, err
	}
	rec.Status = datatypes.RunStatus(status)
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, update).UTC()
	if payload.Valid && payload.String != "" {
		rec.Payload = &datatypes.RCAJob{}
		if err := json.Unmarshal([]byte(payload.String), rec.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", rec.RunID, err)
		}
	}
	if result.Valid && result.String != "" {
		rec.Result = &datatypes.RunResult{}
		if err := json.Unmarshal([]byte(result.String), rec.Result); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", rec.RunID, err)
		}
	}
	return &rec, nil
}

func nullJSON(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// Upsert merges rec into the stored record inside one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, rec *datatypes.RunRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run store tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanRecord(tx.QueryRowContext(ctx, selectColumns+" WHERE run_id = ?", rec.RunID))
	if errors.Is(err, sql.ErrNoRows) {
		existing = nil
	} else if err != nil {
		return fmt.Errorf("read run record %s: %w", rec.RunID, err)
	}

	merged := mergeRecord(existing, rec, s.clock.next())
	payload, err := nullJSON(merged.Payload, merged.Payload == nil)
	if err != nil {
		return fmt.Errorf("encode payload of %s: %w", rec.RunID, err)
	}
	result, err := nullJSON(merged.Result, merged.Result == nil)
	if err != nil {
		return fmt.Errorf("encode result of %s: %w", rec.RunID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO run_records (run_id, status, message, payload, result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			message = excluded.message,
			payload = excluded.payload,
			result = excluded.result,
			updated_at = excluded.updated_at`,
		merged.RunID, string(merged.Status), merged.Message, payload, result,
		merged.CreatedAt.UnixNano(), merged.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("write run record %s: %w", rec.RunID, err)
	}
	return tx.Commit()
}

// Get returns the record for runID.
func (s *SQLiteStore) Get(ctx context.Context, runID string) (*datatypes.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+" WHERE run_id = ?", runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read run record %s: %w", runID, err)
	}
	return rec, nil
}

// List returns a page ordered by UpdatedAt descending.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]*datatypes.RunRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	query := selectColumns
	var args []any
	if opts.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY updated_at DESC, run_id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list run records: %w", err)
	}
	defer rows.Close()

	out := []*datatypes.RunRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of matching records.
func (s *SQLiteStore) Count(ctx context.Context, status datatypes.RunStatus) (int, error) {
	query := "SELECT COUNT(*) FROM run_records"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count run records: %w", err)
	}
	return n, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
