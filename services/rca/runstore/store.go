// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package runstore persists RCA run records.
//
// # Description
//
// A run record is the pollable state of one submitted job. The store merges
// partial writes into the stored record so the orchestrator can persist
// each lifecycle stage without re-reading it first:
//
//   - Status, Message and UpdatedAt always come from the incoming write.
//   - Payload keeps the stored value when the incoming payload is empty.
//   - Result keeps the stored value when the incoming result is nil, and is
//     replaced wholesale otherwise.
//   - CreatedAt is fixed at first insert.
//
// Two durable backends exist: BadgerDB (default) and SQLite. Both serialize
// every operation through one mutex so a read-modify-write upsert never
// interleaves with another writer.
//
// # Thread Safety
//
// All Store implementations are safe for concurrent use.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

// ErrNotFound is returned by Get when no record exists for a run id.
var ErrNotFound = errors.New("run record not found")

// =============================================================================
// Interface
// =============================================================================

// ListOptions selects a page of records, newest UpdatedAt first.
type ListOptions struct {
	// Limit caps the page size. Zero or negative means DefaultListLimit.
	Limit int

	// Offset skips that many matching records.
	Offset int

	// Status restricts the page to one status when non-empty.
	Status datatypes.RunStatus
}

// DefaultListLimit is used when ListOptions.Limit is not set.
const DefaultListLimit = 20

// Store is the run record persistence contract.
type Store interface {
	// Upsert merges rec into the stored record for rec.RunID, creating it
	// if absent. Storage errors are returned unchanged in meaning.
	Upsert(ctx context.Context, rec *datatypes.RunRecord) error

	// Get returns the record for runID or ErrNotFound.
	Get(ctx context.Context, runID string) (*datatypes.RunRecord, error)

	// List returns a page of records ordered by UpdatedAt descending.
	List(ctx context.Context, opts ListOptions) ([]*datatypes.RunRecord, error)

	// Count returns the number of records, optionally with one status.
	Count(ctx context.Context, status datatypes.RunStatus) (int, error)

	// Close releases the underlying storage handle.
	Close() error
}

// =============================================================================
// Backend Selection
// =============================================================================

// Backend names a storage engine.
type Backend string

const (
	BackendBadger Backend = "badger"
	BackendSQLite Backend = "sqlite"
)

// Options configures Open.
type Options struct {
	Backend Backend

	// Path is a directory for badger and a file for sqlite.
	Path string

	// InMemory selects badger's in-memory mode. Tests only.
	InMemory bool

	Badger BadgerConfig
}

// Open creates the store selected by opts.Backend.
func Open(opts Options) (Store, error) {
	switch Backend(strings.ToLower(string(opts.Backend))) {
	case "", BackendBadger:
		cfg := opts.Badger
		if cfg == (BadgerConfig{}) {
			cfg = DefaultBadgerConfig()
		}
		cfg.Path = opts.Path
		cfg.InMemory = opts.InMemory
		return OpenBadger(cfg)
	case BackendSQLite:
		return OpenSQLite(opts.Path)
	default:
		return nil, fmt.Errorf("unknown run store backend %q", opts.Backend)
	}
}

// =============================================================================
// Merge Semantics
// =============================================================================

// payloadEmpty reports whether a payload carries no job.
func payloadEmpty(p *datatypes.RCAJob) bool {
	return p == nil || *p == (datatypes.RCAJob{})
}

// mergeRecord combines an incoming write with the stored record.
//
// existing may be nil. now is the write time; UpdatedAt is forced strictly
// past the stored value so ordering by UpdatedAt matches write order even
// when the clock does not advance between writes.
func mergeRecord(existing, incoming *datatypes.RunRecord, now time.Time) *datatypes.RunRecord {
	out := *incoming
	now = now.UTC()
	if existing == nil {
		if payloadEmpty(out.Payload) {
			out.Payload = nil
		}
		if out.CreatedAt.IsZero() {
			out.CreatedAt = now
		}
		out.UpdatedAt = now
		return &out
	}

	if payloadEmpty(out.Payload) {
		out.Payload = existing.Payload
	}
	if out.Result == nil {
		out.Result = existing.Result
	}
	out.CreatedAt = existing.CreatedAt
	if !now.After(existing.UpdatedAt) {
		now = existing.UpdatedAt.Add(time.Microsecond)
	}
	out.UpdatedAt = now
	return &out
}

// writeClock hands out strictly increasing write times for one store so
// UpdatedAt order matches write order across runs. Callers hold the store
// mutex.
type writeClock struct {
	now  func() time.Time
	last time.Time
}

func newWriteClock() *writeClock {
	return &writeClock{now: time.Now}
}

func (c *writeClock) next() time.Time {
	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

// sortNewestFirst orders records by UpdatedAt descending, run id ascending
// on ties.
func sortNewestFirst(recs []*datatypes.RunRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
			return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
		}
		return recs[i].RunID < recs[j].RunID
	})
}

// page applies offset and limit to an ordered slice.
func page(recs []*datatypes.RunRecord, opts ListOptions) []*datatypes.RunRecord {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(recs) {
		return []*datatypes.RunRecord{}
	}
	end := offset + limit
	if end > len(recs) {
		end = len(recs)
	}
	return recs[offset:end]
}

func validateRecord(rec *datatypes.RunRecord) error {
	if rec == nil {
		return errors.New("run record is nil")
	}
	if rec.RunID == "" {
		return errors.New("run record has empty run_id")
	}
	return nil
}
