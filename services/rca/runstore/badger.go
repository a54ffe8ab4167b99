// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

// keyPrefix namespaces run records inside the badger keyspace.
const keyPrefix = "run:"

// =============================================================================
// Configuration
// =============================================================================

// BadgerConfig configures the BadgerDB backend.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory.
	Path string

	// InMemory keeps all data in memory. Records do not survive restart.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger

	// GCInterval is the value log GC period. Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is passed to RunValueLogGC.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns durable defaults: synchronous writes and value
// log GC every 10 minutes.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a config for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

// =============================================================================
// Store
// =============================================================================

// BadgerStore keeps one JSON document per run under "run:<run_id>".
//
// List and Count scan the run prefix. Run volume for a single deployment is
// small (one record per month and slice), so no secondary index is kept.
type BadgerStore struct {
	db    *badger.DB
	gc    *gcRunner
	mu    sync.Mutex
	clock *writeClock
}

// OpenBadger opens or creates a badger-backed store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent run store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create run store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger run store: %w", err)
	}

	s := &BadgerStore{db: db, clock: newWriteClock()}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		s.gc.start()
	}
	return s, nil
}

func recordKey(runID string) []byte {
	return []byte(keyPrefix + runID)
}

func readRecord(txn *badger.Txn, runID string) (*datatypes.RunRecord, error) {
	item, err := txn.Get(recordKey(runID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec datatypes.RunRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("decode run record %s: %w", runID, err)
	}
	return &rec, nil
}

// Upsert merges rec into the stored record.
func (s *BadgerStore) Upsert(ctx context.Context, rec *datatypes.RunRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		existing, err := readRecord(txn, rec.RunID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("read run record %s: %w", rec.RunID, err)
		}
		merged := mergeRecord(existing, rec, s.clock.next())
		data, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode run record %s: %w", rec.RunID, err)
		}
		if err := txn.Set(recordKey(rec.RunID), data); err != nil {
			return fmt.Errorf("write run record %s: %w", rec.RunID, err)
		}
		return nil
	})
}

// Get returns the record for runID.
func (s *BadgerStore) Get(ctx context.Context, runID string) (*datatypes.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec *datatypes.RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, runID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// scan decodes every record matching status.
func (s *BadgerStore) scan(status datatypes.RunStatus) ([]*datatypes.RunRecord, error) {
	var out []*datatypes.RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: []byte(keyPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec datatypes.RunRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode run record %s: %w", it.Item().Key(), err)
			}
			if status != "" && rec.Status != status {
				continue
			}
			out = append(out, &rec)
		}
		return nil
	})
	return out, err
}

// List returns a page ordered by UpdatedAt descending.
func (s *BadgerStore) List(ctx context.Context, opts ListOptions) ([]*datatypes.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.scan(opts.Status)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(recs)
	return page(recs, opts), nil
}

// Count returns the number of matching records.
func (s *BadgerStore) Count(ctx context.Context, status datatypes.RunStatus) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.scan(status)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gc != nil {
		s.gc.stop()
		s.gc = nil
	}
	return s.db.Close()
}

// =============================================================================
// Value Log GC
// =============================================================================

// gcRunner periodically reclaims badger value log space.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *gcRunner) start() {
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				if err := r.db.RunValueLogGC(r.ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) && r.logger != nil {
					r.logger.Warn("run store value log GC failed", "error", err)
				}
			}
		}
	}()
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

var _ Store = (*BadgerStore)(nil)
