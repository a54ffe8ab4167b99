// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Name identifies one of the fact datasets.
type Name string

const (
	Finance   Name = "finance_fact"
	Orders    Name = "orders_fact"
	Supply    Name = "supply_fact"
	Shipments Name = "shipments_fact"
	FX        Name = "fx_fact"
	Events    Name = "events_log"
)

// Names lists every dataset the service reads.
var Names = []Name{Finance, Orders, Supply, Shipments, FX, Events}

// ErrUnknownDataset is returned by sources asked for a dataset they do not hold.
var ErrUnknownDataset = errors.New("unknown dataset")

// Source provides read-only fact tables. Implementations must be safe for
// concurrent use and must not hand out tables that are later mutated.
type Source interface {
	Load(ctx context.Context, name Name) (*Table, error)
}

// DefaultCacheEntries bounds the number of cached tables.
const DefaultCacheEntries = 16

// cachedTable pairs a parsed table with the file state it was read from.
type cachedTable struct {
	table   *Table
	modTime time.Time
	size    int64
}

// Repository loads CSV fact tables from a directory and caches the parsed
// result until the file changes on disk.
type Repository struct {
	dir    string
	cache  *lru.Cache[Name, *cachedTable]
	logger *slog.Logger

	// loadMu serializes cold loads so concurrent analyzers do not parse the
	// same file twice.
	loadMu sync.Mutex
}

// NewRepository creates a repository rooted at dir.
func NewRepository(dir string, cacheEntries int, logger *slog.Logger) (*Repository, error) {
	if cacheEntries <= 0 {
		cacheEntries = DefaultCacheEntries
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.NewWithEvict[Name, *cachedTable](cacheEntries, func(name Name, _ *cachedTable) {
		logger.Debug("dataset evicted from cache", "dataset", name)
	})
	if err != nil {
		return nil, fmt.Errorf("create dataset cache: %w", err)
	}
	return &Repository{dir: dir, cache: cache, logger: logger}, nil
}

// Dir returns the data directory.
func (r *Repository) Dir() string { return r.dir }

// Path returns the CSV path backing name.
func (r *Repository) Path(name Name) string {
	return filepath.Join(r.dir, string(name)+".csv")
}

// Load returns the parsed table for name, reusing the cached copy while
// the file's modification time and size are unchanged.
func (r *Repository) Load(ctx context.Context, name Name) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := r.Path(name)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat dataset %s: %w", name, err)
	}
	if entry, ok := r.cache.Get(name); ok && entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
		return entry.table, nil
	}

	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if entry, ok := r.cache.Get(name); ok && entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
		return entry.table, nil
	}

	start := time.Now()
	table, err := ReadCSVFile(string(name), path)
	if err != nil {
		return nil, err
	}
	r.cache.Add(name, &cachedTable{table: table, modTime: info.ModTime(), size: info.Size()})
	r.logger.Debug("dataset loaded",
		"dataset", name,
		"rows", table.Len(),
		"duration_ms", time.Since(start).Milliseconds())
	return table, nil
}

// ReadCSVFile parses the CSV file at path into a table called name.
func ReadCSVFile(name, path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", name, err)
	}
	defer f.Close()
	return ReadCSV(name, f)
}

// ReadCSV parses CSV with a header row from r.
func ReadCSV(name string, r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return NewTable(name, nil, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", name, err)
	}
	var rows [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		rows = append(rows, rec)
	}
	return NewTable(name, header, rows), nil
}

// MemorySource serves fixed tables. Used in tests and by callers that
// assemble data in process.
type MemorySource map[Name]*Table

// Load returns the table registered under name.
func (m MemorySource) Load(_ context.Context, name Name) (*Table, error) {
	t, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}
	return t, nil
}

var (
	_ Source = (*Repository)(nil)
	_ Source = MemorySource(nil)
)
