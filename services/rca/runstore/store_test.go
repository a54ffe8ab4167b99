// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func factories() []storeFactory {
	return []storeFactory{
		{"badger", func(t *testing.T) Store {
			s, err := OpenBadger(InMemoryBadgerConfig())
			require.NoError(t, err)
			return s
		}},
		{"sqlite", func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "runs.sqlite"))
			require.NoError(t, err)
			return s
		}},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t)
			defer s.Close()
			fn(t, s)
		})
	}
}

func job() *datatypes.RCAJob {
	j := datatypes.RCAJob{Month: "2024-01", Filters: datatypes.Filters{Region: "EMEA"}, Comparison: datatypes.ComparisonPlan}
	return &j
}

// =============================================================================
// Merge Tests
// =============================================================================

func TestMergeRecord_PreservesPayloadAndResult(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := &datatypes.RunRecord{
		RunID:     "r",
		Status:    datatypes.StatusSynthesizing,
		Payload:   job(),
		Result:    &datatypes.RunResult{Month: "2024-01"},
		CreatedAt: t0,
		UpdatedAt: t0,
	}
	merged := mergeRecord(existing, &datatypes.RunRecord{
		RunID:   "r",
		Status:  datatypes.StatusFailed,
		Message: "boom",
		Payload: &datatypes.RCAJob{},
	}, t0)

	assert.Equal(t, datatypes.StatusFailed, merged.Status)
	assert.Equal(t, "boom", merged.Message)
	assert.Equal(t, job(), merged.Payload)
	assert.Equal(t, "2024-01", merged.Result.Month)
	assert.Equal(t, t0, merged.CreatedAt)
	assert.True(t, merged.UpdatedAt.After(t0), "updated_at advances even when the clock does not")
}

func TestMergeRecord_ResultReplacedWholesale(t *testing.T) {
	t0 := time.Now()
	existing := &datatypes.RunRecord{RunID: "r", Result: &datatypes.RunResult{Month: "2024-01"}, CreatedAt: t0, UpdatedAt: t0}
	merged := mergeRecord(existing, &datatypes.RunRecord{RunID: "r", Result: &datatypes.RunResult{Comparison: "plan"}}, t0.Add(time.Second))

	assert.Equal(t, "", merged.Result.Month)
	assert.Equal(t, datatypes.ComparisonPlan, merged.Result.Comparison)
}

// =============================================================================
// Contract Tests (both backends)
// =============================================================================

func TestStore_UpsertGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, &datatypes.RunRecord{
			RunID: "rca-202401-EMEA", Status: datatypes.StatusQueued, Message: "RCA workflow queued", Payload: job(),
		}))

		rec, err := s.Get(ctx, "rca-202401-EMEA")
		require.NoError(t, err)
		assert.Equal(t, datatypes.StatusQueued, rec.Status)
		assert.Equal(t, "EMEA", rec.Payload.Region)
		assert.Nil(t, rec.Result)
		assert.False(t, rec.CreatedAt.IsZero())
		created := rec.CreatedAt

		finance := datatypes.NoData("No finance data for scope.")
		require.NoError(t, s.Upsert(ctx, &datatypes.RunRecord{
			RunID: "rca-202401-EMEA", Status: datatypes.StatusFinanceCompleted,
			Result: &datatypes.RunResult{ScopeResult: datatypes.ScopeResult{Finance: finance}},
		}))
		require.NoError(t, s.Upsert(ctx, &datatypes.RunRecord{
			RunID: "rca-202401-EMEA", Status: datatypes.StatusFailed, Message: "RCA workflow failed: boom",
		}))

		rec, err = s.Get(ctx, "rca-202401-EMEA")
		require.NoError(t, err)
		assert.Equal(t, datatypes.StatusFailed, rec.Status)
		assert.Equal(t, "EMEA", rec.Payload.Region, "empty payload never erases")
		require.NotNil(t, rec.Result, "absent result never erases")
		assert.Equal(t, "No finance data for scope.", rec.Result.Finance.Summary)
		assert.True(t, rec.CreatedAt.Equal(created))
		assert.True(t, rec.UpdatedAt.After(created))
	})
}

func TestStore_GetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_UpsertRejectsEmptyID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		assert.Error(t, s.Upsert(context.Background(), &datatypes.RunRecord{}))
		assert.Error(t, s.Upsert(context.Background(), nil))
	})
}

func TestStore_ListNewestFirstAndCount(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c", "d"} {
			require.NoError(t, s.Upsert(ctx, &datatypes.RunRecord{RunID: id, Status: datatypes.StatusQueued}))
		}
		// touching "a" makes it the newest
		require.NoError(t, s.Upsert(ctx, &datatypes.RunRecord{RunID: "a", Status: datatypes.StatusCompleted}))

		all, err := s.List(ctx, ListOptions{Limit: 10})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, "a", all[0].RunID)

		pageTwo, err := s.List(ctx, ListOptions{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, pageTwo, 2)
		assert.Equal(t, all[2].RunID, pageTwo[0].RunID)

		queued, err := s.List(ctx, ListOptions{Status: datatypes.StatusQueued})
		require.NoError(t, err)
		assert.Len(t, queued, 3)

		beyond, err := s.List(ctx, ListOptions{Offset: 50})
		require.NoError(t, err)
		assert.Empty(t, beyond)

		n, err := s.Count(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		n, err = s.Count(ctx, datatypes.StatusCompleted)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestStore_ConcurrentUpserts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, &datatypes.RunRecord{RunID: "shared", Status: datatypes.StatusQueued, Payload: job()}))

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.Upsert(ctx, &datatypes.RunRecord{
					RunID: "shared", Status: datatypes.StatusRunning, Message: fmt.Sprintf("write %d", i),
				}))
				assert.NoError(t, s.Upsert(ctx, &datatypes.RunRecord{
					RunID: fmt.Sprintf("run-%d", i), Status: datatypes.StatusQueued,
				}))
			}(i)
		}
		wg.Wait()

		rec, err := s.Get(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, "EMEA", rec.Payload.Region)
		n, err := s.Count(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 17, n)
	})
}

// =============================================================================
// Durability Tests
// =============================================================================

func TestBadgerStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Options{Backend: BackendBadger, Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, &datatypes.RunRecord{RunID: "durable", Status: datatypes.StatusCompleted, Payload: job()}))
	require.NoError(t, s.Close())

	s, err = Open(Options{Backend: BackendBadger, Path: dir})
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Get(ctx, "durable")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, rec.Status)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.sqlite")
	ctx := context.Background()

	s, err := Open(Options{Backend: BackendSQLite, Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, &datatypes.RunRecord{RunID: "durable", Status: datatypes.StatusFailed, Message: "x"}))
	require.NoError(t, s.Close())

	s, err = Open(Options{Backend: BackendSQLite, Path: path})
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Get(ctx, "durable")
	require.NoError(t, err)
	assert.Equal(t, "x", rec.Message)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(Options{Backend: "etcd"})
	assert.Error(t, err)
	_, err = Open(Options{Backend: BackendBadger})
	assert.Error(t, err, "persistent badger needs a path")
	_, err = Open(Options{Backend: BackendSQLite})
	assert.Error(t, err)
}
