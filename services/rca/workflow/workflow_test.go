// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRCA/services/llm"
	"github.com/AleutianAI/AleutianRCA/services/rca/analyzers"
	"github.com/AleutianAI/AleutianRCA/services/rca/dataset"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
	"github.com/AleutianAI/AleutianRCA/services/rca/runstore"
	"github.com/AleutianAI/AleutianRCA/services/rca/synthesis"
)

// =============================================================================
// Test Helpers
// =============================================================================

// recordingStore keeps a deep copy of every write.
type recordingStore struct {
	runstore.Store

	mu     sync.Mutex
	writes []datatypes.RunRecord

	// beforeUpsert, when set, runs ahead of every write.
	beforeUpsert func(rec *datatypes.RunRecord)
}

func (s *recordingStore) Upsert(ctx context.Context, rec *datatypes.RunRecord) error {
	if s.beforeUpsert != nil {
		s.beforeUpsert(rec)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var cp datatypes.RunRecord
	if err := json.Unmarshal(data, &cp); err != nil {
		return err
	}
	s.mu.Lock()
	s.writes = append(s.writes, cp)
	s.mu.Unlock()
	return s.Store.Upsert(ctx, rec)
}

func (s *recordingStore) statuses() []datatypes.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]datatypes.RunStatus, 0, len(s.writes))
	for _, w := range s.writes {
		out = append(out, w.Status)
	}
	return out
}

func (s *recordingStore) all() []datatypes.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]datatypes.RunRecord(nil), s.writes...)
}

// hookedAnalyzer runs before, then delegates.
type hookedAnalyzer struct {
	analyzers.Analyzer
	before func(req analyzers.Request) error
}

func (h *hookedAnalyzer) Analyze(ctx context.Context, t *dataset.Table, req analyzers.Request) (*datatypes.AnalysisResult, error) {
	if err := h.before(req); err != nil {
		return nil, err
	}
	return h.Analyzer.Analyze(ctx, t, req)
}

type engineOpts struct {
	registry analyzers.Registry
	synth    *synthesis.Synthesizer
}

func newTestEngine(t *testing.T, opts engineOpts) (*Engine, *recordingStore) {
	t.Helper()
	inner, err := runstore.Open(runstore.Options{Backend: runstore.BackendBadger, InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inner.Close() })
	store := &recordingStore{Store: inner}

	repo, err := dataset.NewRepository("../testdata", 8, nil)
	require.NoError(t, err)

	if opts.registry == (analyzers.Registry{}) {
		opts.registry = analyzers.NewRegistry(analyzers.Options{})
	}
	engine, err := NewEngine(Config{
		Store:       store,
		Data:        repo,
		Analyzers:   opts.registry,
		Synthesizer: opts.synth,
	})
	require.NoError(t, err)
	return engine, store
}

// =============================================================================
// Single Scope
// =============================================================================

func TestRun_SingleScope(t *testing.T) {
	engine, store := newTestEngine(t, engineOpts{})
	job := datatypes.RCAJob{Month: "2024-01", Filters: datatypes.Filters{Region: "EMEA"}, Comparison: datatypes.ComparisonPlan}

	rec, err := engine.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, "rca-202401-EMEA", rec.RunID)
	assert.Equal(t, datatypes.StatusCompleted, rec.Status)
	assert.Equal(t, "RCA workflow completed for selected scope.", rec.Message)
	require.NotNil(t, rec.Payload)
	assert.False(t, rec.Payload.FullSweep)

	res := rec.Result
	require.NotNil(t, res)
	for _, d := range datatypes.Domains {
		assert.NotNil(t, res.Analysis(d), "missing %s", d)
	}
	require.NotNil(t, res.Synthesis)
	assert.NotEmpty(t, res.Synthesis.LLMDecisionSummary)
	require.NotNil(t, res.Filters)
	assert.Equal(t, "EMEA", res.Filters.Region)
	assert.Equal(t, datatypes.ScopeLabelSelected, res.Scope)
	require.NotNil(t, res.Rollup)
	assert.Contains(t, res.Rollup.Overall.Metrics, "revenue")
	assert.Nil(t, res.Scopes)

	assert.Equal(t, []datatypes.RunStatus{
		datatypes.StatusQueued,
		datatypes.StatusRunning,
		datatypes.StatusFinanceCompleted,
		datatypes.StatusSynthesizing,
		datatypes.StatusCompleted,
	}, store.statuses())

	writes := store.all()
	assert.Equal(t, "Finance analysis completed for selected scope.", writes[2].Message)
	require.NotNil(t, writes[2].Result)
	assert.NotNil(t, writes[2].Result.Finance)
	assert.Equal(t, "Aggregating findings for selected scope.", writes[3].Message)
	assert.NotNil(t, writes[3].Result.Events)
	assert.Nil(t, writes[3].Result.Synthesis)
}

func TestRun_RollupIgnoresMetricFilter(t *testing.T) {
	engine, _ := newTestEngine(t, engineOpts{})
	job := datatypes.RCAJob{Month: "2024-01", Filters: datatypes.Filters{Region: "NA", Metric: "margin"}}

	rec, err := engine.Run(context.Background(), job)
	require.NoError(t, err)

	metrics := rec.Result.Rollup.Overall.Metrics
	assert.Contains(t, metrics, "revenue")
	assert.Contains(t, metrics, "margin")
}

// =============================================================================
// Full Sweep
// =============================================================================

func TestRun_FullSweep(t *testing.T) {
	engine, store := newTestEngine(t, engineOpts{})

	rec, err := engine.Run(context.Background(), datatypes.RCAJob{Month: "2024-01"})
	require.NoError(t, err)

	assert.Equal(t, "rca-202401-all-sweep", rec.RunID)
	assert.Equal(t, datatypes.StatusCompleted, rec.Status)
	assert.Equal(t, "Full-sweep RCA workflow completed.", rec.Message)
	require.NotNil(t, rec.Payload)
	assert.True(t, rec.Payload.FullSweep)
	assert.Equal(t, datatypes.ComparisonAll, rec.Payload.Comparison)

	res := rec.Result
	require.Len(t, res.ScopeOrder, 13)
	assert.Len(t, res.Scopes, 13)
	assert.Equal(t, datatypes.ScopeLabelOverall, res.ScopeOrder[0])
	assert.Equal(t, []string{"region:EMEA", "region:NA", "region:APAC"}, res.ScopeOrder[1:4])
	assert.Nil(t, res.Current)
	require.NotNil(t, res.Portfolio)
	assert.NotEmpty(t, res.Portfolio.Hotspots)
	assert.Equal(t, datatypes.DomainFinance, res.Portfolio.Hotspots[0].Domain)
	assert.Equal(t, 13, res.Portfolio.Hotspots[0].Occurrences)
	require.NotNil(t, res.Rollup)
	require.NotNil(t, res.Domains)
	assert.Len(t, res.Domains.Regions, 3)
	assert.Len(t, res.Domains.BUs, 2)
	assert.Equal(t, "2024-01", res.Month)
	assert.Equal(t, datatypes.ComparisonAll, res.Comparison)

	for _, label := range res.ScopeOrder {
		sr := res.Scopes[label]
		require.NotNil(t, sr, label)
		assert.Equal(t, label, sr.Scope)
		assert.NotNil(t, sr.Synthesis, label)
		assert.NotNil(t, sr.Rollup, label)
	}
	assert.Equal(t, "NA", res.Scopes["region:NA"].Filters.Region)

	writes := store.all()
	var scopeCompleted, progress int
	for i, w := range writes {
		if w.Status == datatypes.StatusCompleted {
			assert.Equal(t, len(writes)-1, i, "completed must only be the final write")
		}
		if w.Status == datatypes.StatusScopeCompleted {
			scopeCompleted++
		}
		if w.Status == datatypes.StatusRunning && strings.HasPrefix(w.Message, "Processed ") {
			progress++
			assert.Equal(t, fmt.Sprintf("Processed %d/13 scopes.", progress), w.Message)
			assert.Len(t, w.Result.Scopes, progress)
		}
	}
	assert.Equal(t, 13, scopeCompleted)
	assert.Equal(t, 13, progress)
}

func TestRun_SweepWritesNeverShrink(t *testing.T) {
	engine, store := newTestEngine(t, engineOpts{})
	_, err := engine.Run(context.Background(), datatypes.RCAJob{Month: "2024-01", Filters: datatypes.Filters{Region: "EMEA"}, FullSweep: true})
	require.NoError(t, err)

	prev := 0
	for _, w := range store.all() {
		if w.Result == nil {
			continue
		}
		assert.GreaterOrEqual(t, len(w.Result.Scopes), prev, w.Message)
		prev = len(w.Result.Scopes)
	}
}

func TestRun_SweepFailureKeepsCompletedScopes(t *testing.T) {
	registry := analyzers.NewRegistry(analyzers.Options{})
	registry.Supply = &hookedAnalyzer{Analyzer: registry.Supply, before: func(req analyzers.Request) error {
		if req.Filters.Region == "NA" {
			return errors.New("supply feed unavailable")
		}
		return nil
	}}
	engine, store := newTestEngine(t, engineOpts{registry: registry})

	rec, err := engine.Run(context.Background(), datatypes.RCAJob{Month: "2024-01"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "supply feed unavailable")

	assert.Equal(t, datatypes.StatusFailed, rec.Status)
	assert.True(t, strings.HasPrefix(rec.Message, "RCA workflow failed: "), rec.Message)
	assert.Contains(t, rec.Message, "supply feed unavailable")
	require.NotNil(t, rec.Result)
	assert.Equal(t, []string{"overall", "region:EMEA"}, rec.Result.ScopeOrder)
	assert.Len(t, rec.Result.Scopes, 2)

	for _, s := range store.statuses() {
		assert.NotEqual(t, datatypes.StatusCompleted, s)
	}
}

func TestRun_AnalyzerPanicFailsRun(t *testing.T) {
	registry := analyzers.NewRegistry(analyzers.Options{})
	registry.FX = &hookedAnalyzer{Analyzer: registry.FX, before: func(analyzers.Request) error {
		panic("nil rate table")
	}}
	engine, _ := newTestEngine(t, engineOpts{registry: registry})

	rec, err := engine.Run(context.Background(), datatypes.RCAJob{Month: "2024-01", Filters: datatypes.Filters{BU: "Pro"}})
	require.Error(t, err)
	assert.Equal(t, datatypes.StatusFailed, rec.Status)
	assert.Contains(t, rec.Message, "fx analyzer panicked: nil rate table")
}

func TestRun_NarratorFailureDoesNotFailRun(t *testing.T) {
	narrator := llm.FuncClient(func(context.Context, string, llm.GenerationParams) (string, error) {
		return "", errors.New("provider down")
	})
	engine, _ := newTestEngine(t, engineOpts{synth: synthesis.New(synthesis.WithNarrator(narrator, llm.GenerationParams{}))})

	rec, err := engine.Run(context.Background(), datatypes.RCAJob{Month: "2024-01", Filters: datatypes.Filters{Region: "APAC"}})
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, rec.Status)
	assert.False(t, rec.Result.Synthesis.LLMUsed)
	assert.True(t, strings.HasPrefix(rec.Result.Synthesis.LLMDecisionSummary, "- Scope: selected scope"))
}

// =============================================================================
// Lifecycle API
// =============================================================================

func TestEnqueue_RunsInBackground(t *testing.T) {
	engine, _ := newTestEngine(t, engineOpts{})
	ctx, cancel := context.WithCancel(context.Background())

	resp, err := engine.Enqueue(ctx, datatypes.RCAJob{Month: "2024-01", Filters: datatypes.Filters{Segment: "Retail"}})
	require.NoError(t, err)
	cancel()

	assert.Equal(t, "rca-202401-Retail", resp.RunID)
	assert.Equal(t, datatypes.StatusQueued, resp.Status)
	assert.Equal(t, "RCA workflow queued", resp.Message)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	require.NoError(t, engine.Wait(waitCtx))

	view, err := engine.Status(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, view.Status)
	assert.NotNil(t, view.Result)
	assert.Equal(t, 0, engine.InFlight())
}

func TestEnqueue_DuplicateWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	registry := analyzers.NewRegistry(analyzers.Options{})
	registry.Events = &hookedAnalyzer{Analyzer: registry.Events, before: func(analyzers.Request) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}}
	engine, store := newTestEngine(t, engineOpts{registry: registry})
	job := datatypes.RCAJob{Month: "2024-01", Filters: datatypes.Filters{Region: "EMEA"}}

	_, err := engine.Enqueue(context.Background(), job)
	require.NoError(t, err)
	<-started

	resp, err := engine.Enqueue(context.Background(), job)
	assert.ErrorIs(t, err, ErrRunInFlight)
	require.NotNil(t, resp)
	assert.NotEqual(t, datatypes.StatusQueued, resp.Status)

	_, err = engine.Submit(context.Background(), job)
	assert.ErrorIs(t, err, ErrRunInFlight)

	close(release)
	require.NoError(t, engine.Wait(context.Background()))

	queued := 0
	for _, s := range store.statuses() {
		if s == datatypes.StatusQueued {
			queued++
		}
	}
	assert.Equal(t, 1, queued)

	resp, err = engine.Enqueue(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusQueued, resp.Status)
	require.NoError(t, engine.Wait(context.Background()))
}

func TestSubmit_WritesQueuedOnly(t *testing.T) {
	engine, store := newTestEngine(t, engineOpts{})

	resp, err := engine.Submit(context.Background(), datatypes.RCAJob{Month: "2024-02", Filters: datatypes.Filters{Region: " EMEA "}})
	require.NoError(t, err)
	assert.Equal(t, "rca-202402-EMEA", resp.RunID)
	assert.Equal(t, []datatypes.RunStatus{datatypes.StatusQueued}, store.statuses())

	rec, err := engine.Record(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, "EMEA", rec.Payload.Region)
	assert.Equal(t, datatypes.ComparisonAll, rec.Payload.Comparison)
	assert.Nil(t, rec.Result)
}

func TestSubmit_HoldsRunIDWhileWriting(t *testing.T) {
	engine, store := newTestEngine(t, engineOpts{})
	job := datatypes.RCAJob{Month: "2024-01", Filters: datatypes.Filters{Region: "APAC"}}

	var once sync.Once
	var enqueueErr error
	store.beforeUpsert = func(rec *datatypes.RunRecord) {
		if rec.Status != datatypes.StatusQueued {
			return
		}
		once.Do(func() {
			_, enqueueErr = engine.Enqueue(context.Background(), job)
		})
	}

	resp, err := engine.Submit(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusQueued, resp.Status)
	assert.ErrorIs(t, enqueueErr, ErrRunInFlight)

	require.NoError(t, engine.Wait(context.Background()))
	assert.Equal(t, []datatypes.RunStatus{datatypes.StatusQueued}, store.statuses())
	assert.Zero(t, engine.InFlight())
}

func TestRun_IgnoresCallerCancellation(t *testing.T) {
	engine, store := newTestEngine(t, engineOpts{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := engine.Run(ctx, datatypes.RCAJob{Month: "2024-01", Filters: datatypes.Filters{Region: "NA"}})
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, rec.Status)
	assert.NotContains(t, store.statuses(), datatypes.StatusFailed)
	require.NotNil(t, rec.Result)
	require.NotNil(t, rec.Result.Finance)
	assert.NotEqual(t, "No finance data for scope.", rec.Result.Finance.Summary)
}

func TestSubmit_InvalidJob(t *testing.T) {
	engine, store := newTestEngine(t, engineOpts{})

	for _, job := range []datatypes.RCAJob{
		{},
		{Month: "2024-13"},
		{Month: "2024-01", Comparison: "budget"},
	} {
		_, err := engine.Submit(context.Background(), job)
		assert.ErrorIs(t, err, ErrInvalidJob, "%+v", job)
	}
	assert.Empty(t, store.statuses())
}

func TestStatus_NotFound(t *testing.T) {
	engine, _ := newTestEngine(t, engineOpts{})
	_, err := engine.Status(context.Background(), "rca-209901-all-sweep")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = engine.Record(context.Background(), "rca-209901-all-sweep")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestList(t *testing.T) {
	engine, _ := newTestEngine(t, engineOpts{})
	for _, region := range []string{"EMEA", "NA", "APAC"} {
		_, err := engine.Submit(context.Background(), datatypes.RCAJob{Month: "2024-01", Filters: datatypes.Filters{Region: region}})
		require.NoError(t, err)
	}
	_, err := engine.Run(context.Background(), datatypes.RCAJob{Month: "2024-01", Filters: datatypes.Filters{BU: "Pro"}})
	require.NoError(t, err)

	page, err := engine.List(context.Background(), runstore.ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "rca-202401-Pro", page.Items[0].RunID)
	assert.Equal(t, "rca-202401-APAC", page.Items[1].RunID)

	queued, err := engine.List(context.Background(), runstore.ListOptions{Status: datatypes.StatusQueued})
	require.NoError(t, err)
	assert.Equal(t, 3, queued.Total)
	assert.Equal(t, runstore.DefaultListLimit, queued.Limit)
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.Error(t, err)

	store, err := runstore.Open(runstore.Options{InMemory: true})
	require.NoError(t, err)
	defer store.Close()
	_, err = NewEngine(Config{Store: store, Data: dataset.MemorySource{}})
	assert.Error(t, err, "empty registry must be rejected")
}

// =============================================================================
// Domain Breakdown
// =============================================================================

func TestBuildDomainBreakdown(t *testing.T) {
	synth := func(summary string, domains ...datatypes.Domain) *datatypes.Synthesis {
		s := &datatypes.Synthesis{Summary: summary, BriefReport: "brief " + summary}
		for _, d := range domains {
			s.Findings = append(s.Findings, datatypes.Finding{Domain: d})
		}
		return s
	}
	emea := datatypes.Filters{Region: "EMEA"}
	pro := datatypes.Filters{BU: "Pro"}
	emeaMargin := datatypes.Filters{Region: "EMEA", Metric: "margin"}
	scopes := map[string]*datatypes.ScopeResult{
		"overall":       {Synthesis: synth("all", datatypes.DomainFinance)},
		"region:EMEA":   {Filters: &emea, Synthesis: synth("emea", datatypes.DomainSupply, datatypes.DomainFinance, datatypes.DomainSupply)},
		"bu:Pro":        {Filters: &pro, Synthesis: synth("pro", datatypes.DomainFX)},
		"metric:margin": {Filters: &emeaMargin, Synthesis: synth("emea margin", datatypes.DomainFinance)},
	}
	order := []string{"overall", "region:EMEA", "bu:Pro", "metric:margin"}

	out := BuildDomainBreakdown(order, scopes)

	require.Len(t, out.Regions, 1)
	assert.Equal(t, "emea margin", out.Regions["EMEA"].Summary, "later scope replaces earlier entry")
	require.Len(t, out.BUs, 1)
	assert.Equal(t, "brief pro", out.BUs["Pro"].BriefReport)
	assert.Equal(t, []datatypes.Hotspot{{Domain: datatypes.DomainFX, Occurrences: 1}}, out.BUs["Pro"].Domains)

	out = BuildDomainBreakdown(order[:2], scopes)
	assert.Equal(t, []datatypes.Hotspot{
		{Domain: datatypes.DomainSupply, Occurrences: 2},
		{Domain: datatypes.DomainFinance, Occurrences: 1},
	}, out.Regions["EMEA"].Domains)
}
