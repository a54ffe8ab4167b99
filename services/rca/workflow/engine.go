// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package workflow runs RCA jobs: it owns the run lifecycle, the per-scope
// analyzer fan-out and the sequential sweep over discovered scopes.
//
// # Lifecycle
//
//	queued -> running -> (finance_completed ->)? synthesizing -> scope_completed | completed
//
// failed is reachable from every non-terminal state. Every transition is a
// write through the run store, in the order the engine issues it.
//
// # Concurrency
//
// One run executes as one background goroutine. Within a scope the six
// analyzers run in parallel; scopes of a sweep run one at a time. At most
// one flow executes per run id.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRCA/services/rca/analyzers"
	"github.com/AleutianAI/AleutianRCA/services/rca/dataset"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
	"github.com/AleutianAI/AleutianRCA/services/rca/observability"
	"github.com/AleutianAI/AleutianRCA/services/rca/rollup"
	"github.com/AleutianAI/AleutianRCA/services/rca/runstore"
	"github.com/AleutianAI/AleutianRCA/services/rca/synthesis"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrRunNotFound is returned by Status for an unknown run id.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunInFlight is returned when a run id is already executing.
	ErrRunInFlight = errors.New("run is already in progress")

	// ErrInvalidJob wraps every job validation failure.
	ErrInvalidJob = errors.New("invalid rca job")
)

// Status messages.
const (
	msgQueued         = "RCA workflow queued"
	msgRunning        = "RCA workflow running."
	msgSweepCompleted = "Full-sweep RCA workflow completed."
)

// Run modes used as metric labels.
const (
	modeSingle = "single"
	modeSweep  = "sweep"
)

// =============================================================================
// Engine
// =============================================================================

// Config wires an Engine's collaborators.
type Config struct {
	// Store persists run records. Required.
	Store runstore.Store

	// Data serves the six datasets. Required.
	Data dataset.Source

	// Analyzers is the fixed analyzer set. Required.
	Analyzers analyzers.Registry

	// Synthesizer narrates scopes and sweeps. Default: rule-based only.
	Synthesizer *synthesis.Synthesizer

	// RollupTopN caps rollup rankings. Default rollup.DefaultTopN.
	RollupTopN int

	// Metrics is optional.
	Metrics *observability.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Engine is the run lifecycle API.
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	store     runstore.Store
	data      dataset.Source
	analyzers analyzers.Registry
	synth     *synthesis.Synthesizer
	topN      int
	metrics   *observability.Metrics
	logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// NewEngine validates cfg and builds an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("workflow: store is required")
	}
	if cfg.Data == nil {
		return nil, errors.New("workflow: data source is required")
	}
	if err := cfg.Analyzers.Validate(); err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Synthesizer == nil {
		cfg.Synthesizer = synthesis.New(synthesis.WithLogger(cfg.Logger))
	}
	if cfg.RollupTopN <= 0 {
		cfg.RollupTopN = rollup.DefaultTopN
	}
	return &Engine{
		store:     cfg.Store,
		data:      cfg.Data,
		analyzers: cfg.Analyzers,
		synth:     cfg.Synthesizer,
		topN:      cfg.RollupTopN,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		inFlight:  make(map[string]struct{}),
	}, nil
}

// Submit validates and normalizes job and writes its queued record. It does
// not start execution.
//
// # Outputs
//
//   - *datatypes.SubmitResponse: run id, "queued" and the queued message.
//   - error: validation error, ErrRunInFlight, or a storage error.
func (e *Engine) Submit(ctx context.Context, job datatypes.RCAJob) (*datatypes.SubmitResponse, error) {
	job, runID, err := prepare(job)
	if err != nil {
		return nil, err
	}
	if !e.claim(runID) {
		return e.inFlightResponse(ctx, runID)
	}
	defer e.release(runID)

	if err := e.writeQueued(ctx, runID, job); err != nil {
		return nil, err
	}
	return queuedResponse(runID), nil
}

// Enqueue submits job and starts it in the background.
//
// # Description
//
// The queued record exists before Enqueue returns. Execution is detached
// from ctx's cancellation; it ends in completed or failed. If the run id is
// already executing, nothing is written and the current status is returned
// with ErrRunInFlight.
func (e *Engine) Enqueue(ctx context.Context, job datatypes.RCAJob) (*datatypes.SubmitResponse, error) {
	job, runID, err := prepare(job)
	if err != nil {
		return nil, err
	}
	if !e.claim(runID) {
		return e.inFlightResponse(ctx, runID)
	}
	if err := e.writeQueued(ctx, runID, job); err != nil {
		e.release(runID)
		return nil, err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.release(runID)
		_ = e.execute(context.WithoutCancel(ctx), runID, job)
	}()
	return queuedResponse(runID), nil
}

// Run submits job and executes it on the caller's goroutine.
//
// # Description
//
// Like Enqueue, execution is detached from ctx's cancellation: a cancelled
// ctx neither stops the run nor marks it failed.
//
// # Outputs
//
//   - *datatypes.RunRecord: the final record, nil only if it cannot be read.
//   - error: the run's failure cause, ErrRunInFlight, or a validation or
//     storage error.
func (e *Engine) Run(ctx context.Context, job datatypes.RCAJob) (*datatypes.RunRecord, error) {
	job, runID, err := prepare(job)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	if !e.claim(runID) {
		return nil, fmt.Errorf("%w: %s", ErrRunInFlight, runID)
	}
	defer e.release(runID)

	if err := e.writeQueued(ctx, runID, job); err != nil {
		return nil, err
	}
	runErr := e.execute(ctx, runID, job)
	rec, err := e.store.Get(ctx, runID)
	if err != nil {
		return nil, errors.Join(runErr, err)
	}
	return rec, runErr
}

// Status returns the current view of a run, or ErrRunNotFound.
func (e *Engine) Status(ctx context.Context, runID string) (*datatypes.RunStatusView, error) {
	rec, err := e.store.Get(ctx, runID)
	if errors.Is(err, runstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	view := rec.View()
	return &view, nil
}

// Record returns the full stored record, payload included.
func (e *Engine) Record(ctx context.Context, runID string) (*datatypes.RunRecord, error) {
	rec, err := e.store.Get(ctx, runID)
	if errors.Is(err, runstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return rec, err
}

// List returns a newest-first page of runs and the total matching count.
func (e *Engine) List(ctx context.Context, opts runstore.ListOptions) (*datatypes.RunList, error) {
	if opts.Limit <= 0 {
		opts.Limit = runstore.DefaultListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	items, err := e.store.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	total, err := e.store.Count(ctx, opts.Status)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*datatypes.RunRecord{}
	}
	return &datatypes.RunList{Total: total, Limit: opts.Limit, Offset: opts.Offset, Items: items}, nil
}

// Wait blocks until every background run has finished or ctx is done.
// Runs are never cancelled; a ctx timeout only stops the wait.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight returns the number of runs currently executing.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inFlight)
}

// =============================================================================
// Execution
// =============================================================================

// execute drives one run from running to a terminal status. Any error or
// panic below it is recorded as failed.
func (e *Engine) execute(ctx context.Context, runID string, job datatypes.RCAJob) (runErr error) {
	mode := modeSingle
	if job.FullSweep {
		mode = modeSweep
	}
	start := time.Now()
	e.metrics.RunStarted()
	ctx, span := observability.StartSpan(ctx, "rca.run",
		attribute.String("rca.run_id", runID),
		attribute.String("rca.month", job.Month),
		attribute.Bool("rca.full_sweep", job.FullSweep))
	logger := e.logger.With("run_id", runID)

	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("panic: %v", r)
		}
		status := datatypes.StatusCompleted
		if runErr != nil {
			status = datatypes.StatusFailed
			logger.Error("rca run failed", "error", runErr)
			failed := &datatypes.RunRecord{
				RunID:   runID,
				Status:  datatypes.StatusFailed,
				Message: fmt.Sprintf("RCA workflow failed: %v", runErr),
				Payload: &job,
			}
			if err := e.write(context.WithoutCancel(ctx), failed); err != nil {
				logger.Error("failed to persist failed status", "error", err)
				runErr = errors.Join(runErr, err)
			}
		} else {
			logger.Info("rca run completed", "duration", time.Since(start))
		}
		e.metrics.RunFinished(mode, string(status), time.Since(start))
		observability.EndSpan(span, runErr)
	}()

	logger.Info("rca run started", "mode", mode, "month", job.Month)
	if err := e.write(ctx, &datatypes.RunRecord{
		RunID: runID, Status: datatypes.StatusRunning, Message: msgRunning, Payload: &job,
	}); err != nil {
		return err
	}

	if job.FullSweep {
		return e.runSweep(ctx, runID, job)
	}
	snapshot := func(current *datatypes.ScopeResult) *datatypes.RunResult {
		return &datatypes.RunResult{ScopeResult: *current}
	}
	_, err := e.runScope(ctx, scopeRun{
		runID:    runID,
		job:      job,
		scope:    datatypes.Scope{Label: datatypes.ScopeLabelSelected, Filters: job.Filters},
		final:    datatypes.StatusCompleted,
		mode:     modeSingle,
		snapshot: snapshot,
	})
	return err
}

// write persists rec through the store.
func (e *Engine) write(ctx context.Context, rec *datatypes.RunRecord) error {
	if err := e.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("persist %s record: %w", rec.Status, err)
	}
	e.metrics.StoreWrite(string(rec.Status))
	return nil
}

func (e *Engine) writeQueued(ctx context.Context, runID string, job datatypes.RCAJob) error {
	return e.write(ctx, &datatypes.RunRecord{
		RunID:   runID,
		Status:  datatypes.StatusQueued,
		Message: msgQueued,
		Payload: &job,
	})
}

// =============================================================================
// In-flight Tracking
// =============================================================================

func (e *Engine) claim(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[runID]; busy {
		return false
	}
	e.inFlight[runID] = struct{}{}
	return true
}

func (e *Engine) release(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, runID)
}

func (e *Engine) inFlightResponse(ctx context.Context, runID string) (*datatypes.SubmitResponse, error) {
	resp := &datatypes.SubmitResponse{RunID: runID, Status: datatypes.StatusRunning, Message: msgRunning}
	if rec, err := e.store.Get(ctx, runID); err == nil {
		resp.Status = rec.Status
		resp.Message = rec.Message
	}
	return resp, ErrRunInFlight
}

// =============================================================================
// Helpers
// =============================================================================

func prepare(job datatypes.RCAJob) (datatypes.RCAJob, string, error) {
	job = job.Normalize()
	if err := job.Validate(); err != nil {
		return job, "", fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	return job, job.RunID(), nil
}

func queuedResponse(runID string) *datatypes.SubmitResponse {
	return &datatypes.SubmitResponse{RunID: runID, Status: datatypes.StatusQueued, Message: msgQueued}
}
