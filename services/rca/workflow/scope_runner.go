// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRCA/services/rca/analyzers"
	"github.com/AleutianAI/AleutianRCA/services/rca/dataset"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
	"github.com/AleutianAI/AleutianRCA/services/rca/observability"
	"github.com/AleutianAI/AleutianRCA/services/rca/rollup"
	"github.com/AleutianAI/AleutianRCA/services/rca/synthesis"
)

// scopeRun describes one pass of the scope runner.
type scopeRun struct {
	runID string
	job   datatypes.RCAJob
	scope datatypes.Scope

	// final is the status of the scope's terminal write.
	final datatypes.RunStatus
	mode  string

	// snapshot wraps the in-progress scope result into the run result to
	// persist. A sweep uses it to carry already completed scopes.
	snapshot func(current *datatypes.ScopeResult) *datatypes.RunResult
}

// runScope executes every analyzer for one scope, synthesizes, builds the
// rollup and persists the scope result.
//
// # Description
//
//  1. Fan out the six analyzers. The finance goroutine persists
//     finance_completed as soon as its result is ready. The first failure
//     cancels the rest.
//  2. Persist synthesizing with all six results.
//  3. Synthesize.
//  4. Build the rollup from finance filtered to the scope without metric.
//  5. Persist the terminal scope write with status sr.final.
//
// # Outputs
//
//   - *datatypes.ScopeResult: the complete scope result.
//   - error: analyzer, dataset or storage failure. Narrator failures never
//     surface here.
func (e *Engine) runScope(ctx context.Context, sr scopeRun) (*datatypes.ScopeResult, error) {
	label := sr.scope.Label
	ctx, span := observability.StartSpan(ctx, "rca.scope",
		attribute.String("rca.run_id", sr.runID),
		attribute.String("rca.scope", label),
		attribute.String("rca.month", sr.job.Month),
		attribute.String("rca.filters", filtersAttr(sr.scope.Filters)))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	logger := e.logger.With("run_id", sr.runID, "scope", label)
	req := analyzers.Request{Month: sr.job.Month, Filters: sr.scope.Filters, Comparison: sr.job.Comparison}
	payload := sr.job

	// Stage 1: analyzer fan-out.
	all := e.analyzers.All()
	results := make([]*datatypes.AnalysisResult, len(all))
	g, gCtx := errgroup.WithContext(ctx)
	for i, a := range all {
		g.Go(func() error {
			res, aErr := e.analyze(gCtx, a, req, sr.runID, label)
			if aErr != nil {
				return aErr
			}
			results[i] = res
			if a.Domain() != datatypes.DomainFinance {
				return nil
			}
			return e.write(gCtx, &datatypes.RunRecord{
				RunID:   sr.runID,
				Status:  datatypes.StatusFinanceCompleted,
				Message: fmt.Sprintf("Finance analysis completed for %s.", label),
				Payload: &payload,
				Result:  sr.snapshot(&datatypes.ScopeResult{Finance: res}),
			})
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}

	current := &datatypes.ScopeResult{}
	for i, a := range all {
		current.SetAnalysis(a.Domain(), results[i])
	}

	// Stage 2: analyzers done.
	if err = e.write(ctx, &datatypes.RunRecord{
		RunID:   sr.runID,
		Status:  datatypes.StatusSynthesizing,
		Message: fmt.Sprintf("Aggregating findings for %s.", label),
		Payload: &payload,
		Result:  sr.snapshot(current),
	}); err != nil {
		return nil, err
	}

	// Stage 3: synthesis.
	current.Synthesis = e.synth.Synthesize(ctx, synthesis.ScopeInput{
		Label:      label,
		Filters:    sr.scope.Filters,
		Month:      sr.job.Month,
		Comparison: sr.job.Comparison,
		Results:    current,
	})

	// Stage 4: rollup across metrics.
	finance, err := e.data.Load(ctx, dataset.Finance)
	if err != nil {
		return nil, err
	}
	current.Rollup = rollup.Build(finance.FilterByScope(sr.job.Month, sr.scope.Filters.Without(datatypes.DimMetric)), e.topN)

	// Stage 5: terminal scope write.
	filters := sr.scope.Filters
	current.Filters = &filters
	current.Scope = label
	if err = e.write(ctx, &datatypes.RunRecord{
		RunID:   sr.runID,
		Status:  sr.final,
		Message: fmt.Sprintf("RCA workflow completed for %s.", label),
		Payload: &payload,
		Result:  sr.snapshot(current),
	}); err != nil {
		return nil, err
	}

	e.metrics.ScopeCompleted(sr.mode)
	logger.Debug("scope completed", "findings", len(current.Synthesis.Findings))
	return current, nil
}

// analyze loads the analyzer's dataset and runs it, converting a panic
// into an error.
func (e *Engine) analyze(ctx context.Context, a analyzers.Analyzer, req analyzers.Request, runID, label string) (res *datatypes.AnalysisResult, err error) {
	domain := string(a.Domain())
	ctx, span := observability.StartSpan(ctx, "rca.analyzer",
		attribute.String("rca.run_id", runID),
		attribute.String("rca.scope", label),
		attribute.String("rca.agent", domain),
		attribute.String("rca.month", req.Month),
		attribute.String("rca.filters", filtersAttr(req.Filters)))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%s analyzer panicked: %v", domain, r)
		}
		e.metrics.ObserveAnalyzer(domain, time.Since(start), err)
		observability.EndSpan(span, err)
	}()

	table, err := e.data.Load(ctx, a.Dataset())
	if err != nil {
		return nil, fmt.Errorf("%s analyzer: %w", domain, err)
	}
	res, err = a.Analyze(ctx, table, req)
	if err != nil {
		return nil, fmt.Errorf("%s analyzer: %w", domain, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%s analyzer returned no result", domain)
	}
	if res.Signals == nil {
		res.Signals = []datatypes.Signal{}
	}
	return res, nil
}

func filtersAttr(f datatypes.Filters) string {
	var parts []string
	for _, dim := range datatypes.Dimensions {
		if v := f.Get(dim); v != "" {
			parts = append(parts, string(dim)+"="+v)
		}
	}
	return strings.Join(parts, ",")
}
