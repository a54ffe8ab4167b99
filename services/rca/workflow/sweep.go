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

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRCA/services/rca/dataset"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
	"github.com/AleutianAI/AleutianRCA/services/rca/observability"
	"github.com/AleutianAI/AleutianRCA/services/rca/rollup"
	"github.com/AleutianAI/AleutianRCA/services/rca/scope"
	"github.com/AleutianAI/AleutianRCA/services/rca/synthesis"
)

// sweepState accumulates completed scopes in discovery order.
type sweepState struct {
	job    datatypes.RCAJob
	scopes map[string]*datatypes.ScopeResult
	order  []string
}

// result returns a run result holding every completed scope plus current.
// The map and order are copied so later scopes never alias an earlier
// write.
func (s *sweepState) result(current *datatypes.ScopeResult) *datatypes.RunResult {
	scopes := make(map[string]*datatypes.ScopeResult, len(s.scopes))
	for k, v := range s.scopes {
		scopes[k] = v
	}
	order := make([]string, len(s.order))
	copy(order, s.order)
	return &datatypes.RunResult{
		Scopes:     scopes,
		ScopeOrder: order,
		Current:    current,
		Month:      s.job.Month,
		Comparison: s.job.Comparison,
	}
}

// runSweep discovers the month's scopes and runs them one at a time, then
// persists the portfolio, rollup and domain breakdown as completed.
//
// A failing scope aborts the sweep; scopes already persisted stay visible
// in the failed record.
func (e *Engine) runSweep(ctx context.Context, runID string, job datatypes.RCAJob) error {
	base := job.Filters
	finance, err := e.data.Load(ctx, dataset.Finance)
	if err != nil {
		return err
	}
	scopes := scope.Discover(finance, job.Month, base)
	e.logger.Info("sweep scopes discovered", "run_id", runID, "scopes", len(scopes))

	state := &sweepState{job: job, scopes: make(map[string]*datatypes.ScopeResult, len(scopes))}
	payload := job
	for i, sc := range scopes {
		res, err := e.runScope(ctx, scopeRun{
			runID:    runID,
			job:      job,
			scope:    sc,
			final:    datatypes.StatusScopeCompleted,
			mode:     modeSweep,
			snapshot: state.result,
		})
		if err != nil {
			return fmt.Errorf("scope %s: %w", sc.Label, err)
		}
		state.scopes[sc.Label] = res
		state.order = append(state.order, sc.Label)

		if err := e.write(ctx, &datatypes.RunRecord{
			RunID:   runID,
			Status:  datatypes.StatusRunning,
			Message: fmt.Sprintf("Processed %d/%d scopes.", i+1, len(scopes)),
			Payload: &payload,
			Result:  state.result(nil),
		}); err != nil {
			return err
		}
	}

	_, span := observability.StartSpan(ctx, "rca.portfolio",
		attribute.String("rca.run_id", runID),
		attribute.Int("rca.scopes", len(scopes)))
	portfolio := e.synth.SummarizeSweep(ctx, synthesis.SweepInput{
		Month:       job.Month,
		BaseFilters: base,
		Labels:      state.order,
		Scopes:      state.scopes,
	})
	observability.EndSpan(span, nil)

	final := state.result(nil)
	final.Portfolio = portfolio
	final.Domains = BuildDomainBreakdown(state.order, state.scopes)
	final.Rollup = rollup.Build(finance.FilterByScope(job.Month, base.Without(datatypes.DimMetric)), e.topN)
	final.Filters = &base

	return e.write(ctx, &datatypes.RunRecord{
		RunID:   runID,
		Status:  datatypes.StatusCompleted,
		Message: msgSweepCompleted,
		Payload: &payload,
		Result:  final,
	})
}

// BuildDomainBreakdown summarizes the dominant finding domains per region
// and per BU.
//
// # Description
//
// A scope contributes to a region when its label is "region:<value>" or
// its filters fix a region; likewise for BU. Scopes are walked in order and
// a later scope replaces an earlier entry for the same key.
func BuildDomainBreakdown(order []string, scopes map[string]*datatypes.ScopeResult) *datatypes.DomainBreakdown {
	out := &datatypes.DomainBreakdown{
		Regions: make(map[string]datatypes.DomainSummary),
		BUs:     make(map[string]datatypes.DomainSummary),
	}
	for _, label := range order {
		res, ok := scopes[label]
		if !ok || res == nil {
			continue
		}
		entry := datatypes.DomainSummary{Domains: []datatypes.Hotspot{}}
		if res.Synthesis != nil {
			entry.Summary = res.Synthesis.Summary
			entry.BriefReport = res.Synthesis.BriefReport
			entry.Domains = synthesis.CountDomains(res.Synthesis.Findings)
		}
		var filters datatypes.Filters
		if res.Filters != nil {
			filters = *res.Filters
		}
		if v := dimensionValue(label, filters, datatypes.DimRegion); v != "" {
			out.Regions[v] = entry
		}
		if v := dimensionValue(label, filters, datatypes.DimBU); v != "" {
			out.BUs[v] = entry
		}
	}
	return out
}

func dimensionValue(label string, filters datatypes.Filters, dim datatypes.Dimension) string {
	if v, ok := strings.CutPrefix(label, string(dim)+":"); ok {
		return v
	}
	return filters.Get(dim)
}
