// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analyzers implements the six domain analyzers of an RCA scope.
//
// Each analyzer reduces one fact table, scoped to a month and a filter
// slice, to a summary line and a list of signals. Analyzers never fail on
// empty input: they return a "no data" summary with an empty signal list.
// An error return means the analyzer itself could not run (for example the
// context was cancelled) and aborts the scope.
package analyzers

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dustin/go-humanize"

	"github.com/AleutianAI/AleutianRCA/services/rca/dataset"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

// Request is the scope an analyzer runs over.
type Request struct {
	Month      string
	Filters    datatypes.Filters
	Comparison datatypes.Comparison
}

// Analyzer is one domain capability.
//
// # Description
//
// Analyze receives the full (unscoped) table so analyzers that compare
// against the prior month can look it up. Implementations must treat the
// table as read-only; it is shared across concurrent analyzers and scopes.
//
// # Outputs
//
//   - *datatypes.AnalysisResult: never nil when error is nil. Signals is
//     never nil.
//   - error: only for failures unrelated to the data's content.
type Analyzer interface {
	Domain() datatypes.Domain
	Dataset() dataset.Name
	Analyze(ctx context.Context, table *dataset.Table, req Request) (*datatypes.AnalysisResult, error)
}

// =============================================================================
// Registry
// =============================================================================

// Registry is the fixed set of analyzers a scope runs. Every field must be
// set; there is no dynamic lookup.
type Registry struct {
	Finance   Analyzer
	Demand    Analyzer
	Supply    Analyzer
	Shipments Analyzer
	FX        Analyzer
	Events    Analyzer
}

// Options tunes the default analyzers.
type Options struct {
	// TopContributors caps the finance contributor list. Default 5.
	TopContributors int

	// DefaultComparison is the base used when a job asks for "all".
	// Default prior.
	DefaultComparison datatypes.Comparison
}

// DefaultTopContributors is the finance contributor cap when unset.
const DefaultTopContributors = 5

// NewRegistry returns the production analyzers.
func NewRegistry(opts Options) Registry {
	if opts.TopContributors <= 0 {
		opts.TopContributors = DefaultTopContributors
	}
	if !opts.DefaultComparison.Valid() || opts.DefaultComparison == datatypes.ComparisonAll {
		opts.DefaultComparison = datatypes.ComparisonPrior
	}
	return Registry{
		Finance:   &FinanceAnalyzer{TopN: opts.TopContributors, DefaultComparison: opts.DefaultComparison},
		Demand:    &DemandAnalyzer{},
		Supply:    &SupplyAnalyzer{},
		Shipments: &ShipmentsAnalyzer{},
		FX:        &FXAnalyzer{},
		Events:    &EventsAnalyzer{},
	}
}

// All returns the analyzers in canonical domain order.
func (r Registry) All() []Analyzer {
	return []Analyzer{r.Finance, r.Demand, r.Supply, r.Shipments, r.FX, r.Events}
}

// Validate reports a missing analyzer.
func (r Registry) Validate() error {
	for i, a := range r.All() {
		if a == nil {
			return fmt.Errorf("analyzer registry: %s analyzer is not set", datatypes.Domains[i])
		}
	}
	return nil
}

// =============================================================================
// Formatting Helpers
// =============================================================================

// errNilTable is returned when an analyzer is handed no table at all.
var errNilTable = errors.New("analyzer received nil table")

// thousands formats v rounded to an integer with thousands separators.
func thousands(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}

func labelsOf(t *dataset.Table, row int, cols ...string) map[string]string {
	out := make(map[string]string, len(cols))
	for _, c := range cols {
		if v := t.String(row, c); v != "" {
			out[c] = v
		}
	}
	return out
}
