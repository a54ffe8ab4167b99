// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Run ID Tests
// =============================================================================

func TestRunID(t *testing.T) {
	tests := []struct {
		name string
		job  RCAJob
		want string
	}{
		{
			name: "unscoped sweeps",
			job:  RCAJob{Month: "2024-01"},
			want: "rca-202401-all-sweep",
		},
		{
			name: "single region",
			job:  RCAJob{Month: "2024-01", Filters: Filters{Region: "EMEA"}, Comparison: ComparisonPlan},
			want: "rca-202401-EMEA",
		},
		{
			name: "fields in dimension order",
			job:  RCAJob{Month: "2024-03", Filters: Filters{Metric: "revenue", Region: "NA", BU: "Consumer"}},
			want: "rca-202403-NA-Consumer-revenue",
		},
		{
			name: "explicit sweep keeps filter bits",
			job:  RCAJob{Month: "2024-03", Filters: Filters{Region: "NA"}, FullSweep: true},
			want: "rca-202403-NA-sweep",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.job.Normalize().RunID())
		})
	}
}

func TestRunID_IdempotentAcrossComparison(t *testing.T) {
	a := RCAJob{Month: "2024-01", Filters: Filters{Region: "EMEA"}, Comparison: ComparisonPlan}.Normalize()
	b := RCAJob{Month: "2024-01", Filters: Filters{Region: " EMEA "}, Comparison: ComparisonPrior}.Normalize()
	assert.Equal(t, a.RunID(), b.RunID())
}

func TestNormalize(t *testing.T) {
	job := RCAJob{Month: " 2024-01 "}.Normalize()
	assert.True(t, job.FullSweep)
	assert.Equal(t, ComparisonAll, job.Comparison)
	assert.Equal(t, "2024-01", job.Month)

	scoped := RCAJob{Month: "2024-01", Filters: Filters{BU: "Pro"}}.Normalize()
	assert.False(t, scoped.FullSweep)
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidateMonth(t *testing.T) {
	assert.NoError(t, ValidateMonth("2024-01"))
	for _, bad := range []string{"", "2024-1", "2024-13", "24-01", "2024/01", "2024-01-01"} {
		err := ValidateMonth(bad)
		assert.True(t, errors.Is(err, ErrInvalidMonth), bad)
	}
}

func TestRCAJob_Validate(t *testing.T) {
	assert.NoError(t, RCAJob{Month: "2024-01"}.Validate())
	assert.NoError(t, RCAJob{Month: "2024-01", Comparison: ComparisonPrior}.Validate())
	assert.ErrorIs(t, RCAJob{Month: "2024-01", Comparison: "budget"}.Validate(), ErrInvalidComparison)
	assert.ErrorIs(t, RCAJob{Month: "Jan"}.Validate(), ErrInvalidMonth)
}

func TestPriorMonth(t *testing.T) {
	assert.Equal(t, "2023-12", PriorMonth("2024-01"))
	assert.Equal(t, "2024-02", PriorMonth("2024-03"))
	assert.Equal(t, "", PriorMonth("bogus"))
}

func TestComparison_Base(t *testing.T) {
	assert.Equal(t, ComparisonPlan, ComparisonPlan.Base(ComparisonPrior))
	assert.Equal(t, ComparisonPrior, ComparisonPrior.Base(ComparisonPlan))
	assert.Equal(t, ComparisonPlan, ComparisonAll.Base(ComparisonPlan))
	assert.Equal(t, ComparisonPrior, ComparisonAll.Base(ComparisonPrior))
	assert.Equal(t, ComparisonPrior, ComparisonAll.Base(""), "all defaults to prior")
}

// =============================================================================
// Filters Tests
// =============================================================================

func TestFilters(t *testing.T) {
	f := Filters{}.With(DimSegment, "SMB").With(DimRegion, "EMEA")
	assert.Equal(t, []string{"EMEA", "SMB"}, f.Values())
	assert.Equal(t, map[string]string{"region": "EMEA", "segment": "SMB"}, f.Map())
	assert.Equal(t, "SMB", f.Get(DimSegment))
	assert.True(t, f.Without(DimRegion).Without(DimSegment).IsEmpty())
	assert.Equal(t, "", f.Get(Dimension("color")))
}

// =============================================================================
// Shape Tests
// =============================================================================

func TestRunResult_SingleScopeKeys(t *testing.T) {
	filters := Filters{Region: "EMEA"}
	res := &RunResult{ScopeResult: ScopeResult{
		Finance:   NoData("No finance data for scope."),
		Demand:    NoData("No demand data for scope."),
		Supply:    NoData("No supply data for scope."),
		Shipments: NoData("No shipments data for scope."),
		FX:        NoData("No FX data for scope."),
		Events:    NoData("No events logged for scope."),
		Synthesis: &Synthesis{},
		Filters:   &filters,
		Scope:     ScopeLabelSelected,
		Rollup:    &Rollup{},
	}}

	data, err := json.Marshal(res)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	for _, key := range []string{"finance", "demand", "supply", "shipments", "fx", "events", "synthesis", "filters", "scope", "rollup"} {
		assert.Contains(t, m, key)
	}
	assert.NotContains(t, m, "scopes")
}

func TestMetricSummary_NullBase(t *testing.T) {
	prior := 90.0
	vp := 30.0
	data, err := json.Marshal(MetricSummary{Actual: 120, Prior: &prior, VarianceToPrior: &vp})
	require.NoError(t, err)
	assert.JSONEq(t, `{"actual":120,"plan":null,"prior":90,"variance_to_plan":null,"variance_to_prior":30}`, string(data))
}

func TestRunStatus(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusScopeCompleted.IsTerminal())
	assert.True(t, StatusSynthesizing.Valid())
	assert.False(t, RunStatus("paused").Valid())
}

func TestRunResult_OrderedScopes(t *testing.T) {
	r := &RunResult{
		Scopes:     map[string]*ScopeResult{"overall": {Scope: "overall"}, "region:NA": {Scope: "region:NA"}},
		ScopeOrder: []string{"overall", "region:NA", "region:missing"},
	}
	got := r.OrderedScopes()
	require.Len(t, got, 2)
	assert.Equal(t, "region:NA", got[1].Scope)
}
