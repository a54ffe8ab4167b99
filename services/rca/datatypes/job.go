// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides the data structures shared by the RCA service:
// job requests, run records, analyzer outputs, syntheses and rollups.
//
// Everything in this package is plain data with JSON tags. Run records are
// persisted as JSON, so field names here are the on-disk and on-the-wire
// format and must not be renamed casually.
package datatypes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Dimensions
// =============================================================================

// Dimension names a slicing column shared by the fact datasets.
type Dimension string

const (
	DimRegion      Dimension = "region"
	DimBU          Dimension = "bu"
	DimProductLine Dimension = "product_line"
	DimSegment     Dimension = "segment"
	DimMetric      Dimension = "metric"
)

// Dimensions lists every slicing dimension in priority order. Scope
// discovery and run id derivation both walk this order.
var Dimensions = []Dimension{DimRegion, DimBU, DimProductLine, DimSegment, DimMetric}

// =============================================================================
// Filters
// =============================================================================

// Filters is a slice selection. An empty field means "not fixed".
type Filters struct {
	Region      string `json:"region,omitempty" validate:"max=128"`
	BU          string `json:"bu,omitempty" validate:"max=128"`
	ProductLine string `json:"product_line,omitempty" validate:"max=128"`
	Segment     string `json:"segment,omitempty" validate:"max=128"`
	Metric      string `json:"metric,omitempty" validate:"max=128"`
}

// Get returns the value fixed for dim, or "".
func (f Filters) Get(dim Dimension) string {
	switch dim {
	case DimRegion:
		return f.Region
	case DimBU:
		return f.BU
	case DimProductLine:
		return f.ProductLine
	case DimSegment:
		return f.Segment
	case DimMetric:
		return f.Metric
	}
	return ""
}

// With returns a copy of f with dim fixed to value.
func (f Filters) With(dim Dimension, value string) Filters {
	switch dim {
	case DimRegion:
		f.Region = value
	case DimBU:
		f.BU = value
	case DimProductLine:
		f.ProductLine = value
	case DimSegment:
		f.Segment = value
	case DimMetric:
		f.Metric = value
	}
	return f
}

// Without returns a copy of f with dim unset.
func (f Filters) Without(dim Dimension) Filters {
	return f.With(dim, "")
}

// IsEmpty reports whether no dimension is fixed.
func (f Filters) IsEmpty() bool {
	return f == Filters{}
}

// Values returns the non-empty filter values in dimension priority order.
func (f Filters) Values() []string {
	var out []string
	for _, dim := range Dimensions {
		if v := f.Get(dim); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Map returns the fixed dimensions as a map keyed by column name.
func (f Filters) Map() map[string]string {
	out := make(map[string]string)
	for _, dim := range Dimensions {
		if v := f.Get(dim); v != "" {
			out[string(dim)] = v
		}
	}
	return out
}

// =============================================================================
// Comparison
// =============================================================================

// Comparison selects the baseline a variance is measured against.
type Comparison string

const (
	ComparisonPlan  Comparison = "plan"
	ComparisonPrior Comparison = "prior"
	ComparisonAll   Comparison = "all"
)

// ErrInvalidComparison is returned for a comparison outside plan|prior|all.
var ErrInvalidComparison = errors.New("comparison must be one of plan, prior, all")

// Valid reports whether c is a known comparison.
func (c Comparison) Valid() bool {
	switch c {
	case ComparisonPlan, ComparisonPrior, ComparisonAll:
		return true
	}
	return false
}

// Base resolves the column compared against. "all" has no single base and
// resolves to fallback, which is prior unless fallback is plan.
func (c Comparison) Base(fallback Comparison) Comparison {
	switch c {
	case ComparisonPlan, ComparisonPrior:
		return c
	}
	if fallback == ComparisonPlan {
		return ComparisonPlan
	}
	return ComparisonPrior
}

// =============================================================================
// RCA Job
// =============================================================================

// ErrInvalidMonth is returned when a month is not in YYYY-MM form.
var ErrInvalidMonth = errors.New("month must be in YYYY-MM format")

// RCAJob holds the immutable request parameters of a run.
//
// Filters is embedded so the JSON payload is flat:
//
//	{"month":"2024-01","region":"EMEA","comparison":"plan","full_sweep":false}
type RCAJob struct {
	Month string `json:"month" validate:"required,yyyymm"`
	Filters
	Comparison Comparison `json:"comparison" validate:"omitempty,oneof=plan prior all"`
	FullSweep  bool       `json:"full_sweep"`
}

var jobValidate *validator.Validate

func init() {
	jobValidate = validator.New()
	_ = jobValidate.RegisterValidation("yyyymm", validateYearMonth)
}

// validateYearMonth backs the "yyyymm" validation tag.
func validateYearMonth(fl validator.FieldLevel) bool {
	return ValidateMonth(fl.Field().String()) == nil
}

// RegisterValidations adds the RCA custom tags to v. Used by the HTTP layer
// so gin's binding validator understands "yyyymm".
func RegisterValidations(v *validator.Validate) error {
	return v.RegisterValidation("yyyymm", validateYearMonth)
}

// ValidateMonth checks that month is a real calendar month in YYYY-MM form.
func ValidateMonth(month string) error {
	if len(month) != 7 {
		return fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}
	if _, err := time.Parse("2006-01", month); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}
	return nil
}

// PriorMonth returns the month before month, or "" if month is invalid.
func PriorMonth(month string) string {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return ""
	}
	return t.AddDate(0, -1, 0).Format("2006-01")
}

// Validate checks the job's fields.
func (j RCAJob) Validate() error {
	if err := ValidateMonth(j.Month); err != nil {
		return err
	}
	if j.Comparison != "" && !j.Comparison.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidComparison, j.Comparison)
	}
	return jobValidate.Struct(j)
}

// IsUnscoped reports whether no slice filter is set.
func (j RCAJob) IsUnscoped() bool {
	return j.Filters.IsEmpty()
}

// Normalize returns the job as it will be executed: filter values trimmed,
// comparison defaulted to "all", and FullSweep forced on for unscoped jobs.
func (j RCAJob) Normalize() RCAJob {
	for _, dim := range Dimensions {
		j.Filters = j.Filters.With(dim, strings.TrimSpace(j.Filters.Get(dim)))
	}
	j.Month = strings.TrimSpace(j.Month)
	if j.Comparison == "" {
		j.Comparison = ComparisonAll
	}
	j.FullSweep = j.FullSweep || j.IsUnscoped()
	return j
}

// RunID derives the deterministic run identifier for a normalized job:
//
//	rca-<YYYYMM>-<slice values joined by '-' or "all">[-sweep]
//
// Comparison is deliberately not part of the id, so resubmitting the same
// slice with a different comparison targets the same record.
func (j RCAJob) RunID() string {
	scope := strings.Join(j.Filters.Values(), "-")
	if scope == "" {
		scope = "all"
	}
	id := fmt.Sprintf("rca-%s-%s", strings.ReplaceAll(j.Month, "-", ""), scope)
	if j.FullSweep {
		id += "-sweep"
	}
	return id
}
