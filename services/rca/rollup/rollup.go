// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rollup aggregates finance actual/plan/prior into per-metric
// summaries and top-contributor rankings, overall and per region and BU.
//
// All functions are pure: they read an already scoped finance table and
// return new values.
package rollup

import (
	"math"
	"sort"

	"github.com/AleutianAI/AleutianRCA/services/rca/dataset"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

// DefaultTopN is the ranking length when none is given.
const DefaultTopN = 5

const (
	colActual = "actual"
	colPlan   = "plan"
	colPrior  = "prior"
	colMetric = string(datatypes.DimMetric)
	colRegion = string(datatypes.DimRegion)
	colBU     = string(datatypes.DimBU)
)

// Build computes the three-level rollup of finance:
//
//   - overall: metric summaries, top regions and top BUs per metric
//   - per region: metric summaries and top BUs per metric
//   - per BU: metric summaries and top regions per metric
func Build(finance *dataset.Table, topN int) *datatypes.Rollup {
	if topN <= 0 {
		topN = DefaultTopN
	}
	out := &datatypes.Rollup{
		Overall: datatypes.RollupSlice{
			Metrics:            MetricSummaries(finance),
			TopRegionsByMetric: TopByDimensionPerMetric(finance, datatypes.DimRegion, topN),
			TopBUsByMetric:     TopByDimensionPerMetric(finance, datatypes.DimBU, topN),
		},
		Regions: make(map[string]datatypes.RollupSlice),
		BUs:     make(map[string]datatypes.RollupSlice),
	}
	for _, region := range finance.Distinct(colRegion) {
		slice := finance.Where(colRegion, region)
		out.Regions[region] = datatypes.RollupSlice{
			Metrics:        MetricSummaries(slice),
			TopBUsByMetric: TopByDimensionPerMetric(slice, datatypes.DimBU, topN),
		}
	}
	for _, bu := range finance.Distinct(colBU) {
		slice := finance.Where(colBU, bu)
		out.BUs[bu] = datatypes.RollupSlice{
			Metrics:            MetricSummaries(slice),
			TopRegionsByMetric: TopByDimensionPerMetric(slice, datatypes.DimRegion, topN),
		}
	}
	return out
}

// MetricSummaries sums actual, plan and prior per metric. A base with no
// value in the slice yields a nil base and a nil variance.
func MetricSummaries(t *dataset.Table) map[string]datatypes.MetricSummary {
	out := make(map[string]datatypes.MetricSummary)
	if t.Empty() || !t.HasColumn(colMetric) {
		return out
	}
	for _, metric := range t.Distinct(colMetric) {
		slice := t.Where(colMetric, metric)
		actual, _ := slice.Sum(colActual)
		summary := datatypes.MetricSummary{Actual: actual}
		if plan, ok := slice.Sum(colPlan); ok {
			summary.Plan = ptr(plan)
			summary.VarianceToPlan = ptr(actual - plan)
		}
		if prior, ok := slice.Sum(colPrior); ok {
			summary.Prior = ptr(prior)
			summary.VarianceToPrior = ptr(actual - prior)
		}
		out[metric] = summary
	}
	return out
}

// TopByDimension groups t by dim, sums actual, plan and prior per group
// (missing values count as zero) and returns at most topN groups ordered by
// absolute variance to plan, descending. Groups are first ordered by value,
// and the ranking sort is stable, so equal magnitudes keep that order.
// Rows with no value for dim are not grouped.
func TopByDimension(t *dataset.Table, dim datatypes.Dimension, topN int) []datatypes.RollupEntry {
	col := string(dim)
	if t.Empty() || !t.HasColumn(col) {
		return []datatypes.RollupEntry{}
	}
	groups := make(map[string]*datatypes.RollupEntry)
	for row := 0; row < t.Len(); row++ {
		key := t.String(row, col)
		if key == "" {
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &datatypes.RollupEntry{Dimension: dim, Value: key}
			groups[key] = g
		}
		if v, ok := t.Float(row, colActual); ok {
			g.Actual += v
		}
		if v, ok := t.Float(row, colPlan); ok {
			g.Plan += v
		}
		if v, ok := t.Float(row, colPrior); ok {
			g.Prior += v
		}
	}

	entries := make([]datatypes.RollupEntry, 0, len(groups))
	for _, g := range groups {
		g.VarianceToPlan = g.Actual - g.Plan
		g.VarianceToPrior = g.Actual - g.Prior
		entries = append(entries, *g)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Value < entries[j].Value })
	sort.SliceStable(entries, func(i, j int) bool {
		return math.Abs(entries[i].VarianceToPlan) > math.Abs(entries[j].VarianceToPlan)
	})
	if topN > 0 && len(entries) > topN {
		entries = entries[:topN]
	}
	return entries
}

// TopByDimensionPerMetric runs TopByDimension once per metric.
func TopByDimensionPerMetric(t *dataset.Table, dim datatypes.Dimension, topN int) map[string][]datatypes.RollupEntry {
	out := make(map[string][]datatypes.RollupEntry)
	if t.Empty() || !t.HasColumn(string(dim)) || !t.HasColumn(colMetric) {
		return out
	}
	for _, metric := range t.Distinct(colMetric) {
		out[metric] = TopByDimension(t.Where(colMetric, metric), dim, topN)
	}
	return out
}

func ptr(v float64) *float64 { return &v }
