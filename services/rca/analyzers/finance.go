// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analyzers

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianRCA/services/rca/dataset"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

// FinanceAnalyzer measures actual against plan or prior.
type FinanceAnalyzer struct {
	TopN              int
	DefaultComparison datatypes.Comparison
}

func (a *FinanceAnalyzer) Domain() datatypes.Domain { return datatypes.DomainFinance }
func (a *FinanceAnalyzer) Dataset() dataset.Name    { return dataset.Finance }

type contributorKey struct {
	metric, region, bu, productLine, segment string
}

func (k contributorKey) less(o contributorKey) bool {
	a := []string{k.metric, k.region, k.bu, k.productLine, k.segment}
	b := []string{o.metric, o.region, o.bu, o.productLine, o.segment}
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Analyze computes per-metric variance totals and the largest variance
// groups by (metric, region, bu, product_line, segment). Rows without an
// actual or base value are excluded.
func (a *FinanceAnalyzer) Analyze(ctx context.Context, table *dataset.Table, req Request) (*datatypes.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if table == nil {
		return nil, errNilTable
	}
	scoped := table.FilterByScope(req.Month, req.Filters)
	if scoped.Empty() {
		return datatypes.NoData("No finance data for scope."), nil
	}

	base := req.Comparison.Base(a.DefaultComparison)
	totals := make(map[string]float64)
	groups := make(map[contributorKey]float64)
	for row := 0; row < scoped.Len(); row++ {
		actual, okA := scoped.Float(row, "actual")
		baseVal, okB := scoped.Float(row, string(base))
		if !okA || !okB {
			continue
		}
		variance := actual - baseVal
		metric := scoped.String(row, "metric")
		totals[metric] += variance
		key := contributorKey{
			metric:      metric,
			region:      scoped.String(row, "region"),
			bu:          scoped.String(row, "bu"),
			productLine: scoped.String(row, "product_line"),
			segment:     scoped.String(row, "segment"),
		}
		groups[key] += variance
	}
	if len(totals) == 0 {
		res := datatypes.NoData("No variance available for scope.")
		res.Comparison = base
		return res, nil
	}

	keys := make([]contributorKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	sort.SliceStable(keys, func(i, j int) bool {
		return math.Abs(groups[keys[i]]) > math.Abs(groups[keys[j]])
	})
	topN := a.TopN
	if topN <= 0 {
		topN = DefaultTopContributors
	}
	if len(keys) > topN {
		keys = keys[:topN]
	}
	top := make([]datatypes.Contributor, 0, len(keys))
	for _, k := range keys {
		top = append(top, datatypes.Contributor{
			Metric: k.metric, Region: k.region, BU: k.bu,
			ProductLine: k.productLine, Segment: k.segment,
			Variance: groups[k],
		})
	}

	metrics := make([]string, 0, len(totals))
	for m := range totals {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)
	parts := make([]string, 0, len(metrics))
	for _, m := range metrics {
		direction := "above"
		if totals[m] < 0 {
			direction = "below"
		}
		parts = append(parts, fmt.Sprintf("%s: %s %s %s", m, thousands(math.Abs(totals[m])), direction, base))
	}

	return &datatypes.AnalysisResult{
		Summary:         strings.Join(parts, "; "),
		Signals:         []datatypes.Signal{},
		Comparison:      base,
		Totals:          totals,
		TopContributors: top,
	}, nil
}
