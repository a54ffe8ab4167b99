// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package synthesis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

// scopeResults holds the six analyzer results with nils replaced by
// empty results.
type scopeResults struct {
	finance, demand, supply, shipments, fx, events *datatypes.AnalysisResult
}

func resultsOf(sr *datatypes.ScopeResult) scopeResults {
	if sr == nil {
		sr = &datatypes.ScopeResult{}
	}
	get := func(d datatypes.Domain) *datatypes.AnalysisResult {
		if r := sr.Analysis(d); r != nil {
			return r
		}
		return &datatypes.AnalysisResult{}
	}
	return scopeResults{
		finance:   get(datatypes.DomainFinance),
		demand:    get(datatypes.DomainDemand),
		supply:    get(datatypes.DomainSupply),
		shipments: get(datatypes.DomainShipments),
		fx:        get(datatypes.DomainFX),
		events:    get(datatypes.DomainEvents),
	}
}

// =============================================================================
// Counting
// =============================================================================

type count struct {
	key string
	n   int
}

// counter counts keys and remembers first-seen order.
type counter struct {
	order []string
	n     map[string]int
}

func (c *counter) add(key string) {
	if c.n == nil {
		c.n = make(map[string]int)
	}
	if _, ok := c.n[key]; !ok {
		c.order = append(c.order, key)
	}
	c.n[key]++
}

// mostCommon returns counts descending, ties in first-seen order.
func (c *counter) mostCommon() []count {
	out := make([]count, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, count{key: k, n: c.n[k]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].n > out[j].n })
	return out
}

func hotspotsOf(counts []count) []datatypes.Hotspot {
	out := make([]datatypes.Hotspot, 0, len(counts))
	for _, c := range counts {
		out = append(out, datatypes.Hotspot{Domain: datatypes.Domain(c.key), Occurrences: c.n})
	}
	return out
}

// CountDomains returns findings per domain, most frequent first.
func CountDomains(findings []datatypes.Finding) []datatypes.Hotspot {
	var c counter
	for _, f := range findings {
		if f.Domain != "" {
			c.add(string(f.Domain))
		}
	}
	return hotspotsOf(c.mostCommon())
}

func formatCounts(counts []count) string {
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%s x%d", c.key, c.n))
	}
	return strings.Join(parts, ", ")
}

func typeCounts(r *datatypes.AnalysisResult) []count {
	var c counter
	for _, s := range r.Signals {
		c.add(orUnknown(s.Type))
	}
	return c.mostCommon()
}

func eventCounts(r *datatypes.AnalysisResult) []count {
	var c counter
	for _, e := range r.Events {
		c.add(orUnknown(e.Type))
	}
	return c.mostCommon()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// signalCounts renders "type xN, ..." or "none".
func signalCounts(r *datatypes.AnalysisResult) string {
	if len(r.Signals) == 0 {
		return "none"
	}
	return formatCounts(typeCounts(r))
}

// =============================================================================
// Formatting
// =============================================================================

// wholeNumber renders v rounded half-to-even with thousands separators.
func wholeNumber(v float64) string {
	return humanize.Comma(int64(math.RoundToEven(v)))
}

// formatFilters renders the scope context line.
func formatFilters(f datatypes.Filters, comparison datatypes.Comparison, month string) string {
	if f.IsEmpty() && comparison == "" && month == "" {
		return "none"
	}
	var entries []string
	if month != "" {
		entries = append(entries, "month="+month)
	}
	for _, dim := range datatypes.Dimensions {
		if v := f.Get(dim); v != "" {
			entries = append(entries, fmt.Sprintf("%s=%s", dim, v))
		}
	}
	if comparison != "" {
		entries = append(entries, "comparison="+string(comparison))
	}
	if len(entries) == 0 {
		return "unfiltered"
	}
	return strings.Join(entries, ", ")
}

// topDriver renders the lead finance contributor, or "" when there is none.
// A zero variance is omitted.
func topDriver(finance *datatypes.AnalysisResult) string {
	if len(finance.TopContributors) == 0 {
		return ""
	}
	lead := finance.TopContributors[0]
	var parts []string
	if lead.Metric != "" {
		parts = append(parts, lead.Metric)
	}
	if lead.Variance != 0 {
		parts = append(parts, wholeNumber(lead.Variance)+" variance")
	}
	for _, kv := range []struct{ key, value string }{
		{"region", lead.Region},
		{"bu", lead.BU},
		{"product_line", lead.ProductLine},
		{"segment", lead.Segment},
	} {
		if kv.value != "" {
			parts = append(parts, kv.key+" "+kv.value)
		}
	}
	return strings.Join(parts, " | ")
}

// opsSignals renders "demand:type xN; supply:..." for domains with signals.
func opsSignals(r scopeResults) string {
	var sections []string
	for _, s := range []struct {
		title string
		res   *datatypes.AnalysisResult
	}{
		{"demand", r.demand},
		{"supply", r.supply},
		{"shipments", r.shipments},
		{"fx", r.fx},
	} {
		if len(s.res.Signals) > 0 {
			sections = append(sections, s.title+":"+signalCounts(s.res))
		}
	}
	return strings.Join(sections, "; ")
}

// composeBrief builds the stakeholder narrative for a scope.
func composeBrief(label string, r scopeResults) string {
	lines := []string{fmt.Sprintf("Scope: %s.", label)}

	financeSummary := r.finance.Summary
	if financeSummary == "" {
		financeSummary = "No finance variance found."
	}
	lines = append(lines, "Finance: "+financeSummary)

	if len(r.finance.TopContributors) > 0 {
		lead := r.finance.TopContributors[0]
		parts := []string{fmt.Sprintf("%s: %s", lead.Metric, wholeNumber(lead.Variance))}
		if lead.Region != "" {
			parts = append(parts, "region "+lead.Region)
		}
		if lead.BU != "" {
			parts = append(parts, "BU "+lead.BU)
		}
		lines = append(lines, fmt.Sprintf("Primary driver: %s.", strings.Join(parts, " | ")))
	}

	sections := []struct {
		title  string
		counts []count
	}{
		{"Demand", typeCounts(r.demand)},
		{"Supply", typeCounts(r.supply)},
		{"Shipments", typeCounts(r.shipments)},
		{"FX", typeCounts(r.fx)},
		{"Events", eventCounts(r.events)},
	}
	found := false
	for _, s := range sections {
		if len(s.counts) > 0 {
			found = true
			lines = append(lines, fmt.Sprintf("%s: %s.", s.title, formatCounts(s.counts)))
		}
	}
	if !found {
		lines = append(lines, "No operational signals detected across demand, supply, shipments, FX, or events.")
	}
	return strings.Join(lines, " ")
}
