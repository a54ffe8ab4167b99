// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// =============================================================================
// Analyzer Output
// =============================================================================

// Signal is one flagged observation from an analyzer, e.g. "low_otif".
type Signal struct {
	Type   string             `json:"type"`
	Values map[string]float64 `json:"values,omitempty"`
	Labels map[string]string  `json:"labels,omitempty"`
}

// Event is a logged business event relevant to a scope.
type Event struct {
	Date        string `json:"date"`
	Type        string `json:"type"`
	Summary     string `json:"summary"`
	Region      string `json:"region,omitempty"`
	BU          string `json:"bu,omitempty"`
	ProductLine string `json:"product_line,omitempty"`
}

// Contributor is one finance variance group.
type Contributor struct {
	Metric      string  `json:"metric"`
	Region      string  `json:"region,omitempty"`
	BU          string  `json:"bu,omitempty"`
	ProductLine string  `json:"product_line,omitempty"`
	Segment     string  `json:"segment,omitempty"`
	Variance    float64 `json:"variance"`
}

// AnalysisResult is the output of one analyzer over one scope.
//
// Summary and Signals are common to every analyzer. The remaining fields
// are domain specific and only populated by the analyzer that owns them.
type AnalysisResult struct {
	Summary string   `json:"summary"`
	Signals []Signal `json:"signals"`

	// Finance only.
	Comparison      Comparison         `json:"comparison,omitempty"`
	Totals          map[string]float64 `json:"totals,omitempty"`
	TopContributors []Contributor      `json:"top_contributors,omitempty"`

	// Events only.
	Events []Event `json:"events,omitempty"`
}

// NoData returns the sentinel result for an empty scope.
func NoData(summary string) *AnalysisResult {
	return &AnalysisResult{Summary: summary, Signals: []Signal{}}
}

// =============================================================================
// Synthesis
// =============================================================================

// Domain names an analyzer domain.
type Domain string

const (
	DomainFinance   Domain = "finance"
	DomainDemand    Domain = "demand"
	DomainSupply    Domain = "supply"
	DomainShipments Domain = "shipments"
	DomainFX        Domain = "fx"
	DomainEvents    Domain = "events"
)

// Domains lists the domains in canonical order.
var Domains = []Domain{DomainFinance, DomainDemand, DomainSupply, DomainShipments, DomainFX, DomainEvents}

// Finding records that a domain produced something worth reporting.
type Finding struct {
	Domain Domain          `json:"domain"`
	Detail *AnalysisResult `json:"detail"`
}

// Synthesis is the per-scope narrative.
type Synthesis struct {
	Summary            string    `json:"summary"`
	RuleSummary        string    `json:"rule_summary"`
	Findings           []Finding `json:"findings"`
	BriefReport        string    `json:"brief_report"`
	LLMDecisionSummary string    `json:"llm_decision_summary"`
	LLMUsed            bool      `json:"llm_used"`
}

// Hotspot counts how many scopes a domain produced findings in.
type Hotspot struct {
	Domain      Domain `json:"domain"`
	Occurrences int    `json:"occurrences"`
}

// Portfolio is the cross-scope synthesis of a sweep.
type Portfolio struct {
	PortfolioBrief     string    `json:"portfolio_brief"`
	RulePortfolioBrief string    `json:"rule_portfolio_brief"`
	Hotspots           []Hotspot `json:"hotspots"`
	LLMDecisionSummary string    `json:"llm_decision_summary"`
	LLMUsed            bool      `json:"llm_used"`
}

// DomainSummary is the dominant-domain view of one region or BU.
type DomainSummary struct {
	Summary     string    `json:"summary"`
	BriefReport string    `json:"brief_report"`
	Domains     []Hotspot `json:"domains"`
}

// DomainBreakdown groups domain summaries by region and by BU.
type DomainBreakdown struct {
	Regions map[string]DomainSummary `json:"regions"`
	BUs     map[string]DomainSummary `json:"bus"`
}

// =============================================================================
// Rollup
// =============================================================================

// MetricSummary holds summed values for one metric. Plan, Prior and the
// variances are nil when the slice carries no base value.
type MetricSummary struct {
	Actual          float64  `json:"actual"`
	Plan            *float64 `json:"plan"`
	Prior           *float64 `json:"prior"`
	VarianceToPlan  *float64 `json:"variance_to_plan"`
	VarianceToPrior *float64 `json:"variance_to_prior"`
}

// RollupEntry is one group in a top-contributor ranking. Missing base
// values are treated as zero inside a ranking.
type RollupEntry struct {
	Dimension       Dimension `json:"dimension"`
	Value           string    `json:"value"`
	Actual          float64   `json:"actual"`
	Plan            float64   `json:"plan"`
	Prior           float64   `json:"prior"`
	VarianceToPlan  float64   `json:"variance_to_plan"`
	VarianceToPrior float64   `json:"variance_to_prior"`
}

// RollupSlice is the rollup of one slice: overall, one region or one BU.
type RollupSlice struct {
	Metrics            map[string]MetricSummary `json:"metrics"`
	TopRegionsByMetric map[string][]RollupEntry `json:"top_regions_by_metric,omitempty"`
	TopBUsByMetric     map[string][]RollupEntry `json:"top_bus_by_metric,omitempty"`
}

// Rollup is the finance rollup of a scope or sweep.
type Rollup struct {
	Overall RollupSlice            `json:"overall"`
	Regions map[string]RollupSlice `json:"regions"`
	BUs     map[string]RollupSlice `json:"bus"`
}

// =============================================================================
// Scope and Run Results
// =============================================================================

// Scope is a named slice a single RCA pass runs over.
type Scope struct {
	Label   string  `json:"label"`
	Filters Filters `json:"filters"`
}

// ScopeLabelOverall is the label of the unsliced scope.
const ScopeLabelOverall = "overall"

// ScopeLabelSelected is the label used for a single-scope run.
const ScopeLabelSelected = "selected scope"

// ScopeResult is everything computed for one scope. Fields fill in as
// stages finish; a completed scope has all of them.
type ScopeResult struct {
	Finance   *AnalysisResult `json:"finance,omitempty"`
	Demand    *AnalysisResult `json:"demand,omitempty"`
	Supply    *AnalysisResult `json:"supply,omitempty"`
	Shipments *AnalysisResult `json:"shipments,omitempty"`
	FX        *AnalysisResult `json:"fx,omitempty"`
	Events    *AnalysisResult `json:"events,omitempty"`
	Synthesis *Synthesis      `json:"synthesis,omitempty"`
	Filters   *Filters        `json:"filters,omitempty"`
	Scope     string          `json:"scope,omitempty"`
	Rollup    *Rollup         `json:"rollup,omitempty"`
}

// Analysis returns the result stored for domain.
func (s *ScopeResult) Analysis(domain Domain) *AnalysisResult {
	switch domain {
	case DomainFinance:
		return s.Finance
	case DomainDemand:
		return s.Demand
	case DomainSupply:
		return s.Supply
	case DomainShipments:
		return s.Shipments
	case DomainFX:
		return s.FX
	case DomainEvents:
		return s.Events
	}
	return nil
}

// SetAnalysis stores res under domain.
func (s *ScopeResult) SetAnalysis(domain Domain, res *AnalysisResult) {
	switch domain {
	case DomainFinance:
		s.Finance = res
	case DomainDemand:
		s.Demand = res
	case DomainSupply:
		s.Supply = res
	case DomainShipments:
		s.Shipments = res
	case DomainFX:
		s.FX = res
	case DomainEvents:
		s.Events = res
	}
}

// RunResult is the accumulated result of a run.
//
// A single-scope run fills the embedded ScopeResult. A sweep fills Scopes
// (keyed by label, with ScopeOrder preserving discovery order), Current for
// the scope in flight, and on completion Portfolio, Domains, Rollup, Filters,
// Month and Comparison.
type RunResult struct {
	ScopeResult

	Scopes     map[string]*ScopeResult `json:"scopes,omitempty"`
	ScopeOrder []string                `json:"scope_order,omitempty"`
	Current    *ScopeResult            `json:"current,omitempty"`
	Portfolio  *Portfolio              `json:"portfolio,omitempty"`
	Domains    *DomainBreakdown        `json:"domains,omitempty"`
	Month      string                  `json:"month,omitempty"`
	Comparison Comparison              `json:"comparison,omitempty"`
}

// OrderedScopes returns the sweep's scope results in discovery order.
func (r *RunResult) OrderedScopes() []*ScopeResult {
	out := make([]*ScopeResult, 0, len(r.ScopeOrder))
	for _, label := range r.ScopeOrder {
		if s, ok := r.Scopes[label]; ok {
			out = append(out, s)
		}
	}
	return out
}
