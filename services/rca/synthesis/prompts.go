// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package synthesis

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

// =============================================================================
// Prompts
// =============================================================================

func scopePrompt(in ScopeInput, r scopeResults, ruleSummary, brief string) string {
	comparison := string(r.finance.Comparison)
	if comparison == "" {
		comparison = string(datatypes.ComparisonPlan)
	}
	driver := topDriver(r.finance)
	if driver == "" {
		driver = "none"
	}
	return strings.Join([]string{
		"You are a finance RCA decision-support agent writing for finance leads.",
		"Anchor on the selected scope and filters; avoid generic advice.",
		"Return 3-5 short lines prefixed with '-' (no markdown emphasis or asterisks).",
		fmt.Sprintf("Scope: %s | Filters: %s | Comparison: %s", in.Label, formatFilters(in.Filters, in.Comparison, in.Month), comparison),
		"Rule summary: " + ruleSummary,
		"Brief narrative: " + brief,
		"Finance drivers: " + driver,
		"Demand signals: " + signalCounts(r.demand),
		"Supply signals: " + signalCounts(r.supply),
		"Shipments signals: " + signalCounts(r.shipments),
		"FX signals: " + signalCounts(r.fx),
		fmt.Sprintf("Events: %d", len(r.events.Events)),
		"Focus on implications (why it moved, what to watch, next action owners).",
	}, "\n")
}

func portfolioPrompt(in SweepInput, brief string, hotspots []datatypes.Hotspot) string {
	month := in.Month
	if month == "" {
		month = "unspecified"
	}
	spots := make([]string, 0, len(hotspots))
	for _, h := range hotspots {
		spots = append(spots, fmt.Sprintf("%s x%d", h.Domain, h.Occurrences))
	}
	hotspotLine := "none"
	if len(spots) > 0 {
		hotspotLine = strings.Join(spots, ", ")
	}
	return strings.Join([]string{
		"You are summarizing a multi-scope RCA sweep for executives.",
		"Deliver decision-ready insights, themes, and top follow-ups in <=120 words.",
		"Return 3-5 short lines prefixed with '-' (no markdown emphasis or asterisks).",
		fmt.Sprintf("Month: %s | Base filters: %s", month, formatFilters(in.BaseFilters, "", "")),
		"Rule-based portfolio brief: " + brief,
		"Hotspots by domain: " + hotspotLine,
	}, "\n")
}

// =============================================================================
// Deterministic Fallbacks
// =============================================================================

func fallbackScopeBrief(in ScopeInput, r scopeResults, ruleSummary string) string {
	driver := topDriver(r.finance)
	ops := opsSignals(r)
	eventsCount := len(r.events.Events)

	var risks []string
	if ops == "" {
		risks = append(risks, "Sparse operational signals; validate data freshness")
	}
	if eventsCount > 0 {
		risks = append(risks, "Contextual events may be confounding the variance")
	}

	var actions []string
	if len(r.demand.Signals) > 0 {
		actions = append(actions, "Validate promo/discount levers vs demand drop")
	}
	if len(r.supply.Signals) > 0 {
		actions = append(actions, "Escalate OTIF/lead-time fixes with suppliers")
	}
	if len(r.shipments.Signals) > 0 {
		actions = append(actions, "Stabilize fulfillment and reroute inventory where lagging")
	}
	if len(r.fx.Signals) > 0 {
		actions = append(actions, "Review hedges/pricing for FX-sensitive regions")
	}

	parts := []string{
		fmt.Sprintf("- Scope: %s | Filters: %s", in.Label, formatFilters(in.Filters, in.Comparison, in.Month)),
		"- Reference: " + ruleSummary,
	}
	if driver != "" {
		parts = append(parts, fmt.Sprintf("- Primary driver: %s.", driver))
	}
	if ops != "" {
		parts = append(parts, fmt.Sprintf("- Ops signals: %s.", ops))
	}
	if eventsCount > 0 {
		parts = append(parts, fmt.Sprintf("- Events to factor: %d recorded.", eventsCount))
	}
	if len(risks) > 0 {
		parts = append(parts, fmt.Sprintf("- Risks: %s.", strings.Join(risks, ", ")))
	}
	if len(actions) > 0 {
		parts = append(parts, fmt.Sprintf("- Next actions: %s.", strings.Join(actions, ", ")))
	}
	return strings.Join(parts, "\n")
}

func fallbackPortfolioBrief(in SweepInput, brief string, hotspots []datatypes.Hotspot, scopeCount int) string {
	themes := "No dominant hotspots"
	if len(hotspots) > 0 {
		parts := make([]string, 0, len(hotspots))
		for _, h := range hotspots {
			parts = append(parts, fmt.Sprintf("%s x%d", h.Domain, h.Occurrences))
		}
		themes = strings.Join(parts, ", ")
	}
	month := in.Month
	if month == "" {
		month = "unspecified"
	}
	return strings.Join([]string{
		fmt.Sprintf("- Month: %s | Filters: %s", month, formatFilters(in.BaseFilters, "", in.Month)),
		"- Reference sweep: " + brief,
		fmt.Sprintf("- Themes: %s.", themes),
		fmt.Sprintf("- Coverage: %d scopes processed.", scopeCount),
	}, "\n")
}
