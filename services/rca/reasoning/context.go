// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reasoning

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

// section is one labelled block of prompt context.
type section struct {
	label string
	lines []string
}

// buildContext turns a stored result into context sections and their
// source labels. prefix namespaces labels of a comparison run.
func buildContext(result *datatypes.RunResult, scope, prefix string) ([]section, []string) {
	var sections []section
	var sources []string
	pre := ""
	if prefix != "" {
		pre = prefix + ":"
	}

	if scope != "" && len(result.Scopes) > 0 {
		if sr, ok := result.Scopes[scope]; ok && sr != nil {
			sections = append(sections, summarizeScope(pre+scope, sr, nil))
			sources = append(sources, pre+"scope:"+scope)
		}
	}

	if len(sections) == 0 {
		label := result.Scope
		if label == "" {
			label = scope
		}
		if label == "" {
			label = datatypes.ScopeLabelSelected
		}
		sections = append(sections, summarizeScope(pre+label, &result.ScopeResult, result.Domains))
		sources = append(sources, pre+"scope:"+label)
	}

	if p := result.Portfolio; p != nil {
		var lines []string
		brief := p.PortfolioBrief
		if brief == "" {
			brief = p.RulePortfolioBrief
		}
		if brief != "" {
			lines = append(lines, "Portfolio brief: "+brief)
		}
		if len(p.Hotspots) > 0 {
			spots := make([]string, 0, 5)
			for _, h := range p.Hotspots[:min(5, len(p.Hotspots))] {
				spots = append(spots, fmt.Sprintf("%s: %d", h.Domain, h.Occurrences))
			}
			lines = append(lines, "Hotspots: "+strings.Join(spots, ", "))
		}
		if p.LLMDecisionSummary != "" {
			lines = append(lines, "LLM sweep summary: "+normalize(p.LLMDecisionSummary))
		}
		sections = append(sections, section{label: pre + "portfolio", lines: lines})
		sources = append(sources, pre+"portfolio")
	}
	return sections, sources
}

func summarizeScope(label string, sr *datatypes.ScopeResult, domains *datatypes.DomainBreakdown) section {
	var lines []string
	if sr.Filters != nil && !sr.Filters.IsEmpty() {
		if data, err := json.Marshal(sr.Filters.Map()); err == nil {
			lines = append(lines, "Filters: "+string(data))
		}
	}

	if syn := sr.Synthesis; syn != nil {
		rule := syn.RuleSummary
		if rule == "" {
			rule = syn.Summary
		}
		if rule != "" {
			lines = append(lines, "Rule summary: "+rule)
		}
		if syn.BriefReport != "" {
			lines = append(lines, "Brief: "+syn.BriefReport)
		}
		if syn.LLMDecisionSummary != "" {
			lines = append(lines, "LLM summary: "+normalize(syn.LLMDecisionSummary))
		}
	}

	lines = append(lines, topVariances(sr.Rollup, 3)...)

	if domains != nil {
		for _, group := range []struct {
			name    string
			entries map[string]datatypes.DomainSummary
		}{
			{"regions", domains.Regions},
			{"bus", domains.BUs},
		} {
			keys := make([]string, 0, len(group.entries))
			for k := range group.entries {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys[:min(2, len(keys))] {
				if s := group.entries[k].Summary; s != "" {
					lines = append(lines, fmt.Sprintf("%s %s: %s", group.name, k, s))
				}
			}
		}
	}
	return section{label: label, lines: lines}
}

// topVariances lists the overall metrics with the largest variance,
// preferring whichever of plan and prior variance has more magnitude.
func topVariances(r *datatypes.Rollup, limit int) []string {
	if r == nil {
		return nil
	}
	type scored struct {
		metric   string
		variance float64
		values   datatypes.MetricSummary
	}
	var all []scored
	for metric, v := range r.Overall.Metrics {
		var best *float64
		switch {
		case v.VarianceToPlan != nil && v.VarianceToPrior != nil:
			best = v.VarianceToPlan
			if math.Abs(*v.VarianceToPrior) > math.Abs(*v.VarianceToPlan) {
				best = v.VarianceToPrior
			}
		case v.VarianceToPlan != nil:
			best = v.VarianceToPlan
		default:
			best = v.VarianceToPrior
		}
		if best != nil {
			all = append(all, scored{metric: metric, variance: *best, values: v})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		ai, aj := math.Abs(all[i].variance), math.Abs(all[j].variance)
		if ai != aj {
			return ai > aj
		}
		return all[i].metric < all[j].metric
	})

	lines := make([]string, 0, min(limit, len(all)))
	for _, s := range all[:min(limit, len(all))] {
		lines = append(lines, fmt.Sprintf("%s: variance %s (plan %s, prior %s, actual %s)",
			s.metric, num(s.variance), optNum(s.values.Plan), optNum(s.values.Prior), num(s.values.Actual)))
	}
	return lines
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optNum(v *float64) string {
	if v == nil {
		return "none"
	}
	return num(*v)
}

func normalize(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "*", ""))
}
