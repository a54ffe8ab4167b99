// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package synthesis turns the six analyzer results of a scope into a
// narrative, and a sweep's scope narratives into a portfolio view.
//
// Every output has a deterministic rule-based form. When a narrator
// (an llm.LLMClient) is configured, the decision summary is generated from
// a prompt instead; any failure or empty response falls back to the rule
// text, so synthesis never fails because of the narrator.
package synthesis

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRCA/services/llm"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

// NarrationKind distinguishes scope and portfolio narration in hooks.
type NarrationKind string

const (
	NarrationScope     NarrationKind = "scope"
	NarrationPortfolio NarrationKind = "portfolio"
)

// NarrationOutcome is reported to the observer after every narrator call.
type NarrationOutcome struct {
	Kind     NarrationKind
	Used     bool
	Err      error
	Duration time.Duration
}

// Synthesizer builds scope and portfolio syntheses.
//
// # Thread Safety
//
// Safe for concurrent use if the narrator is.
type Synthesizer struct {
	narrator llm.LLMClient
	params   llm.GenerationParams
	logger   *slog.Logger
	observe  func(NarrationOutcome)
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithNarrator enables generated decision summaries.
func WithNarrator(client llm.LLMClient, params llm.GenerationParams) Option {
	return func(s *Synthesizer) {
		s.narrator = client
		s.params = params
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synthesizer) { s.logger = logger }
}

// WithObserver registers a hook called after each narrator attempt.
func WithObserver(fn func(NarrationOutcome)) Option {
	return func(s *Synthesizer) { s.observe = fn }
}

// New creates a Synthesizer. Without WithNarrator it is purely rule-based.
func New(opts ...Option) *Synthesizer {
	s := &Synthesizer{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HasNarrator reports whether generated summaries are enabled.
func (s *Synthesizer) HasNarrator() bool {
	return s.narrator != nil
}

// =============================================================================
// Scope Synthesis
// =============================================================================

// ScopeInput is what Synthesize needs to narrate one scope.
type ScopeInput struct {
	Label      string
	Filters    datatypes.Filters
	Month      string
	Comparison datatypes.Comparison

	// Results carries the six analyzer outputs. Nil entries are treated
	// as empty results.
	Results *datatypes.ScopeResult
}

// Synthesize builds the narrative for one scope.
//
// # Description
//
// Findings are emitted in domain order for: finance with a summary; demand,
// supply, shipments and fx with signals; events with events. The rule
// summary joins one phrase per finding with " | ", or is "No findings.".
//
// # Outputs
//
//   - *datatypes.Synthesis: never nil. LLMDecisionSummary is never empty.
func (s *Synthesizer) Synthesize(ctx context.Context, in ScopeInput) *datatypes.Synthesis {
	if in.Label == "" {
		in.Label = datatypes.ScopeLabelSelected
	}
	r := resultsOf(in.Results)

	var parts []string
	var findings []datatypes.Finding
	if r.finance.Summary != "" {
		parts = append(parts, "Finance: "+r.finance.Summary)
		findings = append(findings, datatypes.Finding{Domain: datatypes.DomainFinance, Detail: r.finance})
	}
	if len(r.demand.Signals) > 0 {
		parts = append(parts, "Demand signals present.")
		findings = append(findings, datatypes.Finding{Domain: datatypes.DomainDemand, Detail: r.demand})
	}
	if len(r.supply.Signals) > 0 {
		parts = append(parts, "Supply constraints detected.")
		findings = append(findings, datatypes.Finding{Domain: datatypes.DomainSupply, Detail: r.supply})
	}
	if len(r.shipments.Signals) > 0 {
		parts = append(parts, "Fulfillment issues detected.")
		findings = append(findings, datatypes.Finding{Domain: datatypes.DomainShipments, Detail: r.shipments})
	}
	if len(r.fx.Signals) > 0 {
		parts = append(parts, "FX movements noted.")
		findings = append(findings, datatypes.Finding{Domain: datatypes.DomainFX, Detail: r.fx})
	}
	if len(r.events.Events) > 0 {
		parts = append(parts, "Contextual events noted.")
		findings = append(findings, datatypes.Finding{Domain: datatypes.DomainEvents, Detail: r.events})
	}
	if findings == nil {
		findings = []datatypes.Finding{}
	}

	ruleSummary := "No findings."
	if len(parts) > 0 {
		ruleSummary = strings.Join(parts, " | ")
	}
	brief := composeBrief(in.Label, r)

	decision, used := s.narrate(ctx, NarrationScope, scopePrompt(in, r, ruleSummary, brief))
	if !used {
		decision = fallbackScopeBrief(in, r, ruleSummary)
	}

	return &datatypes.Synthesis{
		Summary:            ruleSummary,
		RuleSummary:        ruleSummary,
		Findings:           findings,
		BriefReport:        brief,
		LLMDecisionSummary: decision,
		LLMUsed:            used,
	}
}

// =============================================================================
// Sweep Synthesis
// =============================================================================

// SweepInput is what SummarizeSweep needs to narrate a sweep.
type SweepInput struct {
	Month       string
	BaseFilters datatypes.Filters

	// Labels is the scope order; Scopes is keyed by label.
	Labels []string
	Scopes map[string]*datatypes.ScopeResult
}

// SummarizeSweep builds the portfolio view across completed scopes.
//
// Hotspots count findings per domain across scopes, most frequent first,
// ties in first-seen order.
func (s *Synthesizer) SummarizeSweep(ctx context.Context, in SweepInput) *datatypes.Portfolio {
	var summaries []string
	var hotspots counter
	for _, label := range in.Labels {
		res, ok := in.Scopes[label]
		if !ok || res == nil {
			continue
		}
		summary := "No summary."
		if res.Synthesis != nil && res.Synthesis.Summary != "" {
			summary = res.Synthesis.Summary
		}
		summaries = append(summaries, label+": "+summary)
		if res.Synthesis != nil {
			for _, f := range res.Synthesis.Findings {
				hotspots.add(string(f.Domain))
			}
		}
	}

	brief := "No completed scopes."
	if len(summaries) > 0 {
		brief = strings.Join(summaries, " ")
	}
	spots := hotspotsOf(hotspots.mostCommon())

	decision, used := s.narrate(ctx, NarrationPortfolio, portfolioPrompt(in, brief, spots))
	if !used {
		decision = fallbackPortfolioBrief(in, brief, spots, len(summaries))
	}

	return &datatypes.Portfolio{
		PortfolioBrief:     brief,
		RulePortfolioBrief: brief,
		Hotspots:           spots,
		LLMDecisionSummary: decision,
		LLMUsed:            used,
	}
}

// =============================================================================
// Narrator
// =============================================================================

// narrate runs the prompt through the narrator. It returns the normalized
// text and true only for a successful non-empty response.
func (s *Synthesizer) narrate(ctx context.Context, kind NarrationKind, prompt string) (string, bool) {
	if s.narrator == nil {
		return "", false
	}
	c := llm.Complete(ctx, s.narrator, prompt, s.params)
	text := ""
	if c.Err == nil {
		text = NormalizeText(c.Text)
	}
	used := text != ""

	switch {
	case c.Err != nil:
		s.logger.Warn("narrator call failed; using fallback", "kind", kind, "error", c.Err)
	case !used:
		s.logger.Info("narrator returned empty response; using fallback", "kind", kind)
	default:
		s.logger.Debug("narrator decision summary produced", "kind", kind, "duration", c.Duration)
	}
	if s.observe != nil {
		s.observe(NarrationOutcome{Kind: kind, Used: used, Err: c.Err, Duration: c.Duration})
	}
	return text, used
}

// NormalizeText strips markdown bold markers and blank lines, trimming
// each remaining line.
func NormalizeText(text string) string {
	cleaned := strings.ReplaceAll(text, "**", "")
	var lines []string
	for _, line := range strings.Split(cleaned, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
