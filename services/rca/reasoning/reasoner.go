// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package reasoning answers ad-hoc questions over stored RCA results.
//
// It reads only what a run persisted (synthesis, rollups, portfolio and
// domain breakdown), never the raw tables. Without a narrator, or when the
// narrator fails or returns something unparseable, answers fall back to a
// deterministic summary of the same context.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianRCA/services/llm"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

var (
	// ErrNoResult is returned for a run that has not stored a result yet.
	ErrNoResult = errors.New("run has no stored result yet")

	// ErrNoContext is returned when nothing usable can be built from a run.
	ErrNoContext = errors.New("no usable context found for this run")
)

// Warnings attached to responses.
const (
	warnNotConfigured = "LLM is not configured; using deterministic fallback."
	warnCallFailed    = "LLM call failed; using deterministic fallback."
	warnEmpty         = "LLM returned an empty response; using fallback."
	warnUnparseable   = "LLM response could not be parsed; using fallback."

	challengeFallback = "No LLM challenge available; review finance vs demand vs supply for contradictions manually."
)

// Response is the outcome of Answer or Challenge.
type Response struct {
	RunID         string   `json:"run_id"`
	Question      string   `json:"question,omitempty"`
	Answer        string   `json:"answer"`
	Sources       []string `json:"sources"`
	Warnings      []string `json:"warnings"`
	LLMUsed       bool     `json:"llm_used"`
	Rationale     []string `json:"rationale"`
	NextQuestions []string `json:"next_questions"`
	EvidenceRefs  []string `json:"evidence_refs"`

	// Confidence is the narrator's self-reported confidence in [0, 1], or
	// nil for a fallback answer.
	Confidence *float64 `json:"confidence"`
}

// Reasoner answers questions about stored runs.
type Reasoner struct {
	client llm.LLMClient
	params llm.GenerationParams
	logger *slog.Logger
}

// New creates a Reasoner. client may be nil.
func New(client llm.LLMClient, params llm.GenerationParams, logger *slog.Logger) *Reasoner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reasoner{client: client, params: params, logger: logger}
}

// Answer responds to question using rec's stored result, optionally
// narrowed to one sweep scope and extended with a comparison run.
//
// # Outputs
//
//   - *Response: never nil when error is nil.
//   - error: ErrNoResult or ErrNoContext.
func (r *Reasoner) Answer(ctx context.Context, rec *datatypes.RunRecord, question, scope string, compare *datatypes.RunRecord) (*Response, error) {
	if rec == nil || rec.Result == nil {
		return nil, ErrNoResult
	}

	var warnings []string
	if rec.Status != datatypes.StatusCompleted {
		warnings = append(warnings, fmt.Sprintf("Run is %s; results may be partial.", rec.Status))
	}
	if compare != nil && compare.Status != datatypes.StatusCompleted {
		warnings = append(warnings, fmt.Sprintf("Comparison run %s is %s; results may be partial.", compare.RunID, compare.Status))
	}

	sections, sources := buildContext(rec.Result, scope, "")
	compareID := ""
	if compare != nil {
		compareID = compare.RunID
		if compare.Result != nil {
			cs, csrc := buildContext(compare.Result, scope, "compare")
			sections = append(sections, cs...)
			sources = append(sources, csrc...)
		}
	}
	if len(sections) == 0 {
		return nil, ErrNoContext
	}

	var parsed *structuredAnswer
	if r.client == nil {
		warnings = append(warnings, warnNotConfigured)
	} else {
		c := llm.Complete(ctx, r.client, answerPrompt(question, sections, rec.RunID, compareID), r.params)
		switch {
		case c.Err != nil:
			r.logger.Warn("llm q&a call failed; falling back to deterministic answer", "run_id", rec.RunID, "error", c.Err)
			warnings = append(warnings, warnCallFailed)
		case strings.TrimSpace(c.Text) == "":
			warnings = append(warnings, warnEmpty)
		default:
			if parsed = parseStructuredAnswer(c.Text); parsed == nil {
				warnings = append(warnings, warnUnparseable)
			}
		}
	}

	resp := &Response{
		RunID:    rec.RunID,
		Question: question,
		Sources:  sources,
		Warnings: nonNil(warnings),
	}
	if parsed != nil {
		resp.fill(parsed, sources)
		resp.Confidence = parsed.confidence
	} else {
		resp.Answer = fallbackAnswer(question, sections)
		resp.Rationale = []string{}
		resp.NextQuestions = []string{}
		resp.EvidenceRefs = sources
	}
	return resp, nil
}

// Challenge asks the narrator for conflicts, blind spots and missing
// checks in rec's stored result.
func (r *Reasoner) Challenge(ctx context.Context, rec *datatypes.RunRecord, scope string) (*Response, error) {
	if rec == nil || rec.Result == nil {
		return nil, ErrNoResult
	}
	sections, sources := buildContext(rec.Result, scope, "")
	if len(sections) == 0 {
		return nil, ErrNoContext
	}

	var warnings []string
	var parsed *structuredAnswer
	if r.client == nil {
		warnings = append(warnings, warnNotConfigured)
	} else {
		c := llm.Complete(ctx, r.client, challengePrompt(sections, rec.RunID), r.params)
		if c.Err != nil {
			r.logger.Warn("llm challenge call failed; using fallback", "run_id", rec.RunID, "error", c.Err)
			warnings = append(warnings, warnCallFailed)
		} else if c.Text != "" {
			parsed = parseStructuredAnswer(c.Text)
		}
	}

	resp := &Response{RunID: rec.RunID, Sources: sources, Warnings: nonNil(warnings)}
	if parsed != nil {
		resp.fill(parsed, sources)
	} else {
		resp.Answer = challengeFallback
		resp.Rationale = []string{}
		resp.NextQuestions = []string{}
		resp.EvidenceRefs = sources
	}
	return resp, nil
}

func (resp *Response) fill(p *structuredAnswer, sources []string) {
	resp.LLMUsed = true
	resp.Answer = p.format()
	resp.Rationale = p.rationale
	resp.NextQuestions = p.nextQuestions
	resp.EvidenceRefs = p.evidenceRefs
	if len(resp.EvidenceRefs) == 0 {
		resp.EvidenceRefs = sources
	}
}

// fallbackAnswer quotes up to three lines per section, stopping once six
// lines are collected.
func fallbackAnswer(question string, sections []section) string {
	var top []string
	for _, s := range sections {
		n := min(3, len(s.lines))
		top = append(top, s.lines[:n]...)
		if len(top) >= 6 {
			break
		}
	}
	if len(top) == 0 {
		return "No stored findings available to answer this question yet."
	}
	return "Deterministic summary (no LLM available): " + strings.Join(top, " ") + " | Question: " + question
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
