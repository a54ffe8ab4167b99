// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reasoning

import (
	"encoding/json"
	"strconv"
	"strings"
)

func answerPrompt(question string, sections []section, runID, compareRunID string) string {
	lines := []string{
		"You are an analyst answering questions using past RCA results.",
		"Use ONLY the provided context. Do not speculate or invent numbers.",
		"If the question is out of scope or unsupported, say you cannot answer from stored results.",
		"Return JSON with keys: answer (list of bullets), rationale (list, optional), sources (list), evidence_refs (list), next_questions (list, optional), confidence (0-1).",
		"Keep answers under 120 words total; do not include markdown formatting.",
		"Run ID: " + runID,
	}
	if compareRunID != "" {
		lines = append(lines, "Comparison run: "+compareRunID)
	}
	for _, s := range sections {
		lines = append(lines, "Context ["+s.label+"]:")
		for _, l := range s.lines {
			lines = append(lines, "- "+l)
		}
	}
	lines = append(lines, "Question: "+question, "Answer JSON:")
	return strings.Join(lines, "\n")
}

func challengePrompt(sections []section, runID string) string {
	lines := []string{
		"You are an RCA challenge agent.",
		"Using ONLY the provided context, list conflicts, blind spots, or missing checks.",
		"Return JSON with keys: answer (bullets of challenges), rationale, evidence_refs, next_steps.",
		"If none found, say so explicitly.",
		"Run ID: " + runID,
	}
	for _, s := range sections {
		lines = append(lines, "Context ["+s.label+"]: "+strings.Join(s.lines, " | "))
	}
	lines = append(lines, "Answer JSON:")
	return strings.Join(lines, "\n")
}

// =============================================================================
// Structured Answers
// =============================================================================

type structuredAnswer struct {
	answer        []string
	rationale     []string
	sources       []string
	nextQuestions []string
	evidenceRefs  []string
	confidence    *float64
}

// parseStructuredAnswer decodes the narrator's JSON answer. It returns nil
// when text is not a JSON object or its answer is neither a string nor a
// list. A surrounding markdown code fence is tolerated.
func parseStructuredAnswer(text string) *structuredAnswer {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil
	}
	answer, ok := stringList(data["answer"])
	if !ok {
		return nil
	}
	out := &structuredAnswer{answer: answer}
	out.rationale, _ = stringList(data["rationale"])
	out.sources, _ = stringList(data["sources"])
	out.nextQuestions, _ = stringList(data["next_questions"])
	out.evidenceRefs, _ = stringList(data["evidence_refs"])
	out.confidence = toFloat(data["confidence"])
	return out
}

// stringList accepts a string or a list, keeping only string items. ok is
// false for any other non-nil type.
func stringList(v any) (out []string, ok bool) {
	out = []string{}
	switch t := v.(type) {
	case nil:
		return out, false
	case string:
		return []string{normalize(t)}, true
	case []any:
		for _, item := range t {
			if s, isStr := item.(string); isStr {
				out = append(out, normalize(s))
			}
		}
		return out, true
	default:
		return out, false
	}
}

func toFloat(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return &f
		}
	}
	return nil
}

// format flattens the answer into bullet lines with optional rationale
// and next-question blocks.
func (a *structuredAnswer) format() string {
	var parts []string
	for _, l := range a.answer {
		parts = append(parts, "- "+l)
	}
	if len(a.rationale) > 0 {
		parts = append(parts, "Rationale:")
		for _, l := range a.rationale {
			parts = append(parts, "- "+l)
		}
	}
	if len(a.nextQuestions) > 0 {
		parts = append(parts, "Next questions:")
		for _, l := range a.nextQuestions {
			parts = append(parts, "- "+l)
		}
	}
	return strings.Join(parts, "\n")
}
