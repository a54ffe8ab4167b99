// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package guard classifies free text before it leaves the process.
//
// Questions sent to /v1/llm/query are forwarded to third-party LLM
// providers. The guard scans them against an embedded set of regex
// classifications (secrets, then PII) so callers can refuse text that
// should not be shared.
//
// # Thread Safety
//
// A Guard is immutable after construction and safe for concurrent use.
package guard

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var embeddedPatterns []byte

// Public is the classification of text that matched nothing.
const Public = "public"

// Guard holds compiled classifications, highest priority first.
type Guard struct {
	classifications []Classification
}

// New builds a Guard from the embedded patterns.
func New() (*Guard, error) {
	return NewFromYAML(embeddedPatterns)
}

// NewFromYAML builds a Guard from a classification file.
//
// # Outputs
//
//   - *Guard: Ready to use.
//   - error: Malformed YAML, an invalid confidence, or a regex that does
//     not compile.
func NewFromYAML(data []byte) (*Guard, error) {
	var file ClassificationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse classification file: %w", err)
	}
	if err := file.compile(); err != nil {
		return nil, err
	}
	file.sortByPriority()
	return &Guard{classifications: file.Classifications}, nil
}

// Classify returns the name of the highest priority classification that
// matches text, or Public.
func (g *Guard) Classify(text string) string {
	for _, c := range g.classifications {
		for _, p := range c.Patterns {
			if p.compiled.MatchString(text) {
				return c.Name
			}
		}
	}
	return Public
}

// Scan reports every pattern match, line by line. Matched text is not
// included so findings are safe to log.
func (g *Guard) Scan(text string) []Finding {
	var findings []Finding
	for i, line := range strings.Split(text, "\n") {
		for _, c := range g.classifications {
			for _, p := range c.Patterns {
				if p.compiled.MatchString(line) {
					findings = append(findings, Finding{
						Line:           i + 1,
						Classification: c.Name,
						PatternID:      p.ID,
						Description:    p.Description,
						Confidence:     p.Confidence,
					})
				}
			}
		}
	}
	return findings
}
