// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides text generation backends behind one interface.
//
// The RCA service treats generation as an optional capability: New returns
// (nil, false, nil) when no backend is configured, and Complete wraps a call
// into an explicit Completion result so callers branch on a value instead
// of on an error type.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// GenerationParams tunes one generation call. Nil fields use the backend
// default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// System is an optional system instruction.
	System string `json:"system,omitempty"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// =============================================================================
// Configuration
// =============================================================================

// Backend names a generation provider.
type Backend string

const (
	BackendNone      Backend = "none"
	BackendOpenAI    Backend = "openai"
	BackendAnthropic Backend = "anthropic"
	BackendGemini    Backend = "gemini"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultMaxTokens   = 256
	DefaultTemperature = float32(0.2)
	DefaultTimeout     = 30 * time.Second
)

// Config selects and configures a backend.
type Config struct {
	Backend     Backend
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// DefaultParams returns the params a Config implies.
func (c Config) DefaultParams() GenerationParams {
	c = c.withDefaults()
	temp := c.Temperature
	maxTokens := c.MaxTokens
	return GenerationParams{Temperature: &temp, MaxTokens: &maxTokens}
}

// ErrMissingAPIKey is returned when a backend is selected without a key.
var ErrMissingAPIKey = errors.New("llm backend selected but no API key configured")

// New builds the configured backend.
//
// # Outputs
//
//   - LLMClient: the client, nil when present is false.
//   - bool: present; false when the backend is "none" or empty.
//   - error: unknown backend, missing key or client construction failure.
func New(ctx context.Context, cfg Config) (LLMClient, bool, error) {
	cfg = cfg.withDefaults()
	switch Backend(strings.ToLower(string(cfg.Backend))) {
	case "", BackendNone:
		return nil, false, nil
	case BackendOpenAI:
		if cfg.APIKey == "" {
			return nil, false, fmt.Errorf("openai: %w", ErrMissingAPIKey)
		}
		return NewOpenAIClient(cfg), true, nil
	case BackendAnthropic:
		if cfg.APIKey == "" {
			return nil, false, fmt.Errorf("anthropic: %w", ErrMissingAPIKey)
		}
		return NewAnthropicClient(cfg), true, nil
	case BackendGemini:
		if cfg.APIKey == "" {
			return nil, false, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
		}
		client, err := NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, false, err
		}
		return client, true, nil
	default:
		return nil, false, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
}

// =============================================================================
// Completion
// =============================================================================

// Completion is the outcome of one generation attempt.
type Completion struct {
	Text     string
	Err      error
	Duration time.Duration
}

// OK reports whether the attempt produced non-blank text.
func (c Completion) OK() bool {
	return c.Err == nil && strings.TrimSpace(c.Text) != ""
}

// Complete calls client.Generate and folds every failure mode (error,
// panic, empty text) into the returned Completion. It never panics.
func Complete(ctx context.Context, client LLMClient, prompt string, params GenerationParams) (out Completion) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = Completion{Err: fmt.Errorf("llm generate panicked: %v", r)}
			slog.Warn("llm generate panicked", "panic", r)
		}
		out.Duration = time.Since(start)
	}()
	if client == nil {
		return Completion{Err: errors.New("no llm client")}
	}
	text, err := client.Generate(ctx, prompt, params)
	return Completion{Text: text, Err: err}
}

// FuncClient adapts a function to LLMClient.
type FuncClient func(ctx context.Context, prompt string, params GenerationParams) (string, error)

func (f FuncClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return f(ctx, prompt, params)
}
