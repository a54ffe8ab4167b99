// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the RCA service configuration.
//
// Values come from three layers, later layers winning:
//
//  1. Defaults (see Default)
//  2. An optional YAML file
//  3. Environment variables (see applyEnv for the full list)
//
// Validate runs last and rejects unknown backends and out-of-range values.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRCA/services/llm"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
	"github.com/AleutianAI/AleutianRCA/services/rca/runstore"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Data      DataConfig      `yaml:"data"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	LLM       LLMConfig       `yaml:"llm"`
	Security  SecurityConfig  `yaml:"security"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	GinMode         string        `yaml:"gin_mode"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	// Backend is "badger" or "sqlite".
	Backend string `yaml:"backend"`

	// Path is a directory for badger and a file for sqlite.
	Path string `yaml:"path"`
}

type DataConfig struct {
	// Dir holds the six CSV datasets.
	Dir string `yaml:"dir"`

	// CacheEntries bounds the parsed-table LRU cache.
	CacheEntries int `yaml:"cache_entries"`
}

type AnalysisConfig struct {
	TopContributors   int    `yaml:"top_contributors"`
	DefaultComparison string `yaml:"default_comparison"`
	RollupTopN        int    `yaml:"rollup_top_n"`
}

type LLMConfig struct {
	// Backend is "none", "openai", "anthropic" or "gemini".
	Backend     string        `yaml:"backend"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float32       `yaml:"temperature"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`

	// APIKey is never read from the file; it comes from the provider's
	// environment variable.
	APIKey string `yaml:"-"`
}

type SecurityConfig struct {
	// APIKey enables X-API-Key auth when non-empty. Environment only.
	APIKey string `yaml:"-"`

	// RateLimitRequests per RateLimitWindowSeconds per client. 0 disables.
	RateLimitRequests      int `yaml:"rate_limit_requests"`
	RateLimitWindowSeconds int `yaml:"rate_limit_window_seconds"`

	// BlockSensitiveQuestions refuses LLM questions that contain secrets
	// or personal data.
	BlockSensitiveQuestions bool `yaml:"block_sensitive_questions"`
}

type TelemetryConfig struct {
	TracingEnabled bool   `yaml:"tracing_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	ServiceName    string `yaml:"service_name"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8000,
			GinMode:         "release",
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend: string(runstore.BackendBadger),
			Path:    "data/runs",
		},
		Data: DataConfig{
			Dir:          "data",
			CacheEntries: 16,
		},
		Analysis: AnalysisConfig{
			TopContributors:   5,
			DefaultComparison: string(datatypes.ComparisonPrior),
			RollupTopN:        5,
		},
		LLM: LLMConfig{
			Backend:     string(llm.BackendNone),
			MaxTokens:   llm.DefaultMaxTokens,
			Temperature: llm.DefaultTemperature,
			Timeout:     llm.DefaultTimeout,
		},
		Security: SecurityConfig{
			RateLimitRequests:       60,
			RateLimitWindowSeconds:  60,
			BlockSensitiveQuestions: true,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:   "localhost:4317",
			MetricsEnabled: true,
			ServiceName:    "aleutian-rca",
		},
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch runstore.Backend(strings.ToLower(c.Store.Backend)) {
	case runstore.BackendBadger, runstore.BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q must be badger or sqlite", c.Store.Backend))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Data.Dir == "" {
		errs = append(errs, errors.New("data.dir is required"))
	}
	if c.Analysis.TopContributors <= 0 {
		errs = append(errs, errors.New("analysis.top_contributors must be positive"))
	}
	if c.Analysis.RollupTopN <= 0 {
		errs = append(errs, errors.New("analysis.rollup_top_n must be positive"))
	}
	switch datatypes.Comparison(c.Analysis.DefaultComparison) {
	case datatypes.ComparisonPlan, datatypes.ComparisonPrior:
	default:
		errs = append(errs, fmt.Errorf("analysis.default_comparison %q must be plan or prior", c.Analysis.DefaultComparison))
	}
	switch llm.Backend(strings.ToLower(c.LLM.Backend)) {
	case "", llm.BackendNone, llm.BackendOpenAI, llm.BackendAnthropic, llm.BackendGemini:
	default:
		errs = append(errs, fmt.Errorf("llm.backend %q is not supported", c.LLM.Backend))
	}
	if c.Security.RateLimitRequests < 0 || c.Security.RateLimitWindowSeconds < 0 {
		errs = append(errs, errors.New("security rate limit values must not be negative"))
	}
	return errors.Join(errs...)
}

// StoreOptions converts the store section for runstore.Open.
func (c *Config) StoreOptions() runstore.Options {
	return runstore.Options{
		Backend: runstore.Backend(strings.ToLower(c.Store.Backend)),
		Path:    c.Store.Path,
	}
}

// LLMClientConfig converts the llm section for llm.New.
func (c *Config) LLMClientConfig() llm.Config {
	return llm.Config{
		Backend:     llm.Backend(strings.ToLower(c.LLM.Backend)),
		Model:       c.LLM.Model,
		APIKey:      c.LLM.APIKey,
		BaseURL:     c.LLM.BaseURL,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: c.LLM.Temperature,
		Timeout:     c.LLM.Timeout,
	}
}

// RateLimitWindow returns the rate limit window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.Security.RateLimitWindowSeconds) * time.Second
}
