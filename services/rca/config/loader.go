// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Write saves cfg as YAML, creating or truncating path.
func Write(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

type lookupFunc func(key string) (string, bool)

// applyEnv overlays environment variables onto cfg.
//
// The provider key is picked by the selected llm backend: OPENAI_API_KEY,
// ANTHROPIC_API_KEY or GOOGLE_API_KEY.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}

	num("RCA_PORT", &cfg.Server.Port)
	str("GIN_MODE", &cfg.Server.GinMode)
	str("RUN_STORE_BACKEND", &cfg.Store.Backend)
	str("RUN_STORE_PATH", &cfg.Store.Path)
	str("RCA_DATA_DIR", &cfg.Data.Dir)

	str("LLM_BACKEND_TYPE", &cfg.LLM.Backend)
	str("LLM_MODEL", &cfg.LLM.Model)
	num("LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	if v, ok := lookup("LLM_TEMPERATURE"); ok && strings.TrimSpace(v) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
		if err != nil {
			errs = append(errs, fmt.Sprintf("LLM_TEMPERATURE=%q is not a number", v))
		} else {
			cfg.LLM.Temperature = float32(f)
		}
	}
	switch strings.ToLower(cfg.LLM.Backend) {
	case "openai":
		str("OPENAI_API_KEY", &cfg.LLM.APIKey)
		str("OPENAI_BASE_URL", &cfg.LLM.BaseURL)
	case "anthropic":
		str("ANTHROPIC_API_KEY", &cfg.LLM.APIKey)
	case "gemini":
		str("GOOGLE_API_KEY", &cfg.LLM.APIKey)
	}

	str("RCA_API_KEY", &cfg.Security.APIKey)
	num("RATE_LIMIT_REQUESTS", &cfg.Security.RateLimitRequests)
	num("RATE_LIMIT_WINDOW_SECONDS", &cfg.Security.RateLimitWindowSeconds)

	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	if v, ok := lookup("RCA_TRACING_ENABLED"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("RCA_TRACING_ENABLED=%q is not a boolean", v))
		} else {
			cfg.Telemetry.TracingEnabled = b
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}
