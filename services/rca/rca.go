// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rca wires the RCA service: run store, datasets, analyzers,
// narration, workflow engine and the HTTP surface.
//
// # Lifecycle
//
//	svc, err := rca.New(ctx, cfg, nil, logger)
//	if err != nil { ... }
//	defer svc.Close()
//	err = svc.Run(ctx) // blocks until ctx is cancelled
//
// Run drains HTTP traffic and waits for background runs before returning.
// Runs are never cancelled; a run still going when the shutdown timeout
// expires is abandoned mid-flight and left in its last written status.
package rca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianRCA/pkg/extensions"
	"github.com/AleutianAI/AleutianRCA/services/llm"
	"github.com/AleutianAI/AleutianRCA/services/rca/analyzers"
	"github.com/AleutianAI/AleutianRCA/services/rca/config"
	"github.com/AleutianAI/AleutianRCA/services/rca/dataset"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
	"github.com/AleutianAI/AleutianRCA/services/rca/guard"
	"github.com/AleutianAI/AleutianRCA/services/rca/handlers"
	"github.com/AleutianAI/AleutianRCA/services/rca/middleware"
	"github.com/AleutianAI/AleutianRCA/services/rca/observability"
	"github.com/AleutianAI/AleutianRCA/services/rca/reasoning"
	"github.com/AleutianAI/AleutianRCA/services/rca/routes"
	"github.com/AleutianAI/AleutianRCA/services/rca/runstore"
	"github.com/AleutianAI/AleutianRCA/services/rca/synthesis"
	"github.com/AleutianAI/AleutianRCA/services/rca/workflow"
)

// Service is a fully wired RCA service.
type Service struct {
	cfg    *config.Config
	opts   extensions.ServiceOptions
	logger *slog.Logger

	store         runstore.Store
	engine        *workflow.Engine
	router        *gin.Engine
	registry      *prometheus.Registry
	tracerCleanup func(context.Context)
}

// New builds every component from cfg.
//
// # Description
//
// Opens the run store, the dataset repository and the optional LLM
// backend, then assembles the engine and the router. A selected LLM
// backend with no API key logs a warning and runs without narration,
// matching the rule-based fallback path. Tracing is initialized only
// when cfg.Telemetry.TracingEnabled is set.
//
// # Inputs
//
//   - ctx: Used for backend client construction only.
//   - cfg: Validated configuration. Must not be nil.
//   - opts: Auth and audit extensions. Nil means defaults, with API key
//     auth enabled when cfg.Security.APIKey is set.
//   - logger: Defaults to slog.Default().
//
// # Outputs
//
//   - *Service: Ready to Run. Call Close when done.
//   - error: Store, dataset, LLM or tracer initialization failure.
func New(ctx context.Context, cfg *config.Config, opts *extensions.ServiceOptions, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("rca: nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{cfg: cfg, logger: logger, opts: resolveOptions(cfg, opts, logger)}

	if cfg.Telemetry.TracingEnabled {
		cleanup, err := observability.InitTracer(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	var metrics *observability.Metrics
	if cfg.Telemetry.MetricsEnabled {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(s.registry)
	}

	store, err := runstore.Open(cfg.StoreOptions())
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	s.store = store

	repo, err := dataset.NewRepository(cfg.Data.Dir, cfg.Data.CacheEntries, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open datasets: %w", err)
	}

	client, params, err := initLLMClient(ctx, cfg, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	synthOpts := []synthesis.Option{
		synthesis.WithLogger(logger),
		synthesis.WithObserver(func(o synthesis.NarrationOutcome) {
			metrics.ObserveNarration(string(o.Kind), o.Used, o.Err)
		}),
	}
	if client != nil {
		synthOpts = append(synthOpts, synthesis.WithNarrator(client, params))
	}

	s.engine, err = workflow.NewEngine(workflow.Config{
		Store: store,
		Data:  repo,
		Analyzers: analyzers.NewRegistry(analyzers.Options{
			TopContributors:   cfg.Analysis.TopContributors,
			DefaultComparison: datatypes.Comparison(cfg.Analysis.DefaultComparison),
		}),
		Synthesizer: synthesis.New(synthOpts...),
		RollupTopN:  cfg.Analysis.RollupTopN,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to build workflow engine: %w", err)
	}

	if err := s.initRouter(reasoning.New(client, params, logger)); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Engine returns the run lifecycle API, for in-process callers like the CLI.
func (s *Service) Engine() *workflow.Engine {
	return s.engine
}

// Router returns the configured Gin engine.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Run serves HTTP on the configured port until ctx is cancelled, then
// shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting RCA server", "port", s.cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down RCA server", "in_flight_runs", s.engine.InFlight())
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.engine.Wait(shutdownCtx); err != nil {
		s.logger.Warn("Background runs still executing at shutdown", "in_flight_runs", s.engine.InFlight())
		errs = append(errs, fmt.Errorf("waiting for runs: %w", err))
	}
	return errors.Join(errs...)
}

// Close releases the store and flushes traces. Safe to call more than once.
func (s *Service) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("Run store close error", "error", err)
		}
		s.store = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

// =============================================================================
// Initialization
// =============================================================================

func resolveOptions(cfg *config.Config, opts *extensions.ServiceOptions, logger *slog.Logger) extensions.ServiceOptions {
	if opts != nil {
		resolved := *opts
		if resolved.AuthProvider == nil {
			resolved.AuthProvider = &extensions.NopAuthProvider{}
		}
		if resolved.AuditLogger == nil {
			resolved.AuditLogger = &extensions.NopAuditLogger{}
		}
		return resolved
	}
	resolved := extensions.DefaultOptions().WithAudit(&extensions.SlogAuditLogger{Logger: logger})
	if cfg.Security.APIKey != "" {
		resolved = resolved.WithAuth(extensions.NewAPIKeyAuthProvider(cfg.Security.APIKey))
	}
	logger.Info("API key auth", "enabled", cfg.Security.APIKey != "")
	return resolved
}

func initLLMClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.LLMClient, llm.GenerationParams, error) {
	llmCfg := cfg.LLMClientConfig()
	params := llmCfg.DefaultParams()
	client, present, err := llm.New(ctx, llmCfg)
	switch {
	case errors.Is(err, llm.ErrMissingAPIKey):
		logger.Warn("LLM backend selected without an API key; using rule-based narratives", "backend", llmCfg.Backend)
		return nil, params, nil
	case err != nil:
		return nil, params, err
	case !present:
		logger.Info("LLM narration disabled; using rule-based narratives")
		return nil, params, nil
	}
	logger.Info("LLM narration enabled", "backend", llmCfg.Backend, "model", llmCfg.Model)
	return client, params, nil
}

func (s *Service) initRouter(reasoner *reasoning.Reasoner) error {
	if s.cfg.Server.GinMode != "" {
		gin.SetMode(s.cfg.Server.GinMode)
	}
	if err := handlers.RegisterValidators(); err != nil {
		return fmt.Errorf("failed to register validators: %w", err)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	if s.cfg.Telemetry.TracingEnabled {
		s.router.Use(otelgin.Middleware(s.cfg.Telemetry.ServiceName))
	}

	var metricsHandler http.Handler
	if s.registry != nil {
		metricsHandler = promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
	}

	h := handlers.NewRCAHandler(s.engine, reasoner, s.opts.AuditLogger, s.logger)
	if s.cfg.Security.BlockSensitiveQuestions {
		g, err := guard.New()
		if err != nil {
			return fmt.Errorf("failed to load sensitive data patterns: %w", err)
		}
		h.WithGuard(g)
	}
	routes.SetupRoutes(s.router, h, routes.Options{
		Extensions:  s.opts,
		RateLimiter: middleware.NewRateLimiter(s.cfg.Security.RateLimitRequests, s.cfg.RateLimitWindow(), 0),
		Metrics:     metricsHandler,
		Logger:      s.logger,
	})
	return nil
}
