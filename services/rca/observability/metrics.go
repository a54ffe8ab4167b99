// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and tracing for the RCA service.
//
// # Description
//
// Prometheus metrics cover:
//   - Run outcomes and in-flight runs
//   - Scope completions
//   - Analyzer latency and errors by domain
//   - Narrator outcomes (used, fallback, error)
//   - Run store writes by status
//
// Tracing exports spans over OTLP/gRPC to a collector.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every recording method is a no-op on a nil *Metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for RCA metrics
const rcaSubsystem = "rca"

// Metrics holds the RCA service's Prometheus collectors.
type Metrics struct {
	// RunsTotal counts runs reaching a terminal status.
	// Labels: status (completed, failed)
	RunsTotal *prometheus.CounterVec

	// RunsInFlight is the number of runs currently executing.
	RunsInFlight prometheus.Gauge

	// RunDurationSeconds measures run wall time.
	// Labels: mode (single, sweep), status
	RunDurationSeconds *prometheus.HistogramVec

	// ScopesTotal counts finished scopes.
	// Labels: mode (single, sweep)
	ScopesTotal *prometheus.CounterVec

	// AnalyzerDurationSeconds measures one analyzer over one scope.
	// Labels: domain
	AnalyzerDurationSeconds *prometheus.HistogramVec

	// AnalyzerErrorsTotal counts analyzer failures.
	// Labels: domain
	AnalyzerErrorsTotal *prometheus.CounterVec

	// NarrationsTotal counts narrator attempts.
	// Labels: kind (scope, portfolio), outcome (used, fallback, error)
	NarrationsTotal *prometheus.CounterVec

	// StoreWritesTotal counts run store upserts.
	// Labels: status
	StoreWritesTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
//
// # Inputs
//
//   - reg: Registerer to use. prometheus.DefaultRegisterer in production,
//     prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics on duplicate registration against the same registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: rcaSubsystem,
				Name:      "runs_total",
				Help:      "Total RCA runs by terminal status",
			},
			[]string{"status"},
		),

		RunsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: rcaSubsystem,
				Name:      "runs_in_flight",
				Help:      "Number of RCA runs currently executing",
			},
		),

		RunDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: rcaSubsystem,
				Name:      "run_duration_seconds",
				Help:      "RCA run wall time in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"mode", "status"},
		),

		ScopesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: rcaSubsystem,
				Name:      "scopes_total",
				Help:      "Total scopes completed by run mode",
			},
			[]string{"mode"},
		),

		AnalyzerDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: rcaSubsystem,
				Name:      "analyzer_duration_seconds",
				Help:      "Analyzer latency per scope in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"domain"},
		),

		AnalyzerErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: rcaSubsystem,
				Name:      "analyzer_errors_total",
				Help:      "Total analyzer failures by domain",
			},
			[]string{"domain"},
		),

		NarrationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: rcaSubsystem,
				Name:      "narrations_total",
				Help:      "Narrator attempts by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		StoreWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: rcaSubsystem,
				Name:      "store_writes_total",
				Help:      "Run store upserts by record status",
			},
			[]string{"status"},
		),
	}
}

// =============================================================================
// Recording Helpers
// =============================================================================

// Narration outcomes.
const (
	OutcomeUsed     = "used"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

// RunStarted marks a run as executing.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsInFlight.Inc()
}

// RunFinished records a terminal run.
func (m *Metrics) RunFinished(mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsInFlight.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDurationSeconds.WithLabelValues(mode, status).Observe(d.Seconds())
}

// ScopeCompleted counts one finished scope.
func (m *Metrics) ScopeCompleted(mode string) {
	if m == nil {
		return
	}
	m.ScopesTotal.WithLabelValues(mode).Inc()
}

// ObserveAnalyzer records one analyzer call.
func (m *Metrics) ObserveAnalyzer(domain string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.AnalyzerDurationSeconds.WithLabelValues(domain).Observe(d.Seconds())
	if err != nil {
		m.AnalyzerErrorsTotal.WithLabelValues(domain).Inc()
	}
}

// ObserveNarration records one narrator attempt.
func (m *Metrics) ObserveNarration(kind string, used bool, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeFallback
	switch {
	case err != nil:
		outcome = OutcomeError
	case used:
		outcome = OutcomeUsed
	}
	m.NarrationsTotal.WithLabelValues(kind, outcome).Inc()
}

// StoreWrite counts one run store upsert.
func (m *Metrics) StoreWrite(status string) {
	if m == nil {
		return
	}
	m.StoreWritesTotal.WithLabelValues(status).Inc()
}
