// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestMetrics_RunLifecycle(t *testing.T) {
	m := newTestMetrics(t)

	m.RunStarted()
	m.RunStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RunsInFlight))

	m.RunFinished("sweep", "completed", 2*time.Second)
	m.RunFinished("single", "failed", time.Millisecond)

	assert.Equal(t, float64(0), testutil.ToFloat64(m.RunsInFlight))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsTotal.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsTotal.WithLabelValues("failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.RunDurationSeconds))
}

func TestMetrics_AnalyzerAndNarration(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveAnalyzer("finance", 3*time.Millisecond, nil)
	m.ObserveAnalyzer("supply", time.Millisecond, errors.New("boom"))
	m.ObserveNarration("scope", true, nil)
	m.ObserveNarration("scope", false, nil)
	m.ObserveNarration("portfolio", false, errors.New("timeout"))
	m.ScopeCompleted("sweep")
	m.StoreWrite("queued")

	assert.Equal(t, float64(0), testutil.ToFloat64(m.AnalyzerErrorsTotal.WithLabelValues("finance")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AnalyzerErrorsTotal.WithLabelValues("supply")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NarrationsTotal.WithLabelValues("scope", OutcomeUsed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NarrationsTotal.WithLabelValues("scope", OutcomeFallback)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NarrationsTotal.WithLabelValues("portfolio", OutcomeError)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ScopesTotal.WithLabelValues("sweep")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreWritesTotal.WithLabelValues("queued")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.RunFinished("single", "completed", time.Second)
		m.ScopeCompleted("single")
		m.ObserveAnalyzer("fx", time.Second, nil)
		m.ObserveNarration("scope", true, nil)
		m.StoreWrite("running")
	})
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestStartSpan_RecordsError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartSpan(context.Background(), "rca.scope", attribute.String("rca.scope", "overall"))
	EndSpan(span, errors.New("analyzer failed"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "rca.scope", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("rca.scope", "overall"))
}
