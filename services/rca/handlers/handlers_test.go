// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRCA/pkg/extensions"
	"github.com/AleutianAI/AleutianRCA/services/llm"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
	"github.com/AleutianAI/AleutianRCA/services/rca/guard"
	"github.com/AleutianAI/AleutianRCA/services/rca/reasoning"
	"github.com/AleutianAI/AleutianRCA/services/rca/runstore"
	"github.com/AleutianAI/AleutianRCA/services/rca/workflow"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := RegisterValidators(); err != nil {
		panic(err)
	}
}

// fakeEngine records calls and serves canned records.
type fakeEngine struct {
	records   map[string]*datatypes.RunRecord
	enqueued  []datatypes.RCAJob
	enqueueFn func(job datatypes.RCAJob) (*datatypes.SubmitResponse, error)
	listOpts  runstore.ListOptions
	failList  bool
}

func (f *fakeEngine) Enqueue(_ context.Context, job datatypes.RCAJob) (*datatypes.SubmitResponse, error) {
	f.enqueued = append(f.enqueued, job)
	if f.enqueueFn != nil {
		return f.enqueueFn(job)
	}
	job = job.Normalize()
	return &datatypes.SubmitResponse{RunID: job.RunID(), Status: datatypes.StatusQueued, Message: "RCA workflow queued"}, nil
}

func (f *fakeEngine) Record(_ context.Context, runID string) (*datatypes.RunRecord, error) {
	if rec, ok := f.records[runID]; ok {
		return rec, nil
	}
	return nil, fmt.Errorf("%w: %s", workflow.ErrRunNotFound, runID)
}

func (f *fakeEngine) List(_ context.Context, opts runstore.ListOptions) (*datatypes.RunList, error) {
	f.listOpts = opts
	if f.failList {
		return nil, errors.New("disk full")
	}
	return &datatypes.RunList{Total: 0, Limit: opts.Limit, Offset: opts.Offset, Items: []*datatypes.RunRecord{}}, nil
}

func completedRecord() *datatypes.RunRecord {
	return &datatypes.RunRecord{
		RunID:   "rca-202401-EMEA",
		Status:  datatypes.StatusCompleted,
		Message: "RCA workflow completed for selected scope.",
		Payload: &datatypes.RCAJob{Month: "2024-01", Filters: datatypes.Filters{Region: "EMEA"}, Comparison: datatypes.ComparisonPlan},
		Result: &datatypes.RunResult{ScopeResult: datatypes.ScopeResult{
			Synthesis: &datatypes.Synthesis{RuleSummary: "revenue below plan", Findings: []datatypes.Finding{}},
		}},
	}
}

func newTestRouter(engine *fakeEngine, audit extensions.AuditLogger, client llm.LLMClient) *gin.Engine {
	h := NewRCAHandler(engine, reasoning.New(client, llm.GenerationParams{}, nil), audit, nil)
	router := gin.New()
	router.GET("/health", HealthCheck)
	router.POST("/v1/rca", h.SubmitRun)
	router.GET("/v1/rca", h.ListRuns)
	router.GET("/v1/rca/:runId", h.GetRun)
	router.POST("/v1/llm/query", h.QueryRun)
	router.POST("/v1/llm/challenge", h.ChallengeRun)
	return router
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// =============================================================================
// Run Lifecycle Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	w := do(newTestRouter(&fakeEngine{}, nil, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSubmitRun_Accepted(t *testing.T) {
	engine := &fakeEngine{}
	audit := &extensions.MemoryAuditLogger{}
	router := newTestRouter(engine, audit, nil)

	w := do(router, http.MethodPost, "/v1/rca", `{"month":"2024-01","region":"EMEA","comparison":"plan"}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"run_id":"rca-202401-EMEA","status":"queued","message":"RCA workflow queued"}`, w.Body.String())
	require.Len(t, engine.enqueued, 1)
	assert.Equal(t, "EMEA", engine.enqueued[0].Region)
	assert.Equal(t, datatypes.ComparisonPlan, engine.enqueued[0].Comparison)

	events := audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "rca.submit", events[0].EventType)
	assert.Equal(t, "rca-202401-EMEA", events[0].ResourceID)
	assert.Equal(t, "anonymous", events[0].UserID)
}

func TestSubmitRun_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing month", `{"region":"EMEA"}`, "month is required"},
		{"bad month", `{"month":"2024-13"}`, "month must be in YYYY-MM format"},
		{"bad comparison", `{"month":"2024-01","comparison":"budget"}`, "comparison must be one of plan prior all"},
		{"not json", `{`, "invalid request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			w := do(newTestRouter(engine, nil, nil), http.MethodPost, "/v1/rca", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decode(t, w)["error"], tt.want)
			assert.Empty(t, engine.enqueued)
		})
	}
}

func TestSubmitRun_InFlight(t *testing.T) {
	engine := &fakeEngine{enqueueFn: func(job datatypes.RCAJob) (*datatypes.SubmitResponse, error) {
		return &datatypes.SubmitResponse{RunID: "rca-202401-all-sweep", Status: datatypes.StatusRunning, Message: "Processed 3/13 scopes."}, workflow.ErrRunInFlight
	}}
	w := do(newTestRouter(engine, nil, nil), http.MethodPost, "/v1/rca", `{"month":"2024-01"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "Processed 3/13 scopes.", body["message"])
}

func TestSubmitRun_EngineErrors(t *testing.T) {
	engine := &fakeEngine{enqueueFn: func(datatypes.RCAJob) (*datatypes.SubmitResponse, error) {
		return nil, fmt.Errorf("%w: bad", workflow.ErrInvalidJob)
	}}
	w := do(newTestRouter(engine, nil, nil), http.MethodPost, "/v1/rca", `{"month":"2024-01"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	engine.enqueueFn = func(datatypes.RCAJob) (*datatypes.SubmitResponse, error) {
		return nil, errors.New("badger closed")
	}
	w = do(newTestRouter(engine, nil, nil), http.MethodPost, "/v1/rca", `{"month":"2024-01"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "badger")
}

func TestListRuns(t *testing.T) {
	engine := &fakeEngine{}
	router := newTestRouter(engine, nil, nil)

	w := do(router, http.MethodGet, "/v1/rca", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, runstore.ListOptions{Limit: 20}, engine.listOpts)

	w = do(router, http.MethodGet, "/v1/rca?status=completed&limit=5&offset=10", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, runstore.ListOptions{Limit: 5, Offset: 10, Status: datatypes.StatusCompleted}, engine.listOpts)
	assert.JSONEq(t, `{"total":0,"limit":5,"offset":10,"items":[]}`, w.Body.String())
}

func TestListRuns_BadQueries(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, nil, nil)
	for _, q := range []string{"limit=0", "limit=101", "offset=-1", "status=done", "limit=ten"} {
		t.Run(q, func(t *testing.T) {
			w := do(router, http.MethodGet, "/v1/rca?"+q, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestListRuns_StoreError(t *testing.T) {
	w := do(newTestRouter(&fakeEngine{failList: true}, nil, nil), http.MethodGet, "/v1/rca", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetRun(t *testing.T) {
	engine := &fakeEngine{records: map[string]*datatypes.RunRecord{"rca-202401-EMEA": completedRecord()}}
	router := newTestRouter(engine, nil, nil)

	w := do(router, http.MethodGet, "/v1/rca/rca-202401-EMEA", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "completed", body["status"])
	payload, ok := body["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "EMEA", payload["region"])
	assert.NotNil(t, body["result"])

	w = do(router, http.MethodGet, "/v1/rca/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"run_id not found"}`, w.Body.String())
}

// =============================================================================
// Reasoning Tests
// =============================================================================

func TestQueryRun(t *testing.T) {
	engine := &fakeEngine{records: map[string]*datatypes.RunRecord{"rca-202401-EMEA": completedRecord()}}
	audit := &extensions.MemoryAuditLogger{}
	client := llm.FuncClient(func(context.Context, string, llm.GenerationParams) (string, error) {
		return `{"answer":["Revenue missed plan"],"confidence":0.8}`, nil
	})
	router := newTestRouter(engine, audit, client)

	w := do(router, http.MethodPost, "/v1/llm/query", `{"run_id":"rca-202401-EMEA","question":"Why?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "- Revenue missed plan", body["answer"])
	assert.Equal(t, "Why?", body["question"])
	assert.Equal(t, true, body["llm_used"])
	assert.Equal(t, 0.8, body["confidence"])
	assert.Equal(t, "llm.query", audit.Events()[0].EventType)
}

func TestQueryRun_Errors(t *testing.T) {
	noResult := &datatypes.RunRecord{RunID: "rca-202401-NA", Status: datatypes.StatusQueued}
	engine := &fakeEngine{records: map[string]*datatypes.RunRecord{
		"rca-202401-EMEA": completedRecord(),
		"rca-202401-NA":   noResult,
	}}
	router := newTestRouter(engine, nil, nil)

	tests := []struct {
		name string
		body string
		code int
		want string
	}{
		{"missing question", `{"run_id":"rca-202401-EMEA"}`, http.StatusBadRequest, "question is required"},
		{"unknown run", `{"run_id":"nope","question":"q"}`, http.StatusNotFound, "run_id not found"},
		{"unknown compare", `{"run_id":"rca-202401-EMEA","question":"q","compare_run_id":"nope"}`, http.StatusNotFound, "compare_run_id not found"},
		{"no result", `{"run_id":"rca-202401-NA","question":"q"}`, http.StatusBadRequest, "no stored result"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/v1/llm/query", tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, decode(t, w)["error"], tt.want)
		})
	}
}

func TestQueryRun_GuardRejectsSensitiveQuestions(t *testing.T) {
	engine := &fakeEngine{records: map[string]*datatypes.RunRecord{"rca-202401-EMEA": completedRecord()}}
	audit := &extensions.MemoryAuditLogger{}
	called := false
	client := llm.FuncClient(func(context.Context, string, llm.GenerationParams) (string, error) {
		called = true
		return "unused", nil
	})
	g, err := guard.New()
	require.NoError(t, err)
	h := NewRCAHandler(engine, reasoning.New(client, llm.GenerationParams{}, nil), audit, nil).WithGuard(g)
	router := gin.New()
	router.POST("/v1/llm/query", h.QueryRun)

	w := do(router, http.MethodPost, "/v1/llm/query", `{"run_id":"rca-202401-EMEA","question":"ping jdoe@example.com about EMEA"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "question contains sensitive data (pii)", decode(t, w)["error"])
	assert.False(t, called)
	require.Len(t, audit.Events(), 1)
	assert.Equal(t, "denied", audit.Events()[0].Outcome)

	w = do(router, http.MethodPost, "/v1/llm/query", `{"run_id":"rca-202401-EMEA","question":"Why did EMEA miss plan?"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}

func TestChallengeRun(t *testing.T) {
	engine := &fakeEngine{records: map[string]*datatypes.RunRecord{"rca-202401-EMEA": completedRecord()}}
	router := newTestRouter(engine, nil, nil)

	w := do(router, http.MethodPost, "/v1/llm/challenge", `{"run_id":"rca-202401-EMEA"}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["llm_used"])
	assert.Contains(t, body["answer"], "review finance vs demand vs supply")

	w = do(router, http.MethodPost, "/v1/llm/challenge", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/v1/llm/challenge", `{"run_id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
