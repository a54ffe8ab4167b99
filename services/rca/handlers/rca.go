// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the RCA HTTP endpoints.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRCA/pkg/extensions"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
	"github.com/AleutianAI/AleutianRCA/services/rca/guard"
	"github.com/AleutianAI/AleutianRCA/services/rca/middleware"
	"github.com/AleutianAI/AleutianRCA/services/rca/reasoning"
	"github.com/AleutianAI/AleutianRCA/services/rca/runstore"
	"github.com/AleutianAI/AleutianRCA/services/rca/workflow"
)

// RunEngine is the part of workflow.Engine the handlers use.
type RunEngine interface {
	Enqueue(ctx context.Context, job datatypes.RCAJob) (*datatypes.SubmitResponse, error)
	Record(ctx context.Context, runID string) (*datatypes.RunRecord, error)
	List(ctx context.Context, opts runstore.ListOptions) (*datatypes.RunList, error)
}

// Classifier labels free text; guard.Guard implements it.
type Classifier interface {
	Classify(text string) string
}

// RCAHandler serves the run lifecycle and reasoning endpoints.
type RCAHandler struct {
	engine   RunEngine
	reasoner *reasoning.Reasoner
	guard    Classifier
	audit    extensions.AuditLogger
	logger   *slog.Logger
}

// NewRCAHandler wires a handler. audit and logger may be nil.
func NewRCAHandler(engine RunEngine, reasoner *reasoning.Reasoner, audit extensions.AuditLogger, logger *slog.Logger) *RCAHandler {
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RCAHandler{engine: engine, reasoner: reasoner, audit: audit, logger: logger}
}

// WithGuard makes QueryRun refuse questions the classifier does not label
// guard.Public. Passing nil disables the check.
func (h *RCAHandler) WithGuard(g Classifier) *RCAHandler {
	h.guard = g
	return h
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// =============================================================================
// Run Lifecycle
// =============================================================================

// SubmitRun handles POST /v1/rca.
//
// # Description
//
// Validates the job, records it as queued and starts it in the background.
// Responds 202 with the queued status. A job whose run id is already
// executing gets 409 with the run's current status and no new record.
func (h *RCAHandler) SubmitRun(c *gin.Context) {
	var req RCARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}

	resp, err := h.engine.Enqueue(c.Request.Context(), req.Job())
	switch {
	case err == nil:
		h.auditEvent(c, "rca.submit", resp.RunID, "success", map[string]any{"full_sweep": req.FullSweep})
		c.JSON(http.StatusAccepted, resp)
	case errors.Is(err, workflow.ErrRunInFlight):
		h.auditEvent(c, "rca.submit", resp.RunID, "failure", map[string]any{"reason": "in_flight"})
		c.JSON(http.StatusConflict, gin.H{
			"error":   err.Error(),
			"run_id":  resp.RunID,
			"status":  resp.Status,
			"message": resp.Message,
		})
	case errors.Is(err, workflow.ErrInvalidJob):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("failed to enqueue run", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue run"})
	}
}

// ListRuns handles GET /v1/rca.
func (h *RCAHandler) ListRuns(c *gin.Context) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	status := datatypes.RunStatus(q.Status)
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + q.Status})
		return
	}

	list, err := h.engine.List(c.Request.Context(), runstore.ListOptions{Limit: q.Limit, Offset: q.Offset, Status: status})
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetRun handles GET /v1/rca/:runId.
func (h *RCAHandler) GetRun(c *gin.Context) {
	rec, ok := h.loadRun(c, c.Param("runId"), "run_id not found")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

// =============================================================================
// Reasoning
// =============================================================================

// QueryRun handles POST /v1/llm/query.
func (h *RCAHandler) QueryRun(c *gin.Context) {
	var req LLMQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	if h.guard != nil {
		if class := h.guard.Classify(req.Question); class != guard.Public {
			h.auditEvent(c, "llm.query", req.RunID, "denied", map[string]any{"classification": class})
			c.JSON(http.StatusBadRequest, gin.H{"error": "question contains sensitive data (" + class + ")"})
			return
		}
	}
	rec, ok := h.loadRun(c, req.RunID, "run_id not found")
	if !ok {
		return
	}
	var compare *datatypes.RunRecord
	if req.CompareRunID != "" {
		if compare, ok = h.loadRun(c, req.CompareRunID, "compare_run_id not found"); !ok {
			return
		}
	}

	start := time.Now()
	resp, err := h.reasoner.Answer(c.Request.Context(), rec, req.Question, req.Scope, compare)
	if err != nil {
		h.reasoningError(c, "llm.query", req.RunID, err)
		return
	}
	h.auditEvent(c, "llm.query", req.RunID, "success", map[string]any{
		"llm_used":    resp.LLMUsed,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	c.JSON(http.StatusOK, resp)
}

// ChallengeRun handles POST /v1/llm/challenge.
func (h *RCAHandler) ChallengeRun(c *gin.Context) {
	var req LLMChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	rec, ok := h.loadRun(c, req.RunID, "run_id not found")
	if !ok {
		return
	}
	resp, err := h.reasoner.Challenge(c.Request.Context(), rec, req.Scope)
	if err != nil {
		h.reasoningError(c, "llm.challenge", req.RunID, err)
		return
	}
	h.auditEvent(c, "llm.challenge", req.RunID, "success", map[string]any{"llm_used": resp.LLMUsed})
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Helpers
// =============================================================================

// loadRun fetches a record or writes 404/500 and returns false.
func (h *RCAHandler) loadRun(c *gin.Context, runID, notFound string) (*datatypes.RunRecord, bool) {
	rec, err := h.engine.Record(c.Request.Context(), runID)
	if errors.Is(err, workflow.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to load run", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return nil, false
	}
	return rec, true
}

func (h *RCAHandler) reasoningError(c *gin.Context, event, runID string, err error) {
	if errors.Is(err, reasoning.ErrNoResult) || errors.Is(err, reasoning.ErrNoContext) {
		h.auditEvent(c, event, runID, "failure", map[string]any{"reason": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.logger.Error("reasoning failed", "event", event, "run_id", runID, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "reasoning failed"})
}

func (h *RCAHandler) auditEvent(c *gin.Context, eventType, resourceID, outcome string, metadata map[string]any) {
	event := extensions.AuditEvent{
		EventType:  eventType,
		Timestamp:  time.Now().UTC(),
		UserID:     middleware.UserID(c),
		ResourceID: resourceID,
		Outcome:    outcome,
		Metadata:   metadata,
	}
	if err := h.audit.Log(c.Request.Context(), event); err != nil {
		h.logger.Warn("audit log failed", "event_type", eventType, "error", err)
	}
}
