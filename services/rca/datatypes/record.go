// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Run Status
// =============================================================================

// RunStatus is a lifecycle state of a run.
//
//	queued -> running -> (finance_completed ->)? synthesizing -> scope_completed | completed
//
// failed is reachable from any non-terminal state.
type RunStatus string

const (
	StatusQueued           RunStatus = "queued"
	StatusRunning          RunStatus = "running"
	StatusFinanceCompleted RunStatus = "finance_completed"
	StatusSynthesizing     RunStatus = "synthesizing"
	StatusScopeCompleted   RunStatus = "scope_completed"
	StatusCompleted        RunStatus = "completed"
	StatusFailed           RunStatus = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []RunStatus{
	StatusQueued, StatusRunning, StatusFinanceCompleted, StatusSynthesizing,
	StatusScopeCompleted, StatusCompleted, StatusFailed,
}

// IsTerminal reports whether no further transition can follow.
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// =============================================================================
// Run Record
// =============================================================================

// RunRecord is the durable, pollable state of one run.
//
// Payload and Result are pointers so "absent" is distinguishable from
// "empty": the store keeps the stored value when the incoming one is nil.
type RunRecord struct {
	RunID     string     `json:"run_id"`
	Status    RunStatus  `json:"status"`
	Message   string     `json:"message"`
	Payload   *RCAJob    `json:"payload,omitempty"`
	Result    *RunResult `json:"result"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunStatusView is what the lifecycle API returns for a single run.
type RunStatusView struct {
	RunID     string     `json:"run_id"`
	Status    RunStatus  `json:"status"`
	Message   string     `json:"message"`
	Result    *RunResult `json:"result"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// View projects a record into its API shape.
func (r *RunRecord) View() RunStatusView {
	return RunStatusView{
		RunID:     r.RunID,
		Status:    r.Status,
		Message:   r.Message,
		Result:    r.Result,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// SubmitResponse is returned when a run is accepted.
type SubmitResponse struct {
	RunID   string    `json:"run_id"`
	Status  RunStatus `json:"status"`
	Message string    `json:"message"`
}

// RunList is a page of run records plus the total matching count.
type RunList struct {
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
	Items  []*RunRecord `json:"items"`
}
