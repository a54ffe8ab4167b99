// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AuditEvent records a security-relevant action such as a run submission
// or an LLM query over stored results.
type AuditEvent struct {
	// EventType categorizes the event, e.g. "rca.submit", "llm.query".
	EventType string

	Timestamp time.Time

	// UserID is taken from AuthInfo.UserID.
	UserID string

	// ResourceID is typically a run id.
	ResourceID string

	// Outcome is "success", "failure" or "denied".
	Outcome string

	Metadata map[string]any
}

// AuditLogger persists audit events. Log must not block the request path
// for long; implementations buffer if their sink is slow.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards events.
type NopAuditLogger struct{}

func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}

// SlogAuditLogger writes events as structured log records.
type SlogAuditLogger struct {
	Logger *slog.Logger
}

// Log emits the event at INFO under the "audit" message.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	logger.InfoContext(ctx, "audit",
		"event_type", event.EventType,
		"user_id", event.UserID,
		"resource_id", event.ResourceID,
		"outcome", event.Outcome,
		"timestamp", event.Timestamp,
		"metadata", event.Metadata,
	)
	return nil
}

// MemoryAuditLogger keeps events in memory. Intended for tests.
type MemoryAuditLogger struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (l *MemoryAuditLogger) Log(_ context.Context, event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (l *MemoryAuditLogger) Events() []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
)
