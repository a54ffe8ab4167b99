// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized is returned when a credential is missing or invalid.
// HTTP handlers map this to 401.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo describes the caller behind a validated credential.
type AuthInfo struct {
	// UserID identifies the caller in audit events.
	UserID string

	// Roles granted to the caller. The RCA service only checks presence.
	Roles []string
}

// HasRole reports whether the caller holds role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates a credential presented by a caller.
//
// # Description
//
// Implementations must be safe for concurrent use; the middleware calls
// Validate on every request. An empty token is passed through so the
// provider decides whether anonymous access is allowed.
//
// # Outputs
//
//   - *AuthInfo: the authenticated caller on success.
//   - error: ErrUnauthorized (possibly wrapped) on rejection.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every request as a local admin.
// Used when no API key is configured.
type NopAuthProvider struct{}

func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: "local-user", Roles: []string{"admin"}}, nil
}

// APIKeyAuthProvider accepts exactly one shared API key.
type APIKeyAuthProvider struct {
	key []byte
}

// NewAPIKeyAuthProvider returns a provider matching key. An empty key
// yields a provider that rejects everything.
func NewAPIKeyAuthProvider(key string) *APIKeyAuthProvider {
	return &APIKeyAuthProvider{key: []byte(key)}
}

// Validate compares token against the configured key in constant time.
func (p *APIKeyAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if len(p.key) == 0 || token == "" {
		return nil, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(p.key, []byte(token)) != 1 {
		return nil, ErrUnauthorized
	}
	return &AuthInfo{UserID: "api-key", Roles: []string{"operator"}}, nil
}

var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*APIKeyAuthProvider)(nil)
)
