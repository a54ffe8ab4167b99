// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the RCA service.
//
// # Authentication Flow
//
// The auth middleware reads the API key from the X-API-Key header (or a
// bearer token), validates it with the configured AuthProvider, and stores
// the resulting AuthInfo in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	RequestID ─► RequestLogger ─► RateLimit ─► Auth
//	                                            │
//	                                            ├─► provider.Validate(ctx, key)
//	                                            │
//	                                            └─► SetAuthInfo
//	                                                    │
//	                                                    ▼
//	                                                Handler (GetAuthInfo)
//
// # Open Source Behavior
//
// With NopAuthProvider (no API key configured) every request is accepted
// as "local-user".
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRCA/pkg/extensions"
)

// APIKeyHeader carries the service API key.
const APIKeyHeader = "X-API-Key"

// ErrMsgUnauthorized is returned to callers with a missing or wrong key.
const ErrMsgUnauthorized = "Invalid or missing API key."

// authInfoKey is the Gin context key for AuthInfo.
const authInfoKey = "aleutian_rca_auth_info"

// SetAuthInfo stores the authenticated caller in the Gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated caller from the Gin context.
//
// # Outputs
//
//   - *extensions.AuthInfo: Caller info, or nil if the request was not
//     authenticated or the stored value has the wrong type.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// UserID returns the authenticated caller's id, or "anonymous".
func UserID(c *gin.Context) string {
	if info := GetAuthInfo(c); info != nil && info.UserID != "" {
		return info.UserID
	}
	return "anonymous"
}

// AuthMiddleware validates the request's API key with provider.
//
// # Description
//
// Rejects the request with 401 when the provider returns an error. Both
// ErrUnauthorized and provider failures produce the same body so a caller
// cannot probe which one happened.
//
// # Inputs
//
//   - provider: Validates keys. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware that calls SetAuthInfo on success.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo, err := provider.Validate(c.Request.Context(), extractAPIKey(c))
		if err != nil {
			if !errors.Is(err, extensions.ErrUnauthorized) {
				_ = c.Error(err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMsgUnauthorized})
			return
		}
		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// extractAPIKey prefers X-API-Key and falls back to "Authorization: Bearer".
func extractAPIKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(APIKeyHeader)); key != "" {
		return key
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
