// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRCA/pkg/extensions"
	"github.com/AleutianAI/AleutianRCA/services/rca/handlers"
	"github.com/AleutianAI/AleutianRCA/services/rca/middleware"
)

// Options configures the route table.
type Options struct {
	// Extensions supplies auth and audit. Zero value means DefaultOptions.
	Extensions extensions.ServiceOptions

	// RateLimiter applies to /v1. Nil disables rate limiting.
	RateLimiter *middleware.RateLimiter

	// Metrics serves GET /metrics when non-nil.
	Metrics http.Handler

	Logger *slog.Logger
}

// SetupRoutes registers every RCA endpoint on router.
//
// /health and /metrics are open. Everything under /v1 is rate limited
// per client IP and then authenticated.
func SetupRoutes(router *gin.Engine, h *handlers.RCAHandler, opts Options) {
	if h == nil {
		panic("routes: nil RCAHandler")
	}
	if opts.Extensions.AuthProvider == nil {
		opts.Extensions.AuthProvider = extensions.DefaultOptions().AuthProvider
	}

	router.Use(middleware.RequestID(), middleware.RequestLogger(opts.Logger))

	router.GET("/health", handlers.HealthCheck)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	v1 := router.Group("/v1")
	v1.Use(middleware.RateLimit(opts.RateLimiter), middleware.AuthMiddleware(opts.Extensions.AuthProvider))
	{
		rca := v1.Group("/rca")
		{
			rca.POST("", h.SubmitRun)
			rca.GET("", h.ListRuns)
			rca.GET("/:runId", h.GetRun)
		}
		llm := v1.Group("/llm")
		{
			llm.POST("/query", h.QueryRun)
			llm.POST("/challenge", h.ChallengeRun)
		}
	}
}
