// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// ErrMsgRateLimited is returned with 429 responses.
const ErrMsgRateLimited = "Rate limit exceeded. Please retry later."

// defaultMaxClients bounds how many per-client limiters are remembered.
const defaultMaxClients = 4096

// RateLimiter hands out one token bucket per client IP.
//
// Each bucket allows Requests calls per Window with a burst of Requests,
// refilling evenly. Least recently seen clients are evicted once
// MaxClients buckets exist; an evicted client starts with a full bucket.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients *lru.Cache[string, *rate.Limiter]
}

// NewRateLimiter builds a limiter. It returns nil (meaning "no limit")
// when requests or window is not positive.
func NewRateLimiter(requests int, window time.Duration, maxClients int) *RateLimiter {
	if requests <= 0 || window <= 0 {
		return nil
	}
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}
	clients, err := lru.New[string, *rate.Limiter](maxClients)
	if err != nil {
		return nil
	}
	return &RateLimiter{
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		clients: clients,
	}
}

// Allow reports whether client may make a request now.
func (l *RateLimiter) Allow(client string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.clients.Get(client)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.clients.Add(client, limiter)
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// RateLimit rejects requests over the per-IP budget with 429. A nil
// limiter passes everything through.
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": ErrMsgRateLimited})
			return
		}
		c.Next()
	}
}
