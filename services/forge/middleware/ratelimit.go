// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// =============================================================================
// Rate Limiting
// =============================================================================

// RateLimitConfig configures per-caller request limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per caller. Zero or
	// negative disables limiting.
	RequestsPerSecond float64

	// Burst is the bucket depth per caller.
	Burst int
}

// callerLimiters holds one token bucket per caller identity.
type callerLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func (cl *callerLimiters) get(caller string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	lim, ok := cl.limiters[caller]
	if !ok {
		lim = rate.NewLimiter(cl.rps, cl.burst)
		cl.limiters[caller] = lim
	}
	return lim
}

// RateLimitMiddleware creates a Gin middleware limiting request rate
// per authenticated caller. Run AuthMiddleware first so the caller
// identity is set.
//
// # Thread Safety
//
// Thread-safe.
func RateLimitMiddleware(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limiters := &callerLimiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.Burst,
	}

	return func(c *gin.Context) {
		if !limiters.get(GetCallerID(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
