// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the construction
// service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization
// header, compares it against the configured static tokens, and stores
// the resulting caller identity in the Gin context for downstream
// handlers. With no tokens configured, every request is authenticated
// as "anonymous", which keeps local single-user deployments working
// without any auth infrastructure.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

// callerIDKey is the context key for the authenticated caller identity.
const callerIDKey = "forge_caller_id"

// AnonymousCaller is the identity assigned when auth is disabled.
const AnonymousCaller = "anonymous"

// SetCallerID stores the authenticated caller identity in the Gin
// context.
func SetCallerID(c *gin.Context, callerID string) {
	c.Set(callerIDKey, callerID)
}

// GetCallerID retrieves the caller identity set by AuthMiddleware,
// defaulting to AnonymousCaller.
func GetCallerID(c *gin.Context) string {
	if v, exists := c.Get(callerIDKey); exists {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	return AnonymousCaller
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware creates a Gin middleware that authenticates requests
// against a static token-to-caller map.
//
// # Description
//
// Expects "Authorization: Bearer <token>". Token comparison is constant
// time. An empty map disables authentication entirely and assigns
// AnonymousCaller to every request.
//
// # Inputs
//
//   - tokens: Map of bearer token to caller identity. May be empty.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin.
//
// # Thread Safety
//
// Thread-safe. The token map must not be mutated after construction.
func AuthMiddleware(tokens map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(tokens) == 0 {
			SetCallerID(c, AnonymousCaller)
			c.Next()
			return
		}

		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		for candidate, caller := range tokens {
			if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
				SetCallerID(c, caller)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

// extractBearerToken parses "Authorization: Bearer <token>". The scheme
// is case-insensitive per RFC 7235; returns "" when missing or
// malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
