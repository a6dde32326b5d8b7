// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package forge

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Config Tests
// =============================================================================

// TestApplyConfigDefaults_AllDefaults verifies default values are applied.
func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	// Arrange
	cfg := Config{}

	// Act
	result := applyConfigDefaults(cfg)

	// Assert
	assert.Equal(t, 12310, result.Port, "default port should be 12310")
	assert.Equal(t, "docker", result.SandboxBackend, "default sandbox backend should be docker")
	assert.Equal(t, "local", result.StorageBackend, "default storage backend should be local")
	assert.Equal(t, "./artifacts", result.ArtifactDir, "default artifact dir should be ./artifacts")
	assert.Equal(t, 20, result.MaxIterations, "default iteration budget should be 20")
	assert.Equal(t, 300*time.Second, result.StepTimeout, "default step timeout should be 300s")
	assert.Equal(t, int64(4), result.MaxConcurrentExecutions)
	assert.False(t, result.DisableMetrics, "metrics should be enabled by default")
}

// TestApplyConfigDefaults_PreservesCustomValues verifies custom values are not overwritten.
func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	// Arrange
	cfg := Config{
		Port:           8080,
		SandboxBackend: "remote",
		StorageBackend: "minio",
		MaxIterations:  5,
		StepTimeout:    30 * time.Second,
		DisableMetrics: true,
	}

	// Act
	result := applyConfigDefaults(cfg)

	// Assert
	assert.Equal(t, 8080, result.Port, "custom port should be preserved")
	assert.Equal(t, "remote", result.SandboxBackend, "custom sandbox backend should be preserved")
	assert.Equal(t, "minio", result.StorageBackend, "custom storage backend should be preserved")
	assert.Equal(t, 5, result.MaxIterations, "custom iteration budget should be preserved")
	assert.Equal(t, 30*time.Second, result.StepTimeout, "custom step timeout should be preserved")
	assert.True(t, result.DisableMetrics, "disabled metrics should stay disabled")
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}

func TestNew_RejectsUnknownStorageBackend(t *testing.T) {
	_, err := New(Config{
		OpenAIAPIKey:   "sk-test",
		StorageBackend: "floppy",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}

func TestNew_RejectsUnknownSandboxBackend(t *testing.T) {
	_, err := New(Config{
		OpenAIAPIKey:   "sk-test",
		SandboxBackend: "bare-metal",
		StorageBackend: "none",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sandbox backend")
}

func TestNew_RemoteBackendRequiresRunnerURL(t *testing.T) {
	_, err := New(Config{
		OpenAIAPIKey:   "sk-test",
		SandboxBackend: "remote",
		StorageBackend: "none",
	})

	assert.Error(t, err)
}

// TestNew_WiresRoutes builds a full service against a temp artifact dir
// and checks the HTTP surface answers.
func TestNew_WiresRoutes(t *testing.T) {
	svc, err := New(Config{
		GinMode:      gin.TestMode,
		OpenAIAPIKey: "sk-test",
		ArtifactDir:  t.TempDir(),
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/prompts", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
