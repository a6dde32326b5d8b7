// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/engine"
	"github.com/AleutianAI/AleutianForge/services/forge/middleware"
	"github.com/AleutianAI/AleutianForge/services/forge/ports"
	"github.com/AleutianAI/AleutianForge/services/forge/safety"
	"github.com/AleutianAI/AleutianForge/services/forge/sandbox"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Fakes
// =============================================================================

type stubPorts struct {
	fs      datatypes.FileSet
	genErr  error
	verdict datatypes.ValidationVerdict
}

func (s *stubPorts) Generate(ctx context.Context, in ports.GenerateInput) (datatypes.FileSet, error) {
	if s.genErr != nil {
		return datatypes.FileSet{}, s.genErr
	}
	return s.fs.Clone(), nil
}

func (s *stubPorts) Validate(ctx context.Context, in ports.ValidateInput) (datatypes.ValidationVerdict, error) {
	return s.verdict, nil
}

type stubExecutor struct{}

func (stubExecutor) Execute(ctx context.Context, spec sandbox.Spec) (datatypes.ExecutionResult, error) {
	return datatypes.ExecutionResult{CombinedOutput: "1\n2\n", Succeeded: true}, nil
}

func (stubExecutor) Name() string { return "stub" }

// =============================================================================
// Helpers
// =============================================================================

func acceptingStub() *stubPorts {
	return &stubPorts{
		fs: datatypes.FileSet{
			BuildRecipe: "FROM python:3.10-slim",
			Artifacts:   []datatypes.FileArtifact{{Name: "main.py", Content: "print(1)"}},
		},
		verdict: datatypes.ValidationVerdict{Accepted: true},
	}
}

func newTestRouter(t *testing.T, stub *stubPorts) (*gin.Engine, *engine.Manager) {
	t.Helper()
	manager, err := engine.NewManager(
		engine.ManagerConfig{
			Controller:  engine.ControllerConfig{MaxIterations: 3, StepTimeout: 5 * time.Second},
			BasePrompts: ports.DefaultPrompts(),
		},
		func(p ports.PromptConfig) (ports.Generator, ports.Validator, error) {
			return stub, stub, nil
		},
		stubExecutor{}, safety.NewScanner(true), nil, nil, nil,
	)
	require.NoError(t, err)

	router := gin.New()
	router.Use(middleware.AuthMiddleware(nil))
	h := NewRunHandler(manager, nil)
	router.POST("/v1/runs", h.StartRun)
	router.GET("/v1/runs/:runId", h.GetRun)
	router.GET("/v1/runs/:runId/files", h.GetRunFiles)
	router.DELETE("/v1/runs/:runId", h.CancelRun)
	router.GET("/v1/prompts", HandlePrompts(manager))
	router.GET("/health", HandleHealth)
	return router, manager
}

func postRun(t *testing.T, router *gin.Engine, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func runRequestBody() map[string]any {
	return map[string]any{
		"request_id":            "550e8400-e29b-41d4-a716-446655440000",
		"task_description":      "print numbers 1 and 2",
		"acceptance_conditions": "output contains 1 and 2",
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestStartRun_SynchronousReturnsTerminalResult(t *testing.T) {
	router, _ := newTestRouter(t, acceptingStub())

	w := postRun(t, router, runRequestBody())

	require.Equal(t, http.StatusOK, w.Code)
	var result datatypes.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, datatypes.RunStateSucceeded, result.State)
	assert.True(t, result.Accepted)
	assert.Equal(t, 1, result.IterationsUsed)
	require.NotNil(t, result.FinalFileSet)
}

func TestStartRun_AsyncReturnsAccepted(t *testing.T) {
	router, manager := newTestRouter(t, acceptingStub())

	body := runRequestBody()
	body["wait"] = false
	w := postRun(t, router, body)

	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted datatypes.StartRunAccepted
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.NotEmpty(t, accepted.RunID)

	result, err := manager.Wait(context.Background(), accepted.RunID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.RunStateSucceeded, result.State)
}

func TestStartRun_RejectsMissingRequestID(t *testing.T) {
	router, _ := newTestRouter(t, acceptingStub())

	body := runRequestBody()
	delete(body, "request_id")
	w := postRun(t, router, body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartRun_RejectsMalformedBody(t *testing.T) {
	router, _ := newTestRouter(t, acceptingStub())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewReader([]byte("{not json")))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRun_ReturnsSnapshot(t *testing.T) {
	router, manager := newTestRouter(t, acceptingStub())

	body := runRequestBody()
	body["wait"] = false
	w := postRun(t, router, body)
	var accepted datatypes.StartRunAccepted
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	_, err := manager.Wait(context.Background(), accepted.RunID)
	require.NoError(t, err)

	get := httptest.NewRecorder()
	router.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/v1/runs/"+accepted.RunID, nil))

	require.Equal(t, http.StatusOK, get.Code)
	var snap datatypes.RunSnapshot
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &snap))
	assert.Equal(t, datatypes.RunStateSucceeded, snap.State)
	require.NotNil(t, snap.Result)
}

func TestGetRun_UnknownIDReturns404(t *testing.T) {
	router, _ := newTestRouter(t, acceptingStub())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRunFiles_ServesTerminalFileSet(t *testing.T) {
	router, manager := newTestRouter(t, acceptingStub())

	body := runRequestBody()
	body["wait"] = false
	w := postRun(t, router, body)
	var accepted datatypes.StartRunAccepted
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	_, err := manager.Wait(context.Background(), accepted.RunID)
	require.NoError(t, err)

	files := httptest.NewRecorder()
	router.ServeHTTP(files, httptest.NewRequest(http.MethodGet, "/v1/runs/"+accepted.RunID+"/files", nil))

	require.Equal(t, http.StatusOK, files.Code)
	var fs datatypes.FileSet
	require.NoError(t, json.Unmarshal(files.Body.Bytes(), &fs))
	assert.Equal(t, "FROM python:3.10-slim", fs.BuildRecipe)
	require.Len(t, fs.Artifacts, 1)
}

func TestCancelRun_UnknownIDReturns404(t *testing.T) {
	router, _ := newTestRouter(t, acceptingStub())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/runs/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlePrompts_ReturnsConfiguredTemplates(t *testing.T) {
	router, _ := newTestRouter(t, acceptingStub())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/prompts", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.PromptsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ports.DefaultPrompts().GeneratePrompt, resp.GeneratePrompt)
	assert.Equal(t, ports.DefaultPrompts().ValidatePrompt, resp.ValidatePrompt)
}

func TestHandleHealth_ReportsOK(t *testing.T) {
	router, _ := newTestRouter(t, acceptingStub())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}
