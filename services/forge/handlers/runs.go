// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the HTTP handlers for the construction
// service.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/engine"
	"github.com/AleutianAI/AleutianForge/services/forge/middleware"
	"github.com/AleutianAI/AleutianForge/services/forge/storage"
)

// RunHandler serves the run endpoints.
type RunHandler struct {
	manager *engine.Manager
	logger  *slog.Logger
}

// NewRunHandler creates the run endpoint handler.
func NewRunHandler(manager *engine.Manager, logger *slog.Logger) *RunHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunHandler{manager: manager, logger: logger}
}

// StartRun handles POST /v1/runs.
//
// # Description
//
// Validates the request, registers the run, and either blocks until the
// terminal result (default, matching the synchronous workflow contract)
// or returns 202 with the run ID when wait=false. A client disconnect
// during a synchronous wait does not stop the run; the result stays
// retrievable via GET /v1/runs/:runId.
func (h *RunHandler) StartRun(c *gin.Context) {
	var req datatypes.StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caller := middleware.GetCallerID(c)
	runID, _, err := h.manager.StartRun(caller, &req)
	if err != nil {
		h.logger.Error("Failed to start run",
			slog.String("caller_id", caller),
			slog.String("request_id", req.RequestID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start run"})
		return
	}

	if !req.WaitForResult() {
		c.JSON(http.StatusAccepted, datatypes.StartRunAccepted{RunID: runID})
		return
	}

	result, err := h.manager.Wait(c.Request.Context(), runID)
	if err != nil {
		// Client went away; the run keeps going in the background.
		h.logger.Info("Synchronous caller disconnected",
			slog.String("run_id", runID),
		)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetRun handles GET /v1/runs/:runId.
func (h *RunHandler) GetRun(c *gin.Context) {
	snap, err := h.manager.Snapshot(c.Param("runId"))
	if err != nil {
		if errors.Is(err, engine.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetRunFiles handles GET /v1/runs/:runId/files.
//
// Serves the terminal FileSet: from the live result when the run is
// known to this instance, falling back to the persisted manifest.
func (h *RunHandler) GetRunFiles(c *gin.Context) {
	runID := c.Param("runId")

	snap, err := h.manager.Snapshot(runID)
	if err == nil {
		if snap.Result == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "run has not reached a terminal state"})
			return
		}
		if snap.Result.FinalFileSet == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "run produced no fileset"})
			return
		}
		c.JSON(http.StatusOK, snap.Result.FinalFileSet)
		return
	}

	store := h.manager.Store()
	if store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	fs, err := storage.LoadFileSet(c.Request.Context(), store, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		h.logger.Error("Failed to load persisted fileset",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load fileset"})
		return
	}
	c.JSON(http.StatusOK, fs)
}

// CancelRun handles DELETE /v1/runs/:runId.
func (h *RunHandler) CancelRun(c *gin.Context) {
	runID := c.Param("runId")
	if err := h.manager.Cancel(runID); err != nil {
		if errors.Is(err, engine.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel run"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": "canceling"})
}
