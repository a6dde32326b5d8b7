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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianForge/services/forge/engine"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleRunWatch streams a run's state transitions over a websocket.
//
// # Description
//
// Upgrades GET /v1/runs/:runId/watch, sends the current snapshot
// immediately, then forwards every transition until the run reaches a
// terminal state or the client disconnects. The terminal snapshot
// carries the full RunResult.
func HandleRunWatch(manager *engine.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("runId")

		snap, err := manager.Snapshot(runID)
		if err != nil {
			if errors.Is(err, engine.ErrRunNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
			return
		}

		events, cancel, err := manager.Subscribe(runID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		defer cancel()

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("Watch client connected", "run_id", runID)

		if err := sendJSON(ws, snap); err != nil {
			return
		}
		if snap.Result != nil {
			return
		}

		// Read pump: detect client disconnect.
		disconnected := make(chan struct{})
		go func() {
			defer close(disconnected)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case update, ok := <-events:
				if !ok {
					return
				}
				if err := sendJSON(ws, update); err != nil {
					return
				}
				if update.Result != nil {
					slog.Info("Watch stream completed",
						"run_id", runID,
						"state", string(update.State),
					)
					return
				}
			case <-disconnected:
				slog.Info("Watch client disconnected", "run_id", runID)
				return
			}
		}
	}
}
