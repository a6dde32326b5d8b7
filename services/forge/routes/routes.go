// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianForge/services/forge/engine"
	"github.com/AleutianAI/AleutianForge/services/forge/handlers"
	"github.com/AleutianAI/AleutianForge/services/forge/middleware"
)

// SetupRoutes wires every endpoint of the construction service.
func SetupRoutes(router *gin.Engine, manager *engine.Manager,
	authTokens map[string]string, rateLimit middleware.RateLimitConfig, logger *slog.Logger) {

	router.GET("/health", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	runHandler := handlers.NewRunHandler(manager, logger)

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(authTokens))
	v1.Use(middleware.RateLimitMiddleware(rateLimit))
	{
		v1.GET("/prompts", handlers.HandlePrompts(manager))

		runs := v1.Group("/runs")
		{
			runs.POST("", runHandler.StartRun)
			runs.GET("/:runId", runHandler.GetRun)
			runs.GET("/:runId/files", runHandler.GetRunFiles)
			runs.GET("/:runId/watch", handlers.HandleRunWatch(manager))
			runs.DELETE("/:runId", runHandler.CancelRun)
		}
	}
}
