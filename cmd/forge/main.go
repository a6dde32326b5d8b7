// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command forge starts the AleutianForge construction HTTP server.
//
// This is the main entry point for the containerized forge service. It
// reads configuration from environment variables (optionally seeded
// from a .env file) and starts the server.
//
// # Environment Variables
//
//   - FORGE_PORT: HTTP server port (default: 12310)
//   - OPENAI_API_KEY: Model API key (required)
//   - OPENAI_MODEL: Chat model name (default: gpt-4o-2024-08-06)
//   - OPENAI_BASE_URL: Override endpoint for compatible servers (optional)
//   - FORGE_SANDBOX_BACKEND: docker, podman, or remote (default: docker)
//   - FORGE_REMOTE_RUNNER_URL: Runner endpoint for the remote backend
//   - FORGE_REMOTE_RUNNER_TOKEN: Bearer token for the remote runner
//   - FORGE_SANDBOX_CPUS: Container CPU limit, e.g. "1.5" (optional)
//   - FORGE_SANDBOX_MEMORY_MB: Container memory limit (optional)
//   - FORGE_MAX_CONCURRENT: Simultaneous sandbox executions (default: 4)
//   - FORGE_MAX_ITERATIONS: Default iteration budget per run (default: 20)
//   - FORGE_STEP_TIMEOUT_SECONDS: Per-step timeout (default: 300)
//   - FORGE_SNAPSHOT_ITERATIONS: Persist the fileset every iteration (default: false)
//   - FORGE_STORAGE_BACKEND: local, minio, or none (default: local)
//   - FORGE_ARTIFACT_DIR: Root for the local backend (default: ./artifacts)
//   - MINIO_ENDPOINT / MINIO_ACCESS_KEY / MINIO_SECRET_KEY / MINIO_BUCKET:
//     MinIO settings for the minio backend
//   - FORGE_PROMPT_FILE: YAML file overriding the prompt templates (optional)
//   - FORGE_DISABLE_SCREENING: Disable the deny-pattern scanner (default: false)
//   - FORGE_DISABLE_METRICS: Disable Prometheus run metrics (default: false)
//   - FORGE_AUTH_TOKENS: Comma-separated caller=token pairs (optional)
//   - FORGE_RATE_LIMIT_RPS / FORGE_RATE_LIMIT_BURST: Per-caller limiting (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
//
// # Usage
//
//	# Build
//	go build -o forge ./cmd/forge
//
//	# Run
//	OPENAI_API_KEY=sk-... ./forge
//
//	# Or via container
//	podman-compose up forge
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/AleutianAI/AleutianForge/services/forge/middleware"
	"github.com/AleutianAI/AleutianForge/services/forge/storage"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Seed environment from a local .env when present
	_ = godotenv.Load()

	// Build configuration from environment variables
	cfg := forge.Config{
		Port:              getEnvInt("FORGE_PORT", 12310),
		GinMode:           os.Getenv("GIN_MODE"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       getEnvString("OPENAI_MODEL", "gpt-4o-2024-08-06"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		PromptFile:        os.Getenv("FORGE_PROMPT_FILE"),
		SandboxBackend:    getEnvString("FORGE_SANDBOX_BACKEND", "docker"),
		RemoteRunnerURL:   os.Getenv("FORGE_REMOTE_RUNNER_URL"),
		RemoteRunnerToken: os.Getenv("FORGE_REMOTE_RUNNER_TOKEN"),
		SandboxCPUs:       os.Getenv("FORGE_SANDBOX_CPUS"),
		SandboxMemoryMB:   getEnvInt("FORGE_SANDBOX_MEMORY_MB", 0),

		MaxConcurrentExecutions: int64(getEnvInt("FORGE_MAX_CONCURRENT", 4)),
		MaxIterations:           getEnvInt("FORGE_MAX_ITERATIONS", 20),
		StepTimeout:             time.Duration(getEnvInt("FORGE_STEP_TIMEOUT_SECONDS", 300)) * time.Second,
		SnapshotIterations:      getEnvBool("FORGE_SNAPSHOT_ITERATIONS", false),

		StorageBackend: getEnvString("FORGE_STORAGE_BACKEND", "local"),
		ArtifactDir:    getEnvString("FORGE_ARTIFACT_DIR", "./artifacts"),
		Minio: storage.MinioConfig{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    getEnvString("MINIO_BUCKET", "forge-artifacts"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},

		SecurityScreeningDisabled: getEnvBool("FORGE_DISABLE_SCREENING", false),
		DisableMetrics:            getEnvBool("FORGE_DISABLE_METRICS", false),
		AuthTokens:                parseAuthTokens(os.Getenv("FORGE_AUTH_TOKENS")),
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: float64(getEnvInt("FORGE_RATE_LIMIT_RPS", 0)),
			Burst:             getEnvInt("FORGE_RATE_LIMIT_BURST", 0),
		},

		OTelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	slog.Info("Starting forge",
		"port", cfg.Port,
		"sandbox_backend", cfg.SandboxBackend,
		"storage_backend", cfg.StorageBackend,
		"model", cfg.OpenAIModel,
	)

	svc, err := forge.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create forge service: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Forge error: %v", err)
	}
}

// parseAuthTokens turns "alice=tok1,bob=tok2" into a token->caller map.
func parseAuthTokens(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		caller, token, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || caller == "" || token == "" {
			continue
		}
		tokens[token] = caller
	}
	return tokens
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
