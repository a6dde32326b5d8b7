// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package forge provides the iterative software-construction service.
//
// This package contains the main Service type that coordinates all
// components: HTTP routing, the model ports, the sandbox backend, the
// run engine, artifact storage, and observability infrastructure.
//
// # Usage
//
//	cfg := forge.Config{Port: 12310, SandboxBackend: "docker"}
//	svc, err := forge.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package forge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianForge/services/forge/engine"
	"github.com/AleutianAI/AleutianForge/services/forge/middleware"
	"github.com/AleutianAI/AleutianForge/services/forge/observability"
	"github.com/AleutianAI/AleutianForge/services/forge/ports"
	"github.com/AleutianAI/AleutianForge/services/forge/routes"
	"github.com/AleutianAI/AleutianForge/services/forge/safety"
	"github.com/AleutianAI/AleutianForge/services/forge/sandbox"
	"github.com/AleutianAI/AleutianForge/services/forge/storage"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the construction service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds service configuration options.
//
// All fields have sensible defaults except the OpenAI credentials,
// which are required.
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	GinMode string

	// OpenAIAPIKey authenticates the model ports. Required.
	OpenAIAPIKey string

	// OpenAIModel selects the chat model. Default: "gpt-4o-2024-08-06"
	OpenAIModel string

	// OpenAIBaseURL overrides the API endpoint for compatible servers.
	OpenAIBaseURL string

	// PromptFile is an optional YAML file overriding the built-in
	// prompt templates.
	PromptFile string

	// SandboxBackend selects the executor: "docker", "podman", "remote".
	// Default: "docker"
	SandboxBackend string

	// RemoteRunnerURL is the runner service for the "remote" backend.
	RemoteRunnerURL string

	// RemoteRunnerToken authenticates against the remote runner.
	RemoteRunnerToken string

	// SandboxCPUs limits container CPU (e.g. "1.5"). Empty means no limit.
	SandboxCPUs string

	// SandboxMemoryMB limits container memory. Zero means no limit.
	SandboxMemoryMB int

	// MaxConcurrentExecutions bounds simultaneous sandbox runs. Default: 4
	MaxConcurrentExecutions int64

	// MaxIterations is the default iteration budget per run. Default: 20
	MaxIterations int

	// StepTimeout bounds each port call and sandbox cycle. Default: 300s
	StepTimeout time.Duration

	// SnapshotIterations persists the FileSet after every iteration.
	SnapshotIterations bool

	// StorageBackend selects artifact persistence: "local", "minio",
	// "none". Default: "local"
	StorageBackend string

	// ArtifactDir is the root for the "local" storage backend.
	// Default: "./artifacts"
	ArtifactDir string

	// Minio configures the "minio" storage backend.
	Minio storage.MinioConfig

	// SecurityScreening enables the pre-execution deny-pattern scanner.
	// Default: true (disable explicitly for trusted-input deployments).
	SecurityScreeningDisabled bool

	// AuthTokens maps bearer tokens to caller identities. Empty disables
	// authentication.
	AuthTokens map[string]string

	// RateLimit configures per-caller request limiting.
	RateLimit middleware.RateLimitConfig

	// OTelEndpoint is the OpenTelemetry collector endpoint. Empty
	// disables tracing.
	OTelEndpoint string

	// DisableMetrics turns off Prometheus run metrics recording.
	// Default: false (metrics enabled).
	DisableMetrics bool
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-2024-08-06"
	}
	if cfg.SandboxBackend == "" {
		cfg.SandboxBackend = "docker"
	}
	if cfg.MaxConcurrentExecutions <= 0 {
		cfg.MaxConcurrentExecutions = 4
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = engine.DefaultMaxIterations
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = engine.DefaultStepTimeout
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "local"
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = "./artifacts"
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// Thread-safe after construction; all fields are read-only once New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	manager       *engine.Manager
	store         storage.ArtifactStore
	tracerCleanup func(context.Context)
}

var _ Service = (*service)(nil)

// =============================================================================
// Constructor
// =============================================================================

// New creates a construction Service with the given configuration.
//
// # Description
//
// Initializes all components in order: tracing, metrics, prompts,
// storage, the sandbox backend, the scanner, and the run manager, then
// wires the HTTP routes. The storage and sandbox backends are selected
// explicitly by configuration and logged; there is no runtime probing.
//
// Outputs:
//
//	Service - Ready-to-run service.
//	error   - Non-nil if any component fails to initialize.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	if s.config.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if s.config.OTelEndpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	var metrics *observability.RunMetrics
	if !s.config.DisableMetrics {
		metrics = observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for construction runs")
	}

	prompts, err := s.initPrompts()
	if err != nil {
		return nil, err
	}

	if err := s.initStorage(); err != nil {
		return nil, err
	}

	executor, err := s.initExecutor()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize sandbox backend: %w", err)
	}

	scanner := safety.NewScanner(!s.config.SecurityScreeningDisabled)
	slog.Info("Security screening configured", "enabled", scanner.Enabled())

	factory := engine.OpenAIPortFactory(ports.OpenAIConfig{
		APIKey:  s.config.OpenAIAPIKey,
		Model:   s.config.OpenAIModel,
		BaseURL: s.config.OpenAIBaseURL,
	})

	s.manager, err = engine.NewManager(
		engine.ManagerConfig{
			Controller: engine.ControllerConfig{
				MaxIterations:      s.config.MaxIterations,
				StepTimeout:        s.config.StepTimeout,
				SnapshotIterations: s.config.SnapshotIterations,
			},
			BasePrompts: prompts,
		},
		factory, executor, scanner, s.store, metrics, slog.Default(),
	)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize run manager: %w", err)
	}

	s.initRouter()
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting forge server",
		"port", s.config.Port,
		"sandbox_backend", s.config.SandboxBackend,
		"storage_backend", s.config.StorageBackend,
		"max_iterations", s.config.MaxIterations,
	)
	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initPrompts loads the base prompt templates.
func (s *service) initPrompts() (ports.PromptConfig, error) {
	if s.config.PromptFile == "" {
		return ports.DefaultPrompts(), nil
	}
	prompts, err := ports.LoadPromptFile(s.config.PromptFile)
	if err != nil {
		return ports.PromptConfig{}, fmt.Errorf("failed to load prompt file: %w", err)
	}
	slog.Info("Loaded prompt templates", "path", s.config.PromptFile)
	return prompts, nil
}

// initStorage selects the artifact store per configuration. The choice
// is explicit and logged; "none" disables persistence entirely.
func (s *service) initStorage() error {
	switch s.config.StorageBackend {
	case "local":
		store, err := storage.NewLocalStore(s.config.ArtifactDir)
		if err != nil {
			return fmt.Errorf("failed to initialize local artifact store: %w", err)
		}
		s.store = store
	case "minio":
		store, err := storage.NewMinioStore(s.config.Minio)
		if err != nil {
			return fmt.Errorf("failed to initialize minio artifact store: %w", err)
		}
		s.store = store
	case "none":
		slog.Warn("Artifact persistence is disabled; final filesets are only available while the run is resident")
	default:
		return fmt.Errorf("unknown storage backend %q (want local, minio, or none)", s.config.StorageBackend)
	}
	return nil
}

// initExecutor selects the sandbox backend per configuration.
func (s *service) initExecutor() (sandbox.Executor, error) {
	switch s.config.SandboxBackend {
	case "docker", "podman":
		slog.Info("Using container engine sandbox backend", "engine", s.config.SandboxBackend)
		return sandbox.NewDockerExecutor(sandbox.DockerConfig{
			Engine:        s.config.SandboxBackend,
			StepTimeout:   s.config.StepTimeout,
			CPUs:          s.config.SandboxCPUs,
			MemoryMB:      s.config.SandboxMemoryMB,
			MaxConcurrent: s.config.MaxConcurrentExecutions,
		}, slog.Default()), nil
	case "remote":
		slog.Info("Using remote sandbox backend", "url", s.config.RemoteRunnerURL)
		return sandbox.NewRemoteExecutor(sandbox.RemoteConfig{
			BaseURL:     s.config.RemoteRunnerURL,
			AuthToken:   s.config.RemoteRunnerToken,
			StepTimeout: s.config.StepTimeout,
		}, slog.Default())
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q (want docker, podman, or remote)", s.config.SandboxBackend)
	}
}

// initTracer initializes OpenTelemetry distributed tracing.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("forge-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	if s.config.OTelEndpoint != "" {
		s.router.Use(otelgin.Middleware("forge-service"))
	}

	routes.SetupRoutes(s.router, s.manager, s.config.AuthTokens, s.config.RateLimit, slog.Default())
}

// cleanup releases resources held by the service.
func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
