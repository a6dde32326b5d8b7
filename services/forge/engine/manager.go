// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/observability"
	"github.com/AleutianAI/AleutianForge/services/forge/ports"
	"github.com/AleutianAI/AleutianForge/services/forge/safety"
	"github.com/AleutianAI/AleutianForge/services/forge/sandbox"
	"github.com/AleutianAI/AleutianForge/services/forge/storage"
)

// =============================================================================
// Errors
// =============================================================================

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// =============================================================================
// Manager
// =============================================================================

// PortFactory builds the model ports for one run's prompt
// configuration. Injection point for tests and alternate providers.
type PortFactory func(prompts ports.PromptConfig) (ports.Generator, ports.Validator, error)

// OpenAIPortFactory builds production ports against the configured
// OpenAI-compatible endpoint.
func OpenAIPortFactory(cfg ports.OpenAIConfig) PortFactory {
	return func(prompts ports.PromptConfig) (ports.Generator, ports.Validator, error) {
		p, err := ports.NewOpenAIPorts(cfg, prompts)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	}
}

// DefaultTerminalRetention is how long a terminal run's handle stays
// resident for snapshot and result queries before eviction.
const DefaultTerminalRetention = time.Hour

// ManagerConfig wires the run manager.
type ManagerConfig struct {
	// Controller carries the per-run loop defaults.
	Controller ControllerConfig

	// BasePrompts are the configured prompt templates. Per-run overrides
	// are layered on top; the base is never mutated.
	BasePrompts ports.PromptConfig

	// TerminalRetention bounds how long a terminal run stays in the
	// registry. Past it the handle is evicted and only the persisted
	// fileset remains retrievable. Zero uses DefaultTerminalRetention;
	// negative retains forever.
	TerminalRetention time.Duration
}

// Manager registers runs, drives each through a controller, and serves
// snapshots and results.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	cfg      ManagerConfig
	factory  PortFactory
	executor sandbox.Executor
	scanner  *safety.Scanner
	store    storage.ArtifactStore
	metrics  *observability.RunMetrics
	logger   *slog.Logger
	broker   *Broker

	mu   sync.RWMutex
	runs map[string]*runHandle
}

// runHandle tracks one run's live state and terminal result.
type runHandle struct {
	mu     sync.RWMutex
	run    datatypes.WorkflowRun
	result *datatypes.RunResult
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a run manager.
//
// Inputs:
//
//	cfg      - Loop defaults and base prompts.
//	factory  - Port constructor per run.
//	executor - Sandbox backend, shared across runs.
//	scanner  - Security screening; nil disables screening.
//	store    - Artifact persistence; nil disables persistence.
//	metrics  - Run metrics; nil disables metrics.
//	logger   - Structured logger; nil uses slog.Default().
func NewManager(
	cfg ManagerConfig,
	factory PortFactory,
	executor sandbox.Executor,
	scanner *safety.Scanner,
	store storage.ArtifactStore,
	metrics *observability.RunMetrics,
	logger *slog.Logger,
) (*Manager, error) {
	if factory == nil {
		return nil, fmt.Errorf("port factory is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Controller = applyControllerDefaults(cfg.Controller)
	if cfg.TerminalRetention == 0 {
		cfg.TerminalRetention = DefaultTerminalRetention
	}
	return &Manager{
		cfg:      cfg,
		factory:  factory,
		executor: executor,
		scanner:  scanner,
		store:    store,
		metrics:  metrics,
		logger:   logger,
		broker:   NewBroker(),
		runs:     make(map[string]*runHandle),
	}, nil
}

// StartRun registers a run and launches its loop in the background.
//
// # Description
//
// The run's lifetime is detached from the submitting request: the loop
// keeps going after the HTTP client disconnects, and only Cancel or a
// terminal state stops it. Per-run prompt overrides and the iteration
// budget are bound here, so concurrent runs never share mutable prompt
// state.
//
// Outputs:
//
//	string          - The run ID.
//	<-chan struct{} - Closed when the run reaches a terminal state.
//	error           - Non-nil when the ports cannot be constructed.
func (m *Manager) StartRun(callerID string, req *datatypes.StartRunRequest) (string, <-chan struct{}, error) {
	prompts := m.cfg.BasePrompts.WithOverrides(req.Prompts)
	generator, validator, err := m.factory(prompts)
	if err != nil {
		return "", nil, fmt.Errorf("construct ports: %w", err)
	}

	ctrlCfg := m.cfg.Controller
	if req.MaxIterations > 0 {
		ctrlCfg.MaxIterations = req.MaxIterations
	}
	ctrlCfg.AllowNetwork = req.AllowNetwork

	now := time.Now()
	run := datatypes.WorkflowRun{
		ID:                   datatypes.NewRunID(callerID, now),
		CallerID:             callerID,
		TaskDescription:      req.TaskDescription,
		AcceptanceConditions: req.AcceptanceConditions,
		State:                datatypes.RunStateSeeding,
		StartedAt:            now,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	handle := &runHandle{
		run:    run,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.runs[run.ID] = handle
	m.mu.Unlock()

	onChange := func(r *datatypes.WorkflowRun) {
		handle.mu.Lock()
		handle.run = *r
		handle.mu.Unlock()
		m.broker.Publish(datatypes.RunSnapshot{
			RunID:     r.ID,
			State:     r.State,
			Iteration: r.Iteration,
		})
	}

	controller := NewController(ctrlCfg, generator, validator, m.executor,
		m.scanner, m.store, m.metrics, m.logger, onChange)

	m.logger.Info("Run accepted",
		slog.String("run_id", run.ID),
		slog.String("caller_id", callerID),
		slog.String("request_id", req.RequestID),
		slog.Int("max_iterations", ctrlCfg.MaxIterations),
		slog.Bool("allow_network", ctrlCfg.AllowNetwork),
	)

	go func() {
		defer cancel()
		result := controller.Execute(runCtx, &run)

		handle.mu.Lock()
		handle.run = run
		handle.result = &result
		handle.mu.Unlock()

		m.broker.Publish(datatypes.RunSnapshot{
			RunID:     run.ID,
			State:     result.State,
			Iteration: run.Iteration,
			Result:    &result,
		})
		close(handle.done)

		// Terminal handles are evicted after the retention window so the
		// registry stays bounded; the persisted fileset outlives them.
		if m.cfg.TerminalRetention > 0 {
			time.AfterFunc(m.cfg.TerminalRetention, func() { m.evict(run.ID) })
		}
	}()

	return run.ID, handle.done, nil
}

// Snapshot returns the live view of a run.
func (m *Manager) Snapshot(runID string) (datatypes.RunSnapshot, error) {
	handle, ok := m.handle(runID)
	if !ok {
		return datatypes.RunSnapshot{}, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}

	handle.mu.RLock()
	defer handle.mu.RUnlock()
	return datatypes.RunSnapshot{
		RunID:     handle.run.ID,
		State:     handle.run.State,
		Iteration: handle.run.Iteration,
		Result:    handle.result,
	}, nil
}

// Wait blocks until the run reaches a terminal state or the context is
// done.
func (m *Manager) Wait(ctx context.Context, runID string) (datatypes.RunResult, error) {
	handle, ok := m.handle(runID)
	if !ok {
		return datatypes.RunResult{}, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}

	select {
	case <-handle.done:
	case <-ctx.Done():
		return datatypes.RunResult{}, ctx.Err()
	}

	handle.mu.RLock()
	defer handle.mu.RUnlock()
	return *handle.result, nil
}

// Cancel requests cancellation of a live run.
//
// Outputs:
//
//	error - ErrRunNotFound for unknown IDs. Canceling a terminal run is
//	        a no-op, not an error.
func (m *Manager) Cancel(runID string) error {
	handle, ok := m.handle(runID)
	if !ok {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	handle.cancel()
	return nil
}

// Subscribe registers a watcher for a run's state transitions.
func (m *Manager) Subscribe(runID string) (<-chan datatypes.RunSnapshot, func(), error) {
	if _, ok := m.handle(runID); !ok {
		return nil, nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	ch, cancel := m.broker.Subscribe(runID)
	return ch, cancel, nil
}

// Prompts returns the configured base prompt templates.
func (m *Manager) Prompts() datatypes.PromptsResponse {
	return datatypes.PromptsResponse{
		GeneratePrompt: m.cfg.BasePrompts.GeneratePrompt,
		ValidatePrompt: m.cfg.BasePrompts.ValidatePrompt,
	}
}

// Store exposes the artifact store for the files endpoint; nil when
// persistence is disabled.
func (m *Manager) Store() storage.ArtifactStore {
	return m.store
}

func (m *Manager) handle(runID string) (*runHandle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.runs[runID]
	return h, ok
}

// evict drops a terminal run from the registry.
func (m *Manager) evict(runID string) {
	m.mu.Lock()
	delete(m.runs, runID)
	m.mu.Unlock()
	m.logger.Debug("Evicted terminal run", slog.String("run_id", runID))
}
