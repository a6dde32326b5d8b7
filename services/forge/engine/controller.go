// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine drives the generate/execute/validate loop.
//
// The controller owns all state transitions of a run; the manager owns
// run registration, concurrency, and result delivery. Ports and the
// sandbox are injected, so the loop semantics are testable without a
// model or a container engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/observability"
	"github.com/AleutianAI/AleutianForge/services/forge/ports"
	"github.com/AleutianAI/AleutianForge/services/forge/safety"
	"github.com/AleutianAI/AleutianForge/services/forge/sandbox"
	"github.com/AleutianAI/AleutianForge/services/forge/storage"
)

// =============================================================================
// Configuration
// =============================================================================

// DefaultMaxIterations is the iteration budget when neither the server
// nor the caller overrides it.
const DefaultMaxIterations = 20

// DefaultStepTimeout bounds each port call. Sandbox steps carry their
// own timeout inside the executor.
const DefaultStepTimeout = 300 * time.Second

// ControllerConfig wires one controller.
type ControllerConfig struct {
	// MaxIterations is the executor-invocation budget per run.
	MaxIterations int

	// StepTimeout bounds each generation and validation call.
	StepTimeout time.Duration

	// SnapshotIterations persists the FileSet after every iteration in
	// addition to the terminal write.
	SnapshotIterations bool

	// AllowNetwork permits outbound network access for this run's sandbox.
	AllowNetwork bool
}

// applyControllerDefaults fills zero values with production defaults.
func applyControllerDefaults(cfg ControllerConfig) ControllerConfig {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	return cfg
}

// =============================================================================
// Controller
// =============================================================================

// transitionFunc observes run state changes, for live watchers.
type transitionFunc func(run *datatypes.WorkflowRun)

// Controller executes one run to a terminal state.
//
// Thread Safety: A controller instance drives exactly one run; the
// manager creates one per run. The injected ports, executor, scanner and
// store must themselves be safe for concurrent use.
type Controller struct {
	cfg       ControllerConfig
	generator ports.Generator
	validator ports.Validator
	executor  sandbox.Executor
	scanner   *safety.Scanner
	store     storage.ArtifactStore
	metrics   *observability.RunMetrics
	logger    *slog.Logger
	onChange  transitionFunc
}

// NewController creates a controller for one run.
func NewController(
	cfg ControllerConfig,
	generator ports.Generator,
	validator ports.Validator,
	executor sandbox.Executor,
	scanner *safety.Scanner,
	store storage.ArtifactStore,
	metrics *observability.RunMetrics,
	logger *slog.Logger,
	onChange transitionFunc,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if onChange == nil {
		onChange = func(*datatypes.WorkflowRun) {}
	}
	return &Controller{
		cfg:       applyControllerDefaults(cfg),
		generator: generator,
		validator: validator,
		executor:  executor,
		scanner:   scanner,
		store:     store,
		metrics:   metrics,
		logger:    logger,
		onChange:  onChange,
	}
}

// Execute drives the run from Seeding to a terminal state.
//
// # Description
//
// Seeds the run via the generation port, then loops execute/validate
// until acceptance, budget exhaustion, or a fatal condition. Iterations
// count executor invocations: acceptance at iteration k reports k
// iterations used. Generation refusal and infrastructure faults fail
// the run; a refused or malformed validation verdict degrades to a
// retry with the FileSet unchanged. Cancellation is honored before
// every step.
//
// Outputs:
//
//	datatypes.RunResult - The terminal classification. Always non-zero;
//	  faults are folded into a Failed result rather than returned.
func (c *Controller) Execute(ctx context.Context, run *datatypes.WorkflowRun) datatypes.RunResult {
	c.metrics.RunStarted()
	defer c.metrics.RunFinished()

	result := c.execute(ctx, run)

	run.State = result.State
	c.onChange(run)
	c.metrics.RecordRunComplete(string(result.State), result.IterationsUsed)
	c.persistFinal(run, &result)

	c.logger.Info("Run reached terminal state",
		slog.String("run_id", run.ID),
		slog.String("state", string(result.State)),
		slog.Int("iterations_used", result.IterationsUsed),
		slog.Bool("accepted", result.Accepted),
	)
	return result
}

func (c *Controller) execute(ctx context.Context, run *datatypes.WorkflowRun) datatypes.RunResult {
	run.State = datatypes.RunStateSeeding
	c.onChange(run)

	if err := ctx.Err(); err != nil {
		return c.failed(run, 0, "run canceled before seeding")
	}

	seed, err := c.generate(ctx, run)
	if err != nil {
		if errors.Is(err, ports.ErrGenerationRefused) {
			return c.failed(run, 0, fmt.Sprintf("generation refused: %v", err))
		}
		return c.failed(run, 0, fmt.Sprintf("seeding failed: %v", err))
	}
	run.CurrentFileSet = seed

	if res := c.scanner.Scan(seed); !res.Safe {
		c.metrics.RecordSafetyRejection("seed")
		return c.failed(run, 0, "security screening rejected the generated candidate: "+strings.Join(res.Issues, "; "))
	}

	run.State = datatypes.RunStateRunning
	c.onChange(run)

	for iter := 1; iter <= c.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return c.failed(run, iter-1, "run canceled")
		}
		run.Iteration = iter
		c.onChange(run)

		execRes, err := c.executeStep(ctx, run)
		if err != nil {
			return c.failed(run, iter, fmt.Sprintf("execution backend fault: %v", err))
		}
		c.snapshotIteration(run, iter)

		if err := ctx.Err(); err != nil {
			return c.failed(run, iter, "run canceled")
		}

		verdict, err := c.validate(ctx, run, execRes)
		if err != nil {
			if errors.Is(err, ports.ErrValidationRefused) || errors.Is(err, ports.ErrMalformedResponse) {
				// A refused or unparseable verdict degrades to a rejection
				// without a patch: the FileSet is unchanged and the next
				// iteration retries it. One bad validator reply must not
				// kill a long run.
				c.logger.Warn("Validation verdict unusable, retrying unchanged",
					slog.String("run_id", run.ID),
					slog.Int("iteration", iter),
					slog.String("error", err.Error()),
				)
				continue
			}
			return c.failed(run, iter, fmt.Sprintf("validation failed: %v", err))
		}

		if verdict.Accepted {
			final := run.CurrentFileSet.Clone()
			return datatypes.RunResult{
				RunID:          run.ID,
				State:          datatypes.RunStateSucceeded,
				Accepted:       true,
				IterationsUsed: iter,
				FinalFileSet:   &final,
			}
		}

		if verdict.Patch != nil && !verdict.Patch.Empty() {
			if res := c.scanner.ScanPatch(*verdict.Patch); !res.Safe {
				c.metrics.RecordSafetyRejection("patch")
				return c.failed(run, iter, "security screening rejected the proposed patch: "+strings.Join(res.Issues, "; "))
			}
			run.CurrentFileSet.Merge(*verdict.Patch)
			if err := run.CurrentFileSet.Validate(); err != nil {
				return c.failed(run, iter, fmt.Sprintf("patched fileset is invalid: %v", err))
			}
		}
	}

	final := run.CurrentFileSet.Clone()
	return datatypes.RunResult{
		RunID:          run.ID,
		State:          datatypes.RunStateExhausted,
		Accepted:       false,
		IterationsUsed: c.cfg.MaxIterations,
		FinalFileSet:   &final,
	}
}

// generate calls the generation port under the step timeout.
func (c *Controller) generate(ctx context.Context, run *datatypes.WorkflowRun) (datatypes.FileSet, error) {
	stepCtx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
	defer cancel()

	start := time.Now()
	seed, err := c.generator.Generate(stepCtx, ports.GenerateInput{
		TaskDescription:      run.TaskDescription,
		AcceptanceConditions: run.AcceptanceConditions,
	})
	c.metrics.RecordPortCall("generate", portStatus(err), time.Since(start).Seconds())
	return seed, err
}

// executeStep runs the current FileSet in the sandbox.
func (c *Controller) executeStep(ctx context.Context, run *datatypes.WorkflowRun) (datatypes.ExecutionResult, error) {
	start := time.Now()
	res, err := c.executor.Execute(ctx, sandbox.Spec{
		RunID:        run.ID,
		FileSet:      run.CurrentFileSet,
		AllowNetwork: c.cfg.AllowNetwork,
	})
	status := "success"
	switch {
	case err != nil:
		status = "fault"
	case !res.Succeeded:
		status = "failure"
	}
	c.metrics.RecordSandboxStep(c.executor.Name(), status, time.Since(start).Seconds())
	return res, err
}

// validate calls the validation port under the step timeout.
func (c *Controller) validate(ctx context.Context, run *datatypes.WorkflowRun, execRes datatypes.ExecutionResult) (datatypes.ValidationVerdict, error) {
	stepCtx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
	defer cancel()

	start := time.Now()
	verdict, err := c.validator.Validate(stepCtx, ports.ValidateInput{
		FileSet:              run.CurrentFileSet,
		ExecutionOutput:      execRes.CombinedOutput,
		AcceptanceConditions: run.AcceptanceConditions,
	})
	c.metrics.RecordPortCall("validate", portStatus(err), time.Since(start).Seconds())
	return verdict, err
}

// failed builds a Failed result carrying the last known FileSet when
// one exists.
func (c *Controller) failed(run *datatypes.WorkflowRun, iterations int, reason string) datatypes.RunResult {
	result := datatypes.RunResult{
		RunID:          run.ID,
		State:          datatypes.RunStateFailed,
		Accepted:       false,
		IterationsUsed: iterations,
		Failure:        reason,
	}
	if run.CurrentFileSet.BuildRecipe != "" {
		final := run.CurrentFileSet.Clone()
		result.FinalFileSet = &final
	}
	c.logger.Warn("Run failed",
		slog.String("run_id", run.ID),
		slog.Int("iterations_used", iterations),
		slog.String("reason", reason),
	)
	return result
}

// persistFinal writes the terminal FileSet, when the run produced one.
func (c *Controller) persistFinal(run *datatypes.WorkflowRun, result *datatypes.RunResult) {
	if c.store == nil || result.FinalFileSet == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := storage.SaveFileSet(ctx, c.store, run.ID, "", *result.FinalFileSet); err != nil {
		c.logger.Error("Failed to persist final fileset",
			slog.String("run_id", run.ID),
			slog.String("store", c.store.Name()),
			slog.String("error", err.Error()),
		)
	}
}

// snapshotIteration optionally persists the FileSet after an iteration.
func (c *Controller) snapshotIteration(run *datatypes.WorkflowRun, iter int) {
	if c.store == nil || !c.cfg.SnapshotIterations {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	prefix := fmt.Sprintf("iterations/%d", iter)
	if err := storage.SaveFileSet(ctx, c.store, run.ID, prefix, run.CurrentFileSet); err != nil {
		c.logger.Warn("Failed to snapshot iteration",
			slog.String("run_id", run.ID),
			slog.Int("iteration", iter),
			slog.String("error", err.Error()),
		)
	}
}

// portStatus maps a port error onto a metric label.
func portStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ports.ErrGenerationRefused), errors.Is(err, ports.ErrValidationRefused):
		return "refused"
	default:
		return "error"
	}
}
