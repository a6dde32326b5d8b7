// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"golang.org/x/sync/semaphore"
)

// =============================================================================
// Configuration
// =============================================================================

// DockerConfig configures the container-engine backend.
type DockerConfig struct {
	// Engine is the container engine binary, "docker" or "podman".
	Engine string

	// StepTimeout bounds one build-plus-run cycle.
	StepTimeout time.Duration

	// MaxOutputBytes bounds captured output per step.
	MaxOutputBytes int

	// CPUs limits container CPU, passed to --cpus. Empty means no limit.
	CPUs string

	// MemoryMB limits container memory. Zero means no limit.
	MemoryMB int

	// MaxConcurrent bounds simultaneous executions across runs.
	MaxConcurrent int64
}

// applyDockerDefaults fills zero values with production defaults.
func applyDockerDefaults(cfg DockerConfig) DockerConfig {
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "docker"
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return cfg
}

// =============================================================================
// Docker Executor
// =============================================================================

// DockerExecutor builds and runs candidates with a local container
// engine in a throwaway workspace per execution.
//
// Thread Safety: Safe for concurrent use. A weighted semaphore bounds
// simultaneous engine invocations.
type DockerExecutor struct {
	cfg    DockerConfig
	sem    *semaphore.Weighted
	logger *slog.Logger
}

var _ Executor = (*DockerExecutor)(nil)

// NewDockerExecutor creates a container-engine backend.
func NewDockerExecutor(cfg DockerConfig, logger *slog.Logger) *DockerExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = applyDockerDefaults(cfg)
	return &DockerExecutor{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		logger: logger,
	}
}

// Name identifies the backend for logs.
func (d *DockerExecutor) Name() string { return d.cfg.Engine }

// imageTagPattern strips characters the engine rejects in tags.
var imageTagPattern = regexp.MustCompile(`[^a-z0-9_.-]+`)

// imageTag derives a per-run image tag from the run ID.
func imageTag(runID string) string {
	tag := imageTagPattern.ReplaceAllString(strings.ToLower(runID), "-")
	tag = strings.Trim(tag, "-.")
	if tag == "" {
		tag = "run"
	}
	return "aleutianforge/" + tag
}

// stepOutcome is the result of one engine command.
type stepOutcome struct {
	stdout   string
	stderr   string
	exitZero bool
	timedOut bool
}

// Execute builds the recipe and runs the image.
//
// # Description
//
// The FileSet is materialized into a fresh temp workspace, built with
// `<engine> build`, then run with `<engine> run --rm` under the
// configured resource limits. Network is disabled unless the Spec
// allows it. Build failures, non-zero exits and timeouts come back as
// a failed ExecutionResult; only engine faults return an error.
//
// Thread Safety: Safe for concurrent use.
func (d *DockerExecutor) Execute(ctx context.Context, spec Spec) (datatypes.ExecutionResult, error) {
	if ctx == nil {
		return datatypes.ExecutionResult{}, ErrNilContext
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return datatypes.ExecutionResult{}, err
	}
	defer d.sem.Release(1)

	dir, cleanup, err := materializeWorkspace(spec.FileSet)
	if err != nil {
		return datatypes.ExecutionResult{}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.StepTimeout)
	defer cancel()

	tag := imageTag(spec.RunID)
	defer d.removeImage(tag)

	start := time.Now()
	d.logger.Debug("Building candidate image",
		slog.String("run_id", spec.RunID),
		slog.String("engine", d.cfg.Engine),
		slog.String("tag", tag),
	)

	build, err := d.runCommand(ctx, "build", "-t", tag, dir)
	if err != nil {
		return datatypes.ExecutionResult{}, err
	}
	if build.timedOut {
		return datatypes.ExecutionResult{
			CombinedOutput: "build timed out\n" + pickOutput(build.stdout, build.stderr),
			Succeeded:      false,
		}, nil
	}
	if !build.exitZero {
		d.logger.Info("Candidate build failed",
			slog.String("run_id", spec.RunID),
			slog.Duration("duration", time.Since(start)),
		)
		return datatypes.ExecutionResult{
			CombinedOutput: pickOutput(build.stdout, build.stderr),
			Succeeded:      false,
		}, nil
	}

	runArgs := []string{"run", "--rm"}
	if !spec.AllowNetwork {
		runArgs = append(runArgs, "--network=none")
	}
	if d.cfg.CPUs != "" {
		runArgs = append(runArgs, "--cpus", d.cfg.CPUs)
	}
	if d.cfg.MemoryMB > 0 {
		runArgs = append(runArgs, "--memory", fmt.Sprintf("%dm", d.cfg.MemoryMB))
	}
	runArgs = append(runArgs, tag)

	run, err := d.runCommand(ctx, runArgs...)
	if err != nil {
		return datatypes.ExecutionResult{}, err
	}
	if run.timedOut {
		return datatypes.ExecutionResult{
			CombinedOutput: "execution timed out\n" + pickOutput(run.stdout, run.stderr),
			Succeeded:      false,
		}, nil
	}
	if !run.exitZero {
		d.logger.Info("Candidate run exited non-zero",
			slog.String("run_id", spec.RunID),
			slog.Duration("duration", time.Since(start)),
		)
		return datatypes.ExecutionResult{
			CombinedOutput: pickOutput(run.stdout, run.stderr),
			Succeeded:      false,
		}, nil
	}

	d.logger.Info("Candidate executed",
		slog.String("run_id", spec.RunID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("output_bytes", len(run.stdout)),
	)
	return datatypes.ExecutionResult{CombinedOutput: run.stdout, Succeeded: true}, nil
}

// runCommand executes one engine command with output capture. Engine
// faults return an error; candidate failures come back in the outcome.
func (d *DockerExecutor) runCommand(ctx context.Context, args ...string) (stepOutcome, error) {
	cmd := exec.CommandContext(ctx, d.cfg.Engine, args...)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &outBuf, limit: d.cfg.MaxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &errBuf, limit: d.cfg.MaxOutputBytes}

	runErr := cmd.Run()
	out := stepOutcome{stdout: outBuf.String(), stderr: errBuf.String()}

	if ctx.Err() == context.DeadlineExceeded {
		out.timedOut = true
		return out, nil
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// The engine binary itself could not run.
			return out, fmt.Errorf("%w: %v", ErrEngineUnavailable, runErr)
		}
		if isEngineFault(out.stderr) {
			return out, fmt.Errorf("%w: %s", ErrEngineUnavailable, firstLine(out.stderr))
		}
		return out, nil
	}
	out.exitZero = true
	return out, nil
}

// removeImage deletes the per-run image; best effort.
func (d *DockerExecutor) removeImage(tag string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, d.cfg.Engine, "rmi", "-f", tag).Run(); err != nil {
		d.logger.Debug("Image cleanup failed", slog.String("tag", tag), slog.String("error", err.Error()))
	}
}

// engineFaultPatterns distinguish a broken engine from a broken
// candidate.
var engineFaultPatterns = []string{
	"Cannot connect to the Docker daemon",
	"cannot connect to Podman",
	"error during connect",
	"permission denied while trying to connect",
	"no space left on device",
}

// isEngineFault reports whether stderr describes an engine-level fault.
func isEngineFault(stderr string) bool {
	for _, p := range engineFaultPatterns {
		if strings.Contains(stderr, p) {
			return true
		}
	}
	return false
}

// firstLine trims a multi-line error down for wrapping.
func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
