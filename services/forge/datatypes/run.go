// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Run States
// =============================================================================

// RunState is the lifecycle state of a workflow run.
//
// Transitions are driven exclusively by the iteration controller:
//
//	Seeding → Running(n) → {Running(n+1), Succeeded, Exhausted, Failed}
//
// Succeeded, Exhausted, and Failed are terminal; no transition leaves them.
type RunState string

const (
	// RunStateSeeding means the run is waiting on the generation port for
	// its initial FileSet.
	RunStateSeeding RunState = "seeding"

	// RunStateRunning means the run is inside the execute/validate loop.
	RunStateRunning RunState = "running"

	// RunStateSucceeded means the validation port accepted the output.
	RunStateSucceeded RunState = "succeeded"

	// RunStateExhausted means the iteration budget ran out without an
	// accepted verdict. Not an error: the run still carries its best-effort
	// final FileSet.
	RunStateExhausted RunState = "exhausted"

	// RunStateFailed means generation was refused or an infrastructure
	// fault aborted the run.
	RunStateFailed RunState = "failed"
)

// Terminal reports whether the state permits no further transitions.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateSucceeded, RunStateExhausted, RunStateFailed:
		return true
	default:
		return false
	}
}

// =============================================================================
// WorkflowRun
// =============================================================================

// WorkflowRun is one end-to-end attempt to satisfy a task's acceptance
// conditions, bounded by an iteration budget.
//
// The run owns CurrentFileSet exclusively. The iteration controller is
// the only writer of Iteration and State; everyone else reads snapshots
// via the run manager.
type WorkflowRun struct {
	// ID identifies the run and its sandbox workspace. Derived from the
	// caller identity and start time so concurrent runs never collide.
	ID string

	// CallerID is the submitting identity ("anonymous" when auth is off).
	CallerID string

	// TaskDescription is the natural-language description of what to build.
	TaskDescription string

	// AcceptanceConditions describe what the validation port should judge.
	AcceptanceConditions string

	// CurrentFileSet is the candidate under iteration.
	CurrentFileSet FileSet

	// Iteration counts executor invocations, starting at 0 before the
	// first execution.
	Iteration int

	// State is the current lifecycle state.
	State RunState

	// StartedAt records run creation time.
	StartedAt time.Time
}

// NewRunID derives a workspace-unique run identifier from the caller
// identity and the start time, per the concurrency model: no two runs
// from any callers may share a sandbox workspace.
func NewRunID(callerID string, startedAt time.Time) string {
	caller := strings.TrimSpace(callerID)
	if caller == "" {
		caller = "anonymous"
	}
	return fmt.Sprintf("%s-%d", caller, startedAt.UnixNano())
}

// =============================================================================
// Execution and Validation Outcomes
// =============================================================================

// ExecutionResult is the normalized outcome of one sandbox execution.
//
// Build failure and run failure are folded in here as Succeeded=false
// with the engine's diagnostic stream in CombinedOutput; they are never
// surfaced as errors. The result is immutable once returned and is
// discarded after validation — the controller never persists it.
type ExecutionResult struct {
	// CombinedOutput is the program's stdout on success, or the engine's
	// diagnostic stream (stderr preferred, stdout as fallback) on failure.
	CombinedOutput string `json:"output"`

	// Succeeded reports whether the candidate built and ran to a zero
	// exit status within the wall-clock budget.
	Succeeded bool `json:"succeeded"`
}

// ValidationVerdict is the validation port's judgment of one iteration.
//
// When Accepted is true the patch is absent and ignored. When false,
// Patch (if non-nil) carries only the artifacts that changed or are new,
// plus an optional replacement build recipe.
type ValidationVerdict struct {
	Accepted bool
	Patch    *Patch
}

// =============================================================================
// RunResult
// =============================================================================

// RunResult is the terminal output of a run: the classification, the
// iteration count, and the last known FileSet. Callers can retrieve the
// final FileSet even on exhaustion, for manual inspection.
type RunResult struct {
	RunID          string   `json:"run_id"`
	State          RunState `json:"state"`
	Accepted       bool     `json:"accepted"`
	IterationsUsed int      `json:"iterations_used"`

	// Failure carries the reason for a failed run, empty otherwise.
	Failure string `json:"failure,omitempty"`

	// FinalFileSet is the last FileSet the run owned. Nil only when the
	// run failed before seeding produced one.
	FinalFileSet *FileSet `json:"final_file_set,omitempty"`
}
