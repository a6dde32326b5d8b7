// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox builds and runs candidate FileSets in isolation.
//
// The contract is asymmetric on purpose: a candidate that fails to
// build or exits non-zero is a normal, reportable outcome and comes
// back as an ExecutionResult with Succeeded=false, while a fault of the
// execution machinery itself (engine unreachable, workspace cannot be
// created) is an error the run must not retry past.
package sandbox

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

// =============================================================================
// Errors
// =============================================================================

// ErrEngineUnavailable indicates the execution backend itself is
// broken or unreachable. This is an infrastructure fault, not a
// property of the candidate, and fails the run immediately.
var ErrEngineUnavailable = errors.New("execution engine unavailable")

// ErrNilContext is returned when a nil context is passed to Execute.
var ErrNilContext = errors.New("context is nil")

// =============================================================================
// Executor
// =============================================================================

// DefaultStepTimeout bounds one build-plus-run cycle.
const DefaultStepTimeout = 300 * time.Second

// DefaultMaxOutputBytes bounds captured output per execution.
const DefaultMaxOutputBytes = 1 << 20 // 1MB

// Spec describes one execution request.
type Spec struct {
	// RunID namespaces the image tag and workspace.
	RunID string

	// FileSet is the candidate to build and run. Must be structurally
	// valid; the executor materializes it verbatim.
	FileSet datatypes.FileSet

	// AllowNetwork permits outbound network access for the container.
	// Inbound exposure is never permitted.
	AllowNetwork bool
}

// Executor builds and runs one candidate.
type Executor interface {
	// Execute builds the FileSet's recipe and runs the resulting image.
	//
	// Outputs:
	//
	//	datatypes.ExecutionResult - Combined output plus the success flag.
	//	  Build failures, non-zero exits and timeouts are all folded into
	//	  the result, never returned as errors.
	//	error - Non-nil only for infrastructure faults (ErrEngineUnavailable)
	//	  or context cancellation.
	Execute(ctx context.Context, spec Spec) (datatypes.ExecutionResult, error)

	// Name identifies the backend for logs.
	Name() string
}

// =============================================================================
// Output Capture
// =============================================================================

// limitedWriter wraps a writer with a size limit; excess is discarded.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	if lw.written >= lw.limit {
		lw.truncated = true
		return len(p), nil
	}

	keep := p
	remaining := lw.limit - lw.written
	if len(keep) > remaining {
		keep = keep[:remaining]
		lw.truncated = true
	}

	written, err := lw.w.Write(keep)
	lw.written += written
	if err != nil {
		return written, err
	}
	// Report the full input as consumed so io.Copy keeps draining.
	return len(p), nil
}

// pickOutput mirrors the reporting convention for failed steps: stderr
// when present, stdout otherwise.
func pickOutput(stdout, stderr string) string {
	if stderr != "" {
		return stderr
	}
	return stdout
}
