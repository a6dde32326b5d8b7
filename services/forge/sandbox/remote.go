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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

// =============================================================================
// Remote Executor
// =============================================================================

// RemoteConfig configures the remote execution backend.
type RemoteConfig struct {
	// BaseURL is the runner service, e.g. "https://runner.internal:8443".
	BaseURL string

	// AuthToken is sent as a bearer token when non-empty.
	AuthToken string

	// StepTimeout bounds one remote build-plus-run cycle, including the
	// HTTP round trip.
	StepTimeout time.Duration

	// MaxOutputBytes bounds the accepted response output.
	MaxOutputBytes int
}

// remoteRequest is the wire request to the runner service.
type remoteRequest struct {
	RunID          string                   `json:"run_id"`
	Dockerfile     string                   `json:"dockerfile"`
	Files          []datatypes.FileArtifact `json:"files"`
	TimeoutSeconds int                      `json:"timeout_seconds"`
	AllowNetwork   bool                     `json:"allow_network"`
}

// remoteResponse is the wire response. Parsed strictly; a runner that
// grows extra fields fails loudly instead of being half-understood.
type remoteResponse struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out"`
}

// RemoteExecutor delegates builds and runs to a dedicated runner
// service over HTTP.
//
// Thread Safety: Safe for concurrent use; the underlying http.Client is.
type RemoteExecutor struct {
	cfg    RemoteConfig
	client *http.Client
	logger *slog.Logger
}

var _ Executor = (*RemoteExecutor)(nil)

// NewRemoteExecutor creates a remote backend.
func NewRemoteExecutor(cfg RemoteConfig, logger *slog.Logger) (*RemoteExecutor, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("remote executor base url is required")
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteExecutor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.StepTimeout + 10*time.Second},
		logger: logger,
	}, nil
}

// Name identifies the backend for logs.
func (r *RemoteExecutor) Name() string { return "remote" }

// Execute ships the FileSet to the runner service.
//
// Outputs:
//
//	datatypes.ExecutionResult - Succeeded only when the remote run
//	  exited zero and did not time out.
//	error - ErrEngineUnavailable when the runner is unreachable or
//	  replies outside its contract.
func (r *RemoteExecutor) Execute(ctx context.Context, spec Spec) (datatypes.ExecutionResult, error) {
	if ctx == nil {
		return datatypes.ExecutionResult{}, ErrNilContext
	}
	if err := spec.FileSet.Validate(); err != nil {
		return datatypes.ExecutionResult{}, fmt.Errorf("%w: invalid fileset: %v", ErrEngineUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.StepTimeout)
	defer cancel()

	body, err := json.Marshal(remoteRequest{
		RunID:          spec.RunID,
		Dockerfile:     spec.FileSet.BuildRecipe,
		Files:          spec.FileSet.Artifacts,
		TimeoutSeconds: int(r.cfg.StepTimeout / time.Second),
		AllowNetwork:   spec.AllowNetwork,
	})
	if err != nil {
		return datatypes.ExecutionResult{}, fmt.Errorf("encode execution request: %w", err)
	}

	url := strings.TrimSuffix(r.cfg.BaseURL, "/") + "/v1/executions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return datatypes.ExecutionResult{}, fmt.Errorf("build execution request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.AuthToken)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return datatypes.ExecutionResult{
				CombinedOutput: "execution timed out",
				Succeeded:      false,
			}, nil
		}
		return datatypes.ExecutionResult{}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(r.cfg.MaxOutputBytes)+4096))
	if err != nil {
		return datatypes.ExecutionResult{}, fmt.Errorf("%w: read response: %v", ErrEngineUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return datatypes.ExecutionResult{}, fmt.Errorf("%w: runner returned status %d", ErrEngineUnavailable, resp.StatusCode)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var wire remoteResponse
	if err := dec.Decode(&wire); err != nil {
		return datatypes.ExecutionResult{}, fmt.Errorf("%w: decode response: %v", ErrEngineUnavailable, err)
	}

	output := wire.Output
	if len(output) > r.cfg.MaxOutputBytes {
		output = output[:r.cfg.MaxOutputBytes]
	}
	if wire.TimedOut {
		output = "execution timed out\n" + output
	}

	r.logger.Info("Remote execution completed",
		slog.String("run_id", spec.RunID),
		slog.Int("exit_code", wire.ExitCode),
		slog.Bool("timed_out", wire.TimedOut),
		slog.Duration("duration", time.Since(start)),
	)
	return datatypes.ExecutionResult{
		CombinedOutput: output,
		Succeeded:      wire.ExitCode == 0 && !wire.TimedOut,
	}, nil
}
