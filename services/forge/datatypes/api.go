// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains request and response types for the run endpoints.
// For the run data model itself, see run.go.

package datatypes

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxTaskDescriptionBytes bounds the task description payload.
	MaxTaskDescriptionBytes = 64 * 1024 // 64KB

	// MaxAcceptanceConditionsBytes bounds the acceptance conditions payload.
	MaxAcceptanceConditionsBytes = 32 * 1024 // 32KB

	// MaxIterationsCeiling is the largest iteration budget a caller may
	// request, regardless of server configuration.
	MaxIterationsCeiling = 100
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// runValidate is the validator instance for run request types.
var runValidate *validator.Validate

func init() {
	runValidate = validator.New()
	_ = runValidate.RegisterValidation("taskbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxTaskDescriptionBytes
	})
	_ = runValidate.RegisterValidation("condbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxAcceptanceConditionsBytes
	})
}

// =============================================================================
// Start Run Request
// =============================================================================

// PromptOverrides carries optional per-run replacements for the
// generation and validation prompt templates. Empty fields keep the
// configured defaults. This is the run-scoped replacement for the
// process-global mutable prompt state the service deliberately avoids.
type PromptOverrides struct {
	GeneratePrompt string `json:"generate_prompt,omitempty"`
	ValidatePrompt string `json:"validate_prompt,omitempty"`
}

// StartRunRequest is the body of POST /v1/runs.
//
// # Fields
//
//   - RequestID: Required. UUID v4 for tracing and audit correlation.
//   - TaskDescription: Required. What to build, in natural language (<=64KB).
//   - AcceptanceConditions: Required. What the validator judges (<=32KB).
//   - Wait: Optional. Block until the run reaches a terminal state
//     (default true, matching the synchronous workflow endpoint).
//   - MaxIterations: Optional. Per-run iteration budget override, capped
//     at MaxIterationsCeiling.
//   - AllowNetwork: Optional. Permit outbound network access inside the
//     sandbox. Inbound exposure is never permitted.
//   - Prompts: Optional. Per-run prompt template overrides.
type StartRunRequest struct {
	RequestID            string           `json:"request_id" validate:"required,uuid4"`
	TaskDescription      string           `json:"task_description" validate:"required,taskbytes"`
	AcceptanceConditions string           `json:"acceptance_conditions" validate:"required,condbytes"`
	Wait                 *bool            `json:"wait,omitempty"`
	MaxIterations        int              `json:"max_iterations,omitempty" validate:"omitempty,min=1,max=100"`
	AllowNetwork         bool             `json:"allow_network,omitempty"`
	Prompts              *PromptOverrides `json:"prompts,omitempty"`
}

// Validate checks structural and semantic constraints on the request.
//
// Outputs:
//
//	error - Non-nil with a caller-presentable message on the first violation.
func (r *StartRunRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("request is nil")
	}
	if err := runValidate.Struct(r); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return fmt.Errorf("invalid field %s (%s)", verrs[0].Field(), verrs[0].Tag())
		}
		return err
	}
	if strings.TrimSpace(r.TaskDescription) == "" {
		return fmt.Errorf("task_description is blank")
	}
	if strings.TrimSpace(r.AcceptanceConditions) == "" {
		return fmt.Errorf("acceptance_conditions is blank")
	}
	return nil
}

// WaitForResult reports whether the caller asked for the synchronous
// behavior (the default).
func (r *StartRunRequest) WaitForResult() bool {
	return r.Wait == nil || *r.Wait
}

// =============================================================================
// Responses
// =============================================================================

// StartRunAccepted is the 202 body for asynchronous submissions.
type StartRunAccepted struct {
	RunID string `json:"run_id"`
}

// RunSnapshot is the body of GET /v1/runs/:runId — the live view of a
// run, plus the terminal result once one exists.
type RunSnapshot struct {
	RunID     string     `json:"run_id"`
	State     RunState   `json:"state"`
	Iteration int        `json:"iteration"`
	Result    *RunResult `json:"result,omitempty"`
}

// PromptsResponse is the body of GET /v1/prompts.
type PromptsResponse struct {
	GeneratePrompt string `json:"generate_code_prompt"`
	ValidatePrompt string `json:"validate_output_prompt"`
}
