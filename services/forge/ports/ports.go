// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ports defines the model-facing boundaries of the construction
// loop: a Generator that produces the seed FileSet and a Validator that
// judges execution output and proposes patches.
//
// Both ports speak a fixed wire schema and parse responses strictly: a
// response with unknown fields, a missing discriminant, or an accepted
// verdict that also carries patch content is a port error, never a
// silently coerced value.
package ports

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

// =============================================================================
// Errors
// =============================================================================

// ErrGenerationRefused indicates the model declined to produce a
// candidate. There is nothing to iterate on, so the run fails.
var ErrGenerationRefused = errors.New("generation refused")

// ErrValidationRefused indicates the model declined to judge the
// output. The engine degrades this to a non-accepted verdict and
// retries with the FileSet unchanged.
var ErrValidationRefused = errors.New("validation refused")

// ErrMalformedResponse indicates the model returned content that does
// not match the wire schema. On the generation side there is nothing to
// iterate on, so the run fails; on the validation side the engine
// degrades it like a refusal and retries with the FileSet unchanged.
var ErrMalformedResponse = errors.New("malformed port response")

// =============================================================================
// Port Interfaces
// =============================================================================

// GenerateInput carries everything the generator needs for one seed.
type GenerateInput struct {
	TaskDescription      string
	AcceptanceConditions string
}

// Generator produces the initial FileSet for a run.
type Generator interface {
	// Generate returns a complete candidate FileSet for the task, or an
	// error. A refusal surfaces as ErrGenerationRefused.
	Generate(ctx context.Context, in GenerateInput) (datatypes.FileSet, error)
}

// ValidateInput carries the full picture the validator judges: the
// current FileSet, what happened when it ran, and what acceptance means.
type ValidateInput struct {
	FileSet              datatypes.FileSet
	ExecutionOutput      string
	AcceptanceConditions string
}

// Validator judges one execution and optionally proposes corrections.
type Validator interface {
	// Validate returns the verdict for one iteration. A refusal surfaces
	// as ErrValidationRefused; the caller decides how to degrade it.
	Validate(ctx context.Context, in ValidateInput) (datatypes.ValidationVerdict, error)
}
