// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ports

import (
	"fmt"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Default Templates
// =============================================================================

// defaultGeneratePrompt is the base template for the generation port.
// Placeholders {user_prompt} and {test_conditions} are filled per run.
const defaultGeneratePrompt = `You are an autonomous coding agent. Generate complete code that will run.

Given the following requirements:
- Start with a readme.md containing a summary and step-by-step plan
- Use python:3.10-slim as base Docker image
- Install necessary dependencies in Dockerfile
- Each file should start with #./<filename>
- Dockerfile should define ENTRYPOINT to run automatically
- Output must be visible on stdout without intervention
- Files should be ordered: readme.md, config files, main application files

Task:
{user_prompt}

Acceptance conditions:
{test_conditions}`

// defaultValidatePrompt is the base template for the validation port.
// Placeholders {test_conditions}, {dockerfile}, {files_str} and {output}
// are filled per iteration.
const defaultValidatePrompt = `The test conditions: {test_conditions}

dockerfile:
{dockerfile}

files:
{files_str}

output:
{output}

If all test conditions are met, return exactly:
{ "result": true, "dockerfile": null, "files": null }

Otherwise (if you need to fix or add files, modify the dockerfile, etc.), return exactly:
{
  "result": false,
  "dockerfile": "FROM python:3.10-slim\n...",
  "files": [
    {
      "filename": "filename.ext",
      "content": "#./filename.ext\n..."
    }
  ]
}

You may add or modify multiple files as needed when returning false. Just ensure you follow the same schema and format strictly. Do not add extra commentary or keys.
If returning null for dockerfile or files, use JSON null, not a string.`

// generateSystemPrompt frames the generation call. Security guidance
// here complements the post-generation screening; it does not replace it.
const generateSystemPrompt = "You are an autonomous coding assistant agent. Generate complete code that will run. " +
	"Follow secure coding practices and avoid using dangerous operations such as: " +
	"- Arbitrary command execution (e.g., os.system, subprocess.call, eval, exec) " +
	"- Unrestricted file operations (e.g., open with write access to sensitive paths) " +
	"- Network access without proper validation " +
	"- Privileged operations in Dockerfiles"

// validateSystemPrompt frames the validation call.
const validateSystemPrompt = "You are an iteration of an autonomous coding assistant agent. " +
	"If you change any files, provide complete file content replacements. " +
	"Append a brief explanation at the bottom of readme.md about what you tried."

// =============================================================================
// PromptConfig
// =============================================================================

// PromptConfig holds the prompt templates for one run. It is a value
// type: the service constructs one per run from its configured base plus
// any caller overrides, so no process-global prompt state exists.
type PromptConfig struct {
	GeneratePrompt string `yaml:"generate_code_prompt"`
	ValidatePrompt string `yaml:"validate_output_prompt"`
}

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() PromptConfig {
	return PromptConfig{
		GeneratePrompt: defaultGeneratePrompt,
		ValidatePrompt: defaultValidatePrompt,
	}
}

// LoadPromptFile reads templates from a YAML file, falling back to the
// defaults for any template the file omits.
//
// Inputs:
//
//	path - YAML file with generate_code_prompt / validate_output_prompt keys.
//
// Outputs:
//
//	PromptConfig - Merged configuration.
//	error        - Non-nil when the file cannot be read or parsed.
func LoadPromptFile(path string) (PromptConfig, error) {
	base := DefaultPrompts()
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read prompt file: %w", err)
	}
	var loaded PromptConfig
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return base, fmt.Errorf("parse prompt file: %w", err)
	}
	return base.merge(loaded.GeneratePrompt, loaded.ValidatePrompt), nil
}

// WithOverrides returns a copy with non-empty override fields applied.
// A nil override returns the receiver unchanged.
func (p PromptConfig) WithOverrides(o *datatypes.PromptOverrides) PromptConfig {
	if o == nil {
		return p
	}
	return p.merge(o.GeneratePrompt, o.ValidatePrompt)
}

func (p PromptConfig) merge(generate, validate string) PromptConfig {
	out := p
	if strings.TrimSpace(generate) != "" {
		out.GeneratePrompt = generate
	}
	if strings.TrimSpace(validate) != "" {
		out.ValidatePrompt = validate
	}
	return out
}

// =============================================================================
// Rendering
// =============================================================================

// renderGeneratePrompt fills the generation template for one run.
func (p PromptConfig) renderGeneratePrompt(in GenerateInput) string {
	return strings.NewReplacer(
		"{user_prompt}", in.TaskDescription,
		"{test_conditions}", in.AcceptanceConditions,
	).Replace(p.GeneratePrompt)
}

// renderValidatePrompt fills the validation template for one iteration.
// Artifacts are serialized as indented JSON so the model sees the exact
// filename/content pairs it may patch.
func (p PromptConfig) renderValidatePrompt(in ValidateInput, filesJSON string) string {
	return strings.NewReplacer(
		"{test_conditions}", in.AcceptanceConditions,
		"{dockerfile}", in.FileSet.BuildRecipe,
		"{files_str}", filesJSON,
		"{output}", in.ExecutionOutput,
	).Replace(p.ValidatePrompt)
}
