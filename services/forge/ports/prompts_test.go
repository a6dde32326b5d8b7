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
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPrompts_NonEmpty(t *testing.T) {
	p := DefaultPrompts()
	assert.NotEmpty(t, p.GeneratePrompt)
	assert.NotEmpty(t, p.ValidatePrompt)
}

func TestWithOverrides_NilKeepsDefaults(t *testing.T) {
	p := DefaultPrompts()
	assert.Equal(t, p, p.WithOverrides(nil))
}

func TestWithOverrides_PartialOverride(t *testing.T) {
	p := DefaultPrompts().WithOverrides(&datatypes.PromptOverrides{
		GeneratePrompt: "custom generate {user_prompt}",
	})
	assert.Equal(t, "custom generate {user_prompt}", p.GeneratePrompt)
	assert.Equal(t, DefaultPrompts().ValidatePrompt, p.ValidatePrompt)
}

func TestWithOverrides_BlankFieldIgnored(t *testing.T) {
	p := DefaultPrompts().WithOverrides(&datatypes.PromptOverrides{GeneratePrompt: "   "})
	assert.Equal(t, DefaultPrompts().GeneratePrompt, p.GeneratePrompt)
}

func TestLoadPromptFile_MergesWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("generate_code_prompt: |\n  custom {user_prompt}\n"), 0o644))

	p, err := LoadPromptFile(path)
	require.NoError(t, err)
	assert.Contains(t, p.GeneratePrompt, "custom {user_prompt}")
	assert.Equal(t, DefaultPrompts().ValidatePrompt, p.ValidatePrompt)
}

func TestLoadPromptFile_MissingFileIsAnError(t *testing.T) {
	_, err := LoadPromptFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRenderGeneratePrompt_FillsPlaceholders(t *testing.T) {
	p := PromptConfig{GeneratePrompt: "task={user_prompt} conditions={test_conditions}"}
	got := p.renderGeneratePrompt(GenerateInput{
		TaskDescription:      "print numbers",
		AcceptanceConditions: "shows 1..10",
	})
	assert.Equal(t, "task=print numbers conditions=shows 1..10", got)
}

func TestRenderValidatePrompt_FillsPlaceholders(t *testing.T) {
	p := PromptConfig{ValidatePrompt: "{test_conditions}|{dockerfile}|{files_str}|{output}"}
	got := p.renderValidatePrompt(ValidateInput{
		FileSet:              datatypes.FileSet{BuildRecipe: "FROM scratch"},
		ExecutionOutput:      "out",
		AcceptanceConditions: "cond",
	}, `[{"filename":"main.py"}]`)
	assert.Equal(t, `cond|FROM scratch|[{"filename":"main.py"}]|out`, got)
}
