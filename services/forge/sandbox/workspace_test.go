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
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterializeWorkspace_WritesRecipeAndArtifacts(t *testing.T) {
	fs := datatypes.FileSet{
		BuildRecipe: "FROM python:3.10-slim",
		Artifacts: []datatypes.FileArtifact{
			{Name: "main.py", Content: "print(1)"},
			{Name: "pkg/util.py", Content: "x = 1"},
		},
	}

	dir, cleanup, err := materializeWorkspace(fs)
	require.NoError(t, err)
	defer cleanup()

	recipe, err := os.ReadFile(filepath.Join(dir, "Dockerfile"))
	require.NoError(t, err)
	assert.Equal(t, fs.BuildRecipe, string(recipe))

	nested, err := os.ReadFile(filepath.Join(dir, "pkg", "util.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 1", string(nested))
}

func TestMaterializeWorkspace_CleanupRemovesDirectory(t *testing.T) {
	fs := datatypes.FileSet{
		BuildRecipe: "FROM scratch",
		Artifacts:   []datatypes.FileArtifact{{Name: "a.txt", Content: "a"}},
	}

	dir, cleanup, err := materializeWorkspace(fs)
	require.NoError(t, err)

	cleanup()
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestMaterializeWorkspace_RejectsInvalidFileSet(t *testing.T) {
	fs := datatypes.FileSet{
		BuildRecipe: "FROM scratch",
		Artifacts:   []datatypes.FileArtifact{{Name: "../escape.py", Content: "x"}},
	}

	_, _, err := materializeWorkspace(fs)
	assert.Error(t, err)
}

func TestImageTag_SanitizesRunID(t *testing.T) {
	assert.Equal(t, "aleutianforge/alice-17000", imageTag("Alice-17000"))
	assert.Equal(t, "aleutianforge/a-b", imageTag("a b"))
	assert.Equal(t, "aleutianforge/run", imageTag("///"))
}

func TestIsEngineFault_ClassifiesDaemonErrors(t *testing.T) {
	assert.True(t, isEngineFault("Cannot connect to the Docker daemon at unix:///var/run/docker.sock"))
	assert.True(t, isEngineFault("cannot connect to Podman socket"))
	assert.False(t, isEngineFault("SyntaxError: invalid syntax"))
	assert.False(t, isEngineFault(""))
}

func TestPickOutput_PrefersStderr(t *testing.T) {
	assert.Equal(t, "err", pickOutput("out", "err"))
	assert.Equal(t, "out", pickOutput("out", ""))
}

func TestLimitedWriter_TruncatesAtLimit(t *testing.T) {
	var buf []byte
	w := &limitedWriter{w: writerFunc(func(p []byte) (int, error) {
		buf = append(buf, p...)
		return len(p), nil
	}), limit: 5}

	n, err := w.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello", string(buf))
	assert.True(t, w.truncated)
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
