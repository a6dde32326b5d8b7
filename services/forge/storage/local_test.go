// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestLocalStore_PutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "run-1", "main.py", []byte("print(1)")))

	got, err := store.Get(ctx, "run-1", "main.py")
	require.NoError(t, err)
	assert.Equal(t, []byte("print(1)"), got)
}

func TestLocalStore_PutOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "run-1", "main.py", []byte("v1")))
	require.NoError(t, store.Put(ctx, "run-1", "main.py", []byte("v2")))

	got, err := store.Get(ctx, "run-1", "main.py")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestLocalStore_GetMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "run-1", "absent.py")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_ListSortedAndScoped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "run-1", "b.py", []byte("b")))
	require.NoError(t, store.Put(ctx, "run-1", "a.py", []byte("a")))
	require.NoError(t, store.Put(ctx, "run-1", "pkg/util.py", []byte("u")))
	require.NoError(t, store.Put(ctx, "run-2", "other.py", []byte("o")))

	paths, err := store.List(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py", "b.py", "pkg/util.py"}, paths)
}

func TestLocalStore_ListUnknownRunReturnsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.List(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Put(ctx, "run-1", "../../escape", []byte("x"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestSaveFileSet_WritesRecipeArtifactsAndManifest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fs := datatypes.FileSet{
		BuildRecipe: "FROM python:3.10-slim",
		Artifacts: []datatypes.FileArtifact{
			{Name: "main.py", Content: "print(1)"},
			{Name: "lib/helper.py", Content: "x = 1"},
		},
	}
	require.NoError(t, SaveFileSet(ctx, store, "run-1", "", fs))

	recipe, err := store.Get(ctx, "run-1", "Dockerfile")
	require.NoError(t, err)
	assert.Equal(t, fs.BuildRecipe, string(recipe))

	helper, err := store.Get(ctx, "run-1", "lib/helper.py")
	require.NoError(t, err)
	assert.Equal(t, "x = 1", string(helper))

	loaded, err := LoadFileSet(ctx, store, "run-1")
	require.NoError(t, err)
	assert.Equal(t, fs, loaded)
}

func TestSaveFileSet_IterationPrefixKeepsFinalSeparate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fs := datatypes.FileSet{
		BuildRecipe: "FROM scratch",
		Artifacts:   []datatypes.FileArtifact{{Name: "main.py", Content: "pass"}},
	}
	require.NoError(t, SaveFileSet(ctx, store, "run-1", "iterations/1", fs))

	_, err := LoadFileSet(ctx, store, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := store.Get(ctx, "run-1", "iterations/1/fileset.json")
	require.NoError(t, err)
	assert.Contains(t, string(got), "main.py")
}

func TestLoadFileSet_BadManifestIsAnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "run-1", "fileset.json", []byte("{not json")))

	_, err := LoadFileSet(ctx, store, "run-1")
	assert.Error(t, err)
	assert.True(t, !errors.Is(err, ErrNotFound))
}
