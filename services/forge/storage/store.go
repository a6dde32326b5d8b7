// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists run artifacts.
//
// The store is a capability the engine writes through, never reads to
// resume a run: at minimum one write per accepted or exhausted run
// (runID → final FileSet), optionally per-iteration snapshots. Two
// implementations exist — a local filesystem store and a MinIO/S3
// object store — selected explicitly by configuration. There is no
// runtime probing and no silent fallback between them; the choice is
// logged once at startup.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

// =============================================================================
// Errors
// =============================================================================

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("artifact not found")

// =============================================================================
// ArtifactStore
// =============================================================================

// ArtifactStore is the capability interface for durable run artifacts.
//
// Keys are `<runID>/<path>` with slash-separated relative paths. All
// implementations must be safe for concurrent use across runs; within a
// run the engine serializes writes.
type ArtifactStore interface {
	// Put stores content under runID/path, overwriting any previous object.
	Put(ctx context.Context, runID, path string, content []byte) error

	// Get retrieves the object at runID/path, or ErrNotFound.
	Get(ctx context.Context, runID, path string) ([]byte, error)

	// List returns the paths stored under runID, sorted.
	List(ctx context.Context, runID string) ([]string, error)

	// Name identifies the backing implementation for logs.
	Name() string
}

// =============================================================================
// FileSet Persistence
// =============================================================================

// recipeObjectName is the object the build recipe is stored under,
// alongside the artifacts, mirroring the workspace layout.
const recipeObjectName = "Dockerfile"

// manifestObjectName is the JSON manifest describing the full FileSet,
// including artifact ordering.
const manifestObjectName = "fileset.json"

// SaveFileSet writes a complete FileSet under the given prefix: the
// recipe as Dockerfile, each artifact at its relative path, and a JSON
// manifest preserving order.
//
// Inputs:
//
//	store  - Destination store.
//	runID  - Run identifier (the key namespace).
//	prefix - Optional sub-prefix, e.g. "iterations/3"; empty for the
//	         final FileSet.
//	fs     - The FileSet to persist.
//
// Outputs:
//
//	error - Non-nil on the first failed write.
func SaveFileSet(ctx context.Context, store ArtifactStore, runID, prefix string, fs datatypes.FileSet) error {
	if store == nil {
		return fmt.Errorf("artifact store is nil")
	}

	put := func(p string, content []byte) error {
		if prefix != "" {
			p = path.Join(prefix, p)
		}
		return store.Put(ctx, runID, p, content)
	}

	if err := put(recipeObjectName, []byte(fs.BuildRecipe)); err != nil {
		return fmt.Errorf("store recipe: %w", err)
	}
	for _, a := range fs.Artifacts {
		if err := put(a.Name, []byte(a.Content)); err != nil {
			return fmt.Errorf("store artifact %s: %w", a.Name, err)
		}
	}

	manifest, err := json.MarshalIndent(fs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := put(manifestObjectName, manifest); err != nil {
		return fmt.Errorf("store manifest: %w", err)
	}
	return nil
}

// LoadFileSet reads the JSON manifest back into a FileSet. Used by the
// files endpoint to serve persisted results.
func LoadFileSet(ctx context.Context, store ArtifactStore, runID string) (datatypes.FileSet, error) {
	var fs datatypes.FileSet
	if store == nil {
		return fs, fmt.Errorf("artifact store is nil")
	}
	raw, err := store.Get(ctx, runID, manifestObjectName)
	if err != nil {
		return fs, err
	}
	if err := json.Unmarshal(raw, &fs); err != nil {
		return fs, fmt.Errorf("decode manifest: %w", err)
	}
	return fs, nil
}
