// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the data model shared by the forge service:
// file sets, patches, workflow runs, execution results, and the request
// and response shapes of the HTTP surface.
//
// A FileSet is the unit of work the whole service revolves around: one
// build recipe plus an ordered list of named text artifacts. A run owns
// exactly one FileSet and mutates it only through Merge.
package datatypes

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrEmptyArtifactName is returned when an artifact has no name.
	ErrEmptyArtifactName = errors.New("artifact name is empty")

	// ErrUnsafeArtifactName is returned when an artifact name is absolute
	// or escapes the run root via traversal.
	ErrUnsafeArtifactName = errors.New("artifact name escapes the run root")

	// ErrDuplicateArtifactName is returned when two artifacts in one
	// FileSet share a name.
	ErrDuplicateArtifactName = errors.New("duplicate artifact name")

	// ErrEmptyBuildRecipe is returned when a FileSet has no build recipe.
	ErrEmptyBuildRecipe = errors.New("build recipe is empty")
)

// =============================================================================
// FileArtifact
// =============================================================================

// FileArtifact is one named text artifact inside a FileSet.
//
// The name is a relative, slash-separated path under the run root. The
// wire field names (filename/content) match the generation and
// validation service boundary.
type FileArtifact struct {
	Name    string `json:"filename"`
	Content string `json:"content"`
}

// Validate checks that the artifact name stays inside the run root.
//
// Inputs:
//
//	none
//
// Outputs:
//
//	error - Non-nil if the name is empty, absolute, or traverses upward.
func (a FileArtifact) Validate() error {
	return validateArtifactName(a.Name)
}

// validateArtifactName enforces the relative-path invariant on names.
func validateArtifactName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyArtifactName
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("%w: %q", ErrUnsafeArtifactName, name)
	}
	cleaned := path.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%w: %q", ErrUnsafeArtifactName, name)
	}
	return nil
}

// =============================================================================
// FileSet
// =============================================================================

// FileSet is one buildable candidate: a build recipe plus an ordered
// sequence of artifacts.
//
// Ordering is preserved for reproducible build-context construction but
// carries no meaning beyond presentation. A FileSet is owned by exactly
// one run at a time and is mutated only through Merge.
//
// Thread Safety: NOT safe for concurrent mutation. The owning run
// serializes all access.
type FileSet struct {
	BuildRecipe string         `json:"dockerfile"`
	Artifacts   []FileArtifact `json:"files"`
}

// Patch is a partial FileSet produced by the validation port: only the
// artifacts that changed or are new, plus an optional replacement build
// recipe. A nil BuildRecipe leaves the base recipe untouched.
//
// Deletion is not representable: a patch can add or replace artifacts,
// never remove them.
type Patch struct {
	BuildRecipe *string        `json:"dockerfile"`
	Artifacts   []FileArtifact `json:"files"`
}

// Empty reports whether applying the patch would be a no-op.
func (p Patch) Empty() bool {
	return p.BuildRecipe == nil && len(p.Artifacts) == 0
}

// Validate checks structural invariants: a non-empty recipe, safe
// relative artifact names, and name uniqueness.
//
// Outputs:
//
//	error - Non-nil naming the first violated invariant.
func (fs FileSet) Validate() error {
	if strings.TrimSpace(fs.BuildRecipe) == "" {
		return ErrEmptyBuildRecipe
	}
	seen := make(map[string]struct{}, len(fs.Artifacts))
	for _, a := range fs.Artifacts {
		if err := a.Validate(); err != nil {
			return err
		}
		if _, ok := seen[a.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateArtifactName, a.Name)
		}
		seen[a.Name] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy of the FileSet.
//
// The engine hands copies to collaborators (storage, events) so that the
// run-owned instance is never aliased outside the run.
func (fs FileSet) Clone() FileSet {
	out := FileSet{BuildRecipe: fs.BuildRecipe}
	if len(fs.Artifacts) > 0 {
		out.Artifacts = make([]FileArtifact, len(fs.Artifacts))
		copy(out.Artifacts, fs.Artifacts)
	}
	return out
}

// Find returns the artifact with the given name, if present.
func (fs FileSet) Find(name string) (FileArtifact, bool) {
	for _, a := range fs.Artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return FileArtifact{}, false
}

// Merge folds a patch into the FileSet in place.
//
// # Description
//
// If the patch declares a new build recipe, it replaces the current one.
// Each patch artifact either replaces the same-named artifact in place
// (preserving its position) or is appended to the end. Merge never
// removes artifacts and is total over well-formed inputs: merging an
// empty patch leaves the FileSet unchanged.
//
// Inputs:
//
//	patch - The partial FileSet to fold in.
func (fs *FileSet) Merge(patch Patch) {
	if patch.BuildRecipe != nil {
		fs.BuildRecipe = *patch.BuildRecipe
	}
	for _, changed := range patch.Artifacts {
		replaced := false
		for i := range fs.Artifacts {
			if fs.Artifacts[i].Name == changed.Name {
				fs.Artifacts[i].Content = changed.Content
				replaced = true
				break
			}
		}
		if !replaced {
			fs.Artifacts = append(fs.Artifacts, changed)
		}
	}
}
