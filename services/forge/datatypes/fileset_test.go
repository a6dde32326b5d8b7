// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"reflect"
	"testing"
)

// =============================================================================
// Merge Tests
// =============================================================================

func baseFileSet() FileSet {
	return FileSet{
		BuildRecipe: "FROM python:3.10-slim",
		Artifacts: []FileArtifact{
			{Name: "readme.md", Content: "# plan"},
			{Name: "main.py", Content: "print(1)"},
		},
	}
}

func strPtr(s string) *string { return &s }

func TestMerge_EmptyPatchIsIdempotent(t *testing.T) {
	fs := baseFileSet()
	want := fs.Clone()

	fs.Merge(Patch{})

	if !reflect.DeepEqual(fs, want) {
		t.Errorf("empty patch changed the FileSet: got %+v, want %+v", fs, want)
	}
}

func TestMerge_ReplacesRecipe(t *testing.T) {
	fs := baseFileSet()

	fs.Merge(Patch{BuildRecipe: strPtr("FROM python:3.11-slim")})

	if fs.BuildRecipe != "FROM python:3.11-slim" {
		t.Errorf("recipe not replaced: got %q", fs.BuildRecipe)
	}
	if len(fs.Artifacts) != 2 {
		t.Errorf("artifact count changed: got %d, want 2", len(fs.Artifacts))
	}
}

func TestMerge_NilRecipeKeepsBase(t *testing.T) {
	fs := baseFileSet()

	fs.Merge(Patch{Artifacts: []FileArtifact{{Name: "main.py", Content: "print(2)"}}})

	if fs.BuildRecipe != "FROM python:3.10-slim" {
		t.Errorf("nil patch recipe replaced the base recipe: got %q", fs.BuildRecipe)
	}
}

func TestMerge_ReplacesInPlacePreservingPosition(t *testing.T) {
	fs := baseFileSet()

	fs.Merge(Patch{Artifacts: []FileArtifact{{Name: "main.py", Content: "print(2)"}}})

	if len(fs.Artifacts) != 2 {
		t.Fatalf("artifact count changed: got %d, want 2", len(fs.Artifacts))
	}
	if fs.Artifacts[1].Name != "main.py" || fs.Artifacts[1].Content != "print(2)" {
		t.Errorf("replacement lost position or content: %+v", fs.Artifacts)
	}
}

func TestMerge_AppendsNewArtifacts(t *testing.T) {
	fs := baseFileSet()

	fs.Merge(Patch{Artifacts: []FileArtifact{
		{Name: "main.py", Content: "print(2)"},
		{Name: "util.py", Content: "pass"},
	}})

	if len(fs.Artifacts) != 3 {
		t.Fatalf("got %d artifacts, want 3", len(fs.Artifacts))
	}
	if fs.Artifacts[2].Name != "util.py" {
		t.Errorf("new artifact not appended last: %+v", fs.Artifacts)
	}
}

// Merge can never shrink the artifact list: deletion is not representable
// in a patch.
func TestMerge_NeverRemovesArtifacts(t *testing.T) {
	patches := []Patch{
		{},
		{BuildRecipe: strPtr("FROM scratch")},
		{Artifacts: []FileArtifact{{Name: "readme.md", Content: ""}}},
		{Artifacts: []FileArtifact{{Name: "a.py"}, {Name: "b.py"}, {Name: "readme.md"}}},
	}
	for _, p := range patches {
		fs := baseFileSet()
		before := len(fs.Artifacts)
		fs.Merge(p)
		if len(fs.Artifacts) < before {
			t.Errorf("patch %+v removed artifacts: %d -> %d", p, before, len(fs.Artifacts))
		}
	}
}

func TestMerge_CountIsBasePlusNewNames(t *testing.T) {
	fs := baseFileSet()
	patch := Patch{Artifacts: []FileArtifact{
		{Name: "main.py", Content: "print(2)"}, // exists
		{Name: "new1.py", Content: "x"},        // new
		{Name: "new2.py", Content: "y"},        // new
	}}

	fs.Merge(patch)

	if got, want := len(fs.Artifacts), 4; got != want {
		t.Errorf("got %d artifacts, want %d (base 2 + 2 new names)", got, want)
	}
}

// =============================================================================
// Validate Tests
// =============================================================================

func TestFileSet_Validate_Success(t *testing.T) {
	fs := baseFileSet()
	if err := fs.Validate(); err != nil {
		t.Errorf("expected valid FileSet, got error: %v", err)
	}
}

func TestFileSet_Validate_EmptyRecipe(t *testing.T) {
	fs := FileSet{Artifacts: []FileArtifact{{Name: "main.py"}}}
	if err := fs.Validate(); err == nil {
		t.Error("expected error for empty build recipe, got nil")
	}
}

func TestFileSet_Validate_DuplicateName(t *testing.T) {
	fs := FileSet{
		BuildRecipe: "FROM scratch",
		Artifacts: []FileArtifact{
			{Name: "main.py"},
			{Name: "main.py"},
		},
	}
	if err := fs.Validate(); err == nil {
		t.Error("expected error for duplicate artifact name, got nil")
	}
}

func TestFileArtifact_Validate_RejectsTraversal(t *testing.T) {
	bad := []string{
		"",
		"  ",
		"/etc/passwd",
		"../escape.py",
		"nested/../../escape.py",
		"ok\\but\\windows.py",
	}
	for _, name := range bad {
		if err := (FileArtifact{Name: name}).Validate(); err == nil {
			t.Errorf("expected error for name %q, got nil", name)
		}
	}
}

func TestFileArtifact_Validate_AcceptsRelativePaths(t *testing.T) {
	good := []string{"main.py", "src/app/main.py", "readme.md", "a/b/c.txt"}
	for _, name := range good {
		if err := (FileArtifact{Name: name}).Validate(); err != nil {
			t.Errorf("expected name %q to be valid, got: %v", name, err)
		}
	}
}

func TestFileSet_CloneIsDeep(t *testing.T) {
	fs := baseFileSet()
	cp := fs.Clone()

	cp.Artifacts[0].Content = "mutated"
	cp.Merge(Patch{Artifacts: []FileArtifact{{Name: "extra.py"}}})

	if fs.Artifacts[0].Content != "# plan" {
		t.Error("clone shares artifact backing array with original")
	}
	if len(fs.Artifacts) != 2 {
		t.Error("merging into clone mutated the original")
	}
}

func TestPatch_Empty(t *testing.T) {
	if !(Patch{}).Empty() {
		t.Error("zero patch should be empty")
	}
	if (Patch{BuildRecipe: strPtr("FROM scratch")}).Empty() {
		t.Error("patch with recipe should not be empty")
	}
	if (Patch{Artifacts: []FileArtifact{{Name: "a"}}}).Empty() {
		t.Error("patch with artifacts should not be empty")
	}
}
