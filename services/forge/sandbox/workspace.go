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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

// =============================================================================
// Workspace
// =============================================================================

// materializeWorkspace writes a FileSet into a fresh temp directory:
// the recipe as Dockerfile plus every artifact at its relative path.
// The FileSet is re-validated first so traversal names never reach the
// filesystem even if an upstream check was skipped.
//
// Outputs:
//
//	string - The workspace directory.
//	func() - Cleanup removing the directory.
//	error  - Non-nil when the workspace cannot be created. Callers treat
//	         this as an infrastructure fault.
func materializeWorkspace(fs datatypes.FileSet) (string, func(), error) {
	if err := fs.Validate(); err != nil {
		return "", nil, fmt.Errorf("invalid fileset: %w", err)
	}

	dir, err := os.MkdirTemp("", "forge-run-*")
	if err != nil {
		return "", nil, fmt.Errorf("create workspace: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("workspace cleanup failed", "dir", dir, "error", err)
		}
	}

	if err := writeWorkspaceFile(dir, "Dockerfile", fs.BuildRecipe); err != nil {
		cleanup()
		return "", nil, err
	}
	for _, a := range fs.Artifacts {
		if err := writeWorkspaceFile(dir, a.Name, a.Content); err != nil {
			cleanup()
			return "", nil, err
		}
	}
	return dir, cleanup, nil
}

// writeWorkspaceFile writes one file under dir, rejecting any path that
// resolves outside it.
func writeWorkspaceFile(dir, name, content string) error {
	full := filepath.Join(dir, filepath.FromSlash(name))
	if !strings.HasPrefix(full, dir+string(os.PathSeparator)) {
		return fmt.Errorf("artifact %s escapes the workspace", name)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", name, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
