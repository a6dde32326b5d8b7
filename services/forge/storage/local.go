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
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// =============================================================================
// LocalStore
// =============================================================================

// LocalStore persists artifacts on the local filesystem under a root
// directory, one subdirectory per run.
//
// Thread Safety: Safe for concurrent use across distinct keys; the
// filesystem provides per-file atomicity via rename on write.
type LocalStore struct {
	root string
}

var _ ArtifactStore = (*LocalStore)(nil)

// NewLocalStore creates a filesystem-backed store rooted at dir,
// creating it if necessary.
func NewLocalStore(dir string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("artifact root directory is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	slog.Info("local artifact store ready", "root", abs)
	return &LocalStore{root: abs}, nil
}

// Name identifies the backing implementation for logs.
func (s *LocalStore) Name() string { return "local" }

// resolve maps runID/path onto the root directory, rejecting keys that
// would escape it.
func (s *LocalStore) resolve(runID, p string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is empty")
	}
	full := filepath.Join(s.root, filepath.FromSlash(runID), filepath.FromSlash(p))
	if !strings.HasPrefix(full, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("key %s/%s escapes the artifact root", runID, p)
	}
	return full, nil
}

// Put stores content under runID/path, overwriting any previous object.
// Writes go through a temp file plus rename so readers never observe a
// partial object.
func (s *LocalStore) Put(ctx context.Context, runID, p string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(runID, p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit artifact: %w", err)
	}
	return nil
}

// Get retrieves the object at runID/path, or ErrNotFound.
func (s *LocalStore) Get(ctx context.Context, runID, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(runID, p)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s/%s: %w", runID, p, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return raw, nil
}

// List returns the paths stored under runID, sorted.
func (s *LocalStore) List(ctx context.Context, runID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base, err := s.resolve(runID, ".")
	if err != nil {
		return nil, err
	}

	var paths []string
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}
