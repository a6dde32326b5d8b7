// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety screens generated FileSets before execution.
//
// The sandbox is the primary isolation boundary; this scanner is a
// cheap pre-filter that rejects candidates which obviously try to step
// outside it (privileged container flags, host mounts, pipe-to-shell,
// device access) so they are never handed to the execution backend at
// all. A rejection fails the run — unsafe content is never executed and
// never retried.
package safety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

// =============================================================================
// Patterns
// =============================================================================

// recipePattern flags a dangerous construct in a build recipe.
type recipePattern struct {
	re     *regexp.Regexp
	reason string
}

// recipePatterns are checked against the build recipe of every FileSet,
// including patched recipes, before each execution.
var recipePatterns = []recipePattern{
	{regexp.MustCompile(`(?i)--privileged`), "privileged mode is not allowed"},
	{regexp.MustCompile(`(?i)--cap-add`), "adding capabilities is not allowed"},
	{regexp.MustCompile(`(?i)--device`), "direct device access is not allowed"},
	{regexp.MustCompile(`(?i)/dev/`), "direct access to /dev is not allowed"},
	{regexp.MustCompile(`(?i)/proc/`), "direct access to /proc is not allowed"},
	{regexp.MustCompile(`(?i)/sys/`), "direct access to /sys is not allowed"},
	{regexp.MustCompile(`(?i)--net(work)?=host`), "host network mode is not allowed"},
	{regexp.MustCompile(`(?i)(-v|--volume)\s+/:`), "mounting the host root is not allowed"},
	{regexp.MustCompile(`(?i)curl\s+.*\s+\|\s+(bash|sh)`), "pipe to shell from curl is not allowed"},
	{regexp.MustCompile(`(?i)wget\s+.*\s+\|\s+(bash|sh)`), "pipe to shell from wget is not allowed"},
	{regexp.MustCompile(`(?i)rm\s+-rf\s+/\s`), "deleting the root directory is not allowed"},
	{regexp.MustCompile(`(?i)rm\s+-rf\s+/$`), "deleting the root directory is not allowed"},
}

// filePatterns flag dangerous constructs per file extension. The "*"
// entry applies to every artifact.
var filePatterns = map[string][]recipePattern{
	".py": {
		{regexp.MustCompile(`subprocess\.(call|Popen|run)`), "arbitrary subprocess execution is not allowed"},
		{regexp.MustCompile(`os\.system`), "arbitrary system command execution is not allowed"},
		{regexp.MustCompile(`\beval\s*\(`), "dynamic code evaluation is not allowed"},
		{regexp.MustCompile(`\bexec\s*\(`), "dynamic code execution is not allowed"},
		{regexp.MustCompile(`__import__\(`), "dynamic imports are restricted"},
	},
	".sh": {
		{regexp.MustCompile(`rm\s+-rf\s+/`), "deleting the root directory is not allowed"},
		{regexp.MustCompile(`(curl|wget)\s+.*\s+\|\s+(bash|sh)`), "pipe to shell is not allowed"},
	},
	".js": {
		{regexp.MustCompile(`\beval\s*\(`), "dynamic code evaluation is not allowed"},
		{regexp.MustCompile(`new\s+Function\s*\(`), "dynamic code execution is not allowed"},
		{regexp.MustCompile(`child_process`), "process execution is not allowed"},
	},
	"*": {
		{regexp.MustCompile(`(bash|sh|zsh)\s+-c\b`), "shell execution is restricted"},
	},
}

// sensitivePaths are rejected in any artifact regardless of extension.
var sensitivePaths = []string{
	"/.ssh", "/etc/passwd", "/etc/shadow", "/root/", "/.bash_history",
}

// skippableArtifact reports whether an artifact is documentation and
// exempt from content screening, matching the screening the generation
// side applies.
func skippableArtifact(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".txt") ||
		strings.HasSuffix(lower, "license")
}

// =============================================================================
// Scanner
// =============================================================================

// Result is the outcome of screening one FileSet.
type Result struct {
	// Safe is true when no deny pattern matched.
	Safe bool

	// Issues lists every matched pattern with the offending location.
	Issues []string
}

// Scanner screens FileSets against the deny patterns.
//
// Thread Safety: Safe for concurrent use; all state is immutable after
// construction.
type Scanner struct {
	enabled bool
}

// NewScanner creates a scanner. A disabled scanner reports every
// FileSet as safe.
func NewScanner(enabled bool) *Scanner {
	return &Scanner{enabled: enabled}
}

// Enabled reports whether screening is active.
func (s *Scanner) Enabled() bool { return s != nil && s.enabled }

// Scan screens the build recipe and every artifact of the FileSet.
//
// Inputs:
//
//	fs - The FileSet to screen.
//
// Outputs:
//
//	Result - Safe=false with the full issue list when anything matched.
func (s *Scanner) Scan(fs datatypes.FileSet) Result {
	if !s.Enabled() {
		return Result{Safe: true}
	}

	var issues []string
	for _, p := range recipePatterns {
		if p.re.MatchString(fs.BuildRecipe) {
			issues = append(issues, fmt.Sprintf("build recipe: %s", p.reason))
		}
	}
	for _, a := range fs.Artifacts {
		issues = append(issues, scanArtifact(a)...)
	}
	return Result{Safe: len(issues) == 0, Issues: issues}
}

// ScanPatch screens only the parts a patch would change. Used after a
// merge so unchanged artifacts are not re-flagged redundantly.
func (s *Scanner) ScanPatch(patch datatypes.Patch) Result {
	if !s.Enabled() {
		return Result{Safe: true}
	}

	var issues []string
	if patch.BuildRecipe != nil {
		for _, p := range recipePatterns {
			if p.re.MatchString(*patch.BuildRecipe) {
				issues = append(issues, fmt.Sprintf("build recipe: %s", p.reason))
			}
		}
	}
	for _, a := range patch.Artifacts {
		issues = append(issues, scanArtifact(a)...)
	}
	return Result{Safe: len(issues) == 0, Issues: issues}
}

// scanArtifact applies extension-specific and universal patterns to one
// artifact.
func scanArtifact(a datatypes.FileArtifact) []string {
	if skippableArtifact(a.Name) {
		return nil
	}

	var issues []string
	ext := ""
	if idx := strings.LastIndex(a.Name, "."); idx >= 0 {
		ext = strings.ToLower(a.Name[idx:])
	}
	for _, p := range filePatterns[ext] {
		if p.re.MatchString(a.Content) {
			issues = append(issues, fmt.Sprintf("%s: %s", a.Name, p.reason))
		}
	}
	for _, p := range filePatterns["*"] {
		if p.re.MatchString(a.Content) {
			issues = append(issues, fmt.Sprintf("%s: %s", a.Name, p.reason))
		}
	}
	for _, path := range sensitivePaths {
		if strings.Contains(a.Content, path) {
			issues = append(issues, fmt.Sprintf("%s: references sensitive path %s", a.Name, path))
		}
	}
	return issues
}
