// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	runTask          string // Task description, inline
	runTaskFile      string // Task description, from file
	runConditions    string // Acceptance conditions, inline
	runConditionFile string // Acceptance conditions, from file
	runMaxIterations int    // Per-run iteration budget override
	runAllowNetwork  bool   // Permit outbound network in the sandbox
	runAsync         bool   // Submit and return the run ID immediately
	runOutputDir     string // Where to write the final fileset
	runPollSeconds   int    // Poll interval when following an async run
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// runCmd submits a construction run and follows it to completion.
//
// # Description
//
// Sends the task description and acceptance conditions to the forge
// server, which generates a candidate program, executes it in a
// sandbox, and iterates on validator feedback until the output is
// accepted or the iteration budget runs out. The final fileset is
// written to --output when the run produced one.
//
// # Examples
//
//	forgectl run -t "print the first 10 primes" -c "output lists 2..29"
//	forgectl run --task-file task.txt --conditions-file accept.txt -o ./out
//	forgectl run -t "..." -c "..." --async       # just print the run ID
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a construction run and wait for its result",
	Long: `Submits a construction run to the forge server.

The server iterates generate -> execute -> validate until the acceptance
conditions are met or the iteration budget is exhausted. By default the
command blocks until the run finishes and writes the resulting files to
the output directory.

Examples:
  forgectl run -t "print the first 10 primes" -c "output lists 2..29"
  forgectl run --task-file task.txt --conditions-file accept.txt -o ./out
  forgectl run -t "..." -c "..." --max-iterations 5
  forgectl run -t "..." -c "..." --async`,
	RunE: runRunCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	runCmd.Flags().StringVarP(&runTask, "task", "t", "",
		"Task description (what to build)")
	runCmd.Flags().StringVar(&runTaskFile, "task-file", "",
		"Read the task description from a file")
	runCmd.Flags().StringVarP(&runConditions, "conditions", "c", "",
		"Acceptance conditions (what the validator judges)")
	runCmd.Flags().StringVar(&runConditionFile, "conditions-file", "",
		"Read the acceptance conditions from a file")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0,
		"Per-run iteration budget override (1-100)")
	runCmd.Flags().BoolVar(&runAllowNetwork, "allow-network", false,
		"Permit outbound network access inside the sandbox")
	runCmd.Flags().BoolVar(&runAsync, "async", false,
		"Submit and print the run ID without waiting")
	runCmd.Flags().StringVarP(&runOutputDir, "output", "o", "",
		"Directory to write the final fileset into")
	runCmd.Flags().IntVar(&runPollSeconds, "poll-seconds", 2,
		"Poll interval when following a run")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runRunCommand(cmd *cobra.Command, args []string) error {
	task, err := resolveText(runTask, runTaskFile, "task")
	if err != nil {
		return err
	}
	conditions, err := resolveText(runConditions, runConditionFile, "conditions")
	if err != nil {
		return err
	}

	wait := !runAsync
	req := datatypes.StartRunRequest{
		RequestID:            uuid.NewString(),
		TaskDescription:      task,
		AcceptanceConditions: conditions,
		Wait:                 &wait,
		MaxIterations:        runMaxIterations,
		AllowNetwork:         runAllowNetwork,
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid run request: %w", err)
	}

	client := newClient()
	ctx := context.Background()

	runID, result, err := client.StartRun(ctx, req)
	if err != nil {
		return err
	}

	if runAsync {
		fmt.Println(runID)
		return nil
	}

	// Servers answer synchronous submissions with the result inline;
	// fall back to polling if this one chose to detach anyway.
	if result == nil {
		fmt.Printf("Run %s submitted, waiting...\n", runID)
		result, err = client.WaitForTerminal(ctx, runID, time.Duration(runPollSeconds)*time.Second)
		if err != nil {
			return err
		}
	}

	return reportResult(result)
}

// reportResult prints the terminal state and writes the fileset.
func reportResult(result *datatypes.RunResult) error {
	fmt.Printf("Run %s finished: %s (%d iterations)\n",
		result.RunID, result.State, result.IterationsUsed)
	if result.Failure != "" {
		fmt.Printf("Failure: %s\n", result.Failure)
	}

	if result.FinalFileSet != nil && runOutputDir != "" {
		if err := writeFileSet(runOutputDir, result.FinalFileSet); err != nil {
			return err
		}
		fmt.Printf("Wrote %d files to %s\n",
			len(result.FinalFileSet.Artifacts)+1, runOutputDir)
	}

	if result.State != datatypes.RunStateSucceeded {
		os.Exit(1)
	}
	return nil
}

// writeFileSet lays the build recipe and artifacts out on disk.
func writeFileSet(dir string, fs *datatypes.FileSet) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(fs.BuildRecipe), 0o644); err != nil {
		return fmt.Errorf("failed to write Dockerfile: %w", err)
	}
	for _, artifact := range fs.Artifacts {
		path := filepath.Join(dir, filepath.FromSlash(artifact.Name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", artifact.Name, err)
		}
		if err := os.WriteFile(path, []byte(artifact.Content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", artifact.Name, err)
		}
	}
	return nil
}

// resolveText picks the inline value or reads the file, requiring
// exactly one of the two.
func resolveText(inline, file, what string) (string, error) {
	switch {
	case inline != "" && file != "":
		return "", fmt.Errorf("provide --%s or --%s-file, not both", what, what)
	case inline != "":
		return inline, nil
	case file != "":
		raw, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s file: %w", what, err)
		}
		if strings.TrimSpace(string(raw)) == "" {
			return "", fmt.Errorf("%s file %s is empty", what, file)
		}
		return string(raw), nil
	default:
		return "", fmt.Errorf("a %s is required (--%s or --%s-file)", what, what, what)
	}
}
