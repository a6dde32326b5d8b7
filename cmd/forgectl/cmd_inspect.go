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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	statusJSONOutput bool   // Output the raw snapshot as JSON
	filesOutputDir   string // Where to write the downloaded fileset
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show the current state of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatusCommand,
}

var filesCmd = &cobra.Command{
	Use:   "files [run-id]",
	Short: "Download the fileset of a finished run",
	Args:  cobra.ExactArgs(1),
	RunE:  runFilesCommand,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [run-id]",
	Short: "Cancel a run in flight",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancelCommand,
}

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Show the server's configured prompt templates",
	RunE:  runPromptsCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false,
		"Output the raw snapshot as JSON for scripting")
	filesCmd.Flags().StringVarP(&filesOutputDir, "output", "o", ".",
		"Directory to write the fileset into")
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func runStatusCommand(cmd *cobra.Command, args []string) error {
	snap, err := newClient().GetRun(context.Background(), args[0])
	if err != nil {
		return err
	}

	if statusJSONOutput {
		return json.NewEncoder(os.Stdout).Encode(snap)
	}

	fmt.Printf("Run:       %s\n", snap.RunID)
	fmt.Printf("State:     %s\n", snap.State)
	fmt.Printf("Iteration: %d\n", snap.Iteration)
	if snap.Result != nil {
		fmt.Printf("Accepted:  %t\n", snap.Result.Accepted)
		fmt.Printf("Used:      %d iterations\n", snap.Result.IterationsUsed)
		if snap.Result.Failure != "" {
			fmt.Printf("Failure:   %s\n", snap.Result.Failure)
		}
	}
	return nil
}

func runFilesCommand(cmd *cobra.Command, args []string) error {
	fs, err := newClient().GetFiles(context.Background(), args[0])
	if err != nil {
		return err
	}
	if err := writeFileSet(filesOutputDir, &fs); err != nil {
		return err
	}
	fmt.Printf("Wrote %d files to %s\n", len(fs.Artifacts)+1, filesOutputDir)
	return nil
}

func runCancelCommand(cmd *cobra.Command, args []string) error {
	if err := newClient().Cancel(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Cancellation requested for %s\n", args[0])
	return nil
}

func runPromptsCommand(cmd *cobra.Command, args []string) error {
	prompts, err := newClient().Prompts(context.Background())
	if err != nil {
		return err
	}
	fmt.Println("--- generate_code_prompt ---")
	fmt.Println(prompts.GeneratePrompt)
	fmt.Println("--- validate_output_prompt ---")
	fmt.Println(prompts.ValidatePrompt)
	return nil
}
