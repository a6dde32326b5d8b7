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
	"os"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL string
	authToken string

	rootCmd = &cobra.Command{
		Use:   "forgectl",
		Short: "A cli to drive the AleutianForge construction service",
		Long: `Forgectl submits construction runs to a forge server, follows
their progress, downloads the resulting filesets, and cancels runs
in flight.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if env := os.Getenv("FORGE_SERVER_URL"); serverURL == "" && env != "" {
				serverURL = env
			}
			if serverURL == "" {
				serverURL = "http://localhost:12310"
			}
			if authToken == "" {
				authToken = os.Getenv("FORGE_AUTH_TOKEN")
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"Forge server base URL (default http://localhost:12310, env FORGE_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "",
		"Bearer token for authenticated servers (env FORGE_AUTH_TOKEN)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(promptsCmd)
}

// newClient builds an API client from the global flags.
func newClient() *Client {
	return NewClient(serverURL, authToken)
}
