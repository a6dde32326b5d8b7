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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

// =============================================================================
// API Client
// =============================================================================

// Client is a thin HTTP client for the forge run API.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the given server base URL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// Synchronous submissions can span many sandbox cycles, so the
		// client itself carries no timeout; callers bound it via ctx.
		http: &http.Client{},
	}
}

// StartRun submits a run. With wait=true the call blocks until the run
// reaches a terminal state and returns the RunResult; with wait=false
// it returns immediately and only the run ID is populated.
func (c *Client) StartRun(ctx context.Context, req datatypes.StartRunRequest) (string, *datatypes.RunResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/runs", bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", nil, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result datatypes.RunResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return "", nil, fmt.Errorf("failed to decode run result: %w", err)
		}
		return result.RunID, &result, nil
	case http.StatusAccepted:
		var accepted datatypes.StartRunAccepted
		if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
			return "", nil, fmt.Errorf("failed to decode accepted response: %w", err)
		}
		return accepted.RunID, nil, nil
	default:
		return "", nil, c.apiError(resp)
	}
}

// GetRun fetches the live snapshot of a run.
func (c *Client) GetRun(ctx context.Context, runID string) (datatypes.RunSnapshot, error) {
	var snap datatypes.RunSnapshot
	err := c.getJSON(ctx, "/v1/runs/"+runID, &snap)
	return snap, err
}

// GetFiles fetches the fileset of a terminal run.
func (c *Client) GetFiles(ctx context.Context, runID string) (datatypes.FileSet, error) {
	var fs datatypes.FileSet
	err := c.getJSON(ctx, "/v1/runs/"+runID+"/files", &fs)
	return fs, err
}

// Cancel requests cancellation of a live run.
func (c *Client) Cancel(ctx context.Context, runID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/v1/runs/"+runID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return c.apiError(resp)
	}
	return nil
}

// Prompts fetches the server's configured prompt templates.
func (c *Client) Prompts(ctx context.Context) (datatypes.PromptsResponse, error) {
	var prompts datatypes.PromptsResponse
	err := c.getJSON(ctx, "/v1/prompts", &prompts)
	return prompts, err
}

// WaitForTerminal polls a run until its snapshot carries a result.
func (c *Client) WaitForTerminal(ctx context.Context, runID string, interval time.Duration) (*datatypes.RunResult, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		snap, err := c.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if snap.Result != nil {
			return snap.Result, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// apiError extracts the server's error message when one is present.
func (c *Client) apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
