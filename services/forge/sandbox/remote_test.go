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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec() Spec {
	return Spec{
		RunID: "alice-1",
		FileSet: datatypes.FileSet{
			BuildRecipe: "FROM python:3.10-slim",
			Artifacts:   []datatypes.FileArtifact{{Name: "main.py", Content: "print(1)"}},
		},
	}
}

func newRemote(t *testing.T, handler http.HandlerFunc) *RemoteExecutor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	exec, err := NewRemoteExecutor(RemoteConfig{BaseURL: srv.URL, AuthToken: "secret"}, nil)
	require.NoError(t, err)
	return exec
}

func TestRemoteExecutor_SuccessfulRun(t *testing.T) {
	var gotAuth string
	var gotReq remoteRequest
	exec := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(remoteResponse{Output: "1\n2\n", ExitCode: 0})
	})

	res, err := exec.Execute(context.Background(), validSpec())
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, "1\n2\n", res.CombinedOutput)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "alice-1", gotReq.RunID)
	assert.False(t, gotReq.AllowNetwork)
}

func TestRemoteExecutor_NonZeroExitIsNotAnError(t *testing.T) {
	exec := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remoteResponse{Output: "Traceback...", ExitCode: 1})
	})

	res, err := exec.Execute(context.Background(), validSpec())
	require.NoError(t, err)
	assert.False(t, res.Succeeded)
	assert.Contains(t, res.CombinedOutput, "Traceback")
}

func TestRemoteExecutor_TimedOutRunIsNotAnError(t *testing.T) {
	exec := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remoteResponse{Output: "partial", ExitCode: 0, TimedOut: true})
	})

	res, err := exec.Execute(context.Background(), validSpec())
	require.NoError(t, err)
	assert.False(t, res.Succeeded)
	assert.Contains(t, res.CombinedOutput, "execution timed out")
}

func TestRemoteExecutor_ServerErrorIsEngineFault(t *testing.T) {
	exec := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := exec.Execute(context.Background(), validSpec())
	assert.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestRemoteExecutor_UnknownResponseFieldIsEngineFault(t *testing.T) {
	exec := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output":"x","exit_code":0,"timed_out":false,"extra":1}`))
	})

	_, err := exec.Execute(context.Background(), validSpec())
	assert.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestRemoteExecutor_UnreachableRunnerIsEngineFault(t *testing.T) {
	exec, err := NewRemoteExecutor(RemoteConfig{BaseURL: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), validSpec())
	assert.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestRemoteExecutor_InvalidFileSetIsEngineFault(t *testing.T) {
	exec := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("runner should not be called for an invalid fileset")
	})

	spec := validSpec()
	spec.FileSet.Artifacts[0].Name = "../escape.py"

	_, err := exec.Execute(context.Background(), spec)
	assert.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestNewRemoteExecutor_RequiresBaseURL(t *testing.T) {
	_, err := NewRemoteExecutor(RemoteConfig{}, nil)
	assert.Error(t, err)
}
