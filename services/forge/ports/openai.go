// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/sashabaranov/go-openai"
)

// =============================================================================
// Wire Schemas
// =============================================================================

// generateSchema is the strict JSON schema the generation port requires
// from the model.
var generateSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "dockerfile": {"type": "string"},
    "files": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "filename": {"type": "string"},
          "content": {"type": "string"}
        },
        "required": ["filename", "content"],
        "additionalProperties": false
      }
    }
  },
  "required": ["dockerfile", "files"],
  "additionalProperties": false
}`)

// validateSchema is the strict JSON schema the validation port requires
// from the model. dockerfile and files must be JSON null on acceptance.
var validateSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "result": {"type": "boolean"},
    "dockerfile": {"anyOf": [{"type": "string"}, {"type": "null"}]},
    "files": {
      "anyOf": [
        {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "filename": {"type": "string"},
              "content": {"type": "string"}
            },
            "required": ["filename", "content"],
            "additionalProperties": false
          }
        },
        {"type": "null"}
      ]
    }
  },
  "required": ["result", "dockerfile", "files"],
  "additionalProperties": false
}`)

// generateWire mirrors generateSchema.
type generateWire struct {
	Dockerfile string                   `json:"dockerfile"`
	Files      []datatypes.FileArtifact `json:"files"`
}

// validateWire mirrors validateSchema. Result is a pointer so a missing
// discriminant is distinguishable from false.
type validateWire struct {
	Result     *bool                    `json:"result"`
	Dockerfile *string                  `json:"dockerfile"`
	Files      []datatypes.FileArtifact `json:"files"`
}

// =============================================================================
// OpenAI Ports
// =============================================================================

// OpenAIConfig carries the connection settings for the model ports.
type OpenAIConfig struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// Model selects the chat model. Required.
	Model string

	// BaseURL overrides the API endpoint, for OpenAI-compatible servers
	// and for tests. Empty uses the public endpoint.
	BaseURL string

	// Temperature for both ports. Zero keeps the provider default.
	Temperature float32
}

// OpenAIPorts implements Generator and Validator against an
// OpenAI-compatible chat completions API using strict structured
// outputs.
//
// Thread Safety: Safe for concurrent use; per-run prompt state lives in
// the PromptConfig value, not on the client.
type OpenAIPorts struct {
	client  *openai.Client
	model   string
	temp    float32
	prompts PromptConfig
}

var (
	_ Generator = (*OpenAIPorts)(nil)
	_ Validator = (*OpenAIPorts)(nil)
)

// NewOpenAIPorts creates the model ports for one run's prompt
// configuration.
func NewOpenAIPorts(cfg OpenAIConfig, prompts PromptConfig) (*OpenAIPorts, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("openai model is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIPorts{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		temp:    cfg.Temperature,
		prompts: prompts,
	}, nil
}

// complete issues one structured-output chat completion and returns the
// raw JSON content, or the refusal sentinel when the model declined.
func (o *OpenAIPorts) complete(ctx context.Context, system, user, schemaName string, schema json.RawMessage, refusalErr error) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName,
				Schema: schema,
				Strict: true,
			},
		},
	}
	if o.temp > 0 {
		req.Temperature = o.temp
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		slog.Warn("model refused structured request", "schema", schemaName, "refusal", msg.Refusal)
		return "", fmt.Errorf("%w: %s", refusalErr, msg.Refusal)
	}
	return msg.Content, nil
}

// decodeStrict parses JSON content rejecting unknown fields and
// trailing data.
func decodeStrict(content string, out any) error {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", ErrMalformedResponse)
	}
	return nil
}

// Generate produces the seed FileSet for a run.
//
// # Description
//
// Renders the generation template, requests a strict structured
// completion, and validates the resulting FileSet's structural
// invariants before returning it.
//
// Outputs:
//
//	datatypes.FileSet - A structurally valid candidate.
//	error             - ErrGenerationRefused on refusal, ErrMalformedResponse
//	                    on schema violations, transport errors otherwise.
func (o *OpenAIPorts) Generate(ctx context.Context, in GenerateInput) (datatypes.FileSet, error) {
	user := o.prompts.renderGeneratePrompt(in)

	content, err := o.complete(ctx, generateSystemPrompt, user, "generate_code", generateSchema, ErrGenerationRefused)
	if err != nil {
		return datatypes.FileSet{}, err
	}

	var wire generateWire
	if err := decodeStrict(content, &wire); err != nil {
		return datatypes.FileSet{}, err
	}

	fs := datatypes.FileSet{BuildRecipe: wire.Dockerfile, Artifacts: wire.Files}
	if err := fs.Validate(); err != nil {
		return datatypes.FileSet{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	slog.Debug("generation port produced candidate", "artifacts", len(fs.Artifacts))
	return fs, nil
}

// Validate judges one execution against the acceptance conditions.
//
// # Description
//
// Renders the validation template with the current FileSet and output,
// requests a strict structured completion, and maps the sum-typed wire
// response onto a ValidationVerdict. An accepted verdict that also
// carries patch content is rejected as malformed rather than coerced.
//
// Outputs:
//
//	datatypes.ValidationVerdict - Accepted, or not accepted with an
//	                              optional patch.
//	error                       - ErrValidationRefused on refusal,
//	                              ErrMalformedResponse on schema violations.
func (o *OpenAIPorts) Validate(ctx context.Context, in ValidateInput) (datatypes.ValidationVerdict, error) {
	filesJSON, err := json.MarshalIndent(in.FileSet.Artifacts, "", "  ")
	if err != nil {
		return datatypes.ValidationVerdict{}, fmt.Errorf("encode artifacts: %w", err)
	}
	user := o.prompts.renderValidatePrompt(in, string(filesJSON))

	content, err := o.complete(ctx, validateSystemPrompt, user, "validate_output", validateSchema, ErrValidationRefused)
	if err != nil {
		return datatypes.ValidationVerdict{}, err
	}

	var wire validateWire
	if err := decodeStrict(content, &wire); err != nil {
		return datatypes.ValidationVerdict{}, err
	}
	if wire.Result == nil {
		return datatypes.ValidationVerdict{}, fmt.Errorf("%w: missing result discriminant", ErrMalformedResponse)
	}

	if *wire.Result {
		if wire.Dockerfile != nil || wire.Files != nil {
			return datatypes.ValidationVerdict{}, fmt.Errorf("%w: accepted verdict carries patch content", ErrMalformedResponse)
		}
		return datatypes.ValidationVerdict{Accepted: true}, nil
	}

	verdict := datatypes.ValidationVerdict{Accepted: false}
	if wire.Dockerfile != nil || wire.Files != nil {
		verdict.Patch = &datatypes.Patch{BuildRecipe: wire.Dockerfile, Artifacts: wire.Files}
	}
	return verdict, nil
}
