/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/vertex"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"google.golang.org/genai"
)

// Config selects and authenticates a model.
type Config struct {
	// Model is the model name. Its prefix picks the provider.
	Model string

	// Project and Region select the Vertex AI endpoint for Claude and
	// Gemini models when APIKey is empty.
	Project string
	Region  string

	// APIKey authenticates directly against the provider's API.
	APIKey string
}

// NewInvoker builds an Invoker for cfg.Model: claude-* models use the
// Anthropic SDK, gemini-* models use the Google Gen AI SDK and gpt-* or
// o<digit>* models use the OpenAI SDK.
func NewInvoker(ctx context.Context, cfg Config) (Invoker, error) {
	model := strings.ToLower(cfg.Model)
	switch {
	case strings.HasPrefix(model, "claude-"):
		if cfg.APIKey != "" {
			return NewClaude(anthropic.NewClient(anthropicoption.WithAPIKey(cfg.APIKey)), cfg.Model), nil
		}
		if cfg.Project == "" || cfg.Region == "" {
			return nil, fmt.Errorf("model %s: project and region are required for Vertex AI", cfg.Model)
		}
		return NewClaude(anthropic.NewClient(vertex.WithGoogleAuth(ctx, cfg.Region, cfg.Project)), cfg.Model), nil

	case strings.HasPrefix(model, "gemini-"):
		cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
		if cfg.APIKey == "" {
			if cfg.Project == "" || cfg.Region == "" {
				return nil, fmt.Errorf("model %s: project and region are required for Vertex AI", cfg.Model)
			}
			cc = &genai.ClientConfig{Project: cfg.Project, Location: cfg.Region, Backend: genai.BackendVertexAI}
		}
		client, err := genai.NewClient(ctx, cc)
		if err != nil {
			return nil, fmt.Errorf("creating genai client: %w", err)
		}
		return NewGemini(client, cfg.Model), nil

	case isOpenAIModel(model):
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("model %s: an API key is required", cfg.Model)
		}
		return NewOpenAI(openai.NewClient(openaioption.WithAPIKey(cfg.APIKey)), cfg.Model), nil
	}
	return nil, fmt.Errorf("unsupported model: %s (expected claude-*, gemini-* or gpt-*)", cfg.Model)
}

func isOpenAIModel(model string) bool {
	if strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "chatgpt-") {
		return true
	}
	return len(model) > 1 && model[0] == 'o' && model[1] >= '0' && model[1] <= '9'
}
