/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini invokes Google models through the GenerateContent API.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
}

var (
	_ Invoker         = (*Gemini)(nil)
	_ RetryClassifier = (*Gemini)(nil)
)

// NewGemini returns an invoker for model using client.
func NewGemini(client *genai.Client, model string) *Gemini {
	return &Gemini{client: client, model: model}
}

// Model implements Invoker.
func (g *Gemini) Model() string { return g.model }

// Invoke implements Invoker.
func (g *Gemini) Invoke(ctx context.Context, images []Image, prompt string) (*Completion, error) {
	parts := make([]*genai.Part, 0, 2*len(images)+1)
	for i, img := range images {
		parts = append(parts,
			genai.NewPartFromText(imageLabel(i, img)),
			genai.NewPartFromBytes(img.Data, img.MIMEType),
		)
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr(g.temperature),
			ResponseMIMEType: "application/json",
		})
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	c := &Completion{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		c.Usage = Usage{
			PromptTokens:     int64(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return c, nil
}

// IsRetryable implements RetryClassifier. Vertex surfaces quota and
// overload conditions through several error shapes.
func (g *Gemini) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429, 500, 503, 504:
			return true
		}
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Resource exhausted") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "Overloaded") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "quota exceeded") ||
		strings.Contains(errStr, "Internal error") ||
		strings.Contains(errStr, "server error")
}
