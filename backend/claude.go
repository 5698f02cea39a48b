/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backend

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// Claude invokes Anthropic models through the Messages API.
type Claude struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

var (
	_ Invoker         = (*Claude)(nil)
	_ RetryClassifier = (*Claude)(nil)
)

// NewClaude returns an invoker for model using client.
func NewClaude(client anthropic.Client, model string) *Claude {
	return &Claude{client: client, model: model, maxTokens: 2048}
}

// Model implements Invoker.
func (c *Claude) Model() string { return c.model }

// Invoke implements Invoker.
func (c *Claude) Invoke(ctx context.Context, images []Image, prompt string) (*Completion, error) {
	content := make([]anthropic.ContentBlockParamUnion, 0, 2*len(images)+1)
	for i, img := range images {
		content = append(content,
			anthropic.NewTextBlock(imageLabel(i, img)),
			anthropic.NewImageBlockBase64(img.MIMEType, base64.StdEncoding.EncodeToString(img.Data)),
		)
	}
	content = append(content, anthropic.NewTextBlock(prompt))

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(content...)},
	})
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &Completion{
		Text: sb.String(),
		Usage: Usage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
		},
	}, nil
}

// IsRetryable implements RetryClassifier for rate limit and overload errors.
func (c *Claude) IsRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504, 529:
			return true
		}
	}
	return false
}

func imageLabel(i int, img Image) string {
	return fmt.Sprintf("Image %d (%s):", i+1, img.Role)
}
