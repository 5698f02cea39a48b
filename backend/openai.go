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

	"github.com/openai/openai-go"
)

// OpenAI invokes OpenAI models through the Chat Completions API.
type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
}

var (
	_ Invoker         = (*OpenAI)(nil)
	_ RetryClassifier = (*OpenAI)(nil)
)

// NewOpenAI returns an invoker for model using client.
func NewOpenAI(client openai.Client, model string) *OpenAI {
	return &OpenAI{client: client, model: model}
}

// Model implements Invoker.
func (o *OpenAI) Model() string { return o.model }

// Invoke implements Invoker. Images are sent inline as data URLs.
func (o *OpenAI) Invoke(ctx context.Context, images []Image, prompt string) (*Completion, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, 2*len(images)+1)
	for i, img := range images {
		parts = append(parts,
			openai.TextContentPart(imageLabel(i, img)),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
			}),
		)
	}
	parts = append(parts, openai.TextContentPart(prompt))

	res, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
		Temperature: openai.Float(o.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(res.Choices) == 0 {
		return nil, errors.New("openai chat completion returned no choices")
	}
	return &Completion{
		Text: res.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
		},
	}, nil
}

// IsRetryable implements RetryClassifier for rate limit and server errors.
func (o *OpenAI) IsRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
