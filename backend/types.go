/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backend

import (
	"context"
	"time"

	"chainguard.dev/vlmensemble/experiment"
)

// ID names one of the two ensemble members.
type ID string

const (
	A ID = "A"
	B ID = "B"
)

// Outcome classifies a scoring call.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeParseError Outcome = "parse_error"
	OutcomeCallError  Outcome = "call_error"
)

// Usage is the token accounting reported by a backend.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Response is the result of scoring one unit with one backend.
type Response struct {
	Backend  ID
	Model    string
	Outcome  Outcome
	Scores   map[string]experiment.Score
	Detail   string
	Latency  time.Duration
	Attempts int
	Usage    Usage
}

// OK reports whether the response carries scores.
func (r *Response) OK() bool {
	return r != nil && r.Outcome == OutcomeOK
}

// Image is an image attached to a scoring request.
type Image struct {
	Role     experiment.ImageRole
	MIMEType string
	Data     []byte
}

// Completion is the raw reply of a backend.
type Completion struct {
	Text  string
	Usage Usage
}

// Invoker sends one multimodal request to a model.
type Invoker interface {
	// Model returns the model name, used for logs and metrics.
	Model() string

	// Invoke sends the images followed by the prompt and returns the reply.
	Invoke(ctx context.Context, images []Image, prompt string) (*Completion, error)
}

// RetryClassifier is implemented by invokers that recognize their SDK's
// transient errors.
type RetryClassifier interface {
	IsRetryable(err error) bool
}
