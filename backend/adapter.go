/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chainguard.dev/vlmensemble/backend/retry"
	"chainguard.dev/vlmensemble/experiment"
	"chainguard.dev/vlmensemble/imagestore"
	"chainguard.dev/vlmensemble/unit"
	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency bounds in-flight calls when WithConcurrency is not set.
const DefaultConcurrency = 4

// Adapter scores units with one backend. It is safe for concurrent use;
// the semaphore is shared by every caller.
type Adapter struct {
	id      ID
	invoker Invoker
	images  imagestore.Store
	rubrics experiment.RubricSet

	concurrency    int64
	sem            *semaphore.Weighted
	policy         retry.Policy
	extraRetryable []func(error) bool
	retryable      func(error) bool
	metrics        *Metrics
	now            func() time.Time
}

// New creates an Adapter for backend id.
func New(id ID, inv Invoker, images imagestore.Store, rubrics experiment.RubricSet, opts ...Option) (*Adapter, error) {
	if id != A && id != B {
		return nil, fmt.Errorf("backend id must be %q or %q, got %q", A, B, id)
	}
	if inv == nil {
		return nil, errors.New("invoker is required")
	}
	if images == nil {
		return nil, errors.New("image store is required")
	}
	a := &Adapter{
		id:          id,
		invoker:     inv,
		images:      images,
		rubrics:     rubrics,
		concurrency: DefaultConcurrency,
		policy:      retry.DefaultPolicy(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}
	a.sem = semaphore.NewWeighted(a.concurrency)

	preds := append([]func(error) bool{retry.IsTransient}, a.extraRetryable...)
	if c, ok := inv.(RetryClassifier); ok {
		preds = append(preds, c.IsRetryable)
	}
	a.retryable = retry.Any(preds...)
	return a, nil
}

// ID returns the backend identifier.
func (a *Adapter) ID() ID { return a.id }

// Model returns the invoker's model name.
func (a *Adapter) Model() string { return a.invoker.Model() }

// Score scores u. Failures are classified in the returned Response.
func (a *Adapter) Score(ctx context.Context, u unit.Unit) *Response {
	start := a.now()
	ctx, span := otel.Tracer("chainguard.dev/vlmensemble/backend",
		oteltrace.WithInstrumentationVersion("1.0.0")).
		Start(ctx, "backend.score", oteltrace.WithAttributes(
			attribute.String("unit_id", u.ID),
			attribute.String("backend", string(a.id)),
			attribute.String("model", a.invoker.Model()),
		))
	defer span.End()

	resp := a.score(ctx, u)
	resp.Latency = a.now().Sub(start)

	span.SetAttributes(
		attribute.String("outcome", string(resp.Outcome)),
		attribute.Int("attempts", resp.Attempts),
	)
	if !resp.OK() {
		span.SetStatus(codes.Error, resp.Detail)
	}
	if a.metrics != nil {
		a.metrics.Record(ctx, resp)
	}

	log := clog.FromContext(ctx).With("unit", u.ID, "backend", a.id, "model", resp.Model,
		"outcome", resp.Outcome, "attempts", resp.Attempts, "latency", resp.Latency)
	if resp.OK() {
		log.Debug("Scored unit")
	} else {
		log.With("detail", resp.Detail).Warn("Scoring failed")
	}
	return resp
}

func (a *Adapter) score(ctx context.Context, u unit.Unit) *Response {
	resp := &Response{Backend: a.id, Model: a.invoker.Model()}
	fail := func(o Outcome, format string, args ...any) *Response {
		resp.Outcome = o
		resp.Detail = fmt.Sprintf(format, args...)
		return resp
	}

	rubric, err := a.rubrics.Lookup(u.Category)
	if err != nil {
		return fail(OutcomeCallError, "rubric: %v", err)
	}

	roles := u.Images()
	images := make([]Image, 0, len(roles))
	for _, role := range roles {
		data, err := a.images.Read(ctx, u.Ref(role))
		if err != nil {
			return fail(OutcomeCallError, "image: %s: %v", role, err)
		}
		images = append(images, Image{Role: role, MIMEType: http.DetectContentType(data), Data: data})
	}

	prompt, err := rubric.Render(experiment.Subject{
		PromptID:   u.PromptID,
		Attributes: u.Attributes(),
		Images:     roles,
	})
	if err != nil {
		return fail(OutcomeCallError, "prompt: %v", err)
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return fail(OutcomeCallError, "waiting for backend slot: %v", err)
	}
	completion, attempts, err := retry.Do(ctx, a.policy, fmt.Sprintf("score backend %s", a.id), a.retryable,
		func(ctx context.Context) (*Completion, error) {
			return a.invoker.Invoke(ctx, images, prompt)
		})
	a.sem.Release(1)

	resp.Attempts = attempts
	if err != nil {
		if retry.IsTimeout(err) {
			return fail(OutcomeCallError, "timeout: %v", err)
		}
		return fail(OutcomeCallError, "%v", err)
	}
	resp.Usage = completion.Usage

	scores, err := ExtractScores(completion.Text, rubric.Dimensions, rubric.Range)
	if err != nil {
		return fail(OutcomeParseError, "%v", err)
	}
	resp.Outcome = OutcomeOK
	resp.Scores = scores
	return resp
}
