/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package ensemble reconciles the judgments of two backends into a single
// record per unit.
package ensemble

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"chainguard.dev/vlmensemble/backend"
	"chainguard.dev/vlmensemble/experiment"
	"chainguard.dev/vlmensemble/unit"
)

// DefaultTolerance is the largest score gap, in rubric steps, that still
// counts as agreement.
const DefaultTolerance = 1

// Resolver reconciles backend responses. It is stateless and safe for
// concurrent use.
type Resolver struct {
	rubrics   experiment.RubricSet
	tolerance int
	now       func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver) error

// WithTolerance sets the agreement tolerance in rubric steps.
func WithTolerance(steps int) Option {
	return func(r *Resolver) error {
		if steps < 0 {
			return fmt.Errorf("tolerance cannot be negative, got %d", steps)
		}
		r.tolerance = steps
		return nil
	}
}

// WithClock sets the clock used for ResolvedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		r.now = now
		return nil
	}
}

// NewResolver returns a Resolver for the categories in rubrics.
func NewResolver(rubrics experiment.RubricSet, opts ...Option) (*Resolver, error) {
	r := &Resolver{rubrics: rubrics, tolerance: DefaultTolerance, now: time.Now}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}
	return r, nil
}

// Resolve combines the responses of backends A and B for u.
func (r *Resolver) Resolve(u unit.Unit, a, b *backend.Response) *Record {
	rec := &Record{
		UnitID:     u.ID,
		Model:      u.Model,
		Category:   u.Category,
		PromptID:   u.PromptID,
		Dimensions: map[string]Dimension{},
		Backends:   map[backend.ID]BackendSummary{},
		ResolvedAt: r.now().UTC(),
	}
	if attrs := u.Attributes(); len(attrs) > 0 {
		rec.Attributes = attrs
	}
	for id, resp := range map[backend.ID]*backend.Response{backend.A: a, backend.B: b} {
		if resp != nil {
			rec.Backends[id] = summarize(resp)
		}
	}

	dims, rng := r.dimensions(u.Category, a, b)

	switch {
	case a.OK() && b.OK():
		rec.Outcome = OutcomeSuccess
		for _, dim := range dims {
			d := r.reconcile(a.Scores[dim], b.Scores[dim], rng)
			d.A, d.B = ptr(a.Scores[dim]), ptr(b.Scores[dim])
			if !*d.Agreement {
				rec.Outcome = OutcomeNeedsReview
			}
			rec.Dimensions[dim] = d
		}

	case a.OK() || b.OK():
		rec.Outcome = OutcomeDegraded
		ok, failed := a, b
		if b.OK() {
			ok, failed = b, a
		}
		rec.ErrorReason = failureReason(failed)
		for _, dim := range dims {
			d := Dimension{Final: ok.Scores[dim]}
			if ok == a {
				d.A = ptr(a.Scores[dim])
			} else {
				d.B = ptr(b.Scores[dim])
			}
			rec.Dimensions[dim] = d
		}

	default:
		rec.Outcome = OutcomeError
		rec.ErrorReason = string(backend.OutcomeCallError)
		if outcomeOf(a) == backend.OutcomeParseError || outcomeOf(b) == backend.OutcomeParseError {
			rec.ErrorReason = string(backend.OutcomeParseError)
		}
	}
	return rec
}

// reconcile applies the agreement policy to one pair of scores.
func (r *Resolver) reconcile(a, b experiment.Score, rng experiment.Range) Dimension {
	switch {
	case !a.Applicable() && !b.Applicable():
		return Dimension{Final: experiment.NotApplicable, Agreement: ptr(true)}
	case !a.Applicable():
		return Dimension{Final: b, Agreement: ptr(false)}
	case !b.Applicable():
		return Dimension{Final: a, Agreement: ptr(false)}
	}
	gap := int(a) - int(b)
	if gap < 0 {
		gap = -gap
	}
	if gap <= r.tolerance {
		return Dimension{Final: a, Agreement: ptr(true)}
	}
	return Dimension{Final: rng.Nearest(float64(a+b) / 2), Agreement: ptr(false)}
}

// dimensions returns the rubric's dimensions for category, falling back
// to the union of the scored dimensions when no rubric is configured.
func (r *Resolver) dimensions(category string, responses ...*backend.Response) ([]string, experiment.Range) {
	if rubric, err := r.rubrics.Lookup(category); err == nil {
		return rubric.Dimensions, rubric.Range
	}
	seen := map[string]struct{}{}
	for _, resp := range responses {
		if resp.OK() {
			for k := range resp.Scores {
				seen[k] = struct{}{}
			}
		}
	}
	return slices.Sorted(maps.Keys(seen)), experiment.DefaultRange
}

func summarize(resp *backend.Response) BackendSummary {
	return BackendSummary{
		Model:     resp.Model,
		Outcome:   resp.Outcome,
		Detail:    resp.Detail,
		LatencyMS: resp.Latency.Milliseconds(),
		Attempts:  resp.Attempts,
		Usage:     resp.Usage,
	}
}

func outcomeOf(resp *backend.Response) backend.Outcome {
	if resp == nil {
		return backend.OutcomeCallError
	}
	return resp.Outcome
}

func failureReason(resp *backend.Response) string {
	return string(outcomeOf(resp))
}

func ptr[T any](v T) *T {
	return &v
}
