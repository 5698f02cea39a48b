/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package dispatcher evaluates units with both backends on a bounded worker
// pool and checkpoints every resolved record.
//
// Each unit moves through pending, in flight on both backends at once,
// resolved, and persisted. Units already in the checkpoint are never
// scheduled, so an interrupted run resumes where it stopped:
//
//	d, err := dispatcher.New(claude, gemini, resolver, store,
//		dispatcher.WithConcurrency(8),
//		dispatcher.WithAggregator(agg))
//	if err != nil {
//		return err
//	}
//	summary, err := d.Run(ctx, enumeration.Units)
//
// Cancelling ctx stops scheduling; units already in flight finish and are
// persisted. A checkpoint write failure aborts the run.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"chainguard.dev/vlmensemble/backend"
	"chainguard.dev/vlmensemble/checkpoint"
	"chainguard.dev/vlmensemble/ensemble"
	"chainguard.dev/vlmensemble/stats"
	"chainguard.dev/vlmensemble/unit"
	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"
)

// Scorer scores a unit with one backend. *backend.Adapter implements it.
type Scorer interface {
	ID() backend.ID
	Score(ctx context.Context, u unit.Unit) *backend.Response
}

// Resolver combines two responses. *ensemble.Resolver implements it.
type Resolver interface {
	Resolve(u unit.Unit, a, b *backend.Response) *ensemble.Record
}

// Checkpoint persists records. *checkpoint.Store implements it.
type Checkpoint interface {
	Has(unitID string) bool
	Append(ctx context.Context, rec *ensemble.Record) error
}

// Dispatcher runs the evaluation of a batch of units.
type Dispatcher struct {
	a, b     Scorer
	resolver Resolver
	store    Checkpoint

	concurrency int
	aggregator  *stats.Aggregator
	observer    *stats.MetricsObserver
	progress    func(Progress)
}

// New returns a Dispatcher scoring with a as backend A and b as backend B.
func New(a, b Scorer, resolver Resolver, store Checkpoint, opts ...Option) (*Dispatcher, error) {
	if a == nil || b == nil {
		return nil, errors.New("both scorers are required")
	}
	if a.ID() != backend.A || b.ID() != backend.B {
		return nil, fmt.Errorf("scorers must be backends %s and %s, got %s and %s", backend.A, backend.B, a.ID(), b.ID())
	}
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if store == nil {
		return nil, errors.New("checkpoint is required")
	}
	d := &Dispatcher{
		a:           a,
		b:           b,
		resolver:    resolver,
		store:       store,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}
	return d, nil
}

// Run evaluates every unit not yet checkpointed. The returned Summary is
// valid even when an error is returned.
func (d *Dispatcher) Run(ctx context.Context, units []unit.Unit) (*Summary, error) {
	log := clog.FromContext(ctx)
	summary := &Summary{Enumerated: len(units)}

	seen := make(map[string]struct{}, len(units))
	schedule := make([]unit.Unit, 0, len(units))
	for _, u := range units {
		if _, ok := seen[u.ID]; ok {
			summary.Duplicates++
			log.With("unit", u.ID).Warn("Dropping duplicate unit")
			continue
		}
		seen[u.ID] = struct{}{}
		if d.store.Has(u.ID) {
			summary.AlreadyComplete++
			continue
		}
		schedule = append(schedule, u)
	}
	summary.Scheduled = len(schedule)
	log.With("enumerated", summary.Enumerated, "already_complete", summary.AlreadyComplete,
		"scheduled", summary.Scheduled, "concurrency", d.concurrency).Info("Starting evaluation")

	work := make(chan unit.Unit)
	persisted := make(chan *ensemble.Record)
	owned := make(chan struct{})
	go func() {
		defer close(owned)
		d.own(ctx, summary, persisted)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(work)
		for _, u := range schedule {
			if gctx.Err() != nil {
				return nil
			}
			select {
			case <-gctx.Done():
				return nil
			case work <- u:
			}
		}
		return nil
	})
	for range d.concurrency {
		g.Go(func() error {
			for u := range work {
				rec := d.evaluate(ctx, u)
				if err := d.store.Append(context.WithoutCancel(ctx), rec); err != nil {
					if errors.Is(err, checkpoint.ErrDuplicate) {
						log.With("unit", u.ID).Warn("Unit was checkpointed concurrently, dropping result")
						continue
					}
					return fmt.Errorf("persisting %s: %w", u.ID, err)
				}
				persisted <- rec
			}
			return nil
		})
	}
	err := g.Wait()
	close(persisted)
	<-owned

	summary.Pending = summary.Scheduled - summary.Persisted
	summary.Cancelled = ctx.Err() != nil
	log = log.With("persisted", summary.Persisted, "pending", summary.Pending,
		"success", summary.Tally.Success, "needs_review", summary.Tally.NeedsReview,
		"degraded", summary.Tally.Degraded, "error", summary.Tally.Error)
	switch {
	case err != nil:
		log.With("error", err).Error("Evaluation aborted")
		return summary, err
	case summary.Cancelled:
		log.Warn("Evaluation cancelled, rerun to resume pending units")
	default:
		log.Info("Evaluation complete")
	}
	return summary, nil
}

// evaluate scores u with both backends concurrently and resolves the pair
// once both have settled. The calls are detached from cancellation so an
// interrupted run still persists the units it started.
func (d *Dispatcher) evaluate(ctx context.Context, u unit.Unit) *ensemble.Record {
	ctx = context.WithoutCancel(ctx)
	var a, b *backend.Response
	var g errgroup.Group
	g.Go(func() error {
		a = d.a.Score(ctx, u)
		return nil
	})
	g.Go(func() error {
		b = d.b.Score(ctx, u)
		return nil
	})
	_ = g.Wait()
	return d.resolver.Resolve(u, a, b)
}

// own is the only reader of persisted and the only writer of the tally.
func (d *Dispatcher) own(ctx context.Context, summary *Summary, persisted <-chan *ensemble.Record) {
	log := clog.FromContext(ctx)
	for rec := range persisted {
		summary.Persisted++
		summary.Tally.Add(rec.Outcome)
		if d.aggregator != nil {
			d.aggregator.Add(rec)
		}
		if d.observer != nil {
			d.observer.Observe(rec)
		}

		log.With("unit", rec.UnitID, "outcome", rec.Outcome,
			"done", summary.Persisted, "scheduled", summary.Scheduled,
			"success", summary.Tally.Success, "needs_review", summary.Tally.NeedsReview,
			"degraded", summary.Tally.Degraded, "error", summary.Tally.Error).
			Info("Persisted unit")

		if d.progress != nil {
			d.progress(Progress{
				Persisted: summary.Persisted,
				Scheduled: summary.Scheduled,
				Tally:     summary.Tally,
				Record:    rec.Clone(),
			})
		}
	}
}
