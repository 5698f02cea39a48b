/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"errors"
	"fmt"

	"chainguard.dev/vlmensemble/stats"
)

// DefaultConcurrency is the worker pool size when WithConcurrency is not set.
const DefaultConcurrency = 8

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// WithConcurrency sets the number of units evaluated at once.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) error {
		if n <= 0 {
			return fmt.Errorf("concurrency must be positive, got %d", n)
		}
		d.concurrency = n
		return nil
	}
}

// WithAggregator feeds every persisted record to agg.
func WithAggregator(agg *stats.Aggregator) Option {
	return func(d *Dispatcher) error {
		if agg == nil {
			return errors.New("aggregator cannot be nil")
		}
		d.aggregator = agg
		return nil
	}
}

// WithObserver exports every persisted record to m.
func WithObserver(m *stats.MetricsObserver) Option {
	return func(d *Dispatcher) error {
		if m == nil {
			return errors.New("observer cannot be nil")
		}
		d.observer = m
		return nil
	}
}

// WithProgress calls fn after every persisted unit. fn runs on the
// goroutine that owns the tally and must not block.
func WithProgress(fn func(Progress)) Option {
	return func(d *Dispatcher) error {
		if fn == nil {
			return errors.New("progress callback cannot be nil")
		}
		d.progress = fn
		return nil
	}
}
