/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backend

import (
	"errors"
	"fmt"

	"chainguard.dev/vlmensemble/backend/retry"
)

// Option configures an Adapter.
type Option func(*Adapter) error

// WithConcurrency bounds the number of in-flight calls to this backend
// across every caller of the Adapter.
func WithConcurrency(n int) Option {
	return func(a *Adapter) error {
		if n <= 0 {
			return fmt.Errorf("concurrency must be positive, got %d", n)
		}
		a.concurrency = int64(n)
		return nil
	}
}

// WithRetryPolicy sets the retry policy for backend calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(a *Adapter) error {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid retry policy: %w", err)
		}
		a.policy = p
		return nil
	}
}

// WithRetryable adds a predicate for errors that should be retried, on
// top of timeouts, retry.ErrTransient and the invoker's own classifier.
func WithRetryable(pred func(error) bool) Option {
	return func(a *Adapter) error {
		if pred == nil {
			return errors.New("retry predicate cannot be nil")
		}
		a.extraRetryable = append(a.extraRetryable, pred)
		return nil
	}
}

// WithMetrics records call metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(a *Adapter) error {
		if m == nil {
			return errors.New("metrics cannot be nil")
		}
		a.metrics = m
		return nil
	}
}
