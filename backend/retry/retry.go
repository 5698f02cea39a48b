/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package retry is the retry policy shared by every scoring backend:
// bounded exponential backoff with jitter and a per-attempt timeout.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/chainguard-dev/clog"
)

// ErrTransient marks an error as safe to retry.
var ErrTransient = errors.New("transient backend error")

// Policy configures retries for backend calls.
type Policy struct {
	// MaxRetries is the maximum number of retry attempts. 0 disables retries.
	MaxRetries int
	// BaseBackoff is the initial backoff duration.
	BaseBackoff time.Duration
	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration
	// MaxJitter is the maximum random jitter added to each backoff.
	MaxJitter time.Duration
	// AttemptTimeout bounds a single attempt. 0 means no per-attempt bound.
	AttemptTimeout time.Duration
}

// Validate checks that the policy has valid values.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if p.BaseBackoff < 0 {
		return errors.New("base backoff cannot be negative")
	}
	if p.MaxBackoff < 0 {
		return errors.New("max backoff cannot be negative")
	}
	if p.MaxJitter < 0 {
		return errors.New("max jitter cannot be negative")
	}
	if p.AttemptTimeout < 0 {
		return errors.New("attempt timeout cannot be negative")
	}
	return nil
}

// DefaultPolicy returns a policy suited to rate-limited VLM APIs.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     4,
		BaseBackoff:    2 * time.Second,
		MaxBackoff:     60 * time.Second,
		MaxJitter:      500 * time.Millisecond,
		AttemptTimeout: 120 * time.Second,
	}
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// IsTransient is the baseline retryability predicate: timeouts and errors
// wrapping ErrTransient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || IsTimeout(err)
}

// Any combines predicates; an error is retryable if any predicate says so.
func Any(preds ...func(error) bool) func(error) bool {
	return func(err error) bool {
		for _, p := range preds {
			if p != nil && p(err) {
				return true
			}
		}
		return false
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. Each attempt gets its own context bounded by
// AttemptTimeout. Do returns the number of attempts made.
func Do[T any](ctx context.Context, p Policy, operation string, isRetryable func(error) bool, fn func(context.Context) (T, error)) (T, int, error) {
	var result T
	var lastErr error

	attempts := 0
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		attempts++
		result, lastErr = attemptOnce(ctx, p.AttemptTimeout, fn)
		if lastErr == nil {
			return result, attempts, nil
		}
		if err := ctx.Err(); err != nil {
			return result, attempts, fmt.Errorf("%s: %w (last error: %w)", operation, err, lastErr)
		}
		if !isRetryable(lastErr) {
			return result, attempts, lastErr
		}
		if attempt >= p.MaxRetries {
			break
		}

		backoff := min(p.BaseBackoff<<attempt, p.MaxBackoff)
		var jitter time.Duration
		if p.MaxJitter > 0 {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(p.MaxJitter)))
			if err == nil {
				jitter = time.Duration(n.Int64())
			}
		}

		clog.FromContext(ctx).With("operation", operation).
			With("attempt", attempt+1).
			With("max_retries", p.MaxRetries).
			With("backoff", backoff+jitter).
			With("error", lastErr.Error()).
			Warn("Transient backend error, retrying")

		select {
		case <-ctx.Done():
			return result, attempts, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}

	return result, attempts, fmt.Errorf("%s failed after %d retries: %w", operation, p.MaxRetries, lastErr)
}

func attemptOnce[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}
