/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package checkpoint

import (
	"errors"
	"fmt"
	"time"
)

// DefaultSnapshotEvery is the number of appends between snapshots.
const DefaultSnapshotEvery = 100

// Option configures a Store.
type Option func(*Store) error

// WithSnapshotEvery snapshots after every n appends. 0 disables
// count-based snapshots.
func WithSnapshotEvery(n int) Option {
	return func(s *Store) error {
		if n < 0 {
			return fmt.Errorf("snapshot interval cannot be negative, got %d", n)
		}
		s.snapshotEvery = n
		return nil
	}
}

// WithSnapshotInterval snapshots on the first append after d has elapsed
// since the previous snapshot. 0 disables time-based snapshots.
func WithSnapshotInterval(d time.Duration) Option {
	return func(s *Store) error {
		if d < 0 {
			return fmt.Errorf("snapshot interval cannot be negative, got %v", d)
		}
		s.snapshotInterval = d
		return nil
	}
}

// WithFsync syncs the log after every append.
func WithFsync(enabled bool) Option {
	return func(s *Store) error {
		s.fsync = enabled
		return nil
	}
}

// WithClock sets the clock used for timestamps and snapshot scheduling.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		s.now = now
		return nil
	}
}
