/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCS reads gs://bucket/object references.
type GCS struct {
	client *storage.Client
}

var _ Store = (*GCS)(nil)

// NewGCS wraps an existing storage client.
func NewGCS(client *storage.Client) *GCS {
	return &GCS{client: client}
}

// Read implements Store.
func (s *GCS) Read(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, err := splitBucketRef("gs", ref)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", ref, err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ref, err)
	}
	return b, nil
}

// Exists implements Store.
func (s *GCS) Exists(ctx context.Context, ref string) (bool, error) {
	bucket, key, err := splitBucketRef("gs", ref)
	if err != nil {
		return false, err
	}
	_, err = s.client.Bucket(bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", ref, err)
	}
	return true, nil
}
