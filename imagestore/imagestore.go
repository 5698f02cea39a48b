/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package imagestore reads image bytes by reference from local files,
// Google Cloud Storage, S3-compatible object stores and HTTP servers.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a reference does not resolve to an object.
var ErrNotFound = errors.New("image not found")

// Store reads images by reference.
type Store interface {
	// Read returns the full contents of ref. A missing object yields an
	// error wrapping ErrNotFound.
	Read(ctx context.Context, ref string) ([]byte, error)

	// Exists reports whether ref resolves to an object.
	Exists(ctx context.Context, ref string) (bool, error)
}

// splitBucketRef splits "<scheme>://bucket/key" into bucket and key.
func splitBucketRef(scheme, ref string) (string, string, error) {
	p := scheme + "://"
	if !strings.HasPrefix(ref, p) {
		return "", "", fmt.Errorf("bad %s ref (missing %s): %q", scheme, p, ref)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(ref, p), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("bad %s ref (need bucket/key): %q", scheme, ref)
	}
	return bucket, key, nil
}

// scheme returns the URL scheme of ref, or "" for a plain path.
func scheme(ref string) string {
	s, _, ok := strings.Cut(ref, "://")
	if !ok || strings.ContainsAny(s, "/.") {
		return ""
	}
	return strings.ToLower(s)
}
