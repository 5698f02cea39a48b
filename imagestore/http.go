/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package imagestore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTP reads http:// and https:// references.
type HTTP struct {
	client *resty.Client
}

var _ Store = (*HTTP)(nil)

// NewHTTP returns an HTTP store with the given request timeout. A zero
// timeout leaves requests bounded only by their context.
func NewHTTP(timeout time.Duration) *HTTP {
	return &HTTP{client: resty.New().SetTimeout(timeout)}
}

// Read implements Store.
func (s *HTTP) Read(ctx context.Context, ref string) ([]byte, error) {
	res, err := s.client.R().SetContext(ctx).Get(ref)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", ref, err)
	}
	switch {
	case res.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case res.IsError():
		return nil, fmt.Errorf("fetching %s: unexpected status %s", ref, res.Status())
	}
	return res.Body(), nil
}

// Exists implements Store.
func (s *HTTP) Exists(ctx context.Context, ref string) (bool, error) {
	res, err := s.client.R().SetContext(ctx).Head(ref)
	if err != nil {
		return false, fmt.Errorf("head %s: %w", ref, err)
	}
	switch {
	case res.StatusCode() == http.StatusNotFound:
		return false, nil
	case res.IsError():
		return false, fmt.Errorf("head %s: unexpected status %s", ref, res.Status())
	}
	return true, nil
}
