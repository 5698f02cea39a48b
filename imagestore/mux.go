/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package imagestore

import (
	"context"
	"fmt"
)

// Mux dispatches references to a Store by URL scheme. References without
// a scheme go to the local store.
type Mux struct {
	local   Store
	schemes map[string]Store
}

var _ Store = (*Mux)(nil)

// NewMux returns a Mux that serves plain paths from local.
func NewMux(local Store) *Mux {
	return &Mux{local: local, schemes: map[string]Store{}}
}

// Handle registers s for references with the given scheme, e.g. "gs".
func (m *Mux) Handle(scheme string, s Store) *Mux {
	m.schemes[scheme] = s
	return m
}

func (m *Mux) route(ref string) (Store, error) {
	sc := scheme(ref)
	if sc == "" {
		if m.local == nil {
			return nil, fmt.Errorf("no local store configured for %q", ref)
		}
		return m.local, nil
	}
	s, ok := m.schemes[sc]
	if !ok {
		return nil, fmt.Errorf("no store registered for scheme %q", sc)
	}
	return s, nil
}

// Read implements Store.
func (m *Mux) Read(ctx context.Context, ref string) ([]byte, error) {
	s, err := m.route(ref)
	if err != nil {
		return nil, err
	}
	return s.Read(ctx, ref)
}

// Exists implements Store.
func (m *Mux) Exists(ctx context.Context, ref string) (bool, error) {
	s, err := m.route(ref)
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, ref)
}
