/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

// FS reads slash-separated references relative to the root of an fs.FS.
type FS struct {
	fsys fs.FS
}

var _ Store = (*FS)(nil)

// NewFS returns a store rooted at fsys.
func NewFS(fsys fs.FS) *FS {
	return &FS{fsys: fsys}
}

// NewDir returns a store rooted at a local directory.
func NewDir(dir string) *FS {
	return NewFS(os.DirFS(dir))
}

// FS returns the underlying file system.
func (s *FS) FS() fs.FS {
	return s.fsys
}

func (s *FS) name(ref string) (string, error) {
	name := path.Clean(strings.TrimPrefix(ref, "/"))
	if !fs.ValidPath(name) {
		return "", fmt.Errorf("invalid image path %q", ref)
	}
	return name, nil
}

// Read implements Store.
func (s *FS) Read(_ context.Context, ref string) ([]byte, error) {
	name, err := s.name(ref)
	if err != nil {
		return nil, err
	}
	b, err := fs.ReadFile(s.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ref, err)
	}
	return b, nil
}

// Exists implements Store.
func (s *FS) Exists(_ context.Context, ref string) (bool, error) {
	name, err := s.name(ref)
	if err != nil {
		return false, err
	}
	fi, err := fs.Stat(s.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", ref, err)
	}
	return fi.Mode().IsRegular(), nil
}
