/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package unit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strings"

	"chainguard.dev/vlmensemble/experiment"
	"chainguard.dev/vlmensemble/imagestore"
	"github.com/chainguard-dev/clog"
)

// ErrUndecodable is wrapped by errors describing names that do not follow
// the experiment's naming convention.
var ErrUndecodable = errors.New("undecodable unit name")

// SkipReason classifies a candidate that did not become a unit.
type SkipReason string

const (
	SkipUndecodable    SkipReason = "undecodable"
	SkipStatusExcluded SkipReason = "status_excluded"
	SkipMissingImage   SkipReason = "missing_image"
)

// Skips counts skipped candidates by reason.
type Skips map[SkipReason]int

// Total returns the number of skipped candidates.
func (s Skips) Total() int {
	n := 0
	for _, v := range s {
		n += v
	}
	return n
}

// Merge adds other into s.
func (s Skips) Merge(other Skips) {
	for k, v := range other {
		s[k] += v
	}
}

// Enumeration is the result of enumerating one or more categories.
type Enumeration struct {
	// Units are sorted by ID.
	Units []Unit

	// Candidates is the number of files considered.
	Candidates int

	// Skipped counts candidates that did not become units.
	Skipped Skips
}

// Enumerator turns an experiment's output layout into units.
type Enumerator struct {
	layout  fs.FS
	images  imagestore.Store
	exp     *experiment.Experiment
	rubrics experiment.RubricSet
}

// NewEnumerator walks layout, which holds "<model>/<category>/..." output
// trees, and checks image references against images.
func NewEnumerator(layout fs.FS, images imagestore.Store, exp *experiment.Experiment, rubrics experiment.RubricSet) *Enumerator {
	return &Enumerator{layout: layout, images: images, exp: exp, rubrics: rubrics}
}

// EnumerateAll enumerates every category of the experiment for model.
func (e *Enumerator) EnumerateAll(ctx context.Context, model string) (*Enumeration, error) {
	all := &Enumeration{Skipped: Skips{}}
	for _, category := range e.exp.Categories(e.rubrics) {
		en, err := e.Enumerate(ctx, model, category)
		if err != nil {
			return nil, err
		}
		all.Units = append(all.Units, en.Units...)
		all.Candidates += en.Candidates
		all.Skipped.Merge(en.Skipped)
	}
	sortUnits(all.Units)
	return all, nil
}

// Enumerate lists the units of one model and category. Individual
// candidates never fail enumeration; they are skipped and counted.
func (e *Enumerator) Enumerate(ctx context.Context, model, category string) (*Enumeration, error) {
	log := clog.FromContext(ctx).With("model", model, "category", category)

	if _, err := e.rubrics.Lookup(category); err != nil {
		return nil, err
	}
	root := path.Join(model, category)
	if fi, err := fs.Stat(e.layout, root); err != nil {
		return nil, fmt.Errorf("listing %s: %w", root, err)
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("listing %s: not a directory", root)
	}

	var rels []string
	if err := fs.WalkDir(e.layout, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			log.Warnf("skipping unreadable path %s: %v", p, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel := strings.TrimPrefix(p, root+"/")
		if e.exp.Candidate(rel) {
			rels = append(rels, rel)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}

	en := &Enumeration{Candidates: len(rels), Skipped: Skips{}}
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u, reason, err := e.build(ctx, model, category, rel)
		if err != nil {
			en.Skipped[reason]++
			log.With("path", rel, "reason", reason).Debugf("skipping candidate: %v", err)
			continue
		}
		en.Units = append(en.Units, u)
	}
	sortUnits(en.Units)

	log.With("units", len(en.Units), "skipped", en.Skipped.Total()).Info("Enumerated units")
	return en, nil
}

func (e *Enumerator) build(ctx context.Context, model, category, rel string) (Unit, SkipReason, error) {
	name, ok := e.exp.Decode(rel)
	if !ok {
		return Unit{}, SkipUndecodable, fmt.Errorf("%w: %s", ErrUndecodable, rel)
	}
	if name.Status != "" && e.exp.Excluded(name.Status) {
		return Unit{}, SkipStatusExcluded, fmt.Errorf("status %q is excluded", name.Status)
	}

	vars := name.Vars(model, category)
	source, err := e.exp.SourceRef(vars)
	if err != nil {
		return Unit{}, SkipUndecodable, fmt.Errorf("%w: resolving source: %w", ErrUndecodable, err)
	}
	secondary, err := e.exp.SecondaryRef(vars)
	if err != nil {
		return Unit{}, SkipUndecodable, fmt.Errorf("%w: resolving secondary: %w", ErrUndecodable, err)
	}

	u := Unit{
		ID:        ID(model, category, name.Stem),
		Model:     model,
		Category:  category,
		PromptID:  name.PromptID,
		Status:    name.Status,
		Source:    source,
		Output:    path.Join(model, category, rel),
		Secondary: secondary,
	}.WithAttributes(name.Attributes)

	for _, role := range u.Images() {
		ref := u.Ref(role)
		ok, err := e.images.Exists(ctx, ref)
		if err != nil {
			return Unit{}, SkipMissingImage, fmt.Errorf("checking %s image %s: %w", role, ref, err)
		}
		if !ok {
			return Unit{}, SkipMissingImage, fmt.Errorf("%s image %s: %w", role, ref, imagestore.ErrNotFound)
		}
	}
	return u, "", nil
}

func sortUnits(units []Unit) {
	slices.SortStableFunc(units, func(a, b Unit) int {
		if c := strings.Compare(a.ID, b.ID); c != 0 {
			return c
		}
		return strings.Compare(a.Output, b.Output)
	})
}

// Reasons returns the recorded skip reasons, sorted.
func (s Skips) Reasons() []SkipReason {
	return slices.Sorted(maps.Keys(s))
}
