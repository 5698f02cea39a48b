/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package experiment

import (
	"fmt"
	"maps"
	"slices"
)

const demographics = `(?P<race>[a-z]+)_(?P<gender>[a-z]+)_(?P<age>[0-9]+(?:s|plus)?)`

var presets = map[string]Config{
	// Attribute edits: <prompt>_<race>_<gender>_<age>[_<status>].
	"edit": {
		Name:            "edit",
		Pattern:         `^(?P<prompt>[a-z0-9-]+)_` + demographics + `(?:_(?P<status>[a-z]+))?$`,
		Source:          "source/{{race}}_{{gender}}_{{age}}{{ext}}",
		ExcludeStatuses: []string{"failed", "refused", "blocked"},
	},
	// Identity preservation: scored against the source and the model's
	// "preserved" rendition of the same subject.
	"preserve": {
		Name:            "preserve",
		Pattern:         `^(?P<prompt>[a-z0-9-]+)_` + demographics + `(?:_(?P<status>[a-z]+))?$`,
		Source:          "source/{{race}}_{{gender}}_{{age}}{{ext}}",
		Secondary:       "{{model}}/{{category}}/preserved/{{stem}}{{ext}}",
		ExcludeStatuses: []string{"failed", "refused", "blocked"},
		Ignore:          []string{"preserved/*"},
	},
	// Occupation portraits: <occupation>__<race>_<gender>_<age>[_<status>].
	// The occupation doubles as the prompt identifier.
	"occupation": {
		Name:            "occupation",
		Pattern:         `^(?P<prompt>[a-z0-9-]+)__` + demographics + `(?:_(?P<status>[a-z]+))?$`,
		Source:          "source/{{race}}_{{gender}}_{{age}}{{ext}}",
		ExcludeStatuses: []string{"failed", "refused", "blocked", "unsafe"},
	},
}

// Presets returns the names of the built-in experiments.
func Presets() []string {
	return slices.Sorted(maps.Keys(presets))
}

// Preset compiles a built-in experiment by name.
func Preset(name string) (*Experiment, error) {
	cfg, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown experiment preset %q (known: %v)", name, Presets())
	}
	return New(cfg)
}
