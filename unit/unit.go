/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package unit enumerates the evaluation units of an experiment from the
// on-disk layout of generated images.
package unit

import (
	"maps"
	"path"

	"chainguard.dev/vlmensemble/experiment"
)

// Unit is one output image to be scored, with its reference images.
// Units are values; the attribute map is never shared with callers.
type Unit struct {
	// ID is "<model>/<category>/<stem>" and is unique within a run.
	ID string

	Model    string
	Category string
	PromptID string
	Status   string

	Source    string
	Output    string
	Secondary string

	attributes map[string]string
}

// ID builds a unit identifier.
func ID(model, category, stem string) string {
	return path.Join(model, category, stem)
}

// WithAttributes returns a copy of u carrying a copy of attrs.
func (u Unit) WithAttributes(attrs map[string]string) Unit {
	u.attributes = maps.Clone(attrs)
	return u
}

// Attributes returns a copy of the demographic attributes.
func (u Unit) Attributes() map[string]string {
	if u.attributes == nil {
		return map[string]string{}
	}
	return maps.Clone(u.attributes)
}

// Attribute returns a single attribute, or "" when unset.
func (u Unit) Attribute(name string) string {
	return u.attributes[name]
}

// Images lists the roles of the images attached to u, in the order they
// are sent to a backend.
func (u Unit) Images() []experiment.ImageRole {
	roles := []experiment.ImageRole{experiment.RoleSource, experiment.RoleOutput}
	if u.Secondary != "" {
		roles = append(roles, experiment.RoleSecondary)
	}
	return roles
}

// Ref returns the image reference for role.
func (u Unit) Ref(role experiment.ImageRole) string {
	switch role {
	case experiment.RoleSource:
		return u.Source
	case experiment.RoleOutput:
		return u.Output
	case experiment.RoleSecondary:
		return u.Secondary
	}
	return ""
}
