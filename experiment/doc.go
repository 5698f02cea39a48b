/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package experiment holds the per-experiment strategy that parameterizes
// the evaluation engine: how output files are named, where their reference
// images live, which statuses are excluded, and which rubric scores them.
//
// Three presets ship with the package (edit, preserve and occupation);
// additional experiments can be described in YAML and loaded with Load.
package experiment
