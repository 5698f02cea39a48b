/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import "chainguard.dev/vlmensemble/ensemble"

// Tally counts persisted units by outcome.
type Tally struct {
	Success     int `json:"success"`
	NeedsReview int `json:"needs_review"`
	Degraded    int `json:"ensemble_degraded"`
	Error       int `json:"error"`
}

// Add counts one unit with outcome o.
func (t *Tally) Add(o ensemble.Outcome) {
	switch o {
	case ensemble.OutcomeSuccess:
		t.Success++
	case ensemble.OutcomeNeedsReview:
		t.NeedsReview++
	case ensemble.OutcomeDegraded:
		t.Degraded++
	case ensemble.OutcomeError:
		t.Error++
	}
}

// Total returns the number of counted units.
func (t Tally) Total() int {
	return t.Success + t.NeedsReview + t.Degraded + t.Error
}

// Summary describes a run.
type Summary struct {
	// Enumerated is the number of units handed to Run.
	Enumerated int `json:"enumerated"`

	// Duplicates counts units dropped for repeating an earlier unit ID.
	Duplicates int `json:"duplicates"`

	// AlreadyComplete counts units found in the checkpoint.
	AlreadyComplete int `json:"already_complete"`

	Scheduled int `json:"scheduled"`
	Persisted int `json:"persisted"`

	// Pending counts scheduled units that were not persisted. A rerun
	// picks them up.
	Pending int `json:"pending"`

	Cancelled bool  `json:"cancelled"`
	Tally     Tally `json:"tally"`
}

// Progress is reported after every persisted unit.
type Progress struct {
	Persisted int
	Scheduled int
	Tally     Tally
	Record    *ensemble.Record
}
