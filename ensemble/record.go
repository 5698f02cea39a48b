/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package ensemble

import (
	"encoding/json"
	"maps"
	"time"

	"chainguard.dev/vlmensemble/backend"
	"chainguard.dev/vlmensemble/experiment"
)

// Outcome is the resolved state of a unit.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeNeedsReview Outcome = "needs_review"
	OutcomeDegraded    Outcome = "ensemble_degraded"
	OutcomeError       Outcome = "error"
)

// Dimension is the reconciled score for one rubric dimension. A and B are
// omitted when that backend produced no scores; Agreement is omitted when
// only one backend answered.
type Dimension struct {
	Final     experiment.Score  `json:"final"`
	A         *experiment.Score `json:"a,omitempty"`
	B         *experiment.Score `json:"b,omitempty"`
	Agreement *bool             `json:"agreement,omitempty"`
}

type dimensionJSON struct {
	Final     experiment.Score `json:"final"`
	A         json.RawMessage  `json:"a,omitempty"`
	B         json.RawMessage  `json:"b,omitempty"`
	Agreement *bool            `json:"agreement,omitempty"`
}

// MarshalJSON keeps a not-applicable raw score (null) distinct from a
// missing one (omitted).
func (d Dimension) MarshalJSON() ([]byte, error) {
	out := dimensionJSON{Final: d.Final, Agreement: d.Agreement}
	for _, f := range []struct {
		src *experiment.Score
		dst *json.RawMessage
	}{{d.A, &out.A}, {d.B, &out.B}} {
		if f.src == nil {
			continue
		}
		b, err := json.Marshal(*f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = b
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Dimension) UnmarshalJSON(data []byte) error {
	var in dimensionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*d = Dimension{Final: in.Final, Agreement: in.Agreement}
	for _, f := range []struct {
		src json.RawMessage
		dst **experiment.Score
	}{{in.A, &d.A}, {in.B, &d.B}} {
		if len(f.src) == 0 {
			continue
		}
		var s experiment.Score
		if err := json.Unmarshal(f.src, &s); err != nil {
			return err
		}
		*f.dst = &s
	}
	return nil
}

// BackendSummary records how one backend fared on a unit.
type BackendSummary struct {
	Model     string          `json:"model"`
	Outcome   backend.Outcome `json:"outcome"`
	Detail    string          `json:"detail,omitempty"`
	LatencyMS int64           `json:"latency_ms"`
	Attempts  int             `json:"attempts"`
	Usage     backend.Usage   `json:"usage"`
}

// Record is the persisted result for one unit. ErrorReason is the failure
// class for error and ensemble_degraded records. Records are not modified
// after resolution.
type Record struct {
	UnitID      string                        `json:"unit_id"`
	Model       string                        `json:"model"`
	Category    string                        `json:"category"`
	PromptID    string                        `json:"prompt_id,omitempty"`
	Attributes  map[string]string             `json:"attributes,omitempty"`
	Dimensions  map[string]Dimension          `json:"dimensions"`
	Outcome     Outcome                       `json:"outcome"`
	ErrorReason string                        `json:"error_reason,omitempty"`
	Backends    map[backend.ID]BackendSummary `json:"backends"`
	ResolvedAt  time.Time                     `json:"resolved_at"`
}

// Disagreements counts the dimensions on which the backends disagreed.
func (r *Record) Disagreements() int {
	n := 0
	for _, d := range r.Dimensions {
		if d.Agreement != nil && !*d.Agreement {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.Attributes = maps.Clone(r.Attributes)
	c.Backends = maps.Clone(r.Backends)
	c.Dimensions = make(map[string]Dimension, len(r.Dimensions))
	for k, d := range r.Dimensions {
		c.Dimensions[k] = Dimension{
			Final:     d.Final,
			A:         clonePtr(d.A),
			B:         clonePtr(d.B),
			Agreement: clonePtr(d.Agreement),
		}
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
