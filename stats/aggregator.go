/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package stats folds ensemble records into run statistics.
//
// An Aggregator consumes records one at a time, either live from the
// dispatcher or offline from a checkpoint:
//
//	records, _, err := checkpoint.LoadLatest(root, ns)
//	if err != nil {
//		return err
//	}
//	summary := stats.FromRecords(records)
//	if err := summary.WriteTable(os.Stdout); err != nil {
//		return err
//	}
package stats

import (
	"maps"
	"slices"

	"chainguard.dev/vlmensemble/ensemble"
	"chainguard.dev/vlmensemble/unit"
)

// Summary is the statistics document of a run.
type Summary struct {
	Total    int                      `json:"total"`
	Outcomes map[ensemble.Outcome]int `json:"outcomes"`

	SuccessRate       float64 `json:"success_rate"`
	SingleBackendRate float64 `json:"single_backend_rate"`
	NeedsReviewRate   float64 `json:"needs_review_rate"`
	ErrorRate         float64 `json:"error_rate"`

	// ErrorReasons counts the failed backend's outcome for degraded and
	// errored units.
	ErrorReasons map[string]int `json:"error_reasons"`

	// Skipped counts enumeration candidates that never became units.
	Skipped unit.Skips `json:"enumeration_skips"`

	Dimensions map[string]DimensionStats `json:"dimensions"`

	// Groups holds mean final scores by attribute, value and dimension,
	// e.g. Groups["race"]["asian"]["identity"].
	Groups map[string]map[string]map[string]GroupStats `json:"groups"`
}

// DimensionStats describes one rubric dimension across a run.
type DimensionStats struct {
	// Compared counts units where both backends scored the dimension.
	Compared         int     `json:"compared"`
	Disagreements    int     `json:"disagreements"`
	DisagreementRate float64 `json:"disagreement_rate"`

	// Scored counts applicable final scores; NotApplicable the rest.
	Scored        int     `json:"scored"`
	NotApplicable int     `json:"not_applicable"`
	Mean          float64 `json:"mean"`
}

// GroupStats is the mean final score of one demographic group.
type GroupStats struct {
	Units int     `json:"units"`
	Mean  float64 `json:"mean"`
}

type mean struct {
	n   int
	sum int
}

func (m *mean) add(v int) {
	m.n++
	m.sum += v
}

func (m mean) value() float64 {
	if m.n == 0 {
		return 0
	}
	return float64(m.sum) / float64(m.n)
}

type dimAcc struct {
	compared      int
	disagreements int
	na            int
	final         mean
}

// Aggregator accumulates records. It is not safe for concurrent use; the
// dispatcher feeds it from a single goroutine.
type Aggregator struct {
	total    int
	outcomes map[ensemble.Outcome]int
	reasons  map[string]int
	skipped  unit.Skips
	dims     map[string]*dimAcc
	groups   map[string]map[string]map[string]*mean
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		outcomes: map[ensemble.Outcome]int{},
		reasons:  map[string]int{},
		skipped:  unit.Skips{},
		dims:     map[string]*dimAcc{},
		groups:   map[string]map[string]map[string]*mean{},
	}
}

// Add folds rec into the statistics.
func (a *Aggregator) Add(rec *ensemble.Record) {
	if rec == nil {
		return
	}
	a.total++
	a.outcomes[rec.Outcome]++
	if rec.ErrorReason != "" {
		a.reasons[rec.ErrorReason]++
	}

	for name, d := range rec.Dimensions {
		acc, ok := a.dims[name]
		if !ok {
			acc = &dimAcc{}
			a.dims[name] = acc
		}
		if d.Agreement != nil {
			acc.compared++
			if !*d.Agreement {
				acc.disagreements++
			}
		}
		if !d.Final.Applicable() {
			acc.na++
			continue
		}
		acc.final.add(int(d.Final))

		for attr, value := range rec.Attributes {
			byValue, ok := a.groups[attr]
			if !ok {
				byValue = map[string]map[string]*mean{}
				a.groups[attr] = byValue
			}
			byDim, ok := byValue[value]
			if !ok {
				byDim = map[string]*mean{}
				byValue[value] = byDim
			}
			m, ok := byDim[name]
			if !ok {
				m = &mean{}
				byDim[name] = m
			}
			m.add(int(d.Final))
		}
	}
}

// AddSkips folds enumeration skip counts into the statistics.
func (a *Aggregator) AddSkips(s unit.Skips) {
	a.skipped.Merge(s)
}

// Summary computes the statistics of everything added so far.
func (a *Aggregator) Summary() *Summary {
	s := &Summary{
		Total:        a.total,
		Outcomes:     maps.Clone(a.outcomes),
		ErrorReasons: maps.Clone(a.reasons),
		Skipped:      maps.Clone(a.skipped),
		Dimensions:   make(map[string]DimensionStats, len(a.dims)),
		Groups:       make(map[string]map[string]map[string]GroupStats, len(a.groups)),
	}
	s.SuccessRate = rate(a.outcomes[ensemble.OutcomeSuccess], a.total)
	s.SingleBackendRate = rate(a.outcomes[ensemble.OutcomeDegraded], a.total)
	s.NeedsReviewRate = rate(a.outcomes[ensemble.OutcomeNeedsReview], a.total)
	s.ErrorRate = rate(a.outcomes[ensemble.OutcomeError], a.total)

	for name, acc := range a.dims {
		s.Dimensions[name] = DimensionStats{
			Compared:         acc.compared,
			Disagreements:    acc.disagreements,
			DisagreementRate: rate(acc.disagreements, acc.compared),
			Scored:           acc.final.n,
			NotApplicable:    acc.na,
			Mean:             acc.final.value(),
		}
	}
	for attr, byValue := range a.groups {
		out := make(map[string]map[string]GroupStats, len(byValue))
		for value, byDim := range byValue {
			dims := make(map[string]GroupStats, len(byDim))
			for name, m := range byDim {
				dims[name] = GroupStats{Units: m.n, Mean: m.value()}
			}
			out[value] = dims
		}
		s.Groups[attr] = out
	}
	return s
}

// FromRecords summarizes a complete set of records.
func FromRecords(records []*ensemble.Record) *Summary {
	a := NewAggregator()
	for _, r := range records {
		a.Add(r)
	}
	return a.Summary()
}

// DimensionNames returns the dimensions of s, sorted.
func (s *Summary) DimensionNames() []string {
	return slices.Sorted(maps.Keys(s.Dimensions))
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
