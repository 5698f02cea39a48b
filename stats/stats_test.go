/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package stats

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"chainguard.dev/vlmensemble/ensemble"
	"chainguard.dev/vlmensemble/experiment"
	"chainguard.dev/vlmensemble/unit"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func agreed(b bool) *bool { return &b }

func dim(final experiment.Score, agreement *bool) ensemble.Dimension {
	return ensemble.Dimension{Final: final, Agreement: agreement}
}

func fixture() []*ensemble.Record {
	return []*ensemble.Record{{
		UnitID:     "flux/hair/a",
		Outcome:    ensemble.OutcomeSuccess,
		Attributes: map[string]string{"race": "asian"},
		Dimensions: map[string]ensemble.Dimension{
			"identity": dim(4, agreed(true)),
			"hair":     dim(3, agreed(true)),
		},
	}, {
		UnitID:     "flux/hair/b",
		Outcome:    ensemble.OutcomeNeedsReview,
		Attributes: map[string]string{"race": "black"},
		Dimensions: map[string]ensemble.Dimension{
			"identity": dim(2, agreed(false)),
			"hair":     dim(experiment.NotApplicable, agreed(true)),
		},
	}, {
		UnitID:      "flux/hair/c",
		Outcome:     ensemble.OutcomeDegraded,
		ErrorReason: "call_error",
		Attributes:  map[string]string{"race": "asian"},
		Dimensions: map[string]ensemble.Dimension{
			"identity": dim(5, nil),
			"hair":     dim(3, nil),
		},
	}, {
		UnitID:      "flux/hair/d",
		Outcome:     ensemble.OutcomeError,
		ErrorReason: "parse_error",
		Attributes:  map[string]string{"race": "black"},
		Dimensions: map[string]ensemble.Dimension{
			"identity": dim(experiment.NotApplicable, nil),
			"hair":     dim(experiment.NotApplicable, nil),
		},
	}}
}

func TestAggregatorSummary(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	for _, r := range fixture() {
		a.Add(r)
	}
	a.Add(nil)
	a.AddSkips(unit.Skips{unit.SkipMissingImage: 2})
	a.AddSkips(unit.Skips{unit.SkipMissingImage: 1, unit.SkipUndecodable: 1})

	want := &Summary{
		Total: 4,
		Outcomes: map[ensemble.Outcome]int{
			ensemble.OutcomeSuccess:     1,
			ensemble.OutcomeNeedsReview: 1,
			ensemble.OutcomeDegraded:    1,
			ensemble.OutcomeError:       1,
		},
		SuccessRate:       0.25,
		SingleBackendRate: 0.25,
		NeedsReviewRate:   0.25,
		ErrorRate:         0.25,
		ErrorReasons:      map[string]int{"call_error": 1, "parse_error": 1},
		Skipped:           unit.Skips{unit.SkipMissingImage: 3, unit.SkipUndecodable: 1},
		Dimensions: map[string]DimensionStats{
			"identity": {Compared: 2, Disagreements: 1, DisagreementRate: 0.5, Scored: 3, NotApplicable: 1, Mean: 11.0 / 3.0},
			"hair":     {Compared: 2, Disagreements: 0, DisagreementRate: 0, Scored: 2, NotApplicable: 2, Mean: 3},
		},
		Groups: map[string]map[string]map[string]GroupStats{
			"race": {
				"asian": {"identity": {Units: 2, Mean: 4.5}, "hair": {Units: 2, Mean: 3}},
				"black": {"identity": {Units: 1, Mean: 2}},
			},
		},
	}
	if diff := cmp.Diff(want, a.Summary()); diff != "" {
		t.Errorf("Summary() mismatch (-want +got):\n%s", diff)
	}
}

func TestFromRecords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		records     []*ensemble.Record
		wantTotal   int
		wantSuccess float64
	}{{
		name:    "empty",
		records: nil,
	}, {
		name:        "fixture",
		records:     fixture(),
		wantTotal:   4,
		wantSuccess: 0.25,
	}, {
		name:        "all success",
		records:     fixture()[:1],
		wantTotal:   1,
		wantSuccess: 1,
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := FromRecords(tt.records)
			if got.Total != tt.wantTotal {
				t.Errorf("Total = %d, wanted = %d", got.Total, tt.wantTotal)
			}
			if got.SuccessRate != tt.wantSuccess {
				t.Errorf("SuccessRate = %v, wanted = %v", got.SuccessRate, tt.wantSuccess)
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := FromRecords(fixture()).WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"total", "outcomes", "success_rate", "single_backend_rate", "needs_review_rate", "error_reasons", "enumeration_skips", "dimensions", "groups"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("summary document is missing %q:\n%s", key, buf.String())
		}
	}
	if got := doc["outcomes"].(map[string]any)["ensemble_degraded"]; got != 1.0 {
		t.Errorf("outcomes.ensemble_degraded = %v, wanted = 1", got)
	}
}

func TestWriteTable(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	for _, r := range fixture() {
		a.Add(r)
	}
	a.AddSkips(unit.Skips{unit.SkipStatusExcluded: 2})

	var buf bytes.Buffer
	if err := a.Summary().WriteTable(&buf); err != nil {
		t.Fatalf("WriteTable() error = %v", err)
	}
	got := buf.String()
	for _, want := range []string{
		"## Outcomes (4 units)",
		"ensemble_degraded",
		"25.0%",
		"## Dimensions",
		"identity",
		"50.0%",
		"3.67",
		"## Error Reasons",
		"parse_error",
		"## Enumeration Skips",
		"status_excluded",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("table is missing %q:\n%s", want, got)
		}
	}
}

func TestWriteTableEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := NewAggregator().Summary().WriteTable(&buf); err != nil {
		t.Fatalf("WriteTable() error = %v", err)
	}
	if got := buf.String(); strings.Contains(got, "## Dimensions") || strings.Contains(got, "## Enumeration Skips") {
		t.Errorf("empty summary rendered optional sections:\n%s", got)
	}
}

func TestMetricsObserver(t *testing.T) {
	t.Parallel()

	m := NewMetricsObserver("metrics-test", "flux")
	for _, r := range fixture() {
		m.Observe(r)
	}
	m.Observe(nil)
	m.ObserveSkips(unit.Skips{unit.SkipMissingImage: 3})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"success units", testutil.ToFloat64(unitCounter.WithLabelValues("metrics-test", "flux", "success")), 1},
		{"degraded units", testutil.ToFloat64(unitCounter.WithLabelValues("metrics-test", "flux", "ensemble_degraded")), 1},
		{"identity disagreements", testutil.ToFloat64(disagreementCounter.WithLabelValues("metrics-test", "flux", "identity")), 1},
		{"hair disagreements", testutil.ToFloat64(disagreementCounter.WithLabelValues("metrics-test", "flux", "hair")), 0},
		{"missing image skips", testutil.ToFloat64(skipCounter.WithLabelValues("metrics-test", "flux", "missing_image")), 3},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, wanted = %v", tt.name, tt.got, tt.want)
		}
	}
}
