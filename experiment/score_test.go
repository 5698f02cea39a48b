/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package experiment

import (
	"encoding/json"
	"testing"
)

func TestScoreUnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Score
		wantErr bool
	}{
		{name: "integer", input: `4`, want: 4},
		{name: "integral float", input: `3.0`, want: 3},
		{name: "numeric string", input: `"2"`, want: 2},
		{name: "null", input: `null`, want: NotApplicable},
		{name: "n/a string", input: `"N/A"`, want: NotApplicable},
		{name: "not applicable string", input: `"Not Applicable"`, want: NotApplicable},
		{name: "fraction", input: `2.5`, wantErr: true},
		{name: "zero", input: `0`, wantErr: true},
		{name: "word", input: `"high"`, wantErr: true},
		{name: "object", input: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got Score
			err := json.Unmarshal([]byte(tt.input), &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("Unmarshal(%s) = %v, wanted = %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestScoreMarshalJSON(t *testing.T) {
	t.Parallel()

	got, err := json.Marshal(map[string]Score{"a": 3, "b": NotApplicable})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if want := `{"a":3,"b":null}`; string(got) != want {
		t.Errorf("Marshal() = %s, wanted = %s", got, want)
	}
}

func TestRangeNearest(t *testing.T) {
	t.Parallel()

	r := Range{Min: 1, Max: 5}
	tests := []struct {
		in   float64
		want Score
	}{
		{in: 3, want: 3},
		{in: 2.5, want: 3},
		{in: 3.5, want: 4},
		{in: 2.49, want: 2},
		{in: 0.2, want: 1},
		{in: 7, want: 5},
	}
	for _, tt := range tests {
		if got := r.Nearest(tt.in); got != tt.want {
			t.Errorf("Nearest(%v) = %v, wanted = %v", tt.in, got, tt.want)
		}
	}
}

func TestRangeValidate(t *testing.T) {
	t.Parallel()

	for _, r := range []Range{{Min: 1, Max: 5}, {Min: 1, Max: 1}, {Min: 1, Max: 10}} {
		if err := r.Validate(); err != nil {
			t.Errorf("Validate(%+v) = %v", r, err)
		}
	}
	for _, r := range []Range{{Min: 5, Max: 1}, {Min: 0, Max: 5}, {Min: -2, Max: 2}} {
		if err := r.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, wanted error", r)
		}
	}
}
