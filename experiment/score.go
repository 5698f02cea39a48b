/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package experiment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Score is a rubric score. The zero value is NotApplicable.
type Score int

// NotApplicable marks a dimension the backend declined to score.
const NotApplicable Score = 0

// Applicable reports whether s carries a numeric score.
func (s Score) Applicable() bool {
	return s != NotApplicable
}

func (s Score) String() string {
	if !s.Applicable() {
		return "n/a"
	}
	return strconv.Itoa(int(s))
}

// MarshalJSON encodes NotApplicable as null.
func (s Score) MarshalJSON() ([]byte, error) {
	if !s.Applicable() {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(int(s))), nil
}

// UnmarshalJSON accepts integers, integral floats, numeric strings, null and
// the strings "n/a", "na" and "not applicable".
func (s *Score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = NotApplicable
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(str)) {
		case "n/a", "na", "not applicable", "":
			*s = NotApplicable
			return nil
		}
		data = []byte(strings.TrimSpace(str))
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("score %s is not a number", data)
	}
	if f != math.Trunc(f) {
		return fmt.Errorf("score %s is not an integer", data)
	}
	if f == 0 {
		return errors.New("score 0 is reserved for not applicable")
	}
	*s = Score(f)
	return nil
}

// Range is the inclusive range of valid rubric steps.
type Range struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// DefaultRange is the 1-5 rubric used when a rubric does not declare one.
var DefaultRange = Range{Min: 1, Max: 5}

// Validate checks that the range is usable. Zero is reserved for NotApplicable.
func (r Range) Validate() error {
	if r.Min > r.Max {
		return fmt.Errorf("score range min %d exceeds max %d", r.Min, r.Max)
	}
	if r.Min <= 0 && r.Max >= 0 {
		return fmt.Errorf("score range [%d, %d] must not contain 0", r.Min, r.Max)
	}
	return nil
}

// Contains reports whether s is a valid rubric step.
func (r Range) Contains(s Score) bool {
	return int(s) >= r.Min && int(s) <= r.Max
}

// Nearest rounds v to the nearest valid rubric step. Halves round up.
func (r Range) Nearest(v float64) Score {
	n := int(math.Floor(v + 0.5))
	return Score(max(r.Min, min(r.Max, n)))
}
