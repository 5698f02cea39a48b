/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/vlmensemble/experiment"
)

// ErrNoJSON is returned when a reply contains no well-formed JSON object.
var ErrNoJSON = errors.New("no JSON object found in reply")

// ExtractScores locates the first well-formed JSON object embedded in text
// and reads one score per dimension from it. Scores may be at the top
// level or nested under "scores". Every dimension must be present and
// every applicable score must lie within r.
func ExtractScores(text string, dimensions []string, r experiment.Range) (map[string]experiment.Score, error) {
	obj, err := firstObject(text)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(obj, &fields); err != nil {
		return nil, fmt.Errorf("decoding reply object: %w", err)
	}
	if nested, ok := fields["scores"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(nested, &inner); err == nil {
			fields = inner
		}
	}

	scores := make(map[string]experiment.Score, len(dimensions))
	for _, dim := range dimensions {
		raw, ok := fields[dim]
		if !ok {
			return nil, fmt.Errorf("missing dimension %q", dim)
		}
		var s experiment.Score
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("dimension %q: %w", dim, err)
		}
		if s.Applicable() && !r.Contains(s) {
			return nil, fmt.Errorf("dimension %q: score %d outside [%d, %d]", dim, s, r.Min, r.Max)
		}
		scores[dim] = s
	}
	return scores, nil
}

// firstObject returns the first embedded JSON object: the content of a
// ```json fence if one decodes, otherwise the first balanced {...} span
// that decodes.
func firstObject(text string) ([]byte, error) {
	for _, block := range fencedBlocks(text) {
		if b := bytes.TrimSpace([]byte(block)); isObject(b) {
			return b, nil
		}
	}
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > 0 {
			if b := []byte(text[start : end+1]); isObject(b) {
				return b, nil
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, ErrNoJSON
}

func isObject(b []byte) bool {
	return len(b) > 0 && b[0] == '{' && json.Valid(b)
}

// fencedBlocks returns the bodies of ```json fences in order.
func fencedBlocks(text string) []string {
	const open, fence = "```json", "```"
	var out []string
	for {
		i := strings.Index(text, open)
		if i < 0 {
			return out
		}
		text = text[i+len(open):]
		j := strings.Index(text, fence)
		if j < 0 {
			return append(out, text)
		}
		out = append(out, text[:j])
		text = text[j+len(fence):]
	}
}

// matchBrace returns the index of the brace closing the one at start, or
// -1. Braces inside JSON strings are ignored.
func matchBrace(text string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
