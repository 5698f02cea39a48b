/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Template is a parsed `{{name}}` template.
type Template struct {
	text  string
	names []string // in order of first appearance
}

// ParseTemplate parses text and records the placeholders it references.
func ParseTemplate(text string) (*Template, error) {
	var names []string
	seen := make(map[string]struct{})
	if _, err := walk(text, func(name string) (string, error) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
		return "", nil
	}); err != nil {
		return nil, err
	}
	return &Template{text: text, names: names}, nil
}

// MustParseTemplate is like ParseTemplate but panics on error.
func MustParseTemplate(text string) *Template {
	t, err := ParseTemplate(text)
	if err != nil {
		panic(err)
	}
	return t
}

// Names returns the placeholder names in order of first appearance.
func (t *Template) Names() []string {
	return append([]string(nil), t.names...)
}

// String returns the unrendered template text.
func (t *Template) String() string {
	return t.text
}

// Render substitutes values into the template. Every placeholder must have a value.
func (t *Template) Render(values map[string]string) (string, error) {
	return walk(t.text, func(name string) (string, error) {
		v, ok := values[name]
		if !ok {
			return "", fmt.Errorf("no value for placeholder %q", name)
		}
		return v, nil
	})
}

// walk copies text, replacing each placeholder with the value from resolve.
func walk(text string, resolve func(name string) (string, error)) (string, error) {
	var sb strings.Builder
	for len(text) > 0 {
		start := strings.Index(text, "{{")
		if start == -1 {
			sb.WriteString(text)
			break
		}
		sb.WriteString(text[:start])

		end := strings.Index(text[start:], "}}")
		if end == -1 {
			return "", errors.New("unclosed placeholder: missing '}}'")
		}
		end += start

		name := strings.TrimSpace(text[start+2 : end])
		if !isIdentifier(name) {
			return "", fmt.Errorf("invalid placeholder %q", name)
		}
		val, err := resolve(name)
		if err != nil {
			return "", err
		}
		sb.WriteString(val)
		text = text[end+2:]
	}
	return sb.String(), nil
}

// isIdentifier reports whether s starts with a letter and continues with letters, digits or underscores.
func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || r == '_'):
		default:
			return false
		}
	}
	return s != ""
}
