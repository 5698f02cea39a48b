/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"maps"

	"gopkg.in/yaml.v3"
)

// stringLiteral only accepts untyped string constants from callers outside this package.
type stringLiteral string

// Prompt is a template whose placeholders are bound one at a time.
type Prompt struct {
	tmpl  *Template
	bound map[string]func() (string, error)
}

// NewPrompt parses a prompt template literal.
func NewPrompt(template stringLiteral) (*Prompt, error) {
	t, err := ParseTemplate(string(template))
	if err != nil {
		return nil, err
	}
	return &Prompt{tmpl: t, bound: map[string]func() (string, error){}}, nil
}

// MustNewPrompt is like NewPrompt but panics on error.
func MustNewPrompt(template stringLiteral) *Prompt {
	p, err := NewPrompt(template)
	if err != nil {
		panic(err)
	}
	return p
}

// Unbound returns the placeholders that still need a value.
func (p *Prompt) Unbound() []string {
	var out []string
	for _, name := range p.tmpl.names {
		if _, ok := p.bound[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// BindStringLiteral binds a developer-supplied literal.
func (p *Prompt) BindStringLiteral(name string, value stringLiteral) (*Prompt, error) {
	return p.bind(name, func() (string, error) { return string(value), nil })
}

// BindXML binds data marshaled as indented XML.
func (p *Prompt) BindXML(name string, data any) (*Prompt, error) {
	return p.bind(name, func() (string, error) {
		b, err := xml.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshaling %q as XML: %w", name, err)
		}
		return string(b), nil
	})
}

// BindYAML binds data marshaled as YAML.
func (p *Prompt) BindYAML(name string, data any) (*Prompt, error) {
	return p.bind(name, func() (string, error) {
		b, err := yaml.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("marshaling %q as YAML: %w", name, err)
		}
		return string(b), nil
	})
}

// BindJSON binds data marshaled as indented JSON.
func (p *Prompt) BindJSON(name string, data any) (*Prompt, error) {
	return p.bind(name, func() (string, error) {
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshaling %q as JSON: %w", name, err)
		}
		return string(b), nil
	})
}

func (p *Prompt) bind(name string, value func() (string, error)) (*Prompt, error) {
	known := false
	for _, n := range p.tmpl.names {
		if n == name {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("placeholder %q not found in prompt", name)
	}
	if _, ok := p.bound[name]; ok {
		return nil, fmt.Errorf("placeholder %q already bound", name)
	}
	next := &Prompt{tmpl: p.tmpl, bound: maps.Clone(p.bound)}
	next.bound[name] = value
	return next, nil
}

// Build renders the prompt. It fails if any placeholder is unbound.
func (p *Prompt) Build() (string, error) {
	if missing := p.Unbound(); len(missing) > 0 {
		return "", fmt.Errorf("unbound placeholders: %v", missing)
	}
	values := make(map[string]string, len(p.bound))
	for name, value := range p.bound {
		v, err := value()
		if err != nil {
			return "", err
		}
		values[name] = v
	}
	return p.tmpl.Render(values)
}
