/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package experiment

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"chainguard.dev/vlmensemble/promptbuilder"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// Rubric is the scoring instructions for one category.
type Rubric struct {
	// Category is the rubric identifier, filled from the map key on load.
	Category string `yaml:"-"`

	// Text is the operator-supplied rubric content.
	Text string `yaml:"text"`

	// Dimensions are the score names every backend response must contain.
	Dimensions []string `yaml:"dimensions"`

	// Range is the valid score range. Defaults to DefaultRange.
	Range Range `yaml:"range"`
}

// Validate checks that the rubric can be rendered and scored.
func (r *Rubric) Validate() error {
	if r.Text == "" {
		return fmt.Errorf("rubric %q: text is required", r.Category)
	}
	if len(r.Dimensions) == 0 {
		return fmt.Errorf("rubric %q: at least one dimension is required", r.Category)
	}
	seen := make(map[string]struct{}, len(r.Dimensions))
	for _, d := range r.Dimensions {
		if d == "" {
			return fmt.Errorf("rubric %q: empty dimension name", r.Category)
		}
		if _, dup := seen[d]; dup {
			return fmt.Errorf("rubric %q: duplicate dimension %q", r.Category, d)
		}
		seen[d] = struct{}{}
	}
	if err := r.Range.Validate(); err != nil {
		return fmt.Errorf("rubric %q: %w", r.Category, err)
	}
	return nil
}

// RubricSet maps a category to its rubric. It is immutable after loading.
type RubricSet map[string]*Rubric

// Lookup returns the rubric for category.
func (s RubricSet) Lookup(category string) (*Rubric, error) {
	r, ok := s[category]
	if !ok {
		return nil, fmt.Errorf("no rubric configured for category %q", category)
	}
	return r, nil
}

// Categories returns the configured categories in sorted order.
func (s RubricSet) Categories() []string {
	return slices.Sorted(maps.Keys(s))
}

type rubricFile struct {
	Range      Range              `yaml:"range"`
	Categories map[string]*Rubric `yaml:"categories"`
}

// LoadRubrics decodes a rubric YAML document:
//
//	range: {min: 1, max: 5}
//	categories:
//	  hair_edit:
//	    dimensions: [identity, hair_change, realism]
//	    text: |
//	      ...
func LoadRubrics(r io.Reader) (RubricSet, error) {
	var f rubricFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding rubrics: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, errors.New("rubric file declares no categories")
	}
	if f.Range == (Range{}) {
		f.Range = DefaultRange
	}
	set := make(RubricSet, len(f.Categories))
	for category, rubric := range f.Categories {
		if rubric == nil {
			return nil, fmt.Errorf("rubric %q is empty", category)
		}
		rubric.Category = category
		if rubric.Range == (Range{}) {
			rubric.Range = f.Range
		}
		if err := rubric.Validate(); err != nil {
			return nil, err
		}
		set[category] = rubric
	}
	return set, nil
}

// LoadRubricsFile reads rubrics from a YAML file.
func LoadRubricsFile(path string) (RubricSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening rubric file: %w", err)
	}
	defer f.Close()
	return LoadRubrics(f)
}

// ScoreSheet is the structured block every backend must embed in its reply.
type ScoreSheet struct {
	Scores    map[string]Score `json:"scores" jsonschema:"required,description=One entry per rubric dimension; integer score or null when not applicable"`
	Rationale string           `json:"rationale,omitempty" jsonschema:"description=Short justification for the scores"`
}

// scoreSheetSchema is computed once; the shape does not depend on the rubric.
var scoreSheetSchema = (&jsonschema.Reflector{
	RequiredFromJSONSchemaTags: true,
	ExpandedStruct:             true,
	DoNotReference:             true,
}).Reflect(&ScoreSheet{})

// ImageRole names an image attached to a scoring request.
type ImageRole string

const (
	RoleSource    ImageRole = "source"
	RoleOutput    ImageRole = "output"
	RoleSecondary ImageRole = "secondary"
)

// Subject describes the unit being scored.
type Subject struct {
	PromptID   string
	Attributes map[string]string
	Images     []ImageRole
}

var scorePrompt = promptbuilder.MustNewPrompt(`<task>
You are auditing AI-edited images. Score the output image against the rubric below.
The images are attached in the order listed in the manifest.
</task>

{{manifest}}

{{subject}}

{{rubric}}

<dimensions>
{{dimensions}}
</dimensions>

<scale>
{{scale}}
</scale>

<output_format>
Reply with a single JSON object matching this schema:
{{schema}}
Use an integer within the scale for every dimension, or null when a dimension
cannot be judged from the images. Do not add dimensions that are not listed.
</output_format>`)

type manifestXML struct {
	XMLName struct{}   `xml:"manifest"`
	Images  []imageXML `xml:"image"`
}

type imageXML struct {
	Index int    `xml:"index,attr"`
	Role  string `xml:"role,attr"`
}

type subjectXML struct {
	XMLName    struct{}       `xml:"subject"`
	PromptID   string         `xml:"prompt_id,attr,omitempty"`
	Attributes []attributeXML `xml:"attribute"`
}

type attributeXML struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// Render builds the scoring prompt for one subject.
func (r *Rubric) Render(s Subject) (string, error) {
	manifest := manifestXML{}
	for i, role := range s.Images {
		manifest.Images = append(manifest.Images, imageXML{Index: i + 1, Role: string(role)})
	}
	subject := subjectXML{PromptID: s.PromptID}
	for _, k := range slices.Sorted(maps.Keys(s.Attributes)) {
		subject.Attributes = append(subject.Attributes, attributeXML{Name: k, Value: s.Attributes[k]})
	}

	p, err := scorePrompt.BindXML("manifest", manifest)
	if err != nil {
		return "", err
	}
	if p, err = p.BindXML("subject", subject); err != nil {
		return "", err
	}
	if p, err = p.BindXML("rubric", struct {
		XMLName struct{} `xml:"rubric"`
		Content string   `xml:",cdata"`
	}{Content: r.Text}); err != nil {
		return "", err
	}
	if p, err = p.BindYAML("dimensions", r.Dimensions); err != nil {
		return "", err
	}
	if p, err = p.BindYAML("scale", r.Range); err != nil {
		return "", err
	}
	if p, err = p.BindJSON("schema", scoreSheetSchema); err != nil {
		return "", err
	}
	return p.Build()
}
