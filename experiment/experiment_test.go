/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package experiment

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPresetsCompile(t *testing.T) {
	t.Parallel()

	if diff := cmp.Diff([]string{"edit", "occupation", "preserve"}, Presets()); diff != "" {
		t.Errorf("Presets() mismatch (-want +got):\n%s", diff)
	}
	for _, name := range Presets() {
		e, err := Preset(name)
		if err != nil {
			t.Errorf("Preset(%q) error = %v", name, err)
			continue
		}
		if e.Name() != name {
			t.Errorf("Name() = %q, wanted = %q", e.Name(), name)
		}
	}
	if _, err := Preset("nope"); err == nil {
		t.Error("Preset(nope) = nil error, wanted error")
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	edit, _ := Preset("edit")
	occupation, _ := Preset("occupation")

	tests := []struct {
		name   string
		exp    *Experiment
		rel    string
		want   Name
		wantOK bool
	}{{
		name: "edit with status",
		exp:  edit,
		rel:  "curly-hair_asian_female_30s_ok.png",
		want: Name{
			Stem: "curly-hair_asian_female_30s_ok", Ext: ".png", PromptID: "curly-hair", Status: "ok",
			Attributes: map[string]string{"race": "asian", "gender": "female", "age": "30s"},
		},
		wantOK: true,
	}, {
		name: "edit without status",
		exp:  edit,
		rel:  "beard_black_male_60plus.jpg",
		want: Name{
			Stem: "beard_black_male_60plus", Ext: ".jpg", PromptID: "beard",
			Attributes: map[string]string{"race": "black", "gender": "male", "age": "60plus"},
		},
		wantOK: true,
	}, {
		name:   "edit missing attributes",
		exp:    edit,
		rel:    "beard_black.png",
		wantOK: false,
	}, {
		name: "occupation",
		exp:  occupation,
		rel:  "nurse__white_male_40s.png",
		want: Name{
			Stem: "nurse__white_male_40s", Ext: ".png", PromptID: "nurse",
			Attributes: map[string]string{"race": "white", "gender": "male", "age": "40s"},
		},
		wantOK: true,
	}, {
		name:   "occupation uses double separator",
		exp:    occupation,
		rel:    "nurse_white_male_40s.png",
		wantOK: false,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := tt.exp.Decode(tt.rel)
			if ok != tt.wantOK {
				t.Fatalf("Decode(%q) ok = %v, wanted = %v", tt.rel, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode(%q) mismatch (-want +got):\n%s", tt.rel, diff)
			}
		})
	}
}

func TestReferenceLayouts(t *testing.T) {
	t.Parallel()

	e, err := Preset("preserve")
	if err != nil {
		t.Fatalf("Preset() error = %v", err)
	}
	if !e.HasSecondary() {
		t.Fatal("HasSecondary() = false, wanted true")
	}
	n, ok := e.Decode("curly_asian_female_30s.png")
	if !ok {
		t.Fatal("Decode() failed")
	}
	vars := n.Vars("flux", "hair")

	src, err := e.SourceRef(vars)
	if err != nil {
		t.Fatalf("SourceRef() error = %v", err)
	}
	if want := "source/asian_female_30s.png"; src != want {
		t.Errorf("SourceRef() = %q, wanted = %q", src, want)
	}
	sec, err := e.SecondaryRef(vars)
	if err != nil {
		t.Fatalf("SecondaryRef() error = %v", err)
	}
	if want := "flux/hair/preserved/curly_asian_female_30s.png"; sec != want {
		t.Errorf("SecondaryRef() = %q, wanted = %q", sec, want)
	}
}

func TestCandidateAndExcluded(t *testing.T) {
	t.Parallel()

	e, _ := Preset("preserve")
	tests := []struct {
		rel  string
		want bool
	}{
		{rel: "curly_asian_female_30s.png", want: true},
		{rel: "curly_asian_female_30s.JPG", want: true},
		{rel: "notes.txt", want: false},
		{rel: "preserved/curly_asian_female_30s.png", want: false},
	}
	for _, tt := range tests {
		if got := e.Candidate(tt.rel); got != tt.want {
			t.Errorf("Candidate(%q) = %v, wanted = %v", tt.rel, got, tt.want)
		}
	}
	if !e.Excluded("FAILED") {
		t.Error("Excluded(FAILED) = false, wanted true")
	}
	if e.Excluded("ok") {
		t.Error("Excluded(ok) = true, wanted false")
	}
}

func TestNewInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no name", cfg: Config{Pattern: `(?P<prompt>x)`, Source: "s"}},
		{name: "name with slash", cfg: Config{Name: "a/b", Pattern: `(?P<prompt>x)`, Source: "s"}},
		{name: "bad pattern", cfg: Config{Name: "x", Pattern: `(`, Source: "s"}},
		{name: "no prompt group", cfg: Config{Name: "x", Pattern: `(?P<race>x)`, Source: "s"}},
		{name: "no source", cfg: Config{Name: "x", Pattern: `(?P<prompt>x)`}},
		{name: "unknown layout field", cfg: Config{Name: "x", Pattern: `(?P<prompt>x)`, Source: "{{race}}.png"}},
		{name: "bad glob", cfg: Config{Name: "x", Pattern: `(?P<prompt>x)`, Source: "s", Ignore: []string{"["}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() = nil error, wanted error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	e, err := Load(strings.NewReader(`
name: smile
pattern: '^(?P<prompt>[a-z]+)_(?P<race>[a-z]+)$'
source: 'faces/{{race}}.png'
categories: [expression]
extensions: [png]
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff([]string{"expression"}, e.Categories(nil)); diff != "" {
		t.Errorf("Categories() mismatch (-want +got):\n%s", diff)
	}
	if e.Candidate("a_b.jpg") {
		t.Error("Candidate(a_b.jpg) = true, wanted false")
	}

	if _, err := Load(strings.NewReader("name: x\nbogus: 1\n")); err == nil {
		t.Error("Load() with unknown field = nil error, wanted error")
	}
}
