/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseTemplate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		wantNames []string
		wantErr   bool
	}{{
		name: "no placeholders",
		text: "source/all.png",
	}, {
		name:      "repeated placeholder",
		text:      "{{race}}/{{ gender }}/{{race}}.png",
		wantNames: []string{"race", "gender"},
	}, {
		name:      "underscore and digits",
		text:      "{{age_bucket2}}",
		wantNames: []string{"age_bucket2"},
	}, {
		name:    "unclosed",
		text:    "source/{{race.png",
		wantErr: true,
	}, {
		name:    "leading digit",
		text:    "{{2race}}",
		wantErr: true,
	}, {
		name:    "empty",
		text:    "{{}}",
		wantErr: true,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tmpl, err := ParseTemplate(tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTemplate(%q): got = nil error, wanted error", tt.text)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTemplate(%q): %v", tt.text, err)
			}
			if diff := cmp.Diff(tt.wantNames, tmpl.Names()); diff != "" {
				t.Errorf("Names() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTemplateRender(t *testing.T) {
	t.Parallel()

	tmpl := MustParseTemplate("source/{{race}}_{{gender}}_{{age}}.png")

	got, err := tmpl.Render(map[string]string{"race": "black", "gender": "female", "age": "30s"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if want := "source/black_female_30s.png"; got != want {
		t.Errorf("Render: got = %q, wanted = %q", got, want)
	}

	if _, err := tmpl.Render(map[string]string{"race": "black"}); err == nil {
		t.Error("Render with missing values: got = nil error, wanted error")
	}
}

func TestTemplateRenderDoesNotRescanValues(t *testing.T) {
	t.Parallel()

	tmpl := MustParseTemplate("{{a}}-{{b}}")
	got, err := tmpl.Render(map[string]string{"a": "{{b}}", "b": "x"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if want := "{{b}}-x"; got != want {
		t.Errorf("Render: got = %q, wanted = %q", got, want)
	}
}
