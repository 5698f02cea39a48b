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
	"path"
	"regexp"
	"slices"
	"strings"

	"chainguard.dev/vlmensemble/promptbuilder"
	"gopkg.in/yaml.v3"
)

// Config is the serializable description of an experiment.
type Config struct {
	// Name identifies the experiment and namespaces its checkpoints.
	Name string `yaml:"name"`

	// Pattern is matched against the output file stem. Named groups
	// "prompt" and "status" are special; every other named group becomes
	// a unit attribute.
	Pattern string `yaml:"pattern"`

	// Source is the reference layout for the unedited source image.
	Source string `yaml:"source"`

	// Secondary is the optional reference layout for a secondary image.
	Secondary string `yaml:"secondary,omitempty"`

	// Categories restricts enumeration. Empty means every rubric category.
	Categories []string `yaml:"categories,omitempty"`

	// ExcludeStatuses lists decoded status suffixes that are never scored.
	ExcludeStatuses []string `yaml:"exclude_statuses,omitempty"`

	// Extensions lists accepted output file extensions.
	Extensions []string `yaml:"extensions,omitempty"`

	// Ignore lists path.Match globs, relative to the category directory,
	// that are not candidate outputs.
	Ignore []string `yaml:"ignore,omitempty"`
}

// DefaultExtensions are used when a config does not list any.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".webp"}

// Experiment is a compiled Config. It is safe for concurrent use.
type Experiment struct {
	cfg       Config
	pattern   *regexp.Regexp
	source    *promptbuilder.Template
	secondary *promptbuilder.Template
	exclude   map[string]struct{}
	exts      map[string]struct{}
}

// New validates and compiles cfg.
func New(cfg Config) (*Experiment, error) {
	if cfg.Name == "" {
		return nil, errors.New("experiment name is required")
	}
	if strings.ContainsAny(cfg.Name, `/\`) {
		return nil, fmt.Errorf("experiment name %q must not contain path separators", cfg.Name)
	}
	if cfg.Pattern == "" {
		return nil, fmt.Errorf("experiment %q: pattern is required", cfg.Name)
	}
	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("experiment %q: compiling pattern: %w", cfg.Name, err)
	}
	if re.SubexpIndex("prompt") < 0 {
		return nil, fmt.Errorf("experiment %q: pattern must capture a \"prompt\" group", cfg.Name)
	}
	if cfg.Source == "" {
		return nil, fmt.Errorf("experiment %q: source layout is required", cfg.Name)
	}
	source, err := promptbuilder.ParseTemplate(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("experiment %q: source layout: %w", cfg.Name, err)
	}
	var secondary *promptbuilder.Template
	if cfg.Secondary != "" {
		if secondary, err = promptbuilder.ParseTemplate(cfg.Secondary); err != nil {
			return nil, fmt.Errorf("experiment %q: secondary layout: %w", cfg.Name, err)
		}
	}
	for _, g := range cfg.Ignore {
		if _, err := path.Match(g, ""); err != nil {
			return nil, fmt.Errorf("experiment %q: ignore glob %q: %w", cfg.Name, g, err)
		}
	}

	known := map[string]struct{}{"model": {}, "category": {}, "stem": {}, "ext": {}}
	for _, name := range re.SubexpNames() {
		if name != "" {
			known[name] = struct{}{}
		}
	}
	for _, t := range []*promptbuilder.Template{source, secondary} {
		if t == nil {
			continue
		}
		for _, name := range t.Names() {
			if _, ok := known[name]; !ok {
				return nil, fmt.Errorf("experiment %q: layout %q references unknown field %q", cfg.Name, t, name)
			}
		}
	}

	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	e := &Experiment{
		cfg:       cfg,
		pattern:   re,
		source:    source,
		secondary: secondary,
		exclude:   make(map[string]struct{}, len(cfg.ExcludeStatuses)),
		exts:      make(map[string]struct{}, len(cfg.Extensions)),
	}
	for _, s := range cfg.ExcludeStatuses {
		e.exclude[strings.ToLower(s)] = struct{}{}
	}
	for _, x := range cfg.Extensions {
		if !strings.HasPrefix(x, ".") {
			x = "." + x
		}
		e.exts[strings.ToLower(x)] = struct{}{}
	}
	return e, nil
}

// Load decodes and compiles a YAML experiment description.
func Load(r io.Reader) (*Experiment, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding experiment: %w", err)
	}
	return New(cfg)
}

// LoadFile reads an experiment description from a YAML file.
func LoadFile(p string) (*Experiment, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("opening experiment file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Name returns the experiment name.
func (e *Experiment) Name() string { return e.cfg.Name }

// Config returns a copy of the experiment's configuration.
func (e *Experiment) Config() Config {
	cfg := e.cfg
	cfg.Categories = slices.Clone(cfg.Categories)
	cfg.ExcludeStatuses = slices.Clone(cfg.ExcludeStatuses)
	cfg.Extensions = slices.Clone(cfg.Extensions)
	cfg.Ignore = slices.Clone(cfg.Ignore)
	return cfg
}

// Categories returns the categories to enumerate. When the experiment does
// not restrict them, every category in rubrics is used.
func (e *Experiment) Categories(rubrics RubricSet) []string {
	if len(e.cfg.Categories) > 0 {
		return slices.Sorted(slices.Values(e.cfg.Categories))
	}
	return rubrics.Categories()
}

// HasSecondary reports whether units carry a secondary reference image.
func (e *Experiment) HasSecondary() bool { return e.secondary != nil }

// Candidate reports whether rel, a slash-separated path relative to a
// category directory, should be considered an output image.
func (e *Experiment) Candidate(rel string) bool {
	if _, ok := e.exts[strings.ToLower(path.Ext(rel))]; !ok {
		return false
	}
	for _, g := range e.cfg.Ignore {
		if ok, _ := path.Match(g, rel); ok {
			return false
		}
	}
	return true
}

// Excluded reports whether a decoded status suffix is excluded.
func (e *Experiment) Excluded(status string) bool {
	_, ok := e.exclude[strings.ToLower(status)]
	return ok
}

// Name is a decoded output file name.
type Name struct {
	Stem       string
	Ext        string
	PromptID   string
	Status     string
	Attributes map[string]string
}

// Decode parses the file name of rel. It reports false when the stem does
// not match the experiment's pattern or the prompt group is empty.
func (e *Experiment) Decode(rel string) (Name, bool) {
	base := path.Base(rel)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	m := e.pattern.FindStringSubmatch(stem)
	if m == nil {
		return Name{}, false
	}
	n := Name{Stem: stem, Ext: ext, Attributes: map[string]string{}}
	for i, group := range e.pattern.SubexpNames() {
		if group == "" || m[i] == "" {
			continue
		}
		switch group {
		case "prompt":
			n.PromptID = m[i]
		case "status":
			n.Status = m[i]
		default:
			n.Attributes[group] = m[i]
		}
	}
	if n.PromptID == "" {
		return Name{}, false
	}
	return n, true
}

// Vars returns the values available to reference layouts for a name.
func (n Name) Vars(model, category string) map[string]string {
	vars := maps.Clone(n.Attributes)
	if vars == nil {
		vars = map[string]string{}
	}
	vars["model"] = model
	vars["category"] = category
	vars["stem"] = n.Stem
	vars["ext"] = n.Ext
	vars["prompt"] = n.PromptID
	vars["status"] = n.Status
	return vars
}

// SourceRef resolves the source image reference.
func (e *Experiment) SourceRef(vars map[string]string) (string, error) {
	return e.source.Render(vars)
}

// SecondaryRef resolves the secondary image reference, or "" when the
// experiment has none.
func (e *Experiment) SecondaryRef(vars map[string]string) (string, error) {
	if e.secondary == nil {
		return "", nil
	}
	return e.secondary.Render(vars)
}
