// Package config loads and validates railyard release configuration: the
// service roster with proposed versions, declared dependencies, and the
// declarative compatibility rules.
//
// A config file is YAML. It is first unified with an embedded CUE schema
// (schema.cue) so shape errors fail closed with a precise message, then
// decoded and cross-checked at the Go level (duplicate services,
// unknown rule references, self-dependencies).
package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/railyard/internal/compat"
	"github.com/roach88/railyard/internal/graph"
	"github.com/roach88/railyard/internal/semver"
)

//go:embed schema.cue
var schemaCUE string

// Service is one entry in the release roster.
type Service struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// DenySpec blocks a specific version combination of a rule's pair.
// An omitted version matches any version of that endpoint.
type DenySpec struct {
	FromVersion string `yaml:"from_version,omitempty"`
	ToVersion   string `yaml:"to_version,omitempty"`
	Severity    string `yaml:"severity"`
	Reason      string `yaml:"reason"`
}

// RequireMinSpec demands a minimum version of the "to" service.
type RequireMinSpec struct {
	Version  string `yaml:"version"`
	Severity string `yaml:"severity"`
	Reason   string `yaml:"reason,omitempty"`
}

// RequireSameMajorSpec demands matching major versions on the pair.
type RequireSameMajorSpec struct {
	Severity string `yaml:"severity"`
	Reason   string `yaml:"reason,omitempty"`
}

// RuleSpec declares the constraints for one directed service pair.
type RuleSpec struct {
	From             string                `yaml:"from"`
	To               string                `yaml:"to"`
	Deny             []DenySpec            `yaml:"deny,omitempty"`
	RequireMin       *RequireMinSpec       `yaml:"require_min,omitempty"`
	RequireSameMajor *RequireSameMajorSpec `yaml:"require_same_major,omitempty"`
}

// Platform identifies the platform this config releases.
type Platform struct {
	Name        string `yaml:"name"`
	SourceStage string `yaml:"source_stage"`
}

// Config is a fully validated release configuration.
type Config struct {
	Platform    Platform          `yaml:"platform"`
	ReleaseType string            `yaml:"release_type"`
	Services    []Service         `yaml:"services"`
	Rules       []RuleSpec        `yaml:"rules,omitempty"`
	Seeds       map[string]string `yaml:"seeds,omitempty"`
	Notes       string            `yaml:"notes,omitempty"`
}

// Error reports a configuration problem with enough context to fix it.
type Error struct {
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s: %s", e.Path, e.Message)
	}
	return "config: " + e.Message
}

// Load reads, schema-validates, and decodes a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Message: err.Error()}
	}
	return Parse(path, data)
}

// Parse validates and decodes config bytes. The path is used only for
// error messages.
func Parse(path string, data []byte) (*Config, error) {
	if err := validateSchema(path, data); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &Error{Path: path, Message: fmt.Sprintf("decode: %v", err)}
	}
	applyDefaults(cfg)

	if err := cfg.check(); err != nil {
		return nil, &Error{Path: path, Message: err.Error()}
	}
	return cfg, nil
}

// validateSchema unifies the YAML document with the embedded CUE schema.
func validateSchema(path string, data []byte) error {
	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return &Error{Message: fmt.Sprintf("internal schema error: %v", err)}
	}

	file, err := cueyaml.Extract(path, data)
	if err != nil {
		return &Error{Path: path, Message: fmt.Sprintf("parse yaml: %v", err)}
	}
	doc := cctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return &Error{Path: path, Message: cueerrors.Details(err, nil)}
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Final(), cue.Concrete(true)); err != nil {
		return &Error{Path: path, Message: cueerrors.Details(err, nil)}
	}
	return nil
}

// applyDefaults fills the schema's default values for callers that decode
// plain YAML (the CUE defaults do not materialize into the YAML bytes).
func applyDefaults(cfg *Config) {
	if cfg.Platform.SourceStage == "" {
		cfg.Platform.SourceStage = "PROD"
	}
	if cfg.ReleaseType == "" {
		cfg.ReleaseType = "release"
	}
}

// check performs the cross-field validation CUE cannot express cleanly.
func (c *Config) check() error {
	seen := make(map[string]bool, len(c.Services))
	for _, s := range c.Services {
		if seen[s.Name] {
			return fmt.Errorf("duplicate service %q", s.Name)
		}
		seen[s.Name] = true

		if _, err := semver.Parse(s.Version); err != nil {
			return fmt.Errorf("service %s: %v", s.Name, err)
		}
		for _, dep := range s.DependsOn {
			if dep == s.Name {
				return fmt.Errorf("service %s depends on itself", s.Name)
			}
		}
	}

	for _, r := range c.Rules {
		if r.From == r.To {
			return fmt.Errorf("rule %s->%s: a service cannot constrain itself", r.From, r.To)
		}
		if len(r.Deny) == 0 && r.RequireMin == nil && r.RequireSameMajor == nil {
			return fmt.Errorf("rule %s->%s declares no constraint", r.From, r.To)
		}
	}

	for name, seed := range c.Seeds {
		if _, err := semver.Parse(seed); err != nil {
			return fmt.Errorf("seed for %s: %v", name, err)
		}
	}
	return nil
}

// ProposedVersions returns the roster as name -> parsed version.
func (c *Config) ProposedVersions() (map[string]semver.Version, error) {
	out := make(map[string]semver.Version, len(c.Services))
	for _, s := range c.Services {
		v, err := semver.Parse(s.Version)
		if err != nil {
			return nil, err
		}
		out[s.Name] = v
	}
	return out, nil
}

// Nodes returns the dependency declarations as graph nodes.
func (c *Config) Nodes() []graph.Node {
	nodes := make([]graph.Node, len(c.Services))
	for i, s := range c.Services {
		nodes[i] = graph.Node{Name: s.Name, DependsOn: append([]string(nil), s.DependsOn...)}
	}
	return nodes
}

// Dependencies returns the dependency map keyed by service name, with
// each list sorted for reproducible manifests.
func (c *Config) Dependencies() map[string][]string {
	deps := make(map[string][]string, len(c.Services))
	for _, s := range c.Services {
		if len(s.DependsOn) == 0 {
			continue
		}
		d := append([]string(nil), s.DependsOn...)
		sort.Strings(d)
		deps[s.Name] = d
	}
	return deps
}

// SeedVersions parses the configured seed versions.
func (c *Config) SeedVersions() (map[string]semver.Version, error) {
	out := make(map[string]semver.Version, len(c.Seeds))
	for name, raw := range c.Seeds {
		v, err := semver.Parse(raw)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// RuleSet compiles the declarative rule specs into the explicit rule
// table consumed by the validator.
func (c *Config) RuleSet() (*compat.RuleSet, error) {
	rs := compat.NewRuleSet()
	for _, spec := range c.Rules {
		rule, err := compileRule(spec)
		if err != nil {
			return nil, fmt.Errorf("rule %s->%s: %w", spec.From, spec.To, err)
		}
		if err := rs.Register(spec.From, spec.To, rule); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// compileRule folds one spec's constraints into a single pure Rule. The
// worst (highest-severity) failing constraint wins; among equal
// severities the first declared wins.
func compileRule(spec RuleSpec) (compat.Rule, error) {
	var parts []compat.Rule

	for _, d := range spec.Deny {
		sev, err := compat.ParseSeverity(d.Severity)
		if err != nil {
			return nil, err
		}
		anyFrom := d.FromVersion == ""
		anyTo := d.ToVersion == ""
		var fromV, toV semver.Version
		if !anyFrom {
			if fromV, err = semver.Parse(d.FromVersion); err != nil {
				return nil, err
			}
		}
		if !anyTo {
			if toV, err = semver.Parse(d.ToVersion); err != nil {
				return nil, err
			}
		}
		parts = append(parts, compat.DenyPair(fromV, toV, anyFrom, anyTo, sev, d.Reason))
	}

	if spec.RequireMin != nil {
		sev, err := compat.ParseSeverity(spec.RequireMin.Severity)
		if err != nil {
			return nil, err
		}
		min, err := semver.Parse(spec.RequireMin.Version)
		if err != nil {
			return nil, err
		}
		parts = append(parts, compat.RequireMin(min, sev, spec.RequireMin.Reason))
	}

	if spec.RequireSameMajor != nil {
		sev, err := compat.ParseSeverity(spec.RequireSameMajor.Severity)
		if err != nil {
			return nil, err
		}
		parts = append(parts, compat.RequireSameMajor(sev, spec.RequireSameMajor.Reason))
	}

	return func(a, b semver.Version) compat.Result {
		worst := compat.OK()
		for _, part := range parts {
			if res := part(a, b); res.Severity > worst.Severity {
				worst = res
			}
		}
		return worst
	}, nil
}
