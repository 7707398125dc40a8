// Package manifest defines the platform manifest value and its durable
// form: one YAML document per completed release, named by platform
// version, written under a configured manifest directory. The manifest
// directory is the engine's only durable artifact besides the registry.
package manifest

import (
	"fmt"
	"sort"
	"time"

	"github.com/roach88/railyard/internal/semver"
)

// Manifest describes one coordinated platform release. It is created once
// per release attempt and treated as immutable once promotion begins.
type Manifest struct {
	// PlatformVersion is the single version representing this release.
	PlatformVersion string `yaml:"platform_version" json:"platform_version"`

	// CreatedAt is the UTC creation timestamp.
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`

	// SourceStage names the stage versions were collected from.
	SourceStage string `yaml:"source_stage" json:"source_stage"`

	// ReleaseType is the pipeline flavor ("release" or "hotfix").
	ReleaseType string `yaml:"release_type" json:"release_type"`

	// Services maps service name to the version shipped in this release.
	Services map[string]string `yaml:"services" json:"services"`

	// Dependencies maps service name to its declared dependencies, as
	// used to compute the deployment plan.
	Dependencies map[string][]string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`

	// Notes carries operator-supplied release notes.
	Notes string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// New builds a manifest stamped with the given creation time. Service and
// dependency maps are copied; the manifest owns its data.
func New(platform semver.Version, services map[string]semver.Version, deps map[string][]string, stage, releaseType, notes string, now time.Time) *Manifest {
	svcs := make(map[string]string, len(services))
	for name, v := range services {
		svcs[name] = v.String()
	}
	depsCopy := make(map[string][]string, len(deps))
	for name, d := range deps {
		depsCopy[name] = append([]string(nil), d...)
	}
	return &Manifest{
		PlatformVersion: platform.String(),
		CreatedAt:       now.UTC(),
		SourceStage:     stage,
		ReleaseType:     releaseType,
		Services:        svcs,
		Dependencies:    depsCopy,
		Notes:           notes,
	}
}

// Version parses the manifest's platform version.
func (m *Manifest) Version() (semver.Version, error) {
	return semver.Parse(m.PlatformVersion)
}

// ServiceVersions parses the per-service version strings. A manifest read
// back from disk may predate stricter parsing, so lenient parsing is used.
func (m *Manifest) ServiceVersions() (map[string]semver.Version, error) {
	out := make(map[string]semver.Version, len(m.Services))
	for name, raw := range m.Services {
		v, err := semver.ParseLenient(raw)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: service %s: %w", m.PlatformVersion, name, err)
		}
		out[name] = v
	}
	return out, nil
}

// ServiceNames returns the participating service names sorted.
func (m *Manifest) ServiceNames() []string {
	names := make([]string, 0, len(m.Services))
	for name := range m.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
