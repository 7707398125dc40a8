package config

import (
	"fmt"
	"strings"

	"github.com/roach88/railyard/internal/semver"
)

// ParseOverrides parses repeated "service=version" flag values into a
// map. Versions are parsed leniently (a leading "v" or build suffix is
// tolerated) since overrides are typed by operators.
func ParseOverrides(raw []string) (map[string]semver.Version, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]semver.Version, len(raw))
	for _, ov := range raw {
		name, version, ok := strings.Cut(ov, "=")
		name = strings.TrimSpace(name)
		version = strings.TrimSpace(version)
		if !ok || name == "" || version == "" {
			return nil, fmt.Errorf("malformed override %q: expected service=version", ov)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("override for %s given twice", name)
		}
		v, err := semver.ParseLenient(version)
		if err != nil {
			return nil, fmt.Errorf("override %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// ApplyOverrides replaces roster versions with the override values.
// Every override must name a configured service; a typo in a service
// name must not silently release the un-overridden version.
func (c *Config) ApplyOverrides(overrides map[string]semver.Version) error {
	known := make(map[string]int, len(c.Services))
	for i, s := range c.Services {
		known[s.Name] = i
	}
	for name, v := range overrides {
		i, ok := known[name]
		if !ok {
			return fmt.Errorf("override names unknown service %q", name)
		}
		c.Services[i].Version = v.String()
	}
	return nil
}
