package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/railyard/internal/config"
	"github.com/roach88/railyard/internal/semver"
)

// Scenario describes one orchestrator run: the release configuration,
// the deployed baseline, and the scripted collaborator failures.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// AttemptToken fixes the attempt token for reproducible snapshots.
	AttemptToken string `yaml:"attempt_token,omitempty"`

	// CurrentPlatform pins the platform version to bump from.
	CurrentPlatform string `yaml:"current_platform,omitempty"`

	// Baseline maps service name to its deployed version.
	Baseline map[string]string `yaml:"baseline,omitempty"`

	// Request policy knobs.
	Preview        bool `yaml:"preview,omitempty"`
	AllowDowngrade bool `yaml:"allow_downgrade,omitempty"`
	RequireChange  bool `yaml:"require_change,omitempty"`

	// PromoterFailures scripts per-service promotion failures; each
	// entry is consumed by one Promote call. See ParseFailure for the
	// entry syntax.
	PromoterFailures map[string][]string `yaml:"promoter_failures,omitempty"`

	// ValidatorFailures scripts integrity validation failures.
	ValidatorFailures []string `yaml:"validator_failures,omitempty"`

	// ConfigNode holds the embedded railyard configuration; it is
	// re-serialized and run through the regular config loader so
	// scenarios get the same schema validation as real config files.
	ConfigNode yaml.Node `yaml:"config"`

	cfg *config.Config
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("scenario %s: missing name", path)
	}
	if s.ConfigNode.IsZero() {
		return nil, fmt.Errorf("scenario %s: missing config section", path)
	}

	cfgYAML, err := yaml.Marshal(&s.ConfigNode)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: re-encode config: %w", path, err)
	}
	s.cfg, err = config.Parse(path+"#config", cfgYAML)
	if err != nil {
		return nil, err
	}

	if s.CurrentPlatform != "" {
		if _, err := semver.Parse(s.CurrentPlatform); err != nil {
			return nil, fmt.Errorf("scenario %s: current_platform: %w", path, err)
		}
	}
	for name, raw := range s.Baseline {
		if _, err := semver.ParseLenient(raw); err != nil {
			return nil, fmt.Errorf("scenario %s: baseline %s: %w", path, name, err)
		}
	}
	return &s, nil
}

// Config returns the validated embedded release configuration.
func (s *Scenario) Config() *config.Config {
	return s.cfg
}

// BaselineVersions parses the deployed baseline.
func (s *Scenario) BaselineVersions() (map[string]semver.Version, error) {
	out := make(map[string]semver.Version, len(s.Baseline))
	for name, raw := range s.Baseline {
		v, err := semver.ParseLenient(raw)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}
