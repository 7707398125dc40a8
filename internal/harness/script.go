package harness

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/roach88/railyard/internal/manifest"
	"github.com/roach88/railyard/internal/release"
	"github.com/roach88/railyard/internal/semver"
)

// ParseFailure turns a scripted failure entry into an error. Entries are
// "retryable:<message>" for failures the orchestrator may retry, or
// "fatal:<message>" (the prefix is optional) for ones it may not.
func ParseFailure(entry string) error {
	if msg, ok := strings.CutPrefix(entry, "retryable:"); ok {
		return release.Retryable(errors.New(msg))
	}
	if msg, ok := strings.CutPrefix(entry, "fatal:"); ok {
		return errors.New(msg)
	}
	return errors.New(entry)
}

// ScriptedPromoter fails promotions per a consumed-once script and
// records every call it receives.
type ScriptedPromoter struct {
	mu       sync.Mutex
	calls    []string
	failures map[string][]error
}

// NewScriptedPromoter builds a promoter from per-service failure
// scripts. A nil entry in the parsed script means that call succeeds.
func NewScriptedPromoter(failures map[string][]string) *ScriptedPromoter {
	parsed := make(map[string][]error, len(failures))
	for service, entries := range failures {
		for _, e := range entries {
			parsed[service] = append(parsed[service], ParseFailure(e))
		}
	}
	return &ScriptedPromoter{failures: parsed}
}

// Promote records the call and returns the next scripted failure for the
// service, if any.
func (p *ScriptedPromoter) Promote(ctx context.Context, service, version, stage string) error {
	p.mu.Lock()
	p.calls = append(p.calls, service+"@"+version)
	var err error
	if q := p.failures[service]; len(q) > 0 {
		err, p.failures[service] = q[0], q[1:]
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return ctx.Err()
}

// Calls returns every recorded promotion as "service@version", in call
// order. Within a concurrent phase the order is nondeterministic.
func (p *ScriptedPromoter) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// ScriptedValidator fails integrity validations per a consumed-once
// script.
type ScriptedValidator struct {
	mu       sync.Mutex
	calls    int
	failures []error
}

// NewScriptedValidator builds a validator from a failure script.
func NewScriptedValidator(failures []string) *ScriptedValidator {
	v := &ScriptedValidator{}
	for _, e := range failures {
		v.failures = append(v.failures, ParseFailure(e))
	}
	return v
}

// Validate returns the next scripted failure, if any.
func (v *ScriptedValidator) Validate(_ context.Context, _ *manifest.Manifest) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if len(v.failures) > 0 {
		err := v.failures[0]
		v.failures = v.failures[1:]
		return err
	}
	return nil
}

// Calls returns the number of validations performed.
func (v *ScriptedValidator) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// StaticVersionSource answers deployed versions from a fixed map.
type StaticVersionSource map[string]semver.Version

// CurrentVersion implements release.VersionSource.
func (s StaticVersionSource) CurrentVersion(_ context.Context, service string) (semver.Version, bool, error) {
	v, ok := s[service]
	return v, ok, nil
}
