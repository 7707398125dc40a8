package harness

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/roach88/railyard/internal/manifest"
	"github.com/roach88/railyard/internal/release"
	"github.com/roach88/railyard/internal/semver"
	"github.com/roach88/railyard/internal/store"
	"github.com/roach88/railyard/internal/testutil"
)

// frozenNow is the wall clock every scenario runs under, so manifests
// and registry rows carry a stable timestamp.
var frozenNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// Result is everything observable after a scenario run.
type Result struct {
	// Attempt is the terminal release attempt.
	Attempt *release.Attempt

	// Err is the orchestrator's returned error; scenarios that script a
	// failure expect it to be set.
	Err error

	// Ledger is the registry's promotion ledger for the attempt.
	Ledger []store.PromotionRecord

	// History is the registry's platform version rows, newest first.
	History []store.PlatformRecord

	// PromoterCalls records every promotion as "service@version".
	PromoterCalls []string

	// ValidatorCalls is the number of integrity validations performed.
	ValidatorCalls int
}

// Run executes one scenario against scripted collaborators and a fresh
// in-memory registry.
//
// Deterministic inputs (fixed attempt token, frozen clock, millisecond
// retry delay) make the result reproducible; only the call order within
// a concurrent phase varies.
func Run(scenario *Scenario) (*Result, error) {
	reg, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory registry: %w", err)
	}
	defer reg.Close()

	manifestDir, err := os.MkdirTemp("", "railyard-harness-")
	if err != nil {
		return nil, fmt.Errorf("create manifest dir: %w", err)
	}
	defer os.RemoveAll(manifestDir)

	cfg := scenario.Config()
	rules, err := cfg.RuleSet()
	if err != nil {
		return nil, err
	}
	versions, err := cfg.ProposedVersions()
	if err != nil {
		return nil, err
	}
	baseline, err := scenario.BaselineVersions()
	if err != nil {
		return nil, err
	}

	promoter := NewScriptedPromoter(scenario.PromoterFailures)
	validator := NewScriptedValidator(scenario.ValidatorFailures)

	orch := release.New(cfg.Platform.Name, release.Deps{
		Rules:     rules,
		Source:    StaticVersionSource(baseline),
		Promoter:  promoter,
		Validator: validator,
		Registry:  reg,
		Manifests: manifest.NewDir(manifestDir),
	},
		release.WithTokens(testutil.NewFixedTokenGenerator(scenario.AttemptToken)),
		release.WithNow(func() time.Time { return frozenNow }),
		release.WithRetryDelay(time.Millisecond),
		release.WithCallTimeout(time.Second),
	)

	req := release.Request{
		Services:       versions,
		Nodes:          cfg.Nodes(),
		Stage:          cfg.Platform.SourceStage,
		ReleaseType:    cfg.ReleaseType,
		Notes:          cfg.Notes,
		Preview:        scenario.Preview,
		AllowDowngrade: scenario.AllowDowngrade,
		RequireChange:  scenario.RequireChange,
	}
	if scenario.CurrentPlatform != "" {
		current, err := semver.Parse(scenario.CurrentPlatform)
		if err != nil {
			return nil, err
		}
		req.CurrentPlatform = &current
	}

	ctx := context.Background()
	attempt, runErr := orch.Run(ctx, req)
	if attempt == nil {
		return nil, runErr
	}

	result := &Result{
		Attempt:        attempt,
		Err:            runErr,
		PromoterCalls:  promoter.Calls(),
		ValidatorCalls: validator.Calls(),
	}
	result.Ledger, err = reg.Promotions(ctx, attempt.Token)
	if err != nil {
		return nil, err
	}
	result.History, err = reg.History(ctx, 0)
	if err != nil {
		return nil, err
	}
	return result, nil
}
