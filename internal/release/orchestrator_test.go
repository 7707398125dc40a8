package release

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/railyard/internal/compat"
	"github.com/roach88/railyard/internal/graph"
	"github.com/roach88/railyard/internal/manifest"
	"github.com/roach88/railyard/internal/semver"
	"github.com/roach88/railyard/internal/store"
)

// fakePromoter records calls and fails services according to a script.
// Each scripted error is consumed by one call, so a service can fail
// once and succeed on retry.
type fakePromoter struct {
	mu    sync.Mutex
	calls []string
	fail  map[string][]error
}

func (p *fakePromoter) Promote(ctx context.Context, service, version, stage string) error {
	p.mu.Lock()
	p.calls = append(p.calls, service+"@"+version)
	var err error
	if q := p.fail[service]; len(q) > 0 {
		err, p.fail[service] = q[0], q[1:]
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (p *fakePromoter) promoted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type promoterFunc func(ctx context.Context, service, version, stage string) error

func (f promoterFunc) Promote(ctx context.Context, service, version, stage string) error {
	return f(ctx, service, version, stage)
}

type fakeValidator struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (v *fakeValidator) Validate(_ context.Context, _ *manifest.Manifest) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if len(v.errs) > 0 {
		err := v.errs[0]
		v.errs = v.errs[1:]
		return err
	}
	return nil
}

// staticSource answers deployed versions from a fixed map.
type staticSource map[string]semver.Version

func (s staticSource) CurrentVersion(_ context.Context, service string) (semver.Version, bool, error) {
	v, ok := s[service]
	return v, ok, nil
}

// memRegistry is an in-memory RegistryWriter. Rows are keyed by attempt
// token, matching the sqlite registry: the same platform version may be
// recorded again by a retried attempt.
type memRegistry struct {
	mu      sync.Mutex
	records []store.PlatformRecord
	ledger  []store.PromotionRecord
}

func newMemRegistry() *memRegistry {
	return &memRegistry{}
}

func (r *memRegistry) RecordPlatformVersion(_ context.Context, rec store.PlatformRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.Attempt == rec.Attempt {
			return 0, fmt.Errorf("attempt %s already recorded", rec.Attempt)
		}
	}
	if rec.Outcome == "" {
		rec.Outcome = store.OutcomePending
	}
	r.records = append(r.records, rec)
	return int64(len(r.records)), nil
}

func (r *memRegistry) SetOutcome(_ context.Context, attempt, outcome string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].Attempt == attempt {
			r.records[i].Outcome = outcome
			return nil
		}
	}
	return fmt.Errorf("no such attempt %s", attempt)
}

func (r *memRegistry) RecordPromotion(_ context.Context, rec store.PromotionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger = append(r.ledger, rec)
	return nil
}

// outcome returns the newest recorded outcome for a platform version.
func (r *memRegistry) outcome(version string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].Version == version {
			return r.records[i].Outcome
		}
	}
	return ""
}

func (r *memRegistry) ledgerKinds(kind string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.ledger {
		if e.Kind == kind {
			out = append(out, e.Service)
		}
	}
	return out
}

// fixture wires an orchestrator over fakes with the storefront fleet:
// checkout depends on inventory, notifications depends on checkout.
type fixture struct {
	orch      *Orchestrator
	promoter  *fakePromoter
	validator *fakeValidator
	registry  *memRegistry
	manifests *manifest.Dir
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		promoter:  &fakePromoter{fail: make(map[string][]error)},
		validator: &fakeValidator{},
		registry:  newMemRegistry(),
		manifests: manifest.NewDir(t.TempDir()),
	}
	source := staticSource{
		"inventory":     semver.MustParse("1.2.0"),
		"checkout":      semver.MustParse("2.0.0"),
		"notifications": semver.MustParse("0.9.0"),
	}
	deps := Deps{
		Rules:     compat.NewRuleSet(),
		Source:    source,
		Promoter:  f.promoter,
		Validator: f.validator,
		Registry:  f.registry,
		Manifests: f.manifests,
	}
	opts = append([]Option{
		WithRetryDelay(time.Millisecond),
		WithCallTimeout(time.Second),
		WithTokens(NewFixedGenerator("attempt-1", "attempt-2")),
	}, opts...)
	f.orch = New("storefront", deps, opts...)
	return f
}

func storefrontRequest() Request {
	current := semver.MustParse("2.1.0")
	return Request{
		Services: map[string]semver.Version{
			"inventory":     semver.MustParse("1.3.0"),
			"checkout":      semver.MustParse("2.0.1"),
			"notifications": semver.MustParse("0.9.0"),
		},
		Nodes: []graph.Node{
			{Name: "inventory"},
			{Name: "checkout", DependsOn: []string{"inventory"}},
			{Name: "notifications", DependsOn: []string{"checkout"}},
		},
		CurrentPlatform: &current,
		Stage:           "PROD",
		ReleaseType:     "release",
	}
}

func TestRunCompletes(t *testing.T) {
	f := newFixture(t)

	a, err := f.orch.Run(context.Background(), storefrontRequest())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, a.State())

	// MINOR (inventory) + PATCH (checkout) + NONE (notifications)
	// aggregate to a MINOR platform bump.
	assert.Equal(t, "2.2.0", a.Next.String())
	assert.Equal(t, semver.ChangeMinor, a.Change)
	assert.False(t, a.NoOp)

	// Promotion follows the phase order.
	assert.Equal(t, []string{"inventory@1.3.0", "checkout@2.0.1", "notifications@0.9.0"}, f.promoter.promoted())
	assert.Equal(t, 1, f.validator.calls)

	// Manifest file written, registry row terminal.
	m, err := f.manifests.Read("2.2.0")
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", m.Services["inventory"])
	assert.Equal(t, store.OutcomeCompleted, f.registry.outcome("2.2.0"))

	outcomes := a.Promotions()
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.True(t, o.Success)
		assert.Equal(t, 1, o.Attempts)
	}
}

func TestRunDerivesCurrentFromLastKnownGood(t *testing.T) {
	f := newFixture(t)

	prior := manifest.New(semver.MustParse("2.1.0"), map[string]semver.Version{
		"inventory": semver.MustParse("1.2.0"),
	}, nil, "PROD", "release", "", time.Now())
	_, err := f.manifests.Write(prior)
	require.NoError(t, err)

	req := storefrontRequest()
	req.CurrentPlatform = nil

	a, err := f.orch.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", a.Current.String())
	assert.Equal(t, "2.2.0", a.Next.String())
}

func TestRunRejectsConcurrentAttempt(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	f.orch.deps.Promoter = promoterFunc(func(ctx context.Context, service, version, stage string) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.orch.Run(context.Background(), storefrontRequest())
		assert.NoError(t, err)
	}()

	<-started
	_, err := f.orch.Run(context.Background(), storefrontRequest())
	var cre *ConcurrentReleaseError
	require.ErrorAs(t, err, &cre)
	assert.Equal(t, "storefront", cre.Platform)

	close(release)
	<-done
}

func TestRunIncompatibleFailsBeforePromotion(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.deps.Rules.Register("checkout", "inventory", compat.RequireMin(
		semver.MustParse("2.0.0"), compat.SeverityError, "checkout 2.x requires inventory >= 2.0.0")))

	a, err := f.orch.Run(context.Background(), storefrontRequest())
	var ie *compat.IncompatibleError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, StateFailed, a.State())
	assert.Empty(t, f.promoter.promoted())
	assert.False(t, a.Report.OverallCompatible())
}

func TestRunCycleFails(t *testing.T) {
	f := newFixture(t)
	req := storefrontRequest()
	req.Nodes = []graph.Node{
		{Name: "inventory", DependsOn: []string{"notifications"}},
		{Name: "checkout", DependsOn: []string{"inventory"}},
		{Name: "notifications", DependsOn: []string{"checkout"}},
	}

	a, err := f.orch.Run(context.Background(), req)
	var ce *graph.CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"checkout", "inventory", "notifications"}, ce.Remaining)
	assert.Equal(t, StateFailed, a.State())
	assert.Empty(t, f.promoter.promoted())
}

func TestRunIncompleteInput(t *testing.T) {
	f := newFixture(t)
	req := storefrontRequest()
	delete(req.Services, "inventory")

	a, err := f.orch.Run(context.Background(), req)
	var iie *IncompleteInputError
	require.ErrorAs(t, err, &iie)
	assert.Equal(t, []string{"checkout"}, iie.Missing["inventory"])
	assert.Equal(t, StateFailed, a.State())
}

func TestRunHotfixSkipsCompletenessCheck(t *testing.T) {
	f := newFixture(t)
	req := storefrontRequest()
	req.ReleaseType = "hotfix"
	req.Services = map[string]semver.Version{
		"checkout": semver.MustParse("2.0.1"),
	}

	a, err := f.orch.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, a.State())
	assert.Equal(t, []string{"checkout@2.0.1"}, f.promoter.promoted())
	// PATCH on one service bumps the platform patch.
	assert.Equal(t, "2.1.1", a.Next.String())
}

func TestRunHotfixValidatesAgainstDeployedFleet(t *testing.T) {
	f := newFixture(t)
	// checkout 2.x forbidden next to the deployed inventory 1.2.0.
	require.NoError(t, f.orch.deps.Rules.Register("checkout", "inventory", compat.RequireMin(
		semver.MustParse("2.0.0"), compat.SeverityError, "checkout 2.x requires inventory >= 2.0.0")))

	req := storefrontRequest()
	req.ReleaseType = "hotfix"
	req.Services = map[string]semver.Version{
		"checkout": semver.MustParse("2.0.1"),
	}

	_, err := f.orch.Run(context.Background(), req)
	var ie *compat.IncompatibleError
	require.ErrorAs(t, err, &ie)
	assert.Empty(t, f.promoter.promoted())
}

func TestRunNoOp(t *testing.T) {
	f := newFixture(t)
	req := storefrontRequest()
	req.Services = map[string]semver.Version{
		"inventory":     semver.MustParse("1.2.0"),
		"checkout":      semver.MustParse("2.0.0"),
		"notifications": semver.MustParse("0.9.0"),
	}

	a, err := f.orch.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, a.State())
	assert.True(t, a.NoOp)
	assert.Equal(t, "2.1.0", a.Next.String())
	assert.Empty(t, f.promoter.promoted())

	// No manifest for a release that shipped nothing, but the attempt is
	// still recorded for the audit trail.
	versions, err := f.manifests.Versions()
	require.NoError(t, err)
	assert.Empty(t, versions)
	assert.Equal(t, store.OutcomeNoOp, f.registry.outcome("2.1.0"))
}

func TestRunNoOpWithRequireChange(t *testing.T) {
	f := newFixture(t)
	req := storefrontRequest()
	req.RequireChange = true
	req.Services = map[string]semver.Version{
		"inventory": semver.MustParse("1.2.0"),
	}
	req.Nodes = []graph.Node{{Name: "inventory"}}

	a, err := f.orch.Run(context.Background(), req)
	require.ErrorIs(t, err, ErrNoChange)
	assert.Equal(t, StateFailed, a.State())
}

func TestRunPreviewStopsBeforePromotion(t *testing.T) {
	f := newFixture(t)
	req := storefrontRequest()
	req.Preview = true

	a, err := f.orch.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateDeterminingVersion, a.State())
	require.NotNil(t, a.Manifest)
	assert.Equal(t, "2.2.0", a.Manifest.PlatformVersion)
	assert.Empty(t, f.promoter.promoted())
	assert.Empty(t, f.registry.records)
}

func TestRunRejectsDowngrade(t *testing.T) {
	f := newFixture(t)
	req := storefrontRequest()
	req.Services["inventory"] = semver.MustParse("1.1.0") // deployed is 1.2.0

	a, err := f.orch.Run(context.Background(), req)
	var de *DowngradeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, []string{"inventory"}, de.Services)
	assert.Equal(t, StateFailed, a.State())

	req.AllowDowngrade = true
	a, err = f.orch.Run(context.Background(), req)
	require.NoError(t, err)
	// The downgrade classifies as NONE; checkout's PATCH still moves
	// the platform.
	assert.Equal(t, "2.1.1", a.Next.String())
	assert.Equal(t, StateCompleted, a.State())
}

func TestRunRetriesRetryablePromotion(t *testing.T) {
	f := newFixture(t)
	f.promoter.fail["checkout"] = []error{Retryable(errors.New("registry blip"))}

	a, err := f.orch.Run(context.Background(), storefrontRequest())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, a.State())

	for _, o := range a.Promotions() {
		if o.Service == "checkout" {
			assert.Equal(t, 2, o.Attempts)
			assert.True(t, o.Success)
		}
	}
}

func TestRunFatalPromotionRollsBackCompletedOnly(t *testing.T) {
	f := newFixture(t)
	f.promoter.fail["checkout"] = []error{errors.New("artifact missing")}

	a, err := f.orch.Run(context.Background(), storefrontRequest())
	var pe *PromotionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "checkout", pe.Service)
	assert.Equal(t, 1, pe.Attempts)

	assert.Equal(t, StateCompletedWithRollback, a.State())
	require.NotNil(t, a.Rollback)
	assert.True(t, a.Rollback.FullyRecovered())

	// Only phase 1 completed; only inventory is restored, to its
	// deployed version. notifications was never promoted.
	assert.Equal(t, []string{
		"inventory@1.3.0", "checkout@2.0.1", // promote (checkout fails)
		"inventory@1.2.0", // rollback
	}, f.promoter.promoted())
	assert.Equal(t, store.OutcomeCompletedRollback, f.registry.outcome("2.2.0"))
	assert.Equal(t, []string{"inventory"}, f.registry.ledgerKinds("rollback"))
}

func TestRunRetryAfterRollbackRecordsSameVersion(t *testing.T) {
	f := newFixture(t)
	f.promoter.fail["checkout"] = []error{errors.New("artifact missing")}

	a, err := f.orch.Run(context.Background(), storefrontRequest())
	require.Error(t, err)
	assert.Equal(t, StateCompletedWithRollback, a.State())
	assert.Equal(t, "2.2.0", a.Next.String())

	// The operator fixes the artifact and reruns the identical request.
	// The retry determines the same next version and must record its own
	// registry row; the failed attempt's row stays behind.
	a, err = f.orch.Run(context.Background(), storefrontRequest())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, a.State())
	assert.Equal(t, "2.2.0", a.Next.String())

	require.Len(t, f.registry.records, 2)
	assert.Equal(t, store.OutcomeCompletedRollback, f.registry.records[0].Outcome)
	assert.Equal(t, store.OutcomeCompleted, f.registry.records[1].Outcome)
	assert.NotEqual(t, f.registry.records[0].Attempt, f.registry.records[1].Attempt)
}

func TestRunRetryableFailureExhaustsRetry(t *testing.T) {
	f := newFixture(t)
	f.promoter.fail["inventory"] = []error{
		Retryable(errors.New("blip")),
		Retryable(errors.New("blip again")),
	}

	a, err := f.orch.Run(context.Background(), storefrontRequest())
	var pe *PromotionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.Attempts)

	// Nothing completed, so the attempt fails directly without a
	// rollback pass.
	assert.Equal(t, StateFailed, a.State())
	assert.Nil(t, a.Rollback)
	assert.Equal(t, store.OutcomeFailed, f.registry.outcome("2.2.0"))
}

func TestRunIntegrityFailureRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	f.validator.errs = []error{errors.New("smoke check failed")}

	a, err := f.orch.Run(context.Background(), storefrontRequest())
	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, StateCompletedWithRollback, a.State())

	// All three promoted, then restored in reverse deployment order.
	assert.Equal(t, []string{
		"inventory@1.3.0", "checkout@2.0.1", "notifications@0.9.0",
		"notifications@0.9.0", "checkout@2.0.0", "inventory@1.2.0",
	}, f.promoter.promoted())
	assert.Equal(t, []string{"notifications", "checkout", "inventory"}, f.registry.ledgerKinds("rollback"))
}

func TestRunIntegrityRetryableIsRetried(t *testing.T) {
	f := newFixture(t)
	f.validator.errs = []error{Retryable(errors.New("endpoint warming up"))}

	a, err := f.orch.Run(context.Background(), storefrontRequest())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, a.State())
	assert.Equal(t, 2, f.validator.calls)
}

func TestRunRollbackFailureLeavesUnrecovered(t *testing.T) {
	f := newFixture(t)
	f.promoter.fail["checkout"] = []error{errors.New("artifact missing")}
	// inventory promotes fine (nil), then its rollback promotion fails.
	// The failure is fatal, so no retry is granted.
	f.promoter.fail["inventory"] = []error{nil, errors.New("stage rejected rollback")}

	a, err := f.orch.Run(context.Background(), storefrontRequest())
	var rfe *RollbackFailedError
	require.ErrorAs(t, err, &rfe)
	assert.Equal(t, []string{"inventory"}, rfe.Unrecovered)

	var pe *PromotionError
	require.ErrorAs(t, rfe.Cause, &pe)
	assert.Equal(t, "checkout", pe.Service)

	assert.Equal(t, StateFailed, a.State())
	assert.Equal(t, store.OutcomeFailed, f.registry.outcome("2.2.0"))
	require.NotNil(t, a.Rollback)
	assert.Equal(t, []string{"inventory"}, a.Rollback.Unrecovered)
}

func TestRunCancellationRollsBackCompletedPhases(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	inner := f.promoter
	f.orch.deps.Promoter = promoterFunc(func(ctx context.Context, service, version, stage string) error {
		err := inner.Promote(ctx, service, version, stage)
		if service == "inventory" && version == "1.3.0" {
			cancel() // caller walks away after phase 1 lands
		}
		return err
	})

	a, err := f.orch.Run(ctx, storefrontRequest())
	require.Error(t, err)
	assert.Equal(t, StateCompletedWithRollback, a.State())
	require.NotNil(t, a.Rollback)
	assert.True(t, a.Rollback.FullyRecovered())

	// The rollback promotion runs despite the cancelled parent context.
	assert.Contains(t, f.promoter.promoted(), "inventory@1.2.0")
}

func TestManifestSourceFallsBackToSeeds(t *testing.T) {
	dir := manifest.NewDir(t.TempDir())
	m := manifest.New(semver.MustParse("1.0.0"), map[string]semver.Version{
		"inventory": semver.MustParse("1.2.0"),
	}, nil, "PROD", "release", "", time.Now())
	_, err := dir.Write(m)
	require.NoError(t, err)

	source := NewManifestSource(dir, map[string]semver.Version{
		"inventory": semver.MustParse("0.1.0"), // manifest wins
		"legacy":    semver.MustParse("3.4.5"),
	})

	v, ok, err := source.CurrentVersion(context.Background(), "inventory")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1.2.0", v.String())

	v, ok, err = source.CurrentVersion(context.Background(), "legacy")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3.4.5", v.String())

	_, ok, err = source.CurrentVersion(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "COLLECTING", StateCollecting.String())
	assert.Equal(t, "COMPLETED_WITH_ROLLBACK", StateCompletedWithRollback.String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StatePromoting.Terminal())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Retryable(errors.New("x"))))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", Retryable(errors.New("x")))))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(errors.New("fatal")))
	assert.False(t, IsRetryable(nil))
}
