package release

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/railyard/internal/compat"
	"github.com/roach88/railyard/internal/graph"
	"github.com/roach88/railyard/internal/manifest"
	"github.com/roach88/railyard/internal/semver"
	"github.com/roach88/railyard/internal/store"
)

const (
	defaultCallTimeout = 2 * time.Minute
	defaultRetryDelay  = 2 * time.Second
)

// Deps are the orchestrator's external collaborators.
type Deps struct {
	Rules     *compat.RuleSet
	Source    VersionSource
	Promoter  Promoter
	Validator IntegrityValidator
	Registry  RegistryWriter
	Manifests *manifest.Dir
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCallTimeout bounds each outbound collaborator call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.callTimeout = d }
}

// WithRetryDelay sets the pause before a granted retry.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.retryDelay = d }
}

// WithTokens overrides the attempt token generator (tests use a fixed
// sequence for reproducible registry rows).
func WithTokens(g TokenGenerator) Option {
	return func(o *Orchestrator) { o.tokens = g }
}

// WithNow overrides the wall clock used for manifest and registry
// timestamps.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator coordinates release attempts for one platform. At most
// one attempt runs at a time; a second Run while one is in flight is
// rejected with ConcurrentReleaseError.
type Orchestrator struct {
	platform    string
	deps        Deps
	tokens      TokenGenerator
	callTimeout time.Duration
	retryDelay  time.Duration
	now         func() time.Time

	releasing atomic.Bool
}

// New builds an Orchestrator for the named platform.
func New(platform string, deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		platform:    platform,
		deps:        deps,
		tokens:      UUIDv7Generator{},
		callTimeout: defaultCallTimeout,
		retryDelay:  defaultRetryDelay,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Request describes one proposed release.
type Request struct {
	// Services is the proposed version set: every participating service
	// and the version it should ship at.
	Services map[string]semver.Version

	// Nodes declares the dependency edges used to order deployment.
	Nodes []graph.Node

	// CurrentPlatform pins the platform version to bump from. When nil
	// the last known-good manifest's version is used, or 0.0.0 for a
	// platform that has never released.
	CurrentPlatform *semver.Version

	// Stage is the promotion target stage.
	Stage string

	// ReleaseType is "release" or "hotfix". A hotfix releases a subset
	// of the fleet out of band: the dependency completeness check is
	// skipped, compatibility is still enforced against the versions the
	// rest of the fleet is running.
	ReleaseType string

	// Notes carries operator-supplied release notes into the manifest.
	Notes string

	// Preview stops after the platform version is determined: no
	// registry row, no promotion, no manifest file. The built manifest
	// is returned on the attempt for inspection.
	Preview bool

	// AllowDowngrade permits proposed versions lower than the deployed
	// ones. Downgrades still classify as NONE for the platform bump.
	AllowDowngrade bool

	// RequireChange fails the attempt instead of completing as a no-op
	// when every transition classifies as NONE.
	RequireChange bool
}

// Run executes one release attempt end to end. The returned Attempt
// carries the full trail regardless of outcome; err is nil only when
// the attempt reached COMPLETED.
//
// Cancelling ctx mid-promotion is handled as a mid-phase failure:
// in-flight promotions are waited for, then the completed set is rolled
// back. The rollback itself is not subject to the cancellation.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Attempt, error) {
	if !o.releasing.CompareAndSwap(false, true) {
		return nil, &ConcurrentReleaseError{Platform: o.platform}
	}
	defer o.releasing.Store(false)

	if len(req.Services) == 0 {
		return nil, fmt.Errorf("release request for %s has no services", o.platform)
	}

	a := newAttempt(o.tokens.Generate(), o.platform, req.Services, o.now())
	slog.Info("release attempt accepted",
		"platform", o.platform, "attempt", a.Token,
		"services", len(req.Services), "type", req.ReleaseType)

	baseline, err := o.collect(ctx, a, req)
	if err != nil {
		return o.fail(ctx, a, err)
	}
	if err := o.validateCompatibility(ctx, a, req, baseline); err != nil {
		return o.fail(ctx, a, err)
	}
	if err := o.resolveOrder(a, req); err != nil {
		return o.fail(ctx, a, err)
	}

	done, err := o.determineVersion(a, req)
	if err != nil {
		return o.fail(ctx, a, err)
	}
	if done {
		if a.NoOp && !req.Preview {
			o.recordNoOp(ctx, a, req)
		}
		return a, nil
	}

	rec := store.PlatformRecord{
		Version:     a.Next.String(),
		Fingerprint: a.Manifest.Fingerprint(),
		ReleaseType: req.ReleaseType,
		SourceStage: req.Stage,
		Attempt:     a.Token,
		Services:    a.Manifest.Services,
		CreatedAt:   o.now(),
	}
	if _, err := o.deps.Registry.RecordPlatformVersion(ctx, rec); err != nil {
		return o.fail(ctx, a, fmt.Errorf("record attempt: %w", err))
	}

	completed, cause := o.promote(ctx, a, req)
	if cause == nil {
		cause = o.validateIntegrity(ctx, a)
	}
	if cause == nil {
		cause = o.complete(ctx, a)
	}
	if cause != nil {
		return o.finishFailure(ctx, a, req, completed, baseline, cause)
	}
	return a, nil
}

// collect builds the per-service transitions against the deployed
// baseline and enforces input completeness and downgrade policy.
// Returns the baseline versions for services the source knows.
func (o *Orchestrator) collect(ctx context.Context, a *Attempt, req Request) (map[string]semver.Version, error) {
	if req.ReleaseType != "hotfix" {
		missing := make(map[string][]string)
		for _, n := range req.Nodes {
			if _, ok := req.Services[n.Name]; !ok {
				continue
			}
			for _, dep := range n.DependsOn {
				if _, ok := req.Services[dep]; !ok {
					missing[dep] = append(missing[dep], n.Name)
				}
			}
		}
		if len(missing) > 0 {
			return nil, &IncompleteInputError{Missing: missing}
		}
	}

	names := make([]string, 0, len(req.Services))
	for name := range req.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	baseline := make(map[string]semver.Version)
	var downgrades []string
	for _, name := range names {
		from, ok, err := o.deps.Source.CurrentVersion(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("current version of %s: %w", name, err)
		}
		if ok {
			baseline[name] = from
		}
		// A service the source has never seen transitions from 0.0.0:
		// its first release classifies like any other bump. Seeds on
		// the source cover services that predate version tracking.
		t := semver.NewTransition(name, from, req.Services[name])
		a.Transitions = append(a.Transitions, t)
		if t.Downgrade {
			downgrades = append(downgrades, name)
		}
		slog.Debug("collected transition",
			"service", name, "from", t.From.String(), "to", t.To.String(),
			"change", t.Change.String(), "downgrade", t.Downgrade)
	}

	if len(downgrades) > 0 && !req.AllowDowngrade {
		return nil, &DowngradeError{Services: downgrades}
	}
	return baseline, nil
}

// validateCompatibility checks the proposed set, extended with the
// deployed versions of declared-but-not-participating services so a
// partial release is validated against what it will actually run next to.
func (o *Orchestrator) validateCompatibility(ctx context.Context, a *Attempt, req Request, baseline map[string]semver.Version) error {
	a.setState(StateValidatingCompatibility)

	coexisting := make(map[string]semver.Version, len(req.Services))
	for name, v := range req.Services {
		coexisting[name] = v
	}
	for _, n := range req.Nodes {
		for _, dep := range append([]string{n.Name}, n.DependsOn...) {
			if _, ok := coexisting[dep]; ok {
				continue
			}
			v, ok, err := o.deps.Source.CurrentVersion(ctx, dep)
			if err != nil {
				return fmt.Errorf("current version of %s: %w", dep, err)
			}
			if ok {
				coexisting[dep] = v
			}
		}
	}

	a.Report = o.deps.Rules.Validate(coexisting)
	for _, w := range a.Report.Warnings() {
		slog.Warn("compatibility warning",
			"pair", w.Pair.String(), "from", w.FromVersion.String(),
			"to", w.ToVersion.String(), "reason", w.Result.Reason)
	}
	return a.Report.Err()
}

func (o *Orchestrator) resolveOrder(a *Attempt, req Request) error {
	a.setState(StateResolvingOrder)

	participating := make([]string, 0, len(req.Services))
	for name := range req.Services {
		participating = append(participating, name)
	}
	sort.Strings(participating)

	plan, err := graph.Resolve(req.Nodes, participating)
	if err != nil {
		return err
	}
	a.Plan = plan
	slog.Info("deployment order resolved", "attempt", a.Token, "phases", len(plan.Phases))
	return nil
}

// determineVersion aggregates the transitions into the next platform
// version and builds the manifest. Returns done=true when the attempt
// terminated here: a no-op release or a preview.
func (o *Orchestrator) determineVersion(a *Attempt, req Request) (done bool, err error) {
	a.setState(StateDeterminingVersion)

	current := semver.Version{}
	switch {
	case req.CurrentPlatform != nil:
		current = *req.CurrentPlatform
	default:
		m, err := o.deps.Manifests.LastKnownGood()
		if err != nil {
			return false, fmt.Errorf("last known-good manifest: %w", err)
		}
		if m != nil {
			current, err = m.Version()
			if err != nil {
				return false, fmt.Errorf("last known-good manifest: %w", err)
			}
		}
	}

	a.Current = current
	a.Next, a.Change = semver.DeterminePlatform(current, a.Transitions)

	if a.Change == semver.ChangeNone {
		a.NoOp = true
		a.Next = current
		if req.RequireChange {
			return false, ErrNoChange
		}
		slog.Info("no version changed; completing as no-op",
			"attempt", a.Token, "platform_version", current.String())
		a.setState(StateCompleted)
		return true, nil
	}

	deps := make(map[string][]string)
	for _, n := range req.Nodes {
		if _, ok := req.Services[n.Name]; ok && len(n.DependsOn) > 0 {
			deps[n.Name] = n.DependsOn
		}
	}
	a.Manifest = manifest.New(a.Next, req.Services, deps, req.Stage, req.ReleaseType, req.Notes, o.now())
	slog.Info("platform version determined",
		"attempt", a.Token, "current", current.String(),
		"next", a.Next.String(), "change", a.Change.String())

	if req.Preview {
		return true, nil
	}
	return false, nil
}

// promote walks the plan phase by phase. Services within a phase are
// promoted concurrently; the phase boundary is a barrier. Returns the
// services promoted successfully, in deployment order, and the first
// failure (nil when every phase succeeded).
func (o *Orchestrator) promote(ctx context.Context, a *Attempt, req Request) (completed []string, cause error) {
	a.setState(StatePromoting)
	clock := NewClock()

	for phaseIdx, phase := range a.Plan.Phases {
		if err := ctx.Err(); err != nil {
			return completed, fmt.Errorf("release cancelled before phase %d: %w", phaseIdx+1, err)
		}
		slog.Info("promoting phase", "attempt", a.Token, "phase", phaseIdx+1, "services", phase)

		succeeded, err := o.promotePhase(ctx, a, clock, phaseIdx, phase, req.Stage)
		completed = append(completed, succeeded...)
		if err != nil {
			return completed, err
		}
	}
	return completed, nil
}

// promotePhase promotes every service of one phase concurrently and
// waits for all of them, cancelled or not, before returning. succeeded
// lists the services that promoted, in phase (lexicographic) order; err
// is the first failure in that order.
func (o *Orchestrator) promotePhase(ctx context.Context, a *Attempt, clock *Clock, phaseIdx int, services []string, stage string) (succeeded []string, err error) {
	results := make([]error, len(services))
	var wg sync.WaitGroup

	for i, service := range services {
		wg.Add(1)
		go func(i int, service string) {
			defer wg.Done()
			version := a.Versions[service].String()

			attempts, perr := o.promoteWithRetry(ctx, service, version, stage)
			outcome := PromotionOutcome{
				Service:  service,
				Version:  version,
				Stage:    stage,
				Phase:    phaseIdx,
				Attempts: attempts,
				Success:  perr == nil,
			}
			status := "succeeded"
			if perr != nil {
				outcome.Detail = perr.Error()
				status = "failed"
				results[i] = &PromotionError{
					Service: service, Version: version, Stage: stage,
					Attempts: attempts, Err: perr,
				}
			}
			a.appendPromotion(outcome)
			o.recordLedger(ctx, a, store.PromotionRecord{
				Service: service, Version: version, Stage: stage,
				Phase: phaseIdx, Kind: "promote", Status: status,
				Detail: outcome.Detail, Seq: clock.Next(),
			})
		}(i, service)
	}
	wg.Wait()

	for i, service := range services {
		if results[i] == nil {
			succeeded = append(succeeded, service)
		} else if err == nil {
			err = results[i]
		}
	}
	return succeeded, err
}

// promoteWithRetry calls the promoter under the per-call timeout,
// granting one retry to retryable failures.
func (o *Orchestrator) promoteWithRetry(ctx context.Context, service, version, stage string) (attempts int, err error) {
	promote := func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
		return o.deps.Promoter.Promote(callCtx, service, version, stage)
	}

	if err := promote(); err == nil {
		return 1, nil
	} else if ctx.Err() != nil || !IsRetryable(err) {
		return 1, err
	} else {
		slog.Warn("promotion failed; retrying once",
			"service", service, "version", version, "error", err)
	}

	select {
	case <-time.After(o.retryDelay):
	case <-ctx.Done():
		return 1, ctx.Err()
	}
	if err := promote(); err != nil {
		return 2, err
	}
	return 2, nil
}

// validateIntegrity runs the post-promotion check with the same bounded
// retry as promotions.
func (o *Orchestrator) validateIntegrity(ctx context.Context, a *Attempt) error {
	a.setState(StateValidatingIntegrity)

	validate := func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
		return o.deps.Validator.Validate(callCtx, a.Manifest)
	}

	err := validate()
	if err != nil && ctx.Err() == nil && IsRetryable(err) {
		slog.Warn("integrity validation failed; retrying once", "attempt", a.Token, "error", err)
		select {
		case <-time.After(o.retryDelay):
			err = validate()
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if err != nil {
		return &IntegrityError{Err: err}
	}
	return nil
}

// complete writes the manifest file and moves the registry row to its
// terminal outcome. A manifest write failure fails the attempt: without
// the file the release is not known-good, so the promoted set must come
// back down.
func (o *Orchestrator) complete(ctx context.Context, a *Attempt) error {
	path, err := o.deps.Manifests.Write(a.Manifest)
	if err != nil {
		return fmt.Errorf("persist manifest: %w", err)
	}
	if err := o.deps.Registry.SetOutcome(context.WithoutCancel(ctx), a.Token, store.OutcomeCompleted); err != nil {
		slog.Error("record outcome", "attempt", a.Token, "error", err)
	}
	a.setState(StateCompleted)
	slog.Info("release completed",
		"attempt", a.Token, "platform_version", a.Next.String(), "manifest", path)
	return nil
}

// recordNoOp writes the audit row for an attempt that determined no
// version change. Best effort: the fleet was untouched, so a lost row
// only costs audit detail.
func (o *Orchestrator) recordNoOp(ctx context.Context, a *Attempt, req Request) {
	services := make(map[string]string, len(req.Services))
	for name, v := range req.Services {
		services[name] = v.String()
	}
	rec := store.PlatformRecord{
		Version:     a.Next.String(),
		ReleaseType: req.ReleaseType,
		SourceStage: req.Stage,
		Attempt:     a.Token,
		Services:    services,
		Outcome:     store.OutcomeNoOp,
		CreatedAt:   o.now(),
	}
	if _, err := o.deps.Registry.RecordPlatformVersion(context.WithoutCancel(ctx), rec); err != nil {
		slog.Error("record no-op attempt", "attempt", a.Token, "error", err)
	}
}

// fail terminates an attempt that never reached the registry: nothing
// was promoted and no row exists to update.
func (o *Orchestrator) fail(_ context.Context, a *Attempt, cause error) (*Attempt, error) {
	a.Err = cause
	a.setState(StateFailed)
	slog.Error("release failed", "attempt", a.Token, "error", cause)
	return a, cause
}

// finishFailure handles a failure on or after the promotion path. With
// nothing promoted it degenerates to a plain failure; otherwise the
// completed set is rolled back in reverse order and the terminal state
// reflects whether every service was restored.
func (o *Orchestrator) finishFailure(ctx context.Context, a *Attempt, req Request, completed []string, baseline map[string]semver.Version, cause error) (*Attempt, error) {
	a.Err = cause
	if len(completed) == 0 {
		a.setState(StateFailed)
		o.setOutcome(ctx, a, store.OutcomeFailed)
		slog.Error("release failed before any promotion", "attempt", a.Token, "error", cause)
		return a, cause
	}

	a.setState(StateRollingBack)
	slog.Error("release failed; rolling back",
		"attempt", a.Token, "promoted", len(completed), "error", cause)

	// Rollback must run to completion even when the failure was the
	// caller cancelling the release.
	rbCtx := context.WithoutCancel(ctx)
	rb := NewRollbacker(o.deps.Promoter, o.callTimeout, o.retryDelay)
	a.Rollback = rb.Rollback(rbCtx, completed, baseline, req.Stage)

	clock := clockAtLedgerTail(a)
	for _, step := range a.Rollback.Steps {
		status := "succeeded"
		if !step.Recovered {
			status = "unrecovered"
		}
		o.recordLedger(rbCtx, a, store.PromotionRecord{
			Service: step.Service, Version: step.Version, Stage: req.Stage,
			Phase: a.Plan.PhaseOf(step.Service), Kind: "rollback", Status: status,
			Detail: step.Detail, Seq: clock.Next(),
		})
	}

	if a.Rollback.FullyRecovered() {
		a.setState(StateCompletedWithRollback)
		o.setOutcome(rbCtx, a, store.OutcomeCompletedRollback)
		return a, cause
	}
	a.setState(StateFailed)
	o.setOutcome(rbCtx, a, store.OutcomeFailed)
	return a, &RollbackFailedError{Unrecovered: a.Rollback.Unrecovered, Cause: cause}
}

// clockAtLedgerTail returns a clock positioned after the attempt's
// recorded promotions, so rollback ledger entries continue the sequence.
func clockAtLedgerTail(a *Attempt) *Clock {
	c := NewClock()
	for range a.Promotions() {
		c.Next()
	}
	return c
}

func (o *Orchestrator) recordLedger(ctx context.Context, a *Attempt, rec store.PromotionRecord) {
	rec.PlatformVersion = a.Next.String()
	rec.Attempt = a.Token
	rec.CreatedAt = o.now()
	// Ledger writes survive caller cancellation; losing the audit trail
	// is worse than a late write.
	if err := o.deps.Registry.RecordPromotion(context.WithoutCancel(ctx), rec); err != nil {
		slog.Error("record ledger entry", "attempt", a.Token, "service", rec.Service, "error", err)
	}
}

func (o *Orchestrator) setOutcome(ctx context.Context, a *Attempt, outcome string) {
	if err := o.deps.Registry.SetOutcome(context.WithoutCancel(ctx), a.Token, outcome); err != nil {
		slog.Error("record outcome", "attempt", a.Token, "outcome", outcome, "error", err)
	}
}
