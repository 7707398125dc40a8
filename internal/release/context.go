package release

import (
	"sync"
	"time"

	"github.com/roach88/railyard/internal/compat"
	"github.com/roach88/railyard/internal/graph"
	"github.com/roach88/railyard/internal/manifest"
	"github.com/roach88/railyard/internal/semver"
)

// PromotionOutcome is one promotion result within an attempt.
type PromotionOutcome struct {
	Service  string `json:"service"`
	Version  string `json:"version"`
	Stage    string `json:"stage"`
	Phase    int    `json:"phase"`
	Attempts int    `json:"attempts"`
	Success  bool   `json:"success"`
	Detail   string `json:"detail,omitempty"`
}

// Attempt is the working state of one release attempt, created by the
// Orchestrator when a request is accepted and returned to the caller in
// whatever terminal state the attempt reached.
//
// The orchestrator goroutine is the only writer to every field except
// the promotion outcome list, which per-service goroutines append to
// through the mutex. Callers read the struct after Run returns, when no
// goroutine is left writing.
type Attempt struct {
	// Token identifies this attempt in the registry and the logs.
	Token string `json:"token"`

	// Platform is the platform name being released.
	Platform string `json:"platform"`

	// StartedAt is the UTC time the attempt was accepted.
	StartedAt time.Time `json:"started_at"`

	// Versions is the proposed service version set.
	Versions map[string]semver.Version `json:"versions"`

	// Transitions records each service's movement from its deployed
	// version, in sorted service order.
	Transitions []semver.Transition `json:"transitions,omitempty"`

	// Report is the compatibility validation outcome.
	Report *compat.Report `json:"report,omitempty"`

	// Plan is the resolved deployment schedule.
	Plan *graph.Plan `json:"plan,omitempty"`

	// Current and Next are the platform versions before and after this
	// attempt; Change is the aggregated bump between them.
	Current semver.Version `json:"current"`
	Next    semver.Version `json:"next"`
	Change  semver.Change  `json:"change"`

	// NoOp is set when every transition classified as NONE and the
	// attempt completed without promoting anything.
	NoOp bool `json:"no_op,omitempty"`

	// Manifest is the release manifest, built once the platform version
	// is determined and immutable afterwards.
	Manifest *manifest.Manifest `json:"manifest,omitempty"`

	// Rollback is the rollback result, set only when the attempt
	// branched to ROLLING_BACK.
	Rollback *RollbackResult `json:"rollback,omitempty"`

	// Err is the failure that terminated the attempt, nil on success.
	Err error `json:"-"`

	mu         sync.Mutex
	state      State
	promotions []PromotionOutcome
}

func newAttempt(token, platform string, versions map[string]semver.Version, now time.Time) *Attempt {
	return &Attempt{
		Token:     token,
		Platform:  platform,
		StartedAt: now.UTC(),
		Versions:  versions,
		state:     StateCollecting,
	}
}

// State returns the attempt's current lifecycle state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Attempt) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// appendPromotion records one promotion outcome. Safe for concurrent use
// by the per-service goroutines of a phase; the list is append-only.
func (a *Attempt) appendPromotion(p PromotionOutcome) {
	a.mu.Lock()
	a.promotions = append(a.promotions, p)
	a.mu.Unlock()
}

// Promotions returns a copy of the recorded promotion outcomes.
func (a *Attempt) Promotions() []PromotionOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]PromotionOutcome(nil), a.promotions...)
}
