package release

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/railyard/internal/graph"
	"github.com/roach88/railyard/internal/semver"
)

// RollbackStep is one service restoration within a rollback.
type RollbackStep struct {
	Service  string `json:"service"`
	Version  string `json:"version,omitempty"`
	Attempts int    `json:"attempts"`
	// Recovered reports whether the service was restored to its
	// known-good version.
	Recovered bool   `json:"recovered"`
	Detail    string `json:"detail,omitempty"`
}

// RollbackResult is the outcome of rolling back a promoted set.
type RollbackResult struct {
	// Steps records every attempted restoration in rollback order.
	Steps []RollbackStep `json:"steps"`
	// Unrecovered names the services left off their known-good version,
	// in rollback order.
	Unrecovered []string `json:"unrecovered,omitempty"`
}

// FullyRecovered reports whether every promoted service was restored.
func (r *RollbackResult) FullyRecovered() bool {
	return len(r.Unrecovered) == 0
}

// Rollbacker restores promoted services to their known-good versions.
//
// Rollback runs sequentially in reverse deployment order: dependents are
// restored before their dependencies, mirroring that they were deployed
// after them. A rollback failure never aborts the run; the service is
// recorded as unrecovered and the remaining services still get their
// chance to restore.
type Rollbacker struct {
	promoter    Promoter
	callTimeout time.Duration
	retryDelay  time.Duration
}

// NewRollbacker builds a Rollbacker. callTimeout bounds each Promote
// call; retryDelay is the pause before the single retry granted to
// retryable failures.
func NewRollbacker(p Promoter, callTimeout, retryDelay time.Duration) *Rollbacker {
	return &Rollbacker{promoter: p, callTimeout: callTimeout, retryDelay: retryDelay}
}

// Rollback restores every service in deployed (given in deployment
// order) to its version in targets, on the given stage. A service with
// no entry in targets has no known-good version to restore and is
// recorded as unrecovered.
func (r *Rollbacker) Rollback(ctx context.Context, deployed []string, targets map[string]semver.Version, stage string) *RollbackResult {
	result := &RollbackResult{}

	for _, service := range graph.ReverseOf(deployed) {
		target, ok := targets[service]
		if !ok {
			slog.Warn("rollback: no known-good version", "service", service)
			result.Steps = append(result.Steps, RollbackStep{
				Service: service,
				Detail:  "no known-good version to restore",
			})
			result.Unrecovered = append(result.Unrecovered, service)
			continue
		}

		step := RollbackStep{Service: service, Version: target.String()}
		step.Attempts, step.Detail = r.restore(ctx, service, target, stage)
		step.Recovered = step.Detail == ""

		if step.Recovered {
			slog.Info("rollback: restored", "service", service, "version", target.String(), "attempts", step.Attempts)
		} else {
			slog.Error("rollback: unrecovered", "service", service, "version", target.String(), "detail", step.Detail)
			result.Unrecovered = append(result.Unrecovered, service)
		}
		result.Steps = append(result.Steps, step)
	}

	return result
}

// restore promotes one service back to its known-good version, with one
// retry for retryable failures. Returns the attempt count and an empty
// detail on success.
func (r *Rollbacker) restore(ctx context.Context, service string, target semver.Version, stage string) (int, string) {
	err := r.promoteOnce(ctx, service, target, stage)
	if err == nil {
		return 1, ""
	}
	if !IsRetryable(err) || ctx.Err() != nil {
		return 1, err.Error()
	}

	select {
	case <-time.After(r.retryDelay):
	case <-ctx.Done():
		return 1, ctx.Err().Error()
	}

	if err := r.promoteOnce(ctx, service, target, stage); err != nil {
		return 2, err.Error()
	}
	return 2, ""
}

func (r *Rollbacker) promoteOnce(ctx context.Context, service string, target semver.Version, stage string) error {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	return r.promoter.Promote(callCtx, service, target.String(), stage)
}
