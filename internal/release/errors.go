package release

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoChange is returned when every service transition classifies as
// NONE and the request demands that a release move the platform forward.
var ErrNoChange = errors.New("no service version changed; nothing to release")

// IncompleteInputError reports declared dependencies whose services are
// absent from the proposed version set.
type IncompleteInputError struct {
	// Missing maps the absent dependency to the participating services
	// that declare it.
	Missing map[string][]string
}

func (e *IncompleteInputError) Error() string {
	deps := make([]string, 0, len(e.Missing))
	for dep := range e.Missing {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return fmt.Sprintf("incomplete release input: declared dependencies not in proposed set: %s",
		strings.Join(deps, ", "))
}

// ConcurrentReleaseError reports that a release attempt was rejected
// because another attempt holds the platform.
type ConcurrentReleaseError struct {
	Platform string
}

func (e *ConcurrentReleaseError) Error() string {
	return fmt.Sprintf("release already in progress for platform %s", e.Platform)
}

// DowngradeError reports proposed versions lower than the deployed ones
// on a request that does not allow downgrades.
type DowngradeError struct {
	Services []string
}

func (e *DowngradeError) Error() string {
	return fmt.Sprintf("proposed downgrade for: %s (pass allow-downgrade to override)",
		strings.Join(e.Services, ", "))
}

// PromotionError reports a failed service promotion after retries were
// exhausted or the failure classified as fatal.
type PromotionError struct {
	Service  string
	Version  string
	Stage    string
	Attempts int
	Err      error
}

func (e *PromotionError) Error() string {
	return fmt.Sprintf("promote %s@%s to %s failed after %d attempt(s): %v",
		e.Service, e.Version, e.Stage, e.Attempts, e.Err)
}

func (e *PromotionError) Unwrap() error {
	return e.Err
}

// IntegrityError reports a failed post-promotion integrity validation.
type IntegrityError struct {
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity validation failed: %v", e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// RollbackFailedError reports that rollback could not restore every
// promoted service. Cause is the failure that triggered the rollback.
type RollbackFailedError struct {
	Unrecovered []string
	Cause       error
}

func (e *RollbackFailedError) Error() string {
	return fmt.Sprintf("rollback left services unrecovered: %s (caused by: %v)",
		strings.Join(e.Unrecovered, ", "), e.Cause)
}

func (e *RollbackFailedError) Unwrap() error {
	return e.Cause
}

// retryableError marks a collaborator failure as transient.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// Retryable wraps an error so the orchestrator grants it one retry.
// Promoter and IntegrityValidator implementations use this to flag
// transient infrastructure failures; anything unwrapped is fatal.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether an error earns a retry. Deadline expiry on
// a per-call timeout counts as transient; cancellation never does.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var re *retryableError
	return errors.As(err, &re)
}
