package release

import "fmt"

// State is the release lifecycle position. Transitions are strictly
// forward except for the rollback branch:
//
//	COLLECTING -> VALIDATING_COMPATIBILITY -> RESOLVING_DEPLOYMENT_ORDER
//	  -> DETERMINING_VERSION -> PROMOTING -> VALIDATING_INTEGRITY -> COMPLETED
//
// A failure during PROMOTING or VALIDATING_INTEGRITY branches to
// ROLLING_BACK, which terminates in COMPLETED_WITH_ROLLBACK when every
// promoted service was restored, or FAILED otherwise. Failures before
// PROMOTING have nothing to undo and go straight to FAILED.
type State int

const (
	StateCollecting State = iota + 1
	StateValidatingCompatibility
	StateResolvingOrder
	StateDeterminingVersion
	StatePromoting
	StateValidatingIntegrity
	StateRollingBack
	StateCompleted
	StateCompletedWithRollback
	StateFailed
)

// String returns the canonical upper-case state name.
func (s State) String() string {
	switch s {
	case StateCollecting:
		return "COLLECTING"
	case StateValidatingCompatibility:
		return "VALIDATING_COMPATIBILITY"
	case StateResolvingOrder:
		return "RESOLVING_DEPLOYMENT_ORDER"
	case StateDeterminingVersion:
		return "DETERMINING_VERSION"
	case StatePromoting:
		return "PROMOTING"
	case StateValidatingIntegrity:
		return "VALIDATING_INTEGRITY"
	case StateRollingBack:
		return "ROLLING_BACK"
	case StateCompleted:
		return "COMPLETED"
	case StateCompletedWithRollback:
		return "COMPLETED_WITH_ROLLBACK"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the state ends the lifecycle.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCompletedWithRollback, StateFailed:
		return true
	default:
		return false
	}
}
