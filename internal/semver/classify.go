package semver

import "fmt"

// Change classifies the magnitude of a version transition.
//
// The ordering of the constants matters: MAJOR > MINOR > PATCH > NONE, so
// the maximum across a set of transitions is the platform-level bump.
type Change int

const (
	// ChangeNone means the version did not move forward. Downgrades also
	// classify as NONE; callers detect them via Transition.Downgrade.
	ChangeNone Change = iota
	// ChangePatch means only the patch component increased.
	ChangePatch
	// ChangeMinor means the minor component increased.
	ChangeMinor
	// ChangeMajor means the major component increased.
	ChangeMajor
)

// String returns the canonical upper-case name of the change kind.
func (c Change) String() string {
	switch c {
	case ChangeNone:
		return "NONE"
	case ChangePatch:
		return "PATCH"
	case ChangeMinor:
		return "MINOR"
	case ChangeMajor:
		return "MAJOR"
	default:
		return fmt.Sprintf("Change(%d)", int(c))
	}
}

// Classify determines the change kind of a transition from one version to
// another:
//
//	MAJOR if to.major > from.major
//	MINOR else if to.minor > from.minor
//	PATCH else if to.patch > from.patch
//	NONE  otherwise
//
// A downgrade (to < from) classifies as NONE. Callers that must reject
// downgrades use IsDowngrade separately; Classify itself never errors.
func Classify(from, to Version) Change {
	switch {
	case to.Major > from.Major:
		return ChangeMajor
	case to.Major == from.Major && to.Minor > from.Minor:
		return ChangeMinor
	case to.Major == from.Major && to.Minor == from.Minor && to.Patch > from.Patch:
		return ChangePatch
	default:
		return ChangeNone
	}
}

// IsDowngrade reports whether moving from from to to would lower the
// version.
func IsDowngrade(from, to Version) bool {
	return Compare(to, from) < 0
}

// Transition records one service's proposed version movement.
type Transition struct {
	Service string  `json:"service"`
	From    Version `json:"from"`
	To      Version `json:"to"`
	Change  Change  `json:"change"`
	// Downgrade flags a proposed version lower than the deployed one.
	// The change kind is NONE in that case; policy for downgrades lives
	// with the caller.
	Downgrade bool `json:"downgrade,omitempty"`
}

// NewTransition builds a Transition for one service, classifying the
// change and flagging downgrades.
func NewTransition(service string, from, to Version) Transition {
	return Transition{
		Service:   service,
		From:      from,
		To:        to,
		Change:    Classify(from, to),
		Downgrade: IsDowngrade(from, to),
	}
}

// Bump returns the version after applying a change kind with standard
// semantics: the corresponding component is incremented by one and all
// lower components reset to zero. The prerelease suffix is dropped; a
// bumped version is always a release version. ChangeNone returns the
// version unchanged.
func (v Version) Bump(c Change) Version {
	switch c {
	case ChangeMajor:
		return Version{Major: v.Major + 1}
	case ChangeMinor:
		return Version{Major: v.Major, Minor: v.Minor + 1}
	case ChangePatch:
		return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
	default:
		return v
	}
}

// MaxChange returns the largest change kind in transitions, or ChangeNone
// for an empty set.
func MaxChange(transitions []Transition) Change {
	max := ChangeNone
	for _, t := range transitions {
		if t.Change > max {
			max = t.Change
		}
	}
	return max
}

// DeterminePlatform aggregates service transitions into the next platform
// version: the platform bump is the maximum change kind across all
// transitions, applied to the current platform version with standard bump
// semantics. When every transition is NONE the current version is
// returned unchanged; callers treat that as a no-op release.
func DeterminePlatform(current Version, transitions []Transition) (Version, Change) {
	change := MaxChange(transitions)
	return current.Bump(change), change
}
