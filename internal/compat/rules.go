package compat

import (
	"fmt"

	"github.com/roach88/railyard/internal/semver"
)

// Declarative rule builders. Release config files describe constraints as
// data; these constructors turn them into pure Rule functions so the
// orchestrator only ever sees the rule table.

// DenyPair fails a specific (fromVersion, toVersion) combination. An empty
// version matches any version of that service, so a deny of ("", "2.2.0")
// blocks B at 2.2.0 regardless of A's version.
func DenyPair(fromVersion, toVersion semver.Version, anyFrom, anyTo bool, severity Severity, reason string) Rule {
	return func(a, b semver.Version) Result {
		if !anyFrom && semver.Compare(a, fromVersion) != 0 {
			return OK()
		}
		if !anyTo && semver.Compare(b, toVersion) != 0 {
			return OK()
		}
		return Result{Compatible: severity != SeverityError, Reason: reason, Severity: severity}
	}
}

// RequireMin demands that the "to" service be at least min whenever the
// "from" service participates. Below the minimum, the configured severity
// applies.
func RequireMin(min semver.Version, severity Severity, reason string) Rule {
	return func(_, b semver.Version) Result {
		if semver.Compare(b, min) >= 0 {
			return OK()
		}
		msg := reason
		if msg == "" {
			msg = fmt.Sprintf("requires at least %s, have %s", min, b)
		}
		return Result{Compatible: severity != SeverityError, Reason: msg, Severity: severity}
	}
}

// RequireSameMajor warns or fails when the two services disagree on major
// version. Useful for lockstep-versioned service pairs.
func RequireSameMajor(severity Severity, reason string) Rule {
	return func(a, b semver.Version) Result {
		if a.Major == b.Major {
			return OK()
		}
		msg := reason
		if msg == "" {
			msg = fmt.Sprintf("major versions diverge (%d vs %d)", a.Major, b.Major)
		}
		return Result{Compatible: severity != SeverityError, Reason: msg, Severity: severity}
	}
}
