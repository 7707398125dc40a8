// Package semver implements the version model for platform release
// coordination: parsing, comparison, change classification, and the
// platform-level bump computed from a set of service transitions.
//
// Parsing is deliberately stricter than full SemVer 2.0: exactly three
// numeric components, an optional single prerelease suffix, no build
// metadata. ParseLenient exists for operator-supplied input (overrides,
// registry rows) where a leading "v" or "+build" suffix is common.
package semver

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is an immutable semantic version value.
//
// The zero value (0.0.0) is a valid version and is used as the seed for
// platforms that have never released.
type Version struct {
	Major      int    `json:"major" yaml:"major"`
	Minor      int    `json:"minor" yaml:"minor"`
	Patch      int    `json:"patch" yaml:"patch"`
	Prerelease string `json:"prerelease,omitempty" yaml:"prerelease,omitempty"`
}

// InvalidVersionError reports a version string that failed to parse.
type InvalidVersionError struct {
	Input  string
	Reason string
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version %q: %s", e.Input, e.Reason)
}

// Parse parses a strict semantic version: exactly three non-negative
// integer components separated by ".", with an optional "-identifier"
// prerelease suffix. Leading zeros beyond "0" itself are rejected.
func Parse(text string) (Version, error) {
	core := text
	prerelease := ""
	if i := strings.IndexByte(text, '-'); i >= 0 {
		core = text[:i]
		prerelease = text[i+1:]
		if prerelease == "" {
			return Version{}, &InvalidVersionError{Input: text, Reason: "empty prerelease identifier"}
		}
	}

	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return Version{}, &InvalidVersionError{
			Input:  text,
			Reason: fmt.Sprintf("expected 3 components, got %d", len(parts)),
		}
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := parseComponent(p)
		if err != nil {
			return Version{}, &InvalidVersionError{Input: text, Reason: err.Error()}
		}
		nums[i] = n
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2], Prerelease: prerelease}, nil
}

// ParseLenient parses a version the way registries and humans write them:
// an optional leading "v" and an optional "+build" suffix are stripped
// before strict parsing. The build metadata is discarded.
func ParseLenient(text string) (Version, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "v")
	if i := strings.IndexByte(s, '+'); i >= 0 {
		s = s[:i]
	}
	return Parse(s)
}

// MustParse parses a strict version and panics on failure.
// Intended for constants and tests only.
func MustParse(text string) Version {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

// parseComponent parses a single numeric component, rejecting leading
// zeros ("01") and non-digit characters.
func parseComponent(p string) (int, error) {
	if p == "" {
		return 0, fmt.Errorf("empty component")
	}
	if len(p) > 1 && p[0] == '0' {
		return 0, fmt.Errorf("leading zero in component %q", p)
	}
	n, err := strconv.Atoi(p)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("non-numeric component %q", p)
	}
	return n, nil
}

// String renders the version in canonical "major.minor.patch[-prerelease]"
// form. The original input string is not retained.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return s
}

// IsZero reports whether v is the zero version with no prerelease.
func (v Version) IsZero() bool {
	return v.Major == 0 && v.Minor == 0 && v.Patch == 0 && v.Prerelease == ""
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater
// than b.
//
// Ordering is lexicographic by (major, minor, patch). A prerelease makes
// a version strictly lower than the same triple without one. Two
// prereleases on the same triple compare by byte ordering of the suffix
// string. This is a documented simplification, not full SemVer 2.0
// prerelease precedence (dotted identifiers are not split and numeric
// identifiers are not compared numerically).
func Compare(a, b Version) int {
	if a.Major != b.Major {
		return sign(a.Major - b.Major)
	}
	if a.Minor != b.Minor {
		return sign(a.Minor - b.Minor)
	}
	if a.Patch != b.Patch {
		return sign(a.Patch - b.Patch)
	}
	if a.Prerelease == b.Prerelease {
		return 0
	}
	// Release > prerelease on the same triple.
	if a.Prerelease == "" {
		return 1
	}
	if b.Prerelease == "" {
		return -1
	}
	return strings.Compare(a.Prerelease, b.Prerelease)
}

// Max returns the greater of a and b under Compare.
func Max(a, b Version) Version {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
