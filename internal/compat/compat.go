// Package compat validates that a proposed set of service versions may
// coexist in one platform release.
//
// Rules are registered per directed pair of service names. A pair with no
// rule has no constraint and is implicitly compatible; this keeps the rule
// table extensible (adding a pair never touches existing rules) and makes
// the default safe. Rules must be pure functions of the two versions so
// that validation is deterministic and order-independent.
package compat

import (
	"fmt"
	"sort"

	"github.com/roach88/railyard/internal/semver"
)

// Severity grades a pairwise compatibility result.
type Severity int

const (
	// SeverityOK means the pair is compatible with no caveats.
	SeverityOK Severity = iota
	// SeverityWarning means the pair is allowed but suspect.
	SeverityWarning
	// SeverityError means the pair must not ship together.
	SeverityError
)

// String returns the canonical upper-case name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "OK"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// ParseSeverity maps a config string to a Severity. Unknown values error
// rather than defaulting, so misspelled config fails closed.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "ok", "OK":
		return SeverityOK, nil
	case "warning", "WARNING":
		return SeverityWarning, nil
	case "error", "ERROR":
		return SeverityError, nil
	default:
		return SeverityOK, fmt.Errorf("unknown severity %q", s)
	}
}

// Result is the outcome of one rule evaluation.
type Result struct {
	Compatible bool     `json:"compatible"`
	Reason     string   `json:"reason,omitempty"`
	Severity   Severity `json:"severity"`
}

// OK is the result for an unconstrained or satisfied pair.
func OK() Result {
	return Result{Compatible: true, Severity: SeverityOK}
}

// Warn builds a compatible-with-warning result.
func Warn(reason string) Result {
	return Result{Compatible: true, Reason: reason, Severity: SeverityWarning}
}

// Fail builds an incompatible result.
func Fail(reason string) Result {
	return Result{Compatible: false, Reason: reason, Severity: SeverityError}
}

// Rule evaluates whether service A at version a may ship alongside
// service B at version b. Rules MUST be pure: same inputs, same result.
type Rule func(a, b semver.Version) Result

// Pair is a directed (from, to) service-name pair keying a rule.
type Pair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (p Pair) String() string {
	return p.From + "->" + p.To
}

// RuleSet is the explicit rule table, built once at initialization.
// It is not safe for concurrent mutation; build it fully before use.
type RuleSet struct {
	rules map[Pair]Rule
}

// NewRuleSet creates an empty rule table.
func NewRuleSet() *RuleSet {
	return &RuleSet{rules: make(map[Pair]Rule)}
}

// Register binds a rule to the directed pair (from, to). Registering the
// same pair twice is a configuration bug and errors.
func (rs *RuleSet) Register(from, to string, rule Rule) error {
	if from == to {
		return fmt.Errorf("compat rule %s->%s: a service cannot constrain itself", from, to)
	}
	p := Pair{From: from, To: to}
	if _, dup := rs.rules[p]; dup {
		return fmt.Errorf("compat rule %s: already registered", p)
	}
	rs.rules[p] = rule
	return nil
}

// Len returns the number of registered rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Pairs returns all registered pairs sorted by (from, to). The sorted
// order is the evaluation order, which makes reports reproducible.
func (rs *RuleSet) Pairs() []Pair {
	pairs := make([]Pair, 0, len(rs.rules))
	for p := range rs.rules {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].From != pairs[j].From {
			return pairs[i].From < pairs[j].From
		}
		return pairs[i].To < pairs[j].To
	})
	return pairs
}

// PairResult is one evaluated rule in a report.
type PairResult struct {
	Pair        Pair           `json:"pair"`
	FromVersion semver.Version `json:"from_version"`
	ToVersion   semver.Version `json:"to_version"`
	Result      Result         `json:"result"`
}

// Report aggregates every evaluated pair for one proposed version set.
// Results are ordered by pair, so two validations of the same input are
// byte-identical.
type Report struct {
	Results []PairResult `json:"results"`
}

// Validate evaluates every registered rule whose two services are both
// present in versions. Pairs with an absent endpoint are skipped: the
// rule constrains coexistence within this release, and a service that is
// not participating cannot conflict.
func (rs *RuleSet) Validate(versions map[string]semver.Version) *Report {
	report := &Report{}
	for _, p := range rs.Pairs() {
		fromV, okFrom := versions[p.From]
		toV, okTo := versions[p.To]
		if !okFrom || !okTo {
			continue
		}
		report.Results = append(report.Results, PairResult{
			Pair:        p,
			FromVersion: fromV,
			ToVersion:   toV,
			Result:      rs.rules[p](fromV, toV),
		})
	}
	return report
}

// OverallCompatible reports whether no result carries ERROR severity.
func (r *Report) OverallCompatible() bool {
	for _, pr := range r.Results {
		if pr.Result.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Warnings returns all WARNING-severity results in report order.
func (r *Report) Warnings() []PairResult {
	return r.filter(SeverityWarning)
}

// Errors returns all ERROR-severity results in report order.
func (r *Report) Errors() []PairResult {
	return r.filter(SeverityError)
}

func (r *Report) filter(sev Severity) []PairResult {
	var out []PairResult
	for _, pr := range r.Results {
		if pr.Result.Severity == sev {
			out = append(out, pr)
		}
	}
	return out
}

// IncompatibleError is returned when a report contains one or more
// ERROR-severity results.
type IncompatibleError struct {
	Errors []PairResult
}

func (e *IncompatibleError) Error() string {
	if len(e.Errors) == 1 {
		pr := e.Errors[0]
		return fmt.Sprintf("incompatible services: %s (%s with %s): %s",
			pr.Pair, pr.FromVersion, pr.ToVersion, pr.Result.Reason)
	}
	return fmt.Sprintf("incompatible services: %d pair(s) failed compatibility", len(e.Errors))
}

// Err converts a report into an *IncompatibleError, or nil if the report
// is overall compatible.
func (r *Report) Err() error {
	errs := r.Errors()
	if len(errs) == 0 {
		return nil
	}
	return &IncompatibleError{Errors: errs}
}
