package harness

import (
	"bytes"
	"encoding/json"
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/railyard/internal/release"
)

// TransitionSnapshot is one service transition in canonical string form.
type TransitionSnapshot struct {
	Service   string `json:"service"`
	From      string `json:"from"`
	To        string `json:"to"`
	Change    string `json:"change"`
	Downgrade bool   `json:"downgrade,omitempty"`
}

// PairSnapshot is one evaluated compatibility rule in canonical form.
type PairSnapshot struct {
	Pair        string `json:"pair"`
	FromVersion string `json:"from_version"`
	ToVersion   string `json:"to_version"`
	Severity    string `json:"severity"`
	Compatible  bool   `json:"compatible"`
	Reason      string `json:"reason,omitempty"`
}

// Snapshot condenses a scenario result for golden comparison. Every
// field is deterministic: versions and enums are rendered as strings,
// and promotions are sorted by (phase, service) because services within
// a phase finish in arbitrary order.
type Snapshot struct {
	Scenario         string                     `json:"scenario"`
	Token            string                     `json:"token"`
	State            string                     `json:"state"`
	Error            string                     `json:"error,omitempty"`
	CurrentVersion   string                     `json:"current_version"`
	NextVersion      string                     `json:"next_version"`
	Change           string                     `json:"change"`
	NoOp             bool                       `json:"no_op,omitempty"`
	Transitions      []TransitionSnapshot       `json:"transitions,omitempty"`
	Compatibility    []PairSnapshot             `json:"compatibility,omitempty"`
	Phases           [][]string                 `json:"phases,omitempty"`
	RollbackOrder    []string                   `json:"rollback_order,omitempty"`
	Promotions       []release.PromotionOutcome `json:"promotions,omitempty"`
	Rollback         *release.RollbackResult    `json:"rollback,omitempty"`
	ManifestServices map[string]string          `json:"manifest_services,omitempty"`
	RegistryOutcome  string                     `json:"registry_outcome,omitempty"`
}

// BuildSnapshot converts a scenario result into its canonical snapshot.
func BuildSnapshot(scenario *Scenario, result *Result) *Snapshot {
	a := result.Attempt
	s := &Snapshot{
		Scenario:       scenario.Name,
		Token:          a.Token,
		State:          a.State().String(),
		CurrentVersion: a.Current.String(),
		NextVersion:    a.Next.String(),
		Change:         a.Change.String(),
		NoOp:           a.NoOp,
		Rollback:       a.Rollback,
	}
	if result.Err != nil {
		s.Error = result.Err.Error()
	}

	for _, t := range a.Transitions {
		s.Transitions = append(s.Transitions, TransitionSnapshot{
			Service:   t.Service,
			From:      t.From.String(),
			To:        t.To.String(),
			Change:    t.Change.String(),
			Downgrade: t.Downgrade,
		})
	}
	if a.Report != nil {
		for _, pr := range a.Report.Results {
			s.Compatibility = append(s.Compatibility, PairSnapshot{
				Pair:        pr.Pair.String(),
				FromVersion: pr.FromVersion.String(),
				ToVersion:   pr.ToVersion.String(),
				Severity:    pr.Result.Severity.String(),
				Compatible:  pr.Result.Compatible,
				Reason:      pr.Result.Reason,
			})
		}
	}
	if a.Plan != nil {
		s.Phases = a.Plan.Phases
		s.RollbackOrder = a.Plan.RollbackOrder
	}

	s.Promotions = a.Promotions()
	sort.Slice(s.Promotions, func(i, j int) bool {
		if s.Promotions[i].Phase != s.Promotions[j].Phase {
			return s.Promotions[i].Phase < s.Promotions[j].Phase
		}
		return s.Promotions[i].Service < s.Promotions[j].Service
	})

	if a.Manifest != nil {
		s.ManifestServices = a.Manifest.Services
	}
	if len(result.History) > 0 {
		s.RegistryOutcome = result.History[0].Outcome
	}
	return s
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
// HTML escaping is off so pair arrows and version comparators read
// verbatim in golden files.
func (s *Snapshot) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}

	data, err := BuildSnapshot(scenario, result).Marshal()
	if err != nil {
		t.Fatalf("marshal snapshot %s: %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result
}
