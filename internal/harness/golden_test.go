package harness

import (
	"testing"
)

// Golden snapshots are the canonical record of what each scenario
// produces end to end. Regenerate with:
//
//	go test ./internal/harness -update

func TestGoldenMinorRelease(t *testing.T) {
	RunWithGolden(t, loadScenario(t, "minor_release"))
}

func TestGoldenIncompatiblePair(t *testing.T) {
	RunWithGolden(t, loadScenario(t, "incompatible_pair"))
}

func TestGoldenMidphaseRollback(t *testing.T) {
	RunWithGolden(t, loadScenario(t, "midphase_rollback"))
}
