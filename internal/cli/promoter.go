package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/railyard/internal/manifest"
)

// LogPromoter announces promotions without performing them. Actual
// deployment is owned by external pipeline tooling keyed off the
// registry ledger; the CLI's job ends at recording what must move
// where, in which order.
type LogPromoter struct{}

// Promote implements release.Promoter.
func (LogPromoter) Promote(ctx context.Context, service, version, stage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.Info("promote", "service", service, "version", version, "stage", stage)
	return nil
}

// StructuralValidator is the CLI's integrity check: the manifest about
// to be declared known-good must be internally consistent. Deeper
// checks (smoke tests, health probes) belong to deployment tooling.
type StructuralValidator struct{}

// Validate implements release.IntegrityValidator.
func (StructuralValidator) Validate(_ context.Context, m *manifest.Manifest) error {
	if _, err := m.Version(); err != nil {
		return err
	}
	if len(m.Services) == 0 {
		return fmt.Errorf("manifest %s lists no services", m.PlatformVersion)
	}
	if _, err := m.ServiceVersions(); err != nil {
		return err
	}
	return nil
}
