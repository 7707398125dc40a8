package release

import (
	"context"

	"github.com/roach88/railyard/internal/manifest"
	"github.com/roach88/railyard/internal/semver"
	"github.com/roach88/railyard/internal/store"
)

// Promoter promotes one service version to a target stage. Promotion is
// the only side effect of a release besides record keeping, and it is
// always external: an artifact repository move, a deploy API call, a
// pipeline trigger. Implementations flag transient failures with
// Retryable; all other failures are treated as fatal for the attempt.
//
// Implementations must honor ctx: each call carries a deadline and may
// be cancelled mid-flight.
type Promoter interface {
	Promote(ctx context.Context, service, version, stage string) error
}

// IntegrityValidator checks a fully promoted release before it is
// declared complete. Returning an error sends the attempt to rollback.
type IntegrityValidator interface {
	Validate(ctx context.Context, m *manifest.Manifest) error
}

// VersionSource answers the currently deployed version of a service.
// ok is false when the service has never been deployed; the orchestrator
// then treats the proposed version as the service's first release.
type VersionSource interface {
	CurrentVersion(ctx context.Context, service string) (v semver.Version, ok bool, err error)
}

// RegistryWriter is the slice of the version registry the orchestrator
// writes through. *store.Registry implements it.
type RegistryWriter interface {
	RecordPlatformVersion(ctx context.Context, rec store.PlatformRecord) (int64, error)
	RecordPromotion(ctx context.Context, rec store.PromotionRecord) error
	SetOutcome(ctx context.Context, attempt, outcome string) error
}

// TokenGenerator produces the attempt token stamped on registry rows and
// ledger entries for one release attempt.
type TokenGenerator interface {
	Generate() string
}

// manifestSource resolves current versions from the last known-good
// manifest, falling back to configured seeds for services that predate
// manifest tracking.
type manifestSource struct {
	dir   *manifest.Dir
	seeds map[string]semver.Version

	loaded   bool
	versions map[string]semver.Version
	err      error
}

// NewManifestSource builds a VersionSource backed by a manifest
// directory. The last known-good manifest is read lazily on first use
// and cached for the lifetime of the source, so one release attempt
// observes a single consistent baseline.
func NewManifestSource(dir *manifest.Dir, seeds map[string]semver.Version) VersionSource {
	return &manifestSource{dir: dir, seeds: seeds}
}

func (s *manifestSource) CurrentVersion(_ context.Context, service string) (semver.Version, bool, error) {
	if !s.loaded {
		s.loaded = true
		m, err := s.dir.LastKnownGood()
		if err != nil {
			s.err = err
		} else if m != nil {
			s.versions, s.err = m.ServiceVersions()
		}
	}
	if s.err != nil {
		return semver.Version{}, false, s.err
	}
	if v, ok := s.versions[service]; ok {
		return v, true, nil
	}
	if v, ok := s.seeds[service]; ok {
		return v, true, nil
	}
	return semver.Version{}, false, nil
}
