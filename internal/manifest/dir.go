package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/railyard/internal/semver"
)

// filePrefix and fileSuffix form the manifest file naming scheme:
// platform-<version>.yaml.
const (
	filePrefix = "platform-"
	fileSuffix = ".yaml"
)

// Dir is a manifest directory: the durable store of completed releases.
// The highest parseable platform version on disk is the last known-good
// release.
type Dir struct {
	path string
}

// NewDir wraps a manifest directory path. The directory is created on
// first write, not here, so read-only flows can point at missing paths.
func NewDir(path string) *Dir {
	return &Dir{path: path}
}

// Path returns the directory path.
func (d *Dir) Path() string {
	return d.path
}

// Write persists the manifest as platform-<version>.yaml and returns the
// file path. An existing manifest for the same version is a bug in the
// release flow (versions are never reused) and is rejected.
func (d *Dir) Write(m *Manifest) (string, error) {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return "", fmt.Errorf("create manifest dir: %w", err)
	}

	target := filepath.Join(d.path, filePrefix+m.PlatformVersion+fileSuffix)
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("manifest for %s already exists at %s", m.PlatformVersion, target)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return target, nil
}

// Read loads the manifest for one platform version.
func (d *Dir) Read(version string) (*Manifest, error) {
	target := filepath.Join(d.path, filePrefix+version+fileSuffix)
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", version, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", version, err)
	}
	return &m, nil
}

// Versions lists the platform versions present in the directory, sorted
// ascending by semantic version. Files that do not match the naming
// scheme or do not carry a parseable version are skipped.
func (d *Dir) Versions() ([]semver.Version, error) {
	entries, err := os.ReadDir(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list manifest dir: %w", err)
	}

	var versions []semver.Version
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		v, err := semver.Parse(raw)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}

	// Insertion sort keeps this dependency-free; manifest dirs are small.
	for i := 1; i < len(versions); i++ {
		for j := i; j > 0 && semver.Compare(versions[j-1], versions[j]) > 0; j-- {
			versions[j-1], versions[j] = versions[j], versions[j-1]
		}
	}
	return versions, nil
}

// LastKnownGood returns the manifest with the highest platform version,
// or (nil, nil) when the platform has never completed a release.
func (d *Dir) LastKnownGood() (*Manifest, error) {
	versions, err := d.Versions()
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}
	return d.Read(versions[len(versions)-1].String())
}
