package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stateFlags carves out per-test manifest and registry paths and returns
// the flags that point a release invocation at them.
func stateFlags(t *testing.T) (manifestDir, registry string, flags []string) {
	t.Helper()
	state := t.TempDir()
	manifestDir = filepath.Join(state, "manifests")
	registry = filepath.Join(state, "railyard.db")
	flags = []string{"--manifest-dir", manifestDir, "--registry", registry, "--retry-delay", "1ms"}
	return manifestDir, registry, flags
}

func doRelease(t *testing.T, configPath string, flags []string, extra ...string) (string, error) {
	t.Helper()
	args := append([]string{"release", configPath}, flags...)
	return executeCommand(t, append(args, extra...)...)
}

func TestReleasePreview(t *testing.T) {
	cfg := writeConfig(t, storefrontConfig)
	_, _, flags := stateFlags(t)

	out, err := doRelease(t, cfg, flags, "--preview")
	require.NoError(t, err)

	// First release of an untracked fleet transitions from 0.0.0.
	assert.Contains(t, out, "platform_version: 1.0.0")
	assert.Contains(t, out, "inventory: 1.3.0")
	assert.Contains(t, out, "checkout: 2.0.1")
	assert.Contains(t, out, "source_stage: PROD")
}

func TestReleaseCompletes(t *testing.T) {
	cfg := writeConfig(t, storefrontConfig)
	manifestDir, _, flags := stateFlags(t)

	out, err := doRelease(t, cfg, flags)
	require.NoError(t, err)

	assert.Contains(t, out, "COMPLETED: 0.0.0 -> 1.0.0 (MAJOR)")
	assert.Contains(t, out, "phase 1: inventory")
	assert.Contains(t, out, "phase 2: checkout")
	assert.Contains(t, out, "✓ inventory@1.3.0")
	assert.Contains(t, out, "✓ checkout@2.0.1")

	_, err = os.Stat(filepath.Join(manifestDir, "platform-1.0.0.yaml"))
	require.NoError(t, err)
}

func TestReleaseJSON(t *testing.T) {
	cfg := writeConfig(t, storefrontConfig)
	_, _, flags := stateFlags(t)

	args := append([]string{"--format", "json", "release", cfg}, flags...)
	out, err := executeCommand(t, args...)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result ReleaseResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "COMPLETED", result.State)
	assert.Equal(t, "0.0.0", result.CurrentVersion)
	assert.Equal(t, "1.0.0", result.NextVersion)
	assert.Equal(t, "MAJOR", result.Change)
	assert.Len(t, result.Promotions, 2)
	assert.NotEmpty(t, result.Token)
}

func TestReleaseSecondRunIsNoOp(t *testing.T) {
	cfg := writeConfig(t, storefrontConfig)
	_, _, flags := stateFlags(t)

	_, err := doRelease(t, cfg, flags)
	require.NoError(t, err)

	// Nothing changed, so the second run completes without promoting.
	out, err := doRelease(t, cfg, flags)
	require.NoError(t, err)
	assert.Contains(t, out, "no change: platform stays at 1.0.0")

	_, err = doRelease(t, cfg, flags, "--require-change")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "nothing to release")
}

func TestReleasePreviewNoOpJSON(t *testing.T) {
	cfg := writeConfig(t, storefrontConfig)
	_, _, flags := stateFlags(t)

	_, err := doRelease(t, cfg, flags)
	require.NoError(t, err)

	// A no-op preview has no manifest to print; the JSON payload carries
	// the attempt summary instead of null.
	args := append([]string{"--format", "json", "release", cfg, "--preview"}, flags...)
	out, err := executeCommand(t, args...)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Data)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result ReleaseResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.True(t, result.NoOp)
	assert.Equal(t, "1.0.0", result.NextVersion)
	assert.Equal(t, "NONE", result.Change)
}

func TestReleaseOverride(t *testing.T) {
	cfg := writeConfig(t, storefrontConfig)
	_, _, flags := stateFlags(t)

	out, err := doRelease(t, cfg, flags, "--preview", "--override", "inventory=1.4.0")
	require.NoError(t, err)
	assert.Contains(t, out, "inventory: 1.4.0")
}

func TestReleaseBadOverride(t *testing.T) {
	cfg := writeConfig(t, storefrontConfig)
	_, _, flags := stateFlags(t)

	_, err := doRelease(t, cfg, flags, "--override", "inventory=not-a-version")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = doRelease(t, cfg, flags, "--override", "warehouse=1.0.0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unknown service")
}

func TestReleaseIncompatibleFails(t *testing.T) {
	cfg := writeConfig(t, `
platform:
  name: storefront
services:
  - name: inventory
    version: "1.3.0"
  - name: checkout
    version: "2.0.1"
    depends_on: [inventory]
rules:
  - from: checkout
    to: inventory
    require_min:
      version: "2.0.0"
      severity: error
      reason: checkout 2.x requires inventory >= 2.0.0
`)
	_, _, flags := stateFlags(t)

	out, err := doRelease(t, cfg, flags)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "incompatible services")
	assert.Contains(t, out, "✗")
}
