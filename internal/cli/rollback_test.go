package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollbackRestoresFleet(t *testing.T) {
	cfg := writeConfig(t, storefrontConfig)
	manifestDir, _, flags := stateFlags(t)

	_, err := doRelease(t, cfg, flags)
	require.NoError(t, err)

	out, err := executeCommand(t, "rollback", "--manifest-dir", manifestDir, "--retry-delay", "1ms")
	require.NoError(t, err)
	assert.Contains(t, out, "restoring to 1.0.0 on PROD")
	assert.Contains(t, out, "✓ checkout@2.0.1")
	assert.Contains(t, out, "✓ inventory@1.3.0")
	assert.Contains(t, out, "✓ fleet restored")
}

func TestRollbackExplicitTarget(t *testing.T) {
	cfg := writeConfig(t, storefrontConfig)
	manifestDir, _, flags := stateFlags(t)

	_, err := doRelease(t, cfg, flags)
	require.NoError(t, err)

	out, err := executeCommand(t, "rollback", "--manifest-dir", manifestDir, "--to", "1.0.0", "--stage", "STAGING")
	require.NoError(t, err)
	assert.Contains(t, out, "restoring to 1.0.0 on STAGING")
}

func TestRollbackWithoutManifest(t *testing.T) {
	_, err := executeCommand(t, "rollback", "--manifest-dir", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no completed release manifest")
}

func TestRollbackUnknownTarget(t *testing.T) {
	cfg := writeConfig(t, storefrontConfig)
	manifestDir, _, flags := stateFlags(t)

	_, err := doRelease(t, cfg, flags)
	require.NoError(t, err)

	_, err = executeCommand(t, "rollback", "--manifest-dir", manifestDir, "--to", "9.9.9")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
