package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanText(t *testing.T) {
	path := writeConfig(t, storefrontConfig)

	out, err := executeCommand(t, "plan", path)
	require.NoError(t, err)
	assert.Contains(t, out, "phase 1: inventory")
	assert.Contains(t, out, "phase 2: checkout")
	assert.Contains(t, out, "rollback order: checkout, inventory")
}

func TestPlanJSON(t *testing.T) {
	path := writeConfig(t, storefrontConfig)

	out, err := executeCommand(t, "--format", "json", "plan", path)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result PlanResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, [][]string{{"inventory"}, {"checkout"}}, result.Phases)
	assert.Equal(t, []string{"checkout", "inventory"}, result.RollbackOrder)
}

func TestPlanCycle(t *testing.T) {
	path := writeConfig(t, `
platform:
  name: storefront
services:
  - name: inventory
    version: "1.3.0"
    depends_on: [checkout]
  - name: checkout
    version: "2.0.1"
    depends_on: [inventory]
`)

	_, err := executeCommand(t, "plan", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "cyclic dependency")
}
