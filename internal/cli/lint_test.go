package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLintClean(t *testing.T) {
	cmd := NewLintCommand(&RootOptions{Format: "text"})
	out, err := execute(t, cmd, "--mode", "expression", "mc.health > 0 && !mc.cursed")

	require.NoError(t, err)
	assert.Equal(t, "✓ No problems\n", out)
}

func TestLintSyntaxError(t *testing.T) {
	cmd := NewLintCommand(&RootOptions{Format: "text"})
	out, err := execute(t, cmd, "--mode", "expression", "a.b >")

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "error: Syntax error")
}

func TestLintConditionWithoutRuleForm(t *testing.T) {
	cmd := NewLintCommand(&RootOptions{Format: "text"})
	out, err := execute(t, cmd, "--mode", "expression", "mc.health > 0 && !mc.cursed == true")

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "error: Comparison operands must be variables or literals")
}

func TestLintUnknownVariableAgainstProject(t *testing.T) {
	cmd := NewLintCommand(&RootOptions{Format: "text"})
	out, err := execute(t, cmd, "--project", bridgeProject, "mc.health -= 1; mc.gold += 2")

	// Unknown variables are warnings: the text still lints clean.
	require.NoError(t, err)
	assert.Contains(t, out, "warning: Unknown variable: mc.gold")
	assert.Contains(t, out, "  mc.gold\n")
	assert.NotContains(t, out, "mc.health")
}

func TestLintWithoutProjectAssumesReferencesExist(t *testing.T) {
	cmd := NewLintCommand(&RootOptions{Format: "text"})
	out, err := execute(t, cmd, "x.y = 1; toggle z.w")

	require.NoError(t, err)
	assert.Equal(t, "✓ No problems\n", out)
}

func TestLintReadsStdin(t *testing.T) {
	cmd := NewLintCommand(&RootOptions{Format: "text"})
	cmd.SetIn(strings.NewReader("mc.name = \"Ayla\"\n"))
	out, err := execute(t, cmd)

	require.NoError(t, err)
	assert.Equal(t, "✓ No problems\n", out)
}

func TestLintInvalidMode(t *testing.T) {
	cmd := NewLintCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, "--mode", "sentence", "a.b = 1")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid --mode")
}

func TestLintMissingProject(t *testing.T) {
	cmd := NewLintCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, "--project", "nowhere.yaml", "a.b = 1")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLintJSON(t *testing.T) {
	cmd := NewLintCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd, "--mode", "expression", "a.b >")

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   LintResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_LINT", resp.Error.Code)
	assert.Equal(t, "expression", resp.Data.Mode)
	assert.False(t, resp.Data.Valid)
	assert.NotEmpty(t, resp.Data.Diagnostics)
}
