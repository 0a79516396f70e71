package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidProject(t *testing.T) {
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	out, err := execute(t, cmd, bridgeProject)

	require.NoError(t, err)
	assert.Contains(t, out, "✓ Project valid (3 flow(s)")
}

func TestValidateValidProjectJSON(t *testing.T) {
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd, tollProject)

	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, "toll", resp.Data.Project)
	assert.Equal(t, 1, resp.Data.Flows)
	assert.Empty(t, resp.Data.Errors)
}

func TestValidateInvalidProject(t *testing.T) {
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	out, err := execute(t, cmd, brokenProject)

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "flow 1 node j")
	assert.Contains(t, out, "error E106")
}

func TestValidateInvalidProjectJSON(t *testing.T) {
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd, brokenProject)

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E106", resp.Error.Code)
	assert.False(t, resp.Data.Valid)
}

func TestValidateNonExistentPath(t *testing.T) {
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, filepath.Join(t.TempDir(), "nowhere.yaml"))

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateSchemaViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"flows": [{"id": "1"}]}`), 0644))

	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd, path)

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.NotEmpty(t, resp.Error.Code)
}
