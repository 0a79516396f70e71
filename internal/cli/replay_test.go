package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storyflow/internal/store"
)

func decodeReplay(t *testing.T, out string) (ReplayResult, *CLIError) {
	t.Helper()
	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
		Error  *CLIError    `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp.Data, resp.Error
}

func TestReplayDeterministic(t *testing.T) {
	db := recordBridgeSessions(t)

	for _, id := range []string{"s1", "s2"} {
		cmd := NewReplayCommand(&RootOptions{Format: "text"})
		out, err := execute(t, cmd, "--db", db, "--session", id, bridgeProject)

		require.NoError(t, err, id)
		assert.Contains(t, out, "Replay Summary: 1 session(s)")
		assert.Contains(t, out, "✓ Session: "+id)
		assert.Contains(t, out, "✓ All sessions replayed identically")
	}
}

func TestReplayJSON(t *testing.T) {
	db := recordBridgeSessions(t)

	cmd := NewReplayCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd, "--db", db, "--session", "s1", bridgeProject)
	require.NoError(t, err)

	result, cliErr := decodeReplay(t, out)
	assert.Nil(t, cliErr)
	assert.True(t, result.AllDeterministic)
	require.Len(t, result.Sessions, 1)
	assert.Equal(t, "s1", result.Sessions[0].SessionID)
	assert.Equal(t, "1", string(result.Sessions[0].FlowID))
	assert.Equal(t, 2, result.Sessions[0].Choices)
	assert.Nil(t, result.Sessions[0].Divergence)
}

func TestReplayOverriddenSessionDiverges(t *testing.T) {
	// s3 was played with --set; replay starts from the declared defaults.
	db := recordBridgeSessions(t)

	cmd := NewReplayCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd, "--db", db, bridgeProject)

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	result, cliErr := decodeReplay(t, out)
	require.NotNil(t, cliErr)
	assert.Equal(t, "E_DETERMINISM", cliErr.Code)
	assert.False(t, result.AllDeterministic)
	require.Len(t, result.Sessions, 3)

	byID := map[string]ReplaySessionResult{}
	for _, s := range result.Sessions {
		byID[s.SessionID] = s
	}
	assert.True(t, byID["s1"].Deterministic)
	assert.True(t, byID["s2"].Deterministic)
	assert.False(t, byID["s3"].Deterministic)
	assert.NotNil(t, byID["s3"].Divergence)
}

func TestReplayChangedProjectDiverges(t *testing.T) {
	db := recordBridgeSessions(t)

	source, err := os.ReadFile(bridgeProject)
	require.NoError(t, err)
	changed := strings.Replace(string(source), `"mc.health -= 2"`, `"mc.health -= 1"`, 1)
	require.NotEqual(t, string(source), changed)

	project := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(project, []byte(changed), 0644))

	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	out, err := execute(t, cmd, "--db", db, "--session", "s1", project)

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Session: s1")
	assert.Contains(t, out, "  Diverged at step record")
	assert.Contains(t, out, "✗ Determinism verification failed")
}

func TestReplayEmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	out, err := execute(t, cmd, "--db", db, bridgeProject)

	require.NoError(t, err)
	assert.Equal(t, "No sessions found in database.\n", out)
}

func TestReplayUnknownSession(t *testing.T) {
	db := recordBridgeSessions(t)

	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, "--db", db, "--session", "s404", bridgeProject)

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "session s404 not found")
}

func TestReplayMissingDatabase(t *testing.T) {
	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, "--db", filepath.Join(t.TempDir(), "none.db"), bridgeProject)

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
