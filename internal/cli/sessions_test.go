package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storyflow/internal/ir"
)

func decodeSessions(t *testing.T, out string) SessionsResult {
	t.Helper()
	var resp struct {
		Status string         `json:"status"`
		Data   SessionsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func sessionIDs(views []SessionView) []string {
	ids := make([]string, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.ID)
	}
	return ids
}

func TestSessionsList(t *testing.T) {
	db := recordBridgeSessions(t)

	cmd := NewSessionsCommand(&RootOptions{Format: "text"})
	out, err := execute(t, cmd, "--db", db)

	require.NoError(t, err)
	assert.Contains(t, out, "s1  flow 1  finished at across")
	assert.Contains(t, out, "s2  flow 1  unfinished\n")
	assert.Contains(t, out, "s3  flow 1  finished at dead")
	assert.Contains(t, out, "\n3 session(s)\n")
}

func TestSessionsListJSON(t *testing.T) {
	db := recordBridgeSessions(t)

	cmd := NewSessionsCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd, "--db", db)
	require.NoError(t, err)

	result := decodeSessions(t, out)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, []string{"s1", "s2", "s3"}, sessionIDs(result.Sessions))
	assert.Equal(t, "bridge", result.Sessions[0].ProjectName)
	assert.True(t, result.Sessions[0].Finished)
	assert.False(t, result.Sessions[1].Finished)
}

func TestSessionsWhere(t *testing.T) {
	db := recordBridgeSessions(t)

	cmd := NewSessionsCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd, "--db", db, "--where", "mc.health == 2")
	require.NoError(t, err)

	result := decodeSessions(t, out)
	assert.Equal(t, []string{"s1"}, sessionIDs(result.Sessions))
}

func TestSessionsWhereNegatedOrdering(t *testing.T) {
	// s2 never finished, so mc.health is unset and "> 1" cannot hold.
	db := recordBridgeSessions(t)

	cmd := NewSessionsCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd, "--db", db, "--where", "!(mc.health > 1)")
	require.NoError(t, err)

	result := decodeSessions(t, out)
	assert.Equal(t, []string{"s2", "s3"}, sessionIDs(result.Sessions))
}

func TestSessionsWhereUnreducibleCondition(t *testing.T) {
	db := recordBridgeSessions(t)

	cmd := NewSessionsCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, "--db", db, "--where", "mc.health > 1 && frobnicate(mc.coins, 1)")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "Unknown function: frobnicate")
}

func TestSessionsWhereInvalidCondition(t *testing.T) {
	db := recordBridgeSessions(t)

	cmd := NewSessionsCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, "--db", db, "--where", "mc.health >")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid --where")
}

func TestSessionsUnfinished(t *testing.T) {
	db := recordBridgeSessions(t)

	cmd := NewSessionsCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd, "--db", db, "--unfinished")
	require.NoError(t, err)

	result := decodeSessions(t, out)
	assert.Equal(t, []string{"s2"}, sessionIDs(result.Sessions))
}

func TestSessionsVisits(t *testing.T) {
	db := recordBridgeSessions(t)

	cmd := NewSessionsCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd, "--db", db, "--visits", "1")
	require.NoError(t, err)

	result := decodeSessions(t, out)
	counts := map[ir.ID]int{}
	for _, v := range result.Visits {
		counts[v.NodeID] = v.Sessions
	}
	assert.Equal(t, 3, counts["start"])
	assert.Equal(t, 1, counts["across"])
	assert.Equal(t, 1, counts["dead"])
	assert.Equal(t, len(result.Visits), result.Total)
}

func TestSessionsVisitsText(t *testing.T) {
	db := recordBridgeSessions(t)

	cmd := NewSessionsCommand(&RootOptions{Format: "text"})
	out, err := execute(t, cmd, "--db", db, "--visits", "9")

	require.NoError(t, err)
	assert.Equal(t, "No visits recorded in flow 9.\n", out)
}

func TestSessionsExclusiveFlags(t *testing.T) {
	db := recordBridgeSessions(t)

	cmd := NewSessionsCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, "--db", db, "--unfinished", "--visits", "1")

	require.Error(t, err)
}

func TestSessionsMissingDatabase(t *testing.T) {
	cmd := NewSessionsCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, "--db", filepath.Join(t.TempDir(), "none.db"))

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
