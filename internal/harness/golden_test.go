package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storyflow/internal/ir"
)

func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{"pay_toll", "fight_then_pay"} {
		t.Run(name, func(t *testing.T) {
			res, err := RunWithGolden(t, loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, res.Pass, "errors: %v", res.Errors)
		})
	}
}

func TestMarshalSnapshot_Deterministic(t *testing.T) {
	res := runTestScenario(t, "brave_flee")

	first, err := MarshalSnapshot(Snapshot("brave_flee", res))
	require.NoError(t, err)
	again := runTestScenario(t, "brave_flee")
	second, err := MarshalSnapshot(Snapshot("brave_flee", again))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestMarshalSnapshot_OmitsEmptyFields(t *testing.T) {
	data, err := MarshalSnapshot(TraceSnapshot{
		ScenarioName: "s",
		SessionID:    "id",
		Status:       "waiting_input",
		NodeID:       "d",
		Trace:        []TraceEvent{{Seq: 2, Step: 1, FlowID: "1", NodeID: "d", Outcome: "waiting_input"}},
		Variables:    map[string]ir.Value{"a.b": ir.Nil{}},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"node_id":"d","scenario_name":"s","session_id":"id","status":"waiting_input",`+
			`"trace":[{"flow_id":"1","node_id":"d","outcome":"waiting_input","seq":2,"step":1}],"variables":{"a.b":null}}`,
		string(data))
}
