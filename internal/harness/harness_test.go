package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storyflow/internal/ir"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func runTestScenario(t *testing.T, name string) *Result {
	t.Helper()
	res, err := Run(context.Background(), loadTestScenario(t, name))
	require.NoError(t, err)
	return res
}

func TestRun_Scenarios(t *testing.T) {
	for _, name := range []string{"pay_toll", "brave_flee", "fight_then_pay", "fall_at_bridge", "daydream"} {
		t.Run(name, func(t *testing.T) {
			res := runTestScenario(t, name)
			assert.True(t, res.Pass, "errors: %v", res.Errors)
			assert.Empty(t, res.Errors)
			assert.Equal(t, name, res.SessionID, "session id defaults to the scenario name")
		})
	}
}

func TestRun_SubflowRoundTrip(t *testing.T) {
	res := runTestScenario(t, "fight_then_pay")

	assert.Equal(t, "finished", res.Status)
	assert.Equal(t, ir.ID("across"), res.NodeID)
	assert.Equal(t, ir.ID("1"), res.FlowID)
	assert.Equal(t, []ir.ID{
		"start", "crossing", "troll", "alive", "rest", "camp", "sleep", "wake",
		"again", "crossing", "troll", "across",
	}, res.Path())

	var flows []ir.ID
	for _, ev := range res.Trace {
		flows = append(flows, ev.FlowID)
	}
	assert.Equal(t, []ir.ID{"1", "1", "1", "1", "1", "1", "2", "2", "2", "1", "1", "1", "1", "1"}, flows)
	assert.Equal(t, ir.Number(2), res.Variables["mc.health"])
}

func TestRun_StepBudget(t *testing.T) {
	res := runTestScenario(t, "daydream")
	assert.Equal(t, "error", res.Status)
	assert.Equal(t, "STEP_BUDGET_EXHAUSTED", res.ErrorCode)
	assert.Len(t, res.Trace, 10)
}

func TestRun_InvalidChoice(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "failing", "wrong_choice.yaml"))
	require.NoError(t, err)

	res, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 1, "the choice fails; the status assertion holds")
	assert.Contains(t, res.Errors[0], `cannot choose "flee": session is finished at paid`)
}

func TestRun_OfferedMismatch(t *testing.T) {
	s := loadTestScenario(t, "brave_flee")
	s.Choices[0].Offered = []string{"flee"}

	res, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.Equal(t, []string{"choices[0]: expected offered [flee], got [pay, flee]"}, res.Errors)
}

func TestRun_ExpectMismatch(t *testing.T) {
	s := loadTestScenario(t, "fight_then_pay")
	s.Choices[0].Expect = &ExpectClause{Status: "finished", Node: "across"}

	res, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.Equal(t, []string{
		"choices[0]: expected status finished, got waiting_input",
		"choices[0]: expected node across, got troll",
	}, res.Errors)
}

func TestRun_FailingAssertion(t *testing.T) {
	s := loadTestScenario(t, "pay_toll")
	s.Assertions = []Assertion{{Type: AssertVariable, Ref: "cap.gold", Equals: 5}}

	res, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "assertions[0]: Assertion failed: variable")
	assert.Contains(t, res.Errors[0], "cap.gold = 2")
}

func TestRun_UnknownOverride(t *testing.T) {
	s := loadTestScenario(t, "pay_toll")
	s.Variables = map[string]any{"ghost.x": 1}

	_, err := Run(context.Background(), s)
	assert.ErrorContains(t, err, "variables[ghost.x]")
}

func TestRun_UnknownFlow(t *testing.T) {
	s := loadTestScenario(t, "pay_toll")
	s.Flow = "404"

	_, err := Run(context.Background(), s)
	assert.ErrorContains(t, err, "failed to start session")
}

func TestRun_InvalidProject(t *testing.T) {
	s := loadTestScenario(t, "pay_toll")
	s.Project = filepath.Join("testdata", "projects", "broken.json")

	_, err := Run(context.Background(), s)
	assert.ErrorContains(t, err, "E106")
}
