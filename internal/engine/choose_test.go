package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/testutil"
)

func choiceGraph() *ir.Graph {
	return testutil.NewFlow("1", "main").
		Entry("e").
		Dialogue("d", "Pay the toll?",
			testutil.Response("pay", "Pay", "", "cap.gold -= 3"),
			testutil.Response("flee", "Run", "", "mc.brave = false"),
		).
		Exit("paid").Exit("fled").
		Chain("e", "d").
		Connect("d", "pay", "paid").
		Connect("d", "flee", "fled").
		Graph()
}

func waiting(t *testing.T, e *Engine, g *ir.Graph) State {
	t.Helper()
	res := e.StepUntilInteractive(start(g), g)
	require.Equal(t, OutcomeWaitingInput, res.Status)
	return res.State
}

func TestChoose(t *testing.T) {
	g := choiceGraph()
	e := New()
	s := waiting(t, e, g)

	next, err := e.Choose(s, g, "pay")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, next.Status)
	assert.Nil(t, next.PendingChoices)
	assert.Equal(t, ir.ID("paid"), next.CurrentNodeID)
	assert.Equal(t, s.StepCount+1, next.StepCount)
	assert.Len(t, next.Snapshots, len(s.Snapshots)+1)

	v, _ := next.Value("cap.gold")
	assert.Equal(t, ir.Number(-3), v)

	res := e.StepUntilInteractive(next, g)
	assert.Equal(t, OutcomeFinished, res.Status)
}

func TestChoose_Rejected(t *testing.T) {
	g := choiceGraph()
	e := New()
	s := waiting(t, e, g)

	out, err := e.Choose(s, g, "bribe")
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeInvalidChoice))
	assert.Equal(t, s.StepCount, out.StepCount)
	assert.Equal(t, StatusWaitingInput, out.Status)

	running := start(g)
	_, err = e.Choose(running, g, "pay")
	assert.True(t, HasCode(err, ErrCodeNotWaiting))
}

func TestRewind(t *testing.T) {
	g := choiceGraph()
	e := New()
	s := waiting(t, e, g)

	chosen, err := e.Choose(s, g, "pay")
	require.NoError(t, err)

	back, ok := Rewind(chosen)
	require.True(t, ok)
	assert.Equal(t, StatusWaitingInput, back.Status)
	assert.Equal(t, s.StepCount, back.StepCount)
	assert.Equal(t, s.ExecutionPath, back.ExecutionPath)
	assert.Len(t, back.Snapshots, len(s.Snapshots))
	v, _ := back.Value("cap.gold")
	assert.Equal(t, ir.Number(0), v)

	// The restored state can choose again.
	other, err := e.Choose(back, g, "flee")
	require.NoError(t, err)
	assert.Equal(t, ir.ID("fled"), other.CurrentNodeID)

	initial := start(g)
	_, ok = Rewind(initial)
	assert.False(t, ok)
}

func TestSetVariable(t *testing.T) {
	s := NewState(testVars(), "e")

	next, err := SetVariable(s, "mc.health", ir.String("12"))
	require.NoError(t, err)
	slot := next.Variables["mc.health"]
	assert.Equal(t, ir.Number(12), slot.Value, "numeric text coerced for number slots")
	assert.Equal(t, SourceUserOverride, slot.Source)
	assert.Equal(t, ir.Number(1), slot.PreviousValue)
	assert.Equal(t, SourceInitial, s.Variables["mc.health"].Source, "input untouched")

	next, err = SetVariable(s, "cap.mood", ir.String("sleepy"))
	require.NoError(t, err)
	assert.Equal(t, ir.String("calm"), next.Variables["cap.mood"].Value)
	require.NotEmpty(t, next.Console)
	assert.Equal(t, LevelWarning, next.Console[0].Level)

	_, err = SetVariable(s, "ghost.x", ir.Number(1))
	assert.True(t, HasCode(err, ErrCodeUnknownVariable))
}

func TestEnterSubflow_NoEntry(t *testing.T) {
	main := testutil.NewFlow("1", "main").Subflow("s", "2").Graph()
	sub := testutil.NewFlow("2", "sub").Exit("x").Graph()

	_, err := EnterSubflow(NewState(testVars(), "s"), main, "s", sub)
	assert.True(t, IsMissingNodeError(err))
}
