package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/testutil"
)

func testProject() *ir.Project {
	main := testutil.NewFlow("1", "main").
		Entry("e").Subflow("call", "2").
		Dialogue("d", "Toll?",
			testutil.Response("pay", "Pay", "", "cap.gold -= 3"),
			testutil.Response("flee", "Run", "mc.brave", ""),
			testutil.Response("fight", "Fight", "", "mc.health -= 1"),
		).
		Exit("paid").ExitTo("onward", "3").
		Chain("e", "call", "d").
		Connect("d", "pay", "paid").
		Connect("d", "fight", "onward").
		Flow()
	sub := testutil.NewFlow("2", "visit").
		Entry("se").Instruction("si", "mc.brave = true").Return("sr").
		Chain("se", "si", "sr").
		Flow()
	epilogue := testutil.NewFlow("3", "epilogue").
		Entry("ee").Exit("ex").
		Chain("ee", "ex").
		Flow()
	return &ir.Project{Name: "toll", Flows: []ir.Flow{*main, *sub, *epilogue}}
}

func newTestSession(t *testing.T, p *ir.Project, opts ...SessionOption) *Session {
	t.Helper()
	opts = append([]SessionOption{WithIDGenerator(NewFixedGenerator("sess-1"))}, opts...)
	sess, err := NewSession(context.Background(), New(), p, "1", testVars(), opts...)
	require.NoError(t, err)
	return sess
}

func TestSession_FollowsSubflowCall(t *testing.T) {
	sess := newTestSession(t, testProject())
	assert.Equal(t, "sess-1", sess.ID())

	res, err := sess.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaitingInput, res.Status)
	assert.Equal(t, []SkippedNode{
		{NodeID: "e", NodeType: ir.NodeEntry},
		{NodeID: "se", NodeType: ir.NodeEntry},
		{NodeID: "si", NodeType: ir.NodeInstruction},
	}, res.Skipped)
	assert.Equal(t, []ir.ID{"e", "call", "se", "si", "sr", "d"}, res.State.ExecutionPath)
	assert.Empty(t, res.State.CallStack)
	assert.Equal(t, ir.ID("1"), sess.Graph().FlowID)

	// The subflow set mc.brave, so all three responses are offered.
	require.NotNil(t, res.State.PendingChoices)
	assert.Len(t, res.State.PendingChoices.Responses, 3)
}

func TestSession_ChooseAndFlowReference(t *testing.T) {
	sess := newTestSession(t, testProject())
	ctx := context.Background()

	_, err := sess.Advance(ctx)
	require.NoError(t, err)

	res, err := sess.Choose(ctx, "fight")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinished, res.Status)
	assert.Equal(t, ir.ID("3"), sess.Graph().FlowID)
	assert.Equal(t, ir.ID("ex"), res.State.CurrentNodeID)
	assert.Equal(t, []SkippedNode{{NodeID: "ee", NodeType: ir.NodeEntry}}, res.Skipped)

	v, _ := res.State.Value("mc.health")
	assert.Equal(t, ir.Number(0), v)
}

func TestSession_Rewind(t *testing.T) {
	sess := newTestSession(t, testProject())
	ctx := context.Background()

	_, err := sess.Advance(ctx)
	require.NoError(t, err)
	_, err = sess.Choose(ctx, "fight")
	require.NoError(t, err)
	require.Equal(t, ir.ID("3"), sess.Graph().FlowID)

	// ex, ee, onward, then the choice itself.
	for i := 0; i < 4; i++ {
		require.True(t, sess.Rewind(), "rewind %d", i)
	}
	assert.Equal(t, StatusWaitingInput, sess.State().Status)
	assert.Equal(t, ir.ID("1"), sess.Graph().FlowID)

	res, err := sess.Choose(ctx, "pay")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinished, res.Status)
	assert.Equal(t, ir.ID("paid"), res.State.CurrentNodeID)
}

func TestSession_FlowNotFound(t *testing.T) {
	p := &ir.Project{Flows: []ir.Flow{
		*testutil.NewFlow("1", "main").
			Entry("e").Subflow("call", "99").
			Chain("e", "call").
			Flow(),
	}}
	sess := newTestSession(t, p)

	res, err := sess.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, res.Status)
	assert.True(t, HasCode(res.Err, ErrCodeFlowNotFound))
	assert.Equal(t, ir.ID("99"), res.State.Error.FlowID)
	assert.Equal(t, ir.ID("call"), res.State.Error.NodeID)
}

func TestSession_BudgetSpansFlows(t *testing.T) {
	// Each flow immediately calls the other.
	p := &ir.Project{Flows: []ir.Flow{
		*testutil.NewFlow("1", "a").Entry("ae").ExitTo("ax", "2").Chain("ae", "ax").Flow(),
		*testutil.NewFlow("2", "b").Entry("be").ExitTo("bx", "1").Chain("be", "bx").Flow(),
	}}
	sess, err := NewSession(context.Background(), New(WithMaxSteps(9)), p, "1", nil,
		WithIDGenerator(NewFixedGenerator("loop")))
	require.NoError(t, err)

	res, err := sess.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, res.Status)
	assert.True(t, IsStepBudgetError(res.Err))
	assert.Equal(t, 9, res.State.StepCount)
}

func TestSession_UnknownStartFlow(t *testing.T) {
	_, err := NewSession(context.Background(), New(), testProject(), "404", nil)
	assert.True(t, HasCode(err, ErrCodeFlowNotFound))
}

func TestSession_Records(t *testing.T) {
	mem := &MemoryRecorder{}
	sess := newTestSession(t, testProject(), WithRecorder(mem, nil), WithProjectName("toll"))
	ctx := context.Background()

	_, err := sess.Advance(ctx)
	require.NoError(t, err)
	_, err = sess.Choose(ctx, "pay")
	require.NoError(t, err)

	steps := mem.Steps()
	var nodes []ir.ID
	var flows []ir.ID
	for i, st := range steps {
		nodes = append(nodes, st.NodeID)
		flows = append(flows, st.FlowID)
		assert.Equal(t, "sess-1", st.SessionID)
		assert.Equal(t, int64(i+2), st.Seq, "seq 1 belongs to the session record")
		assert.Len(t, st.VariablesDigest, 64)
	}
	assert.Equal(t, []ir.ID{"e", "call", "se", "si", "sr", "d", "d", "paid"}, nodes)
	assert.Equal(t, []ir.ID{"1", "1", "2", "2", "2", "1", "1", "1"}, flows)
	assert.Equal(t, ir.ID("pay"), steps[6].ResponseID)
	assert.Equal(t, string(OutcomeWaitingInput), steps[5].Outcome)

	outcomes := mem.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, "finished", outcomes[0].Status)
	assert.Equal(t, ir.Number(-3), outcomes[0].Variables["cap.gold"])
	assert.NotEmpty(t, outcomes[0].Console)
}

func TestSession_SetVariable(t *testing.T) {
	sess := newTestSession(t, testProject())
	require.NoError(t, sess.SetVariable("mc.health", ir.Number(4)))
	v, _ := sess.State().Value("mc.health")
	assert.Equal(t, ir.Number(4), v)
	assert.Error(t, sess.SetVariable("nope.x", ir.Number(1)))
}

func TestReplay(t *testing.T) {
	ctx := context.Background()
	mem := &MemoryRecorder{}
	sess := newTestSession(t, testProject(), WithRecorder(mem, nil))
	_, err := sess.Advance(ctx)
	require.NoError(t, err)
	_, err = sess.Choose(ctx, "pay")
	require.NoError(t, err)

	res, err := Replay(ctx, New(), testProject(), "1", testVars(), mem.Steps())
	require.NoError(t, err)
	assert.Nil(t, res.Diverged)
	assert.Equal(t, StatusFinished, res.State.Status)

	// Change what paying costs: the replay diverges at the choice.
	changed := testProject()
	nodes := changed.Flows[0].Nodes
	for i, n := range nodes {
		if n.ID == "d" {
			d := n.Data.(ir.DialogueData)
			d.Responses = append([]ir.Response(nil), d.Responses...)
			d.Responses[0].InstructionText = "cap.gold -= 4"
			nodes[i].Data = d
		}
	}
	res, err = Replay(ctx, New(), changed, "1", testVars(), mem.Steps())
	require.NoError(t, err)
	require.NotNil(t, res.Diverged)
	assert.Equal(t, 6, res.Diverged.Index)
	assert.Equal(t, "variables_digest", res.Diverged.Field)
}

func TestReplay_LengthMismatch(t *testing.T) {
	d := compareTraces(
		[]ir.StepRecord{{NodeID: "a", Outcome: "ok"}},
		[]ir.StepRecord{{NodeID: "a", Outcome: "ok"}, {NodeID: "b", Outcome: "ok"}},
	)
	require.NotNil(t, d)
	assert.Equal(t, "length", d.Field)
	assert.Equal(t, 1, d.Index)
}

func TestSession_SettlePassesSingleResponseDialogue(t *testing.T) {
	// Only one response is valid, so the dialogue picks it itself.
	p := &ir.Project{Flows: []ir.Flow{
		*testutil.NewFlow("1", "main").
			Entry("e").
			Dialogue("d", "Toll?",
				testutil.Response("pay", "Pay", "", "cap.gold -= 3"),
				testutil.Response("flee", "Run", "mc.brave", ""),
			).
			Exit("paid").
			Chain("e", "d").
			Connect("d", "pay", "paid").
			Flow(),
	}}
	sess := newTestSession(t, p)
	ctx := context.Background()

	res, err := sess.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, res.Status, "advance stops after the dialogue step")
	assert.Equal(t, StatusRunning, res.State.Status)

	res, err = sess.Settle(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinished, res.Status)
	assert.Equal(t, ir.ID("paid"), res.State.CurrentNodeID)
	assert.NotNil(t, res.Skipped)
}

func TestSession_SettleBudget(t *testing.T) {
	// A hub loop through a dialogue that always picks its single response.
	p := &ir.Project{Flows: []ir.Flow{
		*testutil.NewFlow("1", "main").
			Entry("e").Hub("h", "top").
			Dialogue("d", "Again?", testutil.Response("yes", "Yes", "", "")).
			Jump("j", "top").
			Chain("e", "h", "d").
			Connect("d", "yes", "j").
			Flow(),
	}}
	sess, err := NewSession(context.Background(), New(WithMaxSteps(7)), p, "1", nil,
		WithIDGenerator(NewFixedGenerator("spin")))
	require.NoError(t, err)

	res, err := sess.Settle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, res.Status)
	assert.True(t, IsStepBudgetError(res.Err))
	assert.Equal(t, StatusError, sess.State().Status)
}
