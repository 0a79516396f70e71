package compiler

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/testutil"
)

func project(flows ...*ir.Flow) *ir.Project {
	p := &ir.Project{Sheets: []ir.Sheet{
		testutil.Sheet("mc",
			testutil.Var("health", ir.BlockNumber, nil),
			testutil.Var("brave", ir.BlockBoolean, nil),
		),
	}}
	for _, f := range flows {
		p.Flows = append(p.Flows, *f)
	}
	return p
}

func codes(errs []ValidationError) []string {
	out := []string{}
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

// kinds lists the distinct codes in first-seen order.
func kinds(errs []ValidationError) []string {
	out := []string{}
	for _, c := range codes(errs) {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

func TestValidate_LoadedProjectIsClean(t *testing.T) {
	p, err := LoadProject(context.Background(), filepath.Join("testdata", "toll.json"))
	require.NoError(t, err)
	assert.Empty(t, Validate(p))
}

func TestValidate_Codes(t *testing.T) {
	tests := []struct {
		name string
		flow *ir.Flow
		want []string
	}{
		{
			name: "duplicate node",
			flow: testutil.NewFlow("1", "f").Entry("e").Exit("e").Flow(),
			want: []string{ErrDuplicateID},
		},
		{
			name: "unknown type",
			flow: testutil.NewFlow("1", "f").Entry("e").Node("x", "teleport", nil).Chain("e", "x").Flow(),
			want: []string{ErrUnknownNodeType},
		},
		{
			name: "dangling connection",
			flow: testutil.NewFlow("1", "f").Entry("e").Connect("e", "default", "ghost").Flow(),
			want: []string{ErrDanglingEdge},
		},
		{
			name: "missing entry",
			flow: testutil.NewFlow("1", "f").Exit("x").Flow(),
			want: []string{ErrMissingEntry},
		},
		{
			name: "unlabelled switch rule",
			flow: testutil.NewFlow("1", "f").Entry("e").
				Switch("s", ir.Rule{Sheet: "mc", Variable: "brave", Operator: ir.OpIsTrue}).
				Chain("e", "s").Flow(),
			want: []string{ErrUnlabelledRule},
		},
		{
			name: "unknown hub",
			flow: testutil.NewFlow("1", "f").Entry("e").Jump("j", "nowhere").Chain("e", "j").Flow(),
			want: []string{ErrUnknownHub},
		},
		{
			name: "unknown subflow",
			flow: testutil.NewFlow("1", "f").Entry("e").Subflow("s", "9").ExitTo("x", "8").Chain("e", "s", "x").Flow(),
			want: []string{ErrUnknownFlow},
		},
		{
			name: "text syntax",
			flow: testutil.NewFlow("1", "f").Entry("e").Instruction("i", "mc.health +=").Condition("c", "mc.health >").Chain("e", "i", "c").Flow(),
			want: []string{ErrTextSyntax},
		},
		{
			name: "condition text with no rule form",
			flow: testutil.NewFlow("1", "f").Entry("e").Condition("c", "!mc.health == true").Chain("e", "c").Flow(),
			want: []string{ErrTextSyntax},
		},
		{
			name: "unknown variable",
			flow: testutil.NewFlow("1", "f").Entry("e").
				Dialogue("d", "hi", testutil.Response("r", "ok", "npc.mood == \"calm\"", "mc.health = mc.max")).
				Chain("e", "d").Flow(),
			want: []string{ErrUnknownVariable},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, kinds(Validate(project(tt.flow))))
		})
	}
}

func TestValidate_StructuredRefs(t *testing.T) {
	f := testutil.NewFlow("1", "f").Entry("e").
		Node("i", ir.NodeInstruction, ir.InstructionData{Assignments: []ir.Assignment{
			{Sheet: "mc", Variable: "health", Operator: ir.OpSet,
				ValueType: ir.ValueVariableRef, ValueSheet: "npc", Value: ir.String("hp")},
			{Sheet: "", Variable: "skipped", Operator: ir.OpSet, Value: ir.Number(1)},
		}}).
		Chain("e", "i").Flow()

	errs := Validate(project(f))
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnknownVariable, errs[0].Code)
	assert.Equal(t, SeverityWarning, errs[0].Severity)
	assert.Equal(t, ir.ID("i"), errs[0].NodeID)
	assert.Contains(t, errs[0].Message, "npc.hp")
	assert.False(t, HasErrors(errs))
}

func TestValidate_DuplicateFlow(t *testing.T) {
	a := testutil.NewFlow("1", "a").Entry("e").Flow()
	b := testutil.NewFlow("1", "b").Entry("e").Flow()
	errs := Validate(project(a, b))
	assert.Equal(t, []string{ErrDuplicateID}, codes(errs))
	assert.True(t, HasErrors(errs))
}

func TestValidate_LoopWarning(t *testing.T) {
	f := testutil.NewFlow("1", "f").Entry("e").
		Hub("h", "top").Instruction("i", "mc.health += 1").Jump("j", "top").
		Chain("e", "h", "i", "j").Flow()

	errs := Validate(project(f))
	require.Len(t, errs, 1)
	assert.Equal(t, WarnNonInteractiveLoop, errs[0].Code)
	assert.Equal(t, ir.ID("h"), errs[0].NodeID)
}

func TestValidationError_Error(t *testing.T) {
	e := ValidationError{Code: ErrUnknownHub, Field: "flows[0].nodes[1].data.target_hub_id", Message: "no hub", FlowID: "1", NodeID: "j"}
	assert.Equal(t, "[E106] flow 1 node j: flows[0].nodes[1].data.target_hub_id: no hub", e.Error())
}
