package testutil

import (
	"github.com/roach88/storyflow/internal/ir"
)

// FlowBuilder assembles flows for tests.
//
//	g := testutil.NewFlow("1", "main").
//		Entry("e").Hub("h", "start").Exit("x").
//		Chain("e", "h", "x").
//		Graph()
type FlowBuilder struct {
	flow ir.Flow
}

// NewFlow starts a flow with the given id and name.
func NewFlow(id ir.ID, name string) *FlowBuilder {
	return &FlowBuilder{flow: ir.Flow{ID: id, Name: name}}
}

// Node adds a node with arbitrary data.
func (b *FlowBuilder) Node(id ir.ID, t ir.NodeType, data ir.NodeData) *FlowBuilder {
	b.flow.Nodes = append(b.flow.Nodes, ir.FlowNode{ID: id, Type: t, Data: data})
	return b
}

func (b *FlowBuilder) Entry(id ir.ID) *FlowBuilder {
	return b.Node(id, ir.NodeEntry, ir.EntryData{})
}

func (b *FlowBuilder) Hub(id ir.ID, hubID string) *FlowBuilder {
	return b.Node(id, ir.NodeHub, ir.HubData{HubID: hubID})
}

func (b *FlowBuilder) Scene(id ir.ID) *FlowBuilder {
	return b.Node(id, ir.NodeScene, ir.SceneData{})
}

func (b *FlowBuilder) Jump(id ir.ID, hubID string) *FlowBuilder {
	return b.Node(id, ir.NodeJump, ir.JumpData{TargetHubID: hubID})
}

func (b *FlowBuilder) Subflow(id, flowID ir.ID) *FlowBuilder {
	return b.Node(id, ir.NodeSubflow, ir.SubflowData{ReferencedFlowID: flowID})
}

// Dialogue adds a dialogue node offering responses.
func (b *FlowBuilder) Dialogue(id ir.ID, text string, responses ...ir.Response) *FlowBuilder {
	return b.Node(id, ir.NodeDialogue, ir.DialogueData{Text: text, Responses: responses})
}

// Condition adds a boolean condition node written as source text.
func (b *FlowBuilder) Condition(id ir.ID, expr string) *FlowBuilder {
	return b.Node(id, ir.NodeCondition, ir.ConditionData{Expression: expr})
}

// Switch adds a switch-mode condition node. Every rule should carry a
// label naming its pin.
func (b *FlowBuilder) Switch(id ir.ID, rules ...ir.Rule) *FlowBuilder {
	return b.Node(id, ir.NodeCondition, ir.ConditionData{
		Condition:  ir.Condition{Logic: ir.LogicAny, Rules: rules},
		SwitchMode: true,
	})
}

// Instruction adds an instruction node written as source text.
func (b *FlowBuilder) Instruction(id ir.ID, source string) *FlowBuilder {
	return b.Node(id, ir.NodeInstruction, ir.InstructionData{Source: source})
}

// Exit adds a terminal exit.
func (b *FlowBuilder) Exit(id ir.ID) *FlowBuilder {
	return b.Node(id, ir.NodeExit, ir.ExitData{ExitMode: ir.ExitTerminal})
}

// Return adds an exit that returns to the calling flow.
func (b *FlowBuilder) Return(id ir.ID) *FlowBuilder {
	return b.Node(id, ir.NodeExit, ir.ExitData{ExitMode: ir.ExitCallerReturn})
}

// ExitTo adds an exit continuing in another flow.
func (b *FlowBuilder) ExitTo(id, flowID ir.ID) *FlowBuilder {
	return b.Node(id, ir.NodeExit, ir.ExitData{ExitMode: ir.ExitFlowReference, ReferencedFlowID: flowID})
}

// Connect links source's pin to target.
func (b *FlowBuilder) Connect(source ir.ID, pin string, target ir.ID) *FlowBuilder {
	b.flow.Connections = append(b.flow.Connections, ir.Connection{
		SourceNodeID: source,
		SourcePin:    pin,
		TargetNodeID: target,
		TargetPin:    "input",
	})
	return b
}

// Chain links consecutive ids through their default pins.
func (b *FlowBuilder) Chain(ids ...ir.ID) *FlowBuilder {
	for i := 1; i < len(ids); i++ {
		b.Connect(ids[i-1], ir.PinDefault, ids[i])
	}
	return b
}

// Flow returns the built flow.
func (b *FlowBuilder) Flow() *ir.Flow {
	f := b.flow
	return &f
}

// Graph returns the built flow's graph.
func (b *FlowBuilder) Graph() *ir.Graph {
	return b.Flow().Graph()
}

// Response builds a dialogue response. A non-empty cond is the response's
// condition text; a non-empty instr its instruction text.
func Response(id ir.ID, text, cond, instr string) ir.Response {
	return ir.Response{ID: id, Text: text, ConditionText: cond, InstructionText: instr}
}

// Label builds a switch rule comparing a variable with a literal.
func Label(pin, ref string, op ir.RuleOperator, v ir.Value) ir.Rule {
	r, _ := ir.ParseRef(ref)
	return ir.Rule{Sheet: r.Sheet, Variable: r.Variable, Operator: op, Value: v, Label: pin}
}

// Sheet builds a sheet declaring vars.
func Sheet(shortcut string, vars ...ir.VariableDef) ir.Sheet {
	return ir.Sheet{Shortcut: shortcut, Name: shortcut, Variables: vars}
}

// Var declares a variable with a default value.
func Var(name string, t ir.BlockType, def ir.Value) ir.VariableDef {
	return ir.VariableDef{Name: name, BlockType: t, Default: def}
}
