package engine

import (
	"fmt"
	"log/slog"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/lang"
)

// DefaultMaxSteps is the default number of steps the driver takes before
// giving up on reaching an interactive node.
const DefaultMaxSteps = 100

// Engine executes flow graphs one node at a time.
//
// The engine holds configuration only. All session data lives in State
// values, which are threaded through Step and returned modified copies,
// so one Engine may serve any number of sessions.
type Engine struct {
	maxSteps      int
	snapshotLimit int // 0 keeps every snapshot
	logger        *slog.Logger
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithMaxSteps sets the driver's step budget.
//
// Default: 100 steps (DefaultMaxSteps)
// Values below 1 are ignored.
func WithMaxSteps(maxSteps int) Option {
	return func(e *Engine) {
		if maxSteps > 0 {
			e.maxSteps = maxSteps
		}
	}
}

// WithSnapshotLimit bounds the snapshot history kept for rewinding. The
// oldest snapshots are dropped first.
func WithSnapshotLimit(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.snapshotLimit = n
		}
	}
}

// WithLogger sets the logger used for step tracing.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxSteps returns the driver's step budget.
func (e *Engine) MaxSteps() int {
	return e.maxSteps
}

// StepResult describes what a single step did.
type StepResult struct {
	Outcome  Outcome
	NodeID   ir.ID
	NodeType ir.NodeType

	// TargetFlowID is set for OutcomeFlowJump.
	TargetFlowID ir.ID

	// ReturnGraph is the caller's graph, set for OutcomeFlowReturn.
	ReturnGraph *ir.Graph

	// Err is set for OutcomeError.
	Err *EvaluationError
}

// Step processes the node at s.CurrentNodeID and returns the successor
// state. The input state is not modified.
//
// A state that is not running is returned unchanged with the outcome
// matching its status. When the current node is missing from g, the
// result differs from s only in its status and error.
//
// Otherwise the pre-step state is pushed onto Snapshots, StepCount is
// incremented, the node is appended to ExecutionPath and the node's
// handler runs.
func (e *Engine) Step(s State, g *ir.Graph) (State, StepResult) {
	if s.Status != StatusRunning {
		return s, StepResult{Outcome: outcomeOf(s.Status), NodeID: s.CurrentNodeID}
	}

	node, ok := g.Node(s.CurrentNodeID)
	if !ok {
		err := NewMissingNodeError(s.CurrentNodeID)
		out := s
		out.Status = StatusError
		out.Error = err
		e.logger.Debug("step failed", "node_id", s.CurrentNodeID, "error", err)
		return out, StepResult{Outcome: OutcomeError, NodeID: s.CurrentNodeID, Err: err}
	}

	next := s.clone()
	next.Snapshots = append(next.Snapshots, s.snapshot())
	if e.snapshotLimit > 0 && len(next.Snapshots) > e.snapshotLimit {
		next.Snapshots = next.Snapshots[len(next.Snapshots)-e.snapshotLimit:]
	}
	next.StepCount++
	next.ExecutionPath = append(next.ExecutionPath, node.ID)

	res := StepResult{NodeID: node.ID, NodeType: node.Type}
	switch d := node.Data.(type) {
	case ir.EntryData, ir.HubData, ir.SceneData:
		res.Outcome = next.passThrough(g, node)
	case ir.ConditionData:
		res.Outcome = next.stepCondition(g, node, d)
	case ir.InstructionData:
		res.Outcome = next.stepInstruction(g, node, d)
	case ir.JumpData:
		res.Outcome = next.stepJump(g, node, d)
	case ir.SubflowData:
		res.Outcome, res.TargetFlowID = next.stepSubflow(node, d)
	case ir.DialogueData:
		res.Outcome = next.stepDialogue(g, node, d)
	case ir.ExitData:
		res.Outcome, res.TargetFlowID, res.ReturnGraph = next.stepExit(node, d)
	default:
		err := &EvaluationError{
			Code:    ErrCodeUnknownNodeType,
			Message: fmt.Sprintf("no handler for node type %q", node.Type),
			NodeID:  node.ID,
		}
		next.fail(err)
		res.Outcome = OutcomeError
		res.Err = err
	}

	e.logger.Debug("step",
		"step", next.StepCount,
		"node_id", node.ID,
		"node_type", node.Type,
		"outcome", res.Outcome,
	)
	return next, res
}

func (s *State) fail(err *EvaluationError) {
	s.Status = StatusError
	s.Error = err
	s.log(LevelError, err.NodeID, err.Error())
}

func (s *State) finish(nodeID ir.ID, reason string) Outcome {
	s.Status = StatusFinished
	s.PendingChoices = nil
	s.log(LevelInfo, nodeID, reason)
	return OutcomeFinished
}

// moveTo continues at target, or finishes when there is no target.
func (s *State) moveTo(node ir.FlowNode, target ir.ID, found bool, via string) Outcome {
	if !found {
		return s.finish(node.ID, fmt.Sprintf("%s %s has no outgoing connection; flow finished", node.Type, node.ID))
	}
	s.CurrentNodeID = target
	s.log(LevelInfo, node.ID, fmt.Sprintf("%s %s -> %s via %s", node.Type, node.ID, target, via))
	return OutcomeOK
}

// passThrough follows the default pin (falling back to the legacy output pin).
func (s *State) passThrough(g *ir.Graph, node ir.FlowNode) Outcome {
	target, ok := g.NextDefault(node.ID)
	return s.moveTo(node, target, ok, ir.PinDefault)
}

func (s *State) stepCondition(g *ir.Graph, node ir.FlowNode, d ir.ConditionData) Outcome {
	cond := d.Condition
	if cond.IsEmpty() && d.Expression != "" {
		parsed, err := lang.ParseCondition(d.Expression)
		if err != nil {
			s.log(LevelError, node.ID, fmt.Sprintf("condition text: %v; evaluating as false", err))
			target, ok := g.Next(node.ID, ir.PinFalse)
			return s.moveTo(node, target, ok, ir.PinFalse)
		}
		cond = parsed
	}

	if d.SwitchMode {
		return s.stepSwitch(g, node, cond)
	}

	result, missing := EvaluateCondition(cond, s.Variables)
	if len(missing) > 0 {
		s.log(LevelWarning, node.ID, describeMissing(missing))
	}
	pin := ir.PinFalse
	if result {
		pin = ir.PinTrue
	}
	target, ok := g.Next(node.ID, pin)
	return s.moveTo(node, target, ok, pin)
}

// stepSwitch follows the pin labelled by the first satisfied rule in
// declaration order. When no rule matches, or the matching label has no
// connection, the default pin is used.
func (s *State) stepSwitch(g *ir.Graph, node ir.FlowNode, cond ir.Condition) Outcome {
	pin := ir.PinDefault
	var missing []string
	matched := false
	cond.WalkRules(func(r ir.Rule) {
		if matched || r.Label == "" {
			return
		}
		ok, m := EvaluateRule(r, s.Variables)
		missing = append(missing, m...)
		if ok {
			pin = r.Label
			matched = true
		}
	})
	if len(missing) > 0 {
		s.log(LevelWarning, node.ID, describeMissing(missing))
	}

	if target, ok := g.Next(node.ID, pin); ok {
		return s.moveTo(node, target, true, pin)
	}
	if pin != ir.PinDefault {
		s.log(LevelWarning, node.ID, fmt.Sprintf("switch pin %q is not connected; using default", pin))
	}
	target, ok := g.NextDefault(node.ID)
	return s.moveTo(node, target, ok, ir.PinDefault)
}

func (s *State) stepInstruction(g *ir.Graph, node ir.FlowNode, d ir.InstructionData) Outcome {
	assignments := d.Assignments
	if len(assignments) == 0 && d.Source != "" {
		parsed, err := lang.ParseAssignments(d.Source)
		if err != nil {
			s.log(LevelError, node.ID, fmt.Sprintf("instruction text: %v; skipped", err))
		}
		assignments = parsed
	}
	s.applyInstruction(node.ID, assignments)
	return s.passThrough(g, node)
}

func (s *State) stepJump(g *ir.Graph, node ir.FlowNode, d ir.JumpData) Outcome {
	if d.TargetHubID == "" {
		return s.finish(node.ID, fmt.Sprintf("jump %s has no target hub; flow finished", node.ID))
	}
	hub, ok := g.FindHub(d.TargetHubID)
	if !ok {
		s.log(LevelWarning, node.ID, fmt.Sprintf("hub %q not found", d.TargetHubID))
		return s.finish(node.ID, fmt.Sprintf("jump %s target missing; flow finished", node.ID))
	}
	s.CurrentNodeID = hub.ID
	s.log(LevelInfo, node.ID, fmt.Sprintf("jump %s -> hub %s (%s)", node.ID, d.TargetHubID, hub.ID))
	return OutcomeOK
}

func (s *State) stepSubflow(node ir.FlowNode, d ir.SubflowData) (Outcome, ir.ID) {
	if d.ReferencedFlowID.IsZero() {
		return s.finish(node.ID, fmt.Sprintf("subflow %s references no flow; flow finished", node.ID)), ""
	}
	s.log(LevelInfo, node.ID, fmt.Sprintf("subflow %s calls flow %s", node.ID, d.ReferencedFlowID))
	return OutcomeFlowJump, d.ReferencedFlowID
}

// stepDialogue auto-selects when at most one response is available and
// waits for the player otherwise.
func (s *State) stepDialogue(g *ir.Graph, node ir.FlowNode, d ir.DialogueData) Outcome {
	valid := s.validResponses(node.ID, d.Responses)
	switch len(valid) {
	case 0:
		return s.passThrough(g, node)
	case 1:
		return s.selectResponse(g, node, valid[0])
	}
	s.Status = StatusWaitingInput
	s.PendingChoices = &PendingChoices{
		NodeID:    node.ID,
		Speaker:   d.Speaker,
		Text:      d.Text,
		Responses: valid,
	}
	s.log(LevelInfo, node.ID, fmt.Sprintf("dialogue %s waiting for a choice among %d responses", node.ID, len(valid)))
	return OutcomeWaitingInput
}

func (s *State) validResponses(nodeID ir.ID, responses []ir.Response) []ir.Response {
	var valid []ir.Response
	for _, r := range responses {
		cond, ok := s.responseCondition(nodeID, r)
		if !ok {
			continue
		}
		result, missing := EvaluateCondition(cond, s.Variables)
		if len(missing) > 0 {
			s.log(LevelWarning, nodeID, describeMissing(missing))
		}
		if result {
			valid = append(valid, r)
		}
	}
	return valid
}

// responseCondition returns the guard of r. A guard whose text does not
// parse hides the response.
func (s *State) responseCondition(nodeID ir.ID, r ir.Response) (ir.Condition, bool) {
	if r.Condition != nil {
		return *r.Condition, true
	}
	if r.ConditionText == "" {
		return ir.Condition{}, true
	}
	cond, err := lang.ParseCondition(r.ConditionText)
	if err != nil {
		s.log(LevelError, nodeID, fmt.Sprintf("response %s condition: %v; hidden", r.ID, err))
		return ir.Condition{}, false
	}
	return cond, true
}

// selectResponse applies the response's instruction and follows its pin.
func (s *State) selectResponse(g *ir.Graph, node ir.FlowNode, r ir.Response) Outcome {
	s.Status = StatusRunning
	s.PendingChoices = nil

	assignments := r.Instruction
	if len(assignments) == 0 && r.InstructionText != "" {
		parsed, err := lang.ParseAssignments(r.InstructionText)
		if err != nil {
			s.log(LevelError, node.ID, fmt.Sprintf("response %s instruction: %v; skipped", r.ID, err))
		}
		assignments = parsed
	}
	s.applyInstruction(node.ID, assignments)

	pin := string(r.ID)
	target, ok := g.Next(node.ID, pin)
	if !ok {
		target, ok = g.NextDefault(node.ID)
		pin = ir.PinDefault
	}
	return s.moveTo(node, target, ok, fmt.Sprintf("response %s (%s)", r.ID, pin))
}

func (s *State) stepExit(node ir.FlowNode, d ir.ExitData) (Outcome, ir.ID, *ir.Graph) {
	switch d.ExitMode {
	case ir.ExitFlowReference:
		if d.ReferencedFlowID.IsZero() {
			return s.finish(node.ID, fmt.Sprintf("exit %s references no flow; flow finished", node.ID)), "", nil
		}
		s.log(LevelInfo, node.ID, fmt.Sprintf("exit %s continues in flow %s", node.ID, d.ReferencedFlowID))
		return OutcomeFlowJump, d.ReferencedFlowID, nil

	case ir.ExitCallerReturn:
		if len(s.CallStack) == 0 {
			return s.finish(node.ID, fmt.Sprintf("exit %s: no caller to return to; flow finished", node.ID)), "", nil
		}
		frame := s.CallStack[len(s.CallStack)-1]
		s.CallStack = s.CallStack[:len(s.CallStack)-1]
		path := append([]ir.ID(nil), frame.ExecutionPath...)
		s.ExecutionPath = append(path, s.ExecutionPath...)
		if frame.ReturnNodeID.IsZero() {
			return s.finish(node.ID, fmt.Sprintf("exit %s returned to flow %s with nothing after the call; flow finished", node.ID, frame.FlowID)), "", nil
		}
		s.CurrentNodeID = frame.ReturnNodeID
		s.log(LevelInfo, node.ID, fmt.Sprintf("exit %s returns to flow %s at %s", node.ID, frame.FlowID, frame.ReturnNodeID))
		return OutcomeFlowReturn, frame.FlowID, frame.Graph
	}

	if d.TargetType != "" && !d.TargetID.IsZero() {
		s.ExitTransition = &ExitTransition{TargetType: d.TargetType, TargetID: d.TargetID, Label: d.Label}
	}
	return s.finish(node.ID, fmt.Sprintf("exit %s reached; flow finished", node.ID)), "", nil
}
