package engine

import (
	"github.com/roach88/storyflow/internal/ir"
)

// SkippedNode is a node the driver stepped through without stopping.
type SkippedNode struct {
	NodeID   ir.ID       `json:"node_id"`
	NodeType ir.NodeType `json:"node_type"`
}

// DriveResult is the outcome of StepUntilInteractive.
type DriveResult struct {
	// Status is the outcome of the last step taken, or the outcome
	// implied by the input status when no step was taken.
	Status Outcome

	State State

	// Skipped lists the non-interactive nodes passed through, in order.
	// It is never nil.
	Skipped []SkippedNode

	// NodeID and NodeType identify the node of the final step.
	NodeID   ir.ID
	NodeType ir.NodeType

	// FlowID is the target flow of a flow_jump or the caller of a
	// flow_return.
	FlowID ir.ID

	// Graph is the caller's graph for a flow_return.
	Graph *ir.Graph

	// Err is set when Status is error.
	Err *EvaluationError
}

// StepObserver is notified after every step the driver takes.
type StepObserver func(before State, after State, res StepResult)

type driveConfig struct {
	observers []StepObserver
	maxSteps  int
}

// DriveOption configures a single StepUntilInteractive call.
type DriveOption func(*driveConfig)

// OnStep registers an observer called after every step.
func OnStep(fn StepObserver) DriveOption {
	return func(c *driveConfig) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

// WithStepLimit overrides the engine's step budget for one call.
func WithStepLimit(n int) DriveOption {
	return func(c *driveConfig) {
		c.maxSteps = n
	}
}

// autoAdvance lists the node types the driver passes through.
var autoAdvance = map[ir.NodeType]bool{
	ir.NodeEntry:       true,
	ir.NodeHub:         true,
	ir.NodeScene:       true,
	ir.NodeCondition:   true,
	ir.NodeInstruction: true,
	ir.NodeJump:        true,
}

// StepUntilInteractive steps s until the flow needs outside action: a
// pending choice, the end of the flow, an error, a subflow call or a
// return to the caller.
//
// A state that is already finished, waiting or failed is returned
// unchanged with no skipped nodes. Steps that pass through a
// non-interactive node are recorded in Skipped; any other step ends the
// drive with its outcome. When the step budget runs out the returned
// state has status error with code STEP_BUDGET_EXHAUSTED.
func (e *Engine) StepUntilInteractive(s State, g *ir.Graph, opts ...DriveOption) DriveResult {
	var cfg driveConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	skipped := []SkippedNode{}
	if s.Settled() {
		return DriveResult{
			Status:  outcomeOf(s.Status),
			State:   s,
			Skipped: skipped,
			NodeID:  s.CurrentNodeID,
			Err:     s.Error,
		}
	}

	limit := e.maxSteps
	if cfg.maxSteps > 0 {
		limit = cfg.maxSteps
	}
	budget := NewStepBudget(limit)
	cur := s
	for budget.Spend() {
		next, res := e.Step(cur, g)
		for _, obs := range cfg.observers {
			obs(cur, next, res)
		}
		cur = next

		if res.Outcome == OutcomeOK && autoAdvance[res.NodeType] {
			skipped = append(skipped, SkippedNode{NodeID: res.NodeID, NodeType: res.NodeType})
			continue
		}
		return DriveResult{
			Status:   res.Outcome,
			State:    cur,
			Skipped:  skipped,
			NodeID:   res.NodeID,
			NodeType: res.NodeType,
			FlowID:   res.TargetFlowID,
			Graph:    res.ReturnGraph,
			Err:      res.Err,
		}
	}

	err := budget.Exhausted(cur.CurrentNodeID)
	cur.fail(err)
	e.logger.Warn("step budget exhausted",
		"node_id", cur.CurrentNodeID,
		"max_steps", budget.MaxSteps(),
	)
	return DriveResult{
		Status:  OutcomeError,
		State:   cur,
		Skipped: skipped,
		NodeID:  cur.CurrentNodeID,
		Err:     err,
	}
}
