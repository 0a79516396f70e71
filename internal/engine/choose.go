package engine

import (
	"fmt"

	"github.com/roach88/storyflow/internal/ir"
)

// Choose resolves a waiting dialogue with the response responseID.
//
// The state must be waiting for input and responseID must be one of the
// pending responses. Choosing counts as a step: the pre-choice state is
// snapshotted, the response instruction is applied and the state moves
// along the response pin. On a rejected choice the input state is
// returned unchanged together with the error.
func (e *Engine) Choose(s State, g *ir.Graph, responseID ir.ID) (State, error) {
	if s.Status != StatusWaitingInput || s.PendingChoices == nil {
		return s, &EvaluationError{
			Code:    ErrCodeNotWaiting,
			Message: fmt.Sprintf("cannot choose %q: session is %s", responseID, s.Status),
			NodeID:  s.CurrentNodeID,
		}
	}

	var (
		response ir.Response
		found    bool
	)
	for _, r := range s.PendingChoices.Responses {
		if r.ID == responseID {
			response, found = r, true
			break
		}
	}
	if !found {
		return s, &EvaluationError{
			Code:    ErrCodeInvalidChoice,
			Message: fmt.Sprintf("response %q is not available", responseID),
			NodeID:  s.PendingChoices.NodeID,
		}
	}

	node, ok := g.Node(s.PendingChoices.NodeID)
	if !ok {
		return s, NewMissingNodeError(s.PendingChoices.NodeID)
	}

	next := s.clone()
	next.Snapshots = append(next.Snapshots, s.snapshot())
	if e.snapshotLimit > 0 && len(next.Snapshots) > e.snapshotLimit {
		next.Snapshots = next.Snapshots[len(next.Snapshots)-e.snapshotLimit:]
	}
	next.StepCount++
	next.log(LevelInfo, node.ID, fmt.Sprintf("chose response %s", responseID))
	next.selectResponse(g, node, response)

	e.logger.Debug("choose",
		"step", next.StepCount,
		"node_id", node.ID,
		"response_id", responseID,
		"status", next.Status,
	)
	return next, nil
}

// Rewind restores the most recent snapshot. It reports false when there
// is nothing to rewind to.
func Rewind(s State) (State, bool) {
	if len(s.Snapshots) == 0 {
		return s, false
	}
	prev := s.Snapshots[len(s.Snapshots)-1].clone()
	prev.Snapshots = append([]State(nil), s.Snapshots[:len(s.Snapshots)-1]...)
	return prev, true
}

// SetVariable overrides a variable's value from outside the flow, as a
// debugger does. Constraints still apply.
func SetVariable(s State, ref string, v ir.Value) (State, error) {
	slot, ok := s.Variables[ref]
	if !ok {
		return s, &EvaluationError{
			Code:    ErrCodeUnknownVariable,
			Message: fmt.Sprintf("unknown variable %s", ref),
		}
	}

	next := s.clone()
	value, warning := constrain(slot, coerce(slot.BlockType, v))
	if warning != "" {
		next.log(LevelWarning, s.CurrentNodeID, warning)
	}
	if value == nil {
		return next, nil
	}
	slot.PreviousValue = slot.Value
	slot.Value = value
	slot.Source = SourceUserOverride
	next.Variables[ref] = slot
	next.log(LevelInfo, s.CurrentNodeID, fmt.Sprintf("%s set to %s", ref, ir.Literal(value)))
	return next, nil
}

// EnterSubflow moves s into the flow sub after the subflow node callID
// of caller returned flow_jump. The caller is saved on the call stack,
// resuming at the subflow node's successor.
func EnterSubflow(s State, caller *ir.Graph, callID ir.ID, sub *ir.Graph) (State, error) {
	entry, ok := sub.Entry()
	if !ok {
		return s, &EvaluationError{
			Code:    ErrCodeMissingNode,
			Message: fmt.Sprintf("flow %s has no entry node", sub.FlowID),
			FlowID:  sub.FlowID,
		}
	}

	next := s.clone()
	ret, _ := caller.NextDefault(callID)
	next.CallStack = append(next.CallStack, CallFrame{
		FlowID:        caller.FlowID,
		FlowName:      caller.FlowName,
		ReturnNodeID:  ret,
		ExecutionPath: next.ExecutionPath,
		Graph:         caller,
	})
	next.ExecutionPath = []ir.ID{}
	next.CurrentNodeID = entry.ID
	next.Status = StatusRunning
	next.log(LevelInfo, callID, fmt.Sprintf("entered flow %s", sub.FlowID))
	return next, nil
}

// ContinueIn moves s to the entry of target, replacing the current flow
// without touching the call stack.
func ContinueIn(s State, target *ir.Graph) (State, error) {
	entry, ok := target.Entry()
	if !ok {
		return s, &EvaluationError{
			Code:    ErrCodeMissingNode,
			Message: fmt.Sprintf("flow %s has no entry node", target.FlowID),
			FlowID:  target.FlowID,
		}
	}
	next := s.clone()
	next.CurrentNodeID = entry.ID
	next.Status = StatusRunning
	next.log(LevelInfo, s.CurrentNodeID, fmt.Sprintf("continuing in flow %s", target.FlowID))
	return next, nil
}
