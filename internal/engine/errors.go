package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/storyflow/internal/ir"
)

// EvaluationError represents an error detected while executing a flow.
//
// Evaluation errors are terminal for the session: the state that carries
// one has status "error", and its console and execution path remain
// available for inspection. They are returned by the transition
// functions and also stored on State.Error.
type EvaluationError struct {
	// Code identifies the error category.
	Code ErrorCode `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// NodeID identifies the node being processed, when there is one.
	NodeID ir.ID `json:"node_id,omitempty"`

	// FlowID identifies the flow involved (FLOW_NOT_FOUND).
	FlowID ir.ID `json:"flow_id,omitempty"`
}

// ErrorCode categorizes evaluation errors.
type ErrorCode string

const (
	// ErrCodeMissingNode indicates the current node id is not in the graph.
	ErrCodeMissingNode ErrorCode = "MISSING_NODE"

	// ErrCodeStepBudget indicates the driver hit its step limit before
	// reaching an interactive node.
	ErrCodeStepBudget ErrorCode = "STEP_BUDGET_EXHAUSTED"

	// ErrCodeUnknownNodeType indicates a node whose type has no handler.
	ErrCodeUnknownNodeType ErrorCode = "UNKNOWN_NODE_TYPE"

	// ErrCodeFlowNotFound indicates a subflow or exit referencing a flow
	// the session cannot load.
	ErrCodeFlowNotFound ErrorCode = "FLOW_NOT_FOUND"

	// ErrCodeInvalidChoice indicates a response id that is not pending.
	ErrCodeInvalidChoice ErrorCode = "INVALID_CHOICE"

	// ErrCodeNotWaiting indicates a choice made while no choice is pending.
	ErrCodeNotWaiting ErrorCode = "NOT_WAITING"

	// ErrCodeUnknownVariable indicates an override of an undeclared variable.
	ErrCodeUnknownVariable ErrorCode = "UNKNOWN_VARIABLE"
)

// Error implements the error interface.
func (e *EvaluationError) Error() string {
	switch {
	case e.FlowID != "" && e.NodeID != "":
		return fmt.Sprintf("%s: %s (flow=%s, node=%s)", e.Code, e.Message, e.FlowID, e.NodeID)
	case e.NodeID != "":
		return fmt.Sprintf("%s: %s (node=%s)", e.Code, e.Message, e.NodeID)
	case e.FlowID != "":
		return fmt.Sprintf("%s: %s (flow=%s)", e.Code, e.Message, e.FlowID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// HasCode reports whether err is an EvaluationError with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code ErrorCode) bool {
	var ee *EvaluationError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// IsStepBudgetError returns true if the error is a step budget error.
func IsStepBudgetError(err error) bool {
	return HasCode(err, ErrCodeStepBudget)
}

// IsMissingNodeError returns true if the error is a missing node error.
func IsMissingNodeError(err error) bool {
	return HasCode(err, ErrCodeMissingNode)
}

// NewMissingNodeError creates an EvaluationError for a dangling node id.
func NewMissingNodeError(nodeID ir.ID) *EvaluationError {
	return &EvaluationError{
		Code:    ErrCodeMissingNode,
		Message: "current node not found in flow",
		NodeID:  nodeID,
	}
}

// NewStepBudgetError creates an EvaluationError for an exhausted driver.
func NewStepBudgetError(nodeID ir.ID, maxSteps int) *EvaluationError {
	return &EvaluationError{
		Code:    ErrCodeStepBudget,
		Message: fmt.Sprintf("no interactive node reached within %d steps", maxSteps),
		NodeID:  nodeID,
	}
}

// NewFlowNotFoundError creates an EvaluationError for an unknown flow.
func NewFlowNotFoundError(flowID, nodeID ir.ID) *EvaluationError {
	return &EvaluationError{
		Code:    ErrCodeFlowNotFound,
		Message: "referenced flow not found",
		FlowID:  flowID,
		NodeID:  nodeID,
	}
}
