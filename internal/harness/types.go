package harness

import (
	"github.com/roach88/storyflow/internal/ir"
)

// TraceEvent is one recorded engine step.
type TraceEvent struct {
	Seq        int64       `json:"seq"`
	Step       int         `json:"step"`
	FlowID     ir.ID       `json:"flow_id"`
	NodeID     ir.ID       `json:"node_id"`
	NodeType   ir.NodeType `json:"node_type,omitempty"`
	Outcome    string      `json:"outcome"`
	ResponseID ir.ID       `json:"response_id,omitempty"`
}

// traceOf converts stored step records into trace events.
func traceOf(steps []ir.StepRecord) []TraceEvent {
	trace := make([]TraceEvent, len(steps))
	for i, st := range steps {
		trace[i] = TraceEvent{
			Seq:        st.Seq,
			Step:       st.Step,
			FlowID:     st.FlowID,
			NodeID:     st.NodeID,
			NodeType:   st.NodeType,
			Outcome:    st.Outcome,
			ResponseID: st.ResponseID,
		}
	}
	return trace
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every choice was accepted and every assertion held.
	Pass bool `json:"pass"`

	SessionID string `json:"session_id"`

	// Status and NodeID are where the session stopped.
	Status string `json:"status"`
	NodeID ir.ID  `json:"node_id"`
	FlowID ir.ID  `json:"flow_id"`

	// ErrorCode is set when the session ended in error.
	ErrorCode string `json:"error_code,omitempty"`

	// Trace contains every recorded step in seq order.
	Trace []TraceEvent `json:"trace"`

	// Variables holds the final value of every variable.
	Variables map[string]ir.Value `json:"variables"`

	// Console holds the session console messages.
	Console []string `json:"console"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Variables: map[string]ir.Value{},
		Console:   []string{},
		Errors:    []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Path returns the visited node ids in trace order. Resolving a choice
// is not a visit: the dialogue was already entered when it offered it.
func (r *Result) Path() []ir.ID {
	path := make([]ir.ID, 0, len(r.Trace))
	for _, ev := range r.Trace {
		if ev.ResponseID != "" {
			continue
		}
		path = append(path, ev.NodeID)
	}
	return path
}
