package engine

import (
	"maps"
	"slices"

	"github.com/roach88/storyflow/internal/ir"
)

// Status is the lifecycle state of a play session.
type Status string

const (
	StatusRunning      Status = "running"
	StatusWaitingInput Status = "waiting_input"
	StatusFinished     Status = "finished"
	StatusError        Status = "error"
)

// Outcome is the result of a single step.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeWaitingInput Outcome = "waiting_input"
	OutcomeFinished     Outcome = "finished"
	OutcomeError        Outcome = "error"
	OutcomeFlowJump     Outcome = "flow_jump"
	OutcomeFlowReturn   Outcome = "flow_return"
)

// outcomeOf maps a settled status to the outcome reported for it.
func outcomeOf(s Status) Outcome {
	switch s {
	case StatusWaitingInput:
		return OutcomeWaitingInput
	case StatusFinished:
		return OutcomeFinished
	case StatusError:
		return OutcomeError
	default:
		return OutcomeOK
	}
}

// VariableSource records who last wrote a variable.
type VariableSource string

const (
	SourceInitial      VariableSource = "initial"
	SourceInstruction  VariableSource = "instruction"
	SourceUserOverride VariableSource = "user_override"
)

// VariableSlot is the runtime cell of one sheet variable.
type VariableSlot struct {
	Value         ir.Value        `json:"value"`
	InitialValue  ir.Value        `json:"initial_value"`
	PreviousValue ir.Value        `json:"previous_value"`
	Source        VariableSource  `json:"source"`
	BlockType     ir.BlockType    `json:"block_type,omitempty"`
	SheetShortcut string          `json:"sheet_shortcut"`
	VariableName  string          `json:"variable_name"`
	Constraints   *ir.Constraints `json:"constraints,omitempty"`
}

// Ref returns the slot's variable reference.
func (v VariableSlot) Ref() ir.VariableRef {
	return ir.Ref(v.SheetShortcut, v.VariableName)
}

// CallFrame is the caller context saved when entering a subflow.
// Graph holds the caller's nodes and connections.
type CallFrame struct {
	FlowID        ir.ID     `json:"flow_id"`
	FlowName      string    `json:"flow_name"`
	ReturnNodeID  ir.ID     `json:"return_node_id"`
	ExecutionPath []ir.ID   `json:"execution_path"`
	Graph         *ir.Graph `json:"-"`
}

// PendingChoices lists the responses a player may pick at a dialogue.
type PendingChoices struct {
	NodeID    ir.ID         `json:"node_id"`
	Speaker   string        `json:"speaker,omitempty"`
	Text      string        `json:"text"`
	Responses []ir.Response `json:"responses"`
}

// LogLevel grades console entries.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// LogEntry is one line of the session console.
type LogEntry struct {
	Step    int      `json:"step"`
	NodeID  ir.ID    `json:"node_id,omitempty"`
	Level   LogLevel `json:"level"`
	Message string   `json:"message"`
}

// ExitTransition is the narrative target recorded by a terminal exit.
type ExitTransition struct {
	TargetType string `json:"target_type"`
	TargetID   ir.ID  `json:"target_id"`
	Label      string `json:"label,omitempty"`
}

// State is the complete state of a play session. States are values:
// Step and the other transitions return a new State and never modify
// their input.
type State struct {
	Status         Status                  `json:"status"`
	CurrentNodeID  ir.ID                   `json:"current_node_id"`
	Variables      map[string]VariableSlot `json:"variables"`
	CallStack      []CallFrame             `json:"call_stack"`
	PendingChoices *PendingChoices         `json:"pending_choices,omitempty"`
	Console        []LogEntry              `json:"console"`
	Snapshots      []State                 `json:"-"`
	ExecutionPath  []ir.ID                 `json:"execution_path"`
	StepCount      int                     `json:"step_count"`
	ExitTransition *ExitTransition         `json:"exit_transition,omitempty"`
	Error          *EvaluationError        `json:"error,omitempty"`
}

// NewState creates a running state positioned at startNodeID.
func NewState(variables map[string]VariableSlot, startNodeID ir.ID) State {
	if variables == nil {
		variables = map[string]VariableSlot{}
	}
	return State{
		Status:        StatusRunning,
		CurrentNodeID: startNodeID,
		Variables:     maps.Clone(variables),
		Console:       []LogEntry{},
		ExecutionPath: []ir.ID{},
	}
}

// clone returns a copy sharing no mutable storage with s. Snapshots are
// immutable once taken, so only the outer slice is copied.
func (s State) clone() State {
	out := s
	out.Variables = make(map[string]VariableSlot, len(s.Variables))
	for k, v := range s.Variables {
		v.Value = ir.CloneValue(v.Value)
		out.Variables[k] = v
	}
	out.CallStack = slices.Clone(s.CallStack)
	out.Console = slices.Clone(s.Console)
	out.Snapshots = slices.Clone(s.Snapshots)
	out.ExecutionPath = slices.Clone(s.ExecutionPath)
	if s.PendingChoices != nil {
		pc := *s.PendingChoices
		out.PendingChoices = &pc
	}
	if s.ExitTransition != nil {
		et := *s.ExitTransition
		out.ExitTransition = &et
	}
	return out
}

// snapshot returns the copy pushed onto Snapshots before a step. It
// carries no snapshots of its own.
func (s State) snapshot() State {
	snap := s.clone()
	snap.Snapshots = nil
	return snap
}

func (s *State) log(level LogLevel, nodeID ir.ID, msg string) {
	s.Console = append(s.Console, LogEntry{Step: s.StepCount, NodeID: nodeID, Level: level, Message: msg})
}

// Values returns the current value of every variable keyed by dotted
// reference.
func (s State) Values() map[string]ir.Value {
	out := make(map[string]ir.Value, len(s.Variables))
	for k, v := range s.Variables {
		if v.Value == nil {
			out[k] = ir.Nil{}
			continue
		}
		out[k] = v.Value
	}
	return out
}

// Value returns the current value of a variable.
func (s State) Value(ref string) (ir.Value, bool) {
	slot, ok := s.Variables[ref]
	if !ok {
		return nil, false
	}
	return slot.Value, true
}

// Settled reports whether the state needs outside action (a choice, a
// restart) before it can advance.
func (s State) Settled() bool {
	return s.Status != StatusRunning
}
