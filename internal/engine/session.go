package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/storyflow/internal/ir"
)

// FlowSource resolves flow ids referenced by subflow and exit nodes.
// *ir.Project implements it.
type FlowSource interface {
	Flow(id ir.ID) (*ir.Flow, bool)
}

// Recorder persists session traces. *store.Store implements it.
type Recorder interface {
	StartSession(ctx context.Context, rec ir.SessionRecord) error
	RecordStep(ctx context.Context, rec ir.StepRecord) error
	FinishSession(ctx context.Context, out ir.SessionOutcome) error
}

// Session is one play-through of a project. It owns a State and the
// graph of the active flow, and resolves the flow_jump and flow_return
// outcomes the driver stops on, so callers only ever see dialogue choices
// and the end of the story.
//
// A Session is not safe for concurrent use.
type Session struct {
	id      string
	project string
	engine  *Engine
	flows   FlowSource
	graph   *ir.Graph
	state   State

	// graphs[i] is the graph that was active when state.Snapshots[i] was taken.
	graphs []*ir.Graph

	recorder  Recorder
	clock     *Clock
	finished  int // step count of the last recorded finish, -1 if none
	logger    *slog.Logger
	generator IDGenerator
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRecorder records every step through r, stamped with seq numbers
// from clock. A nil clock starts a fresh one.
func WithRecorder(r Recorder, clock *Clock) SessionOption {
	return func(s *Session) {
		s.recorder = r
		s.clock = clock
	}
}

// WithIDGenerator sets the session ID generator.
//
// Default: UUIDv7Generator
func WithIDGenerator(g IDGenerator) SessionOption {
	return func(s *Session) {
		if g != nil {
			s.generator = g
		}
	}
}

// WithProjectName labels recorded sessions.
func WithProjectName(name string) SessionOption {
	return func(s *Session) {
		s.project = name
	}
}

// NewSession starts a session at the entry node of flow flowID with the
// given variables.
func NewSession(ctx context.Context, e *Engine, flows FlowSource, flowID ir.ID, vars map[string]VariableSlot, opts ...SessionOption) (*Session, error) {
	s := &Session{
		engine:    e,
		flows:     flows,
		finished:  -1,
		logger:    e.logger,
		generator: UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.recorder != nil && s.clock == nil {
		s.clock = NewClock()
	}

	flow, ok := flows.Flow(flowID)
	if !ok {
		return nil, NewFlowNotFoundError(flowID, "")
	}
	s.graph = flow.Graph()
	entry, ok := s.graph.Entry()
	if !ok {
		return nil, &EvaluationError{
			Code:    ErrCodeMissingNode,
			Message: "flow has no entry node",
			FlowID:  flowID,
		}
	}
	s.state = NewState(vars, entry.ID)
	s.id = s.generator.Generate()

	if s.recorder != nil {
		err := s.recorder.StartSession(ctx, ir.SessionRecord{
			ID:            s.id,
			ProjectName:   s.project,
			FlowID:        flowID,
			Seq:           s.clock.Next(),
			EngineVersion: ir.EngineVersion,
			IRVersion:     ir.IRVersion,
		})
		if err != nil {
			return nil, fmt.Errorf("start session: %w", err)
		}
	}
	s.logger.Debug("session started", "session_id", s.id, "flow_id", flowID, "entry", entry.ID)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return s.state }

// Graph returns the graph of the active flow.
func (s *Session) Graph() *ir.Graph { return s.graph }

// Advance runs the session until the player must choose or the story
// ends. Subflow calls, flow references and returns to a caller are
// followed transparently; the nodes skipped across all flows are
// reported together. The step budget covers the whole call.
//
// The returned error reports recording failures only; evaluation errors
// are reported through the result's status.
func (s *Session) Advance(ctx context.Context) (DriveResult, error) {
	var recordErr error
	observe := OnStep(func(before, after State, res StepResult) {
		s.trackGraph(before, after)
		if err := s.recordStep(ctx, res, after, ""); err != nil && recordErr == nil {
			recordErr = err
		}
	})

	skipped := []SkippedNode{}
	start := s.state.StepCount
	for {
		remaining := s.engine.maxSteps - (s.state.StepCount - start)
		if remaining <= 0 && !s.state.Settled() {
			err := NewStepBudgetError(s.state.CurrentNodeID, s.engine.maxSteps)
			s.state.fail(err)
			res := DriveResult{Status: OutcomeError, State: s.state, Skipped: skipped, NodeID: s.state.CurrentNodeID, Err: err}
			return res, errors.Join(recordErr, s.recordFinish(ctx))
		}

		res := s.engine.StepUntilInteractive(s.state, s.graph, observe, WithStepLimit(remaining))
		skipped = append(skipped, res.Skipped...)
		s.state = res.State

		switch res.Status {
		case OutcomeFlowJump:
			s.follow(res)
			continue
		case OutcomeFlowReturn:
			if res.Graph != nil {
				s.graph = res.Graph
			}
			continue
		}

		res.Skipped = skipped
		res.State = s.state
		return res, errors.Join(recordErr, s.recordFinish(ctx))
	}
}

// Settle advances until the session waits for a choice, finishes or
// fails. Advance returns after a dialogue that picked its only valid
// response; Settle keeps going. The step budget covers the whole call.
func (s *Session) Settle(ctx context.Context) (DriveResult, error) {
	start := s.state.StepCount
	skipped := []SkippedNode{}
	for {
		res, err := s.Advance(ctx)
		skipped = append(skipped, res.Skipped...)
		res.Skipped = skipped
		if err != nil || s.state.Settled() {
			return res, err
		}
		if s.state.StepCount-start >= s.engine.maxSteps {
			budgetErr := NewStepBudgetError(s.state.CurrentNodeID, s.engine.maxSteps)
			s.state.fail(budgetErr)
			res.Status = OutcomeError
			res.State = s.state
			res.Err = budgetErr
			return res, s.recordFinish(ctx)
		}
	}
}

// follow moves the session into the flow named by a flow_jump result.
// Failures leave the state in error.
func (s *Session) follow(res DriveResult) {
	flow, ok := s.flows.Flow(res.FlowID)
	if !ok {
		s.state.fail(NewFlowNotFoundError(res.FlowID, res.NodeID))
		return
	}
	target := flow.Graph()

	var (
		next State
		err  error
	)
	if res.NodeType == ir.NodeSubflow {
		next, err = EnterSubflow(s.state, s.graph, res.NodeID, target)
	} else {
		next, err = ContinueIn(s.state, target)
	}
	if err != nil {
		var ee *EvaluationError
		if errors.As(err, &ee) {
			ee.NodeID = res.NodeID
			s.state.fail(ee)
		}
		return
	}
	s.logger.Debug("flow jump", "session_id", s.id, "from", s.graph.FlowID, "to", target.FlowID, "node_id", res.NodeID)
	s.state = next
	s.graph = target
}

// Choose picks a response at the pending dialogue and settles.
func (s *Session) Choose(ctx context.Context, responseID ir.ID) (DriveResult, error) {
	before := s.state
	next, err := s.engine.Choose(s.state, s.graph, responseID)
	if err != nil {
		return DriveResult{}, err
	}
	s.trackGraph(before, next)
	s.state = next
	if err := s.recordStep(ctx, StepResult{
		Outcome:  outcomeOf(next.Status),
		NodeID:   before.PendingChoices.NodeID,
		NodeType: ir.NodeDialogue,
	}, next, responseID); err != nil {
		return DriveResult{}, err
	}
	return s.Settle(ctx)
}

// Rewind undoes the last step, restoring the flow that was active when
// it was taken. It reports false when there is nothing to undo.
func (s *Session) Rewind() bool {
	prev, ok := Rewind(s.state)
	if !ok {
		return false
	}
	if n := len(s.graphs); n > 0 {
		s.graph = s.graphs[n-1]
		s.graphs = s.graphs[:n-1]
	}
	s.state = prev
	return true
}

// SetVariable overrides a variable, as a debugger does.
func (s *Session) SetVariable(ref string, v ir.Value) error {
	next, err := SetVariable(s.state, ref, v)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

// trackGraph keeps graphs parallel to the state's snapshots.
func (s *Session) trackGraph(before, after State) {
	if after.StepCount == before.StepCount {
		return
	}
	s.graphs = append(s.graphs, s.graph)
	if extra := len(s.graphs) - len(after.Snapshots); extra > 0 {
		s.graphs = s.graphs[extra:]
	}
}

func (s *Session) recordStep(ctx context.Context, res StepResult, after State, responseID ir.ID) error {
	if s.recorder == nil {
		return nil
	}
	digest, err := ir.VariablesDigest(after.Values())
	if err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	err = s.recorder.RecordStep(ctx, ir.StepRecord{
		SessionID:       s.id,
		Seq:             s.clock.Next(),
		Step:            after.StepCount,
		FlowID:          s.graph.FlowID,
		NodeID:          res.NodeID,
		NodeType:        res.NodeType,
		Outcome:         string(res.Outcome),
		VariablesDigest: digest,
		ResponseID:      responseID,
	})
	if err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	return nil
}

// recordFinish stores the outcome once the session has ended.
func (s *Session) recordFinish(ctx context.Context) error {
	if s.recorder == nil {
		return nil
	}
	if s.state.Status != StatusFinished && s.state.Status != StatusError {
		return nil
	}
	if s.finished == s.state.StepCount {
		return nil
	}
	s.finished = s.state.StepCount

	out := ir.SessionOutcome{
		SessionID: s.id,
		Seq:       s.clock.Next(),
		Status:    string(s.state.Status),
		NodeID:    s.state.CurrentNodeID,
		StepCount: s.state.StepCount,
		Variables: s.state.Values(),
		Console:   make([]ir.ConsoleLine, 0, len(s.state.Console)),
	}
	if s.state.Error != nil {
		out.ErrorCode = string(s.state.Error.Code)
	}
	for _, entry := range s.state.Console {
		out.Console = append(out.Console, ir.ConsoleLine{
			Step:    entry.Step,
			NodeID:  entry.NodeID,
			Level:   string(entry.Level),
			Message: entry.Message,
		})
	}
	if err := s.recorder.FinishSession(ctx, out); err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	return nil
}
