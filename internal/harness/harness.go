package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/storyflow/internal/compiler"
	"github.com/roach88/storyflow/internal/engine"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/store"
)

// Harness plays one scenario against a fresh in-memory store with a
// deterministic clock and session id.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	clock   *engine.Clock
	project *ir.Project
	logger  *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Load and validate the project
//  2. Start a session on the scenario's flow and apply variable overrides
//  3. Settle, then make each scripted choice, checking expectations
//  4. Read the recorded trace back from the store
//  5. Evaluate assertions
//
// The returned error reports problems running the scenario at all (an
// unreadable or invalid project, a store failure). Failed expectations
// and assertions are reported through Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	project, err := compiler.LoadProject(ctx, scenario.Project)
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if errs := compiler.Validate(project); compiler.HasErrors(errs) {
		for _, e := range errs {
			if e.Severity == compiler.SeverityError {
				return nil, fmt.Errorf("project %s is invalid: %w", scenario.Project, e)
			}
		}
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	h := &Harness{
		store:   st,
		engine:  engine.New(engine.WithMaxSteps(scenario.MaxSteps), engine.WithLogger(logger)),
		clock:   engine.NewClock(),
		project: project,
		logger:  logger,
	}
	return h.play(ctx, scenario)
}

func (h *Harness) play(ctx context.Context, scenario *Scenario) (*Result, error) {
	flowID := ir.ID(scenario.Flow)
	if flowID.IsZero() {
		if len(h.project.Flows) == 0 {
			return nil, fmt.Errorf("project %s has no flows", scenario.Project)
		}
		flowID = h.project.Flows[0].ID
	}

	sess, err := engine.NewSession(ctx, h.engine, h.project, flowID, engine.NewVariables(h.project.Sheets),
		engine.WithRecorder(h.store, h.clock),
		engine.WithIDGenerator(engine.NewFixedGenerator(scenario.sessionID())),
		engine.WithProjectName(h.project.Name),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	result := NewResult()
	result.SessionID = sess.ID()

	if err := applyOverrides(sess, scenario.Variables); err != nil {
		return nil, err
	}

	if _, err := sess.Settle(ctx); err != nil {
		return nil, fmt.Errorf("failed to settle: %w", err)
	}
	for i, step := range scenario.Choices {
		if !h.choose(ctx, sess, i, step, result) {
			break
		}
	}

	if err := h.collect(ctx, sess, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Ctx: ctx, Store: h.store, State: sess.State()}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// applyOverrides sets the scenario's variables in reference order.
func applyOverrides(sess *engine.Session, vars map[string]any) error {
	for _, ref := range ir.SortedKeys(vars) {
		v, err := ir.FromGo(vars[ref])
		if err != nil {
			return fmt.Errorf("variables[%s]: %w", ref, err)
		}
		if err := sess.SetVariable(ref, v); err != nil {
			return fmt.Errorf("variables[%s]: %w", ref, err)
		}
	}
	return nil
}

// choose makes one scripted choice. It reports false when the script
// cannot continue.
func (h *Harness) choose(ctx context.Context, sess *engine.Session, index int, step ChoiceStep, result *Result) bool {
	state := sess.State()
	if state.Status != engine.StatusWaitingInput || state.PendingChoices == nil {
		result.AddError(fmt.Sprintf("choices[%d]: cannot choose %q: session is %s at %s",
			index, step.Choose, state.Status, state.CurrentNodeID))
		return false
	}

	if step.Offered != nil {
		offered := make([]string, len(state.PendingChoices.Responses))
		for i, r := range state.PendingChoices.Responses {
			offered[i] = string(r.ID)
		}
		if !slices.Equal(offered, step.Offered) {
			result.AddError(fmt.Sprintf("choices[%d]: expected offered [%s], got [%s]",
				index, strings.Join(step.Offered, ", "), strings.Join(offered, ", ")))
		}
	}

	h.logger.Debug("choose", "index", index, "response_id", step.Choose, "node_id", state.CurrentNodeID)
	res, err := sess.Choose(ctx, ir.ID(step.Choose))
	if err != nil {
		result.AddError(fmt.Sprintf("choices[%d]: %v", index, err))
		return false
	}

	if step.Expect != nil {
		if string(res.State.Status) != step.Expect.Status {
			result.AddError(fmt.Sprintf("choices[%d]: expected status %s, got %s",
				index, step.Expect.Status, res.State.Status))
		}
		if step.Expect.Node != "" && res.State.CurrentNodeID != ir.ID(step.Expect.Node) {
			result.AddError(fmt.Sprintf("choices[%d]: expected node %s, got %s",
				index, step.Expect.Node, res.State.CurrentNodeID))
		}
	}
	return true
}

// collect copies the final session state and stored trace into result.
func (h *Harness) collect(ctx context.Context, sess *engine.Session, result *Result) error {
	state := sess.State()
	result.Status = string(state.Status)
	result.NodeID = state.CurrentNodeID
	result.FlowID = sess.Graph().FlowID
	result.Variables = state.Values()
	if state.Error != nil {
		result.ErrorCode = string(state.Error.Code)
	}
	for _, line := range state.Console {
		result.Console = append(result.Console, line.Message)
	}

	steps, err := h.store.ReadSteps(ctx, sess.ID())
	if err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}
	result.Trace = traceOf(steps)
	return nil
}
