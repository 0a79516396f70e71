package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/storyflow/internal/engine"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/lang"
	"github.com/roach88/storyflow/internal/store"
	"github.com/roach88/storyflow/internal/syntax"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s/%s %s -> %s", event.Step, event.FlowID, event.NodeID, event.NodeType, event.Outcome)
			if event.ResponseID != "" {
				fmt.Fprintf(&buf, " (chose %s)", event.ResponseID)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// AssertionContext carries what assertions need beyond the result.
type AssertionContext struct {
	Ctx   context.Context
	Store *store.Store
	State engine.State
}

// EvaluateAssertions checks every assertion and returns the failure
// messages, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertStatus:
		return assertStatus(result, a)
	case AssertAtNode:
		return assertAtNode(result, a)
	case AssertVariable:
		return assertVariable(result, a)
	case AssertCondition:
		return assertCondition(actx.State, a)
	case AssertRecorded:
		return assertRecorded(actx.Ctx, actx.Store, result, a)
	case AssertVisited:
		return assertVisited(result, a)
	case AssertVisitOrder:
		return assertVisitOrder(result, a)
	case AssertVisitCount:
		return assertVisitCount(result, a)
	case AssertConsoleContains:
		return assertConsoleContains(result, a)
	case AssertErrorCode:
		return assertErrorCode(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertStatus(result *Result, a Assertion) error {
	if result.Status == a.Status {
		return nil
	}
	return &AssertionError{
		Type:     AssertStatus,
		Expected: a.Status,
		Actual:   fmt.Sprintf("%s at %s", result.Status, result.NodeID),
		Trace:    result.Trace,
	}
}

func assertAtNode(result *Result, a Assertion) error {
	if result.NodeID == ir.ID(a.Node) {
		return nil
	}
	return &AssertionError{
		Type:     AssertAtNode,
		Expected: fmt.Sprintf("session stopped at %s", a.Node),
		Actual:   fmt.Sprintf("session stopped at %s", result.NodeID),
		Trace:    result.Trace,
	}
}

// assertVariable compares with the engine's equality, so a number
// matches numeric text.
func assertVariable(result *Result, a Assertion) error {
	want, err := ir.FromGo(a.Equals)
	if err != nil {
		return fmt.Errorf("variable %s: %w", a.Ref, err)
	}
	got, ok := result.Variables[a.Ref]
	if !ok {
		return &AssertionError{
			Type:     AssertVariable,
			Expected: fmt.Sprintf("%s = %s", a.Ref, ir.Literal(want)),
			Actual:   fmt.Sprintf("%s is not declared", a.Ref),
		}
	}
	if ir.Equal(got, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertVariable,
		Expected: fmt.Sprintf("%s = %s", a.Ref, ir.Literal(want)),
		Actual:   fmt.Sprintf("%s = %s", a.Ref, ir.Literal(got)),
	}
}

// assertCondition evaluates condition text against the final variables.
// Unknown variables fail the assertion rather than reading as nil.
func assertCondition(state engine.State, a Assertion) error {
	cond, err := lang.ParseCondition(a.Expr)
	if err != nil {
		return fmt.Errorf("condition %q: %w", a.Expr, err)
	}
	ok, missing := engine.EvaluateCondition(cond, state.Variables)
	if len(missing) > 0 {
		return &AssertionError{
			Type:     AssertCondition,
			Expected: a.Expr,
			Actual:   "unknown variables " + strings.Join(missing, ", "),
		}
	}
	if ok {
		return nil
	}
	return &AssertionError{
		Type:     AssertCondition,
		Expected: a.Expr,
		Actual:   "condition does not hold: " + describeValues(state, lang.References(syntax.ModeExpression, a.Expr)),
	}
}

// assertRecorded checks that searching the store for the condition
// finds this session. Only ended sessions are searchable.
func assertRecorded(ctx context.Context, st *store.Store, result *Result, a Assertion) error {
	cond, err := lang.ParseCondition(a.Expr)
	if err != nil {
		return fmt.Errorf("condition %q: %w", a.Expr, err)
	}
	rows, err := st.FindSessions(ctx, cond)
	if err != nil {
		return fmt.Errorf("search sessions: %w", err)
	}
	for _, row := range rows {
		if row.ID == result.SessionID {
			return nil
		}
	}
	actual := "session not found"
	if result.Status != string(engine.StatusFinished) && result.Status != string(engine.StatusError) {
		actual = fmt.Sprintf("session is %s and has no recorded outcome", result.Status)
	}
	return &AssertionError{
		Type:     AssertRecorded,
		Expected: fmt.Sprintf("session %s found by %s", result.SessionID, a.Expr),
		Actual:   actual,
	}
}

// assertVisited checks that every node appears in the path.
func assertVisited(result *Result, a Assertion) error {
	path := result.Path()
	for _, node := range a.Nodes {
		if !slices.Contains(path, ir.ID(node)) {
			return &AssertionError{
				Type:     AssertVisited,
				Expected: fmt.Sprintf("nodes visited: %v", a.Nodes),
				Actual:   fmt.Sprintf("missing node: %s", node),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

// assertVisitOrder checks that the nodes' first visits occur in the
// given order. Nodes don't need to be consecutive.
func assertVisitOrder(result *Result, a Assertion) error {
	positions := make(map[string]int)
	for i, id := range result.Path() {
		if _, seen := positions[string(id)]; !seen {
			positions[string(id)] = i + 1 // 1-indexed for readability
		}
	}

	for _, node := range a.Nodes {
		if positions[node] == 0 {
			return &AssertionError{
				Type:     AssertVisitOrder,
				Expected: fmt.Sprintf("all nodes present: %v", a.Nodes),
				Actual:   fmt.Sprintf("missing node: %s", node),
				Trace:    result.Trace,
			}
		}
	}

	for i := 1; i < len(a.Nodes); i++ {
		prev, curr := a.Nodes[i-1], a.Nodes[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertVisitOrder,
				Expected: fmt.Sprintf("nodes in order: %v", a.Nodes),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: result.Trace,
			}
		}
	}
	return nil
}

// assertVisitCount checks that the node was visited exactly Count times.
func assertVisitCount(result *Result, a Assertion) error {
	count := 0
	for _, id := range result.Path() {
		if id == ir.ID(a.Node) {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertVisitCount,
		Expected: fmt.Sprintf("%d visits of %s", a.Count, a.Node),
		Actual:   fmt.Sprintf("%d visits", count),
		Trace:    result.Trace,
	}
}

func assertConsoleContains(result *Result, a Assertion) error {
	for _, line := range result.Console {
		if strings.Contains(line, a.Text) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertConsoleContains,
		Expected: fmt.Sprintf("console line containing %q", a.Text),
		Actual:   fmt.Sprintf("%d lines, none matching", len(result.Console)),
	}
}

func assertErrorCode(result *Result, a Assertion) error {
	if result.ErrorCode == a.Code {
		return nil
	}
	actual := result.ErrorCode
	if actual == "" {
		actual = "no error (status " + result.Status + ")"
	}
	return &AssertionError{
		Type:     AssertErrorCode,
		Expected: a.Code,
		Actual:   actual,
		Trace:    result.Trace,
	}
}

// describeValues renders the current values of refs for failure messages.
func describeValues(state engine.State, refs []ir.VariableRef) string {
	parts := make([]string, 0, len(refs))
	seen := make(map[string]bool)
	for _, ref := range refs {
		key := ref.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		v, _ := state.Value(key)
		if v == nil {
			v = ir.Nil{}
		}
		parts = append(parts, key+" = "+ir.Literal(v))
	}
	return strings.Join(parts, ", ")
}
