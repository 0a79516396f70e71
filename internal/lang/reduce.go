package lang

import (
	"fmt"
	"strconv"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/syntax"
)

// ReduceAssignments converts an assignment-mode tree into assignments.
// Error nodes and statements that do not name a complete variable are
// skipped.
func ReduceAssignments(tree *syntax.Tree) []ir.Assignment {
	if tree == nil || tree.Root == nil {
		return nil
	}
	var out []ir.Assignment
	for _, stmt := range tree.Root.Children {
		if a, ok := reduceStatement(stmt); ok {
			out = append(out, a)
		}
	}
	return out
}

func reduceStatement(n *syntax.Node) (ir.Assignment, bool) {
	switch n.Kind {
	case syntax.ToggleStmt, syntax.ClearStmt:
		target, ok := refOf(n.Children[0])
		if !ok {
			return ir.Assignment{}, false
		}
		op := ir.OpToggle
		if n.Kind == syntax.ClearStmt {
			op = ir.OpClear
		}
		return ir.Assignment{Sheet: target.Sheet, Variable: target.Variable, Operator: op}, true

	case syntax.AssignStmt:
		target, ok := refOf(n.Children[0])
		if !ok {
			return ir.Assignment{}, false
		}
		a := ir.Assignment{Sheet: target.Sheet, Variable: target.Variable}
		rhs := n.Children[1]

		switch n.Op {
		case syntax.Assign:
			a.Operator = ir.OpSet
			if rhs.Kind == syntax.BoolLit {
				a.Operator = ir.OpSetFalse
				if rhs.Value == "true" {
					a.Operator = ir.OpSetTrue
				}
				return a, true
			}
		case syntax.PlusAssign:
			a.Operator = ir.OpAdd
		case syntax.MinusAssign:
			a.Operator = ir.OpSubtract
		case syntax.QuestionAssign:
			a.Operator = ir.OpSetIfUnset
		default:
			return ir.Assignment{}, false
		}

		if rhs.Kind == syntax.VarRef {
			src, ok := refOf(rhs)
			if !ok {
				return ir.Assignment{}, false
			}
			a.ValueType = ir.ValueVariableRef
			a.ValueSheet = src.Sheet
			a.Value = ir.String(src.Variable)
			return a, true
		}
		v, ok := literalOf(rhs)
		if !ok {
			return ir.Assignment{}, false
		}
		a.ValueType = ir.ValueLiteral
		a.Value = v
		return a, true
	}
	return ir.Assignment{}, false
}

func refOf(n *syntax.Node) (ir.VariableRef, bool) {
	if n == nil || n.Kind != syntax.VarRef {
		return ir.VariableRef{}, false
	}
	ref, err := ir.ParseRef(n.Value)
	if err != nil {
		return ir.VariableRef{}, false
	}
	return ref, true
}

func literalOf(n *syntax.Node) (ir.Value, bool) {
	switch n.Kind {
	case syntax.NumberLit:
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return nil, false
		}
		return ir.Number(f), true
	case syntax.StringLit:
		return ir.String(n.Value), true
	case syntax.BoolLit:
		return ir.Bool(n.Value == "true"), true
	case syntax.NilLit:
		return ir.Nil{}, true
	default:
		return nil, false
	}
}

// ReduceCondition converts an expression-mode tree into a condition.
//
// A chain of one logical operator without parentheses reduces to the flat
// form; anything else reduces to blocks and groups mirroring the
// expression's grouping. Negation is pushed down to the rules, so
// !(a.b && c.d) becomes !a.b || !c.d and !(a.b > 1) becomes the
// not_greater_than complement. Sub-expressions with no structured
// equivalent are dropped; Lint and ParseCondition report them as errors.
func ReduceCondition(tree *syntax.Tree) ir.Condition {
	c, _ := reduceCondition(tree)
	return c
}

// dropped is a sub-expression the reducer could not turn into rules,
// spanning source bytes [from, to).
type dropped struct {
	from, to int
	reason   string
}

func reduceCondition(tree *syntax.Tree) (ir.Condition, []dropped) {
	if tree == nil || tree.Root == nil || len(tree.Root.Children) == 0 {
		return ir.Condition{Logic: ir.LogicAll}, nil
	}
	var cr condReducer
	t, ok := cr.expr(tree.Root.Children[0], false)
	if !ok {
		return ir.Condition{Logic: ir.LogicAll}, cr.drops
	}
	return t.condition(), cr.drops
}

type condReducer struct {
	drops []dropped
}

// drop records n as unusable. Subtrees holding a syntax error are
// already reported by the parser and are skipped silently.
func (cr *condReducer) drop(n *syntax.Node, format string, args ...any) (term, bool) {
	return cr.dropSpan(n, n.From, n.To, format, args...)
}

func (cr *condReducer) dropSpan(n *syntax.Node, from, to int, format string, args ...any) (term, bool) {
	if !hasErrorNode(n) {
		cr.drops = append(cr.drops, dropped{from: from, to: to, reason: fmt.Sprintf(format, args...)})
	}
	return term{}, false
}

func hasErrorNode(n *syntax.Node) bool {
	found := false
	n.Walk(func(c *syntax.Node) bool {
		if c.Kind == syntax.ErrorNode {
			found = true
		}
		return !found
	})
	return found
}

// term is an intermediate condition tree: a rule leaf or a group.
type term struct {
	rule  *ir.Rule
	logic ir.Logic
	parts []term
	paren bool
}

func (t term) leaf() bool { return t.rule != nil }

func (t term) flat() bool {
	for _, p := range t.parts {
		if !p.leaf() {
			return false
		}
	}
	return true
}

func (t term) rules() []ir.Rule {
	out := make([]ir.Rule, 0, len(t.parts))
	for _, p := range t.parts {
		out = append(out, *p.rule)
	}
	return out
}

func (t term) condition() ir.Condition {
	if t.leaf() {
		return ir.Condition{Logic: ir.LogicAll, Rules: []ir.Rule{*t.rule}}
	}
	if t.flat() {
		return ir.Condition{Logic: t.logic, Rules: t.rules()}
	}
	ids := 0
	return ir.Condition{Logic: t.logic, Blocks: t.blocks(&ids)}
}

func (t term) blocks(ids *int) []ir.Block {
	out := make([]ir.Block, 0, len(t.parts))
	for _, p := range t.parts {
		*ids++
		id := fmt.Sprintf("b%d", *ids)
		switch {
		case p.leaf():
			out = append(out, ir.Block{ID: id, Type: ir.KindBlock, Logic: ir.LogicAll, Rules: []ir.Rule{*p.rule}})
		case p.flat():
			out = append(out, ir.Block{ID: id, Type: ir.KindBlock, Logic: p.logic, Rules: p.rules()})
		default:
			out = append(out, ir.Block{ID: id, Type: ir.KindGroup, Logic: p.logic, Blocks: p.blocks(ids)})
		}
	}
	return out
}

func (cr *condReducer) expr(n *syntax.Node, negate bool) (term, bool) {
	switch n.Kind {
	case syntax.VarRef:
		ref, ok := refOf(n)
		if !ok {
			return cr.drop(n, "Invalid variable reference: %s", n.Value)
		}
		op := ir.OpIsTrue
		if negate {
			op = ir.OpIsFalse
		}
		return ruleTerm(ir.Rule{Sheet: ref.Sheet, Variable: ref.Variable, Operator: op}), true

	case syntax.NotExpr:
		return cr.expr(n.Children[0], !negate)

	case syntax.ParenExpr:
		t, ok := cr.expr(n.Children[0], negate)
		if ok && !t.leaf() {
			t.paren = true
		}
		return t, ok

	case syntax.BinaryExpr:
		logic := ir.LogicAll
		if n.Op == syntax.OrOr {
			logic = ir.LogicAny
		}
		if negate {
			logic = flipLogic(logic)
		}
		g := term{logic: logic}
		for _, c := range n.Children {
			t, ok := cr.expr(c, negate)
			if !ok {
				continue
			}
			if !t.leaf() && !t.paren && t.logic == logic {
				g.parts = append(g.parts, t.parts...)
				continue
			}
			g.parts = append(g.parts, t)
		}
		switch len(g.parts) {
		case 0:
			return term{}, false
		case 1:
			return g.parts[0], true
		}
		return g, true

	case syntax.Comparison:
		return cr.comparison(n, negate)

	case syntax.CallExpr:
		return cr.call(n, negate)

	case syntax.NumberLit, syntax.StringLit, syntax.BoolLit, syntax.NilLit:
		return cr.drop(n, "A literal is not a condition")
	}
	return cr.drop(n, "Unsupported expression")
}

func ruleTerm(r ir.Rule) term {
	return term{rule: &r}
}

func flipLogic(l ir.Logic) ir.Logic {
	if l == ir.LogicAll {
		return ir.LogicAny
	}
	return ir.LogicAll
}

var comparisonOps = map[syntax.TokenKind]ir.RuleOperator{
	syntax.Eq:    ir.OpEquals,
	syntax.NotEq: ir.OpNotEquals,
	syntax.Gt:    ir.OpGreaterThan,
	syntax.Lt:    ir.OpLessThan,
	syntax.Ge:    ir.OpGreaterThanOrEqual,
	syntax.Le:    ir.OpLessThanOrEqual,
}

// mirrored maps an operator to its form with swapped operands.
var mirrored = map[ir.RuleOperator]ir.RuleOperator{
	ir.OpGreaterThan:        ir.OpLessThan,
	ir.OpLessThan:           ir.OpGreaterThan,
	ir.OpGreaterThanOrEqual: ir.OpLessThanOrEqual,
	ir.OpLessThanOrEqual:    ir.OpGreaterThanOrEqual,
}

func isOperand(n *syntax.Node) bool {
	switch n.Kind {
	case syntax.VarRef, syntax.NumberLit, syntax.StringLit, syntax.BoolLit, syntax.NilLit:
		return true
	}
	return false
}

func (cr *condReducer) comparison(n *syntax.Node, negate bool) (term, bool) {
	lhs, rhs := n.Children[0], n.Children[1]
	op, ok := comparisonOps[n.Op]
	if !ok {
		return cr.drop(n, "Unsupported comparison operator")
	}
	if !isOperand(lhs) || !isOperand(rhs) {
		return cr.drop(n, "Comparison operands must be variables or literals")
	}
	if lhs.Kind != syntax.VarRef && rhs.Kind == syntax.VarRef {
		// 5 < a.b reads as a.b > 5
		lhs, rhs = rhs, lhs
		if m, ok := mirrored[op]; ok {
			op = m
		}
	}
	if lhs.Kind != syntax.VarRef {
		return cr.drop(n, "Comparison needs a variable on one side")
	}
	target, ok := refOf(lhs)
	if !ok {
		return cr.drop(lhs, "Invalid variable reference: %s", lhs.Value)
	}
	r := ir.Rule{Sheet: target.Sheet, Variable: target.Variable, Operator: op}

	switch {
	case rhs.Kind == syntax.VarRef:
		src, ok := refOf(rhs)
		if !ok {
			return cr.drop(rhs, "Invalid variable reference: %s", rhs.Value)
		}
		r.ValueType = ir.ValueVariableRef
		r.ValueSheet = src.Sheet
		r.Value = ir.String(src.Variable)
	case rhs.Kind == syntax.NilLit && (op == ir.OpEquals || op == ir.OpNotEquals):
		r.Operator = ir.OpIsNil
		if op == ir.OpNotEquals {
			r.Operator = ir.OpIsNotNil
		}
	case rhs.Kind == syntax.StringLit && rhs.Value == "" && (op == ir.OpEquals || op == ir.OpNotEquals):
		r.Operator = ir.OpIsEmpty
		if op == ir.OpNotEquals {
			r.Operator = ir.OpIsNotEmpty
		}
	default:
		v, ok := literalOf(rhs)
		if !ok {
			return cr.drop(rhs, "Invalid literal")
		}
		r.ValueType = ir.ValueLiteral
		r.Value = v
	}

	return cr.negated(n, r, negate)
}

func (cr *condReducer) negated(n *syntax.Node, r ir.Rule, negate bool) (term, bool) {
	if negate {
		neg, ok := r.Operator.Negate()
		if !ok {
			return cr.drop(n, "Cannot negate %s", r.Operator)
		}
		r.Operator = neg
	}
	return ruleTerm(r), true
}

// textPredicates maps call names to rule operators.
var textPredicates = map[string]ir.RuleOperator{
	"contains":    ir.OpContains,
	"starts_with": ir.OpStartsWith,
	"ends_with":   ir.OpEndsWith,
}

func (cr *condReducer) call(n *syntax.Node, negate bool) (term, bool) {
	op, ok := textPredicates[n.Value]
	if !ok {
		return cr.dropSpan(n, n.From, n.From+len(n.Value), "Unknown function: %s", n.Value)
	}
	if len(n.Children) != 2 {
		return cr.drop(n, "%s takes 2 arguments, got %d", n.Value, len(n.Children))
	}
	target, ok := refOf(n.Children[0])
	if !ok {
		return cr.drop(n.Children[0], "%s needs a variable as its first argument", n.Value)
	}
	r := ir.Rule{Sheet: target.Sheet, Variable: target.Variable, Operator: op}
	if arg := n.Children[1]; arg.Kind == syntax.VarRef {
		src, ok := refOf(arg)
		if !ok {
			return cr.drop(arg, "Invalid variable reference: %s", arg.Value)
		}
		r.ValueType = ir.ValueVariableRef
		r.ValueSheet = src.Sheet
		r.Value = ir.String(src.Variable)
	} else {
		v, ok := literalOf(arg)
		if !ok {
			return cr.drop(arg, "%s needs a variable or literal as its second argument", n.Value)
		}
		r.ValueType = ir.ValueLiteral
		r.Value = v
	}
	return cr.negated(n, r, negate)
}
