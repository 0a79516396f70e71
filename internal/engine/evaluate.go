package engine

import (
	"fmt"
	"strings"

	"github.com/roach88/storyflow/internal/ir"
)

// EvaluateCondition tests c against vars. An empty condition is
// satisfied. Rules naming unknown variables read them as nil; each such
// reference is reported in missing.
func EvaluateCondition(c ir.Condition, vars map[string]VariableSlot) (ok bool, missing []string) {
	ev := evaluator{vars: vars}
	return ev.condition(c), ev.missing
}

// EvaluateRule tests a single rule against vars.
func EvaluateRule(r ir.Rule, vars map[string]VariableSlot) (ok bool, missing []string) {
	ev := evaluator{vars: vars}
	return ev.rule(r), ev.missing
}

type evaluator struct {
	vars    map[string]VariableSlot
	missing []string
}

func (ev *evaluator) read(ref ir.VariableRef) ir.Value {
	v, ok := lookup(ev.vars, ref)
	if !ok {
		ev.missing = append(ev.missing, ref.String())
	}
	return v
}

func (ev *evaluator) condition(c ir.Condition) bool {
	if c.IsEmpty() {
		return true
	}
	results := make([]bool, 0, len(c.Rules)+len(c.Blocks))
	for _, r := range c.Rules {
		results = append(results, ev.rule(r))
	}
	for _, b := range c.Blocks {
		results = append(results, ev.block(b))
	}
	return combine(c.Logic, results)
}

func (ev *evaluator) block(b ir.Block) bool {
	return ev.condition(ir.Condition{Logic: b.Logic, Rules: b.Rules, Blocks: b.Blocks})
}

// combine folds results by logic; "any" is true when one result is, and
// anything else (including an unset logic) requires all of them.
func combine(logic ir.Logic, results []bool) bool {
	if logic == ir.LogicAny {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

// rule evaluates a single rule. Incomplete rules are false.
func (ev *evaluator) rule(r ir.Rule) bool {
	if !r.Complete() {
		return false
	}
	lhs := ev.read(r.Target())

	var rhs ir.Value
	if r.Operator.TakesValue() {
		if src, ok := r.Source(); ok {
			rhs = ev.read(src)
		} else {
			rhs = r.Value
		}
	}

	return test(r.Operator, lhs, rhs)
}

func test(op ir.RuleOperator, lhs, rhs ir.Value) bool {
	if base, ok := op.Complement(); ok {
		return !test(base, lhs, rhs)
	}
	switch op {
	case ir.OpEquals:
		return ir.Equal(lhs, rhs)
	case ir.OpNotEquals:
		return !ir.Equal(lhs, rhs)
	case ir.OpGreaterThan:
		return compare(lhs, rhs, func(c int) bool { return c > 0 })
	case ir.OpLessThan:
		return compare(lhs, rhs, func(c int) bool { return c < 0 })
	case ir.OpGreaterThanOrEqual:
		return compare(lhs, rhs, func(c int) bool { return c >= 0 })
	case ir.OpLessThanOrEqual:
		return compare(lhs, rhs, func(c int) bool { return c <= 0 })
	case ir.OpIsTrue:
		return ir.Truthy(lhs)
	case ir.OpIsFalse:
		return !ir.Truthy(lhs)
	case ir.OpIsNil:
		return ir.IsNil(lhs)
	case ir.OpIsNotNil:
		return !ir.IsNil(lhs)
	case ir.OpIsEmpty:
		return ir.IsEmpty(lhs)
	case ir.OpIsNotEmpty:
		return !ir.IsEmpty(lhs)
	case ir.OpContains:
		return contains(lhs, rhs)
	case ir.OpNotContains:
		return !contains(lhs, rhs)
	case ir.OpStartsWith:
		return !ir.IsNil(lhs) && strings.HasPrefix(ir.AsText(lhs), ir.AsText(rhs))
	case ir.OpEndsWith:
		return !ir.IsNil(lhs) && strings.HasSuffix(ir.AsText(lhs), ir.AsText(rhs))
	default:
		return false
	}
}

// compare orders two values numerically when both coerce to numbers and
// lexically when both are strings. Other combinations never satisfy an
// ordering rule.
func compare(a, b ir.Value, pred func(int) bool) bool {
	if x, ok := ir.AsNumber(a); ok {
		if y, ok := ir.AsNumber(b); ok {
			switch {
			case x < y:
				return pred(-1)
			case x > y:
				return pred(1)
			default:
				return pred(0)
			}
		}
	}
	as, aok := a.(ir.String)
	bs, bok := b.(ir.String)
	if aok && bok {
		return pred(strings.Compare(string(as), string(bs)))
	}
	return false
}

// contains tests list membership for multi-value variables and substring
// containment otherwise.
func contains(haystack, needle ir.Value) bool {
	switch h := haystack.(type) {
	case nil, ir.Nil:
		return false
	case ir.List:
		for _, elem := range h {
			if ir.Equal(elem, needle) {
				return true
			}
		}
		return false
	default:
		return strings.Contains(ir.AsText(h), ir.AsText(needle))
	}
}

func describeMissing(missing []string) string {
	if len(missing) == 1 {
		return fmt.Sprintf("unknown variable %s read as nil", missing[0])
	}
	return fmt.Sprintf("unknown variables %s read as nil", strings.Join(missing, ", "))
}
