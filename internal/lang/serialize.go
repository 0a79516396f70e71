package lang

import (
	"strings"

	"github.com/roach88/storyflow/internal/ir"
)

var assignTokens = map[ir.AssignOperator]string{
	ir.OpSet:        "=",
	ir.OpAdd:        "+=",
	ir.OpSubtract:   "-=",
	ir.OpSetIfUnset: "?=",
}

// SerializeAssignments renders assignments as source text, one statement
// per line. Incomplete assignments are skipped.
func SerializeAssignments(assignments []ir.Assignment) string {
	lines := make([]string, 0, len(assignments))
	for _, a := range assignments {
		if line, ok := serializeAssignment(a); ok {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func serializeAssignment(a ir.Assignment) (string, bool) {
	if !a.Complete() {
		return "", false
	}
	target := a.Target().String()
	switch a.Operator {
	case ir.OpSetTrue:
		return target + " = true", true
	case ir.OpSetFalse:
		return target + " = false", true
	case ir.OpToggle:
		return "toggle " + target, true
	case ir.OpClear:
		return "clear " + target, true
	}

	tok, ok := assignTokens[a.Operator]
	if !ok {
		return "", false
	}
	numeric := a.Operator == ir.OpAdd || a.Operator == ir.OpSubtract
	return target + " " + tok + " " + operandText(a.ValueType, a.ValueSheet, a.Value, numeric), true
}

// operandText renders a rule or assignment operand. With numeric set, a
// string holding a number prints bare so that "10" compares as 10.
func operandText(vt ir.ValueType, valueSheet string, v ir.Value, numeric bool) string {
	if vt == ir.ValueVariableRef {
		name, _ := v.(ir.String)
		return ir.Ref(valueSheet, string(name)).String()
	}
	if s, ok := v.(ir.String); ok && numeric {
		if n, ok := ir.AsNumber(s); ok {
			return ir.FormatNumber(n)
		}
	}
	return ir.Literal(v)
}

var logicTokens = map[ir.Logic]string{
	ir.LogicAll: " && ",
	ir.LogicAny: " || ",
}

func joinLogic(l ir.Logic, parts []string) string {
	sep, ok := logicTokens[l]
	if !ok {
		sep = logicTokens[ir.LogicAll]
	}
	return strings.Join(parts, sep)
}

// SerializeCondition renders a condition as an expression. Blocks and
// groups are parenthesized only when they hold more than one member and
// sit beside siblings. Incomplete rules are skipped.
func SerializeCondition(c ir.Condition) string {
	var parts []string
	for _, r := range c.Rules {
		if s, ok := serializeRule(r); ok {
			parts = append(parts, s)
		}
	}
	members := len(parts) + len(c.Blocks)
	for _, b := range c.Blocks {
		if s, ok := serializeBlock(b, members > 1); ok {
			parts = append(parts, s)
		}
	}
	return joinLogic(c.Logic, parts)
}

func serializeBlock(b ir.Block, hasSiblings bool) (string, bool) {
	var parts []string
	for _, r := range b.Rules {
		if s, ok := serializeRule(r); ok {
			parts = append(parts, s)
		}
	}
	members := len(parts) + len(b.Blocks)
	for _, child := range b.Blocks {
		if s, ok := serializeBlock(child, members > 1); ok {
			parts = append(parts, s)
		}
	}
	switch len(parts) {
	case 0:
		return "", false
	case 1:
		return parts[0], true
	}
	s := joinLogic(b.Logic, parts)
	if hasSiblings {
		s = "(" + s + ")"
	}
	return s, true
}

var ruleTokens = map[ir.RuleOperator]string{
	ir.OpEquals:             "==",
	ir.OpNotEquals:          "!=",
	ir.OpGreaterThan:        ">",
	ir.OpLessThan:           "<",
	ir.OpGreaterThanOrEqual: ">=",
	ir.OpLessThanOrEqual:    "<=",
}

var ruleCalls = map[ir.RuleOperator]string{
	ir.OpContains:    "contains",
	ir.OpNotContains: "!contains",
	ir.OpStartsWith:  "starts_with",
	ir.OpEndsWith:    "ends_with",
}

func serializeRule(r ir.Rule) (string, bool) {
	if !r.Complete() {
		return "", false
	}
	if base, ok := r.Operator.Complement(); ok {
		pos := r
		pos.Operator = base
		s, ok := serializeRule(pos)
		if !ok {
			return "", false
		}
		if _, call := ruleCalls[base]; call {
			return "!" + s, true
		}
		return "!(" + s + ")", true
	}

	ref := r.Target().String()
	switch r.Operator {
	case ir.OpIsTrue:
		return ref, true
	case ir.OpIsFalse:
		return "!" + ref, true
	case ir.OpIsNil:
		return ref + " == nil", true
	case ir.OpIsNotNil:
		return ref + " != nil", true
	case ir.OpIsEmpty:
		return ref + ` == ""`, true
	case ir.OpIsNotEmpty:
		return ref + ` != ""`, true
	}

	if tok, ok := ruleTokens[r.Operator]; ok {
		ordering := r.Operator != ir.OpEquals && r.Operator != ir.OpNotEquals
		return ref + " " + tok + " " + operandText(r.ValueType, r.ValueSheet, r.Value, ordering), true
	}
	if name, ok := ruleCalls[r.Operator]; ok {
		return name + "(" + ref + ", " + operandText(r.ValueType, r.ValueSheet, r.Value, false) + ")", true
	}
	return "", false
}
