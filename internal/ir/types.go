package ir

import (
	"encoding/json"
	"fmt"
)

// AssignOperator is the mutation an Assignment performs.
type AssignOperator string

const (
	OpSet        AssignOperator = "set"
	OpAdd        AssignOperator = "add"
	OpSubtract   AssignOperator = "subtract"
	OpSetIfUnset AssignOperator = "set_if_unset"
	OpSetTrue    AssignOperator = "set_true"
	OpSetFalse   AssignOperator = "set_false"
	OpToggle     AssignOperator = "toggle"
	OpClear      AssignOperator = "clear"
)

// TakesValue reports whether the operator carries a value operand.
func (op AssignOperator) TakesValue() bool {
	switch op {
	case OpSet, OpAdd, OpSubtract, OpSetIfUnset:
		return true
	default:
		return false
	}
}

// Valid reports whether op is a known assignment operator.
func (op AssignOperator) Valid() bool {
	switch op {
	case OpSet, OpAdd, OpSubtract, OpSetIfUnset, OpSetTrue, OpSetFalse, OpToggle, OpClear:
		return true
	default:
		return false
	}
}

// ValueType distinguishes literal operands from variable references.
type ValueType string

const (
	ValueLiteral     ValueType = "literal"
	ValueVariableRef ValueType = "variable_ref"
)

// Assignment is one statement of an instruction block.
// An assignment with an empty Sheet or Variable is incomplete and is never
// emitted as text or applied.
type Assignment struct {
	Sheet      string         `json:"sheet"`
	Variable   string         `json:"variable"`
	Operator   AssignOperator `json:"operator"`
	Value      Value          `json:"value,omitempty"`
	ValueType  ValueType      `json:"value_type,omitempty"`
	ValueSheet string         `json:"value_sheet,omitempty"`
}

// Target returns the assigned variable reference.
func (a Assignment) Target() VariableRef {
	return VariableRef{Sheet: a.Sheet, Variable: a.Variable}
}

// Source returns the referenced variable when ValueType is variable_ref.
func (a Assignment) Source() (VariableRef, bool) {
	if a.ValueType != ValueVariableRef {
		return VariableRef{}, false
	}
	name, _ := a.Value.(String)
	ref := VariableRef{Sheet: a.ValueSheet, Variable: string(name)}
	return ref, ref.Complete()
}

// Complete reports whether the assignment can be serialized or applied.
func (a Assignment) Complete() bool {
	if a.Sheet == "" || a.Variable == "" || !a.Operator.Valid() {
		return false
	}
	if a.Operator.TakesValue() {
		if a.ValueType == ValueVariableRef {
			_, ok := a.Source()
			return ok
		}
		return a.Value != nil
	}
	return true
}

// UnmarshalJSON implements json.Unmarshaler for Assignment.
func (a *Assignment) UnmarshalJSON(data []byte) error {
	type plain Assignment
	var raw struct {
		plain
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := decodeOptionalValue(raw.Value)
	if err != nil {
		return fmt.Errorf("assignment value: %w", err)
	}
	*a = Assignment(raw.plain)
	a.Value = v
	return nil
}

// Logic combines the members of a condition.
type Logic string

const (
	LogicAll Logic = "all"
	LogicAny Logic = "any"
)

// RuleOperator is the test a Rule applies to its variable.
type RuleOperator string

const (
	OpEquals             RuleOperator = "equals"
	OpNotEquals          RuleOperator = "not_equals"
	OpGreaterThan        RuleOperator = "greater_than"
	OpLessThan           RuleOperator = "less_than"
	OpGreaterThanOrEqual RuleOperator = "greater_than_or_equal"
	OpLessThanOrEqual    RuleOperator = "less_than_or_equal"
	OpIsTrue             RuleOperator = "is_true"
	OpIsFalse            RuleOperator = "is_false"
	OpIsNil              RuleOperator = "is_nil"
	OpIsNotNil           RuleOperator = "is_not_nil"
	OpIsEmpty            RuleOperator = "is_empty"
	OpIsNotEmpty         RuleOperator = "is_not_empty"
	OpContains           RuleOperator = "contains"
	OpNotContains        RuleOperator = "not_contains"
	OpStartsWith         RuleOperator = "starts_with"
	OpEndsWith           RuleOperator = "ends_with"

	// Complements of the ordering and affix tests. Each holds exactly when
	// its positive form does not, including for nil or mismatched operands
	// where the positive form never holds.
	OpNotGreaterThan        RuleOperator = "not_greater_than"
	OpNotLessThan           RuleOperator = "not_less_than"
	OpNotGreaterThanOrEqual RuleOperator = "not_greater_than_or_equal"
	OpNotLessThanOrEqual    RuleOperator = "not_less_than_or_equal"
	OpNotStartsWith         RuleOperator = "not_starts_with"
	OpNotEndsWith           RuleOperator = "not_ends_with"
)

// TakesValue reports whether the operator compares against an operand.
func (op RuleOperator) TakesValue() bool {
	switch op {
	case OpIsTrue, OpIsFalse, OpIsNil, OpIsNotNil, OpIsEmpty, OpIsNotEmpty:
		return false
	default:
		return true
	}
}

// Valid reports whether op is a known rule operator.
func (op RuleOperator) Valid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpGreaterThanOrEqual,
		OpLessThanOrEqual, OpIsTrue, OpIsFalse, OpIsNil, OpIsNotNil, OpIsEmpty,
		OpIsNotEmpty, OpContains, OpNotContains, OpStartsWith, OpEndsWith:
		return true
	default:
		_, ok := complements[op]
		return ok
	}
}

var complements = map[RuleOperator]RuleOperator{
	OpNotGreaterThan:        OpGreaterThan,
	OpNotLessThan:           OpLessThan,
	OpNotGreaterThanOrEqual: OpGreaterThanOrEqual,
	OpNotLessThanOrEqual:    OpLessThanOrEqual,
	OpNotStartsWith:         OpStartsWith,
	OpNotEndsWith:           OpEndsWith,
}

// Complement returns the positive operator whose outcome op inverts, and
// false when op is not a complement operator.
func (op RuleOperator) Complement() (RuleOperator, bool) {
	base, ok := complements[op]
	return base, ok
}

// Negate returns the operator testing the opposite outcome.
func (op RuleOperator) Negate() (RuleOperator, bool) {
	if base, ok := complements[op]; ok {
		return base, true
	}
	for neg, base := range complements {
		if base == op {
			return neg, true
		}
	}
	switch op {
	case OpEquals:
		return OpNotEquals, true
	case OpNotEquals:
		return OpEquals, true
	case OpIsTrue:
		return OpIsFalse, true
	case OpIsFalse:
		return OpIsTrue, true
	case OpIsNil:
		return OpIsNotNil, true
	case OpIsNotNil:
		return OpIsNil, true
	case OpIsEmpty:
		return OpIsNotEmpty, true
	case OpIsNotEmpty:
		return OpIsEmpty, true
	case OpContains:
		return OpNotContains, true
	case OpNotContains:
		return OpContains, true
	default:
		return op, false
	}
}

// Rule is a single test against one variable. Label names the outgoing pin
// when the owning condition node runs in switch mode.
type Rule struct {
	Sheet      string       `json:"sheet"`
	Variable   string       `json:"variable"`
	Operator   RuleOperator `json:"operator"`
	Value      Value        `json:"value,omitempty"`
	ValueType  ValueType    `json:"value_type,omitempty"`
	ValueSheet string       `json:"value_sheet,omitempty"`
	Label      string       `json:"label,omitempty"`
}

// Target returns the tested variable reference.
func (r Rule) Target() VariableRef {
	return VariableRef{Sheet: r.Sheet, Variable: r.Variable}
}

// Source returns the compared variable when ValueType is variable_ref.
func (r Rule) Source() (VariableRef, bool) {
	if r.ValueType != ValueVariableRef {
		return VariableRef{}, false
	}
	name, _ := r.Value.(String)
	ref := VariableRef{Sheet: r.ValueSheet, Variable: string(name)}
	return ref, ref.Complete()
}

// Complete reports whether the rule can be serialized or evaluated.
func (r Rule) Complete() bool {
	if r.Sheet == "" || r.Variable == "" || !r.Operator.Valid() {
		return false
	}
	if !r.Operator.TakesValue() {
		return true
	}
	if r.ValueType == ValueVariableRef {
		_, ok := r.Source()
		return ok
	}
	return r.Value != nil
}

// UnmarshalJSON implements json.Unmarshaler for Rule.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	var raw struct {
		plain
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := decodeOptionalValue(raw.Value)
	if err != nil {
		return fmt.Errorf("rule value: %w", err)
	}
	*r = Rule(raw.plain)
	r.Value = v
	return nil
}

// BlockKind distinguishes flat blocks from nested groups.
type BlockKind string

const (
	KindBlock BlockKind = "block"
	KindGroup BlockKind = "group"
)

// Block is a member of a nested condition: either a flat block of rules
// or a group of further blocks, each with its own logic.
type Block struct {
	ID     string    `json:"id,omitempty"`
	Type   BlockKind `json:"type"`
	Logic  Logic     `json:"logic"`
	Rules  []Rule    `json:"rules,omitempty"`
	Blocks []Block   `json:"blocks,omitempty"`
}

// Condition is a boolean test over variables, in flat form (Rules) or
// nested form (Blocks). An empty condition is satisfied.
type Condition struct {
	Logic  Logic   `json:"logic"`
	Rules  []Rule  `json:"rules,omitempty"`
	Blocks []Block `json:"blocks,omitempty"`
}

// Nested reports whether the condition uses the block/group form.
func (c Condition) Nested() bool {
	return len(c.Blocks) > 0
}

// IsEmpty reports whether the condition has no members.
func (c Condition) IsEmpty() bool {
	return len(c.Rules) == 0 && len(c.Blocks) == 0
}

// WalkRules calls fn for every rule in declaration order, descending into
// blocks and groups.
func (c Condition) WalkRules(fn func(Rule)) {
	for _, r := range c.Rules {
		fn(r)
	}
	walkBlockRules(c.Blocks, fn)
}

func walkBlockRules(blocks []Block, fn func(Rule)) {
	for _, b := range blocks {
		for _, r := range b.Rules {
			fn(r)
		}
		walkBlockRules(b.Blocks, fn)
	}
}
