package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/storyflow/internal/ir"
)

// NewVariables builds the initial variable store from sheet declarations.
// Variables without a default start at the zero value of their block type.
func NewVariables(sheets []ir.Sheet) map[string]VariableSlot {
	vars := make(map[string]VariableSlot)
	for _, sheet := range sheets {
		for _, def := range sheet.Variables {
			v := def.Default
			if v == nil {
				v = zeroValue(def.BlockType)
			}
			slot := VariableSlot{
				Value:         v,
				InitialValue:  ir.CloneValue(v),
				PreviousValue: nil,
				Source:        SourceInitial,
				BlockType:     def.BlockType,
				SheetShortcut: sheet.Shortcut,
				VariableName:  def.Name,
				Constraints:   def.Constraints,
			}
			vars[slot.Ref().String()] = slot
		}
	}
	return vars
}

func zeroValue(t ir.BlockType) ir.Value {
	switch t {
	case ir.BlockNumber:
		return ir.Number(0)
	case ir.BlockBoolean:
		return ir.Bool(false)
	case ir.BlockText, ir.BlockRichText:
		return ir.String("")
	case ir.BlockMultiSelect:
		return ir.List{}
	default:
		return ir.Nil{}
	}
}

// lookup resolves a variable for reading. Missing variables read as nil.
func lookup(vars map[string]VariableSlot, ref ir.VariableRef) (ir.Value, bool) {
	slot, ok := vars[ref.String()]
	if !ok {
		return ir.Nil{}, false
	}
	if slot.Value == nil {
		return ir.Nil{}, true
	}
	return slot.Value, true
}

// applyAssignment performs one assignment against vars in place. A
// problem that prevents the write is returned as a warning and leaves the
// variable unchanged.
func applyAssignment(vars map[string]VariableSlot, a ir.Assignment) (warning string) {
	if !a.Complete() {
		return fmt.Sprintf("skipped incomplete assignment to %q", a.Target())
	}
	key := a.Target().String()
	slot, ok := vars[key]
	if !ok {
		return fmt.Sprintf("unknown variable %s", key)
	}

	var operand ir.Value
	if a.Operator.TakesValue() {
		if src, isRef := a.Source(); isRef {
			v, found := lookup(vars, src)
			if !found {
				return fmt.Sprintf("unknown variable %s", src)
			}
			operand = v
		} else {
			operand = a.Value
		}
	}

	var next ir.Value
	switch a.Operator {
	case ir.OpSet:
		next = coerce(slot.BlockType, operand)
	case ir.OpAdd, ir.OpSubtract:
		delta, ok := ir.AsNumber(operand)
		if !ok {
			return fmt.Sprintf("%s %s: %s is not a number", key, a.Operator, ir.Literal(operand))
		}
		cur, ok := ir.AsNumber(slot.Value)
		if !ok {
			if !ir.IsEmpty(slot.Value) {
				return fmt.Sprintf("%s %s: current value %s is not a number", key, a.Operator, ir.Literal(slot.Value))
			}
			cur = 0
		}
		if a.Operator == ir.OpSubtract {
			delta = -delta
		}
		next = ir.Number(cur + delta)
	case ir.OpSetIfUnset:
		if !ir.IsEmpty(slot.Value) {
			return ""
		}
		next = coerce(slot.BlockType, operand)
	case ir.OpSetTrue:
		next = ir.Bool(true)
	case ir.OpSetFalse:
		next = ir.Bool(false)
	case ir.OpToggle:
		next = ir.Bool(!ir.Truthy(slot.Value))
	case ir.OpClear:
		next = ir.Nil{}
	default:
		return fmt.Sprintf("unsupported operator %q", a.Operator)
	}

	next, warning = constrain(slot, next)
	if next == nil {
		return warning
	}
	slot.PreviousValue = slot.Value
	slot.Value = next
	slot.Source = SourceInstruction
	vars[key] = slot
	return warning
}

// coerce converts numeric text written to a number variable.
func coerce(t ir.BlockType, v ir.Value) ir.Value {
	if t == ir.BlockNumber {
		if s, ok := v.(ir.String); ok {
			if n, ok := ir.AsNumber(s); ok {
				return ir.Number(n)
			}
		}
	}
	return ir.CloneValue(v)
}

// constrain applies a slot's constraints to a candidate value. Numbers
// are clamped into [min, max]; a select value outside its options is
// rejected, reported by a nil result.
func constrain(slot VariableSlot, v ir.Value) (ir.Value, string) {
	c := slot.Constraints
	if c == nil {
		return v, ""
	}
	if n, ok := v.(ir.Number); ok {
		f := float64(n)
		switch {
		case c.Min != nil && f < *c.Min:
			return ir.Number(*c.Min), fmt.Sprintf("%s clamped to minimum %s", slot.Ref(), ir.FormatNumber(*c.Min))
		case c.Max != nil && f > *c.Max:
			return ir.Number(*c.Max), fmt.Sprintf("%s clamped to maximum %s", slot.Ref(), ir.FormatNumber(*c.Max))
		}
		return v, ""
	}
	if len(c.Options) == 0 {
		return v, ""
	}
	switch val := v.(type) {
	case ir.String:
		if !slices.Contains(c.Options, string(val)) {
			return nil, fmt.Sprintf("%s: %q is not one of the allowed options", slot.Ref(), string(val))
		}
	case ir.List:
		for _, elem := range val {
			if s, ok := elem.(ir.String); ok && !slices.Contains(c.Options, string(s)) {
				return nil, fmt.Sprintf("%s: %q is not one of the allowed options", slot.Ref(), string(s))
			}
		}
	}
	return v, ""
}

// applyInstruction applies assignments in order, logging skipped ones to
// the console.
func (s *State) applyInstruction(nodeID ir.ID, assignments []ir.Assignment) {
	for _, a := range assignments {
		if warning := applyAssignment(s.Variables, a); warning != "" {
			s.log(LevelWarning, nodeID, warning)
		}
	}
}
