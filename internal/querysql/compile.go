// Package querysql compiles storyflow conditions to parameterized SQL over
// recorded session variables.
//
// A condition written for the engine ("mc.health > 10 && mc.brave") can be
// used unchanged to search a trace database: every rule becomes a
// correlated EXISTS test against the session_variables table, which holds
// one row per variable of a finished session.
//
// Semantics match the engine's evaluator: a variable with no row reads as
// nil, numeric text compares numerically, and ordering rules between a
// number and text never hold.
//
// CRITICAL: all literal values are parameterized, never interpolated.
// CRITICAL: every query orders by seq then id for deterministic results.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/storyflow/internal/ir"
)

// SQLCompiler compiles conditions against a sessions table and its
// variables table.
type SQLCompiler struct {
	// Sessions is the alias of the outer sessions table the predicates
	// correlate with.
	Sessions string

	// Variables is the name of the table holding session variables.
	Variables string
}

// NewSQLCompiler creates a compiler for the store's schema.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{Sessions: "s", Variables: "session_variables"}
}

// Compile returns a query selecting the ids of sessions whose final
// variables satisfy c, together with its parameters.
func (c *SQLCompiler) Compile(cond ir.Condition) (string, []any, error) {
	where, params, err := c.CompilePredicate(cond)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("SELECT %[1]s.id FROM sessions %[1]s WHERE %[2]s ORDER BY %[1]s.seq ASC, %[1]s.id ASC COLLATE BINARY",
		c.Sessions, where)
	return sql, params, nil
}

// CompilePredicate compiles c to a WHERE fragment. An empty condition
// compiles to a predicate that always holds.
func (c *SQLCompiler) CompilePredicate(cond ir.Condition) (string, []any, error) {
	return c.compileGroup(cond.Logic, cond.Rules, cond.Blocks)
}

func (c *SQLCompiler) compileGroup(logic ir.Logic, rules []ir.Rule, blocks []ir.Block) (string, []any, error) {
	if len(rules) == 0 && len(blocks) == 0 {
		return "1 = 1", nil, nil
	}

	var parts []string
	var params []any
	for _, r := range rules {
		sql, p, err := c.compileRule(r)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}
	for _, b := range blocks {
		sql, p, err := c.compileGroup(b.Logic, b.Rules, b.Blocks)
		if err != nil {
			return "", nil, fmt.Errorf("block %s: %w", b.ID, err)
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}

	if len(parts) == 1 {
		return parts[0], params, nil
	}
	joiner := " AND "
	if logic == ir.LogicAny {
		joiner = " OR "
	}
	return "(" + strings.Join(parts, joiner) + ")", params, nil
}

// exists wraps a test on the variable row v of ref.
func (c *SQLCompiler) exists(ref ir.VariableRef, test string, params ...any) (string, []any) {
	sql := fmt.Sprintf("EXISTS (SELECT 1 FROM %s v WHERE v.session_id = %s.id AND v.ref = ? AND %s)",
		c.Variables, c.Sessions, test)
	return sql, append([]any{ref.String()}, params...)
}

// existsPair wraps a test between the rows a (of lhs) and b (of rhs).
func (c *SQLCompiler) existsPair(lhs, rhs ir.VariableRef, test string) (string, []any) {
	sql := fmt.Sprintf("EXISTS (SELECT 1 FROM %[1]s a JOIN %[1]s b ON b.session_id = a.session_id WHERE a.session_id = %[2]s.id AND a.ref = ? AND b.ref = ? AND %[3]s)",
		c.Variables, c.Sessions, test)
	return sql, []any{lhs.String(), rhs.String()}
}

func not(sql string, params []any) (string, []any) {
	return "NOT " + sql, params
}

func (c *SQLCompiler) compileRule(r ir.Rule) (string, []any, error) {
	if !r.Complete() {
		return "", nil, fmt.Errorf("incomplete rule on %q", r.Target())
	}
	if base, ok := r.Operator.Complement(); ok {
		pos := r
		pos.Operator = base
		sql, p, err := c.compileRule(pos)
		if err != nil {
			return "", nil, err
		}
		sql, p = not(sql, p)
		return sql, p, nil
	}
	target := r.Target()
	if src, ok := r.Source(); ok {
		return c.compileRefRule(r, target, src)
	}

	switch r.Operator {
	case ir.OpIsNil:
		sql, p := c.exists(target, "v.kind <> 'nil'")
		sql, p = not(sql, p)
		return sql, p, nil
	case ir.OpIsNotNil:
		sql, p := c.exists(target, "v.kind <> 'nil'")
		return sql, p, nil
	case ir.OpIsEmpty:
		sql, p := c.exists(target, "v.empty = 0")
		sql, p = not(sql, p)
		return sql, p, nil
	case ir.OpIsNotEmpty:
		sql, p := c.exists(target, "v.empty = 0")
		return sql, p, nil
	case ir.OpIsTrue:
		sql, p := c.exists(target, "v.truthy = 1")
		return sql, p, nil
	case ir.OpIsFalse:
		sql, p := c.exists(target, "v.truthy = 1")
		sql, p = not(sql, p)
		return sql, p, nil
	case ir.OpEquals, ir.OpNotEquals:
		sql, p, err := c.compileEquals(target, r.Value)
		if err != nil {
			return "", nil, err
		}
		if r.Operator == ir.OpNotEquals {
			sql, p = not(sql, p)
		}
		return sql, p, nil
	case ir.OpGreaterThan, ir.OpLessThan, ir.OpGreaterThanOrEqual, ir.OpLessThanOrEqual:
		return c.compileOrdering(target, r.Operator, r.Value)
	case ir.OpContains, ir.OpNotContains:
		needle, err := valueToParam(r.Value)
		if err != nil {
			return "", nil, err
		}
		sql, p := c.exists(target,
			"((v.kind = 'list' AND EXISTS (SELECT 1 FROM json_each(v.json) e WHERE e.value = ?)) OR (v.kind NOT IN ('list', 'nil') AND instr(v.txt, ?) > 0))",
			needle, ir.AsText(r.Value))
		if r.Operator == ir.OpNotContains {
			sql, p = not(sql, p)
		}
		return sql, p, nil
	case ir.OpStartsWith:
		prefix := ir.AsText(r.Value)
		sql, p := c.exists(target, "v.kind <> 'nil' AND substr(v.txt, 1, length(?)) = ?", prefix, prefix)
		return sql, p, nil
	case ir.OpEndsWith:
		suffix := ir.AsText(r.Value)
		sql, p := c.exists(target, "v.kind <> 'nil' AND substr(v.txt, length(v.txt) - length(?) + 1) = ?", suffix, suffix)
		return sql, p, nil
	default:
		return "", nil, fmt.Errorf("unsupported operator %q", r.Operator)
	}
}

// compileEquals mirrors ir.Equal: numbers (and numeric text) compare
// numerically, nil equals only nil.
func (c *SQLCompiler) compileEquals(target ir.VariableRef, v ir.Value) (string, []any, error) {
	if ir.IsNil(v) {
		sql, p := c.exists(target, "v.kind <> 'nil'")
		sql, p = not(sql, p)
		return sql, p, nil
	}
	if n, ok := v.(ir.Number); ok {
		sql, p := c.exists(target, "v.num = ?", float64(n))
		return sql, p, nil
	}
	if s, ok := v.(ir.String); ok {
		if n, isNum := ir.AsNumber(s); isNum {
			sql, p := c.exists(target, "((v.kind = 'number' AND v.num = ?) OR (v.kind = 'string' AND v.txt = ?))", n, string(s))
			return sql, p, nil
		}
	}
	if _, ok := v.(ir.List); ok {
		js, err := ir.MarshalCanonical(v)
		if err != nil {
			return "", nil, fmt.Errorf("list literal: %w", err)
		}
		sql, p := c.exists(target, "v.kind = 'list' AND v.json = ?", string(js))
		return sql, p, nil
	}
	kind, err := kindOf(v)
	if err != nil {
		return "", nil, err
	}
	sql, p := c.exists(target, "v.kind = ? AND v.txt = ?", kind, ir.AsText(v))
	return sql, p, nil
}

func (c *SQLCompiler) compileOrdering(target ir.VariableRef, op ir.RuleOperator, v ir.Value) (string, []any, error) {
	sym := sqlOperator(op)
	if n, ok := ir.AsNumber(v); ok {
		sql, p := c.exists(target, "v.num "+sym+" ?", n)
		return sql, p, nil
	}
	if s, ok := v.(ir.String); ok {
		sql, p := c.exists(target, "v.kind = 'string' AND v.txt "+sym+" ? COLLATE BINARY", string(s))
		return sql, p, nil
	}
	// Ordering against nil, booleans or lists never holds.
	return "1 = 0", nil, nil
}

func (c *SQLCompiler) compileRefRule(r ir.Rule, lhs, rhs ir.VariableRef) (string, []any, error) {
	switch r.Operator {
	case ir.OpEquals, ir.OpNotEquals:
		test := "((a.num IS NOT NULL AND b.num IS NOT NULL AND 'number' IN (a.kind, b.kind) AND a.num = b.num) OR (a.kind = b.kind AND a.kind <> 'number' AND a.json = b.json))"
		sql, p := c.existsPair(lhs, rhs, test)
		if r.Operator == ir.OpEquals {
			// Two missing or nil variables are equal.
			nilBoth := fmt.Sprintf("(NOT EXISTS (SELECT 1 FROM %[1]s v WHERE v.session_id = %[2]s.id AND v.ref = ? AND v.kind <> 'nil') AND NOT EXISTS (SELECT 1 FROM %[1]s v WHERE v.session_id = %[2]s.id AND v.ref = ? AND v.kind <> 'nil'))",
				c.Variables, c.Sessions)
			return "(" + sql + " OR " + nilBoth + ")", append(p, lhs.String(), rhs.String()), nil
		}
		sql, p, err := c.compileRefRule(ir.Rule{
			Sheet: r.Sheet, Variable: r.Variable, Operator: ir.OpEquals,
			Value: r.Value, ValueType: r.ValueType, ValueSheet: r.ValueSheet,
		}, lhs, rhs)
		if err != nil {
			return "", nil, err
		}
		sql, p = not(sql, p)
		return sql, p, nil
	case ir.OpGreaterThan, ir.OpLessThan, ir.OpGreaterThanOrEqual, ir.OpLessThanOrEqual:
		sym := sqlOperator(r.Operator)
		test := fmt.Sprintf("((a.num IS NOT NULL AND b.num IS NOT NULL AND a.num %[1]s b.num) OR (a.kind = 'string' AND b.kind = 'string' AND (a.num IS NULL OR b.num IS NULL) AND a.txt %[1]s b.txt COLLATE BINARY))", sym)
		sql, p := c.existsPair(lhs, rhs, test)
		return sql, p, nil
	default:
		return "", nil, fmt.Errorf("operator %q does not support a variable operand in queries", r.Operator)
	}
}

func sqlOperator(op ir.RuleOperator) string {
	switch op {
	case ir.OpGreaterThan:
		return ">"
	case ir.OpLessThan:
		return "<"
	case ir.OpGreaterThanOrEqual:
		return ">="
	default:
		return "<="
	}
}

func kindOf(v ir.Value) (string, error) {
	switch v.(type) {
	case nil, ir.Nil:
		return "nil", nil
	case ir.String:
		return "string", nil
	case ir.Number:
		return "number", nil
	case ir.Bool:
		return "bool", nil
	case ir.List:
		return "list", nil
	default:
		return "", fmt.Errorf("unsupported value type: %T", v)
	}
}

// valueToParam converts a Value to a Go native type for a SQL parameter.
// Lists cannot be used as SQL parameters directly.
func valueToParam(v ir.Value) (any, error) {
	switch val := v.(type) {
	case nil, ir.Nil:
		return nil, nil
	case ir.String:
		return string(val), nil
	case ir.Number:
		return float64(val), nil
	case ir.Bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case ir.List:
		return nil, fmt.Errorf("list cannot be used as SQL parameter directly")
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}

// Row is the stored form of one variable, as written to the variables
// table. Its columns are the ones the compiled predicates test.
type Row struct {
	Kind   string
	JSON   string
	Num    *float64
	Txt    string
	Truthy bool
	Empty  bool
}

// RowOf computes the stored form of v.
func RowOf(v ir.Value) (Row, error) {
	kind, err := kindOf(v)
	if err != nil {
		return Row{}, err
	}
	js, err := ir.MarshalCanonical(v)
	if err != nil {
		return Row{}, err
	}
	row := Row{
		Kind:   kind,
		JSON:   string(js),
		Txt:    ir.AsText(v),
		Truthy: ir.Truthy(v),
		Empty:  ir.IsEmpty(v),
	}
	if n, ok := ir.AsNumber(v); ok {
		row.Num = &n
	}
	return row, nil
}
