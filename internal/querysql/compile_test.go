package querysql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storyflow/internal/ir"
)

func TestCompile_SimpleRule(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, params, err := compiler.Compile(ir.Condition{Rules: []ir.Rule{
		{Sheet: "mc", Variable: "class", Operator: ir.OpEquals, Value: ir.String("warrior")},
	}})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sql, "SELECT s.id FROM sessions s WHERE EXISTS"))
	assert.Contains(t, sql, "v.ref = ?")
	assert.Contains(t, sql, "ORDER BY s.seq ASC, s.id ASC COLLATE BINARY")
	assert.NotContains(t, sql, "warrior", "values are parameterized")
	assert.Equal(t, []any{"mc.class", "string", "warrior"}, params)
}

func TestCompile_EmptyCondition(t *testing.T) {
	sql, params, err := NewSQLCompiler().CompilePredicate(ir.Condition{})
	require.NoError(t, err)
	assert.Equal(t, "1 = 1", sql)
	assert.Empty(t, params)
}

func TestCompile_Logic(t *testing.T) {
	compiler := NewSQLCompiler()
	health := ir.Rule{Sheet: "mc", Variable: "health", Operator: ir.OpGreaterThan, Value: ir.Number(10)}
	brave := ir.Rule{Sheet: "mc", Variable: "brave", Operator: ir.OpIsTrue}

	all, params, err := compiler.CompilePredicate(ir.Condition{Logic: ir.LogicAll, Rules: []ir.Rule{health, brave}})
	require.NoError(t, err)
	assert.Contains(t, all, ") AND EXISTS")
	assert.Equal(t, []any{"mc.health", 10.0, "mc.brave"}, params)

	anyOf, _, err := compiler.CompilePredicate(ir.Condition{Logic: ir.LogicAny, Rules: []ir.Rule{health, brave}})
	require.NoError(t, err)
	assert.Contains(t, anyOf, ") OR EXISTS")

	nested, params, err := compiler.CompilePredicate(ir.Condition{
		Logic: ir.LogicAny,
		Rules: []ir.Rule{brave},
		Blocks: []ir.Block{{ID: "b1", Type: ir.KindBlock, Logic: ir.LogicAll, Rules: []ir.Rule{health, health}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(nested, "(EXISTS"), "outer group and nested block are parenthesized")
	assert.Len(t, params, 5)
}

func TestCompile_Negations(t *testing.T) {
	compiler := NewSQLCompiler()
	tests := []struct {
		op      ir.RuleOperator
		value   ir.Value
		negated bool
	}{
		{ir.OpIsNil, nil, true},
		{ir.OpIsNotNil, nil, false},
		{ir.OpIsEmpty, nil, true},
		{ir.OpIsNotEmpty, nil, false},
		{ir.OpIsFalse, nil, true},
		{ir.OpNotEquals, ir.Number(1), true},
		{ir.OpNotContains, ir.String("x"), true},
		{ir.OpContains, ir.String("x"), false},
		{ir.OpNotGreaterThan, ir.Number(1), true},
		{ir.OpNotLessThanOrEqual, ir.String("m"), true},
		{ir.OpNotStartsWith, ir.String("x"), true},
		{ir.OpNotEndsWith, ir.String("x"), true},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			sql, _, err := compiler.CompilePredicate(ir.Condition{Rules: []ir.Rule{
				{Sheet: "a", Variable: "b", Operator: tt.op, Value: tt.value},
			}})
			require.NoError(t, err)
			assert.Equal(t, tt.negated, strings.HasPrefix(sql, "NOT "))
		})
	}
}

func TestCompile_OrderingAgainstBoolNeverHolds(t *testing.T) {
	sql, params, err := NewSQLCompiler().CompilePredicate(ir.Condition{Rules: []ir.Rule{
		{Sheet: "a", Variable: "b", Operator: ir.OpGreaterThan, Value: ir.Bool(true)},
	}})
	require.NoError(t, err)
	assert.Equal(t, "1 = 0", sql)
	assert.Empty(t, params)
}

func TestCompile_NegatedOrderingAgainstBoolAlwaysHolds(t *testing.T) {
	sql, params, err := NewSQLCompiler().CompilePredicate(ir.Condition{Rules: []ir.Rule{
		{Sheet: "a", Variable: "b", Operator: ir.OpNotGreaterThan, Value: ir.Bool(true)},
	}})
	require.NoError(t, err)
	assert.Equal(t, "NOT 1 = 0", sql)
	assert.Empty(t, params)
}

func TestCompile_VariableOperand(t *testing.T) {
	compiler := NewSQLCompiler()
	rule := ir.Rule{Sheet: "mc", Variable: "health", Operator: ir.OpLessThan,
		ValueType: ir.ValueVariableRef, ValueSheet: "mc", Value: ir.String("max")}

	sql, params, err := compiler.CompilePredicate(ir.Condition{Rules: []ir.Rule{rule}})
	require.NoError(t, err)
	assert.Contains(t, sql, "JOIN session_variables b")
	assert.Equal(t, []any{"mc.health", "mc.max"}, params)

	rule.Operator = ir.OpStartsWith
	_, _, err = compiler.CompilePredicate(ir.Condition{Rules: []ir.Rule{rule}})
	assert.Error(t, err)
}

func TestCompile_IncompleteRule(t *testing.T) {
	_, _, err := NewSQLCompiler().Compile(ir.Condition{Rules: []ir.Rule{{Sheet: "mc", Operator: ir.OpEquals}}})
	assert.Error(t, err)
}

func TestRowOf(t *testing.T) {
	row, err := RowOf(ir.String("12"))
	require.NoError(t, err)
	assert.Equal(t, "string", row.Kind)
	require.NotNil(t, row.Num)
	assert.Equal(t, 12.0, *row.Num)
	assert.True(t, row.Truthy)

	row, err = RowOf(ir.List{})
	require.NoError(t, err)
	assert.Equal(t, "list", row.Kind)
	assert.Equal(t, "[]", row.JSON)
	assert.True(t, row.Empty)
	assert.False(t, row.Truthy)
	assert.Nil(t, row.Num)

	row, err = RowOf(ir.Nil{})
	require.NoError(t, err)
	assert.Equal(t, "nil", row.Kind)
	assert.Equal(t, "null", row.JSON)
}
