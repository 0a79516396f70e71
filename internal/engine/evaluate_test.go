package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/lang"
)

func evalVars() map[string]VariableSlot {
	return NewVariables([]ir.Sheet{{
		Shortcut: "mc",
		Variables: []ir.VariableDef{
			{Name: "health", BlockType: ir.BlockNumber, Default: ir.Number(12)},
			{Name: "max", BlockType: ir.BlockNumber, Default: ir.Number(20)},
			{Name: "name", BlockType: ir.BlockText, Default: ir.String("Jaime")},
			{Name: "title", BlockType: ir.BlockText},
			{Name: "tags", BlockType: ir.BlockMultiSelect, Default: ir.List{ir.String("brave"), ir.String("tall")}},
			{Name: "level", BlockType: ir.BlockText, Default: ir.String("7")},
			{Name: "ally", BlockType: ir.BlockSelect},
		},
	}})
}

func rule(variable string, op ir.RuleOperator, v ir.Value) ir.Rule {
	return ir.Rule{Sheet: "mc", Variable: variable, Operator: op, Value: v}
}

func TestEvaluateRule(t *testing.T) {
	vars := evalVars()
	tests := []struct {
		name string
		rule ir.Rule
		want bool
	}{
		{"equals number", rule("health", ir.OpEquals, ir.Number(12)), true},
		{"numeric text equals number", rule("level", ir.OpGreaterThanOrEqual, ir.Number(7)), true},
		{"greater", rule("health", ir.OpGreaterThan, ir.Number(12)), false},
		{"less or equal", rule("health", ir.OpLessThanOrEqual, ir.Number(12)), true},
		{"lexical order", rule("name", ir.OpLessThan, ir.String("Kate")), true},
		{"mixed order never holds", rule("name", ir.OpGreaterThan, ir.Number(1)), false},
		{"variable operand", ir.Rule{Sheet: "mc", Variable: "health", Operator: ir.OpLessThan,
			ValueType: ir.ValueVariableRef, ValueSheet: "mc", Value: ir.String("max")}, true},
		{"is nil", rule("ally", ir.OpIsNil, nil), true},
		{"is not nil", rule("name", ir.OpIsNotNil, nil), true},
		{"is empty", rule("title", ir.OpIsEmpty, nil), true},
		{"is not empty", rule("tags", ir.OpIsNotEmpty, nil), true},
		{"is true", rule("name", ir.OpIsTrue, nil), true},
		{"is false", rule("title", ir.OpIsFalse, nil), true},
		{"list contains", rule("tags", ir.OpContains, ir.String("brave")), true},
		{"list not contains", rule("tags", ir.OpNotContains, ir.String("bra")), true},
		{"substring", rule("name", ir.OpContains, ir.String("aim")), true},
		{"nil contains nothing", rule("ally", ir.OpContains, ir.String("")), false},
		{"starts with", rule("name", ir.OpStartsWith, ir.String("Ja")), true},
		{"ends with", rule("name", ir.OpEndsWith, ir.String("x")), false},
		{"not greater on nil", rule("ally", ir.OpNotGreaterThan, ir.Number(1)), true},
		{"not greater on mixed types", rule("name", ir.OpNotGreaterThan, ir.Number(1)), true},
		{"not less or equal", rule("health", ir.OpNotLessThanOrEqual, ir.Number(12)), false},
		{"not less on list", rule("tags", ir.OpNotLessThan, ir.Number(3)), true},
		{"not greater or equal", rule("health", ir.OpNotGreaterThanOrEqual, ir.Number(13)), true},
		{"not starts with", rule("name", ir.OpNotStartsWith, ir.String("Ja")), false},
		{"not ends with", rule("name", ir.OpNotEndsWith, ir.String("x")), true},
		{"nil never ends with", rule("ally", ir.OpNotEndsWith, ir.String("")), true},
		{"incomplete rule", ir.Rule{Sheet: "mc", Operator: ir.OpIsNil}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, missing := EvaluateRule(tt.rule, vars)
			assert.Equal(t, tt.want, got)
			assert.Empty(t, missing)
		})
	}
}

func TestEvaluateCondition(t *testing.T) {
	vars := evalVars()

	assert.True(t, must(EvaluateCondition(ir.Condition{}, vars)), "empty condition holds")

	nested := ir.Condition{
		Logic: ir.LogicAny,
		Blocks: []ir.Block{
			{ID: "b1", Type: ir.KindBlock, Logic: ir.LogicAll, Rules: []ir.Rule{
				rule("health", ir.OpGreaterThan, ir.Number(100)),
				rule("name", ir.OpEquals, ir.String("Jaime")),
			}},
			{ID: "b2", Type: ir.KindGroup, Logic: ir.LogicAll, Blocks: []ir.Block{
				{ID: "b3", Type: ir.KindBlock, Logic: ir.LogicAny, Rules: []ir.Rule{
					rule("tags", ir.OpContains, ir.String("tall")),
					rule("ally", ir.OpIsNotNil, nil),
				}},
			}},
		},
	}
	assert.True(t, must(EvaluateCondition(nested, vars)))

	nested.Logic = ir.LogicAll
	assert.False(t, must(EvaluateCondition(nested, vars)))

	unset := ir.Condition{Rules: []ir.Rule{rule("health", ir.OpGreaterThan, ir.Number(1))}}
	assert.True(t, must(EvaluateCondition(unset, vars)), "unset logic means all")
}

func TestEvaluateCondition_Missing(t *testing.T) {
	c := ir.Condition{Logic: ir.LogicAll, Rules: []ir.Rule{
		{Sheet: "npc", Variable: "mood", Operator: ir.OpIsNil},
		{Sheet: "mc", Variable: "health", Operator: ir.OpEquals, ValueType: ir.ValueVariableRef, ValueSheet: "npc", Value: ir.String("hp")},
	}}
	ok, missing := EvaluateCondition(c, evalVars())
	assert.False(t, ok)
	assert.Equal(t, []string{"npc.mood", "npc.hp"}, missing)
	assert.Equal(t, "unknown variables npc.mood, npc.hp read as nil", describeMissing(missing))
}

func must(ok bool, _ []string) bool { return ok }

// negationVars holds mc.hp with the given value beside mc.name = "Bob".
func negationVars(hp ir.Value) map[string]VariableSlot {
	return NewVariables([]ir.Sheet{{
		Shortcut: "mc",
		Variables: []ir.VariableDef{
			{Name: "hp", BlockType: ir.BlockSelect, Default: hp},
			{Name: "name", BlockType: ir.BlockText, Default: ir.String("Bob")},
		},
	}})
}

func parseCondition(t *testing.T, src string) ir.Condition {
	t.Helper()
	c, err := lang.ParseCondition(src)
	require.NoError(t, err, src)
	require.False(t, c.IsEmpty(), "%q reduced to nothing", src)
	return c
}

func TestNegatedConditionText(t *testing.T) {
	bob := negationVars(ir.Number(5))
	assert.True(t, must(EvaluateCondition(parseCondition(t, "!(mc.hp > 1)"), negationVars(nil))))
	assert.True(t, must(EvaluateCondition(parseCondition(t, "!(mc.name > 1)"), bob)))
	assert.False(t, must(EvaluateCondition(parseCondition(t, `!starts_with(mc.name, "B")`), bob)))
	assert.False(t, must(EvaluateCondition(parseCondition(t, `!ends_with(mc.name, "b")`), bob)))
	assert.True(t, must(EvaluateCondition(parseCondition(t, `!ends_with(mc.name, "x")`), bob)))
}

// Negating a condition in text, and formatting the result, must invert
// the outcome for every kind of value, including ones ordering rules
// cannot compare.
func TestNegatedConditionComplementsSource(t *testing.T) {
	values := map[string]ir.Value{
		"nil":    nil,
		"text":   ir.String("Bob"),
		"number": ir.Number(5),
		"bool":   ir.Bool(true),
		"list":   ir.List{ir.String("Bob")},
	}
	positives := []string{
		"mc.hp > 1",
		"mc.hp < 1",
		"mc.hp >= 5",
		"mc.hp <= 5",
		`mc.hp > "A"`,
		"mc.hp > mc.name",
		`starts_with(mc.hp, "B")`,
		`ends_with(mc.hp, "b")`,
		`contains(mc.hp, "o")`,
		"mc.hp == 5",
		"mc.hp == nil",
		`mc.hp == ""`,
		"mc.hp",
		`mc.hp > 1 && mc.name == "Bob"`,
		`mc.hp < 1 || ends_with(mc.name, "b")`,
	}
	for _, src := range positives {
		t.Run(src, func(t *testing.T) {
			pos := parseCondition(t, src)
			neg := parseCondition(t, "!("+src+")")
			formatted := lang.SerializeCondition(neg)
			again := parseCondition(t, formatted)

			for name, v := range values {
				vars := negationVars(v)
				want := !must(EvaluateCondition(pos, vars))
				assert.Equal(t, want, must(EvaluateCondition(neg, vars)), "mc.hp %s", name)
				assert.Equal(t, want, must(EvaluateCondition(again, vars)), "%q with mc.hp %s", formatted, name)
			}
		})
	}
}
