package syntax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(toks []Token) []TokenKind {
	out := make([]TokenKind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestLexOperators(t *testing.T) {
	toks := Lex(`a.b>=1&&!c.d||x.y!="q";`)
	assert.Equal(t, []TokenKind{
		Ident, Dot, Ident, Ge, Number, AndAnd, Bang, Ident, Dot, Ident,
		OrOr, Ident, Dot, Ident, NotEq, String, Semicolon, EOF,
	}, kinds(toks))
	assert.Equal(t, "q", toks[15].Value)
}

func TestLexAssignOperatorsAndComments(t *testing.T) {
	toks := Lex("a.b += 1 // bump\nc.d ?= 'x'")
	assert.Equal(t, []TokenKind{
		Ident, Dot, Ident, PlusAssign, Number, Newline,
		Ident, Dot, Ident, QuestionAssign, String, EOF,
	}, kinds(toks))
	assert.Equal(t, "x", toks[10].Value)
}

func TestLexStringEscapes(t *testing.T) {
	toks := Lex(`"say \"hi\"\n"`)
	require.Equal(t, String, toks[0].Kind)
	assert.Equal(t, "say \"hi\"\n", toks[0].Value)
}

func TestLexIllegal(t *testing.T) {
	toks := Lex(`a # "open`)
	require.Len(t, toks, 4)
	assert.Equal(t, Illegal, toks[1].Kind)
	assert.Contains(t, toks[1].Err, "#")
	assert.Equal(t, Illegal, toks[2].Kind)
	assert.Equal(t, "unterminated string literal", toks[2].Err)
}

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			"set",
			"mc.jaime.health = 50",
			`AssignmentProgram(Assign[=](VariableRef"mc.jaime.health" Number"50"))`,
		},
		{
			"toggle and clear",
			"toggle party.present; clear mc.jaime.class",
			`AssignmentProgram(Toggle(VariableRef"party.present") Clear(VariableRef"mc.jaime.class"))`,
		},
		{
			"operators and comments",
			"a.b += -2.5\n// comment\nc.d ?= \"x\"",
			`AssignmentProgram(Assign[+=](VariableRef"a.b" Number"-2.5") Assign[?=](VariableRef"c.d" String"x"))`,
		},
		{
			"variable reference value",
			"a.b -= c.d.e",
			`AssignmentProgram(Assign[-=](VariableRef"a.b" VariableRef"c.d.e"))`,
		},
		{
			"booleans and nil",
			"a.b = true; a.c = nil",
			`AssignmentProgram(Assign[=](VariableRef"a.b" Boolean"true") Assign[=](VariableRef"a.c" Nil))`,
		},
		{
			"toggle as sheet name",
			"toggle.x = 1",
			`AssignmentProgram(Assign[=](VariableRef"toggle.x" Number"1"))`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := Parse(tt.src, ModeAssignment)
			assert.False(t, tree.HasErrors())
			assert.Equal(t, tt.want, tree.String())
		})
	}
}

func TestParseAssignmentRecovery(t *testing.T) {
	src := "a.b = \nc.d = 1"
	tree := Parse(src, ModeAssignment)

	assert.Equal(t, `AssignmentProgram(Error"expected value, found newline" Assign[=](VariableRef"c.d" Number"1"))`, tree.String())
	errs := tree.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "a.b =", errs[0].Text(src))
}

func TestParseAssignmentErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		errText string
		errMsg  string
	}{
		{"single segment", "health = 1", "health = 1", "needs a sheet"},
		{"missing operator", "a.b 1", "a.b 1", "expected assignment operator"},
		{"unterminated string", `a.b = "oops`, `a.b = "oops`, "unterminated string literal"},
		{"trailing junk", "a.b = 1 2", "2", "after statement"},
		{"unknown keyword", "flip a.b", "flip a.b", "unknown statement"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := Parse(tt.src, ModeAssignment)
			errs := tree.Errors()
			require.Len(t, errs, 1)
			assert.Equal(t, tt.errText, errs[0].Text(tt.src))
			assert.Contains(t, errs[0].Err, tt.errMsg)
		})
	}
}

func TestParseExpressions(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			"and of comparisons",
			"a.b > 1 && c.d < 2",
			`ExpressionProgram(BinaryExpr[&&](Comparison[>](VariableRef"a.b" Number"1") Comparison[<](VariableRef"c.d" Number"2")))`,
		},
		{
			"and binds tighter than or",
			"a.b || c.d && e.f",
			`ExpressionProgram(BinaryExpr[||](VariableRef"a.b" BinaryExpr[&&](VariableRef"c.d" VariableRef"e.f")))`,
		},
		{
			"left associative",
			"a.b || c.d || e.f",
			`ExpressionProgram(BinaryExpr[||](BinaryExpr[||](VariableRef"a.b" VariableRef"c.d") VariableRef"e.f"))`,
		},
		{
			"negated group",
			"!(a.b == nil)",
			`ExpressionProgram(NotExpr(ParenExpr(Comparison[==](VariableRef"a.b" Nil))))`,
		},
		{
			"bare and negated refs",
			"party.present && !party.absent",
			`ExpressionProgram(BinaryExpr[&&](VariableRef"party.present" NotExpr(VariableRef"party.absent")))`,
		},
		{
			"call",
			`contains(mc.jaime.tags, "brave")`,
			`ExpressionProgram(CallExpr"contains"(VariableRef"mc.jaime.tags" String"brave"))`,
		},
		{
			"newlines ignored",
			"a.b\n&& c.d",
			`ExpressionProgram(BinaryExpr[&&](VariableRef"a.b" VariableRef"c.d"))`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := Parse(tt.src, ModeExpression)
			assert.False(t, tree.HasErrors())
			assert.Equal(t, tt.want, tree.String())
		})
	}
}

func TestParseExpressionErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		errText string
	}{
		{"missing operand", "a.b >", ">"},
		{"trailing tokens", "a.b c.d", "c.d"},
		{"illegal character", "a.b # 1", "# 1"},
		{"unclosed paren", "(a.b", "("},
		{"doubled operator", "a.b > > 1", ">"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := Parse(tt.src, ModeExpression)
			require.True(t, tree.HasErrors())
			assert.Equal(t, ExpressionProgram, tree.Root.Kind)
			assert.Equal(t, tt.errText, tree.Errors()[0].Text(tt.src))
		})
	}
}

func TestParseBlank(t *testing.T) {
	for _, mode := range []Mode{ModeAssignment, ModeExpression} {
		for _, src := range []string{"", "   ", "\n\t\n", "// only a comment"} {
			tree := Parse(src, mode)
			assert.False(t, tree.HasErrors(), "%s %q", mode, src)
			assert.Empty(t, tree.Root.Children, "%s %q", mode, src)
			assert.Equal(t, len(src), tree.Root.To)
		}
	}
}

func TestParseSpans(t *testing.T) {
	src := "  mc.jaime.health = 50"
	tree := Parse(src, ModeAssignment)
	require.Len(t, tree.Root.Children, 1)

	ref := tree.Root.Children[0].Children[0]
	assert.Equal(t, VarRef, ref.Kind)
	assert.Equal(t, "mc.jaime.health", ref.Text(src))
	assert.Equal(t, 2, ref.From)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Expression")
	require.NoError(t, err)
	assert.Equal(t, ModeExpression, m)

	_, err = ParseMode("haiku")
	assert.Error(t, err)
}
