package syntax

import (
	"fmt"
	"strings"
)

// Mode selects the program node a parse is rooted at.
type Mode int

const (
	ModeAssignment Mode = iota
	ModeExpression
)

func (m Mode) String() string {
	switch m {
	case ModeAssignment:
		return "assignment"
	case ModeExpression:
		return "expression"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a mode name ("assignment", "expression") to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "assignment", "assignments", "instruction":
		return ModeAssignment, nil
	case "expression", "condition":
		return ModeExpression, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (want assignment or expression)", s)
	}
}

// Kind is the syntactic category of a tree node.
type Kind int

const (
	AssignmentProgram Kind = iota
	ExpressionProgram
	AssignStmt
	ToggleStmt
	ClearStmt
	VarRef
	NumberLit
	StringLit
	BoolLit
	NilLit
	BinaryExpr
	NotExpr
	ParenExpr
	Comparison
	CallExpr
	ErrorNode
)

var kindNames = [...]string{
	AssignmentProgram: "AssignmentProgram",
	ExpressionProgram: "ExpressionProgram",
	AssignStmt:        "Assign",
	ToggleStmt:        "Toggle",
	ClearStmt:         "Clear",
	VarRef:            "VariableRef",
	NumberLit:         "Number",
	StringLit:         "String",
	BoolLit:           "Boolean",
	NilLit:            "Nil",
	BinaryExpr:        "BinaryExpr",
	NotExpr:           "NotExpr",
	ParenExpr:         "ParenExpr",
	Comparison:        "Comparison",
	CallExpr:          "CallExpr",
	ErrorNode:         "Error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Node is a concrete syntax tree node covering source bytes [From, To).
//
// Op is the operator token for AssignStmt, BinaryExpr and Comparison.
// Value is the normalized literal: the dotted path of a VarRef with
// blanks removed, the decoded contents of a StringLit, the signed digits
// of a NumberLit, "true"/"false" for a BoolLit and the function name of
// a CallExpr. Err describes an ErrorNode.
type Node struct {
	Kind     Kind
	From     int
	To       int
	Op       TokenKind
	Value    string
	Err      string
	Children []*Node
}

// Text returns the source slice the node spans.
func (n *Node) Text(src string) string {
	if n == nil || n.From < 0 || n.To > len(src) || n.From > n.To {
		return ""
	}
	return src[n.From:n.To]
}

// Walk visits n and its descendants depth-first in source order.
// Returning false from fn skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Tree is the result of a parse: the program root plus the source.
type Tree struct {
	Source string
	Mode   Mode
	Root   *Node
}

// Errors returns every error node in source order.
func (t *Tree) Errors() []*Node {
	var out []*Node
	t.Root.Walk(func(n *Node) bool {
		if n.Kind == ErrorNode {
			out = append(out, n)
		}
		return true
	})
	return out
}

// HasErrors reports whether the tree contains any error node.
func (t *Tree) HasErrors() bool {
	return len(t.Errors()) > 0
}

// String renders the tree as an S-expression for debugging and golden tests,
// e.g. `AssignmentProgram(Assign[=](VariableRef"a.b" Number"1"))`.
func (t *Tree) String() string {
	var b strings.Builder
	writeNode(&b, t.Root)
	return b.String()
}

func writeNode(b *strings.Builder, n *Node) {
	b.WriteString(n.Kind.String())
	switch n.Kind {
	case AssignStmt, BinaryExpr, Comparison:
		fmt.Fprintf(b, "[%s]", strings.Trim(n.Op.String(), "'"))
	case ErrorNode:
		fmt.Fprintf(b, "%q", n.Err)
	case VarRef, NumberLit, StringLit, BoolLit, CallExpr:
		fmt.Fprintf(b, "%q", n.Value)
	}
	if len(n.Children) == 0 {
		return
	}
	b.WriteByte('(')
	for i, c := range n.Children {
		if i > 0 {
			b.WriteByte(' ')
		}
		writeNode(b, c)
	}
	b.WriteByte(')')
}
