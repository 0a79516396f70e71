// Package lang turns story-language text into structured assignments and
// conditions and back, and lints text against a variable catalog.
//
// The pipeline is parse (package syntax), reduce, serialize. For text
// that parses cleanly, serializing the reduced form yields text that
// reduces to the same structure.
package lang

import (
	"fmt"
	"strings"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/syntax"
)

// SyntaxError reports the syntax diagnostics of text that was required
// to parse cleanly.
type SyntaxError struct {
	Mode        syntax.Mode
	Diagnostics []Diagnostic
}

func (e *SyntaxError) Error() string {
	if len(e.Diagnostics) == 0 {
		return fmt.Sprintf("invalid %s text", e.Mode)
	}
	d := e.Diagnostics[0]
	msg := fmt.Sprintf("invalid %s text at %d-%d: %s", e.Mode, d.From, d.To, d.Message)
	if n := len(e.Diagnostics) - 1; n > 0 {
		msg += fmt.Sprintf(" (and %d more)", n)
	}
	return msg
}

func syntaxErrors(tree *syntax.Tree) error {
	var errs []Diagnostic
	for _, d := range lintTree(tree, nil) {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &SyntaxError{Mode: tree.Mode, Diagnostics: errs}
}

// ParseAssignments parses and reduces instruction text. It returns a
// *SyntaxError when the text is malformed; blank text yields no
// assignments.
func ParseAssignments(text string) ([]ir.Assignment, error) {
	tree := syntax.Parse(text, syntax.ModeAssignment)
	if err := syntaxErrors(tree); err != nil {
		return nil, err
	}
	return ReduceAssignments(tree), nil
}

// ParseCondition parses and reduces condition text. Blank text yields an
// empty condition, which is always satisfied. Text that parses but holds
// a sub-expression with no condition form, such as a comparison of two
// literals or an unknown function, is rejected with a *SyntaxError.
func ParseCondition(text string) (ir.Condition, error) {
	tree := syntax.Parse(text, syntax.ModeExpression)
	if err := syntaxErrors(tree); err != nil {
		return ir.Condition{}, err
	}
	return ReduceCondition(tree), nil
}

// Format rewrites text into canonical form by reducing and serializing it.
func Format(mode syntax.Mode, text string) (string, error) {
	switch mode {
	case syntax.ModeExpression:
		c, err := ParseCondition(text)
		if err != nil {
			return "", err
		}
		return SerializeCondition(c), nil
	default:
		as, err := ParseAssignments(text)
		if err != nil {
			return "", err
		}
		return SerializeAssignments(as), nil
	}
}

// References lists the distinct variables text mentions, in order of
// first appearance. Malformed regions are ignored.
func References(mode syntax.Mode, text string) []ir.VariableRef {
	tree := syntax.Parse(text, mode)
	seen := map[string]bool{}
	var out []ir.VariableRef
	tree.Root.Walk(func(n *syntax.Node) bool {
		if n.Kind == syntax.ErrorNode {
			return false
		}
		if n.Kind == syntax.VarRef && !seen[n.Value] {
			if ref, ok := refOf(n); ok {
				seen[n.Value] = true
				out = append(out, ref)
			}
		}
		return true
	})
	return out
}

// Dump renders the syntax tree of text, one node per line with its span,
// for debugging grammar problems.
func Dump(mode syntax.Mode, text string) string {
	tree := syntax.Parse(text, mode)
	var b strings.Builder
	var walk func(n *syntax.Node, depth int)
	walk = func(n *syntax.Node, depth int) {
		fmt.Fprintf(&b, "%s%s [%d,%d)", strings.Repeat("  ", depth), n.Kind, n.From, n.To)
		if n.Op != syntax.EOF {
			fmt.Fprintf(&b, " %s", n.Op)
		}
		switch {
		case n.Kind == syntax.ErrorNode:
			fmt.Fprintf(&b, " %s", n.Err)
		case n.Value != "":
			fmt.Fprintf(&b, " %q", n.Value)
		}
		b.WriteByte('\n')
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(tree.Root, 0)
	return b.String()
}
