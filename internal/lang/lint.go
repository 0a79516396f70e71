package lang

import (
	"cmp"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/syntax"
)

// Severity grades a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a problem found in source text. From and To are character
// (code point) offsets into the text, To exclusive.
type Diagnostic struct {
	From     int      `json:"from"`
	To       int      `json:"to"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Lint parses text in mode and reports syntax errors plus references to
// variables missing from known. In expression mode, sub-expressions that
// parse but have no condition form are errors too. References inside malformed statements
// are not checked. Lint never fails; blank text yields no diagnostics.
func Lint(mode syntax.Mode, text string, known []ir.KnownVariable) []Diagnostic {
	tree := syntax.Parse(text, mode)
	return lintTree(tree, known)
}

func lintTree(tree *syntax.Tree, known []ir.KnownVariable) []Diagnostic {
	catalog := make(map[string]struct{}, len(known))
	for _, k := range known {
		catalog[k.Ref().String()] = struct{}{}
	}

	src := tree.Source
	diags := []Diagnostic{}
	tree.Root.Walk(func(n *syntax.Node) bool {
		switch n.Kind {
		case syntax.ErrorNode:
			diags = append(diags, Diagnostic{
				From:     runeOffset(src, n.From),
				To:       runeOffset(src, n.To),
				Severity: SeverityError,
				Message:  "Syntax error: " + n.Err,
			})
			return false
		case syntax.VarRef:
			if _, ok := catalog[n.Value]; !ok {
				diags = append(diags, Diagnostic{
					From:     runeOffset(src, n.From),
					To:       runeOffset(src, n.To),
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("Unknown variable: %s", n.Value),
				})
			}
		}
		return true
	})

	if tree.Mode == syntax.ModeExpression {
		_, drops := reduceCondition(tree)
		for _, d := range drops {
			diags = append(diags, Diagnostic{
				From:     runeOffset(src, d.from),
				To:       runeOffset(src, d.to),
				Severity: SeverityError,
				Message:  d.reason,
			})
		}
		slices.SortStableFunc(diags, func(a, b Diagnostic) int {
			return cmp.Compare(a.From, b.From)
		})
	}
	return diags
}

// runeOffset converts a byte offset into src to a code point offset.
func runeOffset(src string, byteOff int) int {
	if byteOff <= 0 {
		return 0
	}
	if byteOff > len(src) {
		byteOff = len(src)
	}
	return utf8.RuneCountInString(src[:byteOff])
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
