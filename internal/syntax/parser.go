package syntax

import (
	"errors"
	"fmt"
	"strings"
)

// Parse parses src in the given mode. It never fails: malformed input
// yields a tree containing ErrorNode subtrees, and blank input yields an
// empty program. The root always spans the whole source.
func Parse(src string, mode Mode) *Tree {
	toks := Lex(src)
	if mode == ModeExpression {
		// expressions may wrap freely across lines
		filtered := toks[:0]
		for _, t := range toks {
			if t.Kind != Newline {
				filtered = append(filtered, t)
			}
		}
		toks = filtered
	}

	p := &parser{toks: toks}
	var root *Node
	switch mode {
	case ModeExpression:
		root = p.expressionProgram()
	default:
		mode = ModeAssignment
		root = p.assignmentProgram()
	}
	root.From, root.To = 0, len(src)
	return &Tree{Source: src, Mode: mode, Root: root}
}

type parser struct {
	toks []Token
	pos  int

	// span of the most recently consumed token
	lastFrom int
	lastEnd  int
}

func (p *parser) peek() Token {
	return p.toks[p.pos]
}

func (p *parser) peekAt(n int) Token {
	if i := p.pos + n; i < len(p.toks) {
		return p.toks[i]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) at(k TokenKind) bool {
	return p.peek().Kind == k
}

func (p *parser) advance() Token {
	t := p.toks[p.pos]
	if t.Kind != EOF {
		p.pos++
		p.lastFrom, p.lastEnd = t.From, t.To
	}
	return t
}

// errorNode builds an error spanning from the start of the failed
// construct through the last consumed token. When nothing was consumed it
// covers the offending token, or the previous token at end of input.
func (p *parser) errorNode(from int, t Token, msg string) *Node {
	to := p.lastEnd
	if to <= from {
		switch {
		case t.Kind != EOF:
			from, to = t.From, t.To
		case p.lastEnd > 0:
			from, to = p.lastFrom, p.lastEnd
		default:
			to = from
		}
	}
	return &Node{Kind: ErrorNode, From: from, To: to, Err: msg}
}

func describe(t Token) string {
	switch t.Kind {
	case EOF, Newline:
		return t.Kind.String()
	default:
		return fmt.Sprintf("%q", t.Text)
	}
}

func unexpected(t Token, want string) error {
	if t.Kind == Illegal {
		return errors.New(t.Err)
	}
	return fmt.Errorf("expected %s, found %s", want, describe(t))
}

// --- assignment mode ---

func (p *parser) assignmentProgram() *Node {
	prog := &Node{Kind: AssignmentProgram}
	for {
		for p.at(Semicolon) || p.at(Newline) {
			p.advance()
		}
		if p.at(EOF) {
			return prog
		}

		start := p.peek()
		stmt, err := p.statement()
		if err == nil {
			prog.Children = append(prog.Children, stmt)
			if p.atStatementEnd() {
				continue
			}
			start = p.peek()
			err = fmt.Errorf("unexpected %s after statement", describe(start))
		}

		failed := p.peek()
		for !p.atStatementEnd() {
			p.advance()
		}
		prog.Children = append(prog.Children, p.errorNode(start.From, failed, err.Error()))
	}
}

func (p *parser) atStatementEnd() bool {
	switch p.peek().Kind {
	case Semicolon, Newline, EOF:
		return true
	default:
		return false
	}
}

func (p *parser) statement() (*Node, error) {
	t := p.peek()
	if t.Kind == Ident && p.peekAt(1).Kind == Ident {
		var kind Kind
		switch t.Text {
		case "toggle":
			kind = ToggleStmt
		case "clear":
			kind = ClearStmt
		default:
			return nil, fmt.Errorf("unknown statement %q", t.Text)
		}
		p.advance()
		ref, err := p.ref()
		if err != nil {
			return nil, err
		}
		return &Node{Kind: kind, From: t.From, To: ref.To, Children: []*Node{ref}}, nil
	}

	ref, err := p.ref()
	if err != nil {
		return nil, err
	}
	op := p.peek()
	if !op.Kind.IsAssign() {
		return nil, unexpected(op, "assignment operator (=, +=, -=, ?=)")
	}
	p.advance()
	val, err := p.value()
	if err != nil {
		return nil, err
	}
	return &Node{
		Kind:     AssignStmt,
		From:     ref.From,
		To:       val.To,
		Op:       op.Kind,
		Children: []*Node{ref, val},
	}, nil
}

// ref parses a dotted identifier chain of at least two segments.
func (p *parser) ref() (*Node, error) {
	first := p.peek()
	if first.Kind != Ident {
		return nil, unexpected(first, "variable reference")
	}
	p.advance()

	parts := []string{first.Text}
	to := first.To
	for p.at(Dot) {
		p.advance()
		seg := p.peek()
		if seg.Kind != Ident {
			return nil, unexpected(seg, "name after '.'")
		}
		p.advance()
		parts = append(parts, seg.Text)
		to = seg.To
	}
	if len(parts) < 2 {
		return nil, fmt.Errorf("variable reference %q needs a sheet and a variable name", first.Text)
	}
	return &Node{Kind: VarRef, From: first.From, To: to, Value: strings.Join(parts, ".")}, nil
}

// value parses a literal or a variable reference.
func (p *parser) value() (*Node, error) {
	t := p.peek()
	switch t.Kind {
	case Number:
		p.advance()
		return &Node{Kind: NumberLit, From: t.From, To: t.To, Value: t.Text}, nil
	case Minus:
		num := p.peekAt(1)
		if num.Kind != Number {
			p.advance()
			return nil, unexpected(num, "number after '-'")
		}
		p.advance()
		p.advance()
		return &Node{Kind: NumberLit, From: t.From, To: num.To, Value: "-" + num.Text}, nil
	case String:
		p.advance()
		return &Node{Kind: StringLit, From: t.From, To: t.To, Value: t.Value}, nil
	case Ident:
		if p.peekAt(1).Kind != Dot {
			switch t.Text {
			case "true", "false":
				p.advance()
				return &Node{Kind: BoolLit, From: t.From, To: t.To, Value: t.Text}, nil
			case "nil":
				p.advance()
				return &Node{Kind: NilLit, From: t.From, To: t.To, Value: t.Text}, nil
			}
		}
		return p.ref()
	default:
		return nil, unexpected(t, "value")
	}
}

// --- expression mode ---

const (
	precOr  = 1
	precAnd = 2
)

func binaryPrec(k TokenKind) int {
	switch k {
	case OrOr:
		return precOr
	case AndAnd:
		return precAnd
	default:
		return 0
	}
}

func (p *parser) expressionProgram() *Node {
	prog := &Node{Kind: ExpressionProgram}
	if p.at(EOF) {
		return prog
	}
	prog.Children = append(prog.Children, p.expr(precOr))
	if !p.at(EOF) {
		t := p.peek()
		for !p.at(EOF) {
			p.advance()
		}
		msg := fmt.Sprintf("unexpected %s", describe(t))
		if t.Kind == Illegal {
			msg = t.Err
		}
		prog.Children = append(prog.Children, &Node{Kind: ErrorNode, From: t.From, To: p.lastEnd, Err: msg})
	}
	return prog
}

// expr is a precedence climber over || and &&; both are left-associative.
func (p *parser) expr(minPrec int) *Node {
	left := p.comparison()
	for {
		op := p.peek()
		prec := binaryPrec(op.Kind)
		if prec == 0 || prec < minPrec {
			return left
		}
		p.advance()
		right := p.expr(prec + 1)
		left = &Node{
			Kind:     BinaryExpr,
			From:     left.From,
			To:       right.To,
			Op:       op.Kind,
			Children: []*Node{left, right},
		}
	}
}

func (p *parser) comparison() *Node {
	left := p.unary()
	op := p.peek()
	if !op.Kind.IsComparison() {
		return left
	}
	p.advance()
	right := p.unary()
	return &Node{
		Kind:     Comparison,
		From:     left.From,
		To:       right.To,
		Op:       op.Kind,
		Children: []*Node{left, right},
	}
}

func (p *parser) unary() *Node {
	if p.at(Bang) {
		bang := p.advance()
		x := p.unary()
		return &Node{Kind: NotExpr, From: bang.From, To: x.To, Children: []*Node{x}}
	}
	return p.primary()
}

func (p *parser) primary() *Node {
	t := p.peek()
	switch {
	case t.Kind == LParen:
		p.advance()
		inner := p.expr(precOr)
		n := &Node{Kind: ParenExpr, From: t.From, Children: []*Node{inner}}
		if p.at(RParen) {
			n.To = p.advance().To
		} else {
			n.To = inner.To
			n.Children = append(n.Children, &Node{Kind: ErrorNode, From: t.From, To: t.To, Err: "unclosed '('"})
		}
		return n
	case t.Kind == Ident && p.peekAt(1).Kind == LParen:
		return p.call()
	}
	return p.operand()
}

// operand parses a value, turning a failure into an error node. The
// offending token is consumed unless it can close or continue an
// enclosing construct.
func (p *parser) operand() *Node {
	start := p.peek()
	n, err := p.value()
	if err == nil {
		return n
	}
	failed := p.peek()
	switch failed.Kind {
	case EOF, RParen, Comma, AndAnd, OrOr:
	default:
		if p.peek() == start || failed.Kind == Illegal {
			p.advance()
		}
	}
	return p.errorNode(start.From, failed, err.Error())
}

func (p *parser) call() *Node {
	name := p.advance()
	open := p.advance()
	n := &Node{Kind: CallExpr, From: name.From, Value: name.Text}
	if !p.at(RParen) {
		for {
			n.Children = append(n.Children, p.operand())
			if !p.at(Comma) {
				break
			}
			p.advance()
		}
	}
	if p.at(RParen) {
		n.To = p.advance().To
	} else {
		n.To = p.lastEnd
		n.Children = append(n.Children, &Node{Kind: ErrorNode, From: open.From, To: open.To, Err: "unclosed '(' in call to " + name.Text})
	}
	return n
}
