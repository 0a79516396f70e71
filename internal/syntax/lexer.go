package syntax

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind is the lexical class of a token.
type TokenKind int

const (
	EOF TokenKind = iota
	Illegal

	Ident
	Number
	String

	Dot
	Comma
	Semicolon
	Newline
	LParen
	RParen
	Minus

	Assign         // =
	PlusAssign     // +=
	MinusAssign    // -=
	QuestionAssign // ?=

	Eq    // ==
	NotEq // !=
	Gt    // >
	Lt    // <
	Ge    // >=
	Le    // <=

	AndAnd // &&
	OrOr   // ||
	Bang   // !
)

var tokenNames = [...]string{
	EOF:            "end of input",
	Illegal:        "illegal",
	Ident:          "identifier",
	Number:         "number",
	String:         "string",
	Dot:            "'.'",
	Comma:          "','",
	Semicolon:      "';'",
	Newline:        "newline",
	LParen:         "'('",
	RParen:         "')'",
	Minus:          "'-'",
	Assign:         "'='",
	PlusAssign:     "'+='",
	MinusAssign:    "'-='",
	QuestionAssign: "'?='",
	Eq:             "'=='",
	NotEq:          "'!='",
	Gt:             "'>'",
	Lt:             "'<'",
	Ge:             "'>='",
	Le:             "'<='",
	AndAnd:         "'&&'",
	OrOr:           "'||'",
	Bang:           "'!'",
}

func (k TokenKind) String() string {
	if int(k) < len(tokenNames) && tokenNames[k] != "" {
		return tokenNames[k]
	}
	return fmt.Sprintf("token(%d)", int(k))
}

// IsComparison reports whether k is one of == != > < >= <=.
func (k TokenKind) IsComparison() bool {
	switch k {
	case Eq, NotEq, Gt, Lt, Ge, Le:
		return true
	default:
		return false
	}
}

// IsAssign reports whether k is one of = += -= ?=.
func (k TokenKind) IsAssign() bool {
	switch k {
	case Assign, PlusAssign, MinusAssign, QuestionAssign:
		return true
	default:
		return false
	}
}

// Token is a lexeme with its byte span [From, To) in the source.
// For String tokens Value holds the decoded contents; Err is set on
// Illegal tokens.
type Token struct {
	Kind  TokenKind
	From  int
	To    int
	Text  string
	Value string
	Err   string
}

// Lex splits src into tokens. Comments and blank space are dropped;
// newlines are kept because they separate assignment statements.
// The final token is always EOF.
func Lex(src string) []Token {
	l := &lexer{src: src}
	for {
		tok := l.next()
		l.tokens = append(l.tokens, tok)
		if tok.Kind == EOF {
			return l.tokens
		}
	}
}

type lexer struct {
	src    string
	pos    int
	tokens []Token
}

func (l *lexer) peekByte(offset int) byte {
	if l.pos+offset >= len(l.src) {
		return 0
	}
	return l.src[l.pos+offset]
}

func (l *lexer) token(kind TokenKind, from int) Token {
	return Token{Kind: kind, From: from, To: l.pos, Text: l.src[from:l.pos]}
}

func (l *lexer) next() Token {
	l.skipSpaceAndComments()
	from := l.pos
	if l.pos >= len(l.src) {
		return Token{Kind: EOF, From: from, To: from}
	}

	c := l.src[l.pos]
	switch {
	case c == '\n':
		l.pos++
		return l.token(Newline, from)
	case c == '"' || c == '\'':
		return l.scanString()
	case isDigit(c):
		return l.scanNumber()
	case c == '.' && isDigit(l.peekByte(1)):
		return l.scanNumber()
	}

	if r, size := utf8.DecodeRuneInString(l.src[l.pos:]); isIdentStart(r) {
		l.pos += size
		l.scanIdentTail()
		return l.token(Ident, from)
	}

	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	if kind, ok := twoCharTokens[two]; ok {
		l.pos += 2
		return l.token(kind, from)
	}
	if kind, ok := oneCharTokens[c]; ok {
		l.pos++
		return l.token(kind, from)
	}

	_, size := utf8.DecodeRuneInString(l.src[l.pos:])
	l.pos += size
	tok := l.token(Illegal, from)
	tok.Err = fmt.Sprintf("unexpected character %q", tok.Text)
	return tok
}

var twoCharTokens = map[string]TokenKind{
	"+=": PlusAssign,
	"-=": MinusAssign,
	"?=": QuestionAssign,
	"==": Eq,
	"!=": NotEq,
	">=": Ge,
	"<=": Le,
	"&&": AndAnd,
	"||": OrOr,
}

var oneCharTokens = map[byte]TokenKind{
	'.': Dot,
	',': Comma,
	';': Semicolon,
	'(': LParen,
	')': RParen,
	'-': Minus,
	'=': Assign,
	'>': Gt,
	'<': Lt,
	'!': Bang,
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '/' && l.peekByte(1) == '/':
			// line comment; the newline itself is a token
			if i := strings.IndexByte(l.src[l.pos:], '\n'); i >= 0 {
				l.pos += i
			} else {
				l.pos = len(l.src)
			}
		default:
			r, size := utf8.DecodeRuneInString(l.src[l.pos:])
			if r != '\n' && unicode.IsSpace(r) {
				l.pos += size
				continue
			}
			return
		}
	}
}

func (l *lexer) scanIdentTail() {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !isIdentPart(r) {
			return
		}
		l.pos += size
	}
}

func (l *lexer) scanNumber() Token {
	from := l.pos
	for isDigit(l.peekByte(0)) {
		l.pos++
	}
	if l.peekByte(0) == '.' && isDigit(l.peekByte(1)) {
		l.pos++
		for isDigit(l.peekByte(0)) {
			l.pos++
		}
	}
	return l.token(Number, from)
}

// scanString reads a single- or double-quoted literal with backslash
// escapes. An unterminated literal becomes an Illegal token running to the
// end of the line.
func (l *lexer) scanString() Token {
	from := l.pos
	quote := l.src[l.pos]
	l.pos++

	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == quote:
			l.pos++
			tok := l.token(String, from)
			tok.Value = b.String()
			return tok
		case c == '\n':
			return l.unterminated(from)
		case c == '\\' && l.pos+1 < len(l.src):
			l.pos++
			switch esc := l.src[l.pos]; esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(esc)
			}
			l.pos++
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	return l.unterminated(from)
}

func (l *lexer) unterminated(from int) Token {
	tok := l.token(Illegal, from)
	tok.Err = "unterminated string literal"
	return tok
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
