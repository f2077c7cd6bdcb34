// Lexer for the SELECT-only dialect described in spec §4.4. Grounded
// stylistically on the teacher's sqldriver package (a switch-driven,
// single-pass scanner), rewritten from scratch since the teacher lexes
// through github.com/xwb1989/sqlparser rather than a hand-rolled scanner
// (see DESIGN.md "Dropped teacher dependencies").
package query

import (
	"strings"
	"unicode"

	"github.com/oarkflow/emberdb/errs"
)

// Lex tokenises src into a token stream terminated by EOF.
func Lex(src string) ([]Token, error) {
	l := &lexer{src: []rune(src)}
	return l.run()
}

type lexer struct {
	src []rune
	pos int
}

func (l *lexer) run() ([]Token, error) {
	var tokens []Token
	for {
		l.skipSpace()
		if l.atEnd() {
			tokens = append(tokens, Token{Kind: EOF})
			return tokens, nil
		}

		c := l.peek()
		switch {
		case c == '\'':
			tok, err := l.lexString()
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
		case unicode.IsDigit(c):
			tokens = append(tokens, l.lexNumber())
		case isIdentStart(c):
			tok := l.lexIdentOrKeyword()
			if tok.Kind == ORDERBY {
				// already consumed both words
			}
			tokens = append(tokens, tok)
		default:
			tok, err := l.lexPunctOrOperator()
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
		}
	}
}

func (l *lexer) atEnd() bool { return l.pos >= len(l.src) }
func (l *lexer) peek() rune {
	if l.atEnd() {
		return 0
	}
	return l.src[l.pos]
}
func (l *lexer) peekAt(offset int) rune {
	idx := l.pos + offset
	if idx >= len(l.src) {
		return 0
	}
	return l.src[idx]
}

func (l *lexer) skipSpace() {
	for !l.atEnd() && unicode.IsSpace(l.peek()) {
		l.pos++
	}
}

func isIdentStart(c rune) bool {
	return unicode.IsLetter(c) || c == '_'
}
func isIdentPart(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}

func (l *lexer) lexString() (Token, error) {
	l.pos++ // opening quote
	var sb strings.Builder
	for {
		if l.atEnd() {
			return Token{}, errs.New(errs.InvalidInput, "query: unterminated string literal")
		}
		c := l.src[l.pos]
		if c == '\'' {
			if l.peekAt(1) == '\'' { // doubled-quote escape
				sb.WriteRune('\'')
				l.pos += 2
				continue
			}
			l.pos++
			break
		}
		sb.WriteRune(c)
		l.pos++
	}
	return Token{Kind: STRING, Literal: sb.String()}, nil
}

func (l *lexer) lexNumber() Token {
	start := l.pos
	isFloat := false
	for !l.atEnd() && unicode.IsDigit(l.peek()) {
		l.pos++
	}
	if !l.atEnd() && l.peek() == '.' && unicode.IsDigit(l.peekAt(1)) {
		isFloat = true
		l.pos++
		for !l.atEnd() && unicode.IsDigit(l.peek()) {
			l.pos++
		}
	}
	lit := string(l.src[start:l.pos])
	if isFloat {
		return Token{Kind: FLOAT, Literal: lit}
	}
	return Token{Kind: INT, Literal: lit}
}

func (l *lexer) lexIdentOrKeyword() Token {
	start := l.pos
	for !l.atEnd() && isIdentPart(l.peek()) {
		l.pos++
	}
	// allow a dotted qualified identifier, e.g. users.id
	for !l.atEnd() && l.peek() == '.' && isIdentStart(l.peekAt(1)) {
		l.pos++
		for !l.atEnd() && isIdentPart(l.peek()) {
			l.pos++
		}
	}
	word := string(l.src[start:l.pos])
	lower := strings.ToLower(word)

	if lower == "order" {
		save := l.pos
		l.skipSpace()
		peekStart := l.pos
		for !l.atEnd() && isIdentPart(l.peek()) {
			l.pos++
		}
		next := strings.ToLower(string(l.src[peekStart:l.pos]))
		if next == "by" {
			return Token{Kind: ORDERBY, Literal: "order by"}
		}
		l.pos = save
	}

	if kind, ok := keywords[lower]; ok {
		return Token{Kind: kind, Literal: word}
	}
	return Token{Kind: IDENT, Literal: word}
}

func (l *lexer) lexPunctOrOperator() (Token, error) {
	c := l.peek()
	switch c {
	case '*':
		l.pos++
		return Token{Kind: STAR, Literal: "*"}, nil
	case ',':
		l.pos++
		return Token{Kind: COMMA, Literal: ","}, nil
	case '(':
		l.pos++
		return Token{Kind: LPAREN, Literal: "("}, nil
	case ')':
		l.pos++
		return Token{Kind: RPAREN, Literal: ")"}, nil
	case '.':
		l.pos++
		return Token{Kind: DOT, Literal: "."}, nil
	case '=':
		l.pos++
		return Token{Kind: EQ, Literal: "="}, nil
	case '!':
		if l.peekAt(1) == '=' {
			l.pos += 2
			return Token{Kind: NEQ, Literal: "!="}, nil
		}
	case '<':
		if l.peekAt(1) == '=' {
			l.pos += 2
			return Token{Kind: LTE, Literal: "<="}, nil
		}
		if l.peekAt(1) == '>' {
			l.pos += 2
			return Token{Kind: NEQ, Literal: "<>"}, nil
		}
		l.pos++
		return Token{Kind: LT, Literal: "<"}, nil
	case '>':
		if l.peekAt(1) == '=' {
			l.pos += 2
			return Token{Kind: GTE, Literal: ">="}, nil
		}
		l.pos++
		return Token{Kind: GT, Literal: ">"}, nil
	}
	return Token{}, errs.Newf(errs.InvalidInput, "query: unexpected character %q", c)
}
