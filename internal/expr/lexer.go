package expr

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
	tokEq
	tokNe
	tokGt
	tokLt
	tokGe
	tokLe
	tokPlus
	tokMinus
	tokMul
	tokDiv
)

var tokenNames = map[tokenKind]string{
	tokEOF:    "end of expression",
	tokNumber: "number",
	tokString: "string",
	tokIdent:  "attribute",
	tokLParen: "(",
	tokRParen: ")",
	tokAnd:    "&",
	tokOr:     "|",
	tokNot:    "!",
	tokEq:     "=",
	tokNe:     "!=",
	tokGt:     ">",
	tokLt:     "<",
	tokGe:     ">=",
	tokLe:     "<=",
	tokPlus:   "+",
	tokMinus:  "-",
	tokMul:    "*",
	tokDiv:    "/",
}

func (k tokenKind) String() string {
	return tokenNames[k]
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits src into tokens. The returned slice always ends with a tokEOF token.
func lex(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			i = scanNumber(src, i)
			tokens = append(tokens, token{kind: tokNumber, text: src[start:i], pos: start})
		case c == '"' || c == '\'':
			text, next, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: text, pos: i})
			i = next
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: src[start:i], pos: start})
		default:
			kind, width := operator(src[i:])
			if width == 0 {
				return nil, &Error{Expr: src, Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
			}
			tokens = append(tokens, token{kind: kind, text: src[i : i+width], pos: i})
			i += width
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(src)}), nil
}

func operator(s string) (tokenKind, int) {
	if len(s) >= 2 {
		switch s[:2] {
		case "!=":
			return tokNe, 2
		case ">=":
			return tokGe, 2
		case "<=":
			return tokLe, 2
		case "==":
			return tokEq, 2
		case "&&":
			return tokAnd, 2
		case "||":
			return tokOr, 2
		}
	}
	switch s[0] {
	case '(':
		return tokLParen, 1
	case ')':
		return tokRParen, 1
	case '&':
		return tokAnd, 1
	case '|':
		return tokOr, 1
	case '!':
		return tokNot, 1
	case '=':
		return tokEq, 1
	case '>':
		return tokGt, 1
	case '<':
		return tokLt, 1
	case '+':
		return tokPlus, 1
	case '-':
		return tokMinus, 1
	case '*':
		return tokMul, 1
	case '/':
		return tokDiv, 1
	}
	return tokEOF, 0
}

func scanNumber(src string, i int) int {
	for i < len(src) && isDigit(src[i]) {
		i++
	}
	if i < len(src) && src[i] == '.' {
		i++
		for i < len(src) && isDigit(src[i]) {
			i++
		}
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && isDigit(src[j]) {
			for j < len(src) && isDigit(src[j]) {
				j++
			}
			i = j
		}
	}
	return i
}

// scanString reads a quoted literal starting at src[i]. Backslash escapes the next byte.
func scanString(src string, i int) (string, int, error) {
	quote := src[i]
	var b strings.Builder
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			if j+1 < len(src) {
				j++
				b.WriteByte(src[j])
			}
		case quote:
			return b.String(), j + 1, nil
		default:
			b.WriteByte(src[j])
		}
	}
	return "", 0, &Error{Expr: src, Pos: i, Msg: "unterminated string"}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
