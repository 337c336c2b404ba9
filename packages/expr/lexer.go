package expr

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokName
	tokInt
	tokFloat
	tokString
	tokOp
)

type token struct {
	kind tokenKind
	text string
	val  any
	pos  int
}

var keywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "is": true,
	"if": true, "else": true, "for": true,
	"True": true, "False": true, "None": true,
	"true": true, "false": true, "null": true,
	"lambda": true,
}

// Longest operators first so "**" wins over "*".
var operators = []string{
	"**", "//", "==", "!=", "<=", ">=",
	"<", ">", "+", "-", "*", "/", "%",
	"(", ")", "[", "]", "{", "}", ",", ":", ".", "=",
}

type lexer struct {
	src    string
	pos    int
	tokens []token
}

func tokenize(src string) ([]token, error) {
	lx := &lexer{src: src}
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		lx.tokens = append(lx.tokens, tok)
		if tok.kind == tokEOF {
			return lx.tokens, nil
		}
	}
}

func (lx *lexer) next() (token, error) {
	for lx.pos < len(lx.src) {
		r, size := utf8.DecodeRuneInString(lx.src[lx.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		lx.pos += size
	}
	if lx.pos >= len(lx.src) {
		return token{kind: tokEOF, pos: lx.pos}, nil
	}

	start := lx.pos
	c := lx.src[lx.pos]
	switch {
	case c == '"' || c == '\'':
		return lx.lexString(c)
	case c >= '0' && c <= '9':
		return lx.lexNumber()
	case c == '.' && lx.pos+1 < len(lx.src) && isDigit(lx.src[lx.pos+1]):
		return lx.lexNumber()
	case c == '_' || isLetter(c):
		for lx.pos < len(lx.src) && (lx.src[lx.pos] == '_' || isLetter(lx.src[lx.pos]) || isDigit(lx.src[lx.pos])) {
			lx.pos++
		}
		return token{kind: tokName, text: lx.src[start:lx.pos], pos: start}, nil
	}

	for _, op := range operators {
		if strings.HasPrefix(lx.src[lx.pos:], op) {
			lx.pos += len(op)
			return token{kind: tokOp, text: op, pos: start}, nil
		}
	}
	r, _ := utf8.DecodeRuneInString(lx.src[lx.pos:])
	return token{}, syntaxError(lx.src, start, "unexpected character %q", r)
}

func (lx *lexer) lexNumber() (token, error) {
	start := lx.pos
	isFloat := false
	for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
		lx.pos++
	}
	if lx.pos < len(lx.src) && lx.src[lx.pos] == '.' &&
		!(lx.pos+1 < len(lx.src) && isLetter(lx.src[lx.pos+1])) {
		isFloat = true
		lx.pos++
		for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
			lx.pos++
		}
	}
	if lx.pos < len(lx.src) && (lx.src[lx.pos] == 'e' || lx.src[lx.pos] == 'E') {
		p := lx.pos + 1
		if p < len(lx.src) && (lx.src[p] == '+' || lx.src[p] == '-') {
			p++
		}
		if p < len(lx.src) && isDigit(lx.src[p]) {
			isFloat = true
			lx.pos = p
			for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
				lx.pos++
			}
		}
	}

	text := lx.src[start:lx.pos]
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return token{}, syntaxError(lx.src, start, "invalid number %q", text)
		}
		return token{kind: tokFloat, text: text, val: f, pos: start}, nil
	}
	i, err := strconv.Atoi(text)
	if err != nil {
		f, ferr := strconv.ParseFloat(text, 64)
		if ferr != nil {
			return token{}, syntaxError(lx.src, start, "invalid number %q", text)
		}
		return token{kind: tokFloat, text: text, val: f, pos: start}, nil
	}
	return token{kind: tokInt, text: text, val: i, pos: start}, nil
}

func (lx *lexer) lexString(quote byte) (token, error) {
	start := lx.pos
	lx.pos++
	var sb strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == quote:
			lx.pos++
			return token{kind: tokString, text: lx.src[start:lx.pos], val: sb.String(), pos: start}, nil
		case c == '\\':
			if lx.pos+1 >= len(lx.src) {
				return token{}, syntaxError(lx.src, lx.pos, "unterminated escape")
			}
			lx.pos++
			if err := lx.escape(&sb); err != nil {
				return token{}, err
			}
		default:
			sb.WriteByte(c)
			lx.pos++
		}
	}
	return token{}, syntaxError(lx.src, start, "unterminated string")
}

func (lx *lexer) escape(sb *strings.Builder) error {
	c := lx.src[lx.pos]
	lx.pos++
	switch c {
	case 'n':
		sb.WriteByte('\n')
	case 't':
		sb.WriteByte('\t')
	case 'r':
		sb.WriteByte('\r')
	case '0':
		sb.WriteByte(0)
	case '\\', '\'', '"':
		sb.WriteByte(c)
	case 'u':
		if lx.pos+4 > len(lx.src) {
			return syntaxError(lx.src, lx.pos, "truncated \\u escape")
		}
		n, err := strconv.ParseUint(lx.src[lx.pos:lx.pos+4], 16, 32)
		if err != nil {
			return syntaxError(lx.src, lx.pos, "invalid \\u escape")
		}
		sb.WriteRune(rune(n))
		lx.pos += 4
	default:
		sb.WriteByte('\\')
		sb.WriteByte(c)
	}
	return nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
