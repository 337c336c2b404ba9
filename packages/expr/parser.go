package expr

const maxNesting = 100

type parser struct {
	src    string
	tokens []token
	pos    int
	depth  int
}

func parse(src string) (node, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, tokens: tokens}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected %q", tok.text)
	}
	return n, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) advance() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) isOp(text string) bool {
	tok := p.peek()
	return tok.kind == tokOp && tok.text == text
}

func (p *parser) isKeyword(text string) bool {
	tok := p.peek()
	return tok.kind == tokName && tok.text == text
}

func (p *parser) expectOp(text string) (token, error) {
	if !p.isOp(text) {
		tok := p.peek()
		if tok.kind == tokEOF {
			return tok, p.errorf(tok, "expected %q, found end of expression", text)
		}
		return tok, p.errorf(tok, "expected %q, found %q", text, tok.text)
	}
	return p.advance(), nil
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return syntaxError(p.src, tok.pos, format, args...)
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxNesting {
		e := newError(KindTooComplex, p.peek().pos, "nesting deeper than %d levels", maxNesting)
		e.Expr = p.src
		return e
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// parseExpr parses a conditional expression: x if cond else y.
func (p *parser) parseExpr() (node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	if p.isKeyword("lambda") {
		return nil, p.errorf(p.peek(), "lambda is not supported")
	}

	x, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("if") {
		return x, nil
	}
	at := p.advance().pos
	test, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("else") {
		return nil, p.errorf(p.peek(), "expected 'else' in conditional expression")
	}
	p.advance()
	els, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &conditional{at: at, then: x, test: test, els: els}, nil
}

func (p *parser) parseOr() (node, error) {
	x, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		at := p.advance().pos
		y, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		x = &boolOp{at: at, op: "or", x: x, y: y}
	}
	return x, nil
}

func (p *parser) parseAnd() (node, error) {
	x, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		at := p.advance().pos
		y, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		x = &boolOp{at: at, op: "and", x: x, y: y}
	}
	return x, nil
}

func (p *parser) parseNot() (node, error) {
	if p.isKeyword("not") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		at := p.advance().pos
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unary{at: at, op: "not", x: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) compareOp() (string, bool) {
	tok := p.peek()
	switch {
	case tok.kind == tokOp:
		switch tok.text {
		case "==", "!=", "<", "<=", ">", ">=":
			p.advance()
			return tok.text, true
		}
	case tok.kind == tokName && tok.text == "in":
		p.advance()
		return "in", true
	case tok.kind == tokName && tok.text == "not":
		next := p.tokens[p.pos+1]
		if next.kind == tokName && next.text == "in" {
			p.pos += 2
			return "not in", true
		}
	case tok.kind == tokName && tok.text == "is":
		p.advance()
		if p.isKeyword("not") {
			p.advance()
			return "is not", true
		}
		return "is", true
	}
	return "", false
}

func (p *parser) parseComparison() (node, error) {
	x, err := p.parseArith()
	if err != nil {
		return nil, err
	}
	var cmp *compare
	for {
		at := p.peek().pos
		op, ok := p.compareOp()
		if !ok {
			break
		}
		y, err := p.parseArith()
		if err != nil {
			return nil, err
		}
		if cmp == nil {
			cmp = &compare{at: at, x: x}
		}
		cmp.ops = append(cmp.ops, op)
		cmp.ys = append(cmp.ys, y)
	}
	if cmp == nil {
		return x, nil
	}
	return cmp, nil
}

func (p *parser) parseArith() (node, error) {
	x, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		tok := p.advance()
		y, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		x = &binary{at: tok.pos, op: tok.text, x: x, y: y}
	}
	return x, nil
}

func (p *parser) parseTerm() (node, error) {
	x, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("//") || p.isOp("%") {
		tok := p.advance()
		y, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		x = &binary{at: tok.pos, op: tok.text, x: x, y: y}
	}
	return x, nil
}

func (p *parser) parseFactor() (node, error) {
	if p.isOp("-") || p.isOp("+") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		tok := p.advance()
		x, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &unary{at: tok.pos, op: tok.text, x: x}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (node, error) {
	x, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if p.isOp("**") {
		tok := p.advance()
		y, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &binary{at: tok.pos, op: "**", x: x, y: y}, nil
	}
	return x, nil
}

func (p *parser) parsePostfix() (node, error) {
	x, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isOp("."):
			p.advance()
			tok := p.advance()
			if tok.kind != tokName || keywords[tok.text] {
				return nil, p.errorf(tok, "expected attribute name after '.'")
			}
			x = &attr{at: tok.pos, x: x, name: tok.text}
		case p.isOp("["):
			at := p.advance().pos
			x, err = p.parseSubscript(x, at)
			if err != nil {
				return nil, err
			}
		case p.isOp("("):
			at := p.advance().pos
			x, err = p.parseCall(x, at)
			if err != nil {
				return nil, err
			}
		default:
			return x, nil
		}
	}
}

func (p *parser) parseSubscript(x node, at int) (node, error) {
	var parts [3]node
	n := 0
	isSlice := false
	for {
		if !p.isOp(":") && !p.isOp("]") {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			parts[n] = e
		}
		if p.isOp(":") {
			if n == 2 {
				return nil, p.errorf(p.peek(), "too many ':' in slice")
			}
			isSlice = true
			p.advance()
			n++
			continue
		}
		break
	}
	if _, err := p.expectOp("]"); err != nil {
		return nil, err
	}
	if !isSlice {
		if parts[0] == nil {
			return nil, syntaxError(p.src, at, "empty subscript")
		}
		return &index{at: at, x: x, idx: parts[0]}, nil
	}
	return &slice{at: at, x: x, lo: parts[0], hi: parts[1], step: parts[2]}, nil
}


func (p *parser) parseCall(fn node, at int) (node, error) {
	c := &call{at: at, fn: fn}
	for !p.isOp(")") {
		tok := p.peek()
		if tok.kind == tokName && !keywords[tok.text] && p.tokens[p.pos+1].kind == tokOp && p.tokens[p.pos+1].text == "=" {
			p.pos += 2
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			c.kwargs = append(c.kwargs, kwarg{name: tok.text, value: v})
		} else {
			if len(c.kwargs) > 0 {
				return nil, p.errorf(tok, "positional argument follows keyword argument")
			}
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if p.isKeyword("for") {
				v, err = p.parseComprehension("list", v.pos(), nil, v)
				if err != nil {
					return nil, err
				}
			}
			c.args = append(c.args, v)
		}
		if !p.isOp(",") {
			break
		}
		p.advance()
	}
	if _, err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *parser) parseAtom() (node, error) {
	tok := p.peek()
	switch tok.kind {
	case tokInt, tokFloat, tokString:
		p.advance()
		return &literal{at: tok.pos, value: tok.val}, nil
	case tokName:
		p.advance()
		switch tok.text {
		case "True", "true":
			return &literal{at: tok.pos, value: true}, nil
		case "False", "false":
			return &literal{at: tok.pos, value: false}, nil
		case "None", "null":
			return &literal{at: tok.pos, value: nil}, nil
		}
		if keywords[tok.text] {
			return nil, p.errorf(tok, "unexpected keyword %q", tok.text)
		}
		return &name{at: tok.pos, ident: tok.text}, nil
	case tokOp:
		switch tok.text {
		case "(":
			return p.parseParen()
		case "[":
			return p.parseList()
		case "{":
			return p.parseBrace()
		}
	case tokEOF:
		return nil, p.errorf(tok, "unexpected end of expression")
	}
	return nil, p.errorf(tok, "unexpected %q", tok.text)
}

// parseParen handles grouping, tuples (evaluated as lists) and generator
// expressions (evaluated as list comprehensions).
func (p *parser) parseParen() (node, error) {
	at := p.advance().pos
	if p.isOp(")") {
		p.advance()
		return &listLit{at: at}, nil
	}
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.isKeyword("for") {
		comp, err := p.parseComprehension("list", at, nil, first)
		if err != nil {
			return nil, err
		}
		if _, err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return comp, nil
	}
	if !p.isOp(",") {
		if _, err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return first, nil
	}
	elems := []node{first}
	for p.isOp(",") {
		p.advance()
		if p.isOp(")") {
			break
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	if _, err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return &listLit{at: at, elems: elems}, nil
}

func (p *parser) parseList() (node, error) {
	at := p.advance().pos
	if p.isOp("]") {
		p.advance()
		return &listLit{at: at}, nil
	}
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.isKeyword("for") {
		comp, err := p.parseComprehension("list", at, nil, first)
		if err != nil {
			return nil, err
		}
		if _, err := p.expectOp("]"); err != nil {
			return nil, err
		}
		return comp, nil
	}
	elems, err := p.parseRest(first, "]")
	if err != nil {
		return nil, err
	}
	return &listLit{at: at, elems: elems}, nil
}

func (p *parser) parseBrace() (node, error) {
	at := p.advance().pos
	if p.isOp("}") {
		p.advance()
		return &dictLit{at: at}, nil
	}
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	if !p.isOp(":") {
		if p.isKeyword("for") {
			comp, err := p.parseComprehension("set", at, nil, first)
			if err != nil {
				return nil, err
			}
			if _, err := p.expectOp("}"); err != nil {
				return nil, err
			}
			return comp, nil
		}
		elems, err := p.parseRest(first, "}")
		if err != nil {
			return nil, err
		}
		return &setLit{at: at, elems: elems}, nil
	}

	p.advance()
	value, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.isKeyword("for") {
		comp, err := p.parseComprehension("dict", at, first, value)
		if err != nil {
			return nil, err
		}
		if _, err := p.expectOp("}"); err != nil {
			return nil, err
		}
		return comp, nil
	}

	d := &dictLit{at: at, keys: []node{first}, values: []node{value}}
	for p.isOp(",") {
		p.advance()
		if p.isOp("}") {
			break
		}
		k, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectOp(":"); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		d.keys = append(d.keys, k)
		d.values = append(d.values, v)
	}
	if _, err := p.expectOp("}"); err != nil {
		return nil, err
	}
	return d, nil
}

// parseRest collects the remaining comma separated elements of a display.
func (p *parser) parseRest(first node, closer string) ([]node, error) {
	elems := []node{first}
	for p.isOp(",") {
		p.advance()
		if p.isOp(closer) {
			break
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	if _, err := p.expectOp(closer); err != nil {
		return nil, err
	}
	return elems, nil
}

func (p *parser) parseComprehension(kind string, at int, key, elem node) (node, error) {
	comp := &comprehension{at: at, kind: kind, key: key, elem: elem}
	for p.isKeyword("for") {
		p.advance()
		targets, err := p.parseTargets()
		if err != nil {
			return nil, err
		}
		if !p.isKeyword("in") {
			return nil, p.errorf(p.peek(), "expected 'in' in comprehension")
		}
		p.advance()
		iter, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		clause := compClause{targets: targets, iter: iter}
		for p.isKeyword("if") {
			p.advance()
			cond, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			clause.conds = append(clause.conds, cond)
		}
		comp.clauses = append(comp.clauses, clause)
	}
	return comp, nil
}

func (p *parser) parseTargets() ([]string, error) {
	paren := p.isOp("(")
	if paren {
		p.advance()
	}
	var targets []string
	for {
		tok := p.advance()
		if tok.kind != tokName || keywords[tok.text] {
			return nil, p.errorf(tok, "expected loop variable name")
		}
		targets = append(targets, tok.text)
		if !p.isOp(",") {
			break
		}
		p.advance()
	}
	if paren {
		if _, err := p.expectOp(")"); err != nil {
			return nil, err
		}
	}
	return targets, nil
}
