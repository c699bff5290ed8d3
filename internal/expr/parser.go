package expr

import "strconv"

// Limits applied to untrusted expressions.
const (
	MaxLength = 4096
	MaxDepth  = 64
)

type parser struct {
	src    string
	tokens []token
	pos    int
	depth  int
}

func parse(src string) (node, error) {
	if len(src) > MaxLength {
		return nil, &Error{Expr: src[:64] + "...", Pos: MaxLength, Msg: "expression too long"}
	}
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, tokens: tokens}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected %s", describe(tok))
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) enter(tok token) error {
	p.depth++
	if p.depth > MaxDepth {
		return p.errorf(tok, "expression nested too deeply")
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binary{op: tokOr, l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binary{op: tokAnd, l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	tok := p.peek()
	if tok.kind != tokNot {
		return p.parseComparison()
	}
	p.next()
	if err := p.enter(tok); err != nil {
		return nil, err
	}
	defer p.leave()
	x, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	return &unary{op: tokNot, x: x}, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	switch op := p.peek().kind; op {
	case tokEq, tokNe, tokGt, tokLt, tokGe, tokLe:
		p.next()
		right, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		return &binary{op: op, l: left, r: right}, nil
	}
	return left, nil
}

func (p *parser) parseSum() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek().kind
		if op != tokPlus && op != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binary{op: op, l: left, r: right}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek().kind
		if op != tokMul && op != tokDiv {
			return left, nil
		}
		p.next()
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &binary{op: op, l: left, r: right}
	}
}

func (p *parser) parseFactor() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokMinus:
		if err := p.enter(tok); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &unary{op: tokMinus, x: x}, nil
	case tokNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, p.errorf(tok, "malformed number %q", tok.text)
		}
		return &literal{val: Number(f)}, nil
	case tokString:
		return &literal{val: String(tok.text)}, nil
	case tokIdent:
		return &attrRef{name: tok.text}, nil
	case tokLParen:
		if err := p.enter(tok); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.errorf(closing, "expected ) but found %s", describe(closing))
		}
		return x, nil
	}
	return nil, p.errorf(tok, "unexpected %s", describe(tok))
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return newError(p.src, tok.pos, format, args...)
}

func describe(tok token) string {
	switch tok.kind {
	case tokEOF:
		return tok.kind.String()
	case tokNumber, tokString, tokIdent:
		return tok.kind.String() + " " + strconv.Quote(tok.text)
	}
	return strconv.Quote(tok.text)
}
