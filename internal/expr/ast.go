package expr

import (
	"fmt"
	"path"
	"strings"
)

// node is an expression tree node. Evaluation never mutates the resolver.
type node interface {
	eval(r Resolver) (Value, error)
	String() string
}

type literal struct {
	val Value
}

func (n *literal) eval(Resolver) (Value, error) { return n.val, nil }

func (n *literal) String() string {
	if n.val.Kind == KindString {
		return fmt.Sprintf("%q", n.val.Str)
	}
	return n.val.asString()
}

type attrRef struct {
	name string
}

func (n *attrRef) eval(r Resolver) (Value, error) {
	if r == nil {
		return Unknown, nil
	}
	v, ok := r.Resolve(n.name)
	if !ok {
		return Unknown, nil
	}
	return v, nil
}

func (n *attrRef) String() string { return n.name }

type unary struct {
	op tokenKind
	x  node
}

func (n *unary) eval(r Resolver) (Value, error) {
	v, err := n.x.eval(r)
	if err != nil {
		return Value{}, err
	}
	switch n.op {
	case tokNot:
		b, err := asBool(v, n.x)
		if err != nil {
			return Value{}, err
		}
		return Bool(!b), nil
	case tokMinus:
		f, ok := v.asNumber()
		if !ok {
			return Value{}, typeError("-", v, n.x)
		}
		return Number(-f), nil
	}
	return Value{}, fmt.Errorf("unsupported unary operator %s", n.op)
}

func (n *unary) String() string { return n.op.String() + n.x.String() }

type binary struct {
	op   tokenKind
	l, r node
}

func (n *binary) String() string {
	return "(" + n.l.String() + " " + n.op.String() + " " + n.r.String() + ")"
}

func (n *binary) eval(r Resolver) (Value, error) {
	switch n.op {
	case tokAnd, tokOr:
		return n.evalLogical(r)
	}

	lv, err := n.l.eval(r)
	if err != nil {
		return Value{}, err
	}
	rv, err := n.r.eval(r)
	if err != nil {
		return Value{}, err
	}

	switch n.op {
	case tokPlus, tokMinus, tokMul, tokDiv:
		return n.arith(lv, rv)
	default:
		return n.compare(lv, rv)
	}
}

func (n *binary) evalLogical(r Resolver) (Value, error) {
	lv, err := n.l.eval(r)
	if err != nil {
		return Value{}, err
	}
	lb, err := asBool(lv, n.l)
	if err != nil {
		return Value{}, err
	}
	if n.op == tokAnd && !lb {
		return Bool(false), nil
	}
	if n.op == tokOr && lb {
		return Bool(true), nil
	}
	rv, err := n.r.eval(r)
	if err != nil {
		return Value{}, err
	}
	rb, err := asBool(rv, n.r)
	if err != nil {
		return Value{}, err
	}
	return Bool(rb), nil
}

func (n *binary) arith(lv, rv Value) (Value, error) {
	a, ok := lv.asNumber()
	if !ok {
		return Value{}, typeError(n.op.String(), lv, n.l)
	}
	b, ok := rv.asNumber()
	if !ok {
		return Value{}, typeError(n.op.String(), rv, n.r)
	}
	switch n.op {
	case tokPlus:
		return Number(a + b), nil
	case tokMinus:
		return Number(a - b), nil
	case tokMul:
		return Number(a * b), nil
	default:
		if b == 0 {
			return Value{}, fmt.Errorf("division by zero in %s", n)
		}
		return Number(a / b), nil
	}
}

func (n *binary) compare(lv, rv Value) (Value, error) {
	lv, rv = unify(lv, rv)

	if lv.Kind == KindBool || rv.Kind == KindBool {
		if lv.Kind != rv.Kind || (n.op != tokEq && n.op != tokNe) {
			return Value{}, fmt.Errorf("cannot apply %s to %s and %s in %s", n.op, lv.Kind, rv.Kind, n)
		}
		return Bool((lv.Bool == rv.Bool) == (n.op == tokEq)), nil
	}

	if a, aok := lv.asNumber(); aok {
		if b, bok := rv.asNumber(); bok {
			return Bool(compareOrdered(n.op, cmpFloat(a, b))), nil
		}
	}

	ls, rs := lv.asString(), rv.asString()
	switch n.op {
	case tokEq:
		return Bool(globEqual(rs, ls)), nil
	case tokNe:
		return Bool(!globEqual(rs, ls)), nil
	default:
		return Bool(compareOrdered(n.op, strings.Compare(ls, rs))), nil
	}
}

// unify replaces an unknown operand with the zero value of the other operand's kind.
func unify(lv, rv Value) (Value, Value) {
	zero := func(k Kind) Value {
		switch k {
		case KindString:
			return String("")
		case KindBool:
			return Bool(false)
		default:
			return Number(0)
		}
	}
	if lv.Kind == KindUnknown {
		lv = zero(rv.Kind)
	}
	if rv.Kind == KindUnknown {
		rv = zero(lv.Kind)
	}
	return lv, rv
}

func compareOrdered(op tokenKind, c int) bool {
	switch op {
	case tokEq:
		return c == 0
	case tokNe:
		return c != 0
	case tokGt:
		return c > 0
	case tokLt:
		return c < 0
	case tokGe:
		return c >= 0
	case tokLe:
		return c <= 0
	}
	return false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// globEqual matches s against pattern with shell wildcards. A malformed pattern is
// compared literally.
func globEqual(pattern, s string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == s
	}
	ok, err := path.Match(pattern, s)
	if err != nil {
		return pattern == s
	}
	return ok
}

func asBool(v Value, n node) (bool, error) {
	switch v.Kind {
	case KindBool:
		return v.Bool, nil
	case KindUnknown:
		return false, nil
	}
	return false, fmt.Errorf("%s is a %s, not a boolean", n, v.Kind)
}

func typeError(op string, v Value, n node) error {
	return fmt.Errorf("cannot apply %s to %s %s", op, v.Kind, n)
}
