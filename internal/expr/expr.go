// Package expr parses and evaluates requirement and rank expressions.
//
// Requirement expressions are boolean predicates over a host's attributes, for example
//
//	FREECPU > 100 & HYPERVISOR = "kvm" & !(NAME = "maint-*")
//
// Rank expressions are arithmetic formulas producing a placement preference:
//
//	FREECPU * 2 - RUNNING_VMS
//
// Attribute names are resolved case-insensitively. An attribute the host does not report
// evaluates to the zero value of the type it is used with, so hosts with missing optional
// monitoring data are filtered instead of failing the evaluation.
package expr

import (
	"fmt"
	"strings"

	"github.com/limiquantix/quantix-sched/internal/domain"
)

// Error is a parse or evaluation failure. It wraps domain.ErrExpression.
type Error struct {
	Expr string
	Pos  int
	Msg  string
}

func newError(src string, pos int, format string, args ...any) *Error {
	return &Error{Expr: src, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Pos < 0 {
		return fmt.Sprintf("expression %q: %s", e.Expr, e.Msg)
	}
	return fmt.Sprintf("expression %q: %s at offset %d", e.Expr, e.Msg, e.Pos)
}

func (e *Error) Unwrap() error { return domain.ErrExpression }

// Resolver looks up attribute values by name.
type Resolver interface {
	Resolve(name string) (Value, bool)
}

// MapResolver resolves attributes from a map of raw strings keyed by upper-case name.
type MapResolver map[string]string

// Resolve implements Resolver.
func (m MapResolver) Resolve(name string) (Value, bool) {
	raw, ok := m[strings.ToUpper(name)]
	if !ok {
		return Unknown, false
	}
	return Attribute(raw), true
}

// Expr is a parsed expression, safe to evaluate repeatedly against different resolvers.
type Expr struct {
	src  string
	root node
}

// Parse parses src.
func Parse(src string) (*Expr, error) {
	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	return &Expr{src: src, root: root}, nil
}

func (e *Expr) String() string { return e.src }

// Bool evaluates e as a requirement. A bare missing attribute is false.
func (e *Expr) Bool(r Resolver) (bool, error) {
	v, err := e.root.eval(r)
	if err != nil {
		return false, e.evalError(err)
	}
	switch v.Kind {
	case KindBool:
		return v.Bool, nil
	case KindUnknown:
		return false, nil
	}
	return false, &Error{Expr: e.src, Pos: -1, Msg: "result is a " + v.Kind.String() + ", not a boolean"}
}

// Num evaluates e as a rank formula. A bare missing attribute is 0.
func (e *Expr) Num(r Resolver) (float64, error) {
	v, err := e.root.eval(r)
	if err != nil {
		return 0, e.evalError(err)
	}
	f, ok := v.asNumber()
	if !ok {
		return 0, &Error{Expr: e.src, Pos: -1, Msg: "result is a " + v.Kind.String() + ", not a number"}
	}
	return f, nil
}

func (e *Expr) evalError(err error) error {
	return &Error{Expr: e.src, Pos: -1, Msg: err.Error()}
}

// EvalBool parses and evaluates a requirement expression.
func EvalBool(src string, r Resolver) (bool, error) {
	e, err := Parse(src)
	if err != nil {
		return false, err
	}
	return e.Bool(r)
}

// EvalNum parses and evaluates a rank expression.
func EvalNum(src string, r Resolver) (float64, error) {
	e, err := Parse(src)
	if err != nil {
		return 0, err
	}
	return e.Num(r)
}
