package expr

import (
	"math"
	"strconv"
	"strings"
)

// Kind is the dynamic type of a Value.
type Kind int

const (
	// KindUnknown is the value of an attribute the resource does not report. It takes the
	// zero value of whatever type it is compared or combined with.
	KindUnknown Kind = iota
	KindNumber
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	default:
		return "unknown"
	}
}

// Value is the result of evaluating an expression node.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Bool bool
}

// Number returns a numeric value.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// String returns a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Unknown is the value of a missing attribute.
var Unknown = Value{Kind: KindUnknown}

// Attribute converts a raw attribute string into a Value, typing it as a number when it
// parses as a finite one. "NaN" and "Inf" stay strings.
func Attribute(raw string) Value {
	if f, ok := parseFinite(raw); ok {
		return Number(f)
	}
	return String(raw)
}

func parseFinite(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// asNumber coerces v to a float. Unknown values are zero; strings must be numeric.
func (v Value) asNumber() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindUnknown:
		return 0, true
	case KindString:
		return parseFinite(v.Str)
	}
	return 0, false
}

func (v Value) asString() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindString:
		return v.Str
	case KindBool:
		return strconv.FormatBool(v.Bool)
	}
	return ""
}
