// Value and its comparisons ground spec §4.4's per-type comparison rules.
// Grounded stylistically on sqldriver/evaluator.go's compareValues/asFloat
// helpers, but typed instead of interface{}-based, since this spec names a
// closed set of row-cell kinds rather than arbitrary Go values. Numeric
// coercion of caller-supplied catalogue cells reuses
// github.com/oarkflow/convert.ToFloat64, the same library velocity.go's
// Incr/Decr use for flexible numeric coercion.
package query

import (
	"math"
	"strings"

	"github.com/oarkflow/convert"
)

// Kind identifies a Value's concrete type.
type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindString
	KindBoolean
)

// Value is one typed row cell, per spec §4.4's BinaryOp evaluation rules.
type Value struct {
	Kind Kind
	I    int64
	F    float64
	S    string
	B    bool
}

var Null = Value{Kind: KindNull}

func IntValue(i int64) Value     { return Value{Kind: KindInteger, I: i} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, F: f} }
func StringValue(s string) Value { return Value{Kind: KindString, S: s} }
func BoolValue(b bool) Value     { return Value{Kind: KindBoolean, B: b} }

const floatEpsilon = 1e-9

// FromAny converts an arbitrary caller-supplied catalogue cell (the row
// maps the executor works over are map[string]any at the boundary, mirroring
// sqldriver.Row) into a typed Value.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null
	case Value:
		return x
	case bool:
		return BoolValue(x)
	case string:
		return StringValue(x)
	case int:
		return IntValue(int64(x))
	case int32:
		return IntValue(int64(x))
	case int64:
		return IntValue(x)
	case float32:
		return FloatValue(float64(x))
	case float64:
		return FloatValue(x)
	default:
		if f, ok := convert.ToFloat64(v); ok {
			return FloatValue(f)
		}
		return Null
	}
}

// Equal reports whether a and b are equal under spec §4.4's rules: Null
// equals only Null, cross-type compares are false, floats use epsilon
// equality, everything else is a direct value comparison.
func (a Value) Equal(b Value) bool {
	if a.Kind == KindNull || b.Kind == KindNull {
		return a.Kind == KindNull && b.Kind == KindNull
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindInteger:
		return a.I == b.I
	case KindFloat:
		return floatsEqual(a.F, b.F)
	case KindString:
		return a.S == b.S
	case KindBoolean:
		return a.B == b.B
	}
	return false
}

func floatsEqual(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return true // NaN treated as equal to avoid panics (spec §4.4 MIN/MAX note)
	}
	return math.Abs(a-b) < floatEpsilon
}

// Compare orders a against b, returning (cmp, ok). ok is false whenever the
// spec says the comparison isn't meaningful: cross-type pairs, either side
// Null, or booleans (which only support equality).
func (a Value) Compare(b Value) (int, bool) {
	if a.Kind == KindNull || b.Kind == KindNull {
		return 0, false
	}
	if a.Kind != b.Kind {
		return 0, false
	}
	switch a.Kind {
	case KindInteger:
		switch {
		case a.I < b.I:
			return -1, true
		case a.I > b.I:
			return 1, true
		default:
			return 0, true
		}
	case KindFloat:
		if floatsEqual(a.F, b.F) {
			return 0, true
		}
		if a.F < b.F {
			return -1, true
		}
		return 1, true
	case KindString:
		return strings.Compare(a.S, b.S), true
	case KindBoolean:
		return 0, false
	}
	return 0, false
}

// ToAny converts back to a plain Go value, for storing computed columns
// (aggregates, projections) into an output Row.
func (v Value) ToAny() any {
	switch v.Kind {
	case KindInteger:
		return v.I
	case KindFloat:
		return v.F
	case KindString:
		return v.S
	case KindBoolean:
		return v.B
	default:
		return nil
	}
}

// Less reports a < b under Sort's ordering (spec §4.4 "Sort"), treating any
// incomparable pair as not-less (stable sort keeps original relative order).
func (a Value) Less(b Value) bool {
	cmp, ok := a.Compare(b)
	return ok && cmp < 0
}
