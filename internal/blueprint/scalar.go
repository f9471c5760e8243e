// Package blueprint implements the data model described in spec.md §3: the
// resolved blueprint document a Celerity runtime instance loads at startup.
package blueprint

import "fmt"

// ScalarKind tags which variant of Scalar is populated.
type ScalarKind int

const (
	ScalarKindString ScalarKind = iota
	ScalarKindInt
	ScalarKindFloat
	ScalarKindBool
)

// Scalar is the tagged union of string, int64, float64 and bool described in
// spec.md §3. Equality is structural (Equal), not pointer identity.
type Scalar struct {
	Kind ScalarKind
	Str  string
	Int  int64
	Flt  float64
	Bool bool
}

func NewStringScalar(v string) Scalar { return Scalar{Kind: ScalarKindString, Str: v} }
func NewIntScalar(v int64) Scalar     { return Scalar{Kind: ScalarKindInt, Int: v} }
func NewFloatScalar(v float64) Scalar { return Scalar{Kind: ScalarKindFloat, Flt: v} }
func NewBoolScalar(v bool) Scalar     { return Scalar{Kind: ScalarKindBool, Bool: v} }

// Equal implements structural equality across scalar kinds.
func (s Scalar) Equal(other Scalar) bool {
	if s.Kind != other.Kind {
		return false
	}
	switch s.Kind {
	case ScalarKindString:
		return s.Str == other.Str
	case ScalarKindInt:
		return s.Int == other.Int
	case ScalarKindFloat:
		return s.Flt == other.Flt
	case ScalarKindBool:
		return s.Bool == other.Bool
	default:
		return false
	}
}

// Value returns the scalar's underlying Go value (string, int64, float64, or bool).
func (s Scalar) Value() any {
	switch s.Kind {
	case ScalarKindString:
		return s.Str
	case ScalarKindInt:
		return s.Int
	case ScalarKindFloat:
		return s.Flt
	case ScalarKindBool:
		return s.Bool
	default:
		return nil
	}
}

func (s Scalar) String() string {
	switch s.Kind {
	case ScalarKindString:
		return s.Str
	case ScalarKindInt:
		return fmt.Sprintf("%d", s.Int)
	case ScalarKindFloat:
		return fmt.Sprintf("%g", s.Flt)
	case ScalarKindBool:
		return fmt.Sprintf("%t", s.Bool)
	default:
		return ""
	}
}

// ScalarFromAny lifts a decoded JSON/YAML scalar (string, bool, int,
// int64, float64) into a Scalar; any other type, json.Number included,
// reports false.
func ScalarFromAny(v any) (Scalar, bool) {
	switch val := v.(type) {
	case string:
		return NewStringScalar(val), true
	case bool:
		return NewBoolScalar(val), true
	case int:
		return NewIntScalar(int64(val)), true
	case int64:
		return NewIntScalar(val), true
	case float64:
		if val == float64(int64(val)) {
			return NewIntScalar(int64(val)), true
		}
		return NewFloatScalar(val), true
	default:
		return Scalar{}, false
	}
}
