// Package canonical produces deterministic byte encodings and digests of
// structured values so captured evidence can be fingerprinted once and
// re-verified every time it is read back.
package canonical

import "time"

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// Value is a tagged union over the shapes that can be canonicalized.
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    map[string]Value
}

// Valuer is implemented by types that define their own canonical projection.
type Valuer interface {
	CanonicalValue() Value
}

func Null() Value { return Value{kind: KindNull} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }

// List returns a sequence value. Element order is significant; callers sort
// sequences whose order carries no meaning before building them.
func List(items ...Value) Value {
	out := make([]Value, len(items))
	copy(out, items)
	return Value{kind: KindList, list: out}
}

// Map returns a mapping value. Key order of m is irrelevant to the encoding.
func Map(m map[string]Value) Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return Value{kind: KindMap, m: out}
}

// Strings returns a list of string values in the given order.
func Strings(ss []string) Value {
	out := make([]Value, len(ss))
	for i, s := range ss {
		out[i] = String(s)
	}
	return Value{kind: KindList, list: out}
}

// Time renders an instant as an RFC 3339 UTC string with nanosecond precision
// and no trailing zeros, so equal instants in any location encode identically.
func Time(t time.Time) Value {
	return String(t.UTC().Format(time.RFC3339Nano))
}
