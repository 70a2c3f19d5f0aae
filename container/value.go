package container

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
)

// Kind is the wire tag of a value.
type Kind byte

// Tag alphabet.
const (
	KindNull      Kind = '0'
	KindBool      Kind = '1'
	KindShort     Kind = '2'
	KindUShort    Kind = '3'
	KindInt       Kind = '4'
	KindUInt      Kind = '5'
	KindLong      Kind = '6'
	KindULong     Kind = '7'
	KindLLong     Kind = '8'
	KindULLong    Kind = '9'
	KindFloat     Kind = 'a'
	KindDouble    Kind = 'b'
	KindBytes     Kind = 'c'
	KindString    Kind = 'd'
	KindContainer Kind = 'e'
)

var kindNames = map[Kind]string{
	KindNull:      "null",
	KindBool:      "bool",
	KindShort:     "short",
	KindUShort:    "ushort",
	KindInt:       "int",
	KindUInt:      "uint",
	KindLong:      "long",
	KindULong:     "ulong",
	KindLLong:     "llong",
	KindULLong:    "ullong",
	KindFloat:     "float",
	KindDouble:    "double",
	KindBytes:     "bytes",
	KindString:    "string",
	KindContainer: "container",
}

// ParseKind maps a wire tag to its Kind.
func ParseKind(tag byte) (Kind, bool) {
	k := Kind(tag)
	_, ok := kindNames[k]
	return k, ok
}

// Valid reports whether k belongs to the tag alphabet.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%q)", byte(k))
}

func (k Kind) signed() bool {
	switch k {
	case KindShort, KindInt, KindLong, KindLLong:
		return true
	}
	return false
}

func (k Kind) unsigned() bool {
	switch k {
	case KindUShort, KindUInt, KindULong, KindULLong:
		return true
	}
	return false
}

func (k Kind) bitSize() int {
	switch k {
	case KindShort, KindUShort:
		return 16
	case KindInt, KindUInt, KindFloat:
		return 32
	default:
		return 64
	}
}

// Value is a tagged value. The zero Value is a null.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	u     uint64
	f     float64
	s     string
	raw   []byte
	items []Field
	depth int
}

// NullValue returns a null value.
func NullValue() Value { return Value{kind: KindNull} }

// BoolValue returns a bool value.
func BoolValue(v bool) Value { return Value{kind: KindBool, b: v} }

// ShortValue returns a 16-bit signed value.
func ShortValue(v int16) Value { return Value{kind: KindShort, i: int64(v)} }

// UShortValue returns a 16-bit unsigned value.
func UShortValue(v uint16) Value { return Value{kind: KindUShort, u: uint64(v)} }

// IntValue returns a 32-bit signed value.
func IntValue(v int32) Value { return Value{kind: KindInt, i: int64(v)} }

// UIntValue returns a 32-bit unsigned value.
func UIntValue(v uint32) Value { return Value{kind: KindUInt, u: uint64(v)} }

// LongValue returns a long signed value.
func LongValue(v int64) Value { return Value{kind: KindLong, i: v} }

// ULongValue returns a long unsigned value.
func ULongValue(v uint64) Value { return Value{kind: KindULong, u: v} }

// LLongValue returns a long long signed value.
func LLongValue(v int64) Value { return Value{kind: KindLLong, i: v} }

// ULLongValue returns a long long unsigned value.
func ULLongValue(v uint64) Value { return Value{kind: KindULLong, u: v} }

// FloatValue returns a single precision value.
func FloatValue(v float32) Value { return Value{kind: KindFloat, f: float64(v)} }

// DoubleValue returns a double precision value.
func DoubleValue(v float64) Value { return Value{kind: KindDouble, f: v} }

// BytesValue returns a binary value. The slice is copied.
func BytesValue(v []byte) Value {
	return Value{kind: KindBytes, raw: append([]byte{}, v...)}
}

// StringValue returns a string value.
func StringValue(v string) Value { return Value{kind: KindString, s: v} }

// ContainerValue returns a nested value holding the given children in order.
// It panics if the result would nest deeper than MaxDepth.
func ContainerValue(children ...Field) Value {
	return nested(cloneFields(children))
}

// ArrayValue returns a nested value whose children are unnamed. It panics if
// the result would nest deeper than MaxDepth.
func ArrayValue(values ...Value) Value {
	items := make([]Field, 0, len(values))
	for _, v := range values {
		items = append(items, Field{Value: v.clone()})
	}
	return nested(nilIfEmpty(items))
}

// nested wraps items in a container value one level deeper than its
// deepest child.
func nested(items []Field) Value {
	depth := 0
	for _, f := range items {
		depth = max(depth, f.Value.depth)
	}
	if depth >= MaxDepth {
		panic(fmt.Sprintf("container: nesting deeper than %d levels", MaxDepth))
	}
	return Value{kind: KindContainer, items: items, depth: depth + 1}
}

// Depth returns how many container levels v holds: 0 for scalars, 1 for a
// container of scalars.
func (v Value) Depth() int { return v.depth }

// Kind returns the value's tag.
func (v Value) Kind() Kind {
	if v.kind == 0 {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether v is a null value.
func (v Value) IsNull() bool { return v.Kind() == KindNull }

// AsBool returns the value as bool.
func (v Value) AsBool() (bool, error) {
	if v.Kind() != KindBool {
		return false, v.mismatch(KindBool)
	}
	return v.b, nil
}

// AsInt returns any signed integer kind widened to int64.
func (v Value) AsInt() (int64, error) {
	if !v.Kind().signed() {
		return 0, v.mismatch(KindLLong)
	}
	return v.i, nil
}

// AsUint returns any unsigned integer kind widened to uint64.
func (v Value) AsUint() (uint64, error) {
	if !v.Kind().unsigned() {
		return 0, v.mismatch(KindULLong)
	}
	return v.u, nil
}

// AsFloat returns a float or double value as float64.
func (v Value) AsFloat() (float64, error) {
	switch v.Kind() {
	case KindFloat, KindDouble:
		return v.f, nil
	}
	return 0, v.mismatch(KindDouble)
}

// AsString returns a string value.
func (v Value) AsString() (string, error) {
	if v.Kind() != KindString {
		return "", v.mismatch(KindString)
	}
	return v.s, nil
}

// AsBytes returns a copy of a binary value.
func (v Value) AsBytes() ([]byte, error) {
	if v.Kind() != KindBytes {
		return nil, v.mismatch(KindBytes)
	}
	return append([]byte{}, v.raw...), nil
}

// Items returns a copy of the children of a container value.
func (v Value) Items() ([]Field, error) {
	if v.Kind() != KindContainer {
		return nil, v.mismatch(KindContainer)
	}
	return cloneFields(v.items), nil
}

// Len returns the number of children of a container value, 0 for other kinds.
func (v Value) Len() int {
	return len(v.items)
}

// String renders the value the way it appears on the wire, unescaped.
func (v Value) String() string {
	switch k := v.Kind(); {
	case k == KindContainer:
		return strconv.Itoa(len(v.items))
	default:
		return string(appendScalar(nil, v))
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind() != o.Kind() {
		return false
	}
	switch v.Kind() {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindFloat, KindDouble:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindString:
		return v.s == o.s
	case KindContainer:
		return fieldsEqual(v.items, o.items)
	}
	if v.Kind().signed() {
		return v.i == o.i
	}
	return v.u == o.u
}

func (v Value) mismatch(want Kind) error {
	return fmt.Errorf("%w: have %s, want %s", ErrKindMismatch, v.Kind(), want)
}

func (v Value) clone() Value {
	out := v
	if v.raw != nil {
		out.raw = append([]byte{}, v.raw...)
	}
	out.items = cloneFields(v.items)
	return out
}

// appendScalar writes the unescaped text form of a non-container value.
func appendScalar(dst []byte, v Value) []byte {
	k := v.Kind()
	switch {
	case k == KindNull:
		return dst
	case k == KindBool:
		return strconv.AppendBool(dst, v.b)
	case k.signed():
		return strconv.AppendInt(dst, v.i, 10)
	case k.unsigned():
		return strconv.AppendUint(dst, v.u, 10)
	case k == KindFloat || k == KindDouble:
		return strconv.AppendFloat(dst, v.f, 'g', -1, k.bitSize())
	case k == KindBytes:
		enc := base64.StdEncoding
		start := len(dst)
		dst = append(dst, make([]byte, enc.EncodedLen(len(v.raw)))...)
		enc.Encode(dst[start:], v.raw)
		return dst
	case k == KindString:
		return append(dst, v.s...)
	}
	return dst
}

// parseScalar is the inverse of appendScalar. An empty text yields the zero
// value of the kind.
func parseScalar(k Kind, text string) (Value, error) {
	switch {
	case k == KindNull:
		if text != "" {
			return Value{}, fmt.Errorf("null value must be empty, got %q", text)
		}
		return NullValue(), nil
	case k == KindString:
		return StringValue(text), nil
	case text == "":
		if k == KindBytes {
			return Value{kind: KindBytes, raw: []byte{}}, nil
		}
		return Value{kind: k}, nil
	case k == KindBool:
		switch text {
		case "true":
			return BoolValue(true), nil
		case "false":
			return BoolValue(false), nil
		}
		return Value{}, fmt.Errorf("invalid bool %q", text)
	case k.signed():
		n, err := strconv.ParseInt(text, 10, k.bitSize())
		if err != nil {
			return Value{}, fmt.Errorf("invalid %s %q", k, text)
		}
		return Value{kind: k, i: n}, nil
	case k.unsigned():
		n, err := strconv.ParseUint(text, 10, k.bitSize())
		if err != nil {
			return Value{}, fmt.Errorf("invalid %s %q", k, text)
		}
		return Value{kind: k, u: n}, nil
	case k == KindFloat || k == KindDouble:
		f, err := strconv.ParseFloat(text, k.bitSize())
		if err != nil {
			return Value{}, fmt.Errorf("invalid %s %q", k, text)
		}
		return Value{kind: k, f: f}, nil
	case k == KindBytes:
		raw, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return Value{}, fmt.Errorf("invalid base64: %v", err)
		}
		return Value{kind: KindBytes, raw: raw}, nil
	}
	return Value{}, fmt.Errorf("unexpected kind %s", k)
}
