package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a sealed interface representing the runtime value of a variable
// or a literal operand in an assignment or rule.
// Only Nil, String, Number, Bool and List implement this.
type Value interface {
	value() // Sealed - only these types implement it
}

// Nil represents the absence of a value (JSON null, source literal nil).
type Nil struct{}

func (Nil) value() {}

// MarshalJSON implements json.Marshaler for Nil.
func (Nil) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String represents a text value.
type String string

func (String) value() {}

// Number represents a numeric value. Sheets store decimals, so numbers are
// float64 at runtime; canonical output prints the shortest representation.
type Number float64

func (Number) value() {}

// MarshalJSON implements json.Marshaler for Number.
// NaN and infinities have no JSON form and are rejected.
func (n Number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("number %v has no JSON representation", f)
	}
	return []byte(FormatNumber(f)), nil
}

// Bool represents a boolean value.
type Bool bool

func (Bool) value() {}

// List represents a multi-value (multi_select blocks).
type List []Value

func (List) value() {}

// MarshalJSON implements json.Marshaler for List.
func (l List) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := MarshalValue(elem)
		if err != nil {
			return nil, fmt.Errorf("list[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// FormatNumber renders a float in its shortest decimal form without exponent.
// Example: 1 -> "1", 1.50 -> "1.5", -0.25 -> "-0.25".
func FormatNumber(f float64) string {
	if f == 0 {
		return "0" // avoid "-0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// MarshalValue marshals a Value to JSON bytes. A nil interface marshals as null.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Nil:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Number:
		return val.MarshalJSON()
	case Bool:
		return json.Marshal(bool(val))
	case List:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// UnmarshalValue decodes a JSON value into a Value.
// Objects are rejected: variables never hold structured records.
func UnmarshalValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil

	case 'n':
		return Nil{}, nil

	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		list := make(List, len(raw))
		for i, elem := range raw {
			v, err := UnmarshalValue(elem)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			list[i] = v
		}
		return list, nil

	case '{':
		return nil, fmt.Errorf("objects are not valid values")

	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %s: %w", string(data), err)
		}
		return Number(f), nil
	}
}

// FromGo converts a decoded YAML/JSON Go value into a Value.
// Accepts nil, string, bool, all integer and float kinds, and []any.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Nil{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Number(val), nil
	case int64:
		return Number(val), nil
	case uint64:
		return Number(val), nil
	case float64:
		return Number(val), nil
	case float32:
		return Number(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, err
		}
		return Number(f), nil
	case []any:
		list := make(List, len(val))
		for i, elem := range val {
			lv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			list[i] = lv
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

// IsNil reports whether v is absent or Nil.
func IsNil(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Nil)
	return ok
}

// IsEmpty reports whether v is nil, an empty string, or an empty list.
func IsEmpty(v Value) bool {
	switch val := v.(type) {
	case nil, Nil:
		return true
	case String:
		return val == ""
	case List:
		return len(val) == 0
	default:
		return false
	}
}

// Truthy implements the truth test used by bare references in conditions.
// Nil, false, 0, "" and empty lists are falsy.
func Truthy(v Value) bool {
	switch val := v.(type) {
	case nil, Nil:
		return false
	case Bool:
		return bool(val)
	case Number:
		return val != 0
	case String:
		return val != ""
	case List:
		return len(val) > 0
	default:
		return false
	}
}

// AsNumber coerces v to a number. Strings holding a decimal literal
// coerce; booleans and lists do not.
func AsNumber(v Value) (float64, bool) {
	switch val := v.(type) {
	case Number:
		return float64(val), true
	case String:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// AsText renders v as plain text for string predicates (contains, starts_with).
func AsText(v Value) string {
	switch val := v.(type) {
	case nil, Nil:
		return ""
	case String:
		return string(val)
	case Number:
		return FormatNumber(float64(val))
	case Bool:
		return strconv.FormatBool(bool(val))
	case List:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = AsText(elem)
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

// Equal compares two values. Numbers compare numerically, including
// numeric strings against numbers; nil equals only nil.
func Equal(a, b Value) bool {
	if IsNil(a) || IsNil(b) {
		return IsNil(a) && IsNil(b)
	}
	switch av := a.(type) {
	case Number:
		if bn, ok := AsNumber(b); ok {
			return float64(av) == bn
		}
		return false
	case String:
		if _, isNum := b.(Number); isNum {
			return Equal(b, a)
		}
		if bs, ok := b.(String); ok {
			return av == bs
		}
		return false
	case Bool:
		if bb, ok := b.(Bool); ok {
			return av == bb
		}
		return false
	case List:
		bl, ok := b.(List)
		if !ok || len(av) != len(bl) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bl[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// CloneValue returns a copy of v that shares no backing arrays with it.
func CloneValue(v Value) Value {
	if l, ok := v.(List); ok {
		out := make(List, len(l))
		for i, elem := range l {
			out[i] = CloneValue(elem)
		}
		return out
	}
	return v
}

// Literal renders v in expression-language source form:
// strings quoted, numbers shortest, booleans bare, nil as "nil".
func Literal(v Value) string {
	switch val := v.(type) {
	case nil, Nil:
		return "nil"
	case String:
		return Quote(string(val))
	case Number:
		return FormatNumber(float64(val))
	case Bool:
		return strconv.FormatBool(bool(val))
	case List:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = Literal(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return ""
	}
}

// Quote produces a double-quoted string literal escaping backslash,
// double quote and newline characters.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// decodeOptionalValue decodes a raw JSON field that may be absent.
func decodeOptionalValue(raw json.RawMessage) (Value, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	return UnmarshalValue(raw)
}
