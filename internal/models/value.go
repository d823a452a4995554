package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind enumerates the closed variant set a field value can take.
// KindAbsent is distinct from KindNull: absent means the field does not
// exist on the record at all, null means it exists with a null value.
type Kind int

const (
	KindAbsent Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindArray
	KindMap
)

// String returns the kind name used in the storage encoding.
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a tagged union over the JSON-like value variants a record field
// can hold. The zero Value is absent. Values are compared structurally and
// deep-copied on Clone; delta computation and field-priority merge are total
// over this variant set.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	m    map[string]Value
}

// Absent returns the absent value (field does not exist).
func Absent() Value { return Value{} }

// Null returns the JSON null value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns an array value. The elements are not copied.
func Array(elems ...Value) Value { return Value{kind: KindArray, arr: elems} }

// Map returns a map value. The map is not copied.
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether the value is the absent variant.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the numeric payload.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsArray returns the array payload. Callers must not mutate it.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// AsMap returns the map payload. Callers must not mutate it.
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// Equal reports structural equality. Arrays compare element-wise in order,
// maps compare key sets and values, numbers compare exactly.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindAbsent, KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindNumber:
		return v.n == other.n
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, val := range v.m {
			o, ok := other.m[k]
			if !ok || !val.Equal(o) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i := range v.arr {
			arr[i] = v.arr[i].Clone()
		}
		return Value{kind: KindArray, arr: arr}
	case KindMap:
		m := make(map[string]Value, len(v.m))
		for k, val := range v.m {
			m[k] = val.Clone()
		}
		return Value{kind: KindMap, m: m}
	default:
		return v
	}
}

// valueJSON is the storage encoding of a Value. The tag keeps absent and
// null distinguishable across a marshal round trip.
type valueJSON struct {
	Kind string           `json:"k"`
	Bool *bool            `json:"b,omitempty"`
	Num  *float64         `json:"n,omitempty"`
	Str  *string          `json:"s,omitempty"`
	Arr  []Value          `json:"a,omitempty"`
	Map  map[string]Value `json:"m,omitempty"`
}

// MarshalJSON encodes the value in the tagged storage form.
func (v Value) MarshalJSON() ([]byte, error) {
	enc := valueJSON{Kind: v.kind.String()}
	switch v.kind {
	case KindBool:
		enc.Bool = &v.b
	case KindNumber:
		enc.Num = &v.n
	case KindString:
		enc.Str = &v.s
	case KindArray:
		enc.Arr = v.arr
		if enc.Arr == nil {
			enc.Arr = []Value{}
		}
	case KindMap:
		enc.Map = v.m
		if enc.Map == nil {
			enc.Map = map[string]Value{}
		}
	}
	return json.Marshal(enc)
}

// UnmarshalJSON decodes the tagged storage form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var enc valueJSON
	if err := json.Unmarshal(data, &enc); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}
	switch enc.Kind {
	case "absent":
		*v = Absent()
	case "null":
		*v = Null()
	case "bool":
		if enc.Bool == nil {
			return fmt.Errorf("bool value missing payload")
		}
		*v = Bool(*enc.Bool)
	case "number":
		if enc.Num == nil {
			return fmt.Errorf("number value missing payload")
		}
		*v = Number(*enc.Num)
	case "string":
		if enc.Str == nil {
			return fmt.Errorf("string value missing payload")
		}
		*v = String(*enc.Str)
	case "array":
		arr := enc.Arr
		if arr == nil {
			arr = []Value{}
		}
		*v = Array(arr...)
	case "map":
		m := enc.Map
		if m == nil {
			m = map[string]Value{}
		}
		*v = Map(m)
	default:
		return fmt.Errorf("unknown value kind %q", enc.Kind)
	}
	return nil
}

// ValueFromAny converts a decoded JSON value (as produced by encoding/json
// into any) to a Value. Unknown Go types are an error, keeping the variant
// set closed.
func ValueFromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case float64:
		return Number(x), nil
	case string:
		return String(x), nil
	case []any:
		arr := make([]Value, 0, len(x))
		for _, e := range x {
			v, err := ValueFromAny(e)
			if err != nil {
				return Value{}, err
			}
			arr = append(arr, v)
		}
		return Array(arr...), nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			v, err := ValueFromAny(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// Interface converts the value back to the natural Go form used by
// encoding/json. Absent converts to nil; callers that need the distinction
// must check IsAbsent first.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		arr := make([]any, len(v.arr))
		for i := range v.arr {
			arr[i] = v.arr[i].Interface()
		}
		return arr
	case KindMap:
		m := make(map[string]any, len(v.m))
		for k, val := range v.m {
			m[k] = val.Interface()
		}
		return m
	default:
		return nil
	}
}

// Fields is the field map of a record.
type Fields map[string]Value

// FieldsFromJSON decodes a natural JSON document into a field map.
func FieldsFromJSON(raw []byte) (Fields, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	fields := make(Fields, len(doc))
	for k, e := range doc {
		v, err := ValueFromAny(e)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		fields[k] = v
	}
	return fields, nil
}

// ToJSON encodes the field map as a natural JSON document.
func (f Fields) ToJSON() ([]byte, error) {
	doc := make(map[string]any, len(f))
	for k, v := range f {
		doc[k] = v.Interface()
	}
	return json.Marshal(doc)
}

// Clone returns a deep copy of the field map.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v.Clone()
	}
	return out
}

// Equal reports structural equality of two field maps.
func (f Fields) Equal(other Fields) bool {
	if len(f) != len(other) {
		return false
	}
	for k, v := range f {
		o, ok := other[k]
		if !ok || !v.Equal(o) {
			return false
		}
	}
	return true
}

// SortedKeys returns the field names in lexicographic order. Used to make
// delta computation deterministic.
func (f Fields) SortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
