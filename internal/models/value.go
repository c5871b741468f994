package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Value is a template value. The set of implementations is closed:
// Null, Bool, Int, Float, String, List and Map.
type Value interface {
	isValue()
}

type (
	Null   struct{}
	Bool   bool
	Int    int64
	Float  float64
	String string
	List   []Value
	Map    map[string]Value
)

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Int) isValue()    {}
func (Float) isValue()  {}
func (String) isValue() {}
func (List) isValue()   {}
func (Map) isValue()    {}

// FromAny converts decoded JSON or YAML data into a Value. JSON numbers
// should be decoded with UseNumber so integers keep their precision.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", x.String(), err)
		}
		return Float(f), nil
	case int:
		return Int(x), nil
	case int64:
		return Int(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return Float(float64(x)), nil
		}
		return Int(int64(x)), nil
	case float64:
		return Float(x), nil
	case time.Time:
		return String(x.Format(time.RFC3339Nano)), nil
	case []any:
		out := make(List, 0, len(x))
		for i, item := range x {
			val, err := FromAny(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out = append(out, val)
		}
		return out, nil
	case map[string]any:
		out := make(Map, len(x))
		for k, item := range x {
			val, err := FromAny(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = val
		}
		return out, nil
	case map[any]any:
		out := make(Map, len(x))
		for k, item := range x {
			val, err := FromAny(item)
			if err != nil {
				return nil, fmt.Errorf("%v: %w", k, err)
			}
			out[fmt.Sprint(k)] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T", v)
	}
}

// Native converts v back into plain Go values: nil, bool, int64, float64,
// string, []any and map[string]any.
func Native(v Value) any {
	switch x := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(x)
	case Int:
		return int64(x)
	case Float:
		return float64(x)
	case String:
		return string(x)
	case List:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Native(item)
		}
		return out
	case Map:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = Native(item)
		}
		return out
	default:
		panic(fmt.Sprintf("models: unknown value type %T", v))
	}
}

// Bindings is the key/value set handed to the template evaluator.
type Bindings map[string]Value

// ParseBindings converts a decoded top-level document into Bindings. The
// document must be a mapping.
func ParseBindings(doc any) (Bindings, error) {
	v, err := FromAny(doc)
	if err != nil {
		return nil, err
	}
	m, ok := v.(Map)
	if !ok {
		return nil, fmt.Errorf("input must be a mapping, got %s", kindOf(v))
	}
	return Bindings(m), nil
}

// Merge copies every key of other into b, replacing existing keys.
// Nested maps are not merged.
func (b Bindings) Merge(other Bindings) {
	for k, v := range other {
		b[k] = v
	}
}

// Native returns the bindings as plain Go values.
func (b Bindings) Native() map[string]any {
	return Native(Map(b)).(map[string]any)
}

// Keys returns the binding names in sorted order.
func (b Bindings) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *Bindings) UnmarshalJSON(data []byte) error {
	var raw any
	if err := decodeJSONNumbers(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseBindings(raw)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func (b Bindings) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Native())
}

func kindOf(v Value) string {
	switch v.(type) {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case String:
		return "string"
	case List:
		return "list"
	case Map:
		return "map"
	default:
		return fmt.Sprintf("%T", v)
	}
}
