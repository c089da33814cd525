// Package match evaluates small path/op/value predicates against event
// payloads. It backs declarative rule conditions and workflow condition nodes.
package match

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Ops lists the supported operators.
var Ops = []string{"exists", "eq", "neq", "gt", "gte", "lt", "lte", "contains"}

// Condition is one predicate. An empty Path always matches.
type Condition struct {
	Path  string `json:"path" yaml:"path"`
	Op    string `json:"op" yaml:"op"`
	Value any    `json:"value,omitempty" yaml:"value"`
}

func (c Condition) Eval(payload map[string]any) bool {
	return Eval(payload, c.Path, c.Op, c.Value)
}

// ValidOp reports whether op is known. The empty op means exists.
func ValidOp(op string) bool {
	op = strings.ToLower(strings.TrimSpace(op))
	if op == "" {
		return true
	}
	for _, o := range Ops {
		if o == op {
			return true
		}
	}
	return false
}

// Lookup walks a dot path ("response.title") through nested maps.
func Lookup(payload map[string]any, path string) (any, bool) {
	var cur any = payload
	for _, part := range strings.Split(path, ".") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

func Eval(payload map[string]any, path, op string, want any) bool {
	path = strings.TrimSpace(path)
	op = strings.ToLower(strings.TrimSpace(op))
	if op == "" {
		op = "exists"
	}
	if path == "" {
		return true
	}
	if raw, ok := want.(json.RawMessage); ok {
		want = nil
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &want)
		}
	}

	cur, ok := Lookup(payload, path)
	if op == "exists" {
		return ok
	}
	if !ok {
		return op == "neq"
	}

	switch op {
	case "eq":
		return Equal(cur, want)
	case "neq":
		return !Equal(cur, want)
	case "contains":
		return contains(cur, want)
	case "gt", "gte", "lt", "lte":
		lc, okL := ToFloat(cur)
		rc, okR := ToFloat(want)
		if !okL || !okR {
			return false
		}
		switch op {
		case "gt":
			return lc > rc
		case "gte":
			return lc >= rc
		case "lt":
			return lc < rc
		case "lte":
			return lc <= rc
		}
	}
	return false
}

// Equal compares loosely: numbers by value, everything else by its
// formatted form.
func Equal(a, b any) bool {
	fa, oka := ToFloat(a)
	fb, okb := ToFloat(b)
	if oka && okb {
		return math.Abs(fa-fb) < 1e-9
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func contains(cur, want any) bool {
	if s, ok := cur.(string); ok {
		return strings.Contains(strings.ToLower(s), strings.ToLower(fmt.Sprintf("%v", want)))
	}
	v := reflect.ValueOf(cur)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if Equal(v.Index(i).Interface(), want) {
				return true
			}
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String {
			return v.MapIndex(reflect.ValueOf(fmt.Sprintf("%v", want))).IsValid()
		}
	}
	return false
}

func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		// best-effort parse
		num := json.Number(strings.TrimSpace(t))
		f, err := num.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
