package adapters

import (
	"encoding/json"
	"fmt"
	"strings"
)

// String returns payload[key] as a trimmed string, or "" when absent.
func String(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// FirstString returns the first non-empty string among keys.
func FirstString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := String(payload, k); s != "" {
			return s
		}
	}
	return ""
}

func Bool(payload map[string]any, key string) bool {
	switch t := payload[key].(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	default:
		return false
	}
}

func Strings(payload map[string]any, key string) []string {
	switch t := payload[key].(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return nil
	}
}

// ToMap converts a typed result into a generic payload via its JSON form.
func ToMap(v any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"value": fmt.Sprint(v)}
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		var anyV any
		_ = json.Unmarshal(b, &anyV)
		return map[string]any{"value": anyV}
	}
	if out == nil {
		return map[string]any{}
	}
	return out
}
