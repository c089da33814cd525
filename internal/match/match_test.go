package match

import (
	"encoding/json"
	"testing"
)

func TestEval(t *testing.T) {
	payload := map[string]any{
		"title":    "Dune Part Two",
		"size":     float64(2048),
		"category": "downloads",
		"tags":     []any{"media", "auto-generated"},
		"response": map[string]any{"componentActions": []any{"x"}, "score": "7"},
	}
	tests := []struct {
		name string
		path string
		op   string
		want any
		ok   bool
	}{
		{"empty path", "", "eq", nil, true},
		{"exists", "title", "", nil, true},
		{"missing", "nope", "exists", nil, false},
		{"nested exists", "response.componentActions", "exists", nil, true},
		{"eq string", "category", "eq", "downloads", true},
		{"neq string", "category", "neq", "chat-logs", true},
		{"neq missing", "missing", "neq", "x", true},
		{"eq number", "size", "eq", 2048, true},
		{"gt", "size", "gt", 1024, true},
		{"lte string number", "response.score", "lte", 7, true},
		{"lt fails", "size", "lt", "10", false},
		{"gt not number", "title", "gt", 1, false},
		{"contains substring", "title", "contains", "part", true},
		{"contains slice", "tags", "contains", "media", true},
		{"contains slice miss", "tags", "contains", "chat", false},
		{"raw json value", "size", "eq", json.RawMessage(`2048`), true},
		{"unknown op", "title", "matches", "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Eval(payload, tt.path, tt.op, tt.want); got != tt.ok {
				t.Fatalf("Eval(%q %s %v) = %v, want %v", tt.path, tt.op, tt.want, got, tt.ok)
			}
		})
	}
}

func TestValidOp(t *testing.T) {
	for _, op := range []string{"", "EQ", "contains", " gte "} {
		if !ValidOp(op) {
			t.Fatalf("expected %q to be valid", op)
		}
	}
	if ValidOp("regex") {
		t.Fatalf("expected regex to be rejected")
	}
}
