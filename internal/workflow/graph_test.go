package workflow

import (
	"strings"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	g, err := Parse([]byte(`{
		"nodes": [
			{"id": " n1 ", "category": "trigger", "type": "message", "x": 10, "y": 20},
			{"id": "n2", "category": "action", "type": "openai", "config": {"k": "v"}}
		],
		"edges": [{"from": "n1", "to": "n2"}]
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if g.Nodes[0].ID != "n1" {
		t.Fatalf("expected trimmed id, got %q", g.Nodes[0].ID)
	}
	if g.Nodes[1].Config["k"] != "v" {
		t.Fatalf("config not decoded: %#v", g.Nodes[1].Config)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"not json", `{`, "decode graph"},
		{"no nodes", `{"nodes": []}`, "invalid graph"},
		{"bad category", `{"nodes": [{"id": "a", "category": "magic", "type": "x"}]}`, "invalid graph"},
		{"missing type", `{"nodes": [{"id": "a", "category": "action"}]}`, "invalid graph"},
		{"duplicate id", `{"nodes": [{"id": "a", "category": "action", "type": "x"}, {"id": "a", "category": "action", "type": "y"}]}`, "duplicate node id"},
		{"unknown edge", `{"nodes": [{"id": "a", "category": "action", "type": "x"}], "edges": [{"from": "a", "to": "b"}]}`, "unknown node: b"},
		{"self edge", `{"nodes": [{"id": "a", "category": "action", "type": "x"}], "edges": [{"from": "a", "to": "a"}]}`, "self edge"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestFromMap(t *testing.T) {
	g, err := FromMap(map[string]any{
		"nodes": []any{
			map[string]any{"id": "t", "category": "trigger", "type": "webhook"},
		},
	})
	if err != nil {
		t.Fatalf("from map: %v", err)
	}
	if len(g.Nodes) != 1 || len(g.Edges) != 0 {
		t.Fatalf("unexpected graph %#v", g)
	}
}

func TestTemplatesAreValid(t *testing.T) {
	for _, tmpl := range Templates() {
		g := tmpl.Graph
		if err := g.Validate(); err != nil {
			t.Fatalf("template %s: %v", tmpl.Name, err)
		}
		if _, err := OrderStrict(g); err != nil {
			t.Fatalf("template %s: %v", tmpl.Name, err)
		}
	}
	if _, ok := TemplateNamed("daily_automation"); !ok {
		t.Fatalf("daily_automation template missing")
	}
}
