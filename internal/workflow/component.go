package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
)

// Component exposes the executor on the hub as "workflow".
type Component struct {
	exec *Executor
}

func NewComponent(x *Executor) *Component {
	return &Component{exec: x}
}

func (c *Component) Executor() *Executor { return c.exec }

// RunTemplate executes a predefined graph.
func (c *Component) RunTemplate(ctx context.Context, name string, input map[string]any) (Result, error) {
	t, ok := TemplateNamed(name)
	if !ok {
		return Result{}, fmt.Errorf("unknown workflow template: %s", name)
	}
	return c.exec.Execute(ctx, t.Graph, input, Options{})
}

// HandleCommand answers "workflow"/"automate" chat commands: a message naming
// a template runs it, anything else lists the templates.
func (c *Component) HandleCommand(ctx context.Context, text string) (any, bool, error) {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "workflow") && !strings.Contains(lower, "automate") {
		return nil, false, nil
	}
	var names []string
	for _, t := range Templates() {
		names = append(names, t.Name)
		if strings.Contains(lower, t.Name) || strings.Contains(lower, strings.ReplaceAll(t.Name, "_", " ")) {
			res, err := c.RunTemplate(ctx, t.Name, map[string]any{"message": text})
			if err != nil {
				return nil, true, err
			}
			return map[string]any{
				"action":   "workflow_executed",
				"template": t.Name,
				"success":  res.Success,
				"executed": res.Executed,
				"message":  fmt.Sprintf("Workflow %s completed (%d steps)", t.Title, len(res.Executed)),
			}, true, nil
		}
	}
	return map[string]any{
		"action":    "workflow_templates",
		"templates": names,
		"message":   "Available workflows: " + strings.Join(names, ", "),
	}, true, nil
}

func graphPayload(p map[string]any) (Graph, error) {
	if g, ok := p["graph"].(map[string]any); ok {
		return FromMap(g)
	}
	if _, ok := p["nodes"]; ok {
		return FromMap(map[string]any{"nodes": p["nodes"], "edges": p["edges"]})
	}
	return Graph{}, fmt.Errorf("payload carries no graph")
}

func inputPayload(p map[string]any) map[string]any {
	for _, k := range []string{"input", "data"} {
		if m, ok := p[k].(map[string]any); ok {
			return m
		}
	}
	return map[string]any{}
}

// Methods implements hub.Invoker.
func (c *Component) Methods() map[string]hub.Method {
	return map[string]hub.Method{
		"execute": func(ctx context.Context, p map[string]any) (any, error) {
			if name, _ := p["template"].(string); name != "" {
				return c.RunTemplate(ctx, name, inputPayload(p))
			}
			g, err := graphPayload(p)
			if err != nil {
				return nil, err
			}
			return c.exec.Execute(ctx, g, inputPayload(p), Options{})
		},
		"template": func(ctx context.Context, p map[string]any) (any, error) {
			name, _ := p["name"].(string)
			return c.RunTemplate(ctx, name, inputPayload(p))
		},
		"templates": func(ctx context.Context, p map[string]any) (any, error) {
			return Templates(), nil
		},
		"action_types": func(ctx context.Context, p map[string]any) (any, error) {
			return c.exec.ActionTypes(), nil
		},
	}
}
