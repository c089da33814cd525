package router

import (
	"context"
)

// Hub is the part of the event hub the default routes use.
type Hub interface {
	Emit(ctx context.Context, name string, payload map[string]any)
	Invoke(ctx context.Context, target, method string, payload map[string]any) (any, error)
}

type route struct {
	endpoint  string
	announce  string
	target    string
	method    string
	translate func(map[string]any) map[string]any
}

var defaultRoutes = []route{
	{endpoint: "chat/message", announce: "automation:chat_message", target: "chat", method: "send"},
	{endpoint: "media/download", announce: "automation:media_download", target: "media", method: "add_download"},
	{endpoint: "media/search", target: "media", method: "search"},
	{endpoint: "content/publish", announce: "automation:content_published", target: "content", method: "publish"},
	{endpoint: "ai/process", announce: "automation:ai_request", target: "ai", method: "chat"},
	{endpoint: "workflow/execute", target: "workflow", method: "execute"},

	// Inbound webhook triggers.
	{endpoint: "media_request", target: "media", method: "search_and_suggest"},
	{endpoint: "content_publish", target: "content", method: "create_post"},
	{endpoint: "ai_process", target: "ai", method: "chat"},
	{endpoint: "workflow_execute", target: "workflow", method: "execute", translate: workflowParams},
}

// RegisterDefaults installs the standard endpoint table backed by h.
func RegisterDefaults(r *Router, h Hub) {
	for _, rt := range defaultRoutes {
		rt := rt
		r.Register(rt.endpoint, func(ctx context.Context, payload map[string]any) (any, error) {
			if rt.announce != "" {
				h.Emit(ctx, rt.announce, payload)
			}
			if rt.translate != nil {
				payload = rt.translate(payload)
			}
			return h.Invoke(ctx, rt.target, rt.method, payload)
		})
	}
}

// workflowParams maps the webhook form {workflow, params} onto the
// executor's {graph|template, input}.
func workflowParams(p map[string]any) map[string]any {
	out := map[string]any{}
	switch w := p["workflow"].(type) {
	case string:
		out["template"] = w
	case map[string]any:
		out["graph"] = w
	}
	if params, ok := p["params"].(map[string]any); ok {
		out["input"] = params
	}
	for k, v := range p {
		if _, taken := out[k]; !taken && k != "workflow" && k != "params" {
			out[k] = v
		}
	}
	return out
}
