package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/becmacc/beyflow-chat-sub000/internal/adapters"
	"github.com/becmacc/beyflow-chat-sub000/internal/adapters/ai"
	"github.com/becmacc/beyflow-chat-sub000/internal/adapters/webhook"
)

const (
	openAIMaxTokens = 500
	agentMaxTokens  = 800
)

// AgentTypes are the action types answered by an agent persona.
var AgentTypes = []string{"omnigen", "gptMarketer", "gptEngineer", "dalle"}

// RegisterCompletions wires the openai node and the agent nodes to c.
func (x *Executor) RegisterCompletions(c ai.Completer) {
	x.Handle("openai", func(ctx context.Context, n Node, in map[string]any) (map[string]any, error) {
		prompt := adapters.FirstString(in, "content", "message")
		if prompt == "" {
			prompt = "Process this data"
		}
		out, err := c.Complete(ctx, "", prompt, openAIMaxTokens)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"type":     "openai",
			"response": out.Response,
			"model":    out.Model,
			"usage":    adapters.ToMap(out.Usage),
		}, nil
	})
	for _, kind := range AgentTypes {
		kind := kind
		x.Handle(kind, func(ctx context.Context, n Node, in map[string]any) (map[string]any, error) {
			agent := ai.AgentFor(kind)
			prompt := adapters.FirstString(in, "content", "message", "response")
			if prompt == "" {
				prompt = "Process this task"
			}
			out, err := c.Complete(ctx, agent.SystemPrompt, prompt, agentMaxTokens)
			if err != nil {
				return nil, err
			}
			res := map[string]any{
				"type":     "agent",
				"agent":    agent.Name,
				"response": out.Response,
				"usage":    adapters.ToMap(out.Usage),
			}
			if kind == "dalle" && out.Response != "" {
				res["imagePrompt"] = out.Response
			} else {
				res["model"] = out.Model
			}
			return res, nil
		})
	}
}

// Deliverer posts a node's input to the automation platform configured for
// the node type.
type Deliverer interface {
	Deliver(ctx context.Context, nodeType string, input map[string]any) (map[string]any, error)
}

var _ Deliverer = (*webhook.Client)(nil)

// RegisterWebhooks wires make, gmail, notion, sheets, discord and twilio
// nodes to d.
func (x *Executor) RegisterWebhooks(d Deliverer) {
	for _, typ := range webhook.NodeTypes {
		typ := typ
		x.Handle(typ, func(ctx context.Context, n Node, in map[string]any) (map[string]any, error) {
			return d.Deliver(ctx, typ, in)
		})
	}
}

// Caller invokes a registered component operation.
type Caller interface {
	Invoke(ctx context.Context, target, method string, payload map[string]any) (any, error)
}

// Op names a component operation.
type Op struct {
	Component string
	Method    string
}

// AdapterOps maps action node types onto component operations.
var AdapterOps = map[string]Op{
	"media.search":    {"media", "search"},
	"media.download":  {"media", "add_download"},
	"media.feeds":     {"media", "refresh_feeds"},
	"content.create":  {"content", "create_post"},
	"content.publish": {"content", "publish"},
	"ai.chat":         {"ai", "chat"},
	"ai.enhance":      {"ai", "enhance"},
}

// RegisterAdapterOps wires every AdapterOps type to c. The operation payload
// is the node input with the node config on top; the node result is the
// input with the operation result on top, so ids and content keep flowing
// down the graph.
func (x *Executor) RegisterAdapterOps(c Caller) {
	for typ, op := range AdapterOps {
		typ, op := typ, op
		x.Handle(typ, func(ctx context.Context, n Node, in map[string]any) (map[string]any, error) {
			payload := copyMap(in)
			for k, v := range n.Config {
				payload[k] = v
			}
			res, err := c.Invoke(ctx, op.Component, op.Method, payload)
			if err != nil {
				return nil, err
			}
			out := copyMap(in)
			for k, v := range resultFields(res) {
				out[k] = v
			}
			out["type"] = typ
			return out, nil
		})
	}
}

// resultFields flattens an operation result into node fields. Objects are
// spread; anything else lands under "results".
func resultFields(v any) map[string]any {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"results": fmt.Sprint(v)}
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return map[string]any{"results": string(b)}
	}
	switch t := decoded.(type) {
	case map[string]any:
		return t
	case []any:
		return map[string]any{"results": t, "count": len(t)}
	default:
		return map[string]any{"results": t}
	}
}
