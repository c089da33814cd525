package ai

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/becmacc/beyflow-chat-sub000/internal/adapters"
	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
)

const maxConversation = 50

// ComponentAction is an operation suggested by an assistant reply.
type ComponentAction struct {
	Component  string  `json:"component"`
	Action     string  `json:"action"`
	Query      string  `json:"query,omitempty"`
	Title      string  `json:"title,omitempty"`
	Context    string  `json:"context,omitempty"`
	Confidence float64 `json:"confidence"`
}

type WorkflowSuggestion struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
}

type Reply struct {
	Message             string               `json:"message"`
	ComponentActions    []ComponentAction    `json:"componentActions"`
	WorkflowSuggestions []WorkflowSuggestion `json:"workflowSuggestions"`
	Suggestions         []any                `json:"suggestions"`
	Actions             []any                `json:"actions"`
	Offline             bool                 `json:"offline,omitempty"`
	Timestamp           time.Time            `json:"timestamp"`
}

type Turn struct {
	User      string    `json:"user"`
	AI        string    `json:"ai"`
	Timestamp time.Time `json:"timestamp"`
}

type chatResponse struct {
	Response    string `json:"response"`
	Suggestions []any  `json:"suggestions"`
	Actions     []any  `json:"actions"`
}

type enhanceResponse struct {
	Content      string `json:"content"`
	Improvements []any  `json:"improvements"`
}

// Client adapts the AI-assistance service.
type Client struct {
	*adapters.Service

	mu            sync.Mutex
	conversations map[string][]Turn
	nowFn         func() time.Time
}

func New(opts adapters.Options) *Client {
	if opts.Name == "" {
		opts.Name = "ai"
	}
	if opts.ProbePath == "" {
		opts.ProbePath = "/health"
	}
	return &Client{
		Service:       adapters.NewService(opts),
		conversations: map[string][]Turn{},
		nowFn:         time.Now,
	}
}

func hubContext() map[string]any {
	return map[string]any{
		"components":   []string{"chat", "media", "content", "ai"},
		"integrations": []string{"make", "zapier", "webhooks"},
	}
}

// Chat sends message to the assistant. While the service is offline it
// answers locally with keyword-derived actions and Offline set.
func (c *Client) Chat(ctx context.Context, message, conversationID string) (Reply, error) {
	if conversationID == "" {
		conversationID = "default"
	}
	if c.Status() == hub.StatusOffline {
		return c.offlineReply(message), nil
	}

	var resp chatResponse
	err := c.Do(ctx, http.MethodPost, "/api/chat", map[string]any{
		"message":        message,
		"conversationId": conversationID,
		"context": map[string]any{
			"beyflow":      hubContext(),
			"conversation": c.History(conversationID),
		},
	}, &resp)
	if adapters.IsOffline(err) {
		return c.offlineReply(message), nil
	}
	if err != nil {
		return Reply{}, err
	}

	c.remember(conversationID, message, resp.Response)
	reply := Reply{
		Message:             resp.Response,
		ComponentActions:    ExtractActions(resp.Response),
		WorkflowSuggestions: ExtractWorkflowSuggestions(resp.Response),
		Suggestions:         nonNil(resp.Suggestions),
		Actions:             nonNil(resp.Actions),
		Timestamp:           c.nowFn().UTC(),
	}
	c.Emit(ctx, "response_generated", map[string]any{
		"conversationId":   conversationID,
		"message":          message,
		"response":         reply.Message,
		"componentActions": actionMaps(reply.ComponentActions),
		"suggestions":      reply.Suggestions,
	})
	return reply, nil
}

func nonNil(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}

func actionMaps(actions []ComponentAction) []any {
	out := make([]any, 0, len(actions))
	for _, a := range actions {
		out = append(out, adapters.ToMap(a))
	}
	return out
}

func (c *Client) remember(id, user, ai string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	turns := append(c.conversations[id], Turn{User: user, AI: ai, Timestamp: c.nowFn().UTC()})
	if len(turns) > maxConversation {
		turns = turns[len(turns)-maxConversation:]
	}
	c.conversations[id] = turns
}

func (c *Client) History(id string) []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Turn{}, c.conversations[id]...)
}

func (c *Client) ClearConversation(ctx context.Context, id string) {
	c.mu.Lock()
	delete(c.conversations, id)
	c.mu.Unlock()
	c.Emit(ctx, "conversation_cleared", map[string]any{"conversationId": id})
}

var offlineStrip = regexp.MustCompile(`download|get|find`)

func (c *Client) offlineReply(message string) Reply {
	text := strings.ToLower(message)
	actions := []ComponentAction{}
	if strings.Contains(text, "download") {
		actions = append(actions, ComponentAction{
			Component:  "media",
			Action:     "search",
			Query:      strings.Join(strings.Fields(offlineStrip.ReplaceAllString(text, "")), " "),
			Confidence: 0.5,
		})
	}
	if strings.Contains(text, "blog") || strings.Contains(text, "post") {
		actions = append(actions, ComponentAction{Component: "content", Action: "create_post", Title: text, Confidence: 0.5})
	}
	return Reply{
		Message:             "AI assistance offline. Processing locally...",
		ComponentActions:    actions,
		WorkflowSuggestions: []WorkflowSuggestion{},
		Suggestions:         []any{},
		Actions:             []any{},
		Offline:             true,
		Timestamp:           c.nowFn().UTC(),
	}
}

var (
	mediaPhrase   = regexp.MustCompile(`(?:download|find|get)\s+([^.!?]+)`)
	contentPhrase = regexp.MustCompile(`(?:write|create|post)\s+(?:about\s+)?([^.!?]+)`)
)

// ExtractActions scans an assistant reply for media, content and workflow
// intents.
func ExtractActions(response string) []ComponentAction {
	text := strings.ToLower(response)
	actions := []ComponentAction{}
	if strings.Contains(text, "download") || strings.Contains(text, "torrent") || strings.Contains(text, "media") {
		if m := mediaPhrase.FindStringSubmatch(text); m != nil {
			actions = append(actions, ComponentAction{Component: "media", Action: "search", Query: strings.TrimSpace(m[1]), Confidence: 0.8})
		}
	}
	if strings.Contains(text, "blog") || strings.Contains(text, "post") || strings.Contains(text, "write") {
		if m := contentPhrase.FindStringSubmatch(text); m != nil {
			actions = append(actions, ComponentAction{Component: "content", Action: "create_post", Title: strings.TrimSpace(m[1]), Confidence: 0.7})
		}
	}
	if strings.Contains(text, "automate") || strings.Contains(text, "workflow") || strings.Contains(text, "trigger") {
		actions = append(actions, ComponentAction{Component: "workflow", Action: "suggest_automation", Context: text, Confidence: 0.6})
	}
	return actions
}

func ExtractWorkflowSuggestions(response string) []WorkflowSuggestion {
	text := strings.ToLower(response)
	out := []WorkflowSuggestion{}
	if strings.Contains(text, "download") && strings.Contains(text, "blog") {
		out = append(out, WorkflowSuggestion{
			Type:        "media_to_content",
			Description: "Download media and create blog post about it",
			Steps:       []string{"media.search", "media.download", "content.create"},
		})
	}
	if strings.Contains(text, "rss") && strings.Contains(text, "automatic") {
		out = append(out, WorkflowSuggestion{
			Type:        "rss_automation",
			Description: "Set up automatic RSS monitoring and downloads",
			Steps:       []string{"media.refresh_feeds", "chat.notify"},
		})
	}
	return out
}

// Enhance asks the assistant to improve content. When the service is not
// reachable the original content is returned unchanged.
func (c *Client) Enhance(ctx context.Context, content, kind string) (string, error) {
	if kind == "" {
		kind = "general"
	}
	if !c.Connected() {
		return content, nil
	}
	var resp enhanceResponse
	err := c.Do(ctx, http.MethodPost, "/api/enhance", map[string]any{
		"content": content,
		"type":    kind,
		"context": hubContext(),
	}, &resp)
	if err != nil {
		return content, err
	}
	if resp.Content == "" {
		return content, nil
	}
	c.Emit(ctx, "content_enhanced", map[string]any{
		"original":     content,
		"enhanced":     resp.Content,
		"improvements": nonNil(resp.Improvements),
	})
	return resp.Content, nil
}

func (c *Client) Analyze(ctx context.Context, component string, data map[string]any) (map[string]any, error) {
	var analysis map[string]any
	err := c.Do(ctx, http.MethodPost, "/api/analyze", map[string]any{
		"component": component,
		"data":      data,
		"context":   hubContext(),
	}, &analysis)
	if err != nil {
		return nil, err
	}
	c.Emit(ctx, "analysis_complete", map[string]any{"component": component, "analysis": analysis})
	return analysis, nil
}

func (c *Client) GenerateWorkflow(ctx context.Context, description string, components []string) (map[string]any, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("workflow description is required")
	}
	if len(components) == 0 {
		components = []string{"chat", "media", "content"}
	}
	var wf map[string]any
	err := c.Do(ctx, http.MethodPost, "/api/workflow", map[string]any{
		"description":         description,
		"availableComponents": components,
		"context":             hubContext(),
	}, &wf)
	if err != nil {
		return nil, err
	}
	c.Emit(ctx, "workflow_generated", wf)
	return wf, nil
}

var slashCommand = regexp.MustCompile(`^/(\w+)(?:\s+(.+))?`)

// HandleCommand answers slash commands (/enhance, /analyze, /workflow).
// Free text is left to the chat fallback.
func (c *Client) HandleCommand(ctx context.Context, text string) (any, bool, error) {
	m := slashCommand.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return nil, false, nil
	}
	switch m[1] {
	case "enhance":
		out, err := c.Enhance(ctx, m[2], "general")
		return out, true, err
	case "analyze":
		out, err := c.Analyze(ctx, m[2], map[string]any{})
		return out, true, err
	case "workflow":
		out, err := c.GenerateWorkflow(ctx, m[2], nil)
		return out, true, err
	}
	return nil, false, nil
}

// Methods implements hub.Invoker.
func (c *Client) Methods() map[string]hub.Method {
	return map[string]hub.Method{
		"chat": func(ctx context.Context, p map[string]any) (any, error) {
			return c.Chat(ctx, adapters.FirstString(p, "message", "content", "prompt"), adapters.FirstString(p, "conversationId", "conversation_id", "user"))
		},
		"enhance": func(ctx context.Context, p map[string]any) (any, error) {
			content := adapters.FirstString(p, "content", "message", "response")
			// "type" is left alone: trigger payloads use it for the message kind.
			enhanced, err := c.Enhance(ctx, content, adapters.FirstString(p, "kind"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"content": enhanced, "changed": enhanced != content}, nil
		},
		"analyze": func(ctx context.Context, p map[string]any) (any, error) {
			data, _ := p["data"].(map[string]any)
			if data == nil {
				data = p
			}
			return c.Analyze(ctx, adapters.String(p, "component"), data)
		},
		"generate_workflow": func(ctx context.Context, p map[string]any) (any, error) {
			return c.GenerateWorkflow(ctx, adapters.FirstString(p, "description", "message"), adapters.Strings(p, "components"))
		},
		"history": func(ctx context.Context, p map[string]any) (any, error) {
			id := adapters.String(p, "conversationId")
			if id == "" {
				id = "default"
			}
			return c.History(id), nil
		},
	}
}
