package chat

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/becmacc/beyflow-chat-sub000/internal/adapters"
	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
)

const maxMessages = 200

type Role string

const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
	RoleAI     Role = "ai"
)

type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Text      string         `json:"text"`
	Kind      string         `json:"kind,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SendOptions tunes a user message.
type SendOptions struct {
	User       string
	SaveToBlog bool
}

// Reply is what Send hands back to the caller.
type Reply struct {
	Message   Message `json:"message"`
	Handled   bool    `json:"handled"`
	Component string  `json:"component,omitempty"`
	Result    any     `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Surface is the local chat component: a bounded message log plus command
// routing across the other registered components.
type Surface struct {
	mu       sync.RWMutex
	link     hub.Link
	messages []Message
	nowFn    func() time.Time
}

func New() *Surface {
	return &Surface{nowFn: time.Now}
}

// Attach implements hub.Linker.
func (s *Surface) Attach(l hub.Link) {
	s.mu.Lock()
	s.link = l
	s.mu.Unlock()
}

func (s *Surface) getLink() hub.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.link
}

func (s *Surface) add(role Role, text, kind string, meta map[string]any) Message {
	m := Message{ID: uuid.NewString(), Role: role, Text: text, Kind: kind, Meta: meta, Timestamp: s.nowFn().UTC()}
	s.mu.Lock()
	s.messages = append(s.messages, m)
	if len(s.messages) > maxMessages {
		s.messages = append([]Message(nil), s.messages[len(s.messages)-maxMessages:]...)
	}
	s.mu.Unlock()
	return m
}

func (s *Surface) AddSystemMessage(text, kind string, meta map[string]any) Message {
	return s.add(RoleSystem, text, kind, meta)
}

func (s *Surface) AddAIMessage(text string, meta map[string]any) Message {
	return s.add(RoleAI, text, "ai_response", meta)
}

func (s *Surface) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages...)
}

func (s *Surface) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
}

// Send records a user message, announces it as chat:message_sent and then
// routes it as a command.
func (s *Surface) Send(ctx context.Context, text string, opts SendOptions) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, fmt.Errorf("message is required")
	}
	user := opts.User
	if user == "" {
		user = "user"
	}
	msg := s.add(RoleUser, text, "", map[string]any{"user": user})
	if l := s.getLink(); l != nil {
		l.Emit(ctx, "chat:message_sent", map[string]any{
			"id":         msg.ID,
			"message":    text,
			"user":       user,
			"saveToBlog": opts.SaveToBlog,
			"timestamp":  msg.Timestamp,
		})
	}

	reply := Reply{Message: msg}
	component, result, err := s.Handle(ctx, text)
	reply.Component = component
	reply.Result = result
	reply.Handled = component != ""
	if err != nil {
		reply.Error = err.Error()
		s.AddSystemMessage(fmt.Sprintf("%s failed: %v", component, err), "error", nil)
	}
	return reply, nil
}

// Handle routes text: status questions are answered from the registry,
// everything else goes to the first component that claims it, and unclaimed
// text falls back to the assistant.
func (s *Surface) Handle(ctx context.Context, text string) (string, any, error) {
	l := s.getLink()
	if l == nil {
		return "", nil, nil
	}
	t := strings.ToLower(text)
	if strings.Contains(t, "status") || strings.Contains(t, "check") {
		if !strings.Contains(t, "download") {
			summary := statusSummary(l.Components())
			s.AddSystemMessage(summary, "status", nil)
			return "chat", summary, nil
		}
	}

	component, result, err := l.Command(ctx, text)
	if component != "" {
		if err == nil {
			s.AddSystemMessage(describe(component, result), "command_result", map[string]any{"component": component})
		}
		return component, result, err
	}

	res, err := l.Invoke(ctx, "ai", "chat", map[string]any{"message": text})
	if err != nil {
		return "ai", nil, err
	}
	return "ai", res, nil
}

func statusSummary(records []hub.Record) string {
	parts := make([]string, 0, len(records))
	for _, r := range records {
		if r.Name == "chat" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", r.Name, r.Status))
	}
	sort.Strings(parts)
	if len(parts) == 0 {
		return "No components registered"
	}
	return strings.Join(parts, ", ")
}

func describe(component string, result any) string {
	if m, ok := result.(map[string]any); ok {
		if msg, ok := m["message"].(string); ok && msg != "" {
			return msg
		}
	}
	if result != nil {
		v := reflect.ValueOf(result)
		if v.Kind() == reflect.Slice {
			return fmt.Sprintf("%s returned %d results", component, v.Len())
		}
	}
	return fmt.Sprintf("%s handled the request", component)
}

// Methods implements hub.Invoker.
func (s *Surface) Methods() map[string]hub.Method {
	return map[string]hub.Method{
		"send": func(ctx context.Context, p map[string]any) (any, error) {
			return s.Send(ctx, adapters.FirstString(p, "message", "text", "content"), SendOptions{
				User:       adapters.String(p, "user"),
				SaveToBlog: adapters.Bool(p, "saveToBlog"),
			})
		},
		"system_message": func(ctx context.Context, p map[string]any) (any, error) {
			text := adapters.FirstString(p, "message", "text")
			if text == "" {
				return nil, fmt.Errorf("message is required")
			}
			meta := map[string]any{}
			if link := adapters.String(p, "link"); link != "" {
				meta["link"] = link
			}
			return s.AddSystemMessage(text, adapters.String(p, "type"), meta), nil
		},
		"ai_message": func(ctx context.Context, p map[string]any) (any, error) {
			text := adapters.FirstString(p, "response", "message", "text")
			if text == "" {
				return nil, fmt.Errorf("response is required")
			}
			return s.AddAIMessage(text, map[string]any{"conversationId": adapters.String(p, "conversationId")}), nil
		},
		"messages": func(ctx context.Context, p map[string]any) (any, error) {
			return s.Messages(), nil
		},
		"clear": func(ctx context.Context, p map[string]any) (any, error) {
			s.Clear()
			return map[string]any{"cleared": true}, nil
		},
	}
}
