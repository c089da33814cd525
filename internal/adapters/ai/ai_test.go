package ai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/becmacc/beyflow-chat-sub000/internal/adapters"
	"github.com/becmacc/beyflow-chat-sub000/internal/adapters/ai"
	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
)

func newOmnisphere(t *testing.T, handler http.HandlerFunc) (*ai.Client, *hub.Hub) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := ai.New(adapters.Options{BaseURL: server.URL})
	h := hub.New()
	h.Register(context.Background(), "ai", client, hub.Config{Type: "ai_assistance"})
	return client, h
}

func TestExtractActions(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     []string
	}{
		{name: "media", response: "I can download Dune for you.", want: []string{"media/search"}},
		{name: "content", response: "Let me write about Go concurrency.", want: []string{"content/create_post"}},
		{name: "workflow", response: "We could automate this.", want: []string{"workflow/suggest_automation"}},
		{name: "all", response: "Download the movie, then write a blog post and automate it.", want: []string{"media/search", "content/create_post", "workflow/suggest_automation"}},
		{name: "none", response: "Hello there.", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ai.ExtractActions(tt.response)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractActions() = %+v, want %v", got, tt.want)
			}
			for i, a := range got {
				if a.Component+"/"+a.Action != tt.want[i] {
					t.Errorf("action[%d] = %s/%s, want %s", i, a.Component, a.Action, tt.want[i])
				}
			}
		})
	}

	got := ai.ExtractActions("Sure, download dune part two. Enjoy!")
	if got[0].Query != "dune part two" {
		t.Errorf("unexpected query %q", got[0].Query)
	}
}

func TestChat_EmitsResponseAndKeepsHistory(t *testing.T) {
	client, h := newOmnisphere(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/api/chat":
			var req map[string]any
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if req["conversationId"] != "c1" {
				t.Errorf("unexpected conversation %v", req["conversationId"])
			}
			json.NewEncoder(w).Encode(map[string]any{"response": "You should download Arrival.", "suggestions": []string{"Arrival"}})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	})

	var generated hub.Event
	h.Subscribe("ai:response_generated", func(ctx context.Context, evt hub.Event) error {
		generated = evt
		return nil
	})

	if status := client.Check(context.Background()); status != hub.StatusConnected {
		t.Fatalf("expected connected, got %s", status)
	}
	reply, err := client.Chat(context.Background(), "what should I watch?", "c1")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply.Offline {
		t.Fatalf("expected online reply")
	}
	if len(reply.ComponentActions) != 1 || reply.ComponentActions[0].Query != "arrival" {
		t.Fatalf("unexpected actions %+v", reply.ComponentActions)
	}
	if generated.Name != "ai:response_generated" || generated.Payload["response"] != "You should download Arrival." {
		t.Fatalf("unexpected event %+v", generated)
	}
	actions, ok := generated.Payload["componentActions"].([]any)
	if !ok || len(actions) != 1 {
		t.Fatalf("expected component actions in payload, got %#v", generated.Payload["componentActions"])
	}
	if hist := client.History("c1"); len(hist) != 1 || hist[0].User != "what should I watch?" {
		t.Fatalf("unexpected history %+v", hist)
	}
}

func TestChat_OfflineReply(t *testing.T) {
	client, h := newOmnisphere(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	emitted := 0
	h.Subscribe("ai:response_generated", func(ctx context.Context, evt hub.Event) error {
		emitted++
		return nil
	})

	client.Check(context.Background())
	reply, err := client.Chat(context.Background(), "download dune and blog it", "")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !reply.Offline {
		t.Fatalf("expected offline reply")
	}
	if len(reply.ComponentActions) != 2 || reply.ComponentActions[0].Query != "dune and blog it" {
		t.Fatalf("unexpected local actions %+v", reply.ComponentActions)
	}
	if emitted != 0 {
		t.Fatalf("offline replies must not be announced")
	}
}

func TestEnhance(t *testing.T) {
	client, h := newOmnisphere(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/enhance" {
			json.NewEncoder(w).Encode(map[string]any{"content": "Better text", "improvements": []string{"clarity"}})
		}
	})
	enhanced := 0
	h.Subscribe("ai:content_enhanced", func(ctx context.Context, evt hub.Event) error {
		enhanced++
		return nil
	})

	out, err := client.Enhance(context.Background(), "text", "blog_post")
	if err != nil || out != "text" {
		t.Fatalf("expected passthrough before the first probe, got %q, %v", out, err)
	}

	client.Check(context.Background())
	out, err = client.Enhance(context.Background(), "text", "blog_post")
	if err != nil {
		t.Fatalf("Enhance() error = %v", err)
	}
	if out != "Better text" || enhanced != 1 {
		t.Fatalf("Enhance() = %q (events %d)", out, enhanced)
	}
}

func TestEnhanceMethod_ReadsKindOnly(t *testing.T) {
	var kinds []string
	client, h := newOmnisphere(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/enhance" {
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		kinds = append(kinds, body["type"].(string))
		json.NewEncoder(w).Encode(map[string]any{"content": "Better"})
	})
	client.Check(context.Background())

	payloads := []map[string]any{
		{"content": "hello", "type": "message"},
		{"content": "hello", "kind": "blog_post", "type": "message"},
	}
	for _, p := range payloads {
		if _, err := h.Invoke(context.Background(), "ai", "enhance", p); err != nil {
			t.Fatalf("enhance error = %v", err)
		}
	}
	if len(kinds) != 2 || kinds[0] != "general" || kinds[1] != "blog_post" {
		t.Fatalf("enhance sent types %v, want [general blog_post]", kinds)
	}
}

func TestCompletionClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req ai.CompletionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != ai.DefaultModel || req.MaxTokens != 500 || len(req.Messages) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		if req.Messages[0].Content != "You are a helpful automation assistant." {
			t.Errorf("unexpected system prompt %q", req.Messages[0].Content)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model":   "gpt-4o-2024",
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": "done"}}},
			"usage":   map[string]any{"total_tokens": 12},
		})
	}))
	defer server.Close()

	client := ai.NewCompletionClient(adapters.Options{
		BaseURL: server.URL,
		Header:  http.Header{"Authorization": []string{"Bearer sk-test"}},
	}, "")
	got, err := client.Complete(context.Background(), "", "hello", 500)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.Response != "done" || got.Model != "gpt-4o-2024" || got.Usage.TotalTokens != 12 {
		t.Fatalf("unexpected completion %+v", got)
	}
}

func TestAgentFor(t *testing.T) {
	if ai.AgentFor("gptEngineer").Name != "GPT-Engineer" {
		t.Errorf("unexpected agent")
	}
	if ai.AgentFor("unknown").Name != "Omnigen" {
		t.Errorf("expected fallback to Omnigen")
	}
}
