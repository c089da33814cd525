package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
)

type recorder struct {
	name  string
	calls []string
	last  map[string]any
}

func (r *recorder) Methods() map[string]hub.Method {
	m := map[string]hub.Method{}
	for _, method := range []string{"send", "add_download", "search", "search_and_suggest", "publish", "create_post", "chat", "execute"} {
		method := method
		m[method] = func(_ context.Context, p map[string]any) (any, error) {
			r.calls = append(r.calls, method)
			r.last = p
			return map[string]any{"handled": r.name + "." + method}, nil
		}
	}
	return m
}

func TestRoute_UnknownEndpoint(t *testing.T) {
	r := New()
	_, err := r.Route(context.Background(), "nope/nothing", nil)
	var re *RoutingError
	if !errors.As(err, &re) {
		t.Fatalf("expected RoutingError, got %v", err)
	}
	if err.Error() != "unknown endpoint: nope/nothing" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestRoute_NormalizesEndpoint(t *testing.T) {
	r := New()
	r.Register("chat/message", func(_ context.Context, p map[string]any) (any, error) {
		return p["message"], nil
	})
	got, err := r.Route(context.Background(), " /Chat/Message/ ", map[string]any{"message": "hi"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if got != "hi" {
		t.Fatalf("expected hi, got %v", got)
	}
}

func TestRegisterDefaults(t *testing.T) {
	h := hub.New()
	comps := map[string]*recorder{}
	for _, name := range []string{"chat", "media", "content", "ai", "workflow"} {
		comps[name] = &recorder{name: name}
		h.Register(context.Background(), name, comps[name], hub.Config{Type: name})
	}
	var announced []string
	h.Subscribe("automation:media_download", func(_ context.Context, e hub.Event) error {
		announced = append(announced, e.Name)
		return nil
	})

	r := New()
	RegisterDefaults(r, h)
	assert.Equal(t, []string{
		"ai/process", "ai_process", "chat/message", "content/publish", "content_publish",
		"media/download", "media/search", "media_request", "workflow/execute", "workflow_execute",
	}, r.Endpoints())

	cases := []struct {
		endpoint string
		want     string
	}{
		{"chat/message", "chat.send"},
		{"media/download", "media.add_download"},
		{"media/search", "media.search"},
		{"content/publish", "content.publish"},
		{"ai/process", "ai.chat"},
		{"workflow/execute", "workflow.execute"},
		{"media_request", "media.search_and_suggest"},
		{"content_publish", "content.create_post"},
		{"ai_process", "ai.chat"},
		{"workflow_execute", "workflow.execute"},
	}
	for _, c := range cases {
		got, err := r.Route(context.Background(), c.endpoint, map[string]any{"query": "dune"})
		require.NoError(t, err, c.endpoint)
		assert.Equal(t, c.want, got.(map[string]any)["handled"], c.endpoint)
	}
	assert.Equal(t, []string{"automation:media_download"}, announced)
}

func TestDispatch_WorkflowEnvelope(t *testing.T) {
	h := hub.New()
	wf := &recorder{name: "workflow"}
	h.Register(context.Background(), "workflow", wf, hub.Config{Type: "workflow"})
	r := New()
	RegisterDefaults(r, h)

	_, err := r.Dispatch(context.Background(), map[string]any{
		"trigger": "workflow_execute",
		"source":  "make",
		"data": map[string]any{
			"workflow": "daily_automation",
			"params":   map[string]any{"message": "go"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "daily_automation", wf.last["template"])
	assert.Equal(t, map[string]any{"message": "go"}, wf.last["input"])

	_, err = r.Dispatch(context.Background(), map[string]any{"data": map[string]any{}})
	var re *RoutingError
	assert.ErrorAs(t, err, &re)
}
