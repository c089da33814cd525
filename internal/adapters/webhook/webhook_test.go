package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
)

type sink struct {
	mu     sync.Mutex
	bodies []Envelope
	paths  []string
	status int
}

func (s *sink) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		s.mu.Lock()
		s.bodies = append(s.bodies, env)
		s.paths = append(s.paths, r.URL.Path)
		status := s.status
		s.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (s *sink) snapshot() ([]Envelope, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.bodies...), append([]string(nil), s.paths...)
}

func TestSend_Envelope(t *testing.T) {
	s := &sink{}
	srv := s.server(t)
	c := New(Config{}, nil)
	c.nowFn = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	resp, err := c.Send(context.Background(), srv.URL+"/hook", "chat_message", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"accepted": true}, resp)
	require.Len(t, s.bodies, 1)
	assert.Equal(t, "chat_message", s.bodies[0].Trigger)
	assert.Equal(t, "beyflow", s.bodies[0].Source)
	assert.Equal(t, "hi", s.bodies[0].Data["message"])
	assert.True(t, s.bodies[0].Timestamp.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))

	_, err = c.Send(context.Background(), "", "x", nil)
	assert.True(t, errors.Is(err, ErrNoURL))
}

func TestAttach_ForwardsConfiguredTriggers(t *testing.T) {
	s := &sink{}
	srv := s.server(t)
	c := New(Config{TriggerURLs: map[string]string{"content_published": srv.URL + "/content"}}, nil)
	h := hub.New()
	h.Register(context.Background(), "webhook", c, hub.Config{Type: "webhook"})

	var (
		mu   sync.Mutex
		sent []string
	)
	h.Subscribe("webhook:sent", func(ctx context.Context, evt hub.Event) error {
		mu.Lock()
		sent = append(sent, evt.Payload["trigger"].(string))
		mu.Unlock()
		return nil
	})

	h.Emit(context.Background(), "content:post_published", map[string]any{"title": "Hello"})
	h.Emit(context.Background(), "chat:message_sent", map[string]any{"message": "not configured"})
	c.Wait()

	bodies, paths := s.snapshot()
	require.Len(t, bodies, 1)
	assert.Equal(t, "/content", paths[0])
	assert.Equal(t, "Hello", bodies[0].Data["title"])
	mu.Lock()
	assert.Equal(t, []string{"content_published"}, sent)
	mu.Unlock()

	c.Stop()
	h.Emit(context.Background(), "content:post_published", map[string]any{"title": "Again"})
	c.Wait()
	bodies, _ = s.snapshot()
	assert.Len(t, bodies, 1)
}

func TestAttach_EmitDoesNotWaitForSlowPlatform(t *testing.T) {
	release := make(chan struct{})
	var got sync.WaitGroup
	got.Add(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{}`))
		got.Done()
	}))
	defer srv.Close()

	c := New(Config{TriggerURLs: map[string]string{"chat_message": srv.URL}, Timeout: 5 * time.Second}, nil)
	h := hub.New()
	h.Register(context.Background(), "webhook", c, hub.Config{Type: "webhook"})

	start := time.Now()
	h.Emit(context.Background(), "chat:message_sent", map[string]any{"message": "hi"})
	elapsed := time.Since(start)
	close(release)

	assert.Less(t, elapsed, 500*time.Millisecond)
	got.Wait()
	c.Stop()
}

func TestDeliver_NodeTypes(t *testing.T) {
	s := &sink{}
	srv := s.server(t)
	c := New(Config{NodeURLs: map[string]string{"make": srv.URL + "/make", "notion": srv.URL + "/notion"}}, nil)

	out, err := c.Deliver(context.Background(), "notion", map[string]any{"response": "text"})
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	_, err = c.Deliver(context.Background(), "gmail", map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, []string{"/notion", "/make"}, s.paths)
	assert.Equal(t, "notion", s.bodies[0].Data["action"])
	assert.Equal(t, "workflow", s.bodies[0].Trigger)
	assert.Equal(t, "gmail", s.bodies[1].Data["action"])
}

func TestSend_FailureEmitsEvent(t *testing.T) {
	s := &sink{status: http.StatusBadGateway}
	srv := s.server(t)
	c := New(Config{}, nil)
	h := hub.New()
	h.Register(context.Background(), "webhook", c, hub.Config{})
	failed := 0
	h.Subscribe("webhook:failed", func(ctx context.Context, evt hub.Event) error {
		failed++
		return nil
	})

	_, err := c.Send(context.Background(), srv.URL, "ai_request", nil)
	assert.Error(t, err)
	assert.Equal(t, 1, failed)
}
