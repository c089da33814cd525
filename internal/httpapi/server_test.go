package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/becmacc/beyflow-chat-sub000/internal/automation"
	"github.com/becmacc/beyflow-chat-sub000/internal/engine"
	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
	"github.com/becmacc/beyflow-chat-sub000/internal/middleware"
	"github.com/becmacc/beyflow-chat-sub000/internal/router"
	"github.com/becmacc/beyflow-chat-sub000/internal/store"
	"github.com/becmacc/beyflow-chat-sub000/internal/workflow"
)

type mediaStub struct{}

func (mediaStub) Methods() map[string]hub.Method {
	return map[string]hub.Method{
		"search": func(_ context.Context, p map[string]any) (any, error) {
			return []map[string]any{{"title": p["query"]}}, nil
		},
	}
}

type fixture struct {
	srv    *httptest.Server
	hub    *hub.Hub
	engine *engine.Engine
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	h := hub.New()
	h.Register(context.Background(), "media", mediaStub{}, hub.Config{Type: "media"})

	x := workflow.New(h)
	x.Handle("echo", func(_ context.Context, _ workflow.Node, in map[string]any) (map[string]any, error) {
		if in["fail"] == true {
			return nil, errors.New("echo refused")
		}
		return map[string]any{"echo": in["content"]}, nil
	})

	rt := router.New()
	router.RegisterDefaults(rt, h)

	dsn := "file:httpapi_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	repo, err := store.New(db)
	require.NoError(t, err)
	eng := engine.New(repo, x, engine.Options{})

	s := New(Options{
		Hub:           h,
		Rules:         automation.New(h),
		Executor:      x,
		Router:        rt,
		Repo:          repo,
		Engine:        eng,
		WebhookSecret: secret,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, hub: h, engine: eng}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHealthAndComponents(t *testing.T) {
	f := newFixture(t, "")
	code, body := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = f.do(t, http.MethodGet, "/api/hub/components", nil)
	assert.Equal(t, http.StatusOK, code)
	comps := body["components"].([]any)
	require.Len(t, comps, 1)
	assert.Equal(t, "media", comps[0].(map[string]any)["name"])
}

func TestEmitEvent(t *testing.T) {
	f := newFixture(t, "")
	got := make(chan hub.Event, 1)
	f.hub.Subscribe("test:ping", func(_ context.Context, e hub.Event) error {
		got <- e
		return nil
	})
	code, _ := f.do(t, http.MethodPost, "/api/hub/events/test:ping", map[string]any{"n": 1})
	assert.Equal(t, http.StatusAccepted, code)
	select {
	case evt := <-got:
		assert.Equal(t, "api", evt.Source)
		assert.Equal(t, float64(1), evt.Payload["n"])
	default:
		t.Fatal("event was not delivered before the response")
	}
}

func TestRulesCRUD(t *testing.T) {
	f := newFixture(t, "")
	code, body := f.do(t, http.MethodPost, "/api/hub/rules", map[string]any{
		"name":    "relay",
		"trigger": "media:download_complete",
		"do":      map[string]any{"emit": "relay:done"},
	})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "api", body["source"])

	code, body = f.do(t, http.MethodGet, "/api/hub/rules", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["rules"], 1)

	code, _ = f.do(t, http.MethodPost, "/api/hub/rules", map[string]any{"name": "broken", "trigger": "x"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodDelete, "/api/hub/rules/relay", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodDelete, "/api/hub/rules/relay", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestWebhooks(t *testing.T) {
	f := newFixture(t, "")
	code, body := f.do(t, http.MethodPost, "/api/hub/webhooks/media/search", map[string]any{"query": "dune"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "dune", body["result"].([]any)[0].(map[string]any)["title"])

	code, body = f.do(t, http.MethodPost, "/api/hub/webhooks/nope", map[string]any{})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "unknown endpoint: nope", body["error"])
	assert.Equal(t, float64(http.StatusNotFound), body["code"])

	// content is not registered: the route exists but the target does not.
	code, _ = f.do(t, http.MethodPost, "/api/hub/webhooks/content/publish", map[string]any{})
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body = f.do(t, http.MethodPost, "/api/hub/webhooks", map[string]any{
		"trigger": "media/search",
		"source":  "zapier",
		"data":    map[string]any{"query": "arrival"},
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "arrival", body["result"].([]any)[0].(map[string]any)["title"])

	code, body = f.do(t, http.MethodGet, "/api/hub/webhooks", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["endpoints"], "workflow_execute")
}

func TestWebhooks_RequireToken(t *testing.T) {
	f := newFixture(t, "s3cret")
	code, _ := f.do(t, http.MethodPost, "/api/hub/webhooks/media/search", map[string]any{"query": "dune"})
	assert.Equal(t, http.StatusUnauthorized, code)

	token, err := middleware.Sign("s3cret", "make", time.Minute)
	require.NoError(t, err)
	code, _ = f.do(t, http.MethodPost, "/api/hub/webhooks/media/search?token="+token, map[string]any{"query": "dune"})
	assert.Equal(t, http.StatusOK, code)
}

func TestExecute(t *testing.T) {
	f := newFixture(t, "")
	graph := map[string]any{
		"nodes": []any{
			map[string]any{"id": "n1", "category": "trigger", "type": "message"},
			map[string]any{"id": "n2", "category": "action", "type": "echo"},
		},
		"edges": []any{map[string]any{"from": "n1", "to": "n2"}},
	}

	code, body := f.do(t, http.MethodPost, "/api/hub/workflows/execute", map[string]any{"graph": graph, "input": map[string]any{"message": "hello"}})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "hello", body["finalResult"].(map[string]any)["echo"])

	code, body = f.do(t, http.MethodPost, "/api/hub/workflows/execute", map[string]any{
		"nodes": graph["nodes"], "edges": graph["edges"], "input": map[string]any{"fail": true},
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "n2", body["failedNode"])

	code, _ = f.do(t, http.MethodPost, "/api/hub/workflows/execute", map[string]any{"graph": map[string]any{"nodes": []any{}}})
	assert.Equal(t, http.StatusBadRequest, code)

	cyclic := map[string]any{
		"nodes": []any{
			map[string]any{"id": "a", "category": "logic", "type": "filter"},
			map[string]any{"id": "b", "category": "logic", "type": "filter"},
		},
		"edges": []any{map[string]any{"from": "a", "to": "b"}, map[string]any{"from": "b", "to": "a"}},
	}
	code, _ = f.do(t, http.MethodPost, "/api/hub/workflows/execute", map[string]any{"graph": cyclic, "strict": true})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, body = f.do(t, http.MethodGet, "/api/hub/workflows/templates", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["templates"], 4)

	code, body = f.do(t, http.MethodGet, "/api/hub/nodes", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{map[string]any{"type": "echo"}}, body["action"])
}

func TestStoredWorkflowLifecycle(t *testing.T) {
	f := newFixture(t, "")
	def := map[string]any{
		"nodes": []any{
			map[string]any{"id": "t", "category": "trigger", "type": "message"},
			map[string]any{"id": "a", "category": "action", "type": "echo"},
		},
		"edges": []any{map[string]any{"from": "t", "to": "a"}},
	}
	code, body := f.do(t, http.MethodPost, "/api/hub/workflows", map[string]any{"name": "echoer", "definition": def})
	require.Equal(t, http.StatusCreated, code, body)
	id := body["id"].(string)
	assert.Equal(t, false, body["enabled"])

	code, _ = f.do(t, http.MethodPost, "/api/hub/workflows/"+id+"/run", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/hub/workflows/"+id+"/enable", nil)
	require.Equal(t, http.StatusOK, code)

	code, body = f.do(t, http.MethodPost, "/api/hub/workflows/"+id+"/run", map[string]any{"message": "hi"})
	require.Equal(t, http.StatusAccepted, code, body)
	runID := body["run_id"].(string)
	f.engine.Wait()

	code, body = f.do(t, http.MethodGet, "/api/hub/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, store.RunSuccess, body["run"].(map[string]any)["status"])
	assert.Len(t, body["steps"], 2)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http")+"/api/hub/runs/"+runID+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	var types []string
	for {
		var evt engine.RunEvent
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		if err := conn.ReadJSON(&evt); err != nil {
			break
		}
		types = append(types, evt.Type)
	}
	assert.Equal(t, engine.EventRunStarted, types[0])
	assert.Equal(t, engine.EventRunFinished, types[len(types)-1])

	code, body = f.do(t, http.MethodGet, "/api/hub/workflows/"+id+"/runs", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["runs"], 1)

	code, _ = f.do(t, http.MethodPut, "/api/hub/workflows/"+id, map[string]any{"definition": map[string]any{"nodes": "bad"}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodDelete, "/api/hub/workflows/"+id, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodGet, "/api/hub/workflows/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodGet, "/api/hub/workflows/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEventsWebSocket(t *testing.T) {
	f := newFixture(t, "")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http")+"/api/hub/events/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Subscribers(hub.Wildcard) == 1 }, 2*time.Second, 10*time.Millisecond)
	f.hub.Emit(context.Background(), "media:download_complete", map[string]any{"title": "Dune"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt hub.Event
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, "media:download_complete", evt.Name)
	assert.Equal(t, "Dune", evt.Payload["title"])
}
