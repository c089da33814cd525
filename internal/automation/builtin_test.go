package automation

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
)

type call struct {
	target, method string
	payload        map[string]any
}

type fakeRuntime struct {
	mu      sync.Mutex
	calls   []call
	emitted []hub.Event
	results map[string]any
}

func (f *fakeRuntime) Invoke(ctx context.Context, target, method string, payload map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{target, method, payload})
	return f.results[target+"."+method], nil
}

func (f *fakeRuntime) Emit(ctx context.Context, name string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, hub.Event{Name: name, Payload: payload})
}

func (f *fakeRuntime) callsTo(target, method string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.target == target && c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func builtinEngine(t *testing.T, rt *fakeRuntime) (*Engine, *hub.Hub) {
	t.Helper()
	h := hub.New()
	e := New(h)
	now := func() time.Time { return time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC) }
	for _, r := range Builtins(rt, now) {
		require.NoError(t, e.AddRule(r))
	}
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e, h
}

func TestBuiltin_ChatToBlog(t *testing.T) {
	rt := &fakeRuntime{}
	e, h := builtinEngine(t, rt)

	h.Emit(context.Background(), "chat:message_sent", map[string]any{"message": "plain message"})
	h.Emit(context.Background(), "chat:message_sent", map[string]any{"message": "great idea #blog"})
	h.Emit(context.Background(), "chat:message_sent", map[string]any{"message": "save me", "saveToBlog": true})
	e.Wait()

	calls := rt.callsTo("content", "create_post")
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, "chat-logs", c.payload["category"])
		assert.Equal(t, "Chat Entry - 2024-03-09", c.payload["title"])
		assert.Equal(t, []string{"chat", "auto-generated"}, c.payload["tags"])
	}
}

func TestBuiltin_MediaToContent(t *testing.T) {
	rt := &fakeRuntime{}
	e, h := builtinEngine(t, rt)

	h.Emit(context.Background(), "media:download_complete", map[string]any{"title": "Dune", "size": int64(3 * 1024 * 1024), "path": "/media/dune"})
	h.Emit(context.Background(), "media:download_complete", map[string]any{"title": ""})
	e.Wait()

	posts := rt.callsTo("content", "create_post")
	require.Len(t, posts, 1)
	assert.Equal(t, "Media Downloaded: Dune", posts[0].payload["title"])
	assert.Equal(t, "Successfully downloaded Dune\n\nSize: 3MB\nPath: /media/dune", posts[0].payload["content"])
	assert.Equal(t, "downloads", posts[0].payload["category"])

	notices := rt.callsTo("chat", "system_message")
	require.Len(t, notices, 2)
}

func TestBuiltin_EnhanceSkipsChatLogs(t *testing.T) {
	rt := &fakeRuntime{results: map[string]any{"ai.enhance": map[string]any{"content": "better", "changed": true}}}
	e, h := builtinEngine(t, rt)

	h.Emit(context.Background(), "content:draft_created", map[string]any{"id": "p1", "content": "draft", "category": "chat-logs"})
	h.Emit(context.Background(), "content:draft_created", map[string]any{"id": "p2", "content": "draft", "category": "downloads"})
	e.Wait()

	require.Len(t, rt.callsTo("ai", "enhance"), 1)
	updates := rt.callsTo("content", "update_post")
	require.Len(t, updates, 1)
	assert.Equal(t, "p2", updates[0].payload["id"])
	assert.Equal(t, "better", updates[0].payload["content"])
}

func TestBuiltin_AIResponse(t *testing.T) {
	rt := &fakeRuntime{}
	e, h := builtinEngine(t, rt)

	h.Emit(context.Background(), "ai:response_generated", map[string]any{
		"response": "download arrival",
		"componentActions": []any{
			map[string]any{"component": "media", "action": "search", "query": "arrival"},
			map[string]any{"component": "content", "action": "create_post"},
		},
	})
	h.Emit(context.Background(), "ai:response_generated", map[string]any{"response": "hello", "componentActions": []any{}})
	e.Wait()

	searches := rt.callsTo("media", "search_and_suggest")
	require.Len(t, searches, 1)
	assert.Equal(t, "arrival", searches[0].payload["query"])
	assert.Len(t, rt.callsTo("chat", "ai_message"), 2)
}

const rulesYAML = `
rules:
  - name: big_download_alert
    trigger: media:download_complete
    description: Warn about large downloads
    when:
      - path: size
        op: gt
        value: 1000
    do:
      call: chat.system_message
      payload:
        message: "Large download: {{ title }}"
        size: "{{size}}"
  - name: relay_post
    trigger: content:post_published
    any: true
    when:
      - {path: category, op: eq, value: news}
      - {path: tags, op: contains, value: urgent}
    do:
      emit: relay:post
`

func TestParseRules(t *testing.T) {
	rt := &fakeRuntime{}
	rules, err := ParseRules([]byte(rulesYAML), rt, "test")
	require.NoError(t, err)
	require.Len(t, rules, 2)

	h := hub.New()
	e := New(h)
	for _, r := range rules {
		require.NoError(t, e.AddRule(r))
	}
	e.Start(context.Background())
	defer e.Stop()

	h.Emit(context.Background(), "media:download_complete", map[string]any{"title": "Small", "size": 10})
	h.Emit(context.Background(), "media:download_complete", map[string]any{"title": "Huge", "size": 5000})
	h.Emit(context.Background(), "content:post_published", map[string]any{"category": "tech", "tags": []any{"urgent"}})
	h.Emit(context.Background(), "content:post_published", map[string]any{"category": "tech"})
	e.Wait()

	calls := rt.callsTo("chat", "system_message")
	require.Len(t, calls, 1)
	assert.Equal(t, "Large download: Huge", calls[0].payload["message"])
	assert.Equal(t, 5000, calls[0].payload["size"])

	require.Len(t, rt.emitted, 1)
	assert.Equal(t, "relay:post", rt.emitted[0].Name)
	assert.Equal(t, "test", rules[0].Source)
}

func TestParseRules_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing name":    "rules:\n  - trigger: a:b\n    do: {emit: x}\n",
		"bad op":          "rules:\n  - name: n\n    trigger: a:b\n    when: [{path: x, op: regex}]\n    do: {emit: x}\n",
		"no action":       "rules:\n  - name: n\n    trigger: a:b\n",
		"both actions":    "rules:\n  - name: n\n    trigger: a:b\n    do: {emit: x, call: a.b}\n",
		"malformed call":  "rules:\n  - name: n\n    trigger: a:b\n    do: {call: nomethod}\n",
		"emits trigger":   "rules:\n  - name: n\n    trigger: a:b\n    do: {emit: a:b}\n",
		"engine outcome":  "rules:\n  - name: n\n    trigger: automation:rule_executed\n    do: {call: ai.enhance}\n",
		"not yaml mapped": "rules: [1, 2",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRules([]byte(doc), &fakeRuntime{}, "test")
			assert.Error(t, err)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10-alerts.yaml"), []byte(rulesYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	rules, err := LoadDir(dir, &fakeRuntime{})
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "file:10-alerts.yaml", rules[0].Source)

	rules, err = LoadDir(filepath.Join(dir, "missing"), &fakeRuntime{})
	require.NoError(t, err)
	assert.Empty(t, rules)
}
