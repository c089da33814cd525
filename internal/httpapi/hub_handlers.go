package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/becmacc/beyflow-chat-sub000/internal/automation"
	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
	"github.com/becmacc/beyflow-chat-sub000/internal/workflow"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleComponents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"components": s.opts.Hub.Components()})
}

func (s *Server) handleEmit(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "event name is required")
		return
	}
	payload, err := decodeObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.opts.Hub.EmitFrom(r.Context(), "api", name, payload)
	writeJSON(w, http.StatusAccepted, map[string]any{"emitted": name})
}

// handleEventsWS streams every bus event to the client until it disconnects.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := make(chan hub.Event, 64)
	unsub := s.opts.Hub.SubscribeAll(func(_ context.Context, evt hub.Event) error {
		select {
		case ch <- evt:
		default:
		}
		return nil
	})
	defer unsub()

	stream[hub.Event](r.Context(), conn, ch, nil)
}

// stream writes every value received on ch as JSON, pinging periodically,
// until the client goes away, ch is closed or last reports the final value.
func stream[T any](ctx context.Context, conn *websocket.Conn, ch <-chan T, last func(T) bool) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(2*time.Second)); err != nil {
				return
			}
		case v, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(v); err != nil {
				slog.Debug("ws write failed", "error", err)
				return
			}
			if last != nil && last(v) {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rules": s.opts.Rules.Rules()})
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var spec automation.Spec
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	rule, err := spec.Build(s.opts.Hub, "api")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.opts.Rules.AddRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rule.Info())
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.opts.Rules.RemoveRule(name) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": s.opts.Router.Endpoints()})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.opts.Router.Route(r.Context(), chi.URLParam(r, "*"), payload)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res})
}

// handleWebhookEnvelope accepts {trigger, data, source} from automation
// platforms that post every trigger to one URL.
func (s *Server) handleWebhookEnvelope(w http.ResponseWriter, r *http.Request) {
	env, err := decodeObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.opts.Router.Dispatch(r.Context(), env)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res})
}

type executeRequest struct {
	Template string          `json:"template"`
	Graph    json.RawMessage `json:"graph"`
	Nodes    json.RawMessage `json:"nodes"`
	Edges    json.RawMessage `json:"edges"`
	Input    map[string]any  `json:"input"`
	Strict   bool            `json:"strict"`
}

func (req executeRequest) graph() (workflow.Graph, error) {
	switch {
	case strings.TrimSpace(req.Template) != "":
		t, ok := workflow.TemplateNamed(req.Template)
		if !ok {
			return workflow.Graph{}, errors.New("unknown template: " + req.Template)
		}
		return t.Graph, nil
	case len(req.Graph) > 0:
		return workflow.Parse(req.Graph)
	case len(req.Nodes) > 0:
		edges := req.Edges
		if len(edges) == 0 {
			edges = json.RawMessage("[]")
		}
		raw, _ := json.Marshal(map[string]json.RawMessage{"nodes": req.Nodes, "edges": edges})
		return workflow.Parse(raw)
	}
	return workflow.Graph{}, errors.New("graph, nodes or template is required")
}

// handleExecute runs an inline graph synchronously. A failing node still
// answers 200; the result carries success=false and the failed node.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	g, err := req.graph()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Input == nil {
		req.Input = map[string]any{}
	}
	res, err := s.opts.Executor.Execute(r.Context(), g, req.Input, workflow.Options{Strict: req.Strict})
	var se *workflow.StepError
	if err != nil && !errors.As(err, &se) {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": workflow.Templates()})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	triggers := []map[string]any{
		{"type": "message", "label": "Chat message", "fields": []map[string]any{}},
		{"type": "chatgpt", "label": "ChatGPT message", "fields": []map[string]any{}},
		{"type": "webhook", "label": "Webhook", "fields": []map[string]any{}},
		{"type": "schedule", "label": "Schedule (cron)", "fields": []map[string]any{
			{"name": "cron", "type": "string", "required": true, "help": "Cron with seconds, e.g. '0 0 8 * * *'"},
			{"name": "cooldownSec", "type": "int", "required": false},
		}},
	}
	logic := []map[string]any{
		{"type": "condition", "label": "Condition", "fields": []map[string]any{
			{"name": "path", "type": "string", "required": false, "help": "Dot-path in the node input"},
			{"name": "op", "type": "string", "required": false, "enum": []string{"exists", "eq", "neq", "gt", "gte", "lt", "lte", "contains"}},
			{"name": "value", "type": "json", "required": false},
		}},
		{"type": "delay", "label": "Delay", "fields": []map[string]any{
			{"name": "delayMs", "type": "int", "required": false, "default": 1000},
		}},
		{"type": "filter", "label": "Filter", "fields": []map[string]any{}},
		{"type": "transform", "label": "Transform", "fields": []map[string]any{}},
	}
	actions := make([]map[string]any, 0)
	for _, t := range s.opts.Executor.ActionTypes() {
		actions = append(actions, map[string]any{"type": t})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		workflow.CategoryTrigger: triggers,
		workflow.CategoryAction:  actions,
		workflow.CategoryLogic:   logic,
	})
}
