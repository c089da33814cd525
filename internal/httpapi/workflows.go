package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/becmacc/beyflow-chat-sub000/internal/engine"
	"github.com/becmacc/beyflow-chat-sub000/internal/store"
	"github.com/becmacc/beyflow-chat-sub000/internal/workflow"
)

type workflowPayload struct {
	Name       string          `json:"name"`
	Enabled    *bool           `json:"enabled,omitempty"`
	Definition json.RawMessage `json:"definition"`
}

// validateDefinition parses and normalizes a graph definition.
func validateDefinition(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.New("definition is required")
	}
	g, err := workflow.Parse(raw)
	if err != nil {
		return nil, err
	}
	b, _ := json.Marshal(g)
	return b, nil
}

func workflowID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) reload(r *http.Request) {
	_ = s.opts.Engine.ReloadNow(r.Context())
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	rows, err := s.opts.Repo.ListWorkflows(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list workflows")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": rows})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowID(w, r)
	if !ok {
		return
	}
	wf, err := s.opts.Repo.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var p workflowPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	def, err := validateDefinition(p.Definition)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	createdBy := strings.TrimSpace(r.Header.Get("X-Beyflow-User"))
	if createdBy == "" {
		createdBy = "api"
	}
	wf := &store.Workflow{Name: name, Definition: datatypes.JSON(def), CreatedBy: createdBy}
	if p.Enabled != nil {
		wf.Enabled = *p.Enabled
	}
	if err := s.opts.Repo.CreateWorkflow(r.Context(), wf); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create workflow")
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowID(w, r)
	if !ok {
		return
	}
	wf, err := s.opts.Repo.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	var p workflowPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(p.Name) != "" {
		wf.Name = strings.TrimSpace(p.Name)
	}
	if p.Enabled != nil {
		wf.Enabled = *p.Enabled
	}
	if len(p.Definition) > 0 {
		def, err := validateDefinition(p.Definition)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		wf.Definition = datatypes.JSON(def)
	}
	if err := s.opts.Repo.UpdateWorkflow(r.Context(), wf); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update workflow")
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowID(w, r)
	if !ok {
		return
	}
	if err := s.opts.Repo.DeleteWorkflow(r.Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete workflow")
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleEnableWorkflow(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}
		if err := s.opts.Repo.SetWorkflowEnabled(r.Context(), id, enabled); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				writeError(w, http.StatusNotFound, "workflow not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to update workflow")
			return
		}
		s.reload(r)
		writeJSON(w, http.StatusOK, map[string]any{"enabled": enabled})
	}
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowID(w, r)
	if !ok {
		return
	}
	input, err := decodeObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := s.opts.Engine.RunNow(r.Context(), id, input)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, engine.ErrWorkflowNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "run_id": runID.String()})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowID(w, r)
	if !ok {
		return
	}
	limit := 20
	if n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit"))); err == nil && n > 0 {
		limit = n
	}
	if limit > 200 {
		limit = 200
	}
	runs, err := s.opts.Repo.ListRuns(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, steps, err := s.opts.Repo.GetRunWithSteps(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "steps": steps})
}

func (s *Server) handleRunEventsWS(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cancel := s.opts.Engine.SubscribeRunEvents(runID)
	defer cancel()
	stream(r.Context(), conn, ch, func(evt engine.RunEvent) bool {
		return evt.Type == engine.EventRunFinished
	})
}
