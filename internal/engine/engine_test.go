package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/becmacc/beyflow-chat-sub000/internal/store"
	"github.com/becmacc/beyflow-chat-sub000/internal/workflow"
)

const echoGraph = `{
  "nodes": [
    {"id": "t", "category": "trigger", "type": "message"},
    {"id": "a", "category": "action", "type": "echo"}
  ],
  "edges": [{"from": "t", "to": "a"}]
}`

func newTestEngine(t *testing.T) (*Engine, *store.Repo) {
	t.Helper()
	dsn := "file:engine_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	repo, err := store.New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	x := workflow.New(nil)
	x.Handle("echo", func(_ context.Context, _ workflow.Node, in map[string]any) (map[string]any, error) {
		if in["fail"] == true {
			return nil, errors.New("echo refused")
		}
		return map[string]any{"echo": in["content"]}, nil
	})
	return New(repo, x, Options{}), repo
}

func createWorkflow(t *testing.T, repo *store.Repo, def string, enabled bool) uuid.UUID {
	t.Helper()
	w := &store.Workflow{Name: "wf", Enabled: enabled, Definition: datatypes.JSON(def), CreatedBy: "test"}
	if err := repo.CreateWorkflow(context.Background(), w); err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	return w.ID
}

func drain(t *testing.T, ch <-chan RunEvent) []RunEvent {
	t.Helper()
	var out []RunEvent
	for {
		select {
		case evt := <-ch:
			out = append(out, evt)
			if evt.Type == EventRunFinished {
				return out
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for run_finished, got %+v", out)
		}
	}
}

func TestRunNow_RecordsRunAndSteps(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()
	id := createWorkflow(t, repo, echoGraph, true)
	require.NoError(t, e.ReloadNow(ctx))

	runID, err := e.RunNow(ctx, id, map[string]any{"message": "hello"})
	require.NoError(t, err)
	e.Wait()

	ch, cancel := e.SubscribeRunEvents(runID)
	defer cancel()
	events := drain(t, ch)
	var types []string
	for _, evt := range events {
		types = append(types, evt.Type)
	}
	assert.Equal(t, []string{EventRunStarted, EventNodeStarted, EventNodeFinished, EventNodeStarted, EventNodeFinished, EventRunFinished}, types)
	assert.Equal(t, "hello", events[4].Result["echo"])
	assert.NotEmpty(t, events[4].StepID)

	run, steps, err := repo.GetRunWithSteps(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, run.Status)
	require.Len(t, steps, 2)
	for _, s := range steps {
		assert.Equal(t, store.RunSuccess, s.Status)
		assert.NotEmpty(t, s.Category)
		assert.Contains(t, string(s.Input), `"hello"`)
	}
	assert.Equal(t, 2, run.NodesExecuted)
	assert.Contains(t, string(run.TriggerEvent), `"manual"`)
}

func TestRunNow_FailureMarksRun(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()
	id := createWorkflow(t, repo, echoGraph, true)
	require.NoError(t, e.ReloadNow(ctx))

	runID, err := e.RunNow(ctx, id, map[string]any{"fail": true})
	require.NoError(t, err)
	e.Wait()

	run, steps, err := repo.GetRunWithSteps(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, run.Status)
	assert.Equal(t, "a", run.FailedNode)
	assert.Contains(t, run.Error, "echo refused")
	assert.Equal(t, 2, run.NodesExecuted)
	require.Len(t, steps, 2)

	ch, cancel := e.SubscribeRunEvents(runID)
	defer cancel()
	events := drain(t, ch)
	last := events[len(events)-1]
	assert.Equal(t, store.RunFailed, last.Status)
	assert.Equal(t, "a", last.NodeID)
}

func TestStartRun_Rejections(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()
	disabled := createWorkflow(t, repo, echoGraph, false)
	broken := createWorkflow(t, repo, `{"nodes": []}`, true)
	require.NoError(t, e.ReloadNow(ctx))

	_, err := e.RunNow(ctx, disabled, nil)
	assert.ErrorIs(t, err, ErrWorkflowDisabled)
	_, err = e.RunNow(ctx, broken, nil)
	assert.ErrorIs(t, err, ErrNotLoaded)
	_, err = e.RunNow(ctx, uuid.New(), nil)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestReconcileCron(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()
	def := `{
	  "nodes": [
	    {"id": "s", "category": "trigger", "type": "schedule", "config": {"cron": "0 0 8 * * *"}},
	    {"id": "a", "category": "action", "type": "echo"}
	  ],
	  "edges": [{"from": "s", "to": "a"}]
	}`
	id := createWorkflow(t, repo, def, true)
	require.NoError(t, e.ReloadNow(ctx))
	assert.Equal(t, map[string]string{id.String() + ":s": "0 0 8 * * *"}, e.Schedules())

	require.NoError(t, repo.SetWorkflowEnabled(ctx, id, false))
	require.NoError(t, e.ReloadNow(ctx))
	assert.Empty(t, e.Schedules())
}

func TestAllowFire_Cooldown(t *testing.T) {
	e, _ := newTestEngine(t)
	if !e.allowFire("k", time.Minute) {
		t.Fatalf("expected first fire to be allowed")
	}
	if e.allowFire("k", time.Minute) {
		t.Fatalf("expected second fire within cooldown to be suppressed")
	}
	if !e.allowFire("other", 0) {
		t.Fatalf("expected zero cooldown to always fire")
	}
}

func TestRunEventHub_ReplayAndEviction(t *testing.T) {
	h := NewRunEventHub()
	h.maxRuns = 2
	first, second, third := uuid.New(), uuid.New(), uuid.New()
	h.Publish(first, RunEvent{Type: EventRunStarted})
	h.Publish(second, RunEvent{Type: EventRunStarted})
	h.Publish(third, RunEvent{Type: EventRunStarted})

	ch, cancel := h.Subscribe(first)
	select {
	case evt := <-ch:
		t.Fatalf("expected evicted run to have no replay, got %+v", evt)
	default:
	}
	cancel()
	cancel()

	ch, cancel = h.Subscribe(third)
	defer cancel()
	evt := <-ch
	if evt.RunID != third.String() || evt.TS == 0 {
		t.Fatalf("unexpected replayed event %+v", evt)
	}
}
