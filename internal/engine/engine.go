// Package engine runs stored workflows: it keeps the enabled definitions in
// memory, fires schedule triggers through cron and records every run and
// step in the store.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"

	"github.com/becmacc/beyflow-chat-sub000/internal/adapters"
	"github.com/becmacc/beyflow-chat-sub000/internal/store"
	"github.com/becmacc/beyflow-chat-sub000/internal/workflow"
)

var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrWorkflowDisabled = errors.New("workflow disabled")
	ErrNotLoaded        = errors.New("workflow definition not loaded")
)

type Engine struct {
	repo   *store.Repo
	exec   *workflow.Executor
	events *RunEventHub

	mu          sync.RWMutex
	workflows   map[uuid.UUID]store.Workflow
	defs        map[uuid.UUID]workflow.Graph
	lastFiredAt map[string]time.Time

	cron        *cron.Cron
	cronEntries map[string]cron.EntryID
	cronSpecs   map[string]string

	reloadEvery time.Duration
	pruneEvery  time.Duration
	retention   time.Duration

	base context.Context
	runs sync.WaitGroup
}

type Options struct {
	ReloadEvery time.Duration
	PruneEvery  time.Duration
	// Retention is how long finished runs are kept. Zero keeps them forever.
	Retention time.Duration
}

func New(repo *store.Repo, exec *workflow.Executor, opts Options) *Engine {
	if opts.ReloadEvery <= 0 {
		opts.ReloadEvery = 10 * time.Second
	}
	if opts.PruneEvery <= 0 {
		opts.PruneEvery = time.Hour
	}
	return &Engine{
		repo:        repo,
		exec:        exec,
		events:      NewRunEventHub(),
		workflows:   map[uuid.UUID]store.Workflow{},
		defs:        map[uuid.UUID]workflow.Graph{},
		lastFiredAt: map[string]time.Time{},
		cron:        cron.New(cron.WithSeconds()),
		cronEntries: map[string]cron.EntryID{},
		cronSpecs:   map[string]string{},
		reloadEvery: opts.ReloadEvery,
		pruneEvery:  opts.PruneEvery,
		retention:   opts.Retention,
		base:        context.Background(),
	}
}

func (e *Engine) SubscribeRunEvents(runID uuid.UUID) (<-chan RunEvent, func()) {
	return e.events.Subscribe(runID)
}

// Start loads the stored workflows and starts the scheduler. Runs started
// afterwards inherit ctx.
func (e *Engine) Start(ctx context.Context) error {
	e.base = ctx
	if err := e.reload(ctx); err != nil {
		return err
	}
	e.cron.Start()
	go e.reloadLoop(ctx)
	if e.retention > 0 {
		go e.pruneLoop(ctx)
	}
	return nil
}

// Stop halts the scheduler and waits for in-flight runs.
func (e *Engine) Stop() {
	<-e.cron.Stop().Done()
	e.runs.Wait()
}

// Wait blocks until every started run has finished.
func (e *Engine) Wait() { e.runs.Wait() }

// ReloadNow refreshes definitions immediately so API writes take effect
// without waiting for the reload loop.
func (e *Engine) ReloadNow(ctx context.Context) error {
	return e.reload(ctx)
}

func (e *Engine) reloadLoop(ctx context.Context) {
	t := time.NewTicker(e.reloadEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := e.reload(ctx); err != nil {
				slog.Warn("workflow reload failed", "error", err)
			}
		}
	}
}

func (e *Engine) pruneLoop(ctx context.Context) {
	t := time.NewTicker(e.pruneEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := e.repo.PruneRuns(ctx, time.Now().UTC().Add(-e.retention))
			if err != nil {
				slog.Warn("prune runs failed", "error", err)
			} else if n > 0 {
				slog.Debug("pruned workflow runs", "count", n)
			}
		}
	}
}

func (e *Engine) reload(ctx context.Context) error {
	rows, err := e.repo.ListWorkflows(ctx)
	if err != nil {
		return err
	}

	newWF := map[uuid.UUID]store.Workflow{}
	newDefs := map[uuid.UUID]workflow.Graph{}
	for _, w := range rows {
		newWF[w.ID] = w
		g, err := workflow.Parse(w.Definition)
		if err != nil {
			slog.Warn("invalid workflow definition", "workflow_id", w.ID, "error", err)
			continue
		}
		newDefs[w.ID] = g
	}

	e.mu.Lock()
	e.workflows = newWF
	e.defs = newDefs
	e.mu.Unlock()

	e.reconcileCron()
	return nil
}

// scheduleKey identifies one schedule trigger node.
func scheduleKey(wfID uuid.UUID, nodeID string) string {
	return wfID.String() + ":" + nodeID
}

func (e *Engine) reconcileCron() {
	e.mu.Lock()
	defer e.mu.Unlock()

	expected := map[string]struct{}{}
	for wfID, w := range e.workflows {
		if !w.Enabled {
			continue
		}
		g, ok := e.defs[wfID]
		if !ok {
			continue
		}
		for _, n := range g.Nodes {
			if n.Category != workflow.CategoryTrigger || n.Type != "schedule" {
				continue
			}
			expr := strings.TrimSpace(adapters.String(n.Config, "cron"))
			if expr == "" {
				continue
			}
			key := scheduleKey(wfID, n.ID)
			expected[key] = struct{}{}
			if old, ok := e.cronSpecs[key]; ok && old != expr {
				e.cron.Remove(e.cronEntries[key])
				delete(e.cronEntries, key)
				delete(e.cronSpecs, key)
			}
			if _, exists := e.cronEntries[key]; exists {
				continue
			}

			wfID, nodeID, cooldown := wfID, n.ID, cooldownFrom(n.Config)
			id, err := e.cron.AddFunc(expr, func() {
				if !e.allowFire(scheduleKey(wfID, nodeID), cooldown) {
					return
				}
				trigger := map[string]any{"type": "schedule", "trigger_node_id": nodeID, "cron": expr}
				if _, err := e.StartRun(e.base, wfID, trigger); err != nil {
					slog.Warn("scheduled run failed to start", "workflow_id", wfID, "error", err)
				}
			})
			if err != nil {
				slog.Warn("invalid cron expression", "workflow_id", wfID, "trigger_node_id", n.ID, "cron", expr, "error", err)
				continue
			}
			e.cronEntries[key] = id
			e.cronSpecs[key] = expr
		}
	}

	for key, entryID := range e.cronEntries {
		if _, ok := expected[key]; ok {
			continue
		}
		e.cron.Remove(entryID)
		delete(e.cronEntries, key)
		delete(e.cronSpecs, key)
	}
}

// Schedules lists the active schedule keys and their cron expressions.
func (e *Engine) Schedules() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]string, len(e.cronSpecs))
	for k, v := range e.cronSpecs {
		out[k] = v
	}
	return out
}

func cooldownFrom(cfg map[string]any) time.Duration {
	switch v := cfg["cooldownSec"].(type) {
	case float64:
		return time.Duration(v) * time.Second
	case int:
		return time.Duration(v) * time.Second
	}
	return 0
}

func (e *Engine) allowFire(key string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastFiredAt[key]
	if ok && time.Since(last) < cooldown {
		return false
	}
	e.lastFiredAt[key] = time.Now()
	return true
}

// RunNow starts a manual run of an enabled workflow.
func (e *Engine) RunNow(ctx context.Context, wfID uuid.UUID, input map[string]any) (uuid.UUID, error) {
	trigger := map[string]any{"type": "manual"}
	for k, v := range input {
		trigger[k] = v
	}
	return e.StartRun(ctx, wfID, trigger)
}

// StartRun records a run and executes it in the background. The returned
// run ID can be used to subscribe to its events.
func (e *Engine) StartRun(ctx context.Context, wfID uuid.UUID, trigger map[string]any) (uuid.UUID, error) {
	e.mu.RLock()
	w, okW := e.workflows[wfID]
	g, okD := e.defs[wfID]
	e.mu.RUnlock()
	if !okW {
		return uuid.Nil, ErrWorkflowNotFound
	}
	if !w.Enabled {
		return uuid.Nil, ErrWorkflowDisabled
	}
	if !okD {
		return uuid.Nil, ErrNotLoaded
	}

	triggerJSON, _ := json.Marshal(trigger)
	run := &store.WorkflowRun{WorkflowID: wfID, TriggerEvent: datatypes.JSON(triggerJSON)}
	if err := e.repo.CreateRun(ctx, run); err != nil {
		return uuid.Nil, fmt.Errorf("create run: %w", err)
	}
	e.events.Publish(run.ID, RunEvent{Type: EventRunStarted, WorkflowID: wfID.String(), Status: store.RunRunning})

	e.runs.Add(1)
	go func() {
		defer e.runs.Done()
		e.executeRun(e.base, run.ID, wfID, g, trigger)
	}()
	return run.ID, nil
}

func (e *Engine) executeRun(ctx context.Context, runID, wfID uuid.UUID, g workflow.Graph, trigger map[string]any) {
	steps := map[string]uuid.UUID{}
	progress := func(p workflow.Progress) {
		evt := RunEvent{WorkflowID: wfID.String(), NodeID: p.NodeID, NodeType: p.Type, Status: p.Status}
		switch p.Status {
		case workflow.StatusRunning:
			step := &store.WorkflowRunStep{RunID: runID, NodeID: p.NodeID, Category: p.Category, NodeType: p.Type}
			if p.Input != nil {
				step.Input = marshalJSON(p.Input)
			}
			if err := e.repo.CreateStep(ctx, step); err != nil {
				slog.Warn("create run step failed", "run_id", runID, "node_id", p.NodeID, "error", err)
			} else {
				steps[p.NodeID] = step.ID
			}
			evt.Type = EventNodeStarted
		default:
			status := store.RunSuccess
			if p.Status == workflow.StatusError {
				status = store.RunFailed
			}
			var output datatypes.JSON
			if p.Result != nil {
				output = marshalJSON(p.Result)
			}
			if id, ok := steps[p.NodeID]; ok {
				out := store.StepOutcome{Status: status, Output: output, Error: p.Error, Duration: time.Duration(p.DurationMs) * time.Millisecond}
				if err := e.repo.FinishStep(ctx, id, out); err != nil {
					slog.Warn("finish run step failed", "run_id", runID, "node_id", p.NodeID, "error", err)
				}
			}
			evt.Type = EventNodeFinished
			evt.Result = p.Result
			evt.Error = p.Error
		}
		if id, ok := steps[p.NodeID]; ok {
			evt.StepID = id.String()
		}
		e.events.Publish(runID, evt)
	}

	start := time.Now()
	res, err := e.exec.Execute(ctx, g, trigger, workflow.Options{Progress: progress})

	status := store.RunSuccess
	errMsg := ""
	if err != nil {
		status = store.RunFailed
		errMsg = err.Error()
		slog.Warn("workflow run failed", "run_id", runID, "workflow_id", wfID, "failed_node", res.FailedNode, "error", err)
	}
	// The run row is closed even when ctx was cancelled mid-run.
	finishCtx := context.WithoutCancel(ctx)
	outcome := store.RunOutcome{
		Status:        status,
		FailedNode:    res.FailedNode,
		Error:         errMsg,
		Result:        marshalJSON(res),
		NodesExecuted: len(res.Executed),
		Duration:      time.Since(start),
	}
	if ferr := e.repo.FinishRun(finishCtx, runID, outcome); ferr != nil {
		slog.Warn("finish run failed", "run_id", runID, "error", ferr)
	}
	e.events.Publish(runID, RunEvent{Type: EventRunFinished, WorkflowID: wfID.String(), NodeID: res.FailedNode, Status: status, Error: errMsg})
}

func marshalJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
