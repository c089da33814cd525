package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/becmacc/beyflow-chat-sub000/internal/observability"
)

// ErrEmptyGraph is returned when no node can be scheduled.
var ErrEmptyGraph = errors.New("no nodes to execute")

// ActionHandler executes one action node. input is the node's own copy.
type ActionHandler func(ctx context.Context, node Node, input map[string]any) (map[string]any, error)

// Emitter is the part of the hub the executor reports to.
type Emitter interface {
	Emit(ctx context.Context, name string, payload map[string]any)
}

const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Progress is reported on every node transition.
type Progress struct {
	NodeID   string         `json:"nodeId"`
	Category string         `json:"category"`
	Type     string         `json:"type"`
	Status   string         `json:"status"`
	Input    map[string]any `json:"input,omitempty"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	// DurationMs is set once the node has finished.
	DurationMs int64 `json:"durationMs,omitempty"`
}

type Options struct {
	Progress func(Progress)
	// Strict turns unreachable cycle nodes into a *CycleError before any
	// node runs.
	Strict bool
	Now    func() time.Time
}

// StepError identifies the node that aborted a run.
type StepError struct {
	NodeID string
	Type   string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("node %s (%s) failed: %v", e.NodeID, e.Type, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Result is the outcome of one run. NodeResults only holds nodes that
// succeeded; Executed also lists the failed node.
type Result struct {
	Success     bool                      `json:"success"`
	FinalResult map[string]any            `json:"finalResult"`
	NodeResults map[string]map[string]any `json:"nodeResults"`
	Order       []string                  `json:"order"`
	Executed    []string                  `json:"executed"`
	FailedNode  string                    `json:"failedNode,omitempty"`
	Error       string                    `json:"error,omitempty"`
	Err         *StepError                `json:"-"`
}

type Executor struct {
	bus Emitter
	now func() time.Time

	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

// New returns an executor reporting step completions to bus. bus may be nil.
func New(bus Emitter) *Executor {
	return &Executor{bus: bus, now: time.Now, handlers: map[string]ActionHandler{}}
}

// Handle registers h for action nodes of type typ, replacing any previous
// handler.
func (x *Executor) Handle(typ string, h ActionHandler) {
	x.mu.Lock()
	x.handlers[typ] = h
	x.mu.Unlock()
}

func (x *Executor) handler(typ string) (ActionHandler, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	h, ok := x.handlers[typ]
	return h, ok
}

// ActionTypes lists registered action types, sorted.
func (x *Executor) ActionTypes() []string {
	x.mu.RLock()
	out := make([]string, 0, len(x.handlers))
	for t := range x.handlers {
		out = append(out, t)
	}
	x.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Execute runs g once, one node at a time in topological order. The first
// failing node aborts the run: the returned error is the *StepError also
// stored in the result. Graph and ordering problems are returned before any
// node runs.
func (x *Executor) Execute(ctx context.Context, g Graph, input map[string]any, opts Options) (Result, error) {
	g = g.Clone()
	if err := g.Validate(); err != nil {
		return Result{}, err
	}
	var order []string
	if opts.Strict {
		var err error
		if order, err = OrderStrict(g); err != nil {
			return Result{}, err
		}
	} else {
		order = Order(g)
	}
	if len(order) == 0 {
		return Result{}, ErrEmptyGraph
	}
	now := opts.Now
	if now == nil {
		now = x.now
	}

	start := time.Now()
	nodes := g.index()
	res := Result{NodeResults: map[string]map[string]any{}, Order: order}
	current := copyMap(input)

	for _, id := range order {
		n := nodes[id]
		in := inputFor(g, id, current, res.NodeResults)
		opts.report(Progress{NodeID: id, Category: n.Category, Type: n.Type, Status: StatusRunning, Input: copyMap(in)})
		res.Executed = append(res.Executed, id)

		stepStart := time.Now()
		out, err := x.runNode(ctx, n, in, now)
		took := time.Since(stepStart)
		if err != nil {
			serr := &StepError{NodeID: id, Type: n.Type, Err: err}
			observability.WorkflowSteps.WithLabelValues(n.Type, "failed").Inc()
			slog.Warn("workflow step failed", "node_id", id, "type", n.Type, "error", err)
			opts.report(Progress{NodeID: id, Category: n.Category, Type: n.Type, Status: StatusError, Error: err.Error(), DurationMs: took.Milliseconds()})
			res.FailedNode = id
			res.Err = serr
			res.Error = serr.Error()
			res.FinalResult = current
			observability.RecordWorkflowRun(ctx, time.Since(start), "failed")
			x.emit(ctx, "workflow:failed", map[string]any{"nodeId": id, "type": n.Type, "error": err.Error(), "executed": append([]string(nil), res.Executed...)})
			return res, serr
		}

		res.NodeResults[id] = out
		current = out
		observability.WorkflowSteps.WithLabelValues(n.Type, "success").Inc()
		opts.report(Progress{NodeID: id, Category: n.Category, Type: n.Type, Status: StatusSuccess, Result: out, DurationMs: took.Milliseconds()})
		x.emit(ctx, "workflow:step_complete", map[string]any{"nodeId": id, "category": n.Category, "type": n.Type, "result": out})
	}

	res.Success = true
	res.FinalResult = current
	observability.RecordWorkflowRun(ctx, time.Since(start), "success")
	x.emit(ctx, "workflow:completed", map[string]any{"executed": append([]string(nil), res.Executed...), "finalResult": current})
	return res, nil
}

func (o Options) report(p Progress) {
	if o.Progress != nil {
		o.Progress(p)
	}
}

func (x *Executor) emit(ctx context.Context, name string, payload map[string]any) {
	if x.bus != nil {
		x.bus.Emit(ctx, name, payload)
	}
}

// inputFor overlays the results of id's computed parents, in edge order, on
// the data carried from the previous node.
func inputFor(g Graph, id string, current map[string]any, results map[string]map[string]any) map[string]any {
	in := copyMap(current)
	for _, e := range g.Edges {
		if e.To != id {
			continue
		}
		parent, ok := results[e.From]
		if !ok {
			continue
		}
		for k, v := range parent {
			in[k] = v
		}
	}
	return in
}

func (x *Executor) runNode(ctx context.Context, n Node, in map[string]any, now func() time.Time) (out map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("node panicked: %v", p)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := x.Classify(n)
	if err != nil {
		return nil, err
	}
	switch k := k.(type) {
	case TriggerKind:
		return triggerEnvelope(k.Type, in, now()), nil
	case ActionKind:
		out, err := k.Handler(ctx, n, in)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = map[string]any{}
		}
		return out, nil
	case UnknownActionKind:
		return with(in, "processed", true), nil
	case ConditionKind:
		met := true
		if k.Condition != nil {
			met = k.Condition.Eval(in)
		}
		branch := "then"
		if !met {
			branch = "else"
		}
		out := with(in, "conditionMet", met)
		out["branch"] = branch
		return out, nil
	case DelayKind:
		t := time.NewTimer(k.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
		return with(in, "delayed", true), nil
	case NotImplementedKind:
		if k.Type == "filter" {
			return with(in, "filtered", true), nil
		}
		out := with(in, "transformed", true)
		out["transformedAt"] = now().UnixMilli()
		return out, nil
	case UnknownLogicKind:
		return in, nil
	}
	return nil, fmt.Errorf("unhandled node kind %T", k)
}

// triggerEnvelope keeps the run input visible to downstream nodes and adds
// the normalized trigger fields on top.
func triggerEnvelope(typ string, in map[string]any, at time.Time) map[string]any {
	out := copyMap(in)
	ts := at.UnixMilli()
	switch typ {
	case "message", "chatgpt":
		content, _ := in["message"].(string)
		if content == "" {
			content = "Workflow triggered"
		}
		out["type"] = "message"
		out["content"] = content
	case "webhook":
		out["type"] = "webhook"
		out["payload"] = copyMap(in)
	case "schedule":
		out["type"] = "schedule"
	default:
		out["type"] = typ
		out["payload"] = copyMap(in)
	}
	out["timestamp"] = ts
	return out
}

func with(in map[string]any, key string, v any) map[string]any {
	out := copyMap(in)
	out[key] = v
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
