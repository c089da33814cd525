package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
	"github.com/becmacc/beyflow-chat-sub000/internal/observability"
)

const (
	EventRuleExecuted = "automation:rule_executed"
	EventRuleFailed   = "automation:rule_failed"

	// MaxChainDepth bounds how many rule actions one event may set off in
	// sequence (a rule emitting an event that triggers a rule, and so on).
	MaxChainDepth = 8
)

type depthKey struct{}

// chainDepth reports how many rule actions led to the event carried by ctx.
func chainDepth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// Bus is the part of the hub the engine needs.
type Bus interface {
	SubscribeAll(fn hub.Handler) func()
	Emit(ctx context.Context, name string, payload map[string]any)
}

// Engine matches bus events against rules and runs matching actions
// concurrently, one goroutine per action.
type Engine struct {
	bus Bus

	mu    sync.RWMutex
	rules map[string]Rule
	unsub func()
	// base is the parent context for actions; cancelled on Stop.
	base   context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

func New(bus Bus) *Engine {
	return &Engine{bus: bus, rules: map[string]Rule{}}
}

// AddRule inserts or replaces the rule with the same name.
func (e *Engine) AddRule(r Rule) error {
	if err := r.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	_, replaced := e.rules[r.Name]
	e.rules[r.Name] = r
	e.mu.Unlock()
	slog.Debug("automation rule added", "rule", r.Name, "trigger", r.Trigger, "replaced", replaced)
	return nil
}

func (e *Engine) RemoveRule(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[name]; !ok {
		return false
	}
	delete(e.rules, name)
	return true
}

// Rules lists rules sorted by name.
func (e *Engine) Rules() []Info {
	e.mu.RLock()
	out := make([]Info, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r.Info())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start subscribes the engine to every bus event.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unsub != nil {
		return
	}
	e.base, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.unsub = e.bus.SubscribeAll(e.handle)
}

// Stop unsubscribes, cancels in-flight actions and waits for them.
func (e *Engine) Stop() {
	e.mu.Lock()
	unsub, cancel := e.unsub, e.cancel
	e.unsub, e.cancel = nil, nil
	e.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// Wait blocks until all in-flight actions have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) matching(name string) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Rule
	for _, r := range e.rules {
		if r.Trigger == name {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) actionContext() context.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.base != nil {
		return e.base
	}
	return context.Background()
}

func (e *Engine) handle(ctx context.Context, evt hub.Event) error {
	rules := e.matching(evt.Name)
	if len(rules) == 0 {
		return nil
	}
	depth := chainDepth(ctx)
	if depth >= MaxChainDepth {
		slog.Warn("automation chain too deep; event not handled", "event", evt.Name, "depth", depth)
		return nil
	}
	actx := context.WithValue(e.actionContext(), depthKey{}, depth+1)
	for _, r := range rules {
		payload := copyMap(evt.Payload)
		if !e.check(r, evt.Name, payload) {
			continue
		}
		if !e.track() {
			return nil
		}
		go e.run(actx, r, evt.Name, payload)
	}
	return nil
}

// track registers an action with the WaitGroup unless the engine has been
// stopped. Stop flips the state under the same lock before waiting.
func (e *Engine) track() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.unsub == nil {
		return false
	}
	e.wg.Add(1)
	return true
}

func (e *Engine) check(r Rule, trigger string, payload map[string]any) (ok bool) {
	if r.Condition == nil {
		return true
	}
	defer func() {
		if p := recover(); p != nil {
			slog.Error("automation condition panicked", "rule", r.Name, "trigger", trigger, "panic", p)
			ok = false
		}
	}()
	return r.Condition(payload)
}

func (e *Engine) run(ctx context.Context, r Rule, trigger string, payload map[string]any) {
	defer e.wg.Done()
	result, err := invoke(ctx, r, payload)
	if err != nil {
		rerr := &RuleExecutionError{Rule: r.Name, Trigger: trigger, Err: err}
		observability.RuleExecutions.WithLabelValues(r.Name, "failed").Inc()
		slog.Error("automation rule failed", "rule", r.Name, "trigger", trigger, "error", rerr)
		e.bus.Emit(ctx, EventRuleFailed, map[string]any{"rule": r.Name, "trigger": trigger, "error": err.Error()})
		return
	}
	observability.RuleExecutions.WithLabelValues(r.Name, "success").Inc()
	slog.Info("automation rule executed", "rule", r.Name, "trigger", trigger)
	e.bus.Emit(ctx, EventRuleExecuted, map[string]any{"rule": r.Name, "trigger": trigger, "result": result})
}

var errPanic = errors.New("action panicked")

func invoke(ctx context.Context, r Rule, payload map[string]any) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", errPanic, p)
		}
	}()
	return r.Action(ctx, payload)
}

// copyMap deep-copies the JSON-shaped parts of a payload so every rule sees
// its own value.
func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = copyValue(x)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
