package hub

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/becmacc/beyflow-chat-sub000/internal/observability"
)

type Status string

const (
	StatusChecking  Status = "checking"
	StatusConnected Status = "connected"
	StatusOffline   Status = "offline"
)

// Config describes a component at registration time.
type Config struct {
	Type         string   `json:"type" yaml:"type"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	Endpoints    []string `json:"endpoints,omitempty" yaml:"endpoints"`
}

// Record is the registry entry for one component.
type Record struct {
	Name       string    `json:"name"`
	Config     Config    `json:"config"`
	Status     Status    `json:"status"`
	LastUpdate time.Time `json:"last_update"`
	Operations []string  `json:"operations"`
	Commands   bool      `json:"commands"`
}

// Method is a named operation a component exposes for cross-component calls.
type Method func(ctx context.Context, payload map[string]any) (any, error)

// Invoker components publish their operations by name. The map is read once
// at registration, so the set of callable operations is fixed per record.
type Invoker interface {
	Methods() map[string]Method
}

// Linker components receive a Link when registered.
type Linker interface {
	Attach(Link)
}

// CommandHandler components take part in free-text chat command routing.
// ok is false when the text is not addressed to the component.
type CommandHandler interface {
	HandleCommand(ctx context.Context, text string) (result any, ok bool, err error)
}

type Starter interface {
	Start(ctx context.Context)
}

type Stopper interface {
	Stop()
}

// Link is what a registered component sees of the hub.
type Link interface {
	Emit(ctx context.Context, name string, payload map[string]any)
	Subscribe(name string, fn Handler) func()
	Call(ctx context.Context, target, method string, payload map[string]any) any
	Invoke(ctx context.Context, target, method string, payload map[string]any) (any, error)
	SetStatus(status Status)
	Command(ctx context.Context, text string) (component string, result any, err error)
	Components() []Record
}

type entry struct {
	record    Record
	component any
	methods   map[string]Method
}

// Hub is the event bus plus the component registry. It is created once at
// process start and handed to every module that needs bus access.
type Hub struct {
	bus *bus

	mu         sync.RWMutex
	components map[string]*entry
	order      []string
	started    bool
	nowFn      func() time.Time
}

func New() *Hub {
	return &Hub{
		bus:        newBus(),
		components: map[string]*entry{},
		nowFn:      time.Now,
	}
}

// Emit delivers the event to every subscriber synchronously in subscription
// order. Subscriber failures are logged one by one and never reach the caller.
func (h *Hub) Emit(ctx context.Context, name string, payload map[string]any) {
	h.bus.emit(ctx, newEvent(name, payload, ""))
}

// EmitFrom is Emit with the event's Source set.
func (h *Hub) EmitFrom(ctx context.Context, source, name string, payload map[string]any) {
	h.bus.emit(ctx, newEvent(name, payload, source))
}

// Publish runs all subscribers concurrently and returns once every one has
// settled, one Result per subscriber in subscription order.
func (h *Hub) Publish(ctx context.Context, name string, payload map[string]any) []Result {
	return h.bus.publish(ctx, newEvent(name, payload, ""))
}

// Subscribe appends fn to the subscribers of name and returns a func that
// removes it again. Use Wildcard to observe every event.
func (h *Hub) Subscribe(name string, fn Handler) func() {
	return h.bus.subscribe(name, fn)
}

func (h *Hub) SubscribeAll(fn Handler) func() {
	return h.bus.subscribe(Wildcard, fn)
}

// Subscribers reports how many subscribers are registered under name;
// Wildcard counts the SubscribeAll subscribers.
func (h *Hub) Subscribers(name string) int {
	return h.bus.count(name)
}

// Register stores the component under name, replacing any previous record,
// injects a Link and announces it with component:registered.
func (h *Hub) Register(ctx context.Context, name string, component any, cfg Config) Record {
	e := &entry{
		record: Record{
			Name:       name,
			Config:     cfg,
			Status:     StatusChecking,
			LastUpdate: h.nowFn().UTC(),
		},
		component: component,
	}
	if inv, ok := component.(Invoker); ok {
		e.methods = inv.Methods()
	}
	for op := range e.methods {
		e.record.Operations = append(e.record.Operations, op)
	}
	sort.Strings(e.record.Operations)
	_, e.record.Commands = component.(CommandHandler)

	h.mu.Lock()
	prev, replaced := h.components[name]
	h.components[name] = e
	if !replaced {
		h.order = append(h.order, name)
	}
	started := h.started
	h.mu.Unlock()

	if replaced {
		slog.Debug("component re-registered", "component", name)
		if s, ok := prev.component.(Stopper); ok && !sameComponent(prev.component, component) {
			s.Stop()
		}
	}
	if l, ok := component.(Linker); ok {
		l.Attach(&link{hub: h, name: name})
	}
	observability.SetAdapterStatus(name, string(StatusChecking))
	if started {
		if s, ok := component.(Starter); ok {
			s.Start(ctx)
		}
	}

	h.Emit(ctx, "component:registered", map[string]any{
		"name":         name,
		"type":         cfg.Type,
		"capabilities": cfg.Capabilities,
		"operations":   e.record.Operations,
	})
	return e.record
}

func sameComponent(a, b any) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

func (h *Hub) Component(name string) (Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.components[name]
	if !ok {
		return Record{}, false
	}
	return e.record, true
}

// Components lists records in registration order.
func (h *Hub) Components() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Record, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, h.components[name].record)
	}
	return out
}

// Instance returns the registered component value.
func (h *Hub) Instance(name string) (any, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.components[name]
	if !ok {
		return nil, false
	}
	return e.component, true
}

// SetStatus records a connectivity transition. Unchanged statuses only bump
// LastUpdate; a change emits component:status_changed and status:updated.
func (h *Hub) SetStatus(ctx context.Context, name string, status Status) {
	h.mu.Lock()
	e, ok := h.components[name]
	if !ok {
		h.mu.Unlock()
		return
	}
	prev := e.record.Status
	e.record.Status = status
	e.record.LastUpdate = h.nowFn().UTC()
	snapshot := map[string]any{}
	for n, c := range h.components {
		snapshot[n] = string(c.record.Status)
	}
	h.mu.Unlock()

	if prev == status {
		return
	}
	observability.SetAdapterStatus(name, string(status))
	h.Emit(ctx, "component:status_changed", map[string]any{"component": name, "status": string(status), "previous": string(prev)})
	h.Emit(ctx, "status:updated", map[string]any{"components": snapshot})
}

// Invoke calls method on the target component and returns its result. A
// missing target or method is reported as *InvocationError.
func (h *Hub) Invoke(ctx context.Context, target, method string, payload map[string]any) (any, error) {
	h.mu.RLock()
	e, ok := h.components[target]
	h.mu.RUnlock()
	if !ok {
		return nil, &InvocationError{Target: target, Method: method, Reason: "component not registered"}
	}
	m, ok := e.methods[method]
	if !ok {
		return nil, &InvocationError{Target: target, Method: method, Reason: "method not found"}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return m(ctx, payload)
}

// Call is the lenient form of Invoke: every failure is logged as a warning
// and reported as a nil result.
func (h *Hub) Call(ctx context.Context, target, method string, payload map[string]any) any {
	res, err := h.Invoke(ctx, target, method, payload)
	if err != nil {
		var ie *InvocationError
		if errors.As(err, &ie) {
			slog.Warn("cross-component call skipped", "target", target, "method", method, "reason", ie.Reason)
		} else {
			slog.Warn("cross-component call failed", "target", target, "method", method, "error", err)
		}
		return nil
	}
	return res
}

// RouteCommand offers text to every CommandHandler in registration order and
// returns the first claimed result.
func (h *Hub) RouteCommand(ctx context.Context, text string) (component string, result any, err error) {
	return h.routeCommand(ctx, text, "")
}

type namedHandler struct {
	name string
	ch   CommandHandler
}

func (h *Hub) routeCommand(ctx context.Context, text, skip string) (string, any, error) {
	h.mu.RLock()
	handlers := make([]namedHandler, 0, len(h.order))
	for _, name := range h.order {
		if name == skip {
			continue
		}
		if ch, ok := h.components[name].component.(CommandHandler); ok {
			handlers = append(handlers, namedHandler{name: name, ch: ch})
		}
	}
	h.mu.RUnlock()

	for _, c := range handlers {
		res, ok, err := c.ch.HandleCommand(ctx, text)
		if !ok {
			continue
		}
		return c.name, res, err
	}
	return "", nil, nil
}

// Start starts every component that has a Start method. Components
// registered afterwards are started as they arrive.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	h.started = true
	comps := make([]any, 0, len(h.order))
	for _, name := range h.order {
		comps = append(comps, h.components[name].component)
	}
	h.mu.Unlock()

	for _, c := range comps {
		if s, ok := c.(Starter); ok {
			s.Start(ctx)
		}
	}
}

// Close stops every component in reverse registration order.
func (h *Hub) Close() {
	h.mu.Lock()
	h.started = false
	comps := make([]any, 0, len(h.order))
	for i := len(h.order) - 1; i >= 0; i-- {
		comps = append(comps, h.components[h.order[i]].component)
	}
	h.mu.Unlock()

	for _, c := range comps {
		if s, ok := c.(Stopper); ok {
			s.Stop()
		}
	}
}

type link struct {
	hub  *Hub
	name string
}

func (l *link) Emit(ctx context.Context, name string, payload map[string]any) {
	l.hub.EmitFrom(ctx, l.name, name, payload)
}

func (l *link) Subscribe(name string, fn Handler) func() {
	return l.hub.Subscribe(name, fn)
}

func (l *link) Call(ctx context.Context, target, method string, payload map[string]any) any {
	return l.hub.Call(ctx, target, method, payload)
}

func (l *link) Invoke(ctx context.Context, target, method string, payload map[string]any) (any, error) {
	return l.hub.Invoke(ctx, target, method, payload)
}

func (l *link) SetStatus(status Status) {
	l.hub.SetStatus(context.Background(), l.name, status)
}

// Command routes text to every command handler except the caller.
func (l *link) Command(ctx context.Context, text string) (string, any, error) {
	return l.hub.routeCommand(ctx, text, l.name)
}

func (l *link) Components() []Record {
	return l.hub.Components()
}
