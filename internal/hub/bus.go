package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/becmacc/beyflow-chat-sub000/internal/observability"

	"github.com/google/uuid"
)

// Wildcard subscribes to every event name.
const Wildcard = "*"

// Event is a single bus notification. Names follow "<namespace>:<verb>".
type Event struct {
	Name      string         `json:"name"`
	Payload   map[string]any `json:"payload"`
	Source    string         `json:"source,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler receives bus events. A returned error is logged, never propagated
// to the emitter.
type Handler func(ctx context.Context, evt Event) error

// Result is the settlement of one subscriber during Publish.
type Result struct {
	Subscriber string
	Err        error
}

type subscription struct {
	id string
	fn Handler
}

type bus struct {
	mu       sync.RWMutex
	subs     map[string][]subscription
	wildcard []subscription
}

func newBus() *bus {
	return &bus{subs: map[string][]subscription{}}
}

func (b *bus) subscribe(name string, fn Handler) func() {
	sub := subscription{id: uuid.NewString(), fn: fn}

	b.mu.Lock()
	if name == Wildcard {
		b.wildcard = append(b.wildcard, sub)
	} else {
		b.subs[name] = append(b.subs[name], sub)
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if name == Wildcard {
				b.wildcard = without(b.wildcard, sub.id)
				return
			}
			rest := without(b.subs[name], sub.id)
			if len(rest) == 0 {
				delete(b.subs, name)
				return
			}
			b.subs[name] = rest
		})
	}
}

func without(list []subscription, id string) []subscription {
	out := make([]subscription, 0, len(list))
	for _, s := range list {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// snapshot copies the subscriber list so callbacks may subscribe or
// unsubscribe without deadlocking the fan-out.
func (b *bus) snapshot(name string) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]subscription, 0, len(b.subs[name])+len(b.wildcard))
	out = append(out, b.subs[name]...)
	out = append(out, b.wildcard...)
	return out
}

func (b *bus) count(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if name == Wildcard {
		return len(b.wildcard)
	}
	return len(b.subs[name])
}

func newEvent(name string, payload map[string]any, source string) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{Name: name, Payload: payload, Source: source, Timestamp: time.Now().UTC()}
}

func call(ctx context.Context, s subscription, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s.fn(ctx, evt)
}

// emit runs every subscriber in subscription order on the caller's goroutine.
func (b *bus) emit(ctx context.Context, evt Event) {
	observability.BusEvents.WithLabelValues(evt.Name).Inc()
	for _, s := range b.snapshot(evt.Name) {
		if err := call(ctx, s, evt); err != nil {
			observability.SubscriberFailures.WithLabelValues(evt.Name).Inc()
			slog.Error("event subscriber failed", "event", evt.Name, "subscriber", s.id, "error", err)
		}
	}
}

// publish runs every subscriber concurrently and waits for all of them.
func (b *bus) publish(ctx context.Context, evt Event) []Result {
	observability.BusEvents.WithLabelValues(evt.Name).Inc()
	subs := b.snapshot(evt.Name)
	results := make([]Result, len(subs))

	var wg sync.WaitGroup
	for i, s := range subs {
		wg.Add(1)
		go func(i int, s subscription) {
			defer wg.Done()
			err := call(ctx, s, evt)
			if err != nil {
				observability.SubscriberFailures.WithLabelValues(evt.Name).Inc()
			}
			results[i] = Result{Subscriber: s.id, Err: err}
		}(i, s)
	}
	wg.Wait()
	return results
}
