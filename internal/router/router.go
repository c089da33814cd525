// Package router maps named inbound endpoints, the entry point for Make,
// Zapier and n8n, onto component operations.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/becmacc/beyflow-chat-sub000/internal/observability"
)

type Handler func(ctx context.Context, payload map[string]any) (any, error)

// RoutingError is returned for endpoints with no registered handler.
type RoutingError struct {
	Endpoint string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("unknown endpoint: %s", e.Endpoint)
}

type Router struct {
	mu     sync.RWMutex
	routes map[string]Handler
}

func New() *Router {
	return &Router{routes: map[string]Handler{}}
}

// Register binds endpoint to h, replacing any previous handler.
func (r *Router) Register(endpoint string, h Handler) {
	r.mu.Lock()
	r.routes[normalize(endpoint)] = h
	r.mu.Unlock()
}

// Route runs the handler registered for endpoint.
func (r *Router) Route(ctx context.Context, endpoint string, payload map[string]any) (any, error) {
	key := normalize(endpoint)
	r.mu.RLock()
	h, ok := r.routes[key]
	r.mu.RUnlock()
	if !ok {
		observability.RoutedRequests.WithLabelValues("unknown", "rejected").Inc()
		return nil, &RoutingError{Endpoint: endpoint}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	res, err := h(ctx, payload)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.RoutedRequests.WithLabelValues(key, outcome).Inc()
	return res, err
}

// Dispatch routes the inbound webhook envelope {trigger, data, source}.
func (r *Router) Dispatch(ctx context.Context, envelope map[string]any) (any, error) {
	trigger, _ := envelope["trigger"].(string)
	if strings.TrimSpace(trigger) == "" {
		return nil, &RoutingError{Endpoint: trigger}
	}
	data, _ := envelope["data"].(map[string]any)
	return r.Route(ctx, trigger, data)
}

// Endpoints lists the registered endpoint names, sorted.
func (r *Router) Endpoints() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.routes))
	for k := range r.routes {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func normalize(endpoint string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(endpoint)), "/")
}
