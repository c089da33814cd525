package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
	"github.com/becmacc/beyflow-chat-sub000/internal/observability"
)

const maxResponseBytes = 1 << 20

// Options configures the shared adapter plumbing.
type Options struct {
	Name         string
	BaseURL      string
	ProbePath    string
	PollInterval time.Duration
	Timeout      time.Duration
	HTTPClient   *http.Client
	Retry        RetryPolicy
	// Header is sent with every call, e.g. an Authorization bearer.
	Header http.Header
}

// Service is the connectivity-aware core embedded by every adapter. It owns
// the checking/connected/offline state machine, the poll loop and the JSON
// transport.
type Service struct {
	name       string
	baseURL    string
	probePath  string
	interval   time.Duration
	timeout    time.Duration
	httpClient *http.Client
	retry      RetryPolicy
	header     http.Header

	// opMu serializes poll refreshes with operations that touch adapter state.
	opMu sync.Mutex

	mu      sync.RWMutex
	link    hub.Link
	status  hub.Status
	refresh func(ctx context.Context) error
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewService(opts Options) *Service {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &Service{
		name:       opts.Name,
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		probePath:  opts.ProbePath,
		interval:   interval,
		timeout:    timeout,
		httpClient: hc,
		retry:      opts.Retry,
		header:     opts.Header.Clone(),
		status:     hub.StatusChecking,
	}
}

func (s *Service) Name() string    { return s.name }
func (s *Service) BaseURL() string { return s.baseURL }

// Attach implements hub.Linker.
func (s *Service) Attach(l hub.Link) {
	s.mu.Lock()
	s.link = l
	s.mu.Unlock()
}

// OnRefresh installs work that runs after every successful probe, under the
// operation lock.
func (s *Service) OnRefresh(fn func(ctx context.Context) error) {
	s.mu.Lock()
	s.refresh = fn
	s.mu.Unlock()
}

func (s *Service) Status() hub.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Service) Connected() bool { return s.Status() == hub.StatusConnected }

// Start runs the poll loop until ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.pollLoop(ctx, done)
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Service) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.Check(ctx)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Check(ctx)
		}
	}
}

// Check runs one connectivity cycle: offline moves back to checking, then
// the probe decides connected or offline.
func (s *Service) Check(ctx context.Context) hub.Status {
	if s.Status() == hub.StatusOffline {
		s.setStatus(ctx, hub.StatusChecking)
	}
	if err := s.probe(ctx); err != nil {
		slog.Debug("adapter probe failed", "component", s.name, "error", err)
		s.setStatus(ctx, hub.StatusOffline)
		return hub.StatusOffline
	}
	s.setStatus(ctx, hub.StatusConnected)

	s.mu.RLock()
	refresh := s.refresh
	s.mu.RUnlock()
	if refresh != nil {
		if err := s.Exclusive(func() error { return refresh(ctx) }); err != nil {
			slog.Warn("adapter refresh failed", "component", s.name, "error", err)
		}
	}
	return hub.StatusConnected
}

func (s *Service) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+s.probePath, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{Service: s.name, Status: resp.StatusCode}
	}
	return nil
}

func (s *Service) setStatus(ctx context.Context, status hub.Status) {
	s.mu.Lock()
	prev := s.status
	s.status = status
	link := s.link
	s.mu.Unlock()
	if prev == status || link == nil {
		return
	}
	link.SetStatus(status)
	switch status {
	case hub.StatusConnected:
		link.Emit(ctx, s.name+":connected", map[string]any{"base_url": s.baseURL})
	case hub.StatusOffline:
		link.Emit(ctx, s.name+":offline", map[string]any{"base_url": s.baseURL})
	}
}

// Exclusive runs fn under the adapter's operation lock.
func (s *Service) Exclusive(fn func() error) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return fn()
}

// Emit publishes "<name>:<verb>" on the bus when the adapter is registered.
func (s *Service) Emit(ctx context.Context, verb string, payload map[string]any) {
	s.mu.RLock()
	link := s.link
	s.mu.RUnlock()
	if link == nil {
		return
	}
	link.Emit(ctx, s.name+":"+verb, payload)
}

// Link returns the injected hub link, or nil before registration.
func (s *Service) Link() hub.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.link
}

// Do performs a JSON call against the service's base URL. While offline it
// returns *ConnectivityError without touching the network.
func (s *Service) Do(ctx context.Context, method, path string, in, out any) error {
	if s.Status() == hub.StatusOffline {
		return &ConnectivityError{Service: s.name, Op: method + " " + path}
	}
	return s.DoURL(ctx, method, s.baseURL+path, in, out)
}

// DoURL is Do against an absolute URL, without the connectivity gate.
func (s *Service) DoURL(ctx context.Context, method, url string, in, out any) error {
	start := time.Now()
	defer func() {
		observability.AdapterCallDuration.WithLabelValues(s.name, method).Observe(time.Since(start).Seconds())
	}()
	return retry(ctx, s.retry, method, func() error {
		return s.roundTrip(ctx, method, url, in, out)
	})
}

type decodeError struct {
	service string
	err     error
}

func (e *decodeError) Error() string { return fmt.Sprintf("decode %s response: %v", e.service, e.err) }
func (e *decodeError) Unwrap() error { return e.err }

func (s *Service) roundTrip(ctx context.Context, method, url string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", s.name, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	for k, vs := range s.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{Service: s.name, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return &decodeError{service: s.name, err: err}
	}
	return nil
}
