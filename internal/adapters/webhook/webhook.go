package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/becmacc/beyflow-chat-sub000/internal/adapters"
	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
)

var ErrNoURL = errors.New("webhook url not configured")

// Triggers maps bus events to the outbound trigger names third-party
// automation platforms subscribe to.
var Triggers = map[string]string{
	"chat:message_sent":       "chat_message",
	"media:download_complete": "media_download",
	"content:post_published":  "content_published",
	"ai:response_generated":   "ai_request",
}

// NodeTypes are workflow action types delivered through an outbound webhook.
var NodeTypes = []string{"make", "gmail", "notion", "sheets", "discord", "twilio"}

// Envelope is the body of every outbound delivery.
type Envelope struct {
	Trigger   string         `json:"trigger"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data"`
}

type Config struct {
	// TriggerURLs holds one URL per trigger name (chat_message, ...).
	TriggerURLs map[string]string `mapstructure:"triggers"`
	// NodeURLs holds one URL per node type; "make" is the fallback.
	NodeURLs map[string]string `mapstructure:"nodes"`
	Timeout  time.Duration     `mapstructure:"timeout"`
}

// forwardQueueSize bounds the trigger forwards waiting for the sender.
const forwardQueueSize = 128

type forward struct {
	trigger string
	data    map[string]any
}

// Client delivers bus events and workflow steps to outbound webhooks.
type Client struct {
	svc   *adapters.Service
	cfg   Config
	nowFn func() time.Time

	mu     sync.Mutex
	link   hub.Link
	unsubs []func()
	queue  chan forward

	// pending counts queued forwards not yet sent; worker tracks the sender.
	pending sync.WaitGroup
	worker  sync.WaitGroup
}

func New(cfg Config, httpClient *http.Client) *Client {
	return &Client{
		svc:   adapters.NewService(adapters.Options{Name: "webhook", Timeout: cfg.Timeout, HTTPClient: httpClient}),
		cfg:   cfg,
		nowFn: time.Now,
	}
}

// Attach implements hub.Linker and binds every configured trigger to its
// bus event. Forwards are queued and posted by a background sender, so the
// emitter never waits on the remote platform.
func (c *Client) Attach(l hub.Link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.unsubs {
		u()
	}
	c.unsubs = nil
	c.link = l
	for event, trigger := range Triggers {
		if strings.TrimSpace(c.cfg.TriggerURLs[trigger]) == "" {
			continue
		}
		trigger := trigger
		c.unsubs = append(c.unsubs, l.Subscribe(event, func(ctx context.Context, evt hub.Event) error {
			c.enqueue(trigger, evt.Payload)
			return nil
		}))
	}
	if len(c.unsubs) > 0 && c.queue == nil {
		c.queue = make(chan forward, forwardQueueSize)
		c.worker.Add(1)
		go c.send(c.queue)
	}
}

// enqueue must not block: it runs inside Emit.
func (c *Client) enqueue(trigger string, payload map[string]any) {
	data := make(map[string]any, len(payload))
	for k, v := range payload {
		data[k] = v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue == nil {
		return
	}
	c.pending.Add(1)
	select {
	case c.queue <- forward{trigger: trigger, data: data}:
	default:
		c.pending.Done()
		slog.Warn("webhook forward dropped; queue full", "trigger", trigger)
	}
}

func (c *Client) send(q <-chan forward) {
	defer c.worker.Done()
	for f := range q {
		_, _ = c.Trigger(context.Background(), f.trigger, f.data)
		c.pending.Done()
	}
}

// Wait blocks until every queued forward has been sent or has failed.
func (c *Client) Wait() { c.pending.Wait() }

// Stop drops the trigger subscriptions and drains the queued forwards.
func (c *Client) Stop() {
	c.mu.Lock()
	for _, u := range c.unsubs {
		u()
	}
	c.unsubs = nil
	q := c.queue
	c.queue = nil
	c.mu.Unlock()
	if q != nil {
		close(q)
		c.worker.Wait()
	}
}

func (c *Client) emit(ctx context.Context, name string, payload map[string]any) {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l != nil {
		l.Emit(ctx, name, payload)
	}
}

// Send posts the envelope to url and returns the decoded response body, if
// any. Non-2xx responses are errors.
func (c *Client) Send(ctx context.Context, url, trigger string, data map[string]any) (any, error) {
	if strings.TrimSpace(url) == "" {
		return nil, ErrNoURL
	}
	if data == nil {
		data = map[string]any{}
	}
	env := Envelope{Trigger: trigger, Timestamp: c.nowFn().UTC(), Source: "beyflow", Data: data}
	var out any
	err := c.svc.DoURL(ctx, http.MethodPost, url, env, &out)
	if err != nil {
		slog.Warn("webhook delivery failed", "trigger", trigger, "error", err)
		c.emit(ctx, "webhook:failed", map[string]any{"trigger": trigger, "error": err.Error()})
		return nil, fmt.Errorf("webhook %s: %w", trigger, err)
	}
	c.emit(ctx, "webhook:sent", map[string]any{"trigger": trigger})
	return out, nil
}

// Trigger sends data to the URL configured for trigger.
func (c *Client) Trigger(ctx context.Context, trigger string, data map[string]any) (any, error) {
	return c.Send(ctx, c.cfg.TriggerURLs[trigger], trigger, data)
}

// NodeURL resolves the URL for a workflow node type, falling back to the
// generic Make URL.
func (c *Client) NodeURL(nodeType string) string {
	if u := strings.TrimSpace(c.cfg.NodeURLs[nodeType]); u != "" {
		return u
	}
	return strings.TrimSpace(c.cfg.NodeURLs["make"])
}

// Deliver runs a workflow webhook node: the input is forwarded with the node
// type as its action.
func (c *Client) Deliver(ctx context.Context, nodeType string, input map[string]any) (map[string]any, error) {
	data := make(map[string]any, len(input)+1)
	for k, v := range input {
		data[k] = v
	}
	if nodeType != "make" {
		data["action"] = nodeType
	}
	resp, err := c.Send(ctx, c.NodeURL(nodeType), "workflow", data)
	if err != nil {
		return nil, err
	}
	return map[string]any{"type": "webhook", "success": true, "response": resp}, nil
}

// Methods implements hub.Invoker.
func (c *Client) Methods() map[string]hub.Method {
	return map[string]hub.Method{
		"send": func(ctx context.Context, p map[string]any) (any, error) {
			data, _ := p["data"].(map[string]any)
			return c.Send(ctx, adapters.String(p, "url"), adapters.FirstString(p, "trigger"), data)
		},
		"trigger": func(ctx context.Context, p map[string]any) (any, error) {
			data, _ := p["data"].(map[string]any)
			return c.Trigger(ctx, adapters.String(p, "trigger"), data)
		},
	}
}
