package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
)

// SourceMQTT marks bus events that arrived over MQTT; they are not mirrored
// back to the broker.
const SourceMQTT = "mqtt"

// Conn is the broker side of the bridge. *Client satisfies it.
type Conn interface {
	Subscribe(topic string, handler func(Message)) error
	Publish(topic string, payload []byte, retained bool) error
}

// Bus is the hub side of the bridge.
type Bus interface {
	SubscribeAll(fn hub.Handler) func()
	EmitFrom(ctx context.Context, source, name string, payload map[string]any)
}

// Bridge mirrors bus events to <prefix>/events/<namespace>/<verb> and emits
// messages received on <prefix>/emit/# onto the bus.
type Bridge struct {
	conn   Conn
	bus    Bus
	prefix string
	unsub  func()
}

func NewBridge(conn Conn, bus Bus, prefix string) *Bridge {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "beyflow"
	}
	return &Bridge{conn: conn, bus: bus, prefix: prefix}
}

type outbound struct {
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload"`
	Source    string         `json:"source,omitempty"`
	Timestamp int64          `json:"ts"`
}

func (b *Bridge) Start(ctx context.Context) error {
	if err := b.conn.Subscribe(b.prefix+"/emit/#", func(m Message) {
		b.inbound(ctx, m)
	}); err != nil {
		return err
	}
	b.unsub = b.bus.SubscribeAll(func(_ context.Context, evt hub.Event) error {
		if evt.Source == SourceMQTT {
			return nil
		}
		body, err := json.Marshal(outbound{Event: evt.Name, Payload: evt.Payload, Source: evt.Source, Timestamp: evt.Timestamp.UnixMilli()})
		if err != nil {
			return err
		}
		return b.conn.Publish(b.EventTopic(evt.Name), body, false)
	})
	return nil
}

func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
		b.unsub = nil
	}
}

// EventTopic maps "media:download_complete" to
// "<prefix>/events/media/download_complete".
func (b *Bridge) EventTopic(event string) string {
	return b.prefix + "/events/" + strings.ReplaceAll(event, ":", "/")
}

// EventName is the inverse of the emit topic layout; ok is false for topics
// outside <prefix>/emit/.
func (b *Bridge) EventName(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/emit/")
	if !ok || rest == "" {
		return "", false
	}
	ns, verb, found := strings.Cut(rest, "/")
	if !found {
		return ns, true
	}
	return ns + ":" + strings.ReplaceAll(verb, "/", "_"), true
}

func (b *Bridge) inbound(ctx context.Context, m Message) {
	name, ok := b.EventName(m.Topic)
	if !ok {
		return
	}
	payload := map[string]any{}
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			slog.Warn("mqtt emit payload is not a JSON object", "topic", m.Topic, "error", err)
			return
		}
	}
	b.bus.EmitFrom(ctx, SourceMQTT, name, payload)
}
