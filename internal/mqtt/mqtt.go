package mqtt

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type Client struct {
	client paho.Client
}

// Message is the part of an inbound MQTT message the hub cares about.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Connect dials brokerURL. mqtt:// and mqtts:// URLs are rewritten to the
// tcp:// and ssl:// schemes paho expects.
func Connect(brokerURL, clientID string) (*Client, error) {
	opts := paho.NewClientOptions()
	url := strings.TrimSpace(brokerURL)
	if url == "" {
		url = "mqtt://localhost:1883"
	}
	switch {
	case strings.HasPrefix(url, "mqtt://"):
		url = "tcp://" + strings.TrimPrefix(url, "mqtt://")
	case strings.HasPrefix(url, "mqtts://"):
		url = "ssl://" + strings.TrimPrefix(url, "mqtts://")
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(url)
	if strings.TrimSpace(clientID) == "" {
		clientID = "beyflow-hub-" + time.Now().Format("150405.000")
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.OnConnectionLost = func(_ paho.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	}
	opts.OnConnect = func(_ paho.Client) {
		slog.Info("mqtt connected", "broker", url)
	}

	c := paho.NewClient(opts)
	tok := c.Connect()
	if ok := tok.WaitTimeout(15 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect %s: timed out", url)
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return &Client{client: c}, nil
}

func (c *Client) Subscribe(topic string, handler func(Message)) error {
	tok := c.client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		handler(Message{Topic: msg.Topic(), Payload: msg.Payload(), Retained: msg.Retained()})
	})
	tok.Wait()
	return tok.Error()
}

func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	tok := c.client.Publish(topic, 1, retained, payload)
	if !tok.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	return tok.Error()
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(1000)
}
