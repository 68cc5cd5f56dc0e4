package mqtt

import (
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	qos          = 1
	tokenTimeout = 10 * time.Second
)

// routes fans one subscription filter out to several handlers
type routes struct {
	mu   sync.RWMutex
	subs map[string][]Handler
}

func newRoutes() *routes {
	return &routes{subs: make(map[string][]Handler)}
}

// add registers h and reports whether the filter is new
func (r *routes) add(filter string, h Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.subs[filter]
	r.subs[filter] = append(r.subs[filter], h)
	return !exists
}

func (r *routes) remove(filter string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, filter)
}

func (r *routes) filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subs))
	for f := range r.subs {
		out = append(out, f)
	}
	return out
}

// handlers returns the handlers of one filter, or of every filter matching
// topic when filter is empty. The lock is not held while handlers run.
func (r *routes) handlers(filter, topic string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if filter != "" {
		return append([]Handler(nil), r.subs[filter]...)
	}
	var matched []Handler
	for f, hs := range r.subs {
		if Match(f, topic) {
			matched = append(matched, hs...)
		}
	}
	return matched
}

// Client is a Bus backed by a broker connection. Several handlers may share
// a filter; the broker sees one subscription per filter, renewed on
// reconnect.
type Client struct {
	client MQTT.Client
	routes *routes
	log    *zap.Logger
}

// Connect opens a broker connection
func Connect(broker, clientID string, log *zap.Logger) (*Client, error) {
	c := &Client{routes: newRoutes(), log: log}
	client, err := NewMQTTClient(broker, clientID, c.resubscribe)
	if err != nil {
		return nil, err
	}
	c.client = client
	log.Info("connected to broker", zap.String("broker", broker), zap.String("client_id", clientID))
	return c, nil
}

func wait(token MQTT.Token, what string) error {
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("%s: timed out", what)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func (c *Client) Publish(topic string, payload []byte) error {
	return wait(c.client.Publish(topic, qos, false, payload), "publish "+topic)
}

func (c *Client) Subscribe(topic string, h Handler) error {
	if !c.routes.add(topic, h) {
		return nil
	}
	if err := wait(c.client.Subscribe(topic, qos, c.callback(topic)), "subscribe "+topic); err != nil {
		c.routes.remove(topic)
		return err
	}
	c.log.Debug("subscribed", zap.String("topic", topic))
	return nil
}

// Unsubscribe drops every handler of the filter
func (c *Client) Unsubscribe(topic string) error {
	c.routes.remove(topic)
	return wait(c.client.Unsubscribe(topic), "unsubscribe "+topic)
}

func (c *Client) callback(filter string) MQTT.MessageHandler {
	return func(_ MQTT.Client, msg MQTT.Message) {
		for _, h := range c.routes.handlers(filter, msg.Topic()) {
			h(msg.Topic(), msg.Payload())
		}
	}
}

// resubscribe renews the filters after a reconnect. It runs on the paho
// goroutine, so it must not wait on tokens.
func (c *Client) resubscribe(client MQTT.Client) {
	for _, f := range c.routes.filters() {
		client.Subscribe(f, qos, c.callback(f))
	}
}

// Close disconnects, waiting up to 250ms for in-flight work
func (c *Client) Close() {
	c.client.Disconnect(250)
}

// Memory is an in-process Bus used when no broker is configured and in tests.
// Handlers run synchronously on the publishing goroutine.
type Memory struct {
	routes *routes
}

func NewMemory() *Memory {
	return &Memory{routes: newRoutes()}
}

func (m *Memory) Publish(topic string, payload []byte) error {
	for _, h := range m.routes.handlers("", topic) {
		h(topic, append([]byte(nil), payload...))
	}
	return nil
}

func (m *Memory) Subscribe(topic string, h Handler) error {
	m.routes.add(topic, h)
	return nil
}

// Unsubscribe drops every handler of the filter
func (m *Memory) Unsubscribe(topic string) error {
	m.routes.remove(topic)
	return nil
}
