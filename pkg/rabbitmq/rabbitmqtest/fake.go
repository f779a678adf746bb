// Package rabbitmqtest provides in-memory stand-ins for the MQTT client
// used by service tests.
package rabbitmqtest

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is a minimal mqtt.Message.
type Message struct {
	TopicName string
	Body      []byte
	QoS       byte
}

var _ mqtt.Message = (*Message)(nil)

// NewMessage JSON encodes v unless it is already a string or byte slice.
func NewMessage(topic string, v any) *Message {
	var body []byte
	switch b := v.(type) {
	case []byte:
		body = b
	case string:
		body = []byte(b)
	default:
		body, _ = json.Marshal(v)
	}
	return &Message{TopicName: topic, Body: body}
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return m.QoS }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.TopicName }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.Body }
func (m *Message) Ack()              {}

type token struct{ err error }

func (t token) Wait() bool                     { return true }
func (t token) WaitTimeout(time.Duration) bool { return true }
func (t token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t token) Error() error { return t.err }

// Published records one Publish call.
type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Client is an in-memory broker: Publish loops back to matching subscriptions.
type Client struct {
	mu        sync.Mutex
	connected bool
	subs      map[string]mqtt.MessageHandler
	published []Published

	PublishErr   error
	SubscribeErr error
}

var _ mqtt.Client = (*Client)(nil)

func NewClient() *Client {
	return &Client{connected: true, subs: map[string]mqtt.MessageHandler{}}
}

func (c *Client) IsConnected() bool      { return c.isConnected() }
func (c *Client) IsConnectionOpen() bool { return c.isConnected() }

func (c *Client) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Connect() mqtt.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return token{}
}

func (c *Client) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if c.PublishErr != nil {
		return token{err: c.PublishErr}
	}
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case string:
		body = []byte(p)
	}
	c.mu.Lock()
	c.published = append(c.published, Published{Topic: topic, QoS: qos, Retained: retained, Payload: body})
	c.mu.Unlock()
	c.Deliver(topic, body)
	return token{}
}

func (c *Client) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	if c.SubscribeErr != nil {
		return token{err: c.SubscribeErr}
	}
	c.mu.Lock()
	c.subs[topic] = callback
	c.mu.Unlock()
	return token{}
}

func (c *Client) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for f, q := range filters {
		c.Subscribe(f, q, callback)
	}
	return token{}
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()
	return token{}
}

func (c *Client) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.Subscribe(topic, 0, callback)
}

func (c *Client) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// Deliver hands payload to every subscription whose filter matches topic.
func (c *Client) Deliver(topic string, payload []byte) {
	c.mu.Lock()
	var hs []mqtt.MessageHandler
	for f, h := range c.subs {
		if Match(f, topic) {
			hs = append(hs, h)
		}
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(c, &Message{TopicName: topic, Body: payload})
	}
}

// Subscribed reports whether filter currently has a subscription.
func (c *Client) Subscribed(filter string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[filter]
	return ok
}

// Published returns a copy of every recorded publish.
func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

// Match implements MQTT filter matching with + and # wildcards.
func Match(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}

// Publisher records messages instead of sending them.
type Publisher struct {
	mu       sync.Mutex
	Messages []Published
	Err      error
	Closed   bool
}

func (p *Publisher) PublishMessage(message interface{}) error {
	return p.PublishToQos("", 0, false, message)
}

func (p *Publisher) PublishMessageQos(qos byte, retained bool, message interface{}) error {
	return p.PublishToQos("", qos, retained, message)
}

func (p *Publisher) PublishToQos(topic string, qos byte, retained bool, message interface{}) error {
	if p.Err != nil {
		return p.Err
	}
	var body []byte
	switch m := message.(type) {
	case []byte:
		body = m
	case string:
		body = []byte(m)
	default:
		body, _ = json.Marshal(m)
	}
	p.mu.Lock()
	p.Messages = append(p.Messages, Published{Topic: topic, QoS: qos, Retained: retained, Payload: body})
	p.mu.Unlock()
	return nil
}

func (p *Publisher) Close() {
	p.mu.Lock()
	p.Closed = true
	p.mu.Unlock()
}

// Sent returns a copy of the recorded messages.
func (p *Publisher) Sent() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.Messages...)
}

// Decode unmarshals the i-th recorded payload into v.
func (p *Publisher) Decode(i int, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return json.Unmarshal(p.Messages[i].Payload, v)
}
