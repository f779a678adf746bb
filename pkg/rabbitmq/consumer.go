package rabbitmq

import (
	"context"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
)

// Handler processes one message received on topic.
type Handler func(topic string, message mqtt.Message) error

// IConsumer subscribes and dispatches to the injected handler.
type IConsumer interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler Handler)
}

// Consumer holds the client and topic filter for one subscription.
type Consumer struct {
	client  mqtt.Client
	handler Handler
	topic   string
	log     *zap.SugaredLogger
}

var _ IConsumer = (*Consumer)(nil)

func NewConsumer(client mqtt.Client, topic string, handler Handler) *Consumer {
	return &Consumer{client: client, topic: topic, handler: handler, log: logging.Nop()}
}

func (c *Consumer) WithLogger(l *zap.SugaredLogger) *Consumer {
	c.log = logging.OrNop(l)
	return c
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

// qosFor returns 1 on topics carrying decisions, results and aggregates,
// where a lost message changes what gets watered.
func qosFor(topic string) byte {
	t := strings.TrimSpace(topic)
	for _, p := range []string{
		"sensor/aggregated",
		"event/irrigationDecision",
		"event/irrigationResult",
		"event/StateChange",
	} {
		if strings.HasPrefix(t, p) {
			return 1
		}
	}
	return 0
}

func dispatch(log *zap.SugaredLogger, filter string, h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, message mqtt.Message) {
		if h == nil {
			log.Warnw("no handler set", "topic", filter)
			return
		}
		if err := h(filter, message); err != nil {
			log.Warnw("error handling message", "topic", message.Topic(), "error", err)
		}
	}
}

// ConsumeMessage subscribes and blocks until ctx is cancelled.
func (c *Consumer) ConsumeMessage(ctx context.Context) {
	token := c.client.Subscribe(c.topic, qosFor(c.topic), dispatch(c.log, c.topic, c.handler))
	if token.Wait() && token.Error() != nil {
		c.log.Errorw("error subscribing", "topic", c.topic, "error", token.Error())
		return
	}
	c.log.Infow("subscribed", "topic", c.topic)

	<-ctx.Done()

	c.client.Unsubscribe(c.topic).Wait()
}

// MultiConsumer shares one handler across several topic filters.
type MultiConsumer struct {
	client  mqtt.Client
	topics  []string
	handler Handler
	log     *zap.SugaredLogger
}

var _ IConsumer = (*MultiConsumer)(nil)

func NewMultiConsumer(client mqtt.Client, topics []string, handler Handler) *MultiConsumer {
	return &MultiConsumer{client: client, topics: topics, handler: handler, log: logging.Nop()}
}

func (m *MultiConsumer) WithLogger(l *zap.SugaredLogger) *MultiConsumer {
	m.log = logging.OrNop(l)
	return m
}

func (m *MultiConsumer) SetHandler(handler Handler) {
	m.handler = handler
}

func (m *MultiConsumer) ConsumeMessage(ctx context.Context) {
	for _, topic := range m.topics {
		token := m.client.Subscribe(topic, qosFor(topic), dispatch(m.log, topic, m.handler))
		token.Wait()
		if token.Error() != nil {
			m.log.Errorw("error subscribing", "topic", topic, "error", token.Error())
		} else {
			m.log.Infow("subscribed", "topic", topic)
		}
	}

	<-ctx.Done()

	for _, topic := range m.topics {
		m.client.Unsubscribe(topic)
	}
}

// SplitTopics parses a comma separated list of topic filters.
func SplitTopics(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FormatTopic fills the {field} and {sensor} placeholders of tmpl.
func FormatTopic(tmpl, fieldID, sensorID string) string {
	return strings.NewReplacer("{field}", fieldID, "{sensor}", sensorID).Replace(tmpl)
}

// TopicIDs extracts field and sensor from "prefix/{field}/{sensor}".
func TopicIDs(topic, prefix string) (fieldID, sensorID string) {
	rest := strings.TrimPrefix(topic, strings.TrimRight(prefix, "/")+"/")
	parts := strings.Split(rest, "/")
	if rest == topic || len(parts) < 2 {
		return "", ""
	}
	return parts[0], parts[1]
}
