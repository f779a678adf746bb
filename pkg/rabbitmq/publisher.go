package rabbitmq

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
)

// IPublisher publishes to a default topic or to an explicit one.
type IPublisher interface {
	PublishMessage(message interface{}) error
	PublishMessageQos(qos byte, retained bool, message interface{}) error
	PublishToQos(topic string, qos byte, retained bool, message interface{}) error
	Close()
}

// Publisher holds the client and the default topic.
type Publisher struct {
	client mqtt.Client
	topic  string
	log    *zap.SugaredLogger
}

var _ IPublisher = (*Publisher)(nil)

func NewPublisher(client mqtt.Client, topic string) *Publisher {
	return &Publisher{client: client, topic: topic, log: logging.Nop()}
}

func (p *Publisher) WithLogger(l *zap.SugaredLogger) *Publisher {
	p.log = logging.OrNop(l)
	return p
}

// PublishMessage publishes on the default topic at QoS 0.
func (p *Publisher) PublishMessage(message interface{}) error {
	return p.PublishToQos(p.topic, 0, false, message)
}

func (p *Publisher) PublishMessageQos(qos byte, retained bool, message interface{}) error {
	return p.PublishToQos(p.topic, qos, retained, message)
}

// PublishToQos accepts strings and byte slices as-is; anything else is JSON encoded.
func (p *Publisher) PublishToQos(topic string, qos byte, retained bool, message interface{}) error {
	if topic == "" {
		return fmt.Errorf("publish: empty topic")
	}
	payload, err := encode(message)
	if err != nil {
		return err
	}

	token := p.client.Publish(topic, qos, retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish message: %w", token.Error())
	}

	p.log.Debugw("message published", "topic", topic, "qos", qos, "bytes", len(payload))
	return nil
}

func encode(message interface{}) ([]byte, error) {
	switch m := message.(type) {
	case string:
		return []byte(m), nil
	case []byte:
		return m, nil
	case nil:
		return nil, fmt.Errorf("publish: nil message")
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("publish: encode %T: %w", m, err)
		}
		return b, nil
	}
}

// Close disconnects the shared client.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.log.Info("mqtt client disconnected")
	}
}
