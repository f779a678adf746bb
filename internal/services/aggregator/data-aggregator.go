package aggregator

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/metrics"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq"
)

const defaultAggregatedTopic = "sensor/aggregated/{field}/{sensor}"

type DataAggregatorService struct {
	consumer  rabbitmq.IConsumer
	publisher rabbitmq.IPublisher
	topic     string

	mutex               sync.Mutex
	buffer              map[string][]model.SensorData // key is field|sensor
	aggregationInterval time.Duration

	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewDataAggregatorService(consumer rabbitmq.IConsumer, publisher rabbitmq.IPublisher, aggregationInterval time.Duration) *DataAggregatorService {
	if aggregationInterval <= 0 {
		aggregationInterval = time.Minute
	}
	d := &DataAggregatorService{
		consumer:            consumer,
		publisher:           publisher,
		topic:               defaultAggregatedTopic,
		aggregationInterval: aggregationInterval,
		buffer:              make(map[string][]model.SensorData),
		metrics:             metrics.New(),
		log:                 logging.Nop(),
		now:                 time.Now,
	}
	d.consumer.SetHandler(d.messageHandler)
	return d
}

// WithTopic sets the aggregated topic template ({field}, {sensor}).
func (d *DataAggregatorService) WithTopic(tmpl string) *DataAggregatorService {
	if tmpl != "" {
		d.topic = tmpl
	}
	return d
}

func (d *DataAggregatorService) WithLogger(l *zap.SugaredLogger) *DataAggregatorService {
	d.log = logging.OrNop(l)
	return d
}

func (d *DataAggregatorService) WithMetrics(m *metrics.Metrics) *DataAggregatorService {
	if m != nil {
		d.metrics = m
	}
	return d
}

func (d *DataAggregatorService) messageHandler(_ string, message mqtt.Message) error {
	var sd model.SensorData
	if err := json.Unmarshal(message.Payload(), &sd); err != nil {
		d.log.Warnw("bad sensor payload", "topic", message.Topic(), "error", err)
		return nil
	}
	if sd.FieldID == "" || sd.SensorID == "" {
		sd.FieldID, sd.SensorID = rabbitmq.TopicIDs(message.Topic(), "sensor/data")
	}
	if sd.FieldID == "" || sd.SensorID == "" {
		return nil
	}
	d.metrics.Readings.WithLabelValues("raw").Inc()

	d.mutex.Lock()
	k := sd.FieldID + "|" + sd.SensorID
	d.buffer[k] = append(d.buffer[k], sd)
	d.mutex.Unlock()

	d.log.Debugw("buffered reading", "field", sd.FieldID, "sensor", sd.SensorID, "moisture", sd.Moisture)
	return nil
}

func (d *DataAggregatorService) Start(ctx context.Context) {
	go d.consumer.ConsumeMessage(ctx)

	ticker := time.NewTicker(d.aggregationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.publisher.Close()
			return
		case <-ticker.C:
			d.AggregateAndPublish()
		}
	}
}

// AggregateAndPublish publishes one averaged reading per buffered sensor and
// empties the buffer. It returns the number of readings published.
func (d *DataAggregatorService) AggregateAndPublish() int {
	d.mutex.Lock()
	batch := d.buffer
	d.buffer = make(map[string][]model.SensorData, len(batch))
	d.mutex.Unlock()

	published := 0
	for _, readings := range batch {
		if len(readings) == 0 {
			continue
		}
		out := Average(readings)
		out.Timestamp = d.now().UTC()

		topic := rabbitmq.FormatTopic(d.topic, out.FieldID, out.SensorID)
		if err := d.publisher.PublishToQos(topic, 1, false, out); err != nil {
			d.log.Errorw("publish aggregated failed", "topic", topic, "error", err)
			continue
		}
		published++
		d.log.Infow("aggregated", "field", out.FieldID, "sensor", out.SensorID, "samples", out.Samples,
			"moisture", out.Moisture, "humidity", out.Humidity, "temperature", out.Temperature)
	}
	return published
}

// Average folds readings of one sensor into a single aggregated reading,
// rounded to one decimal.
func Average(readings []model.SensorData) model.SensorData {
	var m, h, t float64
	for _, r := range readings {
		m += r.Moisture
		h += r.Humidity
		t += r.Temperature
	}
	n := float64(len(readings))
	return model.SensorData{
		FieldID:     readings[0].FieldID,
		SensorID:    readings[0].SensorID,
		Moisture:    round1(m / n),
		Humidity:    round1(h / n),
		Temperature: round1(t / n),
		Aggregated:  true,
		Samples:     len(readings),
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
