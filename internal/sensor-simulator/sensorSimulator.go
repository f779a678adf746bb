package sensor_simulator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/dedup"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq"
)

const defaultDataTopic = "sensor/data/{field}/{sensor}"

type SensorSimulator struct {
	mu        sync.Mutex
	sensor    *model.Sensor
	timer     *time.Timer // single revert timer
	generator *DataGenerator
	publisher rabbitmq.IPublisher
	consumer  rabbitmq.IConsumer
	deduper   *dedup.Deduper
	topic     string
	log       *zap.SugaredLogger
	now       func() time.Time
}

func NewSensorSimulator(consumer rabbitmq.IConsumer, publisher rabbitmq.IPublisher,
	gen *DataGenerator, sensor *model.Sensor) *SensorSimulator {
	s := &SensorSimulator{
		sensor:    sensor,
		generator: gen,
		publisher: publisher,
		consumer:  consumer,
		deduper:   dedup.New(2*time.Minute, 10000),
		topic:     defaultDataTopic,
		log:       logging.Nop(),
		now:       time.Now,
	}
	if consumer != nil {
		consumer.SetHandler(s.handleMessage)
	}
	return s
}

func (s *SensorSimulator) WithLogger(l *zap.SugaredLogger) *SensorSimulator {
	s.log = logging.OrNop(l)
	return s
}

// WithTopic sets the raw data topic template ({field}, {sensor}).
func (s *SensorSimulator) WithTopic(tmpl string) *SensorSimulator {
	if tmpl != "" {
		s.topic = tmpl
	}
	return s
}

// Start listens for valve state changes and publishes a reading every interval.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) {
	if s.consumer != nil {
		go s.consumer.ConsumeMessage(ctx)
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopTimer()
			s.publisher.Close()
			return
		case <-t.C:
			_ = s.PublishReading()
		}
	}
}

// PublishReading generates one raw reading and publishes it.
func (s *SensorSimulator) PublishReading() error {
	s.mu.Lock()
	snapshot := *s.sensor
	s.mu.Unlock()

	sd := s.generator.Next(&snapshot, s.now())
	topic := rabbitmq.FormatTopic(s.topic, sd.FieldID, sd.SensorID)
	if err := s.publisher.PublishToQos(topic, 0, false, sd); err != nil {
		s.log.Errorw("publish reading failed", "topic", topic, "error", err)
		return err
	}
	s.log.Debugw("raw reading", "field", sd.FieldID, "sensor", sd.SensorID,
		"moisture", sd.Moisture, "humidity", sd.Humidity, "temperature", sd.Temperature, "state", snapshot.State)
	return nil
}

// State returns the current valve state.
func (s *SensorSimulator) State() model.SensorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sensor.State
}

func (s *SensorSimulator) handleMessage(_ string, msg mqtt.Message) error {
	if !s.deduper.ShouldProcessPayload(msg.Payload()) {
		return nil
	}
	var evt model.StateChangeEvent
	if err := json.Unmarshal(msg.Payload(), &evt); err != nil {
		s.log.Warnw("invalid state change", "topic", msg.Topic(), "error", err)
		return nil
	}
	if evt.SensorID != s.sensor.ID || (evt.FieldID != "" && evt.FieldID != s.sensor.FieldID) {
		return nil
	}
	s.applyTimedState(evt)
	return nil
}

// applyTimedState switches the valve and, for a timed ON, schedules the revert
// to OFF in case the closing event is lost.
func (s *SensorSimulator) applyTimedState(evt model.StateChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.sensor.State = evt.NewState
	s.log.Infow("valve state", "sensor", s.sensor.ID, "state", evt.NewState, "duration", evt.Duration)

	if evt.NewState == model.StateOn {
		s.generator.ApplyIrrigation(evt.Duration)
		if evt.Duration > 0 {
			s.timer = time.AfterFunc(evt.Duration, func() {
				s.mu.Lock()
				defer s.mu.Unlock()
				s.sensor.State = model.StateOff
				s.timer = nil
			})
		}
	}
}

func (s *SensorSimulator) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
