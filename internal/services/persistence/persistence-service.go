package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/metrics"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq"
)

const DefaultMeasurement = "soil_reading"

// BlockingWriter is satisfied by api.WriteAPIBlocking.
type BlockingWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type Options struct {
	Consumer    rabbitmq.IConsumer
	Writer      BlockingWriter
	Query       api.QueryAPI // optional; without it /data/latest serves the cache
	Bucket      string
	Measurement string
	Metrics     *metrics.Metrics
	Logger      *zap.SugaredLogger
}

// Service stores aggregated readings in InfluxDB and keeps the latest one
// per sensor in memory.
type Service struct {
	consumer    rabbitmq.IConsumer
	writer      BlockingWriter
	query       api.QueryAPI
	bucket      string
	measurement string
	metrics     *metrics.Metrics
	log         *zap.SugaredLogger

	mu     sync.RWMutex
	latest map[string]model.SensorData // field|sensor
}

func NewService(o Options) (*Service, error) {
	if o.Consumer == nil || o.Writer == nil {
		return nil, errors.New("persistence: consumer and writer are required")
	}
	if o.Measurement == "" {
		o.Measurement = DefaultMeasurement
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	s := &Service{
		consumer:    o.Consumer,
		writer:      o.Writer,
		query:       o.Query,
		bucket:      o.Bucket,
		measurement: sanitizeMeasurement(o.Measurement),
		metrics:     o.Metrics,
		log:         logging.OrNop(o.Logger),
		latest:      make(map[string]model.SensorData),
	}
	s.consumer.SetHandler(s.handle)
	return s, nil
}

// Start consumes until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.consumer.ConsumeMessage(ctx)
}

func (s *Service) handle(topic string, msg mqtt.Message) error {
	var m model.SensorData
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		s.log.Warnw("invalid reading", "topic", msg.Topic(), "error", err)
		return nil
	}
	if m.FieldID == "" || m.SensorID == "" {
		m.FieldID, m.SensorID = rabbitmq.TopicIDs(msg.Topic(), "sensor/aggregated")
	}
	if m.FieldID == "" || m.SensorID == "" {
		return nil
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	s.remember(m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.writer.WritePoint(ctx, s.toPoint(m)); err != nil {
		s.log.Errorw("influx write failed", "field", m.FieldID, "sensor", m.SensorID, "error", err)
		return fmt.Errorf("persistence write: %w", err)
	}
	s.metrics.Readings.WithLabelValues("stored").Inc()
	s.log.Debugw("reading stored", "field", m.FieldID, "sensor", m.SensorID, "moisture", m.Moisture)
	return nil
}

func (s *Service) toPoint(m model.SensorData) *write.Point {
	return influxdb2.NewPoint(s.measurement,
		map[string]string{"field_id": m.FieldID, "sensor_id": m.SensorID},
		map[string]interface{}{
			"moisture":    m.Moisture,
			"humidity":    m.Humidity,
			"temperature": m.Temperature,
			"samples":     int64(m.Samples),
			"aggregated":  m.Aggregated,
		},
		m.Timestamp)
}

func (s *Service) remember(m model.SensorData) {
	k := m.FieldID + "|" + m.SensorID
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.latest[k]; ok && prev.Timestamp.After(m.Timestamp) {
		return
	}
	s.latest[k] = m
}

// LatestCache returns the newest reading per sensor, ordered by field and sensor.
func (s *Service) LatestCache() []model.SensorData {
	s.mu.RLock()
	out := make([]model.SensorData, 0, len(s.latest))
	for _, v := range s.latest {
		out = append(out, v)
	}
	s.mu.RUnlock()
	sortReadings(out)
	return out
}

// QueryLatestFromInflux returns the newest stored reading per sensor within
// the last minutes.
func (s *Service) QueryLatestFromInflux(ctx context.Context, minutes int) ([]model.SensorData, error) {
	if s.query == nil {
		return nil, errors.New("persistence: no query api")
	}
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q)
  |> last()
  |> pivot(rowKey: ["_time", "field_id", "sensor_id"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
`, s.bucket, minutes, s.measurement)

	res, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	defer func() { _ = res.Close() }()

	byKey := map[string]model.SensorData{}
	for res.Next() {
		rec := res.Record()
		sd := model.SensorData{
			FieldID:     str(rec.ValueByKey("field_id")),
			SensorID:    str(rec.ValueByKey("sensor_id")),
			Moisture:    num(rec.ValueByKey("moisture")),
			Humidity:    num(rec.ValueByKey("humidity")),
			Temperature: num(rec.ValueByKey("temperature")),
			Samples:     int(num(rec.ValueByKey("samples"))),
			Aggregated:  true,
			Timestamp:   rec.Time().UTC(),
		}
		k := sd.FieldID + "|" + sd.SensorID
		if prev, ok := byKey[k]; !ok || sd.Timestamp.After(prev.Timestamp) {
			byKey[k] = sd
		}
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("influx iterate: %w", err)
	}
	out := make([]model.SensorData, 0, len(byKey))
	for _, v := range byKey {
		out = append(out, v)
	}
	sortReadings(out)
	return out, nil
}

func sortReadings(out []model.SensorData) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].FieldID != out[j].FieldID {
			return out[i].FieldID < out[j].FieldID
		}
		return out[i].SensorID < out[j].SensorID
	})
}

func num(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	}
	return 0
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func sanitizeMeasurement(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
