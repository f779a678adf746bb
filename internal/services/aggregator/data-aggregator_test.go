package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/metrics"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq/rabbitmqtest"
)

type fakeConsumer struct{ handler rabbitmq.Handler }

func (f *fakeConsumer) ConsumeMessage(ctx context.Context) { <-ctx.Done() }
func (f *fakeConsumer) SetHandler(h rabbitmq.Handler)      { f.handler = h }

func TestAverage(t *testing.T) {
	out := Average([]model.SensorData{
		{FieldID: "field1", SensorID: "sensor1", Moisture: 30, Humidity: 50, Temperature: 24},
		{FieldID: "field1", SensorID: "sensor1", Moisture: 31, Humidity: 55, Temperature: 25},
		{FieldID: "field1", SensorID: "sensor1", Moisture: 33, Humidity: 60, Temperature: 25},
	})
	assert.Equal(t, "field1", out.FieldID)
	assert.Equal(t, "sensor1", out.SensorID)
	assert.Equal(t, 31.3, out.Moisture)
	assert.Equal(t, 55.0, out.Humidity)
	assert.Equal(t, 24.7, out.Temperature)
	assert.Equal(t, 3, out.Samples)
	assert.True(t, out.Aggregated)
}

func TestAggregateAndPublish(t *testing.T) {
	cons := &fakeConsumer{}
	pub := &rabbitmqtest.Publisher{}
	m := metrics.New()
	now := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	svc := NewDataAggregatorService(cons, pub, time.Minute).WithMetrics(m)
	svc.now = func() time.Time { return now }

	send := func(topic string, sd model.SensorData) {
		require.NoError(t, cons.handler("sensor/data/#", rabbitmqtest.NewMessage(topic, sd)))
	}
	send("sensor/data/field1/sensor1", model.SensorData{FieldID: "field1", SensorID: "sensor1", Moisture: 40})
	send("sensor/data/field1/sensor1", model.SensorData{FieldID: "field1", SensorID: "sensor1", Moisture: 42})
	// ids taken from the topic
	send("sensor/data/field2/sensor1", model.SensorData{Moisture: 70})
	require.NoError(t, cons.handler("", rabbitmqtest.NewMessage("sensor/data/field1/sensor1", "garbage")))
	send("elsewhere", model.SensorData{Moisture: 1})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Readings.WithLabelValues("raw")))
	assert.Equal(t, 2, svc.AggregateAndPublish())

	byTopic := map[string]model.SensorData{}
	for i, p := range pub.Sent() {
		var sd model.SensorData
		require.NoError(t, pub.Decode(i, &sd))
		assert.Equal(t, byte(1), p.QoS)
		byTopic[p.Topic] = sd
	}
	f1 := byTopic["sensor/aggregated/field1/sensor1"]
	assert.Equal(t, 41.0, f1.Moisture)
	assert.Equal(t, 2, f1.Samples)
	assert.True(t, f1.Aggregated)
	assert.True(t, f1.Timestamp.Equal(now))
	assert.Equal(t, 70.0, byTopic["sensor/aggregated/field2/sensor1"].Moisture)

	// buffer is emptied after each cycle
	assert.Equal(t, 0, svc.AggregateAndPublish())
}

func TestPublishFailureIsNotCounted(t *testing.T) {
	cons := &fakeConsumer{}
	pub := &rabbitmqtest.Publisher{Err: assert.AnError}
	svc := NewDataAggregatorService(cons, pub, 0).WithTopic("agg/{field}/{sensor}")
	require.NoError(t, cons.handler("", rabbitmqtest.NewMessage("sensor/data/f/s", model.SensorData{Moisture: 1})))
	assert.Equal(t, 0, svc.AggregateAndPublish())
}

func TestStartClosesPublisher(t *testing.T) {
	pub := &rabbitmqtest.Publisher{}
	svc := NewDataAggregatorService(&fakeConsumer{}, pub, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	<-done
	assert.True(t, pub.Closed)
}
