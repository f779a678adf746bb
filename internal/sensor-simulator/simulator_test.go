package sensor_simulator

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq/rabbitmqtest"
)

type fakeConsumer struct{ handler rabbitmq.Handler }

func (f *fakeConsumer) ConsumeMessage(ctx context.Context) { <-ctx.Done() }
func (f *fakeConsumer) SetHandler(h rabbitmq.Handler)      { f.handler = h }

var t0 = time.Date(2025, 7, 1, 14, 0, 0, 0, time.UTC)

func quietGenerator(decay float64) *DataGenerator {
	return NewDataGenerator(decay).WithRand(rand.New(rand.NewSource(1)), 0)
}

func TestGeneratorMoistureDynamics(t *testing.T) {
	g := quietGenerator(0.001).WithSeed(0.5)
	s := &model.Sensor{FieldID: "field1", ID: "sensor1", State: model.StateOff}

	first := g.Next(s, t0)
	assert.Equal(t, 50.0, first.Moisture)
	assert.False(t, first.Aggregated)
	assert.Equal(t, "field1", first.FieldID)

	// 100 minutes off: -10 points
	assert.Equal(t, 40.0, g.Next(s, t0.Add(100*time.Minute)).Moisture)

	// 50 minutes on: +30 points
	s.State = model.StateOn
	assert.Equal(t, 70.0, g.Next(s, t0.Add(150*time.Minute)).Moisture)

	// clock going backwards changes nothing
	assert.Equal(t, 70.0, g.Next(s, t0).Moisture)
}

func TestGeneratorClampsAndBoost(t *testing.T) {
	g := quietGenerator(0.5).WithSeed(0.1)
	g.ApplyIrrigation(10 * time.Minute)
	s := &model.Sensor{State: model.StateOff}
	assert.Equal(t, 16.0, g.Next(s, t0).Moisture)
	assert.Equal(t, 0.0, g.Next(s, t0.Add(time.Hour)).Moisture)

	s.State = model.StateOn
	assert.Equal(t, 100.0, g.Next(s, t0.Add(1000*time.Hour)).Moisture)
}

func TestGeneratorDailyCycle(t *testing.T) {
	g := quietGenerator(0)
	s := &model.Sensor{}
	afternoon := g.Next(s, t0)
	night := g.Next(s, t0.Add(12*time.Hour))

	assert.Equal(t, 31.0, afternoon.Temperature)
	assert.Equal(t, 50.0, afternoon.Humidity)
	assert.Equal(t, 21.0, night.Temperature)
	assert.Equal(t, 80.0, night.Humidity)
}

func TestSimulatorPublishesAndFollowsValve(t *testing.T) {
	cons := &fakeConsumer{}
	pub := &rabbitmqtest.Publisher{}
	sensor := &model.Sensor{FieldID: "field1", ID: "sensor1", State: model.StateOff}
	sim := NewSensorSimulator(cons, pub, quietGenerator(0), sensor)
	sim.now = func() time.Time { return t0 }

	require.NoError(t, sim.PublishReading())
	sent := pub.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "sensor/data/field1/sensor1", sent[0].Topic)
	assert.Equal(t, byte(0), sent[0].QoS)

	on := model.StateChangeEvent{FieldID: "field1", SensorID: "sensor1", NewState: model.StateOn, Duration: 20 * time.Millisecond, Timestamp: t0}
	require.NoError(t, cons.handler("", rabbitmqtest.NewMessage("event/StateChange/field1/sensor1", on)))
	assert.Equal(t, model.StateOn, sim.State())

	// timed ON reverts by itself
	require.Eventually(t, func() bool { return sim.State() == model.StateOff }, time.Second, 5*time.Millisecond)

	other := on
	other.SensorID = "sensor2"
	other.Timestamp = t0.Add(time.Second)
	require.NoError(t, cons.handler("", rabbitmqtest.NewMessage("event/StateChange/field1/sensor2", other)))
	assert.Equal(t, model.StateOff, sim.State())

	require.NoError(t, cons.handler("", rabbitmqtest.NewMessage("event/StateChange/field1/sensor1", "nope")))
}

func TestSimulatorExplicitOff(t *testing.T) {
	cons := &fakeConsumer{}
	sim := NewSensorSimulator(cons, &rabbitmqtest.Publisher{}, quietGenerator(0), &model.Sensor{FieldID: "f", ID: "s"})

	on := model.StateChangeEvent{SensorID: "s", NewState: model.StateOn, Duration: time.Hour, Timestamp: t0}
	off := model.StateChangeEvent{SensorID: "s", NewState: model.StateOff, Timestamp: t0.Add(time.Minute)}
	require.NoError(t, cons.handler("", rabbitmqtest.NewMessage("x", on)))
	assert.Equal(t, model.StateOn, sim.State())
	require.NoError(t, cons.handler("", rabbitmqtest.NewMessage("x", off)))
	assert.Equal(t, model.StateOff, sim.State())
}

func TestSimulatorStartStops(t *testing.T) {
	pub := &rabbitmqtest.Publisher{}
	sim := NewSensorSimulator(&fakeConsumer{}, pub, quietGenerator(0), &model.Sensor{FieldID: "f", ID: "s"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sim.Start(ctx, time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(pub.Sent()) > 0 }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.True(t, pub.Closed)
}
