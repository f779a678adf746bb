package device

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/crop"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/metrics"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq/rabbitmqtest"
)

type fakeConsumer struct {
	handler rabbitmq.Handler
	started atomic.Bool
}

func (f *fakeConsumer) ConsumeMessage(ctx context.Context) {
	f.started.Store(true)
	<-ctx.Done()
}
func (f *fakeConsumer) SetHandler(h rabbitmq.Handler) { f.handler = h }

func registry() model.Registry {
	return model.Registry{"field1": {ID: "field1", Plantings: map[string]model.Planting{
		"sensor1": {Sensor: model.Sensor{FieldID: "field1", ID: "sensor1", FlowMLMin: 400}, Crop: crop.Tomato},
	}}}
}

func newService(t *testing.T, tick time.Duration) (*DeviceService, *fakeConsumer, *rabbitmqtest.Publisher, *metrics.Metrics) {
	t.Helper()
	dec := &fakeConsumer{}
	pub := &rabbitmqtest.Publisher{}
	m := metrics.New()
	d, err := NewDeviceService(Options{
		DecisionConsumer:  dec,
		HeartbeatConsumer: &fakeConsumer{},
		Publisher:         pub,
		Plantings:         registry(),
		Tick:              tick,
		Step:              30 * time.Second,
		OfflineGrace:      5 * time.Millisecond,
		Metrics:           m,
	})
	require.NoError(t, err)
	return d, dec, pub, m
}

func decision(id string, level, totalML float64) *rabbitmqtest.Message {
	return rabbitmqtest.NewMessage("event/irrigationDecision/field1/sensor1", model.IrrigationDecisionEvent{
		DecisionID: id, FieldID: "field1", SensorID: "sensor1", Level: level, TotalML: totalML,
	})
}

func heartbeat(t *testing.T, d *DeviceService) {
	t.Helper()
	require.NoError(t, d.OnSensorData("", rabbitmqtest.NewMessage("sensor/data/field1/sensor1", "{}")))
}

func TestValveRunDeliversVolume(t *testing.T) {
	d, dec, pub, m := newService(t, time.Millisecond)
	heartbeat(t, d)

	require.NoError(t, dec.handler("", decision("d1", 50, 600)))
	d.Wait()

	sent := pub.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "event/StateChange/field1/sensor1", sent[0].Topic)
	assert.Equal(t, "event/StateChange/field1/sensor1", sent[1].Topic)
	assert.Equal(t, "event/irrigationResult/field1/sensor1", sent[2].Topic)

	var on, off model.StateChangeEvent
	require.NoError(t, pub.Decode(0, &on))
	require.NoError(t, pub.Decode(1, &off))
	assert.Equal(t, model.StateOn, on.NewState)
	assert.Equal(t, 90*time.Second, on.Duration)
	assert.Equal(t, model.StateOff, off.NewState)

	var res model.IrrigationResultEvent
	require.NoError(t, pub.Decode(2, &res))
	assert.Equal(t, model.ResultOK, res.Status)
	assert.Equal(t, ReasonDone, res.Reason)
	assert.Equal(t, "d1", res.DecisionID)
	assert.NotEmpty(t, res.TicketID)
	assert.InDelta(t, 600, res.MLApplied, 1e-9)
	assert.InDelta(t, 50, res.LevelApplied, 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Results.WithLabelValues(model.ResultOK, ReasonDone)))
}

func TestValveRunFailsWhenSensorSilent(t *testing.T) {
	d, dec, pub, _ := newService(t, time.Millisecond)

	require.NoError(t, dec.handler("", decision("d1", 50, 600)))
	d.Wait()

	var res model.IrrigationResultEvent
	require.NoError(t, pub.Decode(len(pub.Sent())-1, &res))
	assert.Equal(t, model.ResultFail, res.Status)
	assert.Equal(t, ReasonOffline, res.Reason)
	assert.Equal(t, 0.0, res.MLApplied)
	assert.Equal(t, 0.0, res.LevelApplied)
}

func TestDecisionsThatNeedNoValve(t *testing.T) {
	d, dec, pub, _ := newService(t, time.Millisecond)
	heartbeat(t, d)

	require.NoError(t, dec.handler("", decision("zero", 0, 0)))
	require.NoError(t, dec.handler("", rabbitmqtest.NewMessage("event/irrigationDecision/field9/sensor1",
		model.IrrigationDecisionEvent{DecisionID: "x", Level: 40, TotalML: 100})))
	require.NoError(t, dec.handler("", rabbitmqtest.NewMessage("event/irrigationDecision/field1/sensor1", "nope")))
	d.Wait()
	assert.Empty(t, pub.Sent())
}

func TestBusyValveAndShutdown(t *testing.T) {
	d, dec, pub, m := newService(t, time.Hour)
	heartbeat(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()
	require.Eventually(t, dec.started.Load, time.Second, time.Millisecond)

	require.NoError(t, dec.handler("", decision("d1", 80, 1200)))
	require.NoError(t, dec.handler("", decision("d1", 80, 1200)))
	require.NoError(t, dec.handler("", decision("d2", 80, 1200)))
	assert.Len(t, pub.Sent(), 1)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}

	var res model.IrrigationResultEvent
	require.NoError(t, pub.Decode(2, &res))
	assert.Equal(t, ReasonShutdown, res.Reason)
	assert.Equal(t, model.ResultFail, res.Status)
	assert.True(t, pub.Closed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Results.WithLabelValues(model.ResultFail, ReasonShutdown)))
}

func TestDecisionAfterStopIsDropped(t *testing.T) {
	d, dec, pub, _ := newService(t, time.Millisecond)
	heartbeat(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()
	require.Eventually(t, dec.started.Load, time.Second, time.Millisecond)
	cancel()
	<-done

	// a late broker callback after Start returned
	require.NoError(t, dec.handler("", decision("late", 80, 1200)))
	d.Wait()
	assert.Empty(t, pub.Sent())
}

func TestLiveness(t *testing.T) {
	now := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	d, err := NewDeviceService(Options{
		DecisionConsumer: &fakeConsumer{},
		Publisher:        &rabbitmqtest.Publisher{},
		Plantings:        registry(),
		LivenessTTL:      time.Minute,
		Now:              func() time.Time { return now },
	})
	require.NoError(t, err)

	assert.False(t, d.FieldLive("field1"))
	heartbeat(t, d)
	assert.True(t, d.IsLive("field1", "sensor1"))
	assert.True(t, d.FieldLive("field1"))
	assert.False(t, d.FieldLive("field2"))

	now = now.Add(2 * time.Minute)
	assert.False(t, d.FieldLive("field1"))

	require.NoError(t, d.OnSensorData("", rabbitmqtest.NewMessage("sensor/data", "{}")))
}

func TestHealthReporter(t *testing.T) {
	h := NewHealthReporter([]string{"field1", "field2"}, time.Millisecond)
	ctx := context.Background()

	status := func(field string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := h.Server().Check(ctx, &healthpb.HealthCheckRequest{Service: field})
		require.NoError(t, err)
		return resp.GetStatus()
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status("field1"))

	h.Refresh(func(f string) bool { return f == "field1" })
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status("field1"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status("field2"))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		h.Run(runCtx, func(string) bool { return true })
		close(done)
	}()
	require.Eventually(t, func() bool {
		return status("field2") == healthpb.HealthCheckResponse_SERVING
	}, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status("field1"))
}

func TestNewDeviceServiceValidates(t *testing.T) {
	_, err := NewDeviceService(Options{})
	assert.Error(t, err)
	_, err = NewDeviceService(Options{DecisionConsumer: &fakeConsumer{}, Publisher: &rabbitmqtest.Publisher{}})
	assert.Error(t, err)
}
