package device

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/dedup"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/metrics"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq"
)

const (
	defaultStateTopic  = "event/StateChange/{field}/{sensor}"
	defaultResultTopic = "event/irrigationResult/{field}/{sensor}"

	ReasonDone     = "done"
	ReasonOffline  = "offline"
	ReasonShutdown = "shutdown"
)

// Options wires a DeviceService. DecisionConsumer, Publisher and Plantings are required.
type Options struct {
	DecisionConsumer  rabbitmq.IConsumer
	HeartbeatConsumer rabbitmq.IConsumer
	Publisher         rabbitmq.IPublisher
	Plantings         model.Registry
	Health            *HealthReporter

	StateTopic  string
	ResultTopic string

	// Tick is the real interval between valve steps; Step is the simulated
	// valve time each tick stands for. Step > Tick fast-forwards a run.
	Tick time.Duration
	Step time.Duration

	LivenessTTL  time.Duration
	OfflineGrace time.Duration

	Metrics *metrics.Metrics
	Logger  *zap.SugaredLogger
	Now     func() time.Time
}

// DeviceService drives the valves: it turns actionable decisions into a valve
// run and reports how much water was actually delivered.
type DeviceService struct {
	decisions  rabbitmq.IConsumer
	heartbeats rabbitmq.IConsumer
	publisher  rabbitmq.IPublisher
	plantings  model.Registry
	health     *HealthReporter

	stateTopic  string
	resultTopic string
	tick, step  time.Duration
	ttl, grace  time.Duration

	mu       sync.Mutex
	running  map[string]struct{} // field|sensor
	lastSeen map[string]time.Time
	wg       sync.WaitGroup
	ctx      context.Context

	deduper *dedup.Deduper
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewDeviceService(o Options) (*DeviceService, error) {
	if o.DecisionConsumer == nil || o.Publisher == nil {
		return nil, errors.New("decision consumer and publisher are required")
	}
	if len(o.Plantings) == 0 {
		return nil, errors.New("no plantings configured")
	}
	if o.StateTopic == "" {
		o.StateTopic = defaultStateTopic
	}
	if o.ResultTopic == "" {
		o.ResultTopic = defaultResultTopic
	}
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	if o.Step <= 0 {
		o.Step = o.Tick
	}
	if o.LivenessTTL <= 0 {
		o.LivenessTTL = 60 * time.Second
	}
	if o.OfflineGrace <= 0 {
		o.OfflineGrace = 5 * time.Second
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	d := &DeviceService{
		decisions:   o.DecisionConsumer,
		heartbeats:  o.HeartbeatConsumer,
		publisher:   o.Publisher,
		plantings:   o.Plantings,
		health:      o.Health,
		stateTopic:  o.StateTopic,
		resultTopic: o.ResultTopic,
		tick:        o.Tick,
		step:        o.Step,
		ttl:         o.LivenessTTL,
		grace:       o.OfflineGrace,
		running:     make(map[string]struct{}),
		lastSeen:    make(map[string]time.Time),
		ctx:         context.Background(),
		deduper:     dedup.New(30*time.Minute, 10000),
		metrics:     o.Metrics,
		log:         logging.OrNop(o.Logger),
		now:         o.Now,
	}
	d.decisions.SetHandler(d.OnDecision)
	if d.heartbeats != nil {
		d.heartbeats.SetHandler(d.OnSensorData)
	}
	return d, nil
}

// Start consumes until ctx is cancelled, then waits for running valves to close.
func (d *DeviceService) Start(ctx context.Context) {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()

	defer d.publisher.Close()
	if d.heartbeats != nil {
		go d.heartbeats.ConsumeMessage(ctx)
	}
	if d.health != nil {
		go d.health.Run(ctx, d.FieldLive)
	}
	d.decisions.ConsumeMessage(ctx)
	d.Wait()
}

// Wait blocks until every valve run has reported its result.
func (d *DeviceService) Wait() { d.wg.Wait() }

// OnSensorData records an implicit heartbeat from sensor/data/{field}/{sensor}.
func (d *DeviceService) OnSensorData(_ string, m mqtt.Message) error {
	fid, sid := rabbitmq.TopicIDs(m.Topic(), "sensor/data")
	if fid == "" || sid == "" {
		return nil
	}
	d.mu.Lock()
	d.lastSeen[fid+"|"+sid] = d.now()
	d.mu.Unlock()
	return nil
}

// IsLive reports whether the sensor sent data within the liveness TTL.
func (d *DeviceService) IsLive(fieldID, sensorID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen, ok := d.lastSeen[fieldID+"|"+sensorID]
	return ok && d.now().Sub(seen) < d.ttl
}

// FieldLive reports whether any sensor of the field is live.
func (d *DeviceService) FieldLive(fieldID string) bool {
	f, ok := d.plantings[fieldID]
	if !ok {
		return false
	}
	for id := range f.Plantings {
		if d.IsLive(fieldID, id) {
			return true
		}
	}
	return false
}

// OnDecision starts a valve run for an actionable decision.
func (d *DeviceService) OnDecision(_ string, m mqtt.Message) error {
	var evt model.IrrigationDecisionEvent
	if err := json.Unmarshal(m.Payload(), &evt); err != nil {
		d.log.Warnw("bad decision payload", "topic", m.Topic(), "error", err)
		return nil
	}
	if evt.FieldID == "" || evt.SensorID == "" {
		evt.FieldID, evt.SensorID = rabbitmq.TopicIDs(m.Topic(), "event/irrigationDecision")
	}
	if !d.deduper.ShouldProcess(evt.DecisionID) {
		return nil
	}
	if !evt.Actionable() {
		d.log.Debugw("decision needs no water", "field", evt.FieldID, "sensor", evt.SensorID,
			"level", evt.Level, "safety", evt.Safety)
		return nil
	}

	p, err := d.plantings.Lookup(evt.FieldID, evt.SensorID)
	if err != nil {
		d.log.Warnw("decision for unknown valve", "field", evt.FieldID, "sensor", evt.SensorID)
		return nil
	}

	k := evt.FieldID + "|" + evt.SensorID
	d.mu.Lock()
	// once stopping, Start may already be in Wait: no new runs after that
	if d.ctx.Err() != nil {
		d.mu.Unlock()
		d.log.Infow("stopping, decision dropped", "field", evt.FieldID, "sensor", evt.SensorID,
			"decision_id", evt.DecisionID)
		return nil
	}
	if _, busy := d.running[k]; busy {
		d.mu.Unlock()
		d.log.Infow("valve already running, decision dropped", "field", evt.FieldID, "sensor", evt.SensorID,
			"decision_id", evt.DecisionID)
		return nil
	}
	d.running[k] = struct{}{}
	ctx := d.ctx
	d.wg.Add(1)
	d.mu.Unlock()

	duration := p.ValveDuration(evt.TotalML)
	if err := d.publishState(evt.FieldID, evt.SensorID, model.StateOn, duration); err != nil {
		d.finish(k)
		return err
	}
	d.log.Infow("valve opened", "field", evt.FieldID, "sensor", evt.SensorID,
		"total_ml", evt.TotalML, "duration", duration, "decision_id", evt.DecisionID)

	go d.run(ctx, k, p, evt, duration)
	return nil
}

// run advances the valve until the volume is delivered, the sensor goes
// silent or the service stops. It always closes the valve and reports.
func (d *DeviceService) run(ctx context.Context, k string, p model.Planting, evt model.IrrigationDecisionEvent, duration time.Duration) {
	defer d.finish(k)

	started := d.now()
	flow := p.FlowMLMin
	if flow <= 0 {
		flow = model.DefaultFlowMLMin
	}
	applied := 0.0
	status, reason := model.ResultOK, ReasonDone

	tick := time.NewTicker(d.tick)
	defer tick.Stop()

loop:
	for elapsed := time.Duration(0); elapsed < duration; {
		select {
		case <-ctx.Done():
			status, reason = model.ResultFail, ReasonShutdown
			break loop
		case <-tick.C:
		}
		if !d.IsLive(p.FieldID, p.ID) && !d.waitAlive(ctx, p.FieldID, p.ID) {
			status, reason = model.ResultFail, ReasonOffline
			break
		}
		elapsed += d.step
		applied += flow * d.step.Minutes()
		if applied >= evt.TotalML {
			applied = evt.TotalML
			break
		}
	}

	res := model.IrrigationResultEvent{
		FieldID:      p.FieldID,
		SensorID:     p.ID,
		TicketID:     uuid.NewString(),
		DecisionID:   evt.DecisionID,
		Status:       status,
		Level:        evt.Level,
		LevelApplied: evt.Level * applied / evt.TotalML,
		MLApplied:    applied,
		Reason:       reason,
		StartedAt:    started.UTC(),
		Timestamp:    d.now().UTC(),
	}
	if err := d.publishState(p.FieldID, p.ID, model.StateOff, 0); err != nil {
		d.log.Errorw("valve close not published", "field", p.FieldID, "sensor", p.ID, "error", err)
	}
	d.publishResult(res)
}

func (d *DeviceService) waitAlive(ctx context.Context, fieldID, sensorID string) bool {
	deadline := time.NewTimer(d.grace)
	defer deadline.Stop()
	poll := time.NewTicker(minDuration(200*time.Millisecond, d.grace))
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return d.IsLive(fieldID, sensorID)
		case <-poll.C:
			if d.IsLive(fieldID, sensorID) {
				return true
			}
		}
	}
}

func (d *DeviceService) finish(k string) {
	d.mu.Lock()
	delete(d.running, k)
	d.mu.Unlock()
	d.wg.Done()
}

func (d *DeviceService) publishState(fieldID, sensorID string, state model.SensorState, duration time.Duration) error {
	evt := model.StateChangeEvent{
		FieldID:   fieldID,
		SensorID:  sensorID,
		NewState:  state,
		Duration:  duration,
		Timestamp: d.now().UTC(),
	}
	return d.publisher.PublishToQos(rabbitmq.FormatTopic(d.stateTopic, fieldID, sensorID), 1, false, evt)
}

func (d *DeviceService) publishResult(res model.IrrigationResultEvent) {
	d.metrics.Results.WithLabelValues(res.Status, res.Reason).Inc()
	topic := rabbitmq.FormatTopic(d.resultTopic, res.FieldID, res.SensorID)
	if err := d.publisher.PublishToQos(topic, 1, false, res); err != nil {
		d.log.Errorw("publish result failed", "topic", topic, "error", err)
		return
	}
	d.log.Infow("irrigation finished", "field", res.FieldID, "sensor", res.SensorID,
		"status", res.Status, "reason", res.Reason, "ml_applied", res.MLApplied, "level_applied", res.LevelApplied)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
