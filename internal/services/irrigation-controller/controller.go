package irrigation_controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/advisor"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/forecast"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/dedup"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/metrics"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq"
)

const (
	defaultDecisionTopic = "event/irrigationDecision/{field}/{sensor}"
	defaultCooldown      = 10 * time.Minute
	forecastTimeout      = 5 * time.Second
	deviceTimeout        = 3 * time.Second
)

// Options wires a Controller. Consumer, Publisher and Plantings are required.
type Options struct {
	Consumer       rabbitmq.IConsumer
	ResultConsumer rabbitmq.IConsumer
	Publisher      rabbitmq.IPublisher
	Router         DeviceRouter
	Forecast       forecast.Provider
	Plantings      model.Registry

	DecisionTopic string
	TZ            *time.Location
	// Cooldown is the minimum quiet period after an actionable decision.
	Cooldown time.Duration

	Metrics *metrics.Metrics
	Logger  *zap.SugaredLogger
	Now     func() time.Time
}

// Controller turns aggregated readings into irrigation decisions.
type Controller struct {
	consumer       rabbitmq.IConsumer
	resultConsumer rabbitmq.IConsumer
	publisher      rabbitmq.IPublisher
	router         DeviceRouter
	forecast       forecast.Provider
	plantings      model.Registry

	decisionTopic string
	cooldown      time.Duration
	history       *History

	// valve busy windows, key = field|sensor
	wateringMu    sync.Mutex
	wateringUntil map[string]time.Time

	deduper *dedup.Deduper
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewController(o Options) (*Controller, error) {
	if o.Consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	if o.Publisher == nil {
		return nil, errors.New("publisher is nil")
	}
	if len(o.Plantings) == 0 {
		return nil, errors.New("no plantings configured")
	}
	if o.Router == nil {
		o.Router = openRouter{}
	}
	if o.Forecast == nil {
		o.Forecast = forecast.Static(forecast.Fallback())
	}
	if o.DecisionTopic == "" {
		o.DecisionTopic = defaultDecisionTopic
	}
	if o.Cooldown <= 0 {
		o.Cooldown = defaultCooldown
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	c := &Controller{
		consumer:       o.Consumer,
		resultConsumer: o.ResultConsumer,
		publisher:      o.Publisher,
		router:         o.Router,
		forecast:       o.Forecast,
		plantings:      o.Plantings,
		decisionTopic:  o.DecisionTopic,
		cooldown:       o.Cooldown,
		history:        NewHistory(o.TZ),
		wateringUntil:  make(map[string]time.Time),
		deduper:        dedup.New(10*time.Minute, 20000),
		metrics:        o.Metrics,
		log:            logging.OrNop(o.Logger),
		now:            o.Now,
	}
	c.consumer.SetHandler(c.handleAggregated)
	if c.resultConsumer != nil {
		c.resultConsumer.SetHandler(c.handleResult)
	}
	return c, nil
}

// Start consumes until ctx is cancelled.
func (c *Controller) Start(ctx context.Context) {
	go c.consumer.ConsumeMessage(ctx)
	if c.resultConsumer != nil {
		go c.resultConsumer.ConsumeMessage(ctx)
	}
	<-ctx.Done()
}

// History exposes the applied irrigation per sensor.
func (c *Controller) History() *History { return c.history }

func (c *Controller) handleAggregated(_ string, msg mqtt.Message) error {
	if !c.deduper.ShouldProcessPayload(msg.Payload()) {
		return nil
	}

	var s model.SensorData
	if err := json.Unmarshal(msg.Payload(), &s); err != nil {
		c.log.Warnw("bad aggregated payload", "topic", msg.Topic(), "error", err)
		return nil
	}
	if !s.Aggregated {
		return nil
	}
	if s.FieldID == "" || s.SensorID == "" {
		s.FieldID, s.SensorID = rabbitmq.TopicIDs(msg.Topic(), "sensor/aggregated")
	}
	c.metrics.Readings.WithLabelValues("aggregated").Inc()

	p, err := c.plantings.Lookup(s.FieldID, s.SensorID)
	if err != nil {
		c.log.Warnw("reading for unknown planting", "field", s.FieldID, "sensor", s.SensorID)
		return nil
	}

	now := c.now()
	k := key(p.FieldID, p.ID)
	if until, busy := c.busyUntil(k, now); busy {
		c.log.Debugw("valve running, evaluation skipped", "field", p.FieldID, "sensor", p.ID, "until", until)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), forecastTimeout)
	defer cancel()
	evt := c.decide(ctx, p, s, now)

	if evt.Actionable() {
		rctx, rcancel := context.WithTimeout(context.Background(), deviceTimeout)
		ready, rerr := c.router.Ready(rctx, p.FieldID)
		rcancel()
		if !ready {
			c.metrics.DevicesUnready.WithLabelValues(p.FieldID).Inc()
			c.log.Warnw("device not serving, decision held back",
				"field", p.FieldID, "sensor", p.ID, "level", evt.Level, "error", rerr)
			return nil
		}
	}

	if err := c.publishDecision(evt); err != nil {
		return err
	}
	if evt.Actionable() {
		c.markBusy(k, now.Add(maxDuration(p.ValveDuration(evt.TotalML), c.cooldown)))
	}
	return nil
}

// decide runs the advisor pipeline for one aggregated reading.
func (c *Controller) decide(ctx context.Context, p model.Planting, s model.SensorData, now time.Time) model.IrrigationDecisionEvent {
	fc := c.forecast.RainChance(ctx, p.Location())
	if fc.Fallback {
		c.metrics.ForecastFallbacks.Inc()
	}

	days := p.DaysSincePlanting(now)
	history := c.history.Window(key(p.FieldID, p.ID), now)
	in := advisor.SensorInputs{
		SoilMoisture: s.Moisture,
		Humidity:     s.Humidity,
		Temperature:  s.Temperature,
		RainForecast: fc.RainChance,
	}
	health, dec := advisor.Evaluate(in, history, p.Crop, days)

	c.metrics.Decisions.WithLabelValues(string(dec.Label)).Inc()
	c.metrics.DecisionLevel.Observe(dec.Level)
	if dec.Safety.Overridden() {
		c.metrics.Overrides.WithLabelValues(string(dec.Safety)).Inc()
	}

	c.log.Infow("decision",
		"field", p.FieldID, "sensor", p.ID, "crop", p.Crop, "stage", dec.Stage, "days", days,
		"moisture", s.Moisture, "humidity", s.Humidity, "temperature", s.Temperature,
		"rain_chance", fc.RainChance, "history", history,
		"health", health.Score, "raw", dec.RawLevel, "level", dec.Level,
		"label", dec.Label, "risk", dec.Risk, "safety", dec.Safety, "total_ml", dec.TotalML)

	return newDecisionEvent(p, s, in, fc, advisor.RecentIrrigationScore(history), days, health, dec, now)
}

func newDecisionEvent(p model.Planting, s model.SensorData, in advisor.SensorInputs, fc forecast.Forecast,
	recent float64, days int, health advisor.HealthAssessment, dec advisor.Decision, now time.Time) model.IrrigationDecisionEvent {
	return model.IrrigationDecisionEvent{
		DecisionID:        uuid.NewString(),
		FieldID:           p.FieldID,
		SensorID:          p.ID,
		Crop:              p.Crop.String(),
		Stage:             string(dec.Stage),
		DaysSincePlanting: days,
		SoilMoisture:      in.SoilMoisture,
		Humidity:          in.Humidity,
		Temperature:       in.Temperature,
		RainChance:        fc.RainChance,
		ForecastFallback:  fc.Fallback,
		RecentIrrigation:  recent,
		PlantHealth:       health.Score,
		HealthStatus:      string(health.Status),
		Issues:            health.Issues,
		RawLevel:          dec.RawLevel,
		Level:             dec.Level,
		Label:             string(dec.Label),
		Risk:              string(dec.Risk),
		Safety:            string(dec.Safety),
		MLPerPlant:        dec.MLPerPlant,
		TotalML:           dec.TotalML,
		TotalLiters:       dec.TotalLiters,
		VolumeFallback:    dec.Fallback,
		Timestamp:         now.UTC(),
	}
}

func (c *Controller) publishDecision(evt model.IrrigationDecisionEvent) error {
	topic := rabbitmq.FormatTopic(c.decisionTopic, evt.FieldID, evt.SensorID)
	if err := c.publisher.PublishToQos(topic, 1, false, evt); err != nil {
		c.log.Errorw("publish decision failed", "topic", topic, "error", err)
		return fmt.Errorf("publish decision: %w", err)
	}
	c.log.Debugw("decision published", "topic", topic, "decision_id", evt.DecisionID)
	return nil
}

// handleResult folds the delivered level into the history and frees the valve.
func (c *Controller) handleResult(_ string, msg mqtt.Message) error {
	if !c.deduper.ShouldProcessPayload(msg.Payload()) {
		return nil
	}
	var r model.IrrigationResultEvent
	if err := json.Unmarshal(msg.Payload(), &r); err != nil {
		c.log.Warnw("bad result payload", "topic", msg.Topic(), "error", err)
		return nil
	}
	if r.FieldID == "" || r.SensorID == "" {
		r.FieldID, r.SensorID = rabbitmq.TopicIDs(msg.Topic(), "event/irrigationResult")
	}
	at := r.StartedAt
	if at.IsZero() {
		at = r.Timestamp
	}
	if at.IsZero() {
		at = c.now()
	}

	k := key(r.FieldID, r.SensorID)
	c.history.Add(k, at, r.LevelApplied)
	c.clearBusy(k)
	c.log.Infow("irrigation result",
		"field", r.FieldID, "sensor", r.SensorID, "status", r.Status, "reason", r.Reason,
		"level_applied", r.LevelApplied, "ml_applied", r.MLApplied)
	return nil
}

func (c *Controller) busyUntil(k string, now time.Time) (time.Time, bool) {
	c.wateringMu.Lock()
	defer c.wateringMu.Unlock()
	until, ok := c.wateringUntil[k]
	return until, ok && now.Before(until)
}

func (c *Controller) markBusy(k string, until time.Time) {
	c.wateringMu.Lock()
	if prev, ok := c.wateringUntil[k]; !ok || until.After(prev) {
		c.wateringUntil[k] = until
	}
	c.wateringMu.Unlock()
}

func (c *Controller) clearBusy(k string) {
	c.wateringMu.Lock()
	delete(c.wateringUntil, k)
	c.wateringMu.Unlock()
}

func key(fid, sid string) string { return fid + "|" + sid }

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
