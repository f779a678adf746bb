package event

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	msg "github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model/messages"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/dedup"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq"
)

const (
	TypeDecision    = "irrigation.decision"
	TypeStateChange = "device.state_change"
	TypeResult      = "irrigation.result"

	SeverityInfo    = "info"
	SeverityWarning = "warning"

	safetyNone = "no-concern"
)

var errMissingIDs = errors.New("missing field/sensor")

type CommonEvent struct {
	EventType     string // irrigation.decision | device.state_change | irrigation.result
	SourceService string // irrigation-controller | device-service
	FieldID       string
	SensorID      string
	Severity      string // info|warning
	Fields        map[string]interface{}
	Timestamp     time.Time
}

// MQTTHandler turns MQTT messages into CommonEvents and hands them to sink.
type MQTTHandler struct {
	sink    func(CommonEvent)
	deduper *dedup.Deduper
	log     *zap.SugaredLogger
}

func NewMQTTHandler(sink func(CommonEvent), log *zap.SugaredLogger) *MQTTHandler {
	return &MQTTHandler{sink: sink, deduper: dedup.New(10*time.Minute, 20000), log: logging.OrNop(log)}
}

func (h *MQTTHandler) Handle(_ string, m mqtt.Message) error {
	topic := m.Topic()
	payload := m.Payload()

	var (
		evt CommonEvent
		err error
	)
	switch {
	case strings.HasPrefix(topic, "event/irrigationDecision/"):
		// QoS1 redeliveries carry the same payload
		if !h.deduper.ShouldProcessPayload(payload) {
			return nil
		}
		evt, err = decodeDecision(topic, payload)
	case strings.HasPrefix(topic, "event/StateChange/"):
		evt, err = decodeStateChange(topic, payload)
	case strings.HasPrefix(topic, "event/irrigationResult/"):
		evt, err = decodeIrrigationResult(topic, payload)
	default:
		return nil
	}
	if err != nil {
		h.log.Warnw("event dropped", "topic", topic, "error", err)
		return nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if h.sink != nil {
		h.sink(evt)
	}
	return nil
}

func decodeDecision(topic string, payload []byte) (CommonEvent, error) {
	var d msg.IrrigationDecisionEvent
	if err := json.Unmarshal(payload, &d); err != nil {
		return CommonEvent{}, err
	}
	fieldID, sensorID := pickIDs(topic, d.FieldID, d.SensorID, "event/irrigationDecision")
	if fieldID == "" || sensorID == "" {
		return CommonEvent{}, errMissingIDs
	}
	sev := SeverityInfo
	if d.Safety != "" && d.Safety != safetyNone {
		sev = SeverityWarning
	}
	return CommonEvent{
		EventType:     TypeDecision,
		SourceService: "irrigation-controller",
		FieldID:       fieldID,
		SensorID:      sensorID,
		Severity:      sev,
		Fields: map[string]interface{}{
			"decision_id":       d.DecisionID,
			"crop":              d.Crop,
			"stage":             d.Stage,
			"days":              int64(d.DaysSincePlanting),
			"soil_moisture":     d.SoilMoisture,
			"humidity":          d.Humidity,
			"temperature":       d.Temperature,
			"rain_chance":       d.RainChance,
			"forecast_fallback": d.ForecastFallback,
			"recent_irrigation": d.RecentIrrigation,
			"plant_health":      d.PlantHealth,
			"health_status":     d.HealthStatus,
			"issues":            strings.Join(d.Issues, "; "),
			"raw_level":         d.RawLevel,
			"level":             d.Level,
			"label":             d.Label,
			"risk":              d.Risk,
			"safety":            d.Safety,
			"ml_per_plant":      d.MLPerPlant,
			"total_ml":          d.TotalML,
		},
		Timestamp: d.Timestamp,
	}, nil
}

func decodeStateChange(topic string, payload []byte) (CommonEvent, error) {
	var s msg.StateChangeEvent
	if err := json.Unmarshal(payload, &s); err != nil {
		return CommonEvent{}, err
	}
	fieldID, sensorID := pickIDs(topic, s.FieldID, s.SensorID, "event/StateChange")
	if fieldID == "" || sensorID == "" {
		return CommonEvent{}, errMissingIDs
	}
	return CommonEvent{
		EventType:     TypeStateChange,
		SourceService: "device-service",
		FieldID:       fieldID,
		SensorID:      sensorID,
		Severity:      SeverityInfo,
		Fields: map[string]interface{}{
			"new_state": string(s.NewState),
			"duration":  s.Duration.Seconds(),
		},
		Timestamp: s.Timestamp,
	}, nil
}

func decodeIrrigationResult(topic string, payload []byte) (CommonEvent, error) {
	var r msg.IrrigationResultEvent
	if err := json.Unmarshal(payload, &r); err != nil {
		return CommonEvent{}, err
	}
	fieldID, sensorID := pickIDs(topic, r.FieldID, r.SensorID, "event/irrigationResult")
	if fieldID == "" || sensorID == "" {
		return CommonEvent{}, errMissingIDs
	}
	sev := SeverityInfo
	if strings.EqualFold(r.Status, msg.ResultFail) {
		sev = SeverityWarning
	}
	return CommonEvent{
		EventType:     TypeResult,
		SourceService: "device-service",
		FieldID:       fieldID,
		SensorID:      sensorID,
		Severity:      sev,
		Fields: map[string]interface{}{
			"decision_id":   r.DecisionID,
			"status":        r.Status,
			"level":         r.Level,
			"level_applied": r.LevelApplied,
			"ml_applied":    r.MLApplied,
			"reason":        r.Reason,
		},
		Timestamp: r.Timestamp,
	}, nil
}

// pickIDs prefers the payload, then the topic "prefix/{field}/{sensor}".
func pickIDs(topic, fieldID, sensorID, prefix string) (string, string) {
	if strings.TrimSpace(fieldID) != "" && strings.TrimSpace(sensorID) != "" {
		return fieldID, sensorID
	}
	return rabbitmq.TopicIDs(topic, prefix)
}
