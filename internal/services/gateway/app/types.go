package app

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Upstream payloads are decoded leniently: numbers may arrive as strings and
// the time key may be "time" or "timestamp".

type Sensor struct {
	FieldID     string  `json:"field_id"`
	SensorID    string  `json:"sensor_id"`
	Moisture    float64 `json:"moisture"`
	Humidity    float64 `json:"humidity"`
	Temperature float64 `json:"temperature"`
	Aggregated  bool    `json:"aggregated"`
	Time        string  `json:"time"` // RFC3339
	Status      string  `json:"status,omitempty"`
}

func (s *Sensor) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	s.FieldID = text(m, "field_id")
	s.SensorID = text(m, "sensor_id")
	s.Moisture = number(m, "moisture")
	s.Humidity = number(m, "humidity")
	s.Temperature = number(m, "temperature")
	s.Aggregated, _ = m["aggregated"].(bool)
	s.Time = text(m, "timestamp", "time")
	s.Status = text(m, "status")
	return nil
}

type Irrigation struct {
	FieldID      string  `json:"field_id"`
	SensorID     string  `json:"sensor_id"`
	Status       string  `json:"status"`
	LevelApplied float64 `json:"level_applied"`
	MLApplied    float64 `json:"ml_applied"`
	Time         string  `json:"time"`
}

func (i *Irrigation) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	i.FieldID = text(m, "field_id")
	i.SensorID = text(m, "sensor_id")
	i.Status = text(m, "status")
	i.LevelApplied = number(m, "level_applied")
	i.MLApplied = number(m, "ml_applied", "amount_ml")
	i.Time = text(m, "time", "timestamp")
	return nil
}

type Decision struct {
	FieldID     string  `json:"field_id"`
	SensorID    string  `json:"sensor_id"`
	Crop        string  `json:"crop,omitempty"`
	Stage       string  `json:"stage,omitempty"`
	Level       float64 `json:"level"`
	Label       string  `json:"label"`
	Safety      string  `json:"safety,omitempty"`
	PlantHealth float64 `json:"plant_health"`
	TotalML     float64 `json:"total_ml"`
	Time        string  `json:"time"`
}

type Stats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Source states reported per upstream in DashboardData.Sources.
const (
	SourceLive        = "live"
	SourceStale       = "stale"
	SourceUnavailable = "unavailable"
	SourceDisabled    = "disabled"
)

type DashboardData struct {
	Sensors     []Sensor          `json:"sensors"`
	Irrigations []Irrigation      `json:"irrigations"`
	Decisions   []Decision        `json:"decisions"`
	Stats       Stats             `json:"stats"`
	Sources     map[string]string `json:"sources"`
}

func text(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func number(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch x := m[k].(type) {
		case float64:
			return x
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f
			}
		}
	}
	return 0
}
