// Package advisor turns field readings into an irrigation decision: health
// scoring, fuzzy grading, safety overrides and water volume estimation.
// Every function is pure; identical requests give identical decisions.
package advisor

import (
	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/crop"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/fuzzy"
)

// SensorInputs are the environmental readings of one evaluation.
type SensorInputs struct {
	SoilMoisture float64 `json:"soil_moisture"`
	Humidity     float64 `json:"humidity"`
	Temperature  float64 `json:"temperature"`
	RainForecast float64 `json:"rain_forecast"`
}

// Request is the full input of CalculateIrrigation.
type Request struct {
	SensorInputs
	PlantHealth       float64   `json:"plant_health"`
	RecentIrrigation  float64   `json:"recent_irrigation"`
	Crop              crop.Type `json:"crop"`
	DaysSincePlanting int       `json:"days_since_planting"`
}

// Label is the irrigation class of a final level.
type Label string

const (
	LabelNone     Label = "No Irrigation"
	LabelLight    Label = "Light Irrigation"
	LabelModerate Label = "Moderate Irrigation"
	LabelHeavy    Label = "Heavy Irrigation"
)

// Risk grades the chance of over-watering damage.
type Risk string

const (
	RiskLow    Risk = "Low"
	RiskMedium Risk = "Medium"
	RiskHigh   Risk = "High"
)

// Decision is the record returned for one evaluation.
type Decision struct {
	RawLevel float64       `json:"raw_level"`
	Level    float64       `json:"level"`
	Label    Label         `json:"label"`
	Risk     Risk          `json:"risk"`
	Safety   SafetyMessage `json:"safety"`
	Stage    crop.Stage    `json:"stage,omitempty"`
	Volume
}

// CalculateIrrigation runs the fuzzy engine, the safety overrides and the
// volume estimate for a single planting.
func CalculateIrrigation(req Request) Decision {
	raw := fuzzy.Evaluate(fuzzy.Inputs{
		Soil:        req.SoilMoisture,
		Humidity:    req.Humidity,
		Temperature: req.Temperature,
		Forecast:    req.RainForecast,
		PlantHealth: req.PlantHealth,
		Recent:      req.RecentIrrigation,
	})

	level, safety := ApplyOverrides(raw, req.SoilMoisture, req.RecentIrrigation, req.PlantHealth)

	// unknown crops leave the stage empty and fall through to the area heuristic
	stage, _ := crop.ResolveStage(req.Crop, req.DaysSincePlanting)

	return Decision{
		RawLevel: raw,
		Level:    level,
		Label:    LabelFor(level),
		Risk:     RiskFor(level, req.SoilMoisture, req.RecentIrrigation),
		Safety:   safety,
		Stage:    stage,
		Volume:   EstimateVolume(level, req.Crop, stage),
	}
}

// Evaluate is the whole pipeline from raw history: it scores the history,
// assesses plant health and feeds both into CalculateIrrigation.
func Evaluate(in SensorInputs, history []float64, c crop.Type, days int) (HealthAssessment, Decision) {
	recent := RecentIrrigationScore(history)
	health := AssessPlantHealth(in.SoilMoisture, recent, c, days)
	return health, CalculateIrrigation(Request{
		SensorInputs:      in,
		PlantHealth:       health.Score,
		RecentIrrigation:  recent,
		Crop:              c,
		DaysSincePlanting: days,
	})
}

// LabelFor classes a level using the 20/40/65 thresholds.
func LabelFor(level float64) Label {
	switch {
	case level <= 20:
		return LabelNone
	case level <= 40:
		return LabelLight
	case level <= 65:
		return LabelModerate
	default:
		return LabelHeavy
	}
}

// RiskFor grades the over-watering risk of applying level.
func RiskFor(level, soilMoisture, recentIrrigation float64) Risk {
	switch {
	case level <= 40:
		return RiskLow
	case level <= 65:
		if soilMoisture > 60 {
			return RiskMedium
		}
		return RiskLow
	default:
		if soilMoisture > 50 || recentIrrigation > 40 {
			return RiskHigh
		}
		return RiskMedium
	}
}
