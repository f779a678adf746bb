package messages

import "time"

// IrrigationDecisionEvent is published by the irrigation controller for every
// evaluation, including the ones that end in no irrigation.
type IrrigationDecisionEvent struct {
	DecisionID string `json:"decision_id"`
	FieldID    string `json:"field_id"`
	SensorID   string `json:"sensor_id"`

	Crop              string `json:"crop"`
	Stage             string `json:"stage,omitempty"`
	DaysSincePlanting int    `json:"days_since_planting"`

	SoilMoisture     float64 `json:"soil_moisture"`
	Humidity         float64 `json:"humidity"`
	Temperature      float64 `json:"temperature"`
	RainChance       float64 `json:"rain_chance"`
	ForecastFallback bool    `json:"forecast_fallback"`
	RecentIrrigation float64 `json:"recent_irrigation"`

	PlantHealth  float64  `json:"plant_health"`
	HealthStatus string   `json:"health_status"`
	Issues       []string `json:"issues"`

	RawLevel float64 `json:"raw_level"`
	Level    float64 `json:"level"`
	Label    string  `json:"label"`
	Risk     string  `json:"risk"`
	Safety   string  `json:"safety"`

	MLPerPlant     float64 `json:"ml_per_plant"`
	TotalML        float64 `json:"total_ml"`
	TotalLiters    float64 `json:"total_liters"`
	VolumeFallback bool    `json:"volume_fallback"`

	Timestamp time.Time `json:"timestamp"`
}

// Actionable reports whether the decision asks the valve to open.
func (e IrrigationDecisionEvent) Actionable() bool {
	return e.Level > 0 && e.TotalML > 0
}
