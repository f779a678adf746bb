package messages

import "time"

// SensorData holds both raw and aggregated readings. Percentages are 0..100,
// temperature is in °C.
type SensorData struct {
	FieldID     string    `json:"field_id"`
	SensorID    string    `json:"sensor_id"`
	Moisture    float64   `json:"moisture"`
	Humidity    float64   `json:"humidity"`
	Temperature float64   `json:"temperature"`
	Aggregated  bool      `json:"aggregated"`
	Samples     int       `json:"samples,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
