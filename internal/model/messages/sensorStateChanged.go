package messages

import (
	"time"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model/entities"
)

// StateChangeEvent opens or closes the valve of a sensor row.
type StateChangeEvent struct {
	FieldID   string               `json:"field_id"`
	SensorID  string               `json:"sensor_id"`
	NewState  entities.SensorState `json:"new_state"`
	Duration  time.Duration        `json:"duration"`
	Timestamp time.Time            `json:"timestamp"`
}
