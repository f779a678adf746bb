package entities

import "time"

// SensorState indicates whether the irrigation valve is on or off.
type SensorState string

const (
	StateOff SensorState = "off"
	StateOn  SensorState = "on"
)

// Sensor is a probe in the field paired with the valve watering its row.
type Sensor struct {
	FieldID   string      `json:"field_id"`
	ID        string      `json:"id"`
	Longitude float64     `json:"longitude"`
	Latitude  float64     `json:"latitude"`
	State     SensorState `json:"state"`
	FlowMLMin float64     `json:"flow_ml_min,omitempty"` // valve flow [mL/min]
}

// DefaultFlowMLMin is assumed when a valve has no configured flow.
const DefaultFlowMLMin = 500.0

// ValveDuration is how long the valve must stay open to deliver ml.
func (s Sensor) ValveDuration(ml float64) time.Duration {
	if ml <= 0 {
		return 0
	}
	flow := s.FlowMLMin
	if flow <= 0 {
		flow = DefaultFlowMLMin
	}
	return time.Duration(ml / flow * float64(time.Minute))
}
