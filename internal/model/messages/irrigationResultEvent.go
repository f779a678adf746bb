package messages

import "time"

const (
	ResultOK   = "OK"
	ResultFail = "FAIL"
)

// IrrigationResultEvent is published by the device service when a valve run
// ends, successfully or not.
type IrrigationResultEvent struct {
	FieldID      string    `json:"field_id"`
	SensorID     string    `json:"sensor_id"`
	TicketID     string    `json:"ticket_id"`
	DecisionID   string    `json:"decision_id"`
	Status       string    `json:"status"`        // OK | FAIL
	Level        float64   `json:"level"`         // requested irrigation level
	LevelApplied float64   `json:"level_applied"` // share of Level actually delivered
	MLApplied    float64   `json:"ml_applied"`
	Reason       string    `json:"reason"` // done | offline | shutdown
	StartedAt    time.Time `json:"started_at"`
	Timestamp    time.Time `json:"timestamp"`
}
