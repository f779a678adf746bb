package model

import (
	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model/entities"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model/messages"
)

// Aliases exposing the common types to the services.

type (
	SensorData              = messages.SensorData
	StateChangeEvent        = messages.StateChangeEvent
	IrrigationDecisionEvent = messages.IrrigationDecisionEvent
	IrrigationResultEvent   = messages.IrrigationResultEvent
	Field                   = entities.Field
	Planting                = entities.Planting
	Registry                = entities.Registry
	Sensor                  = entities.Sensor
	SensorState             = entities.SensorState
)

const (
	StateOn  = entities.StateOn
	StateOff = entities.StateOff

	DefaultFlowMLMin = entities.DefaultFlowMLMin

	ResultOK   = messages.ResultOK
	ResultFail = messages.ResultFail
)
