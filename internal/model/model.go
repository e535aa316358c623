package model

import (
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model/entities"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model/messages"
)

// Alias per esporre tipi comuni ai servizi

type (
	Reading             = entities.Reading
	LogEntry            = entities.LogEntry
	Action              = entities.Action
	CommandRequest      = entities.CommandRequest
	DispatchResult      = entities.DispatchResult
	KPISnapshot         = entities.KPISnapshot
	TelemetrySnapshot   = messages.TelemetrySnapshot
	CommandOutcomeEvent = messages.CommandOutcomeEvent
	CommandMessage      = messages.CommandMessage
)

const (
	ActionActuator      = entities.ActionActuator
	ActionActuatorError = entities.ActionActuatorError
	ActionPersistSensor = entities.ActionPersistSensor

	StateOn  = entities.StateOn
	StateOff = entities.StateOff
)

// DefaultActor is recorded when a command arrives without a user.
const DefaultActor = "anon"

// SystemActor is recorded for entries written by the gateway itself.
const SystemActor = "system"
