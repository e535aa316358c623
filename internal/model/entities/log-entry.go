package entities

import "time"

// Action classifies an audit log row.
type Action string

const (
	ActionActuator      Action = "ACTUATOR"
	ActionActuatorError Action = "ACTUATOR_ERROR"
	ActionPersistSensor Action = "PERSIST_SENSOR"
)

// LogEntry is an append-only audit record. Entries are written only after the
// operation they describe has resolved.
type LogEntry struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"user"`
	Action    Action    `json:"action"`
	Payload   string    `json:"payload"` // richiesta serializzata
	Result    string    `json:"result"`  // esito serializzato o messaggio d'errore
	Timestamp time.Time `json:"ts"`
}
