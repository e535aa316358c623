package entities

import "strings"

// ActuatorState indicates whether an output on the device (pump, led) is on or off.
type ActuatorState string

const (
	StateOff ActuatorState = "OFF"
	StateOn  ActuatorState = "ON"
)

// ParseActuatorState accepts the values the dashboard sends ("ON"/"OFF", any case).
func ParseActuatorState(v string) (ActuatorState, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "ON", "1", "TRUE":
		return StateOn, true
	case "OFF", "0", "FALSE":
		return StateOff, true
	}
	return "", false
}
