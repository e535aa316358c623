package messages

import "time"

// TelemetrySnapshot is published on the telemetry topic after every successful poll.
type TelemetrySnapshot struct {
	Data      map[string]any `json:"data"`
	Stored    bool           `json:"stored"`
	Timestamp time.Time      `json:"ts"`
}
