package messages

import "time"

// CommandOutcomeEvent è pubblicato dal dispatcher al termine di ogni dispatch
// (consegnato o tentativi esauriti).
type CommandOutcomeEvent struct {
	Actor     string    `json:"user"`
	Cmd       string    `json:"cmd"`
	Value     string    `json:"value,omitempty"`
	OK        bool      `json:"ok"`
	Status    int       `json:"status,omitempty"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"ts"`
}
