package entities

// CommandRequest is built per inbound actuator request and never persisted;
// only its outcome is.
type CommandRequest struct {
	Command string
	Value   string // opzionale
	Actor   string
}

// DispatchResult is what the caller of a dispatch observes.
type DispatchResult struct {
	OK       bool   `json:"ok"`
	Status   int    `json:"status,omitempty"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"-"`
}
