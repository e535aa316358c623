package messages

// CommandMessage is the wire shape of an actuator command, shared by the HTTP
// body of POST /api/actuator and the MQTT command topic.
type CommandMessage struct {
	Cmd   string `json:"cmd"`
	Value string `json:"value,omitempty"`
	User  string `json:"user,omitempty"`
}
