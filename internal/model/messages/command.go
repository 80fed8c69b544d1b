package messages

import "time"

// Action identifies what a command asks the device to do.
type Action string

const (
	ActionStart          Action = "start"
	ActionStop           Action = "stop"
	ActionSetSpeed       Action = "set-speed"
	ActionReverse        Action = "reverse"
	ActionResetFault     Action = "reset-fault"
	ActionMaintenanceOn  Action = "maintenance-on"
	ActionMaintenanceOff Action = "maintenance-off"
)

// Command is an inbound control message. The target (device-wide or a
// specific segment) is carried by the topic it arrives on, not the payload.
// ID is an opaque caller-supplied token echoed back in the acknowledgment.
type Command struct {
	ID        string    `json:"id"`
	Action    Action    `json:"action"`
	Speed     int       `json:"speed,omitempty"`
	Timestamp time.Time `json:"ts,omitempty"`
}
