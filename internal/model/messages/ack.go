package messages

import "time"

// Nack codes. The first three mirror the command validation taxonomy;
// MotorFault marks an injected hardware failure (see the --motor-fail flag).
const (
	CodeUnknownTarget     = "UnknownTarget"
	CodeInvalidTransition = "InvalidTransition"
	CodeOutOfRange        = "OutOfRange"
	CodeMotorFault        = "MotorFault"
)

// Nack is a negative acknowledgment for a rejected command. Device state is
// unchanged when a Nack is published (except for injected motor faults).
type Nack struct {
	CommandID string    `json:"command_id"`
	OK        bool      `json:"ok"`
	Code      string    `json:"code"`
	Reason    string    `json:"reason,omitempty"`
	Target    string    `json:"target"` // "device" or "motor/<i>"
	Timestamp time.Time `json:"ts"`
}

// Presence is the retained Online/Offline marker; Offline is delivered by the
// broker via the session's last-will.
type Presence struct {
	Message string `json:"message"`
}
