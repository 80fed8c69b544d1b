package model

import "time"

// SegmentState is the operating state of one pivot tower motor.
type SegmentState string

const (
	SegStopped SegmentState = "stopped"
	SegForward SegmentState = "forward"
	SegReverse SegmentState = "reverse"
	SegFault   SegmentState = "fault"
)

// Moving reports whether the state is an active motion state.
func (s SegmentState) Moving() bool {
	return s == SegForward || s == SegReverse
}

// SystemMode is the aggregate operating mode of the pivot.
type SystemMode string

const (
	ModeIdle        SystemMode = "idle"
	ModeIrrigating  SystemMode = "irrigating"
	ModeFault       SystemMode = "fault"
	ModeMaintenance SystemMode = "maintenance"
)

// MotorSegment is one independently driven tower motor.
// Speed > 0 only while State is forward or reverse; fault forces speed 0.
type MotorSegment struct {
	Index         int          `json:"index"`
	State         SegmentState `json:"state"`
	Speed         int          `json:"speed"`
	LastCommandAt time.Time    `json:"last_command_at,omitempty"`
	LastCommandID string       `json:"last_command_id,omitempty"`
}

// Snapshot is a deep, point-in-time copy of the device state, safe to hand
// to concurrent readers.
type Snapshot struct {
	Mode        SystemMode     `json:"mode"`
	Maintenance bool           `json:"maintenance"`
	Segments    []MotorSegment `json:"segments"`
	Seq         uint64         `json:"seq"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Segment returns the segment with the given index, or nil if out of range.
func (s Snapshot) Segment(i int) *MotorSegment {
	if i < 0 || i >= len(s.Segments) {
		return nil
	}
	return &s.Segments[i]
}
