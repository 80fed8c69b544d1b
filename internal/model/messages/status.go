package messages

import (
	"time"

	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/model"
)

// SegmentStatus is the per-segment slice of a status snapshot.
type SegmentStatus struct {
	Index int                `json:"index"`
	State model.SegmentState `json:"state"`
	Speed int                `json:"speed"`
}

// StatusMessage is published on every committed transition and, without a
// command id, as the periodic heartbeat. Seq is monotone per device so
// consumers can detect gaps or reordering.
type StatusMessage struct {
	Seq       uint64           `json:"seq"`
	Timestamp time.Time        `json:"ts"`
	Mode      model.SystemMode `json:"mode"`
	Segments  []SegmentStatus  `json:"segments"`
	CommandID string           `json:"command_id,omitempty"`
}

// NewStatus builds a status message from a state snapshot. commandID is empty
// for heartbeats and unsolicited snapshots.
func NewStatus(snap model.Snapshot, commandID string) StatusMessage {
	segs := make([]SegmentStatus, len(snap.Segments))
	for i, seg := range snap.Segments {
		segs[i] = SegmentStatus{Index: seg.Index, State: seg.State, Speed: seg.Speed}
	}
	return StatusMessage{
		Seq:       snap.Seq,
		Timestamp: snap.UpdatedAt,
		Mode:      snap.Mode,
		Segments:  segs,
		CommandID: commandID,
	}
}
