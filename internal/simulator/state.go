package simulator

import (
	"sync"
	"time"

	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/model"
)

// SegmentChange is one segment's part of a transition.
type SegmentChange struct {
	Index int
	State model.SegmentState
	Speed int
}

// Transition is a validated, all-or-nothing state change. Device-wide
// commands carry one change per affected segment but still count as a
// single transition (one sequence increment).
type Transition struct {
	CommandID   string
	Changes     []SegmentChange
	Maintenance *bool // toggles maintenance mode when set
}

// Store owns the device state. The command processor is the only writer
// (via the actuator's serialized apply path); everyone else reads deep
// snapshots.
type Store struct {
	mu          sync.RWMutex
	maintenance bool
	segments    []model.MotorSegment
	seq         uint64
	updatedAt   time.Time
	now         func() time.Time
}

func NewStore(segments int) *Store {
	segs := make([]model.MotorSegment, segments)
	for i := range segs {
		segs[i] = model.MotorSegment{Index: i, State: model.SegStopped}
	}
	return &Store{segments: segs, now: time.Now}
}

// Snapshot returns a deep, point-in-time copy safe for concurrent readers.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() model.Snapshot {
	segs := make([]model.MotorSegment, len(s.segments))
	copy(segs, s.segments)
	return model.Snapshot{
		Mode:        s.modeLocked(),
		Maintenance: s.maintenance,
		Segments:    segs,
		Seq:         s.seq,
		UpdatedAt:   s.updatedAt,
	}
}

// SegmentCount returns the fixed number of motor segments.
func (s *Store) SegmentCount() int {
	return len(s.segments)
}

// Apply commits a transition atomically: segment fields, maintenance flag,
// sequence number and timestamp move together. Returns the post-commit
// snapshot.
func (s *Store) Apply(t Transition) model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Clock read and snapshot construction stay inside the critical section
	// so updatedAt and the returned snapshot always move with seq.
	now := s.now()
	for _, ch := range t.Changes {
		if ch.Index < 0 || ch.Index >= len(s.segments) {
			continue
		}
		seg := &s.segments[ch.Index]
		seg.State = ch.State
		seg.Speed = ch.Speed
		if ch.State == model.SegFault {
			seg.Speed = 0
		}
		seg.LastCommandAt = now
		seg.LastCommandID = t.CommandID
	}
	if t.Maintenance != nil {
		s.maintenance = *t.Maintenance
	}
	s.seq++
	s.updatedAt = now
	return s.snapshotLocked()
}

// modeLocked recomputes the aggregate mode: fault wins over everything,
// maintenance over motion, irrigating when any segment moves.
func (s *Store) modeLocked() model.SystemMode {
	anyFault, anyMoving := false, false
	for i := range s.segments {
		switch {
		case s.segments[i].State == model.SegFault:
			anyFault = true
		case s.segments[i].State.Moving():
			anyMoving = true
		}
	}
	switch {
	case anyFault:
		return model.ModeFault
	case s.maintenance:
		return model.ModeMaintenance
	case anyMoving:
		return model.ModeIrrigating
	default:
		return model.ModeIdle
	}
}
