package simulator

import (
	"sync"

	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/model"
	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/model/messages"
	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/topic"
	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/pkg/ackcache"
)

// Outcome is the result of handling one inbound command.
type Outcome struct {
	// Accepted: a transition was scheduled; the ack follows once it commits.
	Accepted bool
	// Replay: the command id was seen before. ReplayPayload carries the
	// original ack to republish, or nil if the first delivery is still in
	// flight (duplicate is dropped).
	Replay        bool
	ReplayTopic   string
	ReplayPayload []byte
	// Reject: validation failed, device state unchanged; a negative ack
	// carrying Reject.Code must be published.
	Reject *ValidationError
}

// Processor validates inbound commands and schedules accepted transitions
// through the actuator. It never writes the store directly. Validation runs
// against the effective state: the committed snapshot overlaid with changes
// already scheduled but not yet applied, so a command arriving while its
// segment's previous transition is still in the actuation window queues
// behind it instead of being judged against stale state.
type Processor struct {
	store        *Store
	actuator     *Actuator
	acks         *ackcache.Cache
	maxSpeed     int
	defaultSpeed int
	motorFail    bool

	// Last scheduled change per segment plus the last scheduled maintenance
	// flag. Entries are never removed: once a transition commits, the store
	// snapshot catches up to the overlay, so a stale entry is a no-op.
	// Bounded by the segment count.
	mu             sync.Mutex
	scheduled      map[int]SegmentChange
	scheduledMaint *bool
}

func NewProcessor(store *Store, actuator *Actuator, acks *ackcache.Cache, maxSpeed, defaultSpeed int, motorFail bool) *Processor {
	return &Processor{
		store:        store,
		actuator:     actuator,
		acks:         acks,
		maxSpeed:     maxSpeed,
		defaultSpeed: defaultSpeed,
		motorFail:    motorFail,
		scheduled:    make(map[int]SegmentChange),
	}
}

// effectiveState is the committed snapshot with pending scheduled changes
// applied on top.
func (p *Processor) effectiveState() model.Snapshot {
	snap := p.store.Snapshot()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range snap.Segments {
		if ch, ok := p.scheduled[snap.Segments[i].Index]; ok {
			snap.Segments[i].State = ch.State
			snap.Segments[i].Speed = ch.Speed
		}
	}
	if p.scheduledMaint != nil {
		snap.Maintenance = *p.scheduledMaint
	}
	return snap
}

func (p *Processor) noteScheduled(tr Transition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range tr.Changes {
		p.scheduled[ch.Index] = ch
	}
	if tr.Maintenance != nil {
		m := *tr.Maintenance
		p.scheduledMaint = &m
	}
}

// Handle runs the validation chain (target, legality, bounds) and either
// schedules the transition, replays a stored ack, or rejects. segment is
// topic.DeviceWide for commands on the device-wide topic.
func (p *Processor) Handle(segment int, cmd messages.Command) Outcome {
	if t, payload, ok := p.acks.Lookup(cmd.ID); ok {
		return Outcome{Replay: true, ReplayTopic: t, ReplayPayload: payload}
	}

	snap := p.effectiveState()
	tr, verr := p.plan(snap, segment, cmd)
	if verr != nil {
		return Outcome{Reject: verr}
	}

	// Injected hardware failure: the motor trips instead of starting. The
	// fault transition carries no command id so the committed status is an
	// unsolicited fault report; the nack is the command's acknowledgment.
	if p.motorFail && cmd.Action == messages.ActionStart {
		for i := range tr.Changes {
			tr.Changes[i].State = model.SegFault
			tr.Changes[i].Speed = 0
		}
		tr.CommandID = ""
		p.noteScheduled(tr)
		p.actuator.Schedule(segment, tr)
		return Outcome{Reject: rejectf(messages.CodeMotorFault, "simulated motor fault")}
	}

	if !p.acks.Begin(cmd.ID) {
		// Lost the race with an identical redelivery.
		return Outcome{Replay: true}
	}
	p.noteScheduled(tr)
	p.actuator.Schedule(segment, tr)
	return Outcome{Accepted: true}
}

func (p *Processor) plan(snap model.Snapshot, segment int, cmd messages.Command) (Transition, *ValidationError) {
	if segment != topic.DeviceWide && snap.Segment(segment) == nil {
		return Transition{}, rejectf(messages.CodeUnknownTarget, "no motor segment %d", segment)
	}
	if segment == topic.DeviceWide {
		return p.planDevice(snap, cmd)
	}
	return p.planSegment(snap, *snap.Segment(segment), cmd)
}

func (p *Processor) planSegment(snap model.Snapshot, seg model.MotorSegment, cmd messages.Command) (Transition, *ValidationError) {
	tr := Transition{CommandID: cmd.ID}
	switch cmd.Action {
	case messages.ActionStart, messages.ActionReverse:
		if snap.Maintenance {
			return tr, rejectf(messages.CodeInvalidTransition, "device in maintenance mode")
		}
		if seg.State == model.SegFault {
			return tr, rejectf(messages.CodeInvalidTransition, "segment %d is faulted; reset-fault first", seg.Index)
		}
		speed := cmd.Speed
		if speed == 0 {
			speed = p.defaultSpeed
		}
		if verr := p.checkSpeed(speed); verr != nil {
			return tr, verr
		}
		state := model.SegForward
		if cmd.Action == messages.ActionReverse {
			state = model.SegReverse
		}
		tr.Changes = []SegmentChange{{Index: seg.Index, State: state, Speed: speed}}

	case messages.ActionSetSpeed:
		if snap.Maintenance {
			return tr, rejectf(messages.CodeInvalidTransition, "device in maintenance mode")
		}
		if seg.State == model.SegFault {
			return tr, rejectf(messages.CodeInvalidTransition, "segment %d is faulted; reset-fault first", seg.Index)
		}
		if !seg.State.Moving() {
			return tr, rejectf(messages.CodeInvalidTransition, "segment %d is stopped; start it first", seg.Index)
		}
		if verr := p.checkSpeed(cmd.Speed); verr != nil {
			return tr, verr
		}
		tr.Changes = []SegmentChange{{Index: seg.Index, State: seg.State, Speed: cmd.Speed}}

	case messages.ActionStop:
		// Stop is not a motion command: legal even on a faulted segment,
		// which stays faulted at speed 0.
		state := model.SegStopped
		if seg.State == model.SegFault {
			state = model.SegFault
		}
		tr.Changes = []SegmentChange{{Index: seg.Index, State: state, Speed: 0}}

	case messages.ActionResetFault:
		if seg.State != model.SegFault {
			return tr, rejectf(messages.CodeInvalidTransition, "segment %d is not faulted", seg.Index)
		}
		tr.Changes = []SegmentChange{{Index: seg.Index, State: model.SegStopped, Speed: 0}}

	case messages.ActionMaintenanceOn, messages.ActionMaintenanceOff:
		return tr, rejectf(messages.CodeInvalidTransition, "%s is a device-wide action", cmd.Action)

	default:
		return tr, rejectf(messages.CodeInvalidTransition, "unknown action %q", cmd.Action)
	}
	return tr, nil
}

func (p *Processor) planDevice(snap model.Snapshot, cmd messages.Command) (Transition, *ValidationError) {
	tr := Transition{CommandID: cmd.ID}
	switch cmd.Action {
	case messages.ActionStart, messages.ActionReverse:
		if snap.Maintenance {
			return tr, rejectf(messages.CodeInvalidTransition, "device in maintenance mode")
		}
		speed := cmd.Speed
		if speed == 0 {
			speed = p.defaultSpeed
		}
		state := model.SegForward
		if cmd.Action == messages.ActionReverse {
			state = model.SegReverse
		}
		for _, seg := range snap.Segments {
			if seg.State == model.SegFault {
				continue
			}
			tr.Changes = append(tr.Changes, SegmentChange{Index: seg.Index, State: state, Speed: speed})
		}
		if len(tr.Changes) == 0 {
			return tr, rejectf(messages.CodeInvalidTransition, "all segments are faulted")
		}
		if verr := p.checkSpeed(speed); verr != nil {
			return Transition{CommandID: cmd.ID}, verr
		}

	case messages.ActionSetSpeed:
		if snap.Maintenance {
			return tr, rejectf(messages.CodeInvalidTransition, "device in maintenance mode")
		}
		for _, seg := range snap.Segments {
			if seg.State.Moving() {
				tr.Changes = append(tr.Changes, SegmentChange{Index: seg.Index, State: seg.State, Speed: cmd.Speed})
			}
		}
		if len(tr.Changes) == 0 {
			return tr, rejectf(messages.CodeInvalidTransition, "no segment in motion")
		}
		if verr := p.checkSpeed(cmd.Speed); verr != nil {
			return Transition{CommandID: cmd.ID}, verr
		}

	case messages.ActionStop:
		for _, seg := range snap.Segments {
			state := model.SegStopped
			if seg.State == model.SegFault {
				state = model.SegFault
			}
			tr.Changes = append(tr.Changes, SegmentChange{Index: seg.Index, State: state, Speed: 0})
		}

	case messages.ActionResetFault:
		for _, seg := range snap.Segments {
			if seg.State == model.SegFault {
				tr.Changes = append(tr.Changes, SegmentChange{Index: seg.Index, State: model.SegStopped, Speed: 0})
			}
		}
		if len(tr.Changes) == 0 {
			return tr, rejectf(messages.CodeInvalidTransition, "no faulted segment")
		}

	case messages.ActionMaintenanceOn:
		if snap.Maintenance {
			return tr, rejectf(messages.CodeInvalidTransition, "already in maintenance mode")
		}
		on := true
		tr.Maintenance = &on
		for _, seg := range snap.Segments {
			if seg.State == model.SegFault {
				continue
			}
			tr.Changes = append(tr.Changes, SegmentChange{Index: seg.Index, State: model.SegStopped, Speed: 0})
		}

	case messages.ActionMaintenanceOff:
		if !snap.Maintenance {
			return tr, rejectf(messages.CodeInvalidTransition, "not in maintenance mode")
		}
		off := false
		tr.Maintenance = &off

	default:
		return tr, rejectf(messages.CodeInvalidTransition, "unknown action %q", cmd.Action)
	}
	return tr, nil
}

func (p *Processor) checkSpeed(speed int) *ValidationError {
	if speed < 1 || speed > p.maxSpeed {
		return rejectf(messages.CodeOutOfRange, "speed %d outside [1, %d]", speed, p.maxSpeed)
	}
	return nil
}
