package simulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/model"
	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/model/messages"
	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/topic"
)

func TestStartSegmentPublishesAckedStatus(t *testing.T) {
	r := newRig(t, 4, 10, false)

	out := r.proc.Handle(2, messages.Command{ID: "c-1", Action: messages.ActionStart, Speed: 5})
	require.True(t, out.Accepted)

	snap := r.store.Snapshot()
	require.Equal(t, model.SegForward, snap.Segments[2].State)
	require.Equal(t, 5, snap.Segments[2].Speed)
	require.Equal(t, model.ModeIrrigating, snap.Mode)
	require.Equal(t, uint64(1), snap.Seq)

	msg := r.pub.last(t)
	require.Equal(t, r.scheme.Status(2), msg.topic)
	st := decodeStatus(t, msg.payload)
	require.Equal(t, "c-1", st.CommandID)
	require.Equal(t, uint64(1), st.Seq)
	require.Equal(t, model.ModeIrrigating, st.Mode)
}

func TestStartDefaultsSpeed(t *testing.T) {
	r := newRig(t, 2, 10, false)
	out := r.proc.Handle(0, messages.Command{ID: "c-1", Action: messages.ActionStart})
	require.True(t, out.Accepted)
	require.Equal(t, 5, r.store.Snapshot().Segments[0].Speed)
}

func TestUnknownTarget(t *testing.T) {
	r := newRig(t, 2, 10, false)
	before := r.store.Snapshot()

	out := r.proc.Handle(9, messages.Command{ID: "c-1", Action: messages.ActionStart, Speed: 3})
	require.NotNil(t, out.Reject)
	require.Equal(t, messages.CodeUnknownTarget, out.Reject.Code)

	r.tel.PublishNack(9, "c-1", out.Reject.Code, out.Reject.Reason)
	n := decodeNack(t, r.pub.last(t).payload)
	require.Equal(t, "c-1", n.CommandID)
	require.False(t, n.OK)
	require.Equal(t, messages.CodeUnknownTarget, n.Code)

	after := r.store.Snapshot()
	require.Equal(t, before.Seq, after.Seq)
	require.Equal(t, before.Segments, after.Segments)
}

func TestSetSpeedOutOfRangeLeavesStateUntouched(t *testing.T) {
	r := newRig(t, 2, 10, false)
	require.True(t, r.proc.Handle(1, messages.Command{ID: "c-1", Action: messages.ActionStart, Speed: 4}).Accepted)
	before := r.store.Snapshot()

	out := r.proc.Handle(1, messages.Command{ID: "c-2", Action: messages.ActionSetSpeed, Speed: 11})
	require.NotNil(t, out.Reject)
	require.Equal(t, messages.CodeOutOfRange, out.Reject.Code)

	after := r.store.Snapshot()
	require.Equal(t, before, after, "rejected command must not change any field")

	// set-speed 0 is also out of range: stopping is stop's job.
	out = r.proc.Handle(1, messages.Command{ID: "c-3", Action: messages.ActionSetSpeed, Speed: 0})
	require.NotNil(t, out.Reject)
	require.Equal(t, messages.CodeOutOfRange, out.Reject.Code)
}

func TestSetSpeedRequiresMotion(t *testing.T) {
	r := newRig(t, 2, 10, false)
	out := r.proc.Handle(0, messages.Command{ID: "c-1", Action: messages.ActionSetSpeed, Speed: 3})
	require.NotNil(t, out.Reject)
	require.Equal(t, messages.CodeInvalidTransition, out.Reject.Code)
}

func TestFaultedSegmentRejectsStart(t *testing.T) {
	r := newRig(t, 3, 10, false)
	r.store.Apply(Transition{Changes: []SegmentChange{{Index: 1, State: model.SegFault}}})
	before := r.store.Snapshot()

	out := r.proc.Handle(1, messages.Command{ID: "c-1", Action: messages.ActionStart, Speed: 2})
	require.NotNil(t, out.Reject)
	require.Equal(t, messages.CodeInvalidTransition, out.Reject.Code)

	r.tel.PublishNack(1, "c-1", out.Reject.Code, out.Reject.Reason)
	n := decodeNack(t, r.pub.last(t).payload)
	require.Equal(t, "c-1", n.CommandID, "negative ack carries the command id")
	require.Equal(t, "motor/1", n.Target)

	require.Equal(t, before, r.store.Snapshot())
}

func TestResetFaultRestoresStopped(t *testing.T) {
	r := newRig(t, 2, 10, false)
	r.store.Apply(Transition{Changes: []SegmentChange{{Index: 0, State: model.SegFault}}})

	// reset-fault on a healthy segment is invalid
	out := r.proc.Handle(1, messages.Command{ID: "c-0", Action: messages.ActionResetFault})
	require.NotNil(t, out.Reject)

	out = r.proc.Handle(0, messages.Command{ID: "c-1", Action: messages.ActionResetFault})
	require.True(t, out.Accepted)
	snap := r.store.Snapshot()
	require.Equal(t, model.SegStopped, snap.Segments[0].State)
	require.Equal(t, model.ModeIdle, snap.Mode)

	// Segment accepts motion again after the reset.
	require.True(t, r.proc.Handle(0, messages.Command{ID: "c-2", Action: messages.ActionStart, Speed: 2}).Accepted)
}

func TestStopOnFaultedSegmentKeepsFault(t *testing.T) {
	r := newRig(t, 2, 10, false)
	r.store.Apply(Transition{Changes: []SegmentChange{{Index: 0, State: model.SegFault}}})

	out := r.proc.Handle(0, messages.Command{ID: "c-1", Action: messages.ActionStop})
	require.True(t, out.Accepted)
	snap := r.store.Snapshot()
	require.Equal(t, model.SegFault, snap.Segments[0].State)
	require.Equal(t, model.ModeFault, snap.Mode)
}

func TestRedeliveryReplaysIdenticalAck(t *testing.T) {
	r := newRig(t, 2, 10, false)

	require.True(t, r.proc.Handle(0, messages.Command{ID: "c-1", Action: messages.ActionStart, Speed: 3}).Accepted)
	first := r.pub.last(t)

	out := r.proc.Handle(0, messages.Command{ID: "c-1", Action: messages.ActionStart, Speed: 3})
	require.True(t, out.Replay)
	require.Equal(t, first.topic, out.ReplayTopic)
	require.Equal(t, first.payload, out.ReplayPayload, "replayed ack must be byte-identical")

	require.Equal(t, uint64(1), r.store.Snapshot().Seq, "sequence must not advance on redelivery")
}

func TestRejectedCommandIdReplaysNack(t *testing.T) {
	r := newRig(t, 2, 10, false)
	out := r.proc.Handle(0, messages.Command{ID: "c-1", Action: messages.ActionSetSpeed, Speed: 3})
	require.NotNil(t, out.Reject)
	r.tel.PublishNack(0, "c-1", out.Reject.Code, out.Reject.Reason)
	nackPayload := r.pub.last(t).payload

	out = r.proc.Handle(0, messages.Command{ID: "c-1", Action: messages.ActionSetSpeed, Speed: 3})
	require.True(t, out.Replay)
	require.Equal(t, nackPayload, out.ReplayPayload)
}

func TestDeviceWideStartIsOneTransition(t *testing.T) {
	r := newRig(t, 4, 10, false)
	r.store.Apply(Transition{Changes: []SegmentChange{{Index: 3, State: model.SegFault}}})
	seqBefore := r.store.Snapshot().Seq

	out := r.proc.Handle(topic.DeviceWide, messages.Command{ID: "c-1", Action: messages.ActionStart, Speed: 2})
	require.True(t, out.Accepted)

	snap := r.store.Snapshot()
	require.Equal(t, seqBefore+1, snap.Seq, "device-wide command commits as one transition")
	for i := 0; i < 3; i++ {
		require.Equal(t, model.SegForward, snap.Segments[i].State)
		require.Equal(t, 2, snap.Segments[i].Speed)
	}
	require.Equal(t, model.SegFault, snap.Segments[3].State, "faulted segment is skipped")

	msg := r.pub.last(t)
	require.Equal(t, r.scheme.Status(topic.DeviceWide), msg.topic)
}

func TestDeviceWideStartAllFaulted(t *testing.T) {
	r := newRig(t, 2, 10, false)
	r.store.Apply(Transition{Changes: []SegmentChange{
		{Index: 0, State: model.SegFault},
		{Index: 1, State: model.SegFault},
	}})
	out := r.proc.Handle(topic.DeviceWide, messages.Command{ID: "c-1", Action: messages.ActionStart, Speed: 2})
	require.NotNil(t, out.Reject)
	require.Equal(t, messages.CodeInvalidTransition, out.Reject.Code)
}

func TestMaintenanceBlocksMotion(t *testing.T) {
	r := newRig(t, 2, 10, false)

	require.True(t, r.proc.Handle(topic.DeviceWide, messages.Command{ID: "c-1", Action: messages.ActionMaintenanceOn}).Accepted)
	require.Equal(t, model.ModeMaintenance, r.store.Snapshot().Mode)

	out := r.proc.Handle(0, messages.Command{ID: "c-2", Action: messages.ActionStart, Speed: 2})
	require.NotNil(t, out.Reject)
	require.Equal(t, messages.CodeInvalidTransition, out.Reject.Code)

	// maintenance toggles are device-wide only
	out = r.proc.Handle(0, messages.Command{ID: "c-3", Action: messages.ActionMaintenanceOff})
	require.NotNil(t, out.Reject)

	require.True(t, r.proc.Handle(topic.DeviceWide, messages.Command{ID: "c-4", Action: messages.ActionMaintenanceOff}).Accepted)
	require.True(t, r.proc.Handle(0, messages.Command{ID: "c-5", Action: messages.ActionStart, Speed: 2}).Accepted)
}

func TestUnknownActionRejected(t *testing.T) {
	r := newRig(t, 2, 10, false)
	out := r.proc.Handle(0, messages.Command{ID: "c-1", Action: "self-destruct"})
	require.NotNil(t, out.Reject)
	require.Equal(t, messages.CodeInvalidTransition, out.Reject.Code)
}

func TestMotorFailInjection(t *testing.T) {
	r := newRig(t, 2, 10, true)

	out := r.proc.Handle(0, messages.Command{ID: "c-1", Action: messages.ActionStart, Speed: 3})
	require.NotNil(t, out.Reject)
	require.Equal(t, messages.CodeMotorFault, out.Reject.Code)

	snap := r.store.Snapshot()
	require.Equal(t, model.SegFault, snap.Segments[0].State)
	require.Equal(t, model.ModeFault, snap.Mode)

	// The committed fault status is unsolicited: no command id attached.
	st := decodeStatus(t, r.pub.last(t).payload)
	require.Empty(t, st.CommandID)
}

func TestValidationOrderTargetBeforeBounds(t *testing.T) {
	r := newRig(t, 2, 10, false)
	out := r.proc.Handle(7, messages.Command{ID: "c-1", Action: messages.ActionStart, Speed: 99})
	require.NotNil(t, out.Reject)
	require.Equal(t, messages.CodeUnknownTarget, out.Reject.Code, "target check precedes bounds check")
}

func TestSetSpeedQueuesBehindPendingStart(t *testing.T) {
	r := newRig(t, 2, 10, false)
	r.act = NewActuator(r.store, 50*time.Millisecond, 0, r.tel.OnCommit)
	r.proc = NewProcessor(r.store, r.act, r.acks, 10, 5, false)

	out := r.proc.Handle(0, messages.Command{ID: "c-1", Action: messages.ActionStart, Speed: 2})
	require.True(t, out.Accepted)

	// Arrives while c-1 is still in the actuation window: validation must
	// see the scheduled start, not the stale stopped segment.
	out = r.proc.Handle(0, messages.Command{ID: "c-2", Action: messages.ActionSetSpeed, Speed: 9})
	require.Nil(t, out.Reject)
	require.True(t, out.Accepted)
	require.Equal(t, uint64(0), r.store.Snapshot().Seq, "nothing committed yet")

	deadline := time.Now().Add(2 * time.Second)
	for r.store.Snapshot().Seq < 2 {
		require.True(t, time.Now().Before(deadline))
		time.Sleep(time.Millisecond)
	}
	snap := r.store.Snapshot()
	require.Equal(t, model.SegForward, snap.Segments[0].State)
	require.Equal(t, 9, snap.Segments[0].Speed)
}

func TestPendingFaultRejectsFollowupStart(t *testing.T) {
	r := newRig(t, 1, 10, true)
	r.act = NewActuator(r.store, 50*time.Millisecond, 0, r.tel.OnCommit)
	r.proc = NewProcessor(r.store, r.act, r.acks, 10, 5, true)

	out := r.proc.Handle(0, messages.Command{ID: "c-1", Action: messages.ActionStart})
	require.NotNil(t, out.Reject)
	require.Equal(t, messages.CodeMotorFault, out.Reject.Code)

	// The fault is scheduled but not yet committed; a new start is judged
	// against it all the same.
	out = r.proc.Handle(0, messages.Command{ID: "c-2", Action: messages.ActionStart})
	require.NotNil(t, out.Reject)
	require.Equal(t, messages.CodeInvalidTransition, out.Reject.Code)
}
