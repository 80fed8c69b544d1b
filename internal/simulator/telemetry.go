package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/model"
	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/model/messages"
	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/topic"
	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/pkg/ackcache"
)

// BrokerPublisher is the outbound side of the session manager.
type BrokerPublisher interface {
	Publish(topic string, qos byte, retain bool, payload []byte) error
}

// Telemetry serializes device state into outbound status, heartbeat, ack
// and presence messages. Acknowledgments are remembered in the ack cache so
// redeliveries replay identical bytes.
type Telemetry struct {
	scheme   topic.Scheme
	out      BrokerPublisher
	store    *Store
	acks     *ackcache.Cache
	metrics  *Metrics
	mirror   *Mirror
	dropRate float64
	randFn   func() float64
	now      func() time.Time
}

func NewTelemetry(scheme topic.Scheme, out BrokerPublisher, store *Store, acks *ackcache.Cache, metrics *Metrics, mirror *Mirror, dropRate float64) *Telemetry {
	return &Telemetry{
		scheme:   scheme,
		out:      out,
		store:    store,
		acks:     acks,
		metrics:  metrics,
		mirror:   mirror,
		dropRate: dropRate,
		randFn:   rand.Float64,
		now:      time.Now,
	}
}

// OnCommit publishes exactly one status message for a committed transition,
// on the segment status topic or the device-wide one. Used as the
// actuator's commit callback.
func (t *Telemetry) OnCommit(snap model.Snapshot, commandID string, segment int) {
	msg := messages.NewStatus(snap, commandID)
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("telemetry: marshal status: %v", err)
		return
	}
	tpc := t.scheme.Status(segment)
	if commandID != "" {
		t.acks.Remember(commandID, tpc, payload)
	}
	t.metrics.TransitionCommitted(snap)
	t.mirror.Record(snap)

	if commandID != "" && t.shouldDrop() {
		log.Printf("telemetry: dropping ack for command %s (drop-rate)", commandID)
		return
	}
	if err := t.out.Publish(tpc, 0, false, payload); err != nil {
		log.Printf("telemetry: publish status: %v", err)
	}
}

// PublishNack publishes a negative acknowledgment on the fault channel and
// remembers it for redelivery replay. Device state is unchanged.
func (t *Telemetry) PublishNack(segment int, commandID, code, reason string) {
	n := messages.Nack{
		CommandID: commandID,
		OK:        false,
		Code:      code,
		Reason:    reason,
		Target:    targetString(segment),
		Timestamp: t.now(),
	}
	payload, err := json.Marshal(n)
	if err != nil {
		log.Printf("telemetry: marshal nack: %v", err)
		return
	}
	tpc := t.scheme.Fault()
	t.acks.Remember(commandID, tpc, payload)
	t.metrics.CommandRejected(code)

	if t.shouldDrop() {
		log.Printf("telemetry: dropping nack for command %s (drop-rate)", commandID)
		return
	}
	if err := t.out.Publish(tpc, 0, false, payload); err != nil {
		log.Printf("telemetry: publish nack: %v", err)
	}
}

// RunHeartbeat publishes a full snapshot on a fixed period regardless of
// activity, until the context is cancelled.
func (t *Telemetry) RunHeartbeat(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			t.PublishHeartbeat()
		}
	}
}

// PublishHeartbeat publishes one heartbeat snapshot immediately.
func (t *Telemetry) PublishHeartbeat() {
	snap := t.store.Snapshot()
	payload, err := json.Marshal(messages.NewStatus(snap, ""))
	if err != nil {
		log.Printf("telemetry: marshal heartbeat: %v", err)
		return
	}
	t.mirror.Record(snap)
	if err := t.out.Publish(t.scheme.Heartbeat(), 0, false, payload); err != nil {
		log.Printf("telemetry: publish heartbeat: %v", err)
	}
}

// PublishPresence publishes the retained Online/Offline marker. Offline is
// also installed as the session's last-will.
func (t *Telemetry) PublishPresence(online bool) {
	msg := "Offline"
	if online {
		msg = "Online"
	}
	payload, _ := json.Marshal(messages.Presence{Message: msg})
	if err := t.out.Publish(t.scheme.Presence(), 1, true, payload); err != nil {
		log.Printf("telemetry: publish presence: %v", err)
	}
}

func (t *Telemetry) shouldDrop() bool {
	return t.dropRate > 0 && t.randFn() < t.dropRate
}

func targetString(segment int) string {
	if segment == topic.DeviceWide {
		return "device"
	}
	return fmt.Sprintf("motor/%d", segment)
}
