package simulator

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/model/messages"
	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/topic"
	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/pkg/ackcache"
)

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

// capturePub records outbound messages instead of touching a broker.
type capturePub struct {
	mu   sync.Mutex
	msgs []published
}

func (c *capturePub) Publish(topic string, qos byte, retain bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic, qos, retain, append([]byte(nil), payload...)})
	return nil
}

func (c *capturePub) all() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]published, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *capturePub) last(t *testing.T) published {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.msgs, "expected at least one publish")
	return c.msgs[len(c.msgs)-1]
}

func (c *capturePub) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

// rig is the full processing pipeline with zero actuation latency and a
// capturing publisher.
type rig struct {
	scheme topic.Scheme
	store  *Store
	acks   *ackcache.Cache
	pub    *capturePub
	tel    *Telemetry
	act    *Actuator
	proc   *Processor
}

func newRig(t *testing.T, segments, maxSpeed int, motorFail bool) *rig {
	t.Helper()
	r := &rig{
		scheme: topic.NewScheme("FARM-T", "pivot-1"),
		store:  NewStore(segments),
		acks:   ackcache.New(time.Minute, 1000),
		pub:    &capturePub{},
	}
	r.tel = NewTelemetry(r.scheme, r.pub, r.store, r.acks, nil, nil, 0)
	r.act = NewActuator(r.store, 0, 0, r.tel.OnCommit)
	r.proc = NewProcessor(r.store, r.act, r.acks, maxSpeed, 5, motorFail)
	return r
}

func decodeStatus(t *testing.T, payload []byte) messages.StatusMessage {
	t.Helper()
	var m messages.StatusMessage
	require.NoError(t, json.Unmarshal(payload, &m))
	return m
}

func decodeNack(t *testing.T, payload []byte) messages.Nack {
	t.Helper()
	var n messages.Nack
	require.NoError(t, json.Unmarshal(payload, &n))
	return n
}
