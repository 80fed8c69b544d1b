package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"

	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/model/messages"
	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/topic"
	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/pkg/mqttx"
)

// SessionState tracks the broker connection lifecycle.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateReconnecting
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type inboundMsg struct {
	topic   string
	payload []byte
}

// Session owns the broker connection: connect with backoff, command
// subscriptions, reconnect after transport loss, and dispatch of inbound
// messages to the command processor. Publishes run through a circuit
// breaker; nothing is queued while disconnected (at-most-once for the
// simulator's own messages).
type Session struct {
	cfg     mqttx.Config
	scheme  topic.Scheme
	metrics *Metrics

	client  mqtt.Client
	breaker *gobreaker.CircuitBreaker
	inbound chan inboundMsg
	state   atomic.Int32

	proc *Processor
	tel  *Telemetry

	reconnectInitial time.Duration
	reconnectMax     time.Duration
	connectRetries   uint64
}

func NewSession(cfg mqttx.Config, scheme topic.Scheme, metrics *Metrics) *Session {
	s := &Session{
		cfg:              cfg,
		scheme:           scheme,
		metrics:          metrics,
		inbound:          make(chan inboundMsg, 128),
		reconnectInitial: time.Second,
		reconnectMax:     30 * time.Second,
		connectRetries:   5,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mqtt-publish",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	return s
}

// Attach wires the command processor and telemetry publisher. Must be
// called before Connect; the construction order is circular otherwise
// (telemetry publishes through the session).
func (s *Session) Attach(proc *Processor, tel *Telemetry) {
	s.proc = proc
	s.tel = tel
}

// Connect establishes the initial broker session with exponential backoff.
// A credential rejection aborts immediately; transport errors retry up to
// the bounded attempt count.
func (s *Session) Connect(ctx context.Context) error {
	s.setState(StateConnecting)
	opts, err := s.cfg.BuildOptions()
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}
	opts.SetConnectionLostHandler(s.onConnectionLost)
	s.client = mqtt.NewClient(opts)

	bo := reconnectBackoff(s.reconnectInitial, s.reconnectMax, backoff.DefaultRandomizationFactor)
	op := func() error {
		token := s.client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			if isAuthError(err) {
				return backoff.Permanent(fmt.Errorf("authentication rejected: %w", err))
			}
			log.Printf("session: connect failed: %v", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, s.connectRetries), ctx)); err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("broker unreachable: %w", err)
	}
	if err := s.subscribeAll(); err != nil {
		s.client.Disconnect(250)
		s.setState(StateDisconnected)
		return err
	}
	s.setState(StateConnected)
	s.tel.PublishPresence(true)
	return nil
}

// subscribeAll registers the device-wide and per-motor command filters at
// QoS1 (at-least-once delivery is expected from the broker).
func (s *Session) subscribeAll() error {
	return mqttx.Subscribe(s.client, s.scheme.CommandFilters(), 1, s.onMessage)
}

// onMessage runs on the paho callback goroutine; it only feeds the channel
// so transport concerns stay out of command handling.
func (s *Session) onMessage(_ mqtt.Client, msg mqtt.Message) {
	select {
	case s.inbound <- inboundMsg{topic: msg.Topic(), payload: msg.Payload()}:
	default:
		log.Printf("session: inbound queue full, dropping message on %s", msg.Topic())
		s.metrics.InboundOverflow()
	}
}

// Run is the dispatch loop. It blocks until the context is cancelled, then
// closes the session.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case m := <-s.inbound:
			s.dispatch(m)
		}
	}
}

func (s *Session) dispatch(m inboundMsg) {
	t, err := s.scheme.Parse(m.topic)
	if err != nil {
		log.Printf("session: dropping message on %s: %v", m.topic, err)
		s.metrics.DecodeError()
		return
	}
	if t.Kind != topic.KindCommand {
		log.Printf("session: dropping %s message on %s: not a command topic", t.Kind, m.topic)
		s.metrics.DecodeError()
		return
	}
	var cmd messages.Command
	if err := json.Unmarshal(m.payload, &cmd); err != nil {
		log.Printf("session: dropping malformed payload on %s: %v", m.topic, err)
		s.metrics.DecodeError()
		return
	}

	out := s.proc.Handle(t.Segment, cmd)
	switch {
	case out.Replay && out.ReplayPayload != nil:
		s.metrics.CommandReplayed()
		if err := s.Publish(out.ReplayTopic, 0, false, out.ReplayPayload); err != nil {
			log.Printf("session: replay ack for %s: %v", cmd.ID, err)
		}
	case out.Replay:
		// First delivery still in flight; its ack will cover this one.
	case out.Reject != nil:
		s.tel.PublishNack(t.Segment, cmd.ID, out.Reject.Code, out.Reject.Reason)
	case out.Accepted:
		s.metrics.CommandAccepted()
	}
}

// Publish implements BrokerPublisher. Messages are dropped while the
// session is not connected or the breaker is open.
func (s *Session) Publish(tpc string, qos byte, retain bool, payload []byte) error {
	if s.State() != StateConnected {
		s.metrics.PublishFailure()
		return fmt.Errorf("session %s: dropped publish to %s", s.State(), tpc)
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, mqttx.Publish(s.client, tpc, qos, retain, payload)
	})
	if err != nil {
		s.metrics.PublishFailure()
	}
	return err
}

func (s *Session) onConnectionLost(_ mqtt.Client, err error) {
	if s.State() == StateClosed {
		return
	}
	log.Printf("session: connection lost: %v", err)
	s.setState(StateDegraded)
	s.setState(StateReconnecting)
	go s.reconnectLoop()
}

// reconnectLoop retries forever with exponential backoff (jittered, capped
// at reconnectMax) and re-subscribes before the session is considered
// connected again.
func (s *Session) reconnectLoop() {
	bo := reconnectBackoff(s.reconnectInitial, s.reconnectMax, backoff.DefaultRandomizationFactor)
	for s.State() == StateReconnecting {
		time.Sleep(bo.NextBackOff())
		if s.State() != StateReconnecting {
			return
		}
		token := s.client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("session: reconnect failed: %v", err)
			continue
		}
		if err := s.subscribeAll(); err != nil {
			log.Printf("session: resubscribe failed: %v", err)
			s.client.Disconnect(250)
			continue
		}
		s.setState(StateConnected)
		s.metrics.Reconnected()
		s.tel.PublishPresence(true)
		log.Printf("session: reconnected")
		return
	}
}

// Close ends the session for good: publishes the Offline presence marker
// and disconnects. Terminal; the session cannot be reused.
func (s *Session) Close() {
	if s.State() == StateClosed {
		return
	}
	if s.client != nil && s.State() == StateConnected {
		s.tel.PublishPresence(false)
		s.setState(StateClosed)
		s.client.Disconnect(250)
		return
	}
	s.setState(StateClosed)
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Connected reports whether the session is currently usable for publishes.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

func (s *Session) setState(next SessionState) {
	prev := SessionState(s.state.Swap(int32(next)))
	if prev != next {
		log.Printf("session: %s -> %s", prev, next)
	}
}

// reconnectBackoff builds the shared backoff policy: exponential growth
// from initial up to the max ceiling, jittered, never giving up on its own.
func reconnectBackoff(initial, max time.Duration, jitter float64) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = max
	bo.RandomizationFactor = jitter
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
