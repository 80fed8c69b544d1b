// Package topic maps logical channels to MQTT topic strings and back.
//
// Layout, scoped by farm id F and device id D:
//
//	farm/<F>/pivot/<D>/cmd                device-wide commands (in)
//	farm/<F>/pivot/<D>/motor/<i>/cmd      per-segment commands (in)
//	farm/<F>/pivot/<D>/status             device-wide status (out)
//	farm/<F>/pivot/<D>/motor/<i>/status   per-segment status (out)
//	farm/<F>/pivot/<D>/heartbeat          heartbeat (out)
//	farm/<F>/pivot/<D>/fault              fault notifications (out)
//	farm/<F>/pivot/<D>/presence           retained Online/Offline, LWT (out)
package topic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnrecognizedTopic is returned by Parse for any string outside the
// documented layout.
var ErrUnrecognizedTopic = errors.New("unrecognized topic")

// Kind identifies a logical channel.
type Kind string

const (
	KindCommand   Kind = "cmd"
	KindStatus    Kind = "status"
	KindHeartbeat Kind = "heartbeat"
	KindFault     Kind = "fault"
	KindPresence  Kind = "presence"
)

// DeviceWide is the segment value for topics not scoped to one motor.
const DeviceWide = -1

// Topic is a parsed topic string.
type Topic struct {
	Kind    Kind
	Segment int // DeviceWide unless the topic addresses one motor
}

// Scheme builds and parses topic strings for one farm/device identity.
// It is pure and side-effect free; identities are fixed at startup.
type Scheme struct {
	farm   string
	device string
	prefix string
}

func NewScheme(farm, device string) Scheme {
	return Scheme{
		farm:   farm,
		device: device,
		prefix: fmt.Sprintf("farm/%s/pivot/%s", farm, device),
	}
}

// Command returns the command topic for a segment, or the device-wide
// command topic when segment is DeviceWide.
func (s Scheme) Command(segment int) string {
	if segment == DeviceWide {
		return s.prefix + "/cmd"
	}
	return fmt.Sprintf("%s/motor/%d/cmd", s.prefix, segment)
}

// Status returns the status topic for a segment, or the device-wide status
// topic when segment is DeviceWide.
func (s Scheme) Status(segment int) string {
	if segment == DeviceWide {
		return s.prefix + "/status"
	}
	return fmt.Sprintf("%s/motor/%d/status", s.prefix, segment)
}

func (s Scheme) Heartbeat() string { return s.prefix + "/heartbeat" }
func (s Scheme) Fault() string     { return s.prefix + "/fault" }
func (s Scheme) Presence() string  { return s.prefix + "/presence" }

// CommandFilters returns the subscription filters covering every command
// topic for the device: the device-wide one plus a single-level wildcard
// for all motors.
func (s Scheme) CommandFilters() []string {
	return []string{
		s.prefix + "/cmd",
		s.prefix + "/motor/+/cmd",
	}
}

// Parse recovers the channel kind and segment index from a topic string.
func (s Scheme) Parse(topic string) (Topic, error) {
	rest, ok := strings.CutPrefix(topic, s.prefix+"/")
	if !ok {
		return Topic{}, fmt.Errorf("%w: %q", ErrUnrecognizedTopic, topic)
	}
	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		switch Kind(parts[0]) {
		case KindCommand, KindStatus, KindHeartbeat, KindFault, KindPresence:
			return Topic{Kind: Kind(parts[0]), Segment: DeviceWide}, nil
		}
	case 3:
		if parts[0] != "motor" {
			break
		}
		idx, err := strconv.Atoi(parts[1])
		if err != nil || idx < 0 || strconv.Itoa(idx) != parts[1] {
			break
		}
		switch Kind(parts[2]) {
		case KindCommand, KindStatus:
			return Topic{Kind: Kind(parts[2]), Segment: idx}, nil
		}
	}
	return Topic{}, fmt.Errorf("%w: %q", ErrUnrecognizedTopic, topic)
}
