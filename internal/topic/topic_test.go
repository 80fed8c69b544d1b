package topic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildParseRoundTrip(t *testing.T) {
	s := NewScheme("FARM-42", "pivot-1")

	cases := []struct {
		built string
		want  Topic
	}{
		{s.Command(DeviceWide), Topic{Kind: KindCommand, Segment: DeviceWide}},
		{s.Command(0), Topic{Kind: KindCommand, Segment: 0}},
		{s.Command(7), Topic{Kind: KindCommand, Segment: 7}},
		{s.Status(DeviceWide), Topic{Kind: KindStatus, Segment: DeviceWide}},
		{s.Status(3), Topic{Kind: KindStatus, Segment: 3}},
		{s.Heartbeat(), Topic{Kind: KindHeartbeat, Segment: DeviceWide}},
		{s.Fault(), Topic{Kind: KindFault, Segment: DeviceWide}},
		{s.Presence(), Topic{Kind: KindPresence, Segment: DeviceWide}},
	}
	for _, tc := range cases {
		got, err := s.Parse(tc.built)
		require.NoError(t, err, tc.built)
		require.Equal(t, tc.want, got, tc.built)
	}
}

func TestNoTwoChannelsCollide(t *testing.T) {
	s := NewScheme("f", "d")
	seen := map[string]string{}
	add := func(name, topic string) {
		prev, dup := seen[topic]
		require.False(t, dup, "%s and %s map to %s", prev, name, topic)
		seen[topic] = name
	}
	add("cmd", s.Command(DeviceWide))
	add("status", s.Status(DeviceWide))
	add("heartbeat", s.Heartbeat())
	add("fault", s.Fault())
	add("presence", s.Presence())
	for i := 0; i < 12; i++ {
		add("cmd-seg", s.Command(i))
		add("status-seg", s.Status(i))
	}
}

func TestParseRejectsUnrecognized(t *testing.T) {
	s := NewScheme("FARM-42", "pivot-1")
	bad := []string{
		"",
		"farm/FARM-42/pivot/pivot-1",
		"farm/FARM-42/pivot/pivot-1/bogus",
		"farm/FARM-42/pivot/pivot-2/cmd",      // wrong device
		"farm/OTHER/pivot/pivot-1/cmd",        // wrong farm
		"farm/FARM-42/pivot/pivot-1/motor/x/cmd",
		"farm/FARM-42/pivot/pivot-1/motor/-1/cmd",
		"farm/FARM-42/pivot/pivot-1/motor/01/cmd", // non-canonical index
		"farm/FARM-42/pivot/pivot-1/motor/2/heartbeat",
		"farm/FARM-42/pivot/pivot-1/motor/2",
		"farm/FARM-42/pivot/pivot-1/cmd/extra",
	}
	for _, topic := range bad {
		_, err := s.Parse(topic)
		require.ErrorIs(t, err, ErrUnrecognizedTopic, topic)
	}
}
