package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRoundTripAllTopics(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want Message
	}{
		{
			name: "did",
			msg:  &DID{Did: "did:iota:abc", Challenge: "ch-1", VC: `{"a":1}`, Proof: true},
			want: &DID{},
		},
		{
			name: "identity",
			msg:  &Identity{DID: DID{Did: "did:iota:abc", Challenge: "ch-1", VC: "vc"}},
			want: &Identity{},
		},
		{
			name: "stream announcement",
			msg:  &Streams{Did: "did:iota:abc", VC: "vc", AnnouncementLink: "ann-1"},
			want: &Streams{},
		},
		{
			name: "stream subscription",
			msg:  &Streams{Did: "did:iota:abc", VC: "vc", SubscriptionLink: "sub-1"},
			want: &Streams{},
		},
		{
			name: "stream keyload",
			msg:  &Streams{Did: "did:iota:abc", VC: "vc", KeyloadLink: "key-1"},
			want: &Streams{},
		},
		{
			name: "sensor",
			msg: &Sensor{
				SensorID: "s1", Name: "boiler", Type: "temperature",
				Value: "23.4", Unit: "C", Timestamp: 1700000000,
			},
			want: &Sensor{},
		},
		{
			name: "setting",
			msg:  &Setting{IP: "198.51.100.7", PKTimestamp: 1700000000, PK: []byte{0x01, 0x02}},
			want: &Setting{},
		},
		{
			name: "command",
			msg:  &Command{Name: "reboot", Payload: []byte("now")},
			want: &Command{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.msg.Marshal()
			require.NoError(t, err)
			require.NoError(t, tt.want.Unmarshal(data))
			assert.Equal(t, tt.msg, tt.want)
		})
	}
}

func TestDecodeDispatch(t *testing.T) {
	payload, err := (&Sensor{SensorID: "s1", Value: "1", Timestamp: 5}).Marshal()
	require.NoError(t, err)

	m, err := Decode(TopicSensors, payload)
	require.NoError(t, err)
	sensor, ok := m.(*Sensor)
	require.True(t, ok)
	assert.Equal(t, "s1", sensor.SensorID)
	assert.Equal(t, TopicSensors, sensor.Topic())
}

func TestDecodeUnknownTopic(t *testing.T) {
	_, err := Decode("telemetry", nil)
	assert.ErrorIs(t, err, ErrUnknownTopic)
}

func TestDecodeMalformedPayload(t *testing.T) {
	// A dangling tag with no value.
	_, err := Decode(TopicDID, []byte{0x0A})
	assert.Error(t, err)
}

// Unknown fields appended by a newer peer are skipped.
func TestForwardCompatibility(t *testing.T) {
	data, err := (&Sensor{SensorID: "s1", Value: "7", Timestamp: 42}).Marshal()
	require.NoError(t, err)

	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendString(data, "from the future")
	data = protowire.AppendTag(data, 100, protowire.VarintType)
	data = protowire.AppendVarint(data, 7)

	var got Sensor
	require.NoError(t, got.Unmarshal(data))
	assert.Equal(t, "s1", got.SensorID)
	assert.Equal(t, "7", got.Value)
	assert.Equal(t, int64(42), got.Timestamp)
}

func TestEmptyEnvelopeIsZeroBytes(t *testing.T) {
	data, err := (&Command{}).Marshal()
	require.NoError(t, err)
	assert.Empty(t, data)

	var got Command
	require.NoError(t, got.Unmarshal(data))
	assert.Equal(t, Command{}, got)
}

func TestTopicsStable(t *testing.T) {
	assert.Equal(t,
		[]string{"did", "identity", "stream", "sensors", "settings", "command"},
		Topics())
}
