// Package wire defines the envelopes exchanged on the per-channel broker
// topics and their binary codec. The format is standard protobuf wire
// encoding produced with protowire; unknown fields are skipped on decode
// so newer peers can extend envelopes without breaking older nodes.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Broker topics recognized on every channel.
const (
	TopicDID      = "did"
	TopicIdentity = "identity"
	TopicStream   = "stream"
	TopicSensors  = "sensors"
	TopicSettings = "settings"
	TopicCommand  = "command"
)

// Topics returns all recognized topics in a stable order.
func Topics() []string {
	return []string{TopicDID, TopicIdentity, TopicStream, TopicSensors, TopicSettings, TopicCommand}
}

// ErrUnknownTopic is returned by Decode for a topic outside the six
// recognized ones. Callers treat it as a protocol violation.
var ErrUnknownTopic = fmt.Errorf("wire: unknown topic")

// Message is the tagged variant over the six topic envelopes.
type Message interface {
	Topic() string
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
}

// DID carries an identity challenge or a signed proof response.
// Proof=true asks the holder of Did to sign; Proof=false carries the
// signed credential back.
type DID struct {
	Did       string // 1
	Challenge string // 2
	VC        string // 3
	Proof     bool   // 4
}

// Identity is the first-contact broadcast of a freshly minted DID. It
// shares the DID envelope layout; only the topic differs.
type Identity struct {
	DID
}

// Streams announces exactly one of the three stream links together with
// the sender's identity.
type Streams struct {
	Did              string // 1
	VC               string // 2
	AnnouncementLink string // 3
	SubscriptionLink string // 4
	KeyloadLink      string // 5
}

// Sensor is a single reading disseminated on the bus.
type Sensor struct {
	SensorID  string // 1
	Name      string // 2
	Type      string // 3
	Value     string // 4
	Unit      string // 5
	Timestamp int64  // 6
}

// Setting carries the sender's public IP and, when PKTimestamp is
// non-zero, fresh CA certificate material.
type Setting struct {
	IP          string // 1
	PKTimestamp int64  // 2
	PK          []byte // 3
}

// Command is reserved. Decoded and dropped by the core.
type Command struct {
	Name    string // 1
	Payload []byte // 2
}

func (*DID) Topic() string      { return TopicDID }
func (*Identity) Topic() string { return TopicIdentity }
func (*Streams) Topic() string  { return TopicStream }
func (*Sensor) Topic() string   { return TopicSensors }
func (*Setting) Topic() string  { return TopicSettings }
func (*Command) Topic() string  { return TopicCommand }

// Decode parses payload according to topic and returns the typed
// envelope. Unknown topics yield ErrUnknownTopic.
func Decode(topic string, payload []byte) (Message, error) {
	var m Message
	switch topic {
	case TopicDID:
		m = &DID{}
	case TopicIdentity:
		m = &Identity{}
	case TopicStream:
		m = &Streams{}
	case TopicSensors:
		m = &Sensor{}
	case TopicSettings:
		m = &Setting{}
	case TopicCommand:
		m = &Command{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	if err := m.Unmarshal(payload); err != nil {
		return nil, fmt.Errorf("wire: decode %s: %w", topic, err)
	}
	return m, nil
}

// ============================================================================
// ENCODING
// ============================================================================

func (m *DID) Marshal() ([]byte, error) {
	var b []byte
	b = AppendString(b, 1, m.Did)
	b = AppendString(b, 2, m.Challenge)
	b = AppendString(b, 3, m.VC)
	b = AppendBool(b, 4, m.Proof)
	return b, nil
}

func (m *Identity) Marshal() ([]byte, error) { return m.DID.Marshal() }

func (m *Streams) Marshal() ([]byte, error) {
	var b []byte
	b = AppendString(b, 1, m.Did)
	b = AppendString(b, 2, m.VC)
	b = AppendString(b, 3, m.AnnouncementLink)
	b = AppendString(b, 4, m.SubscriptionLink)
	b = AppendString(b, 5, m.KeyloadLink)
	return b, nil
}

func (m *Sensor) Marshal() ([]byte, error) {
	var b []byte
	b = AppendString(b, 1, m.SensorID)
	b = AppendString(b, 2, m.Name)
	b = AppendString(b, 3, m.Type)
	b = AppendString(b, 4, m.Value)
	b = AppendString(b, 5, m.Unit)
	b = AppendInt64(b, 6, m.Timestamp)
	return b, nil
}

func (m *Setting) Marshal() ([]byte, error) {
	var b []byte
	b = AppendString(b, 1, m.IP)
	b = AppendInt64(b, 2, m.PKTimestamp)
	b = AppendBytes(b, 3, m.PK)
	return b, nil
}

func (m *Command) Marshal() ([]byte, error) {
	var b []byte
	b = AppendString(b, 1, m.Name)
	b = AppendBytes(b, 2, m.Payload)
	return b, nil
}

// ============================================================================
// DECODING
// ============================================================================

func (m *DID) Unmarshal(data []byte) error {
	return WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.Did, err = ConsumeString(typ, v)
		case 2:
			m.Challenge, err = ConsumeString(typ, v)
		case 3:
			m.VC, err = ConsumeString(typ, v)
		case 4:
			m.Proof, err = ConsumeBool(typ, v)
		}
		return err
	})
}

func (m *Identity) Unmarshal(data []byte) error { return m.DID.Unmarshal(data) }

func (m *Streams) Unmarshal(data []byte) error {
	return WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.Did, err = ConsumeString(typ, v)
		case 2:
			m.VC, err = ConsumeString(typ, v)
		case 3:
			m.AnnouncementLink, err = ConsumeString(typ, v)
		case 4:
			m.SubscriptionLink, err = ConsumeString(typ, v)
		case 5:
			m.KeyloadLink, err = ConsumeString(typ, v)
		}
		return err
	})
}

func (m *Sensor) Unmarshal(data []byte) error {
	return WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.SensorID, err = ConsumeString(typ, v)
		case 2:
			m.Name, err = ConsumeString(typ, v)
		case 3:
			m.Type, err = ConsumeString(typ, v)
		case 4:
			m.Value, err = ConsumeString(typ, v)
		case 5:
			m.Unit, err = ConsumeString(typ, v)
		case 6:
			m.Timestamp, err = ConsumeInt64(typ, v)
		}
		return err
	})
}

func (m *Setting) Unmarshal(data []byte) error {
	return WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.IP, err = ConsumeString(typ, v)
		case 2:
			m.PKTimestamp, err = ConsumeInt64(typ, v)
		case 3:
			m.PK, err = ConsumeBytes(typ, v)
		}
		return err
	})
}

func (m *Command) Unmarshal(data []byte) error {
	return WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.Name, err = ConsumeString(typ, v)
		case 2:
			m.Payload, err = ConsumeBytes(typ, v)
		}
		return err
	})
}
