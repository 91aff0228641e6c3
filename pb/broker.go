package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/trustplane/edge/internal/wire"
)

// BrokerPublishRequest publishes one payload to
// channels/{channel}/messages/{topic}, authenticated as (Id, Pwd).
type BrokerPublishRequest struct {
	Id      string // 1
	Pwd     string // 2
	Channel string // 3
	Topic   string // 4
	Message []byte // 5
}

// BrokerReceiveRequest drains pending messages for a channel. An empty
// Topic subscribes to all known topics.
type BrokerReceiveRequest struct {
	Id      string // 1
	Pwd     string // 2
	Channel string // 3
	Topic   string // 4
}

// BrokerReply acknowledges a publish; Code 0 means the broker accepted
// the message.
type BrokerReply struct {
	Status string // 1
	Code   int32  // 2
}

// BrokerMessagesReply returns pending messages in delivery order.
// Topics[i] names the topic of Messages[i].
type BrokerMessagesReply struct {
	Topics   []string // 1
	Messages [][]byte // 2
	Code     int32    // 3
}

func (m *BrokerPublishRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = wire.AppendString(b, 1, m.Id)
	b = wire.AppendString(b, 2, m.Pwd)
	b = wire.AppendString(b, 3, m.Channel)
	b = wire.AppendString(b, 4, m.Topic)
	b = wire.AppendBytes(b, 5, m.Message)
	return b, nil
}

func (m *BrokerPublishRequest) UnmarshalWire(data []byte) error {
	return wire.WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.Id, err = wire.ConsumeString(typ, v)
		case 2:
			m.Pwd, err = wire.ConsumeString(typ, v)
		case 3:
			m.Channel, err = wire.ConsumeString(typ, v)
		case 4:
			m.Topic, err = wire.ConsumeString(typ, v)
		case 5:
			m.Message, err = wire.ConsumeBytes(typ, v)
		}
		return err
	})
}

func (m *BrokerReceiveRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = wire.AppendString(b, 1, m.Id)
	b = wire.AppendString(b, 2, m.Pwd)
	b = wire.AppendString(b, 3, m.Channel)
	b = wire.AppendString(b, 4, m.Topic)
	return b, nil
}

func (m *BrokerReceiveRequest) UnmarshalWire(data []byte) error {
	return wire.WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.Id, err = wire.ConsumeString(typ, v)
		case 2:
			m.Pwd, err = wire.ConsumeString(typ, v)
		case 3:
			m.Channel, err = wire.ConsumeString(typ, v)
		case 4:
			m.Topic, err = wire.ConsumeString(typ, v)
		}
		return err
	})
}

func (m *BrokerReply) MarshalWire() ([]byte, error) {
	var b []byte
	b = wire.AppendString(b, 1, m.Status)
	b = wire.AppendInt64(b, 2, int64(m.Code))
	return b, nil
}

func (m *BrokerReply) UnmarshalWire(data []byte) error {
	return wire.WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.Status, err = wire.ConsumeString(typ, v)
		case 2:
			var n int64
			n, err = wire.ConsumeInt64(typ, v)
			m.Code = int32(n)
		}
		return err
	})
}

func (m *BrokerMessagesReply) MarshalWire() ([]byte, error) {
	var b []byte
	for _, t := range m.Topics {
		b = wire.AppendString(b, 1, t)
	}
	for _, p := range m.Messages {
		b = wire.AppendBytes(b, 2, p)
	}
	b = wire.AppendInt64(b, 3, int64(m.Code))
	return b, nil
}

func (m *BrokerMessagesReply) UnmarshalWire(data []byte) error {
	return wire.WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			var s string
			s, err = wire.ConsumeString(typ, v)
			if err == nil {
				m.Topics = append(m.Topics, s)
			}
		case 2:
			var p []byte
			p, err = wire.ConsumeBytes(typ, v)
			if err == nil {
				m.Messages = append(m.Messages, p)
			}
		case 3:
			var n int64
			n, err = wire.ConsumeInt64(typ, v)
			m.Code = int32(n)
		}
		return err
	})
}

// BrokerServiceClient is the client surface of the external broker
// bridge.
type BrokerServiceClient interface {
	Publish(ctx context.Context, in *BrokerPublishRequest, opts ...grpc.CallOption) (*BrokerReply, error)
	Receive(ctx context.Context, in *BrokerReceiveRequest, opts ...grpc.CallOption) (*BrokerMessagesReply, error)
}

type brokerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewBrokerServiceClient returns a client bound to conn.
func NewBrokerServiceClient(cc grpc.ClientConnInterface) BrokerServiceClient {
	return &brokerServiceClient{cc: cc}
}

func (c *brokerServiceClient) Publish(ctx context.Context, in *BrokerPublishRequest, opts ...grpc.CallOption) (*BrokerReply, error) {
	out := new(BrokerReply)
	if err := c.cc.Invoke(ctx, "/trustplane.broker.BrokerService/Publish", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *brokerServiceClient) Receive(ctx context.Context, in *BrokerReceiveRequest, opts ...grpc.CallOption) (*BrokerMessagesReply, error) {
	out := new(BrokerMessagesReply)
	if err := c.cc.Invoke(ctx, "/trustplane.broker.BrokerService/Receive", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
