package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/trustplane/edge/internal/wire"
)

// StreamsRequest addresses a stream state held by the streams service
// under Id, optionally carrying a link operand.
type StreamsRequest struct {
	Id   string // 1
	Link string // 2
}

// StreamsReply carries a minted or echoed link; Code 0 means success.
type StreamsReply struct {
	Link string // 1
	Code int32  // 2
}

// StreamsSendRequest appends a payload after MessageLink.
type StreamsSendRequest struct {
	Id          string // 1
	MessageLink string // 2
	Message     string // 3
}

// StreamsMessagesReply returns the payloads fetched since the last call
// together with the new latest link.
type StreamsMessagesReply struct {
	Link     string   // 1
	Messages []string // 2
	Code     int32    // 3
}

func (m *StreamsRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = wire.AppendString(b, 1, m.Id)
	b = wire.AppendString(b, 2, m.Link)
	return b, nil
}

func (m *StreamsRequest) UnmarshalWire(data []byte) error {
	return wire.WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.Id, err = wire.ConsumeString(typ, v)
		case 2:
			m.Link, err = wire.ConsumeString(typ, v)
		}
		return err
	})
}

func (m *StreamsReply) MarshalWire() ([]byte, error) {
	var b []byte
	b = wire.AppendString(b, 1, m.Link)
	b = wire.AppendInt64(b, 2, int64(m.Code))
	return b, nil
}

func (m *StreamsReply) UnmarshalWire(data []byte) error {
	return wire.WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.Link, err = wire.ConsumeString(typ, v)
		case 2:
			var n int64
			n, err = wire.ConsumeInt64(typ, v)
			m.Code = int32(n)
		}
		return err
	})
}

func (m *StreamsSendRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = wire.AppendString(b, 1, m.Id)
	b = wire.AppendString(b, 2, m.MessageLink)
	b = wire.AppendString(b, 3, m.Message)
	return b, nil
}

func (m *StreamsSendRequest) UnmarshalWire(data []byte) error {
	return wire.WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.Id, err = wire.ConsumeString(typ, v)
		case 2:
			m.MessageLink, err = wire.ConsumeString(typ, v)
		case 3:
			m.Message, err = wire.ConsumeString(typ, v)
		}
		return err
	})
}

func (m *StreamsMessagesReply) MarshalWire() ([]byte, error) {
	var b []byte
	b = wire.AppendString(b, 1, m.Link)
	for _, msg := range m.Messages {
		b = wire.AppendString(b, 2, msg)
	}
	b = wire.AppendInt64(b, 3, int64(m.Code))
	return b, nil
}

func (m *StreamsMessagesReply) UnmarshalWire(data []byte) error {
	return wire.WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.Link, err = wire.ConsumeString(typ, v)
		case 2:
			var s string
			s, err = wire.ConsumeString(typ, v)
			if err == nil {
				m.Messages = append(m.Messages, s)
			}
		case 3:
			var n int64
			n, err = wire.ConsumeInt64(typ, v)
			m.Code = int32(n)
		}
		return err
	})
}

// StreamsServiceClient is the client surface of the external DLT stream
// service. Links are opaque to callers.
type StreamsServiceClient interface {
	CreateAuthor(ctx context.Context, in *StreamsRequest, opts ...grpc.CallOption) (*StreamsReply, error)
	CreateSubscriber(ctx context.Context, in *StreamsRequest, opts ...grpc.CallOption) (*StreamsReply, error)
	AddSubscriber(ctx context.Context, in *StreamsRequest, opts ...grpc.CallOption) (*StreamsReply, error)
	CreateKeyload(ctx context.Context, in *StreamsRequest, opts ...grpc.CallOption) (*StreamsReply, error)
	ReceiveKeyload(ctx context.Context, in *StreamsRequest, opts ...grpc.CallOption) (*StreamsReply, error)
	SendMessage(ctx context.Context, in *StreamsSendRequest, opts ...grpc.CallOption) (*StreamsReply, error)
	ReceiveMessages(ctx context.Context, in *StreamsRequest, opts ...grpc.CallOption) (*StreamsMessagesReply, error)
}

type streamsServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewStreamsServiceClient returns a client bound to conn.
func NewStreamsServiceClient(cc grpc.ClientConnInterface) StreamsServiceClient {
	return &streamsServiceClient{cc: cc}
}

func (c *streamsServiceClient) unary(ctx context.Context, method string, in Message, out Message, opts []grpc.CallOption) error {
	return c.cc.Invoke(ctx, "/trustplane.streams.StreamsService/"+method, in, out, opts...)
}

func (c *streamsServiceClient) CreateAuthor(ctx context.Context, in *StreamsRequest, opts ...grpc.CallOption) (*StreamsReply, error) {
	out := new(StreamsReply)
	if err := c.unary(ctx, "CreateAuthor", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *streamsServiceClient) CreateSubscriber(ctx context.Context, in *StreamsRequest, opts ...grpc.CallOption) (*StreamsReply, error) {
	out := new(StreamsReply)
	if err := c.unary(ctx, "CreateSubscriber", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *streamsServiceClient) AddSubscriber(ctx context.Context, in *StreamsRequest, opts ...grpc.CallOption) (*StreamsReply, error) {
	out := new(StreamsReply)
	if err := c.unary(ctx, "AddSubscriber", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *streamsServiceClient) CreateKeyload(ctx context.Context, in *StreamsRequest, opts ...grpc.CallOption) (*StreamsReply, error) {
	out := new(StreamsReply)
	if err := c.unary(ctx, "CreateKeyload", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *streamsServiceClient) ReceiveKeyload(ctx context.Context, in *StreamsRequest, opts ...grpc.CallOption) (*StreamsReply, error) {
	out := new(StreamsReply)
	if err := c.unary(ctx, "ReceiveKeyload", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *streamsServiceClient) SendMessage(ctx context.Context, in *StreamsSendRequest, opts ...grpc.CallOption) (*StreamsReply, error) {
	out := new(StreamsReply)
	if err := c.unary(ctx, "SendMessage", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *streamsServiceClient) ReceiveMessages(ctx context.Context, in *StreamsRequest, opts ...grpc.CallOption) (*StreamsMessagesReply, error) {
	out := new(StreamsMessagesReply)
	if err := c.unary(ctx, "ReceiveMessages", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
