package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/trustplane/edge/internal/wire"
)

// SensorReading is one typed reading pushed by a driver process.
type SensorReading struct {
	SensorId  string // 1
	Value     string // 2
	Unit      string // 3
	Timestamp int64  // 4
}

// SensorReply acknowledges a reading; Code 0 means persisted (or
// already present).
type SensorReply struct {
	Status string // 1
	Code   int32  // 2
}

func (m *SensorReading) MarshalWire() ([]byte, error) {
	var b []byte
	b = wire.AppendString(b, 1, m.SensorId)
	b = wire.AppendString(b, 2, m.Value)
	b = wire.AppendString(b, 3, m.Unit)
	b = wire.AppendInt64(b, 4, m.Timestamp)
	return b, nil
}

func (m *SensorReading) UnmarshalWire(data []byte) error {
	return wire.WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.SensorId, err = wire.ConsumeString(typ, v)
		case 2:
			m.Value, err = wire.ConsumeString(typ, v)
		case 3:
			m.Unit, err = wire.ConsumeString(typ, v)
		case 4:
			m.Timestamp, err = wire.ConsumeInt64(typ, v)
		}
		return err
	})
}

func (m *SensorReply) MarshalWire() ([]byte, error) {
	var b []byte
	b = wire.AppendString(b, 1, m.Status)
	b = wire.AppendInt64(b, 2, int64(m.Code))
	return b, nil
}

func (m *SensorReply) UnmarshalWire(data []byte) error {
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

// SensorAdapterServer is implemented by the node's sensor intake and
// served to driver processes.
type SensorAdapterServer interface {
	SubmitReading(ctx context.Context, in *SensorReading) (*SensorReply, error)
}

// SensorAdapterClient is the driver-side surface, used in tests and by
// driver processes built against this module.
type SensorAdapterClient interface {
	SubmitReading(ctx context.Context, in *SensorReading, opts ...grpc.CallOption) (*SensorReply, error)
}

type sensorAdapterClient struct {
	cc grpc.ClientConnInterface
}

// NewSensorAdapterClient returns a client bound to conn.
func NewSensorAdapterClient(cc grpc.ClientConnInterface) SensorAdapterClient {
	return &sensorAdapterClient{cc: cc}
}

func (c *sensorAdapterClient) SubmitReading(ctx context.Context, in *SensorReading, opts ...grpc.CallOption) (*SensorReply, error) {
	out := new(SensorReply)
	if err := c.cc.Invoke(ctx, "/trustplane.adapter.SensorAdapter/SubmitReading", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func submitReadingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SensorReading)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SensorAdapterServer).SubmitReading(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/trustplane.adapter.SensorAdapter/SubmitReading",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SensorAdapterServer).SubmitReading(ctx, req.(*SensorReading))
	}
	return interceptor(ctx, in, info, handler)
}

// SensorAdapterServiceDesc is the grpc.ServiceDesc for SensorAdapter.
var SensorAdapterServiceDesc = grpc.ServiceDesc{
	ServiceName: "trustplane.adapter.SensorAdapter",
	HandlerType: (*SensorAdapterServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SubmitReading",
			Handler:    submitReadingHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "adapter.proto",
}

// RegisterSensorAdapterServer registers srv on s.
func RegisterSensorAdapterServer(s grpc.ServiceRegistrar, srv SensorAdapterServer) {
	s.RegisterService(&SensorAdapterServiceDesc, srv)
}
