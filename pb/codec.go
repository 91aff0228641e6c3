// Package pb holds the hand-maintained message types, client stubs and
// service descriptors for the external identity, streams and broker
// services, plus the sensor adapter service this node serves itself.
// The wire format is standard protobuf, written with protowire; there
// is no generated-code layer to regenerate.
package pb

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Message is implemented by every RPC message in this package.
type Message interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire(data []byte) error
}

// Codec marshals pb.Message values for gRPC. It registers under the
// standard "proto" name, so within this process it replaces the default
// proto codec; every message crossing a gRPC boundary here is a
// pb.Message.
type Codec struct{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("pb: cannot marshal %T", v)
	}
	return m.MarshalWire()
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("pb: cannot unmarshal into %T", v)
	}
	return m.UnmarshalWire(data)
}

func (Codec) Name() string { return "proto" }

func init() {
	encoding.RegisterCodec(Codec{})
}
