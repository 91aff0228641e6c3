package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/trustplane/edge/internal/wire"
)

// IdentityCreationRequest asks the identity service to mint a DID bound
// to fresh key material and the given credential payload.
type IdentityCreationRequest struct {
	VerifiableCredential string // 1
}

// IdentityRequest addresses an existing DID for proof or verification.
type IdentityRequest struct {
	Did                  string // 1
	Challenge            string // 2
	VerifiableCredential string // 3
}

// IdentityReply is the common response shape; Code 0 means success.
type IdentityReply struct {
	Did                  string // 1
	Challenge            string // 2
	VerifiableCredential string // 3
	Code                 int32  // 4
}

func (m *IdentityCreationRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = wire.AppendString(b, 1, m.VerifiableCredential)
	return b, nil
}

func (m *IdentityCreationRequest) UnmarshalWire(data []byte) error {
	return wire.WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		if num == 1 {
			m.VerifiableCredential, err = wire.ConsumeString(typ, v)
		}
		return err
	})
}

func (m *IdentityRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = wire.AppendString(b, 1, m.Did)
	b = wire.AppendString(b, 2, m.Challenge)
	b = wire.AppendString(b, 3, m.VerifiableCredential)
	return b, nil
}

func (m *IdentityRequest) UnmarshalWire(data []byte) error {
	return wire.WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.Did, err = wire.ConsumeString(typ, v)
		case 2:
			m.Challenge, err = wire.ConsumeString(typ, v)
		case 3:
			m.VerifiableCredential, err = wire.ConsumeString(typ, v)
		}
		return err
	})
}

func (m *IdentityReply) MarshalWire() ([]byte, error) {
	var b []byte
	b = wire.AppendString(b, 1, m.Did)
	b = wire.AppendString(b, 2, m.Challenge)
	b = wire.AppendString(b, 3, m.VerifiableCredential)
	b = wire.AppendInt64(b, 4, int64(m.Code))
	return b, nil
}

func (m *IdentityReply) UnmarshalWire(data []byte) error {
	return wire.WalkFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.Did, err = wire.ConsumeString(typ, v)
		case 2:
			m.Challenge, err = wire.ConsumeString(typ, v)
		case 3:
			m.VerifiableCredential, err = wire.ConsumeString(typ, v)
		case 4:
			var n int64
			n, err = wire.ConsumeInt64(typ, v)
			m.Code = int32(n)
		}
		return err
	})
}

// IdentityServiceClient is the client surface of the external identity
// service.
type IdentityServiceClient interface {
	CreateIdentity(ctx context.Context, in *IdentityCreationRequest, opts ...grpc.CallOption) (*IdentityReply, error)
	ProofIdentity(ctx context.Context, in *IdentityRequest, opts ...grpc.CallOption) (*IdentityReply, error)
	VerifyIdentity(ctx context.Context, in *IdentityRequest, opts ...grpc.CallOption) (*IdentityReply, error)
}

type identityServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewIdentityServiceClient returns a client bound to conn.
func NewIdentityServiceClient(cc grpc.ClientConnInterface) IdentityServiceClient {
	return &identityServiceClient{cc: cc}
}

func (c *identityServiceClient) CreateIdentity(ctx context.Context, in *IdentityCreationRequest, opts ...grpc.CallOption) (*IdentityReply, error) {
	out := new(IdentityReply)
	if err := c.cc.Invoke(ctx, "/trustplane.identity.IdentityService/CreateIdentity", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *identityServiceClient) ProofIdentity(ctx context.Context, in *IdentityRequest, opts ...grpc.CallOption) (*IdentityReply, error) {
	out := new(IdentityReply)
	if err := c.cc.Invoke(ctx, "/trustplane.identity.IdentityService/ProofIdentity", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *identityServiceClient) VerifyIdentity(ctx context.Context, in *IdentityRequest, opts ...grpc.CallOption) (*IdentityReply, error) {
	out := new(IdentityReply)
	if err := c.cc.Invoke(ctx, "/trustplane.identity.IdentityService/VerifyIdentity", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
