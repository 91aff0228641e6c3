// Package gateway wraps the external identity, streams and broker
// services behind small typed interfaces. Every call carries its own
// deadline; failures are transient from the engine's point of view and
// retried on the next cycle.
package gateway

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ServiceError reports a non-zero application code from a service.
type ServiceError struct {
	Service string
	Op      string
	Code    int32
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s returned code %d", e.Service, e.Op, e.Code)
}

// Identity is the client surface of the DID service.
type Identity interface {
	// CreateIdentity mints a DID for the given credential payload and
	// returns the DID together with the credential as issued.
	CreateIdentity(ctx context.Context, vc string) (did, issuedVC string, err error)

	// ProofIdentity signs the credential over challenge.
	ProofIdentity(ctx context.Context, did, challenge, vc string) (signedVC string, err error)

	// VerifyIdentity checks the signature over challenge against the
	// ledger-resolved document for did. The bool is false when the
	// service answered but rejected the proof.
	VerifyIdentity(ctx context.Context, did, challenge, signedVC string) (bool, error)
}

// Streams is the client surface of the DLT stream service. All links
// are opaque.
type Streams interface {
	CreateAuthor(ctx context.Context, id string) (announcementLink string, err error)
	CreateSubscriber(ctx context.Context, id, announcementLink string) (subscriptionLink string, err error)
	AddSubscriber(ctx context.Context, id, subscriptionLink string) error
	CreateKeyload(ctx context.Context, id string) (keyloadLink string, err error)
	ReceiveKeyload(ctx context.Context, id, keyloadLink string) error
	SendMessage(ctx context.Context, id, prevLink, payload string) (newLink string, err error)
	ReceiveMessages(ctx context.Context, id string) (latestLink string, payloads []string, err error)
}

// InboundMessage is one broker message in delivery order.
type InboundMessage struct {
	Topic   string
	Payload []byte
}

// Broker is the client surface of the broker bridge.
type Broker interface {
	Publish(ctx context.Context, channel, topic string, payload []byte) error
	Receive(ctx context.Context, channel string) ([]InboundMessage, error)
}

// Dial opens a client connection to a service socket. Connections are
// lazy; per-call deadlines bound each RPC.
func Dial(socket string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(socket, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", socket, err)
	}
	return conn, nil
}

// withDeadline derives the per-call context.
func withDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
