package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trustplane/edge/pb"
)

// IdentityClient adapts the DID service RPC client to the Identity
// interface.
type IdentityClient struct {
	client  pb.IdentityServiceClient
	timeout time.Duration
	log     *slog.Logger
}

// NewIdentityClient wraps a pb client.
func NewIdentityClient(client pb.IdentityServiceClient, timeout time.Duration, log *slog.Logger) *IdentityClient {
	return &IdentityClient{client: client, timeout: timeout, log: log}
}

func (c *IdentityClient) CreateIdentity(ctx context.Context, vc string) (string, string, error) {
	ctx, cancel := withDeadline(ctx, c.timeout)
	defer cancel()
	rep, err := c.client.CreateIdentity(ctx, &pb.IdentityCreationRequest{VerifiableCredential: vc})
	if err != nil {
		return "", "", fmt.Errorf("identity: create: %w", err)
	}
	if rep.Code != 0 {
		return "", "", &ServiceError{Service: "identity", Op: "CreateIdentity", Code: rep.Code}
	}
	c.log.Info("minted identity", "did", rep.Did)
	return rep.Did, rep.VerifiableCredential, nil
}

func (c *IdentityClient) ProofIdentity(ctx context.Context, did, challenge, vc string) (string, error) {
	ctx, cancel := withDeadline(ctx, c.timeout)
	defer cancel()
	rep, err := c.client.ProofIdentity(ctx, &pb.IdentityRequest{
		Did:                  did,
		Challenge:            challenge,
		VerifiableCredential: vc,
	})
	if err != nil {
		return "", fmt.Errorf("identity: proof: %w", err)
	}
	if rep.Code != 0 {
		return "", &ServiceError{Service: "identity", Op: "ProofIdentity", Code: rep.Code}
	}
	return rep.VerifiableCredential, nil
}

func (c *IdentityClient) VerifyIdentity(ctx context.Context, did, challenge, signedVC string) (bool, error) {
	ctx, cancel := withDeadline(ctx, c.timeout)
	defer cancel()
	rep, err := c.client.VerifyIdentity(ctx, &pb.IdentityRequest{
		Did:                  did,
		Challenge:            challenge,
		VerifiableCredential: signedVC,
	})
	if err != nil {
		return false, fmt.Errorf("identity: verify: %w", err)
	}
	return rep.Code == 0, nil
}

var _ Identity = (*IdentityClient)(nil)
