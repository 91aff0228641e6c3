package engine

import (
	"context"
	"errors"

	"github.com/trustplane/edge/internal/challenge"
	"github.com/trustplane/edge/internal/store"
	"github.com/trustplane/edge/internal/wire"
)

// requestVerification challenges every peer still in the unknown state.
// Each pass issues a fresh random challenge and bumps the attempt
// counter; a peer that exhausts the budget is marked unverifiable and
// ignored from then on.
func (e *Engine) requestVerification(ctx context.Context, ch store.Channel) error {
	peers, err := e.idx.UnverifiedIdentities(ctx, 10)
	if err != nil {
		return err
	}
	for _, peer := range peers {
		rec, err := e.challenges.Outstanding(ctx, peer.DID)
		if err != nil && !errors.Is(err, challenge.ErrNone) {
			return err
		}
		if rec.Attempts >= e.cfg.VerifyAttempts {
			if err := e.idx.SetIdentityUnverifiable(ctx, peer.DID); err != nil {
				return err
			}
			if err := e.challenges.Clear(ctx, peer.DID); err != nil {
				return err
			}
			e.met.Verifications.WithLabelValues("unverifiable").Inc()
			e.log.Warn("peer marked unverifiable", "did", peer.DID, "attempts", rec.Attempts)
			continue
		}
		seq, err := challenge.NewSequence()
		if err != nil {
			return err
		}
		attempts, err := e.challenges.Issue(ctx, peer.DID, seq)
		if err != nil {
			return err
		}
		if err := e.publishEnvelope(ctx, ch, &wire.DID{
			Did:       peer.DID,
			Challenge: seq,
			Proof:     true,
		}); err != nil {
			e.log.Warn("challenge publish failed", "did", peer.DID, "error", err)
			continue
		}
		e.log.Debug("verification requested", "did", peer.DID, "attempt", attempts)
	}
	return nil
}
