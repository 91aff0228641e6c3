package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/trustplane/edge/internal/challenge"
	"github.com/trustplane/edge/internal/store"
	"github.com/trustplane/edge/internal/wire"
)

// handleDID processes the challenge/response sub-protocol.
//
// Proof=true with our DID: a peer asks us to sign our credential over
// its challenge. Proof=false with a foreign DID: a peer returns a
// signed credential for a challenge we issued earlier.
func (e *Engine) handleDID(ctx context.Context, ch store.Channel, m *wire.DID) error {
	switch {
	case m.Proof && m.Did == e.self.DID:
		signed, err := e.identity.ProofIdentity(ctx, m.Did, m.Challenge, e.self.VC)
		if err != nil {
			return fmt.Errorf("proof own identity: %w", err)
		}
		return e.publishEnvelope(ctx, ch, &wire.DID{
			Did:       e.self.DID,
			Challenge: m.Challenge,
			VC:        signed,
			Proof:     false,
		})

	case !m.Proof && m.Did != e.self.DID:
		rec, err := e.challenges.Outstanding(ctx, m.Did)
		if errors.Is(err, challenge.ErrNone) {
			e.met.ProtocolViolations.Inc()
			e.log.Warn("proof response without outstanding challenge", "did", m.Did)
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Challenge != m.Challenge {
			e.met.ProtocolViolations.Inc()
			e.log.Warn("proof response challenge mismatch", "did", m.Did)
			return nil
		}
		ok, err := e.identity.VerifyIdentity(ctx, m.Did, rec.Challenge, m.VC)
		if err != nil {
			return fmt.Errorf("verify peer: %w", err)
		}
		if !ok {
			e.met.Verifications.WithLabelValues("rejected").Inc()
			e.log.Warn("peer proof rejected", "did", m.Did)
			return nil
		}
		if _, err := e.idx.EnsureIdentity(ctx, m.Did); err != nil {
			return err
		}
		if err := e.idx.SetIdentityVerified(ctx, m.Did, true); err != nil {
			return err
		}
		e.met.Verifications.WithLabelValues("verified").Inc()
		e.log.Info("peer verified", "did", m.Did)
		return e.challenges.Clear(ctx, m.Did)
	}
	return nil
}

// handleIdentity processes the first-contact broadcast of a freshly
// minted DID: verify the self-signed credential immediately and persist
// the peer with the outcome.
func (e *Engine) handleIdentity(ctx context.Context, m *wire.Identity) error {
	if m.Did == e.self.DID {
		return nil
	}
	ok, err := e.identity.VerifyIdentity(ctx, m.Did, m.Challenge, m.VC)
	if err != nil {
		return fmt.Errorf("verify announced identity: %w", err)
	}
	if _, err := e.idx.EnsureIdentity(ctx, m.Did); err != nil {
		return err
	}
	if ok {
		if err := e.idx.SetIdentityVerified(ctx, m.Did, true); err != nil {
			return err
		}
		e.met.Verifications.WithLabelValues("verified").Inc()
		e.log.Info("announced peer verified", "did", m.Did)
	} else {
		e.met.Verifications.WithLabelValues("rejected").Inc()
	}
	return nil
}

// handleStreams advances the stream handshake. The Publisher admits
// verified peers and gates the reader set with a keyload once the
// expected subscriber count is reached; the Subscriber joins announced
// streams and accepts keyloads.
func (e *Engine) handleStreams(ctx context.Context, ch store.Channel, m *wire.Streams) error {
	if m.Did == e.self.DID {
		e.log.Debug("dropped own stream message", "did", m.Did)
		return nil
	}
	peer, err := e.idx.EnsureIdentity(ctx, m.Did)
	if err != nil {
		return err
	}
	if peer.Unverifiable {
		e.log.Debug("ignoring stream message from unverifiable peer", "did", m.Did)
		return nil
	}
	if !peer.Verified {
		// The peer is challenged by the verification pass. An author
		// re-announces its stream every cycle until the keyload exists,
		// so a dropped announcement arrives again; a subscriber sends
		// its subscription link once and does not re-send a dropped one.
		e.log.Debug("stream message from unverified peer deferred", "did", m.Did)
		return nil
	}

	if e.publisherFor(ch) {
		return e.admitSubscriber(ctx, ch, m)
	}
	return e.followStream(ctx, ch, m)
}

// admitSubscriber is the Publisher side of the handshake.
func (e *Engine) admitSubscriber(ctx context.Context, ch store.Channel, m *wire.Streams) error {
	if m.SubscriptionLink == "" {
		return nil
	}
	if err := e.streams.AddSubscriber(ctx, e.streamsID(ch), m.SubscriptionLink); err != nil {
		return fmt.Errorf("admit subscriber: %w", err)
	}
	if err := e.idx.SetIdentitySubscribed(ctx, m.Did); err != nil {
		return err
	}
	stream, err := e.idx.StreamByChannel(ctx, ch.ID)
	if err != nil {
		return err
	}
	nsubs := stream.NumSubs + 1
	if err := e.idx.SetStreamSubscribers(ctx, ch.ID, nsubs); err != nil {
		return err
	}
	e.met.PeersSubscribed.Inc()
	e.log.Info("subscriber admitted", "did", m.Did, "num_subs", nsubs)

	if nsubs < e.cfg.ExpectedSubscribers || stream.KeyLink != "" {
		return nil
	}
	keyLink, err := e.streams.CreateKeyload(ctx, e.streamsID(ch))
	if err != nil {
		return fmt.Errorf("mint keyload: %w", err)
	}
	if err := e.idx.SetStreamLink(ctx, ch.ID, store.LinkKeyload, keyLink); err != nil {
		return err
	}
	return e.publishEnvelope(ctx, ch, &wire.Streams{
		Did:         e.self.DID,
		VC:          e.self.VC,
		KeyloadLink: keyLink,
	})
}

// followStream is the Subscriber side of the handshake.
func (e *Engine) followStream(ctx context.Context, ch store.Channel, m *wire.Streams) error {
	switch {
	case m.AnnouncementLink != "":
		if err := e.idx.SaveStream(ctx, store.Stream{ChannelID: ch.ID}); err != nil {
			return err
		}
		if err := e.idx.SetStreamLink(ctx, ch.ID, store.LinkAnnouncement, m.AnnouncementLink); err != nil {
			return err
		}
		stream, err := e.idx.StreamByChannel(ctx, ch.ID)
		if err != nil {
			return err
		}
		if stream.SubLink != "" {
			// Already joined; the author re-announces until its
			// reader set closes.
			return nil
		}
		subLink, err := e.streams.CreateSubscriber(ctx, e.streamsID(ch), m.AnnouncementLink)
		if err != nil {
			return fmt.Errorf("join stream: %w", err)
		}
		if err := e.idx.SetStreamLink(ctx, ch.ID, store.LinkSubscription, subLink); err != nil {
			return err
		}
		e.log.Info("stream joined", "channel", ch.Key)
		return e.publishEnvelope(ctx, ch, &wire.Streams{
			Did:              e.self.DID,
			VC:               e.self.VC,
			SubscriptionLink: subLink,
		})

	case m.KeyloadLink != "":
		if err := e.streams.ReceiveKeyload(ctx, e.streamsID(ch), m.KeyloadLink); err != nil {
			return fmt.Errorf("accept keyload: %w", err)
		}
		if err := e.idx.SaveStream(ctx, store.Stream{ChannelID: ch.ID}); err != nil {
			return err
		}
		if err := e.idx.SetStreamLink(ctx, ch.ID, store.LinkKeyload, m.KeyloadLink); err != nil {
			return err
		}
		e.log.Info("keyload accepted", "channel", ch.Key)
		return e.idx.SetIdentitySubscribed(ctx, m.Did)
	}
	return nil
}

// handleSettings lands fresh CA material and records the sender's key
// timestamp. A zero PKTimestamp is a bare presence announcement.
func (e *Engine) handleSettings(ctx context.Context, m *wire.Setting) error {
	if m.PKTimestamp == 0 {
		return nil
	}
	if err := e.idx.SetPKTimestamp(ctx, e.thing.ID, m.PKTimestamp); err != nil {
		return err
	}
	if dir := filepath.Dir(e.cfg.CACertPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("settings: prepare cert dir: %w", err)
		}
	}
	if err := os.WriteFile(e.cfg.CACertPath, m.PK, 0o644); err != nil {
		return fmt.Errorf("settings: write ca cert: %w", err)
	}
	e.log.Info("ca certificate updated", "path", e.cfg.CACertPath, "pk_timestamp", m.PKTimestamp)
	return nil
}
