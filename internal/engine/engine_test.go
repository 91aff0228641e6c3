package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustplane/edge/internal/challenge"
	"github.com/trustplane/edge/internal/config"
	"github.com/trustplane/edge/internal/gateway"
	"github.com/trustplane/edge/internal/metrics"
	"github.com/trustplane/edge/internal/store"
	"github.com/trustplane/edge/internal/wire"
)

const (
	selfDID = "did:iota:self"
	selfVC  = `{"device":{"id":"dev-1"}}`
	peerDID = "did:iota:peer"
)

type bench struct {
	eng        *Engine
	idx        *store.Memory
	identity   *gateway.MockIdentity
	streams    *gateway.MockStreams
	broker     *gateway.MockBroker
	challenges *challenge.MemoryStore
	channel    store.Channel
}

func newBench(t *testing.T, role config.Role) *bench {
	t.Helper()
	ctx := context.Background()

	cfg := &config.Config{
		Role:                role,
		DeviceID:            "dev-1",
		ThingKey:            "thing-1",
		Channels:            []string{"chan-1"},
		ExpectedSubscribers: 1,
		VerifyAttempts:      10,
		BatchLimit:          20,
		CACertPath:          t.TempDir() + "/ca.crt",
	}

	idx := store.NewMemory()
	thing, err := idx.EnsureThing(ctx, cfg.ThingKey)
	require.NoError(t, err)
	ch, err := idx.EnsureChannel(ctx, thing.ID, "chan-1")
	require.NoError(t, err)
	self := store.Identification{ThingID: thing.ID, DID: selfDID, VC: selfVC}
	require.NoError(t, idx.SaveIdentification(ctx, self))
	require.NoError(t, idx.EnsureNodeConfig(ctx, thing.ID, "192.0.2.1"))

	b := &bench{
		idx:        idx,
		identity:   &gateway.MockIdentity{},
		streams:    &gateway.MockStreams{},
		broker:     &gateway.MockBroker{},
		challenges: challenge.NewMemoryStore(),
		channel:    ch,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b.eng = New(cfg, idx, b.identity, b.streams, b.broker, b.challenges, metrics.New(), log, thing, self)
	return b
}

func (b *bench) enqueue(t *testing.T, m wire.Message) {
	t.Helper()
	payload, err := m.Marshal()
	require.NoError(t, err)
	b.broker.Enqueue(b.channel.Key, m.Topic(), payload)
}

func (b *bench) cycle(t *testing.T) {
	t.Helper()
	require.NoError(t, b.eng.Cycle(context.Background(), b.channel))
}

// decodePublished decodes the i-th recorded publish on a topic.
func decodePublished(t *testing.T, b *bench, topic string, i int) wire.Message {
	t.Helper()
	published := b.broker.PublishedOn(topic)
	require.Greater(t, len(published), i)
	m, err := wire.Decode(topic, published[i].Payload)
	require.NoError(t, err)
	return m
}

func TestIdentityBroadcastVerifiesPeer(t *testing.T) {
	b := newBench(t, config.RoleSubscriber)
	b.enqueue(t, &wire.Identity{DID: wire.DID{
		Did:       peerDID,
		Challenge: "c-1",
		VC:        "signed-vc",
	}})

	b.cycle(t)

	peer, err := b.idx.IdentityByDID(context.Background(), peerDID)
	require.NoError(t, err)
	assert.True(t, peer.Verified)
	assert.False(t, peer.Unverifiable)
	assert.False(t, peer.Subscribed)
	assert.Equal(t, 1, b.identity.VerifyCalls)
}

func TestIdentityBroadcastRejectedStaysUnknown(t *testing.T) {
	b := newBench(t, config.RoleSubscriber)
	b.identity.VerifyFn = func(did, challenge, signedVC string) (bool, error) {
		return false, nil
	}
	b.enqueue(t, &wire.Identity{DID: wire.DID{Did: peerDID, VC: "bad"}})

	b.cycle(t)

	peer, err := b.idx.IdentityByDID(context.Background(), peerDID)
	require.NoError(t, err)
	assert.False(t, peer.Verified)
	assert.False(t, peer.Unverifiable)
}

func TestProofRequestIsAnswered(t *testing.T) {
	b := newBench(t, config.RoleSubscriber)
	b.enqueue(t, &wire.DID{Did: selfDID, Challenge: "c-42", Proof: true})

	b.cycle(t)

	require.Equal(t, 1, b.identity.ProofCalls)
	reply := decodePublished(t, b, wire.TopicDID, 0).(*wire.DID)
	assert.Equal(t, selfDID, reply.Did)
	assert.Equal(t, "c-42", reply.Challenge)
	assert.False(t, reply.Proof)
	assert.NotEmpty(t, reply.VC)
}

func TestProofResponseVerifiesPeer(t *testing.T) {
	b := newBench(t, config.RoleSubscriber)
	ctx := context.Background()
	_, err := b.idx.EnsureIdentity(ctx, peerDID)
	require.NoError(t, err)
	_, err = b.challenges.Issue(ctx, peerDID, "c-77")
	require.NoError(t, err)

	b.enqueue(t, &wire.DID{Did: peerDID, Challenge: "c-77", VC: "signed"})
	b.cycle(t)

	peer, err := b.idx.IdentityByDID(ctx, peerDID)
	require.NoError(t, err)
	assert.True(t, peer.Verified)

	// The challenge is consumed.
	_, err = b.challenges.Outstanding(ctx, peerDID)
	assert.ErrorIs(t, err, challenge.ErrNone)
}

func TestProofResponseChallengeMismatchRejected(t *testing.T) {
	b := newBench(t, config.RoleSubscriber)
	ctx := context.Background()
	_, err := b.idx.EnsureIdentity(ctx, peerDID)
	require.NoError(t, err)
	_, err = b.challenges.Issue(ctx, peerDID, "c-correct")
	require.NoError(t, err)

	b.enqueue(t, &wire.DID{Did: peerDID, Challenge: "c-replayed", VC: "signed"})
	b.cycle(t)

	peer, err := b.idx.IdentityByDID(ctx, peerDID)
	require.NoError(t, err)
	assert.False(t, peer.Verified)
	assert.Equal(t, 0, b.identity.VerifyCalls)
}

func TestSelfLoopMessagesDropped(t *testing.T) {
	b := newBench(t, config.RoleSubscriber)
	ctx := context.Background()

	b.enqueue(t, &wire.Streams{Did: selfDID, AnnouncementLink: "ann-1"})
	b.enqueue(t, &wire.Identity{DID: wire.DID{Did: selfDID, VC: "vc"}})
	b.cycle(t)

	// No stream state and no peer row appeared.
	_, err := b.idx.StreamByChannel(ctx, b.channel.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = b.idx.IdentityByDID(ctx, selfDID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, b.identity.VerifyCalls)
}

func TestUnknownTopicDropped(t *testing.T) {
	b := newBench(t, config.RoleSubscriber)
	b.broker.Enqueue(b.channel.Key, "bogus", []byte{0x01})
	b.cycle(t)

	identities, err := b.idx.Identities(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, identities)
}
