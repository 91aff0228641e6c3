package engine

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustplane/edge/internal/config"
	"github.com/trustplane/edge/internal/store"
	"github.com/trustplane/edge/internal/wire"
)

// Publisher-side handshake: a verified peer's subscription link is
// admitted, the counter advances, and reaching the expected count mints
// and broadcasts the keyload.
func TestPublisherAdmitsSubscriberAndMintsKeyload(t *testing.T) {
	b := newBench(t, config.RolePublisher)
	ctx := context.Background()

	require.NoError(t, b.idx.SaveStream(ctx, store.Stream{ChannelID: b.channel.ID, AnnLink: "ann-1"}))
	_, err := b.idx.EnsureIdentity(ctx, peerDID)
	require.NoError(t, err)
	require.NoError(t, b.idx.SetIdentityVerified(ctx, peerDID, true))

	b.enqueue(t, &wire.Streams{Did: peerDID, SubscriptionLink: "sub-2"})
	b.cycle(t)

	assert.Equal(t, 1, b.streams.AddSubscriberCalls)

	stream, err := b.idx.StreamByChannel(ctx, b.channel.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stream.NumSubs)
	assert.Equal(t, "key:dev-1", stream.KeyLink)

	peer, err := b.idx.IdentityByDID(ctx, peerDID)
	require.NoError(t, err)
	assert.True(t, peer.Subscribed)

	// The keyload is broadcast on the stream topic.
	var sawKeyload bool
	for i := range b.broker.PublishedOn(wire.TopicStream) {
		m := decodePublished(t, b, wire.TopicStream, i).(*wire.Streams)
		if m.KeyloadLink == "key:dev-1" {
			sawKeyload = true
			assert.Equal(t, selfDID, m.Did)
		}
	}
	assert.True(t, sawKeyload)
}

// Below the expected subscriber count no keyload is minted.
func TestPublisherWaitsForExpectedSubscribers(t *testing.T) {
	b := newBench(t, config.RolePublisher)
	b.eng.cfg.ExpectedSubscribers = 2
	ctx := context.Background()

	require.NoError(t, b.idx.SaveStream(ctx, store.Stream{ChannelID: b.channel.ID, AnnLink: "ann-1"}))
	_, err := b.idx.EnsureIdentity(ctx, peerDID)
	require.NoError(t, err)
	require.NoError(t, b.idx.SetIdentityVerified(ctx, peerDID, true))

	b.enqueue(t, &wire.Streams{Did: peerDID, SubscriptionLink: "sub-2"})
	b.cycle(t)

	stream, err := b.idx.StreamByChannel(ctx, b.channel.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stream.NumSubs)
	assert.Empty(t, stream.KeyLink)
}

// Subscriber-side handshake: announcement → join and reply with the
// subscription link; keyload → accept and mark the author subscribed.
func TestSubscriberHandshake(t *testing.T) {
	b := newBench(t, config.RoleSubscriber)
	ctx := context.Background()

	_, err := b.idx.EnsureIdentity(ctx, peerDID)
	require.NoError(t, err)
	require.NoError(t, b.idx.SetIdentityVerified(ctx, peerDID, true))

	b.enqueue(t, &wire.Streams{Did: peerDID, AnnouncementLink: "ann-1"})
	b.cycle(t)

	stream, err := b.idx.StreamByChannel(ctx, b.channel.ID)
	require.NoError(t, err)
	assert.Equal(t, "ann-1", stream.AnnLink)
	assert.Equal(t, "sub:chan-1", stream.SubLink)

	reply := decodePublished(t, b, wire.TopicStream, 0).(*wire.Streams)
	assert.Equal(t, "sub:chan-1", reply.SubscriptionLink)
	assert.Equal(t, selfDID, reply.Did)

	b.enqueue(t, &wire.Streams{Did: peerDID, KeyloadLink: "key-3"})
	b.cycle(t)

	stream, err = b.idx.StreamByChannel(ctx, b.channel.ID)
	require.NoError(t, err)
	assert.Equal(t, "key-3", stream.KeyLink)

	peer, err := b.idx.IdentityByDID(ctx, peerDID)
	require.NoError(t, err)
	assert.True(t, peer.Subscribed)
}

// A repeated announcement does not create a second subscription.
func TestSubscriberIgnoresRepeatedAnnouncement(t *testing.T) {
	b := newBench(t, config.RoleSubscriber)
	ctx := context.Background()

	_, err := b.idx.EnsureIdentity(ctx, peerDID)
	require.NoError(t, err)
	require.NoError(t, b.idx.SetIdentityVerified(ctx, peerDID, true))

	b.enqueue(t, &wire.Streams{Did: peerDID, AnnouncementLink: "ann-1"})
	b.cycle(t)
	b.enqueue(t, &wire.Streams{Did: peerDID, AnnouncementLink: "ann-1"})
	b.cycle(t)

	assert.Len(t, b.broker.PublishedOn(wire.TopicStream), 1)
}

// An unknown peer repeatedly failing verification becomes unverifiable
// and its stream messages are ignored from then on.
func TestPeerBecomesUnverifiable(t *testing.T) {
	b := newBench(t, config.RolePublisher)
	ctx := context.Background()

	_, err := b.idx.EnsureIdentity(ctx, "did:iota:shady")
	require.NoError(t, err)

	for i := 0; i < 11; i++ {
		b.cycle(t)
	}

	peer, err := b.idx.IdentityByDID(ctx, "did:iota:shady")
	require.NoError(t, err)
	assert.True(t, peer.Unverifiable)
	assert.False(t, peer.Verified)
	assert.Len(t, b.broker.PublishedOn(wire.TopicDID), 10)

	// Stream messages from the peer are now ignored.
	b.enqueue(t, &wire.Streams{Did: "did:iota:shady", SubscriptionLink: "sub-x"})
	b.cycle(t)
	assert.Equal(t, 0, b.streams.AddSubscriberCalls)

	// And a late successful proof cannot resurrect it.
	require.NoError(t, b.idx.SetIdentityVerified(ctx, "did:iota:shady", true))
	peer, err = b.idx.IdentityByDID(ctx, "did:iota:shady")
	require.NoError(t, err)
	assert.False(t, peer.Verified)
}

// Settings with a key timestamp land the CA material on disk.
func TestSettingsWritesCACert(t *testing.T) {
	b := newBench(t, config.RoleSubscriber)
	ctx := context.Background()

	b.enqueue(t, &wire.Setting{IP: "198.51.100.7", PKTimestamp: 1700000000, PK: []byte("pem-bytes")})
	b.cycle(t)

	data, err := os.ReadFile(b.eng.cfg.CACertPath)
	require.NoError(t, err)
	assert.Equal(t, "pem-bytes", string(data))

	nodeCfg, err := b.idx.NodeConfigByThing(ctx, b.eng.thing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), nodeCfg.PKTimestamp)
}

// Settings without a key timestamp are presence-only.
func TestSettingsPresenceOnly(t *testing.T) {
	b := newBench(t, config.RoleSubscriber)

	b.enqueue(t, &wire.Setting{IP: "198.51.100.7"})
	b.cycle(t)

	_, err := os.Stat(b.eng.cfg.CACertPath)
	assert.True(t, os.IsNotExist(err))
}
