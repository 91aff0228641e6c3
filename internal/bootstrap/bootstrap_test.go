package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustplane/edge/internal/config"
	"github.com/trustplane/edge/internal/gateway"
	"github.com/trustplane/edge/internal/store"
	"github.com/trustplane/edge/internal/wire"
)

type fixture struct {
	boot     *Bootstrap
	idx      *store.Memory
	identity *gateway.MockIdentity
	streams  *gateway.MockStreams
	broker   *gateway.MockBroker
	cfg      *config.Config
}

func newFixture(t *testing.T, role config.Role) *fixture {
	t.Helper()
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "203.0.113.9")
	}))
	t.Cleanup(echo.Close)

	cfg := &config.Config{
		Role:                role,
		DeviceID:            "dev-1",
		DeviceName:          "boiler-gw",
		DeviceType:          "gateway",
		ThingKey:            "thing-1",
		Channels:            []string{config.PublicChannelKey},
		ExpectedSubscribers: 1,
		IPEchoURL:           echo.URL,
		Sensors: []config.SensorSpec{
			{Key: "s1", Name: "boiler", Type: "temperature", Unit: "C", Channel: config.PublicChannelKey},
		},
	}

	f := &fixture{
		idx:      store.NewMemory(),
		identity: &gateway.MockIdentity{},
		streams:  &gateway.MockStreams{},
		broker:   &gateway.MockBroker{},
		cfg:      cfg,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.boot = New(cfg, f.idx, f.identity, f.streams, f.broker, log)
	return f
}

func TestBootstrapPublisher(t *testing.T) {
	f := newFixture(t, config.RolePublisher)
	ctx := context.Background()

	state, err := f.boot.Run(ctx)
	require.NoError(t, err)
	require.Len(t, state.Channels, 1)
	assert.Equal(t, "did:mock:self", state.Self.DID)

	// The catalog is seeded.
	sensor, err := f.idx.SensorByKey(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, state.Channels[0].ID, sensor.ChannelID)

	// The stream is announced and persisted.
	stream, err := f.idx.StreamByChannel(ctx, state.Channels[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "ann:dev-1", stream.AnnLink)

	// The public address is on record.
	nodeCfg, err := f.idx.NodeConfigByThing(ctx, state.Thing.ID)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", nodeCfg.IP)

	// Identity broadcast, settings presence, and announcement on the bus.
	assert.Len(t, f.broker.PublishedOn(wire.TopicIdentity), 1)
	assert.Len(t, f.broker.PublishedOn(wire.TopicSettings), 1)
	assert.Len(t, f.broker.PublishedOn(wire.TopicStream), 1)

	announced := f.broker.PublishedOn(wire.TopicIdentity)[0]
	m, err := wire.Decode(wire.TopicIdentity, announced.Payload)
	require.NoError(t, err)
	ident := m.(*wire.Identity)
	assert.Equal(t, "did:mock:self", ident.Did)
	assert.False(t, ident.Proof)
	assert.NotEmpty(t, ident.Challenge)
	assert.NotEmpty(t, ident.VC)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	f := newFixture(t, config.RolePublisher)
	ctx := context.Background()

	first, err := f.boot.Run(ctx)
	require.NoError(t, err)
	second, err := f.boot.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.Thing.ID, second.Thing.ID)
	assert.Equal(t, first.Self.DID, second.Self.DID)
	require.Len(t, second.Channels, 1)
	assert.Equal(t, first.Channels[0].ID, second.Channels[0].ID)

	// The identity is minted exactly once and announced exactly once.
	assert.Equal(t, 1, f.identity.CreateCalls)
	assert.Len(t, f.broker.PublishedOn(wire.TopicIdentity), 1)

	// The stream row survives untouched.
	stream, err := f.idx.StreamByChannel(ctx, first.Channels[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "ann:dev-1", stream.AnnLink)
}

func TestBootstrapSubscriberJoinsSeededStream(t *testing.T) {
	f := newFixture(t, config.RoleSubscriber)
	f.cfg.PublicAnnLink = "ann-public"
	ctx := context.Background()

	state, err := f.boot.Run(ctx)
	require.NoError(t, err)

	stream, err := f.idx.StreamByChannel(ctx, state.Channels[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "ann-public", stream.AnnLink)
	assert.Equal(t, "sub:"+config.PublicChannelKey, stream.SubLink)

	// No settings presence for a subscriber, but the join is published.
	assert.Empty(t, f.broker.PublishedOn(wire.TopicSettings))
	require.Len(t, f.broker.PublishedOn(wire.TopicStream), 1)
	m, err := wire.Decode(wire.TopicStream, f.broker.PublishedOn(wire.TopicStream)[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "sub:"+config.PublicChannelKey, m.(*wire.Streams).SubscriptionLink)
}

func TestBootstrapSubscriberWithoutSeedWaits(t *testing.T) {
	f := newFixture(t, config.RoleSubscriber)
	ctx := context.Background()

	state, err := f.boot.Run(ctx)
	require.NoError(t, err)

	_, err = f.idx.StreamByChannel(ctx, state.Channels[0].ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Subscribers do not seed a catalog.
	_, err = f.idx.SensorByKey(ctx, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
