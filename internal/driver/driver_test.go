package driver

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustplane/edge/internal/challenge"
	"github.com/trustplane/edge/internal/config"
	"github.com/trustplane/edge/internal/engine"
	"github.com/trustplane/edge/internal/gateway"
	"github.com/trustplane/edge/internal/intake"
	"github.com/trustplane/edge/internal/metrics"
	"github.com/trustplane/edge/internal/store"
)

func TestDriverCyclesUntilCancelled(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{
		Role:           config.RoleSubscriber,
		DeviceID:       "dev-1",
		ThingKey:       "thing-1",
		Channels:       []string{"chan-1"},
		VerifyAttempts: 10,
		BatchLimit:     20,
	}
	idx := store.NewMemory()
	thing, err := idx.EnsureThing(ctx, cfg.ThingKey)
	require.NoError(t, err)
	ch, err := idx.EnsureChannel(ctx, thing.ID, "chan-1")
	require.NoError(t, err)
	self := store.Identification{ThingID: thing.ID, DID: "did:iota:self", VC: "vc"}
	require.NoError(t, idx.SaveIdentification(ctx, self))

	var receives atomic.Int64
	broker := &gateway.MockBroker{
		ReceiveFn: func(channel string) ([]gateway.InboundMessage, error) {
			receives.Add(1)
			return nil, nil
		},
	}
	eng := engine.New(cfg, idx, &gateway.MockIdentity{}, &gateway.MockStreams{}, broker,
		challenge.NewMemoryStore(), metrics.New(), log, thing, self)
	in := intake.New(idx, log)

	d := New(eng, in, []store.Channel{ch}, 20*time.Millisecond, log)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- d.Run(runCtx) }()

	require.Eventually(t, func() bool { return receives.Load() >= 3 },
		2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop on cancellation")
	}
}
