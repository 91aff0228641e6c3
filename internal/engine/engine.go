// Package engine is the reconciliation core. Once per wake period and
// per channel it drains the broker, dispatches each message to its
// topic handler, publishes pending sensor data over both planes, and
// requests verification of peers still in the unknown state. The
// persistence index is the only shared state; every RPC is a
// suspension point with its own deadline.
package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/trustplane/edge/internal/challenge"
	"github.com/trustplane/edge/internal/config"
	"github.com/trustplane/edge/internal/gateway"
	"github.com/trustplane/edge/internal/metrics"
	"github.com/trustplane/edge/internal/store"
	"github.com/trustplane/edge/internal/wire"
)

// Engine drives the trust and replication state machine of one node.
type Engine struct {
	cfg        *config.Config
	idx        store.Index
	identity   gateway.Identity
	streams    gateway.Streams
	broker     gateway.Broker
	challenges challenge.Store
	met        *metrics.Set
	log        *slog.Logger

	thing store.Thing
	self  store.Identification
}

// New assembles an engine. The thing row and local identification are
// established by bootstrap before the engine starts.
func New(
	cfg *config.Config,
	idx store.Index,
	identity gateway.Identity,
	streams gateway.Streams,
	broker gateway.Broker,
	challenges challenge.Store,
	met *metrics.Set,
	log *slog.Logger,
	thing store.Thing,
	self store.Identification,
) *Engine {
	return &Engine{
		cfg:        cfg,
		idx:        idx,
		identity:   identity,
		streams:    streams,
		broker:     broker,
		challenges: challenges,
		met:        met,
		log:        log,
		thing:      thing,
		self:       self,
	}
}

// publisherFor reports whether this node runs the publisher path on a
// channel. A Publisher node still runs the subscriber path on foreign
// channels it merely follows.
func (e *Engine) publisherFor(ch store.Channel) bool {
	return e.cfg.PublisherFor(ch.Key)
}

// streamsID is the identifier a channel's stream state is held under at
// the streams service: the device ID for the owning Publisher, the
// channel key for a Subscriber.
func (e *Engine) streamsID(ch store.Channel) string {
	if e.publisherFor(ch) {
		return e.cfg.DeviceID
	}
	return ch.Key
}

// Cycle runs one reconciliation pass for a channel:
// receive → dispatch → publish pending → request verification.
// Transient failures are logged and left for the next cycle.
func (e *Engine) Cycle(ctx context.Context, ch store.Channel) error {
	log := e.log.With("channel", ch.Key, "cycle", uuid.NewString())
	e.met.Cycles.WithLabelValues(ch.Key).Inc()

	msgs, err := e.broker.Receive(ctx, ch.Key)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := e.dispatch(ctx, ch, msg); err != nil {
			log.Error("handler failed", "topic", msg.Topic, "error", err)
		}
	}

	if e.publisherFor(ch) {
		if err := e.publishPending(ctx, ch); err != nil {
			log.Error("publish pending failed", "error", err)
		}
	}

	if err := e.requestVerification(ctx, ch); err != nil {
		log.Error("verification requests failed", "error", err)
	}
	return nil
}

// dispatch decodes one broker message and routes it to the per-topic
// handler. Decode failures and unknown topics are protocol violations:
// dropped with a log, never retried.
func (e *Engine) dispatch(ctx context.Context, ch store.Channel, msg gateway.InboundMessage) error {
	decoded, err := wire.Decode(msg.Topic, msg.Payload)
	if err != nil {
		e.met.ProtocolViolations.Inc()
		if errors.Is(err, wire.ErrUnknownTopic) {
			e.log.Warn("dropped message on unknown topic", "topic", msg.Topic)
			return nil
		}
		e.log.Warn("dropped malformed payload", "topic", msg.Topic, "error", err)
		return nil
	}
	e.met.Messages.WithLabelValues(msg.Topic).Inc()

	switch m := decoded.(type) {
	case *wire.DID:
		return e.handleDID(ctx, ch, m)
	case *wire.Identity:
		return e.handleIdentity(ctx, m)
	case *wire.Streams:
		return e.handleStreams(ctx, ch, m)
	case *wire.Sensor:
		return e.handleSensors(ctx, ch, m)
	case *wire.Setting:
		return e.handleSettings(ctx, m)
	case *wire.Command:
		// Reserved.
		return nil
	}
	return nil
}

// publishEnvelope encodes and publishes one envelope on the channel.
func (e *Engine) publishEnvelope(ctx context.Context, ch store.Channel, m wire.Message) error {
	payload, err := m.Marshal()
	if err != nil {
		return err
	}
	return e.broker.Publish(ctx, ch.Key, m.Topic(), payload)
}
