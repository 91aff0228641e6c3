// Package bootstrap performs the one-shot node initialization: schema
// migration, thing/channel/catalog rows, the local DID and credential,
// presence announcements, and stream creation. Every step is
// idempotent, guarded by the index's unique constraints, so the whole
// sequence can be retried until it succeeds.
package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/trustplane/edge/internal/challenge"
	"github.com/trustplane/edge/internal/config"
	"github.com/trustplane/edge/internal/gateway"
	"github.com/trustplane/edge/internal/store"
	"github.com/trustplane/edge/internal/wire"
)

// State is what the steady-state loop needs from a completed bootstrap.
type State struct {
	Thing    store.Thing
	Self     store.Identification
	Channels []store.Channel
}

// Bootstrap wires the one-shot initialization.
type Bootstrap struct {
	cfg      *config.Config
	idx      store.Index
	identity gateway.Identity
	streams  gateway.Streams
	broker   gateway.Broker
	log      *slog.Logger

	httpClient *http.Client
}

// New assembles a bootstrap.
func New(cfg *config.Config, idx store.Index, identity gateway.Identity, streams gateway.Streams, broker gateway.Broker, log *slog.Logger) *Bootstrap {
	return &Bootstrap{
		cfg:      cfg,
		idx:      idx,
		identity: identity,
		streams:  streams,
		broker:   broker,
		log:      log,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Retry runs the bootstrap with a fixed back-off until it succeeds or
// ctx is cancelled. The steady-state loop must not start before this
// returns.
func (b *Bootstrap) Retry(ctx context.Context, backoff time.Duration) (*State, error) {
	if backoff == 0 {
		backoff = 10 * time.Second
	}
	for {
		state, err := b.Run(ctx)
		if err == nil {
			return state, nil
		}
		b.log.Error("bootstrap failed, retrying", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// Run executes one bootstrap attempt.
func (b *Bootstrap) Run(ctx context.Context) (*State, error) {
	if err := b.idx.Migrate(ctx); err != nil {
		return nil, err
	}

	thing, err := b.idx.EnsureThing(ctx, b.cfg.ThingKey)
	if err != nil {
		return nil, err
	}

	keys := b.cfg.AllChannels()
	channels := make([]store.Channel, 0, len(keys))
	for _, key := range keys {
		ch, err := b.idx.EnsureChannel(ctx, thing.ID, key)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}

	self, err := b.ensureIdentification(ctx, thing, channels)
	if err != nil {
		return nil, err
	}

	if err := b.recordExternalIP(ctx, thing, channels); err != nil {
		return nil, err
	}

	if err := b.ensureSensorCatalog(ctx, channels); err != nil {
		return nil, err
	}

	for _, ch := range channels {
		if err := b.ensureStream(ctx, ch, self); err != nil {
			return nil, err
		}
	}

	b.log.Info("node initialized",
		"thing", thing.Key, "did", self.DID, "role", string(b.cfg.Role), "channels", len(channels))
	return &State{Thing: thing, Self: self, Channels: channels}, nil
}

// deviceCredential is the claim payload bound to the minted DID.
func deviceCredential(cfg *config.Config) (string, error) {
	doc := map[string]any{
		"device": map[string]string{
			"type": cfg.DeviceType,
			"id":   cfg.DeviceID,
			"name": cfg.DeviceName,
		},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("bootstrap: credential: %w", err)
	}
	return string(raw), nil
}

// ensureIdentification loads the local DID, minting one on first start.
// A fresh DID is announced to every channel as a signed credential so
// peers can verify it without a round trip.
func (b *Bootstrap) ensureIdentification(ctx context.Context, thing store.Thing, channels []store.Channel) (store.Identification, error) {
	self, err := b.idx.Identification(ctx, thing.ID)
	if err == nil {
		return self, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Identification{}, err
	}

	vc, err := deviceCredential(b.cfg)
	if err != nil {
		return store.Identification{}, err
	}
	did, issuedVC, err := b.identity.CreateIdentity(ctx, vc)
	if err != nil {
		return store.Identification{}, err
	}
	self = store.Identification{ThingID: thing.ID, DID: did, VC: issuedVC}
	if err := b.idx.SaveIdentification(ctx, self); err != nil {
		return store.Identification{}, err
	}

	seq, err := challenge.NewSequence()
	if err != nil {
		return store.Identification{}, err
	}
	signed, err := b.identity.ProofIdentity(ctx, did, seq, issuedVC)
	if err != nil {
		return store.Identification{}, err
	}
	announcement := &wire.Identity{DID: wire.DID{
		Did:       did,
		Challenge: seq,
		VC:        signed,
		Proof:     false,
	}}
	payload, err := announcement.Marshal()
	if err != nil {
		return store.Identification{}, err
	}
	for _, ch := range channels {
		if err := b.broker.Publish(ctx, ch.Key, wire.TopicIdentity, payload); err != nil {
			return store.Identification{}, err
		}
	}
	b.log.Info("identity announced", "did", did)
	return self, nil
}

// recordExternalIP resolves and persists the public address. The
// Publisher additionally announces its presence on the settings topic.
func (b *Bootstrap) recordExternalIP(ctx context.Context, thing store.Thing, channels []store.Channel) error {
	ip, err := b.externalIP(ctx)
	if err != nil {
		return err
	}
	if err := b.idx.EnsureNodeConfig(ctx, thing.ID, ip); err != nil {
		return err
	}
	if !b.cfg.IsPublisher() {
		return nil
	}
	payload, err := (&wire.Setting{IP: ip}).Marshal()
	if err != nil {
		return err
	}
	for _, ch := range channels {
		if err := b.broker.Publish(ctx, ch.Key, wire.TopicSettings, payload); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bootstrap) externalIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.IPEchoURL, nil)
	if err != nil {
		return "", fmt.Errorf("bootstrap: ip echo request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("bootstrap: resolve external ip: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bootstrap: ip echo status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", fmt.Errorf("bootstrap: read ip echo: %w", err)
	}
	return string(raw), nil
}

// ensureSensorCatalog seeds sensor types and sensors for the locally
// attached sensors. Only the Publisher owns a catalog up front; a
// Subscriber learns sensors from the data it mirrors.
func (b *Bootstrap) ensureSensorCatalog(ctx context.Context, channels []store.Channel) error {
	if !b.cfg.IsPublisher() {
		return nil
	}
	byKey := make(map[string]store.Channel, len(channels))
	for _, ch := range channels {
		byKey[ch.Key] = ch
	}
	for _, spec := range b.cfg.Sensors {
		ch, ok := byKey[spec.Channel]
		if !ok {
			return fmt.Errorf("bootstrap: sensor %s references unknown channel %s", spec.Key, spec.Channel)
		}
		sensorType, err := b.idx.EnsureSensorType(ctx, spec.Type, spec.Unit)
		if err != nil {
			return err
		}
		if _, err := b.idx.EnsureSensor(ctx, ch.ID, sensorType.ID, spec.Key, spec.Name); err != nil {
			return err
		}
	}
	return nil
}

// ensureStream establishes the channel's ledger stream link state. The
// Publisher creates the stream and broadcasts its announcement; a
// Subscriber with a pre-seeded announcement link joins immediately.
func (b *Bootstrap) ensureStream(ctx context.Context, ch store.Channel, self store.Identification) error {
	_, err := b.idx.StreamByChannel(ctx, ch.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if b.cfg.PublisherFor(ch.Key) {
		annLink, err := b.streams.CreateAuthor(ctx, b.cfg.DeviceID)
		if err != nil {
			return err
		}
		if err := b.idx.SaveStream(ctx, store.Stream{ChannelID: ch.ID, AnnLink: annLink}); err != nil {
			return err
		}
		payload, err := (&wire.Streams{
			Did:              self.DID,
			VC:               self.VC,
			AnnouncementLink: annLink,
		}).Marshal()
		if err != nil {
			return err
		}
		return b.broker.Publish(ctx, ch.Key, wire.TopicStream, payload)
	}

	if b.cfg.PublicAnnLink == "" || ch.Key != config.PublicChannelKey {
		// The stream row appears when the author announces over the bus.
		return nil
	}
	return b.joinSeededStream(ctx, ch, self)
}

// joinSeededStream subscribes immediately to a stream whose
// announcement link arrived out of band.
func (b *Bootstrap) joinSeededStream(ctx context.Context, ch store.Channel, self store.Identification) error {
	if err := b.idx.SaveStream(ctx, store.Stream{ChannelID: ch.ID, AnnLink: b.cfg.PublicAnnLink}); err != nil {
		return err
	}
	subLink, err := b.streams.CreateSubscriber(ctx, ch.Key, b.cfg.PublicAnnLink)
	if err != nil {
		return err
	}
	if err := b.idx.SetStreamLink(ctx, ch.ID, store.LinkSubscription, subLink); err != nil {
		return err
	}
	payload, err := (&wire.Streams{
		Did:              self.DID,
		VC:               self.VC,
		SubscriptionLink: subLink,
	}).Marshal()
	if err != nil {
		return err
	}
	return b.broker.Publish(ctx, ch.Key, wire.TopicStream, payload)
}
