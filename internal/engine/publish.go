package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/trustplane/edge/internal/store"
	"github.com/trustplane/edge/internal/wire"
)

// publishPending drains the channel's pending readings. Rows not yet on
// the bus go out first; rows confirmed by a peer are then anchored on
// the ledger, but only while the keyload gates the reader set. With no
// keyload yet, the announcement is re-published to solicit subscribers.
func (e *Engine) publishPending(ctx context.Context, ch store.Channel) error {
	if err := e.publishBusPending(ctx, ch); err != nil {
		return err
	}

	stream, err := e.idx.StreamByChannel(ctx, ch.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if stream.KeyLink == "" {
		if stream.AnnLink == "" {
			return nil
		}
		return e.publishEnvelope(ctx, ch, &wire.Streams{
			Did:              e.self.DID,
			VC:               e.self.VC,
			AnnouncementLink: stream.AnnLink,
		})
	}
	return e.anchorPending(ctx, ch, stream)
}

// publishBusPending pushes readings with mqtt=false onto the bus and
// marks them on broker ack.
func (e *Engine) publishBusPending(ctx context.Context, ch store.Channel) error {
	rows, err := e.idx.PendingBus(ctx, ch.ID, e.cfg.BatchLimit)
	if err != nil {
		return err
	}
	for _, row := range rows {
		sensor, sensorType, err := e.catalogFor(ctx, row.SensorID)
		if err != nil {
			return err
		}
		msg := &wire.Sensor{
			SensorID:  sensor.Key,
			Name:      sensor.Name,
			Type:      sensorType.Description,
			Value:     row.Value,
			Unit:      sensorType.Unit,
			Timestamp: row.Timestamp,
		}
		if err := e.publishEnvelope(ctx, ch, msg); err != nil {
			// Transient; the row stays pending for the next cycle.
			e.log.Warn("bus publish failed", "sensor", sensor.Key, "error", err)
			continue
		}
		if err := e.idx.SetReadingFlag(ctx, row.ID, store.FlagMQTT, true); err != nil {
			return err
		}
		e.met.ReadingsPublished.WithLabelValues("mqtt").Inc()
	}
	return nil
}

// anchorPending writes peer-confirmed readings to the ledger stream,
// chaining each message after the previous link.
func (e *Engine) anchorPending(ctx context.Context, ch store.Channel, stream store.Stream) error {
	rows, err := e.idx.PendingLedger(ctx, ch.ID, e.cfg.BatchLimit)
	if err != nil {
		return err
	}
	prev := stream.MsgLink
	if prev == "" {
		prev = stream.KeyLink
	}
	for _, row := range rows {
		sensor, sensorType, err := e.catalogFor(ctx, row.SensorID)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(anchorPayload{
			Did:                  e.self.DID,
			VerifiableCredential: e.self.VC,
			SensorID:             sensor.Key,
			SensorName:           sensor.Name,
			SensorType:           sensorType.Description,
			Value:                row.Value,
			Unit:                 sensorType.Unit,
			Timestamp:            row.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("anchor payload: %w", err)
		}
		newLink, err := e.streams.SendMessage(ctx, e.streamsID(ch), prev, string(payload))
		if err != nil {
			e.log.Warn("ledger anchor failed", "sensor", sensor.Key, "error", err)
			return nil
		}
		if newLink == "" {
			// The stream state did not advance; leave the row pending.
			e.log.Warn("ledger returned empty message link", "sensor", sensor.Key)
			return nil
		}
		if err := e.idx.SetStreamLink(ctx, ch.ID, store.LinkMessage, newLink); err != nil {
			return err
		}
		if err := e.idx.SetReadingFlag(ctx, row.ID, store.FlagIota, true); err != nil {
			return err
		}
		e.met.ReadingsPublished.WithLabelValues("iota").Inc()
		prev = newLink
	}
	return nil
}

func (e *Engine) catalogFor(ctx context.Context, sensorID int64) (store.Sensor, store.SensorType, error) {
	sensor, err := e.idx.SensorByID(ctx, sensorID)
	if err != nil {
		return store.Sensor{}, store.SensorType{}, err
	}
	sensorType, err := e.idx.SensorTypeByID(ctx, sensor.TypeID)
	if err != nil {
		return store.Sensor{}, store.SensorType{}, err
	}
	return sensor, sensorType, nil
}
