package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/trustplane/edge/internal/store"
	"github.com/trustplane/edge/internal/wire"
)

// anchorPayload is the JSON shape anchored on the ledger stream.
type anchorPayload struct {
	Did                  string `json:"did"`
	VerifiableCredential string `json:"verifiable_credential"`
	SensorID             string `json:"sensor_id"`
	SensorName           string `json:"sensor_name"`
	SensorType           string `json:"sensor_type"`
	Value                string `json:"value"`
	Unit                 string `json:"unit"`
	Timestamp            int64  `json:"timestamp"`
}

// handleSensors records a reading observed on the bus and then drains
// the ledger stream so the row can converge to verified. A reading may
// arrive on either plane first; the row is created once and the flags
// meet in the middle.
func (e *Engine) handleSensors(ctx context.Context, ch store.Channel, m *wire.Sensor) error {
	if err := e.recordObservation(ctx, ch, observation{
		sensorKey:  m.SensorID,
		sensorName: m.Name,
		typeDescr:  m.Type,
		unit:       m.Unit,
		value:      m.Value,
		timestamp:  m.Timestamp,
		plane:      store.FlagMQTT,
	}); err != nil {
		return err
	}
	return e.mirrorLedger(ctx, ch)
}

// mirrorLedger fetches any ledger messages pending on the channel's
// stream and applies them as iota-plane observations.
func (e *Engine) mirrorLedger(ctx context.Context, ch store.Channel) error {
	stream, err := e.idx.StreamByChannel(ctx, ch.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if stream.KeyLink == "" {
		// Not admitted to the reader set yet.
		return nil
	}
	link, payloads, err := e.streams.ReceiveMessages(ctx, e.streamsID(ch))
	if err != nil {
		return fmt.Errorf("mirror ledger: %w", err)
	}
	if link != "" {
		if err := e.idx.SetStreamLink(ctx, ch.ID, store.LinkMessage, link); err != nil {
			return err
		}
	}
	for _, raw := range payloads {
		var p anchorPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			e.met.ProtocolViolations.Inc()
			e.log.Warn("dropped malformed ledger payload", "error", err)
			continue
		}
		if err := e.recordObservation(ctx, ch, observation{
			sensorKey:  p.SensorID,
			sensorName: p.SensorName,
			typeDescr:  p.SensorType,
			unit:       p.Unit,
			value:      p.Value,
			timestamp:  p.Timestamp,
			plane:      store.FlagIota,
		}); err != nil {
			e.log.Error("ledger observation failed", "sensor", p.SensorID, "error", err)
		}
	}
	return nil
}

// observation is one sighting of a reading on either plane.
type observation struct {
	sensorKey  string
	sensorName string
	typeDescr  string
	unit       string
	value      string
	timestamp  int64
	plane      store.ReadingFlag
}

// recordObservation upserts the catalog rows, then either creates the
// reading for this plane or cross-verifies it against the row the
// other plane created earlier. At most one row exists per
// (sensor, timestamp).
func (e *Engine) recordObservation(ctx context.Context, ch store.Channel, obs observation) error {
	sensorType, err := e.idx.EnsureSensorType(ctx, obs.typeDescr, obs.unit)
	if err != nil {
		return err
	}
	sensor, err := e.idx.EnsureSensor(ctx, ch.ID, sensorType.ID, obs.sensorKey, obs.sensorName)
	if err != nil {
		return err
	}

	row := store.Reading{
		SensorID:  sensor.ID,
		Value:     obs.value,
		Timestamp: obs.timestamp,
		MQTT:      obs.plane == store.FlagMQTT,
		Iota:      obs.plane == store.FlagIota,
	}
	existing, inserted, err := e.idx.InsertReading(ctx, row)
	if err != nil {
		return err
	}
	if inserted {
		e.log.Debug("reading recorded",
			"sensor", obs.sensorKey, "timestamp", obs.timestamp, "plane", string(obs.plane))
		return nil
	}

	// A row already exists: mark this plane seen and cross-verify.
	if err := e.idx.SetReadingFlag(ctx, existing.ID, obs.plane, true); err != nil {
		return err
	}
	if existing.Verified {
		return nil
	}
	if e.observationMatches(existing, sensor, sensorType, obs) {
		if err := e.idx.SetReadingFlag(ctx, existing.ID, store.FlagVerified, true); err != nil {
			return err
		}
		e.met.ReadingsVerified.Inc()
		e.log.Info("reading confirmed on both planes",
			"sensor", obs.sensorKey, "timestamp", obs.timestamp)
	} else {
		e.log.Warn("conflicting evidence for reading",
			"sensor", obs.sensorKey, "timestamp", obs.timestamp,
			"stored_value", existing.Value, "observed_value", obs.value)
	}
	return nil
}

// observationMatches reports whether every comparable field of the
// observation agrees with the stored row and catalog.
func (e *Engine) observationMatches(row store.Reading, sensor store.Sensor, sensorType store.SensorType, obs observation) bool {
	return obs.sensorKey == sensor.Key &&
		obs.sensorName == sensor.Name &&
		obs.typeDescr == sensorType.Description &&
		obs.unit == sensorType.Unit &&
		obs.value == row.Value &&
		obs.timestamp == row.Timestamp
}
