package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Postgres implements Index on database/sql with the pq driver.
// Idempotent inserts lean on the schema's unique constraints via
// ON CONFLICT DO NOTHING, which is what makes bootstrap re-runnable.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS things (
	id         BIGSERIAL PRIMARY KEY,
	thing_key  TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS channels (
	id          BIGSERIAL PRIMARY KEY,
	thing_id    BIGINT NOT NULL REFERENCES things(id),
	channel_key TEXT NOT NULL,
	UNIQUE (thing_id, channel_key)
);
CREATE TABLE IF NOT EXISTS identification (
	id       BIGSERIAL PRIMARY KEY,
	thing_id BIGINT NOT NULL UNIQUE REFERENCES things(id),
	did      TEXT NOT NULL,
	vc       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS identities (
	id           BIGSERIAL PRIMARY KEY,
	did          TEXT NOT NULL UNIQUE,
	verified     BOOLEAN NOT NULL DEFAULT FALSE,
	unverifiable BOOLEAN NOT NULL DEFAULT FALSE,
	subscribed   BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS streams (
	id         BIGSERIAL PRIMARY KEY,
	channel_id BIGINT NOT NULL UNIQUE REFERENCES channels(id),
	ann_link   TEXT NOT NULL DEFAULT '',
	sub_link   TEXT NOT NULL DEFAULT '',
	key_link   TEXT NOT NULL DEFAULT '',
	msg_link   TEXT NOT NULL DEFAULT '',
	num_subs   INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS sensor_types (
	id          BIGSERIAL PRIMARY KEY,
	description TEXT NOT NULL UNIQUE,
	unit        TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS sensors (
	id              BIGSERIAL PRIMARY KEY,
	channel_id      BIGINT NOT NULL REFERENCES channels(id),
	sensor_types_id BIGINT NOT NULL REFERENCES sensor_types(id),
	sensor_key      TEXT NOT NULL UNIQUE,
	sensor_name     TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS sensor_data (
	id           BIGSERIAL PRIMARY KEY,
	sensor_id    BIGINT NOT NULL REFERENCES sensors(id),
	sensor_value TEXT NOT NULL,
	sensor_time  BIGINT NOT NULL,
	mqtt         BOOLEAN NOT NULL DEFAULT FALSE,
	iota         BOOLEAN NOT NULL DEFAULT FALSE,
	verified     BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (sensor_id, sensor_time)
);
CREATE TABLE IF NOT EXISTS config (
	id           BIGSERIAL PRIMARY KEY,
	thing_id     BIGINT NOT NULL UNIQUE REFERENCES things(id),
	ip           TEXT NOT NULL DEFAULT '',
	pk_timestamp BIGINT NOT NULL DEFAULT 0
);
`

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// ============================================================================
// THINGS / CHANNELS
// ============================================================================

func (p *Postgres) EnsureThing(ctx context.Context, key string) (Thing, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO things (thing_key) VALUES ($1) ON CONFLICT (thing_key) DO NOTHING`, key)
	if err != nil {
		return Thing{}, fmt.Errorf("store: ensure thing: %w", err)
	}
	return p.ThingByKey(ctx, key)
}

func (p *Postgres) ThingByKey(ctx context.Context, key string) (Thing, error) {
	var t Thing
	err := p.db.QueryRowContext(ctx,
		`SELECT id, thing_key FROM things WHERE thing_key = $1`, key).Scan(&t.ID, &t.Key)
	if errors.Is(err, sql.ErrNoRows) {
		return Thing{}, ErrNotFound
	}
	if err != nil {
		return Thing{}, fmt.Errorf("store: select thing: %w", err)
	}
	return t, nil
}

func (p *Postgres) EnsureChannel(ctx context.Context, thingID int64, key string) (Channel, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO channels (thing_id, channel_key) VALUES ($1, $2)
		 ON CONFLICT (thing_id, channel_key) DO NOTHING`, thingID, key)
	if err != nil {
		return Channel{}, fmt.Errorf("store: ensure channel: %w", err)
	}
	return p.ChannelByKey(ctx, key)
}

func (p *Postgres) ChannelByKey(ctx context.Context, key string) (Channel, error) {
	var c Channel
	err := p.db.QueryRowContext(ctx,
		`SELECT id, thing_id, channel_key FROM channels WHERE channel_key = $1`, key).
		Scan(&c.ID, &c.ThingID, &c.Key)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrNotFound
	}
	if err != nil {
		return Channel{}, fmt.Errorf("store: select channel: %w", err)
	}
	return c, nil
}

// ============================================================================
// IDENTIFICATION / IDENTITIES
// ============================================================================

func (p *Postgres) Identification(ctx context.Context, thingID int64) (Identification, error) {
	var ident Identification
	err := p.db.QueryRowContext(ctx,
		`SELECT thing_id, did, vc FROM identification WHERE thing_id = $1`, thingID).
		Scan(&ident.ThingID, &ident.DID, &ident.VC)
	if errors.Is(err, sql.ErrNoRows) {
		return Identification{}, ErrNotFound
	}
	if err != nil {
		return Identification{}, fmt.Errorf("store: select identification: %w", err)
	}
	return ident, nil
}

func (p *Postgres) SaveIdentification(ctx context.Context, ident Identification) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO identification (thing_id, did, vc) VALUES ($1, $2, $3)
		 ON CONFLICT (thing_id) DO NOTHING`, ident.ThingID, ident.DID, ident.VC)
	if err != nil {
		return fmt.Errorf("store: save identification: %w", err)
	}
	return nil
}

func (p *Postgres) IdentityByDID(ctx context.Context, did string) (Identity, error) {
	var ident Identity
	err := p.db.QueryRowContext(ctx,
		`SELECT did, verified, unverifiable, subscribed FROM identities WHERE did = $1`, did).
		Scan(&ident.DID, &ident.Verified, &ident.Unverifiable, &ident.Subscribed)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("store: select identity: %w", err)
	}
	return ident, nil
}

func (p *Postgres) EnsureIdentity(ctx context.Context, did string) (Identity, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO identities (did) VALUES ($1) ON CONFLICT (did) DO NOTHING`, did)
	if err != nil {
		return Identity{}, fmt.Errorf("store: ensure identity: %w", err)
	}
	return p.IdentityByDID(ctx, did)
}

func (p *Postgres) SetIdentityVerified(ctx context.Context, did string, verified bool) error {
	// An unverifiable peer never becomes verified again.
	_, err := p.db.ExecContext(ctx,
		`UPDATE identities SET verified = $2 WHERE did = $1 AND unverifiable = FALSE`, did, verified)
	if err != nil {
		return fmt.Errorf("store: update identity: %w", err)
	}
	return nil
}

func (p *Postgres) SetIdentityUnverifiable(ctx context.Context, did string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE identities SET unverifiable = TRUE WHERE did = $1`, did)
	if err != nil {
		return fmt.Errorf("store: update identity: %w", err)
	}
	return nil
}

func (p *Postgres) SetIdentitySubscribed(ctx context.Context, did string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE identities SET subscribed = TRUE WHERE did = $1 AND verified = TRUE`, did)
	if err != nil {
		return fmt.Errorf("store: update identity: %w", err)
	}
	return nil
}

func (p *Postgres) UnverifiedIdentities(ctx context.Context, limit int) ([]Identity, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT did, verified, unverifiable, subscribed FROM identities
		 WHERE verified = FALSE AND unverifiable = FALSE ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: select identities: %w", err)
	}
	return scanIdentities(rows)
}

func (p *Postgres) Identities(ctx context.Context, limit int) ([]Identity, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT did, verified, unverifiable, subscribed FROM identities ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: select identities: %w", err)
	}
	return scanIdentities(rows)
}

func scanIdentities(rows *sql.Rows) ([]Identity, error) {
	defer rows.Close()
	var out []Identity
	for rows.Next() {
		var ident Identity
		if err := rows.Scan(&ident.DID, &ident.Verified, &ident.Unverifiable, &ident.Subscribed); err != nil {
			return nil, fmt.Errorf("store: scan identity: %w", err)
		}
		out = append(out, ident)
	}
	return out, rows.Err()
}

// ============================================================================
// STREAMS
// ============================================================================

func (p *Postgres) StreamByChannel(ctx context.Context, channelID int64) (Stream, error) {
	var s Stream
	err := p.db.QueryRowContext(ctx,
		`SELECT channel_id, ann_link, sub_link, key_link, msg_link, num_subs
		 FROM streams WHERE channel_id = $1`, channelID).
		Scan(&s.ChannelID, &s.AnnLink, &s.SubLink, &s.KeyLink, &s.MsgLink, &s.NumSubs)
	if errors.Is(err, sql.ErrNoRows) {
		return Stream{}, ErrNotFound
	}
	if err != nil {
		return Stream{}, fmt.Errorf("store: select stream: %w", err)
	}
	return s, nil
}

func (p *Postgres) SaveStream(ctx context.Context, s Stream) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO streams (channel_id, ann_link, sub_link, key_link, msg_link, num_subs)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (channel_id) DO NOTHING`,
		s.ChannelID, s.AnnLink, s.SubLink, s.KeyLink, s.MsgLink, s.NumSubs)
	if err != nil {
		return fmt.Errorf("store: save stream: %w", err)
	}
	return nil
}

func (p *Postgres) SetStreamLink(ctx context.Context, channelID int64, link StreamLink, value string) error {
	var query string
	switch link {
	case LinkAnnouncement:
		query = `UPDATE streams SET ann_link = $2 WHERE channel_id = $1`
	case LinkSubscription:
		query = `UPDATE streams SET sub_link = $2 WHERE channel_id = $1`
	case LinkKeyload:
		query = `UPDATE streams SET key_link = $2 WHERE channel_id = $1`
	case LinkMessage:
		query = `UPDATE streams SET msg_link = $2 WHERE channel_id = $1`
	default:
		return fmt.Errorf("store: unknown stream link %q", link)
	}
	if _, err := p.db.ExecContext(ctx, query, channelID, value); err != nil {
		return fmt.Errorf("store: update stream %s: %w", link, err)
	}
	return nil
}

func (p *Postgres) SetStreamSubscribers(ctx context.Context, channelID int64, n int) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE streams SET num_subs = $2 WHERE channel_id = $1`, channelID, n)
	if err != nil {
		return fmt.Errorf("store: update stream num_subs: %w", err)
	}
	return nil
}

// ============================================================================
// SENSOR CATALOG
// ============================================================================

func (p *Postgres) EnsureSensorType(ctx context.Context, description, unit string) (SensorType, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO sensor_types (description, unit) VALUES ($1, $2)
		 ON CONFLICT (description) DO NOTHING`, description, unit)
	if err != nil {
		return SensorType{}, fmt.Errorf("store: ensure sensor type: %w", err)
	}
	var t SensorType
	err = p.db.QueryRowContext(ctx,
		`SELECT id, description, unit FROM sensor_types WHERE description = $1`, description).
		Scan(&t.ID, &t.Description, &t.Unit)
	if err != nil {
		return SensorType{}, fmt.Errorf("store: select sensor type: %w", err)
	}
	return t, nil
}

func (p *Postgres) SensorTypeByID(ctx context.Context, id int64) (SensorType, error) {
	var t SensorType
	err := p.db.QueryRowContext(ctx,
		`SELECT id, description, unit FROM sensor_types WHERE id = $1`, id).
		Scan(&t.ID, &t.Description, &t.Unit)
	if errors.Is(err, sql.ErrNoRows) {
		return SensorType{}, ErrNotFound
	}
	if err != nil {
		return SensorType{}, fmt.Errorf("store: select sensor type: %w", err)
	}
	return t, nil
}

func (p *Postgres) EnsureSensor(ctx context.Context, channelID, typeID int64, key, name string) (Sensor, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO sensors (channel_id, sensor_types_id, sensor_key, sensor_name)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (sensor_key) DO NOTHING`,
		channelID, typeID, key, name)
	if err != nil {
		return Sensor{}, fmt.Errorf("store: ensure sensor: %w", err)
	}
	return p.SensorByKey(ctx, key)
}

func (p *Postgres) SensorByKey(ctx context.Context, key string) (Sensor, error) {
	var s Sensor
	err := p.db.QueryRowContext(ctx,
		`SELECT id, channel_id, sensor_types_id, sensor_key, sensor_name
		 FROM sensors WHERE sensor_key = $1`, key).
		Scan(&s.ID, &s.ChannelID, &s.TypeID, &s.Key, &s.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Sensor{}, ErrNotFound
	}
	if err != nil {
		return Sensor{}, fmt.Errorf("store: select sensor: %w", err)
	}
	return s, nil
}

func (p *Postgres) SensorByID(ctx context.Context, id int64) (Sensor, error) {
	var s Sensor
	err := p.db.QueryRowContext(ctx,
		`SELECT id, channel_id, sensor_types_id, sensor_key, sensor_name
		 FROM sensors WHERE id = $1`, id).
		Scan(&s.ID, &s.ChannelID, &s.TypeID, &s.Key, &s.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Sensor{}, ErrNotFound
	}
	if err != nil {
		return Sensor{}, fmt.Errorf("store: select sensor: %w", err)
	}
	return s, nil
}

func (p *Postgres) SensorsByChannel(ctx context.Context, channelID int64) ([]Sensor, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, channel_id, sensor_types_id, sensor_key, sensor_name
		 FROM sensors WHERE channel_id = $1 ORDER BY id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("store: select sensors: %w", err)
	}
	defer rows.Close()
	var out []Sensor
	for rows.Next() {
		var s Sensor
		if err := rows.Scan(&s.ID, &s.ChannelID, &s.TypeID, &s.Key, &s.Name); err != nil {
			return nil, fmt.Errorf("store: scan sensor: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ============================================================================
// READINGS
// ============================================================================

func (p *Postgres) InsertReading(ctx context.Context, r Reading) (Reading, bool, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO sensor_data (sensor_id, sensor_value, sensor_time, mqtt, iota, verified)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (sensor_id, sensor_time) DO NOTHING
		 RETURNING id`,
		r.SensorID, r.Value, r.Timestamp, r.MQTT, r.Iota, r.Verified).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict: the row already exists.
		existing, gerr := p.ReadingAt(ctx, r.SensorID, r.Timestamp)
		if gerr != nil {
			return Reading{}, false, gerr
		}
		return existing, false, nil
	}
	if err != nil {
		return Reading{}, false, fmt.Errorf("store: insert reading: %w", err)
	}
	r.ID = id
	return r, true, nil
}

func (p *Postgres) ReadingAt(ctx context.Context, sensorID, timestamp int64) (Reading, error) {
	var r Reading
	err := p.db.QueryRowContext(ctx,
		`SELECT id, sensor_id, sensor_value, sensor_time, mqtt, iota, verified
		 FROM sensor_data WHERE sensor_id = $1 AND sensor_time = $2`, sensorID, timestamp).
		Scan(&r.ID, &r.SensorID, &r.Value, &r.Timestamp, &r.MQTT, &r.Iota, &r.Verified)
	if errors.Is(err, sql.ErrNoRows) {
		return Reading{}, ErrNotFound
	}
	if err != nil {
		return Reading{}, fmt.Errorf("store: select reading: %w", err)
	}
	return r, nil
}

func (p *Postgres) PendingBus(ctx context.Context, channelID int64, limit int) ([]Reading, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT d.id, d.sensor_id, d.sensor_value, d.sensor_time, d.mqtt, d.iota, d.verified
		 FROM sensor_data d JOIN sensors s ON s.id = d.sensor_id
		 WHERE s.channel_id = $1 AND d.mqtt = FALSE ORDER BY d.id LIMIT $2`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: select pending bus readings: %w", err)
	}
	return scanReadings(rows)
}

func (p *Postgres) PendingLedger(ctx context.Context, channelID int64, limit int) ([]Reading, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT d.id, d.sensor_id, d.sensor_value, d.sensor_time, d.mqtt, d.iota, d.verified
		 FROM sensor_data d JOIN sensors s ON s.id = d.sensor_id
		 WHERE s.channel_id = $1 AND d.iota = FALSE AND d.verified = TRUE
		 ORDER BY d.id LIMIT $2`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: select pending ledger readings: %w", err)
	}
	return scanReadings(rows)
}

func (p *Postgres) SetReadingFlag(ctx context.Context, id int64, flag ReadingFlag, value bool) error {
	var query string
	switch flag {
	case FlagMQTT:
		query = `UPDATE sensor_data SET mqtt = $2 WHERE id = $1`
	case FlagIota:
		query = `UPDATE sensor_data SET iota = $2 WHERE id = $1`
	case FlagVerified:
		query = `UPDATE sensor_data SET verified = $2 WHERE id = $1`
	default:
		return fmt.Errorf("store: unknown reading flag %q", flag)
	}
	if _, err := p.db.ExecContext(ctx, query, id, value); err != nil {
		return fmt.Errorf("store: update reading %s: %w", flag, err)
	}
	return nil
}

func (p *Postgres) ReadingsBySensor(ctx context.Context, sensorID int64, limit int) ([]Reading, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, sensor_id, sensor_value, sensor_time, mqtt, iota, verified
		 FROM sensor_data WHERE sensor_id = $1 ORDER BY sensor_time DESC LIMIT $2`, sensorID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: select readings: %w", err)
	}
	return scanReadings(rows)
}

func scanReadings(rows *sql.Rows) ([]Reading, error) {
	defer rows.Close()
	var out []Reading
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.ID, &r.SensorID, &r.Value, &r.Timestamp, &r.MQTT, &r.Iota, &r.Verified); err != nil {
			return nil, fmt.Errorf("store: scan reading: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ============================================================================
// NODE CONFIG
// ============================================================================

func (p *Postgres) EnsureNodeConfig(ctx context.Context, thingID int64, ip string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO config (thing_id, ip) VALUES ($1, $2)
		 ON CONFLICT (thing_id) DO UPDATE SET ip = EXCLUDED.ip`, thingID, ip)
	if err != nil {
		return fmt.Errorf("store: ensure config: %w", err)
	}
	return nil
}

func (p *Postgres) SetPKTimestamp(ctx context.Context, thingID, timestamp int64) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE config SET pk_timestamp = $2 WHERE thing_id = $1`, thingID, timestamp)
	if err != nil {
		return fmt.Errorf("store: update pk_timestamp: %w", err)
	}
	return nil
}

func (p *Postgres) NodeConfigByThing(ctx context.Context, thingID int64) (NodeConfig, error) {
	var c NodeConfig
	err := p.db.QueryRowContext(ctx,
		`SELECT thing_id, ip, pk_timestamp FROM config WHERE thing_id = $1`, thingID).
		Scan(&c.ThingID, &c.IP, &c.PKTimestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return NodeConfig{}, ErrNotFound
	}
	if err != nil {
		return NodeConfig{}, fmt.Errorf("store: select config: %w", err)
	}
	return c, nil
}

var _ Index = (*Postgres)(nil)
