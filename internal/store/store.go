// Package store is the persistence index: the durable record of
// things, channels, peer identities, stream link state, the sensor
// catalog, readings, and per-reading provenance flags. The index is the
// only state shared between the reconciliation engine and the sensor
// intake; all mutations go through it.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a selected row does not exist.
var ErrNotFound = errors.New("store: not found")

// Thing is the local device.
type Thing struct {
	ID  int64
	Key string
}

// Channel is a logical topic/stream partition owned by a Thing.
type Channel struct {
	ID      int64
	ThingID int64
	Key     string
}

// Identification is the Thing's own DID and credential. At most one per
// thing.
type Identification struct {
	ThingID int64
	DID     string
	VC      string
}

// Identity is a remote participant observed by DID. The three booleans
// move monotonically: unknown→verified→subscribed, or
// unknown→unverifiable (terminal).
type Identity struct {
	DID          string
	Verified     bool
	Unverifiable bool
	Subscribed   bool
}

// StreamLink selects one of the link columns of a stream row.
type StreamLink string

const (
	LinkAnnouncement StreamLink = "ann_link"
	LinkSubscription StreamLink = "sub_link"
	LinkKeyload      StreamLink = "key_link"
	LinkMessage      StreamLink = "msg_link"
)

// Stream is the per-channel ledger link state.
type Stream struct {
	ChannelID int64
	AnnLink   string
	SubLink   string
	KeyLink   string
	MsgLink   string
	NumSubs   int
}

// SensorType is a (description, unit) pair, unique on description.
type SensorType struct {
	ID          int64
	Description string
	Unit        string
}

// Sensor binds an externally keyed sensor to a channel and a type.
type Sensor struct {
	ID        int64
	ChannelID int64
	TypeID    int64
	Key       string
	Name      string
}

// ReadingFlag selects one of the provenance booleans of a reading.
type ReadingFlag string

const (
	FlagMQTT     ReadingFlag = "mqtt"
	FlagIota     ReadingFlag = "iota"
	FlagVerified ReadingFlag = "verified"
)

// Reading is one sensor_data row. MQTT and Iota record on which planes
// the reading has been observed; Verified means both planes agreed
// field for field.
type Reading struct {
	ID        int64
	SensorID  int64
	Value     string
	Timestamp int64
	MQTT      bool
	Iota      bool
	Verified  bool
}

// NodeConfig is the per-thing runtime facts row.
type NodeConfig struct {
	ThingID     int64
	IP          string
	PKTimestamp int64
}

// Index is the persistence surface consumed by bootstrap, the engine,
// the intake and the ops API. Implementations serialize concurrent
// mutations through their own transaction model.
type Index interface {
	Migrate(ctx context.Context) error

	EnsureThing(ctx context.Context, key string) (Thing, error)
	ThingByKey(ctx context.Context, key string) (Thing, error)

	EnsureChannel(ctx context.Context, thingID int64, key string) (Channel, error)
	ChannelByKey(ctx context.Context, key string) (Channel, error)

	Identification(ctx context.Context, thingID int64) (Identification, error)
	SaveIdentification(ctx context.Context, ident Identification) error

	IdentityByDID(ctx context.Context, did string) (Identity, error)
	EnsureIdentity(ctx context.Context, did string) (Identity, error)
	SetIdentityVerified(ctx context.Context, did string, verified bool) error
	SetIdentityUnverifiable(ctx context.Context, did string) error
	SetIdentitySubscribed(ctx context.Context, did string) error
	UnverifiedIdentities(ctx context.Context, limit int) ([]Identity, error)
	Identities(ctx context.Context, limit int) ([]Identity, error)

	StreamByChannel(ctx context.Context, channelID int64) (Stream, error)
	SaveStream(ctx context.Context, s Stream) error
	SetStreamLink(ctx context.Context, channelID int64, link StreamLink, value string) error
	SetStreamSubscribers(ctx context.Context, channelID int64, n int) error

	EnsureSensorType(ctx context.Context, description, unit string) (SensorType, error)
	SensorTypeByID(ctx context.Context, id int64) (SensorType, error)

	EnsureSensor(ctx context.Context, channelID, typeID int64, key, name string) (Sensor, error)
	SensorByKey(ctx context.Context, key string) (Sensor, error)
	SensorByID(ctx context.Context, id int64) (Sensor, error)
	SensorsByChannel(ctx context.Context, channelID int64) ([]Sensor, error)

	// InsertReading adds a reading unless a row for the same
	// (sensor, timestamp) already exists. The bool reports whether a
	// new row was written.
	InsertReading(ctx context.Context, r Reading) (Reading, bool, error)
	ReadingAt(ctx context.Context, sensorID, timestamp int64) (Reading, error)
	PendingBus(ctx context.Context, channelID int64, limit int) ([]Reading, error)
	PendingLedger(ctx context.Context, channelID int64, limit int) ([]Reading, error)
	SetReadingFlag(ctx context.Context, id int64, flag ReadingFlag, value bool) error
	ReadingsBySensor(ctx context.Context, sensorID int64, limit int) ([]Reading, error)

	EnsureNodeConfig(ctx context.Context, thingID int64, ip string) error
	SetPKTimestamp(ctx context.Context, thingID, timestamp int64) error
	NodeConfigByThing(ctx context.Context, thingID int64) (NodeConfig, error)
}
