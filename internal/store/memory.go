package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Index used by tests and single-process
// experiments. Same semantics as the Postgres implementation, including
// the uniqueness guarantees the engine relies on.
type Memory struct {
	mu sync.Mutex

	nextID   int64
	things   map[string]*Thing
	channels map[string]*Channel
	idents   map[int64]*Identification
	peers    map[string]*Identity
	peerSeq  []string
	streams  map[int64]*Stream
	types    map[string]*SensorType
	sensors  map[string]*Sensor
	readings []*Reading
	configs  map[int64]*NodeConfig
}

// NewMemory returns an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{
		things:   make(map[string]*Thing),
		channels: make(map[string]*Channel),
		idents:   make(map[int64]*Identification),
		peers:    make(map[string]*Identity),
		streams:  make(map[int64]*Stream),
		types:    make(map[string]*SensorType),
		sensors:  make(map[string]*Sensor),
		configs:  make(map[int64]*NodeConfig),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) Migrate(ctx context.Context) error { return nil }

func (m *Memory) EnsureThing(ctx context.Context, key string) (Thing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.things[key]; ok {
		return *t, nil
	}
	t := &Thing{ID: m.id(), Key: key}
	m.things[key] = t
	return *t, nil
}

func (m *Memory) ThingByKey(ctx context.Context, key string) (Thing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.things[key]; ok {
		return *t, nil
	}
	return Thing{}, ErrNotFound
}

func (m *Memory) EnsureChannel(ctx context.Context, thingID int64, key string) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.channels[key]; ok {
		return *c, nil
	}
	c := &Channel{ID: m.id(), ThingID: thingID, Key: key}
	m.channels[key] = c
	return *c, nil
}

func (m *Memory) ChannelByKey(ctx context.Context, key string) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.channels[key]; ok {
		return *c, nil
	}
	return Channel{}, ErrNotFound
}

func (m *Memory) Identification(ctx context.Context, thingID int64) (Identification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.idents[thingID]; ok {
		return *i, nil
	}
	return Identification{}, ErrNotFound
}

func (m *Memory) SaveIdentification(ctx context.Context, ident Identification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.idents[ident.ThingID]; ok {
		return nil
	}
	cp := ident
	m.idents[ident.ThingID] = &cp
	return nil
}

func (m *Memory) IdentityByDID(ctx context.Context, did string) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[did]; ok {
		return *p, nil
	}
	return Identity{}, ErrNotFound
}

func (m *Memory) EnsureIdentity(ctx context.Context, did string) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[did]; ok {
		return *p, nil
	}
	p := &Identity{DID: did}
	m.peers[did] = p
	m.peerSeq = append(m.peerSeq, did)
	return *p, nil
}

func (m *Memory) SetIdentityVerified(ctx context.Context, did string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[did]; ok && !p.Unverifiable {
		p.Verified = verified
	}
	return nil
}

func (m *Memory) SetIdentityUnverifiable(ctx context.Context, did string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[did]; ok {
		p.Unverifiable = true
	}
	return nil
}

func (m *Memory) SetIdentitySubscribed(ctx context.Context, did string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[did]; ok && p.Verified {
		p.Subscribed = true
	}
	return nil
}

func (m *Memory) UnverifiedIdentities(ctx context.Context, limit int) ([]Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Identity
	for _, did := range m.peerSeq {
		p := m.peers[did]
		if !p.Verified && !p.Unverifiable {
			out = append(out, *p)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) Identities(ctx context.Context, limit int) ([]Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Identity
	for _, did := range m.peerSeq {
		out = append(out, *m.peers[did])
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) StreamByChannel(ctx context.Context, channelID int64) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[channelID]; ok {
		return *s, nil
	}
	return Stream{}, ErrNotFound
}

func (m *Memory) SaveStream(ctx context.Context, s Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[s.ChannelID]; ok {
		return nil
	}
	cp := s
	m.streams[s.ChannelID] = &cp
	return nil
}

func (m *Memory) SetStreamLink(ctx context.Context, channelID int64, link StreamLink, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[channelID]
	if !ok {
		return nil
	}
	switch link {
	case LinkAnnouncement:
		s.AnnLink = value
	case LinkSubscription:
		s.SubLink = value
	case LinkKeyload:
		s.KeyLink = value
	case LinkMessage:
		s.MsgLink = value
	}
	return nil
}

func (m *Memory) SetStreamSubscribers(ctx context.Context, channelID int64, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[channelID]; ok {
		s.NumSubs = n
	}
	return nil
}

func (m *Memory) EnsureSensorType(ctx context.Context, description, unit string) (SensorType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.types[description]; ok {
		return *t, nil
	}
	t := &SensorType{ID: m.id(), Description: description, Unit: unit}
	m.types[description] = t
	return *t, nil
}

func (m *Memory) SensorTypeByID(ctx context.Context, id int64) (SensorType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.types {
		if t.ID == id {
			return *t, nil
		}
	}
	return SensorType{}, ErrNotFound
}

func (m *Memory) EnsureSensor(ctx context.Context, channelID, typeID int64, key, name string) (Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sensors[key]; ok {
		return *s, nil
	}
	s := &Sensor{ID: m.id(), ChannelID: channelID, TypeID: typeID, Key: key, Name: name}
	m.sensors[key] = s
	return *s, nil
}

func (m *Memory) SensorByKey(ctx context.Context, key string) (Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sensors[key]; ok {
		return *s, nil
	}
	return Sensor{}, ErrNotFound
}

func (m *Memory) SensorByID(ctx context.Context, id int64) (Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sensors {
		if s.ID == id {
			return *s, nil
		}
	}
	return Sensor{}, ErrNotFound
}

func (m *Memory) SensorsByChannel(ctx context.Context, channelID int64) ([]Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sensor
	for _, s := range m.sensors {
		if s.ChannelID == channelID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) InsertReading(ctx context.Context, r Reading) (Reading, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.readings {
		if existing.SensorID == r.SensorID && existing.Timestamp == r.Timestamp {
			return *existing, false, nil
		}
	}
	r.ID = m.id()
	cp := r
	m.readings = append(m.readings, &cp)
	return r, true, nil
}

func (m *Memory) ReadingAt(ctx context.Context, sensorID, timestamp int64) (Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.readings {
		if r.SensorID == sensorID && r.Timestamp == timestamp {
			return *r, nil
		}
	}
	return Reading{}, ErrNotFound
}

func (m *Memory) channelOf(sensorID int64) int64 {
	for _, s := range m.sensors {
		if s.ID == sensorID {
			return s.ChannelID
		}
	}
	return 0
}

func (m *Memory) PendingBus(ctx context.Context, channelID int64, limit int) ([]Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reading
	for _, r := range m.readings {
		if !r.MQTT && m.channelOf(r.SensorID) == channelID {
			out = append(out, *r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) PendingLedger(ctx context.Context, channelID int64, limit int) ([]Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reading
	for _, r := range m.readings {
		if !r.Iota && r.Verified && m.channelOf(r.SensorID) == channelID {
			out = append(out, *r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) SetReadingFlag(ctx context.Context, id int64, flag ReadingFlag, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.readings {
		if r.ID == id {
			switch flag {
			case FlagMQTT:
				r.MQTT = value
			case FlagIota:
				r.Iota = value
			case FlagVerified:
				r.Verified = value
			}
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ReadingsBySensor(ctx context.Context, sensorID int64, limit int) ([]Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reading
	for _, r := range m.readings {
		if r.SensorID == sensorID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) EnsureNodeConfig(ctx context.Context, thingID int64, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.configs[thingID]; ok {
		c.IP = ip
		return nil
	}
	m.configs[thingID] = &NodeConfig{ThingID: thingID, IP: ip}
	return nil
}

func (m *Memory) SetPKTimestamp(ctx context.Context, thingID, timestamp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.configs[thingID]; ok {
		c.PKTimestamp = timestamp
	}
	return nil
}

func (m *Memory) NodeConfigByThing(ctx context.Context, thingID int64) (NodeConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.configs[thingID]; ok {
		return *c, nil
	}
	return NodeConfig{}, ErrNotFound
}

var _ Index = (*Memory)(nil)
