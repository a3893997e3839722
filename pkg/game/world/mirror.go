package world

import (
	"fmt"
	"hash/crc32"
	"sort"
	"time"

	"github.com/cbodonnell/tether/pkg/events"
	"github.com/cbodonnell/tether/pkg/respawn"
)

// MirrorEntity is a client's view of an entity, built only from events.
type MirrorEntity struct {
	ID    uint16
	Owner byte
	Name  string
	Vitals
	Dock
	spawn Spawn
}

// Mirror is the client side replica of the discrete world state. It
// implements events.Applier.
type Mirror struct {
	entities map[uint16]*MirrorEntity
	Respawn  *respawn.Client
	now      func() time.Time

	// the spawner's checksums cover the character it touched last
	lastSpawn   Spawn
	lastDespawn Despawn
}

// NewMirror returns a replica holding only the reserved entities. now is
// the clock countdown events are anchored to.
func NewMirror(now func() time.Time) *Mirror {
	if now == nil {
		now = time.Now
	}
	m := &Mirror{
		entities: make(map[uint16]*MirrorEntity),
		Respawn:  respawn.NewClient(),
		now:      now,
	}
	for _, id := range []uint16{SpawnerID, RespawnID, StationID, ShuttleID} {
		m.entities[id] = &MirrorEntity{ID: id}
	}
	return m
}

func (m *Mirror) Entity(id uint16) (*MirrorEntity, bool) {
	e, ok := m.entities[id]
	return e, ok
}

// Characters returns the known characters ordered by id.
func (m *Mirror) Characters() []*MirrorEntity {
	var out []*MirrorEntity
	for id, e := range m.entities {
		if id >= FirstCharacterID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CharacterOf returns the character owned by a session.
func (m *Mirror) CharacterOf(owner byte) (*MirrorEntity, bool) {
	for _, e := range m.Characters() {
		if e.Owner == owner {
			return e, true
		}
	}
	return nil, false
}

// Links lists the docking links the client knows about.
func (m *Mirror) Links() [][2]uint16 {
	var links [][2]uint16
	for _, e := range m.entities {
		if e.Docked {
			links = append(links, [2]uint16{e.DockID, e.ID})
		}
	}
	sort.Slice(links, func(i, j int) bool { return links[i][1] < links[j][1] })
	return links
}

func (m *Mirror) ApplyEvent(entityID uint16, t events.EventType, payload []byte) error {
	switch entityID {
	case RespawnID:
		return m.Respawn.ApplyEvent(t, payload, m.now())
	case SpawnerID:
		return m.applySpawner(t, payload)
	}
	e, ok := m.entities[entityID]
	if !ok {
		return &events.ErrMissingEntity{EntityID: entityID}
	}
	switch t {
	case EventVitals:
		v, err := DecodeVitals(payload)
		if err != nil {
			return err
		}
		e.Vitals = v
	case EventDock:
		d, err := DecodeDock(payload)
		if err != nil {
			return err
		}
		if d.Docked {
			if _, ok := m.entities[d.DockID]; !ok {
				return &events.ErrMissingEntity{EntityID: d.DockID}
			}
		}
		e.Dock = d
	case EventOwner:
		o, err := DecodeOwner(payload)
		if err != nil {
			return err
		}
		e.Owner = o.SessionID
	default:
		return fmt.Errorf("unknown event type %d for entity %d", t, entityID)
	}
	return nil
}

func (m *Mirror) applySpawner(t events.EventType, payload []byte) error {
	switch t {
	case EventSpawn:
		s, err := DecodeSpawn(payload)
		if err != nil {
			return err
		}
		if s.CharacterID < FirstCharacterID {
			return fmt.Errorf("spawn of reserved entity %d", s.CharacterID)
		}
		m.entities[s.CharacterID] = &MirrorEntity{ID: s.CharacterID, Owner: s.Owner, Name: s.Name, spawn: s}
		m.lastSpawn = s
	case EventDespawn:
		d, err := DecodeDespawn(payload)
		if err != nil {
			return err
		}
		// a joiner may learn of a despawn for a character it never saw
		if d.CharacterID >= FirstCharacterID {
			delete(m.entities, d.CharacterID)
		}
		m.lastDespawn = d
	default:
		return fmt.Errorf("unknown spawner event type %d", t)
	}
	return nil
}

func (m *Mirror) EventChecksum(entityID uint16, t events.EventType) (uint32, bool) {
	switch entityID {
	case RespawnID:
		return m.Respawn.Checksum(t)
	case SpawnerID:
		switch t {
		case EventSpawn:
			e, ok := m.entities[m.lastSpawn.CharacterID]
			if !ok {
				return 0, false
			}
			return crc32.ChecksumIEEE(e.spawn.Encode()), true
		case EventDespawn:
			return crc32.ChecksumIEEE(m.lastDespawn.Encode()), true
		}
		return 0, false
	}
	e, ok := m.entities[entityID]
	if !ok {
		return 0, false
	}
	switch t {
	case EventVitals:
		return crc32.ChecksumIEEE(e.Vitals.Encode()), true
	case EventDock:
		return crc32.ChecksumIEEE(e.Dock.Encode()), true
	case EventOwner:
		return crc32.ChecksumIEEE(Owner{SessionID: e.Owner}.Encode()), true
	}
	return 0, false
}
