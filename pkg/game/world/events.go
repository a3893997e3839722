package world

import (
	"fmt"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/events"
	"github.com/cbodonnell/tether/pkg/kinematic"
)

// Events emitted by the spawner, keyed by the character they announce.
const (
	EventSpawn   events.EventType = 1
	EventDespawn events.EventType = 2
)

// Events emitted by characters and the shuttle.
const (
	EventVitals events.EventType = 1
	EventDock   events.EventType = 2
	// EventOwner hands a character to another session, after a reconnect.
	EventOwner events.EventType = 3
)

type Spawn struct {
	CharacterID uint16
	Owner       byte
	Name        string
	X, Y        float32
}

func (s Spawn) Encode() []byte {
	w := bitstream.NewWriter()
	w.WriteUInt16(s.CharacterID)
	w.WriteUInt8(s.Owner)
	w.WriteString(s.Name)
	w.WriteFloat32(s.X)
	w.WriteFloat32(s.Y)
	return w.Bytes()
}

func DecodeSpawn(payload []byte) (Spawn, error) {
	r := bitstream.NewReader(payload)
	s := Spawn{
		CharacterID: r.ReadUInt16(),
		Owner:       r.ReadUInt8(),
		Name:        r.ReadString(),
		X:           r.ReadFloat32(),
		Y:           r.ReadFloat32(),
	}
	if err := r.Err(); err != nil {
		return Spawn{}, fmt.Errorf("failed to decode spawn: %v", err)
	}
	return s, nil
}

type Despawn struct {
	CharacterID uint16
}

func (d Despawn) Encode() []byte {
	w := bitstream.NewWriter()
	w.WriteUInt16(d.CharacterID)
	return w.Bytes()
}

func DecodeDespawn(payload []byte) (Despawn, error) {
	r := bitstream.NewReader(payload)
	d := Despawn{CharacterID: r.ReadUInt16()}
	if err := r.Err(); err != nil {
		return Despawn{}, fmt.Errorf("failed to decode despawn: %v", err)
	}
	return d, nil
}

type Vitals struct {
	Alive  bool
	Health byte
}

func (v Vitals) Encode() []byte {
	w := bitstream.NewWriter()
	w.WriteBoolean(v.Alive)
	w.WriteUInt8(v.Health)
	return w.Bytes()
}

func DecodeVitals(payload []byte) (Vitals, error) {
	r := bitstream.NewReader(payload)
	v := Vitals{Alive: r.ReadBoolean(), Health: r.ReadUInt8()}
	if err := r.Err(); err != nil {
		return Vitals{}, fmt.Errorf("failed to decode vitals: %v", err)
	}
	return v, nil
}

// Dock links an entity to another one it moves with.
type Dock struct {
	Docked bool
	DockID uint16
	// Offset is the entity's position relative to DockID.
	Offset kinematic.Vector
}

func (d Dock) Encode() []byte {
	w := bitstream.NewWriter()
	w.WriteBoolean(d.Docked)
	if d.Docked {
		w.WriteUInt16(d.DockID)
		w.WriteFloat32(float32(d.Offset.X))
		w.WriteFloat32(float32(d.Offset.Y))
	}
	return w.Bytes()
}

func DecodeDock(payload []byte) (Dock, error) {
	r := bitstream.NewReader(payload)
	d := Dock{Docked: r.ReadBoolean()}
	if d.Docked {
		d.DockID = r.ReadUInt16()
		d.Offset.X = float64(r.ReadFloat32())
		d.Offset.Y = float64(r.ReadFloat32())
	}
	if err := r.Err(); err != nil {
		return Dock{}, fmt.Errorf("failed to decode dock: %v", err)
	}
	return d, nil
}

type Owner struct {
	SessionID byte
}

func (o Owner) Encode() []byte {
	w := bitstream.NewWriter()
	w.WriteUInt8(o.SessionID)
	return w.Bytes()
}

func DecodeOwner(payload []byte) (Owner, error) {
	r := bitstream.NewReader(payload)
	o := Owner{SessionID: r.ReadUInt8()}
	if err := r.Err(); err != nil {
		return Owner{}, fmt.Errorf("failed to decode owner: %v", err)
	}
	return o, nil
}
