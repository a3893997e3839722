// Package world is the small simulation the synchronization layer is run
// against: characters walking around a walled level, a dock station and the
// respawn shuttle. Discrete changes are announced as entity events;
// continuous motion is read out as snapshot candidates.
package world

import (
	"fmt"
	"sort"

	"github.com/cbodonnell/tether/pkg/events"
	"github.com/cbodonnell/tether/pkg/kinematic"
	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/prediction"
	"github.com/cbodonnell/tether/pkg/snapshot"
	"github.com/solarlune/resolv"
)

// EventSink records entity events. *events.Manager implements it.
type EventSink interface {
	CreateKeyedEvent(entityID uint16, t events.EventType, subKey uint32, payload []byte) (*events.NetworkEvent, error)
	RemoveEntity(entityID uint16)
}

type Character struct {
	ID    uint16
	Owner byte
	Name  string
	State snapshot.CharacterStateInfo
	Vitals
	// DockID is the entity the character rides on, 0 when free.
	DockID     uint16
	DockOffset kinematic.Vector
	// Disconnected is set while the owner's grace period runs.
	Disconnected bool
	Object       *resolv.Object
}

type World struct {
	sink  EventSink
	space *resolv.Space
	step  prediction.StepFunc
	// time is the simulation clock in seconds, used as snapshot timestamp.
	time float64

	characters map[uint16]*Character
	nextID     uint16

	station *resolv.Object
	shuttle shuttle
}

type NewWorldOptions struct {
	Sink EventSink
	// ShuttleSpeed in units per second
	ShuttleSpeed float64
}

// New builds the level and announces the shuttle docked at the station.
func New(opts NewWorldOptions) (*World, error) {
	space := NewCollisionSpace()
	w := &World{
		sink:       opts.Sink,
		space:      space,
		step:       NewStepFunc(space),
		characters: make(map[uint16]*Character),
		nextID:     FirstCharacterID,
		station:    resolv.NewObject(StationPosition.X, StationPosition.Y, StationWidth, StationHeight, CollisionSpaceTagStation),
	}
	space.Add(w.station)
	w.shuttle = newShuttle(space, opts.ShuttleSpeed)
	if err := w.dockShuttle(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *World) Space() *resolv.Space {
	return w.space
}

// Time returns the simulation clock in seconds.
func (w *World) Time() float64 {
	return w.time
}

func (w *World) emit(entityID uint16, t events.EventType, subKey uint32, payload []byte) error {
	if _, err := w.sink.CreateKeyedEvent(entityID, t, subKey, payload); err != nil {
		return fmt.Errorf("failed to create event for entity %d: %v", entityID, err)
	}
	return nil
}

func (w *World) allocateID() (uint16, error) {
	for i := 0; i < 65536-int(FirstCharacterID); i++ {
		id := w.nextID
		w.nextID++
		if w.nextID < FirstCharacterID {
			w.nextID = FirstCharacterID
		}
		if _, ok := w.characters[id]; !ok {
			return id, nil
		}
	}
	return 0, fmt.Errorf("no free character id")
}

// SpawnCharacter creates a living character for owner at position.
func (w *World) SpawnCharacter(owner byte, name string, position kinematic.Vector) (*Character, error) {
	id, err := w.allocateID()
	if err != nil {
		return nil, err
	}
	spawn := Spawn{CharacterID: id, Owner: owner, Name: name, X: float32(position.X), Y: float32(position.Y)}
	if err := w.emit(SpawnerID, EventSpawn, uint32(id), spawn.Encode()); err != nil {
		return nil, err
	}
	c := &Character{
		ID:    id,
		Owner: owner,
		Name:  name,
		State: snapshot.CharacterStateInfo{
			Position:    kinematic.Vector{X: float64(spawn.X), Y: float64(spawn.Y)},
			HasRotation: true,
			HasVelocity: true,
			FacingRight: true,
		},
		Vitals: Vitals{Alive: true, Health: CharacterHealth},
		Object: resolv.NewObject(float64(spawn.X), float64(spawn.Y), CharacterWidth, CharacterHeight, CollisionSpaceTagCharacter),
	}
	c.Object.Data = c
	if err := w.emit(id, EventVitals, 0, c.Vitals.Encode()); err != nil {
		return nil, err
	}
	w.characters[id] = c
	w.space.Add(c.Object)
	log.Debug("Character %d spawned for session %d at (%.0f, %.0f)", id, owner, position.X, position.Y)
	return c, nil
}

// Despawn removes a character. Events that described it are dropped from
// the mid-round sync set before the removal is announced.
func (w *World) Despawn(id uint16) error {
	c, ok := w.characters[id]
	if !ok {
		return fmt.Errorf("character %d does not exist", id)
	}
	w.sink.RemoveEntity(id)
	if err := w.emit(SpawnerID, EventDespawn, uint32(id), Despawn{CharacterID: id}.Encode()); err != nil {
		return err
	}
	w.space.Remove(c.Object)
	delete(w.characters, id)
	log.Debug("Character %d despawned", id)
	return nil
}

func (w *World) Character(id uint16) (*Character, bool) {
	c, ok := w.characters[id]
	return c, ok
}

// Characters returns every character ordered by id.
func (w *World) Characters() []*Character {
	out := make([]*Character, 0, len(w.characters))
	for _, c := range w.characters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ApplyInput moves a character by one frame. Dead and docked characters
// do not move but the frame still counts as applied.
func (w *World) ApplyInput(id uint16, frame prediction.InputFrame, dt float64) {
	c, ok := w.characters[id]
	if !ok || !c.Alive || c.DockID != 0 {
		return
	}
	c.State = w.step(c.State, frame, dt)
	moveObject(c.Object, c.State.Position)
}

// SetOwner gives a character to another session.
func (w *World) SetOwner(id uint16, owner byte) error {
	c, ok := w.characters[id]
	if !ok {
		return fmt.Errorf("character %d does not exist", id)
	}
	if c.Owner == owner {
		return nil
	}
	if err := w.emit(id, EventOwner, 0, Owner{SessionID: owner}.Encode()); err != nil {
		return err
	}
	c.Owner = owner
	return nil
}

// Alive reports whether a character exists and is alive.
func (w *World) Alive(id uint16) bool {
	c, ok := w.characters[id]
	return ok && c.Alive
}

// SpawnPoint returns a free-standing spawn position near the drop-off
// point, spread by n.
func (w *World) SpawnPoint(n int) kinematic.Vector {
	col := float64(n % 8)
	row := float64((n / 8) % 4)
	return ShuttleDestination.Add(kinematic.Vector{X: col * (CharacterWidth + 8), Y: ShuttleHeight + 16 + row*(CharacterHeight+8)})
}

// SetVitals changes a character's health, announcing it when it changed.
func (w *World) SetVitals(id uint16, v Vitals) error {
	c, ok := w.characters[id]
	if !ok {
		return fmt.Errorf("character %d does not exist", id)
	}
	if !v.Alive {
		v.Health = 0
	}
	if c.Vitals == v {
		return nil
	}
	if err := w.emit(id, EventVitals, 0, v.Encode()); err != nil {
		return err
	}
	c.Vitals = v
	if !v.Alive {
		c.State.Velocity = kinematic.Vector{}
		c.State.Animation = AnimationDead
	}
	return nil
}

// Damage lowers a character's health, killing it at zero.
func (w *World) Damage(id uint16, amount byte) error {
	c, ok := w.characters[id]
	if !ok {
		return fmt.Errorf("character %d does not exist", id)
	}
	if !c.Alive {
		return nil
	}
	if amount >= c.Health {
		return w.SetVitals(id, Vitals{Alive: false})
	}
	return w.SetVitals(id, Vitals{Alive: true, Health: c.Health - amount})
}

// Dock attaches a character to dockID at its current offset.
func (w *World) Dock(id uint16, dockID uint16) error {
	c, ok := w.characters[id]
	if !ok {
		return fmt.Errorf("character %d does not exist", id)
	}
	leader, ok := w.position(dockID)
	if !ok {
		return fmt.Errorf("dock target %d does not exist", dockID)
	}
	d := Dock{Docked: true, DockID: dockID, Offset: roundOffset(c.State.Position.Sub(leader))}
	if err := w.emit(id, EventDock, 0, d.Encode()); err != nil {
		return err
	}
	c.DockID = d.DockID
	c.DockOffset = d.Offset
	c.State.Velocity = kinematic.Vector{}
	return nil
}

func (w *World) Undock(id uint16) error {
	c, ok := w.characters[id]
	if !ok {
		return fmt.Errorf("character %d does not exist", id)
	}
	if c.DockID == 0 {
		return nil
	}
	if err := w.emit(id, EventDock, 0, Dock{}.Encode()); err != nil {
		return err
	}
	c.DockID = 0
	c.DockOffset = kinematic.Vector{}
	return nil
}

// roundOffset keeps the precision the dock event carries, so both ends
// place followers identically.
func roundOffset(v kinematic.Vector) kinematic.Vector {
	return kinematic.Vector{X: float64(float32(v.X)), Y: float64(float32(v.Y))}
}

// Advance runs everything that moves on its own for dt seconds.
func (w *World) Advance(dt float64) error {
	w.time += dt
	arrived := w.shuttle.advance(dt)
	for _, c := range w.characters {
		if c.DockID == 0 {
			continue
		}
		leader, ok := w.position(c.DockID)
		if !ok {
			continue
		}
		c.State.Position = leader.Add(c.DockOffset)
		moveObject(c.Object, c.State.Position)
	}
	if !arrived {
		return nil
	}
	if w.shuttle.target == w.shuttle.home {
		return w.dockShuttle()
	}
	// crew may walk off once the shuttle is at its destination
	for _, c := range w.Characters() {
		if c.DockID == ShuttleID {
			if err := w.Undock(c.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *World) position(id uint16) (kinematic.Vector, bool) {
	switch id {
	case StationID:
		return StationPosition, true
	case ShuttleID:
		return w.shuttle.position, true
	}
	c, ok := w.characters[id]
	if !ok {
		return kinematic.Vector{}, false
	}
	return c.State.Position, true
}

// Candidates lists every entity whose motion is streamed.
func (w *World) Candidates() []snapshot.Candidate {
	out := []snapshot.Candidate{
		{ID: StationID, Position: StationPosition},
		{ID: ShuttleID, Position: w.shuttle.position},
	}
	for _, c := range w.Characters() {
		out = append(out, snapshot.Candidate{ID: c.ID, Position: c.State.Position})
	}
	return out
}

// Links lists the current docking links.
func (w *World) Links() [][2]uint16 {
	var links [][2]uint16
	if w.shuttle.docked {
		links = append(links, [2]uint16{StationID, ShuttleID})
	}
	for _, c := range w.Characters() {
		if c.DockID != 0 {
			links = append(links, [2]uint16{c.DockID, c.ID})
		}
	}
	return links
}

// StateInfo samples an entity for a snapshot, stamped with the simulation
// clock.
func (w *World) StateInfo(id uint16) (snapshot.CharacterStateInfo, bool) {
	switch id {
	case StationID:
		return snapshot.CharacterStateInfo{Position: StationPosition, Timestamp: w.time}, true
	case ShuttleID:
		return snapshot.CharacterStateInfo{
			Position:    w.shuttle.position,
			HasVelocity: true,
			Velocity:    w.shuttle.velocity,
			Timestamp:   w.time,
		}, true
	}
	c, ok := w.characters[id]
	if !ok {
		return snapshot.CharacterStateInfo{}, false
	}
	info := c.State
	info.HasInputID = false
	info.Timestamp = w.time
	return info, true
}
