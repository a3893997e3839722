package world

import (
	"github.com/cbodonnell/tether/pkg/kinematic"
	"github.com/cbodonnell/tether/pkg/log"
	"github.com/solarlune/resolv"
)

var (
	// StationPosition is where the dock station stands.
	StationPosition = kinematic.Vector{X: 64, Y: 64}
	// ShuttleBerth is the shuttle's berth inside the station.
	ShuttleBerth = kinematic.Vector{X: 80, Y: 80}
	// ShuttleDestination is where respawned characters are dropped off.
	ShuttleDestination = kinematic.Vector{X: 960, Y: 720}
)

type shuttle struct {
	object   *resolv.Object
	position kinematic.Vector
	velocity kinematic.Vector
	home     kinematic.Vector
	target   kinematic.Vector
	moving   bool
	docked   bool
	speed    float64
}

func newShuttle(space *resolv.Space, speed float64) shuttle {
	s := shuttle{
		object:   resolv.NewObject(ShuttleBerth.X, ShuttleBerth.Y, ShuttleWidth, ShuttleHeight, CollisionSpaceTagShuttle),
		position: ShuttleBerth,
		home:     ShuttleBerth,
		target:   ShuttleBerth,
		speed:    speed,
	}
	space.Add(s.object)
	return s
}

// advance moves the shuttle toward its target and reports whether it
// arrived during this step.
func (s *shuttle) advance(dt float64) bool {
	if !s.moving {
		s.velocity = kinematic.Vector{}
		return false
	}
	remaining := s.target.Sub(s.position)
	distance := remaining.Length()
	step := s.speed * dt
	if distance <= step {
		s.position = s.target
		s.velocity = kinematic.Vector{}
		s.moving = false
		moveObject(s.object, s.position)
		return true
	}
	s.velocity = remaining.Scale(s.speed / distance)
	s.position = s.position.Add(s.velocity.Scale(dt))
	moveObject(s.object, s.position)
	return false
}

func (w *World) dockShuttle() error {
	offset := roundOffset(w.shuttle.position.Sub(StationPosition))
	d := Dock{Docked: true, DockID: StationID, Offset: offset}
	if err := w.emit(ShuttleID, EventDock, 0, d.Encode()); err != nil {
		return err
	}
	w.shuttle.docked = true
	return nil
}

func (w *World) undockShuttle() error {
	if !w.shuttle.docked {
		return nil
	}
	if err := w.emit(ShuttleID, EventDock, 0, Dock{}.Encode()); err != nil {
		return err
	}
	w.shuttle.docked = false
	return nil
}

// SeatPosition returns where a character in slot sits inside the shuttle.
func (w *World) SeatPosition(slot int) kinematic.Vector {
	col := float64(slot % 2)
	row := float64((slot / 2) % 2)
	return w.shuttle.position.Add(kinematic.Vector{
		X: 16 + col*(ShuttleWidth-2*16-CharacterWidth),
		Y: 8 + row*(ShuttleHeight-2*8-CharacterHeight),
	})
}

// LaunchShuttle undocks the shuttle and sends it to its destination.
func (w *World) LaunchShuttle() error {
	if err := w.undockShuttle(); err != nil {
		return err
	}
	w.shuttle.target = ShuttleDestination
	w.shuttle.moving = true
	log.Debug("Shuttle launched toward (%.0f, %.0f)", ShuttleDestination.X, ShuttleDestination.Y)
	return nil
}

// RecallShuttle flies the shuttle back home. Anyone still docked is
// dropped where they are.
func (w *World) RecallShuttle() error {
	for _, c := range w.Characters() {
		if c.DockID == ShuttleID {
			if err := w.Undock(c.ID); err != nil {
				return err
			}
		}
	}
	w.shuttle.target = w.shuttle.home
	w.shuttle.moving = true
	return nil
}

// ShuttleHome reports whether the shuttle is at rest in its berth.
func (w *World) ShuttleHome() bool {
	return !w.shuttle.moving && w.shuttle.position == w.shuttle.home
}

// ResetShuttle puts the shuttle back in its berth at once.
func (w *World) ResetShuttle() error {
	w.shuttle.position = w.shuttle.home
	w.shuttle.target = w.shuttle.home
	w.shuttle.velocity = kinematic.Vector{}
	w.shuttle.moving = false
	moveObject(w.shuttle.object, w.shuttle.position)
	if w.shuttle.docked {
		return nil
	}
	return w.dockShuttle()
}

// Aboard reports whether a living character is inside the shuttle.
func (w *World) Aboard(id uint16) bool {
	c, ok := w.characters[id]
	if !ok || !c.Alive {
		return false
	}
	collision := c.Object.Check(0, 0, CollisionSpaceTagShuttle)
	if collision == nil {
		return false
	}
	for _, o := range collision.ObjectsByTags(CollisionSpaceTagShuttle) {
		if contains(o, c.Object) {
			return true
		}
	}
	return false
}

func (w *World) ShuttlePosition() kinematic.Vector {
	return w.shuttle.position
}
