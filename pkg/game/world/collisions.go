package world

import (
	"github.com/cbodonnell/tether/pkg/kinematic"
	"github.com/solarlune/resolv"
)

const (
	CollisionSpaceTagLevel     string = "level"
	CollisionSpaceTagCharacter string = "character"
	CollisionSpaceTagShuttle   string = "shuttle"
	CollisionSpaceTagStation   string = "station"
	CollisionSpaceTagProbe     string = "probe"
)

// NewCollisionSpace builds the level. Client and server build the same
// space so predicted movement collides the way the server's does.
func NewCollisionSpace() *resolv.Space {
	w, h, t := LevelWidth, LevelHeight, WallThickness
	space := resolv.NewSpace(int(w), int(h), CellSize, CellSize)
	space.Add(
		resolv.NewObject(0, 0, w, t, CollisionSpaceTagLevel),
		resolv.NewObject(0, h-t, w, t, CollisionSpaceTagLevel),
		resolv.NewObject(0, t, t, h-2*t, CollisionSpaceTagLevel),
		resolv.NewObject(w-t, t, t, h-2*t, CollisionSpaceTagLevel),
		// a pillar in the middle of the map
		resolv.NewObject(w/2-32, h/2-32, 64, 64, CollisionSpaceTagLevel),
	)
	return space
}

// contains reports whether the box of o lies inside the box of container.
func contains(container, o *resolv.Object) bool {
	return o.Position.X >= container.Position.X &&
		o.Position.Y >= container.Position.Y &&
		o.Position.X+o.Size.X <= container.Position.X+container.Size.X &&
		o.Position.Y+o.Size.Y <= container.Position.Y+container.Size.Y
}

func moveObject(o *resolv.Object, position kinematic.Vector) {
	o.Position.X = position.X
	o.Position.Y = position.Y
	o.Update()
}
