package world

import (
	"math"

	"github.com/cbodonnell/tether/pkg/kinematic"
	"github.com/cbodonnell/tether/pkg/prediction"
	"github.com/cbodonnell/tether/pkg/snapshot"
	"github.com/solarlune/resolv"
)

// NewStepFunc returns the character movement used by both the server and
// client prediction. It adds a probe object to space and moves it around to
// test against the level, so the returned function must not be shared
// between goroutines.
func NewStepFunc(space *resolv.Space) prediction.StepFunc {
	probe := resolv.NewObject(0, 0, CharacterWidth, CharacterHeight, CollisionSpaceTagProbe)
	space.Add(probe)

	return func(state snapshot.CharacterStateInfo, input prediction.InputFrame, dt float64) snapshot.CharacterStateInfo {
		dir := kinematic.Vector{}
		if input.Keys.Has(prediction.InputRight) && !input.Keys.Has(prediction.InputLeft) {
			dir.X = 1
		} else if input.Keys.Has(prediction.InputLeft) && !input.Keys.Has(prediction.InputRight) {
			dir.X = -1
		}
		if input.Keys.Has(prediction.InputDown) && !input.Keys.Has(prediction.InputUp) {
			dir.Y = 1
		} else if input.Keys.Has(prediction.InputUp) && !input.Keys.Has(prediction.InputDown) {
			dir.Y = -1
		}
		if l := dir.Length(); l > 0 {
			dir = dir.Scale(1 / l)
		}
		speed := CharacterSpeed
		if input.Keys.Has(prediction.InputRun) {
			speed = CharacterRunSpeed
		}
		target := dir.Scale(speed)

		// X-axis
		vx := kinematic.Approach(state.Velocity.X, target.X, CharacterAcceleration*dt)
		dx := vx * dt
		moveObject(probe, state.Position)
		if dx != 0 {
			if collision := probe.Check(dx, 0, CollisionSpaceTagLevel); collision != nil {
				dx = collision.ContactWithObject(collision.Objects[0]).X
				vx = 0
			}
		}

		// Y-axis
		vy := kinematic.Approach(state.Velocity.Y, target.Y, CharacterAcceleration*dt)
		dy := vy * dt
		moveObject(probe, kinematic.Vector{X: state.Position.X + dx, Y: state.Position.Y})
		if dy != 0 {
			if collision := probe.Check(0, dy, CollisionSpaceTagLevel); collision != nil {
				dy = collision.ContactWithObject(collision.Objects[0]).Y
				vy = 0
			}
		}

		next := state
		next.Position = kinematic.Vector{X: state.Position.X + dx, Y: state.Position.Y + dy}
		next.Velocity = kinematic.Vector{X: vx, Y: vy}
		next.HasVelocity = true
		next.HasRotation = true
		next.Rotation = input.AimAngle()
		next.Focused = input.Interact
		if vx > 0 {
			next.FacingRight = true
		} else if vx < 0 {
			next.FacingRight = false
		}
		switch {
		case math.Hypot(vx, vy) > CharacterSpeed:
			next.Animation = AnimationRun
		case vx != 0 || vy != 0:
			next.Animation = AnimationWalk
		default:
			next.Animation = AnimationIdle
		}
		return next
	}
}
