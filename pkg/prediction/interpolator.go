package prediction

import (
	"math"
	"time"

	"github.com/cbodonnell/tether/pkg/snapshot"
)

type Visibility int

const (
	Visible Visibility = iota
	// Frozen actors are drawn at their last known state.
	Frozen
	// Hidden actors are not drawn at all.
	Hidden
)

const (
	DefaultFreezeAfter = time.Second
	DefaultHideAfter   = 3 * time.Second
)

// Interpolator renders a remote actor between the two server samples that
// bracket the render time. It never extrapolates.
type Interpolator struct {
	history      TimeHistory
	lastReceived time.Time
	freezeAfter  time.Duration
	hideAfter    time.Duration
}

func NewInterpolator(freezeAfter, hideAfter time.Duration) *Interpolator {
	if freezeAfter <= 0 {
		freezeAfter = DefaultFreezeAfter
	}
	if hideAfter < freezeAfter {
		hideAfter = DefaultHideAfter
	}
	return &Interpolator{freezeAfter: freezeAfter, hideAfter: hideAfter}
}

// Push stores a server sample received at receivedAt.
func (ip *Interpolator) Push(info snapshot.CharacterStateInfo, receivedAt time.Time) {
	ip.history.Insert(info)
	if receivedAt.After(ip.lastReceived) {
		ip.lastReceived = receivedAt
	}
}

// Sample returns the state to show at renderTime, in server seconds.
func (ip *Interpolator) Sample(renderTime float64, now time.Time) (snapshot.CharacterStateInfo, Visibility) {
	latest, ok := ip.history.Latest()
	if !ok {
		return snapshot.CharacterStateInfo{}, Hidden
	}
	stale := now.Sub(ip.lastReceived)
	if stale > ip.hideAfter {
		return latest, Hidden
	}
	if stale > ip.freezeAfter {
		return latest, Frozen
	}

	from, to, alpha, _ := ip.history.Bracket(renderTime)
	out := to
	out.Position = from.Position.Lerp(to.Position, alpha)
	if from.HasVelocity && to.HasVelocity {
		out.Velocity = from.Velocity.Lerp(to.Velocity, alpha)
	}
	if from.HasRotation && to.HasRotation {
		out.Rotation = lerpAngle(from.Rotation, to.Rotation, alpha)
	}
	out.Timestamp = renderTime
	return out, Visible
}

// lerpAngle interpolates along the shorter arc.
func lerpAngle(a, b, t float64) float64 {
	d := math.Mod(b-a, 2*math.Pi)
	if d > math.Pi {
		d -= 2 * math.Pi
	} else if d < -math.Pi {
		d += 2 * math.Pi
	}
	return a + d*t
}
