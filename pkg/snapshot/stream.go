package snapshot

import (
	"fmt"
	"time"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/kinematic"
	"github.com/cbodonnell/tether/pkg/packet"
	"github.com/cbodonnell/tether/pkg/session"
)

// Candidate is an entity that may be streamed this tick.
type Candidate struct {
	ID       uint16
	Position kinematic.Vector
}

// Stream decides per session which entities are due for a snapshot.
type Stream struct {
	nearInterval   time.Duration
	farInterval    time.Duration
	nearDistance   float64
	farDistance    float64
	cutoffDistance float64
}

type NewStreamOptions struct {
	// NearInterval applies up to NearDistance, FarInterval from FarDistance
	// on, and the interval is interpolated in between.
	NearInterval time.Duration
	FarInterval  time.Duration
	NearDistance float64
	FarDistance  float64
	// CutoffDistance is the farthest an entity can be and still be sent.
	CutoffDistance float64
}

func NewStream(opts NewStreamOptions) *Stream {
	if opts.FarDistance < opts.NearDistance {
		opts.FarDistance = opts.NearDistance
	}
	return &Stream{
		nearInterval:   opts.NearInterval,
		farInterval:    opts.FarInterval,
		nearDistance:   opts.NearDistance,
		farDistance:    opts.FarDistance,
		cutoffDistance: opts.CutoffDistance,
	}
}

// Interval returns the update interval for an entity at distance.
func (st *Stream) Interval(distance float64) time.Duration {
	if distance <= st.nearDistance || st.farDistance == st.nearDistance {
		return st.nearInterval
	}
	if distance >= st.farDistance {
		return st.farInterval
	}
	t := (distance - st.nearDistance) / (st.farDistance - st.nearDistance)
	return st.nearInterval + time.Duration(t*float64(st.farInterval-st.nearInterval))
}

// Collect queues every candidate within the cutoff whose interval has
// elapsed since it was last sent to s. Followers of a link group are never
// queued; their leader stands in for them.
func (st *Stream) Collect(s *session.Session, candidates []Candidate, groups *LinkGroups, now time.Time) {
	for _, c := range candidates {
		if groups.IsFollower(c.ID) {
			continue
		}
		distance := s.ViewPosition.Distance(c.Position)
		if distance > st.cutoffDistance {
			continue
		}
		if last, ok := s.PositionLastSent[c.ID]; ok && now.Sub(last) < st.Interval(distance) {
			continue
		}
		s.EnqueuePosition(c.ID)
	}
}

// SegmentFunc encodes the snapshot of an entity for a session. ok is false
// when the entity no longer exists.
type SegmentFunc func(entityID uint16) (seg *bitstream.Writer, ok bool)

// WritePending appends queued snapshots to batch, oldest first, until the
// batch is full. Written entities leave the queue and have their send time
// recorded; the rest stay queued for the next send. It returns how many
// snapshots were written.
func (st *Stream) WritePending(s *session.Session, batch *packet.Batch, encode SegmentFunc, now time.Time) (int, error) {
	var capErr error
	written, next := 0, 0
	for ; next < len(s.PendingPositionUpdates); next++ {
		id := s.PendingPositionUpdates[next]
		seg, ok := encode(id)
		if !ok {
			continue
		}
		appended, err := batch.Append(seg, fmt.Sprintf("position of entity %d", id))
		if err != nil {
			if capErr == nil {
				capErr = err
			}
			continue
		}
		if !appended {
			break
		}
		s.PositionLastSent[id] = now
		written++
	}
	s.PendingPositionUpdates = append(s.PendingPositionUpdates[:0], s.PendingPositionUpdates[next:]...)
	return written, capErr
}
