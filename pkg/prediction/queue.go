package prediction

import (
	"sort"

	"github.com/cbodonnell/tether/pkg/netid"
)

// InputQueue holds the frames a server has received for one actor but not
// yet applied. Frames are applied in id order and a missing frame is never
// waited for: once a later frame is applied the watermark passes the gap and
// the missing frame is discarded if it turns up.
type InputQueue struct {
	pending     []InputFrame
	lastApplied uint16
	started     bool
	maxBacklog  int
}

// NewInputQueue returns a queue that drops its oldest frames when more than
// maxBacklog are waiting, so a client cannot bank inputs.
func NewInputQueue(maxBacklog int) *InputQueue {
	if maxBacklog <= 0 {
		maxBacklog = InputBufferSize
	}
	return &InputQueue{maxBacklog: maxBacklog}
}

// LastApplied returns the watermark. It is reported back to the client with
// the actor's snapshot.
func (q *InputQueue) LastApplied() uint16 {
	return q.lastApplied
}

func (q *InputQueue) Len() int {
	return len(q.pending)
}

// Push adds the frames more recent than the watermark that are not pending
// already. It returns how many were added.
func (q *InputQueue) Push(frames []InputFrame) int {
	added := 0
	for _, f := range frames {
		if q.started && !netid.MoreRecent(f.ID, q.lastApplied) {
			continue
		}
		if q.contains(f.ID) {
			continue
		}
		q.pending = append(q.pending, f)
		added++
	}
	if added == 0 {
		return 0
	}
	ref := q.lastApplied
	if !q.started {
		ref = q.pending[0].ID - 1
		for _, f := range q.pending {
			if netid.MoreRecent(ref, f.ID-1) {
				ref = f.ID - 1
			}
		}
	}
	sort.SliceStable(q.pending, func(i, j int) bool {
		return netid.Difference(q.pending[i].ID, ref) < netid.Difference(q.pending[j].ID, ref)
	})
	for len(q.pending) > q.maxBacklog {
		q.lastApplied = q.pending[0].ID
		q.started = true
		q.pending = q.pending[1:]
	}
	return added
}

func (q *InputQueue) contains(id uint16) bool {
	for _, f := range q.pending {
		if f.ID == id {
			return true
		}
	}
	return false
}

// Next removes the oldest pending frame and advances the watermark to it.
func (q *InputQueue) Next() (InputFrame, bool) {
	if len(q.pending) == 0 {
		return InputFrame{}, false
	}
	f := q.pending[0]
	q.pending = q.pending[1:]
	q.lastApplied = f.ID
	q.started = true
	return f, true
}

// Clear forgets pending frames when the session gets a new actor. The
// watermark stays: the client keeps numbering inputs from the same counter.
func (q *InputQueue) Clear() {
	q.pending = nil
}
