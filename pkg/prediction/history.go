package prediction

import (
	"github.com/cbodonnell/tether/pkg/netid"
	"github.com/cbodonnell/tether/pkg/snapshot"
)

// HistorySize is how many samples each history keeps.
const HistorySize = 60

// IDHistory keeps states of the locally controlled actor ordered by input
// id. Samples may arrive out of order and are inserted in place.
type IDHistory struct {
	entries []snapshot.CharacterStateInfo
}

// Insert places info by its InputID, replacing a sample with the same id,
// and drops the oldest sample past HistorySize.
func (h *IDHistory) Insert(info snapshot.CharacterStateInfo) {
	i := len(h.entries)
	for i > 0 && netid.MoreRecent(h.entries[i-1].InputID, info.InputID) {
		i--
	}
	if i > 0 && h.entries[i-1].InputID == info.InputID {
		h.entries[i-1] = info
		return
	}
	h.entries = append(h.entries, snapshot.CharacterStateInfo{})
	copy(h.entries[i+1:], h.entries[i:])
	h.entries[i] = info
	if len(h.entries) > HistorySize {
		h.entries = h.entries[len(h.entries)-HistorySize:]
	}
}

// Find returns the sample for an input id.
func (h *IDHistory) Find(id uint16) (snapshot.CharacterStateInfo, bool) {
	for _, e := range h.entries {
		if e.InputID == id {
			return e, true
		}
	}
	return snapshot.CharacterStateInfo{}, false
}

// DropThrough removes every sample not more recent than id.
func (h *IDHistory) DropThrough(id uint16) {
	i := 0
	for i < len(h.entries) && !netid.MoreRecent(h.entries[i].InputID, id) {
		i++
	}
	h.entries = h.entries[i:]
}

func (h *IDHistory) Entries() []snapshot.CharacterStateInfo {
	return h.entries
}

func (h *IDHistory) Len() int {
	return len(h.entries)
}

// TimeHistory keeps server samples of a remote actor ordered by timestamp.
type TimeHistory struct {
	entries []snapshot.CharacterStateInfo
}

// Insert places info by its Timestamp. A sample with an equal timestamp is
// a duplicate and is ignored.
func (h *TimeHistory) Insert(info snapshot.CharacterStateInfo) {
	i := len(h.entries)
	for i > 0 && h.entries[i-1].Timestamp > info.Timestamp {
		i--
	}
	if i > 0 && h.entries[i-1].Timestamp == info.Timestamp {
		return
	}
	h.entries = append(h.entries, snapshot.CharacterStateInfo{})
	copy(h.entries[i+1:], h.entries[i:])
	h.entries[i] = info
	if len(h.entries) > HistorySize {
		h.entries = h.entries[len(h.entries)-HistorySize:]
	}
}

// Bracket returns the samples around t and how far t lies between them.
// Outside the stored range both samples are the nearest end and alpha is 0.
func (h *TimeHistory) Bracket(t float64) (from, to snapshot.CharacterStateInfo, alpha float64, ok bool) {
	n := len(h.entries)
	if n == 0 {
		return from, to, 0, false
	}
	if t <= h.entries[0].Timestamp {
		return h.entries[0], h.entries[0], 0, true
	}
	if t >= h.entries[n-1].Timestamp {
		return h.entries[n-1], h.entries[n-1], 0, true
	}
	for i := 1; i < n; i++ {
		if h.entries[i].Timestamp >= t {
			from, to = h.entries[i-1], h.entries[i]
			span := to.Timestamp - from.Timestamp
			return from, to, (t - from.Timestamp) / span, true
		}
	}
	return h.entries[n-1], h.entries[n-1], 0, true
}

// Latest returns the newest sample.
func (h *TimeHistory) Latest() (snapshot.CharacterStateInfo, bool) {
	if len(h.entries) == 0 {
		return snapshot.CharacterStateInfo{}, false
	}
	return h.entries[len(h.entries)-1], true
}

func (h *TimeHistory) Len() int {
	return len(h.entries)
}
