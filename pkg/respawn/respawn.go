// Package respawn coordinates the respawn shuttle. The server decides every
// transition and announces it as an entity event before acting on it;
// clients only ever learn the state from those events.
package respawn

import (
	"fmt"
	"time"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/events"
)

type State byte

const (
	Waiting State = iota
	Transporting
	Returning
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "Waiting"
	case Transporting:
		return "Transporting"
	case Returning:
		return "Returning"
	default:
		return fmt.Sprintf("State(%d)", byte(s))
	}
}

// Event types emitted on the coordinator's entity.
const (
	EventState     events.EventType = 1
	EventCountdown events.EventType = 2
)

// MaxAssignments bounds the crew of one transport.
const MaxAssignments = 255

// Assignment places a respawning session in a shuttle seat.
type Assignment struct {
	SessionID byte
	Slot      byte
}

// StateChange is the payload of EventState.
type StateChange struct {
	State State
	// Assignments and TransportTime are set when entering Transporting.
	Assignments   []Assignment
	TransportTime time.Duration
	// ReturnTime is set when entering Returning.
	ReturnTime time.Duration
}

func (c StateChange) Encode() []byte {
	w := bitstream.NewWriter()
	w.WriteRangedInteger(int(c.State), int(Waiting), int(Returning))
	switch c.State {
	case Transporting:
		w.WriteUInt8(uint8(len(c.Assignments)))
		for _, a := range c.Assignments {
			w.WriteUInt8(a.SessionID)
			w.WriteUInt8(a.Slot)
		}
		w.WriteUInt32(uint32(c.TransportTime / time.Millisecond))
	case Returning:
		w.WriteUInt32(uint32(c.ReturnTime / time.Millisecond))
	}
	return w.Bytes()
}

func DecodeStateChange(payload []byte) (StateChange, error) {
	r := bitstream.NewReader(payload)
	c := StateChange{State: State(r.ReadRangedInteger(int(Waiting), int(Returning)))}
	switch c.State {
	case Transporting:
		n := int(r.ReadUInt8())
		for i := 0; i < n; i++ {
			c.Assignments = append(c.Assignments, Assignment{SessionID: r.ReadUInt8(), Slot: r.ReadUInt8()})
		}
		c.TransportTime = time.Duration(r.ReadUInt32()) * time.Millisecond
	case Returning:
		c.ReturnTime = time.Duration(r.ReadUInt32()) * time.Millisecond
	}
	if err := r.Err(); err != nil {
		return StateChange{}, fmt.Errorf("failed to decode respawn state: %v", err)
	}
	if c.State > Returning {
		return StateChange{}, fmt.Errorf("unknown respawn state %d", c.State)
	}
	return c, nil
}

// Countdown is the payload of EventCountdown.
type Countdown struct {
	Active    bool
	Remaining time.Duration
}

func (c Countdown) Encode() []byte {
	w := bitstream.NewWriter()
	w.WriteBoolean(c.Active)
	if c.Active {
		w.WriteUInt32(uint32(c.Remaining / time.Millisecond))
	}
	return w.Bytes()
}

func DecodeCountdown(payload []byte) (Countdown, error) {
	r := bitstream.NewReader(payload)
	c := Countdown{Active: r.ReadBoolean()}
	if c.Active {
		c.Remaining = time.Duration(r.ReadUInt32()) * time.Millisecond
	}
	if err := r.Err(); err != nil {
		return Countdown{}, fmt.Errorf("failed to decode respawn countdown: %v", err)
	}
	return c, nil
}

// RequiredEligible is how many sessions must be waiting to respawn before
// the countdown starts.
func RequiredEligible(total int, ratio float64) int {
	required := int(float64(total) * ratio)
	if required < 1 {
		required = 1
	}
	return required
}
