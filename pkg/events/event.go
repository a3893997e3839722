// Package events delivers discrete entity state changes reliably and in
// order over an unreliable transport.
//
// The server appends every change to a bounded history with a 16-bit
// wraparound id. Each session acknowledges the most recent id it applied,
// and every unacknowledged event is rewritten into later datagrams until
// the acknowledgement passes it. Sessions joining mid-round first receive a
// renumbered copy of the latest event per entity and type, then switch to
// the shared history.
package events

import (
	"fmt"

	"github.com/cbodonnell/tether/pkg/bitstream"
)

// NullEntityID is written in place of an event that could not be sent.
const NullEntityID uint16 = 0

// MaxEventsPerWrite bounds the events written into one block.
const MaxEventsPerWrite = 64

// EventType tags what aspect of an entity an event changes.
type EventType byte

// NetworkEvent is one discrete change to one entity. Its payload is fixed
// once it has been written to any session.
type NetworkEvent struct {
	ID       uint16
	EntityID uint16
	Type     EventType
	Payload  []byte
	// Checksum is the CRC32 of the payload; clients compare it with their
	// own state after applying the event.
	Checksum uint32

	key  eventKey
	seq  uint64
	sent bool
}

// Sent reports whether the event has been written to any session or
// copied into a mid-round sync. A sent event is never changed in place.
func (e *NetworkEvent) Sent() bool {
	return e.sent
}

func (e *NetworkEvent) String() string {
	return fmt.Sprintf("event %d (entity %d, type %d, %d bytes)", e.ID, e.EntityID, e.Type, len(e.Payload))
}

type eventKey struct {
	entityID uint16
	t        EventType
	subKey   uint32
}

func writeEvent(w *bitstream.Writer, e *NetworkEvent) {
	w.WriteUInt16(e.EntityID)
	if e.EntityID == NullEntityID {
		return
	}
	w.WriteUInt8(uint8(e.Type))
	w.WriteUInt32(e.Checksum)
	w.WriteBytes(e.Payload)
}

func writePlaceholder(w *bitstream.Writer) {
	w.WriteUInt16(NullEntityID)
}

func readEvent(r *bitstream.Reader) *NetworkEvent {
	e := &NetworkEvent{EntityID: r.ReadUInt16()}
	if e.EntityID == NullEntityID {
		return e
	}
	e.Type = EventType(r.ReadUInt8())
	e.Checksum = r.ReadUInt32()
	e.Payload = r.ReadBytes()
	return e
}

// ErrMissingEntity is returned by an Applier when an event targets an
// entity the receiver does not know.
type ErrMissingEntity struct {
	EntityID uint16
}

func (e *ErrMissingEntity) Error() string {
	return fmt.Sprintf("entity %d not found", e.EntityID)
}

func IsMissingEntity(err error) bool {
	_, ok := err.(*ErrMissingEntity)
	return ok
}
