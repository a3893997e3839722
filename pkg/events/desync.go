package events

import (
	"fmt"

	"github.com/cbodonnell/tether/pkg/bitstream"
)

type DesyncKind byte

const (
	// DesyncEventGap means a block skipped past the next expected id.
	DesyncEventGap DesyncKind = iota
	// DesyncMissingEntity means an event targeted an unknown entity.
	DesyncMissingEntity
	// DesyncApplyFailed means an event payload could not be applied.
	DesyncApplyFailed
	// DesyncChecksumMismatch means the receiver's state after applying an
	// event does not match the checksum carried by the event.
	DesyncChecksumMismatch
)

func (k DesyncKind) String() string {
	switch k {
	case DesyncEventGap:
		return "event gap"
	case DesyncMissingEntity:
		return "missing entity"
	case DesyncApplyFailed:
		return "apply failed"
	case DesyncChecksumMismatch:
		return "checksum mismatch"
	default:
		return fmt.Sprintf("DesyncKind(%d)", byte(k))
	}
}

// DesyncReport is sent by a client that could not apply an event.
type DesyncReport struct {
	Kind        DesyncKind
	Expected    uint16
	Received    uint16
	EntityID    uint16
	LastApplied uint16
	HasChecksum bool
	Checksum    uint32
}

func (d DesyncReport) String() string {
	s := fmt.Sprintf("%s: expected event %d, got %d (entity %d, last applied %d)", d.Kind, d.Expected, d.Received, d.EntityID, d.LastApplied)
	if d.HasChecksum {
		s += fmt.Sprintf(", checksum %08x", d.Checksum)
	}
	return s
}

func WriteDesyncReport(w *bitstream.Writer, d DesyncReport) {
	w.WriteRangedInteger(int(d.Kind), 0, int(DesyncChecksumMismatch))
	w.WriteUInt16(d.Expected)
	w.WriteUInt16(d.Received)
	w.WriteUInt16(d.EntityID)
	w.WriteUInt16(d.LastApplied)
	w.WriteBoolean(d.HasChecksum)
	if d.HasChecksum {
		w.WriteUInt32(d.Checksum)
	}
}

func ReadDesyncReport(r *bitstream.Reader) DesyncReport {
	d := DesyncReport{
		Kind:        DesyncKind(r.ReadRangedInteger(0, int(DesyncChecksumMismatch))),
		Expected:    r.ReadUInt16(),
		Received:    r.ReadUInt16(),
		EntityID:    r.ReadUInt16(),
		LastApplied: r.ReadUInt16(),
		HasChecksum: r.ReadBoolean(),
	}
	if d.HasChecksum {
		d.Checksum = r.ReadUInt32()
	}
	return d
}

// ErrClientDesync means a client's simulation has diverged from the
// server's and cannot recover; the session must be disconnected.
type ErrClientDesync struct {
	SessionID byte
	Report    DesyncReport
	Expected  uint32
}

func (e *ErrClientDesync) Error() string {
	return fmt.Sprintf("session %d desynced: %s, server checksum %08x", e.SessionID, e.Report, e.Expected)
}

func IsClientDesync(err error) bool {
	_, ok := err.(*ErrClientDesync)
	return ok
}
