package events

import (
	"fmt"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/netid"
)

// Applier applies received events to the client's copy of the world.
type Applier interface {
	// ApplyEvent returns ErrMissingEntity if entityID is unknown.
	ApplyEvent(entityID uint16, t EventType, payload []byte) error
	// EventChecksum returns the checksum of the aspect t of an entity as the
	// client now sees it. ok is false when the client cannot compute one.
	EventChecksum(entityID uint16, t EventType) (sum uint32, ok bool)
}

// Receiver is the client side of the event channel. Every client starts out
// mid-round syncing; the first initial block tells it how many sync events
// to expect and where the shared history continues.
type Receiver struct {
	lastReceivedID  uint16
	midRoundSyncing bool
	unreceived      uint16
	firstNewID      uint16
}

func NewReceiver() *Receiver {
	return &Receiver{
		lastReceivedID:  nothingReceived,
		midRoundSyncing: true,
	}
}

// LastReceivedID is the acknowledgement to send back to the server.
func (rc *Receiver) LastReceivedID() uint16 {
	return rc.lastReceivedID
}

// MidRoundSyncing reports whether sync events are still being applied.
func (rc *Receiver) MidRoundSyncing() bool {
	return rc.midRoundSyncing
}

// Reset prepares the receiver for a new round.
func (rc *Receiver) Reset() {
	*rc = *NewReceiver()
}

func (rc *Receiver) finishSync() {
	rc.midRoundSyncing = false
	rc.lastReceivedID = rc.firstNewID - 1
}

// Read decodes one event block whose tag has already been read and applies
// every event that is next in order. Events already applied are skipped.
// Problems the server should hear about are returned as reports; the error
// is only set when the block itself is malformed.
func (rc *Receiver) Read(r *bitstream.Reader, initial bool, applier Applier) ([]DesyncReport, error) {
	var unreceived, firstNew uint16
	if initial {
		unreceived = r.ReadUInt16()
		firstNew = r.ReadUInt16()
	}
	firstID := r.ReadUInt16()
	count := int(r.ReadUInt8())
	received := make([]*NetworkEvent, 0, count)
	for i := 0; i < count; i++ {
		e := readEvent(r)
		e.ID = firstID + uint16(i)
		received = append(received, e)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event block: %v", err)
	}

	if initial {
		if !rc.midRoundSyncing {
			return nil, nil
		}
		rc.unreceived = unreceived
		rc.firstNewID = firstNew
		if unreceived == 0 {
			rc.finishSync()
			return nil, nil
		}
	} else if rc.midRoundSyncing {
		return nil, nil
	}

	var reports []DesyncReport
	for _, e := range received {
		expected := rc.lastReceivedID + 1
		if e.ID != expected {
			if netid.MoreRecent(e.ID, expected) {
				reports = append(reports, rc.report(DesyncEventGap, e))
				break
			}
			continue
		}

		if e.EntityID != NullEntityID {
			if err := applier.ApplyEvent(e.EntityID, e.Type, e.Payload); err != nil {
				kind := DesyncApplyFailed
				if IsMissingEntity(err) {
					kind = DesyncMissingEntity
				}
				reports = append(reports, rc.report(kind, e))
				break
			}
		}
		rc.lastReceivedID = e.ID

		if e.EntityID != NullEntityID {
			if sum, ok := applier.EventChecksum(e.EntityID, e.Type); ok && sum != e.Checksum {
				report := rc.report(DesyncChecksumMismatch, e)
				report.HasChecksum = true
				report.Checksum = sum
				reports = append(reports, report)
			}
		}

		if initial && e.ID == rc.unreceived-1 {
			rc.finishSync()
			break
		}
	}
	return reports, nil
}

func (rc *Receiver) report(kind DesyncKind, e *NetworkEvent) DesyncReport {
	return DesyncReport{
		Kind:        kind,
		Expected:    rc.lastReceivedID + 1,
		Received:    e.ID,
		EntityID:    e.EntityID,
		LastApplied: rc.lastReceivedID,
	}
}
