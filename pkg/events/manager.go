package events

import (
	"fmt"
	"hash/crc32"
	"sort"
	"time"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/messages"
	"github.com/cbodonnell/tether/pkg/netid"
	"github.com/cbodonnell/tether/pkg/packet"
	"github.com/cbodonnell/tether/pkg/session"
)

const (
	// nothingReceived is the acknowledgement of a session that has not
	// applied any mid-round sync event yet. Sync events are numbered from 0.
	nothingReceived uint16 = 65535

	blockHeaderBits        = messages.NetObjectBits + 16 + 8
	initialBlockHeaderBits = blockHeaderBits + 16 + 16
)

// Manager is the server side of the event channel. Like the session
// registry it is owned by the tick loop and is not safe for concurrent use.
type Manager struct {
	// events holds every event not yet acknowledged by all sessions, ordered by id.
	events []*NetworkEvent
	// unique holds the latest event per key for mid-round joiners.
	unique  map[eventKey]*NetworkEvent
	syncing map[*session.Session][]*NetworkEvent
	lastID  uint16
	seq     uint64

	historyCapacity      int
	maxEventBits         int
	minResendInterval    time.Duration
	midRoundSyncBase     time.Duration
	midRoundSyncPerEvent time.Duration
}

type NewManagerOptions struct {
	// HistoryCapacity is how many unacknowledged events are kept before the
	// sessions holding them back are disconnected.
	HistoryCapacity int
	// PayloadBudgetBits is the room in an empty datagram; an event that does
	// not fit in it is replaced with a placeholder.
	PayloadBudgetBits int
	// ReservedBits is what every datagram spends before the event block.
	ReservedBits         int
	MinResendInterval    time.Duration
	MidRoundSyncBase     time.Duration
	MidRoundSyncPerEvent time.Duration
}

func NewManager(opts NewManagerOptions) *Manager {
	if opts.HistoryCapacity <= 0 || opts.HistoryCapacity > netid.HalfRange-1 {
		opts.HistoryCapacity = netid.HalfRange - 1
	}
	return &Manager{
		unique:               make(map[eventKey]*NetworkEvent),
		syncing:              make(map[*session.Session][]*NetworkEvent),
		historyCapacity:      opts.HistoryCapacity,
		maxEventBits:         opts.PayloadBudgetBits - opts.ReservedBits - initialBlockHeaderBits,
		minResendInterval:    opts.MinResendInterval,
		midRoundSyncBase:     opts.MidRoundSyncBase,
		midRoundSyncPerEvent: opts.MidRoundSyncPerEvent,
	}
}

// LastID returns the id of the most recently created event, 0 before any.
func (m *Manager) LastID() uint16 {
	return m.lastID
}

// Len returns the number of events in the history.
func (m *Manager) Len() int {
	return len(m.events)
}

// UniqueLen returns how many events a session joining now would be sent.
func (m *Manager) UniqueLen() int {
	return len(m.unique)
}

// CreateEvent records a change to one aspect of an entity. If an event for
// the same entity and type has not been written to anyone yet, its payload
// is replaced and no new id is used.
func (m *Manager) CreateEvent(entityID uint16, t EventType, payload []byte) (*NetworkEvent, error) {
	return m.CreateKeyedEvent(entityID, t, 0, payload)
}

// CreateKeyedEvent is CreateEvent for entities that emit several independent
// events of one type, such as a spawner announcing different entities.
// subKey tells them apart.
func (m *Manager) CreateKeyedEvent(entityID uint16, t EventType, subKey uint32, payload []byte) (*NetworkEvent, error) {
	if entityID == NullEntityID {
		return nil, fmt.Errorf("cannot create an event for the null entity")
	}
	key := eventKey{entityID: entityID, t: t, subKey: subKey}
	data := make([]byte, len(payload))
	copy(data, payload)
	checksum := crc32.ChecksumIEEE(data)

	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if e.sent {
			break
		}
		if e.key == key {
			e.Payload = data
			e.Checksum = checksum
			m.unique[key] = e
			return e, nil
		}
	}

	m.lastID++
	m.seq++
	e := &NetworkEvent{
		ID:       m.lastID,
		EntityID: entityID,
		Type:     t,
		Payload:  data,
		Checksum: checksum,
		key:      key,
		seq:      m.seq,
	}
	m.events = append(m.events, e)
	m.unique[key] = e
	return e, nil
}

// RemoveEntity forgets the mid-round state of an entity that no longer
// exists, including keyed events that refer to it.
func (m *Manager) RemoveEntity(entityID uint16) {
	for key := range m.unique {
		if key.entityID == entityID || (key.subKey != 0 && key.subKey == uint32(entityID)) {
			delete(m.unique, key)
		}
	}
}

// Clear drops all events and restarts ids for a new round.
func (m *Manager) Clear() {
	m.events = nil
	m.unique = make(map[eventKey]*NetworkEvent)
	m.syncing = make(map[*session.Session][]*NetworkEvent)
	m.lastID = 0
}

// Forget drops the manager's state for a session that left.
func (m *Manager) Forget(s *session.Session) {
	delete(m.syncing, s)
}

// InitMidRoundSync prepares a joining session. The latest event for every
// entity aspect is copied and renumbered from 0; events created from now on
// are delivered through the shared history once the copies are applied.
//
// Every event in the history is frozen as if sent: the copies carry their
// payloads, so a later change must take a new id the joiner will receive.
func (m *Manager) InitMidRoundSync(s *session.Session, now time.Time) {
	for _, e := range m.events {
		e.sent = true
	}
	list := make([]*NetworkEvent, 0, len(m.unique))
	for _, e := range m.unique {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })

	copies := make([]*NetworkEvent, len(list))
	for i, e := range list {
		copies[i] = &NetworkEvent{
			ID:       uint16(i),
			EntityID: e.EntityID,
			Type:     e.Type,
			Payload:  e.Payload,
			Checksum: e.Checksum,
			key:      e.key,
			seq:      e.seq,
		}
	}
	m.syncing[s] = copies

	s.NeedsMidRoundSync = true
	s.UnreceivedEntityEventCount = uint16(len(copies))
	s.FirstNewEventID = m.lastID + 1
	s.LastRecvEntityEventID = nothingReceived
	s.LastSentEntityEventID = nothingReceived
	s.EntityEventLastSent = make(map[uint16]time.Time)
	s.MidRoundSyncDeadline = now.Add(m.midRoundSyncBase)

	log.Debug("Session %d mid-round sync: %d events, first new event %d", s.ID, len(copies), s.FirstNewEventID)
}

func (m *Manager) finishMidRoundSync(s *session.Session) {
	prev := s.LastRecvEntityEventID
	s.NeedsMidRoundSync = false
	s.LastRecvEntityEventID = s.FirstNewEventID - 1
	s.LastSentEntityEventID = s.LastRecvEntityEventID
	s.EntityEventLastSent = make(map[uint16]time.Time)
	delete(m.syncing, s)
	log.Debug("Session %d finished mid-round sync, switching from id %d to %d", s.ID, prev, s.LastRecvEntityEventID)
}

// MidRoundSyncTimedOut reports whether a session has been syncing for too long.
func (m *Manager) MidRoundSyncTimedOut(s *session.Session, now time.Time) bool {
	return s.NeedsMidRoundSync && now.After(s.MidRoundSyncDeadline)
}

func (m *Manager) resendInterval(s *session.Session) time.Duration {
	interval := s.RTT * 3 / 2
	if interval < m.minResendInterval {
		interval = m.minResendInterval
	}
	return interval
}

// Write encodes the next block of events the session has not acknowledged,
// stopping before budgetBits would be exceeded. It returns the segment, tag
// included, and exactly the events in it; pass them to MarkSent once the
// datagram has gone out. A nil segment means there is nothing to send.
//
// An event too large for an empty datagram is written as a placeholder and
// reported with packet.ErrCapacityExceeded alongside the segment.
func (m *Manager) Write(s *session.Session, budgetBits int, now time.Time) (*bitstream.Writer, []*NetworkEvent, error) {
	var (
		list       []*NetworkEvent
		start      int
		headerBits int
	)
	if s.NeedsMidRoundSync {
		list = m.syncing[s]
		start = int(uint16(s.LastRecvEntityEventID + 1))
		headerBits = initialBlockHeaderBits
	} else {
		list = m.events
		if len(list) == 0 || !netid.MoreRecent(list[len(list)-1].ID, s.LastRecvEntityEventID) {
			return nil, nil, nil
		}
		start = netid.Difference(s.LastRecvEntityEventID+1, list[0].ID)
		if start < 0 {
			start = 0
		}
		headerBits = blockHeaderBits
	}
	if headerBits > budgetBits {
		return nil, nil, nil
	}

	// Skip what is still in flight; the client may yet acknowledge it.
	window := m.resendInterval(s)
	for start < len(list) {
		sent, ok := s.EntityEventLastSent[list[start].ID]
		if !ok || now.Sub(sent) >= window {
			break
		}
		start++
	}

	var (
		included []*NetworkEvent
		capErr   error
	)
	body := bitstream.NewWriter()
	for i := start; i < len(list) && len(included) < MaxEventsPerWrite; i++ {
		e := list[i]
		seg := bitstream.NewWriter()
		writeEvent(seg, e)
		if seg.LengthBits() > m.maxEventBits {
			if capErr == nil {
				capErr = &packet.ErrCapacityExceeded{
					Identity:   e.String(),
					SizeBits:   seg.LengthBits(),
					BudgetBits: m.maxEventBits,
				}
			}
			seg.Reset()
			writePlaceholder(seg)
		}
		if headerBits+body.LengthBits()+seg.LengthBits() > budgetBits {
			break
		}
		body.Append(seg)
		included = append(included, e)
	}

	if len(included) == 0 && !s.NeedsMidRoundSync {
		return nil, nil, capErr
	}

	w := bitstream.NewWriter()
	firstID := uint16(0)
	if len(included) > 0 {
		firstID = included[0].ID
	}
	if s.NeedsMidRoundSync {
		w.WriteUInt8(uint8(messages.ServerEntityEventInitial))
		w.WriteUInt16(s.UnreceivedEntityEventCount)
		w.WriteUInt16(s.FirstNewEventID)
	} else {
		w.WriteUInt8(uint8(messages.ServerEntityEvent))
	}
	w.WriteUInt16(firstID)
	w.WriteUInt8(uint8(len(included)))
	w.Append(body)
	return w, included, capErr
}

// MarkSent records that events returned by Write were transmitted.
func (m *Manager) MarkSent(s *session.Session, included []*NetworkEvent, now time.Time) {
	for _, e := range included {
		s.EntityEventLastSent[e.ID] = now
		if !s.NeedsMidRoundSync {
			e.sent = true
		}
	}
	if len(included) > 0 {
		s.LastSentEntityEventID = included[len(included)-1].ID
	}
}

// Acknowledge applies the most recent event id a session reports applied.
// syncing is the client's own view of whether it is still applying
// mid-round sync events.
func (m *Manager) Acknowledge(s *session.Session, id uint16, syncing bool, now time.Time) error {
	if s.NeedsMidRoundSync {
		if !syncing {
			if id != s.FirstNewEventID-1 {
				return messages.NewProtocolViolation("session %d finished mid-round sync at event %d, expected %d", s.ID, id, s.FirstNewEventID-1)
			}
			m.finishMidRoundSync(s)
			return nil
		}
		n := s.UnreceivedEntityEventCount
		if n == 0 || !netid.MoreRecent(id, s.LastRecvEntityEventID) {
			return nil
		}
		if netid.MoreRecent(id, n-1) {
			return messages.NewProtocolViolation("session %d acknowledged sync event %d of %d", s.ID, id, n)
		}
		gained := netid.Difference(id, s.LastRecvEntityEventID)
		s.MidRoundSyncDeadline = s.MidRoundSyncDeadline.Add(time.Duration(gained) * m.midRoundSyncPerEvent)
		s.LastRecvEntityEventID = id
		if id == n-1 {
			m.finishMidRoundSync(s)
		}
		return nil
	}

	if syncing {
		// late datagram from before the switch
		return nil
	}
	if !netid.MoreRecent(id, s.LastRecvEntityEventID) {
		return nil
	}
	if netid.MoreRecent(id, m.lastID) {
		return messages.NewProtocolViolation("session %d acknowledged event %d, newest is %d", s.ID, id, m.lastID)
	}
	s.LastRecvEntityEventID = id
	for sentID := range s.EntityEventLastSent {
		if !netid.MoreRecent(sentID, id) {
			delete(s.EntityEventLastSent, sentID)
		}
	}
	return nil
}

// ackBoundary is the newest shared-history id a session no longer needs.
func ackBoundary(s *session.Session) uint16 {
	if s.NeedsMidRoundSync {
		return s.FirstNewEventID - 1
	}
	return s.LastRecvEntityEventID
}

// Trim drops events every session has acknowledged. If the history is still
// over capacity, the sessions holding it back are returned so the caller can
// disconnect them.
func (m *Manager) Trim(sessions []*session.Session) []*session.Session {
	if len(sessions) == 0 {
		for i := range m.events {
			m.events[i] = nil
		}
		m.events = m.events[:0]
		return nil
	}
	oldest := ackBoundary(sessions[0])
	for _, s := range sessions[1:] {
		if b := ackBoundary(s); netid.MoreRecent(oldest, b) {
			oldest = b
		}
	}

	drop := 0
	for drop < len(m.events) && !netid.MoreRecent(m.events[drop].ID, oldest) {
		drop++
	}
	if drop > 0 {
		n := copy(m.events, m.events[drop:])
		for i := n; i < len(m.events); i++ {
			m.events[i] = nil
		}
		m.events = m.events[:n]
	}

	if len(m.events) <= m.historyCapacity {
		return nil
	}
	var blocking []*session.Session
	for _, s := range sessions {
		if ackBoundary(s) == oldest {
			blocking = append(blocking, s)
		}
	}
	return blocking
}

// HandleDesyncReport logs a client's desync report. Gaps and unknown
// entities resolve themselves through retransmission; a checksum mismatch
// confirmed against the stored event returns ErrClientDesync.
func (m *Manager) HandleDesyncReport(s *session.Session, report DesyncReport) error {
	log.Warn("Session %d (%s) reported %s", s.ID, s.Name, report)
	if report.Kind != DesyncChecksumMismatch || !report.HasChecksum {
		return nil
	}
	e := m.find(s, report.Received)
	if e == nil {
		log.Debug("Session %d desync refers to event %d which is no longer stored", s.ID, report.Received)
		return nil
	}
	if e.Checksum == report.Checksum {
		return nil
	}
	return &ErrClientDesync{SessionID: s.ID, Report: report, Expected: e.Checksum}
}

func (m *Manager) find(s *session.Session, id uint16) *NetworkEvent {
	list := m.events
	if s.NeedsMidRoundSync {
		list = m.syncing[s]
	}
	for _, e := range list {
		if e.ID == id {
			return e
		}
	}
	return nil
}
