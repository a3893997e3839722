package events

import (
	"hash/crc32"
	"testing"
	"time"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/messages"
	"github.com/cbodonnell/tether/pkg/netid"
	"github.com/cbodonnell/tether/pkg/packet"
	"github.com/cbodonnell/tether/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBudget = 8000

type fakeWorld struct {
	known   map[uint16]bool
	state   map[uint16]map[EventType][]byte
	corrupt bool
}

func newFakeWorld(entities ...uint16) *fakeWorld {
	w := &fakeWorld{
		known: make(map[uint16]bool),
		state: make(map[uint16]map[EventType][]byte),
	}
	for _, id := range entities {
		w.known[id] = true
	}
	return w
}

func (w *fakeWorld) ApplyEvent(entityID uint16, t EventType, payload []byte) error {
	if !w.known[entityID] {
		return &ErrMissingEntity{EntityID: entityID}
	}
	if w.state[entityID] == nil {
		w.state[entityID] = make(map[EventType][]byte)
	}
	w.state[entityID][t] = payload
	return nil
}

func (w *fakeWorld) EventChecksum(entityID uint16, t EventType) (uint32, bool) {
	p, ok := w.state[entityID][t]
	if !ok {
		return 0, false
	}
	sum := crc32.ChecksumIEEE(p)
	if w.corrupt {
		sum++
	}
	return sum, true
}

func newTestManager() *Manager {
	return NewManager(NewManagerOptions{
		HistoryCapacity:      16,
		PayloadBudgetBits:    testBudget,
		MinResendInterval:    100 * time.Millisecond,
		MidRoundSyncBase:     5 * time.Second,
		MidRoundSyncPerEvent: 10 * time.Millisecond,
	})
}

func newTestSession(id byte) *session.Session {
	s := &session.Session{ID: id}
	s.ResetSyncState()
	return s
}

// joined returns a session that has finished an empty mid-round sync.
func joined(t *testing.T, m *Manager, id byte, now time.Time) *session.Session {
	s := newTestSession(id)
	m.InitMidRoundSync(s, now)
	require.NoError(t, m.Acknowledge(s, s.FirstNewEventID-1, false, now))
	require.False(t, s.NeedsMidRoundSync)
	return s
}

// deliver writes a block for s and feeds it to the receiver.
func deliver(t *testing.T, m *Manager, s *session.Session, rc *Receiver, w Applier, now time.Time) ([]*NetworkEvent, []DesyncReport) {
	seg, included, err := m.Write(s, testBudget, now)
	require.NoError(t, err)
	if seg == nil {
		return nil, nil
	}
	m.MarkSent(s, included, now)
	r := bitstream.NewReader(seg.Bytes())
	tag := messages.ServerNetObject(r.ReadUInt8())
	reports, err := rc.Read(r, tag == messages.ServerEntityEventInitial, w)
	require.NoError(t, err)
	return included, reports
}

func ids(list []*NetworkEvent) []uint16 {
	out := make([]uint16, 0, len(list))
	for _, e := range list {
		out = append(out, e.ID)
	}
	return out
}

func TestCreateEvent_IdempotentUntilSent(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	s := joined(t, m, 1, now)

	first, err := m.CreateEvent(7, 1, []byte{1})
	require.NoError(t, err)
	second, err := m.CreateEvent(7, 1, []byte{2})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, []byte{2}, first.Payload)
	assert.Equal(t, crc32.ChecksumIEEE([]byte{2}), first.Checksum)

	other, err := m.CreateEvent(7, 2, []byte{3})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID, "different type is a different event")

	_, included, err := m.Write(s, testBudget, now)
	require.NoError(t, err)
	m.MarkSent(s, included, now)

	third, err := m.CreateEvent(7, 1, []byte{4})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Equal(t, []byte{2}, first.Payload, "sent payloads never change")
	assert.Equal(t, 3, m.Len())
}

func TestCreateEvent_NullEntity(t *testing.T) {
	m := newTestManager()
	_, err := m.CreateEvent(NullEntityID, 1, nil)
	assert.Error(t, err)
}

func TestWrite_DeliversInOrderAndTrims(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	s := joined(t, m, 1, now)
	w := newFakeWorld(5, 6)
	rc := NewReceiver()
	rc.firstNewID = s.FirstNewEventID
	rc.finishSync()

	for i := 0; i < 3; i++ {
		_, err := m.CreateEvent(5+uint16(i%2), EventType(i), []byte{byte(i)})
		require.NoError(t, err)
	}

	included, reports := deliver(t, m, s, rc, w, now)
	assert.Empty(t, reports)
	assert.Equal(t, []uint16{1, 2, 3}, ids(included))
	assert.Equal(t, uint16(3), rc.LastReceivedID())
	assert.Equal(t, []byte{2}, w.state[5][2])

	require.NoError(t, m.Acknowledge(s, rc.LastReceivedID(), rc.MidRoundSyncing(), now))
	assert.Empty(t, s.EntityEventLastSent)
	assert.Nil(t, m.Trim([]*session.Session{s}))
	assert.Equal(t, 0, m.Len())

	seg, _, err := m.Write(s, testBudget, now)
	require.NoError(t, err)
	assert.Nil(t, seg, "nothing left to send")
}

func TestWrite_ResendThrottle(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	s := joined(t, m, 1, now)
	s.RTT = 40 * time.Millisecond

	_, err := m.CreateEvent(5, 1, []byte{1})
	require.NoError(t, err)
	seg, included, err := m.Write(s, testBudget, now)
	require.NoError(t, err)
	require.NotNil(t, seg)
	m.MarkSent(s, included, now)

	seg, _, err = m.Write(s, testBudget, now.Add(50*time.Millisecond))
	require.NoError(t, err)
	assert.Nil(t, seg, "in flight within the minimum resend interval")

	_, err = m.CreateEvent(5, 2, []byte{2})
	require.NoError(t, err)
	_, included, err = m.Write(s, testBudget, now.Add(50*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, []uint16{2}, ids(included), "in-flight prefix skipped")

	_, included, err = m.Write(s, testBudget, now.Add(100*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2}, ids(included), "resent once the window passed")
	m.MarkSent(s, included, now.Add(100*time.Millisecond))

	s.RTT = time.Second
	_, included, err = m.Write(s, testBudget, now.Add(1400*time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, included, "window scales with round trip time")
}

func TestWrite_BudgetLimitsBlock(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	s := joined(t, m, 1, now)
	for i := 0; i < 10; i++ {
		_, err := m.CreateEvent(uint16(10+i), 1, make([]byte, 8))
		require.NoError(t, err)
	}

	seg, included, err := m.Write(s, 300, now)
	require.NoError(t, err)
	require.NotNil(t, seg)
	assert.LessOrEqual(t, seg.LengthBits(), 300)
	assert.Equal(t, []uint16{1, 2}, ids(included))

	seg, _, err = m.Write(s, 20, now)
	require.NoError(t, err)
	assert.Nil(t, seg)
}

func TestWrite_OversizedEventBecomesPlaceholder(t *testing.T) {
	m := NewManager(NewManagerOptions{
		HistoryCapacity:   16,
		PayloadBudgetBits: 400,
		MinResendInterval: 100 * time.Millisecond,
	})
	now := time.Unix(100, 0)
	s := joined(t, m, 1, now)
	_, err := m.CreateEvent(5, 1, make([]byte, 100))
	require.NoError(t, err)
	_, err = m.CreateEvent(6, 1, []byte{1})
	require.NoError(t, err)

	seg, included, err := m.Write(s, 400, now)
	assert.True(t, packet.IsCapacityExceeded(err))
	require.NotNil(t, seg)
	assert.Equal(t, []uint16{1, 2}, ids(included))

	w := newFakeWorld(5, 6)
	rc := NewReceiver()
	rc.firstNewID = s.FirstNewEventID
	rc.finishSync()
	r := bitstream.NewReader(seg.Bytes())
	r.ReadUInt8()
	reports, err := rc.Read(r, false, w)
	require.NoError(t, err)
	assert.Empty(t, reports)
	assert.Equal(t, uint16(2), rc.LastReceivedID())
	assert.Nil(t, w.state[5], "placeholder applies nothing")
	assert.Equal(t, []byte{1}, w.state[6][1])
}

func TestWrite_EventFillingTheDatagramHeaderRoomBecomesPlaceholder(t *testing.T) {
	const (
		budget   = 400
		reserved = 56
	)
	m := NewManager(NewManagerOptions{
		HistoryCapacity:   16,
		PayloadBudgetBits: budget,
		ReservedBits:      reserved,
		MinResendInterval: 100 * time.Millisecond,
	})
	now := time.Unix(100, 0)
	s := joined(t, m, 1, now)
	// 320 bits: fits an empty datagram but not one that carries the
	// reserved prelude
	_, err := m.CreateEvent(5, 1, make([]byte, 32))
	require.NoError(t, err)
	_, err = m.CreateEvent(6, 1, []byte{1})
	require.NoError(t, err)

	seg, included, err := m.Write(s, budget-reserved, now)
	assert.True(t, packet.IsCapacityExceeded(err))
	require.NotNil(t, seg)
	assert.LessOrEqual(t, seg.LengthBits(), budget-reserved)
	assert.Equal(t, []uint16{1, 2}, ids(included), "later events are not held back")
}

func TestMidRoundSync_LaterChangeReachesJoiner(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	// a is still syncing, so nothing is ever written to the shared history
	a := newTestSession(1)
	m.InitMidRoundSync(a, now)

	old, err := m.CreateEvent(2, 1, []byte("old"))
	require.NoError(t, err)
	b := newTestSession(2)
	m.InitMidRoundSync(b, now)
	assert.True(t, old.Sent(), "copied events are frozen")

	latest, err := m.CreateEvent(2, 1, []byte("new"))
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, latest.ID)
	assert.Equal(t, []byte("old"), old.Payload)
	assert.True(t, netid.MoreRecent(latest.ID, b.FirstNewEventID-1))

	w := newFakeWorld(2)
	rc := NewReceiver()
	deliver(t, m, b, rc, w, now)
	assert.Equal(t, []byte("old"), w.state[2][1])
	require.NoError(t, m.Acknowledge(b, rc.LastReceivedID(), rc.MidRoundSyncing(), now))
	require.False(t, b.NeedsMidRoundSync)

	included, reports := deliver(t, m, b, rc, w, now)
	assert.Empty(t, reports)
	assert.Equal(t, []uint16{latest.ID}, ids(included))
	assert.Equal(t, []byte("new"), w.state[2][1])
}

func TestTrim_NoSessionsReleasesEvents(t *testing.T) {
	m := newTestManager()
	for i := uint16(1); i <= 3; i++ {
		_, err := m.CreateEvent(i, 1, nil)
		require.NoError(t, err)
	}
	backing := m.events[:3]
	assert.Nil(t, m.Trim(nil))
	assert.Equal(t, 0, m.Len())
	for _, e := range backing {
		assert.Nil(t, e)
	}
}

func TestMidRoundSync(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	early := joined(t, m, 1, now)

	// entity 5 changes twice with a send in between, so history holds two
	// events for it but only the latest is needed by a joiner
	_, err := m.CreateEvent(5, 1, []byte{1})
	require.NoError(t, err)
	_, included, err := m.Write(early, testBudget, now)
	require.NoError(t, err)
	m.MarkSent(early, included, now)
	_, err = m.CreateEvent(5, 1, []byte{2})
	require.NoError(t, err)
	_, err = m.CreateEvent(6, 1, []byte{3})
	require.NoError(t, err)
	_, err = m.CreateEvent(7, 1, []byte{4})
	require.NoError(t, err)
	require.Equal(t, uint16(4), m.LastID())

	s := newTestSession(2)
	m.InitMidRoundSync(s, now)
	assert.True(t, s.NeedsMidRoundSync)
	assert.Equal(t, uint16(3), s.UnreceivedEntityEventCount)
	assert.Equal(t, uint16(5), s.FirstNewEventID)
	assert.Equal(t, now.Add(5*time.Second), s.MidRoundSyncDeadline)

	// events created during the sync go to the shared history
	_, err = m.CreateEvent(6, 2, []byte{5})
	require.NoError(t, err)
	_, err = m.CreateEvent(7, 2, []byte{6})
	require.NoError(t, err)

	seg, included, err := m.Write(s, testBudget, now)
	require.NoError(t, err)
	require.NotNil(t, seg)
	assert.Equal(t, []uint16{0, 1, 2}, ids(included), "renumbered from zero")
	assert.Equal(t, []byte{2}, included[0].Payload, "latest state of entity 5")
	m.MarkSent(s, included, now)

	require.NoError(t, m.Acknowledge(s, 0, true, now))
	require.NoError(t, m.Acknowledge(s, 1, true, now))
	assert.True(t, s.NeedsMidRoundSync, "still syncing before the last sync event")
	assert.Equal(t, now.Add(5*time.Second+20*time.Millisecond), s.MidRoundSyncDeadline)

	require.NoError(t, m.Acknowledge(s, 2, true, now))
	assert.False(t, s.NeedsMidRoundSync)
	assert.Equal(t, uint16(4), s.LastRecvEntityEventID)

	_, included, err = m.Write(s, testBudget, now)
	require.NoError(t, err)
	assert.Equal(t, []uint16{5, 6}, ids(included))
}

func TestMidRoundSync_EndToEnd(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	for i := uint16(1); i <= 4; i++ {
		_, err := m.CreateEvent(i, 1, []byte{byte(i)})
		require.NoError(t, err)
	}
	s := newTestSession(1)
	m.InitMidRoundSync(s, now)
	_, err := m.CreateEvent(2, 3, []byte{9})
	require.NoError(t, err)

	w := newFakeWorld(1, 2, 3, 4)
	rc := NewReceiver()
	assert.True(t, rc.MidRoundSyncing())
	assert.Equal(t, uint16(65535), rc.LastReceivedID())

	_, reports := deliver(t, m, s, rc, w, now)
	assert.Empty(t, reports)
	assert.False(t, rc.MidRoundSyncing())
	assert.Equal(t, s.FirstNewEventID-1, rc.LastReceivedID())

	require.NoError(t, m.Acknowledge(s, rc.LastReceivedID(), rc.MidRoundSyncing(), now))
	assert.False(t, s.NeedsMidRoundSync)

	included, reports := deliver(t, m, s, rc, w, now)
	assert.Empty(t, reports)
	assert.Equal(t, []uint16{5}, ids(included))
	assert.Equal(t, []byte{9}, w.state[2][3])
}

func TestMidRoundSync_Empty(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	s := newTestSession(1)
	m.InitMidRoundSync(s, now)
	assert.Equal(t, uint16(0), s.UnreceivedEntityEventCount)

	require.NoError(t, m.Acknowledge(s, 65535, true, now))
	assert.True(t, s.NeedsMidRoundSync, "client has not seen the initial block yet")

	rc := NewReceiver()
	_, reports := deliver(t, m, s, rc, newFakeWorld(), now)
	assert.Empty(t, reports)
	assert.False(t, rc.MidRoundSyncing())
	assert.Equal(t, uint16(0), rc.LastReceivedID())

	require.NoError(t, m.Acknowledge(s, rc.LastReceivedID(), false, now))
	assert.False(t, s.NeedsMidRoundSync)
}

func TestMidRoundSync_TimeoutAndViolations(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	_, err := m.CreateEvent(1, 1, nil)
	require.NoError(t, err)
	s := newTestSession(1)
	m.InitMidRoundSync(s, now)

	assert.False(t, m.MidRoundSyncTimedOut(s, now.Add(5*time.Second)))
	assert.True(t, m.MidRoundSyncTimedOut(s, now.Add(6*time.Second)))

	err = m.Acknowledge(s, 3, true, now)
	assert.True(t, messages.IsProtocolViolation(err), "beyond the sync list")
	err = m.Acknowledge(s, 7, false, now)
	assert.True(t, messages.IsProtocolViolation(err), "finished at the wrong id")
}

func TestAcknowledge_BeyondNewest(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	s := joined(t, m, 1, now)
	_, err := m.CreateEvent(1, 1, nil)
	require.NoError(t, err)

	assert.True(t, messages.IsProtocolViolation(m.Acknowledge(s, 2, false, now)))
	require.NoError(t, m.Acknowledge(s, 1, false, now))
	require.NoError(t, m.Acknowledge(s, 0, false, now), "stale acks are ignored")
	assert.Equal(t, uint16(1), s.LastRecvEntityEventID)
	require.NoError(t, m.Acknowledge(s, 0, true, now), "late sync ack after the switch")
}

func TestTrim(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	a := joined(t, m, 1, now)
	b := joined(t, m, 2, now)
	for i := 0; i < 4; i++ {
		_, err := m.CreateEvent(uint16(1+i), 1, nil)
		require.NoError(t, err)
	}

	require.NoError(t, m.Acknowledge(a, 4, false, now))
	require.NoError(t, m.Acknowledge(b, 2, false, now))
	assert.Nil(t, m.Trim([]*session.Session{a, b}))
	assert.Equal(t, 2, m.Len(), "kept until the slowest session acknowledges")

	// a joiner still needs everything from its first new event on
	c := newTestSession(3)
	m.InitMidRoundSync(c, now)
	_, err := m.CreateEvent(9, 1, nil)
	require.NoError(t, err)
	require.NoError(t, m.Acknowledge(b, 5, false, now))
	require.NoError(t, m.Acknowledge(a, 5, false, now))
	assert.Nil(t, m.Trim([]*session.Session{a, b, c}))
	assert.Equal(t, 1, m.Len())

	m.Trim(nil)
	assert.Equal(t, 0, m.Len())
}

func TestTrim_OverCapacityReturnsBlockingSessions(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	slow := joined(t, m, 1, now)
	fast := joined(t, m, 2, now)
	for i := 0; i < 20; i++ {
		_, err := m.CreateEvent(uint16(1+i), 1, nil)
		require.NoError(t, err)
	}
	require.NoError(t, m.Acknowledge(fast, 20, false, now))
	require.NoError(t, m.Acknowledge(slow, 2, false, now))

	blocking := m.Trim([]*session.Session{slow, fast})
	require.Len(t, blocking, 1)
	assert.Same(t, slow, blocking[0])
	assert.Equal(t, 18, m.Len())
}

func TestRemoveEntity(t *testing.T) {
	m := newTestManager()
	_, err := m.CreateEvent(5, 1, nil)
	require.NoError(t, err)
	_, err = m.CreateKeyedEvent(1, 0, 5, []byte{5})
	require.NoError(t, err)
	_, err = m.CreateKeyedEvent(1, 0, 6, []byte{6})
	require.NoError(t, err)
	assert.Equal(t, 3, m.UniqueLen())

	m.RemoveEntity(5)
	assert.Equal(t, 1, m.UniqueLen())
	assert.Equal(t, 3, m.Len(), "history is untouched")

	m.Clear()
	assert.Equal(t, 0, m.UniqueLen())
	assert.Equal(t, uint16(0), m.LastID())
}

func TestHandleDesyncReport(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	s := joined(t, m, 1, now)
	e, err := m.CreateEvent(5, 1, []byte{1, 2})
	require.NoError(t, err)

	tests := []struct {
		name       string
		report     DesyncReport
		disconnect bool
	}{
		{
			name:   "gap is transient",
			report: DesyncReport{Kind: DesyncEventGap, Expected: 1, Received: 3},
		},
		{
			name:   "missing entity is transient",
			report: DesyncReport{Kind: DesyncMissingEntity, Expected: 1, Received: 1, EntityID: 5},
		},
		{
			name:   "matching checksum",
			report: DesyncReport{Kind: DesyncChecksumMismatch, Received: e.ID, HasChecksum: true, Checksum: e.Checksum},
		},
		{
			name:   "event no longer stored",
			report: DesyncReport{Kind: DesyncChecksumMismatch, Received: 40, HasChecksum: true, Checksum: 1},
		},
		{
			name:       "checksum mismatch",
			report:     DesyncReport{Kind: DesyncChecksumMismatch, Received: e.ID, HasChecksum: true, Checksum: e.Checksum + 1},
			disconnect: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.HandleDesyncReport(s, tt.report)
			assert.Equal(t, tt.disconnect, IsClientDesync(err))
		})
	}
}
