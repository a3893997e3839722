package events

import (
	"testing"
	"time"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syncedReceiver(firstNewID uint16) *Receiver {
	rc := NewReceiver()
	rc.firstNewID = firstNewID
	rc.finishSync()
	return rc
}

func readBlock(t *testing.T, seg *bitstream.Writer, rc *Receiver, w Applier, initial bool) []DesyncReport {
	r := bitstream.NewReader(seg.Bytes())
	r.ReadUInt8()
	reports, err := rc.Read(r, initial, w)
	require.NoError(t, err)
	return reports
}

func TestReceiver_Gap(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	s := joined(t, m, 1, now)
	for i := uint16(1); i <= 3; i++ {
		_, err := m.CreateEvent(i, 1, []byte{byte(i)})
		require.NoError(t, err)
	}
	s.LastRecvEntityEventID = 1
	seg, _, err := m.Write(s, testBudget, now)
	require.NoError(t, err)

	rc := syncedReceiver(1)
	reports := readBlock(t, seg, rc, newFakeWorld(1, 2, 3), false)
	require.Len(t, reports, 1)
	assert.Equal(t, DesyncEventGap, reports[0].Kind)
	assert.Equal(t, uint16(1), reports[0].Expected)
	assert.Equal(t, uint16(2), reports[0].Received)
	assert.Equal(t, uint16(0), rc.LastReceivedID(), "nothing applied past a gap")
}

func TestReceiver_SkipsAlreadyApplied(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	s := joined(t, m, 1, now)
	for i := uint16(1); i <= 3; i++ {
		_, err := m.CreateEvent(i, 1, []byte{byte(i)})
		require.NoError(t, err)
	}
	seg, _, err := m.Write(s, testBudget, now)
	require.NoError(t, err)

	rc := syncedReceiver(1)
	w := newFakeWorld(1, 2, 3)
	assert.Empty(t, readBlock(t, seg, rc, w, false))
	w.state[1][1] = []byte{42}
	assert.Empty(t, readBlock(t, seg, rc, w, false), "duplicate block")
	assert.Equal(t, []byte{42}, w.state[1][1], "applied only once")
	assert.Equal(t, uint16(3), rc.LastReceivedID())
}

func TestReceiver_MissingEntityStops(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	s := joined(t, m, 1, now)
	for _, id := range []uint16{1, 9, 3} {
		_, err := m.CreateEvent(id, 1, nil)
		require.NoError(t, err)
	}
	seg, _, err := m.Write(s, testBudget, now)
	require.NoError(t, err)

	rc := syncedReceiver(1)
	reports := readBlock(t, seg, rc, newFakeWorld(1, 3), false)
	require.Len(t, reports, 1)
	assert.Equal(t, DesyncMissingEntity, reports[0].Kind)
	assert.Equal(t, uint16(9), reports[0].EntityID)
	assert.Equal(t, uint16(1), rc.LastReceivedID())
}

func TestReceiver_ChecksumMismatch(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	s := joined(t, m, 1, now)
	e, err := m.CreateEvent(4, 2, []byte{7, 7})
	require.NoError(t, err)
	seg, _, err := m.Write(s, testBudget, now)
	require.NoError(t, err)

	w := newFakeWorld(4)
	w.corrupt = true
	rc := syncedReceiver(1)
	reports := readBlock(t, seg, rc, w, false)
	require.Len(t, reports, 1)
	report := reports[0]
	assert.Equal(t, DesyncChecksumMismatch, report.Kind)
	assert.True(t, report.HasChecksum)
	assert.Equal(t, e.Checksum+1, report.Checksum)
	assert.Equal(t, uint16(1), rc.LastReceivedID(), "the event itself was applied")

	wr := bitstream.NewWriter()
	WriteDesyncReport(wr, report)
	got := ReadDesyncReport(bitstream.NewReader(wr.Bytes()))
	assert.Equal(t, report, got)

	assert.True(t, IsClientDesync(m.HandleDesyncReport(s, got)))
}

func TestReceiver_IgnoresBlocksForOtherPhase(t *testing.T) {
	m := newTestManager()
	now := time.Unix(100, 0)
	_, err := m.CreateEvent(1, 1, []byte{1})
	require.NoError(t, err)

	syncing := newTestSession(1)
	m.InitMidRoundSync(syncing, now)
	initial, _, err := m.Write(syncing, testBudget, now)
	require.NoError(t, err)

	s := joined(t, m, 2, now)
	s.LastRecvEntityEventID = 0
	normal, _, err := m.Write(s, testBudget, now)
	require.NoError(t, err)

	w := newFakeWorld(1)
	rc := NewReceiver()
	assert.Empty(t, readBlock(t, normal, rc, w, false))
	assert.True(t, rc.MidRoundSyncing(), "normal events wait for the initial block")
	assert.Empty(t, w.state)

	assert.Empty(t, readBlock(t, initial, rc, w, true))
	assert.False(t, rc.MidRoundSyncing())
	assert.Equal(t, uint16(1), rc.LastReceivedID())

	w.state[1][1] = []byte{99}
	assert.Empty(t, readBlock(t, initial, rc, w, true))
	assert.Equal(t, []byte{99}, w.state[1][1], "initial block after sync is ignored")
}

func TestReceiver_MalformedBlock(t *testing.T) {
	w := bitstream.NewWriter()
	w.WriteUInt16(1)
	w.WriteUInt8(3)
	w.WriteUInt16(5)

	rc := syncedReceiver(1)
	_, err := rc.Read(bitstream.NewReader(w.Bytes()), false, newFakeWorld(5))
	assert.Error(t, err)
	assert.Equal(t, uint16(0), rc.LastReceivedID())
}

func TestReceiver_Reset(t *testing.T) {
	rc := syncedReceiver(40)
	require.False(t, rc.MidRoundSyncing())
	rc.Reset()
	assert.True(t, rc.MidRoundSyncing())
	assert.Equal(t, uint16(65535), rc.LastReceivedID())
}
