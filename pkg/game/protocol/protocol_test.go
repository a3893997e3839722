package protocol

import (
	"strings"
	"testing"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "short", in: "alice", want: "alice"},
		{name: "exact", in: strings.Repeat("a", MaxNameLength), want: strings.Repeat("a", MaxNameLength)},
		{name: "long", in: strings.Repeat("b", MaxNameLength+5), want: strings.Repeat("b", MaxNameLength)},
		// 31 ascii bytes then a two byte rune that would straddle the limit
		{name: "rune boundary", in: strings.Repeat("c", MaxNameLength-1) + "éé", want: strings.Repeat("c", MaxNameLength-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateName(tt.in)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), MaxNameLength)
		})
	}
}

// readTag consumes the sub-message tag the writers put in front.
func readTag(t *testing.T, w *bitstream.Writer) (byte, *bitstream.Reader) {
	r := bitstream.NewReader(w.Bytes())
	tag := r.ReadUInt8()
	require.NoError(t, r.Err())
	return tag, r
}

func TestClientListTruncatesOversizedNames(t *testing.T) {
	w := bitstream.NewWriter()
	WriteClientList(w, ClientList{
		Version: 9,
		Entries: []ClientListEntry{
			{SessionID: 1, Name: "alice", CharacterID: 4},
			{SessionID: 3, Name: strings.Repeat("z", 100), CharacterID: 7},
		},
	})
	tag, r := readTag(t, w)
	assert.Equal(t, byte(messages.ServerClientList), tag)

	l := ReadClientList(r)
	require.NoError(t, r.Err())
	assert.Equal(t, uint16(9), l.Version)
	require.Len(t, l.Entries, 2)
	assert.Equal(t, "alice", l.Entries[0].Name)
	assert.Equal(t, strings.Repeat("z", MaxNameLength), l.Entries[1].Name)
	assert.Equal(t, uint16(7), l.Entries[1].CharacterID)
}

func TestClientListStopsOnShortBuffer(t *testing.T) {
	w := bitstream.NewWriter()
	w.WriteUInt16(1)
	w.WriteUInt8(200)
	r := bitstream.NewReader(w.Bytes())

	l := ReadClientList(r)
	assert.Error(t, r.Err())
	assert.LessOrEqual(t, len(l.Entries), 1)
}

func TestVoteAndCommandTags(t *testing.T) {
	w := bitstream.NewWriter()
	WriteBallot(w, Ballot{Kind: VoteKick, Target: 2, Yes: true})
	tag, r := readTag(t, w)
	assert.Equal(t, byte(messages.ClientVote), tag)
	assert.Equal(t, Ballot{Kind: VoteKick, Target: 2, Yes: true}, ReadBallot(r))
	require.NoError(t, r.Err())

	w = bitstream.NewWriter()
	WriteCommand(w, Command{ID: 65535, Kind: CommandBan, Target: 5, Reason: "cheating"})
	tag, r = readTag(t, w)
	assert.Equal(t, byte(messages.ClientCommand), tag)
	assert.Equal(t, Command{ID: 65535, Kind: CommandBan, Target: 5, Reason: "cheating"}, ReadCommand(r))
	require.NoError(t, r.Err())

	w = bitstream.NewWriter()
	WriteVoteTally(w, VoteTally{Version: 3, Active: true, Kind: VoteRespawn, Yes: 1, Required: 2})
	tag, r = readTag(t, w)
	assert.Equal(t, byte(messages.ServerVote), tag)
	assert.Equal(t, VoteTally{Version: 3, Active: true, Kind: VoteRespawn, Yes: 1, Required: 2}, ReadVoteTally(r))
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "kick", VoteKick.String())
	assert.Equal(t, "none", VoteKind(9).String())
	assert.Equal(t, "ban", CommandBan.String())
	assert.Equal(t, "unknown", CommandKind(9).String())
}

func TestServerSyncIDsBits(t *testing.T) {
	w := bitstream.NewWriter()
	WriteServerSyncIDs(w, ServerSyncIDs{ChatAck: 65535, SimTime: 1 << 31})
	assert.Equal(t, ServerSyncIDsBits, w.LengthBits())
}
