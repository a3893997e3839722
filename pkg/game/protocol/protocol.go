// Package protocol encodes the sub-messages of game datagrams that are not
// owned by a lower layer. Entity events, positions and inputs are written by
// their own packages; this package adds the tags around them and covers sync
// ids, chat, votes, the client list and admin commands.
package protocol

import (
	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/chat"
	"github.com/cbodonnell/tether/pkg/events"
	"github.com/cbodonnell/tether/pkg/messages"
	"github.com/cbodonnell/tether/pkg/prediction"
)

// MaxNameLength bounds display names in bytes.
const MaxNameLength = 32

// TruncateName limits a display name to MaxNameLength bytes without
// splitting a rune.
func TruncateName(name string) string {
	if len(name) <= MaxNameLength {
		return name
	}
	out := make([]rune, 0, MaxNameLength)
	n := 0
	for _, r := range name {
		size := len(string(r))
		if n+size > MaxNameLength {
			break
		}
		out = append(out, r)
		n += size
	}
	return string(out)
}

// ServerSyncIDsBits is the encoded size of ServerSyncIDs, tag included.
const ServerSyncIDsBits = messages.NetObjectBits + 16 + 32

// ServerSyncIDs opens every server datagram.
type ServerSyncIDs struct {
	// ChatAck is the newest chat message id received from the client.
	ChatAck uint16
	// SimTime is the simulation clock in milliseconds.
	SimTime uint32
}

func WriteServerSyncIDs(w *bitstream.Writer, s ServerSyncIDs) {
	w.WriteUInt8(uint8(messages.ServerSyncIDs))
	w.WriteUInt16(s.ChatAck)
	w.WriteUInt32(s.SimTime)
}

func ReadServerSyncIDs(r *bitstream.Reader) ServerSyncIDs {
	return ServerSyncIDs{
		ChatAck: r.ReadUInt16(),
		SimTime: r.ReadUInt32(),
	}
}

// ClientSyncIDs opens every client datagram.
type ClientSyncIDs struct {
	LastEventID uint16
	// Syncing is the client's own view of whether it is mid-round syncing.
	Syncing           bool
	ChatAck           uint16
	VoteVersion       uint16
	ClientListVersion uint16
}

func WriteClientSyncIDs(w *bitstream.Writer, s ClientSyncIDs) {
	w.WriteUInt8(uint8(messages.ClientSyncIDs))
	w.WriteUInt16(s.LastEventID)
	w.WriteBoolean(s.Syncing)
	w.WriteUInt16(s.ChatAck)
	w.WriteUInt16(s.VoteVersion)
	w.WriteUInt16(s.ClientListVersion)
}

func ReadClientSyncIDs(r *bitstream.Reader) ClientSyncIDs {
	return ClientSyncIDs{
		LastEventID:       r.ReadUInt16(),
		Syncing:           r.ReadBoolean(),
		ChatAck:           r.ReadUInt16(),
		VoteVersion:       r.ReadUInt16(),
		ClientListVersion: r.ReadUInt16(),
	}
}

func WriteInput(w *bitstream.Writer, frames []prediction.InputFrame) {
	w.WriteUInt8(uint8(messages.ClientInput))
	prediction.WriteInputs(w, frames)
}

// WriteServerChat and WriteClientChat differ only in their tag.
func WriteServerChat(w *bitstream.Writer, m chat.Message) {
	w.WriteUInt8(uint8(messages.ServerChatMessage))
	chat.Write(w, m)
}

func WriteClientChat(w *bitstream.Writer, m chat.Message) {
	w.WriteUInt8(uint8(messages.ClientChatMessage))
	chat.Write(w, m)
}

func WriteDesync(w *bitstream.Writer, d events.DesyncReport) {
	w.WriteUInt8(uint8(messages.ClientDesync))
	events.WriteDesyncReport(w, d)
}

type VoteKind byte

const (
	VoteNone VoteKind = iota
	// VoteRespawn sends the shuttle without waiting for enough dead.
	VoteRespawn
	// VoteKick removes the target session.
	VoteKick
)

func (k VoteKind) String() string {
	switch k {
	case VoteRespawn:
		return "respawn"
	case VoteKick:
		return "kick"
	default:
		return "none"
	}
}

// Ballot is a client's vote. A yes ballot while no vote runs starts one.
type Ballot struct {
	Kind   VoteKind
	Target byte
	Yes    bool
}

func WriteBallot(w *bitstream.Writer, b Ballot) {
	w.WriteUInt8(uint8(messages.ClientVote))
	w.WriteRangedInteger(int(b.Kind), 0, int(VoteKick))
	w.WriteUInt8(b.Target)
	w.WriteBoolean(b.Yes)
}

func ReadBallot(r *bitstream.Reader) Ballot {
	return Ballot{
		Kind:   VoteKind(r.ReadRangedInteger(0, int(VoteKick))),
		Target: r.ReadUInt8(),
		Yes:    r.ReadBoolean(),
	}
}

// VoteTally is the server's view of the running vote. Version changes
// whenever anything in it does.
type VoteTally struct {
	Version  uint16
	Active   bool
	Kind     VoteKind
	Target   byte
	Yes      byte
	No       byte
	Required byte
}

func WriteVoteTally(w *bitstream.Writer, v VoteTally) {
	w.WriteUInt8(uint8(messages.ServerVote))
	w.WriteUInt16(v.Version)
	w.WriteBoolean(v.Active)
	w.WriteRangedInteger(int(v.Kind), 0, int(VoteKick))
	w.WriteUInt8(v.Target)
	w.WriteUInt8(v.Yes)
	w.WriteUInt8(v.No)
	w.WriteUInt8(v.Required)
}

func ReadVoteTally(r *bitstream.Reader) VoteTally {
	return VoteTally{
		Version:  r.ReadUInt16(),
		Active:   r.ReadBoolean(),
		Kind:     VoteKind(r.ReadRangedInteger(0, int(VoteKick))),
		Target:   r.ReadUInt8(),
		Yes:      r.ReadUInt8(),
		No:       r.ReadUInt8(),
		Required: r.ReadUInt8(),
	}
}

type ClientListEntry struct {
	SessionID   byte
	Name        string
	CharacterID uint16
}

type ClientList struct {
	Version uint16
	Entries []ClientListEntry
}

func WriteClientList(w *bitstream.Writer, l ClientList) {
	w.WriteUInt8(uint8(messages.ServerClientList))
	w.WriteUInt16(l.Version)
	w.WriteUInt8(uint8(len(l.Entries)))
	for _, e := range l.Entries {
		w.WriteUInt8(e.SessionID)
		w.WriteString(e.Name)
		w.WriteUInt16(e.CharacterID)
	}
}

func ReadClientList(r *bitstream.Reader) ClientList {
	l := ClientList{Version: r.ReadUInt16()}
	n := int(r.ReadUInt8())
	for i := 0; i < n && r.Err() == nil; i++ {
		l.Entries = append(l.Entries, ClientListEntry{
			SessionID:   r.ReadUInt8(),
			Name:        TruncateName(r.ReadString()),
			CharacterID: r.ReadUInt16(),
		})
	}
	return l
}

type CommandKind byte

const (
	// CommandKill kills the target's character. Killing yourself needs no
	// permission.
	CommandKill CommandKind = iota
	// CommandRespawn starts the respawn countdown now.
	CommandRespawn
	CommandKick
	CommandBan
)

func (k CommandKind) String() string {
	switch k {
	case CommandKill:
		return "kill"
	case CommandRespawn:
		return "respawn"
	case CommandKick:
		return "kick"
	case CommandBan:
		return "ban"
	default:
		return "unknown"
	}
}

// Command is an admin action. Clients repeat a command in several
// datagrams; ID deduplicates them the way chat ids do.
type Command struct {
	ID     uint16
	Kind   CommandKind
	Target byte
	Reason string
}

func WriteCommand(w *bitstream.Writer, c Command) {
	w.WriteUInt8(uint8(messages.ClientCommand))
	w.WriteUInt16(c.ID)
	w.WriteRangedInteger(int(c.Kind), 0, int(CommandBan))
	w.WriteUInt8(c.Target)
	w.WriteString(c.Reason)
}

func ReadCommand(r *bitstream.Reader) Command {
	return Command{
		ID:     r.ReadUInt16(),
		Kind:   CommandKind(r.ReadRangedInteger(0, int(CommandBan))),
		Target: r.ReadUInt8(),
		Reason: r.ReadString(),
	}
}
