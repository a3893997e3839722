package session

import (
	"time"

	"github.com/cbodonnell/tether/pkg/chat"
	"github.com/cbodonnell/tether/pkg/kinematic"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Permissions is a bitset of what a session may ask the server to do.
type Permissions uint16

const (
	PermissionChat Permissions = 1 << iota
	PermissionKick
	PermissionBan
	PermissionManageRound
	PermissionConsoleCommands

	DefaultPermissions = PermissionChat
	AllPermissions     = PermissionChat | PermissionKick | PermissionBan | PermissionManageRound | PermissionConsoleCommands
)

func (p Permissions) Has(q Permissions) bool {
	return p&q == q
}

func (p *Permissions) Grant(q Permissions) {
	*p |= q
}

func (p *Permissions) Revoke(q Permissions) {
	*p &^= q
}

// Session is the server-side protocol state of one connected participant.
// It is owned by the tick loop; nothing else reads or writes it.
type Session struct {
	ID             byte
	ConnectionID   uint32
	Name           string
	UserID         string
	ReconnectToken uuid.UUID
	Permissions    Permissions
	JoinedAt       time.Time
	LastActivity   time.Time
	// RTT is the latest round trip estimate published by the latency probe.
	RTT time.Duration
	// CharacterID is the controlled actor, 0 when spectating.
	CharacterID uint16
	// ViewPosition is where the session is looking from, used to filter snapshots.
	ViewPosition kinematic.Vector
	// Limiter bounds how many game datagrams the session may send.
	Limiter *rate.Limiter
	// InGame is set once the client has bound its datagram address.
	InGame bool

	LastRecvEntityEventID uint16
	LastSentEntityEventID uint16
	// EntityEventLastSent maps an event id to when it was last written to this session.
	EntityEventLastSent map[uint16]time.Time

	// Mid-round sync state, meaningful only while NeedsMidRoundSync is set.
	NeedsMidRoundSync          bool
	UnreceivedEntityEventCount uint16
	FirstNewEventID            uint16
	MidRoundSyncDeadline       time.Time

	// PositionLastSent maps an entity id to when its snapshot was last sent.
	PositionLastSent map[uint16]time.Time
	// PendingPositionUpdates are entity ids queued for a snapshot, oldest first.
	PendingPositionUpdates []uint16

	ChatOutbox chat.Outbox
	ChatInbox  chat.Inbox

	LastVoteVersionAck       uint16
	LastClientListVersionAck uint16
	// LastCommandID deduplicates repeated admin commands.
	LastCommandID uint16
}

// ResetSyncState clears all per-round synchronization bookkeeping.
func (s *Session) ResetSyncState() {
	s.LastRecvEntityEventID = 0
	s.LastSentEntityEventID = 0
	s.EntityEventLastSent = make(map[uint16]time.Time)
	s.NeedsMidRoundSync = false
	s.UnreceivedEntityEventCount = 0
	s.FirstNewEventID = 0
	s.MidRoundSyncDeadline = time.Time{}
	s.PositionLastSent = make(map[uint16]time.Time)
	s.PendingPositionUpdates = nil
}

// releaseQueues drops everything queued for the session.
func (s *Session) releaseQueues() {
	s.ResetSyncState()
	s.ChatOutbox.Reset()
	s.InGame = false
}

// EnqueuePosition queues a snapshot for entityID unless one is already pending.
func (s *Session) EnqueuePosition(entityID uint16) {
	for _, id := range s.PendingPositionUpdates {
		if id == entityID {
			return
		}
	}
	s.PendingPositionUpdates = append(s.PendingPositionUpdates, entityID)
}
