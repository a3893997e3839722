package game

import (
	"fmt"
	"time"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/chat"
	"github.com/cbodonnell/tether/pkg/events"
	"github.com/cbodonnell/tether/pkg/game/protocol"
	"github.com/cbodonnell/tether/pkg/game/world"
	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/messages"
	"github.com/cbodonnell/tether/pkg/netid"
	"github.com/cbodonnell/tether/pkg/network"
	"github.com/cbodonnell/tether/pkg/prediction"
	"github.com/cbodonnell/tether/pkg/repositories/models"
	"github.com/cbodonnell/tether/pkg/session"
	"github.com/cbodonnell/tether/pkg/workers"
)

// handleDatagram applies one ClientUpdate datagram. Anything the session
// is not allowed to send disconnects it; other sessions are unaffected.
func (gm *GameManager) handleDatagram(d *network.Datagram, now time.Time) {
	s, ok := gm.registry.GetByConnection(d.ConnectionID)
	if !ok {
		log.Trace("Datagram from connection %d without a session", d.ConnectionID)
		return
	}
	if !s.Limiter.AllowN(d.ReceivedAt, 1) {
		gm.disconnectSession(s, "flooding", now)
		return
	}
	s.LastActivity = now
	s.InGame = true

	if err := gm.processUpdate(s, d.Data, now); err != nil {
		switch {
		case messages.IsProtocolViolation(err):
			log.Warn("Session %d: %v", s.ID, err)
			gm.disconnectSession(s, "protocol violation", now)
		case events.IsClientDesync(err):
			log.Warn("%v", err)
			gm.disconnectSession(s, "desynchronized", now)
		default:
			log.Error("Failed to process update from session %d: %v", s.ID, err)
		}
	}
}

func (gm *GameManager) processUpdate(s *session.Session, data []byte, now time.Time) error {
	tag, r, err := gm.assembler.Open(data)
	if err != nil {
		return messages.NewProtocolViolation("undecodable datagram: %v", err)
	}
	if tag != messages.ClientUpdate {
		return messages.NewProtocolViolation("unexpected datagram %s", tag)
	}

	for {
		obj := messages.ClientNetObject(r.ReadUInt8())
		if err := r.Err(); err != nil {
			return messages.NewProtocolViolation("truncated update: %v", err)
		}
		if obj == messages.ClientEndOfMessage {
			return nil
		}
		if err := gm.processNetObject(s, obj, r, now); err != nil {
			return err
		}
		if err := r.Err(); err != nil {
			return messages.NewProtocolViolation("malformed sub-message %d: %v", obj, err)
		}
		// a command may have removed the sender
		if cur, ok := gm.registry.Get(s.ID); !ok || cur != s {
			return nil
		}
	}
}

func (gm *GameManager) processNetObject(s *session.Session, obj messages.ClientNetObject, r *bitstream.Reader, now time.Time) error {
	switch obj {
	case messages.ClientSyncIDs:
		ids := protocol.ReadClientSyncIDs(r)
		if r.Err() != nil {
			return nil
		}
		if err := gm.events.Acknowledge(s, ids.LastEventID, ids.Syncing, now); err != nil {
			return err
		}
		s.ChatOutbox.Ack(ids.ChatAck)
		s.LastVoteVersionAck = ids.VoteVersion
		s.LastClientListVersionAck = ids.ClientListVersion

	case messages.ClientInput:
		frames := prediction.ReadInputs(r)
		if r.Err() != nil || s.CharacterID == 0 {
			return nil
		}
		if q, ok := gm.inputs[s.ID]; ok {
			q.Push(frames)
		}

	case messages.ClientChatMessage:
		m := chat.Read(r)
		if r.Err() != nil || !s.ChatInbox.Accept(m) {
			return nil
		}
		if !s.Permissions.Has(session.PermissionChat) {
			gm.sendChat(s, chat.MessageTypeError, "you are muted")
			return nil
		}
		t := chat.MessageTypeDefault
		if s.CharacterID != 0 && !gm.world.Alive(s.CharacterID) {
			t = chat.MessageTypeDead
		}
		gm.broadcastChat(chat.Message{Type: t, SenderID: s.ID, SenderName: s.Name, Text: m.Text})

	case messages.ClientVote:
		b := protocol.ReadBallot(r)
		if r.Err() != nil {
			return nil
		}
		gm.castBallot(s, b, now)

	case messages.ClientDesync:
		report := events.ReadDesyncReport(r)
		if r.Err() != nil {
			return nil
		}
		err := gm.events.HandleDesyncReport(s, report)
		gm.record(workers.RecordRequest{Desync: &models.DesyncRecord{
			SessionID:   s.ID,
			UserID:      s.UserID,
			Kind:        report.Kind.String(),
			Expected:    report.Expected,
			Received:    report.Received,
			EntityID:    report.EntityID,
			HasChecksum: report.HasChecksum,
			Checksum:    report.Checksum,
			Fatal:       err != nil,
			ReportedAt:  now,
		}})
		return err

	case messages.ClientCommand:
		c := protocol.ReadCommand(r)
		if r.Err() != nil || !netid.MoreRecent(c.ID, s.LastCommandID) {
			return nil
		}
		s.LastCommandID = c.ID
		return gm.runCommand(s, c, now)

	default:
		return messages.NewProtocolViolation("unknown sub-message %d", obj)
	}
	return nil
}

// runCommand executes an admin command. Asking for something the session
// has no permission for is a protocol violation.
func (gm *GameManager) runCommand(s *session.Session, c protocol.Command, now time.Time) error {
	log.Info("Session %d (%s) issued %s on %d", s.ID, s.Name, c.Kind, c.Target)
	target, hasTarget := gm.registry.Get(c.Target)

	switch c.Kind {
	case protocol.CommandKill:
		if c.Target != s.ID && !s.Permissions.Has(session.PermissionManageRound) {
			return messages.NewProtocolViolation("session %d may not kill others", s.ID)
		}
		if !hasTarget || target.CharacterID == 0 {
			return nil
		}
		if err := gm.world.SetVitals(target.CharacterID, world.Vitals{Alive: false}); err != nil {
			log.Error("Failed to kill character %d: %v", target.CharacterID, err)
		}

	case protocol.CommandRespawn:
		if !s.Permissions.Has(session.PermissionManageRound) {
			return messages.NewProtocolViolation("session %d may not trigger a respawn", s.ID)
		}
		if !gm.respawnEnabled {
			gm.sendChat(s, chat.MessageTypeError, "respawning is disabled")
			return nil
		}
		if err := gm.respawn.Trigger(now, gm.participants()); err != nil {
			log.Error("Failed to trigger respawn: %v", err)
		}

	case protocol.CommandKick:
		if !s.Permissions.Has(session.PermissionKick) {
			return messages.NewProtocolViolation("session %d may not kick", s.ID)
		}
		if hasTarget {
			gm.disconnectSession(target, kickReason("kicked", c.Reason), now)
		}

	case protocol.CommandBan:
		if !s.Permissions.Has(session.PermissionBan) {
			return messages.NewProtocolViolation("session %d may not ban", s.ID)
		}
		if !hasTarget {
			return nil
		}
		ban := &models.BanRecord{UserID: target.UserID, Reason: c.Reason, BannedBy: s.UserID, At: now}
		gm.bans[ban.UserID] = ban
		gm.record(workers.RecordRequest{Ban: ban})
		gm.disconnectSession(target, kickReason("banned", c.Reason), now)

	default:
		return messages.NewProtocolViolation("unknown command %d", c.Kind)
	}
	return nil
}

func kickReason(action, reason string) string {
	if reason == "" {
		return action
	}
	return fmt.Sprintf("%s: %s", action, reason)
}
