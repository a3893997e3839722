package game

import (
	"fmt"
	"time"

	"github.com/cbodonnell/tether/pkg/chat"
	"github.com/cbodonnell/tether/pkg/game/protocol"
	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/messages"
	"github.com/cbodonnell/tether/pkg/network"
	"github.com/cbodonnell/tether/pkg/prediction"
	"github.com/cbodonnell/tether/pkg/repositories/models"
	"github.com/cbodonnell/tether/pkg/session"
	"github.com/cbodonnell/tether/pkg/workers"
	"github.com/google/uuid"
)

// handleLogin admits a verified connection as a new session. Every joiner
// goes through mid-round sync, even at the start of a round.
func (gm *GameManager) handleLogin(req *network.LoginRequest, now time.Time) {
	if ban, ok := gm.bans[req.UserID]; ok {
		log.Info("Rejected banned user %s: %s", req.UserID, ban.Reason)
		if err := gm.transport.Deny(req.ConnectionID, "banned"); err != nil {
			log.Debug("Failed to deny connection %d: %v", req.ConnectionID, err)
		}
		return
	}

	permissions := session.DefaultPermissions
	if gm.admins[req.UserID] || req.Admin {
		permissions = session.AllPermissions
	}
	s, err := gm.registry.Add(session.AddOptions{
		ConnectionID: req.ConnectionID,
		Name:         protocol.TruncateName(req.Name),
		UserID:       req.UserID,
		Permissions:  permissions,
		Now:          now,
	})
	if err != nil {
		log.Warn("Rejected connection %d: %v", req.ConnectionID, err)
		if err := gm.transport.Deny(req.ConnectionID, "server full"); err != nil {
			log.Debug("Failed to deny connection %d: %v", req.ConnectionID, err)
		}
		return
	}
	gm.inputs[s.ID] = prediction.NewInputQueue(0)

	if req.ReconnectToken != "" {
		gm.reclaim(s, req.ReconnectToken)
	}
	if s.CharacterID == 0 && !gm.respawnEnabled {
		c, err := gm.world.SpawnCharacter(s.ID, s.Name, gm.world.SpawnPoint(int(s.ID)))
		if err != nil {
			log.Error("Failed to spawn character for session %d: %v", s.ID, err)
		} else {
			s.CharacterID = c.ID
		}
	}
	gm.events.InitMidRoundSync(s, now)

	result := &messages.ServerLoginResult{
		Accepted:       true,
		ConnectionID:   req.ConnectionID,
		SessionID:      s.ID,
		ReconnectToken: s.ReconnectToken.String(),
		TickRate:       uint16(gm.tickRate),
		MidRound:       true,
	}
	if err := gm.transport.Approve(req.ConnectionID, result); err != nil {
		log.Error("Failed to approve session %d: %v", s.ID, err)
		gm.disconnectSession(s, "login failed", now)
		return
	}

	log.Info("Session %d joined as %s (user %s)", s.ID, s.Name, s.UserID)
	gm.clientListVersion++
	if gm.vote.active {
		gm.vote.version++
	}
	gm.broadcastServerChat(fmt.Sprintf("%s joined", s.Name))
}

// reclaim hands a lingering character back to a reconnecting user.
func (gm *GameManager) reclaim(s *session.Session, token string) {
	parsed, err := uuid.Parse(token)
	if err != nil {
		log.Debug("Session %d sent a malformed reconnect token", s.ID)
		return
	}
	l, ok := gm.registry.Reclaim(parsed, s.UserID)
	if !ok {
		return
	}
	c, ok := gm.world.Character(l.CharacterID)
	if !ok {
		return
	}
	if err := gm.world.SetOwner(c.ID, s.ID); err != nil {
		log.Error("Failed to hand character %d to session %d: %v", c.ID, s.ID, err)
		return
	}
	c.Disconnected = false
	s.CharacterID = c.ID
	log.Info("Session %d reclaimed character %d", s.ID, c.ID)
}

// disconnectSession is the only way a session leaves. Its queues are
// released at once; its character lingers for the grace period.
func (gm *GameManager) disconnectSession(s *session.Session, reason string, now time.Time) {
	if cur, ok := gm.registry.Get(s.ID); !ok || cur != s {
		return
	}
	log.Info("Disconnecting session %d (%s): %s", s.ID, s.Name, reason)

	if l := gm.registry.Remove(s.ID, now); l != nil {
		if c, ok := gm.world.Character(l.CharacterID); ok {
			c.Disconnected = true
			if err := gm.world.SetOwner(c.ID, 0); err != nil {
				log.Error("Failed to release character %d: %v", c.ID, err)
			}
		}
	}
	gm.events.Forget(s)
	delete(gm.inputs, s.ID)
	gm.leaveVote(s.ID)
	gm.clientListVersion++

	if err := gm.transport.Disconnect(s.ConnectionID, reason); err != nil {
		log.Debug("Failed to notify connection %d of disconnect: %v", s.ConnectionID, err)
	}
	gm.broadcastServerChat(fmt.Sprintf("%s left (%s)", s.Name, reason))
	gm.record(workers.RecordRequest{Session: &models.SessionRecord{
		SessionID: s.ID,
		UserID:    s.UserID,
		Name:      s.Name,
		JoinedAt:  s.JoinedAt,
		LeftAt:    now,
		Reason:    reason,
	}})
}

func (gm *GameManager) broadcastServerChat(text string) {
	gm.broadcastChat(chat.Message{Type: chat.MessageTypeServer, Text: text})
}

// broadcastChat queues m for every session; each outbox numbers it.
func (gm *GameManager) broadcastChat(m chat.Message) {
	for _, s := range gm.registry.All() {
		s.ChatOutbox.Push(m)
	}
}

func (gm *GameManager) sendChat(s *session.Session, t chat.MessageType, text string) {
	s.ChatOutbox.Push(chat.Message{Type: t, Text: text})
}
