package game

import (
	"time"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/game/protocol"
	"github.com/cbodonnell/tether/pkg/kinematic"
	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/messages"
	"github.com/cbodonnell/tether/pkg/packet"
	"github.com/cbodonnell/tether/pkg/session"
	"github.com/cbodonnell/tether/pkg/snapshot"
)

// sendUpdates queues due snapshots and sends every in-game session its
// datagrams for this send tick.
func (gm *GameManager) sendUpdates(now time.Time) {
	candidates := gm.world.Candidates()
	groups := snapshot.BuildLinkGroups(gm.world.Links())
	for _, s := range gm.registry.All() {
		if !s.InGame {
			continue
		}
		s.ViewPosition = gm.viewPosition(s)
		gm.stream.Collect(s, candidates, groups, now)
		gm.sendUpdate(s, now)
	}
}

// viewPosition is the session's character, or the shuttle for spectators.
func (gm *GameManager) viewPosition(s *session.Session) kinematic.Vector {
	if c, ok := gm.world.Character(s.CharacterID); ok {
		return c.State.Position
	}
	return gm.world.ShuttlePosition()
}

// sendUpdate assembles one batch for s in priority order: events, chat,
// vote, client list, then as many snapshots as still fit.
func (gm *GameManager) sendUpdate(s *session.Session, now time.Time) {
	sync := protocol.ServerSyncIDs{
		ChatAck: s.ChatInbox.LastRecv,
		SimTime: uint32(gm.world.Time() * 1000),
	}
	batch := gm.assembler.NewBatch(messages.ServerUpdate, func(w *bitstream.Writer) {
		protocol.WriteServerSyncIDs(w, sync)
	})

	block, included, err := gm.events.Write(s, batch.Remaining(), now)
	if err != nil {
		log.Error("Event does not fit a datagram, sent a placeholder: %v", err)
	}
	if block != nil {
		if ok, err := batch.Append(block, "entity events"); err != nil || !ok {
			log.Error("Failed to append events for session %d: %v", s.ID, err)
			included = nil
		}
	}

	for _, m := range s.ChatOutbox.Pending() {
		seg := bitstream.NewWriter()
		protocol.WriteServerChat(seg, m)
		if !gm.appendSegment(batch, seg, "chat message") {
			break
		}
	}
	if s.LastVoteVersionAck != gm.vote.version {
		seg := bitstream.NewWriter()
		protocol.WriteVoteTally(seg, gm.tally())
		gm.appendSegment(batch, seg, "vote tally")
	}
	if s.LastClientListVersionAck != gm.clientListVersion {
		seg := bitstream.NewWriter()
		protocol.WriteClientList(seg, gm.clientList())
		gm.appendSegment(batch, seg, "client list")
	}

	if _, err := gm.stream.WritePending(s, batch, gm.segmentFor(s), now); err != nil {
		log.Error("Snapshot does not fit a datagram: %v", err)
	}

	for _, datagram := range batch.Finish() {
		if err := gm.transport.SendUnreliable(s.ConnectionID, datagram); err != nil {
			log.Debug("Failed to send update to session %d: %v", s.ID, err)
			return
		}
	}
	gm.events.MarkSent(s, included, now)
}

func (gm *GameManager) appendSegment(batch *packet.Batch, seg *bitstream.Writer, identity string) bool {
	ok, err := batch.Append(seg, identity)
	if err != nil {
		log.Error("Failed to append %s: %v", identity, err)
		return false
	}
	return ok
}

// segmentFor encodes snapshots for s. The session's own character carries
// the last applied input id instead of a timestamp.
func (gm *GameManager) segmentFor(s *session.Session) snapshot.SegmentFunc {
	return func(entityID uint16) (*bitstream.Writer, bool) {
		info, ok := gm.world.StateInfo(entityID)
		if !ok {
			return nil, false
		}
		if entityID == s.CharacterID {
			if q, ok := gm.inputs[s.ID]; ok {
				info.HasInputID = true
				info.InputID = q.LastApplied()
			}
		}
		return gm.quant.EncodeSegment(entityID, info), true
	}
}

func (gm *GameManager) clientList() protocol.ClientList {
	l := protocol.ClientList{Version: gm.clientListVersion}
	for _, s := range gm.registry.All() {
		l.Entries = append(l.Entries, protocol.ClientListEntry{
			SessionID:   s.ID,
			Name:        s.Name,
			CharacterID: s.CharacterID,
		})
	}
	return l
}
