package game

import (
	"fmt"
	"time"

	"github.com/cbodonnell/tether/pkg/game/protocol"
	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/session"
)

// vote is the single running vote. version changes with every tally change
// so clients can acknowledge what they have seen.
type vote struct {
	version  uint16
	active   bool
	kind     protocol.VoteKind
	target   byte
	ballots  map[byte]bool
	deadline time.Time
}

func (gm *GameManager) tally() protocol.VoteTally {
	t := protocol.VoteTally{
		Version: gm.vote.version,
		Active:  gm.vote.active,
	}
	if !gm.vote.active {
		return t
	}
	t.Kind = gm.vote.kind
	t.Target = gm.vote.target
	t.Required = byte(gm.requiredVotes())
	for _, yes := range gm.vote.ballots {
		if yes {
			t.Yes++
		} else {
			t.No++
		}
	}
	return t
}

// requiredVotes is a strict majority of the connected sessions.
func (gm *GameManager) requiredVotes() int {
	return gm.registry.Count()/2 + 1
}

// castBallot records b. A yes ballot starts a vote when none is running,
// but only from a session that has seen the latest tally, so a ballot
// repeated in later datagrams cannot restart a finished vote.
func (gm *GameManager) castBallot(s *session.Session, b protocol.Ballot, now time.Time) {
	if !gm.vote.active {
		if !b.Yes || b.Kind == protocol.VoteNone || s.LastVoteVersionAck != gm.vote.version {
			return
		}
		if b.Kind == protocol.VoteKick {
			if _, ok := gm.registry.Get(b.Target); !ok {
				return
			}
		}
		gm.vote = vote{
			version:  gm.vote.version + 1,
			active:   true,
			kind:     b.Kind,
			target:   b.Target,
			ballots:  map[byte]bool{s.ID: true},
			deadline: now.Add(VoteDuration),
		}
		log.Info("Session %d started a %s vote on %d", s.ID, b.Kind, b.Target)
		gm.broadcastServerChat(fmt.Sprintf("%s started a vote to %s", s.Name, gm.describeVote()))
		gm.resolveVote(now)
		return
	}
	if b.Kind != gm.vote.kind || b.Target != gm.vote.target {
		return
	}
	if prev, ok := gm.vote.ballots[s.ID]; ok && prev == b.Yes {
		return
	}
	gm.vote.ballots[s.ID] = b.Yes
	gm.vote.version++
	gm.resolveVote(now)
}

// leaveVote drops the ballot of a session that left, and the vote itself
// when the session was its target.
func (gm *GameManager) leaveVote(sessionID byte) {
	if !gm.vote.active {
		return
	}
	if gm.vote.kind == protocol.VoteKick && gm.vote.target == sessionID {
		gm.endVote()
		return
	}
	// the required count changes with the number of sessions
	delete(gm.vote.ballots, sessionID)
	gm.vote.version++
}

func (gm *GameManager) expireVote(now time.Time) {
	if gm.vote.active && !now.Before(gm.vote.deadline) {
		log.Info("Vote to %s expired", gm.describeVote())
		gm.broadcastServerChat(fmt.Sprintf("vote to %s failed", gm.describeVote()))
		gm.endVote()
	}
}

func (gm *GameManager) endVote() {
	gm.vote = vote{version: gm.vote.version + 1}
}

// resolveVote carries out a vote that reached the required yes count, or
// ends one that can no longer pass.
func (gm *GameManager) resolveVote(now time.Time) {
	t := gm.tally()
	voters := gm.registry.Count()
	switch {
	case int(t.Yes) >= int(t.Required):
	case voters-int(t.No) < int(t.Required):
		gm.broadcastServerChat(fmt.Sprintf("vote to %s failed", gm.describeVote()))
		gm.endVote()
		return
	default:
		return
	}

	kind, target := gm.vote.kind, gm.vote.target
	gm.broadcastServerChat(fmt.Sprintf("vote to %s passed", gm.describeVote()))
	gm.endVote()
	switch kind {
	case protocol.VoteRespawn:
		if !gm.respawnEnabled {
			return
		}
		if err := gm.respawn.Trigger(now, gm.participants()); err != nil {
			log.Error("Failed to trigger respawn: %v", err)
		}
	case protocol.VoteKick:
		if s, ok := gm.registry.Get(target); ok {
			gm.disconnectSession(s, "kicked by vote", now)
		}
	}
}

func (gm *GameManager) describeVote() string {
	if gm.vote.kind == protocol.VoteKick {
		if s, ok := gm.registry.Get(gm.vote.target); ok {
			return "kick " + s.Name
		}
	}
	return gm.vote.kind.String()
}
