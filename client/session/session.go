// Package session is the client half of the synchronization layer. It
// decodes server updates into a replica of the world, predicts the local
// character and assembles the datagram sent back every tick.
package session

import (
	"fmt"
	"time"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/chat"
	"github.com/cbodonnell/tether/pkg/events"
	"github.com/cbodonnell/tether/pkg/game/protocol"
	"github.com/cbodonnell/tether/pkg/game/world"
	"github.com/cbodonnell/tether/pkg/kinematic"
	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/messages"
	"github.com/cbodonnell/tether/pkg/packet"
	"github.com/cbodonnell/tether/pkg/prediction"
	"github.com/cbodonnell/tether/pkg/snapshot"
)

const (
	// CommandRepeat is how many datagrams carry each command.
	CommandRepeat = 10
	// ChatLogSize bounds the received chat history.
	ChatLogSize = 100
	// DefaultInterpolationDelay keeps remote actors far enough in the past
	// that two samples usually bracket the render time.
	DefaultInterpolationDelay = 100 * time.Millisecond
)

type pendingCommand struct {
	command   protocol.Command
	remaining int
}

type Session struct {
	sessionID byte
	assembler *packet.Assembler
	quant     snapshot.Quantization

	receiver *events.Receiver
	mirror   *world.Mirror

	predictorOptions prediction.NewPredictorOptions
	predictor        *prediction.Predictor
	// inputs outlives predictors: the server's watermark follows its ids.
	inputs *prediction.InputBuffer
	// own is the controlled character as of the last event block; the
	// predictor belongs to it.
	own uint16
	// dockedState is the own character's state while it rides on another
	// entity and is not streamed by itself.
	dockedState    snapshot.CharacterStateInfo
	hasDockedState bool

	remotes            map[uint16]*prediction.Interpolator
	interpolationDelay time.Duration
	freezeAfter        time.Duration
	hideAfter          time.Duration

	simTime   float64
	simTimeAt time.Time

	chatIn  chat.Inbox
	chatOut chat.Outbox
	chatLog []chat.Message

	tally      protocol.VoteTally
	clientList protocol.ClientList

	desyncs       []events.DesyncReport
	commands      []pendingCommand
	lastCommandID uint16
	ballot        *protocol.Ballot
	// ballotVersion is the tally version the ballot was cast against.
	ballotVersion   uint16
	ballotRemaining int
}

type NewSessionOptions struct {
	// SessionID and TickRate come from the login result.
	SessionID byte
	TickRate  uint16
	Assembler *packet.Assembler
	// Quantization must match the server's.
	Quantization snapshot.Quantization
	// Tolerance, SnapThreshold and BlendRate tune reconciliation.
	Tolerance          float64
	SnapThreshold      float64
	BlendRate          float64
	InterpolationDelay time.Duration
	FreezeAfter        time.Duration
	HideAfter          time.Duration
	// Now anchors countdowns received in events. Defaults to time.Now.
	Now func() time.Time
}

func NewSession(opts NewSessionOptions) *Session {
	if opts.TickRate == 0 {
		opts.TickRate = 60
	}
	if opts.InterpolationDelay <= 0 {
		opts.InterpolationDelay = DefaultInterpolationDelay
	}
	tickInterval := 1 / float64(opts.TickRate)
	inputs := prediction.NewInputBuffer()
	return &Session{
		sessionID: opts.SessionID,
		assembler: opts.Assembler,
		quant:     opts.Quantization,
		receiver:  events.NewReceiver(),
		mirror:    world.NewMirror(opts.Now),
		predictorOptions: prediction.NewPredictorOptions{
			Step:          world.NewStepFunc(world.NewCollisionSpace()),
			TickInterval:  tickInterval,
			Tolerance:     opts.Tolerance,
			SnapThreshold: opts.SnapThreshold,
			BlendRate:     opts.BlendRate,
			Inputs:        inputs,
		},
		inputs:             inputs,
		remotes:            make(map[uint16]*prediction.Interpolator),
		interpolationDelay: opts.InterpolationDelay,
		freezeAfter:        opts.FreezeAfter,
		hideAfter:          opts.HideAfter,
	}
}

func (s *Session) ID() byte {
	return s.sessionID
}

func (s *Session) Mirror() *world.Mirror {
	return s.mirror
}

// Syncing reports whether the mid-round sync is still running.
func (s *Session) Syncing() bool {
	return s.receiver.MidRoundSyncing()
}

func (s *Session) LastEventID() uint16 {
	return s.receiver.LastReceivedID()
}

// Character returns the locally controlled character, if any.
func (s *Session) Character() (*world.MirrorEntity, bool) {
	return s.mirror.CharacterOf(s.sessionID)
}

func (s *Session) ChatLog() []chat.Message {
	return s.chatLog
}

func (s *Session) VoteTally() protocol.VoteTally {
	return s.tally
}

func (s *Session) ClientList() protocol.ClientList {
	return s.clientList
}

// ServerTime estimates the simulation clock, in seconds, at now.
func (s *Session) ServerTime(now time.Time) float64 {
	if s.simTimeAt.IsZero() {
		return 0
	}
	return s.simTime + now.Sub(s.simTimeAt).Seconds()
}

// HandleDatagram applies one ServerUpdate datagram. Datagrams of other
// kinds are ignored.
func (s *Session) HandleDatagram(data []byte, receivedAt time.Time) error {
	tag, r, err := s.assembler.Open(data)
	if err != nil {
		return err
	}
	if tag != messages.ServerUpdate {
		return nil
	}
	for {
		obj := messages.ServerNetObject(r.ReadUInt8())
		if err := r.Err(); err != nil {
			return fmt.Errorf("truncated update: %v", err)
		}
		if obj == messages.ServerEndOfMessage {
			return nil
		}
		if err := s.handleNetObject(obj, r, receivedAt); err != nil {
			return err
		}
		if err := r.Err(); err != nil {
			return fmt.Errorf("malformed sub-message %d: %v", obj, err)
		}
	}
}

func (s *Session) handleNetObject(obj messages.ServerNetObject, r *bitstream.Reader, receivedAt time.Time) error {
	switch obj {
	case messages.ServerSyncIDs:
		ids := protocol.ReadServerSyncIDs(r)
		if r.Err() != nil {
			return nil
		}
		s.chatOut.Ack(ids.ChatAck)
		sim := float64(ids.SimTime) / 1000
		if sim >= s.simTime {
			s.simTime = sim
			s.simTimeAt = receivedAt
		}

	case messages.ServerEntityEvent, messages.ServerEntityEventInitial:
		reports, err := s.receiver.Read(r, obj == messages.ServerEntityEventInitial, s.mirror)
		if err != nil {
			return err
		}
		for _, report := range reports {
			log.Warn("Desync detected: %s", report)
		}
		s.desyncs = append(s.desyncs, reports...)
		s.syncCharacter()

	case messages.ServerEntityPosition:
		id, info, err := s.quant.ReadSegment(r)
		if err != nil {
			return err
		}
		s.applyPosition(id, info, receivedAt)

	case messages.ServerChatMessage:
		m := chat.Read(r)
		if r.Err() != nil || !s.chatIn.Accept(m) {
			return nil
		}
		s.chatLog = append(s.chatLog, m)
		if len(s.chatLog) > ChatLogSize {
			s.chatLog = s.chatLog[len(s.chatLog)-ChatLogSize:]
		}
		log.Debug("[%s] %s", m.SenderName, m.Text)

	case messages.ServerVote:
		s.tally = protocol.ReadVoteTally(r)
		if s.ballot != nil && s.tally.Version != s.ballotVersion {
			s.ballot = nil
		}

	case messages.ServerClientList:
		s.clientList = protocol.ReadClientList(r)

	default:
		return fmt.Errorf("unknown sub-message %d", obj)
	}
	return nil
}

// syncCharacter drops the predictor when the controlled character changed.
func (s *Session) syncCharacter() {
	var id uint16
	if c, ok := s.Character(); ok {
		id = c.ID
	}
	if id == s.own {
		return
	}
	s.own = id
	s.predictor = nil
	s.inputs.Reset()
	s.hasDockedState = false
}

// applyPosition routes a snapshot of a group leader to the actor it
// describes and to everything docked on it.
func (s *Session) applyPosition(id uint16, info snapshot.CharacterStateInfo, receivedAt time.Time) {
	s.applyState(id, info, receivedAt)
	for _, e := range s.followersOf(id) {
		offset, ok := s.offsetTo(e.ID, id)
		if !ok {
			continue
		}
		s.applyState(e.ID, snapshot.FollowerState(info, offset), receivedAt)
	}
}

func (s *Session) applyState(id uint16, info snapshot.CharacterStateInfo, receivedAt time.Time) {
	c, own := s.Character()
	if own && c.ID == id {
		if c.Docked {
			s.dockedState = info
			s.hasDockedState = true
			return
		}
		s.hasDockedState = false
		if !info.HasInputID {
			return
		}
		if s.predictor == nil {
			s.predictor = prediction.NewPredictor(info, s.predictorOptions)
			return
		}
		if s.predictor.Reconcile(info) {
			log.Trace("Corrected prediction of character %d at input %d", id, info.InputID)
		}
		return
	}
	ip, ok := s.remotes[id]
	if !ok {
		ip = prediction.NewInterpolator(s.freezeAfter, s.hideAfter)
		s.remotes[id] = ip
	}
	ip.Push(info, receivedAt)
}

// followersOf lists the entities whose dock chain ends at leader.
func (s *Session) followersOf(leader uint16) []*world.MirrorEntity {
	var out []*world.MirrorEntity
	groups := snapshot.BuildLinkGroups(s.mirror.Links())
	for _, id := range groups.Followers(leader) {
		if e, ok := s.mirror.Entity(id); ok {
			out = append(out, e)
		}
	}
	return out
}

// offsetTo sums dock offsets from id up to leader.
func (s *Session) offsetTo(id, leader uint16) (kinematic.Vector, bool) {
	var offset kinematic.Vector
	// a chain can be no longer than the number of known entities
	for hops := 0; hops <= len(s.mirror.Links()); hops++ {
		if id == leader {
			return offset, true
		}
		e, ok := s.mirror.Entity(id)
		if !ok || !e.Docked {
			return kinematic.Vector{}, false
		}
		offset = offset.Add(e.Offset)
		id = e.DockID
	}
	return kinematic.Vector{}, false
}

// OwnState returns where to draw the controlled character.
func (s *Session) OwnState() (snapshot.CharacterStateInfo, bool) {
	if s.hasDockedState {
		return s.dockedState, true
	}
	if s.predictor == nil {
		return snapshot.CharacterStateInfo{}, false
	}
	info := s.predictor.Current()
	info.Position = s.predictor.RenderPosition()
	return info, true
}

// Remote samples another entity at the interpolation render time.
func (s *Session) Remote(id uint16, now time.Time) (snapshot.CharacterStateInfo, prediction.Visibility) {
	ip, ok := s.remotes[id]
	if !ok {
		return snapshot.CharacterStateInfo{}, prediction.Hidden
	}
	return ip.Sample(s.ServerTime(now)-s.interpolationDelay.Seconds(), now)
}

// Forget drops interpolation state for entities the mirror no longer has.
func (s *Session) Forget() {
	for id := range s.remotes {
		if _, ok := s.mirror.Entity(id); !ok {
			delete(s.remotes, id)
		}
	}
}

// Say queues a chat message until the server acknowledges it.
func (s *Session) Say(text string) {
	s.chatOut.Push(chat.Message{SenderID: s.sessionID, Text: text})
}

// Vote sends b until the server's tally reflects it or CommandRepeat
// datagrams carried it.
func (s *Session) Vote(b protocol.Ballot) {
	s.ballot = &b
	s.ballotVersion = s.tally.Version
	s.ballotRemaining = CommandRepeat
}

// Command queues an admin command under a fresh id.
func (s *Session) Command(kind protocol.CommandKind, target byte, reason string) {
	s.lastCommandID++
	s.commands = append(s.commands, pendingCommand{
		command:   protocol.Command{ID: s.lastCommandID, Kind: kind, Target: target, Reason: reason},
		remaining: CommandRepeat,
	})
}

// Tick advances the local prediction by one frame of input and returns the
// datagram to send.
func (s *Session) Tick(keys prediction.InputFlags, aim uint16) []byte {
	c, own := s.Character()
	var inputs []prediction.InputFrame
	if own && s.predictor != nil {
		if !c.Alive || c.Docked {
			keys = 0
		}
		s.predictor.Tick(keys, aim, 0)
		inputs = s.predictor.Inputs()
	}

	b := s.assembler.Begin(messages.ClientUpdate)
	seg := bitstream.NewWriter()
	protocol.WriteClientSyncIDs(seg, protocol.ClientSyncIDs{
		LastEventID:       s.receiver.LastReceivedID(),
		Syncing:           s.receiver.MidRoundSyncing(),
		ChatAck:           s.chatIn.LastRecv,
		VoteVersion:       s.tally.Version,
		ClientListVersion: s.clientList.Version,
	})
	b.TryAppend(seg)

	sent := 0
	for _, d := range s.desyncs {
		seg := bitstream.NewWriter()
		protocol.WriteDesync(seg, d)
		if !b.TryAppend(seg) {
			break
		}
		sent++
	}
	s.desyncs = s.desyncs[sent:]

	for i := range s.commands {
		seg := bitstream.NewWriter()
		protocol.WriteCommand(seg, s.commands[i].command)
		if b.TryAppend(seg) {
			s.commands[i].remaining--
		}
	}
	kept := s.commands[:0]
	for _, pc := range s.commands {
		if pc.remaining > 0 {
			kept = append(kept, pc)
		}
	}
	s.commands = kept

	if s.ballot != nil {
		seg := bitstream.NewWriter()
		protocol.WriteBallot(seg, *s.ballot)
		if b.TryAppend(seg) {
			s.ballotRemaining--
		}
		if s.ballotRemaining <= 0 {
			s.ballot = nil
		}
	}

	if len(inputs) > 0 {
		seg := bitstream.NewWriter()
		protocol.WriteInput(seg, inputs)
		if !b.TryAppend(seg) {
			log.Warn("Input does not fit the datagram")
		}
	}

	for _, m := range s.chatOut.Pending() {
		seg := bitstream.NewWriter()
		protocol.WriteClientChat(seg, m)
		if !b.TryAppend(seg) {
			break
		}
	}
	return b.Finish()
}
