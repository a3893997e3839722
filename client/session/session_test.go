package session

import (
	"testing"
	"time"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/chat"
	"github.com/cbodonnell/tether/pkg/events"
	"github.com/cbodonnell/tether/pkg/game/protocol"
	"github.com/cbodonnell/tether/pkg/game/world"
	"github.com/cbodonnell/tether/pkg/messages"
	"github.com/cbodonnell/tether/pkg/packet"
	"github.com/cbodonnell/tether/pkg/prediction"
	serversession "github.com/cbodonnell/tether/pkg/session"
	"github.com/cbodonnell/tether/pkg/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dt = 1.0 / 60

// received is what the test server decoded from one client datagram.
type received struct {
	ids      protocol.ClientSyncIDs
	chat     []chat.Message
	ballots  []protocol.Ballot
	desyncs  []events.DesyncReport
	commands []protocol.Command
}

// testServer drives the server half of the protocol for a single client
// with the real event manager and world.
type testServer struct {
	t         *testing.T
	asm       *packet.Assembler
	events    *events.Manager
	world     *world.World
	session   *serversession.Session
	inputs    *prediction.InputQueue
	character uint16
	chatAck   uint16
	now       time.Time
}

func newTestServer(t *testing.T) *testServer {
	asm, err := packet.NewAssembler(packet.NewAssemblerOptions{MTU: 1200, CompressionThreshold: 256, MaxDatagrams: 4})
	require.NoError(t, err)
	mgr := events.NewManager(events.NewManagerOptions{
		HistoryCapacity:      1024,
		PayloadBudgetBits:    asm.PayloadBudgetBits(),
		ReservedBits:         protocol.ServerSyncIDsBits,
		MinResendInterval:    100 * time.Millisecond,
		MidRoundSyncBase:     10 * time.Second,
		MidRoundSyncPerEvent: 10 * time.Millisecond,
	})
	w, err := world.New(world.NewWorldOptions{Sink: mgr, ShuttleSpeed: 120})
	require.NoError(t, err)
	return &testServer{
		t:      t,
		asm:    asm,
		events: mgr,
		world:  w,
		inputs: prediction.NewInputQueue(0),
		now:    time.Unix(1000, 0),
	}
}

// join registers session 1 and starts its mid-round sync.
func (ts *testServer) join() {
	ts.session = &serversession.Session{ID: 1}
	ts.session.ResetSyncState()
	ts.events.InitMidRoundSync(ts.session, ts.now)
}

func (ts *testServer) newClient() *Session {
	return NewSession(NewSessionOptions{
		SessionID:     1,
		TickRate:      60,
		Assembler:     ts.asm,
		Quantization:  snapshot.DefaultQuantization,
		Tolerance:     0.5,
		SnapThreshold: 64,
		Now:           func() time.Time { return ts.now },
	})
}

// send writes one update and hands every datagram to c.
func (ts *testServer) send(c *Session) {
	t := ts.t
	batch := ts.asm.NewBatch(messages.ServerUpdate, func(w *bitstream.Writer) {
		protocol.WriteServerSyncIDs(w, protocol.ServerSyncIDs{ChatAck: ts.chatAck, SimTime: uint32(ts.world.Time() * 1000)})
	})
	block, included, err := ts.events.Write(ts.session, batch.Remaining(), ts.now)
	require.NoError(t, err)
	if block != nil {
		ok, err := batch.Append(block, "entity events")
		require.NoError(t, err)
		require.True(t, ok)
	}
	groups := snapshot.BuildLinkGroups(ts.world.Links())
	for _, cand := range ts.world.Candidates() {
		if groups.IsFollower(cand.ID) {
			continue
		}
		info, ok := ts.world.StateInfo(cand.ID)
		require.True(t, ok)
		if cand.ID == ts.character {
			info.HasInputID = true
			info.InputID = ts.inputs.LastApplied()
		}
		ok, err := batch.Append(snapshot.DefaultQuantization.EncodeSegment(cand.ID, info), "position")
		require.NoError(t, err)
		require.True(t, ok)
	}
	datagrams := batch.Finish()
	ts.events.MarkSent(ts.session, included, ts.now)
	for _, d := range datagrams {
		require.NoError(t, c.HandleDatagram(d, ts.now))
	}
}

// receive decodes a client datagram, acknowledges events and applies
// inputs to the server's character.
func (ts *testServer) receive(d []byte) received {
	t := ts.t
	tag, r, err := ts.asm.Open(d)
	require.NoError(t, err)
	require.Equal(t, messages.ClientUpdate, tag)
	var out received
	for {
		obj := messages.ClientNetObject(r.ReadUInt8())
		require.NoError(t, r.Err())
		switch obj {
		case messages.ClientEndOfMessage:
			return out
		case messages.ClientSyncIDs:
			out.ids = protocol.ReadClientSyncIDs(r)
			require.NoError(t, ts.events.Acknowledge(ts.session, out.ids.LastEventID, out.ids.Syncing, ts.now))
		case messages.ClientInput:
			ts.inputs.Push(prediction.ReadInputs(r))
			for {
				f, ok := ts.inputs.Next()
				if !ok {
					break
				}
				ts.world.ApplyInput(ts.character, f, dt)
			}
		case messages.ClientChatMessage:
			m := chat.Read(r)
			out.chat = append(out.chat, m)
			ts.chatAck = m.ID
		case messages.ClientVote:
			out.ballots = append(out.ballots, protocol.ReadBallot(r))
		case messages.ClientDesync:
			out.desyncs = append(out.desyncs, events.ReadDesyncReport(r))
		case messages.ClientCommand:
			out.commands = append(out.commands, protocol.ReadCommand(r))
		default:
			t.Fatalf("unexpected sub-message %d", obj)
		}
		require.NoError(t, r.Err())
	}
}

// round runs one server update and one client tick.
func (ts *testServer) round(c *Session, keys prediction.InputFlags) received {
	ts.now = ts.now.Add(time.Second)
	ts.send(c)
	return ts.receive(c.Tick(keys, 0))
}

func (ts *testServer) sync(c *Session) {
	for i := 0; i < 50 && (c.Syncing() || ts.session.NeedsMidRoundSync); i++ {
		ts.round(c, 0)
	}
	require.False(ts.t, c.Syncing())
	require.False(ts.t, ts.session.NeedsMidRoundSync)
}

func TestSession_MidRoundSync(t *testing.T) {
	ts := newTestServer(t)
	bob, err := ts.world.SpawnCharacter(2, "bob", ts.world.SpawnPoint(1))
	require.NoError(t, err)
	require.NoError(t, ts.world.Damage(bob.ID, 30))
	carol, err := ts.world.SpawnCharacter(3, "carol", ts.world.SpawnPoint(2))
	require.NoError(t, err)
	require.NoError(t, ts.world.Despawn(carol.ID))

	ts.join()
	c := ts.newClient()
	assert.True(t, c.Syncing())
	ts.sync(c)

	got, ok := c.Mirror().CharacterOf(2)
	require.True(t, ok)
	assert.Equal(t, "bob", got.Name)
	assert.Equal(t, world.CharacterHealth-30, got.Health)
	_, ok = c.Mirror().Entity(carol.ID)
	assert.False(t, ok)
	assert.Equal(t, ts.events.LastID(), c.LastEventID())

	// events created after the join arrive through the shared history
	alice, err := ts.world.SpawnCharacter(1, "alice", ts.world.SpawnPoint(0))
	require.NoError(t, err)
	ts.round(c, 0)
	own, ok := c.Character()
	require.True(t, ok)
	assert.Equal(t, alice.ID, own.ID)
	assert.Equal(t, ts.events.LastID(), c.LastEventID())
	assert.Empty(t, ts.round(c, 0).desyncs)
}

func TestSession_PredictionMatchesServer(t *testing.T) {
	ts := newTestServer(t)
	alice, err := ts.world.SpawnCharacter(1, "alice", ts.world.SpawnPoint(0))
	require.NoError(t, err)
	ts.character = alice.ID
	ts.join()
	c := ts.newClient()
	ts.sync(c)

	_, ok := c.OwnState()
	require.True(t, ok, "predictor starts from the first own snapshot")

	for i := 0; i < 30; i++ {
		ts.round(c, prediction.InputRight)
	}
	ts.round(c, 0)

	own, ok := c.OwnState()
	require.True(t, ok)
	server, _ := ts.world.Character(alice.ID)
	assert.Greater(t, server.State.Position.X, ts.world.SpawnPoint(0).X)
	// both sides have applied the same inputs by now
	assert.InDelta(t, server.State.Position.X, own.Position.X, 1)
	assert.InDelta(t, server.State.Position.Y, own.Position.Y, 1)
}

func TestSession_FollowersOfDockedLeader(t *testing.T) {
	ts := newTestServer(t)
	bob, err := ts.world.SpawnCharacter(2, "bob", ts.world.SeatPosition(1))
	require.NoError(t, err)
	require.NoError(t, ts.world.Dock(bob.ID, world.ShuttleID))
	ts.join()
	c := ts.newClient()
	ts.sync(c)
	ts.round(c, 0)

	info, vis := c.Remote(bob.ID, ts.now)
	require.Equal(t, prediction.Visible, vis)
	server, _ := ts.world.Character(bob.ID)
	assert.InDelta(t, server.State.Position.X, info.Position.X, 0.1)
	assert.InDelta(t, server.State.Position.Y, info.Position.Y, 0.1)
	assert.False(t, info.HasInputID)

	shuttle, vis := c.Remote(world.ShuttleID, ts.now)
	require.Equal(t, prediction.Visible, vis)
	assert.InDelta(t, ts.world.ShuttlePosition().X, shuttle.Position.X, 0.1)

	_, vis = c.Remote(999, ts.now)
	assert.Equal(t, prediction.Hidden, vis)
}

func TestSession_RepeatsUntilAcknowledged(t *testing.T) {
	ts := newTestServer(t)
	ts.join()
	c := ts.newClient()
	ts.sync(c)

	c.Say("hello")
	c.Command(protocol.CommandRespawn, 0, "")
	c.Vote(protocol.Ballot{Kind: protocol.VoteRespawn, Yes: true})

	got := ts.receive(c.Tick(0, 0))
	require.Len(t, got.chat, 1)
	assert.Equal(t, "hello", got.chat[0].Text)
	require.Len(t, got.commands, 1)
	assert.Equal(t, uint16(1), got.commands[0].ID)
	require.Len(t, got.ballots, 1)

	// the server acknowledges the chat message with the next update
	got = ts.round(c, 0)
	assert.Empty(t, got.chat)
	assert.Len(t, got.commands, 1, "commands repeat for a while")

	for i := 0; i < CommandRepeat; i++ {
		got = ts.receive(c.Tick(0, 0))
	}
	assert.Empty(t, got.commands)
	assert.Empty(t, got.ballots)
}

func TestSession_IgnoresOtherDatagrams(t *testing.T) {
	ts := newTestServer(t)
	c := ts.newClient()

	b := ts.asm.Begin(messages.ServerPing)
	seg := bitstream.NewWriter()
	messages.WritePing(seg, messages.Ping{Sequence: 3})
	require.True(t, b.TryAppend(seg))
	assert.NoError(t, c.HandleDatagram(b.Finish(), ts.now))

	assert.Error(t, c.HandleDatagram([]byte{byte(messages.ServerUpdate)}, ts.now))
}

func TestSession_DesyncReportsCarryOver(t *testing.T) {
	ts := newTestServer(t)
	ts.join()
	c := ts.newClient()
	for i := 0; i < 200; i++ {
		c.desyncs = append(c.desyncs, events.DesyncReport{
			Kind:        events.DesyncChecksumMismatch,
			Expected:    uint16(i),
			Received:    uint16(i),
			HasChecksum: true,
			Checksum:    uint32(i),
		})
	}

	var got []uint16
	for i := 0; i < 5 && len(got) < 200; i++ {
		reports := ts.receive(c.Tick(0, 0)).desyncs
		require.NotEmpty(t, reports)
		if i == 0 {
			assert.Less(t, len(reports), 200, "reports are spread over several datagrams")
		}
		for _, d := range reports {
			got = append(got, d.Expected)
		}
	}
	require.Len(t, got, 200)
	for i, id := range got {
		assert.Equal(t, uint16(i), id)
	}
	assert.Empty(t, ts.receive(c.Tick(0, 0)).desyncs)
}
