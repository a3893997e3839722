package game

import (
	"context"
	"testing"
	"time"

	clientsession "github.com/cbodonnell/tether/client/session"
	networkmocks "github.com/cbodonnell/tether/mocks/github.com/cbodonnell/tether/pkg/network"
	queuemocks "github.com/cbodonnell/tether/mocks/github.com/cbodonnell/tether/pkg/queue"
	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/chat"
	"github.com/cbodonnell/tether/pkg/config"
	"github.com/cbodonnell/tether/pkg/game/protocol"
	"github.com/cbodonnell/tether/pkg/game/world"
	"github.com/cbodonnell/tether/pkg/messages"
	"github.com/cbodonnell/tether/pkg/netid"
	"github.com/cbodonnell/tether/pkg/network"
	"github.com/cbodonnell/tether/pkg/packet"
	"github.com/cbodonnell/tether/pkg/prediction"
	"github.com/cbodonnell/tether/pkg/repositories/models"
	"github.com/cbodonnell/tether/pkg/session"
	"github.com/cbodonnell/tether/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testGame struct {
	t         *testing.T
	cfg       *config.Config
	gm        *GameManager
	assembler *packet.Assembler
	queue     *queuemocks.Queue
	transport *networkmocks.Transport
	status    *state.InMemoryStatusManager
	now       time.Time

	approved     map[uint32]*messages.ServerLoginResult
	denied       map[uint32]string
	disconnected map[uint32]string
	datagrams    map[uint32][][]byte
}

func newTestGame(t *testing.T, mutate func(cfg *config.Config), bans ...*models.BanRecord) *testGame {
	cfg := config.Default()
	cfg.Respawn.Enabled = false
	cfg.Server.SendRate = cfg.Server.TickRate
	if mutate != nil {
		mutate(cfg)
	}
	assembler, err := packet.NewAssembler(packet.NewAssemblerOptions{
		MTU:                  cfg.Network.MTU,
		CompressionThreshold: cfg.Network.CompressionThreshold,
		MaxDatagrams:         cfg.Network.MaxDatagramsPerSend,
	})
	require.NoError(t, err)

	tg := &testGame{
		t:            t,
		cfg:          cfg,
		assembler:    assembler,
		queue:        queuemocks.NewQueue(t),
		transport:    networkmocks.NewTransport(t),
		status:       state.NewInMemoryStatusManager(),
		now:          time.Unix(1000, 0),
		approved:     make(map[uint32]*messages.ServerLoginResult),
		denied:       make(map[uint32]string),
		disconnected: make(map[uint32]string),
		datagrams:    make(map[uint32][][]byte),
	}
	tg.transport.EXPECT().Approve(mock.Anything, mock.Anything).RunAndReturn(func(id uint32, result *messages.ServerLoginResult) error {
		tg.approved[id] = result
		return nil
	}).Maybe()
	tg.transport.EXPECT().Deny(mock.Anything, mock.Anything).RunAndReturn(func(id uint32, reason string) error {
		tg.denied[id] = reason
		return nil
	}).Maybe()
	tg.transport.EXPECT().Disconnect(mock.Anything, mock.Anything).RunAndReturn(func(id uint32, reason string) error {
		tg.disconnected[id] = reason
		return nil
	}).Maybe()
	tg.transport.EXPECT().SendUnreliable(mock.Anything, mock.Anything).RunAndReturn(func(id uint32, d []byte) error {
		tg.datagrams[id] = append(tg.datagrams[id], d)
		return nil
	}).Maybe()

	gm, err := NewGameManager(NewGameManagerOptions{
		Config:        cfg,
		Transport:     tg.transport,
		Queue:         tg.queue,
		Assembler:     assembler,
		StatusManager: tg.status,
		Admins:        []string{"admin"},
		Bans:          bans,
	})
	require.NoError(t, err)
	tg.gm = gm
	return tg
}

// tick runs one game tick with items as the queued network input.
func (tg *testGame) tick(items ...interface{}) {
	tg.now = tg.now.Add(tg.gm.tickInterval)
	tg.queue.EXPECT().ReadAllMessages().Return(items, nil).Once()
	require.NoError(tg.t, tg.gm.gameTick(context.Background(), tg.now))
}

func (tg *testGame) login(connectionID uint32, userID, name string) *messages.ServerLoginResult {
	tg.tick(&network.LoginRequest{ConnectionID: connectionID, UserID: userID, Name: name})
	result, ok := tg.approved[connectionID]
	require.True(tg.t, ok, "login of %s was not approved", name)
	return result
}

// update builds a ClientUpdate datagram holding the given sub-messages.
func (tg *testGame) update(connectionID uint32, writes ...func(w *bitstream.Writer)) *network.Datagram {
	b := tg.assembler.Begin(messages.ClientUpdate)
	for _, write := range writes {
		seg := bitstream.NewWriter()
		write(seg)
		require.True(tg.t, b.TryAppend(seg))
	}
	return &network.Datagram{ConnectionID: connectionID, Data: b.Finish(), ReceivedAt: tg.now}
}

func (tg *testGame) sessionOf(connectionID uint32) (byte, bool) {
	s, ok := tg.gm.registry.GetByConnection(connectionID)
	if !ok {
		return 0, false
	}
	return s.ID, true
}

func TestGameManager_Login(t *testing.T) {
	tg := newTestGame(t, func(cfg *config.Config) {
		cfg.Server.MaxSessions = 2
	}, &models.BanRecord{UserID: "mallory", Reason: "griefing"})

	result := tg.login(1, "alice", "alice")
	assert.True(t, result.Accepted)
	assert.Equal(t, byte(1), result.SessionID)
	assert.True(t, result.MidRound)
	assert.Equal(t, uint16(60), result.TickRate)
	assert.NotEmpty(t, result.ReconnectToken)

	s, ok := tg.gm.registry.Get(result.SessionID)
	require.True(t, ok)
	assert.True(t, s.NeedsMidRoundSync, "every join goes through mid-round sync")
	c, ok := tg.gm.world.Character(s.CharacterID)
	require.True(t, ok)
	assert.Equal(t, s.ID, c.Owner)

	tg.tick(&network.LoginRequest{ConnectionID: 2, UserID: "mallory", Name: "mallory"})
	assert.Equal(t, "banned", tg.denied[2])

	tg.login(3, "bob", "bob")
	tg.tick(&network.LoginRequest{ConnectionID: 4, UserID: "carol", Name: "carol"})
	assert.Equal(t, "server full", tg.denied[4])
	assert.Equal(t, 2, tg.gm.registry.Count())

	assert.Len(t, tg.gm.buildStatus(tg.now).Sessions, 2)
	st, err := tg.status.Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, st.Sessions, 1, "status is published once per second")
}

func TestGameManager_MalformedDatagramDisconnects(t *testing.T) {
	tg := newTestGame(t, nil)
	tg.login(1, "alice", "alice")
	tg.login(2, "bob", "bob")
	id, _ := tg.sessionOf(1)
	s, _ := tg.gm.registry.Get(id)
	character := s.CharacterID

	tg.tick(&network.Datagram{ConnectionID: 1, Data: []byte{0xff, 0x00, 0x01}, ReceivedAt: tg.now})

	assert.Equal(t, "protocol violation", tg.disconnected[1])
	_, ok := tg.sessionOf(1)
	assert.False(t, ok)
	_, ok = tg.sessionOf(2)
	assert.True(t, ok, "other sessions are unaffected")

	c, ok := tg.gm.world.Character(character)
	require.True(t, ok, "the character lingers for the grace period")
	assert.True(t, c.Disconnected)
	assert.Equal(t, 1, tg.gm.registry.LingeringCount())

	tg.now = tg.now.Add(tg.cfg.Server.GracePeriod)
	tg.tick()
	_, ok = tg.gm.world.Character(character)
	assert.False(t, ok)
}

func TestGameManager_Reclaim(t *testing.T) {
	tg := newTestGame(t, nil)
	result := tg.login(1, "alice", "alice")
	s, _ := tg.gm.registry.Get(result.SessionID)
	character := s.CharacterID

	tg.tick(&network.ConnectionClosed{ConnectionID: 1})
	assert.Equal(t, "connection closed", tg.disconnected[1])

	// someone else holding the token cannot take the character
	tg.tick(&network.LoginRequest{ConnectionID: 2, UserID: "bob", Name: "bob", ReconnectToken: result.ReconnectToken})
	bob, _ := tg.sessionOf(2)
	bs, _ := tg.gm.registry.Get(bob)
	assert.NotEqual(t, character, bs.CharacterID)

	tg.tick(&network.LoginRequest{ConnectionID: 3, UserID: "alice", Name: "alice", ReconnectToken: result.ReconnectToken})
	alice, ok := tg.sessionOf(3)
	require.True(t, ok)
	as, _ := tg.gm.registry.Get(alice)
	assert.Equal(t, character, as.CharacterID)
	c, _ := tg.gm.world.Character(character)
	assert.False(t, c.Disconnected)
	assert.Equal(t, alice, c.Owner)
	assert.Zero(t, tg.gm.registry.LingeringCount())
}

func TestGameManager_CommandPermissions(t *testing.T) {
	tg := newTestGame(t, nil)
	tg.login(1, "alice", "alice")
	tg.login(2, "bob", "bob")
	tg.login(3, "admin", "root")
	bob, _ := tg.sessionOf(2)

	kick := func(id uint16) func(w *bitstream.Writer) {
		return func(w *bitstream.Writer) {
			protocol.WriteCommand(w, protocol.Command{ID: id, Kind: protocol.CommandKick, Target: bob, Reason: "afk"})
		}
	}

	tg.tick(tg.update(1, kick(1)))
	assert.Equal(t, "protocol violation", tg.disconnected[1])
	_, ok := tg.sessionOf(2)
	assert.True(t, ok)

	tg.tick(tg.update(3, kick(1)))
	assert.Equal(t, "kicked: afk", tg.disconnected[2])
	_, ok = tg.sessionOf(3)
	assert.True(t, ok)

	tg.tick(&network.LoginRequest{ConnectionID: 4, UserID: "dave", Name: "dave", Admin: true})
	dave, ok := tg.sessionOf(4)
	require.True(t, ok)
	s, _ := tg.gm.registry.Get(dave)
	assert.Equal(t, session.AllPermissions, s.Permissions, "the admin claim grants every permission")
}

func TestGameManager_KickVote(t *testing.T) {
	tg := newTestGame(t, nil)
	tg.login(1, "alice", "alice")
	tg.login(2, "bob", "bob")
	tg.login(3, "carol", "carol")
	bob, _ := tg.sessionOf(2)
	ballot := func(w *bitstream.Writer) {
		protocol.WriteBallot(w, protocol.Ballot{Kind: protocol.VoteKick, Target: bob, Yes: true})
	}

	tg.tick(tg.update(1, ballot))
	require.True(t, tg.gm.vote.active)
	tally := tg.gm.tally()
	assert.Equal(t, byte(1), tally.Yes)
	assert.Equal(t, byte(2), tally.Required)

	// repeating the same ballot changes nothing
	version := tg.gm.vote.version
	tg.tick(tg.update(1, ballot))
	assert.Equal(t, version, tg.gm.vote.version)

	tg.tick(tg.update(3, ballot))
	assert.False(t, tg.gm.vote.active)
	assert.Equal(t, "kicked by vote", tg.disconnected[2])
}

func TestGameManager_VoteExpires(t *testing.T) {
	tg := newTestGame(t, nil)
	tg.login(1, "alice", "alice")
	tg.login(2, "bob", "bob")
	tg.tick(tg.update(1, func(w *bitstream.Writer) {
		protocol.WriteBallot(w, protocol.Ballot{Kind: protocol.VoteRespawn, Yes: true})
	}))
	require.True(t, tg.gm.vote.active)
	require.NotNil(t, tg.gm.buildStatus(tg.now).Vote)

	tg.now = tg.now.Add(VoteDuration)
	tg.tick()
	assert.False(t, tg.gm.vote.active)
}

func TestGameManager_ChatRelay(t *testing.T) {
	tg := newTestGame(t, nil)
	tg.login(1, "alice", "alice")
	tg.login(2, "bob", "bob")
	alice, _ := tg.sessionOf(1)
	bobID, _ := tg.sessionOf(2)
	bob, _ := tg.gm.registry.Get(bobID)
	before := len(bob.ChatOutbox.Pending())

	say := func(w *bitstream.Writer) {
		protocol.WriteClientChat(w, chat.Message{ID: 1, Text: "hello"})
	}
	tg.tick(tg.update(1, say))
	// the repeat is dropped by the inbox
	tg.tick(tg.update(1, say))

	pending := bob.ChatOutbox.Pending()
	require.Len(t, pending, before+1)
	got := pending[len(pending)-1]
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, alice, got.SenderID)
	assert.Equal(t, "alice", got.SenderName)
	assert.Equal(t, chat.MessageTypeDefault, got.Type)
}

func TestGameManager_ClientRoundTrip(t *testing.T) {
	tg := newTestGame(t, nil)
	result := tg.login(1, "alice", "alice")

	client := clientsession.NewSession(clientsession.NewSessionOptions{
		SessionID:     result.SessionID,
		TickRate:      result.TickRate,
		Assembler:     tg.assembler,
		Quantization:  tg.gm.quant,
		Tolerance:     0.5,
		SnapThreshold: 64,
		Now:           func() time.Time { return tg.now },
	})

	for i := 0; i < 120; i++ {
		tg.tick(&network.Datagram{ConnectionID: 1, Data: client.Tick(0, 0), ReceivedAt: tg.now})
		for _, d := range tg.datagrams[1] {
			require.NoError(t, client.HandleDatagram(d, tg.now))
		}
		tg.datagrams[1] = nil
		if _, ok := client.OwnState(); ok && !client.Syncing() {
			break
		}
	}
	// the server learns the sync finished from the next datagram
	tg.tick(&network.Datagram{ConnectionID: 1, Data: client.Tick(0, 0), ReceivedAt: tg.now})

	assert.False(t, client.Syncing())
	s, _ := tg.gm.registry.Get(result.SessionID)
	assert.False(t, s.NeedsMidRoundSync)
	assert.Equal(t, tg.gm.events.LastID(), client.LastEventID())

	own, ok := client.Character()
	require.True(t, ok)
	assert.Equal(t, s.CharacterID, own.ID)
	assert.Equal(t, "alice", own.Name)
	_, ok = client.OwnState()
	assert.True(t, ok)

	var texts []string
	for _, m := range client.ChatLog() {
		texts = append(texts, m.Text)
	}
	assert.Contains(t, texts, "alice joined")
	require.Len(t, client.ClientList().Entries, 1)
	assert.Equal(t, "alice", client.ClientList().Entries[0].Name)
}

// laggyClient runs a client session whose server datagrams arrive a few
// ticks after they were sent.
type laggyClient struct {
	tg           *testGame
	connectionID uint32
	client       *clientsession.Session
	delay        int
	inbound      [][][]byte
}

func (lc *laggyClient) step(keys prediction.InputFlags) {
	tg := lc.tg
	tg.tick(&network.Datagram{ConnectionID: lc.connectionID, Data: lc.client.Tick(keys, 0), ReceivedAt: tg.now})
	lc.inbound = append(lc.inbound, tg.datagrams[lc.connectionID])
	tg.datagrams[lc.connectionID] = nil
	for len(lc.inbound) > lc.delay {
		for _, d := range lc.inbound[0] {
			require.NoError(tg.t, lc.client.HandleDatagram(d, tg.now))
		}
		lc.inbound = lc.inbound[1:]
	}
}

// stepUntil steps with no keys held until done returns true or limit ticks pass.
func (lc *laggyClient) stepUntil(limit int, done func() bool) bool {
	for i := 0; i < limit; i++ {
		lc.step(0)
		if done() {
			return true
		}
	}
	return false
}

// walking returns the client's character once it is alive, off the
// shuttle and predicted locally.
func (lc *laggyClient) walking() (*world.MirrorEntity, bool) {
	c, ok := lc.client.Character()
	if !ok || !c.Alive || c.Docked {
		return nil, false
	}
	if _, ok := lc.client.OwnState(); !ok {
		return nil, false
	}
	return c, true
}

func TestGameManager_RespawnKeepsInputIDs(t *testing.T) {
	tg := newTestGame(t, func(cfg *config.Config) {
		cfg.Respawn.Enabled = true
		cfg.Respawn.Countdown = 100 * time.Millisecond
		cfg.Respawn.ShuttleSpeed = 5000
	})
	result := tg.login(1, "alice", "alice")
	lc := &laggyClient{
		tg:           tg,
		connectionID: 1,
		delay:        3,
		client: clientsession.NewSession(clientsession.NewSessionOptions{
			SessionID:     result.SessionID,
			TickRate:      result.TickRate,
			Assembler:     tg.assembler,
			Quantization:  tg.gm.quant,
			Tolerance:     0.5,
			SnapThreshold: 64,
			Now:           func() time.Time { return tg.now },
		}),
	}

	require.True(t, lc.stepUntil(600, func() bool {
		_, ok := lc.walking()
		return ok
	}), "first character never left the shuttle")
	first, _ := lc.walking()
	firstID := first.ID
	for i := 0; i < 300; i++ {
		lc.step(prediction.InputUp)
	}

	lc.client.Command(protocol.CommandKill, result.SessionID, "")
	require.True(t, lc.stepUntil(600, func() bool {
		c, ok := lc.walking()
		return ok && c.ID != firstID
	}), "second character never left the shuttle")
	second, _ := lc.walking()

	s, ok := tg.gm.registry.Get(result.SessionID)
	require.True(t, ok)
	require.Equal(t, s.CharacterID, second.ID)
	q := tg.gm.inputs[s.ID]
	watermark := q.LastApplied()
	assert.Greater(t, int(watermark), 300, "ids kept counting from the first character")

	c, ok := tg.gm.world.Character(second.ID)
	require.True(t, ok)
	start := c.State.Position
	for i := 0; i < 120; i++ {
		lc.step(prediction.InputUp)
	}

	assert.Greater(t, start.Sub(c.State.Position).Length(), 40.0, "server applied the new inputs")
	assert.True(t, netid.MoreRecent(q.LastApplied(), watermark))
	own, ok := lc.client.OwnState()
	require.True(t, ok)
	assert.InDelta(t, c.State.Position.X, own.Position.X, 2)
	assert.InDelta(t, c.State.Position.Y, own.Position.Y, 2)
}
