// Package game runs the authoritative tick loop. It owns every session and
// all synchronization state; network goroutines only reach it through the
// queue.
package game

import (
	"context"
	"fmt"
	"time"

	"github.com/cbodonnell/tether/pkg/config"
	"github.com/cbodonnell/tether/pkg/events"
	"github.com/cbodonnell/tether/pkg/game/protocol"
	"github.com/cbodonnell/tether/pkg/game/world"
	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/network"
	"github.com/cbodonnell/tether/pkg/packet"
	"github.com/cbodonnell/tether/pkg/prediction"
	"github.com/cbodonnell/tether/pkg/queue"
	"github.com/cbodonnell/tether/pkg/repositories/models"
	"github.com/cbodonnell/tether/pkg/respawn"
	"github.com/cbodonnell/tether/pkg/session"
	"github.com/cbodonnell/tether/pkg/snapshot"
	"github.com/cbodonnell/tether/pkg/state"
	"github.com/cbodonnell/tether/pkg/workers"
)

const (
	// SessionTimeout disconnects sessions that stopped sending datagrams.
	SessionTimeout = 30 * time.Second
	// VoteDuration is how long a vote stays open.
	VoteDuration = 30 * time.Second
)

// LatencySource reports round trip estimates per connection.
// *workers.LatencyProbeWorker implements it.
type LatencySource interface {
	RTT(connectionID uint32) (time.Duration, bool)
}

type GameManager struct {
	transport network.Transport
	queue     queue.Queue
	assembler *packet.Assembler
	latency   LatencySource
	status    state.StatusManager
	records   chan<- workers.RecordRequest

	registry *session.Registry
	events   *events.Manager
	stream   *snapshot.Stream
	quant    snapshot.Quantization
	world    *world.World
	respawn  *respawn.Manager
	// inputs holds the pending input frames of each session's actor.
	inputs map[byte]*prediction.InputQueue

	respawnEnabled    bool
	lastRespawnState  respawn.State
	admins            map[string]bool
	bans              map[string]*models.BanRecord
	vote              vote
	clientListVersion uint16

	tickRate     int
	tickInterval time.Duration
	sendEvery    uint64
	statusEvery  uint64
	tick         uint64
}

// NewGameManagerOptions contains options for creating a new GameManager.
type NewGameManagerOptions struct {
	Config    *config.Config
	Transport network.Transport
	// Queue delivers network.LoginRequest, network.ConnectionClosed and
	// network.Datagram items.
	Queue     queue.Queue
	Assembler *packet.Assembler
	// Latency may be nil, RTT then stays at zero.
	Latency       LatencySource
	StatusManager state.StatusManager
	// RecordChan may be nil to drop records.
	RecordChan chan<- workers.RecordRequest
	// Admins are user ids granted every permission.
	Admins []string
	// Bans are loaded at startup; bans issued in game are added.
	Bans []*models.BanRecord
}

func NewGameManager(opts NewGameManagerOptions) (*GameManager, error) {
	cfg := opts.Config
	gm := &GameManager{
		transport: opts.Transport,
		queue:     opts.Queue,
		assembler: opts.Assembler,
		latency:   opts.Latency,
		status:    opts.StatusManager,
		records:   opts.RecordChan,
		registry: session.NewRegistry(session.NewRegistryOptions{
			MaxSessions: cfg.Server.MaxSessions,
			GracePeriod: cfg.Server.GracePeriod,
			InputRate:   cfg.Server.InputRate,
			InputBurst:  cfg.Server.InputBurst,
		}),
		events: events.NewManager(events.NewManagerOptions{
			HistoryCapacity:      cfg.Events.HistoryCapacity,
			PayloadBudgetBits:    opts.Assembler.PayloadBudgetBits(),
			ReservedBits:         protocol.ServerSyncIDsBits,
			MinResendInterval:    cfg.Events.MinResendInterval,
			MidRoundSyncBase:     cfg.Events.MidRoundSyncBase,
			MidRoundSyncPerEvent: cfg.Events.MidRoundSyncPerEvt,
		}),
		stream: snapshot.NewStream(snapshot.NewStreamOptions{
			NearInterval:   cfg.Snapshot.NearInterval,
			FarInterval:    cfg.Snapshot.FarInterval,
			NearDistance:   cfg.Snapshot.NearDistance,
			FarDistance:    cfg.Snapshot.FarDistance,
			CutoffDistance: cfg.Snapshot.CutoffDistance,
		}),
		quant: snapshot.Quantization{
			PositionRange:      cfg.Snapshot.PositionRange,
			MaxVelocity:        cfg.Snapshot.MaxVelocity,
			MaxAngularVelocity: snapshot.DefaultQuantization.MaxAngularVelocity,
		},
		inputs:         make(map[byte]*prediction.InputQueue),
		respawnEnabled: cfg.Respawn.Enabled,
		admins:         make(map[string]bool),
		bans:           make(map[string]*models.BanRecord),
		tickRate:       cfg.Server.TickRate,
		tickInterval:   cfg.TickInterval(),
		sendEvery:      uint64(cfg.Server.TickRate / cfg.Server.SendRate),
		statusEvery:    uint64(cfg.Server.TickRate),
	}
	if gm.sendEvery == 0 {
		gm.sendEvery = 1
	}
	for _, id := range opts.Admins {
		gm.admins[id] = true
	}
	for _, b := range opts.Bans {
		gm.bans[b.UserID] = b
	}

	w, err := world.New(world.NewWorldOptions{Sink: gm.events, ShuttleSpeed: cfg.Respawn.ShuttleSpeed})
	if err != nil {
		return nil, fmt.Errorf("failed to create world: %v", err)
	}
	gm.world = w
	gm.respawn = respawn.NewManager(respawn.NewManagerOptions{
		EntityID:      world.RespawnID,
		Sink:          gm.events,
		Shuttle:       &shuttle{gm: gm},
		Ratio:         cfg.Respawn.Ratio,
		Countdown:     cfg.Respawn.Countdown,
		MaxTransport:  cfg.Respawn.MaxTransport,
		ReturnTimeout: cfg.Respawn.ReturnTimeout,
		Slots:         world.ShuttleSlots,
	})
	gm.lastRespawnState = gm.respawn.State()

	return gm, nil
}

// Start runs the game loop until ctx is cancelled.
func (gm *GameManager) Start(ctx context.Context) error {
	log.Info("Game loop running at %d Hz, sending every %d ticks", gm.tickRate, gm.sendEvery)
	ticker := time.NewTicker(gm.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			gm.Stop(time.Now())
			return nil
		case t := <-ticker.C:
			if err := gm.gameTick(ctx, t); err != nil {
				log.Error("Failed to run game tick: %v", err)
			}
		}
	}
}

// Stop disconnects every session.
func (gm *GameManager) Stop(now time.Time) {
	for _, s := range gm.registry.All() {
		gm.disconnectSession(s, "server shutting down", now)
	}
}

// gameTick runs one iteration of the game loop.
func (gm *GameManager) gameTick(ctx context.Context, now time.Time) error {
	gm.tick++
	dt := gm.tickInterval.Seconds()

	gm.processQueue(now)
	gm.applyInputs(dt)
	if err := gm.world.Advance(dt); err != nil {
		return fmt.Errorf("failed to advance world: %v", err)
	}
	if gm.respawnEnabled {
		if err := gm.respawn.Update(now, gm.participants()); err != nil {
			return fmt.Errorf("failed to update respawn: %v", err)
		}
		gm.recordRespawnState(now)
	}
	gm.expireVote(now)
	gm.expireLingering(now)
	gm.enforceTimeouts(now)
	gm.refreshLatency()

	if (gm.tick-1)%gm.sendEvery == 0 {
		gm.sendUpdates(now)
	}
	for _, s := range gm.events.Trim(gm.registry.All()) {
		log.Warn("Session %d is holding back the event history", s.ID)
		gm.disconnectSession(s, "event history overflow", now)
	}
	if gm.status != nil && (gm.tick-1)%gm.statusEvery == 0 {
		if err := gm.status.Set(ctx, gm.buildStatus(now)); err != nil {
			log.Error("Failed to publish status: %v", err)
		}
	}
	return nil
}

// processQueue handles every item the network enqueued since the last tick.
func (gm *GameManager) processQueue(now time.Time) {
	items, err := gm.queue.ReadAllMessages()
	if err != nil {
		log.Error("Failed to read queued items: %v", err)
		return
	}
	for _, item := range items {
		switch it := item.(type) {
		case *network.LoginRequest:
			gm.handleLogin(it, now)
		case *network.ConnectionClosed:
			if s, ok := gm.registry.GetByConnection(it.ConnectionID); ok {
				gm.disconnectSession(s, "connection closed", now)
			}
		case *network.Datagram:
			gm.handleDatagram(it, now)
		default:
			log.Error("Unhandled queue item type: %T", item)
		}
	}
}

// applyInputs moves every actor by at most one queued input frame.
func (gm *GameManager) applyInputs(dt float64) {
	for _, s := range gm.registry.All() {
		if s.CharacterID == 0 {
			continue
		}
		q, ok := gm.inputs[s.ID]
		if !ok {
			continue
		}
		frame, ok := q.Next()
		if !ok {
			continue
		}
		gm.world.ApplyInput(s.CharacterID, frame, dt)
	}
}

// participants describes the sessions to the respawn coordinator. A
// session whose character is gone counts as having none.
func (gm *GameManager) participants() []respawn.Participant {
	all := gm.registry.All()
	out := make([]respawn.Participant, 0, len(all))
	for _, s := range all {
		if s.CharacterID != 0 {
			if _, ok := gm.world.Character(s.CharacterID); !ok {
				s.CharacterID = 0
			}
		}
		out = append(out, respawn.Participant{
			SessionID:   s.ID,
			CharacterID: s.CharacterID,
			Alive:       gm.world.Alive(s.CharacterID),
		})
	}
	return out
}

func (gm *GameManager) recordRespawnState(now time.Time) {
	current := gm.respawn.State()
	if current == gm.lastRespawnState {
		return
	}
	gm.lastRespawnState = current
	gm.record(workers.RecordRequest{Respawn: &models.RespawnRecord{
		State: current.String(),
		Crew:  len(gm.respawn.Crew()),
		At:    now,
	}})
}

func (gm *GameManager) expireLingering(now time.Time) {
	for _, l := range gm.registry.ExpireLingering(now) {
		gm.removeLingering(l)
	}
}

func (gm *GameManager) removeLingering(l *session.Lingering) {
	if _, ok := gm.world.Character(l.CharacterID); !ok {
		return
	}
	if err := gm.world.Despawn(l.CharacterID); err != nil {
		log.Error("Failed to despawn character %d of %s: %v", l.CharacterID, l.Name, err)
		return
	}
	log.Debug("Grace period of %s ended, character %d removed", l.Name, l.CharacterID)
	gm.clientListVersion++
}

// enforceTimeouts drops sessions that stalled during mid-round sync or
// stopped sending altogether.
func (gm *GameManager) enforceTimeouts(now time.Time) {
	for _, s := range gm.registry.All() {
		switch {
		case gm.events.MidRoundSyncTimedOut(s, now):
			gm.disconnectSession(s, "mid-round sync timed out", now)
		case now.Sub(s.LastActivity) > SessionTimeout:
			gm.disconnectSession(s, "timed out", now)
		}
	}
}

func (gm *GameManager) refreshLatency() {
	if gm.latency == nil {
		return
	}
	for _, s := range gm.registry.All() {
		if rtt, ok := gm.latency.RTT(s.ConnectionID); ok {
			s.RTT = rtt
		}
	}
}

// record hands a record to the record worker without ever blocking the tick.
func (gm *GameManager) record(req workers.RecordRequest) {
	if gm.records == nil {
		return
	}
	select {
	case gm.records <- req:
	default:
		log.Warn("Record channel full, dropping record")
	}
}

func (gm *GameManager) buildStatus(now time.Time) *state.Status {
	st := &state.Status{
		Timestamp:    now,
		Tick:         gm.tick,
		SimTime:      gm.world.Time(),
		Lingering:    gm.registry.LingeringCount(),
		EventHistory: gm.events.Len(),
		LastEventID:  gm.events.LastID(),
		RespawnState: gm.respawn.State().String(),
	}
	for _, s := range gm.registry.All() {
		st.Sessions = append(st.Sessions, state.SessionStatus{
			SessionID:   s.ID,
			Name:        s.Name,
			UserID:      s.UserID,
			CharacterID: s.CharacterID,
			Alive:       gm.world.Alive(s.CharacterID),
			InGame:      s.InGame,
			Syncing:     s.NeedsMidRoundSync,
			RTT:         s.RTT,
			Unacked:     gm.unacked(s),
			JoinedAt:    s.JoinedAt,
		})
	}
	if gm.vote.active {
		t := gm.tally()
		st.Vote = &state.VoteStatus{
			Kind:     t.Kind.String(),
			Target:   t.Target,
			Yes:      int(t.Yes),
			No:       int(t.No),
			Required: int(t.Required),
		}
	}
	return st
}

func (gm *GameManager) unacked(s *session.Session) uint16 {
	if s.NeedsMidRoundSync {
		return s.UnreceivedEntityEventCount - (s.LastRecvEntityEventID + 1)
	}
	return gm.events.LastID() - s.LastRecvEntityEventID
}
