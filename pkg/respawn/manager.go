package respawn

import (
	"fmt"
	"sort"
	"time"

	"github.com/cbodonnell/tether/pkg/events"
	"github.com/cbodonnell/tether/pkg/log"
)

// EventSink records entity events. *events.Manager implements it.
type EventSink interface {
	CreateEvent(entityID uint16, t events.EventType, payload []byte) (*events.NetworkEvent, error)
}

// Shuttle performs the side effects of each transition.
type Shuttle interface {
	// Dispatch spawns a character per assignment inside the shuttle, sends
	// the shuttle off and returns the new character ids in order.
	Dispatch(assignments []Assignment) ([]uint16, error)
	// Aboard reports whether a character is inside the shuttle.
	Aboard(characterID uint16) bool
	Alive(characterID uint16) bool
	// Recall starts the flight back to the return position.
	Recall()
	// Home reports whether the shuttle is at its return position.
	Home() bool
	// Reset parks the shuttle at its return position.
	Reset()
}

// Participant is a session as seen by the coordinator.
type Participant struct {
	SessionID   byte
	CharacterID uint16
	Alive       bool
}

func (p Participant) eligible() bool {
	return p.CharacterID == 0 || !p.Alive
}

// Manager is the server side state machine. Each wait is a deadline
// checked on Update.
type Manager struct {
	entityID uint16
	sink     EventSink
	shuttle  Shuttle

	ratio         float64
	countdown     time.Duration
	maxTransport  time.Duration
	returnTimeout time.Duration
	slots         int

	state             State
	countdownActive   bool
	countdownDeadline time.Time
	stateDeadline     time.Time
	crew              []uint16
}

type NewManagerOptions struct {
	// EntityID is the entity the coordinator's events are attached to.
	EntityID      uint16
	Sink          EventSink
	Shuttle       Shuttle
	Ratio         float64
	Countdown     time.Duration
	MaxTransport  time.Duration
	ReturnTimeout time.Duration
	// Slots is the number of seats in the shuttle.
	Slots int
}

func NewManager(opts NewManagerOptions) *Manager {
	if opts.Slots <= 0 {
		opts.Slots = 1
	}
	return &Manager{
		entityID:      opts.EntityID,
		sink:          opts.Sink,
		shuttle:       opts.Shuttle,
		ratio:         opts.Ratio,
		countdown:     opts.Countdown,
		maxTransport:  opts.MaxTransport,
		returnTimeout: opts.ReturnTimeout,
		slots:         opts.Slots,
		state:         Waiting,
	}
}

func (m *Manager) State() State {
	return m.state
}

// CountdownActive reports whether a transport has been scheduled.
func (m *Manager) CountdownActive() bool {
	return m.countdownActive
}

// Crew returns the characters spawned by the current transport.
func (m *Manager) Crew() []uint16 {
	return m.crew
}

// Update advances the state machine.
func (m *Manager) Update(now time.Time, participants []Participant) error {
	switch m.state {
	case Waiting:
		return m.updateWaiting(now, participants)
	case Transporting:
		return m.updateTransporting(now)
	case Returning:
		return m.updateReturning(now)
	default:
		return fmt.Errorf("unknown respawn state %d", m.state)
	}
}

func eligibleOf(participants []Participant) []Participant {
	var out []Participant
	for _, p := range participants {
		if p.eligible() {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) updateWaiting(now time.Time, participants []Participant) error {
	eligible := eligibleOf(participants)
	ready := len(eligible) > 0 && len(eligible) >= RequiredEligible(len(participants), m.ratio)

	if !m.countdownActive {
		if !ready {
			return nil
		}
		if err := m.emit(EventCountdown, Countdown{Active: true, Remaining: m.countdown}.Encode()); err != nil {
			return err
		}
		m.countdownActive = true
		m.countdownDeadline = now.Add(m.countdown)
		log.Info("Respawn countdown started: %d of %d sessions waiting", len(eligible), len(participants))
		return nil
	}

	if !ready {
		if err := m.emit(EventCountdown, Countdown{}.Encode()); err != nil {
			return err
		}
		m.countdownActive = false
		log.Info("Respawn countdown cancelled")
		return nil
	}
	if now.Before(m.countdownDeadline) {
		return nil
	}
	return m.startTransport(now, eligible)
}

// Trigger starts a transport at once for every eligible participant,
// skipping the ratio and the countdown. It does nothing unless Waiting.
func (m *Manager) Trigger(now time.Time, participants []Participant) error {
	if m.state != Waiting {
		return nil
	}
	eligible := eligibleOf(participants)
	if len(eligible) == 0 {
		return nil
	}
	return m.startTransport(now, eligible)
}

func (m *Manager) startTransport(now time.Time, eligible []Participant) error {
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].SessionID < eligible[j].SessionID })
	if len(eligible) > MaxAssignments {
		eligible = eligible[:MaxAssignments]
	}
	assignments := make([]Assignment, len(eligible))
	for i, p := range eligible {
		assignments[i] = Assignment{SessionID: p.SessionID, Slot: byte(i % m.slots)}
	}

	if m.countdownActive {
		if err := m.emit(EventCountdown, Countdown{}.Encode()); err != nil {
			return err
		}
		m.countdownActive = false
	}
	change := StateChange{State: Transporting, Assignments: assignments, TransportTime: m.maxTransport}
	if err := m.emit(EventState, change.Encode()); err != nil {
		return err
	}
	m.state = Transporting
	m.stateDeadline = now.Add(m.maxTransport)

	crew, err := m.shuttle.Dispatch(assignments)
	if err != nil {
		log.Error("Failed to dispatch respawn shuttle: %v", err)
	}
	m.crew = crew
	log.Info("Respawn shuttle dispatched with %d characters", len(crew))
	return nil
}

func (m *Manager) updateTransporting(now time.Time) error {
	aboard := 0
	for _, id := range m.crew {
		if m.shuttle.Alive(id) && m.shuttle.Aboard(id) {
			aboard++
		}
	}
	if aboard > 0 && now.Before(m.stateDeadline) {
		return nil
	}

	change := StateChange{State: Returning, ReturnTime: m.returnTimeout}
	if err := m.emit(EventState, change.Encode()); err != nil {
		return err
	}
	m.state = Returning
	m.stateDeadline = now.Add(m.returnTimeout)
	m.crew = nil
	m.shuttle.Recall()
	log.Info("Respawn shuttle returning")
	return nil
}

func (m *Manager) updateReturning(now time.Time) error {
	if !m.shuttle.Home() && now.Before(m.stateDeadline) {
		return nil
	}
	if err := m.emit(EventState, StateChange{State: Waiting}.Encode()); err != nil {
		return err
	}
	m.state = Waiting
	m.shuttle.Reset()
	log.Info("Respawn shuttle back in position")
	return nil
}

func (m *Manager) emit(t events.EventType, payload []byte) error {
	if _, err := m.sink.CreateEvent(m.entityID, t, payload); err != nil {
		return fmt.Errorf("failed to create respawn event: %v", err)
	}
	return nil
}
