package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// MaxID is the largest session id. Id 0 is reserved for the server.
const MaxID = 255

// ErrRegistryFull is returned when no session id is free.
type ErrRegistryFull struct {
	Capacity int
}

func (e *ErrRegistryFull) Error() string {
	return fmt.Sprintf("server is full (%d sessions)", e.Capacity)
}

func IsRegistryFull(err error) bool {
	_, ok := err.(*ErrRegistryFull)
	return ok
}

// Lingering is the handle to an actor kept alive after its session disconnected.
type Lingering struct {
	Token       uuid.UUID
	UserID      string
	Name        string
	CharacterID uint16
	Expires     time.Time
}

// Registry owns all sessions. It is not safe for concurrent use; only the
// tick loop touches it.
type Registry struct {
	sessions    [MaxID + 1]*Session
	count       int
	maxSessions int
	gracePeriod time.Duration
	inputRate   rate.Limit
	inputBurst  int
	lingering   map[uuid.UUID]*Lingering
}

type NewRegistryOptions struct {
	MaxSessions int
	GracePeriod time.Duration
	InputRate   float64
	InputBurst  int
}

func NewRegistry(opts NewRegistryOptions) *Registry {
	if opts.MaxSessions <= 0 || opts.MaxSessions > MaxID {
		opts.MaxSessions = MaxID
	}
	inputRate := rate.Inf
	if opts.InputRate > 0 {
		inputRate = rate.Limit(opts.InputRate)
	}
	return &Registry{
		maxSessions: opts.MaxSessions,
		gracePeriod: opts.GracePeriod,
		inputRate:   inputRate,
		inputBurst:  opts.InputBurst,
		lingering:   make(map[uuid.UUID]*Lingering),
	}
}

type AddOptions struct {
	ConnectionID uint32
	Name         string
	UserID       string
	Permissions  Permissions
	Now          time.Time
}

// Add registers a new session under the smallest free id.
func (r *Registry) Add(opts AddOptions) (*Session, error) {
	if r.count >= r.maxSessions {
		return nil, &ErrRegistryFull{Capacity: r.maxSessions}
	}
	id := 0
	for i := 1; i <= MaxID; i++ {
		if r.sessions[i] == nil {
			id = i
			break
		}
	}
	if id == 0 {
		return nil, &ErrRegistryFull{Capacity: r.maxSessions}
	}

	s := &Session{
		ID:             byte(id),
		ConnectionID:   opts.ConnectionID,
		Name:           opts.Name,
		UserID:         opts.UserID,
		ReconnectToken: uuid.New(),
		Permissions:    opts.Permissions,
		JoinedAt:       opts.Now,
		LastActivity:   opts.Now,
		Limiter:        rate.NewLimiter(r.inputRate, r.inputBurst),
	}
	s.ResetSyncState()
	r.sessions[id] = s
	r.count++
	return s, nil
}

func (r *Registry) Get(id byte) (*Session, bool) {
	s := r.sessions[id]
	return s, s != nil
}

func (r *Registry) GetByConnection(connectionID uint32) (*Session, bool) {
	for _, s := range r.sessions {
		if s != nil && s.ConnectionID == connectionID {
			return s, true
		}
	}
	return nil, false
}

// All returns the sessions ordered by id. The slice is a copy so callers
// may remove sessions while iterating over it.
func (r *Registry) All() []*Session {
	all := make([]*Session, 0, r.count)
	for _, s := range r.sessions {
		if s != nil {
			all = append(all, s)
		}
	}
	return all
}

func (r *Registry) Count() int {
	return r.count
}

// Remove tears down the session's queues and frees its id. If the session
// controlled an actor, a lingering handle is registered so the actor can be
// kept for the grace period and reclaimed by the same user.
func (r *Registry) Remove(id byte, now time.Time) *Lingering {
	s := r.sessions[id]
	if s == nil {
		return nil
	}
	s.releaseQueues()
	r.sessions[id] = nil
	r.count--

	if s.CharacterID == 0 {
		return nil
	}
	l := &Lingering{
		Token:       s.ReconnectToken,
		UserID:      s.UserID,
		Name:        s.Name,
		CharacterID: s.CharacterID,
		Expires:     now.Add(r.gracePeriod),
	}
	r.lingering[l.Token] = l
	return l
}

// Reclaim returns and forgets the lingering actor for token if it belongs to userID.
func (r *Registry) Reclaim(token uuid.UUID, userID string) (*Lingering, bool) {
	l, ok := r.lingering[token]
	if !ok || l.UserID != userID {
		return nil, false
	}
	delete(r.lingering, token)
	return l, true
}

// ExpireLingering removes and returns every lingering actor whose grace
// period ended at or before now.
func (r *Registry) ExpireLingering(now time.Time) []*Lingering {
	var expired []*Lingering
	for token, l := range r.lingering {
		if !now.Before(l.Expires) {
			expired = append(expired, l)
			delete(r.lingering, token)
		}
	}
	return expired
}

// LingeringCount returns how many disconnected actors are being kept alive.
func (r *Registry) LingeringCount() int {
	return len(r.lingering)
}
