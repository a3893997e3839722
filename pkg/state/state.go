package state

import (
	"context"
	"time"
)

// SessionStatus is the public view of one connected session.
type SessionStatus struct {
	SessionID   byte          `json:"session_id"`
	Name        string        `json:"name"`
	UserID      string        `json:"user_id"`
	CharacterID uint16        `json:"character_id"`
	Alive       bool          `json:"alive"`
	InGame      bool          `json:"in_game"`
	Syncing     bool          `json:"syncing"`
	RTT         time.Duration `json:"rtt"`
	// Unacked is how many events the session has not yet acknowledged.
	Unacked  uint16    `json:"unacked"`
	JoinedAt time.Time `json:"joined_at"`
}

type VoteStatus struct {
	Kind     string `json:"kind"`
	Target   byte   `json:"target"`
	Yes      int    `json:"yes"`
	No       int    `json:"no"`
	Required int    `json:"required"`
}

// Status is a periodic summary of the game loop, published for the API.
type Status struct {
	Timestamp    time.Time       `json:"timestamp"`
	Tick         uint64          `json:"tick"`
	SimTime      float64         `json:"sim_time"`
	Sessions     []SessionStatus `json:"sessions"`
	Lingering    int             `json:"lingering"`
	EventHistory int             `json:"event_history"`
	LastEventID  uint16          `json:"last_event_id"`
	RespawnState string          `json:"respawn_state"`
	Vote         *VoteStatus     `json:"vote,omitempty"`
}

// StatusManager provides shared access to the latest status.
// Implementations must be thread-safe.
type StatusManager interface {
	// Get returns a copy of the latest status.
	Get(ctx context.Context) (*Status, error)
	// Set replaces the latest status.
	Set(ctx context.Context, status *Status) error
}
