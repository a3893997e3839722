package models

import "time"

// SessionRecord is written when a session leaves.
type SessionRecord struct {
	SessionID byte      `json:"session_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	JoinedAt  time.Time `json:"joined_at"`
	LeftAt    time.Time `json:"left_at"`
	Reason    string    `json:"reason"`
}

// DesyncRecord is a desync report received from a client.
type DesyncRecord struct {
	SessionID   byte      `json:"session_id"`
	UserID      string    `json:"user_id"`
	Kind        string    `json:"kind"`
	Expected    uint16    `json:"expected"`
	Received    uint16    `json:"received"`
	EntityID    uint16    `json:"entity_id"`
	HasChecksum bool      `json:"has_checksum"`
	Checksum    uint32    `json:"checksum"`
	// Fatal is set when the report disconnected the session.
	Fatal      bool      `json:"fatal"`
	ReportedAt time.Time `json:"reported_at"`
}

// RespawnRecord is one respawn state transition.
type RespawnRecord struct {
	State string    `json:"state"`
	Crew  int       `json:"crew"`
	At    time.Time `json:"at"`
}

type BanRecord struct {
	UserID   string    `json:"user_id"`
	Reason   string    `json:"reason"`
	BannedBy string    `json:"banned_by"`
	At       time.Time `json:"at"`
}
