package network

import "time"

// LoginRequest is enqueued once a login token has been verified. The game
// loop answers it with Approve or Deny.
type LoginRequest struct {
	ConnectionID   uint32
	Name           string
	UserID         string
	ReconnectToken string
	// Admin is granted by the auth provider.
	Admin bool
}

// ConnectionClosed is enqueued when a reliable stream ends, whichever side
// closed it.
type ConnectionClosed struct {
	ConnectionID uint32
}

// Datagram is a ClientUpdate datagram from a logged in connection.
type Datagram struct {
	ConnectionID uint32
	Data         []byte
	ReceivedAt   time.Time
}
