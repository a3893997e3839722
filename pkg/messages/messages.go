package messages

import "fmt"

const (
	// MessageBufferSize is the largest control message accepted on a reliable stream.
	MessageBufferSize = 64 * 1024
	// UDPMessageBufferSize is the read buffer for a single datagram.
	UDPMessageBufferSize = 2048
)

// MessageType identifies a control message carried over the reliable stream.
type MessageType byte

const (
	MessageTypeClientLogin MessageType = iota + 1
	MessageTypeServerLoginSuccess
	MessageTypeServerLoginFailure
	MessageTypeServerDisconnect
	MessageTypeClientSyncTime
	MessageTypeServerSyncTime
	// MessageTypeDatagram tunnels a game datagram over a websocket connection.
	MessageTypeDatagram
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeClientLogin:
		return "ClientLogin"
	case MessageTypeServerLoginSuccess:
		return "ServerLoginSuccess"
	case MessageTypeServerLoginFailure:
		return "ServerLoginFailure"
	case MessageTypeServerDisconnect:
		return "ServerDisconnect"
	case MessageTypeClientSyncTime:
		return "ClientSyncTime"
	case MessageTypeServerSyncTime:
		return "ServerSyncTime"
	case MessageTypeDatagram:
		return "Datagram"
	default:
		return fmt.Sprintf("MessageType(%d)", byte(t))
	}
}

// Message is the reliable control envelope.
type Message struct {
	// ConnectionID is 0 for messages from the server and before login.
	ConnectionID uint32
	Type         MessageType
	Payload      []byte
}

type ClientLogin struct {
	Name  string
	Token string
	// ReconnectToken is set when reclaiming an actor kept alive after a disconnect.
	ReconnectToken string
}

type ServerLoginResult struct {
	Accepted       bool
	Reason         string
	ConnectionID   uint32
	SessionID      byte
	ReconnectToken string
	TickRate       uint16
	MidRound       bool
}

type TimeSync struct {
	Timestamp       int64
	ClientTimestamp int64
}

type ServerDisconnect struct {
	Reason string
}

// ErrProtocolViolation marks input from a peer that cannot be decoded or is
// not permitted. The offending session is disconnected.
type ErrProtocolViolation struct {
	Reason string
}

func (e *ErrProtocolViolation) Error() string {
	return "protocol violation: " + e.Reason
}

func NewProtocolViolation(format string, args ...interface{}) error {
	return &ErrProtocolViolation{Reason: fmt.Sprintf(format, args...)}
}

func IsProtocolViolation(err error) bool {
	_, ok := err.(*ErrProtocolViolation)
	return ok
}
