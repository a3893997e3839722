package messages

// PacketHeader is the first byte of every game datagram.
type PacketHeader byte

const (
	ClientHello PacketHeader = iota + 1
	ClientUpdate
	ClientPong
	ServerUpdate
	ServerPing
)

func (h PacketHeader) String() string {
	switch h {
	case ClientHello:
		return "ClientHello"
	case ClientUpdate:
		return "ClientUpdate"
	case ClientPong:
		return "ClientPong"
	case ServerUpdate:
		return "ServerUpdate"
	case ServerPing:
		return "ServerPing"
	default:
		return "Unknown"
	}
}

// ServerNetObject tags the sub-messages of a ServerUpdate datagram.
// The list ends with ServerEndOfMessage; a zero byte of padding therefore
// also terminates it.
type ServerNetObject byte

const (
	ServerEndOfMessage ServerNetObject = iota
	ServerSyncIDs
	ServerEntityEvent
	ServerEntityEventInitial
	ServerEntityPosition
	ServerChatMessage
	ServerVote
	ServerClientList
)

// ClientNetObject tags the sub-messages of a ClientUpdate datagram.
type ClientNetObject byte

const (
	ClientEndOfMessage ClientNetObject = iota
	ClientSyncIDs
	ClientInput
	ClientChatMessage
	ClientVote
	ClientDesync
	ClientCommand
)

// NetObjectBits is the width of a sub-message tag.
const NetObjectBits = 8
