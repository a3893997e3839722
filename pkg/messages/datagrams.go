package messages

import "github.com/cbodonnell/tether/pkg/bitstream"

// Hello binds the sender's UDP address to a logged in connection.
type Hello struct {
	ConnectionID uint32
	// Token is the reconnect token handed out in the login result.
	Token string
}

func WriteHello(w *bitstream.Writer, h Hello) {
	w.WriteUInt32(h.ConnectionID)
	w.WriteString(h.Token)
}

func ReadHello(r *bitstream.Reader) Hello {
	return Hello{
		ConnectionID: r.ReadUInt32(),
		Token:        r.ReadString(),
	}
}

// Ping is sent by the server and echoed back by the client as a pong.
type Ping struct {
	Sequence uint32
}

func WritePing(w *bitstream.Writer, p Ping) {
	w.WriteUInt32(p.Sequence)
}

func ReadPing(r *bitstream.Reader) Ping {
	return Ping{Sequence: r.ReadUInt32()}
}
