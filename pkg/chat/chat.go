// Package chat relays text messages with the same id-gated delivery used by
// entity events: every outgoing message is resent until the receiver
// acknowledges an id at least as recent as its own.
package chat

import (
	"unicode/utf8"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/netid"
)

const (
	// MaxLength is the longest message text in runes; longer text is truncated.
	MaxLength = 200
	// MaxQueued is the number of unacknowledged messages kept per receiver.
	MaxQueued = 64
)

type MessageType byte

const (
	MessageTypeDefault MessageType = iota
	MessageTypeServer
	MessageTypeDead
	MessageTypeError
)

type Message struct {
	ID         uint16
	Type       MessageType
	SenderID   byte
	SenderName string
	Text       string
}

// Truncate limits text to MaxLength runes.
func Truncate(text string) string {
	if utf8.RuneCountInString(text) <= MaxLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxLength])
}

func Write(w *bitstream.Writer, m Message) {
	w.WriteUInt16(m.ID)
	w.WriteRangedInteger(int(m.Type), 0, int(MessageTypeError))
	w.WriteUInt8(m.SenderID)
	w.WriteString(m.SenderName)
	w.WriteString(m.Text)
}

func Read(r *bitstream.Reader) Message {
	return Message{
		ID:         r.ReadUInt16(),
		Type:       MessageType(r.ReadRangedInteger(0, int(MessageTypeError))),
		SenderID:   r.ReadUInt8(),
		SenderName: r.ReadString(),
		Text:       Truncate(r.ReadString()),
	}
}

// Outbox holds messages queued for one receiver until they are acknowledged.
type Outbox struct {
	lastID uint16
	queue  []Message
}

// Push assigns the next id to m and queues it. When the queue is full the
// oldest message is dropped.
func (o *Outbox) Push(m Message) Message {
	o.lastID++
	m.ID = o.lastID
	m.Text = Truncate(m.Text)
	o.queue = append(o.queue, m)
	if len(o.queue) > MaxQueued {
		o.queue = o.queue[len(o.queue)-MaxQueued:]
	}
	return m
}

// Ack drops every queued message whose id is not more recent than id.
func (o *Outbox) Ack(id uint16) {
	i := 0
	for i < len(o.queue) && !netid.MoreRecent(o.queue[i].ID, id) {
		i++
	}
	o.queue = o.queue[i:]
}

// Pending returns the unacknowledged messages, oldest first.
func (o *Outbox) Pending() []Message {
	return o.queue
}

// LastID returns the id of the most recently queued message.
func (o *Outbox) LastID() uint16 {
	return o.lastID
}

func (o *Outbox) Reset() {
	o.lastID = 0
	o.queue = nil
}

// Inbox tracks the most recent message id received from one sender.
type Inbox struct {
	LastRecv uint16
}

// Accept reports whether m is new and advances the watermark if so.
func (in *Inbox) Accept(m Message) bool {
	if !netid.MoreRecent(m.ID, in.LastRecv) {
		return false
	}
	in.LastRecv = m.ID
	return true
}
