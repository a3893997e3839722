// Package packet budgets, batches and compresses game datagrams.
//
// A datagram is laid out as
//
//	[1 byte header tag][1 byte compression flag][payload]
//
// where the payload is a list of tagged sub-messages terminated by an
// end-of-message byte. When compression is applied the payload is zstd
// compressed and the flag byte is 1.
package packet

import (
	"fmt"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/messages"
	"github.com/klauspost/compress/zstd"
)

const (
	// HeaderSize is the tag byte plus the compression flag byte.
	HeaderSize = 2

	flagUncompressed byte = 0
	flagCompressed   byte = 1

	endOfMessageBits = messages.NetObjectBits
)

// ErrCapacityExceeded is returned when a segment that must be sent cannot fit
// even in an empty datagram. It indicates a structural problem such as an
// oversized event payload, not a network condition.
type ErrCapacityExceeded struct {
	Identity   string
	SizeBits   int
	BudgetBits int
}

func (e *ErrCapacityExceeded) Error() string {
	return fmt.Sprintf("%s needs %d bits but an empty datagram only holds %d", e.Identity, e.SizeBits, e.BudgetBits)
}

func IsCapacityExceeded(err error) bool {
	_, ok := err.(*ErrCapacityExceeded)
	return ok
}

// Assembler creates datagram builders for a fixed maximum transmission size.
type Assembler struct {
	mtu                  int
	compressionThreshold int
	maxDatagrams         int
	encoder              *zstd.Encoder
	decoder              *zstd.Decoder
}

type NewAssemblerOptions struct {
	// MTU is the largest datagram in bytes, header included.
	MTU int
	// CompressionThreshold is the payload size in bytes above which compression is attempted.
	CompressionThreshold int
	// MaxDatagrams caps how many datagrams one Batch may produce.
	MaxDatagrams int
}

func NewAssembler(opts NewAssemblerOptions) (*Assembler, error) {
	if opts.MTU <= HeaderSize+1 {
		return nil, fmt.Errorf("mtu %d leaves no room for a payload", opts.MTU)
	}
	if opts.MaxDatagrams < 1 {
		opts.MaxDatagrams = 1
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %v", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(uint64(messages.UDPMessageBufferSize*64)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %v", err)
	}
	return &Assembler{
		mtu:                  opts.MTU,
		compressionThreshold: opts.CompressionThreshold,
		maxDatagrams:         opts.MaxDatagrams,
		encoder:              encoder,
		decoder:              decoder,
	}, nil
}

// MTU returns the configured maximum datagram size.
func (a *Assembler) MTU() int {
	return a.mtu
}

// PayloadBudgetBits is the number of payload bits available to sub-messages
// in one datagram, with room kept for the end-of-message sentinel.
func (a *Assembler) PayloadBudgetBits() int {
	return (a.mtu-HeaderSize)*8 - endOfMessageBits
}

// Begin starts a single datagram.
func (a *Assembler) Begin(tag messages.PacketHeader) *Builder {
	return &Builder{
		assembler: a,
		tag:       tag,
		w:         bitstream.NewWriter(),
		budget:    a.PayloadBudgetBits(),
	}
}

// Builder accumulates whole sub-messages for one datagram.
type Builder struct {
	assembler *Assembler
	tag       messages.PacketHeader
	w         *bitstream.Writer
	budget    int
	segments  int
}

// Remaining returns the payload bits still available.
func (b *Builder) Remaining() int {
	return b.budget - b.w.LengthBits()
}

// Segments returns how many segments have been appended.
func (b *Builder) Segments() int {
	return b.segments
}

// Empty reports whether nothing has been appended.
func (b *Builder) Empty() bool {
	return b.w.LengthBits() == 0
}

// Fits reports whether a segment of sizeBits would fit.
func (b *Builder) Fits(sizeBits int) bool {
	return sizeBits <= b.Remaining()
}

// TryAppend appends seg if it fits and reports whether it did. Segments are
// never split across datagrams.
func (b *Builder) TryAppend(seg *bitstream.Writer) bool {
	if !b.Fits(seg.LengthBits()) {
		return false
	}
	b.w.Append(seg)
	b.segments++
	return true
}

// Require appends seg or, if it cannot fit even an empty datagram, returns
// ErrCapacityExceeded naming identity. A false result with a nil error means
// the segment fits a fresh datagram but not this one.
func (b *Builder) Require(seg *bitstream.Writer, identity string) (bool, error) {
	if seg.LengthBits() > b.budget {
		return false, &ErrCapacityExceeded{Identity: identity, SizeBits: seg.LengthBits(), BudgetBits: b.budget}
	}
	return b.TryAppend(seg), nil
}

// Finish terminates the sub-message list and encodes the datagram.
func (b *Builder) Finish() []byte {
	b.w.WriteUInt8(uint8(messages.ServerEndOfMessage))
	b.w.WritePadBits()
	payload := b.w.Bytes()

	flag := flagUncompressed
	if b.assembler.compressionThreshold > 0 && len(payload) > b.assembler.compressionThreshold {
		compressed := b.assembler.encoder.EncodeAll(payload, make([]byte, 0, len(payload)))
		if len(compressed) < len(payload) {
			payload = compressed
			flag = flagCompressed
		}
	}

	datagram := make([]byte, 0, HeaderSize+len(payload))
	datagram = append(datagram, byte(b.tag), flag)
	return append(datagram, payload...)
}

// Open decodes a datagram produced by Finish and returns its header tag and
// a reader positioned at the first sub-message.
func (a *Assembler) Open(datagram []byte) (messages.PacketHeader, *bitstream.Reader, error) {
	if len(datagram) < HeaderSize {
		return 0, nil, messages.NewProtocolViolation("datagram of %d bytes has no header", len(datagram))
	}
	tag := messages.PacketHeader(datagram[0])
	payload := datagram[HeaderSize:]
	switch datagram[1] {
	case flagUncompressed:
	case flagCompressed:
		decoded, err := a.decoder.DecodeAll(payload, nil)
		if err != nil {
			return 0, nil, messages.NewProtocolViolation("failed to decompress datagram: %v", err)
		}
		payload = decoded
	default:
		return 0, nil, messages.NewProtocolViolation("unknown compression flag %d", datagram[1])
	}
	return tag, bitstream.NewReader(payload), nil
}

// Batch spreads segments across up to MaxDatagrams datagrams, repeating a
// header writer at the start of each one.
type Batch struct {
	assembler *Assembler
	tag       messages.PacketHeader
	header    func(w *bitstream.Writer)
	builders  []*Builder
}

// NewBatch starts a batch. header may be nil.
func (a *Assembler) NewBatch(tag messages.PacketHeader, header func(w *bitstream.Writer)) *Batch {
	batch := &Batch{
		assembler: a,
		tag:       tag,
		header:    header,
	}
	batch.next()
	return batch
}

func (bt *Batch) next() bool {
	if len(bt.builders) >= bt.assembler.maxDatagrams {
		return false
	}
	b := bt.assembler.Begin(bt.tag)
	if bt.header != nil {
		seg := bitstream.NewWriter()
		bt.header(seg)
		b.TryAppend(seg)
	}
	bt.builders = append(bt.builders, b)
	return true
}

func (bt *Batch) current() *Builder {
	return bt.builders[len(bt.builders)-1]
}

// Remaining returns the bits left in the current datagram.
func (bt *Batch) Remaining() int {
	return bt.current().Remaining()
}

// Append places seg in the current datagram, opening another one when it
// does not fit. It returns false when the batch has no datagrams left, and
// ErrCapacityExceeded when seg could never fit.
func (bt *Batch) Append(seg *bitstream.Writer, identity string) (bool, error) {
	ok, err := bt.current().Require(seg, identity)
	if err != nil || ok {
		return ok, err
	}
	if !bt.next() {
		return false, nil
	}
	ok, err = bt.current().Require(seg, identity)
	if err == nil && !ok {
		// the header alone leaves too little room
		return false, &ErrCapacityExceeded{Identity: identity, SizeBits: seg.LengthBits(), BudgetBits: bt.current().Remaining()}
	}
	return ok, err
}

// Finish encodes every datagram that holds more than the header.
func (bt *Batch) Finish() [][]byte {
	headerSegments := 0
	if bt.header != nil {
		headerSegments = 1
	}
	datagrams := make([][]byte, 0, len(bt.builders))
	for i, b := range bt.builders {
		if i > 0 && b.Segments() <= headerSegments {
			continue
		}
		datagrams = append(datagrams, b.Finish())
	}
	return datagrams
}
