// Package prediction lets a client move its own actor without waiting for
// the server, and smooths the motion of everyone else.
package prediction

import (
	"fmt"
	"math"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/netid"
)

// InputBufferSize is how many recent frames a client keeps and resends.
const InputBufferSize = 60

// InputFlags is the set of controls held during one frame.
type InputFlags uint16

const (
	InputLeft InputFlags = 1 << iota
	InputRight
	InputUp
	InputDown
	InputJump
	InputRun
	InputCrouch
	InputUse
	InputAttack
	InputAim

	inputFlagBits = 10
)

func (f InputFlags) Has(flag InputFlags) bool {
	return f&flag == flag
}

func (f *InputFlags) Set(flag InputFlags, on bool) {
	if on {
		*f |= flag
	} else {
		*f &^= flag
	}
}

// InputFrame is the input of one simulation tick.
type InputFrame struct {
	ID   uint16
	Keys InputFlags
	// Aim is the aim angle quantized over [0, 2π).
	Aim uint16
	// Interact is the entity being interacted with, 0 for none.
	Interact uint16
}

// QuantizeAim maps an angle in radians to the 16-bit aim field.
func QuantizeAim(angle float64) uint16 {
	a := math.Mod(angle, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return uint16(uint32(math.Round(a/(2*math.Pi)*65536)) % 65536)
}

// AimAngle reverses QuantizeAim.
func (f InputFrame) AimAngle() float64 {
	return float64(f.Aim) / 65536 * 2 * math.Pi
}

func writeFrame(w *bitstream.Writer, f InputFrame) {
	w.WriteBits(uint32(f.Keys), inputFlagBits)
	w.WriteBoolean(f.Keys.Has(InputAim))
	if f.Keys.Has(InputAim) {
		w.WriteUInt16(f.Aim)
	}
	w.WriteBoolean(f.Interact != 0)
	if f.Interact != 0 {
		w.WriteUInt16(f.Interact)
	}
}

func readFrame(r *bitstream.Reader) InputFrame {
	f := InputFrame{Keys: InputFlags(r.ReadBits(inputFlagBits))}
	if r.ReadBoolean() {
		f.Aim = r.ReadUInt16()
	}
	if r.ReadBoolean() {
		f.Interact = r.ReadUInt16()
	}
	return f
}

// InputBuffer is a ring of the most recent frames. The ring position is
// tracked apart from the id, which wraps at a count that is not a multiple
// of the ring size; a retained frame always carries the id it was captured
// with.
type InputBuffer struct {
	frames [InputBufferSize]InputFrame
	head   int
	lastID uint16
	count  int
}

func NewInputBuffer() *InputBuffer {
	return &InputBuffer{head: InputBufferSize - 1}
}

// Capture records the input of the current tick under the next id.
func (b *InputBuffer) Capture(keys InputFlags, aim uint16, interact uint16) InputFrame {
	b.lastID++
	b.head = (b.head + 1) % InputBufferSize
	f := InputFrame{ID: b.lastID, Keys: keys, Aim: aim, Interact: interact}
	b.frames[b.head] = f
	if b.count < InputBufferSize {
		b.count++
	}
	return f
}

// LastID returns the id of the newest frame.
func (b *InputBuffer) LastID() uint16 {
	return b.lastID
}

func (b *InputBuffer) Len() int {
	return b.count
}

// Frames returns the retained frames, oldest first.
func (b *InputBuffer) Frames() []InputFrame {
	out := make([]InputFrame, 0, b.count)
	start := b.head - b.count + 1 + InputBufferSize
	for i := 0; i < b.count; i++ {
		out = append(out, b.frames[(start+i)%InputBufferSize])
	}
	return out
}

// After returns the retained frames more recent than id, oldest first.
func (b *InputBuffer) After(id uint16) []InputFrame {
	var out []InputFrame
	for _, f := range b.Frames() {
		if netid.MoreRecent(f.ID, id) {
			out = append(out, f)
		}
	}
	return out
}

// Reset forgets all frames but keeps the id counter running.
func (b *InputBuffer) Reset() {
	b.count = 0
}

// WriteInputs writes frames as the id of the newest frame, a count and the
// frames newest first. Ids are consecutive and not sent per frame.
func WriteInputs(w *bitstream.Writer, frames []InputFrame) {
	if len(frames) > InputBufferSize {
		frames = frames[len(frames)-InputBufferSize:]
	}
	var lastID uint16
	if len(frames) > 0 {
		lastID = frames[len(frames)-1].ID
	}
	w.WriteUInt16(lastID)
	w.WriteRangedInteger(len(frames), 0, InputBufferSize)
	for i := len(frames) - 1; i >= 0; i-- {
		writeFrame(w, frames[i])
	}
}

// ReadInputs reverses WriteInputs, returning frames oldest first.
func ReadInputs(r *bitstream.Reader) []InputFrame {
	lastID := r.ReadUInt16()
	count := r.ReadRangedInteger(0, InputBufferSize)
	if count > InputBufferSize {
		r.Fail(fmt.Errorf("input count %d exceeds %d", count, InputBufferSize))
		return nil
	}
	frames := make([]InputFrame, count)
	for i := 0; i < count; i++ {
		f := readFrame(r)
		f.ID = lastID - uint16(i)
		frames[count-1-i] = f
	}
	if r.Err() != nil {
		return nil
	}
	return frames
}
