// Package bitstream implements the bit-packed encoding used by game datagrams.
//
// Values are written least significant bit first into a growing byte slice.
// Values with a known range are written with the minimum number of bits that
// spans the range, and floats with a known range are quantized to a fixed
// number of bits.
package bitstream

import (
	"fmt"
	"math"
	"math/bits"
)

// ErrEndOfStream is returned when a read runs past the written bits.
type ErrEndOfStream struct {
	Position int
	Wanted   int
	Length   int
}

func (e *ErrEndOfStream) Error() string {
	return fmt.Sprintf("read of %d bits at bit %d exceeds stream length %d", e.Wanted, e.Position, e.Length)
}

func IsEndOfStream(err error) bool {
	_, ok := err.(*ErrEndOfStream)
	return ok
}

// RangeBits returns the number of bits needed to encode any integer in [min, max].
func RangeBits(min, max int) int {
	if max <= min {
		return 0
	}
	return bits.Len32(uint32(max - min))
}

// Quantize maps v, clamped to [min, max], onto an unsigned integer of numBits bits.
func Quantize(v, min, max float32, numBits int) uint32 {
	maxVal := float64(uint64(1)<<uint(numBits) - 1)
	f := float64(v)
	if math.IsNaN(f) {
		f = float64(min)
	}
	f = math.Max(float64(min), math.Min(float64(max), f))
	return uint32(math.Round((f - float64(min)) / (float64(max) - float64(min)) * maxVal))
}

// Dequantize reverses Quantize.
func Dequantize(q uint32, min, max float32, numBits int) float32 {
	maxVal := float64(uint64(1)<<uint(numBits) - 1)
	return float32(float64(min) + (float64(max)-float64(min))*float64(q)/maxVal)
}

// Writer accumulates bits.
type Writer struct {
	buf    []byte
	length int
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// LengthBits returns the number of bits written so far.
func (w *Writer) LengthBits() int {
	return w.length
}

// LengthBytes returns the number of bytes needed to hold the written bits.
func (w *Writer) LengthBytes() int {
	return (w.length + 7) / 8
}

// Bytes returns the written data; trailing bits of the last byte are zero.
func (w *Writer) Bytes() []byte {
	return w.buf[:w.LengthBytes()]
}

// Reset discards everything written.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.length = 0
}

func (w *Writer) writeBit(bit bool) {
	if w.length%8 == 0 {
		w.buf = append(w.buf, 0)
	}
	if bit {
		w.buf[w.length/8] |= 1 << uint(w.length%8)
	}
	w.length++
}

// WriteBits writes the lowest numBits bits of value.
func (w *Writer) WriteBits(value uint32, numBits int) {
	for i := 0; i < numBits; i++ {
		w.writeBit(value&(1<<uint(i)) != 0)
	}
}

func (w *Writer) WriteBoolean(b bool) {
	w.writeBit(b)
}

func (w *Writer) WriteUInt8(b uint8) {
	w.WriteBits(uint32(b), 8)
}

func (w *Writer) WriteUInt16(v uint16) {
	w.WriteBits(uint32(v), 16)
}

func (w *Writer) WriteUInt32(v uint32) {
	w.WriteBits(v, 32)
}

func (w *Writer) WriteFloat32(v float32) {
	w.WriteBits(math.Float32bits(v), 32)
}

// WriteRangedInteger writes v, clamped to [min, max], using RangeBits(min, max) bits.
func (w *Writer) WriteRangedInteger(v, min, max int) {
	if v < min {
		v = min
	} else if v > max {
		v = max
	}
	w.WriteBits(uint32(v-min), RangeBits(min, max))
}

// WriteRangedSingle writes v quantized to numBits bits within [min, max].
func (w *Writer) WriteRangedSingle(v, min, max float32, numBits int) {
	w.WriteBits(Quantize(v, min, max, numBits), numBits)
}

// WriteVariableUInt32 writes v in 7-bit groups with a continuation bit.
func (w *Writer) WriteVariableUInt32(v uint32) {
	for {
		b := v & 0x7f
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.WriteBits(b, 8)
		if v == 0 {
			return
		}
	}
}

func (w *Writer) WriteBytes(b []byte) {
	w.WriteVariableUInt32(uint32(len(b)))
	for _, c := range b {
		w.WriteUInt8(c)
	}
}

func (w *Writer) WriteString(s string) {
	w.WriteBytes([]byte(s))
}

// WritePadBits pads with zero bits up to the next byte boundary.
func (w *Writer) WritePadBits() {
	for w.length%8 != 0 {
		w.writeBit(false)
	}
}

// Append copies every bit written to other onto the end of w.
func (w *Writer) Append(other *Writer) {
	if w.length%8 == 0 {
		w.buf = append(w.buf[:w.LengthBytes()], other.Bytes()...)
		w.length += other.length
		return
	}
	for i := 0; i < other.length; i++ {
		w.writeBit(other.buf[i/8]&(1<<uint(i%8)) != 0)
	}
}

// Reader decodes bits written by Writer.
//
// The first failed read sets a sticky error; every later read returns the
// zero value. Callers check Err once after decoding a structure.
type Reader struct {
	data   []byte
	pos    int
	length int
	err    error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data, length: len(data) * 8}
}

// Err returns the first error encountered.
func (r *Reader) Err() error {
	return r.err
}

// Fail records err unless an error is already set.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Position returns the current bit position.
func (r *Reader) Position() int {
	return r.pos
}

// BitsRemaining returns the number of unread bits.
func (r *Reader) BitsRemaining() int {
	return r.length - r.pos
}

func (r *Reader) ReadBits(numBits int) uint32 {
	if r.err != nil {
		return 0
	}
	if r.pos+numBits > r.length {
		r.err = &ErrEndOfStream{Position: r.pos, Wanted: numBits, Length: r.length}
		return 0
	}
	var v uint32
	for i := 0; i < numBits; i++ {
		if r.data[r.pos/8]&(1<<uint(r.pos%8)) != 0 {
			v |= 1 << uint(i)
		}
		r.pos++
	}
	return v
}

func (r *Reader) ReadBoolean() bool {
	return r.ReadBits(1) != 0
}

func (r *Reader) ReadUInt8() uint8 {
	return uint8(r.ReadBits(8))
}

func (r *Reader) ReadUInt16() uint16 {
	return uint16(r.ReadBits(16))
}

func (r *Reader) ReadUInt32() uint32 {
	return r.ReadBits(32)
}

func (r *Reader) ReadFloat32() float32 {
	return math.Float32frombits(r.ReadBits(32))
}

func (r *Reader) ReadRangedInteger(min, max int) int {
	return min + int(r.ReadBits(RangeBits(min, max)))
}

func (r *Reader) ReadRangedSingle(min, max float32, numBits int) float32 {
	return Dequantize(r.ReadBits(numBits), min, max, numBits)
}

func (r *Reader) ReadVariableUInt32() uint32 {
	var v uint32
	for shift := 0; shift < 35; shift += 7 {
		b := r.ReadBits(8)
		v |= (b & 0x7f) << uint(shift)
		if b&0x80 == 0 {
			return v
		}
	}
	r.Fail(fmt.Errorf("variable-length integer too long at bit %d", r.pos))
	return 0
}

// ReadBytes reads a length-prefixed byte slice, refusing lengths past the end of the stream.
func (r *Reader) ReadBytes() []byte {
	n := int(r.ReadVariableUInt32())
	if r.err != nil {
		return nil
	}
	if n*8 > r.BitsRemaining() {
		r.Fail(&ErrEndOfStream{Position: r.pos, Wanted: n * 8, Length: r.length})
		return nil
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = r.ReadUInt8()
	}
	return b
}

func (r *Reader) ReadString() string {
	return string(r.ReadBytes())
}

// ReadPadBits skips to the next byte boundary.
func (r *Reader) ReadPadBits() {
	if rem := r.pos % 8; rem != 0 {
		r.ReadBits(8 - rem)
	}
}
