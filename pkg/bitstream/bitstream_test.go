package bitstream

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReader(t *testing.T) {
	w := NewWriter()
	w.WriteBoolean(true)
	w.WriteUInt8(0xab)
	w.WriteUInt16(65535)
	w.WriteRangedInteger(37, 0, 100)
	w.WriteUInt32(0xdeadbeef)
	w.WriteFloat32(-3.25)
	w.WriteVariableUInt32(300)
	w.WriteString("hello")
	w.WriteBoolean(false)
	w.WritePadBits()
	assert.Equal(t, 0, w.LengthBits()%8)

	r := NewReader(w.Bytes())
	assert.True(t, r.ReadBoolean())
	assert.Equal(t, uint8(0xab), r.ReadUInt8())
	assert.Equal(t, uint16(65535), r.ReadUInt16())
	assert.Equal(t, 37, r.ReadRangedInteger(0, 100))
	assert.Equal(t, uint32(0xdeadbeef), r.ReadUInt32())
	assert.Equal(t, float32(-3.25), r.ReadFloat32())
	assert.Equal(t, uint32(300), r.ReadVariableUInt32())
	assert.Equal(t, "hello", r.ReadString())
	assert.False(t, r.ReadBoolean())
	r.ReadPadBits()
	require.NoError(t, r.Err())
	assert.Equal(t, 0, r.BitsRemaining())
}

func TestRangeBits(t *testing.T) {
	tests := []struct {
		min, max int
		want     int
	}{
		{0, 0, 0},
		{0, 1, 1},
		{0, 255, 8},
		{0, 256, 9},
		{-10, 10, 5},
		{5, 3, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RangeBits(tt.min, tt.max), "[%d,%d]", tt.min, tt.max)
	}
}

func TestRangedIntegerClamps(t *testing.T) {
	w := NewWriter()
	w.WriteRangedInteger(500, 0, 10)
	w.WriteRangedInteger(-5, 0, 10)
	r := NewReader(w.Bytes())
	assert.Equal(t, 10, r.ReadRangedInteger(0, 10))
	assert.Equal(t, 0, r.ReadRangedInteger(0, 10))
}

func TestQuantizeRoundTripStable(t *testing.T) {
	fields := []struct {
		name     string
		min, max float32
		bits     int
	}{
		{"position", -10000, 10000, 20},
		{"velocity", -64, 64, 12},
		{"rotation", 0, 2 * math.Pi, 8},
		{"aim", 0, 2 * math.Pi, 16},
	}
	for _, f := range fields {
		t.Run(f.name, func(t *testing.T) {
			steps := 5000
			for i := 0; i <= steps; i++ {
				x := f.min + (f.max-f.min)*float32(i)/float32(steps)
				q := Quantize(x, f.min, f.max, f.bits)
				again := Quantize(Dequantize(q, f.min, f.max, f.bits), f.min, f.max, f.bits)
				if q != again {
					t.Fatalf("x=%v: quantize %d, after round trip %d", x, q, again)
				}
			}
		})
	}
}

func TestQuantizeClamps(t *testing.T) {
	assert.Equal(t, uint32(0), Quantize(-100, 0, 1, 8))
	assert.Equal(t, uint32(255), Quantize(100, 0, 1, 8))
	assert.Equal(t, uint32(0), Quantize(float32(math.NaN()), 0, 1, 8))
}

func TestReaderStickyError(t *testing.T) {
	r := NewReader([]byte{0x01})
	r.ReadUInt16()
	require.Error(t, r.Err())
	assert.True(t, IsEndOfStream(r.Err()))
	assert.Equal(t, uint8(0), r.ReadUInt8())
}

func TestReadBytesRejectsHugeLength(t *testing.T) {
	w := NewWriter()
	w.WriteVariableUInt32(1 << 20)
	r := NewReader(w.Bytes())
	assert.Nil(t, r.ReadBytes())
	assert.Error(t, r.Err())
}

func TestAppendUnaligned(t *testing.T) {
	seg := NewWriter()
	seg.WriteUInt16(0x1234)
	seg.WriteBoolean(true)

	w := NewWriter()
	w.WriteBoolean(true)
	w.Append(seg)
	w.Append(seg)

	r := NewReader(w.Bytes())
	assert.True(t, r.ReadBoolean())
	for i := 0; i < 2; i++ {
		assert.Equal(t, uint16(0x1234), r.ReadUInt16())
		assert.True(t, r.ReadBoolean())
	}
	assert.NoError(t, r.Err())
	assert.Equal(t, 1+2*17, w.LengthBits())
}
