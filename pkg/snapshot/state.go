// Package snapshot streams unreliable, quantized samples of continuous
// entity state. Lost snapshots are never resent; the next one supersedes
// them.
package snapshot

import (
	"fmt"
	"math"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/kinematic"
	"github.com/cbodonnell/tether/pkg/messages"
)

// Field widths. Both ends must agree on these and on Quantization.
const (
	PositionBits        = 20
	VelocityBits        = 12
	RotationBits        = 8
	AngularVelocityBits = 8
)

// Quantization holds the clamp ranges of the quantized fields.
type Quantization struct {
	PositionRange      float32
	MaxVelocity        float32
	MaxAngularVelocity float32
}

var DefaultQuantization = Quantization{
	PositionRange:      10000,
	MaxVelocity:        64,
	MaxAngularVelocity: 16,
}

// CharacterStateInfo is one sample of an entity's motion.
type CharacterStateInfo struct {
	Position kinematic.Vector
	// HasRotation is false for entities with fixed rotation.
	HasRotation bool
	Rotation    float64
	HasVelocity bool
	Velocity    kinematic.Vector
	// AngularVelocity is only sent along with rotation.
	AngularVelocity float64
	// HasInputID is set in samples sent to the session controlling the
	// entity; InputID is then the last input the server applied and
	// Timestamp is not sent.
	HasInputID  bool
	InputID     uint16
	Timestamp   float64
	FacingRight bool
	// Selected and Focused are entity ids, 0 for none.
	Selected  uint16
	Focused   uint16
	Animation byte
}

// normalizeAngle wraps a into [0, 2π]. Values a rounding error past 2π are
// left alone so a decoded maximum re-encodes to the same bucket.
func normalizeAngle(a float64) float64 {
	if a >= 0 && a <= 2*math.Pi+1e-4 {
		return a
	}
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

func (q Quantization) Write(w *bitstream.Writer, info CharacterStateInfo) {
	w.WriteRangedSingle(float32(info.Position.X), -q.PositionRange, q.PositionRange, PositionBits)
	w.WriteRangedSingle(float32(info.Position.Y), -q.PositionRange, q.PositionRange, PositionBits)

	w.WriteBoolean(info.HasRotation)
	if info.HasRotation {
		w.WriteRangedSingle(float32(normalizeAngle(info.Rotation)), 0, 2*math.Pi, RotationBits)
	}

	w.WriteBoolean(info.HasVelocity)
	if info.HasVelocity {
		w.WriteRangedSingle(float32(info.Velocity.X), -q.MaxVelocity, q.MaxVelocity, VelocityBits)
		w.WriteRangedSingle(float32(info.Velocity.Y), -q.MaxVelocity, q.MaxVelocity, VelocityBits)
		if info.HasRotation {
			w.WriteRangedSingle(float32(info.AngularVelocity), -q.MaxAngularVelocity, q.MaxAngularVelocity, AngularVelocityBits)
		}
	}

	w.WriteBoolean(info.HasInputID)
	if info.HasInputID {
		w.WriteUInt16(info.InputID)
	} else {
		w.WriteFloat32(float32(info.Timestamp))
	}

	w.WriteBoolean(info.FacingRight)
	w.WriteBoolean(info.Selected != 0)
	if info.Selected != 0 {
		w.WriteUInt16(info.Selected)
	}
	w.WriteBoolean(info.Focused != 0)
	if info.Focused != 0 {
		w.WriteUInt16(info.Focused)
	}
	w.WriteUInt8(info.Animation)
}

func (q Quantization) Read(r *bitstream.Reader) CharacterStateInfo {
	var info CharacterStateInfo
	info.Position.X = float64(r.ReadRangedSingle(-q.PositionRange, q.PositionRange, PositionBits))
	info.Position.Y = float64(r.ReadRangedSingle(-q.PositionRange, q.PositionRange, PositionBits))

	info.HasRotation = r.ReadBoolean()
	if info.HasRotation {
		info.Rotation = float64(r.ReadRangedSingle(0, 2*math.Pi, RotationBits))
	}

	info.HasVelocity = r.ReadBoolean()
	if info.HasVelocity {
		info.Velocity.X = float64(r.ReadRangedSingle(-q.MaxVelocity, q.MaxVelocity, VelocityBits))
		info.Velocity.Y = float64(r.ReadRangedSingle(-q.MaxVelocity, q.MaxVelocity, VelocityBits))
		if info.HasRotation {
			info.AngularVelocity = float64(r.ReadRangedSingle(-q.MaxAngularVelocity, q.MaxAngularVelocity, AngularVelocityBits))
		}
	}

	info.HasInputID = r.ReadBoolean()
	if info.HasInputID {
		info.InputID = r.ReadUInt16()
	} else {
		info.Timestamp = float64(r.ReadFloat32())
	}

	info.FacingRight = r.ReadBoolean()
	if r.ReadBoolean() {
		info.Selected = r.ReadUInt16()
	}
	if r.ReadBoolean() {
		info.Focused = r.ReadUInt16()
	}
	info.Animation = r.ReadUInt8()
	return info
}

// EncodeSegment writes a tagged position sub-message for one entity. The
// state is length-prefixed so receivers can skip entities they do not know.
func (q Quantization) EncodeSegment(entityID uint16, info CharacterStateInfo) *bitstream.Writer {
	data := bitstream.NewWriter()
	q.Write(data, info)
	data.WritePadBits()

	w := bitstream.NewWriter()
	w.WriteUInt8(uint8(messages.ServerEntityPosition))
	w.WriteUInt16(entityID)
	w.WriteBytes(data.Bytes())
	return w
}

// ReadSegment reads a position sub-message whose tag has already been read.
func (q Quantization) ReadSegment(r *bitstream.Reader) (uint16, CharacterStateInfo, error) {
	entityID := r.ReadUInt16()
	data := r.ReadBytes()
	if err := r.Err(); err != nil {
		return 0, CharacterStateInfo{}, fmt.Errorf("failed to read position of entity %d: %v", entityID, err)
	}
	dr := bitstream.NewReader(data)
	info := q.Read(dr)
	if err := dr.Err(); err != nil {
		return 0, CharacterStateInfo{}, fmt.Errorf("failed to decode position of entity %d: %v", entityID, err)
	}
	return entityID, info, nil
}
