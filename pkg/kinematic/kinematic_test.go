package kinematic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisplacement(t *testing.T) {
	assert.InDelta(t, 10.0, Displacement(10, 1, 0), 1e-9)
	assert.InDelta(t, -4.9, Displacement(0, 1, Gravity), 1e-9)
	assert.InDelta(t, -9.8, FinalVelocity(0, 1, Gravity), 1e-9)
}

func TestApproach(t *testing.T) {
	assert.Equal(t, 3.0, Approach(1, 5, 2))
	assert.Equal(t, 5.0, Approach(4, 5, 2))
	assert.Equal(t, -1.0, Approach(0, -1, 2))
}

func TestVector(t *testing.T) {
	a := Vector{X: 3, Y: 4}
	assert.Equal(t, 5.0, a.Length())
	assert.Equal(t, Vector{X: 6, Y: 8}, a.Scale(2))
	assert.Equal(t, Vector{X: 1.5, Y: 2}, Vector{}.Lerp(a, 0.5))
	assert.Equal(t, 5.0, Vector{}.Distance(a))
}
