package netid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMoreRecent(t *testing.T) {
	tests := []struct {
		name string
		a, b uint16
		want bool
	}{
		{name: "greater", a: 5, b: 4, want: true},
		{name: "smaller", a: 4, b: 5, want: false},
		{name: "equal", a: 7, b: 7, want: false},
		{name: "wrapped ahead", a: 2, b: 65534, want: true},
		{name: "wrapped behind", a: 65534, b: 2, want: false},
		{name: "just under half range", a: 32767, b: 0, want: true},
		{name: "half range forward", a: 32768, b: 0, want: false},
		{name: "half range backward", a: 0, b: 32768, want: false},
		{name: "just over half range", a: 32769, b: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MoreRecent(tt.a, tt.b))
		})
	}
}

func TestMoreRecent_Antisymmetric(t *testing.T) {
	// every distance from every origin stride; exhaustive over b would be 2^32 pairs
	for a := 0; a < 65536; a++ {
		for _, d := range []int{0, 1, 2, 100, 32766, 32767, 32768, 32769, 65535} {
			b := uint16(a + d)
			x, y := MoreRecent(uint16(a), b), MoreRecent(b, uint16(a))
			if x && y {
				t.Fatalf("both %d > %d and %d > %d", a, b, b, a)
			}
			if d != 0 && d != HalfRange && !x && !y {
				t.Fatalf("neither %d nor %d is more recent at distance %d", a, b, d)
			}
		}
	}
}

func TestDifference(t *testing.T) {
	assert.Equal(t, 3, Difference(2, 65535))
	assert.Equal(t, -3, Difference(65535, 2))
	assert.Equal(t, 0, Difference(10, 10))
	assert.Equal(t, -HalfRange, Difference(32768, 0))
}

func TestMax(t *testing.T) {
	assert.Equal(t, uint16(1), Max(1, 65535))
	assert.Equal(t, uint16(9), Max(3, 9))
	assert.True(t, MoreRecentOrEqual(4, 4))
}
