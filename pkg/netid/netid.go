// Package netid compares 16-bit wraparound identifiers.
//
// Event ids, chat ids, input ids and client list versions all share one
// counter width and wrap at 65535. Ids must never be compared with < or >;
// an id is more recent than another when it lies less than half the id
// space ahead of it.
package netid

// HalfRange is the distance at which the ordering becomes ambiguous.
const HalfRange = 1 << 15

// MoreRecent reports whether a is more recent than b.
//
// Equal ids are not more recent than each other. Ids exactly HalfRange apart
// are not more recent in either direction.
func MoreRecent(a, b uint16) bool {
	return int16(a-b) > 0
}

// MoreRecentOrEqual reports whether a == b or a is more recent than b.
func MoreRecentOrEqual(a, b uint16) bool {
	return a == b || MoreRecent(a, b)
}

// Difference returns how far a is ahead of b, negative when behind.
// At exactly HalfRange it returns -HalfRange.
func Difference(a, b uint16) int {
	return int(int16(a - b))
}

// Max returns the more recent of a and b.
func Max(a, b uint16) uint16 {
	if MoreRecent(a, b) {
		return a
	}
	return b
}
