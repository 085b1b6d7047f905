// Package seqnum implements wrap-tolerant comparisons on 16-bit sequence
// numbers (spec §3 "Sequence number"), shared by the sequence buffer, the
// reliable-ordered channel's send/receive windows, and packet sequences.
package seqnum

// GreaterThan reports whether a is "newer than" b under 16-bit wraparound:
// a > b iff (a>b && a-b <= 32768) || (a<b && b-a > 32768).
func GreaterThan(a, b uint16) bool {
	return (a > b && a-b <= 32768) || (a < b && b-a > 32768)
}

// LessThan is the mirror of GreaterThan: less_than(a,b) := greater_than(b,a).
func LessThan(a, b uint16) bool {
	return GreaterThan(b, a)
}

// GreaterThanOrEqual reports a >= b under the same wrap convention.
func GreaterThanOrEqual(a, b uint16) bool {
	return a == b || GreaterThan(a, b)
}

// LessThanOrEqual reports a <= b under the same wrap convention.
func LessThanOrEqual(a, b uint16) bool {
	return a == b || LessThan(a, b)
}

// Diff returns the signed distance from b to a (a-b) taking the shorter path
// around the wrap, in [-32768, 32767]: positive when a is newer than b,
// except at a distance of exactly 32768, which comes out as -32768.
func Diff(a, b uint16) int32 {
	return int32(int16(a - b))
}
