package channel

import "github.com/duskcode/netchannel/pkg/seqnum"

// SequenceBuffer is a fixed-capacity map from a 16-bit sequence number to a
// value of type T, with O(1) insert/find/remove (spec §3, §4.1). Slot i
// holds sequence s iff valid[i] && sequence[i]==s, where i = s mod capacity.
//
// This is the "arena+indices" shape from spec §9: a flat, pre-allocated
// array addressed by sequence modulo capacity, never separately allocated
// or freed per entry.
type SequenceBuffer[T any] struct {
	capacity     uint16
	nextSequence uint16
	valid        []bool
	sequence     []uint16
	entries      []T
}

// NewSequenceBuffer allocates a buffer of the given capacity. capacity must
// be > 0; callers that need the "divides 65536 exactly" invariant (spec §3)
// enforce it at the channel-config layer, since a bare sequence buffer is
// useful at other capacities too (e.g. fragment-ack bitsets sized by
// maxFragmentsPerBlock).
func NewSequenceBuffer[T any](capacity int) *SequenceBuffer[T] {
	if capacity <= 0 || capacity > 65536 {
		panic("channel: sequence buffer capacity out of range")
	}
	return &SequenceBuffer[T]{
		capacity: uint16(capacity),
		valid:    make([]bool, capacity),
		sequence: make([]uint16, capacity),
		entries:  make([]T, capacity),
	}
}

func (b *SequenceBuffer[T]) index(seq uint16) uint16 {
	return seq % b.capacity
}

// NextSequence returns the buffer's current insertion cursor.
func (b *SequenceBuffer[T]) NextSequence() uint16 { return b.nextSequence }

// Available reports whether the physical slot a new entry at seq would
// occupy is currently free. It does not compare against seq itself: a slot
// still holding an older, not-yet-removed entry makes the buffer "full" at
// that index regardless of which sequence asks.
func (b *SequenceBuffer[T]) Available(seq uint16) bool {
	return !b.valid[b.index(seq)]
}

// Exists reports whether seq is currently present.
func (b *SequenceBuffer[T]) Exists(seq uint16) bool {
	idx := b.index(seq)
	return b.valid[idx] && b.sequence[idx] == seq
}

// Find returns a pointer to seq's entry, or nil if absent.
func (b *SequenceBuffer[T]) Find(seq uint16) *T {
	idx := b.index(seq)
	if b.valid[idx] && b.sequence[idx] == seq {
		return &b.entries[idx]
	}
	return nil
}

// Remove drops seq's entry, if present.
func (b *SequenceBuffer[T]) Remove(seq uint16) {
	idx := b.index(seq)
	if b.valid[idx] && b.sequence[idx] == seq {
		b.valid[idx] = false
		var zero T
		b.entries[idx] = zero
	}
}

// GetAtIndex gives raw, index-ordered access to occupied slots (used by
// Reset to release owned resources before clearing).
func (b *SequenceBuffer[T]) GetAtIndex(i int) (entry *T, seq uint16, ok bool) {
	if !b.valid[i] {
		return nil, 0, false
	}
	return &b.entries[i], b.sequence[i], true
}

// Capacity returns the configured slot count.
func (b *SequenceBuffer[T]) Capacity() int { return int(b.capacity) }

// Insert places a new entry at seq, returning a pointer the caller fills in
// (spec §4.1). guaranteedOrder is used by callers — the reliable channel's
// sentPackets buffer and send queue — that know seq is strictly newer than anything
// already buffered, skipping the newer-than check below (spec §4.1, §9 open
// question (b)). Returns (nil, false) when seq is older than the
// nextSequence-capacity watermark ("too old").
func (b *SequenceBuffer[T]) Insert(seq uint16, guaranteedOrder bool) (*T, bool) {
	if guaranteedOrder || seqnum.GreaterThan(seq+1, b.nextSequence) {
		b.removeEntriesUpTo(seq)
		b.nextSequence = seq + 1
	} else if seqnum.LessThan(seq, b.nextSequence-b.capacity) {
		return nil, false
	}

	idx := b.index(seq)
	b.valid[idx] = true
	b.sequence[idx] = seq
	var zero T
	b.entries[idx] = zero
	return &b.entries[idx], true
}

// removeEntriesUpTo invalidates every slot whose sequence lies in
// [nextSequence, seq] (inclusive, modulo wraparound), per spec §4.1: "if
// fewer than C slots need invalidation, iterate; otherwise wipe".
func (b *SequenceBuffer[T]) removeEntriesUpTo(seq uint16) {
	span := int(seqnum.Diff(seq, b.nextSequence)) + 1
	if span <= 0 {
		return
	}
	if span > int(b.capacity) {
		span = int(b.capacity)
	}
	for i := 0; i < span; i++ {
		s := b.nextSequence + uint16(i)
		idx := b.index(s)
		b.valid[idx] = false
	}
}

// Reset clears every slot and rewinds nextSequence to zero. Callers owning
// referenced resources (e.g. acquired messages) must release them before
// calling Reset — the buffer itself never frees anything beyond its own
// slots.
func (b *SequenceBuffer[T]) Reset() {
	for i := range b.valid {
		b.valid[i] = false
		var zero T
		b.entries[i] = zero
	}
	b.nextSequence = 0
}
