package channel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequenceBufferInsertFindRemove(t *testing.T) {
	sb := NewSequenceBuffer[int](8)

	entry, ok := sb.Insert(3, false)
	require.True(t, ok)
	*entry = 42

	require.True(t, sb.Exists(3))
	found := sb.Find(3)
	require.NotNil(t, found)
	require.Equal(t, 42, *found)

	sb.Remove(3)
	require.False(t, sb.Exists(3))
	require.Nil(t, sb.Find(3))
}

func TestSequenceBufferAvailableReflectsOccupancy(t *testing.T) {
	sb := NewSequenceBuffer[int](8)
	require.True(t, sb.Available(0))

	sb.Insert(0, false)
	require.False(t, sb.Available(0))
	// Same physical slot, different cycle: still occupied until removed.
	require.False(t, sb.Available(8))

	sb.Remove(0)
	require.True(t, sb.Available(8))
}

func TestSequenceBufferTooOldRejected(t *testing.T) {
	sb := NewSequenceBuffer[int](4)
	// Advance nextSequence far enough that sequence 0 falls outside the
	// [nextSequence-capacity, nextSequence) window.
	sb.Insert(100, false)

	_, ok := sb.Insert(0, false)
	require.False(t, ok)
}

func TestSequenceBufferInvalidatesSkippedRange(t *testing.T) {
	sb := NewSequenceBuffer[int](4)
	sb.Insert(0, false)
	sb.Insert(1, false)

	// Jumping straight to 10 should invalidate the stale 0 and 1 entries
	// that alias the same physical slots mod 4.
	sb.Insert(10, false)

	require.False(t, sb.Exists(0))
	require.False(t, sb.Exists(1))
	require.True(t, sb.Exists(10))
}

func TestSequenceBufferGuaranteedOrderSkipsNewerCheck(t *testing.T) {
	sb := NewSequenceBuffer[int](4)
	_, ok := sb.Insert(5, true)
	require.True(t, ok)
	require.Equal(t, uint16(6), sb.NextSequence())
}

func TestSequenceBufferWrapAround(t *testing.T) {
	sb := NewSequenceBuffer[int](4)
	// Drive nextSequence across the 16-bit wrap.
	var seq uint16 = 65534
	for i := 0; i < 6; i++ {
		_, ok := sb.Insert(seq, false)
		require.True(t, ok)
		seq++
	}
	require.True(t, sb.Exists(3))
	require.False(t, sb.Exists(65534))
}

func TestSequenceBufferReset(t *testing.T) {
	sb := NewSequenceBuffer[int](4)
	sb.Insert(1, false)
	sb.Reset()
	require.False(t, sb.Exists(1))
	require.Equal(t, uint16(0), sb.NextSequence())
}
