package channel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFIFOQueuePushPop(t *testing.T) {
	q := newFIFOQueue[int](3)
	require.True(t, q.Push(1))
	require.True(t, q.Push(2))
	require.True(t, q.Push(3))
	require.False(t, q.Push(4))
	require.True(t, q.Full())

	v, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.True(t, q.Push(4))

	v, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestFIFOQueueRandomAccess(t *testing.T) {
	q := newFIFOQueue[string](4)
	q.Push("a")
	q.Push("b")
	q.Push("c")
	q.Pop()
	q.Push("d")

	v, ok := q.At(0)
	require.True(t, ok)
	require.Equal(t, "b", v)

	v, ok = q.At(2)
	require.True(t, ok)
	require.Equal(t, "d", v)

	_, ok = q.At(3)
	require.False(t, ok)
}

func TestFIFOQueueEmptyPop(t *testing.T) {
	q := newFIFOQueue[int](2)
	_, ok := q.Pop()
	require.False(t, ok)
}

func TestFIFOQueueReset(t *testing.T) {
	q := newFIFOQueue[int](2)
	q.Push(1)
	q.Reset()
	require.True(t, q.Empty())
	require.True(t, q.Push(9))
}
