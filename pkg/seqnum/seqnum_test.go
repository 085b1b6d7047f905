package seqnum_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duskcode/netchannel/pkg/seqnum"
)

func TestGreaterThanNoWrap(t *testing.T) {
	require.True(t, seqnum.GreaterThan(10, 5))
	require.False(t, seqnum.GreaterThan(5, 10))
	require.False(t, seqnum.GreaterThan(5, 5))
}

func TestGreaterThanAcrossWrap(t *testing.T) {
	require.True(t, seqnum.GreaterThan(0, 65535))
	require.True(t, seqnum.GreaterThan(1, 65535))
	require.False(t, seqnum.GreaterThan(65535, 0))
}

func TestLessThanIsMirror(t *testing.T) {
	require.True(t, seqnum.LessThan(65535, 0))
	require.True(t, seqnum.LessThan(5, 10))
}

func TestGreaterThanOrEqual(t *testing.T) {
	require.True(t, seqnum.GreaterThanOrEqual(5, 5))
	require.True(t, seqnum.GreaterThanOrEqual(6, 5))
	require.False(t, seqnum.GreaterThanOrEqual(4, 5))
}
