package bitstream_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duskcode/netchannel/pkg/bitstream"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := bitstream.NewWriter(0)

	intVal := 1234
	boolVal := true
	bits := uint32(0x2A)
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	require.NoError(t, w.SerializeInt(&intVal, 0, 65535))
	require.NoError(t, w.SerializeBool(&boolVal))
	require.NoError(t, w.SerializeBits(&bits, 6))
	require.NoError(t, w.SerializeBytes(payload))

	data := w.Flush()
	r := bitstream.NewReader(data, len(data)*8)

	var gotInt int
	var gotBool bool
	var gotBits uint32
	gotPayload := make([]byte, 4)

	require.NoError(t, r.SerializeInt(&gotInt, 0, 65535))
	require.NoError(t, r.SerializeBool(&gotBool))
	require.NoError(t, r.SerializeBits(&gotBits, 6))
	require.NoError(t, r.SerializeBytes(gotPayload))

	require.Equal(t, intVal, gotInt)
	require.Equal(t, boolVal, gotBool)
	require.Equal(t, bits, gotBits)
	require.Equal(t, payload, gotPayload)
}

func TestMeasurerMatchesWriterBitCount(t *testing.T) {
	m := bitstream.NewMeasurer()
	w := bitstream.NewWriter(0)

	val := 42
	for _, s := range []bitstream.Stream{m, w} {
		v := val
		b := true
		require.NoError(t, s.SerializeInt(&v, 0, 255))
		require.NoError(t, s.SerializeBool(&b))
	}

	require.Equal(t, m.BitsProcessed(), w.BitsProcessed())
}

func TestSerializeIntRejectsOutOfRange(t *testing.T) {
	w := bitstream.NewWriter(0)
	v := 500
	require.ErrorIs(t, w.SerializeInt(&v, 0, 100), bitstream.ErrOutOfRange)
}

func TestReaderOverflow(t *testing.T) {
	r := bitstream.NewReader([]byte{0x01}, 4)
	var v uint32
	require.NoError(t, r.SerializeBits(&v, 4))
	require.ErrorIs(t, r.SerializeBits(&v, 4), bitstream.ErrOverflow)
}

func TestWriterMaxBitsBudget(t *testing.T) {
	w := bitstream.NewWriter(8)
	v := uint32(1)
	require.NoError(t, w.SerializeBits(&v, 8))
	require.ErrorIs(t, w.SerializeBits(&v, 1), bitstream.ErrOverflow)
}

func TestBitsRequired(t *testing.T) {
	require.Equal(t, 0, bitstream.BitsRequired(5, 5))
	require.Equal(t, 1, bitstream.BitsRequired(0, 1))
	require.Equal(t, 8, bitstream.BitsRequired(0, 255))
	require.Equal(t, 16, bitstream.BitsRequired(0, 65535))
}
