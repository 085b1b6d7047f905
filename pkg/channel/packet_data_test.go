package channel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duskcode/netchannel/pkg/bitstream"
)

func reliableLimits() PacketDataLimits {
	return PacketDataLimits{
		NumChannels:          2,
		Reliable:             true,
		MaxMessagesPerPacket: 256,
		MaxFragmentsPerBlock: 256,
		BlockFragmentSize:    1024,
		MaxBlockSize:         256 * 1024,
	}
}

func TestChannelPacketDataMessageListRoundTrip(t *testing.T) {
	factory := NewBytesMessageFactory(0, 2048)
	limits := reliableLimits()

	m1 := NewMessage(0)
	m1.ID = 10
	m1.Body = []byte("hello")
	m2 := NewMessage(0)
	m2.ID = 11
	m2.Body = []byte("world")

	data := &ChannelPacketData{ChannelIndex: 1, Messages: []*Message{m1, m2}}

	w := bitstream.NewWriter(0)
	require.NoError(t, WriteChannelPacketData(w, data, limits, factory))
	buf := w.Flush()

	r := bitstream.NewReader(buf, len(buf)*8)
	got, err := ReadChannelPacketData(r, limits, factory)
	require.NoError(t, err)
	require.False(t, got.FailedToSerialize)
	require.Equal(t, 1, got.ChannelIndex)
	require.Len(t, got.Messages, 2)
	require.Equal(t, uint16(10), got.Messages[0].ID)
	require.Equal(t, []byte("hello"), got.Messages[0].Body)
	require.Equal(t, uint16(11), got.Messages[1].ID)
	require.Equal(t, []byte("world"), got.Messages[1].Body)
}

func TestChannelPacketDataBlockFragmentRoundTrip(t *testing.T) {
	factory := NewBytesMessageFactory(3, 0)
	limits := reliableLimits()

	blockMsg := NewMessage(3)
	blockMsg.ID = 7
	blockMsg.Body = []byte{}

	data := &ChannelPacketData{
		ChannelIndex: 0,
		IsBlock:      true,
		Block: &BlockFragmentData{
			MessageID:    7,
			FragmentID:   0,
			NumFragments: 4,
			MessageType:  3,
			FragmentData: []byte{1, 2, 3, 4},
			Message:      blockMsg,
		},
	}

	w := bitstream.NewWriter(0)
	require.NoError(t, WriteChannelPacketData(w, data, limits, factory))
	buf := w.Flush()

	r := bitstream.NewReader(buf, len(buf)*8)
	got, err := ReadChannelPacketData(r, limits, factory)
	require.NoError(t, err)
	require.True(t, got.IsBlock)
	require.Equal(t, uint16(7), got.Block.MessageID)
	require.Equal(t, 4, got.Block.NumFragments)
	require.Equal(t, 0, got.Block.FragmentID)
	require.Equal(t, []byte{1, 2, 3, 4}, got.Block.FragmentData)
	require.NotNil(t, got.Block.Message)
	require.Equal(t, uint16(3), got.Block.MessageType)
}

func TestChannelPacketDataUnreliableMessageBlock(t *testing.T) {
	factory := NewBytesMessageFactory(0, 64)
	limits := PacketDataLimits{
		NumChannels:          1,
		Reliable:             false,
		MaxMessagesPerPacket: 16,
		MaxBlockSize:         1024,
	}

	m := NewMessage(0)
	m.ID = 99
	m.Body = []byte("ping")
	m.Block = []byte{9, 9, 9}

	data := &ChannelPacketData{Messages: []*Message{m}}

	w := bitstream.NewWriter(0)
	require.NoError(t, WriteChannelPacketData(w, data, limits, factory))
	buf := w.Flush()

	r := bitstream.NewReader(buf, len(buf)*8)
	got, err := ReadChannelPacketData(r, limits, factory)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	require.Equal(t, []byte{9, 9, 9}, got.Messages[0].Block)
}

func TestChannelPacketDataRelativeIDsAcrossWrap(t *testing.T) {
	factory := NewBytesMessageFactory(0, 16)
	limits := reliableLimits()

	ids := []uint16{65534, 65535, 0, 1}
	msgs := make([]*Message, len(ids))
	for i, id := range ids {
		m := NewMessage(0)
		m.ID = id
		m.Body = []byte{}
		msgs[i] = m
	}

	data := &ChannelPacketData{Messages: msgs}
	limits.NumChannels = 1

	w := bitstream.NewWriter(0)
	require.NoError(t, WriteChannelPacketData(w, data, limits, factory))
	buf := w.Flush()

	r := bitstream.NewReader(buf, len(buf)*8)
	got, err := ReadChannelPacketData(r, limits, factory)
	require.NoError(t, err)
	require.Len(t, got.Messages, 4)
	for i, id := range ids {
		require.Equal(t, id, got.Messages[i].ID)
	}
}
