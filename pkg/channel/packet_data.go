package channel

import (
	"fmt"

	"github.com/duskcode/netchannel/pkg/bitstream"
)

// BlockFragmentData carries a single block fragment (spec §4.3.5, §4.5).
// Message is only populated for fragment 0, carrying the block message's
// header metadata; the receive side attaches the reassembled block to it
// once complete. On the send side it is the send queue's own message, not a
// separately acquired reference.
type BlockFragmentData struct {
	MessageID    uint16
	FragmentID   int
	NumFragments int
	MessageType  uint16
	FragmentData []byte
	Message      *Message
}

// ChannelPacketData is the tagged payload a channel emits per packet: either
// a list of messages, or a single block fragment (spec §3, §4.5).
type ChannelPacketData struct {
	ChannelIndex int
	IsBlock      bool
	Messages     []*Message
	Block        *BlockFragmentData

	// FailedToSerialize is set on the *receive* side when the message-body
	// deserialization of the reliable (non-block) variant failed; the
	// outer read still succeeds (spec §4.5), and the owning channel raises
	// FailedToDeserialize once it sees this flag (spec §4.3.6).
	FailedToSerialize bool
}

// PacketDataLimits bundles the per-channel sizing a ChannelPacketData codec
// call needs; every field mirrors a ChannelConfig knob (spec §6).
type PacketDataLimits struct {
	NumChannels          int
	Reliable             bool
	MaxMessagesPerPacket int
	MaxFragmentsPerBlock int
	BlockFragmentSize    int
	MaxBlockSize         int
}

// WriteChannelPacketData serializes data onto stream per the wire layout in
// spec §4.5.
func WriteChannelPacketData(stream bitstream.Stream, data *ChannelPacketData, limits PacketDataLimits, factory MessageFactory) error {
	if limits.NumChannels > 1 {
		ch := data.ChannelIndex
		if err := stream.SerializeInt(&ch, 0, limits.NumChannels-1); err != nil {
			return err
		}
	}

	isBlock := data.IsBlock
	if err := stream.SerializeBool(&isBlock); err != nil {
		return err
	}

	if isBlock {
		return writeBlockFragment(stream, data.Block, limits, factory)
	}
	return writeMessageList(stream, data.Messages, limits, factory)
}

func writeBlockFragment(stream bitstream.Stream, block *BlockFragmentData, limits PacketDataLimits, factory MessageFactory) error {
	messageID := uint32(block.MessageID)
	if err := stream.SerializeBits(&messageID, 16); err != nil {
		return err
	}

	numFragments := block.NumFragments
	if limits.MaxFragmentsPerBlock > 1 {
		if err := stream.SerializeInt(&numFragments, 1, limits.MaxFragmentsPerBlock); err != nil {
			return err
		}
	}

	fragmentID := block.FragmentID
	if numFragments > 1 {
		if err := stream.SerializeInt(&fragmentID, 0, numFragments-1); err != nil {
			return err
		}
	}

	fragmentSize := len(block.FragmentData)
	if err := stream.SerializeInt(&fragmentSize, 1, limits.BlockFragmentSize); err != nil {
		return err
	}
	buf := make([]byte, fragmentSize)
	copy(buf, block.FragmentData)
	if err := stream.SerializeBytes(buf); err != nil {
		return err
	}

	if fragmentID == 0 {
		msgType := int(block.MessageType)
		if err := stream.SerializeInt(&msgType, 0, int(factory.MaxMessageType())); err != nil {
			return err
		}
		if err := factory.Serialize(stream, block.Message); err != nil {
			return err
		}
	}
	return nil
}

func writeMessageList(stream bitstream.Stream, messages []*Message, limits PacketDataLimits, factory MessageFactory) error {
	hasMessages := len(messages) > 0
	if err := stream.SerializeBool(&hasMessages); err != nil {
		return err
	}
	if !hasMessages {
		return nil
	}

	count := len(messages)
	if err := stream.SerializeInt(&count, 1, limits.MaxMessagesPerPacket); err != nil {
		return err
	}

	if limits.Reliable {
		firstID := uint32(messages[0].ID)
		if err := stream.SerializeBits(&firstID, 16); err != nil {
			return err
		}
		prev := messages[0].ID
		for i := 1; i < count; i++ {
			if err := writeRelativeMessageID(stream, prev, messages[i].ID); err != nil {
				return err
			}
			prev = messages[i].ID
		}
	}

	for _, msg := range messages {
		msgType := int(msg.Type)
		if err := stream.SerializeInt(&msgType, 0, int(factory.MaxMessageType())); err != nil {
			return err
		}
		if err := factory.Serialize(stream, msg); err != nil {
			return err
		}
		if !limits.Reliable {
			if err := writeMessageBlock(stream, msg.Block, limits.MaxBlockSize); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeRelativeMessageID encodes cur relative to prev: a near-consecutive id
// (delta in [0,255]) costs 1+8 bits instead of 1+16 (spec §4.5 "Sequence-
// relative encoding shortens adjacent ids when they are near-consecutive").
func writeRelativeMessageID(stream bitstream.Stream, prev, cur uint16) error {
	delta := int(cur - prev)
	small := delta >= 0 && delta <= 255
	if err := stream.SerializeBool(&small); err != nil {
		return err
	}
	if small {
		return stream.SerializeInt(&delta, 0, 255)
	}
	v := uint32(cur)
	return stream.SerializeBits(&v, 16)
}

func readRelativeMessageID(stream bitstream.Stream, prev uint16) (uint16, error) {
	var small bool
	if err := stream.SerializeBool(&small); err != nil {
		return 0, err
	}
	if small {
		delta := 0
		if err := stream.SerializeInt(&delta, 0, 255); err != nil {
			return 0, err
		}
		return prev + uint16(delta), nil
	}
	var v uint32
	if err := stream.SerializeBits(&v, 16); err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func writeMessageBlock(stream bitstream.Stream, block []byte, maxBlockSize int) error {
	hasBlock := block != nil
	if err := stream.SerializeBool(&hasBlock); err != nil {
		return err
	}
	if !hasBlock {
		return nil
	}
	size := len(block)
	if err := stream.SerializeInt(&size, 0, maxBlockSize); err != nil {
		return err
	}
	buf := make([]byte, size)
	copy(buf, block)
	return stream.SerializeBytes(buf)
}

// ReadChannelPacketData deserializes one channel entry per spec §4.5.
//
// Errors in the reliable variant's per-message body are recorded on the
// returned data (FailedToSerialize) rather than failing this call — the
// channel itself raises FailedToDeserialize once it observes the flag
// (spec §4.3.6). Errors anywhere else (headers, fragments, block messages)
// fail the whole read.
func ReadChannelPacketData(stream bitstream.Stream, limits PacketDataLimits, factory MessageFactory) (*ChannelPacketData, error) {
	data := &ChannelPacketData{}

	if limits.NumChannels > 1 {
		if err := stream.SerializeInt(&data.ChannelIndex, 0, limits.NumChannels-1); err != nil {
			return nil, err
		}
	}

	if err := stream.SerializeBool(&data.IsBlock); err != nil {
		return nil, err
	}

	if data.IsBlock {
		block, err := readBlockFragment(stream, limits, factory)
		if err != nil {
			return nil, err
		}
		data.Block = block
		return data, nil
	}

	messages, failed, err := readMessageList(stream, limits, factory)
	if err != nil {
		return nil, err
	}
	data.Messages = messages
	data.FailedToSerialize = failed
	return data, nil
}

func readBlockFragment(stream bitstream.Stream, limits PacketDataLimits, factory MessageFactory) (*BlockFragmentData, error) {
	block := &BlockFragmentData{NumFragments: 1}

	var messageID uint32
	if err := stream.SerializeBits(&messageID, 16); err != nil {
		return nil, err
	}
	block.MessageID = uint16(messageID)

	if limits.MaxFragmentsPerBlock > 1 {
		if err := stream.SerializeInt(&block.NumFragments, 1, limits.MaxFragmentsPerBlock); err != nil {
			return nil, err
		}
	}

	if block.NumFragments > 1 {
		if err := stream.SerializeInt(&block.FragmentID, 0, block.NumFragments-1); err != nil {
			return nil, err
		}
	}

	fragmentSize := 0
	if err := stream.SerializeInt(&fragmentSize, 1, limits.BlockFragmentSize); err != nil {
		return nil, err
	}
	block.FragmentData = make([]byte, fragmentSize)
	if err := stream.SerializeBytes(block.FragmentData); err != nil {
		return nil, err
	}

	if block.FragmentID == 0 {
		msgType := 0
		if err := stream.SerializeInt(&msgType, 0, int(factory.MaxMessageType())); err != nil {
			return nil, err
		}
		block.MessageType = uint16(msgType)
		msg, err := factory.Create(block.MessageType)
		if err != nil {
			return nil, fmt.Errorf("channel: create block message type %d: %w", block.MessageType, err)
		}
		msg.ID = block.MessageID
		if err := factory.Serialize(stream, msg); err != nil {
			return nil, fmt.Errorf("channel: deserialize block message body: %w", err)
		}
		block.Message = msg
	}
	return block, nil
}

func readMessageList(stream bitstream.Stream, limits PacketDataLimits, factory MessageFactory) ([]*Message, bool, error) {
	var hasMessages bool
	if err := stream.SerializeBool(&hasMessages); err != nil {
		return nil, false, err
	}
	if !hasMessages {
		return nil, false, nil
	}

	count := 0
	if err := stream.SerializeInt(&count, 1, limits.MaxMessagesPerPacket); err != nil {
		return nil, false, err
	}

	ids := make([]uint16, count)
	if limits.Reliable {
		var first uint32
		if err := stream.SerializeBits(&first, 16); err != nil {
			return nil, false, err
		}
		ids[0] = uint16(first)
		for i := 1; i < count; i++ {
			id, err := readRelativeMessageID(stream, ids[i-1])
			if err != nil {
				return nil, false, err
			}
			ids[i] = id
		}
	}

	messages := make([]*Message, 0, count)
	failed := false
	for i := 0; i < count; i++ {
		msgType := 0
		if err := stream.SerializeInt(&msgType, 0, int(factory.MaxMessageType())); err != nil {
			return nil, false, err
		}
		msg, err := factory.Create(uint16(msgType))
		if err != nil {
			return nil, false, fmt.Errorf("channel: create message type %d: %w", msgType, err)
		}
		msg.ID = ids[i]

		if err := factory.Serialize(stream, msg); err != nil {
			// Body-only failure: surfaced to the channel via the flag,
			// not as a hard read error (spec §4.5).
			failed = true
		}

		if !limits.Reliable {
			block, err := readMessageBlock(stream, limits.MaxBlockSize)
			if err != nil {
				return nil, false, err
			}
			msg.Block = block
		}

		messages = append(messages, msg)
	}
	return messages, failed, nil
}

func readMessageBlock(stream bitstream.Stream, maxBlockSize int) ([]byte, error) {
	var hasBlock bool
	if err := stream.SerializeBool(&hasBlock); err != nil {
		return nil, err
	}
	if !hasBlock {
		return nil, nil
	}
	size := 0
	if err := stream.SerializeInt(&size, 0, maxBlockSize); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if err := stream.SerializeBytes(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
