package channel

import (
	"time"

	"github.com/duskcode/netchannel/pkg/bitstream"
)

// UnreliableUnordered implements the unreliable-unordered channel (spec
// §4.4): messages are packed into outgoing packets best-effort and delivered
// in arrival order with no retransmission. A send queue that overflows
// silently drops the oldest unsent message rather than blocking (spec §9
// open question (a)) — CounterUnreliableDropped makes that loss observable.
type UnreliableUnordered struct {
	cfg     Config
	factory MessageFactory
	now     time.Time

	errorLevel ErrorLevel
	counters   [counterKindCount]uint64

	sendQueue    *fifoQueue[*Message]
	receiveQueue *fifoQueue[*Message]
}

// NewUnreliableUnordered constructs an unreliable-unordered channel.
func NewUnreliableUnordered(cfg Config, factory MessageFactory) *UnreliableUnordered {
	return &UnreliableUnordered{
		cfg:          cfg,
		factory:      factory,
		sendQueue:    newFIFOQueue[*Message](cfg.MessageSendQueueSize),
		receiveQueue: newFIFOQueue[*Message](cfg.MessageReceiveQueueSize),
	}
}

func (c *UnreliableUnordered) ErrorLevel() ErrorLevel { return c.errorLevel }

func (c *UnreliableUnordered) setError(level ErrorLevel) {
	if c.errorLevel == ErrorNone {
		c.errorLevel = level
	}
}

func (c *UnreliableUnordered) AdvanceTime(now time.Time) { c.now = now }

func (c *UnreliableUnordered) CanSendMessage() bool {
	return c.errorLevel == ErrorNone
}

// HasMessagesToSend reports whether the send queue still holds anything —
// there is no "unacked" concept on this channel, so this is just non-empty.
func (c *UnreliableUnordered) HasMessagesToSend() bool {
	return !c.sendQueue.Empty()
}

// Send enqueues msg for best-effort delivery. If the send queue is already
// full, the oldest queued message is dropped to make room (spec §9 open
// question (a)) rather than rejecting the new one or blocking.
func (c *UnreliableUnordered) Send(msg *Message) {
	if c.errorLevel != ErrorNone {
		msg.Release()
		return
	}
	if c.sendQueue.Full() {
		if old, ok := c.sendQueue.Pop(); ok {
			old.Release()
			c.counters[CounterUnreliableDropped]++
		}
	}
	c.sendQueue.Push(msg)
	c.counters[CounterMessagesSent]++
}

// Receive dequeues the next arrived message, if any.
func (c *UnreliableUnordered) Receive() (*Message, bool) {
	if c.errorLevel != ErrorNone {
		return nil, false
	}
	msg, ok := c.receiveQueue.Pop()
	if ok {
		c.counters[CounterMessagesReceived]++
	}
	return msg, ok
}

// GeneratePacketData packs as many queued messages as fit in availableBits.
// A queued message too large for the remaining budget is dropped rather
// than deferred to a later tick (spec §4.4.2, §9 open question (a)).
func (c *UnreliableUnordered) GeneratePacketData(_ uint16, availableBits int) (*ChannelPacketData, int) {
	if c.errorLevel != ErrorNone || c.sendQueue.Empty() {
		return nil, 0
	}

	typeBits := bitstream.BitsRequired(0, int(c.factory.MaxMessageType()))
	bitsUsed := listOverheadBits + bitstream.BitsRequired(1, c.cfg.MaxMessagesPerPacket)

	var messages []*Message
	remaining := c.sendQueue.Len()
	for remaining > 0 && len(messages) < c.cfg.MaxMessagesPerPacket {
		msg, ok := c.sendQueue.Pop()
		if !ok {
			break
		}
		remaining--

		msgBits := typeBits + c.measureBodyBits(msg)
		msgBits += 1 // has-block flag
		if msg.Block != nil {
			msgBits += bitstream.BitsRequired(0, c.cfg.MaxBlockSize) + len(msg.Block)*8
		}
		if availableBits > 0 && bitsUsed+msgBits > availableBits {
			// Too large for this packet's remaining budget: dropped, not
			// deferred (spec §4.4, §9 open question (a)) — keep popping so a
			// later, smaller message still has a chance to pack.
			msg.Release()
			c.counters[CounterUnreliableDropped]++
			continue
		}
		bitsUsed += msgBits
		messages = append(messages, msg)
	}
	if len(messages) == 0 {
		return nil, 0
	}
	return &ChannelPacketData{Messages: messages}, bitsUsed
}

func (c *UnreliableUnordered) measureBodyBits(msg *Message) int {
	m := bitstream.NewMeasurer()
	_ = c.factory.Serialize(m, msg)
	return m.BitsProcessed()
}

// ProcessPacketData delivers every message in data, stamping its ID with
// the packet sequence it arrived in (spec §4.4.3: unreliable messages have
// no application-assigned id, so the packet sequence doubles as one).
func (c *UnreliableUnordered) ProcessPacketData(data *ChannelPacketData, packetSeq uint16) {
	if c.errorLevel != ErrorNone {
		return
	}
	if data.FailedToSerialize {
		c.setError(ErrorFailedToDeserialize)
		return
	}
	for _, msg := range data.Messages {
		msg.ID = packetSeq
		if c.receiveQueue.Full() {
			if old, ok := c.receiveQueue.Pop(); ok {
				old.Release()
				c.counters[CounterUnreliableDropped]++
			}
		}
		c.receiveQueue.Push(msg)
	}
}

// ProcessAck is a no-op: this channel never retransmits (spec §4.4).
func (c *UnreliableUnordered) ProcessAck(uint16) {}

func (c *UnreliableUnordered) ResetCounters() {
	for i := range c.counters {
		c.counters[i] = 0
	}
}

func (c *UnreliableUnordered) Counter(kind CounterKind) uint64 {
	if int(kind) < 0 || int(kind) >= len(c.counters) {
		return 0
	}
	return c.counters[kind]
}

// Reset releases every queued message and clears all state.
func (c *UnreliableUnordered) Reset() {
	for i := 0; i < c.sendQueue.Len(); i++ {
		if msg, ok := c.sendQueue.At(i); ok {
			msg.Release()
		}
	}
	for i := 0; i < c.receiveQueue.Len(); i++ {
		if msg, ok := c.receiveQueue.At(i); ok {
			msg.Release()
		}
	}
	c.sendQueue.Reset()
	c.receiveQueue.Reset()
	c.errorLevel = ErrorNone
	c.ResetCounters()
}

var _ Channel = (*UnreliableUnordered)(nil)
