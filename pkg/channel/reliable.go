package channel

import (
	"time"

	"github.com/duskcode/netchannel/pkg/bitstream"
	"github.com/duskcode/netchannel/pkg/seqnum"
)

// ReliableOrdered implements the reliable-ordered channel (spec §4.3):
// messages are assigned monotonically increasing ids on send, resent until
// acknowledged, and delivered to the application in id order regardless of
// arrival order. A message carrying a Block larger than the configured
// fragment size is split into fixed-size fragments and reassembled on
// receive; only one block may be in flight at a time, and while it is, Send
// still enqueues but no ordinary messages are transmitted until every
// fragment is acked (spec §4.3.5).
type ReliableOrdered struct {
	cfg     Config
	factory MessageFactory
	now     time.Time

	errorLevel ErrorLevel
	counters   [counterKindCount]uint64

	sendMessageID          uint16
	oldestUnackedMessageID uint16
	sendQueue              *SequenceBuffer[sendQueueEntry]

	receiveMessageID uint16
	receiveQueue     *SequenceBuffer[receiveQueueEntry]

	sentPackets *SequenceBuffer[sentPacketEntry]

	sendBlock    sendBlockState
	receiveBlock receiveBlockState
}

type sendQueueEntry struct {
	message      *Message
	timeLastSent time.Time
	block        bool
}

type receiveQueueEntry struct {
	message *Message
}

type sentPacketEntry struct {
	valid      bool
	isBlock    bool
	messageIDs []uint16
	fragmentID int
}

type sendBlockState struct {
	active                bool
	messageID             uint16
	messageType           uint16
	data                  []byte
	numFragments          int
	numAckedFragments     int
	ackedFragment         []bool
	fragmentTimeLastSent  []time.Time
}

type receiveBlockState struct {
	active           bool
	messageID        uint16
	messageType      uint16
	numFragments     int
	numReceived      int
	receivedFragment []bool
	fragments        [][]byte
	assembledMessage *Message
}

// NewReliableOrdered constructs a reliable-ordered channel. cfg.Type is
// ignored (the constructor you call already fixes it).
func NewReliableOrdered(cfg Config, factory MessageFactory) *ReliableOrdered {
	return &ReliableOrdered{
		cfg:          cfg,
		factory:      factory,
		sendQueue:    NewSequenceBuffer[sendQueueEntry](cfg.MessageSendQueueSize),
		receiveQueue: NewSequenceBuffer[receiveQueueEntry](cfg.MessageReceiveQueueSize),
		sentPackets:  NewSequenceBuffer[sentPacketEntry](cfg.SentPacketBufferSize),
	}
}

func (c *ReliableOrdered) ErrorLevel() ErrorLevel { return c.errorLevel }

func (c *ReliableOrdered) setError(level ErrorLevel) {
	if c.errorLevel == ErrorNone {
		c.errorLevel = level
	}
}

func (c *ReliableOrdered) AdvanceTime(now time.Time) { c.now = now }

func (c *ReliableOrdered) CanSendMessage() bool {
	return c.errorLevel == ErrorNone && c.sendQueue.Available(c.sendMessageID)
}

func (c *ReliableOrdered) HasMessagesToSend() bool {
	return c.sendMessageID != c.oldestUnackedMessageID
}

// Send assigns msg the next message id and enqueues it. If the channel is
// errored or the send queue is full (spec §4.3.2 "SendQueueFull"), the
// message is released immediately and never transmitted.
func (c *ReliableOrdered) Send(msg *Message) {
	if !c.CanSendMessage() {
		c.setError(ErrorSendQueueFull)
		msg.Release()
		return
	}
	msg.ID = c.sendMessageID
	isBlock := len(msg.Block) > 0
	if isBlock && len(msg.Block) > c.cfg.MaxBlockSize {
		c.setError(ErrorOutOfMemory)
		msg.Release()
		return
	}

	entry, ok := c.sendQueue.Insert(c.sendMessageID, true)
	if !ok {
		c.setError(ErrorSendQueueFull)
		msg.Release()
		return
	}
	*entry = sendQueueEntry{message: msg, block: isBlock}
	c.sendMessageID++
	c.counters[CounterMessagesSent]++
}

// Receive dequeues the next in-order delivered message, if any.
func (c *ReliableOrdered) Receive() (*Message, bool) {
	if c.errorLevel != ErrorNone {
		return nil, false
	}
	entry := c.receiveQueue.Find(c.receiveMessageID)
	if entry == nil || entry.message == nil {
		return nil, false
	}
	msg := entry.message
	c.receiveQueue.Remove(c.receiveMessageID)
	c.receiveMessageID++
	c.counters[CounterMessagesReceived]++
	return msg, true
}

const (
	listOverheadBits = 1 // "has messages" flag; count/firstID accounted separately
)

func (c *ReliableOrdered) messageTypeBits() int {
	return bitstream.BitsRequired(0, int(c.factory.MaxMessageType()))
}

func (c *ReliableOrdered) measureBodyBits(msg *Message) int {
	m := bitstream.NewMeasurer()
	_ = c.factory.Serialize(m, msg)
	return m.BitsProcessed()
}

func relativeIDBits(prev, cur uint16) int {
	delta := int(cur - prev)
	if delta >= 0 && delta <= 255 {
		return 1 + 8
	}
	return 1 + 16
}

// GeneratePacketData emits either the next due block fragment or a batch of
// due ordinary messages, whichever applies this tick (spec §4.3.4, §4.3.5).
func (c *ReliableOrdered) GeneratePacketData(packetSeq uint16, availableBits int) (*ChannelPacketData, int) {
	if c.errorLevel != ErrorNone {
		return nil, 0
	}

	c.maybeStartBlock()
	if c.sendBlock.active {
		return c.generateBlockFragment(packetSeq, availableBits)
	}
	return c.generateMessageList(packetSeq, availableBits)
}

// maybeStartBlock begins fragmenting the oldest unacked message if it
// carries a block and no block send is already in progress.
func (c *ReliableOrdered) maybeStartBlock() {
	if c.sendBlock.active {
		return
	}
	if c.oldestUnackedMessageID == c.sendMessageID {
		return
	}
	entry := c.sendQueue.Find(c.oldestUnackedMessageID)
	if entry == nil || !entry.block {
		return
	}
	data := entry.message.Block
	numFragments := (len(data) + c.cfg.BlockFragmentSize - 1) / c.cfg.BlockFragmentSize
	if numFragments == 0 {
		numFragments = 1
	}
	c.sendBlock = sendBlockState{
		active:               true,
		messageID:            c.oldestUnackedMessageID,
		messageType:          entry.message.Type,
		data:                 data,
		numFragments:         numFragments,
		ackedFragment:        make([]bool, numFragments),
		fragmentTimeLastSent: make([]time.Time, numFragments),
	}
}

func (c *ReliableOrdered) generateBlockFragment(packetSeq uint16, availableBits int) (*ChannelPacketData, int) {
	sb := &c.sendBlock
	fragmentID := -1
	for i := 0; i < sb.numFragments; i++ {
		if sb.ackedFragment[i] {
			continue
		}
		if sb.fragmentTimeLastSent[i].IsZero() || c.now.Sub(sb.fragmentTimeLastSent[i]) >= c.cfg.BlockFragmentResendTime {
			fragmentID = i
			break
		}
	}
	if fragmentID < 0 {
		return nil, 0
	}

	start := fragmentID * c.cfg.BlockFragmentSize
	end := start + c.cfg.BlockFragmentSize
	if end > len(sb.data) {
		end = len(sb.data)
	}
	fragmentData := sb.data[start:end]

	entry := c.sendQueue.Find(sb.messageID)
	var msg *Message
	if fragmentID == 0 && entry != nil {
		msg = entry.message
	}

	bitsUsed := 16 // message id
	if c.cfg.MaxFragmentsPerBlock() > 1 {
		bitsUsed += bitstream.BitsRequired(1, c.cfg.MaxFragmentsPerBlock())
	}
	if sb.numFragments > 1 {
		bitsUsed += bitstream.BitsRequired(0, sb.numFragments-1)
	}
	bitsUsed += bitstream.BitsRequired(1, c.cfg.BlockFragmentSize)
	bitsUsed += len(fragmentData) * 8
	if fragmentID == 0 {
		bitsUsed += c.messageTypeBits()
		if msg != nil {
			bitsUsed += c.measureBodyBits(msg)
		}
	}
	if availableBits > 0 && bitsUsed > availableBits {
		return nil, 0
	}

	sb.fragmentTimeLastSent[fragmentID] = c.now
	if se, ok := c.sentPackets.Insert(packetSeq, true); ok {
		*se = sentPacketEntry{valid: true, isBlock: true, fragmentID: fragmentID}
	}

	return &ChannelPacketData{
		IsBlock: true,
		Block: &BlockFragmentData{
			MessageID:    sb.messageID,
			FragmentID:   fragmentID,
			NumFragments: sb.numFragments,
			MessageType:  sb.messageType,
			FragmentData: fragmentData,
			Message:      msg,
		},
	}, bitsUsed
}

func (c *ReliableOrdered) generateMessageList(packetSeq uint16, availableBits int) (*ChannelPacketData, int) {
	var messages []*Message
	var ids []uint16
	bitsUsed := listOverheadBits + bitstream.BitsRequired(1, c.cfg.MaxMessagesPerPacket)

	for id := c.oldestUnackedMessageID; id != c.sendMessageID; id++ {
		if len(messages) >= c.cfg.MaxMessagesPerPacket {
			break
		}
		entry := c.sendQueue.Find(id)
		if entry == nil {
			continue
		}
		if entry.block {
			// A block can only travel fragment-by-fragment; stop the list
			// here so ordering at the receiver stays well-defined.
			break
		}
		if !entry.timeLastSent.IsZero() && c.now.Sub(entry.timeLastSent) < c.cfg.MessageResendTime {
			continue
		}

		msgBits := c.messageTypeBits() + c.measureBodyBits(entry.message)
		if len(ids) == 0 {
			msgBits += 16
		} else {
			msgBits += relativeIDBits(ids[len(ids)-1], id)
		}
		if availableBits > 0 && bitsUsed+msgBits > availableBits {
			break
		}

		entry.timeLastSent = c.now
		messages = append(messages, entry.message)
		ids = append(ids, id)
		bitsUsed += msgBits
	}

	if len(messages) == 0 {
		return nil, 0
	}

	if se, ok := c.sentPackets.Insert(packetSeq, true); ok {
		*se = sentPacketEntry{valid: true, messageIDs: ids}
	}

	return &ChannelPacketData{Messages: messages}, bitsUsed
}

// ProcessPacketData integrates one received entry (spec §4.3.6, §4.3.7).
func (c *ReliableOrdered) ProcessPacketData(data *ChannelPacketData, _ uint16) {
	if c.errorLevel != ErrorNone {
		return
	}
	if data.FailedToSerialize {
		c.setError(ErrorFailedToDeserialize)
		return
	}
	if data.IsBlock {
		if c.cfg.DisableBlocks {
			c.setError(ErrorBlocksDisabled)
			return
		}
		c.processBlockFragment(data.Block)
		return
	}
	for _, msg := range data.Messages {
		c.processMessage(msg)
	}
}

func (c *ReliableOrdered) processMessage(msg *Message) {
	if seqnum.LessThan(msg.ID, c.receiveMessageID) || c.receiveQueue.Exists(msg.ID) {
		msg.Release()
		return
	}
	if seqnum.GreaterThan(msg.ID, c.receiveMessageID+uint16(c.cfg.MessageReceiveQueueSize)-1) {
		c.setError(ErrorDesync)
		msg.Release()
		return
	}
	if !c.receiveQueue.Available(msg.ID) && !c.receiveQueue.Exists(msg.ID) {
		// Slot occupied by something else still pending delivery: treat as
		// a receive-window violation rather than silently dropping state.
		c.setError(ErrorDesync)
		msg.Release()
		return
	}
	entry, ok := c.receiveQueue.Insert(msg.ID, false)
	if !ok {
		msg.Release()
		return
	}
	*entry = receiveQueueEntry{message: msg}
}

func (c *ReliableOrdered) processBlockFragment(block *BlockFragmentData) {
	rb := &c.receiveBlock
	if !rb.active {
		if seqnum.LessThan(block.MessageID, c.receiveMessageID) {
			return
		}
		if block.NumFragments <= 0 || block.NumFragments > c.cfg.MaxFragmentsPerBlock() {
			c.setError(ErrorDesync)
			return
		}
		*rb = receiveBlockState{
			active:           true,
			messageID:        block.MessageID,
			messageType:      block.MessageType,
			numFragments:     block.NumFragments,
			receivedFragment: make([]bool, block.NumFragments),
			fragments:        make([][]byte, block.NumFragments),
		}
	}
	if block.MessageID != rb.messageID {
		// A fragment for a different message while one is in flight
		// violates the one-block-at-a-time invariant.
		c.setError(ErrorDesync)
		return
	}
	if block.FragmentID < 0 || block.FragmentID >= rb.numFragments {
		c.setError(ErrorDesync)
		return
	}
	if rb.receivedFragment[block.FragmentID] {
		return
	}
	buf := make([]byte, len(block.FragmentData))
	copy(buf, block.FragmentData)
	rb.fragments[block.FragmentID] = buf
	rb.receivedFragment[block.FragmentID] = true
	rb.numReceived++

	if block.FragmentID == 0 && block.Message != nil {
		rb.messageType = block.Message.Type
		if rb.assembledMessage == nil {
			rb.assembledMessage = block.Message
		} else {
			block.Message.Release()
		}
	}

	if rb.numReceived < rb.numFragments {
		return
	}

	total := 0
	for _, f := range rb.fragments {
		total += len(f)
	}
	if total > c.cfg.MaxBlockSize {
		c.setError(ErrorDesync)
		*rb = receiveBlockState{}
		return
	}
	assembled := make([]byte, 0, total)
	for _, f := range rb.fragments {
		assembled = append(assembled, f...)
	}

	msg := rb.assembledMessage
	if msg == nil {
		msg = NewMessage(rb.messageType)
	}
	msg.ID = rb.messageID
	msg.Block = assembled

	if seqnum.GreaterThanOrEqual(msg.ID, c.receiveMessageID) && !c.receiveQueue.Exists(msg.ID) {
		entry, ok := c.receiveQueue.Insert(msg.ID, false)
		if ok {
			*entry = receiveQueueEntry{message: msg}
		} else {
			msg.Release()
		}
	} else {
		msg.Release()
	}
	*rb = receiveBlockState{}
}

// ProcessAck marks packetSeq's contents acknowledged and retires any fully
// acked messages or block fragments (spec §4.3.8).
func (c *ReliableOrdered) ProcessAck(packetSeq uint16) {
	entry := c.sentPackets.Find(packetSeq)
	if entry == nil || !entry.valid {
		return
	}
	entry.valid = false

	if entry.isBlock {
		c.ackBlockFragment(entry.fragmentID)
	} else {
		for _, id := range entry.messageIDs {
			if sq := c.sendQueue.Find(id); sq != nil {
				sq.message.Release()
				c.sendQueue.Remove(id)
			}
		}
	}
	c.advanceOldestUnacked()
}

func (c *ReliableOrdered) ackBlockFragment(fragmentID int) {
	sb := &c.sendBlock
	if !sb.active || fragmentID < 0 || fragmentID >= sb.numFragments {
		return
	}
	if sb.ackedFragment[fragmentID] {
		return
	}
	sb.ackedFragment[fragmentID] = true
	sb.numAckedFragments++
	if sb.numAckedFragments < sb.numFragments {
		return
	}
	if sq := c.sendQueue.Find(sb.messageID); sq != nil {
		sq.message.Release()
		c.sendQueue.Remove(sb.messageID)
	}
	c.sendBlock = sendBlockState{}
}

func (c *ReliableOrdered) advanceOldestUnacked() {
	for c.oldestUnackedMessageID != c.sendMessageID {
		if c.sendQueue.Find(c.oldestUnackedMessageID) != nil {
			break
		}
		c.oldestUnackedMessageID++
	}
}

func (c *ReliableOrdered) ResetCounters() {
	for i := range c.counters {
		c.counters[i] = 0
	}
}

func (c *ReliableOrdered) Counter(kind CounterKind) uint64 {
	if int(kind) < 0 || int(kind) >= len(c.counters) {
		return 0
	}
	return c.counters[kind]
}

// Reset releases every owned message and fragment buffer and zeros all
// channel state (spec §5 "Reset semantics").
func (c *ReliableOrdered) Reset() {
	for i := 0; i < c.sendQueue.Capacity(); i++ {
		if e, _, ok := c.sendQueue.GetAtIndex(i); ok {
			e.message.Release()
		}
	}
	for i := 0; i < c.receiveQueue.Capacity(); i++ {
		if e, _, ok := c.receiveQueue.GetAtIndex(i); ok {
			e.message.Release()
		}
	}
	if c.receiveBlock.assembledMessage != nil {
		c.receiveBlock.assembledMessage.Release()
	}

	c.sendQueue.Reset()
	c.receiveQueue.Reset()
	c.sentPackets.Reset()
	c.sendMessageID = 0
	c.oldestUnackedMessageID = 0
	c.receiveMessageID = 0
	c.sendBlock = sendBlockState{}
	c.receiveBlock = receiveBlockState{}
	c.errorLevel = ErrorNone
	c.ResetCounters()
}

var _ Channel = (*ReliableOrdered)(nil)
