// Package connection composes independent channels into the per-peer
// message connection core (spec §4.6): it owns the channel set, allocates
// each packet's bit budget across them, and routes packets and acks between
// the channels and the packet sequencing endpoint that actually puts bytes
// on the wire.
package connection

import (
	"fmt"
	"time"

	"github.com/duskcode/netchannel/pkg/bitstream"
	"github.com/duskcode/netchannel/pkg/channel"
)

// Conservative bit reservations (spec §6): budget estimates used while
// allocating packet space, intentionally generous so a channel never
// under-reserves and overflows the wire buffer.
const (
	ConservativePacketHeaderBits  = 16
	ConservativeChannelHeaderBits = 32
	ConservativeMessageHeaderBits = 32
	ConservativeFragmentHeaderBits = 64
)

// ErrorLevel is the connection's own sticky state (spec §7), distinct from
// (but driven by) its channels' individual error levels.
type ErrorLevel int

const (
	ErrorNone ErrorLevel = iota
	// ErrorChannelState means at least one owned channel transitioned to a
	// non-None error level; FailingChannel reports which.
	ErrorChannelState
	// ErrorReadPacketFailed means ProcessPacket could not even deserialize
	// the packet (entry count, channel index, or a channel's entry) — the
	// packet never reached a channel to attribute blame to.
	ErrorReadPacketFailed
)

func (e ErrorLevel) String() string {
	switch e {
	case ErrorChannelState:
		return "channel_error"
	case ErrorReadPacketFailed:
		return "read_packet_failed"
	default:
		return "none"
	}
}

// Config is ConnectionConfig (spec §6).
type Config struct {
	NumChannels   int
	MaxPacketSize int
	Channels      []channel.Config
}

// DefaultConfig returns a Config with numChannels channels, each using
// channel.DefaultConfig for the given type.
func DefaultConfig(types ...channel.Type) Config {
	cfgs := make([]channel.Config, len(types))
	for i, t := range types {
		cfgs[i] = channel.DefaultConfig(t)
	}
	return Config{
		NumChannels:   len(types),
		MaxPacketSize: 8 * 1024,
		Channels:      cfgs,
	}
}

// Validate checks the invariants spec §6 imposes on channel count and
// per-channel config.
func (c Config) Validate() error {
	if c.NumChannels < 1 || c.NumChannels > 64 {
		return fmt.Errorf("connection: numChannels %d out of range [1,64]", c.NumChannels)
	}
	if len(c.Channels) != c.NumChannels {
		return fmt.Errorf("connection: got %d channel configs, want %d", len(c.Channels), c.NumChannels)
	}
	for i, cc := range c.Channels {
		if err := cc.Validate(); err != nil {
			return fmt.Errorf("connection: channel %d: %w", i, err)
		}
	}
	return nil
}

// Connection owns channels[0..numChannels) and multiplexes them over one
// packet-sequenced peer link (spec §4.6).
type Connection struct {
	cfg      Config
	channels []channel.Channel
	factory  channel.MessageFactory

	errorLevel     ErrorLevel
	failingChannel int
}

// New builds a Connection from cfg, constructing one channel instance per
// cfg.Channels entry using factory for message (de)serialization.
func New(cfg Config, factory channel.MessageFactory) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	chans := make([]channel.Channel, cfg.NumChannels)
	for i, cc := range cfg.Channels {
		switch cc.Type {
		case channel.TypeReliableOrdered:
			chans[i] = channel.NewReliableOrdered(cc, factory)
		case channel.TypeUnreliableUnordered:
			chans[i] = channel.NewUnreliableUnordered(cc, factory)
		default:
			return nil, fmt.Errorf("connection: channel %d has unknown type %v", i, cc.Type)
		}
	}
	return &Connection{cfg: cfg, channels: chans, factory: factory, failingChannel: -1}, nil
}

// Channel returns the channel at index i, for application code that wants
// to Send/Receive directly on it.
func (c *Connection) Channel(i int) channel.Channel { return c.channels[i] }

// NumChannels reports the configured channel count.
func (c *Connection) NumChannels() int { return len(c.channels) }

func (c *Connection) ErrorLevel() ErrorLevel { return c.errorLevel }

// FailingChannel returns the index of the channel that tripped
// ErrorChannelState, or -1 if the connection is healthy.
func (c *Connection) FailingChannel() int { return c.failingChannel }

// GeneratePacket asks each channel in turn for its payload for packetSeq,
// greedily allocating the shrinking remaining bit budget, and serializes
// whatever channels had something to say into a packet of at most
// maxPacketSize bytes (spec §4.6).
func (c *Connection) GeneratePacket(packetSeq uint16, maxPacketSize int) ([]byte, bool) {
	if maxPacketSize <= 0 {
		maxPacketSize = c.cfg.MaxPacketSize
	}
	availableBits := maxPacketSize*8 - ConservativePacketHeaderBits

	type entry struct {
		index int
		data  *channel.ChannelPacketData
	}
	var entries []entry

	for i, ch := range c.channels {
		availableBits -= ConservativeChannelHeaderBits
		if availableBits <= 0 {
			break
		}
		budget := availableBits
		if pb := c.cfg.Channels[i].PacketBudget; pb > 0 && pb*8 < budget {
			budget = pb * 8
		}
		data, bits := ch.GeneratePacketData(packetSeq, budget)
		if data == nil {
			continue
		}
		data.ChannelIndex = i
		entries = append(entries, entry{index: i, data: data})
		availableBits -= bits
	}

	if len(entries) == 0 {
		return nil, true
	}

	// The channel index is framed around each entry at this layer (not by
	// the per-channel codec) because the codec needs that channel's limits
	// chosen before it can parse the rest of the entry on the read side.
	limits := channel.PacketDataLimits{NumChannels: 1}
	w := bitstream.NewWriter(maxPacketSize * 8)
	count := len(entries)
	if err := w.SerializeInt(&count, 0, len(c.channels)); err != nil {
		return nil, false
	}
	for _, e := range entries {
		idx := e.index
		if len(c.channels) > 1 {
			if err := w.SerializeInt(&idx, 0, len(c.channels)-1); err != nil {
				return nil, false
			}
		}
		limits.Reliable = c.cfg.Channels[e.index].Type == channel.TypeReliableOrdered
		limits.MaxMessagesPerPacket = c.cfg.Channels[e.index].MaxMessagesPerPacket
		limits.MaxFragmentsPerBlock = c.cfg.Channels[e.index].MaxFragmentsPerBlock()
		limits.BlockFragmentSize = c.cfg.Channels[e.index].BlockFragmentSize
		limits.MaxBlockSize = c.cfg.Channels[e.index].MaxBlockSize
		if err := channel.WriteChannelPacketData(w, e.data, limits, c.factory); err != nil {
			return nil, false
		}
	}
	if w.Err() != nil {
		return nil, false
	}
	return w.Flush(), true
}

// ProcessPacket deserializes buf and dispatches each entry to its channel
// (spec §4.6). A channel that trips its own error is not surfaced here —
// that happens on the next AdvanceTime — so a single bad packet never
// aborts processing the rest of its entries. A packet that can't even be
// deserialized (entry count, channel index, or a channel's entry) latches
// ErrorReadPacketFailed (spec §3, §7) since there's no channel to blame it
// on instead.
func (c *Connection) ProcessPacket(packetSeq uint16, buf []byte) bool {
	if c.errorLevel != ErrorNone {
		return false
	}

	r := bitstream.NewReader(buf, len(buf)*8)
	count := 0
	if err := r.SerializeInt(&count, 0, len(c.channels)); err != nil {
		c.errorLevel = ErrorReadPacketFailed
		return false
	}

	limits := channel.PacketDataLimits{NumChannels: 1}
	for i := 0; i < count; i++ {
		idx := 0
		if len(c.channels) > 1 {
			if err := r.SerializeInt(&idx, 0, len(c.channels)-1); err != nil {
				c.errorLevel = ErrorReadPacketFailed
				return false
			}
		}
		if idx < 0 || idx >= len(c.channels) {
			c.errorLevel = ErrorReadPacketFailed
			return false
		}
		cc := c.cfg.Channels[idx]
		limits.Reliable = cc.Type == channel.TypeReliableOrdered
		limits.MaxMessagesPerPacket = cc.MaxMessagesPerPacket
		limits.MaxFragmentsPerBlock = cc.MaxFragmentsPerBlock()
		limits.BlockFragmentSize = cc.BlockFragmentSize
		limits.MaxBlockSize = cc.MaxBlockSize

		data, err := channel.ReadChannelPacketData(r, limits, c.factory)
		if err != nil {
			c.errorLevel = ErrorReadPacketFailed
			return false
		}
		c.channels[idx].ProcessPacketData(data, packetSeq)
	}
	return true
}

// ProcessAcks forwards every acked packet sequence to every channel (spec
// §4.6) — each channel decides independently whether it sent anything in
// that packet worth retiring.
func (c *Connection) ProcessAcks(acks []uint16) {
	for _, ack := range acks {
		for _, ch := range c.channels {
			ch.ProcessAck(ack)
		}
	}
}

// AdvanceTime forwards now to every channel, then latches ErrorChannelState
// if any channel is no longer healthy (spec §4.6, §7). Once latched, further
// calls are no-ops — a connection does not self-heal.
func (c *Connection) AdvanceTime(now time.Time) {
	if c.errorLevel != ErrorNone {
		return
	}
	for i, ch := range c.channels {
		ch.AdvanceTime(now)
		if ch.ErrorLevel() != channel.ErrorNone {
			c.errorLevel = ErrorChannelState
			c.failingChannel = i
			return
		}
	}
}

// Reset forwards to every channel and clears the connection's own error
// state (spec §5).
func (c *Connection) Reset() {
	for _, ch := range c.channels {
		ch.Reset()
	}
	c.errorLevel = ErrorNone
	c.failingChannel = -1
}
