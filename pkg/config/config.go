// Package config loads ConnectionConfig/ChannelConfig knobs (spec §6) from a
// TOML file or from a generic map, the two shapes a host application is
// likely to already have them in (a deployment config file, or a
// loosely-typed options map decoded from some other wire protocol).
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"

	"github.com/duskcode/netchannel/pkg/channel"
	"github.com/duskcode/netchannel/pkg/connection"
)

// ChannelSpec is the TOML/map-friendly mirror of channel.Config: durations
// are plain milliseconds and the type is a short name rather than an enum,
// since neither format round-trips time.Duration or an integer iota enum
// cleanly.
type ChannelSpec struct {
	Type                    string `toml:"type" mapstructure:"type"`
	DisableBlocks           bool   `toml:"disable_blocks" mapstructure:"disable_blocks"`
	SentPacketBufferSize    int    `toml:"sent_packet_buffer_size" mapstructure:"sent_packet_buffer_size"`
	MessageSendQueueSize    int    `toml:"message_send_queue_size" mapstructure:"message_send_queue_size"`
	MessageReceiveQueueSize int    `toml:"message_receive_queue_size" mapstructure:"message_receive_queue_size"`
	MaxMessagesPerPacket    int    `toml:"max_messages_per_packet" mapstructure:"max_messages_per_packet"`
	PacketBudget            int    `toml:"packet_budget" mapstructure:"packet_budget"`
	MaxBlockSize            int    `toml:"max_block_size" mapstructure:"max_block_size"`
	BlockFragmentSize       int    `toml:"block_fragment_size" mapstructure:"block_fragment_size"`
	MessageResendTimeMS     int    `toml:"message_resend_time_ms" mapstructure:"message_resend_time_ms"`
	BlockFragmentResendMS   int    `toml:"block_fragment_resend_time_ms" mapstructure:"block_fragment_resend_time_ms"`
}

// ConnectionSpec is the file/map-friendly mirror of connection.Config.
type ConnectionSpec struct {
	MaxPacketSize int           `toml:"max_packet_size" mapstructure:"max_packet_size"`
	Channels      []ChannelSpec `toml:"channel" mapstructure:"channels"`
}

func (s ChannelSpec) toChannelConfig() (channel.Config, error) {
	cfg := channel.DefaultConfig(channel.TypeReliableOrdered)
	switch s.Type {
	case "reliable_ordered", "":
		cfg.Type = channel.TypeReliableOrdered
	case "unreliable_unordered":
		cfg.Type = channel.TypeUnreliableUnordered
	default:
		return channel.Config{}, fmt.Errorf("config: unknown channel type %q", s.Type)
	}
	cfg.DisableBlocks = s.DisableBlocks
	if s.SentPacketBufferSize > 0 {
		cfg.SentPacketBufferSize = s.SentPacketBufferSize
	}
	if s.MessageSendQueueSize > 0 {
		cfg.MessageSendQueueSize = s.MessageSendQueueSize
	}
	if s.MessageReceiveQueueSize > 0 {
		cfg.MessageReceiveQueueSize = s.MessageReceiveQueueSize
	}
	if s.MaxMessagesPerPacket > 0 {
		cfg.MaxMessagesPerPacket = s.MaxMessagesPerPacket
	}
	if s.PacketBudget != 0 {
		cfg.PacketBudget = s.PacketBudget
	}
	if s.MaxBlockSize > 0 {
		cfg.MaxBlockSize = s.MaxBlockSize
	}
	if s.BlockFragmentSize > 0 {
		cfg.BlockFragmentSize = s.BlockFragmentSize
	}
	if s.MessageResendTimeMS > 0 {
		cfg.MessageResendTime = time.Duration(s.MessageResendTimeMS) * time.Millisecond
	}
	if s.BlockFragmentResendMS > 0 {
		cfg.BlockFragmentResendTime = time.Duration(s.BlockFragmentResendMS) * time.Millisecond
	}
	return cfg, nil
}

func (s ConnectionSpec) toConnectionConfig() (connection.Config, error) {
	if len(s.Channels) == 0 {
		return connection.Config{}, fmt.Errorf("config: at least one channel is required")
	}
	cfg := connection.Config{
		NumChannels:   len(s.Channels),
		MaxPacketSize: s.MaxPacketSize,
		Channels:      make([]channel.Config, len(s.Channels)),
	}
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = 8 * 1024
	}
	for i, cs := range s.Channels {
		cc, err := cs.toChannelConfig()
		if err != nil {
			return connection.Config{}, fmt.Errorf("config: channel %d: %w", i, err)
		}
		cfg.Channels[i] = cc
	}
	return cfg, nil
}

// LoadTOMLFile reads path and decodes it into a connection.Config, grounded
// in the same BurntSushi/toml decode-into-struct approach the pack's
// TOML-driven repo uses for its own settings file.
func LoadTOMLFile(path string) (connection.Config, error) {
	var spec ConnectionSpec
	if _, err := toml.DecodeFile(path, &spec); err != nil {
		return connection.Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return spec.toConnectionConfig()
}

// FromMap decodes a generic map (e.g. parsed from JSON-RPC init params) into
// a connection.Config via mapstructure, for embedding applications that
// already hold their configuration as map[string]any rather than a file on
// disk.
func FromMap(raw map[string]any) (connection.Config, error) {
	var spec ConnectionSpec
	if err := mapstructure.Decode(raw, &spec); err != nil {
		return connection.Config{}, fmt.Errorf("config: decode map: %w", err)
	}
	return spec.toConnectionConfig()
}
