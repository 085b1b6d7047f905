package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duskcode/netchannel/pkg/channel"
	"github.com/duskcode/netchannel/pkg/config"
)

const sampleTOML = `
max_packet_size = 4096

[[channel]]
type = "reliable_ordered"
message_send_queue_size = 256
message_receive_queue_size = 256
sent_packet_buffer_size = 256

[[channel]]
type = "unreliable_unordered"
message_send_queue_size = 256
message_receive_queue_size = 256
sent_packet_buffer_size = 256
`

func TestLoadTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connection.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTOML), 0o644))

	cfg, err := config.LoadTOMLFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.NumChannels)
	require.Equal(t, 4096, cfg.MaxPacketSize)
	require.Equal(t, channel.TypeReliableOrdered, cfg.Channels[0].Type)
	require.Equal(t, channel.TypeUnreliableUnordered, cfg.Channels[1].Type)
	require.NoError(t, cfg.Validate())
}

func TestFromMap(t *testing.T) {
	raw := map[string]any{
		"max_packet_size": 2048,
		"channels": []map[string]any{
			{
				"type":                        "reliable_ordered",
				"message_send_queue_size":     512,
				"message_receive_queue_size":  512,
				"sent_packet_buffer_size":     512,
			},
		},
	}

	cfg, err := config.FromMap(raw)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.NumChannels)
	require.Equal(t, 2048, cfg.MaxPacketSize)
	require.NoError(t, cfg.Validate())
}

func TestFromMapRejectsUnknownChannelType(t *testing.T) {
	raw := map[string]any{
		"channels": []map[string]any{{"type": "bogus"}},
	}
	_, err := config.FromMap(raw)
	require.Error(t, err)
}
