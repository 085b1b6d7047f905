package channel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig(TypeReliableOrdered).Validate())
	require.NoError(t, DefaultConfig(TypeUnreliableUnordered).Validate())
}

func TestConfigValidateRejectsNonDivisorQueueSize(t *testing.T) {
	cfg := DefaultConfig(TypeReliableOrdered)
	cfg.MessageSendQueueSize = 1000
	require.Error(t, cfg.Validate())
}

func TestConfigMaxFragmentsPerBlock(t *testing.T) {
	cfg := DefaultConfig(TypeReliableOrdered)
	require.Equal(t, 256, cfg.MaxFragmentsPerBlock())
}

func TestErrorLevelString(t *testing.T) {
	require.Equal(t, "none", ErrorNone.String())
	require.Equal(t, "send_queue_full", ErrorSendQueueFull.String())
	require.Equal(t, "desync", ErrorDesync.String())
}
