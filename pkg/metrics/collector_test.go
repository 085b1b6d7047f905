package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/duskcode/netchannel/pkg/channel"
	"github.com/duskcode/netchannel/pkg/connection"
	"github.com/duskcode/netchannel/pkg/metrics"
)

func TestCollectorReportsSentCounter(t *testing.T) {
	cfg := connection.DefaultConfig(channel.TypeReliableOrdered)
	factory := channel.NewBytesMessageFactory(0, 64)
	conn, err := connection.New(cfg, factory)
	require.NoError(t, err)

	msg, err := factory.Create(0)
	require.NoError(t, err)
	conn.Channel(0).Send(msg)

	c := metrics.NewCollector("peer")
	c.Register("peer-a", conn, "peer-a")

	count := testutil.CollectAndCount(c)
	require.Greater(t, count, 0)
}

func TestCollectorUnregisterStopsReporting(t *testing.T) {
	cfg := connection.DefaultConfig(channel.TypeReliableOrdered)
	factory := channel.NewBytesMessageFactory(0, 64)
	conn, err := connection.New(cfg, factory)
	require.NoError(t, err)

	c := metrics.NewCollector("peer")
	c.Register("peer-a", conn, "peer-a")
	c.Unregister("peer-a")

	count := testutil.CollectAndCount(c)
	require.Equal(t, 0, count)
}
