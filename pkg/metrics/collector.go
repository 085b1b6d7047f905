// Package metrics exposes connection and channel state as Prometheus
// metrics via a custom prometheus.Collector, rather than a static set of
// package-level vectors: connections are registered and unregistered at
// runtime as peers connect and disconnect, and Collect walks the live set
// on every scrape (mirroring the connection-set collector pattern in the
// pack's socket-stats exporter).
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/duskcode/netchannel/pkg/channel"
	"github.com/duskcode/netchannel/pkg/connection"
)

type registeredConnection struct {
	conn   *connection.Connection
	labels []string
}

// Collector reports per-channel message counters and a per-connection
// error-level gauge for every registered connection.
type Collector struct {
	mu          sync.Mutex
	conns       map[string]registeredConnection
	labelNames  []string
	messagesSent     *prometheus.Desc
	messagesReceived *prometheus.Desc
	messagesDropped  *prometheus.Desc
	errorLevel       *prometheus.Desc
}

// NewCollector returns a Collector whose per-connection metrics are
// labeled with labelNames (e.g. "peer") in addition to a fixed "channel"
// label.
func NewCollector(labelNames ...string) *Collector {
	withChannel := append(append([]string{}, labelNames...), "channel")
	return &Collector{
		conns:      make(map[string]registeredConnection),
		labelNames: labelNames,
		messagesSent: prometheus.NewDesc(
			"netchannel_messages_sent_total", "Messages accepted by Send on a channel.",
			withChannel, nil),
		messagesReceived: prometheus.NewDesc(
			"netchannel_messages_received_total", "Messages delivered by Receive on a channel.",
			withChannel, nil),
		messagesDropped: prometheus.NewDesc(
			"netchannel_messages_dropped_total", "Unreliable messages dropped on queue overflow or for lack of packet budget.",
			withChannel, nil),
		errorLevel: prometheus.NewDesc(
			"netchannel_connection_error_level", "Connection ErrorLevel (0=none, 1=channel_error, 2=read_packet_failed).",
			labelNames, nil),
	}
}

// Register adds conn under id, reporting the given label values (matched
// positionally to the labelNames passed to NewCollector) on every metric
// this connection contributes.
func (c *Collector) Register(id string, conn *connection.Connection, labelValues ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[id] = registeredConnection{conn: conn, labels: labelValues}
}

// Unregister removes a connection, e.g. on peer disconnect.
func (c *Collector) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, id)
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.messagesSent
	descs <- c.messagesReceived
	descs <- c.messagesDropped
	descs <- c.errorLevel
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rc := range c.conns {
		metrics <- prometheus.MustNewConstMetric(
			c.errorLevel, prometheus.GaugeValue, float64(rc.conn.ErrorLevel()), rc.labels...)

		for i := 0; i < rc.conn.NumChannels(); i++ {
			ch := rc.conn.Channel(i)
			labels := append(append([]string{}, rc.labels...), channelLabel(i))

			metrics <- prometheus.MustNewConstMetric(
				c.messagesSent, prometheus.CounterValue, float64(ch.Counter(channel.CounterMessagesSent)), labels...)
			metrics <- prometheus.MustNewConstMetric(
				c.messagesReceived, prometheus.CounterValue, float64(ch.Counter(channel.CounterMessagesReceived)), labels...)
			metrics <- prometheus.MustNewConstMetric(
				c.messagesDropped, prometheus.CounterValue, float64(ch.Counter(channel.CounterUnreliableDropped)), labels...)
		}
	}
}

func channelLabel(i int) string { return strconv.Itoa(i) }

var _ prometheus.Collector = (*Collector)(nil)
