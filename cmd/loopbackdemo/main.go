// Command loopbackdemo wires a pair of Connections over an in-process
// endpoint.LoopbackLink and drives the full generate/send/receive/ack tick
// loop end to end, adapted from the teacher's core/main.go bootstrap
// (banner, config load, signal-driven shutdown) and source/server/server.go's
// accept/update loop shape. It exposes /metrics via promhttp and logs
// through pkg/logging rather than writing a game server.
package main

import (
	"flag"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"

	"github.com/duskcode/netchannel/pkg/channel"
	"github.com/duskcode/netchannel/pkg/config"
	"github.com/duskcode/netchannel/pkg/connection"
	"github.com/duskcode/netchannel/pkg/endpoint"
	"github.com/duskcode/netchannel/pkg/logging"
	"github.com/duskcode/netchannel/pkg/metrics"
)

const version = "1.0.0"

func main() {
	logging.Section("netchannel loopback demo " + version)

	configPath := flag.String("config", "", "path to a connection TOML config (optional, defaults built in)")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	lossProbability := flag.Float64("loss", 0.1, "simulated one-way packet loss probability [0,1]")
	jitterMS := flag.Int("jitter-ms", 15, "simulated one-way jitter in milliseconds")
	tickInterval := flag.Duration("tick", 20*time.Millisecond, "simulation tick interval")
	flag.Parse()

	cfg, err := loadDemoConfig(*configPath)
	if err != nil {
		logging.Fatal("loading config: %v", err)
	}

	factory := channel.NewBytesMessageFactory(0, 1024)

	connA, err := connection.New(cfg, factory)
	if err != nil {
		logging.Fatal("building connection A: %v", err)
	}
	connB, err := connection.New(cfg, factory)
	if err != nil {
		logging.Fatal("building connection B: %v", err)
	}

	peerA := shortPeerID()
	peerB := shortPeerID()
	log := logging.With("loopbackdemo")
	log.Info("peer A id=%s uuid=%s", peerA, uuid.NewString())
	log.Info("peer B id=%s uuid=%s", peerB, uuid.NewString())

	collector := metrics.NewCollector("peer")
	collector.Register(peerA, connA, peerA)
	collector.Register(peerB, connB, peerB)
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		log.Info("serving metrics on %s", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped: %v", err)
		}
	}()

	now := time.Now()
	epA := endpoint.New(64)
	epB := endpoint.New(64)
	epA.SetProcess(func(seq uint16, payload []byte) bool { return connA.ProcessPacket(seq, payload) })
	epB.SetProcess(func(seq uint16, payload []byte) bool { return connB.ProcessPacket(seq, payload) })

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	link := endpoint.NewLoopbackLink(rng, *lossProbability, time.Duration(*jitterMS)*time.Millisecond)
	link.Connect(epA, epB, now)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(*tickInterval)
	defer ticker.Stop()

	var sent int
	log.Info("starting simulation loop, tick=%s loss=%.2f jitter=%dms", *tickInterval, *lossProbability, *jitterMS)

	for {
		select {
		case sig := <-sigChan:
			log.Warn("received signal %v, shutting down", sig)
			return
		case t := <-ticker.C:
			connA.AdvanceTime(t)
			connB.AdvanceTime(t)

			if msg, err := factory.Create(0); err == nil {
				msg.Body = []byte("ping")
				connA.Channel(0).Send(msg)
				sent++
			}

			if payload, ok := connA.GeneratePacket(epA.NextPacketSequence(), cfg.MaxPacketSize); ok && payload != nil {
				epA.SendPacket(payload)
			}
			if payload, ok := connB.GeneratePacket(epB.NextPacketSequence(), cfg.MaxPacketSize); ok && payload != nil {
				epB.SendPacket(payload)
			}

			link.Deliver(t)

			connA.ProcessAcks(epA.GetAcks())
			epA.ClearAcks()
			connB.ProcessAcks(epB.GetAcks())
			epB.ClearAcks()

			for {
				msg, ok := connB.Channel(0).Receive()
				if !ok {
					break
				}
				msg.Release()
			}

			if connA.ErrorLevel() != connection.ErrorNone {
				log.Error("connection A entered error state on channel %d", connA.FailingChannel())
				return
			}
			if connB.ErrorLevel() != connection.ErrorNone {
				log.Error("connection B entered error state on channel %d", connB.FailingChannel())
				return
			}
		}
	}
}

func loadDemoConfig(path string) (connection.Config, error) {
	if path == "" {
		return connection.DefaultConfig(channel.TypeReliableOrdered, channel.TypeUnreliableUnordered), nil
	}
	return config.LoadTOMLFile(path)
}

func shortPeerID() string { return xid.New().String() }
