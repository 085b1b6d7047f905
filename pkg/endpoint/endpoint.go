// Package endpoint is the reference "packet sequencing endpoint" collaborator
// the connection core assumes but does not implement (spec §6 "Downward
// interfaces consumed from external collaborators"): it assigns outgoing
// packet sequence numbers, frames each datagram with a small ack header,
// decodes that header on receive to learn which of its own prior sends the
// peer has seen, and hands the inner payload to the registered
// processPacketFn — which is where connection.ProcessPacket gets called.
//
// A LoopbackLink wires two endpoints together in-process with seeded packet
// loss and jitter, standing in for a real UDP socket so the reliability
// algorithms in package channel can be driven and tested end to end without
// a network.
package endpoint

import (
	"math/rand"
	"sync"
	"time"

	"github.com/duskcode/netchannel/pkg/bitstream"
	"github.com/duskcode/netchannel/pkg/channel"
	"github.com/duskcode/netchannel/pkg/seqnum"
)

// TransmitFunc is called with a fully framed datagram ready for the wire.
type TransmitFunc func(seq uint16, framed []byte)

// ProcessFunc is invoked with a reassembled inbound payload (the endpoint's
// own header already stripped). A false return means the payload was
// rejected (e.g. the connection is already errored).
type ProcessFunc func(seq uint16, payload []byte) bool

const ackWindowBits = 32

// Endpoint assigns send sequence numbers, frames/unframes the tiny
// sequence+ack header around each datagram, and exposes acks accumulated
// from inbound traffic for the owning Connection to consume via
// ProcessAcks.
type Endpoint struct {
	mu sync.Mutex

	nextSendSeq uint16
	received    *channel.SequenceBuffer[struct{}]
	hasReceived bool
	lastReceived uint16

	acks []uint16

	transmit TransmitFunc
	process  ProcessFunc

	counters struct {
		sent, received, acksGranted uint64
	}
}

// New returns an Endpoint with a receive window sized recvWindow (how many
// recent inbound sequences it remembers for its own outgoing ack header).
func New(recvWindow int) *Endpoint {
	if recvWindow < ackWindowBits+1 {
		recvWindow = ackWindowBits + 1
	}
	return &Endpoint{received: channel.NewSequenceBuffer[struct{}](recvWindow)}
}

// SetTransmit registers the wire-send callback (spec §6 transmitPacketFn).
func (e *Endpoint) SetTransmit(fn TransmitFunc) { e.transmit = fn }

// SetProcess registers the inbound-payload callback (spec §6
// processPacketFn) — this is where connection.ProcessPacket belongs.
func (e *Endpoint) SetProcess(fn ProcessFunc) { e.process = fn }

// NextPacketSequence returns the sequence the next SendPacket call will use,
// without consuming it — callers pass this same value to
// Connection.GeneratePacket so the channel payload and the framing header
// agree on the sequence.
func (e *Endpoint) NextPacketSequence() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextSendSeq
}

// SendPacket frames payload with this endpoint's current send sequence and
// ack state, then hands it to the registered transmit callback.
func (e *Endpoint) SendPacket(payload []byte) {
	e.mu.Lock()
	seq := e.nextSendSeq
	e.nextSendSeq++
	hasAck, ackSeq, ackBits := e.buildAckHeader()
	e.counters.sent++
	e.mu.Unlock()

	framed := frameHeader(seq, hasAck, ackSeq, ackBits, payload)
	if e.transmit != nil {
		e.transmit(seq, framed)
	}
}

// ReceivePacket unframes an inbound datagram, records its sequence for this
// endpoint's own future ack headers, harvests any acks the peer attached,
// and dispatches the inner payload to the process callback.
func (e *Endpoint) ReceivePacket(framed []byte) bool {
	seq, hasAck, ackSeq, ackBits, payload, ok := unframeHeader(framed)
	if !ok {
		return false
	}

	e.mu.Lock()
	e.received.Insert(seq, false)
	if !e.hasReceived || seqnum.GreaterThan(seq, e.lastReceived) {
		e.lastReceived = seq
		e.hasReceived = true
	}
	e.counters.received++

	if hasAck {
		e.acks = append(e.acks, ackSeq)
		e.counters.acksGranted++
		for i := 0; i < ackWindowBits; i++ {
			if ackBits&(1<<uint(i)) != 0 {
				e.acks = append(e.acks, ackSeq-uint16(i+1))
				e.counters.acksGranted++
			}
		}
	}
	e.mu.Unlock()

	if e.process == nil {
		return true
	}
	return e.process(seq, payload)
}

// buildAckHeader reports the most recently received sequence and a bitset
// of the ackWindowBits sequences immediately before it that this endpoint
// has also received (spec-adjacent RakNet-style cumulative ack window). The
// bool return is false until this endpoint has received anything at all, so
// the peer never mistakes an empty header for an ack of sequence zero.
func (e *Endpoint) buildAckHeader() (bool, uint16, uint32) {
	if !e.hasReceived {
		return false, 0, 0
	}
	var bits uint32
	for i := 0; i < ackWindowBits; i++ {
		s := e.lastReceived - uint16(i+1)
		if e.received.Exists(s) {
			bits |= 1 << uint(i)
		}
	}
	return true, e.lastReceived, bits
}

// Update is a tick hook reserved for future time-based bookkeeping (e.g.
// stale-peer timeouts); the loopback link drives delivery timing itself, so
// this endpoint has nothing to do here today.
func (e *Endpoint) Update(time.Time) {}

// GetAcks returns every packet sequence (sent by this endpoint) that the
// peer has acknowledged since the last ClearAcks.
func (e *Endpoint) GetAcks() []uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uint16, len(e.acks))
	copy(out, e.acks)
	return out
}

// ClearAcks empties the accumulated ack list.
func (e *Endpoint) ClearAcks() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acks = e.acks[:0]
}

func frameHeader(seq uint16, hasAck bool, ackSeq uint16, ackBits uint32, payload []byte) []byte {
	w := bitstream.NewWriter(0)
	s := uint32(seq)
	a := uint32(ackSeq)
	_ = w.SerializeBits(&s, 16)
	_ = w.SerializeBool(&hasAck)
	_ = w.SerializeBits(&a, 16)
	_ = w.SerializeBits(&ackBits, 32)
	_ = w.SerializeAlign()
	_ = w.SerializeBytes(payload)
	return w.Flush()
}

func unframeHeader(framed []byte) (seq uint16, hasAck bool, ackSeq uint16, ackBits uint32, payload []byte, ok bool) {
	r := bitstream.NewReader(framed, len(framed)*8)
	var s, a, bits uint32
	if err := r.SerializeBits(&s, 16); err != nil {
		return 0, false, 0, 0, nil, false
	}
	if err := r.SerializeBool(&hasAck); err != nil {
		return 0, false, 0, 0, nil, false
	}
	if err := r.SerializeBits(&a, 16); err != nil {
		return 0, false, 0, 0, nil, false
	}
	if err := r.SerializeBits(&bits, 32); err != nil {
		return 0, false, 0, 0, nil, false
	}
	if err := r.SerializeAlign(); err != nil {
		return 0, false, 0, 0, nil, false
	}
	headerBytes := r.BitsProcessed() / 8
	if headerBytes > len(framed) {
		return 0, false, 0, 0, nil, false
	}
	rest := framed[headerBytes:]
	return uint16(s), hasAck, uint16(a), bits, rest, true
}

// LoopbackLink connects two Endpoints in-process, simulating packet loss
// and jitter so the reliability algorithms in package channel can be
// exercised end to end without a real socket.
type LoopbackLink struct {
	rng             *rand.Rand
	lossProbability float64
	jitterMax       time.Duration

	mu      sync.Mutex
	pending []scheduledDelivery
}

type scheduledDelivery struct {
	deliverAt time.Time
	target    *Endpoint
	framed    []byte
}

// NewLoopbackLink returns a link with the given loss probability in [0,1]
// (1 drops every datagram) and maximum one-way jitter, driven by a caller-seeded rng for
// reproducible tests.
func NewLoopbackLink(rng *rand.Rand, lossProbability float64, jitterMax time.Duration) *LoopbackLink {
	return &LoopbackLink{rng: rng, lossProbability: lossProbability, jitterMax: jitterMax}
}

// Connect wires a's outgoing datagrams to arrive at b and vice versa,
// subject to this link's configured loss and jitter, using now as the
// jitter clock origin for the first scheduled deliveries.
func (l *LoopbackLink) Connect(a, b *Endpoint, now time.Time) {
	a.SetTransmit(func(_ uint16, framed []byte) { l.offer(b, framed, now) })
	b.SetTransmit(func(_ uint16, framed []byte) { l.offer(a, framed, now) })
}

func (l *LoopbackLink) offer(target *Endpoint, framed []byte, now time.Time) {
	if l.rng.Float64() < l.lossProbability {
		return
	}
	delay := time.Duration(0)
	if l.jitterMax > 0 {
		delay = time.Duration(l.rng.Int63n(int64(l.jitterMax)))
	}
	l.mu.Lock()
	l.pending = append(l.pending, scheduledDelivery{deliverAt: now.Add(delay), target: target, framed: framed})
	l.mu.Unlock()
}

// Deliver releases every pending datagram whose jitter delay has elapsed
// by now, in scheduled order.
func (l *LoopbackLink) Deliver(now time.Time) {
	l.mu.Lock()
	var due []scheduledDelivery
	var remaining []scheduledDelivery
	for _, d := range l.pending {
		if !d.deliverAt.After(now) {
			due = append(due, d)
		} else {
			remaining = append(remaining, d)
		}
	}
	l.pending = remaining
	l.mu.Unlock()

	for _, d := range due {
		d.target.ReceivePacket(d.framed)
	}
}
