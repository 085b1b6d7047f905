package channel

import (
	"fmt"

	"github.com/duskcode/netchannel/pkg/bitstream"
)

// Message is a reference-counted, polymorphic application-level unit (spec
// §3 "Message"). Its payload is opaque to the core — Body is populated and
// consumed only by the application-supplied MessageFactory's Serialize
// hook, which is why the core never type-switches on it.
type Message struct {
	// Type is bounded by the owning factory's MaxMessageType.
	Type uint16
	// ID is assigned by the reliable channel on enqueue, or stamped with
	// the packet sequence on the unreliable channel's receive side.
	ID uint16
	// Block is an optional attached byte array, owned by the message once
	// set. Its length must never exceed the channel's configured
	// maxBlockSize.
	Block []byte
	// Body is the application-defined payload, opaque to this package.
	Body any

	refcount int
}

// NewMessage returns a freshly created message with a reference count of
// one, as returned by MessageFactory.Create.
func NewMessage(msgType uint16) *Message {
	return &Message{Type: msgType, refcount: 1}
}

// Acquire increments the reference count. The channels in this package do
// not call it: Send hands the caller's reference to the send queue, a
// received message's reference passes to the receive queue, and the
// ChannelPacketData entries a channel emits share the send queue's message
// without taking a reference of their own.
func (m *Message) Acquire() {
	m.refcount++
}

// Release decrements the reference count. A single-threaded tick model
// means this never needs to be atomic (spec §9).
func (m *Message) Release() {
	m.refcount--
}

// RefCount reports the current reference count, mainly for tests asserting
// that every acquire is matched by a release.
func (m *Message) RefCount() int { return m.refcount }

// MaxTypeTagBits is the width of a message type tag (Message.Type is a
// uint16); the largest valid tag is set per factory by MaxMessageType.
const MaxTypeTagBits = 16

// MessageFactory is the application-supplied collaborator (spec §4.2): it
// owns type -> constructor dispatch and the application payload's wire
// format. Implementations must be identical on both endpoints of a
// connection.
type MessageFactory interface {
	// MaxMessageType returns the largest valid type tag.
	MaxMessageType() uint16
	// Create returns a new message of the given type with Body ready for
	// the application to populate, or an error if msgType is invalid.
	Create(msgType uint16) (*Message, error)
	// Serialize transfers msg.Body to/from stream. Implementations must
	// not touch msg.Type, msg.ID or msg.Block — those are owned by the
	// core and already serialized by the channel packet codec.
	Serialize(stream bitstream.Stream, msg *Message) error
}

// BytesMessageFactory is a minimal MessageFactory whose Body is a plain
// []byte payload, serialized as a length-prefixed byte run. It exists for
// tests and simple demos (mirroring the teacher's raw-byte RakNetPacket
// payloads in source/protocol/raknet.go) — real applications typically
// generate a factory per message schema instead.
type BytesMessageFactory struct {
	MaxType    uint16
	MaxPayload int
}

// NewBytesMessageFactory returns a factory bounding payloads to maxPayload
// bytes and type tags to [0, maxType].
func NewBytesMessageFactory(maxType uint16, maxPayload int) *BytesMessageFactory {
	return &BytesMessageFactory{MaxType: maxType, MaxPayload: maxPayload}
}

func (f *BytesMessageFactory) MaxMessageType() uint16 { return f.MaxType }

func (f *BytesMessageFactory) Create(msgType uint16) (*Message, error) {
	if msgType > f.MaxType {
		return nil, fmt.Errorf("channel: message type %d exceeds max %d", msgType, f.MaxType)
	}
	m := NewMessage(msgType)
	m.Body = []byte{}
	return m, nil
}

func (f *BytesMessageFactory) Serialize(stream bitstream.Stream, msg *Message) error {
	var length int
	if stream.IsWriting() {
		payload, _ := msg.Body.([]byte)
		length = len(payload)
	}
	if err := stream.SerializeInt(&length, 0, f.MaxPayload); err != nil {
		return err
	}
	buf := make([]byte, length)
	if stream.IsWriting() {
		payload, _ := msg.Body.([]byte)
		copy(buf, payload)
	}
	if err := stream.SerializeBytes(buf); err != nil {
		return err
	}
	if stream.IsReading() {
		msg.Body = buf
	}
	return nil
}
