// Package i2np defines the minimal I2NP message envelope NTCP2 carries.
// The full I2NP header (type, 4-byte message ID, 8-byte millisecond
// expiration, 2-byte size, 1-byte checksum — 16 bytes) is never sent over
// NTCP2: the transport only ever has one message in flight per
// eNTCP2BlkI2NPMessage block, so the message ID is regenerated locally,
// no checksum is carried, and the expiration is truncated to a 4-byte
// second-granularity field, leaving a 7-byte wire header (9 bytes
// shorter than the full one).
package i2np

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/samber/oops"
)

// wireHeaderSize is the NTCP2 7-byte header: 1-byte type, 4-byte
// second-granularity expiration, 2-byte payload size.
const wireHeaderSize = 7

// fullHeaderSize is the full I2NP header used once a message leaves NTCP2
// and is handed to the router's dispatcher: type, 4-byte message ID,
// 8-byte millisecond expiration, 2-byte size, 1-byte checksum.
const fullHeaderSize = 16

// Message is an I2NP message as carried end to end within this router:
// identified by type and a locally-assigned message ID, with an
// expiration used to detect stale deliveries.
type Message struct {
	Type       byte
	MessageID  uint32
	Expiration time.Time
	Payload    []byte
}

// New builds a Message with a random MessageID, the kind NTCP2 assigns to
// every message it decodes off the wire (the wire form carries no ID).
func New(msgType byte, expiration time.Time, payload []byte) (*Message, error) {
	var idBuf [4]byte
	if _, err := rand.Read(idBuf[:]); err != nil {
		return nil, oops.Code("MESSAGE_ID_GENERATION_FAILED").In("i2np").Wrap(err)
	}
	return &Message{
		Type:       msgType,
		MessageID:  binary.BigEndian.Uint32(idBuf[:]),
		Expiration: expiration,
		Payload:    append([]byte(nil), payload...),
	}, nil
}

// ToNTCP2 serializes Message using the abbreviated 7-byte NTCP2 header:
// type, 4-byte second-granularity expiration, 2-byte payload size,
// followed by the payload itself. This is exactly what
// blocks.I2NPMessage wraps in an eNTCP2BlkI2NPMessage block.
func (m *Message) ToNTCP2() []byte {
	buf := make([]byte, wireHeaderSize+len(m.Payload))
	buf[0] = m.Type
	binary.BigEndian.PutUint32(buf[1:5], uint32(m.Expiration.Unix()))
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(m.Payload)))
	copy(buf[7:], m.Payload)
	return buf
}

// FromNTCP2 parses a block payload produced by ToNTCP2, assigning a fresh
// local MessageID since the wire form never carries one.
func FromNTCP2(raw []byte) (*Message, error) {
	if len(raw) < wireHeaderSize {
		return nil, oops.Code("I2NP_HEADER_TRUNCATED").In("i2np").
			With("len", len(raw)).Errorf("NTCP2 I2NP block shorter than its 7-byte header")
	}
	size := int(binary.BigEndian.Uint16(raw[5:7]))
	if wireHeaderSize+size != len(raw) {
		return nil, oops.Code("I2NP_SIZE_MISMATCH").In("i2np").
			With("declared", size).With("actual", len(raw)-wireHeaderSize).
			Errorf("NTCP2 I2NP block size field does not match payload length")
	}

	var idBuf [4]byte
	if _, err := rand.Read(idBuf[:]); err != nil {
		return nil, oops.Code("MESSAGE_ID_GENERATION_FAILED").In("i2np").Wrap(err)
	}

	return &Message{
		Type:       raw[0],
		MessageID:  binary.BigEndian.Uint32(idBuf[:]),
		Expiration: time.Unix(int64(binary.BigEndian.Uint32(raw[1:5])), 0),
		Payload:    append([]byte(nil), raw[7:]...),
	}, nil
}

// FullHeaderSize reports the size of the full (non-NTCP2) I2NP header, for
// callers sizing buffers when handing a Message to the router dispatcher.
func FullHeaderSize() int { return fullHeaderSize }
