// Package blocks implements NTCP2's block-multiplexed payload codec: the
// SessionConfirmed part 2 payload and every data phase frame is a
// sequence of <type:1><size:2 BE><payload> blocks.
package blocks

import (
	"encoding/binary"

	"github.com/samber/oops"
)

// Block is one entry of an NTCP2 block-multiplexed payload.
type Block struct {
	Type    byte
	Payload []byte
}

// Block type tags used by the NTCP2 payload codec (§4.4). This is the
// canonical home for the tags: package ntcp2 aliases them rather than the
// reverse, since blocks must not import its own importer.
const (
	TypeDateTime    byte = 0
	TypeOptions     byte = 1
	TypeRouterInfo  byte = 2
	TypeI2NPMessage byte = 3
	TypeTermination byte = 224
	TypePadding     byte = 254
)

// TerminationReason enumerates the reason codes carried in a Termination
// block (§4.6). Values and ordering match the wire protocol; the codes
// defined here are the contiguous range 0-6.
type TerminationReason byte

const (
	ReasonNormalClose                        TerminationReason = 0
	ReasonTerminationReceived                 TerminationReason = 1
	ReasonIdleTimeout                         TerminationReason = 2
	ReasonRouterInfoSignatureVerificationFail TerminationReason = 3
	ReasonIncorrectSParameter                 TerminationReason = 4
	ReasonMessage3Error                       TerminationReason = 5
	ReasonDataPhaseAEADFailure                TerminationReason = 6
)

// String renders a reason code for logs and test assertions.
func (r TerminationReason) String() string {
	switch r {
	case ReasonNormalClose:
		return "NormalClose"
	case ReasonTerminationReceived:
		return "TerminationReceived"
	case ReasonIdleTimeout:
		return "IdleTimeout"
	case ReasonRouterInfoSignatureVerificationFail:
		return "RouterInfoSignatureVerificationFail"
	case ReasonIncorrectSParameter:
		return "IncorrectSParameter"
	case ReasonMessage3Error:
		return "Message3Error"
	case ReasonDataPhaseAEADFailure:
		return "DataPhaseAEADFailure"
	default:
		return "Unknown"
	}
}

// Encode serializes a single block as <type:1><size:2 BE><payload>.
func (b Block) Encode() []byte {
	out := make([]byte, 3+len(b.Payload))
	out[0] = b.Type
	binary.BigEndian.PutUint16(out[1:3], uint16(len(b.Payload)))
	copy(out[3:], b.Payload)
	return out
}

// EncodeBlocks concatenates the wire encoding of each block in order.
func EncodeBlocks(bs []Block) []byte {
	total := 0
	for _, b := range bs {
		total += 3 + len(b.Payload)
	}
	out := make([]byte, 0, total)
	for _, b := range bs {
		out = append(out, b.Encode()...)
	}
	return out
}

// DecodeBlocks splits a payload into its constituent blocks. A block whose
// declared size would run past the end of buf is a framing error; unknown
// block types are preserved rather than rejected, since the protocol
// reserves room for blocks this implementation does not yet understand.
func DecodeBlocks(buf []byte) ([]Block, error) {
	var out []Block
	offset := 0
	for offset < len(buf) {
		if offset+3 > len(buf) {
			return nil, oops.Code("TRUNCATED_BLOCK_HEADER").In("blocks").
				With("offset", offset).With("total_len", len(buf)).
				Errorf("block header runs past end of payload")
		}
		typ := buf[offset]
		size := int(binary.BigEndian.Uint16(buf[offset+1 : offset+3]))
		start := offset + 3
		end := start + size
		if end > len(buf) {
			return nil, oops.Code("TRUNCATED_BLOCK_PAYLOAD").In("blocks").
				With("offset", offset).With("declared_size", size).With("total_len", len(buf)).
				Errorf("block payload runs past end of frame")
		}
		out = append(out, Block{Type: typ, Payload: buf[start:end]})
		offset = end
	}
	return out, nil
}

// DateTime builds a DateTime block carrying a 4-byte big-endian Unix
// timestamp.
func DateTime(unixSeconds uint32) Block {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, unixSeconds)
	return Block{Type: TypeDateTime, Payload: payload}
}

// RouterInfo wraps a serialized RouterInfo with its single flag byte
// ("flood" request bit for spontaneous pushes).
func RouterInfo(flag byte, serialized []byte) Block {
	payload := make([]byte, 1+len(serialized))
	payload[0] = flag
	copy(payload[1:], serialized)
	return Block{Type: TypeRouterInfo, Payload: payload}
}

// I2NPMessage wraps a raw I2NP message for the data phase.
func I2NPMessage(raw []byte) Block {
	return Block{Type: TypeI2NPMessage, Payload: append([]byte(nil), raw...)}
}

// Termination builds a Termination block: the sender's data-phase receive
// sequence counter, followed by the reason code and any additional
// reason-specific data.
func Termination(lastReceivedSeq uint64, reason TerminationReason, extra []byte) Block {
	payload := make([]byte, 9+len(extra))
	binary.BigEndian.PutUint64(payload[0:8], lastReceivedSeq)
	payload[8] = byte(reason)
	copy(payload[9:], extra)
	return Block{Type: TypeTermination, Payload: payload}
}

// Padding wraps randomBytes, unchanged, as a Padding block's payload;
// callers supply the random fill.
func Padding(randomBytes []byte) Block {
	return Block{Type: TypePadding, Payload: randomBytes}
}
