package ntcp2

import (
	"encoding/binary"

	"github.com/dchest/siphash"
	"github.com/go-i2p/ntcp2router/handshake"
)

// SipHashLengthModifier implements NTCP2's SipHash-2-4 length obfuscation
// for data phase frame lengths. This prevents identification of frame
// lengths in the data stream.
//
// The obfuscation mask is not a counter-indexed hash: each side keeps an
// 8-byte IV seeded from the data-phase KDF, and every frame advances that
// IV by hashing it with itself (new_iv = SipHash-2-4(sip_key, old_iv)).
// The low 16 bits of the new IV, read as a little-endian integer, become
// the XOR mask for the next frame's big-endian length field.
type SipHashLengthModifier struct {
	name       string
	sipKeys    [2]uint64 // SipHash k1, k2 keys
	outboundIV uint64    // current chained IV for outbound frames
	inboundIV  uint64    // current chained IV for inbound frames
}

// NewSipHashLengthModifier creates a new SipHash length obfuscation modifier.
// sipKeys must contain exactly 2 uint64 values (k1, k2).
// initialIV is the 8-byte IV from the data phase KDF.
func NewSipHashLengthModifier(name string, sipKeys [2]uint64, initialIV uint64) *SipHashLengthModifier {
	return &SipHashLengthModifier{
		name:       name,
		sipKeys:    sipKeys,
		outboundIV: initialIV,
		inboundIV:  initialIV,
	}
}

// ModifyOutbound obfuscates 2-byte frame lengths using SipHash.
func (slm *SipHashLengthModifier) ModifyOutbound(phase handshake.HandshakePhase, data []byte) ([]byte, error) {
	if phase != handshake.PhaseFinal || len(data) != 2 {
		return data, nil
	}

	mask := slm.nextMask(&slm.outboundIV)

	length := binary.BigEndian.Uint16(data)
	obfuscatedLength := length ^ mask

	result := make([]byte, 2)
	binary.BigEndian.PutUint16(result, obfuscatedLength)

	return result, nil
}

// ModifyInbound removes SipHash obfuscation from frame lengths.
func (slm *SipHashLengthModifier) ModifyInbound(phase handshake.HandshakePhase, data []byte) ([]byte, error) {
	if phase != handshake.PhaseFinal || len(data) != 2 {
		return data, nil
	}

	mask := slm.nextMask(&slm.inboundIV)

	length := binary.BigEndian.Uint16(data)
	deobfuscatedLength := length ^ mask

	result := make([]byte, 2)
	binary.BigEndian.PutUint16(result, deobfuscatedLength)

	return result, nil
}

// nextMask chains iv in place (new_iv = SipHash(sip_key, old_iv)) and
// returns the low 16 bits of the new IV as the next frame's length mask.
func (slm *SipHashLengthModifier) nextMask(iv *uint64) uint16 {
	input := make([]byte, 8)
	binary.LittleEndian.PutUint64(input, *iv)

	newIV := siphash.Hash(slm.sipKeys[0], slm.sipKeys[1], input)
	*iv = newIV

	return uint16(newIV)
}

// Name returns the modifier name for logging and debugging.
func (slm *SipHashLengthModifier) Name() string {
	return slm.name
}
