package ntcp2

import (
	"crypto/sha256"

	"golang.org/x/crypto/hkdf"
)

// protocolNameHash is SHA256("Noise_XKaesobfse+hs2+hs3_25519_ChaChaPoly_SHA256"),
// the fixed chaining key NTCP2 starts every handshake from.
var protocolNameHash = [32]byte{
	0x72, 0xe8, 0x42, 0xc5, 0x45, 0xe1, 0x80, 0x80, 0xd3, 0x9c, 0x44, 0x93, 0xbb, 0x91, 0xd7, 0xed,
	0xf2, 0x28, 0x98, 0x17, 0x71, 0x21, 0x8c, 0x1f, 0x62, 0x4e, 0x20, 0x6f, 0x28, 0xd3, 0x2f, 0x71,
}

// protocolNameHashHash is SHA256(protocolNameHash), the seed for the
// handshake hash h before the responder's router hash is mixed in.
var protocolNameHashHash = [32]byte{
	0x49, 0xff, 0x48, 0x3f, 0xc4, 0x04, 0xb9, 0xb2, 0x6b, 0x11, 0x94, 0x36, 0x72, 0xff, 0x05, 0xb5,
	0x61, 0x27, 0x03, 0x31, 0xba, 0x89, 0xb8, 0xfc, 0x33, 0x15, 0x93, 0x87, 0x57, 0xdd, 0x3d, 0x1e,
}

// hkdfExpand derives outLen bytes of output keying material from chainKey
// and inputKeyMaterial using HKDF-SHA256 with the given info string (empty
// for the Noise_XK key schedule's MixKey/KDF calls).
func hkdfExpand(chainKey, inputKeyMaterial []byte, info string, outLen int) ([]byte, error) {
	r := hkdf.New(sha256.New, inputKeyMaterial, chainKey, []byte(info))
	out := make([]byte, outLen)
	if _, err := readFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// mixHash folds buf into the running handshake hash: h = SHA256(h || buf).
func mixHash(h *[32]byte, buf []byte) {
	ctx := sha256.New()
	ctx.Write(h[:])
	ctx.Write(buf)
	copy(h[:], ctx.Sum(nil))
}

// mixKey advances the chaining key with new Diffie-Hellman output, per
// Noise's MixKey: ck, k = HKDF(ck, inputKeyMaterial). The returned 32-byte
// AEAD key is only valid for the single message that follows.
func mixKey(ck *[32]byte, inputKeyMaterial []byte) (aeadKey [32]byte, err error) {
	out, err := hkdfExpand(ck[:], inputKeyMaterial, "", 64)
	if err != nil {
		return aeadKey, err
	}
	copy(ck[:], out[0:32])
	copy(aeadKey[:], out[32:64])
	return aeadKey, nil
}

// dataPhaseKeys holds the symmetric material derived once the handshake
// chaining key is final: per-direction ChaCha20-Poly1305 keys and SipHash
// key+IV pairs for frame length obfuscation.
type dataPhaseKeys struct {
	Kab, Kba           [32]byte
	SipKeysAB, SipKeysBA [32]byte // bytes 0-15 key, bytes 16-23 IV
}

// deriveDataPhaseKeys implements the NTCP2 data phase KDF: data keys and
// SipHash keys are both derived from the final handshake chaining key, via
// an intermediate "ask" master secret (HKDF of the chaining key with info
// "ask"), from which the SipHash master is derived using the handshake
// hash followed by the literal string "siphash" as input key material.
func deriveDataPhaseKeys(ck [32]byte, h [32]byte) (dataPhaseKeys, error) {
	var keys dataPhaseKeys

	k, err := hkdfExpand(ck[:], nil, "", 64)
	if err != nil {
		return keys, err
	}
	copy(keys.Kab[:], k[0:32])
	copy(keys.Kba[:], k[32:64])

	askMaster, err := hkdfExpand(ck[:], nil, "ask", 32)
	if err != nil {
		return keys, err
	}

	hSiphash := make([]byte, 0, 39)
	hSiphash = append(hSiphash, h[:]...)
	hSiphash = append(hSiphash, []byte("siphash")...)
	sipMaster, err := hkdfExpand(askMaster, hSiphash, "", 32)
	if err != nil {
		return keys, err
	}

	sipK, err := hkdfExpand(sipMaster, nil, "", 64)
	if err != nil {
		return keys, err
	}
	copy(keys.SipKeysAB[:], sipK[0:32])
	copy(keys.SipKeysBA[:], sipK[32:64])

	return keys, nil
}
