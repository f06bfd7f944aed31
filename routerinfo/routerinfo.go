// Package routerinfo implements a reduced I2P RouterInfo: the router
// identity, published timestamp, NTCP2 address, and Ed25519 signature that
// NTCP2 carries inside SessionConfirmed part 2. The wire layout mirrors the
// I2P common-structures spec (RouterIdentity/RouterAddress/Mapping), scaled
// down to the fields NTCP2 actually needs.
package routerinfo

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/samber/oops"
)

// Sizes of the fixed-length portions of a serialized RouterInfo.
const (
	staticKeySize     = 32 // X25519 NTCP2 static public key
	signingKeySize    = ed25519.PublicKeySize
	obfuscationIVSize = 16
	signatureSize     = ed25519.SignatureSize
)

// RouterInfo is the parsed form of a serialized RouterInfo block, plus the
// raw bytes it was parsed from (the identity hash is computed over those
// raw bytes, so the wire form must be retained verbatim).
type RouterInfo struct {
	raw []byte

	SigningPublicKey ed25519.PublicKey
	StaticPublicKey  [staticKeySize]byte
	ObfuscationIV    [obfuscationIVSize]byte
	Published        time.Time
	Options          map[string]string
}

// IdentHash is this RouterInfo's identity hash: SHA-256 of the full
// serialized structure, matching the reference router's IdentHash
// convention of hashing the entire RouterIdentity-bearing structure.
func (ri *RouterInfo) IdentHash() [32]byte {
	return sha256.Sum256(ri.raw)
}

// Bytes returns the original serialized RouterInfo.
func (ri *RouterInfo) Bytes() []byte {
	return append([]byte(nil), ri.raw...)
}

// New builds a RouterInfo for this router from its NTCP2 identity, ready
// to sign and serialize.
func New(signingPub ed25519.PublicKey, staticPub [staticKeySize]byte, obfuscationIV [obfuscationIVSize]byte, published time.Time, options map[string]string) *RouterInfo {
	return &RouterInfo{
		SigningPublicKey: append(ed25519.PublicKey(nil), signingPub...),
		StaticPublicKey:  staticPub,
		ObfuscationIV:    obfuscationIV,
		Published:        published,
		Options:          options,
	}
}

// Sign serializes the RouterInfo's fields, appends an Ed25519 signature
// computed with signingPriv, and stores the signed bytes as raw. Called
// once by the owning router before advertising itself.
func (ri *RouterInfo) Sign(signingPriv ed25519.PrivateKey) error {
	body := ri.encodeBody()
	sig := ed25519.Sign(signingPriv, body)
	ri.raw = append(body, sig...)
	return nil
}

func (ri *RouterInfo) encodeBody() []byte {
	buf := make([]byte, 0, signingKeySize+staticKeySize+obfuscationIVSize+8+2+optionsLen(ri.Options))
	buf = append(buf, ri.SigningPublicKey...)
	buf = append(buf, ri.StaticPublicKey[:]...)
	buf = append(buf, ri.ObfuscationIV[:]...)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(ri.Published.Unix()))
	buf = append(buf, ts[:]...)

	buf = append(buf, encodeOptions(ri.Options)...)
	return buf
}

func optionsLen(options map[string]string) int {
	n := 2
	for k, v := range options {
		n += 2 + len(k) + 2 + len(v)
	}
	return n
}

func encodeOptions(options map[string]string) []byte {
	buf := make([]byte, 2, optionsLen(options))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(options)))
	for k, v := range options {
		buf = appendString(buf, k)
		buf = appendString(buf, v)
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s)))
	buf = append(buf, l[:]...)
	return append(buf, s...)
}

// Parse decodes a serialized RouterInfo without verifying its signature;
// callers that need authenticity must call Verify separately, since the
// remote RouterInfo embedded in SessionConfirmed must be parsed before its
// signing key (needed to check the signature) is known to the caller.
func Parse(data []byte) (*RouterInfo, error) {
	minLen := signingKeySize + staticKeySize + obfuscationIVSize + 8 + 2 + signatureSize
	if len(data) < minLen {
		return nil, oops.Code("ROUTERINFO_TOO_SHORT").In("routerinfo").
			With("len", len(data)).With("min", minLen).
			Errorf("RouterInfo shorter than the minimum fixed-field length")
	}

	ri := &RouterInfo{raw: append([]byte(nil), data...)}
	off := 0

	ri.SigningPublicKey = append(ed25519.PublicKey(nil), data[off:off+signingKeySize]...)
	off += signingKeySize

	copy(ri.StaticPublicKey[:], data[off:off+staticKeySize])
	off += staticKeySize

	copy(ri.ObfuscationIV[:], data[off:off+obfuscationIVSize])
	off += obfuscationIVSize

	ri.Published = time.Unix(int64(binary.BigEndian.Uint64(data[off:off+8])), 0)
	off += 8

	count := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	options := make(map[string]string, count)
	for i := 0; i < count; i++ {
		key, n, err := readString(data, off)
		if err != nil {
			return nil, err
		}
		off = n
		val, n, err := readString(data, off)
		if err != nil {
			return nil, err
		}
		off = n
		options[key] = val
	}
	ri.Options = options

	if off+signatureSize > len(data) {
		return nil, oops.Code("ROUTERINFO_TRUNCATED_SIGNATURE").In("routerinfo").
			Errorf("RouterInfo truncated before its trailing signature")
	}

	return ri, nil
}

func readString(data []byte, off int) (string, int, error) {
	if off+2 > len(data) {
		return "", 0, oops.Code("ROUTERINFO_TRUNCATED_OPTION").In("routerinfo").
			Errorf("RouterInfo options truncated before a length prefix")
	}
	l := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	if off+l > len(data) {
		return "", 0, oops.Code("ROUTERINFO_TRUNCATED_OPTION").In("routerinfo").
			Errorf("RouterInfo options truncated before a value")
	}
	return string(data[off : off+l]), off + l, nil
}

// Verify checks the trailing Ed25519 signature against the RouterInfo's
// own embedded signing key, then validates Published against maxAge.
func (ri *RouterInfo) Verify(now time.Time, maxAge time.Duration) error {
	if len(ri.raw) < signatureSize {
		return oops.Code("ROUTERINFO_TRUNCATED_SIGNATURE").In("routerinfo").
			Errorf("RouterInfo shorter than its signature")
	}
	body := ri.raw[:len(ri.raw)-signatureSize]
	sig := ri.raw[len(ri.raw)-signatureSize:]
	if !ed25519.Verify(ri.SigningPublicKey, body, sig) {
		return oops.Code("ROUTERINFO_SIGNATURE_INVALID").In("routerinfo").
			Errorf("RouterInfo signature verification failed")
	}
	if now.Sub(ri.Published) > maxAge {
		return oops.Code("ROUTERINFO_EXPIRED").In("routerinfo").
			With("published", ri.Published).With("max_age", maxAge).
			Errorf("RouterInfo is older than the configured maximum age")
	}
	return nil
}
