package ntcp2

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/go-i2p/ntcp2router/handshake"
	"github.com/samber/oops"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// handshakeNonce is reused across every AEAD call made during the
// handshake: Noise_XK zeroes the nonce for each of the three messages
// since the chaining key, not the nonce, carries forward secrecy between
// them. Only the data phase counts up from zero per direction.
var handshakeNonce [chacha20poly1305.NonceSize]byte

// sessionRequestPaddingCap bounds the padding appended to SessionRequest
// and SessionCreated so the whole message stays under 287 bytes, matching
// the reference router's message-1/message-2 size budget.
const sessionRequestPaddingCap = 287 - 64

// Establisher runs one side of the Noise_XKaesobfse+hs2+hs3_25519_ChaChaPoly_SHA256
// handshake: it owns the chaining key/hash state and produces or consumes
// the three handshake messages before handing the final chaining key and
// hash to deriveDataPhaseKeys.
type Establisher struct {
	role Role

	ck          [32]byte
	h           [32]byte
	lastAEADKey [32]byte // AEAD key produced by the most recent mixKey call

	staticPriv, staticPub     [32]byte
	ephemeralPriv, ephemeralPub [32]byte
	remoteStaticPub           [32]byte
	remoteEphemeralPub        [32]byte

	routerHash       []byte // this router's identity hash
	remoteRouterHash []byte // remote's identity hash

	modifierChain *handshake.ModifierChain

	sessionRequestBuffer   []byte
	sessionCreatedBuffer   []byte
	sessionConfirmedBuffer []byte
	m3p2Len                int
}

// NewEstablisher prepares an Establisher for either side of the handshake.
// obfuscationIV is the 16-byte IV published in the responder's RouterInfo
// and is required on both sides since it seeds the AES obfuscation chain.
func NewEstablisher(role Role, cfg *Config, obfuscationIV []byte) (*Establisher, error) {
	e := &Establisher{
		role:             role,
		routerHash:       append([]byte(nil), cfg.RouterHash...),
		remoteRouterHash: append([]byte(nil), cfg.RemoteRouterHash...),
	}
	copy(e.staticPriv[:], cfg.StaticKey)
	copy(e.staticPub[:], cfg.StaticPublicKey)
	if len(cfg.RemoteStaticKey) == 32 {
		copy(e.remoteStaticPub[:], cfg.RemoteStaticKey)
	}

	if _, err := rand.Read(e.ephemeralPriv[:]); err != nil {
		return nil, oops.Code("EPHEMERAL_KEY_GENERATION_FAILED").In("ntcp2").Wrap(err)
	}
	curve25519.ScalarBaseMult(&e.ephemeralPub, &e.ephemeralPriv)

	// The obfuscation key is always the responder's (Bob's) router hash:
	// the initiator obfuscates against the remote's hash, the responder
	// against its own.
	obfKey := e.routerHash
	if role == RoleAlice {
		obfKey = e.remoteRouterHash
	}
	mod, err := NewAESObfuscationModifier("aes-obfuscation", obfKey, obfuscationIV)
	if err != nil {
		return nil, err
	}
	e.modifierChain = handshake.NewModifierChain("ephemeral-key-obfuscation", mod)

	return e, nil
}

func dh(priv, pub [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, oops.Code("X25519_AGREEMENT_FAILED").In("ntcp2").Wrap(err)
	}
	return shared, nil
}

// kdf1 runs KeyDerivationFunction1: it seeds ck from the protocol name
// hash, folds in the responder's router hash and the sender's ephemeral
// public key, then mixes in the pub/priv X25519 agreement.
func (e *Establisher) kdf1(pub, priv [32]byte, remoteRouterHash []byte, epub [32]byte) error {
	copy(e.ck[:], protocolNameHash[:])

	e.h = protocolNameHashHash
	mixHash(&e.h, remoteRouterHash)
	mixHash(&e.h, epub[:])

	ikm, err := dh(priv, pub)
	if err != nil {
		return err
	}
	key, err := mixKey(&e.ck, ikm)
	if err != nil {
		return err
	}
	e.lastAEADKey = key
	return nil
}

// kdf1Alice runs KDF1 from the initiator's perspective: DH(ephemeral priv, remote static pub).
func (e *Establisher) kdf1Alice() error {
	return e.kdf1(e.remoteStaticPub, e.ephemeralPriv, e.remoteRouterHash, e.ephemeralPub)
}

// kdf1Bob runs KDF1 from the responder's perspective: DH(static priv, remote ephemeral pub).
func (e *Establisher) kdf1Bob() error {
	return e.kdf1(e.remoteEphemeralPub, e.staticPriv, e.routerHash, e.remoteEphemeralPub)
}

// kdf2 folds the SessionRequest ciphertext and padding into h, then mixes
// in the responder's ephemeral public key (epub) and the
// ephemeral/ephemeral agreement.
func (e *Establisher) kdf2(sessionRequest []byte, epub [32]byte) error {
	mixHash(&e.h, sessionRequest[32:64])
	if padLen := len(sessionRequest) - 64; padLen > 0 {
		mixHash(&e.h, sessionRequest[64:])
	}
	mixHash(&e.h, epub[:])

	ikm, err := dh(e.ephemeralPriv, e.remoteEphemeralPub)
	if err != nil {
		return err
	}
	key, err := mixKey(&e.ck, ikm)
	if err != nil {
		return err
	}
	e.lastAEADKey = key
	return nil
}

func (e *Establisher) kdf2Alice() error {
	return e.kdf2(e.sessionRequestBuffer, e.remoteEphemeralPub)
}

func (e *Establisher) kdf2Bob() error {
	return e.kdf2(e.sessionRequestBuffer, e.ephemeralPub)
}

// kdf3Alice mixes in DH(static priv, remote ephemeral pub).
func (e *Establisher) kdf3Alice() error {
	ikm, err := dh(e.staticPriv, e.remoteEphemeralPub)
	if err != nil {
		return err
	}
	key, err := mixKey(&e.ck, ikm)
	if err != nil {
		return err
	}
	e.lastAEADKey = key
	return nil
}

// kdf3Bob mixes in DH(ephemeral priv, remote static pub).
func (e *Establisher) kdf3Bob() error {
	ikm, err := dh(e.ephemeralPriv, e.remoteStaticPub)
	if err != nil {
		return err
	}
	key, err := mixKey(&e.ck, ikm)
	if err != nil {
		return err
	}
	e.lastAEADKey = key
	return nil
}

func aeadSeal(key [32]byte, ad []byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, oops.Code("AEAD_INIT_FAILED").In("ntcp2").Wrap(err)
	}
	return aead.Seal(nil, handshakeNonce[:], plaintext, ad), nil
}

func aeadOpen(key [32]byte, ad []byte, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, oops.Code("AEAD_INIT_FAILED").In("ntcp2").Wrap(err)
	}
	plaintext, err := aead.Open(nil, handshakeNonce[:], ciphertext, ad)
	if err != nil {
		return nil, oops.Code("AEAD_VERIFY_FAILED").In("ntcp2").Wrap(err)
	}
	return plaintext, nil
}

func randomPaddingLength() (int, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return int(b[0]) % sessionRequestPaddingCap, nil
}

// CreateSessionRequestMessage builds message 1: the AES-obfuscated
// ephemeral key X, random padding, and an AEAD-sealed OPTIONS block naming
// the network ID, protocol version, padding length, the size reserved for
// SessionConfirmed part 2, and the current timestamp.
func (e *Establisher) CreateSessionRequestMessage(networkID byte, m3p2Len int) error {
	return e.createSessionRequestMessageAt(networkID, m3p2Len, time.Now())
}

// createSessionRequestMessageAt builds message 1 with an explicit timestamp,
// letting tests exercise the responder's clock-skew check without waiting on
// the wall clock.
func (e *Establisher) createSessionRequestMessageAt(networkID byte, m3p2Len int, ts time.Time) error {
	padLen, err := randomPaddingLength()
	if err != nil {
		return oops.Code("PADDING_GENERATION_FAILED").In("ntcp2").Wrap(err)
	}

	buf := make([]byte, 64+padLen)
	if padLen > 0 {
		if _, err := rand.Read(buf[64:]); err != nil {
			return oops.Code("PADDING_GENERATION_FAILED").In("ntcp2").Wrap(err)
		}
	}

	obfuscatedX, err := e.modifierChain.ModifyOutbound(handshake.PhaseInitial, e.ephemeralPub[:])
	if err != nil {
		return err
	}
	copy(buf[0:32], obfuscatedX)

	if err := e.kdf1Alice(); err != nil {
		return err
	}

	e.m3p2Len = m3p2Len
	options := make([]byte, 16)
	options[0] = networkID
	options[1] = 2
	binary.BigEndian.PutUint16(options[2:4], uint16(padLen))
	binary.BigEndian.PutUint16(options[4:6], uint16(m3p2Len))
	binary.BigEndian.PutUint32(options[8:12], uint32(ts.Unix()))

	sealed, err := aeadSeal(e.currentKey(), e.h[:], options)
	if err != nil {
		return err
	}
	copy(buf[32:64], sealed)

	e.sessionRequestBuffer = buf
	return nil
}

// currentKey returns the AEAD key produced by the most recent mixKey call;
// callers invoke the relevant kdfN* method immediately before sealing or
// opening a message so this always reflects the correct per-message key.
func (e *Establisher) currentKey() [32]byte {
	return e.lastAEADKey
}

// sessionRequestOptions is the decoded, authenticated OPTIONS block carried
// in SessionRequest's AEAD payload.
type sessionRequestOptions struct {
	NetworkID byte
	Version   byte
	PadLen    uint16
	M3P2Len   uint16
	Timestamp uint32
}

// ProcessSessionRequestMessage decrypts and authenticates the fixed
// 64-byte header of an inbound message 1 (ephemeral key plus sealed
// OPTIONS block). The caller is expected to read the padding named by the
// returned PadLen separately and append it via AppendSessionRequestPadding
// before deriving message 2's key. Network ID, protocol version, the
// declared SessionConfirmed part 2 length, and clock skew are all left to
// the caller, which has the local config and clock to check the decoded
// sessionRequestOptions against.
func (e *Establisher) ProcessSessionRequestMessage(header []byte) (sessionRequestOptions, error) {
	var opts sessionRequestOptions
	if len(header) != 64 {
		return opts, oops.Code("SESSION_REQUEST_TOO_SHORT").In("ntcp2").
			With("length", len(header)).Errorf("SessionRequest header must be exactly 64 bytes")
	}

	plainX, err := e.modifierChain.ModifyInbound(handshake.PhaseInitial, header[0:32])
	if err != nil {
		return opts, err
	}
	copy(e.remoteEphemeralPub[:], plainX)

	if err := e.kdf1Bob(); err != nil {
		return opts, err
	}

	e.sessionRequestBuffer = append([]byte(nil), header...)

	plain, err := aeadOpen(e.currentKey(), e.h[:], header[32:64])
	if err != nil {
		return opts, oops.Code("SESSION_REQUEST_AEAD_FAILED").In("ntcp2").Wrap(err)
	}

	opts.NetworkID = plain[0]
	opts.Version = plain[1]
	opts.PadLen = binary.BigEndian.Uint16(plain[2:4])
	opts.M3P2Len = binary.BigEndian.Uint16(plain[4:6])
	opts.Timestamp = binary.BigEndian.Uint32(plain[8:12])
	e.m3p2Len = int(opts.M3P2Len)

	return opts, nil
}

// AppendSessionRequestPadding appends message 1's padding bytes, read
// separately by the caller, to the buffer MixHash will fold into h during
// KDF2.
func (e *Establisher) AppendSessionRequestPadding(pad []byte) {
	e.sessionRequestBuffer = append(e.sessionRequestBuffer, pad...)
}

// CreateSessionCreatedMessage builds message 2: the AES-obfuscated
// ephemeral key Y, random padding, and an AEAD-sealed OPTIONS block naming
// the padding length and the responder's timestamp.
func (e *Establisher) CreateSessionCreatedMessage() error {
	padLen, err := randomPaddingLength()
	if err != nil {
		return oops.Code("PADDING_GENERATION_FAILED").In("ntcp2").Wrap(err)
	}

	buf := make([]byte, 64+padLen)
	if padLen > 0 {
		if _, err := rand.Read(buf[64:]); err != nil {
			return oops.Code("PADDING_GENERATION_FAILED").In("ntcp2").Wrap(err)
		}
	}

	obfuscatedY, err := e.modifierChain.ModifyOutbound(handshake.PhaseExchange, e.ephemeralPub[:])
	if err != nil {
		return err
	}
	copy(buf[0:32], obfuscatedY)

	if err := e.kdf2Bob(); err != nil {
		return err
	}

	options := make([]byte, 16)
	binary.BigEndian.PutUint16(options[2:4], uint16(padLen))
	binary.BigEndian.PutUint32(options[8:12], uint32(time.Now().Unix()))

	sealed, err := aeadSeal(e.currentKey(), e.h[:], options)
	if err != nil {
		return err
	}
	copy(buf[32:64], sealed)

	e.sessionCreatedBuffer = buf
	return nil
}

// ProcessSessionCreatedMessage decrypts and authenticates the fixed
// 64-byte header of an inbound message 2. As with SessionRequest, the
// caller reads the padding named by the returned length separately and
// appends it via AppendSessionCreatedPadding before building message 3.
func (e *Establisher) ProcessSessionCreatedMessage(header []byte) (paddingLen uint16, err error) {
	if len(header) != 64 {
		return 0, oops.Code("SESSION_CREATED_TOO_SHORT").In("ntcp2").
			With("length", len(header)).Errorf("SessionCreated header must be exactly 64 bytes")
	}

	plainY, err := e.modifierChain.ModifyInbound(handshake.PhaseExchange, header[0:32])
	if err != nil {
		return 0, err
	}
	copy(e.remoteEphemeralPub[:], plainY)

	if err := e.kdf2Alice(); err != nil {
		return 0, err
	}

	e.sessionCreatedBuffer = append([]byte(nil), header...)

	plain, err := aeadOpen(e.currentKey(), e.h[:], header[32:64])
	if err != nil {
		return 0, oops.Code("SESSION_CREATED_AEAD_FAILED").In("ntcp2").Wrap(err)
	}

	return binary.BigEndian.Uint16(plain[2:4]), nil
}

// AppendSessionCreatedPadding appends message 2's padding bytes, read
// separately by the caller, to the buffer MixHash will fold into h before
// SessionConfirmed part 1.
func (e *Establisher) AppendSessionCreatedPadding(pad []byte) {
	e.sessionCreatedBuffer = append(e.sessionCreatedBuffer, pad...)
}

// CreateSessionConfirmedPart1 builds the first 48 bytes of message 3: the
// initiator's static public key, AEAD-sealed against the running handshake
// hash.
func (e *Establisher) CreateSessionConfirmedPart1() ([]byte, error) {
	if padLen := len(e.sessionCreatedBuffer) - 64; padLen > 0 {
		mixHash(&e.h, e.sessionCreatedBuffer[32:64])
		mixHash(&e.h, e.sessionCreatedBuffer[64:])
	} else {
		mixHash(&e.h, e.sessionCreatedBuffer[32:64])
	}

	sealed, err := aeadSeal(e.currentKey(), e.h[:], e.staticPub[:])
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

// CreateSessionConfirmedPart2 builds the remainder of message 3: an
// AEAD-sealed payload (typically a RouterInfo block) whose key comes from
// KDF3, mixing in the initiator-static/responder-ephemeral agreement.
func (e *Establisher) CreateSessionConfirmedPart2(part1 []byte, payload []byte) ([]byte, error) {
	mixHash(&e.h, part1)

	if err := e.kdf3Alice(); err != nil {
		return nil, err
	}

	sealed, err := aeadSeal(e.currentKey(), e.h[:], payload)
	if err != nil {
		return nil, err
	}
	mixHash(&e.h, sealed)

	e.sessionConfirmedBuffer = append(append([]byte(nil), part1...), sealed...)
	return sealed, nil
}

// ProcessSessionConfirmedPart1 authenticates the first 48 bytes of message
// 3 and recovers the initiator's static public key.
func (e *Establisher) ProcessSessionConfirmedPart1(part1 []byte) error {
	if padLen := len(e.sessionCreatedBuffer) - 64; padLen > 0 {
		mixHash(&e.h, e.sessionCreatedBuffer[32:64])
		mixHash(&e.h, e.sessionCreatedBuffer[64:])
	} else {
		mixHash(&e.h, e.sessionCreatedBuffer[32:64])
	}

	plain, err := aeadOpen(e.currentKey(), e.h[:], part1)
	if err != nil {
		return oops.Code("SESSION_CONFIRMED_PART1_AEAD_FAILED").In("ntcp2").Wrap(err)
	}
	copy(e.remoteStaticPub[:], plain)
	return nil
}

// ProcessSessionConfirmedPart2 authenticates and decrypts the remainder of
// message 3, returning the plaintext payload (the RouterInfo block).
func (e *Establisher) ProcessSessionConfirmedPart2(part1, part2 []byte) ([]byte, error) {
	mixHash(&e.h, part1)

	if err := e.kdf3Bob(); err != nil {
		return nil, err
	}

	plain, err := aeadOpen(e.currentKey(), e.h[:], part2)
	if err != nil {
		return nil, oops.Code("SESSION_CONFIRMED_PART2_AEAD_FAILED").In("ntcp2").Wrap(err)
	}
	mixHash(&e.h, part2)

	return plain, nil
}

// Finalize derives the data phase symmetric keys from the handshake's
// final chaining key and hash. Called once after the handshake completes
// on either side.
func (e *Establisher) Finalize() (dataPhaseKeys, error) {
	return deriveDataPhaseKeys(e.ck, e.h)
}
