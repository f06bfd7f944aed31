package ntcp2

import (
	"time"

	"github.com/go-i2p/ntcp2router/ntcp2/blocks"
)

// Protocol-wide constants from the NTCP2 specification.
const (
	// NTCP2ClockSkew bounds the acceptable difference between a handshake
	// timestamp and the local clock.
	NTCP2ClockSkew = 60 * time.Second

	// NTCP2UnencryptedFrameMaxSize is the largest plaintext a single data
	// phase frame may carry: a 16 KiB wire frame minus the 16-byte AEAD
	// tag and the 2-byte obfuscated length prefix.
	NTCP2UnencryptedFrameMaxSize = 16384 - 16 - 2

	// ChaChaPolyTagSize is the Poly1305 authentication tag length.
	ChaChaPolyTagSize = 16

	// NTCP2MaxPaddingRatio is the maximum padding-to-data percentage
	// applied to regular data phase frames.
	NTCP2MaxPaddingRatio = 6

	// NTCP2EstablishTimeout bounds how long a handshake may remain
	// incomplete before the session is torn down.
	NTCP2EstablishTimeout = 10 * time.Second

	// NTCP2TerminationTimeout is the default data-phase idle timeout.
	NTCP2TerminationTimeout = 600 * time.Second

	// NTCP2TerminationCheckTimeout is the sweep interval used to detect
	// idle or expired sessions.
	NTCP2TerminationCheckTimeout = 30 * time.Second

	// NTCP2MaxOutgoingQueueSize is the maximum number of queued outbound
	// I2NP messages before a session self-terminates under backpressure.
	NTCP2MaxOutgoingQueueSize = 500

	// NTCP2ConnectTimeout is the base dial timeout; outbound TCP connects
	// use 5x this value per the server's connect policy.
	NTCP2ConnectTimeout = 5 * time.Second

	// NetDbMinExpirationTimeout bounds the age of a RouterInfo carried in
	// SessionConfirmed part 2 before it is rejected as stale.
	NetDbMinExpirationTimeout = 90 * time.Minute

	// RouterInfoPushPaddingMax is the exclusive upper bound of the
	// uniform padding appended to a spontaneous RouterInfo push frame.
	// This is a hard cap, independent of NTCP2MaxPaddingRatio.
	RouterInfoPushPaddingMax = 64

	// TerminationPaddingMax is the exclusive upper bound of the padding
	// appended after an outgoing Termination block.
	TerminationPaddingMax = 19
)

// Block type tags used by the NTCP2 payload codec (§4.4). Defined
// canonically in ntcp2/blocks, since that package's Termination/RouterInfo/
// etc. constructors need them and cannot import back up into ntcp2.
const (
	BlockTypeDateTime    = blocks.TypeDateTime
	BlockTypeOptions     = blocks.TypeOptions
	BlockTypeRouterInfo  = blocks.TypeRouterInfo
	BlockTypeI2NPMessage = blocks.TypeI2NPMessage
	BlockTypeTermination = blocks.TypeTermination
	BlockTypePadding     = blocks.TypePadding
)

// TerminationReason enumerates the reason codes carried in a Termination
// block (§4.6), aliasing blocks.TerminationReason so callers outside this
// package never need to import ntcp2/blocks directly.
type TerminationReason = blocks.TerminationReason

const (
	ReasonNormalClose                        = blocks.ReasonNormalClose
	ReasonTerminationReceived                 = blocks.ReasonTerminationReceived
	ReasonIdleTimeout                         = blocks.ReasonIdleTimeout
	ReasonRouterInfoSignatureVerificationFail = blocks.ReasonRouterInfoSignatureVerificationFail
	ReasonIncorrectSParameter                 = blocks.ReasonIncorrectSParameter
	ReasonMessage3Error                       = blocks.ReasonMessage3Error
	ReasonDataPhaseAEADFailure                = blocks.ReasonDataPhaseAEADFailure
)

// Role identifies which side of the Noise_XK handshake a session plays.
type Role int

const (
	RoleAlice Role = iota // initiator
	RoleBob               // responder
)

func (r Role) String() string {
	if r == RoleAlice {
		return "alice"
	}
	return "bob"
}

// SessionState is the lifecycle state of a Session (§3).
type SessionState int

const (
	StateHandshaking SessionState = iota
	StateEstablished
	StateTerminating
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
