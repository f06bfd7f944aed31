package ntcp2

import (
	"time"

	"github.com/samber/oops"
)

// Config contains the parameters needed to run an NTCP2 handshake and the
// data phase that follows it. It follows the builder pattern for optional
// configuration and validation.
type Config struct {
	// Initiator indicates whether this side sends SessionRequest (Alice).
	// Listener-accepted connections are always non-initiator (Bob).
	Initiator bool

	// RouterHash is this router's own identity hash (32 bytes).
	RouterHash []byte

	// StaticKey is this router's long-term NTCP2 static private key (32 bytes, X25519).
	StaticKey []byte

	// StaticPublicKey is this router's long-term NTCP2 static public key (32 bytes).
	StaticPublicKey []byte

	// RemoteRouterHash is the remote peer's identity hash (32 bytes).
	// Required for outbound (initiator) sessions.
	RemoteRouterHash []byte

	// RemoteStaticKey is the remote peer's published NTCP2 static public key
	// (32 bytes). Required for outbound (initiator) sessions.
	RemoteStaticKey []byte

	// NetworkID is the I2P network identifier carried in the SessionRequest
	// OPTIONS block. Default: 2 (mainnet).
	NetworkID byte

	// ObfuscationIV is the 16-byte IV published in the responder's NTCP2
	// RouterAddress ("i" option), used to AES-obfuscate the first ephemeral key.
	ObfuscationIV []byte

	// HandshakeTimeout bounds how long a single handshake attempt may take.
	// Default: 15 seconds.
	HandshakeTimeout time.Duration

	// ReadTimeout/WriteTimeout bound data-phase socket operations.
	// Default: no timeout (0).
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// HandshakeRetries is an outbound handshake retry count, checked by
	// Validate. Default: 3 (0 = no retries, -1 = infinite retries).
	// Server.Connect makes a single handshake attempt and does not read it.
	HandshakeRetries int

	// RetryBackoff is a base delay between retry attempts, checked by
	// Validate. Default: 1 second. Nothing in this package reads it; no
	// backoff is applied.
	RetryBackoff time.Duration

	// MaxFrameSize is the maximum size of an obfuscated data-phase frame,
	// including the 16-byte Poly1305 tag. Default: 16382 bytes
	// (NTCP2UnencryptedFrameMaxSize + ChaChaPolyTagSize).
	MaxFrameSize int

	// FramePaddingEnabled toggles the ratio-based data-phase padding block.
	// Default: true.
	FramePaddingEnabled bool

	// MinPaddingSize/MaxPaddingSize bound data-phase padding size.
	// Default: 0 / 64 bytes.
	MinPaddingSize int
	MaxPaddingSize int
}

// NewConfig creates a Config with sensible defaults.
// routerHash, staticKey and staticPublicKey must be exactly 32 bytes.
func NewConfig(routerHash, staticKey, staticPublicKey []byte, initiator bool) (*Config, error) {
	if len(routerHash) != 32 {
		return nil, oops.
			Code("INVALID_ROUTER_HASH").
			In("ntcp2").
			With("hash_length", len(routerHash)).
			Errorf("router hash must be exactly 32 bytes")
	}
	if len(staticKey) != 32 {
		return nil, oops.
			Code("INVALID_STATIC_KEY").
			In("ntcp2").
			With("key_length", len(staticKey)).
			Errorf("static key must be exactly 32 bytes")
	}
	if len(staticPublicKey) != 32 {
		return nil, oops.
			Code("INVALID_STATIC_PUBLIC_KEY").
			In("ntcp2").
			With("key_length", len(staticPublicKey)).
			Errorf("static public key must be exactly 32 bytes")
	}

	hash := make([]byte, 32)
	copy(hash, routerHash)
	sk := make([]byte, 32)
	copy(sk, staticKey)
	spk := make([]byte, 32)
	copy(spk, staticPublicKey)

	return &Config{
		Initiator:           initiator,
		RouterHash:          hash,
		StaticKey:           sk,
		StaticPublicKey:     spk,
		NetworkID:           2,
		HandshakeTimeout:    15 * time.Second,
		HandshakeRetries:    3,
		RetryBackoff:        1 * time.Second,
		MaxFrameSize:        NTCP2UnencryptedFrameMaxSize + ChaChaPolyTagSize,
		FramePaddingEnabled: true,
		MinPaddingSize:      0,
		MaxPaddingSize:      64,
	}, nil
}

// WithRemote sets the remote peer's identity hash, published static key,
// and obfuscation IV. Required before dialing as initiator.
func (c *Config) WithRemote(routerHash, staticKey, obfuscationIV []byte) *Config {
	if len(routerHash) == 32 {
		c.RemoteRouterHash = append([]byte(nil), routerHash...)
	}
	if len(staticKey) == 32 {
		c.RemoteStaticKey = append([]byte(nil), staticKey...)
	}
	if len(obfuscationIV) == 16 {
		c.ObfuscationIV = append([]byte(nil), obfuscationIV...)
	}
	return c
}

// WithNetworkID overrides the network identifier (default 2).
func (c *Config) WithNetworkID(id byte) *Config {
	c.NetworkID = id
	return c
}

// WithHandshakeTimeout sets the per-attempt handshake timeout.
func (c *Config) WithHandshakeTimeout(timeout time.Duration) *Config {
	c.HandshakeTimeout = timeout
	return c
}

// WithReadTimeout sets the data-phase read timeout.
func (c *Config) WithReadTimeout(timeout time.Duration) *Config {
	c.ReadTimeout = timeout
	return c
}

// WithWriteTimeout sets the data-phase write timeout.
func (c *Config) WithWriteTimeout(timeout time.Duration) *Config {
	c.WriteTimeout = timeout
	return c
}

// WithHandshakeRetries sets the HandshakeRetries field.
// Use 0 for no retries, -1 for infinite retries.
func (c *Config) WithHandshakeRetries(retries int) *Config {
	c.HandshakeRetries = retries
	return c
}

// WithRetryBackoff sets the RetryBackoff field.
func (c *Config) WithRetryBackoff(backoff time.Duration) *Config {
	c.RetryBackoff = backoff
	return c
}

// WithFrameSettings configures data-phase frame handling.
func (c *Config) WithFrameSettings(maxSize int, paddingEnabled bool, minPadding, maxPadding int) *Config {
	if maxSize > 0 {
		c.MaxFrameSize = maxSize
	}
	c.FramePaddingEnabled = paddingEnabled
	if minPadding >= 0 {
		c.MinPaddingSize = minPadding
	}
	if maxPadding >= minPadding {
		c.MaxPaddingSize = maxPadding
	}
	return c
}

// Validate checks if the configuration is valid for running NTCP2.
func (c *Config) Validate() error {
	if err := c.validateIdentity(); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateTimeouts(); err != nil {
		return err
	}
	return c.validateFrameSettings()
}

func (c *Config) validateIdentity() error {
	if len(c.RouterHash) != 32 {
		return oops.Code("INVALID_ROUTER_HASH").In("ntcp2").
			With("hash_length", len(c.RouterHash)).
			Errorf("router hash must be exactly 32 bytes")
	}
	if len(c.StaticKey) != 32 {
		return oops.Code("INVALID_STATIC_KEY").In("ntcp2").
			With("key_length", len(c.StaticKey)).
			Errorf("static key must be exactly 32 bytes")
	}
	if len(c.StaticPublicKey) != 32 {
		return oops.Code("INVALID_STATIC_PUBLIC_KEY").In("ntcp2").
			With("key_length", len(c.StaticPublicKey)).
			Errorf("static public key must be exactly 32 bytes")
	}
	return nil
}

func (c *Config) validateRemote() error {
	if len(c.RemoteRouterHash) > 0 && len(c.RemoteRouterHash) != 32 {
		return oops.Code("INVALID_REMOTE_ROUTER_HASH").In("ntcp2").
			With("hash_length", len(c.RemoteRouterHash)).
			Errorf("remote router hash must be 32 bytes")
	}
	if len(c.RemoteStaticKey) > 0 && len(c.RemoteStaticKey) != 32 {
		return oops.Code("INVALID_REMOTE_STATIC_KEY").In("ntcp2").
			With("key_length", len(c.RemoteStaticKey)).
			Errorf("remote static key must be 32 bytes")
	}
	if len(c.ObfuscationIV) > 0 && len(c.ObfuscationIV) != 16 {
		return oops.Code("INVALID_OBFUSCATION_IV").In("ntcp2").
			With("iv_length", len(c.ObfuscationIV)).
			Errorf("obfuscation IV must be 16 bytes")
	}
	if c.Initiator {
		if len(c.RemoteRouterHash) == 0 {
			return oops.Code("MISSING_REMOTE_ROUTER_HASH").In("ntcp2").
				Errorf("remote router hash is required for initiator sessions")
		}
		if len(c.RemoteStaticKey) == 0 {
			return oops.Code("MISSING_REMOTE_STATIC_KEY").In("ntcp2").
				Errorf("remote static key is required for initiator sessions")
		}
		if len(c.ObfuscationIV) == 0 {
			return oops.Code("MISSING_OBFUSCATION_IV").In("ntcp2").
				Errorf("obfuscation IV is required for initiator sessions")
		}
	}
	return nil
}

func (c *Config) validateTimeouts() error {
	if c.HandshakeTimeout <= 0 {
		return oops.Code("INVALID_HANDSHAKE_TIMEOUT").In("ntcp2").
			With("timeout", c.HandshakeTimeout).
			Errorf("handshake timeout must be positive")
	}
	if c.HandshakeRetries < -1 {
		return oops.Code("INVALID_RETRY_COUNT").In("ntcp2").
			With("retries", c.HandshakeRetries).
			Errorf("handshake retries must be >= -1")
	}
	if c.RetryBackoff < 0 {
		return oops.Code("INVALID_RETRY_BACKOFF").In("ntcp2").
			With("backoff", c.RetryBackoff).
			Errorf("retry backoff must be non-negative")
	}
	return nil
}

func (c *Config) validateFrameSettings() error {
	if c.MaxFrameSize <= 0 {
		return oops.Code("INVALID_MAX_FRAME_SIZE").In("ntcp2").
			With("max_size", c.MaxFrameSize).
			Errorf("max frame size must be positive")
	}
	if c.MinPaddingSize < 0 {
		return oops.Code("INVALID_MIN_PADDING").In("ntcp2").
			With("min_padding", c.MinPaddingSize).
			Errorf("min padding size must be non-negative")
	}
	if c.MaxPaddingSize < c.MinPaddingSize {
		return oops.Code("INVALID_PADDING_RANGE").In("ntcp2").
			With("min_padding", c.MinPaddingSize).
			With("max_padding", c.MaxPaddingSize).
			Errorf("max padding size must be >= min padding size")
	}
	return nil
}
