package ntcp2

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestNewConfigDefaults(t *testing.T) {
	routerHash := randBytes(t, 32)
	staticKey := randBytes(t, 32)
	staticPub := randBytes(t, 32)

	config, err := NewConfig(routerHash, staticKey, staticPub, true)
	require.NoError(t, err)

	assert.Equal(t, true, config.Initiator)
	assert.Equal(t, routerHash, config.RouterHash)
	assert.Equal(t, byte(2), config.NetworkID)
	assert.Equal(t, 15*time.Second, config.HandshakeTimeout)
	assert.Equal(t, time.Duration(0), config.ReadTimeout)
	assert.Equal(t, time.Duration(0), config.WriteTimeout)
	assert.Equal(t, 3, config.HandshakeRetries)
	assert.Equal(t, 1*time.Second, config.RetryBackoff)
	assert.Equal(t, NTCP2UnencryptedFrameMaxSize+ChaChaPolyTagSize, config.MaxFrameSize)
	assert.Equal(t, true, config.FramePaddingEnabled)
	assert.Equal(t, 0, config.MinPaddingSize)
	assert.Equal(t, 64, config.MaxPaddingSize)

	config, err = NewConfig(routerHash, staticKey, staticPub, false)
	require.NoError(t, err)
	assert.Equal(t, false, config.Initiator)
}

func TestNewConfigRejectsBadKeyLengths(t *testing.T) {
	routerHash := randBytes(t, 32)
	staticKey := randBytes(t, 32)
	staticPub := randBytes(t, 32)

	_, err := NewConfig(make([]byte, 16), staticKey, staticPub, false)
	assert.Error(t, err)

	_, err = NewConfig(routerHash, make([]byte, 16), staticPub, false)
	assert.Error(t, err)

	_, err = NewConfig(routerHash, staticKey, make([]byte, 16), false)
	assert.Error(t, err)
}

func TestConfigBuilderMethods(t *testing.T) {
	routerHash := randBytes(t, 32)
	staticKey := randBytes(t, 32)
	staticPub := randBytes(t, 32)
	remoteHash := randBytes(t, 32)
	remoteStatic := randBytes(t, 32)
	iv := randBytes(t, 16)

	config, err := NewConfig(routerHash, staticKey, staticPub, true)
	require.NoError(t, err)

	config = config.
		WithRemote(remoteHash, remoteStatic, iv).
		WithNetworkID(3).
		WithHandshakeTimeout(45*time.Second).
		WithReadTimeout(10*time.Second).
		WithWriteTimeout(15*time.Second).
		WithHandshakeRetries(5).
		WithRetryBackoff(2*time.Second).
		WithFrameSettings(32768, false, 16, 128)

	assert.Equal(t, remoteHash, config.RemoteRouterHash)
	assert.Equal(t, remoteStatic, config.RemoteStaticKey)
	assert.Equal(t, iv, config.ObfuscationIV)
	assert.Equal(t, byte(3), config.NetworkID)
	assert.Equal(t, 45*time.Second, config.HandshakeTimeout)
	assert.Equal(t, 10*time.Second, config.ReadTimeout)
	assert.Equal(t, 15*time.Second, config.WriteTimeout)
	assert.Equal(t, 5, config.HandshakeRetries)
	assert.Equal(t, 2*time.Second, config.RetryBackoff)
	assert.Equal(t, 32768, config.MaxFrameSize)
	assert.Equal(t, false, config.FramePaddingEnabled)
	assert.Equal(t, 16, config.MinPaddingSize)
	assert.Equal(t, 128, config.MaxPaddingSize)

	require.NoError(t, config.Validate())
}

func TestConfigValidation(t *testing.T) {
	routerHash := randBytes(t, 32)
	staticKey := randBytes(t, 32)
	staticPub := randBytes(t, 32)

	tests := []struct {
		name        string
		setupConfig func() *Config
		errorCode   string
	}{
		{
			name: "missing remote for initiator",
			setupConfig: func() *Config {
				c, _ := NewConfig(routerHash, staticKey, staticPub, true)
				return c
			},
			errorCode: "MISSING_REMOTE_ROUTER_HASH",
		},
		{
			name: "invalid remote router hash length",
			setupConfig: func() *Config {
				c, _ := NewConfig(routerHash, staticKey, staticPub, false)
				c.RemoteRouterHash = make([]byte, 16)
				return c
			},
			errorCode: "INVALID_REMOTE_ROUTER_HASH",
		},
		{
			name: "invalid handshake timeout",
			setupConfig: func() *Config {
				c, _ := NewConfig(routerHash, staticKey, staticPub, false)
				c.HandshakeTimeout = -1 * time.Second
				return c
			},
			errorCode: "INVALID_HANDSHAKE_TIMEOUT",
		},
		{
			name: "invalid retry count",
			setupConfig: func() *Config {
				c, _ := NewConfig(routerHash, staticKey, staticPub, false)
				c.HandshakeRetries = -2
				return c
			},
			errorCode: "INVALID_RETRY_COUNT",
		},
		{
			name: "invalid padding range",
			setupConfig: func() *Config {
				c, _ := NewConfig(routerHash, staticKey, staticPub, false)
				c.MinPaddingSize = 100
				c.MaxPaddingSize = 50
				return c
			},
			errorCode: "INVALID_PADDING_RANGE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.setupConfig().Validate()
			require.Error(t, err)
		})
	}
}

func TestConfigValidInitiatorWithRemote(t *testing.T) {
	routerHash := randBytes(t, 32)
	staticKey := randBytes(t, 32)
	staticPub := randBytes(t, 32)
	remoteHash := randBytes(t, 32)
	remoteStatic := randBytes(t, 32)
	iv := randBytes(t, 16)

	config, err := NewConfig(routerHash, staticKey, staticPub, true)
	require.NoError(t, err)
	config = config.WithRemote(remoteHash, remoteStatic, iv)

	assert.NoError(t, config.Validate())
}

func TestConfigDefensiveCopying(t *testing.T) {
	routerHash := randBytes(t, 32)
	staticKey := randBytes(t, 32)
	staticPub := randBytes(t, 32)

	config, err := NewConfig(routerHash, staticKey, staticPub, false)
	require.NoError(t, err)

	routerHash[0] = 0xFF
	staticKey[0] = 0xFF

	assert.NotEqual(t, byte(0xFF), config.RouterHash[0])
	assert.NotEqual(t, byte(0xFF), config.StaticKey[0])
}
