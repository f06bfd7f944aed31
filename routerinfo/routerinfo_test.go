package routerinfo

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSigned(t *testing.T, published time.Time) (*RouterInfo, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var staticPub [staticKeySize]byte
	_, err = rand.Read(staticPub[:])
	require.NoError(t, err)
	var iv [obfuscationIVSize]byte
	_, err = rand.Read(iv[:])
	require.NoError(t, err)

	ri := New(pub, staticPub, iv, published, map[string]string{"netId": "2"})
	require.NoError(t, ri.Sign(priv))
	return ri, pub
}

func TestSignParseVerifyRoundtrip(t *testing.T) {
	ri, pub := newSigned(t, time.Now())

	parsed, err := Parse(ri.Bytes())
	require.NoError(t, err)
	assert.Equal(t, pub, parsed.SigningPublicKey)
	assert.Equal(t, ri.StaticPublicKey, parsed.StaticPublicKey)
	assert.Equal(t, "2", parsed.Options["netId"])

	require.NoError(t, parsed.Verify(time.Now(), time.Hour))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	ri, _ := newSigned(t, time.Now())
	tampered := ri.Bytes()
	tampered[0] ^= 0xff

	parsed, err := Parse(tampered)
	require.NoError(t, err)
	assert.Error(t, parsed.Verify(time.Now(), time.Hour))
}

func TestVerifyRejectsExpired(t *testing.T) {
	ri, _ := newSigned(t, time.Now().Add(-2*time.Hour))
	parsed, err := Parse(ri.Bytes())
	require.NoError(t, err)
	assert.Error(t, parsed.Verify(time.Now(), time.Hour))
}

func TestIdentHashStableAcrossParse(t *testing.T) {
	ri, _ := newSigned(t, time.Now())
	parsed, err := Parse(ri.Bytes())
	require.NoError(t, err)
	assert.Equal(t, ri.IdentHash(), parsed.IdentHash())
}

func TestParseRejectsTruncated(t *testing.T) {
	_, err := Parse(make([]byte, 10))
	assert.Error(t, err)
}
