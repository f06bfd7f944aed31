package netdb

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/go-i2p/ntcp2router/routerinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedRouterInfo(t *testing.T, published time.Time) *routerinfo.RouterInfo {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	var staticPub [32]byte
	_, err = rand.Read(staticPub[:])
	require.NoError(t, err)
	var iv [16]byte
	_, err = rand.Read(iv[:])
	require.NoError(t, err)

	ri := routerinfo.New(pub, staticPub, iv, published, map[string]string{"netId": "2"})
	require.NoError(t, ri.Sign(priv))
	return ri
}

func TestLocalRouterInfoRoundtrip(t *testing.T) {
	local := signedRouterInfo(t, time.Now())
	db := New(local, time.Hour)

	got, err := db.LocalRouterInfo()
	require.NoError(t, err)
	assert.Equal(t, local.Bytes(), got)
}

func TestValidateRemoteStoresOnSuccess(t *testing.T) {
	local := signedRouterInfo(t, time.Now())
	db := New(local, time.Hour)

	remote := signedRouterInfo(t, time.Now())
	require.NoError(t, db.ValidateRemote(nil, remote.Bytes()))
	assert.Equal(t, 1, db.Count())

	_, ok := db.Lookup(remote.IdentHash())
	assert.True(t, ok)
}

func TestValidateRemoteRejectsExpired(t *testing.T) {
	local := signedRouterInfo(t, time.Now())
	db := New(local, time.Hour)

	remote := signedRouterInfo(t, time.Now().Add(-2*time.Hour))
	assert.Error(t, db.ValidateRemote(nil, remote.Bytes()))
	assert.Equal(t, 0, db.Count())
}

func TestValidateRemoteRejectsHashMismatch(t *testing.T) {
	local := signedRouterInfo(t, time.Now())
	db := New(local, time.Hour)

	remote := signedRouterInfo(t, time.Now())
	wrongHash := make([]byte, 32)
	assert.Error(t, db.ValidateRemote(wrongHash, remote.Bytes()))
}
