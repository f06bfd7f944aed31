// Package routercontext holds this router's own immutable identity: its
// NTCP2 static keypair, signing keypair, obfuscation IV, and network ID.
// cmd/ntcp2d builds one at startup and threads it into ntcp2.Config and
// netdb.InMemory; nothing here talks to the network.
package routercontext

import (
	"crypto/ed25519"
	"crypto/rand"
	"strconv"
	"time"

	"github.com/go-i2p/ntcp2router/routerinfo"
	"github.com/samber/oops"
	"golang.org/x/crypto/curve25519"
)

// Context is this router's local identity.
type Context struct {
	RouterHash      [32]byte
	StaticKey       [32]byte // X25519 private
	StaticPublicKey [32]byte
	SigningKey      ed25519.PrivateKey
	SigningPublic   ed25519.PublicKey
	ObfuscationIV   [16]byte
	NetworkID       byte
}

// Generate creates a fresh Context with random keys, for first-run
// bootstrapping or tests. Production deployments should persist and reload
// these keys instead of regenerating them on every start, since the
// router hash and static key are this router's long-term identity.
func Generate(networkID byte) (*Context, error) {
	var staticPriv [32]byte
	if _, err := rand.Read(staticPriv[:]); err != nil {
		return nil, oops.Code("STATIC_KEY_GENERATION_FAILED").In("routercontext").Wrap(err)
	}
	var staticPub [32]byte
	curve25519.ScalarBaseMult(&staticPub, &staticPriv)

	signingPub, signingPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, oops.Code("SIGNING_KEY_GENERATION_FAILED").In("routercontext").Wrap(err)
	}

	var iv [16]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return nil, oops.Code("OBFUSCATION_IV_GENERATION_FAILED").In("routercontext").Wrap(err)
	}

	ctx := &Context{
		StaticKey:       staticPriv,
		StaticPublicKey: staticPub,
		SigningKey:      signingPriv,
		SigningPublic:   signingPub,
		ObfuscationIV:   iv,
		NetworkID:       networkID,
	}

	ri := routerinfo.New(signingPub, staticPub, iv, time.Now(), map[string]string{
		"netId": strconv.Itoa(int(networkID)),
	})
	if err := ri.Sign(signingPriv); err != nil {
		return nil, err
	}
	ctx.RouterHash = ri.IdentHash()

	return ctx, nil
}

// RouterInfo builds and signs a fresh RouterInfo reflecting this context's
// current identity and the supplied published timestamp, for periodic
// republishing to NetDb.
func (c *Context) RouterInfo(published time.Time, options map[string]string) (*routerinfo.RouterInfo, error) {
	ri := routerinfo.New(c.SigningPublic, c.StaticPublicKey, c.ObfuscationIV, published, options)
	if err := ri.Sign(c.SigningKey); err != nil {
		return nil, err
	}
	return ri, nil
}
