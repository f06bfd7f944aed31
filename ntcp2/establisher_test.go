package ntcp2

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

func genStaticKeypair(t *testing.T) (priv, pub [32]byte) {
	t.Helper()
	_, err := rand.Read(priv[:])
	require.NoError(t, err)
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// runHandshake drives both sides of the Noise_XK handshake in-process,
// without a net.Conn, and returns the resulting data-phase keys plus the
// plaintext SessionConfirmed part 2 payload Bob decrypted.
func runHandshake(t *testing.T, payload []byte) (aliceKeys, bobKeys dataPhaseKeys, decoded []byte) {
	t.Helper()

	aliceRouterHash := randomBytes(t, 32)
	bobRouterHash := randomBytes(t, 32)
	obfuscationIV := randomBytes(t, 16)

	aliceStaticPriv, aliceStaticPub := genStaticKeypair(t)
	bobStaticPriv, bobStaticPub := genStaticKeypair(t)

	aliceCfg, err := NewConfig(aliceRouterHash, aliceStaticPriv[:], aliceStaticPub[:], true)
	require.NoError(t, err)
	aliceCfg = aliceCfg.WithRemote(bobRouterHash, bobStaticPub[:], obfuscationIV).WithNetworkID(2)

	bobCfg, err := NewConfig(bobRouterHash, bobStaticPriv[:], bobStaticPub[:], false)
	require.NoError(t, err)
	bobCfg = bobCfg.WithNetworkID(2)

	alice, err := NewEstablisher(RoleAlice, aliceCfg, obfuscationIV)
	require.NoError(t, err)
	bob, err := NewEstablisher(RoleBob, bobCfg, obfuscationIV)
	require.NoError(t, err)

	require.NoError(t, alice.CreateSessionRequestMessage(2, len(payload)+16))
	sessionRequest := alice.sessionRequestBuffer

	opts, err := bob.ProcessSessionRequestMessage(sessionRequest[0:64])
	require.NoError(t, err)
	require.Equal(t, byte(2), opts.NetworkID)
	if padLen := int(opts.PadLen); padLen > 0 {
		bob.AppendSessionRequestPadding(sessionRequest[64 : 64+padLen])
	}

	require.NoError(t, bob.CreateSessionCreatedMessage())
	sessionCreated := bob.sessionCreatedBuffer

	padLen, err := alice.ProcessSessionCreatedMessage(sessionCreated[0:64])
	require.NoError(t, err)
	if padLen > 0 {
		alice.AppendSessionCreatedPadding(sessionCreated[64 : 64+int(padLen)])
	}

	part1, err := alice.CreateSessionConfirmedPart1()
	require.NoError(t, err)
	part2, err := alice.CreateSessionConfirmedPart2(part1, payload)
	require.NoError(t, err)

	require.NoError(t, bob.ProcessSessionConfirmedPart1(part1))
	decoded, err = bob.ProcessSessionConfirmedPart2(part1, part2)
	require.NoError(t, err)

	aliceKeys, err = alice.Finalize()
	require.NoError(t, err)
	bobKeys, err = bob.Finalize()
	require.NoError(t, err)

	return aliceKeys, bobKeys, decoded
}

func TestHandshakeDerivesMatchingDataPhaseKeys(t *testing.T) {
	payload := []byte("router info payload stand-in")
	aliceKeys, bobKeys, decoded := runHandshake(t, payload)

	require.Equal(t, payload, decoded)
	require.Equal(t, aliceKeys.Kab, bobKeys.Kab)
	require.Equal(t, aliceKeys.Kba, bobKeys.Kba)
	require.Equal(t, aliceKeys.SipKeysAB, bobKeys.SipKeysAB)
	require.Equal(t, aliceKeys.SipKeysBA, bobKeys.SipKeysBA)
}

func TestProcessSessionRequestMessageRejectsWrongLength(t *testing.T) {
	bobRouterHash := randomBytes(t, 32)
	bobStaticPriv, bobStaticPub := genStaticKeypair(t)
	obfuscationIV := randomBytes(t, 16)

	bobCfg, err := NewConfig(bobRouterHash, bobStaticPriv[:], bobStaticPub[:], false)
	require.NoError(t, err)
	bob, err := NewEstablisher(RoleBob, bobCfg, obfuscationIV)
	require.NoError(t, err)

	_, err = bob.ProcessSessionRequestMessage(make([]byte, 10))
	require.Error(t, err)
}

func TestHandshakeFailsWithMismatchedObfuscationIV(t *testing.T) {
	aliceRouterHash := randomBytes(t, 32)
	bobRouterHash := randomBytes(t, 32)

	aliceStaticPriv, aliceStaticPub := genStaticKeypair(t)
	bobStaticPriv, bobStaticPub := genStaticKeypair(t)

	aliceCfg, err := NewConfig(aliceRouterHash, aliceStaticPriv[:], aliceStaticPub[:], true)
	require.NoError(t, err)
	aliceCfg = aliceCfg.WithRemote(bobRouterHash, bobStaticPub[:], randomBytes(t, 16)).WithNetworkID(2)

	bobCfg, err := NewConfig(bobRouterHash, bobStaticPriv[:], bobStaticPub[:], false)
	require.NoError(t, err)

	alice, err := NewEstablisher(RoleAlice, aliceCfg, aliceCfg.ObfuscationIV)
	require.NoError(t, err)
	bob, err := NewEstablisher(RoleBob, bobCfg, randomBytes(t, 16))
	require.NoError(t, err)

	require.NoError(t, alice.CreateSessionRequestMessage(2, 16))
	_, err = bob.ProcessSessionRequestMessage(alice.sessionRequestBuffer[0:64])
	require.Error(t, err)
}
