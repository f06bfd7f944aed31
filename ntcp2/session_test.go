package ntcp2

import (
	"net"
	"testing"
	"time"

	"github.com/go-i2p/ntcp2router/i2np"
	"github.com/stretchr/testify/require"
)

func pairedSessions(t *testing.T) (alice, bob *Session) {
	t.Helper()

	aliceKeys, bobKeys, _ := runHandshake(t, []byte("routerinfo stand-in"))

	cfg, err := NewConfig(randomBytes(t, 32), randomBytes(t, 32), randomBytes(t, 32), true)
	require.NoError(t, err)
	cfg = cfg.WithFrameSettings(0, true, 0, 16)

	clientConn, serverConn := net.Pipe()

	alice = newSession(clientConn, cfg, RoleAlice, aliceKeys, randomBytes(t, 32))
	bob = newSession(serverConn, cfg, RoleBob, bobKeys, randomBytes(t, 32))
	return alice, bob
}

func TestSessionSendReceiveI2NPMessage(t *testing.T) {
	alice, bob := pairedSessions(t)
	defer alice.Close()
	defer bob.Close()

	go alice.RunSendLoop()

	received := make(chan []byte, 1)
	go func() {
		_ = bob.RunReceiveLoop(func(msg *i2np.Message) {
			received <- msg.Payload
		})
	}()

	payload := []byte("hello from alice")
	msg, err := i2np.New(42, time.Now(), payload)
	require.NoError(t, err)
	require.NoError(t, alice.SendI2NPMessage(msg))

	select {
	case got := <-received:
		require.Equal(t, payload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("bob never received the framed I2NP message")
	}
}

func TestSessionSendI2NPMessageRejectsWhenNotEstablished(t *testing.T) {
	alice, bob := pairedSessions(t)
	defer bob.Close()
	alice.setState(StateTerminated)

	msg, err := i2np.New(1, time.Now(), []byte("too late"))
	require.NoError(t, err)
	err = alice.SendI2NPMessage(msg)
	require.Error(t, err)
	_ = alice.Close()
}

func TestSessionTerminateClosesUnderlyingConn(t *testing.T) {
	alice, bob := pairedSessions(t)
	defer bob.Close()

	go func() {
		_ = bob.RunReceiveLoop(nil)
	}()

	require.NoError(t, alice.Terminate())
	require.Equal(t, StateTerminated, alice.State())
}

func TestSessionIdleSinceAdvancesOnWrite(t *testing.T) {
	alice, bob := pairedSessions(t)
	defer alice.Close()
	defer bob.Close()

	go func() {
		_ = bob.RunReceiveLoop(nil)
	}()

	before := alice.IdleSince()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, alice.sendBlocks(nil))
	require.True(t, alice.IdleSince().After(before))
}

func TestSessionSendLoopDropsOversizeMessageWithoutTerminating(t *testing.T) {
	alice, bob := pairedSessions(t)
	defer alice.Close()
	defer bob.Close()

	go alice.RunSendLoop()

	received := make(chan []byte, 2)
	go func() {
		_ = bob.RunReceiveLoop(func(msg *i2np.Message) {
			received <- msg.Payload
		})
	}()

	oversizePayload := make([]byte, NTCP2UnencryptedFrameMaxSize+1)
	oversizeMsg, err := i2np.New(1, time.Now(), oversizePayload)
	require.NoError(t, err)
	require.NoError(t, alice.SendI2NPMessage(oversizeMsg))

	goodPayload := []byte("still alive")
	goodMsg, err := i2np.New(2, time.Now(), goodPayload)
	require.NoError(t, err)
	require.NoError(t, alice.SendI2NPMessage(goodMsg))

	select {
	case got := <-received:
		require.Equal(t, goodPayload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("bob never received the message sent after the oversize drop")
	}
	require.Equal(t, StateEstablished, alice.State())
}

func TestSessionSendI2NPMessageRejectsWhenQueueFull(t *testing.T) {
	alice, bob := pairedSessions(t)
	defer bob.Close()
	defer alice.Close()

	// Don't drain alice.sendQueue with RunSendLoop: fill it past capacity and
	// confirm the session self-terminates rather than blocking forever.
	var lastErr error
	for i := 0; i < NTCP2MaxOutgoingQueueSize+1; i++ {
		msg, err := i2np.New(1, time.Now(), []byte("queued"))
		require.NoError(t, err)
		lastErr = alice.SendI2NPMessage(msg)
	}
	require.Error(t, lastErr)
	require.Equal(t, StateTerminated, alice.State())
}

func TestSessionTerminateWithIdleTimeoutReason(t *testing.T) {
	alice, bob := pairedSessions(t)
	defer alice.Close()

	done := make(chan struct{})
	go func() {
		_ = bob.RunReceiveLoop(nil)
		close(done)
	}()

	require.NoError(t, alice.TerminateWithReason(ReasonIdleTimeout))
	require.Equal(t, StateTerminated, alice.State())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bob's receive loop never observed the termination")
	}
}
