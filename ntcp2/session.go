package ntcp2

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-i2p/ntcp2router/handshake"
	"github.com/go-i2p/ntcp2router/i2np"
	"github.com/go-i2p/ntcp2router/internal"
	"github.com/go-i2p/ntcp2router/ntcp2/blocks"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
)

// Session is one established NTCP2 connection: a handshake-derived pair of
// ChaCha20-Poly1305 keys framing an I2NP message stream, with SipHash
// length obfuscation and ratio-based padding on every frame.
type Session struct {
	underlying net.Conn
	config     *Config
	role       Role

	sendKey, recvKey   [32]byte
	sendSip, recvSip    *SipHashLengthModifier
	sendSeq, recvSeq    uint64

	remoteRouterHash []byte

	state      SessionState
	stateMutex sync.RWMutex

	sendQueue chan []byte
	sendOnce  sync.Once
	sendErr   error

	closeMutex sync.Mutex
	closed     bool

	metrics *internal.ConnectionMetrics

	idleTimer    *time.Timer
	lastActivity time.Time
	activityMu   sync.RWMutex
}

// newSession wraps an established handshake into a running data-phase
// Session. keys must come from Establisher.Finalize; sendSipPair/recvSipPair
// pick the ab/ba half appropriate to this side's role.
func newSession(underlying net.Conn, cfg *Config, role Role, keys dataPhaseKeys, remoteRouterHash []byte) *Session {
	sendKeyBytes, recvKeyBytes, sendSipPair, recvSipPair := keys.Kab, keys.Kba, keys.SipKeysAB, keys.SipKeysBA
	if role == RoleBob {
		sendKeyBytes, recvKeyBytes, sendSipPair, recvSipPair = keys.Kba, keys.Kab, keys.SipKeysBA, keys.SipKeysAB
	}

	sendK0, sendK1 := binary.LittleEndian.Uint64(sendSipPair[0:8]), binary.LittleEndian.Uint64(sendSipPair[8:16])
	recvK0, recvK1 := binary.LittleEndian.Uint64(recvSipPair[0:8]), binary.LittleEndian.Uint64(recvSipPair[8:16])
	sendIV := binary.LittleEndian.Uint64(sendSipPair[16:24])
	recvIV := binary.LittleEndian.Uint64(recvSipPair[16:24])

	s := &Session{
		underlying:       underlying,
		config:           cfg,
		role:             role,
		sendKey:          sendKeyBytes,
		recvKey:          recvKeyBytes,
		sendSip:          NewSipHashLengthModifier("send-length", [2]uint64{sendK0, sendK1}, sendIV),
		recvSip:          NewSipHashLengthModifier("recv-length", [2]uint64{recvK0, recvK1}, recvIV),
		remoteRouterHash: append([]byte(nil), remoteRouterHash...),
		state:            StateEstablished,
		sendQueue:        make(chan []byte, NTCP2MaxOutgoingQueueSize),
		metrics:          internal.NewConnectionMetrics(),
	}
	s.resetIdleTimer()
	return s
}

func (s *Session) getState() SessionState {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.stateMutex.Lock()
	s.state = state
	s.stateMutex.Unlock()
}

func (s *Session) resetIdleTimer() {
	s.activityMu.Lock()
	s.lastActivity = time.Now()
	s.activityMu.Unlock()

	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(NTCP2TerminationTimeout, func() {
		log.WithFields(logrus.Fields{
			"remote_router_hash": s.remoteRouterHash,
		}).Warn("NTCP2 session idle timeout")
		_ = s.TerminateWithReason(ReasonIdleTimeout)
	})
}

// IdleSince reports when this session last made read/write progress, for
// sessionpool's sweep to compare against its idle timeout.
func (s *Session) IdleSince() time.Time {
	s.activityMu.RLock()
	defer s.activityMu.RUnlock()
	return s.lastActivity
}

// Terminate satisfies sessionpool.Entry by closing the session with the
// normal-close reason.
func (s *Session) Terminate() error {
	return s.TerminateWithReason(ReasonNormalClose)
}

// nonceFor builds the per-message AEAD nonce: 4 zero bytes followed by the
// 8-byte little-endian sequence number.
func nonceFor(seq uint64) [chacha20poly1305.NonceSize]byte {
	var nonce [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[4:12], seq)
	return nonce
}

// paddingSize picks a padding length bounded by MinPaddingSize/MaxPaddingSize
// and the NTCP2MaxPaddingRatio percentage of the unpadded frame.
func (s *Session) paddingSize(dataLen int) int {
	if !s.config.FramePaddingEnabled {
		return 0
	}
	maxByRatio := (dataLen * NTCP2MaxPaddingRatio) / 100
	max := s.config.MaxPaddingSize
	if maxByRatio < max {
		max = maxByRatio
	}
	if max < s.config.MinPaddingSize {
		return s.config.MinPaddingSize
	}
	span := max - s.config.MinPaddingSize
	if span <= 0 {
		return s.config.MinPaddingSize
	}
	var b [2]byte
	_, _ = rand.Read(b[:])
	return s.config.MinPaddingSize + int(binary.BigEndian.Uint16(b[:]))%(span+1)
}

// writeFrame seals plaintext with the send key at the current sequence
// number, obfuscates its 2-byte length with SipHash, and writes both to
// the underlying socket.
func (s *Session) writeFrame(plaintext []byte) error {
	aead, err := chacha20poly1305.New(s.sendKey[:])
	if err != nil {
		return oops.Code("AEAD_INIT_FAILED").In("ntcp2").Wrap(err)
	}
	nonce := nonceFor(s.sendSeq)
	ciphertext := aead.Seal(nil, nonce[:], plaintext, nil)
	s.sendSeq++

	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(ciphertext)))
	obfLen, err := s.sendSip.ModifyOutbound(handshake.PhaseFinal, lenBuf)
	if err != nil {
		return err
	}

	if s.config.WriteTimeout > 0 {
		if err := s.underlying.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
			return oops.Code("SET_DEADLINE_FAILED").In("ntcp2").Wrap(err)
		}
	}

	if _, err := s.underlying.Write(obfLen); err != nil {
		return oops.Code("FRAME_LENGTH_WRITE_FAILED").In("ntcp2").Wrap(err)
	}
	if _, err := s.underlying.Write(ciphertext); err != nil {
		return oops.Code("FRAME_BODY_WRITE_FAILED").In("ntcp2").Wrap(err)
	}
	s.metrics.AddBytesWritten(int64(len(obfLen) + len(ciphertext)))
	s.resetIdleTimer()
	return nil
}

// readFrame blocks for one data phase frame, deobfuscates its length,
// opens the AEAD body at the current receive sequence number, and returns
// the plaintext block payload.
func (s *Session) readFrame() ([]byte, error) {
	if s.config.ReadTimeout > 0 {
		if err := s.underlying.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
			return nil, oops.Code("SET_DEADLINE_FAILED").In("ntcp2").Wrap(err)
		}
	}

	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(s.underlying, lenBuf); err != nil {
		return nil, err
	}
	clearLen, err := s.recvSip.ModifyInbound(handshake.PhaseFinal, lenBuf)
	if err != nil {
		return nil, err
	}
	frameLen := int(binary.BigEndian.Uint16(clearLen))
	if frameLen > s.config.MaxFrameSize {
		return nil, oops.Code("FRAME_TOO_LARGE").In("ntcp2").
			With("frame_len", frameLen).With("max", s.config.MaxFrameSize).
			Errorf("data phase frame exceeds configured maximum")
	}

	ciphertext := make([]byte, frameLen)
	if _, err := io.ReadFull(s.underlying, ciphertext); err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(s.recvKey[:])
	if err != nil {
		return nil, oops.Code("AEAD_INIT_FAILED").In("ntcp2").Wrap(err)
	}
	nonce := nonceFor(s.recvSeq)
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		_ = s.TerminateWithReason(ReasonDataPhaseAEADFailure)
		return nil, oops.Code("DATA_PHASE_AEAD_FAILED").In("ntcp2").Wrap(err)
	}
	s.recvSeq++
	s.metrics.AddBytesRead(int64(len(lenBuf) + len(ciphertext)))
	return plaintext, nil
}

// SendI2NPMessage converts msg to NTCP2's abbreviated 7-byte wire header
// and queues it for the send loop. Sessions that have accumulated
// NTCP2MaxOutgoingQueueSize unsent messages self-terminate rather than
// grow unbounded, per the backpressure policy.
func (s *Session) SendI2NPMessage(msg *i2np.Message) error {
	if s.getState() != StateEstablished {
		return oops.Code("SESSION_NOT_ESTABLISHED").In("ntcp2").Errorf("session is not in the established state")
	}
	raw := msg.ToNTCP2()
	select {
	case s.sendQueue <- raw:
		return nil
	default:
		log.Warn("NTCP2 outgoing queue full, terminating session")
		// Close without a Termination frame: a peer that has stopped
		// draining the queue may not read a frame either, and writing one
		// here would block the caller.
		s.setState(StateTerminated)
		_ = s.Close()
		return oops.Code("SEND_QUEUE_FULL").In("ntcp2").
			With("queue_size", NTCP2MaxOutgoingQueueSize).
			Errorf("outgoing message queue exceeded maximum size")
	}
}

// RunSendLoop drains the outgoing message queue, framing each I2NP message
// (with trailing padding) as its own data phase frame, until the session
// terminates. Callers run this in its own goroutine. A message too large
// to fit a single frame is dropped and logged rather than sent or
// terminating the session, per the local-misuse disposition.
func (s *Session) RunSendLoop() {
	for raw := range s.sendQueue {
		if s.getState() != StateEstablished {
			return
		}
		block := blocks.I2NPMessage(raw)
		if len(block.Encode()) > NTCP2UnencryptedFrameMaxSize {
			log.WithFields(logrus.Fields{"size": len(raw)}).
				Error("NTCP2 outbound I2NP message too large to frame, dropping")
			continue
		}
		if err := s.sendBlocks([]blocks.Block{block}); err != nil {
			log.WithFields(logrus.Fields{"error": err}).Warn("NTCP2 send loop failed")
			return
		}
	}
}

// sendBlocks frames and writes one or more blocks as a single data phase
// frame, appending a padding block sized per the ratio rule.
func (s *Session) sendBlocks(bs []blocks.Block) error {
	data := blocks.EncodeBlocks(bs)
	padLen := s.paddingSize(len(data))
	if padLen > 0 {
		pad := make([]byte, padLen)
		_, _ = rand.Read(pad)
		data = append(data, blocks.Padding(pad).Encode()...)
	}
	return s.writeFrame(data)
}

// RunReceiveLoop reads and dispatches data phase frames until the
// connection closes or a Termination block arrives. handler is invoked for
// each I2NP message block, with the block's NTCP2 wire header already
// stripped off by i2np.FromNTCP2.
func (s *Session) RunReceiveLoop(handler func(msg *i2np.Message)) error {
	for {
		plaintext, err := s.readFrame()
		if err != nil {
			return err
		}
		s.resetIdleTimer()

		decoded, err := blocks.DecodeBlocks(plaintext)
		if err != nil {
			return err
		}
		for _, b := range decoded {
			switch b.Type {
			case BlockTypeI2NPMessage:
				msg, err := i2np.FromNTCP2(b.Payload)
				if err != nil {
					log.WithFields(logrus.Fields{"error": err}).Warn("NTCP2 received malformed I2NP block")
					_ = s.TerminateWithReason(ReasonDataPhaseAEADFailure)
					return err
				}
				if handler != nil {
					handler(msg)
				}
			case BlockTypeTermination:
				s.setState(StateTerminated)
				return nil
			case BlockTypeDateTime, BlockTypeOptions, BlockTypeRouterInfo, BlockTypePadding:
				// no action required for the data phase
			}
		}
	}
}

// TerminateWithReason sends a Termination block naming reason and the
// receive sequence counter (the number of data phase frames received so
// far), then closes the underlying connection.
func (s *Session) TerminateWithReason(reason TerminationReason) error {
	s.stateMutex.Lock()
	if s.state == StateTerminated || s.state == StateTerminating {
		s.stateMutex.Unlock()
		return nil
	}
	s.state = StateTerminating
	s.stateMutex.Unlock()

	pad := make([]byte, TerminationPaddingMax-1)
	_, _ = rand.Read(pad)
	termBlock := blocks.Termination(s.recvSeq, reason, nil)
	_ = s.writeFrame(append(termBlock.Encode(), blocks.Padding(pad).Encode()...))

	s.setState(StateTerminated)
	return s.Close()
}

// Close tears down the session's queue, timer, and underlying socket.
func (s *Session) Close() error {
	s.closeMutex.Lock()
	defer s.closeMutex.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.sendOnce.Do(func() { close(s.sendQueue) })

	return s.underlying.Close()
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState { return s.getState() }

// RemoteRouterHash returns the remote peer's identity hash.
func (s *Session) RemoteRouterHash() []byte { return append([]byte(nil), s.remoteRouterHash...) }

// RemoteAddr returns the remote peer's network address tagged with its
// router hash and handshake role. Falls back to the plain underlying
// address if the router hash isn't available (e.g. a session torn down
// before the remote RouterInfo could be parsed).
func (s *Session) RemoteAddr() net.Addr {
	roleStr := "initiator"
	if s.role == RoleBob {
		roleStr = "responder"
	}
	addr, err := NewNTCP2Addr(s.underlying.RemoteAddr(), s.remoteRouterHash, roleStr)
	if err != nil {
		return s.underlying.RemoteAddr()
	}
	return addr
}

// Metrics returns byte counters and handshake duration for this session.
func (s *Session) Metrics() (bytesRead, bytesWritten int64, handshakeDuration time.Duration) {
	return s.metrics.GetStats()
}
