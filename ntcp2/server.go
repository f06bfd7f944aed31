package ntcp2

import (
	"bytes"
	"context"
	"io"
	"net"
	"time"

	"github.com/go-i2p/ntcp2router/ntcp2/blocks"
	"github.com/go-i2p/ntcp2router/routerinfo"
	"github.com/go-i2p/ntcp2router/sessionpool"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// RouterInfoProvider supplies the local serialized RouterInfo to embed in
// SessionConfirmed part 2, and validates a peer's RouterInfo received in
// the same message (signature, freshness, identity hash).
type RouterInfoProvider interface {
	LocalRouterInfo() ([]byte, error)
	ValidateRemote(routerHash []byte, serialized []byte) error
}

// OutboundDialer opens the raw TCP connection Connect then runs the NTCP2
// handshake over. The default is a direct net.Dialer; SetDialer overrides it
// with a proxy.Dialer for routers configured with ntcp2.proxy.
type OutboundDialer interface {
	DialContext(ctx context.Context, addr string) (net.Conn, error)
}

type directDialer struct{}

func (directDialer) DialContext(ctx context.Context, addr string) (net.Conn, error) {
	var nd net.Dialer
	return nd.DialContext(ctx, "tcp", addr)
}

// Server accepts inbound NTCP2 connections and dials outbound ones. Session
// bookkeeping and idle sweeping are delegated to sessionpool.Pool, keyed on
// remote router hash.
type Server struct {
	listener net.Listener
	config   *Config
	routerDB RouterInfoProvider
	pool     *sessionpool.Pool
	dialer   OutboundDialer
}

// NewServer wraps an already-bound net.Listener with NTCP2 accept/dial
// logic. cfg supplies this router's identity and default session settings;
// routerDB supplies RouterInfo for the handshake's SessionConfirmed block.
// Outbound connections dial directly until SetDialer installs a proxy.
func NewServer(listener net.Listener, cfg *Config, routerDB RouterInfoProvider) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		listener: listener,
		config:   cfg,
		routerDB: routerDB,
		pool:     sessionpool.New(NTCP2TerminationCheckTimeout, NTCP2TerminationTimeout),
		dialer:   directDialer{},
	}
	return s, nil
}

// SetDialer replaces the dialer Connect uses for outbound connections, e.g.
// with a proxy.Dialer when ntcp2.proxy is configured.
func (s *Server) SetDialer(d OutboundDialer) {
	s.dialer = d
}

// Accept runs the inbound accept loop, completing the responder side of
// the handshake for each connection and invoking onSession with the
// resulting Session. It blocks until the listener is closed.
func (s *Server) Accept(onSession func(*Session)) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleIncoming(conn, onSession)
	}
}

// pendingHandshake tracks one inbound connection that has not yet
// completed its responder handshake, so the pool's sweep can reap it if
// the peer stalls partway through.
type pendingHandshake struct {
	conn    net.Conn
	started time.Time
}

func (p *pendingHandshake) Terminate() error    { return p.conn.Close() }
func (p *pendingHandshake) IdleSince() time.Time { return p.started }

func (s *Server) handleIncoming(conn net.Conn, onSession func(*Session)) {
	deadline := time.Now().Add(NTCP2EstablishTimeout)
	_ = conn.SetDeadline(deadline)

	pending := &pendingHandshake{conn: conn, started: time.Now()}
	s.pool.AddPendingIncoming(pending)

	session, err := s.runResponderHandshake(conn)
	if err != nil {
		log.WithFields(logrus.Fields{"error": err, "remote": conn.RemoteAddr()}).
			Warn("NTCP2 inbound handshake failed")
		s.pool.RemovePending(pending)
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	s.pool.PromotePending(pending, session, session.RemoteRouterHash())
	if onSession != nil {
		onSession(session)
	}
}

// Lookup returns the established session for routerHash, if any.
func (s *Server) Lookup(routerHash []byte) (*Session, bool) {
	entry, ok := s.pool.Lookup(routerHash)
	if !ok {
		return nil, false
	}
	return entry.(*Session), true
}

// Connect dials an outbound NTCP2 session to addr, running the initiator
// side of the handshake. The dial itself uses 5x NTCP2ConnectTimeout, per
// the reference router's outbound connect policy; the handshake afterward
// uses cfg.HandshakeTimeout.
func (s *Server) Connect(ctx context.Context, addr string, cfg *Config, obfuscationIV []byte) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if existing, ok := s.Lookup(cfg.RemoteRouterHash); ok {
		if existing.role == RoleAlice {
			return nil, oops.Code("SESSION_ALREADY_ESTABLISHED").In("ntcp2").
				Errorf("an outgoing session to this peer is already established")
		}
		// The existing session is incoming; this outgoing attempt takes
		// precedence and replaces it, per the responder/initiator tie-break.
		log.WithField("remote", addr).Warn("NTCP2 outgoing connect replacing incoming session to same peer")
		_ = existing.TerminateWithReason(ReasonNormalClose)
		s.pool.Remove(cfg.RemoteRouterHash)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*NTCP2ConnectTimeout)
	defer cancel()

	conn, err := s.dialer.DialContext(dialCtx, addr)
	if err != nil {
		return nil, oops.Code("DIAL_FAILED").In("ntcp2").With("addr", addr).Wrap(err)
	}

	_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	session, err := s.runInitiatorHandshake(conn, cfg, obfuscationIV)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	s.pool.AddEstablished(session.RemoteRouterHash(), session)
	return session, nil
}

// runInitiatorHandshake drives the three-message Noise_XK handshake as
// Alice: send SessionRequest, receive SessionCreated, send SessionConfirmed.
func (s *Server) runInitiatorHandshake(conn net.Conn, cfg *Config, obfuscationIV []byte) (*Session, error) {
	est, err := NewEstablisher(RoleAlice, cfg, obfuscationIV)
	if err != nil {
		return nil, err
	}

	localRI, err := s.routerDB.LocalRouterInfo()
	if err != nil {
		return nil, oops.Code("LOCAL_ROUTERINFO_UNAVAILABLE").In("ntcp2").Wrap(err)
	}
	m3p2Payload := blocks.RouterInfo(0, localRI).Encode()

	if err := est.CreateSessionRequestMessage(cfg.NetworkID, len(m3p2Payload)+16); err != nil {
		return nil, err
	}
	if _, err := conn.Write(est.sessionRequestBuffer); err != nil {
		return nil, oops.Code("SESSION_REQUEST_WRITE_FAILED").In("ntcp2").Wrap(err)
	}

	sessionCreatedHeader := make([]byte, 64)
	if _, err := io.ReadFull(conn, sessionCreatedHeader); err != nil {
		return nil, oops.Code("SESSION_CREATED_READ_FAILED").In("ntcp2").Wrap(err)
	}
	padLen, err := est.ProcessSessionCreatedMessage(sessionCreatedHeader)
	if err != nil {
		return nil, err
	}
	if padLen > 0 {
		pad := make([]byte, padLen)
		if _, err := io.ReadFull(conn, pad); err != nil {
			return nil, oops.Code("SESSION_CREATED_PADDING_READ_FAILED").In("ntcp2").Wrap(err)
		}
		est.AppendSessionCreatedPadding(pad)
	}

	part1, err := est.CreateSessionConfirmedPart1()
	if err != nil {
		return nil, err
	}
	part2, err := est.CreateSessionConfirmedPart2(part1, m3p2Payload)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(append([]byte(nil), part1...), part2...)); err != nil {
		return nil, oops.Code("SESSION_CONFIRMED_WRITE_FAILED").In("ntcp2").Wrap(err)
	}

	keys, err := est.Finalize()
	if err != nil {
		return nil, err
	}
	return newSession(conn, cfg, RoleAlice, keys, cfg.RemoteRouterHash), nil
}

// runResponderHandshake drives the three-message handshake as Bob: receive
// SessionRequest, send SessionCreated, receive SessionConfirmed.
func (s *Server) runResponderHandshake(conn net.Conn) (*Session, error) {
	est, err := NewEstablisher(RoleBob, s.config, s.config.ObfuscationIV)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 64)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, oops.Code("SESSION_REQUEST_READ_FAILED").In("ntcp2").Wrap(err)
	}

	opts, err := est.ProcessSessionRequestMessage(header)
	if err != nil {
		return nil, err
	}
	if opts.NetworkID != 0 && opts.NetworkID != s.config.NetworkID {
		return nil, oops.Code("NETWORK_ID_MISMATCH").In("ntcp2").
			With("got", opts.NetworkID).With("expected", s.config.NetworkID).
			Errorf("SessionRequest network ID mismatch")
	}
	if opts.Version != 2 {
		return nil, oops.Code("UNSUPPORTED_VERSION").In("ntcp2").
			With("version", opts.Version).
			Errorf("SessionRequest declared an unsupported protocol version")
	}
	if opts.M3P2Len < 16 {
		return nil, oops.Code("M3P2_LEN_TOO_SHORT").In("ntcp2").
			With("m3p2_len", opts.M3P2Len).
			Errorf("SessionRequest declared a SessionConfirmed part 2 length below the minimum")
	}
	skew := time.Since(time.Unix(int64(opts.Timestamp), 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > NTCP2ClockSkew {
		return nil, oops.Code("CLOCK_SKEW_EXCEEDED").In("ntcp2").
			With("skew", skew).With("max", NTCP2ClockSkew).
			Errorf("SessionRequest timestamp is outside the allowed clock skew")
	}
	if padLen := int(opts.PadLen); padLen > 0 {
		pad := make([]byte, padLen)
		if _, err := io.ReadFull(conn, pad); err != nil {
			return nil, oops.Code("SESSION_REQUEST_PADDING_READ_FAILED").In("ntcp2").Wrap(err)
		}
		est.AppendSessionRequestPadding(pad)
	}

	if err := est.CreateSessionCreatedMessage(); err != nil {
		return nil, err
	}
	if _, err := conn.Write(est.sessionCreatedBuffer); err != nil {
		return nil, oops.Code("SESSION_CREATED_WRITE_FAILED").In("ntcp2").Wrap(err)
	}

	part1 := make([]byte, 48)
	if _, err := io.ReadFull(conn, part1); err != nil {
		return nil, oops.Code("SESSION_CONFIRMED_PART1_READ_FAILED").In("ntcp2").Wrap(err)
	}
	if err := est.ProcessSessionConfirmedPart1(part1); err != nil {
		return nil, err
	}

	part2 := make([]byte, est.m3p2Len)
	if _, err := io.ReadFull(conn, part2); err != nil {
		return nil, oops.Code("SESSION_CONFIRMED_PART2_READ_FAILED").In("ntcp2").Wrap(err)
	}
	m3p2Plain, err := est.ProcessSessionConfirmedPart2(part1, part2)
	if err != nil {
		return nil, err
	}

	decoded, err := blocks.DecodeBlocks(m3p2Plain)
	if err != nil {
		return nil, err
	}
	var remoteRI []byte
	for _, b := range decoded {
		if b.Type == BlockTypeRouterInfo && len(b.Payload) > 0 {
			remoteRI = b.Payload[1:]
		}
	}
	if remoteRI == nil {
		return nil, oops.Code("MISSING_REMOTE_ROUTERINFO").In("ntcp2").
			Errorf("SessionConfirmed part 2 did not contain a RouterInfo block")
	}

	// The DH agreements that produce the data phase keys do not depend on
	// RouterInfo validity, so the keys are available here even though the
	// checks below may still fail the handshake: every failure from this
	// point is a peer policy violation, and gets a Termination frame with
	// a specific reason rather than a silent close.
	keys, err := est.Finalize()
	if err != nil {
		return nil, err
	}

	parsedRemoteRI, err := routerinfo.Parse(remoteRI)
	if err != nil {
		s.terminateHandshake(conn, keys, nil, ReasonMessage3Error)
		return nil, oops.Code("REMOTE_ROUTERINFO_PARSE_FAILED").In("ntcp2").Wrap(err)
	}
	remoteRouterHash := parsedRemoteRI.IdentHash()

	if !bytes.Equal(parsedRemoteRI.StaticPublicKey[:], est.remoteStaticPub[:]) {
		s.terminateHandshake(conn, keys, remoteRouterHash[:], ReasonIncorrectSParameter)
		return nil, oops.Code("INCORRECT_S_PARAMETER").In("ntcp2").
			Errorf("RouterInfo static key does not match the static key learned in SessionConfirmed part 1")
	}

	if err := s.routerDB.ValidateRemote(remoteRouterHash[:], remoteRI); err != nil {
		reason := ReasonMessage3Error
		if oe, ok := err.(oops.OopsError); ok && oe.Code() == "ROUTERINFO_SIGNATURE_INVALID" {
			reason = ReasonRouterInfoSignatureVerificationFail
		}
		s.terminateHandshake(conn, keys, remoteRouterHash[:], reason)
		return nil, oops.Code("REMOTE_ROUTERINFO_INVALID").In("ntcp2").Wrap(err)
	}

	return newSession(conn, s.config, RoleBob, keys, remoteRouterHash[:]), nil
}

// terminateHandshake sends a Termination block with reason over a
// connection whose handshake just failed past the point its data phase
// keys became derivable, then closes it. It builds a throwaway Session
// purely to reuse TerminateWithReason's framing logic.
func (s *Server) terminateHandshake(conn net.Conn, keys dataPhaseKeys, remoteRouterHash []byte, reason TerminationReason) {
	sess := newSession(conn, s.config, RoleBob, keys, remoteRouterHash)
	_ = sess.TerminateWithReason(reason)
}

// Close stops the pool's sweep loop, terminates every established session,
// and closes the listener.
func (s *Server) Close() error {
	firstErr := s.pool.Close()
	if err := s.listener.Close(); err != nil && firstErr == nil {
		firstErr = oops.Code("LISTENER_CLOSE_FAILED").In("ntcp2").Wrap(err)
	}
	return firstErr
}
