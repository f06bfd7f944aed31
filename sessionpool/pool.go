// Package sessionpool tracks the Server's established and in-progress
// NTCP2 sessions, keyed by remote router hash, and sweeps idle or
// stuck handshakes on a timer.
package sessionpool

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// Entry is anything the pool can track and eventually sweep: an
// established data-phase session or a still-handshaking one.
type Entry interface {
	// Terminate closes the underlying connection and releases resources.
	Terminate() error
	// IdleSince reports when the entry last made progress, for sweeping.
	IdleSince() time.Time
}

// Pool is a registry of live NTCP2 sessions keyed by remote router hash,
// plus a set of connections still mid-handshake. It mirrors a connection
// pool's cleanup-ticker shape, but keys on identity rather than reusing
// idle sockets: NTCP2 sessions are long-lived, not checked in and out.
type Pool struct {
	mu              sync.RWMutex
	established     map[string]Entry // keyed by hex-encoded router hash
	pendingIncoming []Entry
	sweepInterval   time.Duration
	maxIdle         time.Duration
	closed          bool
	stopSweep       chan struct{}
}

// New creates a Pool and starts its background sweep goroutine.
// sweepInterval and maxIdle should track NTCP2TerminationCheckTimeout and
// NTCP2TerminationTimeout respectively.
func New(sweepInterval, maxIdle time.Duration) *Pool {
	p := &Pool{
		established:   make(map[string]Entry),
		sweepInterval: sweepInterval,
		maxIdle:       maxIdle,
		stopSweep:     make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

func key(routerHash []byte) string {
	return hex.EncodeToString(routerHash)
}

// AddEstablished registers a session under its remote router hash. An
// existing session for the same peer is terminated and replaced, since
// NTCP2 does not allow two concurrent sessions to the same router.
func (p *Pool) AddEstablished(routerHash []byte, entry Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = entry.Terminate()
		return
	}
	k := key(routerHash)
	if existing, ok := p.established[k]; ok {
		log.Warn("NTCP2 replacing existing session for peer")
		_ = existing.Terminate()
	}
	p.established[k] = entry
}

// Lookup returns the established session for routerHash, if any.
func (p *Pool) Lookup(routerHash []byte) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.established[key(routerHash)]
	return e, ok
}

// Remove drops routerHash's established session from the pool without
// terminating it (the caller has already done so, or is about to).
func (p *Pool) Remove(routerHash []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.established, key(routerHash))
}

// AddPendingIncoming tracks a connection that has not yet completed its
// inbound handshake, so the sweep can reap it if it stalls.
func (p *Pool) AddPendingIncoming(entry Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = entry.Terminate()
		return
	}
	p.pendingIncoming = append(p.pendingIncoming, entry)
}

// PromotePending removes pending from pendingIncoming and registers
// established under routerHash. pending and established are often
// distinct objects: a connection may be tracked as a bare pending entry
// while its handshake runs and only gain its real Entry (e.g. a *Session)
// once the handshake completes.
func (p *Pool) PromotePending(pending Entry, established Entry, routerHash []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.pendingIncoming {
		if e == pending {
			p.pendingIncoming = append(p.pendingIncoming[:i], p.pendingIncoming[i+1:]...)
			break
		}
	}
	if p.closed {
		_ = established.Terminate()
		return
	}
	p.established[key(routerHash)] = established
}

// RemovePending drops entry from the pending-incoming set without
// terminating it (the caller has already done so, or is about to).
func (p *Pool) RemovePending(entry Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.pendingIncoming {
		if e == entry {
			p.pendingIncoming = append(p.pendingIncoming[:i], p.pendingIncoming[i+1:]...)
			break
		}
	}
}

// Count returns the number of established sessions and pending incoming
// handshakes currently tracked.
func (p *Pool) Count() (established, pending int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.established), len(p.pendingIncoming)
}

func (p *Pool) sweepLoop() {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweepOnce()
		case <-p.stopSweep:
			return
		}
	}
}

func (p *Pool) sweepOnce() {
	now := time.Now()

	p.mu.Lock()
	var staleKeys []string
	for k, e := range p.established {
		if now.Sub(e.IdleSince()) > p.maxIdle {
			staleKeys = append(staleKeys, k)
		}
	}
	stale := make([]Entry, 0, len(staleKeys))
	for _, k := range staleKeys {
		stale = append(stale, p.established[k])
		delete(p.established, k)
	}

	var stalePending []Entry
	remaining := p.pendingIncoming[:0]
	for _, e := range p.pendingIncoming {
		if now.Sub(e.IdleSince()) > p.maxIdle {
			stalePending = append(stalePending, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	p.pendingIncoming = remaining
	p.mu.Unlock()

	for _, e := range stale {
		_ = e.Terminate()
	}
	for _, e := range stalePending {
		_ = e.Terminate()
	}
}

// Close stops the sweep goroutine and terminates every tracked session.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	established := p.established
	pending := p.pendingIncoming
	p.established = make(map[string]Entry)
	p.pendingIncoming = nil
	p.mu.Unlock()

	close(p.stopSweep)

	var firstErr error
	for _, e := range established {
		if err := e.Terminate(); err != nil && firstErr == nil {
			firstErr = oops.Code("SESSION_TERMINATE_FAILED").In("sessionpool").Wrap(err)
		}
	}
	for _, e := range pending {
		if err := e.Terminate(); err != nil && firstErr == nil {
			firstErr = oops.Code("SESSION_TERMINATE_FAILED").In("sessionpool").Wrap(err)
		}
	}
	return firstErr
}
