package sessionpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEntry is a bare Entry for exercising Pool without a real NTCP2 session.
type fakeEntry struct {
	mu          sync.Mutex
	idleSince   time.Time
	terminated  bool
	terminateCh chan struct{}
}

func newFakeEntry() *fakeEntry {
	return &fakeEntry{idleSince: time.Now(), terminateCh: make(chan struct{})}
}

func (e *fakeEntry) Terminate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.terminated {
		e.terminated = true
		close(e.terminateCh)
	}
	return nil
}

func (e *fakeEntry) IdleSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idleSince
}

func (e *fakeEntry) setIdleSince(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idleSince = t
}

func (e *fakeEntry) wasTerminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated
}

func TestAddEstablishedAndLookup(t *testing.T) {
	p := New(time.Hour, time.Hour)
	defer p.Close()

	hash := []byte{1, 2, 3, 4}
	entry := newFakeEntry()
	p.AddEstablished(hash, entry)

	got, ok := p.Lookup(hash)
	assert.True(t, ok)
	assert.Same(t, Entry(entry), got)
}

func TestAddEstablishedReplacesAndTerminatesExisting(t *testing.T) {
	p := New(time.Hour, time.Hour)
	defer p.Close()

	hash := []byte{5, 6, 7, 8}
	first := newFakeEntry()
	second := newFakeEntry()

	p.AddEstablished(hash, first)
	p.AddEstablished(hash, second)

	assert.True(t, first.wasTerminated())
	got, ok := p.Lookup(hash)
	require.True(t, ok)
	assert.Same(t, Entry(second), got)
}

func TestRemoveDropsWithoutTerminating(t *testing.T) {
	p := New(time.Hour, time.Hour)
	defer p.Close()

	hash := []byte{9, 9, 9}
	entry := newFakeEntry()
	p.AddEstablished(hash, entry)
	p.Remove(hash)

	_, ok := p.Lookup(hash)
	assert.False(t, ok)
	assert.False(t, entry.wasTerminated())
}

func TestPendingIncomingPromotion(t *testing.T) {
	p := New(time.Hour, time.Hour)
	defer p.Close()

	entry := newFakeEntry()
	p.AddPendingIncoming(entry)
	_, pending := p.Count()
	assert.Equal(t, 1, pending)

	hash := []byte{1, 1, 1, 1}
	p.PromotePending(entry, entry, hash)

	established, pending := p.Count()
	assert.Equal(t, 1, established)
	assert.Equal(t, 0, pending)

	got, ok := p.Lookup(hash)
	require.True(t, ok)
	assert.Same(t, Entry(entry), got)
}

func TestPendingIncomingPromotionWithDistinctEntry(t *testing.T) {
	p := New(time.Hour, time.Hour)
	defer p.Close()

	pending := newFakeEntry()
	p.AddPendingIncoming(pending)

	established := newFakeEntry()
	hash := []byte{7, 7, 7, 7}
	p.PromotePending(pending, established, hash)

	count, pendingCount := p.Count()
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, pendingCount)

	got, ok := p.Lookup(hash)
	require.True(t, ok)
	assert.Same(t, Entry(established), got)
	assert.False(t, pending.wasTerminated())
}

func TestSweepTerminatesIdleEntries(t *testing.T) {
	p := New(10*time.Millisecond, 20*time.Millisecond)
	defer p.Close()

	hash := []byte{2, 2, 2, 2}
	entry := newFakeEntry()
	entry.setIdleSince(time.Now().Add(-time.Hour))
	p.AddEstablished(hash, entry)

	require.Eventually(t, entry.wasTerminated, time.Second, 5*time.Millisecond)
	_, ok := p.Lookup(hash)
	assert.False(t, ok)
}

func TestCloseTerminatesEverythingAndRejectsNewEntries(t *testing.T) {
	p := New(time.Hour, time.Hour)

	hash := []byte{3, 3, 3, 3}
	entry := newFakeEntry()
	p.AddEstablished(hash, entry)

	require.NoError(t, p.Close())
	assert.True(t, entry.wasTerminated())

	late := newFakeEntry()
	p.AddEstablished([]byte{4, 4, 4, 4}, late)
	assert.True(t, late.wasTerminated())
}
