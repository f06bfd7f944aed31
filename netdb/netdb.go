// Package netdb is the NTCP2 transport's collaborator interface onto the
// router's network database: it supplies the local RouterInfo to embed in
// SessionConfirmed, and validates a remote peer's RouterInfo against
// stored/expected identity before a session is registered. NetDb proper
// (storage, floodfill, exploration) lives outside this module; this package
// defines the seam and an in-memory reference implementation for tests and
// small deployments.
package netdb

import (
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/go-i2p/ntcp2router/routerinfo"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// Interface is what ntcp2.Server needs from the network database: its own
// RouterInfo to advertise, and a check that a peer's self-reported
// RouterInfo is internally consistent (signature, freshness). It satisfies
// ntcp2.RouterInfoProvider.
type Interface interface {
	LocalRouterInfo() ([]byte, error)
	ValidateRemote(routerHash []byte, serialized []byte) error
}

// InMemory is a reference NetDb backed by a map, suitable for tests and
// single-process deployments. It does not persist to disk or flood entries
// to other routers.
type InMemory struct {
	mu      sync.RWMutex
	local   *routerinfo.RouterInfo
	entries map[[32]byte]*routerinfo.RouterInfo
	maxAge  time.Duration
}

// New creates an InMemory NetDb advertising local as this router's own
// RouterInfo. maxAge bounds how stale a peer's Published timestamp may be
// before ValidateRemote rejects it; pass ntcp2.NetDbMinExpirationTimeout.
func New(local *routerinfo.RouterInfo, maxAge time.Duration) *InMemory {
	return &InMemory{
		local:   local,
		entries: make(map[[32]byte]*routerinfo.RouterInfo),
		maxAge:  maxAge,
	}
}

// LocalRouterInfo returns this router's serialized RouterInfo.
func (db *InMemory) LocalRouterInfo() ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.local == nil {
		return nil, oops.Code("LOCAL_ROUTERINFO_UNSET").In("netdb").
			Errorf("no local RouterInfo configured")
	}
	return db.local.Bytes(), nil
}

// ValidateRemote parses serialized, verifies its signature and freshness,
// confirms it actually hashes to routerHash, and stores it for future
// Lookup calls.
func (db *InMemory) ValidateRemote(routerHash []byte, serialized []byte) error {
	ri, err := routerinfo.Parse(serialized)
	if err != nil {
		return err
	}
	if err := ri.Verify(time.Now(), db.maxAge); err != nil {
		return err
	}

	hash := ri.IdentHash()
	if len(routerHash) == 32 && string(hash[:]) != string(routerHash) {
		return oops.Code("ROUTERINFO_HASH_MISMATCH").In("netdb").
			Errorf("RouterInfo identity hash does not match the expected router hash")
	}

	db.mu.Lock()
	db.entries[hash] = ri
	db.mu.Unlock()

	log.WithField("ident_hash", hash).Debug("NTCP2 validated and stored remote RouterInfo")
	return nil
}

// Lookup returns a previously validated RouterInfo for routerHash, if any.
func (db *InMemory) Lookup(routerHash [32]byte) (*routerinfo.RouterInfo, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ri, ok := db.entries[routerHash]
	return ri, ok
}

// Count returns the number of stored RouterInfo entries.
func (db *InMemory) Count() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.entries)
}
