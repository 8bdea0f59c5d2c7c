// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package fulfilled tracks which requests were recently served to, or sent
// to, each peer so the service node components can throttle repeats.
package fulfilled

import (
	"net/netip"
	"time"

	"github.com/decred/dcrd/container/lru"
	"github.com/noirofficial/noir-sub000/internal/snode"
)

const (
	// DefaultExpiry is how long a request is remembered unless a request
	// specific interval was configured.
	DefaultExpiry = time.Hour

	// maxEntries bounds the number of remembered requests.
	maxEntries = 50000
)

// requestKey identifies a request for a peer address.
type requestKey struct {
	addr    netip.AddrPort
	request string
}

// Config is a descriptor containing the tracker configuration.
type Config struct {
	// AllowMultiplePorts keeps peers on the same host but different ports
	// apart.  Otherwise requests are tracked per host.
	AllowMultiplePorts bool

	// Expiry overrides DefaultExpiry for individual request names.
	Expiry map[string]time.Duration
}

// Tracker remembers fulfilled requests for a request specific interval.  It
// is safe for concurrent access.
type Tracker struct {
	cfg     Config
	entries *lru.Map[requestKey, time.Time]
}

var _ snode.RequestTracker = (*Tracker)(nil)

// New returns a tracker for the given configuration.
func New(cfg *Config) *Tracker {
	return &Tracker{
		cfg:     *cfg,
		entries: lru.NewMapWithDefaultTTL[requestKey, time.Time](maxEntries, DefaultExpiry),
	}
}

func (t *Tracker) key(addr netip.AddrPort, request string) requestKey {
	if !t.cfg.AllowMultiplePorts {
		addr = netip.AddrPortFrom(addr.Addr().Unmap(), 0)
	}
	return requestKey{addr: addr, request: request}
}

// HasFulfilledRequest returns whether request was recorded for addr and has
// not expired yet.
func (t *Tracker) HasFulfilledRequest(addr netip.AddrPort, request string) bool {
	return t.entries.Exists(t.key(addr, request))
}

// AddFulfilledRequest records request for addr.  Recording a request again
// restarts its expiry.
func (t *Tracker) AddFulfilledRequest(addr netip.AddrPort, request string) {
	ttl, ok := t.cfg.Expiry[request]
	if !ok {
		ttl = DefaultExpiry
	}
	if evicted := t.entries.PutWithTTL(t.key(addr, request), time.Now(), ttl); evicted > 0 {
		log.Debugf("Evicted the oldest fulfilled request to make room for %q "+
			"from %v", request, addr)
	}
}

// RemoveFulfilledRequest forgets request for addr.
func (t *Tracker) RemoveFulfilledRequest(addr netip.AddrPort, request string) {
	t.entries.Delete(t.key(addr, request))
}

// RecordedAt returns when request was recorded for addr.
func (t *Tracker) RecordedAt(addr netip.AddrPort, request string) (time.Time, bool) {
	return t.entries.Peek(t.key(addr, request))
}

// CheckAndRemove drops every expired request.
func (t *Tracker) CheckAndRemove() {
	if n := t.entries.EvictExpiredNow(); n > 0 {
		log.Tracef("Removed %d expired fulfilled %s", n,
			pickNoun(n, "request", "requests"))
	}
}

// Len returns the number of tracked requests, which may include expired ones
// not yet removed.
func (t *Tracker) Len() int {
	return int(t.entries.Len())
}

// Clear forgets every request.
func (t *Tracker) Clear() {
	t.entries.Clear()
}

// pickNoun returns the singular or plural form of a noun depending on the
// count n.
func pickNoun(n uint32, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
