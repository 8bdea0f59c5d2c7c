// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package registry

import (
	"bytes"
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/container/lru"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/snwire"
)

const (
	// ListRequestInterval is the minimum time between two full registry
	// requests to or from the same peer.
	ListRequestInterval = 3 * time.Hour

	// maxAskedAddrs bounds the throttle maps keyed by peer address.
	maxAskedAddrs = 4096

	// maxSeenPings bounds the set of recently seen ping hashes.
	maxSeenPings = 1 << 16
)

// Config houses the collaborators and callbacks of a Manager.
type Config struct {
	// Params are the network specific service node parameters.
	Params *snode.Params

	// Chain is the view of the base chain.
	Chain snode.ChainView

	// Features provides the network feature flags.
	Features snode.FeatureFlags

	// Transport is used to relay messages and reach other nodes.
	Transport snode.Transport

	// Requests tracks per-peer request throttles shared with the other
	// service node components.
	Requests snode.RequestTracker

	// Local describes the service node run by this process.  It may be
	// nil.
	Local snode.LocalNode

	// IsScheduled returns whether payee is already scheduled for payment in
	// one of the blocks following the tip, ignoring notHeight.
	IsScheduled func(payee []byte, notHeight int64) bool

	// PayeesWithVotes returns the payee scripts voted for the block at
	// height by at least minVotes nodes.
	PayeesWithVotes func(height int64, minVotes int) [][]byte

	// PaymentAmount returns the service node reward for a block at height.
	PaymentAmount func(height int64) int64

	// StorageLimit returns how many blocks of payment history the ledger
	// retains.
	StorageLimit func() int64

	// IsListSynced and IsSynced report the bootstrap sync progress.
	IsListSynced func() bool
	IsSynced     func() bool

	// ListProgress is invoked whenever a list item is accepted.
	ListProgress func()

	// Now returns the current adjusted time.  It defaults to time.Now.
	Now func() time.Time
}

// seenBroadcast is a broadcast accepted for processing and the time it was
// first seen.
type seenBroadcast struct {
	firstSeen time.Time
	bcast     *snwire.MsgSNBroadcast
}

// entryRequest identifies a request for a single registry entry sent to a
// peer.
type entryRequest struct {
	op   wire.OutPoint
	addr netip.AddrPort
}

// Manager is the registry of known service nodes.  It validates and applies
// broadcasts and pings, ranks nodes, elects payees, runs proof of service
// verification and recovers records this node believes are stale.
//
// It is safe for concurrent access.  The manager never calls the chain view or
// any callback while holding its lock.
type Manager struct {
	cfg Config

	mtx               sync.RWMutex
	nodes             map[wire.OutPoint]*snode.Record
	seenBroadcasts    map[chainhash.Hash]*seenBroadcast
	seenVerifications map[chainhash.Hash]*snwire.MsgVerifyBroadcast
	pendingVerify     map[netip.AddrPort]*snwire.MsgVerifyBroadcast
	recoveryRequests  map[chainhash.Hash]*recoveryRequest
	recoveryReplies   map[chainhash.Hash][]*snwire.MsgSNBroadcast
	scheduledRequests []scheduledRequest
	lastWatchdogVote  time.Time
	lastPaidScanned   bool

	// The throttle maps expire their entries on their own.
	seenPings        *lru.Set[chainhash.Hash]
	askedUsForList   *lru.Set[netip.Addr]
	weAskedForList   *lru.Set[netip.Addr]
	weAskedForEntry  *lru.Set[entryRequest]
}

// New returns a new registry manager.
func New(cfg *Config) *Manager {
	c := *cfg
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.IsScheduled == nil {
		c.IsScheduled = func([]byte, int64) bool { return false }
	}
	if c.PayeesWithVotes == nil {
		c.PayeesWithVotes = func(int64, int) [][]byte { return nil }
	}
	if c.IsListSynced == nil {
		c.IsListSynced = func() bool { return true }
	}
	if c.IsSynced == nil {
		c.IsSynced = func() bool { return true }
	}
	if c.ListProgress == nil {
		c.ListProgress = func() {}
	}
	return &Manager{
		cfg:               c,
		nodes:             make(map[wire.OutPoint]*snode.Record),
		seenBroadcasts:    make(map[chainhash.Hash]*seenBroadcast),
		seenVerifications: make(map[chainhash.Hash]*snwire.MsgVerifyBroadcast),
		pendingVerify:     make(map[netip.AddrPort]*snwire.MsgVerifyBroadcast),
		recoveryRequests:  make(map[chainhash.Hash]*recoveryRequest),
		recoveryReplies:   make(map[chainhash.Hash][]*snwire.MsgSNBroadcast),
		seenPings: lru.NewSetWithDefaultTTL[chainhash.Hash](maxSeenPings,
			snode.NewStartRequiredInterval),
		askedUsForList: lru.NewSetWithDefaultTTL[netip.Addr](maxAskedAddrs,
			ListRequestInterval),
		weAskedForList: lru.NewSetWithDefaultTTL[netip.Addr](maxAskedAddrs,
			ListRequestInterval),
		weAskedForEntry: lru.NewSetWithDefaultTTL[entryRequest](maxAskedAddrs,
			ListRequestInterval),
	}
}

// localOperatorKey returns the serialized operating public key of this
// process or nil when it is not a service node.
func (m *Manager) localOperatorKey() []byte {
	if m.cfg.Local == nil {
		return nil
	}
	key := m.cfg.Local.OperatorKey()
	if key == nil {
		return nil
	}
	return key.PubKey().SerializeCompressed()
}

// isLocal returns whether rec belongs to this process.
func isLocal(rec *snode.Record, localKey []byte) bool {
	return localKey != nil && bytes.Equal(rec.OperatorKey, localKey)
}

// checkContext gathers everything record checks need from outside the
// registry.  It must be called without the lock held.
func (m *Manager) checkContext(force bool) snode.CheckContext {
	_, height := m.cfg.Chain.BestBlock()
	synced := m.cfg.IsSynced()
	return snode.CheckContext{
		Now:            m.cfg.Now(),
		Height:         height,
		MinProtocol:    snode.MinPaymentsProtocol(m.cfg.Features),
		ListSynced:     m.cfg.IsListSynced(),
		WatchdogActive: synced && m.cfg.Features.WatchdogRequired(),
		Force:          force,
	}
}

// checkRecordLocked evaluates a single record.  The watchdog is only active
// while some node voted recently.
//
// This function MUST be called with the lock held (for writes).
func (m *Manager) checkRecordLocked(rec *snode.Record, ctx snode.CheckContext,
	spent bool, localKey []byte) {

	ctx.Spent = spent
	ctx.IsLocal = isLocal(rec, localKey)
	ctx.RegistrySize = len(m.nodes)
	ctx.WatchdogActive = ctx.WatchdogActive &&
		ctx.Now.Sub(m.lastWatchdogVote) <= snode.WatchdogMaxInterval
	prev := rec.Check(&ctx)
	if prev != rec.State {
		log.Debugf("Service node %v changed state %v -> %v", rec.Outpoint,
			prev, rec.State)
	}
}

// spentOutpoints returns the subset of ops whose collateral is spent.  Lookup
// failures are logged and treated as unspent.  The lookups stop early with
// the context error when ctx is cancelled.
func (m *Manager) spentOutpoints(ctx context.Context, ops []wire.OutPoint) (map[wire.OutPoint]bool, error) {
	spent := make(map[wire.OutPoint]bool)
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := m.cfg.Chain.FetchUtxoEntry(op)
		if err != nil {
			log.Debugf("Unable to look up collateral %v: %v", op, err)
			continue
		}
		if entry == nil {
			spent[op] = true
		}
	}
	return spent, nil
}

// outpoints returns the identities of every record.
func (m *Manager) outpoints() []wire.OutPoint {
	m.mtx.RLock()
	ops := make([]wire.OutPoint, 0, len(m.nodes))
	for op := range m.nodes {
		ops = append(ops, op)
	}
	m.mtx.RUnlock()
	return ops
}

// Check forces a re-evaluation of the state of a single record.
func (m *Manager) Check(op wire.OutPoint) {
	spent, _ := m.spentOutpoints(context.Background(), []wire.OutPoint{op})
	cc := m.checkContext(true)
	localKey := m.localOperatorKey()

	m.mtx.Lock()
	if rec, ok := m.nodes[op]; ok {
		m.checkRecordLocked(rec, cc, spent[op], localKey)
	}
	m.mtx.Unlock()
}

// CheckAll re-evaluates the state of every record.  No record is changed
// when ctx is cancelled before every collateral was looked up.
func (m *Manager) CheckAll(ctx context.Context) error {
	spent, err := m.spentOutpoints(ctx, m.outpoints())
	if err != nil {
		return err
	}
	cc := m.checkContext(false)
	localKey := m.localOperatorKey()

	m.mtx.Lock()
	for op, rec := range m.nodes {
		m.checkRecordLocked(rec, cc, spent[op], localKey)
	}
	m.mtx.Unlock()
	return nil
}

// Count returns the number of records.
func (m *Manager) Count() int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return len(m.nodes)
}

// CountEnabled returns the number of enabled records running at least the
// given protocol version.
func (m *Manager) CountEnabled(minProtocol uint32) int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.countEnabledLocked(minProtocol)
}

// countEnabledLocked returns the number of enabled records running at least
// the given protocol version.
//
// This function MUST be called with the lock held (for reads).
func (m *Manager) countEnabledLocked(minProtocol uint32) int {
	var n int
	for _, rec := range m.nodes {
		if rec.State == snode.StateEnabled && rec.ProtocolVersion >= minProtocol {
			n++
		}
	}
	return n
}

// Has returns whether the registry contains a record for op.
func (m *Manager) Has(op wire.OutPoint) bool {
	m.mtx.RLock()
	_, ok := m.nodes[op]
	m.mtx.RUnlock()
	return ok
}

// Find returns a copy of the record for op.
func (m *Manager) Find(op wire.OutPoint) (snode.Record, bool) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	rec, ok := m.nodes[op]
	if !ok {
		return snode.Record{}, false
	}
	return rec.Copy(), true
}

// FindByOperatorKey returns a copy of the record announced with the given
// operating key.
func (m *Manager) FindByOperatorKey(key []byte) (snode.Record, bool) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	for _, rec := range m.nodes {
		if bytes.Equal(rec.OperatorKey, key) {
			return rec.Copy(), true
		}
	}
	return snode.Record{}, false
}

// Records returns copies of every record.
func (m *Manager) Records() []snode.Record {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	recs := make([]snode.Record, 0, len(m.nodes))
	for _, rec := range m.nodes {
		recs = append(recs, rec.Copy())
	}
	return recs
}

// IsPingedWithin returns whether the record for op was pinged within d.
func (m *Manager) IsPingedWithin(op wire.OutPoint, d time.Duration) bool {
	now := m.cfg.Now()
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	rec, ok := m.nodes[op]
	return ok && rec.IsPingedWithin(d, now)
}

// UpdateWatchdogVoteTime records a watchdog vote by the node op.
func (m *Manager) UpdateWatchdogVoteTime(op wire.OutPoint) {
	now := m.cfg.Now()
	m.mtx.Lock()
	defer m.mtx.Unlock()
	rec, ok := m.nodes[op]
	if !ok {
		return
	}
	rec.LastWatchdogVote = now.Unix()
	m.lastWatchdogVote = now
}

// IsWatchdogActive returns whether watchdog votes are being cast and are
// required on the network.
func (m *Manager) IsWatchdogActive() bool {
	now := m.cfg.Now()
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.cfg.Features.WatchdogRequired() &&
		now.Sub(m.lastWatchdogVote) <= snode.WatchdogMaxInterval
}

// Snapshot returns copies of every record for persistence.
func (m *Manager) Snapshot() []snode.Record {
	return m.Records()
}

// Restore replaces the registry contents with previously persisted records.
// The records are re-evaluated on the next maintenance pass.
func (m *Manager) Restore(recs []snode.Record) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.nodes = make(map[wire.OutPoint]*snode.Record, len(recs))
	now := m.cfg.Now()
	for i := range recs {
		rec := recs[i].Copy()
		m.nodes[rec.Outpoint] = &rec
		m.seenBroadcasts[rec.Broadcast().Hash()] = &seenBroadcast{
			firstSeen: now,
			bcast:     rec.Broadcast(),
		}
	}
	log.Infof("Restored %d service %s", len(recs), pickNoun(len(recs),
		"node", "nodes"))
}

// Clear removes every record and all bookkeeping.
func (m *Manager) Clear() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.nodes = make(map[wire.OutPoint]*snode.Record)
	m.seenBroadcasts = make(map[chainhash.Hash]*seenBroadcast)
	m.seenVerifications = make(map[chainhash.Hash]*snwire.MsgVerifyBroadcast)
	m.pendingVerify = make(map[netip.AddrPort]*snwire.MsgVerifyBroadcast)
	m.recoveryRequests = make(map[chainhash.Hash]*recoveryRequest)
	m.recoveryReplies = make(map[chainhash.Hash][]*snwire.MsgSNBroadcast)
	m.scheduledRequests = nil
	m.seenPings.Clear()
	m.askedUsForList.Clear()
	m.weAskedForList.Clear()
	m.weAskedForEntry.Clear()
}
