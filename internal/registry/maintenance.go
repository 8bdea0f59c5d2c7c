// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package registry

import (
	"context"

	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/snwire"
)

// CheckAndRemove is the periodic maintenance pass.  It re-evaluates every
// record, removes the ones whose collateral was spent, drives recovery of
// records needing a new start and expires the throttle and seen caches.
//
// The pass is abandoned when ctx is cancelled.
func (m *Manager) CheckAndRemove(ctx context.Context) {
	if !m.cfg.IsListSynced() {
		return
	}
	if err := m.CheckAll(ctx); err != nil {
		log.Debugf("Registry maintenance interrupted: %v", err)
		return
	}

	now := m.cfg.Now()
	_, tip := m.cfg.Chain.BestBlock()
	synced := m.cfg.IsSynced()

	var ranks []RankedNode
	if synced {
		m.mtx.RLock()
		needed := m.needsRecoveryLocked()
		m.mtx.RUnlock()
		if needed {
			ranks = m.recoveryRanks()
		}
	}

	m.mtx.Lock()
	var removed []wire.OutPoint
	for op, rec := range m.nodes {
		if rec.State == snode.StateOutpointSpent {
			removed = append(removed, op)
		}
	}
	for _, op := range removed {
		m.removeLocked(op)
	}

	var scheduled []scheduledRequest
	if synced && len(ranks) > 0 {
		scheduled = m.scheduleRecoveryLocked(ranks, now)
	}
	recovered := m.collectRecoveredLocked(now)

	for hash, seen := range m.seenBroadcasts {
		rec, known := m.nodes[seen.bcast.Outpoint]
		superseded := !known || seen.bcast.SigTime < rec.SigTime
		if superseded && now.Sub(seen.firstSeen) > snode.MinBroadcastInterval {
			delete(m.seenBroadcasts, hash)
		}
	}
	for hash, v := range m.seenVerifications {
		if v.BlockHeight < tip-maxPoSeBlocks {
			delete(m.seenVerifications, hash)
		}
	}
	for addr, v := range m.pendingVerify {
		if v.BlockHeight < tip-maxPoSeBlocks {
			delete(m.pendingVerify, addr)
		}
	}
	m.seenPings.EvictExpiredNow()
	m.askedUsForList.EvictExpiredNow()
	m.weAskedForList.EvictExpiredNow()
	m.weAskedForEntry.EvictExpiredNow()
	count := len(m.nodes)
	m.mtx.Unlock()

	if len(removed) > 0 {
		log.Infof("Removed %d spent service %s, %d remaining", len(removed),
			pickNoun(len(removed), "node", "nodes"), count)
	}
	m.sendRecoveryRequests(scheduled)
	for _, b := range recovered {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.AddOrUpdate(nil, b); err != nil {
			log.Debugf("Unable to recover service node %v: %v", b.Outpoint,
				err)
		}
	}
}

// removeLocked drops the record op and the bookkeeping that refers to it.
//
// This function MUST be called with the lock held (for writes).
func (m *Manager) removeLocked(op wire.OutPoint) {
	delete(m.nodes, op)
	for hash, seen := range m.seenBroadcasts {
		if seen.bcast.Outpoint == op {
			delete(m.seenBroadcasts, hash)
		}
	}
	for _, key := range m.weAskedForEntry.Items() {
		if key.op == op {
			m.weAskedForEntry.Delete(key)
		}
	}
	log.Debugf("Removed service node %v", op)
}

// recordsMessages returns the broadcast and ping of every record that may be
// served to other peers.
func (m *Manager) recordsMessages(op *wire.OutPoint) []snwire.Message {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	var msgs []snwire.Message
	for _, rec := range m.nodes {
		if op != nil && rec.Outpoint != *op {
			continue
		}
		if !snode.IsValidNetAddr(m.cfg.Params, rec.Addr) ||
			rec.State == snode.StateUpdateRequired {

			continue
		}
		msgs = append(msgs, rec.Broadcast())
		if !rec.LastPing.IsZero() {
			ping := rec.LastPing
			msgs = append(msgs, &ping)
		}
	}
	return msgs
}
