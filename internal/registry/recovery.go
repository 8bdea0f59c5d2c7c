// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package registry

import (
	"net/netip"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/crypto/rand"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/snwire"
)

const (
	// recoveryQuorumTotal is the number of nodes asked about a node this
	// process believes needs a new start.
	recoveryQuorumTotal = 10

	// recoveryQuorumRequired is the number of fresher replies needed to
	// keep the record.
	recoveryQuorumRequired = 6

	// maxRecoveryAsks is the number of nodes recovery is started for per
	// maintenance pass.
	maxRecoveryAsks = 10

	// recoveryWait is how long replies are collected.
	recoveryWait = time.Minute

	// recoveryRetry is how long a node is not asked about again.
	recoveryRetry = 3 * time.Hour
)

// recoveryRequest tracks the nodes asked about a single broadcast.
type recoveryRequest struct {
	deadline time.Time
	asked    map[netip.AddrPort]struct{}
}

// scheduledRequest is a recovery question to send once the lock is released.
type scheduledRequest struct {
	addr netip.AddrPort
	op   wire.OutPoint
}

// takeRecoveryReplyLocked returns whether a broadcast with the given hash
// from peer answers an open recovery request.  The peer is removed from the
// request so each asked node contributes at most one reply.
//
// This function MUST be called with the lock held (for writes).
func (m *Manager) takeRecoveryReplyLocked(peer snode.Peer, hash chainhash.Hash,
	now time.Time) bool {

	if peer == nil {
		return false
	}
	req, ok := m.recoveryRequests[hash]
	if !ok || !now.Before(req.deadline) {
		return false
	}
	if _, asked := req.asked[peer.Addr()]; !asked {
		return false
	}
	delete(req.asked, peer.Addr())
	return true
}

// captureRecoveryReply stores a fresher copy of a broadcast under recovery
// once its ping checks out.
func (m *Manager) captureRecoveryReply(hash chainhash.Hash, b *snwire.MsgSNBroadcast,
	now time.Time) {

	if err := snode.ValidatePing(m.cfg.Chain, &b.LastPing, now); err != nil {
		log.Debugf("Ignoring recovery reply for %v: %v", b.Outpoint, err)
		return
	}
	reply := *b
	reply.Recovery = true

	m.mtx.Lock()
	m.recoveryReplies[hash] = append(m.recoveryReplies[hash], &reply)
	n := len(m.recoveryReplies[hash])
	m.mtx.Unlock()
	log.Debugf("Got recovery reply %d for service node %v", n, b.Outpoint)
}

// needsRecoveryLocked returns whether any record should be recovered.
//
// This function MUST be called with the lock held (for reads).
func (m *Manager) needsRecoveryLocked() bool {
	for _, rec := range m.nodes {
		if rec.State != snode.StateNewStartRequired {
			continue
		}
		if _, ok := m.recoveryRequests[rec.Broadcast().Hash()]; !ok {
			return true
		}
	}
	return false
}

// recoveryRanks returns the nodes to pick recovery quorums from.  They are
// ranked at a random height so every node asks a different quorum.
func (m *Manager) recoveryRanks() []RankedNode {
	_, tip := m.cfg.Chain.BestBlock()
	if tip <= snode.ScoreBlockOffset {
		return nil
	}
	height := snode.ScoreBlockOffset + rand.Int64N(tip-snode.ScoreBlockOffset+1)
	ranks, _ := m.Ranks(height, snode.MinPaymentsProtocol(m.cfg.Features))
	return ranks
}

// scheduleRecoveryLocked opens recovery requests for records needing a new
// start.  The questions to send are returned.
//
// This function MUST be called with the lock held (for writes).
func (m *Manager) scheduleRecoveryLocked(ranks []RankedNode, now time.Time) []scheduledRequest {
	var scheduled []scheduledRequest
	asks := maxRecoveryAsks
	for op, rec := range m.nodes {
		if asks == 0 {
			break
		}
		if rec.State != snode.StateNewStartRequired {
			continue
		}
		hash := rec.Broadcast().Hash()
		if _, ok := m.recoveryRequests[hash]; ok {
			continue
		}

		asked := make(map[netip.AddrPort]struct{})
		for i := 0; len(asked) < recoveryQuorumTotal && i < len(ranks); i++ {
			addr := ranks[i].Record.Addr
			if ranks[i].Record.Outpoint == op {
				continue
			}
			if m.weAskedForEntry.Contains(entryRequest{op: op, addr: addr}) {
				continue
			}
			if _, ok := asked[addr]; ok {
				continue
			}
			asked[addr] = struct{}{}
			scheduled = append(scheduled, scheduledRequest{addr: addr, op: op})
		}
		if len(asked) > 0 {
			asks--
		}
		m.recoveryRequests[hash] = &recoveryRequest{
			deadline: now.Add(recoveryWait),
			asked:    asked,
		}
	}
	return scheduled
}

// collectRecoveredLocked returns one reply for every recovery request that
// reached its deadline with a quorum of fresher replies, and forgets the
// replies of every expired request.  Requests are forgotten entirely after
// the retry interval.
//
// This function MUST be called with the lock held (for writes).
func (m *Manager) collectRecoveredLocked(now time.Time) []*snwire.MsgSNBroadcast {
	var recovered []*snwire.MsgSNBroadcast
	for hash, replies := range m.recoveryReplies {
		req, ok := m.recoveryRequests[hash]
		if ok && now.Before(req.deadline) {
			continue
		}
		if ok && len(replies) >= recoveryQuorumRequired {
			log.Debugf("Recovering service node %v with %d replies",
				replies[0].Outpoint, len(replies))
			recovered = append(recovered, replies[0])
		}
		delete(m.recoveryReplies, hash)
	}
	for hash, req := range m.recoveryRequests {
		if now.Sub(req.deadline) > recoveryRetry {
			delete(m.recoveryRequests, hash)
		}
	}
	return recovered
}

// sendRecoveryRequests asks the scheduled nodes for their copy of the
// broadcasts under recovery.
func (m *Manager) sendRecoveryRequests(scheduled []scheduledRequest) {
	for _, s := range scheduled {
		m.mtx.Lock()
		m.weAskedForEntry.Put(entryRequest{op: s.op, addr: s.addr})
		m.mtx.Unlock()

		msg := &snwire.MsgSNListRequest{Outpoint: s.op}
		if err := m.cfg.Transport.ConnectAndSend(s.addr, msg); err != nil {
			log.Debugf("Unable to ask %v about %v: %v", s.addr, s.op, err)
		}
	}
}
