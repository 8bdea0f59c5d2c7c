// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package registry

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/snwire"
)

// pingFloodInterval is the minimum spacing between two accepted pings of the
// same node.
const pingFloodInterval = snode.MinPingInterval - time.Minute

// seenRefreshAge is the age after which a repeated broadcast refreshes its
// seen entry and counts as sync progress again.
const seenRefreshAge = snode.NewStartRequiredInterval - 2*snode.MinPingInterval

// AddOrUpdate processes a broadcast received from peer, which may be nil for
// broadcasts that did not arrive over the network.  It returns whether the
// registry changed.
//
// Broadcasts that were already processed, and broadcasts that are not newer
// than the record they describe, are dropped without error.
func (m *Manager) AddOrUpdate(peer snode.Peer, b *snwire.MsgSNBroadcast) (bool, error) {
	hash := b.Hash()
	now := m.cfg.Now()

	m.mtx.Lock()
	if seen, ok := m.seenBroadcasts[hash]; ok && !b.Recovery {
		if now.Sub(seen.firstSeen) > seenRefreshAge {
			seen.firstSeen = now
			m.mtx.Unlock()
			m.cfg.ListProgress()
			m.mtx.Lock()
		}
		replyWanted := b.LastPing.SigTime > seen.bcast.LastPing.SigTime &&
			m.takeRecoveryReplyLocked(peer, hash, now)
		m.mtx.Unlock()
		if replyWanted {
			m.captureRecoveryReply(hash, b, now)
		}
		return false, nil
	}
	kept := *b
	m.seenBroadcasts[hash] = &seenBroadcast{firstSeen: now, bcast: &kept}
	m.mtx.Unlock()

	minProto := snode.MinPaymentsProtocol(m.cfg.Features)
	pingValid, err := snode.ValidateBroadcast(m.cfg.Params, m.cfg.Chain, b,
		minProto, now)
	if err != nil {
		m.forgetBroadcast(hash, err)
		return false, err
	}

	m.mtx.RLock()
	rec, known := m.nodes[b.Outpoint]
	var existing snode.Record
	if known {
		existing = rec.Copy()
	}
	m.mtx.RUnlock()

	if known {
		return m.updateFromBroadcast(&existing, b, pingValid)
	}
	return m.addFromBroadcast(b, pingValid)
}

// forgetBroadcast removes a broadcast from the seen map when it was rejected
// for a reason that may go away, so a later copy is processed again.
func (m *Manager) forgetBroadcast(hash chainhash.Hash, err error) {
	if !snode.IsTransient(err) && !errors.Is(err, snode.ErrProtocolTooOld) {
		return
	}
	m.mtx.Lock()
	delete(m.seenBroadcasts, hash)
	m.mtx.Unlock()
}

// addFromBroadcast inserts a record for a broadcast describing an unknown
// node.
func (m *Manager) addFromBroadcast(b *snwire.MsgSNBroadcast, pingValid bool) (bool, error) {
	hash := b.Hash()
	collateralHeight, err := snode.VerifyCollateral(m.cfg.Params, m.cfg.Chain, b)
	if err != nil {
		m.forgetBroadcast(hash, err)
		return false, err
	}
	if err := snode.VerifyBroadcastSignature(m.cfg.Params, b); err != nil {
		return false, err
	}

	rec := snode.NewRecord(b)
	rec.CollateralHeight = collateralHeight
	if !pingValid {
		rec.LastPing = snwire.MsgSNPing{}
		rec.State = snode.StateExpired
	}

	m.mtx.Lock()
	if _, ok := m.nodes[b.Outpoint]; ok {
		m.mtx.Unlock()
		return false, nil
	}
	m.nodes[b.Outpoint] = rec
	if pingValid {
		m.seenPings.Put(b.LastPing.Hash())
	}
	count := len(m.nodes)
	m.mtx.Unlock()

	log.Debugf("Added service node %v at %v (%d total)", b.Outpoint, b.Addr,
		count)
	m.cfg.ListProgress()
	m.cfg.Transport.RelayMessage(b)
	return true, nil
}

// updateFromBroadcast applies a broadcast to a known record.  existing is a
// copy of the record taken before validation.
func (m *Manager) updateFromBroadcast(existing *snode.Record, b *snwire.MsgSNBroadcast,
	pingValid bool) (bool, error) {

	if b.SigTime <= existing.SigTime && !b.Recovery {
		log.Tracef("Ignoring stale broadcast for %v (sigtime %d, have %d)",
			b.Outpoint, b.SigTime, existing.SigTime)
		return false, nil
	}
	if existing.State == snode.StatePoSeBan {
		str := fmt.Sprintf("service node %v is banned by proof of service "+
			"until height %d", b.Outpoint, existing.PoSeBanHeight)
		return false, snode.NewRuleError(snode.ErrPoSeBanned, 0, str)
	}
	if !bytes.Equal(existing.CollateralKey, b.CollateralKey) {
		str := fmt.Sprintf("broadcast for %v carries a collateral key that "+
			"differs from the registered one", b.Outpoint)
		return false, snode.NewRuleError(snode.ErrKeyMismatch, 33, str)
	}
	if err := snode.VerifyBroadcastSignature(m.cfg.Params, b); err != nil {
		return false, err
	}
	entry, err := m.cfg.Chain.FetchUtxoEntry(b.Outpoint)
	if err != nil {
		str := fmt.Sprintf("unable to look up collateral %v: %v", b.Outpoint,
			err)
		m.forgetBroadcast(b.Hash(), snode.ErrLookupFailed)
		return false, snode.NewRuleError(snode.ErrLookupFailed, 0, str)
	}
	spent := entry == nil
	ctx := m.checkContext(true)
	localKey := m.localOperatorKey()
	now := ctx.Now

	m.mtx.Lock()
	rec, ok := m.nodes[b.Outpoint]
	if !ok || rec.State == snode.StatePoSeBan {
		m.mtx.Unlock()
		return false, nil
	}
	relay := !rec.IsBroadcastedWithin(snode.MinBroadcastInterval, now)
	if !rec.UpdateFromBroadcast(b, pingValid) {
		m.mtx.Unlock()
		return false, nil
	}
	if pingValid {
		m.seenPings.Put(b.LastPing.Hash())
	}
	m.checkRecordLocked(rec, ctx, spent, localKey)
	state := rec.State
	m.mtx.Unlock()

	log.Debugf("Updated service node %v from broadcast (state %v)",
		b.Outpoint, state)
	m.cfg.ListProgress()
	if relay && !b.Recovery {
		m.cfg.Transport.RelayMessage(b)
	}
	return true, nil
}

// UpdateList applies a broadcast created by this process.  It is trusted and
// therefore not validated.
func (m *Manager) UpdateList(b *snwire.MsgSNBroadcast) {
	now := m.cfg.Now()

	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.seenBroadcasts[b.Hash()] = &seenBroadcast{firstSeen: now, bcast: b}
	m.seenPings.Put(b.LastPing.Hash())
	rec, ok := m.nodes[b.Outpoint]
	if !ok {
		m.nodes[b.Outpoint] = snode.NewRecord(b)
		log.Infof("Added local service node %v at %v", b.Outpoint, b.Addr)
		return
	}
	if rec.State == snode.StatePoSeBan {
		log.Warnf("Local service node %v is banned by proof of service "+
			"until height %d", b.Outpoint, rec.PoSeBanHeight)
		return
	}
	rec.UpdateFromBroadcast(b, true)
}

// ApplyPing processes a ping received from peer, which may be nil.  It
// returns whether the ping was applied.
//
// A ping for an unknown node triggers a request for that node's broadcast
// from peer and is otherwise ignored.
func (m *Manager) ApplyPing(peer snode.Peer, ping *snwire.MsgSNPing) (bool, error) {
	hash := ping.Hash()
	ctx := m.checkContext(false)
	localKey := m.localOperatorKey()
	now := ctx.Now

	m.mtx.Lock()
	if m.seenPings.Contains(hash) {
		m.mtx.Unlock()
		return false, nil
	}
	m.seenPings.Put(hash)
	rec, ok := m.nodes[ping.Outpoint]
	if !ok {
		m.mtx.Unlock()
		m.AskForEntry(peer, ping.Outpoint)
		return false, nil
	}
	m.checkRecordLocked(rec, ctx, false, localKey)
	state := rec.State
	operatorKey := bytes.Clone(rec.OperatorKey)
	tooEarly := rec.IsPingedWithin(pingFloodInterval, time.Unix(ping.SigTime, 0))
	m.mtx.Unlock()

	var kind snode.ErrorKind
	switch state {
	case snode.StateNewStartRequired:
		kind = snode.ErrNewStartRequired
	case snode.StateUpdateRequired:
		kind = snode.ErrUpdateRequired
	case snode.StateOutpointSpent:
		kind = snode.ErrCollateralSpent
	case snode.StatePreEnabled, snode.StateEnabled, snode.StateExpired,
		snode.StateWatchdogExpired, snode.StatePoSeBan:
	}
	if kind != "" {
		str := fmt.Sprintf("ping for %v refused in state %v", ping.Outpoint,
			state)
		return false, snode.NewRuleError(kind, 0, str)
	}
	if tooEarly {
		str := fmt.Sprintf("ping for %v arrived less than %v after the "+
			"previous one", ping.Outpoint, pingFloodInterval)
		return false, snode.NewRuleError(snode.ErrPingTooEarly, 0, str)
	}
	if err := snode.ValidatePing(m.cfg.Chain, ping, now); err != nil {
		if snode.IsTransient(err) {
			m.mtx.Lock()
			m.seenPings.Delete(hash)
			m.mtx.Unlock()
		}
		return false, err
	}
	if err := snode.VerifyPingSignature(m.cfg.Params, ping, operatorKey); err != nil {
		return false, err
	}

	m.mtx.Lock()
	rec, ok = m.nodes[ping.Outpoint]
	if !ok || ping.SigTime <= rec.LastPing.SigTime {
		m.mtx.Unlock()
		return false, nil
	}
	rec.ApplyPing(ping)
	if seen, ok := m.seenBroadcasts[rec.Broadcast().Hash()]; ok {
		seen.bcast.LastPing = *ping
	}
	ctx.Force = true
	m.checkRecordLocked(rec, ctx, false, localKey)
	state = rec.State
	m.mtx.Unlock()

	m.cfg.ListProgress()
	switch state {
	case snode.StateEnabled, snode.StateExpired, snode.StateWatchdogExpired:
		m.cfg.Transport.RelayMessage(ping)
	case snode.StatePreEnabled, snode.StateOutpointSpent,
		snode.StateUpdateRequired, snode.StateNewStartRequired,
		snode.StatePoSeBan:
	}
	return true, nil
}

// SetLastPing stores a ping created by this process for the local node.
func (m *Manager) SetLastPing(ping *snwire.MsgSNPing) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	rec, ok := m.nodes[ping.Outpoint]
	if !ok {
		return
	}
	m.seenPings.Put(ping.Hash())
	rec.ApplyPing(ping)
	if seen, ok := m.seenBroadcasts[rec.Broadcast().Hash()]; ok {
		seen.bcast.LastPing = *ping
	}
}

// ProcessBatch applies a batch of messages received together from peer.
// Broadcasts are applied before pings so a ping never races ahead of the
// broadcast it refers to.  The returned error joins every rejection.
func (m *Manager) ProcessBatch(peer snode.Peer, msgs []snwire.Message) (int, error) {
	var pings []*snwire.MsgSNPing
	var errs []error
	var applied int
	for _, msg := range msgs {
		switch msg := msg.(type) {
		case *snwire.MsgSNBroadcast:
			ok, err := m.AddOrUpdate(peer, msg)
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				applied++
			}
		case *snwire.MsgSNPing:
			pings = append(pings, msg)
		}
	}
	for _, ping := range pings {
		ok, err := m.ApplyPing(peer, ping)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			applied++
		}
	}
	return applied, errors.Join(errs...)
}

// AskForEntry asks peer for the broadcast of the node op unless it was asked
// recently.
func (m *Manager) AskForEntry(peer snode.Peer, op wire.OutPoint) {
	if peer == nil {
		return
	}
	key := entryRequest{op: op, addr: peer.Addr()}
	m.mtx.Lock()
	if m.weAskedForEntry.Contains(key) {
		m.mtx.Unlock()
		return
	}
	m.weAskedForEntry.Put(key)
	m.mtx.Unlock()

	log.Debugf("Asking peer %v for service node %v", peer.Addr(), op)
	peer.QueueMessage(&snwire.MsgSNListRequest{Outpoint: op})
}
