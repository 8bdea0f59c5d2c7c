// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package registry

import (
	"fmt"

	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/snwire"
)

// HandleListRequest serves a registry request from peer.  A request for a
// single node is answered with that node's broadcast and ping.  A request for
// the full registry is answered with every servable record followed by a
// sync status carrying the number of records sent.
//
// Full registry requests from a routable peer are limited to one per
// ListRequestInterval on networks that throttle them.
func (m *Manager) HandleListRequest(peer snode.Peer, msg *snwire.MsgSNListRequest) error {
	addr := peer.Addr()
	if msg.IsFullList() && m.cfg.Params.ThrottleListRequests &&
		snode.IsValidNetAddr(m.cfg.Params, addr) {

		m.mtx.Lock()
		if m.askedUsForList.Contains(addr.Addr()) {
			m.mtx.Unlock()
			str := fmt.Sprintf("peer %v asked for the service node list "+
				"again within %v", addr, ListRequestInterval)
			return ruleError(ErrListRequestRepeat, 34, str)
		}
		m.askedUsForList.Put(addr.Addr())
		m.mtx.Unlock()
	}

	op := &msg.Outpoint
	if msg.IsFullList() {
		op = nil
	}
	msgs := m.recordsMessages(op)
	for _, out := range msgs {
		peer.QueueMessage(out)
	}
	if !msg.IsFullList() {
		return nil
	}

	var sent int
	for _, out := range msgs {
		if _, ok := out.(*snwire.MsgSNBroadcast); ok {
			sent++
		}
	}
	peer.QueueMessage(&snwire.MsgSyncStatus{
		Item:  snwire.SyncItemList,
		Count: uint32(sent),
	})
	log.Debugf("Sent %d service node %s to peer %v", sent, pickNoun(sent,
		"entry", "entries"), addr)
	return nil
}

// RequestList asks peer for the full registry.  It returns false without
// sending anything when the peer was already asked within
// ListRequestInterval.
func (m *Manager) RequestList(peer snode.Peer) bool {
	addr := peer.Addr()
	throttled := m.cfg.Params.ThrottleListRequests &&
		snode.IsValidNetAddr(m.cfg.Params, addr)

	m.mtx.Lock()
	if throttled && m.weAskedForList.Contains(addr.Addr()) {
		m.mtx.Unlock()
		log.Debugf("Already asked %v for the service node list", addr)
		return false
	}
	m.weAskedForList.Put(addr.Addr())
	m.mtx.Unlock()

	peer.QueueMessage(&snwire.MsgSNListRequest{})
	log.Debugf("Asked %v for the service node list", addr)
	return true
}
