// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payments

import (
	"fmt"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/snwire"
)

// reqPaymentSync is the request kind of a peer asking for recent votes.
const reqPaymentSync = "snw-sync"

// votesForHeightLocked returns the votes held for height.
//
// This function MUST be called with the lock held (for reads).
func (l *Ledger) votesForHeightLocked(height int64) []snwire.Message {
	block, ok := l.blocks[height]
	if !ok {
		return nil
	}
	var msgs []snwire.Message
	for _, p := range block.payees {
		for _, hash := range p.votes {
			if vote, ok := l.votes[hash]; ok {
				msgs = append(msgs, vote)
			}
		}
	}
	return msgs
}

// HandleSyncRequest answers a peer asking for the votes of the upcoming
// heights.  Each peer may ask once per sync.  The answer ends with a status
// message carrying the number of votes sent.
func (l *Ledger) HandleSyncRequest(peer snode.Peer, msg *snwire.MsgPaymentSyncRequest) error {
	if !l.cfg.IsSynced() {
		return nil
	}
	addr := peer.Addr()
	if l.cfg.Requests.HasFulfilledRequest(addr, reqPaymentSync) {
		str := fmt.Sprintf("peer %v asked for payment votes again", addr)
		return ruleError(ErrSyncRequestRepeat, 20, str)
	}
	l.cfg.Requests.AddFulfilledRequest(addr, reqPaymentSync)

	_, tip := l.cfg.Chain.BestBlock()
	var msgs []snwire.Message
	l.mtx.RLock()
	for h := tip; h < tip+maxFutureVoteBlocks; h++ {
		msgs = append(msgs, l.votesForHeightLocked(h)...)
	}
	l.mtx.RUnlock()

	for _, vote := range msgs {
		peer.QueueMessage(vote)
	}
	peer.QueueMessage(&snwire.MsgSyncStatus{
		Item:  snwire.SyncItemVotes,
		Count: uint32(len(msgs)),
	})
	log.Debugf("Sent %d payment votes to peer %v (requester knows %d "+
		"nodes)", len(msgs), addr, msg.Count)
	return nil
}

// hasEnoughVotesLocked returns whether a height has enough votes that asking
// peers for more is pointless.
//
// This function MUST be called with the lock held (for reads).
func (l *Ledger) hasEnoughVotesLocked(height int64) bool {
	block, ok := l.blocks[height]
	if !ok {
		return false
	}
	if best, ok := block.best(); ok && len(best.votes) >= SignaturesRequired {
		return true
	}
	return block.voteCount() >= averageVotes
}

// RequestLowDataPaymentBlocks asks peer for the votes of every height within
// the storage window that has no payee with a quorum and fewer votes than
// expected.  It returns the number of heights requested.
func (l *Ledger) RequestLowDataPaymentBlocks(peer snode.Peer) int {
	_, tip := l.cfg.Chain.BestBlock()
	limit := l.StorageLimit()

	var heights []int64
	l.mtx.RLock()
	for h := tip; h > tip-limit && h > 0; h-- {
		if !l.hasEnoughVotesLocked(h) {
			heights = append(heights, h)
		}
	}
	l.mtx.RUnlock()

	requested := len(heights)
	for len(heights) > 0 {
		n := min(len(heights), snwire.MaxPaymentBlockHeights)
		peer.QueueMessage(&snwire.MsgGetPaymentBlocks{Heights: heights[:n]})
		heights = heights[n:]
	}
	return requested
}

// HandleBlocksRequest answers a peer asking for the votes of specific
// heights.  It returns the number of votes sent.
func (l *Ledger) HandleBlocksRequest(peer snode.Peer, msg *snwire.MsgGetPaymentBlocks) int {
	var msgs []snwire.Message
	l.mtx.RLock()
	for _, h := range msg.Heights {
		msgs = append(msgs, l.votesForHeightLocked(h)...)
	}
	l.mtx.RUnlock()

	for _, vote := range msgs {
		peer.QueueMessage(vote)
	}
	return len(msgs)
}

// CheckAndRemove prunes the votes and heights that fell out of the storage
// window.
func (l *Ledger) CheckAndRemove() {
	_, tip := l.cfg.Chain.BestBlock()
	limit := l.StorageLimit()

	l.mtx.Lock()
	var removed int
	for hash, vote := range l.votes {
		if tip-vote.Height <= limit {
			continue
		}
		delete(l.votes, hash)
		delete(l.voted, voterHeight{vote.Voter, vote.Height})
		removed++
	}
	for height := range l.blocks {
		if tip-height > limit {
			delete(l.blocks, height)
		}
	}
	votes, blocks := len(l.votes), len(l.blocks)
	l.mtx.Unlock()

	if removed > 0 {
		log.Debugf("Pruned %d payment votes, %d votes for %d heights remain",
			removed, votes, blocks)
	}
}

// Snapshot returns every vote held for persistence.
func (l *Ledger) Snapshot() []snwire.MsgPaymentVote {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	votes := make([]snwire.MsgPaymentVote, 0, len(l.votes))
	for _, vote := range l.votes {
		votes = append(votes, *vote)
	}
	return votes
}

// Restore replaces the ledger contents with previously persisted votes.
func (l *Ledger) Restore(votes []snwire.MsgPaymentVote) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.votes = make(map[chainhash.Hash]*snwire.MsgPaymentVote, len(votes))
	l.blocks = make(map[int64]*blockPayees)
	l.voted = make(map[voterHeight]chainhash.Hash, len(votes))
	for i := range votes {
		vote := votes[i]
		l.addVoteLocked(&vote, vote.Hash())
	}
	log.Infof("Restored %d payment votes for %d heights", len(l.votes),
		len(l.blocks))
}

// Clear removes every vote.
func (l *Ledger) Clear() {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.votes = make(map[chainhash.Hash]*snwire.MsgPaymentVote)
	l.blocks = make(map[int64]*blockPayees)
	l.voted = make(map[voterHeight]chainhash.Hash)
	l.rejected.Reset()
}
