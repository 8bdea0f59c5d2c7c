// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payments

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/snwire"
)

// rejectedKey returns the key a rejected vote is remembered under.  The vote
// hash does not commit to the signature, so a forged copy must not shadow
// the genuine vote.
func rejectedKey(hash *chainhash.Hash, vote *snwire.MsgPaymentVote) []byte {
	key := make([]byte, 0, len(hash)+len(vote.Sig))
	key = append(key, hash[:]...)
	return append(key, vote.Sig...)
}

// AddVote validates a payment vote received from peer and adds it to the
// ledger.  It returns whether the vote was added.  Votes already held are
// ignored without error.
//
// The vote must target a height within the tracked window, the block the
// vote depends on must be known, and the voter must be a registered node
// that ranks among the voters for the height and signed the vote with its
// operating key.  Each voter has at most one vote per height.
func (l *Ledger) AddVote(peer snode.Peer, vote *snwire.MsgPaymentVote) (bool, error) {
	if !l.cfg.IsListSynced() {
		return false, nil
	}
	hash := vote.Hash()
	if l.HasVote(hash) || l.rejected.Contains(rejectedKey(&hash, vote)) {
		return false, nil
	}

	_, tip := l.cfg.Chain.BestBlock()
	first := tip - l.StorageLimit()
	if vote.Height < first || vote.Height > tip+maxFutureVoteBlocks {
		str := fmt.Sprintf("vote from %v for height %d is outside of the "+
			"tracked window [%d, %d]", vote.Voter, vote.Height, first,
			tip+maxFutureVoteBlocks)
		return false, ruleError(ErrVoteHeight, 0, str)
	}
	if !l.CanVote(vote.Voter, vote.Height) {
		str := fmt.Sprintf("service node %v already voted for height %d",
			vote.Voter, vote.Height)
		return false, ruleError(ErrAlreadyVoted, 0, str)
	}
	if err := l.checkVote(peer, vote, tip); err != nil {
		if errors.Is(err, snode.ErrBadSignature) {
			l.rejected.Add(rejectedKey(&hash, vote))
		}
		return false, err
	}

	l.mtx.Lock()
	if _, ok := l.votes[hash]; ok {
		l.mtx.Unlock()
		return false, nil
	}
	added := l.addVoteLocked(vote, hash)
	l.mtx.Unlock()
	if !added {
		str := fmt.Sprintf("service node %v already voted for height %d",
			vote.Voter, vote.Height)
		return false, ruleError(ErrAlreadyVoted, 0, str)
	}

	log.Debugf("Accepted payment vote from %v for height %d", vote.Voter,
		vote.Height)
	l.cfg.VoteProgress()
	if l.cfg.IsSynced() {
		l.cfg.Transport.RelayMessage(vote)
	}
	return true, nil
}

// checkVote performs the checks of a vote that consult the chain view and
// the registry.
func (l *Ledger) checkVote(peer snode.Peer, vote *snwire.MsgPaymentVote, tip int64) error {
	if _, err := l.cfg.Chain.BlockHashByHeight(vote.Height - voteBlockOffset); err != nil {
		str := fmt.Sprintf("block %d referenced by the vote from %v for "+
			"height %d is not known", vote.Height-voteBlockOffset,
			vote.Voter, vote.Height)
		return ruleError(snode.ErrUnknownBlock, 0, str)
	}

	rec, ok := l.cfg.Registry.Find(vote.Voter)
	if !ok {
		l.cfg.Registry.AskForEntry(peer, vote.Voter)
		str := fmt.Sprintf("vote for height %d cast by unknown service "+
			"node %v", vote.Height, vote.Voter)
		return ruleError(ErrUnknownVoter, 0, str)
	}
	minProtocol := snode.MinPaymentsProtocol(l.cfg.Features)
	if rec.ProtocolVersion < minProtocol {
		str := fmt.Sprintf("voter %v runs protocol version %d, %d required",
			vote.Voter, rec.ProtocolVersion, minProtocol)
		return ruleError(ErrVoterProtocol, 0, str)
	}

	rank, ok := l.cfg.Registry.Rank(vote.Voter, vote.Height, minProtocol, false)
	if !ok {
		str := fmt.Sprintf("unable to rank voter %v for height %d",
			vote.Voter, vote.Height)
		return ruleError(ErrVoterRank, 0, str)
	}
	if rank > SignaturesTotal {
		// Late votes of nodes just outside of the voters are expected
		// while the registries of peers converge.
		var banScore uint32
		if rank > SignaturesTotal*2 && vote.Height > tip {
			banScore = 20
		}
		str := fmt.Sprintf("voter %v has rank %d for height %d, %d "+
			"required", vote.Voter, rank, vote.Height, SignaturesTotal)
		return ruleError(ErrVoterRank, banScore, str)
	}

	err := snode.VerifyMessage(rec.OperatorKey, vote.Sig,
		l.cfg.Params.MessageMagic, vote.SignedMessage())
	if err != nil {
		str := fmt.Sprintf("bad signature on vote from %v for height %d: %v",
			vote.Voter, vote.Height, err)
		return ruleError(snode.ErrBadSignature, 20, str)
	}
	return nil
}

// ProcessBlock casts the vote of the local service node for the block at
// height when the node ranks among the voters for it.  The payee is elected
// independently through the registry.  It returns whether a vote was cast.
func (l *Ledger) ProcessBlock(height int64) bool {
	if l.cfg.Local == nil {
		return false
	}
	key := l.cfg.Local.OperatorKey()
	op, started := l.cfg.Local.Identity()
	if key == nil || !started || !l.cfg.IsListSynced() {
		return false
	}

	minProtocol := snode.MinPaymentsProtocol(l.cfg.Features)
	rank, ok := l.cfg.Registry.Rank(op, height, minProtocol, false)
	if !ok {
		log.Debugf("Unable to rank the local service node for height %d",
			height)
		return false
	}
	if rank > SignaturesTotal {
		log.Tracef("Local service node has rank %d for height %d and does "+
			"not vote", rank, height)
		return false
	}
	if !l.CanVote(op, height) {
		return false
	}

	rec, _, ok := l.cfg.Registry.NextInQueueForPayment(height, true)
	if !ok {
		log.Warnf("Unable to elect a service node to pay at height %d",
			height)
		return false
	}
	vote := &snwire.MsgPaymentVote{
		Voter:  op,
		Height: height,
		Payee:  rec.PayeeScript(l.cfg.Params),
	}
	vote.Sig = snode.SignMessage(key, l.cfg.Params.MessageMagic,
		vote.SignedMessage())

	l.mtx.Lock()
	added := l.addVoteLocked(vote, vote.Hash())
	l.mtx.Unlock()
	if !added {
		return false
	}
	log.Infof("Voted to pay service node %v at height %d", rec.Outpoint,
		height)
	l.cfg.Transport.RelayMessage(vote)
	return true
}

// BlockConnected casts the local vote for the height voteAheadBlocks past
// the new tip.
func (l *Ledger) BlockConnected(height int64) {
	l.ProcessBlock(height + voteAheadBlocks)
}
