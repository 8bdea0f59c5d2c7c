// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payments

import (
	"bytes"
	"sync"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/container/apbf"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/snwire"
)

const (
	// SignaturesRequired is the number of votes a payee needs before it is
	// the authoritative payee of a height.
	SignaturesRequired = 6

	// SignaturesTotal is the number of top ranked nodes that vote for
	// every height.
	SignaturesTotal = 10

	// MinBlocksToStore is the minimum number of heights of votes kept.
	MinBlocksToStore = 5000

	// storageCoeff scales the registry size into the number of heights of
	// votes kept.
	storageCoeff = 1.25

	// averageVotes is the number of votes a height is expected to collect.
	averageVotes = (SignaturesTotal + SignaturesRequired) / 2

	// maxFutureVoteBlocks is how far past the tip votes are accepted.
	maxFutureVoteBlocks = 20

	// voteBlockOffset is how far below the voted height the block a vote
	// depends on lies.  Votes are dropped until that block is known.
	voteBlockOffset = 119

	// scheduleWindow is the number of heights past the tip that are
	// considered when checking whether a payee is already scheduled.
	scheduleWindow = 8

	// voteAheadBlocks is how far past a new tip the local node votes.
	voteAheadBlocks = 10

	// maxRejectedVotes is the number of rejected vote hashes remembered
	// so they are not verified again.
	maxRejectedVotes = 10000

	// rejectedVotesFPRate is the false positive rate of the rejected vote
	// filter.
	rejectedVotesFPRate = 0.0000001
)

// Registry is the subset of the service node registry the ledger consumes.
type Registry interface {
	Count() int
	Find(op wire.OutPoint) (snode.Record, bool)
	Rank(op wire.OutPoint, height int64, minProtocol uint32, onlyActive bool) (int, bool)
	NextInQueueForPayment(height int64, filterSigTime bool) (snode.Record, int, bool)
	AskForEntry(peer snode.Peer, op wire.OutPoint)
}

// Config is a descriptor containing the ledger configuration.
type Config struct {
	// Params identifies the network the ledger operates on.
	Params *snode.Params

	// Chain is the view of the base chain.
	Chain snode.ChainView

	// Features reports the network wide feature switches.
	Features snode.FeatureFlags

	// Registry is the service node registry votes are checked against.
	Registry Registry

	// Transport relays accepted votes.
	Transport snode.Transport

	// Requests tracks sync requests made by peers.
	Requests snode.RequestTracker

	// Local describes the service node run by this process.  It may be
	// nil.
	Local snode.LocalNode

	// PaymentAmount returns the service node reward for the block at
	// height.
	PaymentAmount func(height int64) int64

	// IsListSynced returns whether the registry finished syncing.  Votes
	// are ignored until it did.
	IsListSynced func() bool

	// IsSynced returns whether the whole service node sync finished.
	IsSynced func() bool

	// VoteProgress is invoked whenever a new vote was accepted.
	VoteProgress func()
}

// payee is a payee script and the hashes of the votes supporting it.
type payee struct {
	script []byte
	votes  []chainhash.Hash
}

// blockPayees is the set of payees voted for a single height.
type blockPayees struct {
	height int64
	payees []*payee
}

// add counts a vote for its payee.
func (b *blockPayees) add(vote *snwire.MsgPaymentVote, hash chainhash.Hash) {
	for _, p := range b.payees {
		if bytes.Equal(p.script, vote.Payee) {
			p.votes = append(p.votes, hash)
			return
		}
	}
	b.payees = append(b.payees, &payee{
		script: bytes.Clone(vote.Payee),
		votes:  []chainhash.Hash{hash},
	})
}

// best returns the payee with the most votes.  Earlier payees win ties.
func (b *blockPayees) best() (*payee, bool) {
	var best *payee
	for _, p := range b.payees {
		if best == nil || len(p.votes) > len(best.votes) {
			best = p
		}
	}
	return best, best != nil
}

// hasPayeeWithVotes returns whether script collected at least n votes.
func (b *blockPayees) hasPayeeWithVotes(script []byte, n int) bool {
	for _, p := range b.payees {
		if len(p.votes) >= n && bytes.Equal(p.script, script) {
			return true
		}
	}
	return false
}

// voteCount returns the number of votes cast for the height.
func (b *blockPayees) voteCount() int {
	var n int
	for _, p := range b.payees {
		n += len(p.votes)
	}
	return n
}

// voterHeight identifies the vote slot of a voter at a height.
type voterHeight struct {
	voter  wire.OutPoint
	height int64
}

// Ledger tracks payment votes per block height.  It is safe for concurrent
// access.
type Ledger struct {
	cfg Config

	mtx    sync.RWMutex
	votes  map[chainhash.Hash]*snwire.MsgPaymentVote
	blocks map[int64]*blockPayees
	voted  map[voterHeight]chainhash.Hash

	// rejected remembers votes that failed validation for reasons that
	// do not go away.
	rejected *apbf.Filter
}

// New returns a new ledger.  Optional callbacks that are not provided are
// replaced with defaults.
func New(cfg *Config) *Ledger {
	c := *cfg
	if c.IsListSynced == nil {
		c.IsListSynced = func() bool { return true }
	}
	if c.IsSynced == nil {
		c.IsSynced = func() bool { return true }
	}
	if c.VoteProgress == nil {
		c.VoteProgress = func() {}
	}
	if c.PaymentAmount == nil {
		c.PaymentAmount = func(int64) int64 { return 0 }
	}
	return &Ledger{
		cfg:      c,
		votes:    make(map[chainhash.Hash]*snwire.MsgPaymentVote),
		blocks:   make(map[int64]*blockPayees),
		voted:    make(map[voterHeight]chainhash.Hash),
		rejected: apbf.NewFilter(maxRejectedVotes, rejectedVotesFPRate),
	}
}

// StorageLimit returns the number of heights of votes the ledger keeps.
func (l *Ledger) StorageLimit() int64 {
	limit := int64(float64(l.cfg.Registry.Count()) * storageCoeff)
	if limit < MinBlocksToStore {
		return MinBlocksToStore
	}
	return limit
}

// VoteCount returns the number of votes held.
func (l *Ledger) VoteCount() int {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return len(l.votes)
}

// BlockCount returns the number of heights that have votes.
func (l *Ledger) BlockCount() int {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return len(l.blocks)
}

// IsEnoughData returns whether the ledger holds enough history to consider
// the payment vote sync complete.
func (l *Ledger) IsEnoughData() bool {
	limit := l.StorageLimit()
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return int64(len(l.blocks)) > limit &&
		int64(len(l.votes)) > limit*averageVotes
}

// HasVote returns whether the vote with the given hash is held.
func (l *Ledger) HasVote(hash chainhash.Hash) bool {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	_, ok := l.votes[hash]
	return ok
}

// CanVote returns whether voter has no vote for height yet.
func (l *Ledger) CanVote(voter wire.OutPoint, height int64) bool {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	_, ok := l.voted[voterHeight{voter, height}]
	return !ok
}

// BestPayee returns the payee script with the most votes at height.
func (l *Ledger) BestPayee(height int64) ([]byte, int, bool) {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	block, ok := l.blocks[height]
	if !ok {
		return nil, 0, false
	}
	best, ok := block.best()
	if !ok {
		return nil, 0, false
	}
	return bytes.Clone(best.script), len(best.votes), true
}

// HasPayeeWithVotes returns whether script collected at least n votes at
// height.
func (l *Ledger) HasPayeeWithVotes(height int64, script []byte, n int) bool {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	block, ok := l.blocks[height]
	return ok && block.hasPayeeWithVotes(script, n)
}

// PayeesWithVotes returns every payee script that collected at least
// minVotes votes at height.
func (l *Ledger) PayeesWithVotes(height int64, minVotes int) [][]byte {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	block, ok := l.blocks[height]
	if !ok {
		return nil
	}
	var scripts [][]byte
	for _, p := range block.payees {
		if len(p.votes) >= minVotes {
			scripts = append(scripts, bytes.Clone(p.script))
		}
	}
	return scripts
}

// IsScheduled returns whether script is the leading payee of any of the
// next few heights other than notHeight.
func (l *Ledger) IsScheduled(script []byte, notHeight int64) bool {
	_, tip := l.cfg.Chain.BestBlock()

	l.mtx.RLock()
	defer l.mtx.RUnlock()
	for h := tip; h <= tip+scheduleWindow; h++ {
		if h == notHeight {
			continue
		}
		block, ok := l.blocks[h]
		if !ok {
			continue
		}
		if best, ok := block.best(); ok && bytes.Equal(best.script, script) {
			return true
		}
	}
	return false
}

// addVoteLocked stores an already validated vote.  It returns false when the
// vote, or another vote of the same voter for the same height, is already
// held.
//
// This function MUST be called with the lock held (for writes).
func (l *Ledger) addVoteLocked(vote *snwire.MsgPaymentVote, hash chainhash.Hash) bool {
	if _, ok := l.votes[hash]; ok {
		return false
	}
	key := voterHeight{vote.Voter, vote.Height}
	if _, ok := l.voted[key]; ok {
		return false
	}
	l.votes[hash] = vote
	l.voted[key] = hash
	block, ok := l.blocks[vote.Height]
	if !ok {
		block = &blockPayees{height: vote.Height}
		l.blocks[vote.Height] = block
	}
	block.add(vote, hash)
	return true
}
