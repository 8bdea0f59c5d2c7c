// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package registry

import (
	"bytes"
	"sort"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/math/uint256"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/snode"
)

const (
	// lastPaidScanBlocks is how many blocks are scanned for payments on
	// every pass after the first one when running as a service node.
	lastPaidScanBlocks = 100

	// lastPaidMinVotes is the number of votes a payee needs in a block
	// before a payment to it in that block counts.
	lastPaidMinVotes = 2

	// defaultStorageLimit is used when no ledger is attached.
	defaultStorageLimit = 5000

	// tooNewSecondsPerNode is how long, per registered node, a newly
	// announced node waits before it is considered for payment.
	tooNewSecondsPerNode = 156
)

// RankedNode is a node together with its rank at some height.
type RankedNode struct {
	Rank   int
	Record snode.Record
}

// scoredNode is a record and its election score.
type scoredNode struct {
	score uint256.Uint256
	rec   *snode.Record
}

// compareOutPoints orders outpoints by hash bytes, then index.
func compareOutPoints(a, b *wire.OutPoint) int {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c
	}
	switch {
	case a.Index < b.Index:
		return -1
	case a.Index > b.Index:
		return 1
	}
	return 0
}

// sortByScore orders nodes by descending score with ties broken by outpoint.
func sortByScore(nodes []scoredNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if c := nodes[i].score.Cmp(&nodes[j].score); c != 0 {
			return c > 0
		}
		return compareOutPoints(&nodes[i].rec.Outpoint, &nodes[j].rec.Outpoint) < 0
	})
}

// scoreBlockHash returns the hash of the block whose hash scores nodes for
// the given height.
func (m *Manager) scoreBlockHash(height int64) (*chainhash.Hash, bool) {
	if height < snode.ScoreBlockOffset {
		return nil, false
	}
	hash, err := m.cfg.Chain.BlockHashByHeight(height - snode.ScoreBlockOffset)
	if err != nil {
		log.Tracef("No score block for height %d: %v", height, err)
		return nil, false
	}
	return hash, true
}

// scoredLocked returns the scored records running at least minProtocol,
// restricted to enabled ones when onlyActive is set, in rank order.
//
// This function MUST be called with the lock held (for reads).
func (m *Manager) scoredLocked(blockHash *chainhash.Hash, minProtocol uint32,
	onlyActive bool) []scoredNode {

	nodes := make([]scoredNode, 0, len(m.nodes))
	for _, rec := range m.nodes {
		if rec.ProtocolVersion < minProtocol {
			continue
		}
		if onlyActive && rec.State != snode.StateEnabled {
			continue
		}
		nodes = append(nodes, scoredNode{
			score: snode.Score(blockHash, &rec.Outpoint),
			rec:   rec,
		})
	}
	sortByScore(nodes)
	return nodes
}

// Rank returns the 1-based rank of the node op at height among the nodes
// running at least minProtocol.  It returns false when the node is unknown,
// filtered out, or the score block for the height is not known.
func (m *Manager) Rank(op wire.OutPoint, height int64, minProtocol uint32,
	onlyActive bool) (int, bool) {

	blockHash, ok := m.scoreBlockHash(height)
	if !ok {
		return 0, false
	}

	m.mtx.RLock()
	defer m.mtx.RUnlock()
	for i, node := range m.scoredLocked(blockHash, minProtocol, onlyActive) {
		if node.rec.Outpoint == op {
			return i + 1, true
		}
	}
	return 0, false
}

// Ranks returns every enabled node running at least minProtocol in rank order
// for the given height.
func (m *Manager) Ranks(height int64, minProtocol uint32) ([]RankedNode, bool) {
	blockHash, ok := m.scoreBlockHash(height)
	if !ok {
		return nil, false
	}

	m.mtx.RLock()
	defer m.mtx.RUnlock()
	scored := m.scoredLocked(blockHash, minProtocol, true)
	ranked := make([]RankedNode, 0, len(scored))
	for i, node := range scored {
		ranked = append(ranked, RankedNode{Rank: i + 1, Record: node.rec.Copy()})
	}
	return ranked, true
}

// NodeByRank returns the node with the given 1-based rank at height.
func (m *Manager) NodeByRank(rank int, height int64, minProtocol uint32,
	onlyActive bool) (snode.Record, bool) {

	blockHash, ok := m.scoreBlockHash(height)
	if !ok || rank < 1 {
		return snode.Record{}, false
	}

	m.mtx.RLock()
	defer m.mtx.RUnlock()
	scored := m.scoredLocked(blockHash, minProtocol, onlyActive)
	if rank > len(scored) {
		return snode.Record{}, false
	}
	return scored[rank-1].rec.Copy(), true
}

// eligibilityLocked applies the registry side payment filters to rec.
//
// This function MUST be called with the lock held (for reads).
func (m *Manager) eligibilityLocked(rec *snode.Record, tip int64, minProtocol uint32,
	watchdogActive, filterSigTime bool, count int, now time.Time) snode.Ineligibility {

	if !rec.State.IsValidForPayment(watchdogActive) {
		return snode.Ineligibility{Reason: snode.IneligibleState, State: rec.State}
	}
	if rec.ProtocolVersion < minProtocol {
		return snode.Ineligibility{
			Reason: snode.IneligibleProtocol,
			Detail: int64(rec.ProtocolVersion),
		}
	}
	if filterSigTime {
		waitSecs := int64(count) * tooNewSecondsPerNode
		if rec.SigTime+waitSecs > now.Unix() {
			return snode.Ineligibility{
				Reason: snode.IneligibleTooNew,
				Detail: rec.SigTime,
			}
		}
	}
	if confs := tip - rec.CollateralHeight + 1; confs < int64(count) {
		return snode.Ineligibility{
			Reason: snode.IneligibleCollateralAge,
			Detail: confs,
		}
	}
	return snode.Ineligibility{}
}

// countForPaymentsLocked returns the number of records running at least the
// payments protocol.
//
// This function MUST be called with the lock held (for reads).
func (m *Manager) countForPaymentsLocked(minProtocol uint32) int {
	var n int
	for _, rec := range m.nodes {
		if rec.ProtocolVersion >= minProtocol {
			n++
		}
	}
	return n
}

// PaymentEligibility reports whether the node op may be elected for the block
// at height and why not otherwise.
func (m *Manager) PaymentEligibility(op wire.OutPoint, height int64,
	filterSigTime bool) snode.Ineligibility {

	_, tip := m.cfg.Chain.BestBlock()
	minProtocol := snode.MinPaymentsProtocol(m.cfg.Features)
	watchdogActive := m.IsWatchdogActive()
	now := m.cfg.Now()

	m.mtx.RLock()
	rec, ok := m.nodes[op]
	if !ok {
		m.mtx.RUnlock()
		return snode.Ineligibility{Reason: snode.IneligibleUnknown}
	}
	count := m.countForPaymentsLocked(minProtocol)
	result := m.eligibilityLocked(rec, tip, minProtocol, watchdogActive,
		filterSigTime, count, now)
	payee := rec.PayeeScript(m.cfg.Params)
	m.mtx.RUnlock()

	if result.IsEligible() && m.cfg.IsScheduled(payee, height) {
		return snode.Ineligibility{Reason: snode.IneligibleScheduled}
	}
	return result
}

// paymentCandidate is a node that passed the registry side payment filters.
type paymentCandidate struct {
	rec   snode.Record
	payee []byte
}

// NextInQueueForPayment elects the node owed the payment in the block at
// height.  It returns the elected node and the number of candidates that
// qualified.
//
// Candidates are ordered by the height they were last paid at.  Among the
// tenth of the registry that waited longest, the one with the highest score
// wins.  When fewer than a third of the registry qualifies with the sigtime
// filter enabled, the election is repeated without it.  Registries with
// fewer than ten nodes consider only the single longest waiting candidate.
func (m *Manager) NextInQueueForPayment(height int64, filterSigTime bool) (snode.Record, int, bool) {
	_, tip := m.cfg.Chain.BestBlock()
	minProtocol := snode.MinPaymentsProtocol(m.cfg.Features)
	watchdogActive := m.IsWatchdogActive()
	now := m.cfg.Now()

	m.mtx.RLock()
	count := m.countForPaymentsLocked(minProtocol)
	candidates := make([]paymentCandidate, 0, len(m.nodes))
	for _, rec := range m.nodes {
		result := m.eligibilityLocked(rec, tip, minProtocol, watchdogActive,
			filterSigTime, count, now)
		if !result.IsEligible() {
			continue
		}
		candidates = append(candidates, paymentCandidate{
			rec:   rec.Copy(),
			payee: rec.PayeeScript(m.cfg.Params),
		})
	}
	m.mtx.RUnlock()

	// The schedule lives in the ledger so it is consulted without holding
	// the registry lock.
	filtered := candidates[:0]
	for _, c := range candidates {
		if m.cfg.IsScheduled(c.payee, height) {
			continue
		}
		filtered = append(filtered, c)
	}
	candidates = filtered
	qualified := len(candidates)

	if filterSigTime && qualified < count/3 {
		log.Tracef("Only %d of %d nodes qualify for height %d, retrying "+
			"without the sigtime filter", qualified, count, height)
		return m.NextInQueueForPayment(height, false)
	}
	if qualified == 0 {
		return snode.Record{}, 0, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := &candidates[i].rec, &candidates[j].rec
		if a.LastPaidHeight != b.LastPaidHeight {
			return a.LastPaidHeight < b.LastPaidHeight
		}
		return compareOutPoints(&a.Outpoint, &b.Outpoint) < 0
	})

	blockHash, ok := m.scoreBlockHash(height)
	if !ok {
		return snode.Record{}, qualified, false
	}
	tenth := count / 10
	if tenth < 1 {
		tenth = 1
	}
	if tenth > qualified {
		tenth = qualified
	}
	best := 0
	var highest uint256.Uint256
	for i := 0; i < tenth; i++ {
		score := snode.Score(blockHash, &candidates[i].rec.Outpoint)
		if i == 0 || score.Gt(&highest) {
			highest = score
			best = i
		}
	}
	return candidates[best].rec, qualified, true
}

// UpdateLastPaid scans the blocks below tip for coinbase payments to every
// registered node.  A payment only counts when its payee collected enough
// votes for that block.  The first pass scans the whole ledger retention
// window and later passes only the most recent blocks unless this process
// is not a service node.
func (m *Manager) UpdateLastPaid(tip int64) {
	if !m.cfg.IsListSynced() {
		return
	}

	m.mtx.Lock()
	if len(m.nodes) == 0 {
		m.mtx.Unlock()
		return
	}
	firstRun := !m.lastPaidScanned
	m.lastPaidScanned = true
	lastPaid := make(map[string]int64, len(m.nodes))
	owners := make(map[string]wire.OutPoint, len(m.nodes))
	for op, rec := range m.nodes {
		payee := string(rec.PayeeScript(m.cfg.Params))
		lastPaid[payee] = rec.LastPaidHeight
		owners[payee] = op
	}
	m.mtx.Unlock()

	depth := int64(lastPaidScanBlocks)
	if firstRun || m.localOperatorKey() == nil {
		depth = defaultStorageLimit
		if m.cfg.StorageLimit != nil {
			depth = m.cfg.StorageLimit()
		}
	}

	type payment struct {
		height    int64
		blockTime int64
	}
	found := make(map[wire.OutPoint]payment)
	for height := tip; height > tip-depth && height > 0; height-- {
		payees := m.cfg.PayeesWithVotes(height, lastPaidMinVotes)
		var wanted [][]byte
		for _, payee := range payees {
			op, ok := owners[string(payee)]
			if !ok || height <= lastPaid[string(payee)] {
				continue
			}
			if _, done := found[op]; done {
				continue
			}
			wanted = append(wanted, payee)
		}
		if len(wanted) == 0 {
			continue
		}

		hash, err := m.cfg.Chain.BlockHashByHeight(height)
		if err != nil {
			continue
		}
		block, err := m.cfg.Chain.BlockByHash(hash)
		if err != nil || len(block.Transactions) == 0 {
			continue
		}
		var amount int64 = -1
		if m.cfg.PaymentAmount != nil {
			amount = m.cfg.PaymentAmount(height)
		}
		for _, payee := range wanted {
			for _, out := range block.Transactions[0].TxOut {
				if !bytes.Equal(out.PkScript, payee) {
					continue
				}
				if amount >= 0 && out.Value != amount {
					continue
				}
				found[owners[string(payee)]] = payment{
					height:    height,
					blockTime: block.Header.Timestamp.Unix(),
				}
				break
			}
		}
	}

	m.mtx.Lock()
	for op, p := range found {
		if rec, ok := m.nodes[op]; ok {
			rec.UpdateLastPaid(p.height, p.blockTime)
		}
	}
	m.mtx.Unlock()
	log.Debugf("Updated last paid heights of %d service %s", len(found),
		pickNoun(len(found), "node", "nodes"))
}
