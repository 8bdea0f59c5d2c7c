// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2021 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netsync

import (
	"context"
	"sync"
	"time"

	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/progresslog"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/snwire"
)

// Stage identifies a stage of the service node sync.
type Stage int32

// These constants define the sync stages in the order they are passed.
const (
	StageFailed       Stage = -1
	StageInitial      Stage = 0
	StageSporks       Stage = 1
	StageList         Stage = 2
	StagePaymentVotes Stage = 3
	StageFinished     Stage = 999
)

// String returns the stage as a human-readable name.
func (s Stage) String() string {
	switch s {
	case StageFailed:
		return "FAILED"
	case StageInitial:
		return "INITIAL"
	case StageSporks:
		return "SPORKS"
	case StageList:
		return "LIST"
	case StagePaymentVotes:
		return "PAYMENT_VOTES"
	case StageFinished:
		return "FINISHED"
	}
	return "UNKNOWN"
}

const (
	// TickInterval is the interval the coordinator advances at.
	TickInterval = 6 * time.Second

	// StageTimeout is how long a stage may go without progress.
	StageTimeout = 30 * time.Second

	// FailureCooldown is how long a failed sync waits before it restarts.
	FailureCooldown = time.Minute

	// StallResetInterval is the gap between two ticks after which the sync
	// starts over, for instance after the host was suspended.
	StallResetInterval = time.Hour

	// EnoughPeers is the number of peers at the local height needed to
	// consider the chain synced.
	EnoughPeers = 3

	// requestsPerStage is the number of requests per stage assumed when
	// estimating the sync progress.
	requestsPerStage = 8
)

// Request kinds recorded with the request tracker for peers that were sent a
// sync request.
const (
	reqSporkSync   = "spork-sync"
	reqListSync    = "sn-list-sync"
	reqPaymentSync = "sn-payment-sync"
	reqFullSync    = "full-sync"
)

// Config is a descriptor containing the coordinator configuration.
type Config struct {
	// Params identifies the network the coordinator syncs on.
	Params *snode.Params

	// Chain is the view of the base chain.
	Chain snode.ChainView

	// Transport provides the connected peers.
	Transport snode.Transport

	// Requests remembers which peers were already asked for each stage.
	Requests snode.RequestTracker

	// Registry and Ledger are the components being synced.
	Registry Registry
	Ledger   Ledger

	// Finished is invoked once every time the sync finishes.
	Finished func()

	// Now returns the current adjusted time.  It defaults to time.Now.
	Now func() time.Time
}

// Coordinator drives the service node bootstrap sync.  It is safe for
// concurrent access.
//
// The coordinator lock is never held while calling into the chain view.  It
// is held while calling into the ledger and the registry, which never call
// back into the coordinator while holding their own locks.
type Coordinator struct {
	cfg            Config
	progressLogger *progresslog.Logger

	mtx        sync.Mutex
	stage      Stage
	attempts   int
	retried    bool
	progressed bool
	lastList   time.Time
	lastVote   time.Time
	lastFailed time.Time
	lastTick   time.Time

	// These fields track whether the base chain is considered synced.
	chainSynced       bool
	firstBlockSeen    bool
	lastChainEvaluate time.Time
}

// New returns a new coordinator in the initial stage.  Use Run to start
// ticking it.
func New(cfg *Config) *Coordinator {
	c := &Coordinator{
		cfg:            *cfg,
		progressLogger: progresslog.New("Received", log),
	}
	if c.cfg.Now == nil {
		c.cfg.Now = time.Now
	}
	if c.cfg.Finished == nil {
		c.cfg.Finished = func() {}
	}
	c.resetLocked(c.cfg.Now())
	return c
}

// resetLocked moves the sync back to the initial stage.
//
// This function MUST be called with the lock held (for writes).
func (c *Coordinator) resetLocked(now time.Time) {
	c.stage = StageInitial
	c.attempts = 0
	c.retried = false
	c.progressed = false
	c.lastList = now
	c.lastVote = now
	c.lastFailed = time.Time{}
}

// Reset restarts the sync from the initial stage.
func (c *Coordinator) Reset() {
	now := c.cfg.Now()
	c.mtx.Lock()
	c.resetLocked(now)
	c.mtx.Unlock()
	log.Infof("Service node sync reset")
}

// clearRequestsLocked forgets which peers were asked during the current sync.
//
// This function MUST be called with the lock held (for writes).
func (c *Coordinator) clearRequestsLocked(peers []snode.Peer) {
	for _, peer := range peers {
		addr := peer.Addr()
		c.cfg.Requests.RemoveFulfilledRequest(addr, reqSporkSync)
		c.cfg.Requests.RemoveFulfilledRequest(addr, reqListSync)
		c.cfg.Requests.RemoveFulfilledRequest(addr, reqPaymentSync)
		c.cfg.Requests.RemoveFulfilledRequest(addr, reqFullSync)
	}
}

// nextStageLocked advances the sync to the stage following the current one.
// It returns whether the sync just finished.
//
// This function MUST be called with the lock held (for writes).
func (c *Coordinator) nextStageLocked(peers []snode.Peer, now time.Time) bool {
	prev := c.stage
	switch c.stage {
	case StageFailed, StageFinished:
		return false
	case StageInitial:
		c.clearRequestsLocked(peers)
		c.stage = StageSporks
	case StageSporks:
		c.lastList = now
		c.stage = StageList
	case StageList:
		c.lastVote = now
		c.stage = StagePaymentVotes
	case StagePaymentVotes:
		c.stage = StageFinished
	}
	c.attempts = 0
	c.retried = false
	c.progressed = false
	log.Infof("Service node sync stage %v completed, starting %v", prev,
		c.stage)
	return c.stage == StageFinished
}

// failLocked marks the sync as failed.
//
// This function MUST be called with the lock held (for writes).
func (c *Coordinator) failLocked(now time.Time) {
	log.Warnf("Service node sync failed in stage %v after %d %s, retrying "+
		"in %v", c.stage, c.attempts, pickNoun(c.attempts, "request",
		"requests"), FailureCooldown)
	c.stage = StageFailed
	c.lastFailed = now
}

// stageTimedOutLocked applies the timeout policy to the current stage.  A
// stage that made progress is completed.  A stage that sent no requests
// fails.  Otherwise the stage is retried once with every peer eligible again
// and fails after that.  It returns whether the sync just finished.
//
// This function MUST be called with the lock held (for writes).
func (c *Coordinator) stageTimedOutLocked(peers []snode.Peer, now time.Time,
	request string) bool {

	switch {
	case c.progressed:
		return c.nextStageLocked(peers, now)

	case c.attempts == 0:
		c.failLocked(now)

	case !c.retried:
		log.Infof("Service node sync stage %v timed out without progress "+
			"after %d %s, retrying", c.stage, c.attempts,
			pickNoun(c.attempts, "request", "requests"))
		c.retried = true
		c.attempts = 0
		for _, peer := range peers {
			c.cfg.Requests.RemoveFulfilledRequest(peer.Addr(), request)
		}
		c.lastList = now
		c.lastVote = now

	default:
		c.failLocked(now)
	}
	return false
}

// evaluateChainLocked returns whether the base chain is considered synced.
// The result is sticky until a block is connected during the sync and is
// evaluated at most once per tick interval.
//
// This function MUST be called with the lock held (for writes).
func (c *Coordinator) evaluateChainLocked(now time.Time, peers []snode.Peer,
	tip int64, current bool) bool {

	if c.cfg.Params.Net.Net == wire.RegNet {
		return true
	}
	if now.Sub(c.lastChainEvaluate) < TickInterval {
		return c.chainSynced
	}
	c.lastChainEvaluate = now
	if c.chainSynced {
		return true
	}

	if len(peers) >= EnoughPeers {
		var atHeight int
		for _, peer := range peers {
			diff := peer.LastBlock() - tip
			if diff >= -1 && diff <= 1 {
				atHeight++
			}
		}
		if atHeight >= EnoughPeers {
			log.Infof("Chain considered synced with %d peers at height %d",
				atHeight, tip)
			c.chainSynced = true
			return true
		}
	}

	if !c.firstBlockSeen {
		return false
	}
	c.chainSynced = current
	return current
}

// tickLocked advances the sync by one tick.  It returns whether the sync just
// finished.
//
// This function MUST be called with the lock held (for writes).
func (c *Coordinator) tickLocked(now time.Time, peers []snode.Peer, tip int64,
	current bool) bool {

	if !c.lastTick.IsZero() && now.Sub(c.lastTick) > StallResetInterval {
		log.Infof("No service node sync tick for %v, starting over",
			now.Sub(c.lastTick))
		c.lastTick = now
		c.resetLocked(now)
		c.chainSynced = false
		c.lastChainEvaluate = time.Time{}
		return c.nextStageLocked(peers, now)
	}
	c.lastTick = now

	switch c.stage {
	case StageFailed:
		if now.Sub(c.lastFailed) >= FailureCooldown {
			log.Infof("Restarting the failed service node sync")
			c.resetLocked(now)
		}
		return false

	case StageFinished:
		return false

	case StageInitial:
		c.nextStageLocked(peers, now)
	}

	chainSynced := c.evaluateChainLocked(now, peers, tip, current)
	switch {
	case c.stage == StageSporks && chainSynced:
		c.nextStageLocked(peers, now)

	case !chainSynced:
		// Stages past the feature flags wait for the chain without
		// timing out.
		c.lastList = now
		c.lastVote = now

	case c.stage == StageList && now.Sub(c.lastList) > StageTimeout:
		return c.stageTimedOutLocked(peers, now, reqListSync)

	case c.stage == StagePaymentVotes && now.Sub(c.lastVote) > StageTimeout:
		return c.stageTimedOutLocked(peers, now, reqPaymentSync)

	case c.stage == StagePaymentVotes && c.attempts > 1 &&
		c.cfg.Ledger.IsEnoughData():

		return c.nextStageLocked(peers, now)
	}

	for _, peer := range peers {
		addr := peer.Addr()
		if c.cfg.Requests.HasFulfilledRequest(addr, reqFullSync) {
			continue
		}
		if !c.cfg.Requests.HasFulfilledRequest(addr, reqSporkSync) {
			c.cfg.Requests.AddFulfilledRequest(addr, reqSporkSync)
			peer.QueueMessage(&snwire.MsgGetSporks{})
		}
		if !chainSynced {
			continue
		}

		// Only a single peer is asked for the list or the votes per
		// tick to spread the load.
		switch c.stage {
		case StageList:
			if c.cfg.Requests.HasFulfilledRequest(addr, reqListSync) {
				continue
			}
			c.cfg.Requests.AddFulfilledRequest(addr, reqListSync)
			if !c.cfg.Registry.RequestList(peer) {
				continue
			}
			c.attempts++
			return false

		case StagePaymentVotes:
			if c.cfg.Requests.HasFulfilledRequest(addr, reqPaymentSync) {
				continue
			}
			c.cfg.Requests.AddFulfilledRequest(addr, reqPaymentSync)
			limit := c.cfg.Ledger.StorageLimit()
			peer.QueueMessage(&snwire.MsgPaymentSyncRequest{
				Count: uint32(limit),
			})
			n := c.cfg.Ledger.RequestLowDataPaymentBlocks(peer)
			log.Debugf("Asked %v for payment votes and %d low data %s",
				addr, n, pickNoun(n, "height", "heights"))
			c.attempts++
			return false
		}
	}
	return false
}

// Tick advances the sync state machine.  It is invoked every TickInterval by
// Run.
func (c *Coordinator) Tick() {
	// The chain view is queried before the lock is taken.
	now := c.cfg.Now()
	peers := c.cfg.Transport.Peers()
	_, tip := c.cfg.Chain.BestBlock()
	current := c.cfg.Chain.IsCurrent()

	c.mtx.Lock()
	finished := c.tickLocked(now, peers, tip, current)
	c.mtx.Unlock()

	if finished {
		for _, peer := range peers {
			c.cfg.Requests.AddFulfilledRequest(peer.Addr(), reqFullSync)
		}
		c.progressLogger.LogProgress(0, 0, true, StageFinished.String(),
			c.Progress)
		log.Infof("Service node sync finished")
		c.cfg.Finished()
	}
}

// Run ticks the coordinator until the provided context is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	log.Trace("Starting service node sync coordinator")
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Tick()
		case <-ctx.Done():
			log.Trace("Service node sync coordinator stopped")
			return
		}
	}
}

// ListProgress signals that a registry entry was received.
func (c *Coordinator) ListProgress() {
	now := c.cfg.Now()
	c.mtx.Lock()
	c.lastList = now
	if c.stage == StageList {
		c.progressed = true
	}
	stage := c.stage
	c.mtx.Unlock()

	if stage != StageFinished {
		c.progressLogger.LogProgress(1, 0, false, stage.String(), c.Progress)
	}
}

// PaymentVoteProgress signals that a payment vote was received.
func (c *Coordinator) PaymentVoteProgress() {
	now := c.cfg.Now()
	c.mtx.Lock()
	c.lastVote = now
	if c.stage == StagePaymentVotes {
		c.progressed = true
	}
	stage := c.stage
	c.mtx.Unlock()

	if stage != StageFinished {
		c.progressLogger.LogProgress(0, 1, false, stage.String(), c.Progress)
	}
}

// BlockConnected signals that a block was connected to the base chain.  While
// the sync is in progress a new block means the chain is still catching up.
func (c *Coordinator) BlockConnected(height int64) {
	now := c.cfg.Now()
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.stage == StageFinished {
		return
	}
	c.firstBlockSeen = true
	c.chainSynced = false
	c.lastChainEvaluate = now
	log.Tracef("Block %d connected during the service node sync", height)
}

// SyncStatusCount records the number of items of a sync stage a peer reports
// it sent.
func (c *Coordinator) SyncStatusCount(peer snode.Peer, item int32, count uint32) {
	c.mtx.Lock()
	stage := c.stage
	c.mtx.Unlock()
	if stage == StageFinished || stage == StageFailed {
		return
	}
	log.Debugf("Peer %v sent %d items of stage %v", peer.Addr(), count,
		Stage(item))
}

// Stage returns the current sync stage.
func (c *Coordinator) Stage() Stage {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.stage
}

// StageName returns the name of the current sync stage.
func (c *Coordinator) StageName() string {
	return c.Stage().String()
}

// Progress returns a coarse estimate of the sync progress between 0 and 1.
func (c *Coordinator) Progress() float64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	switch c.stage {
	case StageFinished:
		return 1
	case StageFailed, StageInitial:
		return 0
	}
	done := c.attempts + (int(c.stage)-1)*requestsPerStage
	return min(float64(done)/(requestsPerStage*4), 1)
}

// IsListSynced returns whether the registry finished syncing.
func (c *Coordinator) IsListSynced() bool {
	stage := c.Stage()
	return stage == StagePaymentVotes || stage == StageFinished
}

// IsSynced returns whether the whole sync finished.
func (c *Coordinator) IsSynced() bool {
	return c.Stage() == StageFinished
}

// IsFailed returns whether the sync failed and waits to restart.
func (c *Coordinator) IsFailed() bool {
	return c.Stage() == StageFailed
}

// IsBlockchainSynced returns whether the base chain is considered synced.
func (c *Coordinator) IsBlockchainSynced() bool {
	if c.cfg.Params.Net.Net == wire.RegNet {
		return true
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.chainSynced
}

// pickNoun returns the singular or plural form of a noun depending on the count
// n.
func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
