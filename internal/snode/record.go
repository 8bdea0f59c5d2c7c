// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snode

import (
	"bytes"
	"net/netip"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/math/uint256"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/snwire"
)

// Record is the state kept for one announced service node.  The identity
// never changes after creation.  Every other field is only changed through
// the methods below, which the registry calls after validating the message
// that caused the change.
type Record struct {
	Outpoint         wire.OutPoint
	Addr             netip.AddrPort
	CollateralKey    []byte
	OperatorKey      []byte
	LastPing         snwire.MsgSNPing
	Sig              []byte
	SigTime          int64
	ProtocolVersion  uint32
	State            State
	LastPaidHeight   int64
	LastPaidTime     int64
	PoSeBanScore     int32
	PoSeBanHeight    int64
	LastWatchdogVote int64
	CollateralHeight int64

	lastChecked time.Time
}

// NewRecord creates a record from a validated broadcast.
func NewRecord(b *snwire.MsgSNBroadcast) *Record {
	return &Record{
		Outpoint:         b.Outpoint,
		Addr:             b.Addr,
		CollateralKey:    bytes.Clone(b.CollateralKey),
		OperatorKey:      bytes.Clone(b.OperatorKey),
		LastPing:         b.LastPing,
		Sig:              bytes.Clone(b.Sig),
		SigTime:          b.SigTime,
		ProtocolVersion:  b.ProtocolVersion,
		State:            StateEnabled,
		LastWatchdogVote: b.SigTime,
	}
}

// Copy returns a deep copy of the record.  Readers outside the registry only
// ever see copies.
func (r *Record) Copy() Record {
	c := *r
	c.CollateralKey = bytes.Clone(r.CollateralKey)
	c.OperatorKey = bytes.Clone(r.OperatorKey)
	c.Sig = bytes.Clone(r.Sig)
	c.LastPing.Sig = bytes.Clone(r.LastPing.Sig)
	return c
}

// Broadcast reconstructs the broadcast that describes the record's current
// announcement, including its latest ping.
func (r *Record) Broadcast() *snwire.MsgSNBroadcast {
	return &snwire.MsgSNBroadcast{
		Outpoint:        r.Outpoint,
		Addr:            r.Addr,
		CollateralKey:   bytes.Clone(r.CollateralKey),
		OperatorKey:     bytes.Clone(r.OperatorKey),
		Sig:             bytes.Clone(r.Sig),
		SigTime:         r.SigTime,
		ProtocolVersion: r.ProtocolVersion,
		LastPing:        r.LastPing,
	}
}

// PayeeScript returns the script the node is paid to.
func (r *Record) PayeeScript(params *Params) []byte {
	script, err := PayToPubKeyHashScript(params, r.CollateralKey)
	if err != nil {
		return nil
	}
	return script
}

// IsPingedWithin returns whether the record's last ping was signed within d
// of now.
func (r *Record) IsPingedWithin(d time.Duration, now time.Time) bool {
	if r.LastPing.IsZero() {
		return false
	}
	return absDuration(now.Unix()-r.LastPing.SigTime) < d
}

// IsBroadcastedWithin returns whether the record's broadcast was signed
// within d of now.
func (r *Record) IsBroadcastedWithin(d time.Duration, now time.Time) bool {
	return absDuration(now.Unix()-r.SigTime) < d
}

func absDuration(secs int64) time.Duration {
	if secs < 0 {
		secs = -secs
	}
	return time.Duration(secs) * time.Second
}

// IncreasePoSeBanScore raises the proof of service score, saturating at the
// ban threshold.
func (r *Record) IncreasePoSeBanScore() {
	if r.PoSeBanScore < PoSeBanMaxScore {
		r.PoSeBanScore++
	}
}

// DecreasePoSeBanScore lowers the proof of service score, saturating at the
// negated ban threshold.
func (r *Record) DecreasePoSeBanScore() {
	if r.PoSeBanScore > -PoSeBanMaxScore {
		r.PoSeBanScore--
	}
}

// PoSeBan bans the record until the given height.
func (r *Record) PoSeBan(untilHeight int64) {
	r.State = StatePoSeBan
	r.PoSeBanScore = PoSeBanMaxScore
	r.PoSeBanHeight = untilHeight
}

// UpdateFromBroadcast replaces the announcement fields with those of a newer
// broadcast.  The embedded ping is only adopted when pingValid is set.  It
// reports whether the record changed.  Callers must not apply broadcasts to
// banned records.
func (r *Record) UpdateFromBroadcast(b *snwire.MsgSNBroadcast, pingValid bool) bool {
	if b.SigTime <= r.SigTime && !b.Recovery {
		return false
	}
	r.Addr = b.Addr
	r.CollateralKey = bytes.Clone(b.CollateralKey)
	r.OperatorKey = bytes.Clone(b.OperatorKey)
	r.Sig = bytes.Clone(b.Sig)
	r.SigTime = b.SigTime
	r.ProtocolVersion = b.ProtocolVersion
	r.PoSeBanScore = 0
	r.PoSeBanHeight = 0
	r.lastChecked = time.Time{}
	if pingValid && !b.LastPing.IsZero() {
		r.LastPing = b.LastPing
	}
	return true
}

// ApplyPing stores a validated ping as the latest one.
func (r *Record) ApplyPing(ping *snwire.MsgSNPing) {
	r.LastPing = *ping
	r.lastChecked = time.Time{}
}

// UpdateLastPaid records a payment found in the block at height.
func (r *Record) UpdateLastPaid(height int64, blockTime int64) {
	if height <= r.LastPaidHeight {
		return
	}
	r.LastPaidHeight = height
	r.LastPaidTime = blockTime
}

// CheckContext carries everything Check needs to know about the world
// outside the record.  It is assembled by the caller before any lock on the
// record is taken.
type CheckContext struct {
	Now            time.Time
	Height         int64
	Spent          bool
	MinProtocol    uint32
	IsLocal        bool
	ListSynced     bool
	WatchdogActive bool
	RegistrySize   int
	Force          bool
}

// Check re-evaluates the activation state of the record.  It returns the state
// the record was in before the evaluation.
//
// The ladder is evaluated top to bottom and the first matching rule decides
// the state.  A spent collateral is terminal.  A proof of service ban is only
// left through decay once the ban height has been reached.
func (r *Record) Check(ctx *CheckContext) State {
	prev := r.State
	if !ctx.Force && ctx.Now.Sub(r.lastChecked) < CheckInterval {
		return prev
	}
	r.lastChecked = ctx.Now

	if r.State == StateOutpointSpent {
		return prev
	}
	if ctx.Spent {
		r.State = StateOutpointSpent
		log.Debugf("Service node %v collateral is spent", r.Outpoint)
		return prev
	}

	switch {
	case r.State == StatePoSeBan:
		if ctx.Height < r.PoSeBanHeight {
			return prev
		}
		// Give the node another chance to go through the usual checks.
		r.DecreasePoSeBanScore()
	case r.PoSeBanScore >= PoSeBanMaxScore:
		r.PoSeBan(ctx.Height + int64(ctx.RegistrySize))
		log.Debugf("Service node %v is banned by proof of service until "+
			"height %d", r.Outpoint, r.PoSeBanHeight)
		return prev
	}

	requireUpdate := r.ProtocolVersion < ctx.MinProtocol ||
		(ctx.IsLocal && r.ProtocolVersion < snwire.ProtocolVersion)
	if requireUpdate {
		r.State = StateUpdateRequired
		return prev
	}

	// While the list is still syncing, nodes that have not been pinged
	// recently keep their state until a ping shows up, unless it is the
	// local node.
	waitForPing := !ctx.ListSynced && !r.IsPingedWithin(MinPingInterval, ctx.Now)
	if waitForPing && !ctx.IsLocal {
		switch r.State {
		case StateExpired, StateWatchdogExpired, StateNewStartRequired:
			return prev
		case StatePreEnabled, StateEnabled, StateOutpointSpent,
			StateUpdateRequired, StatePoSeBan:
		}
	}

	if !waitForPing || ctx.IsLocal {
		if !r.IsPingedWithin(NewStartRequiredInterval, ctx.Now) {
			r.State = StateNewStartRequired
			return prev
		}
		watchdogExpired := ctx.WatchdogActive &&
			ctx.Now.Unix()-r.LastWatchdogVote > int64(WatchdogMaxInterval/time.Second)
		if watchdogExpired {
			r.State = StateWatchdogExpired
			return prev
		}
		if !r.IsPingedWithin(ExpirationInterval, ctx.Now) {
			r.State = StateExpired
			return prev
		}
	}

	if time.Duration(r.LastPing.SigTime-r.SigTime)*time.Second < MinPingInterval {
		r.State = StatePreEnabled
		return prev
	}
	r.State = StateEnabled
	return prev
}

// Score returns the election score of the node identified by op for the
// block hash.  It is the absolute difference between the hash of the block
// hash alone and the hash of the block hash followed by a nonce derived from
// the collateral outpoint.
func Score(blockHash *chainhash.Hash, op *wire.OutPoint) uint256.Uint256 {
	opHash := [32]byte(op.Hash)
	var nonce uint256.Uint256
	nonce.SetBytesLE(&opHash)
	nonce.AddUint64(uint64(op.Index))
	var aux [32]byte
	nonce.PutBytesLE(&aux)

	buf := make([]byte, 0, chainhash.HashSize+len(aux))
	buf = append(buf, blockHash[:]...)
	buf = append(buf, aux[:]...)
	h2 := [32]byte(chainhash.HashH(blockHash[:]))
	h3 := [32]byte(chainhash.HashH(buf))

	var a, b uint256.Uint256
	a.SetBytesLE(&h2)
	b.SetBytesLE(&h3)
	if b.Gt(&a) {
		return *b.Sub(&a)
	}
	return *a.Sub(&b)
}
