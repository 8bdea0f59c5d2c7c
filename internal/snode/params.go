// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snode

import (
	"strconv"
	"time"

	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
)

// Timing, depth and reputation constants shared by every network.
const (
	// MinPingInterval is the minimum time between two pings of the same
	// node.  A node whose ping is older than this is pinged again by its
	// owner.
	MinPingInterval = 10 * time.Minute

	// MinBroadcastInterval is the minimum time between two relayed
	// broadcasts of the same node.
	MinBroadcastInterval = 5 * time.Minute

	// CheckInterval is the minimum time between two state evaluations of
	// the same record unless forced.
	CheckInterval = 5 * time.Second

	// ExpirationInterval is how long a node may go without a ping before
	// it is considered expired.
	ExpirationInterval = 65 * time.Minute

	// WatchdogMaxInterval is how long a node may go without a watchdog
	// vote while the watchdog is active.
	WatchdogMaxInterval = 120 * time.Minute

	// NewStartRequiredInterval is how long a node may go without a ping
	// before only a fresh broadcast can revive it.
	NewStartRequiredInterval = 180 * time.Minute

	// MaxFutureDrift is how far in the future a signature time may be.
	MaxFutureDrift = time.Hour

	// PoSeBanMaxScore is the proof of service score at which a node is
	// banned.  Scores saturate at this value in both directions.
	PoSeBanMaxScore = 5

	// PingBlockDepth is how many blocks below the tip the block a ping is
	// signed against is taken from.
	PingBlockDepth = 12

	// MaxPingBlockAge is the maximum depth below the tip of a block
	// referenced by a ping.
	MaxPingBlockAge = 24

	// CollateralConfirmations is the number of confirmations a collateral
	// output requires before the node it backs is accepted.
	CollateralConfirmations = 15

	// ScoreBlockOffset is how many blocks below a target height the block
	// hash used to score nodes for that height is taken from.
	ScoreBlockOffset = 101

	// CollateralCoins is the number of whole coins a collateral output must
	// hold.
	CollateralCoins = 1000
)

// Params houses the network dependent service node parameters.
type Params struct {
	// Net is the underlying chain parameters.
	Net *chaincfg.Params

	// Port is the default peer port of the network and MainNetPort the
	// default peer port of the main network.
	Port        uint16
	MainNetPort uint16

	// Collateral is the exact amount a collateral output must hold.
	Collateral dcrutil.Amount

	// MessageMagic is prefixed to every signed message.
	MessageMagic string

	// AllowPrivateAddrs permits announcing addresses that are not
	// publicly routable.  It is set for the regression and simulation
	// test networks.
	AllowPrivateAddrs bool

	// ThrottleListRequests enables misbehavior scoring of peers that ask
	// for the full registry more than once per throttle window.
	ThrottleListRequests bool
}

func parsePort(s string) uint16 {
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(port)
}

// NewParams returns the service node parameters for the given network.
func NewParams(net *chaincfg.Params) *Params {
	params := &Params{
		Net:          net,
		Port:         parsePort(net.DefaultPort),
		MainNetPort:  parsePort(chaincfg.MainNetParams().DefaultPort),
		Collateral:   dcrutil.Amount(CollateralCoins * dcrutil.AtomsPerCoin),
		MessageMagic: "Noir Signed Message:\n",
	}
	switch net.Net {
	case wire.MainNet:
		params.ThrottleListRequests = true
	case wire.RegNet, wire.SimNet:
		params.AllowPrivateAddrs = true
	}
	return params
}

// IsMainNet returns whether the parameters describe the main network.
func (p *Params) IsMainNet() bool {
	return p.Net.Net == wire.MainNet
}
