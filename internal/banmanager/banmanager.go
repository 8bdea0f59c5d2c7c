// Copyright (c) 2021-2023 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package banmanager tracks the misbehavior of connected service node peers
// and bans the hosts of peers whose score exceeds a threshold.
package banmanager

import (
	"errors"
	"fmt"
	"net/netip"
	"runtime/debug"
	"sync"
	"time"

	"github.com/decred/dcrd/connmgr/v3"
)

// ErrBanned is returned by AddPeer for a peer whose host is banned.
var ErrBanned = errors.New("peer is banned")

// Peer is a connected peer as seen by the ban manager.
type Peer interface {
	// ID returns the unique identifier of the peer connection.
	ID() int32

	// Addr returns the remote address of the peer.
	Addr() netip.AddrPort

	// Inbound returns whether the peer connected to us.
	Inbound() bool

	// Disconnect closes the connection to the peer.
	Disconnect()
}

// Config is the configuration struct for the ban manager.
type Config struct {
	// DisableBanning represents the status of disabling banning of
	// misbehaving peers.
	DisableBanning bool

	// BanThreshold represents the ban score at which misbehaving peers
	// are disconnected and banned.
	BanThreshold uint32

	// BanDuration is the duration for which misbehaving peers stay banned for.
	BanDuration time.Duration

	// MaxPeers indicates the maximum number of inbound and outbound
	// peers allowed.
	MaxPeers int

	// WhiteList holds the networks whose peers are never banned.
	WhiteList []netip.Prefix

	// Now returns the current time.  It defaults to time.Now.
	Now func() time.Time
}

// banMgrPeer extends a peer to maintain additional state maintained by the
// ban manager.
type banMgrPeer struct {
	Peer

	isWhitelisted bool
	banScore      connmgr.DynamicBanScore
}

// BanManager represents a peer ban score tracking manager.
type BanManager struct {
	cfg    Config
	peers  map[int32]*banMgrPeer
	banned map[netip.Addr]time.Time
	mtx    sync.Mutex
}

// NewBanManager initializes a new peer banning manager.
func NewBanManager(cfg *Config) *BanManager {
	c := *cfg
	if c.Now == nil {
		c.Now = time.Now
	}
	return &BanManager{
		cfg:    c,
		peers:  make(map[int32]*banMgrPeer, cfg.MaxPeers),
		banned: make(map[netip.Addr]time.Time, cfg.MaxPeers),
	}
}

// host returns the address a ban applies to.
func host(addr netip.AddrPort) netip.Addr {
	return addr.Addr().Unmap()
}

func directionString(inbound bool) string {
	if inbound {
		return "inbound"
	}
	return "outbound"
}

// lookupPeer returns the ban manager peer that maintains additional state for
// a given base peer.  In the event the mapping does not exist, a warning is
// logged and nil is returned.
//
// This function MUST be called with the ban manager mutex locked (for reads).
func (bm *BanManager) lookupPeer(p Peer) *banMgrPeer {
	bmp, ok := bm.peers[p.ID()]
	if !ok {
		log.Warnf("Attempt to lookup unknown peer %v (id %d)\nStack: %v",
			p.Addr(), p.ID(), string(debug.Stack()))
		return nil
	}

	return bmp
}

// isWhitelisted returns whether addr belongs to a whitelisted network.
func (bm *BanManager) isWhitelisted(addr netip.AddrPort) bool {
	ip := host(addr)
	for _, prefix := range bm.cfg.WhiteList {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

// IsPeerWhitelisted checks if the provided peer is whitelisted.
func (bm *BanManager) IsPeerWhitelisted(p Peer) bool {
	bm.mtx.Lock()
	bmp := bm.lookupPeer(p)
	bm.mtx.Unlock()
	if bmp == nil {
		return false
	}

	return bmp.isWhitelisted
}

// IsBanned returns whether the host of addr is currently banned.  Expired bans
// are lifted.
func (bm *BanManager) IsBanned(addr netip.AddrPort) bool {
	ip := host(addr)
	now := bm.cfg.Now()

	bm.mtx.Lock()
	defer bm.mtx.Unlock()
	banEnd, ok := bm.banned[ip]
	if !ok {
		return false
	}
	if now.Before(banEnd) {
		return true
	}
	log.Infof("Peer %v is no longer banned", ip)
	delete(bm.banned, ip)
	return false
}

// AddPeer adds the provided peer to the ban manager.  A peer whose host is
// banned is disconnected and ErrBanned is returned.
func (bm *BanManager) AddPeer(p Peer) error {
	if bm.IsBanned(p.Addr()) {
		p.Disconnect()
		bm.mtx.Lock()
		banEnd := bm.banned[host(p.Addr())]
		bm.mtx.Unlock()
		return fmt.Errorf("%w: %v for another %v", ErrBanned, host(p.Addr()),
			banEnd.Sub(bm.cfg.Now()))
	}

	bmp := &banMgrPeer{
		Peer:          p,
		isWhitelisted: bm.isWhitelisted(p.Addr()),
	}

	bm.mtx.Lock()
	bm.peers[p.ID()] = bmp
	bm.mtx.Unlock()

	return nil
}

// RemovePeer discards the provided peer from the ban manager.
func (bm *BanManager) RemovePeer(p Peer) {
	bm.mtx.Lock()
	delete(bm.peers, p.ID())
	bm.mtx.Unlock()
}

// BanPeer bans the host of the provided peer and disconnects it.
func (bm *BanManager) BanPeer(p Peer) {
	// Return immediately if banning is disabled.
	if bm.cfg.DisableBanning {
		return
	}

	bm.mtx.Lock()
	bmp := bm.lookupPeer(p)
	bm.mtx.Unlock()
	if bmp == nil {
		return
	}

	// Return if the peer is whitelisted.
	if bmp.isWhitelisted {
		return
	}

	ip := host(p.Addr())
	log.Infof("Banned peer %v (%s) for %v", ip, directionString(p.Inbound()),
		bm.cfg.BanDuration)

	bm.mtx.Lock()
	bm.banned[ip] = bm.cfg.Now().Add(bm.cfg.BanDuration)
	bm.mtx.Unlock()

	p.Disconnect()
	bm.RemovePeer(p)
}

// AddBanScore increases the persistent and decaying ban scores of the
// provided peer by the values passed as parameters. If the resulting score
// exceeds half of the ban threshold, a warning is logged including the reason
// provided. Further, once the score reaches the ban threshold, the peer will
// be banned.
func (bm *BanManager) AddBanScore(p Peer, persistent, transient uint32, reason string) bool {
	// No warning is logged and no score is calculated if banning is disabled.
	if bm.cfg.DisableBanning {
		return false
	}

	bm.mtx.Lock()
	bmp := bm.lookupPeer(p)
	bm.mtx.Unlock()
	if bmp == nil {
		return false
	}

	if bmp.isWhitelisted {
		log.Debugf("Misbehaving whitelisted peer %v: %s", p.Addr(), reason)
		return false
	}

	banScore := bmp.banScore.Int()
	warnThreshold := bm.cfg.BanThreshold >> 1
	if transient == 0 && persistent == 0 {
		// The score is not being increased, but a warning message is still
		// logged if the score is above the warn threshold.
		if banScore > warnThreshold {
			log.Warnf("Misbehaving peer %v: %s -- ban score is %d, "+
				"it was not increased this time", p.Addr(), reason, banScore)
		}
		return false
	}

	banScore = bmp.banScore.Increase(persistent, transient)
	if banScore > warnThreshold {
		log.Warnf("Misbehaving peer %v: %s -- ban score increased to %d",
			p.Addr(), reason, banScore)
		if banScore >= bm.cfg.BanThreshold {
			log.Warnf("Misbehaving peer %v -- banning and disconnecting",
				p.Addr())
			bm.BanPeer(p)
			return true
		}
	}

	return false
}

// BanScore returns the ban score of the provided peer.
func (bm *BanManager) BanScore(p Peer) uint32 {
	bm.mtx.Lock()
	bmp := bm.lookupPeer(p)
	bm.mtx.Unlock()
	if bmp == nil {
		return 0
	}
	return bmp.banScore.Int()
}
