// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/noirofficial/noir-sub000/internal/activenode"
	"github.com/noirofficial/noir-sub000/internal/banmanager"
	"github.com/noirofficial/noir-sub000/internal/fulfilled"
	"github.com/noirofficial/noir-sub000/internal/netsync"
	"github.com/noirofficial/noir-sub000/internal/payments"
	"github.com/noirofficial/noir-sub000/internal/registry"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/internal/snpeer"
	"github.com/noirofficial/noir-sub000/internal/snstore"
	"github.com/noirofficial/noir-sub000/snwire"
)

// maintenanceInterval is how often expired state is purged from the service
// node components.
const maintenanceInterval = time.Minute

// simpleAddr implements the net.Addr interface with two struct fields.
type simpleAddr struct {
	net, addr string
}

// String returns the address.
//
// This is part of the net.Addr interface.
func (a simpleAddr) String() string {
	return a.addr
}

// Network returns the network.
//
// This is part of the net.Addr interface.
func (a simpleAddr) Network() string {
	return a.net
}

// Ensure simpleAddr implements the net.Addr interface.
var _ net.Addr = simpleAddr{}

// staticFeatures provides the network feature switches from the
// configuration.
type staticFeatures struct {
	enforcement bool
	payUpdated  bool
	watchdog    bool
}

var _ snode.FeatureFlags = (*staticFeatures)(nil)

// PaymentEnforcement returns whether blocks must pay the elected node.
func (f *staticFeatures) PaymentEnforcement() bool { return f.enforcement }

// PayUpdatedNodes returns whether only nodes on the latest protocol are paid.
func (f *staticFeatures) PayUpdatedNodes() bool { return f.payUpdated }

// WatchdogRequired returns whether nodes must keep casting watchdog votes.
func (f *staticFeatures) WatchdogRequired() bool { return f.watchdog }

// server ties the service node components to the peer transport, the base
// node and the on-disk cache.
type server struct {
	cfg       *config
	params    *snode.Params
	chain     *rpcChain
	store     *snstore.Store
	requests  *fulfilled.Tracker
	banMgr    *banmanager.BanManager
	transport *snpeer.Transport
	registry  *registry.Manager
	ledger    *payments.Ledger
	syncer    *netsync.Coordinator
	active    *activenode.Controller

	// manageNow requests an immediate run of the local node state
	// management.
	manageNow chan struct{}
}

// parseListeners determines whether each listen address is IPv4 and IPv6 and
// returns a slice of appropriate net.Addrs to listen on with TCP. It also
// properly detects addresses which apply to "all interfaces" and adds the
// address as both IPv4 and IPv6.
func parseListeners(addrs []string) ([]net.Addr, error) {
	netAddrs := make([]net.Addr, 0, len(addrs)*2)
	for _, addr := range addrs {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			// Shouldn't happen due to already being normalized.
			return nil, err
		}

		// Empty host or host of * on plan9 is both IPv4 and IPv6.
		if host == "" || (host == "*" && runtime.GOOS == "plan9") {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp4", addr: addr})
			netAddrs = append(netAddrs, simpleAddr{net: "tcp6", addr: addr})
			continue
		}

		// Strip IPv6 zone id if present since net.ParseIP does not
		// handle it.
		if zoneIndex := strings.LastIndex(host, "%"); zoneIndex > 0 {
			host = host[:zoneIndex]
		}

		ip := net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("'%s' is not a valid IP address", host)
		}
		if ip.To4() == nil {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp6", addr: addr})
		} else {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp4", addr: addr})
		}
	}
	return netAddrs, nil
}

// initListeners opens a listener for every configured listen address.
// Addresses that can't be bound are skipped with a warning.
func initListeners(ctx context.Context, listenAddrs []string) ([]net.Listener, error) {
	netAddrs, err := parseListeners(listenAddrs)
	if err != nil {
		return nil, err
	}

	listeners := make([]net.Listener, 0, len(netAddrs))
	for _, addr := range netAddrs {
		var listenConfig net.ListenConfig
		listener, err := listenConfig.Listen(ctx, addr.Network(), addr.String())
		if err != nil {
			srvrLog.Warnf("Can't listen on %s: %v", addr, err)
			continue
		}
		listeners = append(listeners, listener)
	}
	if len(netAddrs) > 0 && len(listeners) == 0 {
		return nil, errors.New("no valid listen address")
	}
	return listeners, nil
}

// newServer creates the service node components described by the
// configuration and wires them together.  Use Run to start it.
func newServer(ctx context.Context, cfg *config) (*server, error) {
	params := cfg.params.sn
	s := &server{
		cfg:       cfg,
		params:    params,
		manageNow: make(chan struct{}, 1),
	}

	chain, err := newRPCChain(cfg)
	if err != nil {
		return nil, err
	}
	s.chain = chain

	if !cfg.NoDiskCache {
		store, err := snstore.Open(cfg.DataDir, cfg.params.Net)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	// Local test networks commonly run several nodes on one host, so keep
	// their requests apart by port.
	s.requests = fulfilled.New(&fulfilled.Config{
		AllowMultiplePorts: params.AllowPrivateAddrs,
	})
	s.banMgr = banmanager.NewBanManager(&banmanager.Config{
		DisableBanning: cfg.DisableBanning,
		BanThreshold:   cfg.BanThreshold,
		BanDuration:    cfg.BanDuration,
		MaxPeers:       cfg.MaxPeers,
		WhiteList:      cfg.whitelists,
	})

	listeners, err := initListeners(ctx, cfg.listenAddrs)
	if err != nil {
		s.closeStore()
		return nil, err
	}
	s.transport, err = snpeer.New(&snpeer.Config{
		Params:       params,
		Listeners:    listeners,
		ConnectPeers: cfg.connectPeers,
		BestHeight: func() int64 {
			_, height := chain.BestBlock()
			return height
		},
		OnPeerConnected:    s.peerConnected,
		OnPeerDisconnected: s.peerDisconnected,
		OnMessage:          s.handleMessage,
		OnBatch:            s.handleBatch,
		MaxPeers:           cfg.MaxPeers,
	})
	if err != nil {
		for _, l := range listeners {
			l.Close()
		}
		s.closeStore()
		return nil, err
	}

	features := &staticFeatures{
		enforcement: cfg.PaymentEnforcement,
		payUpdated:  cfg.PayUpdatedNodes,
		watchdog:    cfg.WatchdogRequired,
	}
	paymentAmount := func(int64) int64 { return int64(cfg.snReward) }

	// The controller is the local node of the registry and the ledger while
	// it needs the registry itself, so it is assigned once it exists.
	activeCfg := &activenode.Config{
		Params:       params,
		Chain:        chain,
		Transport:    s.transport,
		OperatorKey:  cfg.operatorKey,
		Listen:       len(listeners) > 0,
		ExternalAddr: cfg.externalAddr,
		LocalAddr: func(remote netip.AddrPort) (netip.AddrPort, bool) {
			return s.transport.LocalAddr(remote, params.Port)
		},
		Probe: s.transport.Probe,
		IsBlockchainSynced: func() bool {
			return s.syncer.IsBlockchainSynced()
		},
	}
	if cfg.collateral != nil {
		activeCfg.Wallet = newKeyWallet(params, chain, cfg.collateral,
			cfg.collateralKey)
	}
	s.active = activenode.New(activeCfg)

	s.registry = registry.New(&registry.Config{
		Params:    params,
		Chain:     chain,
		Features:  features,
		Transport: s.transport,
		Requests:  s.requests,
		Local:     s.active,
		IsScheduled: func(payee []byte, notHeight int64) bool {
			return s.ledger.IsScheduled(payee, notHeight)
		},
		PayeesWithVotes: func(height int64, minVotes int) [][]byte {
			return s.ledger.PayeesWithVotes(height, minVotes)
		},
		PaymentAmount: paymentAmount,
		StorageLimit: func() int64 {
			return s.ledger.StorageLimit()
		},
		IsListSynced: func() bool { return s.syncer.IsListSynced() },
		IsSynced:     func() bool { return s.syncer.IsSynced() },
		ListProgress: func() { s.syncer.ListProgress() },
	})
	activeCfg.Registry = s.registry

	s.ledger = payments.New(&payments.Config{
		Params:        params,
		Chain:         chain,
		Features:      features,
		Registry:      s.registry,
		Transport:     s.transport,
		Requests:      s.requests,
		Local:         s.active,
		PaymentAmount: paymentAmount,
		IsListSynced:  func() bool { return s.syncer.IsListSynced() },
		IsSynced:      func() bool { return s.syncer.IsSynced() },
		VoteProgress:  func() { s.syncer.PaymentVoteProgress() },
	})

	s.syncer = netsync.New(&netsync.Config{
		Params:    params,
		Chain:     chain,
		Transport: s.transport,
		Requests:  s.requests,
		Registry:  s.registry,
		Ledger:    s.ledger,
		Finished:  s.syncFinished,
	})

	return s, nil
}

// closeStore closes the on-disk cache, if any.
func (s *server) closeStore() {
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		srvrLog.Errorf("Unable to close service node cache: %v", err)
	}
}

// loadCaches restores the registry and the payment votes from the on-disk
// cache.
func (s *server) loadCaches() {
	if s.store == nil {
		return
	}
	recs, err := s.store.LoadRegistry()
	if err != nil {
		srvrLog.Warnf("Unable to load service node registry cache: %v", err)
	} else {
		s.registry.Restore(recs)
		srvrLog.Infof("Loaded %d service nodes from the cache", len(recs))
	}

	votes, err := s.store.LoadPayments()
	if err != nil {
		srvrLog.Warnf("Unable to load payment vote cache: %v", err)
		return
	}
	s.ledger.Restore(votes)
	srvrLog.Infof("Loaded %d payment votes from the cache", len(votes))
}

// saveCaches writes the registry and the payment votes to the on-disk cache
// and closes it.
func (s *server) saveCaches() {
	if s.store == nil {
		return
	}
	if err := s.store.SaveRegistry(s.registry.Snapshot()); err != nil {
		srvrLog.Errorf("Unable to store service node registry: %v", err)
	}
	if err := s.store.SavePayments(s.ledger.Snapshot()); err != nil {
		srvrLog.Errorf("Unable to store payment votes: %v", err)
	}
	s.closeStore()
}

// peerConnected is invoked by the transport once a peer completed the
// handshake.  Returning an error disconnects the peer.
func (s *server) peerConnected(p *snpeer.Peer) error {
	if err := s.banMgr.AddPeer(p); err != nil {
		return err
	}
	srvrLog.Debugf("New peer %v", p)
	return nil
}

// peerDisconnected is invoked by the transport when a peer is gone.
func (s *server) peerDisconnected(p *snpeer.Peer) {
	s.banMgr.RemovePeer(p)
	srvrLog.Debugf("Peer %v disconnected", p)
}

// handleRuleError raises the ban score of the peer that sent a message
// rejected with err.
func (s *server) handleRuleError(p *snpeer.Peer, cmd string, err error) {
	if err == nil {
		return
	}
	score := snode.BanScore(err)
	if score == 0 {
		srvrLog.Debugf("Rejected %s from %v: %v", cmd, p, err)
		return
	}
	reason := fmt.Sprintf("%s: %v", cmd, err)
	s.banMgr.AddBanScore(p, score, 0, reason)
}

// handleMessage dispatches a message received from a peer to the component
// that handles it.
func (s *server) handleMessage(p *snpeer.Peer, msg snwire.Message) {
	// Registry messages are meaningless until the base chain caught up.
	switch msg.(type) {
	case *snwire.MsgSNBroadcast, *snwire.MsgSNPing, *snwire.MsgSNListRequest,
		*snwire.MsgVerifyChallenge, *snwire.MsgVerifyResponse,
		*snwire.MsgVerifyBroadcast:

		if !s.syncer.IsBlockchainSynced() {
			return
		}
	}

	var err error
	switch m := msg.(type) {
	case *snwire.MsgSNBroadcast:
		_, err = s.registry.AddOrUpdate(p, m)

	case *snwire.MsgSNPing:
		_, err = s.registry.ApplyPing(p, m)

	case *snwire.MsgSNListRequest:
		err = s.registry.HandleListRequest(p, m)

	case *snwire.MsgPaymentVote:
		_, err = s.ledger.AddVote(p, m)

	case *snwire.MsgPaymentSyncRequest:
		err = s.ledger.HandleSyncRequest(p, m)

	case *snwire.MsgGetPaymentBlocks:
		s.ledger.HandleBlocksRequest(p, m)

	case *snwire.MsgSyncStatus:
		s.syncer.SyncStatusCount(p, m.Item, m.Count)

	case *snwire.MsgVerifyChallenge:
		err = s.registry.SendVerifyReply(p, m)

	case *snwire.MsgVerifyResponse:
		err = s.registry.ProcessVerifyReply(p, m)

	case *snwire.MsgVerifyBroadcast:
		err = s.registry.ProcessVerifyBroadcast(p, m)

	case *snwire.MsgGetSporks:
		// Feature switches are static configuration, so there is nothing
		// to announce.

	default:
		srvrLog.Debugf("Ignoring %s message from %v", msg.Command(), p)
	}
	s.handleRuleError(p, msg.Command(), err)
}

// handleBatch dispatches messages received together from a peer.  Registry
// broadcasts and pings are applied as one batch so a ping can refer to a
// broadcast that arrived after it.  Everything else is handled in order.
func (s *server) handleBatch(p *snpeer.Peer, msgs []snwire.Message) {
	var list []snwire.Message
	for _, msg := range msgs {
		switch msg.(type) {
		case *snwire.MsgSNBroadcast, *snwire.MsgSNPing:
			list = append(list, msg)
		default:
			s.handleMessage(p, msg)
		}
	}
	switch {
	case len(list) == 0:
		return
	case len(list) == 1:
		s.handleMessage(p, list[0])
		return
	case !s.syncer.IsBlockchainSynced():
		return
	}

	_, err := s.registry.ProcessBatch(p, list)
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		s.handleRuleError(p, "batch", err)
		return
	}
	for _, err := range joined.Unwrap() {
		s.handleRuleError(p, "batch", err)
	}
}

// blockConnected notifies the components about a newly connected block.
func (s *server) blockConnected(height int64) {
	s.syncer.BlockConnected(height)
	s.registry.UpdateLastPaid(height)
	s.ledger.BlockConnected(height)
}

// syncFinished is invoked by the sync coordinator when the sync finished.
// The local node state is managed from the maintenance goroutine so the sync
// ticker is not held up by it.
func (s *server) syncFinished() {
	select {
	case s.manageNow <- struct{}{}:
	default:
	}
}

// maintenanceHandler purges expired state and drives proof of service
// verification until the provided context is cancelled.
//
// It must be run as a goroutine.
func (s *server) maintenanceHandler(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !s.syncer.IsBlockchainSynced() {
				continue
			}
			s.registry.CheckAndRemove(ctx)
			s.ledger.CheckAndRemove()
			s.requests.CheckAndRemove()
			if s.syncer.IsSynced() {
				s.registry.DoFullVerificationStep()
			}

		case <-s.manageNow:
			s.active.ManageState()

		case <-ctx.Done():
			return
		}
	}
}

// Run starts the server and blocks until the provided context is cancelled.
// The registry and the payment votes are stored on the way out.
func (s *server) Run(ctx context.Context) {
	srvrLog.Trace("Starting server")
	s.loadCaches()

	var wg sync.WaitGroup
	wg.Add(5)
	go func() {
		s.chain.Run(ctx, s.blockConnected)
		wg.Done()
	}()
	go func() {
		s.transport.Run(ctx)
		wg.Done()
	}()
	go func() {
		s.syncer.Run(ctx)
		wg.Done()
	}()
	go func() {
		s.active.Run(ctx)
		wg.Done()
	}()
	go func() {
		s.maintenanceHandler(ctx)
		wg.Done()
	}()

	<-ctx.Done()
	srvrLog.Warnf("Server shutting down")
	wg.Wait()
	s.saveCaches()
	srvrLog.Trace("Server stopped")
}
