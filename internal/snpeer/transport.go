// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snpeer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/connmgr/v3"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/snwire"
)

const (
	// handshakeTimeout is the duration the remote side has to send its
	// version message after the connection is established.
	handshakeTimeout = 30 * time.Second

	// connectionRetryInterval is the base duration between attempts to
	// reconnect to a permanent peer.
	connectionRetryInterval = 5 * time.Second

	// dialTimeout bounds outbound connection attempts and probes.
	dialTimeout = 5 * time.Second

	// defaultMaxPeers is the maximum number of peers when the config does
	// not specify one.
	defaultMaxPeers = 125

	// maxPendingMessages is the maximum number of messages queued for an
	// address while the connection to it is being established.
	maxPendingMessages = 16

	// pendingTimeout is the duration after which messages queued for an
	// address that never connected are discarded.
	pendingTimeout = time.Minute

	// maxBatchMessages is the maximum number of messages delivered to
	// OnBatch at once.
	maxBatchMessages = 500
)

// ErrNotRunning is returned when an outbound connection is requested before
// Run was called or after it returned.
var ErrNotRunning = errors.New("transport is not running")

// Config is the configuration of the service node transport.
type Config struct {
	// Params identifies the network.  Its magic value frames every message.
	Params *snode.Params

	// Listeners are the listeners inbound peers are accepted on.
	Listeners []net.Listener

	// ConnectPeers are addresses of peers that are always kept connected.
	ConnectPeers []netip.AddrPort

	// Dial connects to the given address.  It defaults to a net.Dialer.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)

	// BestHeight returns the height of the local best block which is
	// announced in the version message.
	BestHeight func() int64

	// OnPeerConnected is invoked after the handshake with a new peer
	// completed.  The peer is disconnected when it returns an error.
	OnPeerConnected func(p *Peer) error

	// OnPeerDisconnected is invoked once for each peer that completed the
	// handshake after it disconnected.
	OnPeerDisconnected func(p *Peer)

	// OnMessage is invoked for every message received from a peer.  Calls
	// for a single peer are serialized.
	OnMessage func(p *Peer, msg snwire.Message)

	// OnBatch is invoked instead of OnMessage with every message that was
	// already received when the first of them was read, in arrival order.
	// Messages are delivered one at a time through OnMessage when it is
	// nil.
	OnBatch func(p *Peer, msgs []snwire.Message)

	// MaxPeers is the maximum number of connected peers.
	MaxPeers int
}

// pendingSend holds messages to be sent once an outbound connection to an
// address is established.
type pendingSend struct {
	msgs  []snwire.Message
	added time.Time
}

// Transport maintains the service node peer connections.  It implements
// snode.Transport and is safe for concurrent access.
type Transport struct {
	cfg     Config
	connMgr *connmgr.ConnManager
	nextID  atomic.Int32
	wg      sync.WaitGroup

	mtx     sync.Mutex
	ctx     context.Context
	peers   map[int32]*Peer
	pending map[netip.AddrPort]*pendingSend
}

var _ snode.Transport = (*Transport)(nil)

// New returns a new transport with the given configuration.  Use Run to start
// accepting and making connections.
func New(cfg *Config) (*Transport, error) {
	t := &Transport{
		cfg:     *cfg,
		peers:   make(map[int32]*Peer),
		pending: make(map[netip.AddrPort]*pendingSend),
	}
	if t.cfg.Dial == nil {
		var dialer net.Dialer
		t.cfg.Dial = dialer.DialContext
	}
	if t.cfg.BestHeight == nil {
		t.cfg.BestHeight = func() int64 { return 0 }
	}
	if t.cfg.MaxPeers <= 0 {
		t.cfg.MaxPeers = defaultMaxPeers
	}

	var onAccept func(net.Conn)
	if len(cfg.Listeners) > 0 {
		onAccept = t.inboundPeerConnected
	}
	cmgr, err := connmgr.New(&connmgr.Config{
		Listeners:      cfg.Listeners,
		OnAccept:       onAccept,
		OnConnection:   t.outboundPeerConnected,
		RetryDuration:  connectionRetryInterval,
		TargetOutbound: uint32(len(cfg.ConnectPeers)),
		Dial:           t.cfg.Dial,
		Timeout:        dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	t.connMgr = cmgr
	return t, nil
}

// inboundPeerConnected is invoked by the connection manager when a new
// inbound connection is established.
func (t *Transport) inboundPeerConnected(conn net.Conn) {
	t.mtx.Lock()
	full := len(t.peers) >= t.cfg.MaxPeers
	t.mtx.Unlock()
	if full {
		log.Infof("Max peers reached [%d] - disconnecting inbound peer %s",
			t.cfg.MaxPeers, conn.RemoteAddr())
		conn.Close()
		return
	}
	t.handleConn(conn, nil, true)
}

// outboundPeerConnected is invoked by the connection manager when a new
// outbound connection is established.
func (t *Transport) outboundPeerConnected(c *connmgr.ConnReq, conn net.Conn) {
	t.handleConn(conn, c, false)
}

// handshake exchanges version messages with the peer.
func (t *Transport) handshake(p *Peer) error {
	ver := &snwire.MsgSNVersion{
		ProtocolVersion: snwire.ProtocolVersion,
		LastBlock:       t.cfg.BestHeight(),
	}
	if err := p.writeMessage(ver); err != nil {
		return err
	}

	deadline := time.Now().Add(handshakeTimeout)
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	msg, _, err := p.readMessage()
	if err != nil {
		return err
	}
	remote, ok := msg.(*snwire.MsgSNVersion)
	if !ok {
		return fmt.Errorf("expected %s message, got %s", snwire.CmdSNVersion,
			msg.Command())
	}
	if remote.ProtocolVersion < snwire.MinProtocolVersion {
		return fmt.Errorf("protocol version %d is older than the minimum "+
			"%d", remote.ProtocolVersion, snwire.MinProtocolVersion)
	}
	p.protocolVersion.Store(remote.ProtocolVersion)
	p.SetLastBlock(remote.LastBlock)
	return p.conn.SetReadDeadline(time.Time{})
}

// handleConn performs the handshake with a newly connected peer and then
// processes its messages until it disconnects.
func (t *Transport) handleConn(conn net.Conn, c *connmgr.ConnReq, inbound bool) {
	p := newPeer(t.nextID.Add(1), conn, inbound, t.cfg.Params.Net.Net)
	p.connReq = c
	if err := t.handshake(p); err != nil {
		log.Debugf("Handshake with %v failed: %v", p, err)
		p.Disconnect()
		t.releaseConnReq(p)
		return
	}
	if t.cfg.OnPeerConnected != nil {
		if err := t.cfg.OnPeerConnected(p); err != nil {
			log.Debugf("Rejecting peer %v: %v", p, err)
			p.Disconnect()
			t.releaseConnReq(p)
			return
		}
	}

	t.mtx.Lock()
	t.peers[p.id] = p
	var queued []snwire.Message
	if pending, ok := t.pending[p.addr]; ok && !inbound {
		queued = pending.msgs
		delete(t.pending, p.addr)
	}
	t.mtx.Unlock()

	log.Debugf("Connected to service node peer %v (version %d, height %d)",
		p, p.ProtocolVersion(), p.LastBlock())
	for _, msg := range queued {
		p.QueueMessage(msg)
	}

	t.wg.Add(1)
	go func() {
		p.outHandler()
		t.wg.Done()
	}()
	t.inHandler(p)

	t.mtx.Lock()
	delete(t.peers, p.id)
	t.mtx.Unlock()
	if t.cfg.OnPeerDisconnected != nil {
		t.cfg.OnPeerDisconnected(p)
	}
	t.releaseConnReq(p)
	log.Debugf("Disconnected from service node peer %v", p)
}

// inHandler reads messages from the peer until the connection fails.
// Messages that arrived together are delivered as one batch.
func (t *Transport) inHandler(p *Peer) {
	var batch []snwire.Message
	for {
		msg, payload, err := p.readMessage()
		if err != nil {
			var msgErr snwire.MessageError
			if errors.As(err, &msgErr) {
				log.Debugf("Invalid message from %v: %v", p, err)
			}
			t.deliver(p, batch)
			p.Disconnect()
			return
		}

		if ver, ok := msg.(*snwire.MsgSNVersion); ok {
			p.SetLastBlock(ver.LastBlock)
		} else {
			hash := chainhash.HashH(payload)
			p.markKnown(&hash)
			batch = append(batch, msg)
		}
		if len(batch) > 0 && (!p.hasBuffered() || len(batch) >= maxBatchMessages) {
			t.deliver(p, batch)
			batch = nil
		}
	}
}

// deliver hands received messages to the configured callbacks.
func (t *Transport) deliver(p *Peer, batch []snwire.Message) {
	if len(batch) == 0 {
		return
	}
	if t.cfg.OnBatch != nil {
		t.cfg.OnBatch(p, batch)
		return
	}
	if t.cfg.OnMessage == nil {
		return
	}
	for _, msg := range batch {
		t.cfg.OnMessage(p, msg)
	}
}

// releaseConnReq tells the connection manager the connection of the peer is
// gone.  Permanent peers are retried.
func (t *Transport) releaseConnReq(p *Peer) {
	if p.connReq == nil {
		return
	}
	if p.connReq.Permanent {
		t.connMgr.Disconnect(p.connReq.ID())
		return
	}
	t.connMgr.Remove(p.connReq.ID())
}

// Peers returns the peers that completed the handshake.
//
// This is part of the snode.Transport interface.
func (t *Transport) Peers() []snode.Peer {
	t.mtx.Lock()
	peers := make([]snode.Peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mtx.Unlock()
	return peers
}

// PeerCount returns the number of peers that completed the handshake.
func (t *Transport) PeerCount() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return len(t.peers)
}

// RelayMessage queues msg to every peer that does not know it yet.
//
// This is part of the snode.Transport interface.
func (t *Transport) RelayMessage(msg snwire.Message) {
	var buf bytes.Buffer
	if err := msg.BtcEncode(&buf, snwire.ProtocolVersion); err != nil {
		log.Errorf("Unable to encode %s message for relay: %v",
			msg.Command(), err)
		return
	}
	hash := chainhash.HashH(buf.Bytes())

	t.mtx.Lock()
	var relayed int
	for _, p := range t.peers {
		if p.knows(&hash) {
			continue
		}
		p.markKnown(&hash)
		p.QueueMessage(msg)
		relayed++
	}
	t.mtx.Unlock()
	log.Tracef("Relayed %s %v to %d peers", msg.Command(), hash, relayed)
}

// ConnectAndSend queues msg on the peer connected to addr.  When there is no
// such peer an outbound connection is started in the background and msg is
// sent once it is established.
//
// This is part of the snode.Transport interface.
func (t *Transport) ConnectAndSend(addr netip.AddrPort, msg snwire.Message) error {
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())

	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.ctx == nil {
		return ErrNotRunning
	}
	for _, p := range t.peers {
		if p.addr == addr {
			p.QueueMessage(msg)
			return nil
		}
	}

	now := time.Now()
	if pending, ok := t.pending[addr]; ok && now.Sub(pending.added) < pendingTimeout {
		if len(pending.msgs) >= maxPendingMessages {
			return fmt.Errorf("too many messages pending for %v", addr)
		}
		pending.msgs = append(pending.msgs, msg)
		return nil
	}
	t.pending[addr] = &pendingSend{msgs: []snwire.Message{msg}, added: now}

	ctx := t.ctx
	go func() {
		c := &connmgr.ConnReq{Addr: net.TCPAddrFromAddrPort(addr)}
		t.connMgr.Connect(ctx, c)
		if c.State() == connmgr.ConnFailed {
			log.Debugf("Unable to connect to %v", addr)
			t.connMgr.Remove(c.ID())
			t.mtx.Lock()
			delete(t.pending, addr)
			t.mtx.Unlock()
		}
	}()
	return nil
}

// LocalAddr returns the local address of the connection to the peer at remote
// combined with port.  It returns false when no such peer is connected.
func (t *Transport) LocalAddr(remote netip.AddrPort, port uint16) (netip.AddrPort, bool) {
	remote = netip.AddrPortFrom(remote.Addr().Unmap(), remote.Port())

	t.mtx.Lock()
	defer t.mtx.Unlock()
	for _, p := range t.peers {
		if p.addr != remote {
			continue
		}
		local, err := netip.ParseAddrPort(p.conn.LocalAddr().String())
		if err != nil {
			return netip.AddrPort{}, false
		}
		return netip.AddrPortFrom(local.Addr().Unmap(), port), true
	}
	return netip.AddrPort{}, false
}

// Probe returns nil when a TCP connection to addr can be established.
func (t *Transport) Probe(addr netip.AddrPort) error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	conn, err := t.cfg.Dial(ctx, "tcp", addr.String())
	if err != nil {
		return err
	}
	return conn.Close()
}

// Run starts accepting inbound peers and connecting to the permanent peers.
// It blocks until the provided context is cancelled.
func (t *Transport) Run(ctx context.Context) {
	t.mtx.Lock()
	t.ctx = ctx
	t.mtx.Unlock()

	for _, addr := range t.cfg.ConnectPeers {
		c := &connmgr.ConnReq{
			Addr:      net.TCPAddrFromAddrPort(addr),
			Permanent: true,
		}
		go t.connMgr.Connect(ctx, c)
	}

	t.connMgr.Run(ctx)

	t.mtx.Lock()
	t.ctx = nil
	for _, p := range t.peers {
		p.Disconnect()
	}
	t.mtx.Unlock()
	t.wg.Wait()
}
