// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sntest provides in-memory implementations of the collaborators the
// service node packages consume so their tests can run without a chain,
// wallet or network.
package sntest

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/snwire"
)

// ErrNotFound is returned by the chain for unknown blocks.
var ErrNotFound = errors.New("not found")

// Chain is an in-memory chain view.
type Chain struct {
	mtx     sync.Mutex
	blocks  []*wire.MsgBlock
	hashes  []chainhash.Hash
	byHash  map[chainhash.Hash]int64
	utxos   map[wire.OutPoint]*snode.UtxoEntry
	spacing time.Duration
	current bool
}

var _ snode.ChainView = (*Chain)(nil)

// NewChain returns a chain with blocks at heights 0 through tip, the first
// one timestamped start and each following one spacing later.
func NewChain(tip int64, start time.Time, spacing time.Duration) *Chain {
	c := &Chain{
		byHash:  make(map[chainhash.Hash]int64),
		utxos:   make(map[wire.OutPoint]*snode.UtxoEntry),
		spacing: spacing,
		current: true,
	}
	for h := int64(0); h <= tip; h++ {
		c.addBlock(start.Add(time.Duration(h)*spacing), nil)
	}
	return c
}

func (c *Chain) addBlock(ts time.Time, coinbase *wire.MsgTx) *wire.MsgBlock {
	height := int64(len(c.blocks))
	block := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Height:    uint32(height),
			Timestamp: ts,
		},
	}
	if height > 0 {
		block.Header.PrevBlock = c.hashes[height-1]
	}
	if coinbase == nil {
		coinbase = wire.NewMsgTx()
	}
	block.AddTransaction(coinbase)
	hash := block.Header.BlockHash()
	c.blocks = append(c.blocks, block)
	c.hashes = append(c.hashes, hash)
	c.byHash[hash] = height
	return block
}

// ConnectBlock appends a block paying the given coinbase transaction.  A nil
// coinbase connects an empty one.
func (c *Chain) ConnectBlock(coinbase *wire.MsgTx) *wire.MsgBlock {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	last := c.blocks[len(c.blocks)-1].Header.Timestamp
	return c.addBlock(last.Add(c.spacing), coinbase)
}

// TipTime returns the timestamp of the tip.
func (c *Chain) TipTime() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.blocks[len(c.blocks)-1].Header.Timestamp
}

// SetCurrent sets the value returned by IsCurrent.
func (c *Chain) SetCurrent(current bool) {
	c.mtx.Lock()
	c.current = current
	c.mtx.Unlock()
}

// AddUtxo adds an unspent output.
func (c *Chain) AddUtxo(op wire.OutPoint, entry *snode.UtxoEntry) {
	c.mtx.Lock()
	c.utxos[op] = entry
	c.mtx.Unlock()
}

// Spend removes an unspent output.
func (c *Chain) Spend(op wire.OutPoint) {
	c.mtx.Lock()
	delete(c.utxos, op)
	c.mtx.Unlock()
}

// BestBlock returns the hash and height of the tip.
func (c *Chain) BestBlock() (chainhash.Hash, int64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	tip := int64(len(c.blocks) - 1)
	return c.hashes[tip], tip
}

// BlockHashByHeight returns the hash of the block at height.
func (c *Chain) BlockHashByHeight(height int64) (*chainhash.Hash, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if height < 0 || height >= int64(len(c.hashes)) {
		return nil, fmt.Errorf("block at height %d: %w", height, ErrNotFound)
	}
	hash := c.hashes[height]
	return &hash, nil
}

// HeaderByHash returns the header of the block with the given hash.
func (c *Chain) HeaderByHash(hash *chainhash.Hash) (*wire.BlockHeader, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	height, ok := c.byHash[*hash]
	if !ok {
		return nil, fmt.Errorf("block %v: %w", hash, ErrNotFound)
	}
	header := c.blocks[height].Header
	return &header, nil
}

// BlockByHash returns the block with the given hash.
func (c *Chain) BlockByHash(hash *chainhash.Hash) (*wire.MsgBlock, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	height, ok := c.byHash[*hash]
	if !ok {
		return nil, fmt.Errorf("block %v: %w", hash, ErrNotFound)
	}
	return c.blocks[height], nil
}

// FetchUtxoEntry returns the unspent output for op or nil when it is spent.
func (c *Chain) FetchUtxoEntry(op wire.OutPoint) (*snode.UtxoEntry, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	entry, ok := c.utxos[op]
	if !ok {
		return nil, nil
	}
	e := *entry
	return &e, nil
}

// IsCurrent returns whether the chain is considered synced.
func (c *Chain) IsCurrent() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.current
}

// Flags is a static set of feature flags.
type Flags struct {
	Enforcement bool
	PayUpdated  bool
	Watchdog    bool
}

// PaymentEnforcement returns the payment enforcement flag.
func (f *Flags) PaymentEnforcement() bool { return f.Enforcement }

// PayUpdatedNodes returns the updated-nodes-only flag.
func (f *Flags) PayUpdatedNodes() bool { return f.PayUpdated }

// WatchdogRequired returns the watchdog flag.
func (f *Flags) WatchdogRequired() bool { return f.Watchdog }

// Key returns a deterministic private key derived from seed.
func Key(seed byte) *secp256k1.PrivateKey {
	var b [32]byte
	for i := range b {
		b[i] = seed
	}
	b[0] = 0x01
	return secp256k1.PrivKeyFromBytes(b[:])
}

// Peer is a connected peer that records every queued message.
type Peer struct {
	mtx    sync.Mutex
	id     int32
	addr   netip.AddrPort
	height int64
	sent   []snwire.Message
}

var _ snode.Peer = (*Peer)(nil)

// NewPeer returns a peer with the given id, address and reported height.
func NewPeer(id int32, addr string, height int64) *Peer {
	return &Peer{id: id, addr: netip.MustParseAddrPort(addr), height: height}
}

// ID returns the peer id.
func (p *Peer) ID() int32 { return p.id }

// Addr returns the peer address.
func (p *Peer) Addr() netip.AddrPort { return p.addr }

// LastBlock returns the reported height.
func (p *Peer) LastBlock() int64 {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.height
}

// SetLastBlock sets the reported height.
func (p *Peer) SetLastBlock(height int64) {
	p.mtx.Lock()
	p.height = height
	p.mtx.Unlock()
}

// QueueMessage records msg.
func (p *Peer) QueueMessage(msg snwire.Message) {
	p.mtx.Lock()
	p.sent = append(p.sent, msg)
	p.mtx.Unlock()
}

// Sent returns and clears the recorded messages.
func (p *Peer) Sent() []snwire.Message {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	sent := p.sent
	p.sent = nil
	return sent
}

// Transport records relayed messages and outbound connection requests.
type Transport struct {
	mtx       sync.Mutex
	peers     []snode.Peer
	relayed   []snwire.Message
	connected map[netip.AddrPort][]snwire.Message
}

var _ snode.Transport = (*Transport)(nil)

// NewTransport returns a transport with the given connected peers.
func NewTransport(peers ...snode.Peer) *Transport {
	return &Transport{
		peers:     peers,
		connected: make(map[netip.AddrPort][]snwire.Message),
	}
}

// SetPeers replaces the connected peers.
func (t *Transport) SetPeers(peers ...snode.Peer) {
	t.mtx.Lock()
	t.peers = peers
	t.mtx.Unlock()
}

// Peers returns the connected peers.
func (t *Transport) Peers() []snode.Peer {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return append([]snode.Peer(nil), t.peers...)
}

// RelayMessage records msg as relayed.
func (t *Transport) RelayMessage(msg snwire.Message) {
	t.mtx.Lock()
	t.relayed = append(t.relayed, msg)
	t.mtx.Unlock()
}

// Relayed returns and clears the relayed messages.
func (t *Transport) Relayed() []snwire.Message {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	relayed := t.relayed
	t.relayed = nil
	return relayed
}

// ConnectAndSend records msg as sent to addr.
func (t *Transport) ConnectAndSend(addr netip.AddrPort, msg snwire.Message) error {
	t.mtx.Lock()
	t.connected[addr] = append(t.connected[addr], msg)
	t.mtx.Unlock()
	return nil
}

// SentTo returns and clears the messages sent to addr over outbound
// connections.
func (t *Transport) SentTo(addr netip.AddrPort) []snwire.Message {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	sent := t.connected[addr]
	delete(t.connected, addr)
	return sent
}

// Requests is a request tracker without expiry.
type Requests struct {
	mtx  sync.Mutex
	seen map[string]struct{}
}

var _ snode.RequestTracker = (*Requests)(nil)

// NewRequests returns an empty request tracker.
func NewRequests() *Requests {
	return &Requests{seen: make(map[string]struct{})}
}

func requestKey(addr netip.AddrPort, request string) string {
	return addr.String() + "|" + request
}

// HasFulfilledRequest returns whether the request was recorded.
func (r *Requests) HasFulfilledRequest(addr netip.AddrPort, request string) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	_, ok := r.seen[requestKey(addr, request)]
	return ok
}

// AddFulfilledRequest records the request.
func (r *Requests) AddFulfilledRequest(addr netip.AddrPort, request string) {
	r.mtx.Lock()
	r.seen[requestKey(addr, request)] = struct{}{}
	r.mtx.Unlock()
}

// RemoveFulfilledRequest forgets the request.
func (r *Requests) RemoveFulfilledRequest(addr netip.AddrPort, request string) {
	r.mtx.Lock()
	delete(r.seen, requestKey(addr, request))
	r.mtx.Unlock()
}

// LocalNode is a static local node description.
type LocalNode struct {
	Key      *secp256k1.PrivateKey
	Outpoint wire.OutPoint
	Started  bool
}

var _ snode.LocalNode = (*LocalNode)(nil)

// OperatorKey returns the operating key.
func (n *LocalNode) OperatorKey() *secp256k1.PrivateKey {
	if n == nil {
		return nil
	}
	return n.Key
}

// Identity returns the outpoint once started.
func (n *LocalNode) Identity() (wire.OutPoint, bool) {
	if n == nil || !n.Started {
		return wire.OutPoint{}, false
	}
	return n.Outpoint, true
}

// Node describes a service node created for a test.
type Node struct {
	Broadcast     *snwire.MsgSNBroadcast
	CollateralKey *secp256k1.PrivateKey
	OperatorKey   *secp256k1.PrivateKey
}

// NewNode creates a collateral output confirmed at collateralHeight in the
// chain and a broadcast for it listening at addr, signed at now.
func NewNode(params *snode.Params, chain *Chain, seed byte, addr string,
	collateralHeight int64, now time.Time) (*Node, error) {

	collateralKey := Key(seed)
	operatorKey := Key(seed + 128)
	op := wire.OutPoint{Hash: chainhash.HashH([]byte{seed}), Index: uint32(seed) % 3}

	script, err := snode.PayToPubKeyHashScript(params,
		collateralKey.PubKey().SerializeCompressed())
	if err != nil {
		return nil, err
	}
	chain.AddUtxo(op, &snode.UtxoEntry{
		Amount:      int64(params.Collateral),
		PkScript:    script,
		BlockHeight: collateralHeight,
	})

	bcast, err := snode.CreateBroadcast(params, chain, &snode.BroadcastConfig{
		Outpoint:      op,
		Addr:          netip.MustParseAddrPort(addr),
		CollateralKey: collateralKey,
		OperatorKey:   operatorKey,
	}, now)
	if err != nil {
		return nil, err
	}
	return &Node{
		Broadcast:     bcast,
		CollateralKey: collateralKey,
		OperatorKey:   operatorKey,
	}, nil
}

// Ping returns a ping for the node signed at now.
func (n *Node) Ping(params *snode.Params, chain snode.ChainView, now time.Time) (*snwire.MsgSNPing, error) {
	return snode.NewPing(params, chain, n.Broadcast.Outpoint, n.OperatorKey, now)
}
