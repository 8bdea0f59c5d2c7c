// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2016-2024 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snpeer

import (
	"bufio"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/connmgr/v3"
	"github.com/decred/dcrd/container/apbf"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/snwire"
)

const (
	// outputBufferSize is the number of elements the output channel of a
	// peer can hold before further messages are dropped.
	outputBufferSize = 100

	// writeTimeout bounds writing a single message.
	writeTimeout = 30 * time.Second

	// maxKnownMessages is the maximum number of message hashes to store in
	// the known messages filter of each peer.
	maxKnownMessages = 5000

	// knownMessagesFPRate is the false positive rate of the known messages
	// filter.  A false positive only suppresses one relay to one peer.
	knownMessagesFPRate = 0.0001
)

// Peer is a connection to a remote service node peer.  It is safe for
// concurrent access.
type Peer struct {
	id      int32
	addr    netip.AddrPort
	inbound bool
	conn    net.Conn
	reader  *bufio.Reader
	magic   wire.CurrencyNet
	connReq *connmgr.ConnReq

	lastBlock       atomic.Int64
	protocolVersion atomic.Uint32

	// known holds the hashes of messages the peer sent to us or we sent to
	// the peer so they are not relayed back.
	known *apbf.Filter

	outQueue       chan snwire.Message
	quit           chan struct{}
	disconnectOnce sync.Once
}

func newPeer(id int32, conn net.Conn, inbound bool, magic wire.CurrencyNet) *Peer {
	addr, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		log.Debugf("Unable to parse peer address %v: %v", conn.RemoteAddr(),
			err)
	}
	return &Peer{
		id:       id,
		addr:     netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()),
		inbound:  inbound,
		conn:     conn,
		reader:   bufio.NewReader(conn),
		magic:    magic,
		known:    apbf.NewFilter(maxKnownMessages, knownMessagesFPRate),
		outQueue: make(chan snwire.Message, outputBufferSize),
		quit:     make(chan struct{}),
	}
}

// ID returns the unique identifier of the peer connection.
func (p *Peer) ID() int32 {
	return p.id
}

// Addr returns the remote address of the peer.
func (p *Peer) Addr() netip.AddrPort {
	return p.addr
}

// Inbound returns whether the peer connected to us.
func (p *Peer) Inbound() bool {
	return p.inbound
}

// LastBlock returns the best block height the peer announced.
func (p *Peer) LastBlock() int64 {
	return p.lastBlock.Load()
}

// SetLastBlock updates the best block height of the peer.
func (p *Peer) SetLastBlock(height int64) {
	p.lastBlock.Store(height)
}

// ProtocolVersion returns the protocol version the peer announced.
func (p *Peer) ProtocolVersion() uint32 {
	return p.protocolVersion.Load()
}

// String returns the peer's address and directionality as a human-readable
// string.
func (p *Peer) String() string {
	direction := "outbound"
	if p.inbound {
		direction = "inbound"
	}
	return fmt.Sprintf("%v (%s)", p.addr, direction)
}

// QueueMessage queues msg to be sent to the peer.  The message is dropped
// when the output queue is full or the peer is disconnecting.
func (p *Peer) QueueMessage(msg snwire.Message) {
	select {
	case p.outQueue <- msg:
	case <-p.quit:
	default:
		log.Debugf("Dropping %s message to %v: output queue full",
			msg.Command(), p)
	}
}

// Disconnect closes the connection to the peer.
func (p *Peer) Disconnect() {
	p.disconnectOnce.Do(func() {
		log.Tracef("Disconnecting %v", p)
		close(p.quit)
		p.conn.Close()
	})
}

// markKnown records that the peer knows the message with the given hash.
func (p *Peer) markKnown(hash *chainhash.Hash) {
	p.known.Add(hash[:])
}

// knows returns whether the peer knows the message with the given hash.
func (p *Peer) knows(hash *chainhash.Hash) bool {
	return p.known.Contains(hash[:])
}

// writeMessage sends msg to the peer.
func (p *Peer) writeMessage(msg snwire.Message) error {
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return snwire.WriteMessage(p.conn, msg, snwire.ProtocolVersion, p.magic)
}

// readMessage reads the next message from the peer.
func (p *Peer) readMessage() (snwire.Message, []byte, error) {
	return snwire.ReadMessage(p.reader, snwire.ProtocolVersion, p.magic)
}

// hasBuffered returns whether data of further messages was already received
// from the peer.
func (p *Peer) hasBuffered() bool {
	return p.reader.Buffered() > 0
}

// outHandler writes queued messages to the peer until it disconnects.  It
// must be run as a goroutine.
func (p *Peer) outHandler() {
	for {
		select {
		case msg := <-p.outQueue:
			if err := p.writeMessage(msg); err != nil {
				log.Debugf("Unable to send %s to %v: %v", msg.Command(), p,
					err)
				p.Disconnect()
				return
			}
		case <-p.quit:
			return
		}
	}
}
