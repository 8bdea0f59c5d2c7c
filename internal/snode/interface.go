// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snode

import (
	"net/netip"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/snwire"
)

// UtxoEntry describes an unspent transaction output as reported by the chain
// view.  Outputs that are not mined yet carry a height past the tip.
type UtxoEntry struct {
	Amount        int64
	ScriptVersion uint16
	PkScript      []byte
	BlockHeight   int64
}

// Confirmations returns the number of blocks up to tip that confirm the
// output.
func (e *UtxoEntry) Confirmations(tip int64) int64 {
	return max(tip-e.BlockHeight+1, 0)
}

// ChainView provides the subset of the base chain state the service node
// subsystem consumes.  Implementations must be safe for concurrent access.
//
// Callers fetch what they need from the view at the start of an operation and
// never hold a registry or ledger lock while calling into it.
type ChainView interface {
	// BestBlock returns the hash and height of the current tip.
	BestBlock() (chainhash.Hash, int64)

	// BlockHashByHeight returns the hash of the main chain block at the
	// given height.
	BlockHashByHeight(height int64) (*chainhash.Hash, error)

	// HeaderByHash returns the header of the block with the given hash.
	HeaderByHash(hash *chainhash.Hash) (*wire.BlockHeader, error)

	// BlockByHash returns the block with the given hash.
	BlockByHash(hash *chainhash.Hash) (*wire.MsgBlock, error)

	// FetchUtxoEntry returns the unspent output referenced by op.  It
	// returns a nil entry without error when the output is spent or
	// unknown.
	FetchUtxoEntry(op wire.OutPoint) (*UtxoEntry, error)

	// IsCurrent returns whether the chain believes it is synced with the
	// network.
	IsCurrent() bool
}

// FeatureFlags provides the network wide feature switches (sporks).
type FeatureFlags interface {
	// PaymentEnforcement returns whether blocks that do not pay the
	// elected service node must be rejected.
	PaymentEnforcement() bool

	// PayUpdatedNodes returns whether only nodes running the latest
	// protocol version are paid.
	PayUpdatedNodes() bool

	// WatchdogRequired returns whether nodes must keep casting watchdog
	// votes to remain enabled.
	WatchdogRequired() bool
}

// MinPaymentsProtocol returns the minimum protocol version a node must run
// to take part in payments given the current feature flags.
func MinPaymentsProtocol(flags FeatureFlags) uint32 {
	if flags.PayUpdatedNodes() {
		return snwire.ProtocolVersion
	}
	return snwire.MinProtocolVersion
}

// Peer is a connected remote peer as seen by the service node subsystem.
type Peer interface {
	// ID returns the unique identifier of the peer connection.
	ID() int32

	// Addr returns the remote address of the peer.
	Addr() netip.AddrPort

	// LastBlock returns the most recent block height the peer reported.
	LastBlock() int64

	// QueueMessage queues msg to be sent to the peer.  It must not block.
	QueueMessage(msg snwire.Message)
}

// Transport is the peer-to-peer layer as seen by the service node subsystem.
type Transport interface {
	// Peers returns the currently connected peers.
	Peers() []Peer

	// RelayMessage sends msg to every connected peer.
	RelayMessage(msg snwire.Message)

	// ConnectAndSend opens an outbound connection to addr, or reuses an
	// existing one, and queues msg on it.  It must not block on the
	// connection attempt.
	ConnectAndSend(addr netip.AddrPort, msg snwire.Message) error
}

// RequestTracker records which requests a peer has made, or has been sent,
// recently.  Entries expire on their own after a kind specific interval.
type RequestTracker interface {
	HasFulfilledRequest(addr netip.AddrPort, request string) bool
	AddFulfilledRequest(addr netip.AddrPort, request string)
	RemoveFulfilledRequest(addr netip.AddrPort, request string)
}

// LocalNode describes the service node run by this process, if any.
type LocalNode interface {
	// OperatorKey returns the operating key of this process or nil when it
	// is not configured as a service node.
	OperatorKey() *secp256k1.PrivateKey

	// Identity returns the collateral outpoint of the local node once it
	// has been started.
	Identity() (wire.OutPoint, bool)
}
