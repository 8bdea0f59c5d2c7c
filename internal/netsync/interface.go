// Copyright (c) 2020-2021 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netsync

import (
	"github.com/noirofficial/noir-sub000/internal/snode"
)

// Registry provides the registry operations needed to sync the service node
// list.
type Registry interface {
	// RequestList asks peer for its full registry.  It returns false when
	// nothing was sent because the peer was asked recently.
	RequestList(peer snode.Peer) bool
}

// Ledger provides the payment ledger operations needed to sync the payment
// votes.
type Ledger interface {
	// IsEnoughData returns whether the ledger holds enough vote history.
	IsEnoughData() bool

	// StorageLimit returns the number of heights of votes the ledger
	// keeps.
	StorageLimit() int64

	// RequestLowDataPaymentBlocks asks peer for the votes of the heights
	// the ledger has little data for.
	RequestLowDataPaymentBlocks(peer snode.Peer) int
}
