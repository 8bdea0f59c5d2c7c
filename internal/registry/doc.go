// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package registry implements the registry of known service nodes.

The Manager accepts broadcasts and pings gossiped by peers, deduplicates them,
verifies the collateral of newly announced nodes and keeps every record's
activation state current.  It ranks nodes by a score derived from a past block
hash, elects the node owed each block's service node payment, verifies that
nodes sharing a network address really operate there (proof of service) and
asks a quorum of other nodes before giving up on a node this process has not
heard from in a long time (recovery).

Lock Ordering

The Manager never calls into the chain view, the payment ledger or the peer
transport while holding its own lock.  Callers that hold the ledger lock may
call into the Manager, but not the other way around.
*/
package registry
