// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package payments implements the service node payment ledger.

The ledger collects the payment votes cast by the top ranked service nodes
for every block height, tracks which payee scripts each height's votes
support and decides whether the coinbase of a block pays the service node
the network agreed on.

A height only has an authoritative payee once one payee script collected
SignaturesRequired votes.  Until then any coinbase payout is accepted so a
slowly propagating vote can never halt the chain.

When the process runs a service node that ranks among the voters for an
upcoming height, ProcessBlock independently elects the payee through the
registry and casts a signed vote for it.

# Lock Ordering

The ledger lock is never held while calling into the registry, the chain
view or the transport.  The registry calls IsScheduled and PayeesWithVotes
without holding its own lock, so either subsystem may call the other.
*/
package payments
