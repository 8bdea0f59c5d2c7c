// Copyright (c) 2020 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package netsync implements the concurrency safe bootstrap sync of the service
node subsystem.

The provided Coordinator drives a freshly started node through a fixed
sequence of stages.  It first asks every connected peer for the network
feature flags, then requests the service node registry from one peer at a
time, and finally requests the recent payment vote history until the payment
ledger holds enough data.  Each stage that stops making progress for
StageTimeout is either retried once or declared failed, and a failed sync is
restarted from scratch after FailureCooldown.

No stage past the feature flags makes progress until the base chain is judged
to be synced, which is the case once enough peers report a best height within
one block of the local tip, or, after a block was connected, once the chain
itself reports that it is current.
*/
package netsync
