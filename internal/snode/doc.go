// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package snode implements the service node record and the validation of the
messages that create and update it.

A service node is identified by the collateral output that backs it.  Its
record is created from a signed broadcast, kept alive by pings signed with the
node's operating key, and moves through a closed set of activation states that
Record.Check evaluates from the ping history, the collateral, the protocol
version and the proof of service score.

The package also defines the narrow interfaces through which the service node
subsystem consumes the chain, the peer-to-peer transport, the feature flags
and the local node.
*/
package snode
