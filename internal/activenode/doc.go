// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package activenode implements the controller for the service node run by this
process.

The Controller decides once whether the process operates a node whose
broadcast was created elsewhere (remote mode) or one whose collateral is held
by the local wallet (local mode).  In remote mode it waits for a registry
record carrying its operating key and adopts it.  In local mode it creates,
applies and relays a broadcast of its own once the collateral is mature.
Either way, once started it keeps the node alive by relaying a ping whenever
the previous one is older than the minimum ping interval.

The controller implements snode.LocalNode so the registry and the payment
ledger can recognize the local node.
*/
package activenode
