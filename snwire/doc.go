// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package snwire implements the service node protocol messages.

The messages are gossiped alongside the base peer-to-peer protocol and share
its conventions: every message implements the same method set as wire.Message
and the framing helpers in this package prefix each payload with the network
magic, the command, the payload length and a checksum.

The package covers node announcements (snb), liveness pings (snp), registry
list requests (dseg), payment votes (snw) and their sync requests (snget,
snblocks), sync status reports (ssc), the three phases of proof of service
verification (snvchal, snvresp, snvbcast) and feature flag requests
(getsporks).
*/
package snwire
