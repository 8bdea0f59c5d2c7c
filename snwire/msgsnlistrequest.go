// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snwire

import (
	"io"

	"github.com/decred/dcrd/wire"
)

// MsgSNListRequest implements the Message interface and represents a request
// for the registry of a peer.  A zero Outpoint requests the full list while
// any other value requests only the entry for that identity.
type MsgSNListRequest struct {
	Outpoint wire.OutPoint
}

// IsFullList returns whether the request asks for every known node.
func (msg *MsgSNListRequest) IsFullList() bool {
	return msg.Outpoint == (wire.OutPoint{})
}

// BtcDecode decodes r using the service node protocol encoding into the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgSNListRequest) BtcDecode(r io.Reader, pver uint32) error {
	return readOutPoint(r, &msg.Outpoint)
}

// BtcEncode encodes the receiver to w using the service node protocol
// encoding.  This is part of the Message interface implementation.
func (msg *MsgSNListRequest) BtcEncode(w io.Writer, pver uint32) error {
	return writeOutPoint(w, &msg.Outpoint)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgSNListRequest) Command() string {
	return CmdSNListRequest
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgSNListRequest) MaxPayloadLength(pver uint32) uint32 {
	return outPointSize
}
