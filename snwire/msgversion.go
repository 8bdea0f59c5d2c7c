// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snwire

import (
	"io"
)

// MsgSNVersion implements the Message interface and is the first message
// each side of a service node connection sends.  It announces the protocol
// version of the sender and the height of its best block.
type MsgSNVersion struct {
	ProtocolVersion uint32
	LastBlock       int64
}

// BtcDecode decodes r using the service node protocol encoding into the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgSNVersion) BtcDecode(r io.Reader, pver uint32) error {
	var err error
	if msg.ProtocolVersion, err = readUint32(r); err != nil {
		return err
	}
	msg.LastBlock, err = readInt64(r)
	return err
}

// BtcEncode encodes the receiver to w using the service node protocol
// encoding.  This is part of the Message interface implementation.
func (msg *MsgSNVersion) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeUint32(w, msg.ProtocolVersion); err != nil {
		return err
	}
	return writeInt64(w, msg.LastBlock)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgSNVersion) Command() string {
	return CmdSNVersion
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgSNVersion) MaxPayloadLength(pver uint32) uint32 {
	return 12
}
