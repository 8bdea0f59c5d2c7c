// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snwire

import (
	"bytes"
	"io"
	"strconv"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

// pingPayloadMax is the maximum size of an encoded ping: outpoint, block hash,
// signature time and a length-prefixed compact signature.
const pingPayloadMax = outPointSize + chainhash.HashSize + 8 + 1 + MaxSigLen

// MsgSNPing implements the Message interface and represents a service node
// liveness announcement.  It is signed with the operating key of the node
// identified by Outpoint against a recent block hash.
type MsgSNPing struct {
	Outpoint  wire.OutPoint
	BlockHash chainhash.Hash
	SigTime   int64
	Sig       []byte
}

// IsZero returns whether the ping is the empty ping carried by broadcasts of
// nodes that never pinged.
func (msg *MsgSNPing) IsZero() bool {
	return msg.SigTime == 0 && msg.BlockHash == (chainhash.Hash{}) &&
		len(msg.Sig) == 0
}

// Hash returns the identifier used to deduplicate gossiped pings.
func (msg *MsgSNPing) Hash() chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(outPointSize + 8)
	_ = writeOutPoint(&buf, &msg.Outpoint)
	_ = writeInt64(&buf, msg.SigTime)
	return chainhash.HashH(buf.Bytes())
}

// SignedMessage returns the canonical string that is signed by the operating
// key.
func (msg *MsgSNPing) SignedMessage() string {
	return OutPointString(&msg.Outpoint) + msg.BlockHash.String() +
		strconv.FormatInt(msg.SigTime, 10)
}

// BtcDecode decodes r using the service node protocol encoding into the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgSNPing) BtcDecode(r io.Reader, pver uint32) error {
	const op = "MsgSNPing.BtcDecode"
	if err := readOutPoint(r, &msg.Outpoint); err != nil {
		return err
	}
	if err := readHash(r, &msg.BlockHash); err != nil {
		return err
	}
	var err error
	if msg.SigTime, err = readInt64(r); err != nil {
		return err
	}
	msg.Sig, err = readBounded(r, pver, MaxSigLen, op, "signature",
		ErrSigTooLong)
	return err
}

// BtcEncode encodes the receiver to w using the service node protocol
// encoding.  This is part of the Message interface implementation.
func (msg *MsgSNPing) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeOutPoint(w, &msg.Outpoint); err != nil {
		return err
	}
	if _, err := w.Write(msg.BlockHash[:]); err != nil {
		return err
	}
	if err := writeInt64(w, msg.SigTime); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, pver, msg.Sig)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgSNPing) Command() string {
	return CmdSNPing
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgSNPing) MaxPayloadLength(pver uint32) uint32 {
	return pingPayloadMax
}
