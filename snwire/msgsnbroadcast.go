// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snwire

import (
	"bytes"
	"encoding/hex"
	"io"
	"net/netip"
	"strconv"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/txscript/v4/stdaddr"
	"github.com/decred/dcrd/wire"
)

// broadcastPayloadMax is the maximum size of an encoded broadcast.
const broadcastPayloadMax = outPointSize + 3 + MaxScriptLen + netAddrSize +
	2*(1+MaxPubKeyLen) + 1 + MaxSigLen + 8 + 4 + pingPayloadMax

// MsgSNBroadcast implements the Message interface and represents a full,
// self-contained service node announcement.  It carries everything a peer
// with no prior knowledge of the node needs to reconstruct its record.
//
// The Recovery flag is never serialized.  It is set locally when a broadcast
// is replayed after a successful recovery quorum so the registry accepts it
// even though its signature time is not newer than the stored record.
type MsgSNBroadcast struct {
	Outpoint        wire.OutPoint
	UnlockScript    []byte
	Addr            netip.AddrPort
	CollateralKey   []byte
	OperatorKey     []byte
	Sig             []byte
	SigTime         int64
	ProtocolVersion uint32
	LastPing        MsgSNPing

	Recovery bool
}

// Hash returns the identifier used to deduplicate gossiped broadcasts.  It
// commits to the identity, the collateral key and the signature time.
func (msg *MsgSNBroadcast) Hash() chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(outPointSize + len(msg.CollateralKey) + 8)
	_ = writeOutPoint(&buf, &msg.Outpoint)
	buf.Write(msg.CollateralKey)
	_ = writeInt64(&buf, msg.SigTime)
	return chainhash.HashH(buf.Bytes())
}

// SignedMessage returns the canonical string that is signed by the collateral
// key.
func (msg *MsgSNBroadcast) SignedMessage() string {
	return msg.Addr.String() + strconv.FormatInt(msg.SigTime, 10) +
		hex.EncodeToString(stdaddr.Hash160(msg.CollateralKey)) +
		hex.EncodeToString(stdaddr.Hash160(msg.OperatorKey)) +
		strconv.FormatUint(uint64(msg.ProtocolVersion), 10)
}

// BtcDecode decodes r using the service node protocol encoding into the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgSNBroadcast) BtcDecode(r io.Reader, pver uint32) error {
	const op = "MsgSNBroadcast.BtcDecode"
	var err error
	if err = readOutPoint(r, &msg.Outpoint); err != nil {
		return err
	}
	msg.UnlockScript, err = readBounded(r, pver, MaxScriptLen, op,
		"unlock script", ErrScriptTooLong)
	if err != nil {
		return err
	}
	if msg.Addr, err = readNetAddr(r, op); err != nil {
		return err
	}
	msg.CollateralKey, err = readBounded(r, pver, MaxPubKeyLen, op,
		"collateral key", ErrKeyTooLong)
	if err != nil {
		return err
	}
	msg.OperatorKey, err = readBounded(r, pver, MaxPubKeyLen, op,
		"operator key", ErrKeyTooLong)
	if err != nil {
		return err
	}
	msg.Sig, err = readBounded(r, pver, MaxSigLen, op, "signature",
		ErrSigTooLong)
	if err != nil {
		return err
	}
	if msg.SigTime, err = readInt64(r); err != nil {
		return err
	}
	if msg.ProtocolVersion, err = readUint32(r); err != nil {
		return err
	}
	msg.Recovery = false
	return msg.LastPing.BtcDecode(r, pver)
}

// BtcEncode encodes the receiver to w using the service node protocol
// encoding.  This is part of the Message interface implementation.
func (msg *MsgSNBroadcast) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeOutPoint(w, &msg.Outpoint); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.UnlockScript); err != nil {
		return err
	}
	if err := writeNetAddr(w, msg.Addr); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.CollateralKey); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.OperatorKey); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.Sig); err != nil {
		return err
	}
	if err := writeInt64(w, msg.SigTime); err != nil {
		return err
	}
	if err := writeUint32(w, msg.ProtocolVersion); err != nil {
		return err
	}
	return msg.LastPing.BtcEncode(w, pver)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgSNBroadcast) Command() string {
	return CmdSNBroadcast
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgSNBroadcast) MaxPayloadLength(pver uint32) uint32 {
	return broadcastPayloadMax
}
