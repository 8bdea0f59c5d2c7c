// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snwire

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

// votePayloadMax is the maximum size of an encoded payment vote.
const votePayloadMax = outPointSize + 4 + 3 + MaxScriptLen + 1 + MaxSigLen

// MsgPaymentVote implements the Message interface and represents a service
// node's signed opinion of which payee script is owed the service node reward
// in the block at Height.
type MsgPaymentVote struct {
	Voter  wire.OutPoint
	Height int64
	Payee  []byte
	Sig    []byte
}

// Hash returns the content hash identifying the vote.  It commits to the
// payee, the height and the voter, and not to the signature.
func (msg *MsgPaymentVote) Hash() chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(len(msg.Payee) + 8 + outPointSize + 9)
	_ = wire.WriteVarBytes(&buf, 0, msg.Payee)
	_ = writeInt64(&buf, msg.Height)
	_ = writeOutPoint(&buf, &msg.Voter)
	return chainhash.HashH(buf.Bytes())
}

// SignedMessage returns the canonical string signed by the voter's operating
// key.
func (msg *MsgPaymentVote) SignedMessage() string {
	return OutPointString(&msg.Voter) + strconv.FormatInt(msg.Height, 10) +
		hex.EncodeToString(msg.Payee)
}

// BtcDecode decodes r using the service node protocol encoding into the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgPaymentVote) BtcDecode(r io.Reader, pver uint32) error {
	const op = "MsgPaymentVote.BtcDecode"
	if err := readOutPoint(r, &msg.Voter); err != nil {
		return err
	}
	height, err := readUint32(r)
	if err != nil {
		return err
	}
	msg.Height = int64(height)
	msg.Payee, err = readBounded(r, pver, MaxScriptLen, op, "payee script",
		ErrScriptTooLong)
	if err != nil {
		return err
	}
	msg.Sig, err = readBounded(r, pver, MaxSigLen, op, "signature",
		ErrSigTooLong)
	return err
}

// BtcEncode encodes the receiver to w using the service node protocol
// encoding.  This is part of the Message interface implementation.
func (msg *MsgPaymentVote) BtcEncode(w io.Writer, pver uint32) error {
	const op = "MsgPaymentVote.BtcEncode"
	if msg.Height < 0 || msg.Height > math.MaxUint32 {
		str := fmt.Sprintf("vote height %d is out of range", msg.Height)
		return messageError(op, ErrBadHeight, str)
	}
	if err := writeOutPoint(w, &msg.Voter); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(msg.Height)); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.Payee); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, pver, msg.Sig)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgPaymentVote) Command() string {
	return CmdPaymentVote
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgPaymentVote) MaxPayloadLength(pver uint32) uint32 {
	return votePayloadMax
}
