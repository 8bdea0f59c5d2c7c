// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snwire

import (
	"bytes"
	"io"
	"net/netip"
	"strconv"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

// verifyChallengePayload is the size of an encoded verification challenge:
// address, nonce and block height.
const verifyChallengePayload = netAddrSize + 4 + 4

// MsgVerifyChallenge implements the Message interface and represents the
// first phase of a proof of service verification.  It asks the node listening
// at Addr to sign Nonce together with the hash of the block at BlockHeight.
type MsgVerifyChallenge struct {
	Addr        netip.AddrPort
	Nonce       uint32
	BlockHeight int64
}

// BtcDecode decodes r using the service node protocol encoding into the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgVerifyChallenge) BtcDecode(r io.Reader, pver uint32) error {
	const op = "MsgVerifyChallenge.BtcDecode"
	return decodeChallenge(r, op, &msg.Addr, &msg.Nonce, &msg.BlockHeight)
}

// BtcEncode encodes the receiver to w using the service node protocol
// encoding.  This is part of the Message interface implementation.
func (msg *MsgVerifyChallenge) BtcEncode(w io.Writer, pver uint32) error {
	return encodeChallenge(w, msg.Addr, msg.Nonce, msg.BlockHeight)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgVerifyChallenge) Command() string {
	return CmdVerifyChallenge
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgVerifyChallenge) MaxPayloadLength(pver uint32) uint32 {
	return verifyChallengePayload
}

// MsgVerifyResponse implements the Message interface and represents the reply
// to a verification challenge, signed with the operating key of the node that
// was challenged.
type MsgVerifyResponse struct {
	Addr        netip.AddrPort
	Nonce       uint32
	BlockHeight int64
	Sig         []byte
}

// SignedMessage returns the canonical string signed by the challenged node.
// The block hash is the hash of the block at BlockHeight.
func (msg *MsgVerifyResponse) SignedMessage(blockHash *chainhash.Hash) string {
	return verifyReplyMessage(msg.Addr, msg.Nonce, blockHash)
}

// BtcDecode decodes r using the service node protocol encoding into the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgVerifyResponse) BtcDecode(r io.Reader, pver uint32) error {
	const op = "MsgVerifyResponse.BtcDecode"
	err := decodeChallenge(r, op, &msg.Addr, &msg.Nonce, &msg.BlockHeight)
	if err != nil {
		return err
	}
	msg.Sig, err = readBounded(r, pver, MaxSigLen, op, "signature",
		ErrSigTooLong)
	return err
}

// BtcEncode encodes the receiver to w using the service node protocol
// encoding.  This is part of the Message interface implementation.
func (msg *MsgVerifyResponse) BtcEncode(w io.Writer, pver uint32) error {
	err := encodeChallenge(w, msg.Addr, msg.Nonce, msg.BlockHeight)
	if err != nil {
		return err
	}
	return wire.WriteVarBytes(w, pver, msg.Sig)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgVerifyResponse) Command() string {
	return CmdVerifyResponse
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgVerifyResponse) MaxPayloadLength(pver uint32) uint32 {
	return verifyChallengePayload + 1 + MaxSigLen
}

// MsgVerifyBroadcast implements the Message interface and represents the
// relayed result of a successful verification.  Verified identifies the node
// that answered the challenge and Verifier the node that issued it.  Sig1 is
// the verified node's response signature and Sig2 the verifier's
// co-signature binding both identities.
type MsgVerifyBroadcast struct {
	Addr        netip.AddrPort
	Nonce       uint32
	BlockHeight int64
	Verified    wire.OutPoint
	Verifier    wire.OutPoint
	Sig1        []byte
	Sig2        []byte
}

// Hash returns the identifier used to deduplicate relayed verifications.
func (msg *MsgVerifyBroadcast) Hash() chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(2*outPointSize + verifyChallengePayload)
	_ = writeOutPoint(&buf, &msg.Verified)
	_ = writeOutPoint(&buf, &msg.Verifier)
	_ = encodeChallenge(&buf, msg.Addr, msg.Nonce, msg.BlockHeight)
	return chainhash.HashH(buf.Bytes())
}

// ResponseMessage returns the string signed by the verified node.
func (msg *MsgVerifyBroadcast) ResponseMessage(blockHash *chainhash.Hash) string {
	return verifyReplyMessage(msg.Addr, msg.Nonce, blockHash)
}

// CoSignedMessage returns the string signed by the verifier.
func (msg *MsgVerifyBroadcast) CoSignedMessage(blockHash *chainhash.Hash) string {
	return verifyReplyMessage(msg.Addr, msg.Nonce, blockHash) +
		OutPointString(&msg.Verified) + OutPointString(&msg.Verifier)
}

// BtcDecode decodes r using the service node protocol encoding into the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgVerifyBroadcast) BtcDecode(r io.Reader, pver uint32) error {
	const op = "MsgVerifyBroadcast.BtcDecode"
	err := decodeChallenge(r, op, &msg.Addr, &msg.Nonce, &msg.BlockHeight)
	if err != nil {
		return err
	}
	if err := readOutPoint(r, &msg.Verified); err != nil {
		return err
	}
	if err := readOutPoint(r, &msg.Verifier); err != nil {
		return err
	}
	msg.Sig1, err = readBounded(r, pver, MaxSigLen, op, "signature",
		ErrSigTooLong)
	if err != nil {
		return err
	}
	msg.Sig2, err = readBounded(r, pver, MaxSigLen, op, "co-signature",
		ErrSigTooLong)
	return err
}

// BtcEncode encodes the receiver to w using the service node protocol
// encoding.  This is part of the Message interface implementation.
func (msg *MsgVerifyBroadcast) BtcEncode(w io.Writer, pver uint32) error {
	err := encodeChallenge(w, msg.Addr, msg.Nonce, msg.BlockHeight)
	if err != nil {
		return err
	}
	if err := writeOutPoint(w, &msg.Verified); err != nil {
		return err
	}
	if err := writeOutPoint(w, &msg.Verifier); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.Sig1); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, pver, msg.Sig2)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgVerifyBroadcast) Command() string {
	return CmdVerifyBroadcast
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgVerifyBroadcast) MaxPayloadLength(pver uint32) uint32 {
	return verifyChallengePayload + 2*outPointSize + 2*(1+MaxSigLen)
}

func verifyReplyMessage(addr netip.AddrPort, nonce uint32, blockHash *chainhash.Hash) string {
	return addr.String() + strconv.FormatUint(uint64(nonce), 10) +
		blockHash.String()
}

func decodeChallenge(r io.Reader, op string, addr *netip.AddrPort,
	nonce *uint32, height *int64) error {

	var err error
	if *addr, err = readNetAddr(r, op); err != nil {
		return err
	}
	if *nonce, err = readUint32(r); err != nil {
		return err
	}
	h, err := readUint32(r)
	if err != nil {
		return err
	}
	*height = int64(h)
	return nil
}

func encodeChallenge(w io.Writer, addr netip.AddrPort, nonce uint32, height int64) error {
	if err := writeNetAddr(w, addr); err != nil {
		return err
	}
	if err := writeUint32(w, nonce); err != nil {
		return err
	}
	return writeUint32(w, uint32(height))
}
