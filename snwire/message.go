// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snwire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

// ProtocolVersion is the latest service node protocol version this package
// supports.
const ProtocolVersion uint32 = 90026

// MinProtocolVersion is the oldest service node protocol version that is
// still accepted for payments before the updated version is enforced.
const MinProtocolVersion uint32 = 90025

// MessageHeaderSize is the number of bytes in a message header.  Network
// (magic) 4 bytes + command 12 bytes + payload length 4 bytes + checksum 4
// bytes.
const MessageHeaderSize = 24

// CommandSize is the fixed size of all commands in the common message header.
// Shorter commands must be zero padded.
const CommandSize = 12

// MaxMessagePayload is the maximum bytes a message can be regardless of other
// individual limits imposed by messages themselves.
const MaxMessagePayload = 1024 * 1024 * 2

// Commands used in message headers which describe the type of message.
const (
	CmdSNBroadcast        = "snb"
	CmdSNPing             = "snp"
	CmdSNListRequest      = "dseg"
	CmdPaymentVote        = "snw"
	CmdPaymentSyncRequest = "snget"
	CmdGetPaymentBlocks   = "snblocks"
	CmdSyncStatus         = "ssc"
	CmdVerifyChallenge    = "snvchal"
	CmdVerifyResponse     = "snvresp"
	CmdVerifyBroadcast    = "snvbcast"
	CmdGetSporks          = "getsporks"
	CmdSNVersion          = "snver"
)

// Message is an interface that describes a service node message.  It has the
// same method set as wire.Message so the messages in this package can be
// carried by any transport that understands the base protocol interface.
type Message interface {
	BtcDecode(io.Reader, uint32) error
	BtcEncode(io.Writer, uint32) error
	Command() string
	MaxPayloadLength(uint32) uint32
}

var _ wire.Message = Message(nil)

// makeEmptyMessage creates a message of the appropriate concrete type based
// on the command.
func makeEmptyMessage(command string) (Message, error) {
	const op = "makeEmptyMessage"

	var msg Message
	switch command {
	case CmdSNBroadcast:
		msg = &MsgSNBroadcast{}

	case CmdSNPing:
		msg = &MsgSNPing{}

	case CmdSNListRequest:
		msg = &MsgSNListRequest{}

	case CmdPaymentVote:
		msg = &MsgPaymentVote{}

	case CmdPaymentSyncRequest:
		msg = &MsgPaymentSyncRequest{}

	case CmdGetPaymentBlocks:
		msg = &MsgGetPaymentBlocks{}

	case CmdSyncStatus:
		msg = &MsgSyncStatus{}

	case CmdVerifyChallenge:
		msg = &MsgVerifyChallenge{}

	case CmdVerifyResponse:
		msg = &MsgVerifyResponse{}

	case CmdVerifyBroadcast:
		msg = &MsgVerifyBroadcast{}

	case CmdGetSporks:
		msg = &MsgGetSporks{}

	case CmdSNVersion:
		msg = &MsgSNVersion{}

	default:
		str := fmt.Sprintf("unhandled command [%s]", command)
		return nil, messageError(op, ErrUnknownCmd, str)
	}
	return msg, nil
}

// messageHeader defines the header structure for all service node messages.
type messageHeader struct {
	magic    wire.CurrencyNet // 4 bytes
	command  string           // 12 bytes
	length   uint32           // 4 bytes
	checksum [4]byte          // 4 bytes
}

// readMessageHeader reads a message header from r.
func readMessageHeader(r io.Reader) (int, *messageHeader, error) {
	var headerBytes [MessageHeaderSize]byte
	n, err := io.ReadFull(r, headerBytes[:])
	if err != nil {
		return n, nil, err
	}

	hdr := messageHeader{}
	hdr.magic = wire.CurrencyNet(binary.LittleEndian.Uint32(headerBytes[0:4]))
	command := headerBytes[4 : 4+CommandSize]
	hdr.command = string(bytes.TrimRight(command, string(rune(0))))
	hdr.length = binary.LittleEndian.Uint32(headerBytes[16:20])
	copy(hdr.checksum[:], headerBytes[20:24])

	return n, &hdr, nil
}

// isStrictAscii returns whether the passed string only contains printable
// ascii characters.
func isStrictAscii(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// WriteMessageN writes a service node message to w including the necessary
// header information and returns the number of bytes written.
func WriteMessageN(w io.Writer, msg Message, pver uint32, net wire.CurrencyNet) (int, error) {
	const op = "WriteMessage"

	cmd := msg.Command()
	if len(cmd) > CommandSize {
		str := fmt.Sprintf("command [%s] is too long [max %v]", cmd,
			CommandSize)
		return 0, messageError(op, ErrCmdTooLong, str)
	}

	var bw bytes.Buffer
	if err := msg.BtcEncode(&bw, pver); err != nil {
		return 0, err
	}
	payload := bw.Bytes()
	lenp := uint32(len(payload))

	if len(payload) > MaxMessagePayload {
		str := fmt.Sprintf("message payload is too large - encoded "+
			"%d bytes, but maximum message payload is %d bytes",
			len(payload), MaxMessagePayload)
		return 0, messageError(op, ErrPayloadTooLarge, str)
	}
	if mpl := msg.MaxPayloadLength(pver); lenp > mpl {
		str := fmt.Sprintf("message payload is too large - encoded "+
			"%d bytes, but maximum message payload size for "+
			"messages of type [%s] is %d.", lenp, cmd, mpl)
		return 0, messageError(op, ErrPayloadTooLarge, str)
	}

	var hdr [MessageHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(net))
	copy(hdr[4:4+CommandSize], cmd)
	binary.LittleEndian.PutUint32(hdr[16:20], lenp)
	cksum := chainhash.HashB(payload)
	copy(hdr[20:24], cksum[:4])

	totalBytes, err := w.Write(hdr[:])
	if err != nil {
		return totalBytes, err
	}
	n, err := w.Write(payload)
	totalBytes += n
	return totalBytes, err
}

// WriteMessage writes a service node message to w including the necessary
// header information.
func WriteMessage(w io.Writer, msg Message, pver uint32, net wire.CurrencyNet) error {
	_, err := WriteMessageN(w, msg, pver, net)
	return err
}

// ReadMessageN reads, validates, and parses the next service node message
// from r for the provided protocol version and network.  It returns the number
// of bytes read in addition to the parsed message and the raw payload.
func ReadMessageN(r io.Reader, pver uint32, net wire.CurrencyNet) (int, Message, []byte, error) {
	const op = "ReadMessage"
	totalBytes, hdr, err := readMessageHeader(r)
	if err != nil {
		return totalBytes, nil, nil, err
	}

	if hdr.length > MaxMessagePayload {
		str := fmt.Sprintf("message payload is too large - header "+
			"indicates %d bytes, but max message payload is %d bytes.",
			hdr.length, MaxMessagePayload)
		return totalBytes, nil, nil, messageError(op, ErrPayloadTooLarge, str)
	}

	if hdr.magic != net {
		str := fmt.Sprintf("message from other network [%v]", hdr.magic)
		return totalBytes, nil, nil, messageError(op, ErrWrongNetwork, str)
	}

	command := hdr.command
	if !isStrictAscii(command) {
		str := fmt.Sprintf("invalid command %v", []byte(command))
		return totalBytes, nil, nil, messageError(op, ErrMalformedCmd, str)
	}

	msg, err := makeEmptyMessage(command)
	if err != nil {
		return totalBytes, nil, nil, err
	}

	// Check for maximum length based on the message type before reading the
	// payload so a well-formed header can't be used to exhaust memory.
	if mpl := msg.MaxPayloadLength(pver); hdr.length > mpl {
		str := fmt.Sprintf("payload exceeds max length - header "+
			"indicates %v bytes, but max payload size for messages of "+
			"type [%v] is %v.", hdr.length, command, mpl)
		return totalBytes, nil, nil, messageError(op, ErrPayloadTooLarge, str)
	}

	payload := make([]byte, hdr.length)
	n, err := io.ReadFull(r, payload)
	totalBytes += n
	if err != nil {
		return totalBytes, nil, nil, err
	}

	checksum := chainhash.HashB(payload)[0:4]
	if !bytes.Equal(checksum, hdr.checksum[:]) {
		str := fmt.Sprintf("payload checksum failed - header indicates %v, "+
			"but actual checksum is %v.", hdr.checksum, checksum)
		return totalBytes, nil, nil, messageError(op, ErrPayloadChecksum, str)
	}

	if err := msg.BtcDecode(bytes.NewReader(payload), pver); err != nil {
		return totalBytes, nil, nil, err
	}

	return totalBytes, msg, payload, nil
}

// ReadMessage reads, validates, and parses the next service node message from
// r.  It only differs from ReadMessageN in that it doesn't return the number of
// bytes read.
func ReadMessage(r io.Reader, pver uint32, net wire.CurrencyNet) (Message, []byte, error) {
	_, msg, buf, err := ReadMessageN(r, pver, net)
	return msg, buf, err
}
