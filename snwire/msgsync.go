// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snwire

import (
	"fmt"
	"io"

	"github.com/decred/dcrd/wire"
)

// MaxPaymentBlockHeights is the maximum number of heights a single
// getpaymentblocks message may request.
const MaxPaymentBlockHeights = 500

// Sync status item identifiers carried by MsgSyncStatus.
const (
	SyncItemList  int32 = 2
	SyncItemVotes int32 = 3
)

// MsgPaymentSyncRequest implements the Message interface and represents a
// request for the recent payment votes known to a peer.  Count is a hint of
// how many service nodes the requester knows about.
type MsgPaymentSyncRequest struct {
	Count uint32
}

// BtcDecode decodes r using the service node protocol encoding into the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgPaymentSyncRequest) BtcDecode(r io.Reader, pver uint32) error {
	var err error
	msg.Count, err = readUint32(r)
	return err
}

// BtcEncode encodes the receiver to w using the service node protocol
// encoding.  This is part of the Message interface implementation.
func (msg *MsgPaymentSyncRequest) BtcEncode(w io.Writer, pver uint32) error {
	return writeUint32(w, msg.Count)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgPaymentSyncRequest) Command() string {
	return CmdPaymentSyncRequest
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgPaymentSyncRequest) MaxPayloadLength(pver uint32) uint32 {
	return 4
}

// MsgGetPaymentBlocks implements the Message interface and represents a
// request for the votes of specific block heights the requester has little or
// no data for.
type MsgGetPaymentBlocks struct {
	Heights []int64
}

// AddHeight adds a height to the request.  It returns an error once the
// maximum number of heights has been reached.
func (msg *MsgGetPaymentBlocks) AddHeight(height int64) error {
	const op = "MsgGetPaymentBlocks.AddHeight"
	if len(msg.Heights) >= MaxPaymentBlockHeights {
		str := fmt.Sprintf("too many heights for message [max %d]",
			MaxPaymentBlockHeights)
		return messageError(op, ErrTooManyHeights, str)
	}
	if height < 0 {
		str := fmt.Sprintf("negative height %d", height)
		return messageError(op, ErrBadHeight, str)
	}
	msg.Heights = append(msg.Heights, height)
	return nil
}

// BtcDecode decodes r using the service node protocol encoding into the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgGetPaymentBlocks) BtcDecode(r io.Reader, pver uint32) error {
	const op = "MsgGetPaymentBlocks.BtcDecode"
	count, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	if count > MaxPaymentBlockHeights {
		str := fmt.Sprintf("too many heights for message "+
			"[count %d, max %d]", count, MaxPaymentBlockHeights)
		return messageError(op, ErrTooManyHeights, str)
	}
	msg.Heights = make([]int64, 0, count)
	for i := uint64(0); i < count; i++ {
		height, err := readUint32(r)
		if err != nil {
			return err
		}
		msg.Heights = append(msg.Heights, int64(height))
	}
	return nil
}

// BtcEncode encodes the receiver to w using the service node protocol
// encoding.  This is part of the Message interface implementation.
func (msg *MsgGetPaymentBlocks) BtcEncode(w io.Writer, pver uint32) error {
	const op = "MsgGetPaymentBlocks.BtcEncode"
	count := len(msg.Heights)
	if count > MaxPaymentBlockHeights {
		str := fmt.Sprintf("too many heights for message "+
			"[count %d, max %d]", count, MaxPaymentBlockHeights)
		return messageError(op, ErrTooManyHeights, str)
	}
	if err := wire.WriteVarInt(w, pver, uint64(count)); err != nil {
		return err
	}
	for _, height := range msg.Heights {
		if err := writeUint32(w, uint32(height)); err != nil {
			return err
		}
	}
	return nil
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgGetPaymentBlocks) Command() string {
	return CmdGetPaymentBlocks
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgGetPaymentBlocks) MaxPayloadLength(pver uint32) uint32 {
	return 3 + 4*MaxPaymentBlockHeights
}

// MsgSyncStatus implements the Message interface and reports how many items
// of a sync stage were sent in reply to a list or payment sync request.
type MsgSyncStatus struct {
	Item  int32
	Count uint32
}

// BtcDecode decodes r using the service node protocol encoding into the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgSyncStatus) BtcDecode(r io.Reader, pver uint32) error {
	item, err := readUint32(r)
	if err != nil {
		return err
	}
	msg.Item = int32(item)
	msg.Count, err = readUint32(r)
	return err
}

// BtcEncode encodes the receiver to w using the service node protocol
// encoding.  This is part of the Message interface implementation.
func (msg *MsgSyncStatus) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeUint32(w, uint32(msg.Item)); err != nil {
		return err
	}
	return writeUint32(w, msg.Count)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgSyncStatus) Command() string {
	return CmdSyncStatus
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgSyncStatus) MaxPayloadLength(pver uint32) uint32 {
	return 8
}

// MsgGetSporks implements the Message interface and represents a request for
// the current network feature flags.  It has no payload.
type MsgGetSporks struct{}

// BtcDecode decodes r using the service node protocol encoding into the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgGetSporks) BtcDecode(r io.Reader, pver uint32) error {
	return nil
}

// BtcEncode encodes the receiver to w using the service node protocol
// encoding.  This is part of the Message interface implementation.
func (msg *MsgGetSporks) BtcEncode(w io.Writer, pver uint32) error {
	return nil
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgGetSporks) Command() string {
	return CmdGetSporks
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgGetSporks) MaxPayloadLength(pver uint32) uint32 {
	return 0
}
