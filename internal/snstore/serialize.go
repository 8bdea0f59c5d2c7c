// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/snwire"
)

// pver is the protocol version used to encode the messages embedded in the
// stored values.
const pver = snwire.ProtocolVersion

const (
	// maxKeyLen and maxSigLen bound the variable length fields of a
	// serialized record.
	maxKeyLen = 65
	maxSigLen = 128

	// maxAddrLen bounds a serialized service address.
	maxAddrLen = 32
)

// byteOrder is the preferred byte order used for serializing numeric fields
// for storage in the database.
var byteOrder = binary.LittleEndian

// -----------------------------------------------------------------------------
// The serialized format of a service node record is:
//
//	<outpoint><addr><collateral key><operator key><ping flag>[ping]<sig>
//	<sig time><protocol version><state><last paid height><last paid time>
//	<pose ban score><pose ban height><last watchdog vote><collateral height>
//
//	Field               Type       Size
//	outpoint            OutPoint   37 bytes
//	addr                []byte     variable (varbytes of the binary address)
//	collateral key      []byte     variable
//	operator key        []byte     variable
//	ping flag           uint8      1 byte (1 when a ping follows)
//	ping                MsgSNPing  variable
//	sig                 []byte     variable
//	sig time            int64      8 bytes
//	protocol version    uint32     4 bytes
//	state               uint8      1 byte
//	last paid height    int64      8 bytes
//	last paid time      int64      8 bytes
//	pose ban score      int32      4 bytes
//	pose ban height     int64      8 bytes
//	last watchdog vote  int64      8 bytes
//	collateral height   int64      8 bytes
//
// The registry value is a varint count followed by that many records and the
// payments value is a varint count followed by that many encoded votes.
// -----------------------------------------------------------------------------

// recordWriter accumulates a serialized value and keeps the first error.
type recordWriter struct {
	buf bytes.Buffer
	err error
}

func (w *recordWriter) uint8(v uint8) {
	if w.err == nil {
		w.err = w.buf.WriteByte(v)
	}
}

func (w *recordWriter) uint32(v uint32) {
	if w.err == nil {
		var b [4]byte
		byteOrder.PutUint32(b[:], v)
		_, w.err = w.buf.Write(b[:])
	}
}

func (w *recordWriter) int64(v int64) {
	if w.err == nil {
		var b [8]byte
		byteOrder.PutUint64(b[:], uint64(v))
		_, w.err = w.buf.Write(b[:])
	}
}

func (w *recordWriter) varBytes(b []byte) {
	if w.err == nil {
		w.err = wire.WriteVarBytes(&w.buf, pver, b)
	}
}

func (w *recordWriter) varInt(v uint64) {
	if w.err == nil {
		w.err = wire.WriteVarInt(&w.buf, pver, v)
	}
}

func (w *recordWriter) outPoint(op *wire.OutPoint) {
	w.raw(op.Hash[:])
	w.uint32(op.Index)
	w.uint8(uint8(op.Tree))
}

func (w *recordWriter) raw(b []byte) {
	if w.err == nil {
		_, w.err = w.buf.Write(b)
	}
}

func (w *recordWriter) message(msg snwire.Message) {
	if w.err == nil {
		w.err = msg.BtcEncode(&w.buf, pver)
	}
}

// recordReader decodes a serialized value and keeps the first error.
type recordReader struct {
	r   io.Reader
	err error
}

func (r *recordReader) full(b []byte) {
	if r.err == nil {
		_, r.err = io.ReadFull(r.r, b)
	}
}

func (r *recordReader) uint8() uint8 {
	var b [1]byte
	r.full(b[:])
	return b[0]
}

func (r *recordReader) uint32() uint32 {
	var b [4]byte
	r.full(b[:])
	return byteOrder.Uint32(b[:])
}

func (r *recordReader) int64() int64 {
	var b [8]byte
	r.full(b[:])
	return int64(byteOrder.Uint64(b[:]))
}

func (r *recordReader) varBytes(max uint32, field string) []byte {
	if r.err != nil {
		return nil
	}
	var b []byte
	b, r.err = wire.ReadVarBytes(r.r, pver, max, field)
	return b
}

func (r *recordReader) varInt() uint64 {
	if r.err != nil {
		return 0
	}
	var v uint64
	v, r.err = wire.ReadVarInt(r.r, pver)
	return v
}

func (r *recordReader) outPoint() wire.OutPoint {
	var op wire.OutPoint
	r.full(op.Hash[:chainhash.HashSize])
	op.Index = r.uint32()
	op.Tree = int8(r.uint8())
	return op
}

func (r *recordReader) message(msg snwire.Message) {
	if r.err == nil {
		r.err = msg.BtcDecode(r.r, pver)
	}
}

// putRecord serializes rec to w.
func putRecord(w *recordWriter, rec *snode.Record) {
	addr, err := rec.Addr.MarshalBinary()
	if err != nil && w.err == nil {
		w.err = err
	}
	w.outPoint(&rec.Outpoint)
	w.varBytes(addr)
	w.varBytes(rec.CollateralKey)
	w.varBytes(rec.OperatorKey)
	if rec.LastPing.IsZero() {
		w.uint8(0)
	} else {
		w.uint8(1)
		w.message(&rec.LastPing)
	}
	w.varBytes(rec.Sig)
	w.int64(rec.SigTime)
	w.uint32(rec.ProtocolVersion)
	w.uint8(uint8(rec.State))
	w.int64(rec.LastPaidHeight)
	w.int64(rec.LastPaidTime)
	w.uint32(uint32(rec.PoSeBanScore))
	w.int64(rec.PoSeBanHeight)
	w.int64(rec.LastWatchdogVote)
	w.int64(rec.CollateralHeight)
}

// readRecord deserializes a record from r.
func readRecord(r *recordReader) snode.Record {
	var rec snode.Record
	rec.Outpoint = r.outPoint()
	addr := r.varBytes(maxAddrLen, "addr")
	if r.err == nil {
		r.err = rec.Addr.UnmarshalBinary(addr)
	}
	rec.CollateralKey = r.varBytes(maxKeyLen, "collateral key")
	rec.OperatorKey = r.varBytes(maxKeyLen, "operator key")
	if r.uint8() == 1 {
		r.message(&rec.LastPing)
	}
	rec.Sig = r.varBytes(maxSigLen, "sig")
	rec.SigTime = r.int64()
	rec.ProtocolVersion = r.uint32()
	rec.State = snode.State(r.uint8())
	rec.LastPaidHeight = r.int64()
	rec.LastPaidTime = r.int64()
	rec.PoSeBanScore = int32(r.uint32())
	rec.PoSeBanHeight = r.int64()
	rec.LastWatchdogVote = r.int64()
	rec.CollateralHeight = r.int64()
	if r.err == nil && rec.State > snode.StatePoSeBan {
		r.err = fmt.Errorf("invalid state %d for %v", rec.State, rec.Outpoint)
	}
	return rec
}

// serializeRecords returns the serialized registry value for recs.
func serializeRecords(recs []snode.Record) ([]byte, error) {
	var w recordWriter
	w.varInt(uint64(len(recs)))
	for i := range recs {
		putRecord(&w, &recs[i])
	}
	return w.buf.Bytes(), w.err
}

// deserializeRecords decodes a registry value.
func deserializeRecords(serialized []byte) ([]snode.Record, error) {
	r := recordReader{r: bytes.NewReader(serialized)}
	count := r.varInt()
	if r.err == nil && count > uint64(len(serialized)) {
		str := fmt.Sprintf("record count %d exceeds the value size %d",
			count, len(serialized))
		return nil, storeError(ErrDeserialize, str)
	}
	recs := make([]snode.Record, 0, count)
	for i := uint64(0); i < count && r.err == nil; i++ {
		recs = append(recs, readRecord(&r))
	}
	if r.err != nil {
		str := fmt.Sprintf("unable to decode service node records: %v",
			r.err)
		return nil, storeError(ErrDeserialize, str)
	}
	return recs, nil
}

// serializeVotes returns the serialized payments value for votes.
func serializeVotes(votes []snwire.MsgPaymentVote) ([]byte, error) {
	var w recordWriter
	w.varInt(uint64(len(votes)))
	for i := range votes {
		w.message(&votes[i])
	}
	return w.buf.Bytes(), w.err
}

// deserializeVotes decodes a payments value.
func deserializeVotes(serialized []byte) ([]snwire.MsgPaymentVote, error) {
	r := recordReader{r: bytes.NewReader(serialized)}
	count := r.varInt()
	if r.err == nil && count > uint64(len(serialized)) {
		str := fmt.Sprintf("vote count %d exceeds the value size %d", count,
			len(serialized))
		return nil, storeError(ErrDeserialize, str)
	}
	votes := make([]snwire.MsgPaymentVote, count)
	for i := range votes {
		r.message(&votes[i])
		if r.err != nil {
			break
		}
	}
	if r.err != nil {
		str := fmt.Sprintf("unable to decode payment votes: %v", r.err)
		return nil, storeError(ErrDeserialize, str)
	}
	return votes, nil
}
