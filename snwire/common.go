// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snwire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

const (
	// MaxPubKeyLen is the maximum length of an encoded public key.  Only
	// compressed secp256k1 public keys are accepted.
	MaxPubKeyLen = 33

	// MaxSigLen is the maximum length of a compact recoverable signature.
	MaxSigLen = 65

	// MaxScriptLen is the maximum length of a payee script or collateral
	// unlock script carried by a message.
	MaxScriptLen = 1650

	// outPointSize is the serialized size of an outpoint: hash, index and
	// tree.
	outPointSize = chainhash.HashSize + 4 + 1

	// netAddrSize is the serialized size of a service address: a 16 byte
	// IPv6 (or IPv4-mapped) address followed by a big endian port.
	netAddrSize = 16 + 2
)

// readUint32 reads a little endian uint32 from r.
func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// writeUint32 writes a little endian uint32 to w.
func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// readInt64 reads a little endian int64 from r.
func readInt64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// writeInt64 writes a little endian int64 to w.
func writeInt64(w io.Writer, v int64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	_, err := w.Write(b[:])
	return err
}

// readHash reads a hash from r.
func readHash(r io.Reader, h *chainhash.Hash) error {
	_, err := io.ReadFull(r, h[:])
	return err
}

// readOutPoint reads the next sequence of bytes from r as an OutPoint.
func readOutPoint(r io.Reader, op *wire.OutPoint) error {
	var b [outPointSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	copy(op.Hash[:], b[:chainhash.HashSize])
	op.Index = binary.LittleEndian.Uint32(b[chainhash.HashSize:])
	op.Tree = int8(b[outPointSize-1])
	return nil
}

// writeOutPoint encodes op to w.
func writeOutPoint(w io.Writer, op *wire.OutPoint) error {
	var b [outPointSize]byte
	copy(b[:], op.Hash[:])
	binary.LittleEndian.PutUint32(b[chainhash.HashSize:], op.Index)
	b[outPointSize-1] = byte(op.Tree)
	_, err := w.Write(b[:])
	return err
}

// readNetAddr reads a service address from r.
func readNetAddr(r io.Reader, op string) (netip.AddrPort, error) {
	var b [netAddrSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return netip.AddrPort{}, err
	}
	var ip [16]byte
	copy(ip[:], b[:16])
	addr := netip.AddrFrom16(ip).Unmap()
	if !addr.IsValid() {
		return netip.AddrPort{}, messageError(op, ErrBadAddress,
			"invalid service address")
	}
	port := binary.BigEndian.Uint16(b[16:])
	return netip.AddrPortFrom(addr, port), nil
}

// writeNetAddr encodes a service address to w.  The zero value is encoded as
// the unspecified IPv6 address.
func writeNetAddr(w io.Writer, addr netip.AddrPort) error {
	var b [netAddrSize]byte
	if addr.Addr().IsValid() {
		ip := addr.Addr().As16()
		copy(b[:16], ip[:])
	}
	binary.BigEndian.PutUint16(b[16:], addr.Port())
	_, err := w.Write(b[:])
	return err
}

// readBounded reads a variable length byte slice with the provided maximum
// length and reports violations with the given error kind.
func readBounded(r io.Reader, pver uint32, max uint32, op, field string,
	kind ErrorKind) ([]byte, error) {

	count, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return nil, err
	}
	if count > uint64(max) {
		str := fmt.Sprintf("%s is larger than the max allowed size "+
			"[count %d, max %d]", field, count, max)
		return nil, messageError(op, kind, str)
	}
	if count == 0 {
		return nil, nil
	}
	b := make([]byte, count)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// OutPointString returns the short form of an outpoint used in signed
// messages and log output.
func OutPointString(op *wire.OutPoint) string {
	return fmt.Sprintf("%s-%d", op.Hash, op.Index)
}
