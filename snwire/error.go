// Copyright (c) 2015-2020 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snwire

import (
	"fmt"
)

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific MessageError.
const (
	// ErrCmdTooLong is returned when a command exceeds the maximum command
	// size allowed.
	ErrCmdTooLong = ErrorKind("ErrCmdTooLong")

	// ErrPayloadTooLarge is returned when a payload exceeds the maximum
	// payload size allowed.
	ErrPayloadTooLarge = ErrorKind("ErrPayloadTooLarge")

	// ErrWrongNetwork is returned when a message intended for a different
	// network is received.
	ErrWrongNetwork = ErrorKind("ErrWrongNetwork")

	// ErrMalformedCmd is returned when a malformed command is received.
	ErrMalformedCmd = ErrorKind("ErrMalformedCmd")

	// ErrUnknownCmd is returned when an unknown command is received.
	ErrUnknownCmd = ErrorKind("ErrUnknownCmd")

	// ErrPayloadChecksum is returned when a message with an invalid checksum
	// is received.
	ErrPayloadChecksum = ErrorKind("ErrPayloadChecksum")

	// ErrKeyTooLong is returned when an encoded public key exceeds the
	// maximum compressed public key size.
	ErrKeyTooLong = ErrorKind("ErrKeyTooLong")

	// ErrSigTooLong is returned when an encoded signature exceeds the
	// maximum compact signature size.
	ErrSigTooLong = ErrorKind("ErrSigTooLong")

	// ErrScriptTooLong is returned when a payee or unlock script exceeds
	// the maximum size allowed.
	ErrScriptTooLong = ErrorKind("ErrScriptTooLong")

	// ErrBadAddress is returned when an encoded network address cannot be
	// decoded.
	ErrBadAddress = ErrorKind("ErrBadAddress")

	// ErrTooManyHeights is returned when a payment blocks request names
	// more heights than allowed.
	ErrTooManyHeights = ErrorKind("ErrTooManyHeights")

	// ErrBadHeight is returned when a message references a negative block
	// height.
	ErrBadHeight = ErrorKind("ErrBadHeight")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// MessageError describes an issue with a message.  An example of some
// potential issues are messages from the wrong network, invalid commands,
// mismatched checksums, and exceeding max payloads.
//
// This provides a mechanism for the caller to type assert the error to
// differentiate between general io errors such as io.EOF and issues that
// resulted from malformed messages.
type MessageError struct {
	Func        string
	Err         error
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e MessageError) Error() string {
	if e.Func != "" {
		return fmt.Sprintf("%v: %v", e.Func, e.Description)
	}
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e MessageError) Unwrap() error {
	return e.Err
}

// messageError creates an Error given a set of arguments.
func messageError(fn string, kind ErrorKind, desc string) MessageError {
	return MessageError{Func: fn, Err: kind, Description: desc}
}
