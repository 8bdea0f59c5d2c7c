// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package registry

import "github.com/noirofficial/noir-sub000/internal/snode"

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific registry rule violation.
const (
	// ErrListRequestRepeat indicates a peer asked for the full registry
	// again before the throttle window elapsed.
	ErrListRequestRepeat = ErrorKind("ErrListRequestRepeat")

	// ErrVerifyRequestRepeat indicates a peer challenged this node again
	// before the throttle window elapsed.
	ErrVerifyRequestRepeat = ErrorKind("ErrVerifyRequestRepeat")

	// ErrUnsolicitedVerify indicates a verification response arrived from
	// a peer that was never challenged.
	ErrUnsolicitedVerify = ErrorKind("ErrUnsolicitedVerify")

	// ErrVerifyMismatch indicates a verification response does not match
	// the nonce or height of the challenge.
	ErrVerifyMismatch = ErrorKind("ErrVerifyMismatch")

	// ErrAlreadyVerified indicates a verification response for an address
	// that was already verified.
	ErrAlreadyVerified = ErrorKind("ErrAlreadyVerified")

	// ErrNoVerifiedNode indicates no node at the responding address signed
	// the verification response.
	ErrNoVerifiedNode = ErrorKind("ErrNoVerifiedNode")

	// ErrSelfVerify indicates a verification broadcast claims a node
	// verified itself.
	ErrSelfVerify = ErrorKind("ErrSelfVerify")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// ruleError creates a snode.RuleError for a registry error kind.
func ruleError(kind ErrorKind, banScore uint32, desc string) snode.RuleError {
	return snode.NewRuleError(kind, banScore, desc)
}
