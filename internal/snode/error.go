// Copyright (c) 2015-2020 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snode

import (
	"errors"
)

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific RuleError.
const (
	// ErrFutureTime indicates a message signature time is too far in the
	// future.
	ErrFutureTime = ErrorKind("ErrFutureTime")

	// ErrUnknownBlock indicates a message references a block hash that is
	// not known to the local chain view.  The local view may simply be
	// behind so this is a transient condition.
	ErrUnknownBlock = ErrorKind("ErrUnknownBlock")

	// ErrStaleBlock indicates a ping references a block too deep in the
	// chain to prove recent liveness.
	ErrStaleBlock = ErrorKind("ErrStaleBlock")

	// ErrBadAddress indicates an announced address is not publicly
	// routable on the current network.
	ErrBadAddress = ErrorKind("ErrBadAddress")

	// ErrBadPort indicates an announced address does not follow the port
	// policy of the current network.
	ErrBadPort = ErrorKind("ErrBadPort")

	// ErrProtocolTooOld indicates a node announced a protocol version
	// below the currently required minimum.
	ErrProtocolTooOld = ErrorKind("ErrProtocolTooOld")

	// ErrBadKey indicates an announced public key does not parse or does
	// not produce a standard pay-to-pubkey-hash script.
	ErrBadKey = ErrorKind("ErrBadKey")

	// ErrUnlockScript indicates a broadcast carries a non-empty unlock
	// script for its collateral input.
	ErrUnlockScript = ErrorKind("ErrUnlockScript")

	// ErrBadSignature indicates a signature does not verify against the
	// expected key.
	ErrBadSignature = ErrorKind("ErrBadSignature")

	// ErrCollateralSpent indicates the collateral output is spent or
	// unknown.
	ErrCollateralSpent = ErrorKind("ErrCollateralSpent")

	// ErrCollateralAmount indicates the collateral output does not hold
	// exactly the required amount.
	ErrCollateralAmount = ErrorKind("ErrCollateralAmount")

	// ErrCollateralImmature indicates the collateral output does not yet
	// have the required number of confirmations.
	ErrCollateralImmature = ErrorKind("ErrCollateralImmature")

	// ErrCollateralKey indicates the collateral output is not payable to
	// the announced collateral key.
	ErrCollateralKey = ErrorKind("ErrCollateralKey")

	// ErrSigTimeTooEarly indicates a broadcast was signed before its
	// collateral had the required number of confirmations.
	ErrSigTimeTooEarly = ErrorKind("ErrSigTimeTooEarly")

	// ErrStale indicates a message is older than, or the same as, the
	// state already held.
	ErrStale = ErrorKind("ErrStale")

	// ErrPoSeBanned indicates the target node is banned by proof of
	// service and refuses updates until its ban decays.
	ErrPoSeBanned = ErrorKind("ErrPoSeBanned")

	// ErrUnknownNode indicates a message references a node that is not in
	// the registry.
	ErrUnknownNode = ErrorKind("ErrUnknownNode")

	// ErrPingTooEarly indicates a ping arrived before the minimum
	// re-announcement interval elapsed.
	ErrPingTooEarly = ErrorKind("ErrPingTooEarly")

	// ErrNewStartRequired indicates a node has been silent for too long
	// and needs a fresh broadcast rather than a ping.
	ErrNewStartRequired = ErrorKind("ErrNewStartRequired")

	// ErrUpdateRequired indicates a node runs a protocol version that is
	// no longer accepted.
	ErrUpdateRequired = ErrorKind("ErrUpdateRequired")

	// ErrLookupFailed indicates a chain view lookup failed.
	ErrLookupFailed = ErrorKind("ErrLookupFailed")

	// ErrKeyMismatch indicates a broadcast for a known identity carries a
	// different collateral key than the stored record.
	ErrKeyMismatch = ErrorKind("ErrKeyMismatch")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// RuleError identifies a rule violation.  It is used to indicate that
// processing of a service node message failed due to one of the many
// validation rules.  It has full support for errors.Is and errors.As, so the
// caller can ascertain the specific reason for the error by checking the
// underlying error.
//
// BanScore is the misbehavior score the peer that relayed the offending
// message should be charged.  It is zero for stale, transient and policy
// violations.
type RuleError struct {
	Err         error
	Description string
	BanScore    uint32
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e RuleError) Unwrap() error {
	return e.Err
}

// NewRuleError creates a RuleError given a set of arguments.  It is exported
// so the packages that build on node records report violations the same way.
func NewRuleError(kind error, banScore uint32, desc string) RuleError {
	return RuleError{Err: kind, Description: desc, BanScore: banScore}
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(kind ErrorKind, banScore uint32, desc string) RuleError {
	return RuleError{Err: kind, Description: desc, BanScore: banScore}
}

// BanScore returns the misbehavior score carried by err, or zero when err is
// not a RuleError.
func BanScore(err error) uint32 {
	var rerr RuleError
	if errors.As(err, &rerr) {
		return rerr.BanScore
	}
	return 0
}

// IsTransient returns whether err describes a condition that may resolve
// itself once the local chain view catches up.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnknownBlock) ||
		errors.Is(err, ErrCollateralImmature) ||
		errors.Is(err, ErrLookupFailed)
}
