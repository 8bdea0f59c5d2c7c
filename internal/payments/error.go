// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payments

import "github.com/noirofficial/noir-sub000/internal/snode"

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific ledger rule violation.
const (
	// ErrVoteHeight indicates a vote targets a height outside of the
	// window the ledger tracks.
	ErrVoteHeight = ErrorKind("ErrVoteHeight")

	// ErrUnknownVoter indicates a vote was cast by a node missing from the
	// registry.
	ErrUnknownVoter = ErrorKind("ErrUnknownVoter")

	// ErrVoterProtocol indicates a vote was cast by a node running a
	// protocol version too old to take part in payments.
	ErrVoterProtocol = ErrorKind("ErrVoterProtocol")

	// ErrVoterRank indicates a vote was cast by a node not ranked high
	// enough to vote for the height.
	ErrVoterRank = ErrorKind("ErrVoterRank")

	// ErrAlreadyVoted indicates the voter already has a vote for the
	// height.
	ErrAlreadyVoted = ErrorKind("ErrAlreadyVoted")

	// ErrSyncRequestRepeat indicates a peer asked for the payment votes
	// again during the same sync.
	ErrSyncRequestRepeat = ErrorKind("ErrSyncRequestRepeat")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// ruleError creates a snode.RuleError for a ledger error kind.
func ruleError(kind error, banScore uint32, desc string) snode.RuleError {
	return snode.NewRuleError(kind, banScore, desc)
}
