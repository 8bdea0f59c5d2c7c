// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snode

import "fmt"

// IneligibleReason identifies why a node can not be elected for payment.
type IneligibleReason uint8

// These constants define the reasons a node is skipped by the election.
const (
	// Eligible means the node passed every filter.
	Eligible IneligibleReason = iota

	// IneligibleUnknown means the node is not in the registry.
	IneligibleUnknown

	// IneligibleState means the node is not in a payable state.
	IneligibleState

	// IneligibleProtocol means the node runs a protocol version below
	// the payments minimum.
	IneligibleProtocol

	// IneligibleScheduled means the node is already scheduled to be paid
	// in one of the upcoming blocks.
	IneligibleScheduled

	// IneligibleCollateralAge means the collateral has fewer
	// confirmations than there are nodes in the registry.
	IneligibleCollateralAge

	// IneligibleTooNew means the node was announced less than one payment
	// cycle ago.
	IneligibleTooNew
)

// Ineligibility is the result of evaluating a node against the election
// filters.  Detail carries the value that failed the filter: the state for
// IneligibleState, the protocol version, the collateral confirmations, or the
// broadcast signature time.
type Ineligibility struct {
	Reason IneligibleReason
	State  State
	Detail int64
}

// IsEligible returns whether the node passed every filter.
func (e Ineligibility) IsEligible() bool {
	return e.Reason == Eligible
}

// String returns a human-readable description of the result.
func (e Ineligibility) String() string {
	switch e.Reason {
	case Eligible:
		return "eligible"
	case IneligibleUnknown:
		return "unknown node"
	case IneligibleState:
		return fmt.Sprintf("not payable in state %v", e.State)
	case IneligibleProtocol:
		return fmt.Sprintf("protocol version %d too old", e.Detail)
	case IneligibleScheduled:
		return "already scheduled for payment"
	case IneligibleCollateralAge:
		return fmt.Sprintf("collateral has only %d confirmations", e.Detail)
	case IneligibleTooNew:
		return fmt.Sprintf("announced too recently (at %d)", e.Detail)
	}
	return fmt.Sprintf("unknown reason %d", e.Reason)
}
