// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snode

import "fmt"

// State is the activation state of a service node record.
type State uint8

// These constants define the closed set of activation states.
const (
	// StatePreEnabled is a freshly announced node that has not yet been
	// pinged long enough after its broadcast.
	StatePreEnabled State = iota

	// StateEnabled is a healthy node eligible for payment.
	StateEnabled

	// StateExpired is a node that missed pings for longer than the
	// expiration interval.
	StateExpired

	// StateOutpointSpent is a node whose collateral is gone.  It is
	// terminal and the record is removed on the next maintenance pass.
	StateOutpointSpent

	// StateUpdateRequired is a node running a protocol version that is
	// no longer accepted.
	StateUpdateRequired

	// StateWatchdogExpired is a node that missed watchdog votes while the
	// watchdog is active.
	StateWatchdogExpired

	// StateNewStartRequired is a node silent for so long that only a fresh
	// broadcast can revive it.
	StateNewStartRequired

	// StatePoSeBan is a node banned by proof of service.
	StatePoSeBan

	numStates
)

var stateStrings = [numStates]string{
	StatePreEnabled:       "PRE_ENABLED",
	StateEnabled:          "ENABLED",
	StateExpired:          "EXPIRED",
	StateOutpointSpent:    "OUTPOINT_SPENT",
	StateUpdateRequired:   "UPDATE_REQUIRED",
	StateWatchdogExpired:  "WATCHDOG_EXPIRED",
	StateNewStartRequired: "NEW_START_REQUIRED",
	StatePoSeBan:          "POSE_BAN",
}

// String returns the state as a human-readable string.
func (s State) String() string {
	if s < numStates {
		return stateStrings[s]
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// IsValidForAutoStart returns whether a remote controller may adopt a record
// in this state as its own.
func (s State) IsValidForAutoStart() bool {
	switch s {
	case StatePreEnabled, StateEnabled, StateExpired, StateWatchdogExpired:
		return true
	case StateOutpointSpent, StateUpdateRequired, StateNewStartRequired,
		StatePoSeBan:
		return false
	}
	return false
}

// IsValidForPayment returns whether a record in this state may be elected
// for payment.  Watchdog expired nodes remain payable while the watchdog is
// inactive.
func (s State) IsValidForPayment(watchdogActive bool) bool {
	switch s {
	case StateEnabled:
		return true
	case StateWatchdogExpired:
		return !watchdogActive
	case StatePreEnabled, StateExpired, StateOutpointSpent,
		StateUpdateRequired, StateNewStartRequired, StatePoSeBan:
		return false
	}
	return false
}
