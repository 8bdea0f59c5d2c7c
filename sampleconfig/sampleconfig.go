// Copyright (c) 2017-2022 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sampleconfig provides the commented example configuration written
// for snoded when no configuration file exists.
package sampleconfig

import (
	_ "embed"
)

// sampleSnodedConf is a string containing the commented example config for
// snoded.
//
//go:embed sample-snoded.conf
var sampleSnodedConf string

// Snoded returns a string containing the commented example config for snoded.
func Snoded() string {
	return sampleSnodedConf
}
