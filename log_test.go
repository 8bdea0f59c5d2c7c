// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/decred/slog"
)

// TestParseAndSetDebugLevels ensures debug levels are applied globally or per
// subsystem and invalid values are rejected.
func TestParseAndSetDebugLevels(t *testing.T) {
	tests := []struct {
		input string
		err   bool
		check map[string]slog.Level
	}{{
		input: "debug",
		check: map[string]slog.Level{"SNRG": slog.LevelDebug, "SRVR": slog.LevelDebug},
	}, {
		input: "SNRG=trace,SNPY=warn",
		check: map[string]slog.Level{"SNRG": slog.LevelTrace, "SNPY": slog.LevelWarn},
	}, {
		input: "bogus",
		err:   true,
	}, {
		input: "SNRG=trace,BOGUS=info",
		err:   true,
	}, {
		input: "SNRG=bogus",
		err:   true,
	}, {
		input: "SNRG",
		err:   true,
	}, {
		input: "SNRG=info,SNPY",
		err:   true,
	}}

	defer setLogLevels(defaultLogLevel)
	for _, test := range tests {
		err := parseAndSetDebugLevels(test.input)
		if test.err {
			if err == nil {
				t.Errorf("%q: expected error", test.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", test.input, err)
			continue
		}
		for subsys, want := range test.check {
			if got := subsystemLoggers[subsys].Level(); got != want {
				t.Errorf("%q: %s level: got %v, want %v", test.input,
					subsys, got, want)
			}
		}
	}
}
