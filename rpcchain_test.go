// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/noirofficial/noir-sub000/internal/snode"
)

// TestUtxoHeight ensures output heights derived from the confirmations the
// base node reports never yield more confirmations than reported.
func TestUtxoHeight(t *testing.T) {
	tests := []struct {
		name          string
		tip           int64
		confirmations int64
		wantHeight    int64
	}{
		{name: "mined at tip", tip: 500, confirmations: 1, wantHeight: 500},
		{name: "deep", tip: 500, confirmations: 15, wantHeight: 486},
		{name: "unconfirmed", tip: 500, confirmations: 0, wantHeight: 501},
	}
	for _, test := range tests {
		height := utxoHeight(test.tip, test.confirmations)
		if height != test.wantHeight {
			t.Errorf("%s: got height %d, want %d", test.name, height,
				test.wantHeight)
			continue
		}
		entry := &snode.UtxoEntry{BlockHeight: height}
		if got := entry.Confirmations(test.tip); got != test.confirmations {
			t.Errorf("%s: got %d confirmations, want %d", test.name, got,
				test.confirmations)
		}
	}
}
