// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/activenode"
	"github.com/noirofficial/noir-sub000/internal/snode"
)

// keyWallet is a wallet that knows a single collateral output and its key
// from the configuration.  It checks the output against the chain view before
// handing it out.
type keyWallet struct {
	params *snode.Params
	chain  snode.ChainView
	op     *wire.OutPoint
	key    *secp256k1.PrivateKey

	mtx    sync.Mutex
	locked map[wire.OutPoint]struct{}
}

var _ activenode.Wallet = (*keyWallet)(nil)

// newKeyWallet returns a wallet for the configured collateral.  The collateral
// may be nil in which case the wallet never provides one.
func newKeyWallet(params *snode.Params, chain snode.ChainView, op *wire.OutPoint, key *secp256k1.PrivateKey) *keyWallet {
	return &keyWallet{
		params: params,
		chain:  chain,
		op:     op,
		key:    key,
		locked: make(map[wire.OutPoint]struct{}),
	}
}

// CollateralAndKeys returns the configured collateral output and its key once
// the chain view confirms the output is unspent, holds the collateral amount
// and pays to the key.
func (w *keyWallet) CollateralAndKeys() (wire.OutPoint, *secp256k1.PrivateKey, error) {
	if w.op == nil || w.key == nil {
		return wire.OutPoint{}, nil, activenode.ErrNoCollateral
	}
	entry, err := w.chain.FetchUtxoEntry(*w.op)
	if err != nil {
		return wire.OutPoint{}, nil, err
	}
	if entry == nil {
		return wire.OutPoint{}, nil, fmt.Errorf("collateral %v is spent or "+
			"unknown: %w", w.op, activenode.ErrNoCollateral)
	}
	if entry.Amount != int64(w.params.Collateral) {
		return wire.OutPoint{}, nil, fmt.Errorf("collateral %v holds %d "+
			"atoms instead of %d: %w", w.op, entry.Amount,
			int64(w.params.Collateral), activenode.ErrNoCollateral)
	}
	script, err := snode.PayToPubKeyHashScript(w.params,
		w.key.PubKey().SerializeCompressed())
	if err != nil {
		return wire.OutPoint{}, nil, err
	}
	if !bytes.Equal(script, entry.PkScript) {
		return wire.OutPoint{}, nil, fmt.Errorf("collateral %v does not pay "+
			"to the collateral key: %w", w.op, activenode.ErrNoCollateral)
	}
	return *w.op, w.key, nil
}

// LockCoin records op as reserved for the service node.
func (w *keyWallet) LockCoin(op wire.OutPoint) {
	w.mtx.Lock()
	w.locked[op] = struct{}{}
	w.mtx.Unlock()
	snodLog.Infof("Locked collateral %v", op)
}

// isLocked returns whether op was reserved for the service node.
func (w *keyWallet) isLocked(op wire.OutPoint) bool {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	_, ok := w.locked[op]
	return ok
}
