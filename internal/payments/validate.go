// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payments

import (
	"bytes"

	"github.com/decred/dcrd/wire"
)

// ValidateTransaction returns whether the coinbase transaction tx of the
// block at height pays the service node reward to the payee the votes agreed
// on.  Any payout is accepted while no payee collected SignaturesRequired
// votes.
func (l *Ledger) ValidateTransaction(tx *wire.MsgTx, height int64) bool {
	script, votes, ok := l.BestPayee(height)
	if !ok || votes < SignaturesRequired {
		log.Tracef("No payee reached a quorum at height %d, accepting any "+
			"payout", height)
		return true
	}

	amount := l.cfg.PaymentAmount(height)
	for _, out := range tx.TxOut {
		if out.Value == amount && bytes.Equal(out.PkScript, script) {
			return true
		}
	}
	log.Warnf("Coinbase at height %d does not pay %d atoms to the payee "+
		"%x elected by %d votes", height, amount, script, votes)
	return false
}

// IsBlockPayeeValid returns whether the block at height with coinbase tx
// must be accepted as far as service node payments are concerned.  Blocks
// are only rejected once the sync finished and payment enforcement is on.
func (l *Ledger) IsBlockPayeeValid(tx *wire.MsgTx, height int64) bool {
	if !l.cfg.IsSynced() {
		log.Tracef("Not synced, skipping payee check at height %d", height)
		return true
	}
	if l.ValidateTransaction(tx, height) {
		return true
	}
	if !l.cfg.Features.PaymentEnforcement() {
		log.Infof("Accepting invalid service node payment at height %d "+
			"since enforcement is off", height)
		return true
	}
	return false
}

// FillBlockPayee returns the payee script and amount a new block at height
// should pay.  The payee with the most votes is preferred, otherwise the
// payee is elected through the registry.
func (l *Ledger) FillBlockPayee(height int64) ([]byte, int64, bool) {
	amount := l.cfg.PaymentAmount(height)
	if script, _, ok := l.BestPayee(height); ok {
		return script, amount, true
	}
	rec, _, ok := l.cfg.Registry.NextInQueueForPayment(height, true)
	if !ok {
		log.Debugf("No service node to pay at height %d", height)
		return nil, 0, false
	}
	return rec.PayeeScript(l.cfg.Params), amount, true
}
