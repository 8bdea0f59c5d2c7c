// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snode

import (
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/snwire"
)

// NewPing creates a ping for the node identified by op signed with the
// operating key against the block PingBlockDepth blocks below the tip.
func NewPing(params *Params, chain ChainView, op wire.OutPoint,
	key *secp256k1.PrivateKey, now time.Time) (*snwire.MsgSNPing, error) {

	_, tip := chain.BestBlock()
	height := tip - PingBlockDepth
	if height < 0 {
		height = 0
	}
	hash, err := chain.BlockHashByHeight(height)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch ping block at height %d: %w",
			height, err)
	}
	ping := &snwire.MsgSNPing{
		Outpoint:  op,
		BlockHash: *hash,
		SigTime:   now.Unix(),
	}
	ping.Sig = SignMessage(key, params.MessageMagic, ping.SignedMessage())
	return ping, nil
}

// ValidatePing performs the context free checks of a ping against the chain
// view: the signature time must not be too far in the future and the
// referenced block must be known and recent.
func ValidatePing(chain ChainView, ping *snwire.MsgSNPing, now time.Time) error {
	if ping.SigTime > now.Add(MaxFutureDrift).Unix() {
		str := fmt.Sprintf("ping for %v signed too far in the future "+
			"(%d, now %d)", ping.Outpoint, ping.SigTime, now.Unix())
		return ruleError(ErrFutureTime, 1, str)
	}
	header, err := chain.HeaderByHash(&ping.BlockHash)
	if err != nil {
		str := fmt.Sprintf("ping for %v references unknown block %v",
			ping.Outpoint, ping.BlockHash)
		return ruleError(ErrUnknownBlock, 0, str)
	}
	_, tip := chain.BestBlock()
	if int64(header.Height) < tip-MaxPingBlockAge {
		str := fmt.Sprintf("ping for %v references block %v at height %d "+
			"which is too old (tip %d)", ping.Outpoint, ping.BlockHash,
			header.Height, tip)
		return ruleError(ErrStaleBlock, 0, str)
	}
	return nil
}

// VerifyPingSignature checks the ping was signed by the operating key.
func VerifyPingSignature(params *Params, ping *snwire.MsgSNPing, operatorKey []byte) error {
	err := VerifyMessage(operatorKey, ping.Sig, params.MessageMagic,
		ping.SignedMessage())
	if err != nil {
		str := fmt.Sprintf("bad ping signature for %v: %v", ping.Outpoint,
			err)
		return ruleError(ErrBadSignature, 33, str)
	}
	return nil
}
