// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snode

import (
	"bytes"
	"fmt"
	"net/netip"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/snwire"
)

// BroadcastConfig describes the local node a broadcast is created for.
type BroadcastConfig struct {
	Outpoint      wire.OutPoint
	Addr          netip.AddrPort
	CollateralKey *secp256k1.PrivateKey
	OperatorKey   *secp256k1.PrivateKey
}

// CreateBroadcast builds and signs a broadcast together with a fresh ping.
// The broadcast is signed with the collateral key and the ping with the
// operating key.
func CreateBroadcast(params *Params, chain ChainView, cfg *BroadcastConfig,
	now time.Time) (*snwire.MsgSNBroadcast, error) {

	ping, err := NewPing(params, chain, cfg.Outpoint, cfg.OperatorKey, now)
	if err != nil {
		return nil, err
	}
	b := &snwire.MsgSNBroadcast{
		Outpoint:        cfg.Outpoint,
		Addr:            cfg.Addr,
		CollateralKey:   cfg.CollateralKey.PubKey().SerializeCompressed(),
		OperatorKey:     cfg.OperatorKey.PubKey().SerializeCompressed(),
		SigTime:         now.Unix(),
		ProtocolVersion: snwire.ProtocolVersion,
		LastPing:        *ping,
	}
	b.Sig = SignMessage(cfg.CollateralKey, params.MessageMagic,
		b.SignedMessage())
	return b, nil
}

// ValidateBroadcast performs the checks of a broadcast that need no UTXO
// lookup.  It returns whether the embedded ping is usable.  An unusable ping
// does not reject the broadcast since one of the two sides is probably just
// on a different tip.  The record is created expired instead.
func ValidateBroadcast(params *Params, chain ChainView, b *snwire.MsgSNBroadcast,
	minProtocol uint32, now time.Time) (bool, error) {

	if !IsValidNetAddr(params, b.Addr) {
		str := fmt.Sprintf("broadcast for %v has invalid address %v",
			b.Outpoint, b.Addr)
		return false, ruleError(ErrBadAddress, 0, str)
	}
	if b.SigTime > now.Add(MaxFutureDrift).Unix() {
		str := fmt.Sprintf("broadcast for %v signed too far in the future "+
			"(%d, now %d)", b.Outpoint, b.SigTime, now.Unix())
		return false, ruleError(ErrFutureTime, 1, str)
	}
	if b.ProtocolVersion < minProtocol {
		str := fmt.Sprintf("broadcast for %v has protocol version %d "+
			"below minimum %d", b.Outpoint, b.ProtocolVersion, minProtocol)
		return false, ruleError(ErrProtocolTooOld, 0, str)
	}
	if err := checkPubKeyScript(params, b.CollateralKey, "collateral"); err != nil {
		return false, err
	}
	if err := checkPubKeyScript(params, b.OperatorKey, "operator"); err != nil {
		return false, err
	}
	if len(b.UnlockScript) != 0 {
		str := fmt.Sprintf("broadcast for %v carries a collateral unlock "+
			"script", b.Outpoint)
		return false, ruleError(ErrUnlockScript, 100, str)
	}
	if err := CheckPort(params, b.Addr.Port()); err != nil {
		return false, err
	}

	pingValid := !b.LastPing.IsZero() && b.LastPing.Outpoint == b.Outpoint
	if pingValid {
		if err := ValidatePing(chain, &b.LastPing, now); err != nil {
			log.Debugf("Broadcast for %v carries unusable ping: %v",
				b.Outpoint, err)
			pingValid = false
		}
	}
	return pingValid, nil
}

// VerifyBroadcastSignature checks the broadcast was signed by its collateral
// key.
func VerifyBroadcastSignature(params *Params, b *snwire.MsgSNBroadcast) error {
	err := VerifyMessage(b.CollateralKey, b.Sig, params.MessageMagic,
		b.SignedMessage())
	if err != nil {
		str := fmt.Sprintf("bad broadcast signature for %v: %v", b.Outpoint,
			err)
		return ruleError(ErrBadSignature, 100, str)
	}
	return nil
}

// VerifyCollateral consults the chain view to confirm the collateral backing
// a broadcast: the output must be unspent, hold exactly the collateral
// amount, have the required confirmations and be payable to the collateral
// key.  The broadcast must also have been signed no earlier than the block
// that gave the collateral its required confirmations.  It returns the height
// of the block that contains the collateral.
//
// The lookups are comparatively expensive so this is performed once per
// record rather than on every message.
func VerifyCollateral(params *Params, chain ChainView, b *snwire.MsgSNBroadcast) (int64, error) {
	entry, err := chain.FetchUtxoEntry(b.Outpoint)
	if err != nil {
		str := fmt.Sprintf("unable to look up collateral %v: %v",
			b.Outpoint, err)
		return 0, ruleError(ErrLookupFailed, 0, str)
	}
	if entry == nil {
		str := fmt.Sprintf("collateral %v is spent or unknown", b.Outpoint)
		return 0, ruleError(ErrCollateralSpent, 0, str)
	}
	if entry.Amount != int64(params.Collateral) {
		str := fmt.Sprintf("collateral %v holds %d atoms, expected %d",
			b.Outpoint, entry.Amount, int64(params.Collateral))
		return 0, ruleError(ErrCollateralAmount, 0, str)
	}

	_, tip := chain.BestBlock()
	confs := entry.Confirmations(tip)
	if confs < CollateralConfirmations {
		str := fmt.Sprintf("collateral %v has %d confirmations, %d "+
			"required", b.Outpoint, confs, CollateralConfirmations)
		return 0, ruleError(ErrCollateralImmature, 0, str)
	}

	script, err := PayToPubKeyHashScript(params, b.CollateralKey)
	if err != nil || !bytes.Equal(script, entry.PkScript) {
		str := fmt.Sprintf("collateral %v is not payable to the announced "+
			"collateral key", b.Outpoint)
		return 0, ruleError(ErrCollateralKey, 33, str)
	}

	confHeight := entry.BlockHeight + CollateralConfirmations - 1
	confHash, err := chain.BlockHashByHeight(confHeight)
	if err != nil {
		str := fmt.Sprintf("unable to fetch block %d: %v", confHeight, err)
		return 0, ruleError(ErrLookupFailed, 0, str)
	}
	header, err := chain.HeaderByHash(confHash)
	if err != nil {
		str := fmt.Sprintf("unable to fetch header %v: %v", confHash, err)
		return 0, ruleError(ErrLookupFailed, 0, str)
	}
	if header.Timestamp.Unix() > b.SigTime {
		str := fmt.Sprintf("broadcast for %v signed at %d before its "+
			"collateral confirmed at %d (height %d)", b.Outpoint,
			b.SigTime, header.Timestamp.Unix(), confHeight)
		return 0, ruleError(ErrSigTimeTooEarly, 0, str)
	}
	return entry.BlockHeight, nil
}
