// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snode

import (
	"bytes"
	"fmt"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/decred/dcrd/txscript/v4/stdaddr"
	"github.com/decred/dcrd/txscript/v4/stdscript"
	"github.com/decred/dcrd/wire"
)

// messageHash returns the digest signed for msg.  Both the magic prefix and
// the message are serialized as variable length strings.
func messageHash(magic, msg string) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, magic)
	_ = wire.WriteVarString(&buf, 0, msg)
	return chainhash.HashB(buf.Bytes())
}

// SignMessage returns a compact recoverable signature of msg by key.
func SignMessage(key *secp256k1.PrivateKey, magic, msg string) []byte {
	return ecdsa.SignCompact(key, messageHash(magic, msg), true)
}

// VerifyMessage checks that sig is a signature of msg by the serialized
// public key pubKey.
func VerifyMessage(pubKey, sig []byte, magic, msg string) error {
	recovered, wasCompressed, err := ecdsa.RecoverCompact(sig,
		messageHash(magic, msg))
	if err != nil {
		return err
	}
	var serialized []byte
	if wasCompressed {
		serialized = recovered.SerializeCompressed()
	} else {
		serialized = recovered.SerializeUncompressed()
	}
	if !bytes.Equal(serialized, pubKey) {
		return fmt.Errorf("signature was made by key %x", serialized)
	}
	return nil
}

// PayToPubKeyHashScript returns the version 0 pay-to-pubkey-hash script for
// the serialized public key.
func PayToPubKeyHashScript(params *Params, pubKey []byte) ([]byte, error) {
	if _, err := secp256k1.ParsePubKey(pubKey); err != nil {
		return nil, err
	}
	addr, err := stdaddr.NewAddressPubKeyHashEcdsaSecp256k1V0(
		stdaddr.Hash160(pubKey), params.Net)
	if err != nil {
		return nil, err
	}
	_, script := addr.PaymentScript()
	return script, nil
}

// checkPubKeyScript ensures the public key yields a standard size payment
// script.
func checkPubKeyScript(params *Params, pubKey []byte, which string) error {
	script, err := PayToPubKeyHashScript(params, pubKey)
	if err != nil {
		str := fmt.Sprintf("invalid %s key: %v", which, err)
		return ruleError(ErrBadKey, 100, str)
	}
	if !stdscript.IsPubKeyHashScriptV0(script) {
		str := fmt.Sprintf("%s key does not produce a standard payment "+
			"script (len %d)", which, len(script))
		return ruleError(ErrBadKey, 100, str)
	}
	return nil
}
