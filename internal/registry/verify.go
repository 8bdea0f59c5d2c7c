// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package registry

import (
	"bytes"
	"fmt"
	"net/netip"

	"github.com/decred/dcrd/crypto/rand"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/snwire"
)

const (
	// maxPoSeConnections is the maximum number of verification requests
	// sent per verification step.
	maxPoSeConnections = 10

	// maxPoSeRank is the rank a node must be within to verify others, and
	// the stride between the nodes it verifies.
	maxPoSeRank = 10

	// maxPoSeBlocks is how many blocks old a relayed verification may be.
	maxPoSeBlocks = 10

	// maxNonce bounds the random challenge nonce.
	maxNonce = 999999

	// Request kinds tracked per peer address.
	reqVerifyRequest = "snv-request"
	reqVerifyReply   = "snv-reply"
	reqVerifyDone    = "snv-done"
)

// minPoSeProtocol is the protocol version a node must run to take part in
// proof of service.
const minPoSeProtocol = snwire.MinProtocolVersion

// localSigner returns the identity and operating key of this process when it
// runs a started service node.
func (m *Manager) localSigner() (wire.OutPoint, bool) {
	if m.cfg.Local == nil || m.cfg.Local.OperatorKey() == nil {
		return wire.OutPoint{}, false
	}
	return m.cfg.Local.Identity()
}

// DoFullVerificationStep challenges a share of the registry when this process
// runs a service node ranked within the top maxPoSeRank.  Every node ranked
// maxPoSeRank apart starting after this node is challenged unless already
// verified or banned.
func (m *Manager) DoFullVerificationStep() {
	localOp, ok := m.localSigner()
	if !ok || !m.cfg.IsSynced() {
		return
	}
	_, tip := m.cfg.Chain.BestBlock()
	height := tip - 1
	ranks, ok := m.Ranks(height, minPoSeProtocol)
	if !ok {
		return
	}

	myRank := -1
	for _, r := range ranks {
		if r.Rank > maxPoSeRank {
			log.Tracef("Not in the top %d ranks, skipping verification",
				maxPoSeRank)
			return
		}
		if r.Record.Outpoint == localOp {
			myRank = r.Rank
			break
		}
	}
	if myRank == -1 {
		return
	}

	offset := maxPoSeRank + myRank - 1
	if offset >= len(ranks) {
		return
	}
	var sent int
	for i := offset; i < len(ranks); i += maxPoSeRank {
		rec := &ranks[i].Record
		if rec.PoSeBanScore <= -snode.PoSeBanMaxScore ||
			rec.State == snode.StatePoSeBan {

			log.Tracef("Service node %v is already verified or banned",
				rec.Outpoint)
			continue
		}
		if m.SendVerifyRequest(rec.Addr, height) {
			sent++
			if sent >= maxPoSeConnections {
				break
			}
		}
	}
	log.Debugf("Sent %d verification %s", sent, pickNoun(sent, "request",
		"requests"))
}

// SendVerifyRequest challenges the node listening at addr to prove it holds
// the operating key of a registered node.  It returns whether a challenge was
// sent.
func (m *Manager) SendVerifyRequest(addr netip.AddrPort, height int64) bool {
	if m.cfg.Requests.HasFulfilledRequest(addr, reqVerifyRequest) {
		log.Tracef("Already challenged %v recently", addr)
		return false
	}
	msg := &snwire.MsgVerifyChallenge{
		Addr:        addr,
		Nonce:       rand.Uint32N(maxNonce),
		BlockHeight: height,
	}
	if err := m.cfg.Transport.ConnectAndSend(addr, msg); err != nil {
		log.Debugf("Unable to challenge %v: %v", addr, err)
		return false
	}
	m.cfg.Requests.AddFulfilledRequest(addr, reqVerifyRequest)

	m.mtx.Lock()
	m.pendingVerify[addr] = &snwire.MsgVerifyBroadcast{
		Addr:        addr,
		Nonce:       msg.Nonce,
		BlockHeight: msg.BlockHeight,
	}
	m.mtx.Unlock()
	return true
}

// SendVerifyReply answers a verification challenge from peer by signing the
// address of the local node, the nonce and the challenged block hash with the
// local operating key.
func (m *Manager) SendVerifyReply(peer snode.Peer, msg *snwire.MsgVerifyChallenge) error {
	localOp, ok := m.localSigner()
	if !ok {
		return nil
	}
	addr := peer.Addr()
	if m.cfg.Requests.HasFulfilledRequest(addr, reqVerifyReply) {
		str := fmt.Sprintf("peer %v challenged us again too early", addr)
		return ruleError(ErrVerifyRequestRepeat, 20, str)
	}
	blockHash, err := m.cfg.Chain.BlockHashByHeight(msg.BlockHeight)
	if err != nil {
		log.Debugf("Unable to answer challenge from %v for height %d: %v",
			addr, msg.BlockHeight, err)
		return nil
	}
	rec, ok := m.Find(localOp)
	if !ok {
		return nil
	}

	reply := &snwire.MsgVerifyResponse{
		Addr:        rec.Addr,
		Nonce:       msg.Nonce,
		BlockHeight: msg.BlockHeight,
	}
	reply.Sig = snode.SignMessage(m.cfg.Local.OperatorKey(),
		m.cfg.Params.MessageMagic, reply.SignedMessage(blockHash))
	peer.QueueMessage(reply)
	m.cfg.Requests.AddFulfilledRequest(addr, reqVerifyReply)
	return nil
}

// ProcessVerifyReply handles the answer to a challenge this node sent.  The
// node at the peer address whose operating key produced the signature gains
// reputation and every other node announced at that address loses it.  When
// this process runs a service node the result is co-signed and relayed.
func (m *Manager) ProcessVerifyReply(peer snode.Peer, msg *snwire.MsgVerifyResponse) error {
	addr := peer.Addr()
	if !m.cfg.Requests.HasFulfilledRequest(addr, reqVerifyRequest) {
		str := fmt.Sprintf("unsolicited verification reply from %v", addr)
		return ruleError(ErrUnsolicitedVerify, 20, str)
	}
	m.mtx.RLock()
	pending := m.pendingVerify[addr]
	m.mtx.RUnlock()
	if pending == nil {
		str := fmt.Sprintf("unsolicited verification reply from %v", addr)
		return ruleError(ErrUnsolicitedVerify, 20, str)
	}
	if pending.Nonce != msg.Nonce || pending.BlockHeight != msg.BlockHeight {
		str := fmt.Sprintf("verification reply from %v has nonce %d "+
			"height %d, expected nonce %d height %d", addr, msg.Nonce,
			msg.BlockHeight, pending.Nonce, pending.BlockHeight)
		return ruleError(ErrVerifyMismatch, 20, str)
	}
	blockHash, err := m.cfg.Chain.BlockHashByHeight(msg.BlockHeight)
	if err != nil {
		log.Debugf("Unable to fetch block %d for verification: %v",
			msg.BlockHeight, err)
		return nil
	}
	if m.cfg.Requests.HasFulfilledRequest(addr, reqVerifyDone) {
		str := fmt.Sprintf("peer %v was already verified", addr)
		return ruleError(ErrAlreadyVerified, 20, str)
	}

	type candidate struct {
		op  wire.OutPoint
		key []byte
	}
	var candidates []candidate
	m.mtx.RLock()
	for op, rec := range m.nodes {
		if rec.Addr == addr {
			candidates = append(candidates, candidate{op, bytes.Clone(rec.OperatorKey)})
		}
	}
	m.mtx.RUnlock()

	signed := snwire.MsgVerifyResponse{
		Addr:        addr,
		Nonce:       msg.Nonce,
		BlockHeight: msg.BlockHeight,
	}
	message := signed.SignedMessage(blockHash)
	var verified, failed []wire.OutPoint
	for _, c := range candidates {
		err := snode.VerifyMessage(c.key, msg.Sig, m.cfg.Params.MessageMagic,
			message)
		if err == nil {
			verified = append(verified, c.op)
		} else {
			failed = append(failed, c.op)
		}
	}
	if len(verified) == 0 {
		str := fmt.Sprintf("no service node at %v signed the verification "+
			"reply", addr)
		return ruleError(ErrNoVerifiedNode, 20, str)
	}
	m.cfg.Requests.AddFulfilledRequest(addr, reqVerifyDone)

	m.mtx.Lock()
	for _, op := range verified {
		if rec, ok := m.nodes[op]; ok {
			rec.DecreasePoSeBanScore()
		}
	}
	for _, op := range failed {
		if rec, ok := m.nodes[op]; ok {
			rec.IncreasePoSeBanScore()
		}
	}
	m.mtx.Unlock()
	log.Debugf("Verified service node %v at %v, penalized %d other %s",
		verified[0], addr, len(failed), pickNoun(len(failed), "node", "nodes"))

	localOp, ok := m.localSigner()
	if !ok {
		return nil
	}
	for _, op := range verified {
		bcast := &snwire.MsgVerifyBroadcast{
			Addr:        addr,
			Nonce:       msg.Nonce,
			BlockHeight: msg.BlockHeight,
			Verified:    op,
			Verifier:    localOp,
			Sig1:        bytes.Clone(msg.Sig),
		}
		bcast.Sig2 = snode.SignMessage(m.cfg.Local.OperatorKey(),
			m.cfg.Params.MessageMagic, bcast.CoSignedMessage(blockHash))

		m.mtx.Lock()
		m.pendingVerify[addr] = bcast
		m.seenVerifications[bcast.Hash()] = bcast
		m.mtx.Unlock()
		m.cfg.Transport.RelayMessage(bcast)
	}
	return nil
}

// ProcessVerifyBroadcast handles a verification relayed by a third party.  It
// is only trusted when the verifier ranked within the top maxPoSeRank at the
// verification height and both signatures check out.
func (m *Manager) ProcessVerifyBroadcast(peer snode.Peer, msg *snwire.MsgVerifyBroadcast) error {
	hash := msg.Hash()
	m.mtx.Lock()
	if _, ok := m.seenVerifications[hash]; ok {
		m.mtx.Unlock()
		return nil
	}
	m.seenVerifications[hash] = msg
	m.mtx.Unlock()

	_, tip := m.cfg.Chain.BestBlock()
	if msg.BlockHeight < tip-maxPoSeBlocks {
		log.Tracef("Ignoring outdated verification for %v at height %d",
			msg.Verified, msg.BlockHeight)
		return nil
	}
	if msg.Verified == msg.Verifier {
		str := fmt.Sprintf("verification broadcast from %v claims %v "+
			"verified itself", peer.Addr(), msg.Verified)
		return ruleError(ErrSelfVerify, 100, str)
	}
	blockHash, err := m.cfg.Chain.BlockHashByHeight(msg.BlockHeight)
	if err != nil {
		return nil
	}
	rank, ok := m.Rank(msg.Verifier, msg.BlockHeight, minPoSeProtocol, false)
	if !ok || rank > maxPoSeRank {
		log.Tracef("Verifier %v is not ranked high enough (%d)",
			msg.Verifier, rank)
		return nil
	}

	m.mtx.RLock()
	verified, ok1 := m.nodes[msg.Verified]
	verifier, ok2 := m.nodes[msg.Verifier]
	var verifiedAddr netip.AddrPort
	var verifiedKey, verifierKey []byte
	if ok1 && ok2 {
		verifiedAddr = verified.Addr
		verifiedKey = bytes.Clone(verified.OperatorKey)
		verifierKey = bytes.Clone(verifier.OperatorKey)
	}
	m.mtx.RUnlock()
	if !ok1 || !ok2 || verifiedAddr != msg.Addr {
		return nil
	}

	magic := m.cfg.Params.MessageMagic
	err = snode.VerifyMessage(verifiedKey, msg.Sig1, magic,
		msg.ResponseMessage(blockHash))
	if err != nil {
		log.Debugf("Bad verified node signature in verification of %v: %v",
			msg.Verified, err)
		return nil
	}
	err = snode.VerifyMessage(verifierKey, msg.Sig2, magic,
		msg.CoSignedMessage(blockHash))
	if err != nil {
		log.Debugf("Bad verifier signature in verification of %v: %v",
			msg.Verified, err)
		return nil
	}

	var penalized int
	m.mtx.Lock()
	if rec, ok := m.nodes[msg.Verified]; ok {
		rec.DecreasePoSeBanScore()
	}
	for op, rec := range m.nodes {
		if rec.Addr != msg.Addr || op == msg.Verified {
			continue
		}
		rec.IncreasePoSeBanScore()
		penalized++
	}
	m.mtx.Unlock()
	log.Debugf("Accepted verification of %v by %v, penalized %d other %s",
		msg.Verified, msg.Verifier, penalized, pickNoun(penalized, "node",
			"nodes"))

	m.cfg.Transport.RelayMessage(msg)
	return nil
}
