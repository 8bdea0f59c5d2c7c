// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package activenode

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/registry"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/internal/sntest"
	"github.com/noirofficial/noir-sub000/snwire"
)

// fakeWallet holds at most one collateral output.
type fakeWallet struct {
	op     wire.OutPoint
	key    *secp256k1.PrivateKey
	locked []wire.OutPoint
}

func (w *fakeWallet) CollateralAndKeys() (wire.OutPoint, *secp256k1.PrivateKey, error) {
	if w.key == nil {
		return wire.OutPoint{}, nil, ErrNoCollateral
	}
	return w.op, w.key, nil
}

func (w *fakeWallet) LockCoin(op wire.OutPoint) {
	w.locked = append(w.locked, op)
}

// testHarness wires a controller to a registry and fake collaborators.
type testHarness struct {
	params    *snode.Params
	chain     *sntest.Chain
	transport *sntest.Transport
	reg       *registry.Manager
	now       time.Time
	synced    bool
	probeErr  error
	cfg       *Config
	ctrl      *Controller
}

func newHarness(t *testing.T, net *chaincfg.Params, operatorKey *secp256k1.PrivateKey) *testHarness {
	t.Helper()
	chain := sntest.NewChain(200, time.Unix(1700000000, 0), 150*time.Second)
	h := &testHarness{
		params:    snode.NewParams(net),
		chain:     chain,
		transport: sntest.NewTransport(),
		now:       chain.TipTime().Add(time.Minute),
		synced:    true,
	}
	h.cfg = &Config{
		Params:             h.params,
		Chain:              h.chain,
		Transport:          h.transport,
		OperatorKey:        operatorKey,
		Listen:             true,
		ExternalAddr:       h.addr(1),
		Probe:              func(netip.AddrPort) error { return h.probeErr },
		IsBlockchainSynced: func() bool { return h.synced },
		Now:                func() time.Time { return h.now },
	}
	h.ctrl = New(h.cfg)
	h.reg = registry.New(&registry.Config{
		Params:    h.params,
		Chain:     h.chain,
		Features:  &sntest.Flags{},
		Transport: h.transport,
		Requests:  sntest.NewRequests(),
		Local:     h.ctrl,
		Now:       func() time.Time { return h.now },
	})
	h.cfg.Registry = h.reg
	return h
}

// addr returns a service address on the harness network.
func (h *testHarness) addr(n byte) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, n}), h.params.Port)
}

// announce adds a broadcast for a node listening at addr created elsewhere.
func (h *testHarness) announce(t *testing.T, seed byte, addr netip.AddrPort) *sntest.Node {
	t.Helper()
	node, err := sntest.NewNode(h.params, h.chain, seed, addr.String(), 100,
		h.now)
	if err != nil {
		t.Fatalf("unable to create node: %v", err)
	}
	if _, err := h.reg.AddOrUpdate(nil, node.Broadcast); err != nil {
		t.Fatalf("unable to add node: %v", err)
	}
	h.transport.Relayed()
	return node
}

// relayedOf returns the relayed messages with the given command.
func (h *testHarness) relayedOf(cmd string) []snwire.Message {
	var msgs []snwire.Message
	for _, msg := range h.transport.Relayed() {
		if msg.Command() == cmd {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func (h *testHarness) expectState(t *testing.T, want State, reason string) {
	t.Helper()
	if got := h.ctrl.State(); got != want {
		t.Fatalf("unexpected state: got %v, want %v (reason %q)", got, want,
			h.ctrl.NotCapableReason())
	}
	if got := h.ctrl.NotCapableReason(); !strings.Contains(got, reason) {
		t.Fatalf("unexpected reason: got %q, want it to contain %q", got,
			reason)
	}
}

// TestNotServiceNode ensures a process without an operating key never leaves
// the initial state.
func TestNotServiceNode(t *testing.T) {
	h := newHarness(t, chaincfg.RegNetParams(), nil)
	h.ctrl.ManageState()
	h.expectState(t, StateInitial, "")
	if _, ok := h.ctrl.Identity(); ok {
		t.Fatal("unexpected identity for a process that is not a service node")
	}
	if h.ctrl.OperatorKey() != nil {
		t.Fatal("unexpected operating key")
	}
}

// TestWaitsForChainSync ensures nothing happens until the chain is synced.
func TestWaitsForChainSync(t *testing.T) {
	h := newHarness(t, chaincfg.RegNetParams(), sntest.Key(129))
	h.synced = false
	h.ctrl.ManageState()
	h.expectState(t, StateSyncInProgress, "")
	if h.ctrl.Mode() != ModeUnknown {
		t.Fatalf("unexpected mode %v", h.ctrl.Mode())
	}
	if !strings.HasPrefix(h.ctrl.Status(), "Sync in progress") {
		t.Fatalf("unexpected status %q", h.ctrl.Status())
	}

	// Nothing announces the key yet, so the node is not capable once the
	// chain is synced.
	h.synced = true
	h.ctrl.ManageState()
	h.expectState(t, StateNotCapable, "not in the registry")
	if h.ctrl.Mode() != ModeRemote {
		t.Fatalf("unexpected mode %v", h.ctrl.Mode())
	}
}

// TestInitialChecks ensures the local network configuration is validated
// before a mode is chosen.
func TestInitialChecks(t *testing.T) {
	regnet := snode.NewParams(chaincfg.RegNetParams())
	reserved := netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, 1}),
		regnet.MainNetPort)
	detected := netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, 9}),
		regnet.Port)

	tests := []struct {
		name     string
		listen   bool
		external netip.AddrPort
		peers    bool
		probeErr error
		wantMode Mode
		wantAddr netip.AddrPort
		reason   string
	}{{
		name:     "not listening",
		listen:   false,
		external: detected,
		wantMode: ModeUnknown,
		reason:   "must accept connections",
	}, {
		name:     "no address and no peers",
		listen:   true,
		wantMode: ModeUnknown,
		reason:   "will retry when there are some connections",
	}, {
		name:     "address detected from peer",
		listen:   true,
		peers:    true,
		wantMode: ModeRemote,
		wantAddr: detected,
		reason:   "not in the registry",
	}, {
		name:     "main network port",
		listen:   true,
		external: reserved,
		wantMode: ModeUnknown,
		reason:   "reserved for the main network",
	}, {
		name:     "unreachable",
		listen:   true,
		external: detected,
		probeErr: errors.New("connection refused"),
		wantMode: ModeUnknown,
		reason:   "could not connect",
	}}

	for _, test := range tests {
		h := newHarness(t, chaincfg.RegNetParams(), sntest.Key(129))
		h.cfg.Listen = test.listen
		h.cfg.ExternalAddr = test.external
		h.probeErr = test.probeErr
		if test.peers {
			h.transport.SetPeers(sntest.NewPeer(1, "1.2.3.4:9108", 200))
			h.cfg.LocalAddr = func(netip.AddrPort) (netip.AddrPort, bool) {
				return detected, true
			}
		}

		h.ctrl.ManageState()
		if got := h.ctrl.State(); got != StateNotCapable {
			t.Errorf("%q: unexpected state %v", test.name, got)
			continue
		}
		if got := h.ctrl.NotCapableReason(); !strings.Contains(got, test.reason) {
			t.Errorf("%q: unexpected reason %q", test.name, got)
		}
		if got := h.ctrl.Mode(); got != test.wantMode {
			t.Errorf("%q: unexpected mode %v", test.name, got)
		}
		if got := h.ctrl.Addr(); got != test.wantAddr {
			t.Errorf("%q: unexpected address %v", test.name, got)
		}
	}
}

// TestRemoteStart ensures a node announced elsewhere is adopted and kept
// alive with pings.
func TestRemoteStart(t *testing.T) {
	h := newHarness(t, chaincfg.RegNetParams(), sntest.Key(1+128))
	node := h.announce(t, 1, h.addr(1))

	h.now = h.now.Add(time.Minute)
	h.ctrl.ManageState()
	h.expectState(t, StateStarted, "")
	if h.ctrl.Mode() != ModeRemote {
		t.Fatalf("unexpected mode %v", h.ctrl.Mode())
	}
	op, ok := h.ctrl.Identity()
	if !ok || op != node.Broadcast.Outpoint {
		t.Fatalf("unexpected identity %v (started %v)", op, ok)
	}

	// The broadcast carried a fresh ping.
	if pings := h.relayedOf(snwire.CmdSNPing); len(pings) != 0 {
		t.Fatalf("unexpected early ping %v", pings)
	}

	h.now = h.now.Add(snode.MinPingInterval)
	h.ctrl.ManageState()
	pings := h.relayedOf(snwire.CmdSNPing)
	if len(pings) != 1 {
		t.Fatalf("expected one relayed ping, got %d", len(pings))
	}
	ping := pings[0].(*snwire.MsgSNPing)
	if ping.Outpoint != op || ping.SigTime != h.now.Unix() {
		t.Fatalf("unexpected ping %v at %d", ping.Outpoint, ping.SigTime)
	}
	if !h.reg.IsPingedWithin(op, time.Second) {
		t.Fatal("ping was not applied to the registry")
	}

	h.now = h.now.Add(time.Minute)
	h.ctrl.ManageState()
	if pings := h.relayedOf(snwire.CmdSNPing); len(pings) != 0 {
		t.Fatalf("unexpected ping within the minimum interval %v", pings)
	}
}

// TestRemoteMismatch ensures a registry record is only adopted when it
// matches the local configuration.
func TestRemoteMismatch(t *testing.T) {
	h := newHarness(t, chaincfg.RegNetParams(), sntest.Key(2+128))
	h.announce(t, 2, h.addr(7))

	h.ctrl.ManageState()
	h.expectState(t, StateNotCapable, "doesn't match our external address")
	if _, ok := h.ctrl.Identity(); ok {
		t.Fatal("unexpected identity")
	}
	if !strings.HasPrefix(h.ctrl.Status(), "Not capable service node: ") {
		t.Fatalf("unexpected status %q", h.ctrl.Status())
	}
}

// TestLocalStart ensures a node whose collateral is held by the wallet is
// announced once the collateral is mature.
func TestLocalStart(t *testing.T) {
	h := newHarness(t, chaincfg.RegNetParams(), sntest.Key(3+128))
	collateralKey := sntest.Key(3)
	op := wire.OutPoint{Hash: chainhash.HashH([]byte("collateral")), Index: 1}
	script, err := snode.PayToPubKeyHashScript(h.params,
		collateralKey.PubKey().SerializeCompressed())
	if err != nil {
		t.Fatal(err)
	}
	_, tip := h.chain.BestBlock()
	h.chain.AddUtxo(op, &snode.UtxoEntry{
		Amount:      int64(h.params.Collateral),
		PkScript:    script,
		BlockHeight: tip - 5,
	})
	wallet := &fakeWallet{op: op, key: collateralKey}
	h.cfg.Wallet = wallet

	h.ctrl.ManageState()
	h.expectState(t, StateInputTooNew, "6 confirmations")
	if h.ctrl.Mode() != ModeLocal {
		t.Fatalf("unexpected mode %v", h.ctrl.Mode())
	}
	want := fmt.Sprintf("at least %d confirmations", snode.CollateralConfirmations)
	if !strings.Contains(h.ctrl.Status(), want) {
		t.Fatalf("unexpected status %q", h.ctrl.Status())
	}
	if h.reg.Has(op) || len(wallet.locked) != 0 {
		t.Fatal("immature collateral was announced")
	}

	for i := 0; i < snode.CollateralConfirmations-6; i++ {
		h.chain.ConnectBlock(nil)
	}
	h.now = h.chain.TipTime().Add(time.Minute)
	h.ctrl.ManageState()
	h.expectState(t, StateStarted, "")
	if id, ok := h.ctrl.Identity(); !ok || id != op {
		t.Fatalf("unexpected identity %v (started %v)", id, ok)
	}
	if len(wallet.locked) != 1 || wallet.locked[0] != op {
		t.Fatalf("collateral was not locked: %v", wallet.locked)
	}
	rec, ok := h.reg.Find(op)
	if !ok {
		t.Fatal("local broadcast was not applied to the registry")
	}
	if rec.Addr != h.addr(1) {
		t.Fatalf("unexpected announced address %v", rec.Addr)
	}
	if bcasts := h.relayedOf(snwire.CmdSNBroadcast); len(bcasts) != 1 {
		t.Fatalf("expected one relayed broadcast, got %d", len(bcasts))
	}

	// A restart finds its own broadcast and adopts it without announcing
	// again.
	h.now = h.now.Add(time.Minute)
	restarted := New(&Config{
		Params:       h.params,
		Chain:        h.chain,
		Transport:    h.transport,
		Registry:     h.reg,
		Wallet:       wallet,
		OperatorKey:  h.cfg.OperatorKey,
		Listen:       true,
		ExternalAddr: h.addr(1),
		Probe:        func(netip.AddrPort) error { return nil },
		Now:          func() time.Time { return h.now },
	})
	restarted.ManageState()
	if restarted.State() != StateStarted {
		t.Fatalf("restarted controller in state %v (%q)", restarted.State(),
			restarted.NotCapableReason())
	}
	if bcasts := h.relayedOf(snwire.CmdSNBroadcast); len(bcasts) != 0 {
		t.Fatalf("unexpected second broadcast")
	}
}

// TestLocalSpentCollateral ensures a wallet collateral the chain does not
// know as unspent makes the node not capable rather than waiting for
// confirmations.
func TestLocalSpentCollateral(t *testing.T) {
	h := newHarness(t, chaincfg.RegNetParams(), sntest.Key(3+128))
	op := wire.OutPoint{Hash: chainhash.HashH([]byte("spent")), Index: 0}
	wallet := &fakeWallet{op: op, key: sntest.Key(3)}
	h.cfg.Wallet = wallet

	h.ctrl.ManageState()
	h.expectState(t, StateNotCapable, "spent or unknown")
	if h.reg.Has(op) || len(wallet.locked) != 0 {
		t.Fatal("spent collateral was announced")
	}
}

// TestStringers ensures the mode and state names are stable.
func TestStringers(t *testing.T) {
	tests := []struct {
		in   fmt.Stringer
		want string
	}{
		{ModeUnknown, "UNKNOWN"},
		{ModeRemote, "REMOTE"},
		{ModeLocal, "LOCAL"},
		{Mode(9), "UNKNOWN(9)"},
		{StateInitial, "INITIAL"},
		{StateSyncInProgress, "SYNC_IN_PROGRESS"},
		{StateInputTooNew, "INPUT_TOO_NEW"},
		{StateNotCapable, "NOT_CAPABLE"},
		{StateStarted, "STARTED"},
		{State(9), "UNKNOWN(9)"},
	}
	for _, test := range tests {
		if got := test.in.String(); got != test.want {
			t.Errorf("unexpected string: got %q, want %q", got, test.want)
		}
	}
}
