// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snode_test

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/internal/sntest"
	"github.com/noirofficial/noir-sub000/snwire"
)

var (
	chainStart   = time.Unix(1700000000, 0)
	blockSpacing = 150 * time.Second
)

type testHarness struct {
	params *snode.Params
	chain  *sntest.Chain
	now    time.Time
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	chain := sntest.NewChain(300, chainStart, blockSpacing)
	return &testHarness{
		params: snode.NewParams(chaincfg.MainNetParams()),
		chain:  chain,
		now:    chain.TipTime().Add(time.Minute),
	}
}

func (h *testHarness) node(t *testing.T, seed byte, addr string) *sntest.Node {
	t.Helper()
	node, err := sntest.NewNode(h.params, h.chain, seed, addr, 100, h.now)
	if err != nil {
		t.Fatalf("unable to create node: %v", err)
	}
	return node
}

// TestValidatePing ensures pings are checked for future timestamps and
// unknown or stale block references with the expected ban scores.
func TestValidatePing(t *testing.T) {
	h := newHarness(t)
	node := h.node(t, 1, "1.2.3.4:9108")

	good, err := node.Ping(h.params, h.chain, h.now)
	if err != nil {
		t.Fatalf("unable to create ping: %v", err)
	}

	future := *good
	future.SigTime = h.now.Add(2 * time.Hour).Unix()

	unknown := *good
	unknown.BlockHash = chainhash.HashH([]byte("nope"))

	staleHash, _ := h.chain.BlockHashByHeight(200)
	stale := *good
	stale.BlockHash = *staleHash

	tests := []struct {
		name string
		ping *snwire.MsgSNPing
		want error
		ban  uint32
	}{
		{name: "valid", ping: good},
		{name: "future", ping: &future, want: snode.ErrFutureTime, ban: 1},
		{name: "unknown block", ping: &unknown, want: snode.ErrUnknownBlock},
		{name: "stale block", ping: &stale, want: snode.ErrStaleBlock},
	}
	for _, test := range tests {
		err := snode.ValidatePing(h.chain, test.ping, h.now)
		if !errors.Is(err, test.want) {
			t.Errorf("%s: mismatched error -- got %v, want %v", test.name,
				err, test.want)
			continue
		}
		if got := snode.BanScore(err); got != test.ban {
			t.Errorf("%s: mismatched ban score -- got %d, want %d",
				test.name, got, test.ban)
		}
	}

	if err := snode.VerifyPingSignature(h.params, good,
		node.Broadcast.OperatorKey); err != nil {
		t.Fatalf("unexpected signature error: %v", err)
	}
	err = snode.VerifyPingSignature(h.params, good, node.Broadcast.CollateralKey)
	if !errors.Is(err, snode.ErrBadSignature) || snode.BanScore(err) != 33 {
		t.Fatalf("ping signed by wrong key accepted: %v", err)
	}
}

// TestValidateBroadcast ensures the context free broadcast checks reject what
// they should with the expected penalties.
func TestValidateBroadcast(t *testing.T) {
	h := newHarness(t)
	node := h.node(t, 2, "1.2.3.4:9108")

	mutate := func(f func(b *snwire.MsgSNBroadcast)) *snwire.MsgSNBroadcast {
		b := *node.Broadcast
		f(&b)
		return &b
	}

	tests := []struct {
		name      string
		bcast     *snwire.MsgSNBroadcast
		want      error
		ban       uint32
		pingValid bool
	}{{
		name:      "valid",
		bcast:     node.Broadcast,
		pingValid: true,
	}, {
		name: "private address",
		bcast: mutate(func(b *snwire.MsgSNBroadcast) {
			b.Addr = netip.MustParseAddrPort("192.168.1.1:9108")
		}),
		want: snode.ErrBadAddress,
	}, {
		name: "wrong port",
		bcast: mutate(func(b *snwire.MsgSNBroadcast) {
			b.Addr = netip.MustParseAddrPort("1.2.3.4:9999")
		}),
		want: snode.ErrBadPort,
	}, {
		name: "future",
		bcast: mutate(func(b *snwire.MsgSNBroadcast) {
			b.SigTime = h.now.Add(61 * time.Minute).Unix()
		}),
		want: snode.ErrFutureTime,
		ban:  1,
	}, {
		name: "old protocol",
		bcast: mutate(func(b *snwire.MsgSNBroadcast) {
			b.ProtocolVersion = snwire.MinProtocolVersion - 1
		}),
		want: snode.ErrProtocolTooOld,
	}, {
		name: "bad collateral key",
		bcast: mutate(func(b *snwire.MsgSNBroadcast) {
			b.CollateralKey = []byte{0x02, 0x01}
		}),
		want: snode.ErrBadKey,
		ban:  100,
	}, {
		name: "unlock script",
		bcast: mutate(func(b *snwire.MsgSNBroadcast) {
			b.UnlockScript = []byte{0x51}
		}),
		want: snode.ErrUnlockScript,
		ban:  100,
	}, {
		name: "ping for another node",
		bcast: mutate(func(b *snwire.MsgSNBroadcast) {
			b.LastPing.Outpoint.Index++
		}),
	}, {
		name: "no ping",
		bcast: mutate(func(b *snwire.MsgSNBroadcast) {
			b.LastPing = snwire.MsgSNPing{}
		}),
	}}

	minProto := snwire.MinProtocolVersion
	for _, test := range tests {
		pingValid, err := snode.ValidateBroadcast(h.params, h.chain,
			test.bcast, minProto, h.now)
		if !errors.Is(err, test.want) {
			t.Errorf("%s: mismatched error -- got %v, want %v", test.name,
				err, test.want)
			continue
		}
		if got := snode.BanScore(err); got != test.ban {
			t.Errorf("%s: mismatched ban score -- got %d, want %d",
				test.name, got, test.ban)
		}
		if err == nil && pingValid != test.pingValid {
			t.Errorf("%s: mismatched ping validity -- got %v, want %v",
				test.name, pingValid, test.pingValid)
		}
	}
}

// TestBroadcastSignature ensures broadcasts are bound to the collateral key
// and any change to a signed field invalidates them.
func TestBroadcastSignature(t *testing.T) {
	h := newHarness(t)
	node := h.node(t, 3, "1.2.3.4:9108")

	if err := snode.VerifyBroadcastSignature(h.params, node.Broadcast); err != nil {
		t.Fatalf("unexpected signature error: %v", err)
	}

	tampered := *node.Broadcast
	tampered.ProtocolVersion++
	err := snode.VerifyBroadcastSignature(h.params, &tampered)
	if !errors.Is(err, snode.ErrBadSignature) || snode.BanScore(err) != 100 {
		t.Fatalf("tampered broadcast accepted: %v", err)
	}
}

// TestVerifyCollateral ensures each collateral rule is enforced.
func TestVerifyCollateral(t *testing.T) {
	h := newHarness(t)
	node := h.node(t, 4, "1.2.3.4:9108")
	op := node.Broadcast.Outpoint
	good, _ := h.chain.FetchUtxoEntry(op)
	otherScript, err := snode.PayToPubKeyHashScript(h.params,
		sntest.Key(99).PubKey().SerializeCompressed())
	if err != nil {
		t.Fatalf("unable to create script: %v", err)
	}

	tests := []struct {
		name      string
		entry     *snode.UtxoEntry
		sigTime   int64
		want      error
		ban       uint32
		transient bool
	}{{
		name:  "valid",
		entry: good,
	}, {
		name: "spent",
		want: snode.ErrCollateralSpent,
	}, {
		name: "wrong amount",
		entry: &snode.UtxoEntry{Amount: good.Amount - 1,
			PkScript: good.PkScript, BlockHeight: good.BlockHeight},
		want: snode.ErrCollateralAmount,
	}, {
		name: "immature",
		entry: &snode.UtxoEntry{Amount: good.Amount,
			PkScript: good.PkScript, BlockHeight: 290},
		want:      snode.ErrCollateralImmature,
		transient: true,
	}, {
		name: "wrong key",
		entry: &snode.UtxoEntry{Amount: good.Amount,
			PkScript: otherScript, BlockHeight: 100},
		want: snode.ErrCollateralKey,
		ban:  33,
	}, {
		name:    "signed before confirmation",
		entry:   good,
		sigTime: chainStart.Unix(),
		want:    snode.ErrSigTimeTooEarly,
	}}

	for _, test := range tests {
		if test.entry == nil {
			h.chain.Spend(op)
		} else {
			h.chain.AddUtxo(op, test.entry)
		}
		bcast := *node.Broadcast
		if test.sigTime != 0 {
			bcast.SigTime = test.sigTime
		}
		height, err := snode.VerifyCollateral(h.params, h.chain, &bcast)
		if !errors.Is(err, test.want) {
			t.Errorf("%s: mismatched error -- got %v, want %v", test.name,
				err, test.want)
			continue
		}
		if got := snode.BanScore(err); got != test.ban {
			t.Errorf("%s: mismatched ban score -- got %d, want %d",
				test.name, got, test.ban)
		}
		if got := snode.IsTransient(err); got != test.transient {
			t.Errorf("%s: mismatched transient -- got %v, want %v",
				test.name, got, test.transient)
		}
		if err == nil && height != 100 {
			t.Errorf("%s: mismatched collateral height %d", test.name,
				height)
		}
	}
}

// TestRecordCheck exercises the activation state ladder.
func TestRecordCheck(t *testing.T) {
	h := newHarness(t)
	node := h.node(t, 5, "1.2.3.4:9108")
	now := h.now
	minProto := snwire.MinProtocolVersion

	// newRecord returns a record announced at sigTime and last pinged at
	// pingTime, both expressed as offsets from now.
	newRecord := func(sigAgo, pingAgo time.Duration) *snode.Record {
		rec := snode.NewRecord(node.Broadcast)
		rec.SigTime = now.Add(-sigAgo).Unix()
		rec.LastPing.SigTime = now.Add(-pingAgo).Unix()
		return rec
	}

	tests := []struct {
		name   string
		rec    *snode.Record
		ctx    snode.CheckContext
		want   snode.State
		modify func(r *snode.Record)
	}{{
		name: "pre-enabled",
		rec:  newRecord(5*time.Minute, time.Minute),
		ctx:  snode.CheckContext{ListSynced: true},
		want: snode.StatePreEnabled,
	}, {
		name: "enabled",
		rec:  newRecord(60*time.Minute, time.Minute),
		ctx:  snode.CheckContext{ListSynced: true},
		want: snode.StateEnabled,
	}, {
		name: "expired",
		rec:  newRecord(200*time.Minute, 66*time.Minute),
		ctx:  snode.CheckContext{ListSynced: true},
		want: snode.StateExpired,
	}, {
		name: "new start required one second past threshold",
		rec:  newRecord(300*time.Minute, 180*time.Minute+time.Second),
		ctx:  snode.CheckContext{ListSynced: true},
		want: snode.StateNewStartRequired,
	}, {
		name: "watchdog expired",
		rec:  newRecord(300*time.Minute, time.Minute),
		ctx:  snode.CheckContext{ListSynced: true, WatchdogActive: true},
		want: snode.StateWatchdogExpired,
		modify: func(r *snode.Record) {
			r.LastWatchdogVote = now.Add(-121 * time.Minute).Unix()
		},
	}, {
		name: "update required",
		rec:  newRecord(60*time.Minute, time.Minute),
		ctx:  snode.CheckContext{ListSynced: true},
		want: snode.StateUpdateRequired,
		modify: func(r *snode.Record) {
			r.ProtocolVersion = minProto - 1
		},
	}, {
		name: "local node on older protocol needs update",
		rec:  newRecord(60*time.Minute, time.Minute),
		ctx:  snode.CheckContext{ListSynced: true, IsLocal: true},
		want: snode.StateUpdateRequired,
		modify: func(r *snode.Record) {
			r.ProtocolVersion = snwire.MinProtocolVersion
		},
	}, {
		name: "spent",
		rec:  newRecord(60*time.Minute, time.Minute),
		ctx:  snode.CheckContext{ListSynced: true, Spent: true},
		want: snode.StateOutpointSpent,
	}, {
		name: "expired node kept while list syncs",
		rec:  newRecord(300*time.Minute, 200*time.Minute),
		ctx:  snode.CheckContext{},
		want: snode.StateExpired,
		modify: func(r *snode.Record) {
			r.State = snode.StateExpired
		},
	}, {
		name: "ban threshold reached",
		rec:  newRecord(60*time.Minute, time.Minute),
		ctx:  snode.CheckContext{ListSynced: true, Height: 300, RegistrySize: 7},
		want: snode.StatePoSeBan,
		modify: func(r *snode.Record) {
			r.PoSeBanScore = snode.PoSeBanMaxScore
		},
	}, {
		name: "ban not yet decayed",
		rec:  newRecord(60*time.Minute, time.Minute),
		ctx:  snode.CheckContext{ListSynced: true, Height: 306},
		want: snode.StatePoSeBan,
		modify: func(r *snode.Record) {
			r.PoSeBan(307)
		},
	}, {
		name: "ban decays at ban height",
		rec:  newRecord(60*time.Minute, time.Minute),
		ctx:  snode.CheckContext{ListSynced: true, Height: 307},
		want: snode.StateEnabled,
		modify: func(r *snode.Record) {
			r.PoSeBan(307)
		},
	}}

	for _, test := range tests {
		if test.modify != nil {
			test.modify(test.rec)
		}
		ctx := test.ctx
		ctx.Now = now
		ctx.Force = true
		if ctx.MinProtocol == 0 {
			ctx.MinProtocol = minProto
		}
		test.rec.Check(&ctx)
		if test.rec.State != test.want {
			t.Errorf("%s: mismatched state -- got %v, want %v\n%v",
				test.name, test.rec.State, test.want,
				spew.Sdump(test.rec))
		}
	}
}

// TestRecordBanSaturation ensures the proof of service score never leaves
// the ban threshold range and a ban is recorded with its expiry height.
func TestRecordBanSaturation(t *testing.T) {
	var rec snode.Record
	for i := 0; i < 10; i++ {
		rec.IncreasePoSeBanScore()
	}
	if rec.PoSeBanScore != snode.PoSeBanMaxScore {
		t.Fatalf("score exceeded threshold: %d", rec.PoSeBanScore)
	}
	for i := 0; i < 20; i++ {
		rec.DecreasePoSeBanScore()
	}
	if rec.PoSeBanScore != -snode.PoSeBanMaxScore {
		t.Fatalf("score exceeded negative threshold: %d", rec.PoSeBanScore)
	}

	rec.PoSeBanScore = snode.PoSeBanMaxScore
	ctx := snode.CheckContext{Now: time.Now(), Height: 50, RegistrySize: 10,
		Force: true}
	rec.Check(&ctx)
	if rec.State != snode.StatePoSeBan || rec.PoSeBanHeight != 60 {
		t.Fatalf("unexpected ban state %v until %d", rec.State,
			rec.PoSeBanHeight)
	}

	// A ban is never exited by a state re-evaluation before the ban height.
	ctx.Height = 59
	rec.Check(&ctx)
	if rec.State != snode.StatePoSeBan {
		t.Fatalf("ban lifted early: %v", rec.State)
	}
}

// TestScoreDeterminism ensures scores are a pure function of the block hash
// and the outpoint.
func TestScoreDeterminism(t *testing.T) {
	blockHash := chainhash.HashH([]byte("block"))
	op1 := wire.OutPoint{Hash: chainhash.HashH([]byte{1}), Index: 0}
	op2 := wire.OutPoint{Hash: chainhash.HashH([]byte{1}), Index: 1}

	s1 := snode.Score(&blockHash, &op1)
	s1Again := snode.Score(&blockHash, &op1)
	if s1.Cmp(&s1Again) != 0 {
		t.Fatal("score is not deterministic")
	}
	s2 := snode.Score(&blockHash, &op2)
	if s1.Cmp(&s2) == 0 {
		t.Fatal("different outpoints produced the same score")
	}
	otherBlock := chainhash.HashH([]byte("other"))
	s3 := snode.Score(&otherBlock, &op1)
	if s1.Cmp(&s3) == 0 {
		t.Fatal("different blocks produced the same score")
	}
}

// TestCheckPort ensures the port policy of each network.
func TestCheckPort(t *testing.T) {
	mainnet := snode.NewParams(chaincfg.MainNetParams())
	testnet := snode.NewParams(chaincfg.TestNet3Params())

	tests := []struct {
		name   string
		params *snode.Params
		port   uint16
		ok     bool
	}{
		{"mainnet default", mainnet, mainnet.MainNetPort, true},
		{"mainnet other", mainnet, 1234, false},
		{"testnet default", testnet, testnet.Port, true},
		{"testnet mainnet port", testnet, mainnet.MainNetPort, false},
	}
	for _, test := range tests {
		err := snode.CheckPort(test.params, test.port)
		if (err == nil) != test.ok {
			t.Errorf("%s: unexpected result %v", test.name, err)
		}
	}
}

// TestUtxoConfirmations ensures outputs at or past the tip never report a
// negative number of confirmations.
func TestUtxoConfirmations(t *testing.T) {
	tests := []struct {
		height int64
		tip    int64
		want   int64
	}{
		{height: 100, tip: 100, want: 1},
		{height: 90, tip: 100, want: 11},
		{height: 101, tip: 100, want: 0},
		{height: 150, tip: 100, want: 0},
	}
	for _, test := range tests {
		entry := &snode.UtxoEntry{BlockHeight: test.height}
		if got := entry.Confirmations(test.tip); got != test.want {
			t.Errorf("height %d tip %d: got %d confirmations, want %d",
				test.height, test.tip, got, test.want)
		}
	}
}
