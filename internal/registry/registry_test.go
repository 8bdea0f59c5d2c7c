// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package registry_test

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/registry"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/internal/sntest"
	"github.com/noirofficial/noir-sub000/snwire"
)

var (
	chainStart   = time.Unix(1700000000, 0)
	blockSpacing = 150 * time.Second
)

// testHarness houses a registry manager and the fake collaborators it is
// wired to.  The manager clock reads now, which tests move freely.
type testHarness struct {
	params    *snode.Params
	chain     *sntest.Chain
	flags     *sntest.Flags
	transport *sntest.Transport
	requests  *sntest.Requests
	base      time.Time
	now       time.Time
	mgr       *registry.Manager
}

func newHarness(t *testing.T, local snode.LocalNode) *testHarness {
	t.Helper()
	chain := sntest.NewChain(300, chainStart, blockSpacing)
	base := chain.TipTime().Add(time.Minute)
	h := &testHarness{
		params:    snode.NewParams(chaincfg.MainNetParams()),
		chain:     chain,
		flags:     &sntest.Flags{},
		transport: sntest.NewTransport(),
		requests:  sntest.NewRequests(),
		base:      base,
		now:       base,
	}
	h.mgr = h.newManager(local)
	return h
}

// newManager returns another manager sharing the harness collaborators.
func (h *testHarness) newManager(local snode.LocalNode) *registry.Manager {
	return registry.New(&registry.Config{
		Params:    h.params,
		Chain:     h.chain,
		Features:  h.flags,
		Transport: h.transport,
		Requests:  h.requests,
		Local:     local,
		Now:       func() time.Time { return h.now },
	})
}

// newNode creates a node whose broadcast is signed at signedAt.
func (h *testHarness) newNode(t *testing.T, seed byte, addr string, signedAt time.Time) *sntest.Node {
	t.Helper()
	node, err := sntest.NewNode(h.params, h.chain, seed, addr, 100, signedAt)
	if err != nil {
		t.Fatalf("unable to create node %d: %v", seed, err)
	}
	return node
}

// add applies the node's broadcast to mgr with the clock at the broadcast
// time and expects it to be accepted.
func (h *testHarness) add(t *testing.T, mgr *registry.Manager, node *sntest.Node) {
	t.Helper()
	saved := h.now
	h.now = time.Unix(node.Broadcast.SigTime, 0)
	defer func() { h.now = saved }()
	added, err := mgr.AddOrUpdate(nil, node.Broadcast)
	if err != nil || !added {
		t.Fatalf("unable to add node %v: added %v, err %v",
			node.Broadcast.Outpoint, added, err)
	}
}

// ping applies a ping for node signed at the current clock.
func (h *testHarness) ping(t *testing.T, mgr *registry.Manager, node *sntest.Node) {
	t.Helper()
	ping, err := node.Ping(h.params, h.chain, h.now)
	if err != nil {
		t.Fatalf("unable to create ping: %v", err)
	}
	applied, err := mgr.ApplyPing(nil, ping)
	if err != nil || !applied {
		t.Fatalf("unable to apply ping for %v: applied %v, err %v",
			ping.Outpoint, applied, err)
	}
}

// checkAll re-evaluates every record of mgr and fails the test on error.
func checkAll(t *testing.T, mgr *registry.Manager) {
	t.Helper()
	if err := mgr.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
}

// enabledNode adds a node announced 30 minutes before the current clock and
// pinged at the current clock, which leaves it enabled.
func (h *testHarness) enabledNode(t *testing.T, seed byte, addr string) *sntest.Node {
	t.Helper()
	node := h.newNode(t, seed, addr, h.now.Add(-30*time.Minute))
	h.add(t, h.mgr, node)
	h.ping(t, h.mgr, node)
	return node
}

func (h *testHarness) state(t *testing.T, op wire.OutPoint) snode.State {
	t.Helper()
	rec, ok := h.mgr.Find(op)
	if !ok {
		t.Fatalf("node %v not found", op)
	}
	return rec.State
}

// rebroadcast signs a new broadcast for node at signedAt listening at addr.
func (h *testHarness) rebroadcast(t *testing.T, node *sntest.Node, addr string,
	signedAt time.Time) *snwire.MsgSNBroadcast {

	t.Helper()
	b, err := snode.CreateBroadcast(h.params, h.chain, &snode.BroadcastConfig{
		Outpoint:      node.Broadcast.Outpoint,
		Addr:          netip.MustParseAddrPort(addr),
		CollateralKey: node.CollateralKey,
		OperatorKey:   node.OperatorKey,
	}, signedAt)
	if err != nil {
		t.Fatalf("unable to create broadcast: %v", err)
	}
	return b
}

// TestAddOrUpdateIdempotent ensures applying the same broadcast twice leaves
// the registry as applying it once.
func TestAddOrUpdateIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	node := h.newNode(t, 1, "1.2.3.4:9108", h.now)

	added, err := h.mgr.AddOrUpdate(nil, node.Broadcast)
	if err != nil || !added {
		t.Fatalf("first add: added %v, err %v", added, err)
	}
	before := h.mgr.Records()
	if relayed := h.transport.Relayed(); len(relayed) != 1 {
		t.Fatalf("expected one relayed message, got %d", len(relayed))
	}

	added, err = h.mgr.AddOrUpdate(nil, node.Broadcast)
	if err != nil || added {
		t.Fatalf("second add: added %v, err %v", added, err)
	}
	after := h.mgr.Records()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("registry changed:\nbefore %v\nafter %v", spew.Sdump(before),
			spew.Sdump(after))
	}
	if relayed := h.transport.Relayed(); len(relayed) != 0 {
		t.Fatalf("duplicate broadcast was relayed: %v", spew.Sdump(relayed))
	}
	if h.mgr.Count() != 1 {
		t.Fatalf("unexpected count %d", h.mgr.Count())
	}
}

// TestMonotonicFreshness ensures the registry reflects the newest broadcast
// of a node regardless of the order broadcasts arrive in.
func TestMonotonicFreshness(t *testing.T) {
	h := newHarness(t, nil)
	t1 := h.now.Add(-20 * time.Minute)
	node := h.newNode(t, 1, "1.2.3.4:9108", t1)
	b1 := node.Broadcast
	b2 := h.rebroadcast(t, node, "1.2.3.5:9108", h.now)

	check := func(mgr *registry.Manager) {
		t.Helper()
		rec, ok := mgr.Find(b1.Outpoint)
		if !ok {
			t.Fatal("node not found")
		}
		if rec.SigTime != b2.SigTime || rec.Addr != b2.Addr {
			t.Fatalf("record reflects sigtime %d addr %v, want %d %v",
				rec.SigTime, rec.Addr, b2.SigTime, b2.Addr)
		}
	}

	// Older first, then newer, then the older one again.
	h.add(t, h.mgr, node)
	updated, err := h.mgr.AddOrUpdate(nil, b2)
	if err != nil || !updated {
		t.Fatalf("newer broadcast: updated %v, err %v", updated, err)
	}
	check(h.mgr)
	updated, err = h.mgr.AddOrUpdate(nil, b1)
	if err != nil || updated {
		t.Fatalf("replayed broadcast: updated %v, err %v", updated, err)
	}
	check(h.mgr)

	// Newer first, then the older one.
	mgr := h.newManager(nil)
	if _, err := mgr.AddOrUpdate(nil, b2); err != nil {
		t.Fatalf("newer broadcast: %v", err)
	}
	updated, err = mgr.AddOrUpdate(nil, b1)
	if err != nil || updated {
		t.Fatalf("older broadcast: updated %v, err %v", updated, err)
	}
	check(mgr)
}

// TestAddOrUpdateRejects ensures invalid broadcasts are rejected with the
// expected error kinds and ban scores.
func TestAddOrUpdateRejects(t *testing.T) {
	h := newHarness(t, nil)
	known := h.newNode(t, 1, "1.2.3.4:9108", h.now.Add(-time.Hour))
	h.add(t, h.mgr, known)

	badSig := h.newNode(t, 2, "1.2.3.5:9108", h.now)
	badSig.Broadcast.Sig = bytes.Clone(known.Broadcast.Sig)

	spent := h.newNode(t, 3, "1.2.3.6:9108", h.now)
	h.chain.Spend(spent.Broadcast.Outpoint)

	wrongKey := h.newNode(t, 4, "1.2.3.7:9108", h.now)
	mismatch, err := snode.CreateBroadcast(h.params, h.chain, &snode.BroadcastConfig{
		Outpoint:      known.Broadcast.Outpoint,
		Addr:          known.Broadcast.Addr,
		CollateralKey: wrongKey.CollateralKey,
		OperatorKey:   known.OperatorKey,
	}, h.now)
	if err != nil {
		t.Fatalf("unable to create broadcast: %v", err)
	}

	privateAddr := h.newNode(t, 5, "10.0.0.1:9108", h.now)
	wrongPort := h.newNode(t, 6, "1.2.3.8:19108", h.now)

	tests := []struct {
		name  string
		bcast *snwire.MsgSNBroadcast
		want  error
		ban   uint32
	}{
		{"bad signature", badSig.Broadcast, snode.ErrBadSignature, 100},
		{"spent collateral", spent.Broadcast, snode.ErrCollateralSpent, 0},
		{"collateral key mismatch", mismatch, snode.ErrKeyMismatch, 33},
		{"private address", privateAddr.Broadcast, snode.ErrBadAddress, 0},
		{"wrong port", wrongPort.Broadcast, snode.ErrBadPort, 0},
	}
	for _, test := range tests {
		added, err := h.mgr.AddOrUpdate(nil, test.bcast)
		if added {
			t.Errorf("%s: broadcast was accepted", test.name)
			continue
		}
		if !errors.Is(err, test.want) {
			t.Errorf("%s: unexpected error: got %v, want %v", test.name,
				err, test.want)
			continue
		}
		if got := snode.BanScore(err); got != test.ban {
			t.Errorf("%s: unexpected ban score: got %d, want %d",
				test.name, got, test.ban)
		}
	}
	if h.mgr.Count() != 1 {
		t.Fatalf("unexpected count %d", h.mgr.Count())
	}
}

// TestImmatureCollateralRetried ensures a broadcast rejected for a transient
// reason is processed again instead of being dropped as already seen.
func TestImmatureCollateralRetried(t *testing.T) {
	h := newHarness(t, nil)
	node, err := sntest.NewNode(h.params, h.chain, 1, "1.2.3.4:9108", 295, h.now)
	if err != nil {
		t.Fatalf("unable to create node: %v", err)
	}
	for i := 0; i < 2; i++ {
		_, err := h.mgr.AddOrUpdate(nil, node.Broadcast)
		if !errors.Is(err, snode.ErrCollateralImmature) {
			t.Fatalf("attempt %d: unexpected error: %v", i, err)
		}
		if snode.BanScore(err) != 0 || !snode.IsTransient(err) {
			t.Fatalf("attempt %d: immature collateral must be transient", i)
		}
	}
}

// TestApplyPing ensures pings are deduplicated, rate limited and verified,
// and that pings for unknown nodes ask the sender for the node.
func TestApplyPing(t *testing.T) {
	h := newHarness(t, nil)
	node := h.newNode(t, 1, "1.2.3.4:9108", h.now)
	h.add(t, h.mgr, node)
	h.transport.Relayed()
	op := node.Broadcast.Outpoint
	peer := sntest.NewPeer(1, "5.6.7.8:9108", 300)

	// Pings for unknown nodes trigger a single entry request.
	stranger := h.newNode(t, 2, "1.2.3.5:9108", h.now)
	strangerPing, err := stranger.Ping(h.params, h.chain, h.now)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		applied, err := h.mgr.ApplyPing(peer, strangerPing)
		if applied || err != nil {
			t.Fatalf("unknown node ping: applied %v, err %v", applied, err)
		}
	}
	sent := peer.Sent()
	want := []snwire.Message{&snwire.MsgSNListRequest{Outpoint: stranger.Broadcast.Outpoint}}
	if !reflect.DeepEqual(sent, want) {
		t.Fatalf("unexpected requests: %v", spew.Sdump(sent))
	}

	// Too early after the broadcast's own ping.
	h.now = h.base.Add(5 * time.Minute)
	early, _ := node.Ping(h.params, h.chain, h.now)
	if _, err := h.mgr.ApplyPing(peer, early); !errors.Is(err, snode.ErrPingTooEarly) {
		t.Fatalf("early ping: unexpected error %v", err)
	}

	// Signed by the wrong key.
	h.now = h.base.Add(11 * time.Minute)
	forged, err := snode.NewPing(h.params, h.chain, op, sntest.Key(77), h.now)
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.mgr.ApplyPing(peer, forged)
	if !errors.Is(err, snode.ErrBadSignature) || snode.BanScore(err) != 33 {
		t.Fatalf("forged ping: unexpected error %v (ban %d)", err,
			snode.BanScore(err))
	}

	// A valid ping enables the node and is relayed once.
	good, _ := node.Ping(h.params, h.chain, h.now.Add(time.Second))
	applied, err := h.mgr.ApplyPing(peer, good)
	if err != nil || !applied {
		t.Fatalf("valid ping: applied %v, err %v", applied, err)
	}
	if got := h.state(t, op); got != snode.StateEnabled {
		t.Fatalf("unexpected state %v", got)
	}
	applied, err = h.mgr.ApplyPing(peer, good)
	if err != nil || applied {
		t.Fatalf("duplicate ping: applied %v, err %v", applied, err)
	}
	relayed := h.transport.Relayed()
	if len(relayed) != 1 || relayed[0] != snwire.Message(good) {
		t.Fatalf("unexpected relayed messages: %v", spew.Sdump(relayed))
	}
	if !h.mgr.IsPingedWithin(op, time.Minute) {
		t.Fatal("node not reported as recently pinged")
	}
}

// TestNewStartRequired ensures a node silent for longer than the new start
// threshold refuses pings and is revived by a fresh broadcast.
func TestNewStartRequired(t *testing.T) {
	h := newHarness(t, nil)
	node := h.newNode(t, 1, "1.2.3.4:9108", h.now)
	h.add(t, h.mgr, node)
	op := node.Broadcast.Outpoint

	h.now = h.base.Add(snode.NewStartRequiredInterval + time.Second)
	h.mgr.Check(op)
	if got := h.state(t, op); got != snode.StateNewStartRequired {
		t.Fatalf("unexpected state %v", got)
	}

	ping, err := node.Ping(h.params, h.chain, h.now)
	if err != nil {
		t.Fatal(err)
	}
	applied, err := h.mgr.ApplyPing(nil, ping)
	if applied || !errors.Is(err, snode.ErrNewStartRequired) {
		t.Fatalf("ping after silence: applied %v, err %v", applied, err)
	}
	if got := h.state(t, op); got != snode.StateNewStartRequired {
		t.Fatalf("ping changed state to %v", got)
	}

	fresh := h.rebroadcast(t, node, "1.2.3.4:9108", h.now)
	updated, err := h.mgr.AddOrUpdate(nil, fresh)
	if err != nil || !updated {
		t.Fatalf("fresh broadcast: updated %v, err %v", updated, err)
	}
	if got := h.state(t, op); got != snode.StatePreEnabled {
		t.Fatalf("unexpected state after fresh broadcast %v", got)
	}
}

// TestPoSeBannedRefusesUpdates ensures a banned node cannot leave the ban
// through a new broadcast.
func TestPoSeBannedRefusesUpdates(t *testing.T) {
	h := newHarness(t, nil)
	node := h.enabledNode(t, 1, "1.2.3.4:9108")
	op := node.Broadcast.Outpoint

	recs := h.mgr.Records()
	recs[0].PoSeBan(1000)
	h.mgr.Restore(recs)

	fresh := h.rebroadcast(t, node, "1.2.3.4:9108", h.now.Add(time.Minute))
	updated, err := h.mgr.AddOrUpdate(nil, fresh)
	if updated || !errors.Is(err, snode.ErrPoSeBanned) {
		t.Fatalf("broadcast for banned node: updated %v, err %v", updated, err)
	}
	if got := h.state(t, op); got != snode.StatePoSeBan {
		t.Fatalf("unexpected state %v", got)
	}
}

// TestNextInQueueOldestPaid ensures the election prefers the node paid
// longest ago when the registry is small.
func TestNextInQueueOldestPaid(t *testing.T) {
	h := newHarness(t, nil)
	lastPaid := make(map[wire.OutPoint]int64)
	var want wire.OutPoint
	for seed, height := range []int64{100, 50, 200} {
		node := h.enabledNode(t, byte(seed+1), netip.AddrPortFrom(
			netip.AddrFrom4([4]byte{1, 2, 3, byte(seed + 1)}), 9108).String())
		lastPaid[node.Broadcast.Outpoint] = height
		if height == 50 {
			want = node.Broadcast.Outpoint
		}
	}
	recs := h.mgr.Records()
	for i := range recs {
		recs[i].LastPaidHeight = lastPaid[recs[i].Outpoint]
	}
	h.mgr.Restore(recs)
	checkAll(t, h.mgr)

	rec, count, ok := h.mgr.NextInQueueForPayment(300, true)
	if !ok {
		t.Fatal("no node elected")
	}
	if count != 3 {
		t.Fatalf("unexpected candidate count %d", count)
	}
	if rec.Outpoint != want {
		t.Fatalf("elected %v (last paid %d), want %v", rec.Outpoint,
			rec.LastPaidHeight, want)
	}
}

// TestNextInQueueHighestScore ensures that among the tenth of the registry
// paid longest ago the node with the highest score wins.
func TestNextInQueueHighestScore(t *testing.T) {
	h := newHarness(t, nil)
	const numNodes = 20
	for seed := byte(1); seed <= numNodes; seed++ {
		h.enabledNode(t, seed, netip.AddrPortFrom(
			netip.AddrFrom4([4]byte{1, 2, 3, seed}), 9108).String())
	}
	recs := h.mgr.Records()
	sort.Slice(recs, func(i, j int) bool {
		return bytes.Compare(recs[i].Outpoint.Hash[:], recs[j].Outpoint.Hash[:]) < 0
	})
	for i := range recs {
		recs[i].LastPaidHeight = int64(10 + i)
	}
	h.mgr.Restore(recs)
	checkAll(t, h.mgr)

	// The two nodes paid longest ago compete on score.
	scoreHash, err := h.chain.BlockHashByHeight(300 - snode.ScoreBlockOffset)
	if err != nil {
		t.Fatal(err)
	}
	want := recs[0].Outpoint
	s0 := snode.Score(scoreHash, &recs[0].Outpoint)
	s1 := snode.Score(scoreHash, &recs[1].Outpoint)
	if s1.Gt(&s0) {
		want = recs[1].Outpoint
	}

	rec, count, ok := h.mgr.NextInQueueForPayment(300, true)
	if !ok || count != numNodes {
		t.Fatalf("election failed: ok %v count %d", ok, count)
	}
	if rec.Outpoint != want {
		t.Fatalf("elected %v, want %v", rec.Outpoint, want)
	}
}

// TestNextInQueueRelaxesSigTimeFilter ensures the election falls back to the
// unfiltered candidate set when too few nodes are old enough.
func TestNextInQueueRelaxesSigTimeFilter(t *testing.T) {
	h := newHarness(t, nil)
	const numNodes = 10
	var first wire.OutPoint
	for seed := byte(1); seed <= numNodes; seed++ {
		node := h.newNode(t, seed, netip.AddrPortFrom(
			netip.AddrFrom4([4]byte{1, 2, 3, seed}), 9108).String(),
			h.now.Add(-15*time.Minute))
		h.add(t, h.mgr, node)
		h.ping(t, h.mgr, node)
		op := node.Broadcast.Outpoint
		if seed == 1 || bytes.Compare(op.Hash[:], first.Hash[:]) < 0 {
			first = op
		}
	}

	elig := h.mgr.PaymentEligibility(first, 300, true)
	if elig.Reason != snode.IneligibleTooNew {
		t.Fatalf("unexpected eligibility %v", elig)
	}
	if elig := h.mgr.PaymentEligibility(first, 300, false); !elig.IsEligible() {
		t.Fatalf("unexpected eligibility without filter %v", elig)
	}

	rec, count, ok := h.mgr.NextInQueueForPayment(300, true)
	if !ok || count != numNodes {
		t.Fatalf("election failed: ok %v count %d", ok, count)
	}
	if rec.Outpoint != first {
		t.Fatalf("elected %v, want %v", rec.Outpoint, first)
	}
}

// TestNextInQueueSkipsScheduled ensures nodes already scheduled by the ledger
// are not elected again.
func TestNextInQueueSkipsScheduled(t *testing.T) {
	h := newHarness(t, nil)
	a := h.enabledNode(t, 1, "1.2.3.1:9108")
	b := h.enabledNode(t, 2, "1.2.3.2:9108")
	scheduled := a.Broadcast.Outpoint
	mgr := registry.New(&registry.Config{
		Params:    h.params,
		Chain:     h.chain,
		Features:  h.flags,
		Transport: h.transport,
		Requests:  h.requests,
		Now:       func() time.Time { return h.now },
		IsScheduled: func(payee []byte, notHeight int64) bool {
			script, _ := snode.PayToPubKeyHashScript(h.params,
				a.Broadcast.CollateralKey)
			return bytes.Equal(payee, script)
		},
	})
	mgr.Restore(h.mgr.Records())
	checkAll(t, mgr)

	rec, count, ok := mgr.NextInQueueForPayment(300, true)
	if !ok || count != 1 {
		t.Fatalf("election failed: ok %v count %d", ok, count)
	}
	if rec.Outpoint != b.Broadcast.Outpoint {
		t.Fatalf("elected %v, scheduled node is %v", rec.Outpoint, scheduled)
	}
	elig := mgr.PaymentEligibility(scheduled, 300, true)
	if elig.Reason != snode.IneligibleScheduled {
		t.Fatalf("unexpected eligibility %v", elig)
	}
}

// TestRankDeterminism ensures ranks are a stable function of the block hash
// and the record set.
func TestRankDeterminism(t *testing.T) {
	h := newHarness(t, nil)
	for seed := byte(1); seed <= 5; seed++ {
		h.enabledNode(t, seed, netip.AddrPortFrom(
			netip.AddrFrom4([4]byte{1, 2, 3, seed}), 9108).String())
	}
	minProto := snwire.MinProtocolVersion

	first, ok := h.mgr.Ranks(300, minProto)
	if !ok || len(first) != 5 {
		t.Fatalf("unexpected ranks: ok %v len %d", ok, len(first))
	}
	second, _ := h.mgr.Ranks(300, minProto)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("ranks differ between evaluations:\n%v\n%v",
			spew.Sdump(first), spew.Sdump(second))
	}

	scoreHash, _ := h.chain.BlockHashByHeight(300 - snode.ScoreBlockOffset)
	for i, r := range first {
		if r.Rank != i+1 {
			t.Fatalf("rank %d at index %d", r.Rank, i)
		}
		rank, ok := h.mgr.Rank(r.Record.Outpoint, 300, minProto, true)
		if !ok || rank != r.Rank {
			t.Fatalf("Rank(%v) = %d, %v want %d", r.Record.Outpoint, rank,
				ok, r.Rank)
		}
		byRank, ok := h.mgr.NodeByRank(r.Rank, 300, minProto, true)
		if !ok || byRank.Outpoint != r.Record.Outpoint {
			t.Fatalf("NodeByRank(%d) = %v", r.Rank, byRank.Outpoint)
		}
		if i == 0 {
			continue
		}
		prev := snode.Score(scoreHash, &first[i-1].Record.Outpoint)
		cur := snode.Score(scoreHash, &r.Record.Outpoint)
		if cur.Gt(&prev) {
			t.Fatalf("rank %d scores higher than rank %d", r.Rank, r.Rank-1)
		}
	}

	if _, ok := h.mgr.Rank(first[0].Record.Outpoint, 50, minProto, true); ok {
		t.Fatal("rank reported for a height without a score block")
	}
}

// TestProofOfServiceSharedAddress ensures that when two nodes share an
// address only the one holding the operating key gains reputation and the
// other loses it on every verification.
func TestProofOfServiceSharedAddress(t *testing.T) {
	h := newHarness(t, nil)
	const shared = "1.2.3.4:9108"
	genuine := h.newNode(t, 1, shared, h.now)
	fake := h.newNode(t, 2, shared, h.now)
	verifier := h.newNode(t, 3, "1.2.3.9:9108", h.now)
	local := &sntest.LocalNode{
		Key:      verifier.OperatorKey,
		Outpoint: verifier.Broadcast.Outpoint,
		Started:  true,
	}
	mgr := h.newManager(local)
	observer := h.newManager(nil)
	for _, node := range []*sntest.Node{genuine, fake, verifier} {
		h.add(t, mgr, node)
		h.add(t, observer, node)
	}
	h.transport.Relayed()

	score := func(mgr *registry.Manager, node *sntest.Node) int32 {
		rec, _ := mgr.Find(node.Broadcast.Outpoint)
		return rec.PoSeBanScore
	}

	addr := netip.MustParseAddrPort(shared)
	if !mgr.SendVerifyRequest(addr, 299) {
		t.Fatal("verification request not sent")
	}
	if mgr.SendVerifyRequest(addr, 299) {
		t.Fatal("repeated verification request was sent")
	}
	sent := h.transport.SentTo(addr)
	if len(sent) != 1 {
		t.Fatalf("unexpected challenges: %v", spew.Sdump(sent))
	}
	challenge := sent[0].(*snwire.MsgVerifyChallenge)

	blockHash, _ := h.chain.BlockHashByHeight(299)
	reply := &snwire.MsgVerifyResponse{
		Addr:        addr,
		Nonce:       challenge.Nonce,
		BlockHeight: challenge.BlockHeight,
	}
	reply.Sig = snode.SignMessage(genuine.OperatorKey, h.params.MessageMagic,
		reply.SignedMessage(blockHash))
	peer := sntest.NewPeer(1, shared, 300)
	if err := mgr.ProcessVerifyReply(peer, reply); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := score(mgr, genuine); got != -1 {
		t.Fatalf("verified node score %d, want -1", got)
	}
	if got := score(mgr, fake); got != 1 {
		t.Fatalf("other node score %d, want 1", got)
	}

	err := mgr.ProcessVerifyReply(peer, reply)
	if !errors.Is(err, registry.ErrAlreadyVerified) || snode.BanScore(err) != 20 {
		t.Fatalf("repeated reply: unexpected error %v", err)
	}
	if score(mgr, genuine) != -1 || score(mgr, fake) != 1 {
		t.Fatal("repeated reply changed scores")
	}

	relayed := h.transport.Relayed()
	if len(relayed) != 1 {
		t.Fatalf("unexpected relayed messages: %v", spew.Sdump(relayed))
	}
	vb := relayed[0].(*snwire.MsgVerifyBroadcast)
	if vb.Verified != genuine.Broadcast.Outpoint || vb.Verifier != verifier.Broadcast.Outpoint {
		t.Fatalf("unexpected verification broadcast: %v", spew.Sdump(vb))
	}

	// Third parties apply the relayed verification once.
	for i := 0; i < 2; i++ {
		if err := observer.ProcessVerifyBroadcast(peer, vb); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if score(observer, genuine) != -1 || score(observer, fake) != 1 {
		t.Fatalf("observer scores %d %d", score(observer, genuine),
			score(observer, fake))
	}

	// Another verification never penalizes the verified node.
	vb2 := &snwire.MsgVerifyBroadcast{
		Addr:        addr,
		Nonce:       42,
		BlockHeight: 299,
		Verified:    genuine.Broadcast.Outpoint,
		Verifier:    verifier.Broadcast.Outpoint,
	}
	vb2.Sig1 = snode.SignMessage(genuine.OperatorKey, h.params.MessageMagic,
		vb2.ResponseMessage(blockHash))
	vb2.Sig2 = snode.SignMessage(verifier.OperatorKey, h.params.MessageMagic,
		vb2.CoSignedMessage(blockHash))
	if err := observer.ProcessVerifyBroadcast(peer, vb2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score(observer, genuine) != -2 || score(observer, fake) != 2 {
		t.Fatalf("observer scores %d %d", score(observer, genuine),
			score(observer, fake))
	}

	self := *vb2
	self.Nonce = 43
	self.Verifier = self.Verified
	err = observer.ProcessVerifyBroadcast(peer, &self)
	if !errors.Is(err, registry.ErrSelfVerify) || snode.BanScore(err) != 100 {
		t.Fatalf("self verification: unexpected error %v", err)
	}
}

// TestVerifyReplyErrors ensures unsolicited and mismatched verification
// replies are penalized.
func TestVerifyReplyErrors(t *testing.T) {
	h := newHarness(t, nil)
	node := h.newNode(t, 1, "1.2.3.4:9108", h.now)
	h.add(t, h.mgr, node)
	peer := sntest.NewPeer(1, "1.2.3.4:9108", 300)

	reply := &snwire.MsgVerifyResponse{Addr: peer.Addr(), Nonce: 1, BlockHeight: 299}
	err := h.mgr.ProcessVerifyReply(peer, reply)
	if !errors.Is(err, registry.ErrUnsolicitedVerify) || snode.BanScore(err) != 20 {
		t.Fatalf("unsolicited reply: unexpected error %v", err)
	}

	if !h.mgr.SendVerifyRequest(peer.Addr(), 299) {
		t.Fatal("verification request not sent")
	}
	challenge := h.transport.SentTo(peer.Addr())[0].(*snwire.MsgVerifyChallenge)
	reply.Nonce = challenge.Nonce + 1
	err = h.mgr.ProcessVerifyReply(peer, reply)
	if !errors.Is(err, registry.ErrVerifyMismatch) || snode.BanScore(err) != 20 {
		t.Fatalf("mismatched reply: unexpected error %v", err)
	}
}

// TestSendVerifyReply ensures a service node answers a challenge once with a
// signature from its operating key.
func TestSendVerifyReply(t *testing.T) {
	h := newHarness(t, nil)
	node := h.newNode(t, 1, "1.2.3.4:9108", h.now)
	local := &sntest.LocalNode{
		Key:      node.OperatorKey,
		Outpoint: node.Broadcast.Outpoint,
		Started:  true,
	}
	mgr := h.newManager(local)
	h.add(t, mgr, node)

	peer := sntest.NewPeer(1, "5.6.7.8:9108", 300)
	challenge := &snwire.MsgVerifyChallenge{
		Addr:        node.Broadcast.Addr,
		Nonce:       1234,
		BlockHeight: 299,
	}
	if err := mgr.SendVerifyReply(peer, challenge); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := peer.Sent()
	if len(sent) != 1 {
		t.Fatalf("unexpected replies: %v", spew.Sdump(sent))
	}
	reply := sent[0].(*snwire.MsgVerifyResponse)
	blockHash, _ := h.chain.BlockHashByHeight(299)
	err := snode.VerifyMessage(node.Broadcast.OperatorKey, reply.Sig,
		h.params.MessageMagic, reply.SignedMessage(blockHash))
	if err != nil {
		t.Fatalf("reply signature does not verify: %v", err)
	}

	err = mgr.SendVerifyReply(peer, challenge)
	if !errors.Is(err, registry.ErrVerifyRequestRepeat) || snode.BanScore(err) != 20 {
		t.Fatalf("repeated challenge: unexpected error %v", err)
	}
}

// TestListRequests ensures full registry requests are answered with every
// servable record and a status count, and repeated ones are penalized.
func TestListRequests(t *testing.T) {
	h := newHarness(t, nil)
	a := h.enabledNode(t, 1, "1.2.3.1:9108")
	h.enabledNode(t, 2, "1.2.3.2:9108")

	peer := sntest.NewPeer(1, "5.6.7.8:9108", 300)
	if err := h.mgr.HandleListRequest(peer, &snwire.MsgSNListRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := peer.Sent()
	if len(sent) != 5 {
		t.Fatalf("expected 2 broadcasts, 2 pings and a status, got %v",
			spew.Sdump(sent))
	}
	status, ok := sent[4].(*snwire.MsgSyncStatus)
	if !ok || status.Item != snwire.SyncItemList || status.Count != 2 {
		t.Fatalf("unexpected status: %v", spew.Sdump(sent[4]))
	}

	err := h.mgr.HandleListRequest(peer, &snwire.MsgSNListRequest{})
	if !errors.Is(err, registry.ErrListRequestRepeat) || snode.BanScore(err) != 34 {
		t.Fatalf("repeated request: unexpected error %v", err)
	}

	// Single entries are always served.
	single := &snwire.MsgSNListRequest{Outpoint: a.Broadcast.Outpoint}
	if err := h.mgr.HandleListRequest(peer, single); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent := peer.Sent(); len(sent) != 2 {
		t.Fatalf("expected a broadcast and a ping, got %v", spew.Sdump(sent))
	}

	// Peers on private networks are not throttled.
	local := sntest.NewPeer(2, "192.168.1.2:9108", 300)
	for i := 0; i < 2; i++ {
		if err := h.mgr.HandleListRequest(local, &snwire.MsgSNListRequest{}); err != nil {
			t.Fatalf("private peer request %d: %v", i, err)
		}
	}

	if !h.mgr.RequestList(peer) {
		t.Fatal("list request not sent")
	}
	if h.mgr.RequestList(peer) {
		t.Fatal("repeated list request was sent")
	}
}

// TestCheckAndRemoveSpent ensures records whose collateral is spent are
// removed by maintenance.
func TestCheckAndRemoveSpent(t *testing.T) {
	h := newHarness(t, nil)
	a := h.enabledNode(t, 1, "1.2.3.1:9108")
	b := h.enabledNode(t, 2, "1.2.3.2:9108")

	h.chain.Spend(a.Broadcast.Outpoint)
	h.now = h.now.Add(time.Minute)
	h.mgr.CheckAndRemove(context.Background())
	if h.mgr.Has(a.Broadcast.Outpoint) {
		t.Fatal("spent node was not removed")
	}
	if !h.mgr.Has(b.Broadcast.Outpoint) || h.mgr.Count() != 1 {
		t.Fatalf("unexpected registry size %d", h.mgr.Count())
	}
}

// recoverySetup adds a node along with seven enabled nodes and advances the
// clock until the first one needs a new start and recovery requests were sent
// to the others.
func recoverySetup(t *testing.T) (*testHarness, *sntest.Node, []*sntest.Node) {
	t.Helper()
	h := newHarness(t, nil)
	t0 := h.now
	target := h.newNode(t, 1, "1.2.3.1:9108", t0)
	h.add(t, h.mgr, target)

	const numOthers = 7
	others := make([]*sntest.Node, 0, numOthers)
	for seed := byte(10); seed < 10+numOthers; seed++ {
		node := h.newNode(t, seed, netip.AddrPortFrom(
			netip.AddrFrom4([4]byte{1, 2, 3, seed}), 9108).String(), t0)
		h.add(t, h.mgr, node)
		others = append(others, node)
	}
	h.now = t0.Add(175 * time.Minute)
	for _, node := range others {
		h.ping(t, h.mgr, node)
	}

	h.now = t0.Add(snode.NewStartRequiredInterval + time.Minute)
	h.mgr.CheckAndRemove(context.Background())
	op := target.Broadcast.Outpoint
	if got := h.state(t, op); got != snode.StateNewStartRequired {
		t.Fatalf("unexpected state %v", got)
	}

	// Every other enabled node is asked.
	for _, node := range others {
		addr := node.Broadcast.Addr
		sent := h.transport.SentTo(addr)
		want := []snwire.Message{&snwire.MsgSNListRequest{Outpoint: op}}
		if !reflect.DeepEqual(sent, want) {
			t.Fatalf("unexpected recovery request to %v: %v", addr,
				spew.Sdump(sent))
		}
	}
	return h, target, others
}

// recoveryReply returns a copy of the broadcast of node carrying a ping
// signed at the current clock.
func (h *testHarness) recoveryReply(t *testing.T, node *sntest.Node) *snwire.MsgSNBroadcast {
	t.Helper()
	ping, err := node.Ping(h.params, h.chain, h.now)
	if err != nil {
		t.Fatal(err)
	}
	reply := *node.Broadcast
	reply.LastPing = *ping
	return &reply
}

// TestRecovery ensures a node this process believes needs a new start is
// kept when a quorum of other nodes has fresher pings for it.
func TestRecovery(t *testing.T) {
	h, target, others := recoverySetup(t)
	op := target.Broadcast.Outpoint

	// Six of the asked nodes reply with a fresher ping.
	for i, node := range others[:6] {
		peer := sntest.NewPeer(int32(i), node.Broadcast.Addr.String(), 300)
		if _, err := h.mgr.AddOrUpdate(peer, h.recoveryReply(t, target)); err != nil {
			t.Fatalf("recovery reply: %v", err)
		}
	}

	h.now = h.now.Add(2 * time.Minute)
	h.mgr.CheckAndRemove(context.Background())
	if got := h.state(t, op); got != snode.StateEnabled {
		t.Fatalf("node was not recovered, state %v", got)
	}
}

// TestRecoveryRepeatedReply ensures replies repeated by a single asked node
// only count once towards the recovery quorum.
func TestRecoveryRepeatedReply(t *testing.T) {
	h, target, others := recoverySetup(t)
	op := target.Broadcast.Outpoint

	reply := h.recoveryReply(t, target)
	peer := sntest.NewPeer(0, others[0].Broadcast.Addr.String(), 300)
	for i := 0; i < 6; i++ {
		if _, err := h.mgr.AddOrUpdate(peer, reply); err != nil {
			t.Fatalf("recovery reply %d: %v", i, err)
		}
	}

	// Replies from nodes that were never asked are not counted either.
	stranger := sntest.NewPeer(1, "5.6.7.8:9108", 300)
	if _, err := h.mgr.AddOrUpdate(stranger, reply); err != nil {
		t.Fatalf("unsolicited reply: %v", err)
	}

	h.now = h.now.Add(2 * time.Minute)
	h.mgr.CheckAndRemove(context.Background())
	if got := h.state(t, op); got != snode.StateNewStartRequired {
		t.Fatalf("node recovered without a quorum, state %v", got)
	}
}

// TestCheckAndRemoveCancelled ensures a maintenance pass stops without
// changing any record once its context is cancelled.
func TestCheckAndRemoveCancelled(t *testing.T) {
	h := newHarness(t, nil)
	a := h.enabledNode(t, 1, "1.2.3.1:9108")
	h.enabledNode(t, 2, "1.2.3.2:9108")
	before := h.state(t, a.Broadcast.Outpoint)
	h.chain.Spend(a.Broadcast.Outpoint)
	h.now = h.now.Add(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.mgr.CheckAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("CheckAll: got %v, want %v", err, context.Canceled)
	}
	h.mgr.CheckAndRemove(ctx)
	if !h.mgr.Has(a.Broadcast.Outpoint) || h.mgr.Count() != 2 {
		t.Fatalf("cancelled maintenance changed the registry (%d records)",
			h.mgr.Count())
	}
	if got := h.state(t, a.Broadcast.Outpoint); got != before {
		t.Fatalf("cancelled maintenance changed the state %v -> %v",
			before, got)
	}

	h.mgr.CheckAndRemove(context.Background())
	if h.mgr.Has(a.Broadcast.Outpoint) {
		t.Fatal("spent node was not removed")
	}
}

// TestProcessBatchOrdering ensures a ping is applied when the broadcast it
// refers to follows it in the same batch, while the same ping alone is not.
func TestProcessBatchOrdering(t *testing.T) {
	h := newHarness(t, nil)
	node := h.newNode(t, 1, "1.2.3.1:9108", h.now.Add(-15*time.Minute))
	ping, err := node.Ping(h.params, h.chain, h.now)
	if err != nil {
		t.Fatal(err)
	}
	peer := sntest.NewPeer(1, "5.6.7.8:9108", 300)

	// A ping for an unknown node is not applied and its broadcast is
	// requested instead.
	alone := h.newManager(nil)
	if applied, err := alone.ApplyPing(peer, ping); err != nil || applied {
		t.Fatalf("lone ping: applied %v, err %v", applied, err)
	}

	batch := []snwire.Message{ping, node.Broadcast}
	applied, err := h.mgr.ProcessBatch(peer, batch)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if applied != 2 {
		t.Fatalf("applied %d messages, want 2", applied)
	}
	rec, ok := h.mgr.Find(node.Broadcast.Outpoint)
	if !ok {
		t.Fatal("broadcast was not applied")
	}
	if rec.LastPing.SigTime != ping.SigTime {
		t.Fatalf("last ping signed at %d, want %d", rec.LastPing.SigTime,
			ping.SigTime)
	}
}

// TestUpdateLastPaid ensures payments found in coinbase transactions with
// enough votes update the last paid height of the payee.
func TestUpdateLastPaid(t *testing.T) {
	h := newHarness(t, nil)
	node := h.enabledNode(t, 1, "1.2.3.1:9108")
	payee, err := snode.PayToPubKeyHashScript(h.params, node.Broadcast.CollateralKey)
	if err != nil {
		t.Fatal(err)
	}

	coinbase := wire.NewMsgTx()
	coinbase.AddTxOut(wire.NewTxOut(500, payee))
	block := h.chain.ConnectBlock(coinbase)
	h.chain.ConnectBlock(nil)
	paidHeight := int64(block.Header.Height)

	mgr := registry.New(&registry.Config{
		Params:    h.params,
		Chain:     h.chain,
		Features:  h.flags,
		Transport: h.transport,
		Requests:  h.requests,
		Now:       func() time.Time { return h.now },
		PayeesWithVotes: func(height int64, minVotes int) [][]byte {
			if height == paidHeight && minVotes <= 2 {
				return [][]byte{payee}
			}
			return nil
		},
		PaymentAmount: func(int64) int64 { return 500 },
	})
	mgr.Restore(h.mgr.Records())

	_, tip := h.chain.BestBlock()
	mgr.UpdateLastPaid(tip)
	rec, _ := mgr.Find(node.Broadcast.Outpoint)
	if rec.LastPaidHeight != paidHeight {
		t.Fatalf("last paid height %d, want %d", rec.LastPaidHeight, paidHeight)
	}
	if rec.LastPaidTime != block.Header.Timestamp.Unix() {
		t.Fatalf("last paid time %d, want %d", rec.LastPaidTime,
			block.Header.Timestamp.Unix())
	}
}
