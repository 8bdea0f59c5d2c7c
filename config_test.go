// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"net/netip"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

// TestParseOutPoint ensures collateral outpoints are parsed from the txid:index
// form.
func TestParseOutPoint(t *testing.T) {
	const txid = "4b6b1d7ab0e7a53c5b1e0f6d1e3c0e5a9a9b5a8b7c6d5e4f3a2b1c0d9e8f7a6b"
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		t.Fatalf("unable to parse hash: %v", err)
	}

	tests := []struct {
		name  string
		input string
		want  *wire.OutPoint
	}{{
		name:  "valid",
		input: txid + ":1",
		want:  wire.NewOutPoint(hash, 1, wire.TxTreeRegular),
	}, {
		name:  "missing index",
		input: txid,
	}, {
		name:  "bad hash",
		input: "zz:1",
	}, {
		name:  "negative index",
		input: txid + ":-1",
	}, {
		name:  "index overflow",
		input: txid + ":4294967296",
	}}

	for _, test := range tests {
		got, err := parseOutPoint(test.input)
		if test.want == nil {
			if err == nil {
				t.Errorf("%s: expected error, got %v", test.name, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
			continue
		}
		if *got != *test.want {
			t.Errorf("%s: got %v, want %v", test.name, got, test.want)
		}
	}
}

// TestParseWhitelist ensures whitelist entries accept networks and single
// addresses.
func TestParseWhitelist(t *testing.T) {
	tests := []struct {
		input string
		want  string
		err   bool
	}{
		{input: "192.168.1.0/24", want: "192.168.1.0/24"},
		{input: "192.168.1.77/24", want: "192.168.1.0/24"},
		{input: "10.0.0.1", want: "10.0.0.1/32"},
		{input: "::ffff:10.0.0.1", want: "10.0.0.1/32"},
		{input: "::1", want: "::1/128"},
		{input: "10.0.0.0/33", err: true},
		{input: "example.com", err: true},
	}

	for _, test := range tests {
		got, err := parseWhitelist(test.input)
		if test.err {
			if err == nil {
				t.Errorf("%q: expected error, got %v", test.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", test.input, err)
			continue
		}
		if got.String() != test.want {
			t.Errorf("%q: got %v, want %v", test.input, got, test.want)
		}
	}
}

// TestParseAddrPort ensures addresses get the default port when none is
// given.
func TestParseAddrPort(t *testing.T) {
	tests := []struct {
		input string
		want  string
		err   bool
	}{
		{input: "1.2.3.4", want: "1.2.3.4:9108"},
		{input: "1.2.3.4:1234", want: "1.2.3.4:1234"},
		{input: "[::1]:1234", want: "[::1]:1234"},
		{input: "::1", want: "[::1]:9108"},
		{input: "[::ffff:1.2.3.4]:1234", want: "1.2.3.4:1234"},
		{input: "example.com", err: true},
	}

	for _, test := range tests {
		got, err := parseAddrPort(test.input, 9108)
		if test.err {
			if err == nil {
				t.Errorf("%q: expected error, got %v", test.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", test.input, err)
			continue
		}
		if got.String() != test.want {
			t.Errorf("%q: got %v, want %v", test.input, got, test.want)
		}
	}
}

// TestLoadConfig ensures the command line is applied on top of the defaults
// and the derived fields are populated.
func TestLoadConfig(t *testing.T) {
	appData := t.TempDir()
	args := []string{
		"--appdata=" + appData,
		"--nofilelogging",
		"--regnet",
		"--connect=127.0.0.1",
		"--externalip=1.2.3.4:9999",
		"--whitelist=10.0.0.0/8",
		"--snreward=1.5",
	}
	cfg, _, err := loadConfig("snoded", args)
	if err != nil {
		t.Fatalf("unable to load config: %v", err)
	}

	if cfg.params != &regNetParams {
		t.Fatalf("unexpected network %s", cfg.params.Name)
	}
	wantDataDir := filepath.Join(appData, defaultDataDirname, cfg.params.Name)
	if cfg.DataDir != wantDataDir {
		t.Errorf("data dir: got %q, want %q", cfg.DataDir, wantDataDir)
	}

	port := cfg.params.sn.Port
	wantListen := ":" + strconv.Itoa(int(port))
	if len(cfg.listenAddrs) != 1 || cfg.listenAddrs[0] != wantListen {
		t.Errorf("listen addresses: got %v, want [%s]", cfg.listenAddrs,
			wantListen)
	}
	wantPeer := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port)
	if len(cfg.connectPeers) != 1 || cfg.connectPeers[0] != wantPeer {
		t.Errorf("connect peers: got %v, want [%v]", cfg.connectPeers,
			wantPeer)
	}
	if want := netip.MustParseAddrPort("1.2.3.4:9999"); cfg.externalAddr != want {
		t.Errorf("external address: got %v, want %v", cfg.externalAddr, want)
	}
	if len(cfg.whitelists) != 1 || cfg.whitelists[0].String() != "10.0.0.0/8" {
		t.Errorf("whitelists: got %v", cfg.whitelists)
	}
	if cfg.snReward != 150000000 {
		t.Errorf("service node reward: got %d, want 150000000",
			int64(cfg.snReward))
	}
	if cfg.RPCServer != "localhost:"+regNetParams.rpcPort {
		t.Errorf("rpc server: got %q", cfg.RPCServer)
	}
	if cfg.operatorKey != nil || cfg.collateral != nil {
		t.Error("service node keys set without servicenode option")
	}
	if !fileExists(filepath.Join(appData, defaultConfigFilename)) {
		t.Error("default config file was not created")
	}
}

// TestLoadConfigErrors ensures invalid option combinations are rejected.
func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{{
		name: "multiple networks",
		args: []string{"--testnet", "--regnet"},
	}, {
		name: "servicenode without key",
		args: []string{"--regnet", "--servicenode"},
	}, {
		name: "invalid servicenode key",
		args: []string{"--regnet", "--servicenode", "--servicenodekey=bogus"},
	}, {
		name: "invalid connect address",
		args: []string{"--regnet", "--connect=example.com"},
	}, {
		name: "invalid whitelist",
		args: []string{"--regnet", "--whitelist=bogus"},
	}, {
		name: "negative reward",
		args: []string{"--regnet", "--snreward=-1"},
	}, {
		name: "short ban duration",
		args: []string{"--regnet", "--banduration=1ms"},
	}}

	for _, test := range tests {
		args := append([]string{"--appdata=" + t.TempDir(),
			"--nofilelogging"}, test.args...)
		if _, _, err := loadConfig("snoded", args); err == nil {
			t.Errorf("%s: expected error", test.name)
		}
	}
}
