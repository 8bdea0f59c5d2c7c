// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/container/lru"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/rpcclient/v8"
	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/snode"
)

const (
	// rpcTimeout bounds every request made to the base node.
	rpcTimeout = 30 * time.Second

	// tipPollInterval is how often the base node is asked for its tip.
	tipPollInterval = 5 * time.Second

	// maxCachedHeaders and maxCachedBlocks bound the caches of immutable
	// chain data fetched from the base node.
	maxCachedHeaders = 2048
	maxCachedBlocks  = 32

	// maxConnectedPerPoll is the maximum number of connected block
	// notifications delivered for a single tip change.
	maxConnectedPerPoll = 10
)

// rpcChain implements snode.ChainView on top of the RPC server of a base node.
// The tip is refreshed by Run while lookups go to the base node on demand.
type rpcChain struct {
	client *rpcclient.Client

	headers *lru.Map[chainhash.Hash, *wire.BlockHeader]
	blocks  *lru.Map[chainhash.Hash, *wire.MsgBlock]

	mtx       sync.RWMutex
	tipHash   chainhash.Hash
	tipHeight int64
	current   bool
}

var _ snode.ChainView = (*rpcChain)(nil)

// newRPCChain connects to the base node described by the configuration.
func newRPCChain(cfg *config) (*rpcChain, error) {
	var certs []byte
	if !cfg.NoRPCTLS {
		var err error
		certs, err = os.ReadFile(cfg.RPCCert)
		if err != nil {
			return nil, fmt.Errorf("unable to read RPC certificate: %w", err)
		}
	}
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.RPCServer,
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPass,
		Certificates: certs,
		DisableTLS:   cfg.NoRPCTLS,
		HTTPPostMode: true,
	}
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create RPC client: %w", err)
	}
	return &rpcChain{
		client:  client,
		headers: lru.NewMap[chainhash.Hash, *wire.BlockHeader](maxCachedHeaders),
		blocks:  lru.NewMap[chainhash.Hash, *wire.MsgBlock](maxCachedBlocks),
	}, nil
}

// BestBlock returns the most recently polled tip.
func (c *rpcChain) BestBlock() (chainhash.Hash, int64) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.tipHash, c.tipHeight
}

// IsCurrent returns whether the base node reported it finished its initial
// block download.
func (c *rpcChain) IsCurrent() bool {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.current
}

// BlockHashByHeight returns the hash of the main chain block at height.
func (c *rpcChain) BlockHashByHeight(height int64) (*chainhash.Hash, error) {
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	return c.client.GetBlockHash(ctx, height)
}

// HeaderByHash returns the header of the block with the given hash.
func (c *rpcChain) HeaderByHash(hash *chainhash.Hash) (*wire.BlockHeader, error) {
	if header, ok := c.headers.Get(*hash); ok {
		return header, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	header, err := c.client.GetBlockHeader(ctx, hash)
	if err != nil {
		return nil, err
	}
	c.headers.Put(*hash, header)
	return header, nil
}

// BlockByHash returns the block with the given hash.
func (c *rpcChain) BlockByHash(hash *chainhash.Hash) (*wire.MsgBlock, error) {
	if block, ok := c.blocks.Get(*hash); ok {
		return block, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	block, err := c.client.GetBlock(ctx, hash)
	if err != nil {
		return nil, err
	}
	c.blocks.Put(*hash, block)
	return block, nil
}

// FetchUtxoEntry returns the unspent output referenced by op or nil when it
// is spent or unknown.
func (c *rpcChain) FetchUtxoEntry(op wire.OutPoint) (*snode.UtxoEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	res, err := c.client.GetTxOut(ctx, &op.Hash, op.Index, op.Tree, false)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	amount, err := dcrutil.NewAmount(res.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid amount for %v: %w", op, err)
	}
	script, err := hex.DecodeString(res.ScriptPubKey.Hex)
	if err != nil {
		return nil, fmt.Errorf("invalid script for %v: %w", op, err)
	}

	_, tip := c.BestBlock()
	return &snode.UtxoEntry{
		Amount:        int64(amount),
		ScriptVersion: res.ScriptPubKey.Version,
		PkScript:      script,
		BlockHeight:   utxoHeight(tip, res.Confirmations),
	}, nil
}

// utxoHeight returns the height of the block that mined an output with the
// given number of confirmations.  Unconfirmed outputs are placed right after
// the tip.
func utxoHeight(tip, confirmations int64) int64 {
	if confirmations <= 0 {
		return tip + 1
	}
	return tip - confirmations + 1
}

// refresh polls the tip and sync state of the base node.  It returns the
// heights connected since the previous poll.
func (c *rpcChain) refresh(ctx context.Context) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	hash, height, err := c.client.GetBestBlock(ctx)
	if err != nil {
		return nil, err
	}
	info, err := c.client.GetBlockChainInfo(ctx)
	if err != nil {
		return nil, err
	}

	c.mtx.Lock()
	prevHash, prevHeight := c.tipHash, c.tipHeight
	c.tipHash = *hash
	c.tipHeight = height
	c.current = !info.InitialBlockDownload
	c.mtx.Unlock()

	if prevHash == *hash || prevHash == (chainhash.Hash{}) {
		return nil, nil
	}
	first := prevHeight + 1
	if first > height {
		first = height
	}
	if height-first >= maxConnectedPerPoll {
		first = height - maxConnectedPerPoll + 1
	}
	connected := make([]int64, 0, height-first+1)
	for h := first; h <= height; h++ {
		connected = append(connected, h)
	}
	return connected, nil
}

// Run polls the base node until the context is cancelled and invokes
// onConnected for every newly connected block height.
func (c *rpcChain) Run(ctx context.Context, onConnected func(height int64)) {
	ticker := time.NewTicker(tipPollInterval)
	defer ticker.Stop()
	for {
		connected, err := c.refresh(ctx)
		if err != nil && ctx.Err() == nil {
			srvrLog.Warnf("Unable to query base node: %v", err)
		}
		for _, height := range connected {
			onConnected(height)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			c.client.Shutdown()
			return
		}
	}
}
