// Copyright (c) 2026 The plotproto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package indexer implements component I: it walks confirmed blocks from
// the node, classifies each transaction, folds the resulting events into
// canvas state, and persists the new tip, one block at a time.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/toole-brendan/plotproto/canvas"
	"github.com/toole-brendan/plotproto/chaincfg"
	"github.com/toole-brendan/plotproto/classifier"
	"github.com/toole-brendan/plotproto/rpcnode"
	"github.com/toole-brendan/plotproto/store"
)

// Indexer drives the fetch -> classify -> apply -> persist loop of §4.I.
type Indexer struct {
	node   rpcnode.Node
	store  *store.Store
	params chaincfg.Params
	engine *canvas.Engine
}

// New returns an Indexer reading node and persisting into st, against the
// network parameters in params (used by the classifier to decode
// addresses).
func New(node rpcnode.Node, st *store.Store, params chaincfg.Params) *Indexer {
	return &Indexer{node: node, store: st, params: params, engine: canvas.NewEngine()}
}

// Run walks every block from the last persisted tip (or genesis, if none)
// up to the node's current best block, applying and persisting one block
// at a time. Cancellation is block-atomic: ctx is checked only between
// blocks, per §5, never in the middle of a block's fold. RPC calls are
// retried with exponential backoff per block before Run gives up.
func (idx *Indexer) Run(ctx context.Context) error {
	state, err := idx.store.LoadTip()
	if err != nil {
		return fmt.Errorf("indexer: loading persisted tip: %w", err)
	}
	if state == nil {
		state = canvas.NewGenesisState()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var bestHeight int64
		if err := idx.retry(ctx, func() error {
			bestHash, err := idx.node.BestBlockHash(ctx)
			if err != nil {
				return err
			}
			info, err := idx.node.BlockByHash(ctx, bestHash)
			if err != nil {
				return err
			}
			bestHeight = info.Height
			return nil
		}); err != nil {
			return fmt.Errorf("indexer: fetching best block: %w", err)
		}

		nextHeight := int64(state.BlockHeight) + 1
		if nextHeight > bestHeight {
			return nil // caught up
		}

		next, err := idx.indexOneBlock(ctx, state, nextHeight)
		if err != nil {
			return err
		}
		if err := idx.store.SaveState(next); err != nil {
			return fmt.Errorf("indexer: persisting height %d: %w", nextHeight, err)
		}
		state = next
	}
}

// indexOneBlock fetches, classifies and folds exactly one block. The
// fetch is retried as a unit; once classification begins it always
// succeeds (classifier/canvas never error, per their own contracts).
func (idx *Indexer) indexOneBlock(ctx context.Context, prev *canvas.State, height int64) (*canvas.State, error) {
	var (
		blockHash canvas.PlotID
		block     rpcnode.BlockInfo
		txs       []rpcnode.Transaction
	)
	err := idx.retry(ctx, func() error {
		hash, err := idx.node.BlockHashAtHeight(ctx, height)
		if err != nil {
			return err
		}
		info, err := idx.node.BlockByHash(ctx, hash)
		if err != nil {
			return err
		}
		fetched := make([]rpcnode.Transaction, len(info.TxIDs))
		for i, txid := range info.TxIDs {
			tx, err := idx.node.RawTransaction(ctx, txid)
			if err != nil {
				return err
			}
			fetched[i] = tx
		}
		blockHash, block, txs = hash, info, fetched
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("indexer: fetching block at height %d: %w", height, err)
	}

	// Fold one transaction at a time, against a running state that each
	// iteration updates: per §4.D, effects of an earlier transaction in
	// this block must already be visible to the classifier and engine
	// when a later transaction in the same block is processed (e.g. a
	// CLAIM followed by a TRANSFER of the same new deed, both in this
	// block). Classifying the whole block in one batch against prev
	// would miss that; txCount stays the block's full count on every
	// call since it never changes within a block.
	addrParams := idx.params.Net.AddressParams()
	running := prev
	totalEvents := 0
	for _, t := range txs {
		events := classifier.Classify(t.Tx, running, addrParams)
		totalEvents += len(events)
		running = idx.engine.ApplyBlock(running, blockHash, prev.BlockHash, int32(height), len(txs), events)
	}

	log.Debugf("indexed height %d (%s): %d txs, %d events", height, blockHash, len(block.TxIDs), totalEvents)
	return running, nil
}

// retry runs fn with exponential backoff until it succeeds, ctx is
// cancelled, or the backoff policy gives up.
func (idx *Indexer) retry(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 2 * time.Minute
	return backoff.Retry(fn, backoff.WithContext(policy, ctx))
}
