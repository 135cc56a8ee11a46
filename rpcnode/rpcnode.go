// Copyright (c) 2026 The plotproto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package rpcnode is the façade over the node operations listed in §6: a
// thin interface so indexer and builder depend on behavior, not on a
// concrete rpcclient.Client, and can be exercised against a fake in tests.
package rpcnode

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// BlockInfo is the subset of a block's contents the indexer needs: its
// identity and the txids it contains, in serialization order.
type BlockInfo struct {
	Hash   chainhash.Hash
	Height int64
	TxIDs  []chainhash.Hash
}

// Transaction pairs a decoded transaction with the value, in base units,
// of each of its previous outputs. Client.RawTransaction fills
// PrevOutValue with one extra getrawtransaction call per input.
type Transaction struct {
	Tx           *wire.MsgTx
	PrevOutValue []int64
}

// FundOptions controls FundRawTransaction per §4.E's fee model.
type FundOptions struct {
	FeeRate       float64 // sat/vB
	ChangeAddress string
	AddInputs     bool
}

// Unspent mirrors the fields of listunspent this module consumes.
type Unspent struct {
	Outpoint wire.OutPoint
	Address  string
	Amount   btcutil.Amount
}

// Node is every operation §6 requires of the underlying node. Equivalent
// calls on any node exposing a JSON-RPC-style API satisfy it.
type Node interface {
	BestBlockHash(ctx context.Context) (chainhash.Hash, error)
	BlockHashAtHeight(ctx context.Context, height int64) (chainhash.Hash, error)
	BlockByHash(ctx context.Context, hash chainhash.Hash) (BlockInfo, error)
	RawTransaction(ctx context.Context, txid chainhash.Hash) (Transaction, error)

	CreateRawTransaction(ctx context.Context, inputs []wire.OutPoint, outputs map[string]btcutil.Amount) (*wire.MsgTx, error)
	FundRawTransaction(ctx context.Context, tx *wire.MsgTx, opts FundOptions) (*wire.MsgTx, btcutil.Amount, error)
	SignRawTransactionWithWallet(ctx context.Context, tx *wire.MsgTx) (*wire.MsgTx, bool, error)
	SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error)

	GetNewAddress(ctx context.Context) (btcutil.Address, error)
	ListUnspent(ctx context.Context) ([]Unspent, error)
	LockUnspent(ctx context.Context, unlock bool, outpoints []wire.OutPoint) error
	ListLockUnspent(ctx context.Context) ([]wire.OutPoint, error)
	WalletPassphrase(ctx context.Context, passphrase string, timeoutSecs int64) error
}

// Client implements Node over github.com/btcsuite/btcd/rpcclient, the
// JSON-RPC client the btcsuite/btcd stack already ships.
type Client struct {
	rpc *rpcclient.Client
}

// Dial connects to a node's JSON-RPC endpoint per cfg.
func Dial(cfg *rpcclient.ConnConfig) (*Client, error) {
	c, err := rpcclient.New(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("rpcnode: dial: %w", err)
	}
	return &Client{rpc: c}, nil
}

// Shutdown releases the underlying connection.
func (c *Client) Shutdown() {
	c.rpc.Shutdown()
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (c *Client) BestBlockHash(ctx context.Context) (chainhash.Hash, error) {
	if err := ctxErr(ctx); err != nil {
		return chainhash.Hash{}, err
	}
	h, err := c.rpc.GetBestBlockHash()
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("rpcnode: getbestblockhash: %w", err)
	}
	return *h, nil
}

func (c *Client) BlockHashAtHeight(ctx context.Context, height int64) (chainhash.Hash, error) {
	if err := ctxErr(ctx); err != nil {
		return chainhash.Hash{}, err
	}
	h, err := c.rpc.GetBlockHash(height)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("rpcnode: getblockhash(%d): %w", height, err)
	}
	return *h, nil
}

func (c *Client) BlockByHash(ctx context.Context, hash chainhash.Hash) (BlockInfo, error) {
	if err := ctxErr(ctx); err != nil {
		return BlockInfo{}, err
	}
	verbose, err := c.rpc.GetBlockVerbose(&hash)
	if err != nil {
		return BlockInfo{}, fmt.Errorf("rpcnode: getblock(%s): %w", hash, err)
	}
	txids := make([]chainhash.Hash, 0, len(verbose.Tx))
	for _, s := range verbose.Tx {
		h, err := chainhash.NewHashFromStr(s)
		if err != nil {
			return BlockInfo{}, fmt.Errorf("rpcnode: malformed txid %q in block %s: %w", s, hash, err)
		}
		txids = append(txids, *h)
	}
	return BlockInfo{Hash: hash, Height: int64(verbose.Height), TxIDs: txids}, nil
}

func (c *Client) RawTransaction(ctx context.Context, txid chainhash.Hash) (Transaction, error) {
	if err := ctxErr(ctx); err != nil {
		return Transaction{}, err
	}
	raw, err := c.rpc.GetRawTransactionVerbose(&txid)
	if err != nil {
		return Transaction{}, fmt.Errorf("rpcnode: getrawtransaction(%s): %w", txid, err)
	}
	txBytes, err := hex.DecodeString(raw.Hex)
	if err != nil {
		return Transaction{}, fmt.Errorf("rpcnode: decoding tx hex for %s: %w", txid, err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(txBytes)); err != nil {
		return Transaction{}, fmt.Errorf("rpcnode: deserializing tx %s: %w", txid, err)
	}

	prevValues := make([]int64, len(tx.TxIn))
	for i, in := range tx.TxIn {
		prevRaw, err := c.rpc.GetRawTransactionVerbose(&in.PreviousOutPoint.Hash)
		if err != nil {
			return Transaction{}, fmt.Errorf("rpcnode: fetching prevout for %s:%d: %w", txid, i, err)
		}
		if int(in.PreviousOutPoint.Index) >= len(prevRaw.Vout) {
			return Transaction{}, fmt.Errorf("rpcnode: prevout index %d out of range for %s", in.PreviousOutPoint.Index, in.PreviousOutPoint.Hash)
		}
		amount, err := btcutil.NewAmount(prevRaw.Vout[in.PreviousOutPoint.Index].Value)
		if err != nil {
			return Transaction{}, fmt.Errorf("rpcnode: parsing prevout value: %w", err)
		}
		prevValues[i] = int64(amount)
	}
	return Transaction{Tx: tx, PrevOutValue: prevValues}, nil
}

func (c *Client) CreateRawTransaction(ctx context.Context, inputs []wire.OutPoint, outputs map[string]btcutil.Amount) (*wire.MsgTx, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	jsonInputs := make([]btcjson.TransactionInput, len(inputs))
	for i, op := range inputs {
		jsonInputs[i] = btcjson.TransactionInput{Txid: op.Hash.String(), Vout: op.Index}
	}
	amounts := make(map[btcutil.Address]btcutil.Amount, len(outputs))
	for addrStr, amt := range outputs {
		addr, err := btcutil.DecodeAddress(addrStr, nil)
		if err != nil {
			return nil, fmt.Errorf("rpcnode: decoding output address %q: %w", addrStr, err)
		}
		amounts[addr] = amt
	}
	tx, err := c.rpc.CreateRawTransaction(jsonInputs, amounts, nil)
	if err != nil {
		return nil, fmt.Errorf("rpcnode: createrawtransaction: %w", err)
	}
	return tx, nil
}

func (c *Client) FundRawTransaction(ctx context.Context, tx *wire.MsgTx, opts FundOptions) (*wire.MsgTx, btcutil.Amount, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, 0, err
	}
	feeRate := btcutil.Amount(opts.FeeRate * 1e3) // sat/vB -> sat/kvB, the unit fundrawtransaction expects
	jsonOpts := btcjson.FundRawTransactionOpts{
		FeeRate:   &feeRate,
		AddInputs: &opts.AddInputs,
	}
	if opts.ChangeAddress != "" {
		jsonOpts.ChangeAddress = &opts.ChangeAddress
	}
	result, err := c.rpc.FundRawTransaction(tx, jsonOpts, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("rpcnode: fundrawtransaction: %w", err)
	}
	return result.Transaction, result.Fee, nil
}

func (c *Client) SignRawTransactionWithWallet(ctx context.Context, tx *wire.MsgTx) (*wire.MsgTx, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, false, err
	}
	signed, complete, err := c.rpc.SignRawTransactionWithWallet(tx)
	if err != nil {
		return nil, false, fmt.Errorf("rpcnode: signrawtransactionwithwallet: %w", err)
	}
	return signed, complete, nil
}

func (c *Client) SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	if err := ctxErr(ctx); err != nil {
		return chainhash.Hash{}, err
	}
	h, err := c.rpc.SendRawTransaction(tx, false)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("rpcnode: sendrawtransaction: %w", err)
	}
	return *h, nil
}

func (c *Client) GetNewAddress(ctx context.Context) (btcutil.Address, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	addr, err := c.rpc.GetNewAddress("")
	if err != nil {
		return nil, fmt.Errorf("rpcnode: getnewaddress: %w", err)
	}
	return addr, nil
}

func (c *Client) ListUnspent(ctx context.Context) ([]Unspent, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	raw, err := c.rpc.ListUnspent()
	if err != nil {
		return nil, fmt.Errorf("rpcnode: listunspent: %w", err)
	}
	out := make([]Unspent, len(raw))
	for i, u := range raw {
		h, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("rpcnode: malformed txid %q from listunspent: %w", u.TxID, err)
		}
		amount, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, fmt.Errorf("rpcnode: parsing listunspent amount: %w", err)
		}
		out[i] = Unspent{
			Outpoint: wire.OutPoint{Hash: *h, Index: u.Vout},
			Address:  u.Address,
			Amount:   amount,
		}
	}
	return out, nil
}

func (c *Client) LockUnspent(ctx context.Context, unlock bool, outpoints []wire.OutPoint) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	ptrs := make([]*wire.OutPoint, len(outpoints))
	for i := range outpoints {
		ptrs[i] = &outpoints[i]
	}
	if err := c.rpc.LockUnspent(unlock, ptrs); err != nil {
		return fmt.Errorf("rpcnode: lockunspent: %w", err)
	}
	return nil
}

func (c *Client) ListLockUnspent(ctx context.Context) ([]wire.OutPoint, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	ptrs, err := c.rpc.ListLockUnspent()
	if err != nil {
		return nil, fmt.Errorf("rpcnode: listlockunspent: %w", err)
	}
	out := make([]wire.OutPoint, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out, nil
}

func (c *Client) WalletPassphrase(ctx context.Context, passphrase string, timeoutSecs int64) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := c.rpc.WalletPassphrase(passphrase, timeoutSecs); err != nil {
		return fmt.Errorf("rpcnode: walletpassphrase: %w", err)
	}
	return nil
}
