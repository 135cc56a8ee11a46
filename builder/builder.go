// Copyright (c) 2026 The plotproto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package builder implements component E: it builds and funds raw
// metaprotocol transactions over a wallet-backed rpcnode.Node, enforcing
// the five hard safety rules of §4.E so a careless funding call or a race
// against another wallet user can never accidentally spend a deed output.
package builder

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/toole-brendan/plotproto/chaincfg"
	"github.com/toole-brendan/plotproto/classifier"
	"github.com/toole-brendan/plotproto/opreturn"
	"github.com/toole-brendan/plotproto/rpcnode"
)

// Errors surfaced by the safety rules of §4.E.
var (
	// ErrWouldBrickPlot is returned when a signed transaction's deed-input
	// count doesn't match what the operation intended: building it would
	// brick the plot instead of transitioning it, so the builder refuses
	// to broadcast.
	ErrWouldBrickPlot = errors.New("builder: transaction would brick the plot")
	// ErrMissingDeedOutput is returned when, after funding, no output of
	// exactly classifier.DeedValue exists to serve as the new deed.
	ErrMissingDeedOutput = errors.New("builder: funded transaction has no deed output")
	// ErrLockFailed is returned when the post-broadcast lock of the new
	// deed output fails.
	ErrLockFailed = errors.New("builder: failed to lock new deed output")
)

// Result is what each Build* call returns: the broadcast (or unbroadcast)
// transaction's id, the new deed outpoint, and its raw hex.
type Result struct {
	Txid         chainhash.Hash
	DeedOutpoint wire.OutPoint
	Hex          string
}

// walletLocks holds one *sync.Mutex per (node, wallet) pair, realizing "a
// single logical mutex per wallet" across every Builder instance pointed
// at the same wallet, grounded on the teacher's sync.RWMutex-guarded
// shared state (mempool.TxPool, settlement/channels).
var walletLocks sync.Map

// Builder builds metaprotocol transactions against one node and wallet.
type Builder struct {
	node      rpcnode.Node
	params    chaincfg.Params
	walletKey string
}

// New returns a Builder for node, whose critical sections are serialized
// against every other Builder sharing the same walletKey (typically
// "<node host>:<wallet name>").
func New(node rpcnode.Node, params chaincfg.Params, walletKey string) *Builder {
	return &Builder{node: node, params: params, walletKey: walletKey}
}

func (b *Builder) lock() *sync.Mutex {
	v, _ := walletLocks.LoadOrStore(b.walletKey, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// BuildClaim builds a CLAIM transaction: an OP_RETURN payload and a fresh
// deed output, funded entirely by the wallet (no forced input).
func (b *Builder) BuildClaim(ctx context.Context, x0, y0 uint16, bmpData []byte, uri string, feeRate float64, recipient string, broadcast bool) (Result, error) {
	payload, err := opreturn.EncodeClaim(uint32(x0), uint32(y0), uri, bmpData)
	if err != nil {
		return Result{}, fmt.Errorf("builder: encoding claim payload: %w", err)
	}
	return b.build(ctx, payload, nil, feeRate, recipient, broadcast)
}

// BuildRetryClaim builds a RETRY-CLAIM transaction spending deed, the
// plot's current deed outpoint.
func (b *Builder) BuildRetryClaim(ctx context.Context, deed wire.OutPoint, x0, y0 uint16, feeRate float64, recipient string, broadcast bool) (Result, error) {
	payload, err := opreturn.EncodeRetryClaim(uint32(x0), uint32(y0))
	if err != nil {
		return Result{}, fmt.Errorf("builder: encoding retry-claim payload: %w", err)
	}
	return b.build(ctx, payload, &deed, feeRate, recipient, broadcast)
}

// BuildUpdate builds an UPDATE transaction spending deed, the plot's
// current deed outpoint.
func (b *Builder) BuildUpdate(ctx context.Context, deed wire.OutPoint, x0, y0 uint16, bmpData []byte, uri string, feeRate float64, recipient string, broadcast bool) (Result, error) {
	payload, err := opreturn.EncodeUpdate(uint32(x0), uint32(y0), uri, bmpData)
	if err != nil {
		return Result{}, fmt.Errorf("builder: encoding update payload: %w", err)
	}
	return b.build(ctx, payload, &deed, feeRate, recipient, broadcast)
}

// BuildTransfer builds a TRANSFER transaction: deed is spent with no
// OP_RETURN output at all, to a fresh deed output at recipient.
func (b *Builder) BuildTransfer(ctx context.Context, deed wire.OutPoint, feeRate float64, recipient string, broadcast bool) (Result, error) {
	return b.build(ctx, nil, &deed, feeRate, recipient, broadcast)
}

// build is the common path for all four operations. payload is nil for
// TRANSFER. forcedInput is nil only for CLAIM, which must spend no deed at
// all (rule 3).
func (b *Builder) build(ctx context.Context, payload []byte, forcedInput *wire.OutPoint, feeRate float64, recipient string, broadcast bool) (Result, error) {
	mu := b.lock()
	mu.Lock()
	defer mu.Unlock()

	protected, err := b.protectOtherDeeds(ctx, forcedInput)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if len(protected) == 0 {
			return
		}
		if err := b.node.LockUnspent(ctx, true, protected); err != nil {
			log.Warnf("failed to release protective deed locks: %v", err)
		}
	}()

	if recipient == "" {
		addr, err := b.node.GetNewAddress(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("builder: getnewaddress: %w", err)
		}
		recipient = addr.EncodeAddress()
	} else if _, err := btcutil.DecodeAddress(recipient, b.params.Net.AddressParams()); err != nil {
		return Result{}, fmt.Errorf("builder: recipient address %q invalid for %s: %w", recipient, b.params.Net, err)
	}

	var inputs []wire.OutPoint
	if forcedInput != nil {
		inputs = []wire.OutPoint{*forcedInput}
	}
	outputs := map[string]btcutil.Amount{recipient: classifier.DeedValue}
	tx, err := b.node.CreateRawTransaction(ctx, inputs, outputs)
	if err != nil {
		return Result{}, fmt.Errorf("builder: createrawtransaction: %w", err)
	}

	if payload != nil {
		if err := appendOpReturn(tx, payload); err != nil {
			return Result{}, err
		}
	}

	funded, _, err := b.node.FundRawTransaction(ctx, tx, rpcnode.FundOptions{
		FeeRate:   feeRate,
		AddInputs: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("builder: fundrawtransaction: %w", err)
	}

	signed, complete, err := b.node.SignRawTransactionWithWallet(ctx, funded)
	if err != nil {
		return Result{}, fmt.Errorf("builder: signrawtransactionwithwallet: %w", err)
	}
	if !complete {
		return Result{}, fmt.Errorf("builder: wallet could not fully sign the transaction")
	}

	if err := b.verifyDeedSpendInvariant(ctx, signed, forcedInput); err != nil {
		return Result{}, err
	}

	deedIdx, ok := firstDeedOutput(signed)
	if !ok {
		return Result{}, ErrMissingDeedOutput
	}
	txid := signed.TxHash()
	deedOutpoint := wire.OutPoint{Hash: txid, Index: deedIdx}

	if broadcast {
		if _, err := b.node.SendRawTransaction(ctx, signed); err != nil {
			return Result{}, fmt.Errorf("builder: sendrawtransaction: %w", err)
		}
		if err := b.node.LockUnspent(ctx, false, []wire.OutPoint{deedOutpoint}); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrLockFailed, err)
		}
	}

	return Result{
		Txid:         txid,
		DeedOutpoint: deedOutpoint,
		Hex:          serializeHex(signed),
	}, nil
}

// protectOtherDeeds locks every wallet-known output of value exactly
// classifier.DeedValue except forcedInput (if any), so automatic funding
// can never select one, per rule 1. It returns the outpoints it locked so
// the caller can release them once the transaction is built.
func (b *Builder) protectOtherDeeds(ctx context.Context, forcedInput *wire.OutPoint) ([]wire.OutPoint, error) {
	unspent, err := b.node.ListUnspent(ctx)
	if err != nil {
		return nil, fmt.Errorf("builder: listunspent: %w", err)
	}
	var toLock []wire.OutPoint
	for _, u := range unspent {
		if int64(u.Amount) != classifier.DeedValue {
			continue
		}
		if forcedInput != nil && u.Outpoint == *forcedInput {
			continue
		}
		toLock = append(toLock, u.Outpoint)
	}
	if len(toLock) == 0 {
		return nil, nil
	}
	if err := b.node.LockUnspent(ctx, false, toLock); err != nil {
		return nil, fmt.Errorf("builder: locking other deed outputs: %w", err)
	}
	return toLock, nil
}

// verifyDeedSpendInvariant re-derives each input's previous-output value
// from the node and enforces rules 2/3: CLAIM (forcedInput == nil) must
// spend zero 600-unit inputs; the others must spend exactly one, and it
// must be forcedInput.
func (b *Builder) verifyDeedSpendInvariant(ctx context.Context, tx *wire.MsgTx, forcedInput *wire.OutPoint) error {
	var deedInputs []wire.OutPoint
	for _, in := range tx.TxIn {
		prev, err := b.node.RawTransaction(ctx, in.PreviousOutPoint.Hash)
		if err != nil {
			return fmt.Errorf("builder: resolving prevout %s: %w", in.PreviousOutPoint, err)
		}
		idx := in.PreviousOutPoint.Index
		if int(idx) >= len(prev.Tx.TxOut) {
			return fmt.Errorf("builder: prevout index %d out of range for %s", idx, in.PreviousOutPoint.Hash)
		}
		if prev.Tx.TxOut[idx].Value == classifier.DeedValue {
			deedInputs = append(deedInputs, in.PreviousOutPoint)
		}
	}

	if forcedInput == nil {
		if len(deedInputs) != 0 {
			return ErrWouldBrickPlot
		}
		return nil
	}

	if len(deedInputs) != 1 || deedInputs[0] != *forcedInput {
		return ErrWouldBrickPlot
	}
	return nil
}

func firstDeedOutput(tx *wire.MsgTx) (uint32, bool) {
	for i, out := range tx.TxOut {
		if out.Value == classifier.DeedValue {
			return uint32(i), true
		}
	}
	return 0, false
}

func appendOpReturn(tx *wire.MsgTx, payload []byte) error {
	script, err := txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN).AddData(payload).Script()
	if err != nil {
		return fmt.Errorf("builder: building OP_RETURN script: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(0, script))
	return nil
}

func serializeHex(tx *wire.MsgTx) string {
	var buf bytes.Buffer
	_ = tx.Serialize(&buf)
	return hex.EncodeToString(buf.Bytes())
}
