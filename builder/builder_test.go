package builder

import (
	"context"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plotchaincfg "github.com/toole-brendan/plotproto/chaincfg"
	"github.com/toole-brendan/plotproto/rpcnode"
)

// fakeNode is an in-memory rpcnode.Node: a tiny UTXO set plus a wallet that
// signs by simply marking every input complete, so builder's safety checks
// can be exercised without a real node.
type fakeNode struct {
	utxos    map[wire.OutPoint]int64 // outpoint -> value
	locked   map[wire.OutPoint]bool
	txByHash map[chainhash.Hash]*wire.MsgTx
	nextAddr int

	// extraFundInput, when set, is added as a second input by
	// FundRawTransaction regardless of its lock state, simulating a wallet
	// that raced protectOtherDeeds and funded from a deed anyway.
	extraFundInput *wire.OutPoint
	// dropDeedOutput, when true, makes CreateRawTransaction skip the
	// deed-valued output entirely, simulating a wallet/RPC layer that
	// returned a malformed transaction.
	dropDeedOutput bool
	// failLockUnspent, when true, makes LockUnspent always error.
	failLockUnspent bool
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		utxos:    make(map[wire.OutPoint]int64),
		locked:   make(map[wire.OutPoint]bool),
		txByHash: make(map[chainhash.Hash]*wire.MsgTx),
	}
}

func (f *fakeNode) addUTXO(seed byte, value int64) wire.OutPoint {
	var h chainhash.Hash
	h[0] = seed
	op := wire.OutPoint{Hash: h, Index: 0}
	f.utxos[op] = value

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(value, p2pkhScript(seed)))
	f.txByHash[h] = tx
	return op
}

func p2pkhScript(seed byte) []byte {
	hash160 := make([]byte, 20)
	hash160[0] = seed
	addr, _ := btcutil.NewAddressPubKeyHash(hash160, &chaincfg.RegressionNetParams)
	script, _ := txscript.PayToAddrScript(addr)
	return script
}

func (f *fakeNode) BestBlockHash(ctx context.Context) (chainhash.Hash, error) { return chainhash.Hash{}, nil }
func (f *fakeNode) BlockHashAtHeight(ctx context.Context, height int64) (chainhash.Hash, error) {
	return chainhash.Hash{}, nil
}
func (f *fakeNode) BlockByHash(ctx context.Context, hash chainhash.Hash) (rpcnode.BlockInfo, error) {
	return rpcnode.BlockInfo{}, nil
}

func (f *fakeNode) RawTransaction(ctx context.Context, txid chainhash.Hash) (rpcnode.Transaction, error) {
	tx, ok := f.txByHash[txid]
	if !ok {
		return rpcnode.Transaction{}, fmt.Errorf("fakeNode: unknown tx %s", txid)
	}
	return rpcnode.Transaction{Tx: tx}, nil
}

func (f *fakeNode) CreateRawTransaction(ctx context.Context, inputs []wire.OutPoint, outputs map[string]btcutil.Amount) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, op := range inputs {
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
	}
	for addr, amt := range outputs {
		if f.dropDeedOutput && int64(amt) == 600 {
			continue
		}
		tx.AddTxOut(wire.NewTxOut(int64(amt), addrScript(addr)))
	}
	return tx, nil
}

func addrScript(addr string) []byte {
	hash160 := make([]byte, 20)
	hash160[0] = byte(len(addr))
	a, _ := btcutil.NewAddressPubKeyHash(hash160, &chaincfg.RegressionNetParams)
	s, _ := txscript.PayToAddrScript(a)
	return s
}

// FundRawTransaction adds exactly one funding input (never a locked or
// deed-valued one) and a change output, mimicking a real wallet funder.
func (f *fakeNode) FundRawTransaction(ctx context.Context, tx *wire.MsgTx, opts rpcnode.FundOptions) (*wire.MsgTx, btcutil.Amount, error) {
	funded := tx.Copy()
	for op, value := range f.utxos {
		if f.locked[op] || value == 600 {
			continue
		}
		alreadyUsed := false
		for _, in := range funded.TxIn {
			if in.PreviousOutPoint == op {
				alreadyUsed = true
				break
			}
		}
		if alreadyUsed {
			continue
		}
		funded.AddTxIn(wire.NewTxIn(&op, nil, nil))
		funded.AddTxOut(wire.NewTxOut(value-1000, p2pkhScript(250))) // change
		if f.extraFundInput != nil {
			funded.AddTxIn(wire.NewTxIn(f.extraFundInput, nil, nil))
		}
		return funded, 1000, nil
	}
	return nil, 0, fmt.Errorf("fakeNode: no funding input available")
}

func (f *fakeNode) SignRawTransactionWithWallet(ctx context.Context, tx *wire.MsgTx) (*wire.MsgTx, bool, error) {
	return tx, true, nil
}

func (f *fakeNode) SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	h := tx.TxHash()
	f.txByHash[h] = tx
	return h, nil
}

func (f *fakeNode) GetNewAddress(ctx context.Context) (btcutil.Address, error) {
	f.nextAddr++
	hash160 := make([]byte, 20)
	hash160[0] = byte(f.nextAddr)
	return btcutil.NewAddressPubKeyHash(hash160, &chaincfg.RegressionNetParams)
}

func (f *fakeNode) ListUnspent(ctx context.Context) ([]rpcnode.Unspent, error) {
	out := make([]rpcnode.Unspent, 0, len(f.utxos))
	for op, v := range f.utxos {
		if f.locked[op] {
			continue
		}
		out = append(out, rpcnode.Unspent{Outpoint: op, Amount: btcutil.Amount(v)})
	}
	return out, nil
}

func (f *fakeNode) LockUnspent(ctx context.Context, unlock bool, outpoints []wire.OutPoint) error {
	if f.failLockUnspent {
		return fmt.Errorf("fakeNode: lockunspent unavailable")
	}
	for _, op := range outpoints {
		f.locked[op] = !unlock
	}
	return nil
}

func (f *fakeNode) ListLockUnspent(ctx context.Context) ([]wire.OutPoint, error) {
	var out []wire.OutPoint
	for op, locked := range f.locked {
		if locked {
			out = append(out, op)
		}
	}
	return out, nil
}

func (f *fakeNode) WalletPassphrase(ctx context.Context, passphrase string, timeoutSecs int64) error {
	return nil
}

func testParams() plotchaincfg.Params {
	return plotchaincfg.RegtestParams
}

func TestBuildClaimSpendsNoDeed(t *testing.T) {
	node := newFakeNode()
	node.addUTXO(1, 100_000)
	node.addUTXO(2, 600) // an unrelated existing deed that must be protected

	b := New(node, testParams(), "node1:wallet1")
	bmpData := testBMPBytes(2, 2)
	result, err := b.BuildClaim(context.Background(), 10, 10, bmpData, "ipfs://x", 1, "", true)
	require.NoError(t, err)
	assert.NotEqual(t, chainhash.Hash{}, result.Txid)
	assert.NotEmpty(t, result.Hex)
}

func TestBuildClaimNeverSelectsExistingDeedForFunding(t *testing.T) {
	node := newFakeNode()
	node.addUTXO(1, 600) // the ONLY wallet output is a deed; funding must fail rather than spend it
	b := New(node, testParams(), "node1:wallet1")

	_, err := b.BuildClaim(context.Background(), 10, 10, testBMPBytes(2, 2), "", 1, "", true)
	require.Error(t, err) // fundrawtransaction has nothing safe to spend
}

func TestBuildTransferSpendsExactlyTheForcedDeed(t *testing.T) {
	node := newFakeNode()
	node.addUTXO(1, 100_000)
	deed := node.addUTXO(2, 600)

	b := New(node, testParams(), "node1:wallet1")
	result, err := b.BuildTransfer(context.Background(), deed, 1, "", true)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), result.DeedOutpoint.Index)
}

// TestBuildClaimRejectsUnexpectedDeedInput exercises rule 2/3's enforcement
// in verifyDeedSpendInvariant: a CLAIM must spend zero 600-unit inputs, so a
// wallet that funds from a deed anyway (racing protectOtherDeeds) must be
// caught before broadcast rather than bricking the plot.
func TestBuildClaimRejectsUnexpectedDeedInput(t *testing.T) {
	node := newFakeNode()
	node.addUTXO(1, 100_000)
	deed := node.addUTXO(2, 600)
	node.extraFundInput = &deed

	b := New(node, testParams(), "node1:wallet1")
	_, err := b.BuildClaim(context.Background(), 10, 10, testBMPBytes(2, 2), "", 1, "", true)
	require.ErrorIs(t, err, ErrWouldBrickPlot)
}

// TestBuildClaimMissingDeedOutputFailsFunding checks that a funded
// transaction lacking a 600-unit output (e.g. a malformed response from
// createrawtransaction) is rejected rather than broadcast without a deed.
func TestBuildClaimMissingDeedOutputFailsFunding(t *testing.T) {
	node := newFakeNode()
	node.addUTXO(1, 100_000)
	node.dropDeedOutput = true

	b := New(node, testParams(), "node1:wallet1")
	_, err := b.BuildClaim(context.Background(), 10, 10, testBMPBytes(2, 2), "", 1, "", true)
	require.ErrorIs(t, err, ErrMissingDeedOutput)
}

// TestBuildClaimLockUnspentFailureSurfacesErrLockFailed checks that a
// broadcast succeeding but the post-broadcast lock of the new deed failing
// is reported as ErrLockFailed rather than silently leaving the new deed
// unprotected.
func TestBuildClaimLockUnspentFailureSurfacesErrLockFailed(t *testing.T) {
	node := newFakeNode()
	node.addUTXO(1, 100_000) // no existing deed, so protectOtherDeeds never calls LockUnspent
	node.failLockUnspent = true

	b := New(node, testParams(), "node1:wallet1")
	_, err := b.BuildClaim(context.Background(), 10, 10, testBMPBytes(2, 2), "", 1, "", true)
	require.ErrorIs(t, err, ErrLockFailed)
}

func testBMPBytes(width, height uint32) []byte {
	const headerSize = 54
	stride := ((width*24 + 31) / 32) * 4
	pixelData := make([]byte, stride*height)
	fileSize := headerSize + len(pixelData)

	buf := make([]byte, fileSize)
	buf[0], buf[1] = 'B', 'M'
	putU32(buf[2:6], uint32(fileSize))
	putU32(buf[10:14], headerSize)
	putU32(buf[14:18], 40)
	putU32(buf[18:22], width)
	putU32(buf[22:26], height)
	putU16(buf[26:28], 1)
	putU16(buf[28:30], 24)
	copy(buf[headerSize:], pixelData)
	return buf
}

func putU32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}

func putU16(b []byte, v uint16) {
	b[0], b[1] = byte(v), byte(v>>8)
}
