// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2026 The plotproto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chaincfg defines the network parameters this indexer runs
// against: which Bitcoin-family network to talk to, and the genesis hash
// that marks the protocol's epoch (state lineage is rooted at it, per §6).
//
// This module never validates proof of work or consensus rules itself —
// the node it talks to does that — so, unlike a full node's chaincfg
// package, Params carries no PoW limits, checkpoints or BIP9 deployments.
package chaincfg

import (
	"errors"

	btcdchaincfg "github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Network identifies which Bitcoin-family network the indexer is reading.
type Network uint32

const (
	Mainnet Network = iota
	Testnet
	Regtest
)

// String returns the network in human-readable form.
func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	case Regtest:
		return "regtest"
	default:
		return "unknown"
	}
}

// ErrUnknownNetwork is returned by ParseNetwork for any value other than
// "mainnet", "testnet" or "regtest".
var ErrUnknownNetwork = errors.New("chaincfg: unknown network")

// ParseNetwork parses the configuration surface's network string.
func ParseNetwork(s string) (Network, error) {
	switch s {
	case "mainnet":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	case "regtest":
		return Regtest, nil
	default:
		return 0, ErrUnknownNetwork
	}
}

// Params describes the handful of network-specific facts this module
// needs: which network to report in persisted state, its default node RPC
// port, and the genesis hash that roots state lineage.
type Params struct {
	Name           string
	Net            Network
	DefaultRPCPort string
	GenesisHash    chainhash.Hash
}

// mainnetGenesisHash is the protocol's mainnet epoch marker: the block
// hash that roots state lineage, under which store files persisted state.
// Operators may override it via the configuration surface for alternate
// deployments.
var mainnetGenesisHash = mustHash("0000000000000000000000000000000000000000000000000000000000000001")

// MainNetParams are the default parameters for mainnet.
var MainNetParams = Params{
	Name:           "mainnet",
	Net:            Mainnet,
	DefaultRPCPort: "8332",
	GenesisHash:    mainnetGenesisHash,
}

// TestNetParams are the default parameters for testnet.
var TestNetParams = Params{
	Name:           "testnet",
	Net:            Testnet,
	DefaultRPCPort: "18332",
	GenesisHash:    mainnetGenesisHash,
}

// RegtestParams are the default parameters for regtest, where the genesis
// hash is operator-supplied (each regtest chain has its own).
var RegtestParams = Params{
	Name:           "regtest",
	Net:            Regtest,
	DefaultRPCPort: "18443",
}

// ParamsForNetwork returns the default Params for a parsed Network.
func ParamsForNetwork(n Network) Params {
	switch n {
	case Mainnet:
		return MainNetParams
	case Testnet:
		return TestNetParams
	default:
		return RegtestParams
	}
}

// AddressParams returns the upstream btcsuite/btcd chaincfg.Params that
// match n, for use wherever this module needs to decode or validate a
// wallet address (btcutil.DecodeAddress, txscript.PayToAddrScript).
func (n Network) AddressParams() *btcdchaincfg.Params {
	switch n {
	case Mainnet:
		return &btcdchaincfg.MainNetParams
	case Testnet:
		return &btcdchaincfg.TestNet3Params
	default:
		return &btcdchaincfg.RegressionNetParams
	}
}

func mustHash(hex string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(hex)
	if err != nil {
		panic(err)
	}
	return *h
}
