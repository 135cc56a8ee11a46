// Copyright (c) 2026 The plotproto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config defines the process configuration surface of §6: which
// network and genesis hash to index, how to reach the node's wallet RPC,
// and where to persist state. Struct tags are consumed by
// github.com/jessevdk/go-flags, the teacher's own declared flag-parsing
// dependency.
package config

import (
	"fmt"

	flags "github.com/jessevdk/go-flags"

	"github.com/toole-brendan/plotproto/chaincfg"
)

// Config is the full configuration surface from §6.
type Config struct {
	Network     string `long:"network" description:"network to index (mainnet, testnet, regtest)" default:"mainnet"`
	GenesisHash string `long:"genesishash" description:"protocol epoch marker hash; defaults to the network's built-in value (the hardcoded mainnet value on mainnet and testnet, all zeros on regtest)"`

	RPCHost string `long:"rpchost" description:"node JSON-RPC host:port" default:"localhost:8332"`
	RPCUser string `long:"rpcuser" description:"node JSON-RPC username"`
	RPCPass string `long:"rpcpass" description:"node JSON-RPC password"`

	WalletName       string `long:"walletname" description:"node wallet to use for funding and signing"`
	WalletPassphrase string `long:"walletpassphrase" description:"passphrase for an encrypted wallet, if any"`

	FeeRate float64 `long:"feerate" description:"fee rate in sat/vB used by the transaction builder" default:"1"`
	DataDir string `long:"datadir" description:"root directory for persisted state" default:"./data"`
}

// ErrMissingRPCCredentials is returned by Validate when RPCUser or RPCPass
// is empty; the builder and indexer cannot authenticate to the node
// without both.
var ErrMissingRPCCredentials = fmt.Errorf("config: rpcuser and rpcpass are required")

// Load parses args (typically os.Args[1:]) into a Config, applying the
// defaults above, then validates it.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, fmt.Errorf("config: parsing arguments: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parsed configuration for internal consistency and
// resolves Network/GenesisHash against chaincfg's known parameter sets.
func (c *Config) Validate() error {
	net, err := chaincfg.ParseNetwork(c.Network)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.GenesisHash == "" {
		c.GenesisHash = chaincfg.ParamsForNetwork(net).GenesisHash.String()
	}
	if c.RPCUser == "" || c.RPCPass == "" {
		return ErrMissingRPCCredentials
	}
	return nil
}

// Params returns the chaincfg.Params this configuration resolves to.
func (c *Config) Params() (chaincfg.Params, error) {
	net, err := chaincfg.ParseNetwork(c.Network)
	if err != nil {
		return chaincfg.Params{}, err
	}
	return chaincfg.ParamsForNetwork(net), nil
}
