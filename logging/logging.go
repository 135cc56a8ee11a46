// Copyright (c) 2026 The plotproto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package logging wires a btclog backend across every package's log.go
// (bmp, opreturn, classifier and canvas stay silent; rpcnode, store,
// builder and indexer each expose a UseLogger), writing to stdout and a
// size-rotated log file using the same rotator the btcsuite/btcd family
// of daemons uses.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// UseLogger is satisfied by every package in this module that exposes a
// btclog.Logger setter (rpcnode.UseLogger, store.UseLogger,
// builder.UseLogger, indexer.UseLogger).
type UseLogger func(btclog.Logger)

// rollSizeKB is the size, in kilobytes, at which the log file rotates.
// 10MiB keeps a single day of regtest-scale indexing in one file while
// still bounding disk use on a long-running mainnet node.
const rollSizeKB = 10 * 1024

// maxRolls is how many rotated files are kept alongside the active one.
const maxRolls = 3

// Init opens a rotating log file under logDir (created if missing), builds
// a btclog backend writing to both stdout and that file at level, and
// calls each of setters with the resulting subsystem logger. It returns
// the rotator so the caller can Close it on shutdown.
func Init(logDir, subsystem string, level btclog.Level, setters ...UseLogger) (*rotator.Rotator, error) {
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, err
	}
	logFile := filepath.Join(logDir, "plotproto.log")
	r, err := rotator.New(logFile, rollSizeKB, false, maxRolls)
	if err != nil {
		return nil, err
	}

	backend := btclog.NewBackend(io.MultiWriter(os.Stdout, r))
	logger := backend.Logger(subsystem)
	logger.SetLevel(level)

	for _, set := range setters {
		set(logger)
	}
	return r, nil
}
