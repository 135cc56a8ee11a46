// Copyright (c) 2026 The plotproto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store implements component H: the persisted layout of §6
// (`<data_root>/<network>/v1/<genesis_hash>/states/<tip_hash>/state.json`
// plus an atomically-updated `state_at_tip` pointer), and a secondary
// outpoint->plot-id index backed by goleveldb so LookupDeed can answer a
// single deed lookup without deserializing the full JSON state. The indexer
// itself classifies against its in-memory canvas.State, not this index.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/toole-brendan/plotproto/canvas"
)

const layoutVersion = "v1"

// Store owns both halves of component H's persisted state: the JSON
// snapshot tree and the goleveldb secondary index.
type Store struct {
	root string // <data_root>/<network>/v1/<genesis_hash>
	db   *leveldb.DB
}

// Open prepares the persisted layout under dataRoot for the given network
// and genesis hash, opening (creating if absent) its goleveldb index.
func Open(dataRoot, network, genesisHash string) (*Store, error) {
	root := filepath.Join(dataRoot, network, layoutVersion, genesisHash)
	if err := os.MkdirAll(filepath.Join(root, "states"), 0o755); err != nil {
		return nil, fmt.Errorf("store: creating layout at %s: %w", root, err)
	}
	db, err := leveldb.OpenFile(filepath.Join(root, "deed_index"), nil)
	if err != nil {
		return nil, fmt.Errorf("store: opening deed index: %w", err)
	}
	return &Store{root: root, db: db}, nil
}

// Close releases the secondary index's file handles.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) stateDir(tipHash string) string {
	return filepath.Join(s.root, "states", tipHash)
}

func (s *Store) tipPointerPath() string {
	return filepath.Join(s.root, "state_at_tip")
}

// SaveState persists state as the new tip: it writes
// states/<tip_hash>/state.json, rebuilds the goleveldb deed index for that
// tip, and only then swings state_at_tip to the new tip directory name via
// write-to-temp-then-rename, so a reader never observes a half-written
// pointer.
func (s *Store) SaveState(state *canvas.State) error {
	tipHash := state.BlockHash.String()
	dir := s.stateDir(tipHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: creating state dir: %w", err)
	}

	record := toRecord(state)
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshaling state: %w", err)
	}
	statePath := filepath.Join(dir, "state.json")
	if err := writeFileAtomic(statePath, data); err != nil {
		return fmt.Errorf("store: writing state.json: %w", err)
	}

	if err := s.reindexDeeds(state); err != nil {
		return fmt.Errorf("store: reindexing deeds: %w", err)
	}

	if err := writeFileAtomic(s.tipPointerPath(), []byte(tipHash)); err != nil {
		return fmt.Errorf("store: updating state_at_tip: %w", err)
	}
	log.Debugf("persisted tip %s at height %d (%d plots)", tipHash, state.BlockHeight, state.PlotCount())
	return nil
}

// LoadTip reads state_at_tip and returns the State it names. It returns
// (nil, nil) if no tip has ever been recorded (a fresh data directory).
func (s *Store) LoadTip() (*canvas.State, error) {
	tipBytes, err := os.ReadFile(s.tipPointerPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: reading state_at_tip: %w", err)
	}
	return s.loadStateByHash(string(tipBytes))
}

func (s *Store) loadStateByHash(tipHash string) (*canvas.State, error) {
	data, err := os.ReadFile(filepath.Join(s.stateDir(tipHash), "state.json"))
	if err != nil {
		return nil, fmt.Errorf("store: reading state for tip %s: %w", tipHash, err)
	}
	var record stateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("store: decoding state for tip %s: %w", tipHash, err)
	}
	return fromRecord(record)
}

// LookupDeed answers whether op is a live deed and, if so, which plot owns
// it, consulting the goleveldb index rather than the full JSON snapshot.
func (s *Store) LookupDeed(op canvas.Outpoint) (canvas.PlotID, bool, error) {
	val, err := s.db.Get([]byte(outpointString(op)), nil)
	if err == leveldb.ErrNotFound {
		return canvas.PlotID{}, false, nil
	}
	if err != nil {
		return canvas.PlotID{}, false, fmt.Errorf("store: deed index lookup: %w", err)
	}
	id, err := parsePlotIDBytes(val)
	if err != nil {
		return canvas.PlotID{}, false, err
	}
	return id, true, nil
}

// reindexDeeds replaces the goleveldb index's contents with exactly
// state's live deeds. A batch keeps the swap atomic from a reader's
// perspective within goleveldb's own guarantees.
func (s *Store) reindexDeeds(state *canvas.State) error {
	iter := s.db.NewIterator(nil, nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	for _, op := range state.DeedOutpoints() {
		id, _ := state.LiveDeed(op)
		batch.Put([]byte(outpointString(op)), id[:])
	}
	return s.db.Write(batch, nil)
}

func parsePlotIDBytes(b []byte) (canvas.PlotID, error) {
	if len(b) != 32 {
		return canvas.PlotID{}, fmt.Errorf("store: malformed plot id in deed index (%d bytes)", len(b))
	}
	var id canvas.PlotID
	copy(id[:], b)
	return id, nil
}

// writeFileAtomic writes data to a temp file in path's directory, then
// renames it into place. Rename is atomic on POSIX filesystems, so readers
// never observe a partially-written file at path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
