// Copyright (c) 2026 The plotproto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/toole-brendan/plotproto/canvas"
)

// stateRecord is the on-disk shape of the emitted state record from §6. Its
// JSON field names follow the record verbatim; Go-side integer types are the
// same as canvas.State's and canvas.Plot's own fields.
type stateRecord struct {
	BlockHash        string       `json:"block_hash"`
	ParentHash       string       `json:"parent_hash"`
	BlockHeight      int32        `json:"block_height"`
	Plots            []plotRecord `json:"plots"`
	DeedUTXOs        []string     `json:"deed_utxos"`
	TransactionCount int          `json:"transaction_count"`
}

type plotRecord struct {
	Txid                    string `json:"txid"`
	X0                      uint16 `json:"x0"`
	Y0                      uint16 `json:"y0"`
	Width                   uint32 `json:"width"`
	Height                  uint32 `json:"height"`
	Status                  string `json:"status"`
	DeedUTXO                string `json:"deed_utxo,omitempty"`
	ImageHash               string `json:"image_hash"`
	CreatedAt               int32  `json:"created_at"`
	LastUpdated             int32  `json:"last_updated"`
	Owner                   string `json:"owner,omitempty"`
	URI                     string `json:"uri,omitempty"`
	WasPlacedBeforeBricking bool   `json:"was_placed_before_bricking,omitempty"`
}

// toRecord flattens a canvas.State into its persisted/emitted shape.
func toRecord(s *canvas.State) stateRecord {
	plots := s.Plots()
	out := stateRecord{
		BlockHash:        s.BlockHash.String(),
		ParentHash:       s.ParentHash.String(),
		BlockHeight:      s.BlockHeight,
		Plots:            make([]plotRecord, len(plots)),
		TransactionCount: s.TransactionCount,
	}
	for i, p := range plots {
		pr := plotRecord{
			Txid:                    p.OriginTxid.String(),
			X0:                      p.X0,
			Y0:                      p.Y0,
			Width:                   p.W,
			Height:                  p.H,
			Status:                  p.Status.String(),
			ImageHash:               hex.EncodeToString(p.ImageHash[:]),
			CreatedAt:               p.CreatedHeight,
			LastUpdated:             p.LastUpdatedHeight,
			Owner:                   p.Owner,
			URI:                     p.URI,
			WasPlacedBeforeBricking: p.WasPlacedBeforeBricking,
		}
		if p.CurrentDeed != nil {
			pr.DeedUTXO = outpointString(*p.CurrentDeed)
		}
		out.Plots[i] = pr
	}
	for _, op := range s.DeedOutpoints() {
		out.DeedUTXOs = append(out.DeedUTXOs, outpointString(op))
	}
	return out
}

// fromRecord rebuilds a canvas.State from its persisted shape.
func fromRecord(r stateRecord) (*canvas.State, error) {
	blockHash, err := chainhash.NewHashFromStr(r.BlockHash)
	if err != nil {
		return nil, fmt.Errorf("store: parsing block_hash: %w", err)
	}
	var parentHash chainhash.Hash
	if r.ParentHash != "" {
		h, err := chainhash.NewHashFromStr(r.ParentHash)
		if err != nil {
			return nil, fmt.Errorf("store: parsing parent_hash: %w", err)
		}
		parentHash = *h
	}

	plots := make([]canvas.Plot, len(r.Plots))
	for i, pr := range r.Plots {
		txid, err := chainhash.NewHashFromStr(pr.Txid)
		if err != nil {
			return nil, fmt.Errorf("store: parsing plot txid %q: %w", pr.Txid, err)
		}
		status, err := parseStatus(pr.Status)
		if err != nil {
			return nil, err
		}
		imageHashBytes, err := hex.DecodeString(pr.ImageHash)
		if err != nil || len(imageHashBytes) != 32 {
			return nil, fmt.Errorf("store: malformed image_hash for plot %s", pr.Txid)
		}
		var imageHash [32]byte
		copy(imageHash[:], imageHashBytes)

		p := canvas.Plot{
			OriginTxid:              *txid,
			X0:                      pr.X0,
			Y0:                      pr.Y0,
			W:                       pr.Width,
			H:                       pr.Height,
			ImageHash:               imageHash,
			URI:                     pr.URI,
			Owner:                   pr.Owner,
			Status:                  status,
			WasPlacedBeforeBricking: pr.WasPlacedBeforeBricking,
			CreatedHeight:           pr.CreatedAt,
			LastUpdatedHeight:       pr.LastUpdated,
		}
		if pr.DeedUTXO != "" {
			op, err := parseOutpoint(pr.DeedUTXO)
			if err != nil {
				return nil, fmt.Errorf("store: parsing deed_utxo for plot %s: %w", pr.Txid, err)
			}
			p.CurrentDeed = &op
		}
		plots[i] = p
	}

	return canvas.Restore(*blockHash, parentHash, r.BlockHeight, r.TransactionCount, plots), nil
}

func parseStatus(s string) (canvas.Status, error) {
	switch s {
	case "PLACED":
		return canvas.StatusPlaced, nil
	case "UNPLACED":
		return canvas.StatusUnplaced, nil
	case "BRICKED":
		return canvas.StatusBricked, nil
	default:
		return 0, fmt.Errorf("store: unknown plot status %q", s)
	}
}

func outpointString(op canvas.Outpoint) string {
	return fmt.Sprintf("%s:%d", op.Hash.String(), op.Index)
}

func parseOutpoint(s string) (canvas.Outpoint, error) {
	var hashHex string
	var index uint32
	n, err := fmt.Sscanf(s, "%64[^:]:%d", &hashHex, &index)
	if err != nil || n != 2 {
		return canvas.Outpoint{}, fmt.Errorf("store: malformed outpoint %q", s)
	}
	h, err := chainhash.NewHashFromStr(hashHex)
	if err != nil {
		return canvas.Outpoint{}, err
	}
	return canvas.Outpoint{Hash: *h, Index: index}, nil
}
