// Package canvas implements the protocol's state engine (component D): the
// deterministic per-block fold that maintains plot placement, deed
// ownership, conflict resolution and bricking across the 65,536×65,536
// canvas.
package canvas

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// CanvasSize is the number of pixels per axis on the fixed canvas.
const CanvasSize = 65536

// PlotID identifies a plot by its originating CLAIM transaction id.
type PlotID = chainhash.Hash

// Outpoint identifies a specific transaction output: the deed token.
type Outpoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// Status is a plot's visibility on the canvas.
type Status uint8

const (
	StatusPlaced Status = iota
	StatusUnplaced
	StatusBricked
)

func (s Status) String() string {
	switch s {
	case StatusPlaced:
		return "PLACED"
	case StatusUnplaced:
		return "UNPLACED"
	case StatusBricked:
		return "BRICKED"
	default:
		return "UNKNOWN"
	}
}

// Plot is a rectangle on the canvas owned by a deed, per §3 of the
// protocol's data model. Plot values returned from State are snapshots:
// callers must not mutate them.
type Plot struct {
	OriginTxid PlotID
	X0, Y0     uint16
	W, H       uint32
	ImageHash  [32]byte
	URI        string

	// CurrentDeed is nil iff Status == StatusBricked.
	CurrentDeed *Outpoint
	// Owner is the empty string iff Status == StatusBricked.
	Owner string

	Status                  Status
	WasPlacedBeforeBricking bool

	CreatedHeight     int32
	LastUpdatedHeight int32
}

// rect is the occupied-rectangle shape used for overlap checks.
type rect struct {
	x0, y0 uint32
	w, h   uint32
}

func (r rect) overlaps(o rect) bool {
	return r.x0 < o.x0+o.w && o.x0 < r.x0+r.w &&
		r.y0 < o.y0+o.h && o.y0 < r.y0+r.h
}

func inBounds(x0, y0, w, h uint32) bool {
	return uint64(x0)+uint64(w) <= CanvasSize && uint64(y0)+uint64(h) <= CanvasSize
}

// EventType tags the kind of state transition classifier.Event carries.
type EventType uint8

const (
	EventClaim EventType = iota
	EventRetryClaim
	EventUpdate
	EventTransfer
	EventBrick
)

// Event is one classified transaction's effect on state, in the block's
// transaction serialization order. It is produced by package classifier and
// consumed by Engine.ApplyBlock.
type Event struct {
	Type   EventType
	PlotID PlotID

	// Set for EventClaim (the claimed placement and image) and EventUpdate
	// (the tx's proposed placement and image; the engine bricks the plot
	// if X0/Y0/W/H don't match the plot's current values, per §4.D).
	X0, Y0    uint16
	W, H      uint32
	ImageHash [32]byte
	URI       string

	// Set for EventClaim, EventRetryClaim, EventUpdate, EventTransfer.
	NewDeed  Outpoint
	NewOwner string
}
