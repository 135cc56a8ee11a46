package canvas

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Engine applies a block's classified events to produce the next state. It
// holds no state of its own; it is safe for concurrent use precisely
// because it is pure — all mutation happens on the freshly cloned next
// State, never on prev.
type Engine struct{}

// NewEngine returns a stateless Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// ApplyBlock folds events (already in the block's transaction serialization
// order — the engine imposes no other ordering) onto prev and returns the
// resulting state. The engine never rejects a block: every event either
// mutates state or degrades to a brick, per §4.D's failure semantics.
//
// txCount is the emitted record's transaction_count (§6): the number of
// confirmed transactions the block actually contained, which may exceed
// len(events) since most transactions in a block carry no metaprotocol
// effect at all. Callers folding a block one transaction at a time (to
// preserve the same-block visibility rule of §4.D) pass the block's full
// transaction count on every call; it is cheap to recompute since it never
// changes within a block.
func (e *Engine) ApplyBlock(prev *State, blockHash, parentHash chainhash.Hash, height int32, txCount int, events []Event) *State {
	next := prev.clone()
	next.BlockHash = blockHash
	next.ParentHash = parentHash
	next.BlockHeight = height
	next.TransactionCount = txCount

	for _, ev := range events {
		switch ev.Type {
		case EventClaim:
			next.applyClaim(ev, height)
		case EventRetryClaim:
			next.applyRetryClaim(ev, height)
		case EventUpdate:
			next.applyUpdate(ev, height)
		case EventTransfer:
			next.applyTransfer(ev, height)
		case EventBrick:
			next.brickPlot(ev.PlotID, height)
		}
	}
	return next
}

// applyClaim creates a new plot. The deed becomes live regardless of
// placement; only Status depends on in-bounds/overlap.
func (s *State) applyClaim(ev Event, height int32) {
	r := rect{x0: uint32(ev.X0), y0: uint32(ev.Y0), w: ev.W, h: ev.H}
	placed := inBounds(r.x0, r.y0, r.w, r.h) && !s.overlapsAny(r, ev.PlotID)

	status := StatusUnplaced
	if placed {
		status = StatusPlaced
	}

	deed := ev.NewDeed
	plot := &Plot{
		OriginTxid:        ev.PlotID,
		X0:                ev.X0,
		Y0:                ev.Y0,
		W:                 ev.W,
		H:                 ev.H,
		ImageHash:         ev.ImageHash,
		URI:               ev.URI,
		CurrentDeed:       &deed,
		Owner:             ev.NewOwner,
		Status:            status,
		CreatedHeight:     height,
		LastUpdatedHeight: height,
	}

	s.plots[ev.PlotID] = plot
	s.deedIndex[deed] = ev.PlotID
	if placed {
		s.occupancy[ev.PlotID] = r
	}
}

// applyRetryClaim moves a plot to a new placement and replaces its deed.
// RETRY-CLAIM is dimensionless: only coordinates change, per the Open
// Question in §9 (the source treats it this way and we preserve that).
func (s *State) applyRetryClaim(ev Event, height int32) {
	plot, ok := s.plots[ev.PlotID]
	if !ok {
		return
	}
	p := *plot

	delete(s.occupancy, ev.PlotID)
	r := rect{x0: uint32(ev.X0), y0: uint32(ev.Y0), w: p.W, h: p.H}
	placed := inBounds(r.x0, r.y0, r.w, r.h) && !s.overlapsAny(r, ev.PlotID)

	if p.CurrentDeed != nil {
		delete(s.deedIndex, *p.CurrentDeed)
	}

	p.X0, p.Y0 = ev.X0, ev.Y0
	if placed {
		p.Status = StatusPlaced
	} else {
		p.Status = StatusUnplaced
	}
	deed := ev.NewDeed
	p.CurrentDeed = &deed
	p.Owner = ev.NewOwner
	p.LastUpdatedHeight = height

	s.plots[ev.PlotID] = &p
	s.deedIndex[deed] = ev.PlotID
	if placed {
		s.occupancy[ev.PlotID] = r
	}
}

// applyUpdate replaces a plot's image and URI, keeping the same deed-less
// identity. If the event's coordinates or dimensions don't match the
// plot's current ones, the update carries no legitimate replacement and the
// deed is simply spent: the plot bricks instead, per §4.D.
func (s *State) applyUpdate(ev Event, height int32) {
	plot, ok := s.plots[ev.PlotID]
	if !ok {
		return
	}
	if ev.W != plot.W || ev.H != plot.H || ev.X0 != plot.X0 || ev.Y0 != plot.Y0 {
		s.brickPlot(ev.PlotID, height)
		return
	}

	p := *plot
	if p.CurrentDeed != nil {
		delete(s.deedIndex, *p.CurrentDeed)
	}

	deed := ev.NewDeed
	p.ImageHash = ev.ImageHash
	p.URI = ev.URI
	p.CurrentDeed = &deed
	p.Owner = ev.NewOwner
	p.LastUpdatedHeight = height

	// Status is recomputed exactly as for RETRY-CLAIM; since coordinates
	// and dimensions are unchanged it is typically unchanged too, but a
	// plot bricked earlier in the same block may have freed the
	// rectangle, or a same-block claim may now occupy it.
	delete(s.occupancy, ev.PlotID)
	r := rect{x0: uint32(p.X0), y0: uint32(p.Y0), w: p.W, h: p.H}
	placed := inBounds(r.x0, r.y0, r.w, r.h) && !s.overlapsAny(r, ev.PlotID)
	if placed {
		p.Status = StatusPlaced
		s.occupancy[ev.PlotID] = r
	} else {
		p.Status = StatusUnplaced
	}

	s.plots[ev.PlotID] = &p
	s.deedIndex[deed] = ev.PlotID
}

// applyTransfer changes ownership and the live deed only; placement,
// dimensions, image and URI are untouched.
func (s *State) applyTransfer(ev Event, height int32) {
	plot, ok := s.plots[ev.PlotID]
	if !ok {
		return
	}
	p := *plot
	if p.CurrentDeed != nil {
		delete(s.deedIndex, *p.CurrentDeed)
	}

	deed := ev.NewDeed
	p.CurrentDeed = &deed
	p.Owner = ev.NewOwner
	p.LastUpdatedHeight = height

	s.plots[ev.PlotID] = &p
	s.deedIndex[deed] = ev.PlotID
}

// brickPlot retires a plot's deed permanently. The freed rectangle stops
// being considered occupied by future claims, but this never applies
// retroactively to earlier blocks.
func (s *State) brickPlot(id PlotID, height int32) {
	plot, ok := s.plots[id]
	if !ok {
		return
	}
	p := *plot
	p.WasPlacedBeforeBricking = p.Status == StatusPlaced
	p.Status = StatusBricked
	if p.CurrentDeed != nil {
		delete(s.deedIndex, *p.CurrentDeed)
	}
	p.CurrentDeed = nil
	p.Owner = ""
	p.LastUpdatedHeight = height

	delete(s.occupancy, id)
	s.plots[id] = &p
}
