package canvas

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// State is the canvas at a single block tip: every plot, the live-deed
// index, and the occupied-rectangle index used for overlap checks. A State
// is never mutated in place; Engine.ApplyBlock always returns a new one.
type State struct {
	BlockHash        chainhash.Hash
	ParentHash       chainhash.Hash
	BlockHeight      int32
	TransactionCount int

	plots     map[PlotID]*Plot
	deedIndex map[Outpoint]PlotID
	occupancy map[PlotID]rect
}

// NewGenesisState returns the empty canvas state preceding the first
// indexed block.
func NewGenesisState() *State {
	return &State{
		BlockHeight: -1,
		plots:       make(map[PlotID]*Plot),
		deedIndex:   make(map[Outpoint]PlotID),
		occupancy:   make(map[PlotID]rect),
	}
}

// clone returns a shallow copy of s: the plot/deed/occupancy maps are new,
// but unmodified *Plot values are shared with s until a transition
// copy-on-writes them. Callers of ApplyBlock therefore never see a prior
// State mutate out from under them.
func (s *State) clone() *State {
	next := &State{
		BlockHash:   s.BlockHash,
		ParentHash:  s.ParentHash,
		BlockHeight: s.BlockHeight,
		plots:       make(map[PlotID]*Plot, len(s.plots)),
		deedIndex:   make(map[Outpoint]PlotID, len(s.deedIndex)),
		occupancy:   make(map[PlotID]rect, len(s.occupancy)),
	}
	for k, v := range s.plots {
		next.plots[k] = v
	}
	for k, v := range s.deedIndex {
		next.deedIndex[k] = v
	}
	for k, v := range s.occupancy {
		next.occupancy[k] = v
	}
	return next
}

// Restore rebuilds a State from a flat list of plots, as read back from
// persisted storage. It recomputes the deed index and occupancy index from
// the plots themselves rather than trusting a second persisted copy of
// either, so a State round-tripped through storage satisfies the same
// invariants as one produced by ApplyBlock.
func Restore(blockHash, parentHash chainhash.Hash, height int32, txCount int, plots []Plot) *State {
	s := &State{
		BlockHash:        blockHash,
		ParentHash:       parentHash,
		BlockHeight:      height,
		TransactionCount: txCount,
		plots:            make(map[PlotID]*Plot, len(plots)),
		deedIndex:        make(map[Outpoint]PlotID, len(plots)),
		occupancy:        make(map[PlotID]rect, len(plots)),
	}
	for i := range plots {
		p := plots[i]
		s.plots[p.OriginTxid] = &p
		if p.CurrentDeed != nil {
			s.deedIndex[*p.CurrentDeed] = p.OriginTxid
		}
		if p.Status == StatusPlaced {
			s.occupancy[p.OriginTxid] = rect{x0: uint32(p.X0), y0: uint32(p.Y0), w: p.W, h: p.H}
		}
	}
	return s
}

// Plot returns a copy of the plot with the given id, if any.
func (s *State) Plot(id PlotID) (Plot, bool) {
	p, ok := s.plots[id]
	if !ok {
		return Plot{}, false
	}
	return *p, true
}

// Plots returns every plot, sorted by origin txid for deterministic
// iteration and serialization.
func (s *State) Plots() []Plot {
	out := make([]Plot, 0, len(s.plots))
	for _, p := range s.plots {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return lessHash(out[i].OriginTxid, out[j].OriginTxid)
	})
	return out
}

// DeedOutpoints returns every live deed outpoint, sorted for determinism.
func (s *State) DeedOutpoints() []Outpoint {
	out := make([]Outpoint, 0, len(s.deedIndex))
	for op := range s.deedIndex {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := compareHash(out[i].Hash, out[j].Hash); c != 0 {
			return c < 0
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// LiveDeed implements classifier.DeedSet: it reports whether op is a live
// deed and, if so, the plot it belongs to.
func (s *State) LiveDeed(op Outpoint) (PlotID, bool) {
	id, ok := s.deedIndex[op]
	return id, ok
}

// PlotCount reports the number of plots (of any status) tracked by s.
func (s *State) PlotCount() int {
	return len(s.plots)
}

func (s *State) overlapsAny(r rect, self PlotID) bool {
	for id, or := range s.occupancy {
		if id == self {
			continue
		}
		if r.overlaps(or) {
			return true
		}
	}
	return false
}

func lessHash(a, b chainhash.Hash) bool {
	return compareHash(a, b) < 0
}

func compareHash(a, b chainhash.Hash) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
