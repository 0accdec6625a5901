package ir

import (
	"sort"

	"golang.org/x/exp/slices"

	"github.com/dbtcore/rt/rterr"
)

// Interval is a half-open index range [Start, End) over a Block's op
// sequence, per spec.md §4.1 "liveness intervals". An op that both reads
// and writes a register extends its interval to cover that op.
type Interval struct {
	Start, End int
}

// Empty reports whether the interval covers no ops (a register that is
// never referenced after construction — not expected in well-formed IR,
// but kept cheap to check for the edge cases in spec.md §8).
func (iv Interval) Empty() bool { return iv.Start >= iv.End }

// Overlaps reports whether two intervals share any index.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start < other.End && other.Start < iv.End
}

// Analysis is the result of analyzing one Block: per-register liveness,
// computed in a single linear pass over the ops. The interference graph
// is built from it separately by BuildInterferenceGraph.
type Analysis struct {
	Intervals map[Reg]Interval
	// Order lists every defined register (empty intervals included) in a deterministic
	// (ascending start, then register id) order, useful to allocators that
	// want a stable iteration order without re-deriving it.
	Order []Reg
}

// Analyze computes liveness intervals for every virtual register in b and
// validates the structural invariants from spec.md §3: the terminator is
// present exactly once and last, and every register read is dominated by
// a prior def within the same block (single-block IR has no control-flow
// merges, so "dominated by" reduces to "defined at a strictly earlier
// index"; an op cannot read a register that only it defines).
//
// On malformed IR it returns an *rterr.Error of KindStructuralIR; callers
// must not proceed to backend emission on error (spec.md §4.1 "Failure").
func Analyze(b *Block) (*Analysis, error) {
	if b.Term.Kind == TermInvalid {
		return nil, rterr.New(rterr.KindStructuralIR, "ir", rterr.ErrBlockMalformed)
	}

	defined := make(map[Reg]bool, b.NumVirtualRegs())
	starts := make(map[Reg]int, b.NumVirtualRegs())
	ends := make(map[Reg]int, b.NumVirtualRegs())

	extend := func(r Reg, idx int) error {
		if r == 0 {
			return nil
		}
		if _, ok := starts[r]; !ok {
			return rterr.New(rterr.KindStructuralIR, "ir", rterr.ErrBlockMalformed)
		}
		if idx > ends[r] {
			ends[r] = idx
		}
		return nil
	}

	for i, op := range b.Ops {
		for _, r := range op.ReadRegs() {
			if !defined[r] {
				return nil, rterr.New(rterr.KindStructuralIR, "ir", rterr.ErrBlockMalformed)
			}
			if err := extend(r, i); err != nil {
				return nil, err
			}
		}
		if op.Writes() {
			if _, ok := starts[op.Dest]; !ok {
				starts[op.Dest] = i
			}
			ends[op.Dest] = i
			defined[op.Dest] = true
		}
	}

	// The terminator's operands must also be dominated by a def.
	termIdx := len(b.Ops)
	checkTermReg := func(r Reg) error {
		if r == 0 {
			return nil
		}
		if !defined[r] {
			return rterr.New(rterr.KindStructuralIR, "ir", rterr.ErrBlockMalformed)
		}
		return extend(r, termIdx)
	}
	if err := checkTermReg(b.Term.Cond); err != nil {
		return nil, err
	}
	if err := checkTermReg(b.Term.Indirect); err != nil {
		return nil, err
	}

	intervals := make(map[Reg]Interval, len(starts))
	order := make([]Reg, 0, len(starts))
	for r, s := range starts {
		intervals[r] = Interval{Start: s, End: ends[r]}
		order = append(order, r)
	}
	sort.Slice(order, func(i, j int) bool {
		ii, ij := intervals[order[i]], intervals[order[j]]
		if ii.Start != ij.Start {
			return ii.Start < ij.Start
		}
		return order[i] < order[j]
	})

	return &Analysis{Intervals: intervals, Order: order}, nil
}

// InterferenceGraph is an undirected graph over virtual registers: an edge
// exists iff the two registers' liveness intervals overlap. Built only
// over registers with non-empty intervals, per spec.md §4.1.
type InterferenceGraph struct {
	Nodes []Reg
	edges map[Reg]map[Reg]bool
}

// Neighbors returns the registers interfering with r.
func (g *InterferenceGraph) Neighbors(r Reg) []Reg {
	set := g.edges[r]
	out := make([]Reg, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Degree returns len(Neighbors(r)).
func (g *InterferenceGraph) Degree(r Reg) int { return len(g.edges[r]) }

// Interferes reports whether a and b share an edge.
func (g *InterferenceGraph) Interferes(a, b Reg) bool { return g.edges[a][b] }

// removeEdge deletes the edge between a and b. It is used by RemoveNode,
// which callers (e.g. the graph-coloring allocator's Simplify phase) call
// to progressively remove nodes; it is not exported directly.
func (g *InterferenceGraph) removeEdge(a, b Reg) {
	delete(g.edges[a], b)
	delete(g.edges[b], a)
}

// RemoveNode deletes r and all incident edges, returning the neighbors it
// had (so the caller — the graph-coloring Simplify step — can decrement
// their degree bookkeeping without a second graph scan).
func (g *InterferenceGraph) RemoveNode(r Reg) []Reg {
	neighbors := g.Neighbors(r)
	for _, n := range neighbors {
		g.removeEdge(r, n)
	}
	delete(g.edges, r)
	for i, n := range g.Nodes {
		if n == r {
			g.Nodes = append(g.Nodes[:i], g.Nodes[i+1:]...)
			break
		}
	}
	return neighbors
}

// BuildInterferenceGraph constructs the graph from an Analysis, per
// spec.md §4.2's graph-coloring algorithm. It is an O(n^2) scan over
// registers with non-empty intervals, which is acceptable given the
// bounded block sizes (§4.5's "small block" threshold applies to the
// cheaper linear-scan path; graph-coloring blocks are still bounded by a
// single basic block's op count).
func BuildInterferenceGraph(a *Analysis) *InterferenceGraph {
	g := &InterferenceGraph{edges: make(map[Reg]map[Reg]bool)}
	for _, r := range a.Order {
		if a.Intervals[r].Empty() {
			continue
		}
		g.Nodes = append(g.Nodes, r)
		if g.edges[r] == nil {
			g.edges[r] = make(map[Reg]bool)
		}
	}
	for i := 0; i < len(g.Nodes); i++ {
		for j := i + 1; j < len(g.Nodes); j++ {
			ri, rj := g.Nodes[i], g.Nodes[j]
			if a.Intervals[ri].Overlaps(a.Intervals[rj]) {
				g.edges[ri][rj] = true
				g.edges[rj][ri] = true
			}
		}
	}
	return g
}

// BlockEdge is a directed predecessor->successor edge between two blocks,
// identified by entry PC, used by TopoOrder for recompile batches
// (spec.md §4.1).
type BlockEdge struct {
	From, To uint64
}

// TopoOrder returns pcs ordered so that, for every edge in edges whose
// endpoints are both present in pcs, From appears before To. Cycles
// (irreducible loops) are broken deterministically by ascending PC,
// matching scenario S6.
func TopoOrder(pcs []uint64, edges []BlockEdge) []uint64 {
	present := make(map[uint64]bool, len(pcs))
	for _, pc := range pcs {
		present[pc] = true
	}
	succ := make(map[uint64][]uint64)
	indeg := make(map[uint64]int)
	for _, pc := range pcs {
		indeg[pc] = 0
	}
	for _, e := range edges {
		if !present[e.From] || !present[e.To] || e.From == e.To {
			continue
		}
		succ[e.From] = append(succ[e.From], e.To)
		indeg[e.To]++
	}
	for pc := range succ {
		slices.Sort(succ[pc])
	}

	var ready []uint64
	for _, pc := range pcs {
		if indeg[pc] == 0 {
			ready = append(ready, pc)
		}
	}
	slices.Sort(ready)

	var out []uint64
	visited := make(map[uint64]bool, len(pcs))
	for len(out) < len(pcs) {
		if len(ready) == 0 {
			// A cycle remains: break it by picking the lowest-PC unvisited
			// node and forcing it ready, per the ascending-PC tie-break.
			var rest []uint64
			for _, pc := range pcs {
				if !visited[pc] {
					rest = append(rest, pc)
				}
			}
			slices.Sort(rest)
			ready = append(ready, rest[0])
		}
		// Pop the smallest.
		slices.Sort(ready)
		pc := ready[0]
		ready = ready[1:]
		if visited[pc] {
			continue
		}
		visited[pc] = true
		out = append(out, pc)
		for _, s := range succ[pc] {
			if visited[s] {
				continue
			}
			indeg[s]--
			if indeg[s] <= 0 {
				ready = append(ready, s)
			}
		}
	}
	return out
}
