package regalloc

import (
	"sort"

	"github.com/dbtcore/rt/ir"
)

// allocateGraphColoring implements spec.md §4.2's graph-coloring
// algorithm: simplify (repeatedly remove degree < k nodes onto a stack),
// then select (pop and assign the lowest unused color among {0..k-1},
// spilling when no color is available).
func allocateGraphColoring(a *ir.Analysis, k int) *Allocation {
	g := ir.BuildInterferenceGraph(a)

	var stack []ir.Reg
	spilled := make(map[ir.Reg]bool)

	for len(g.Nodes) > 0 {
		removed := false
		// Scan in a fixed order (ascending reg id) for determinism.
		nodes := append([]ir.Reg(nil), g.Nodes...)
		sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
		for _, n := range nodes {
			if g.Degree(n) < k {
				g.RemoveNode(n)
				stack = append(stack, n)
				removed = true
				break
			}
		}
		if removed {
			continue
		}
		// No node has degree < k: pick a spill candidate by maximum
		// degree, tie-broken by highest virtual register id.
		best := nodes[0]
		for _, n := range nodes[1:] {
			if g.Degree(n) > g.Degree(best) || (g.Degree(n) == g.Degree(best) && n > best) {
				best = n
			}
		}
		g.RemoveNode(best)
		stack = append(stack, best)
		spilled[best] = true
	}

	// Select: pop in reverse removal order, assign lowest free color.
	colorOf := make(map[ir.Reg]int)
	fullGraph := ir.BuildInterferenceGraph(a)
	locs := make(map[ir.Reg]Location, len(stack))
	nextSpillSlot := 0

	for i := len(stack) - 1; i >= 0; i-- {
		n := stack[i]
		if spilled[n] {
			// Attempt a color anyway: a node marked as a spill candidate
			// during simplify may still find a free color once its
			// higher-degree neighbors have themselves been colored or
			// spilled (optimistic coloring). Only spill for real if none
			// is available.
		}
		used := make(map[int]bool)
		for _, nb := range fullGraph.Neighbors(n) {
			if c, ok := colorOf[nb]; ok {
				used[c] = true
			}
		}
		color := -1
		for c := 0; c < k; c++ {
			if !used[c] {
				color = c
				break
			}
		}
		if color < 0 {
			locs[n] = Location{Kind: LocStack, Offset: nextSpillSlot * DefaultSpillAlignment}
			nextSpillSlot++
			continue
		}
		colorOf[n] = color
		locs[n] = Location{Kind: LocRegister, Register: color}
	}

	return &Allocation{Locations: locs, NumSpillSlots: nextSpillSlot}
}
