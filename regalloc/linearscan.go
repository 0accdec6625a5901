package regalloc

import (
	"sort"

	"github.com/dbtcore/rt/ir"
)

// active tracks a register currently holding a physical register, ordered
// by interval end so expiry and "spill the one ending latest" are both
// cheap to find.
type activeEntry struct {
	reg      ir.Reg
	interval ir.Interval
	phys     int
}

// allocateLinearScan implements spec.md §4.2's linear-scan algorithm:
// sort intervals by start, maintain an active set ordered by end, expire
// on each step, assign a free physical register or spill the
// latest-ending active interval.
func allocateLinearScan(a *ir.Analysis, k int) *Allocation {
	order := make([]ir.Reg, len(a.Order))
	copy(order, a.Order)
	sort.Slice(order, func(i, j int) bool {
		si, sj := a.Intervals[order[i]].Start, a.Intervals[order[j]].Start
		if si != sj {
			return si < sj
		}
		return order[i] < order[j]
	})

	locs := make(map[ir.Reg]Location, len(order))
	var active []activeEntry
	freeRegs := make([]int, k)
	for i := range freeRegs {
		freeRegs[i] = k - 1 - i // pop from the end; order doesn't matter for determinism of the *mapping*, only of choice among frees
	}
	nextSpillSlot := 0

	popLowestFree := func() (int, bool) {
		if len(freeRegs) == 0 {
			return 0, false
		}
		// Always take the lowest-numbered free register for determinism.
		lo := 0
		for i, r := range freeRegs {
			if freeRegs[i] < freeRegs[lo] {
				lo = i
			}
			_ = r
		}
		reg := freeRegs[lo]
		freeRegs = append(freeRegs[:lo], freeRegs[lo+1:]...)
		return reg, true
	}

	expireBefore := func(start int) {
		kept := active[:0]
		for _, e := range active {
			if e.interval.End < start {
				freeRegs = append(freeRegs, e.phys)
				continue
			}
			kept = append(kept, e)
		}
		active = kept
	}

	allocSpillSlot := func() int {
		off := nextSpillSlot * DefaultSpillAlignment
		nextSpillSlot++
		return off
	}

	for _, r := range order {
		iv := a.Intervals[r]
		expireBefore(iv.Start)

		if reg, ok := popLowestFree(); ok {
			locs[r] = Location{Kind: LocRegister, Register: reg}
			active = append(active, activeEntry{reg: r, interval: iv, phys: reg})
			sort.Slice(active, func(i, j int) bool { return active[i].interval.End < active[j].interval.End })
			continue
		}

		// No free register: spill the active interval ending latest, or
		// the new interval itself if its end is later (spec.md §4.2).
		if len(active) > 0 {
			last := active[len(active)-1]
			if last.interval.End > iv.End {
				// Evict `last`, give its physical register to r.
				active = active[:len(active)-1]
				locs[last.reg] = Location{Kind: LocStack, Offset: allocSpillSlot()}
				locs[r] = Location{Kind: LocRegister, Register: last.phys}
				active = append(active, activeEntry{reg: r, interval: iv, phys: last.phys})
				sort.Slice(active, func(i, j int) bool { return active[i].interval.End < active[j].interval.End })
				continue
			}
		}
		locs[r] = Location{Kind: LocStack, Offset: allocSpillSlot()}
	}

	return &Allocation{Locations: locs, NumSpillSlots: nextSpillSlot}
}
