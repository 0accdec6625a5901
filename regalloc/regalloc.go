// Package regalloc implements register allocation per spec.md §4.2: a
// single public contract, backed by two deterministic algorithms
// (linear-scan and graph-coloring), selected by block size and strategy.
//
// Grounded on the shape of tetratelabs/wazero's internal regalloc
// package (a single Allocator behind a small, ISA-agnostic interface)
// re-expressed directly over this module's ir.Analysis rather than a
// general-purpose multi-block CFG allocator, since spec.md scopes
// allocation to one block at a time.
package regalloc

import (
	"github.com/dbtcore/rt/ir"
)

// Strategy selects which algorithm Allocate uses.
type Strategy uint8

const (
	// StrategyAdaptive picks linear-scan for blocks at or under Threshold
	// ops, graph-coloring otherwise (spec.md §4.2's default behavior).
	StrategyAdaptive Strategy = iota
	StrategyLinearScan
	StrategyGraphColoring
)

// DefaultThreshold is the small-block op-count threshold from spec.md
// §4.2 ("default threshold: 32 ops").
const DefaultThreshold = 32

// DefaultSpillAlignment is the stack-slot alignment for spills (spec.md
// §4.2 "8-byte-aligned spill slot").
const DefaultSpillAlignment = 8

// LocKind distinguishes a physical-register assignment from a spill.
type LocKind uint8

const (
	LocRegister LocKind = iota
	LocStack
)

// Location is where a virtual register lives after allocation.
type Location struct {
	Kind     LocKind
	Register int // valid iff Kind == LocRegister
	Offset   int // valid iff Kind == LocStack; multiple of DefaultSpillAlignment
}

// Allocation maps every virtual register with a non-empty liveness
// interval to a Location. Per spec.md §4.2's post-condition, any two
// registers with overlapping intervals are assigned distinct Locations.
type Allocation struct {
	Locations map[ir.Reg]Location
	// NumSpillSlots is the number of distinct stack slots used, so a
	// backend can reserve the right amount of frame space.
	NumSpillSlots int
}

// Config parameterizes Allocate.
type Config struct {
	Strategy  Strategy
	Threshold int // op-count cutoff for StrategyAdaptive; 0 means DefaultThreshold
	NumPhys   int // k: number of available physical registers
}

func (c Config) threshold() int {
	if c.Threshold <= 0 {
		return DefaultThreshold
	}
	return c.Threshold
}

// Allocate runs the configured allocator over b's ops, given an already
// computed Analysis (the caller — typically the tier backend — already
// has one from ir.Analyze, so Allocate does not recompute it).
//
// Empty blocks (no ops) yield an empty Allocation, per spec.md §8.
func Allocate(b *ir.Block, a *ir.Analysis, cfg Config) *Allocation {
	if len(a.Order) == 0 {
		return &Allocation{Locations: map[ir.Reg]Location{}}
	}

	strategy := cfg.Strategy
	if strategy == StrategyAdaptive {
		if len(b.Ops) <= cfg.threshold() {
			strategy = StrategyLinearScan
		} else {
			strategy = StrategyGraphColoring
		}
	}

	switch strategy {
	case StrategyGraphColoring:
		return allocateGraphColoring(a, cfg.NumPhys)
	default:
		return allocateLinearScan(a, cfg.NumPhys)
	}
}
