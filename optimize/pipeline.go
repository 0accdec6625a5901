// Package optimize implements the fixed-order IR-to-IR transform pipeline
// from spec.md §4.4: constant folding, strength reduction, common
// subexpression elimination, dead code elimination, iterated to a fixed
// point (or a hard 10-iteration limit).
//
// Grounded in spirit on kanso-lang's internal/ir/optimizations.go (a
// pass-pipeline applied to an IR before code generation) for the
// "ordered pipeline of small, composable rewrites" shape, though that
// file is a design note rather than working code; the pass bodies here
// are written directly against this module's ir.Block/ir.Op.
package optimize

import "github.com/dbtcore/rt/ir"

// MaxIterations is the hard limit from spec.md §4.4.
const MaxIterations = 10

// Pass transforms a block, returning the new block and whether it changed
// anything (used by the manager's fixed-point check).
type Pass func(b *ir.Block) (*ir.Block, bool)

// Pipeline is the fixed pass sequence from spec.md §4.4.
var Pipeline = []Pass{
	ConstantFold,
	StrengthReduce,
	CSE,
	DeadCodeEliminate,
}

// Run iterates Pipeline to a fixed point or MaxIterations, whichever comes
// first, returning the final block. Constant folding and dead code
// elimination are each idempotent in isolation (spec.md §8); running the
// whole pipeline to a fixed point additionally guarantees no pass still
// has work to do when Run returns early.
func Run(b *ir.Block) *ir.Block {
	cur := b
	for i := 0; i < MaxIterations; i++ {
		changed := false
		for _, pass := range Pipeline {
			next, ch := pass(cur)
			cur = next
			changed = changed || ch
		}
		if !changed {
			break
		}
	}
	return cur
}

// cloneWithOps returns a shallow copy of b with Ops replaced, preserving
// the immutability discipline from spec.md §3 (the optimizer produces new
// blocks rather than mutating).
func cloneWithOps(b *ir.Block, ops []ir.Op) *ir.Block {
	return &ir.Block{PC: b.PC, Ops: ops, Term: b.Term}
}
