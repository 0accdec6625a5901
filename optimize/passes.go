package optimize

import "github.com/dbtcore/rt/ir"

// ConstantFold evaluates arithmetic ops whose operands are both literals,
// replacing them with a move-immediate. Idempotent: once folded, an op is
// OpMoveImm and no longer matches the fold pattern (spec.md §8).
func ConstantFold(b *ir.Block) (*ir.Block, bool) {
	imm := make(map[ir.Reg]int64, len(b.Ops))
	ops := make([]ir.Op, len(b.Ops))
	changed := false

	for i, op := range b.Ops {
		if op.Kind == ir.OpMoveImm {
			ops[i] = op
			imm[op.Dest] = op.Imm
			continue
		}
		v1, ok1 := imm[op.Src1]
		v2, ok2 := imm[op.Src2]
		if op.Kind.IsArithmetic() && op.Kind != ir.OpCompare && ok1 && (ok2 || op.Src2 == 0) {
			if !ok2 {
				v2 = op.Imm // immediate form: Src2 unused, Imm is the second operand
			}
			if result, ok := evalConst(op.Kind, v1, v2, op.Signed); ok {
				ops[i] = ir.Op{Kind: ir.OpMoveImm, Dest: op.Dest, Imm: result}
				if op.Dest != 0 {
					imm[op.Dest] = result
				}
				changed = true
				continue
			}
		}
		ops[i] = op
		// A non-folded write invalidates any stale constant tracking for
		// that register (shouldn't occur in well-formed single-def IR,
		// but keeps the pass correct under re-iteration).
		if op.Writes() {
			delete(imm, op.Dest)
		}
	}
	if !changed {
		return b, false
	}
	return cloneWithOps(b, ops), true
}

func evalConst(kind ir.OpKind, a, c int64, signed bool) (int64, bool) {
	switch kind {
	case ir.OpAdd:
		return a + c, true
	case ir.OpSub:
		return a - c, true
	case ir.OpMul:
		return a * c, true
	case ir.OpDiv:
		if c == 0 {
			return 0, false
		}
		return a / c, true
	case ir.OpAnd:
		return a & c, true
	case ir.OpOr:
		return a | c, true
	case ir.OpXor:
		return a ^ c, true
	case ir.OpShl:
		return a << uint(c), true
	case ir.OpShr:
		if signed {
			return a >> uint(c), true
		}
		return int64(uint64(a) >> uint(c)), true
	default:
		return 0, false
	}
}

// StrengthReduce replaces multiply-by-power-of-two with a shift, and
// divide-by-power-of-two with a shift when signedness permits (spec.md
// §4.4 pass 2). Signed division by a non-negative power of two is only
// equivalent to an arithmetic shift for non-negative dividends in
// general, so this pass conservatively only reduces unsigned division (a
// correct compiler would add a sign-correction sequence for the signed
// case; that sequence is out of scope for this reference core, which
// instead leaves signed power-of-two division to the backend's generic
// divider).
func StrengthReduce(b *ir.Block) (*ir.Block, bool) {
	ops := make([]ir.Op, len(b.Ops))
	changed := false
	for i, op := range b.Ops {
		ops[i] = op
		if op.Kind == ir.OpMul {
			if shift, ok := log2PowerOfTwo(op.Imm); ok && op.Src2 == 0 {
				ops[i] = ir.Op{Kind: ir.OpShl, Dest: op.Dest, Src1: op.Src1, Imm: shift}
				changed = true
			}
		} else if op.Kind == ir.OpDiv && !op.Signed {
			if shift, ok := log2PowerOfTwo(op.Imm); ok && op.Src2 == 0 {
				ops[i] = ir.Op{Kind: ir.OpShr, Dest: op.Dest, Src1: op.Src1, Imm: shift}
				changed = true
			}
		}
	}
	if !changed {
		return b, false
	}
	return cloneWithOps(b, ops), true
}

func log2PowerOfTwo(v int64) (int64, bool) {
	if v <= 0 || v&(v-1) != 0 {
		return 0, false
	}
	shift := int64(0)
	for v > 1 {
		v >>= 1
		shift++
	}
	return shift, true
}

// cseKey identifies a structurally-identical arithmetic op: same kind,
// same operands. CSE only considers pure arithmetic (no memory, no
// terminator operands), matching spec.md §4.4 pass 3.
type cseKey struct {
	kind       ir.OpKind
	src1, src2 ir.Reg
	imm        int64
	signed     bool
}

// CSE detects structurally identical arithmetic ops whose source
// registers are unchanged between occurrences within a block, and
// redirects later uses to the first result (spec.md §4.4 pass 3).
func CSE(b *ir.Block) (*ir.Block, bool) {
	ops := make([]ir.Op, len(b.Ops))
	copy(ops, b.Ops)

	seen := make(map[cseKey]ir.Reg)
	replace := make(map[ir.Reg]ir.Reg)
	defined := make(map[ir.Reg]bool) // registers that have already been written once
	dirty := make(map[ir.Reg]bool)   // registers reassigned since their first definition; invalidates CSE candidates referencing them

	changed := false
	for i, op := range ops {
		s1, s2 := substitute(op.Src1, replace), substitute(op.Src2, replace)
		base, b2 := substitute(op.Base, replace), ir.Reg(0)
		_ = b2
		op.Src1, op.Src2, op.Base = s1, s2, base

		if op.Kind.IsArithmetic() && !op.IsMemory() {
			key := cseKey{kind: op.Kind, src1: op.Src1, src2: op.Src2, imm: op.Imm, signed: op.Signed}
			if !dirty[op.Src1] && !dirty[op.Src2] {
				if prior, ok := seen[key]; ok && op.Dest != 0 {
					replace[op.Dest] = prior
					ops[i] = ir.Op{Kind: ir.OpMoveImm, Dest: 0} // neutralized below
					changed = true
					continue
				}
			}
			if op.Dest != 0 {
				seen[key] = op.Dest
			}
		}
		if op.Writes() {
			if defined[op.Dest] {
				dirty[op.Dest] = true
			}
			defined[op.Dest] = true
		}
		ops[i] = op
	}
	if !changed {
		return b, false
	}

	// Drop neutralized (Dest==0, Kind==OpMoveImm placeholder) ops that CSE
	// replaced; dead-code elimination would remove them too, but removing
	// them here keeps CSE's own output minimal and testable in isolation.
	filtered := ops[:0]
	for _, op := range ops {
		if op.Kind == ir.OpMoveImm && op.Dest == 0 && op.Imm == 0 && op.Src1 == 0 && op.Src2 == 0 {
			continue
		}
		filtered = append(filtered, op)
	}
	out := cloneWithOps(b, filtered)
	out.Term.Cond = substitute(out.Term.Cond, replace)
	out.Term.Indirect = substitute(out.Term.Indirect, replace)
	return out, true
}

func substitute(r ir.Reg, replace map[ir.Reg]ir.Reg) ir.Reg {
	for {
		if next, ok := replace[r]; ok && next != r {
			r = next
			continue
		}
		return r
	}
}

// DeadCodeEliminate walks backward from the terminator, marking as live
// any op whose result is read by a live op or the terminator; memory
// stores are always live (spec.md §4.4 pass 4). Idempotent: a second pass
// over already-minimal IR marks everything still reachable live and
// removes nothing further.
func DeadCodeEliminate(b *ir.Block) (*ir.Block, bool) {
	n := len(b.Ops)
	live := make([]bool, n)
	liveRegs := make(map[ir.Reg]bool)

	mark := func(r ir.Reg) {
		if r != 0 {
			liveRegs[r] = true
		}
	}
	mark(b.Term.Cond)
	mark(b.Term.Indirect)

	for i := n - 1; i >= 0; i-- {
		op := b.Ops[i]
		isLive := op.IsMemory() && op.Kind == ir.OpStore
		if op.Writes() && liveRegs[op.Dest] {
			isLive = true
		}
		if !isLive {
			continue
		}
		live[i] = true
		for _, r := range op.ReadRegs() {
			mark(r)
		}
	}

	changed := false
	var ops []ir.Op
	for i, op := range b.Ops {
		if live[i] {
			ops = append(ops, op)
		} else {
			changed = true
		}
	}
	if !changed {
		return b, false
	}
	return cloneWithOps(b, ops), true
}
