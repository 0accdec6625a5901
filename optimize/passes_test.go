package optimize

import (
	"testing"

	"github.com/dbtcore/rt/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantFold_Basic(t *testing.T) {
	b := &ir.Block{
		Ops: []ir.Op{
			{Kind: ir.OpMoveImm, Dest: 1, Imm: 3},
			{Kind: ir.OpMoveImm, Dest: 2, Imm: 4},
			{Kind: ir.OpAdd, Dest: 3, Src1: 1, Src2: 2},
		},
		Term: ir.Terminator{Kind: ir.TermReturn, Cond: 3},
	}
	out, changed := ConstantFold(b)
	require.True(t, changed)
	require.Len(t, out.Ops, 3)
	assert.Equal(t, ir.OpMoveImm, out.Ops[2].Kind)
	assert.Equal(t, int64(7), out.Ops[2].Imm)
}

func TestConstantFold_Idempotent(t *testing.T) {
	b := &ir.Block{
		Ops: []ir.Op{
			{Kind: ir.OpMoveImm, Dest: 1, Imm: 3},
			{Kind: ir.OpMoveImm, Dest: 2, Imm: 4},
			{Kind: ir.OpAdd, Dest: 3, Src1: 1, Src2: 2},
		},
		Term: ir.Terminator{Kind: ir.TermReturn, Cond: 3},
	}
	once, _ := ConstantFold(b)
	twice, changed := ConstantFold(once)
	assert.False(t, changed)
	assert.Equal(t, once.Ops, twice.Ops)
}

func TestStrengthReduce_MulByPowerOfTwo(t *testing.T) {
	b := &ir.Block{
		Ops:  []ir.Op{{Kind: ir.OpMul, Dest: 1, Src1: 2, Imm: 8}},
		Term: ir.Terminator{Kind: ir.TermReturn, Cond: 1},
	}
	out, changed := StrengthReduce(b)
	require.True(t, changed)
	assert.Equal(t, ir.OpShl, out.Ops[0].Kind)
	assert.Equal(t, int64(3), out.Ops[0].Imm)
}

func TestStrengthReduce_UnsignedDivByPowerOfTwo(t *testing.T) {
	b := &ir.Block{
		Ops:  []ir.Op{{Kind: ir.OpDiv, Dest: 1, Src1: 2, Imm: 4, Signed: false}},
		Term: ir.Terminator{Kind: ir.TermReturn, Cond: 1},
	}
	out, changed := StrengthReduce(b)
	require.True(t, changed)
	assert.Equal(t, ir.OpShr, out.Ops[0].Kind)
	assert.Equal(t, int64(2), out.Ops[0].Imm)
}

func TestStrengthReduce_NonPowerOfTwoUntouched(t *testing.T) {
	b := &ir.Block{
		Ops:  []ir.Op{{Kind: ir.OpMul, Dest: 1, Src1: 2, Imm: 6}},
		Term: ir.Terminator{Kind: ir.TermReturn, Cond: 1},
	}
	_, changed := StrengthReduce(b)
	assert.False(t, changed)
}

func TestCSE_RedirectsDuplicateExpression(t *testing.T) {
	b := &ir.Block{
		Ops: []ir.Op{
			{Kind: ir.OpMoveImm, Dest: 1, Imm: 1},
			{Kind: ir.OpMoveImm, Dest: 2, Imm: 2},
			{Kind: ir.OpAdd, Dest: 3, Src1: 1, Src2: 2},
			{Kind: ir.OpAdd, Dest: 4, Src1: 1, Src2: 2},
			{Kind: ir.OpAdd, Dest: 5, Src1: 3, Src2: 4},
		},
		Term: ir.Terminator{Kind: ir.TermReturn, Cond: 5},
	}
	out, changed := CSE(b)
	require.True(t, changed)
	// The redundant add (originally writing r4) should be gone, and the
	// final add should now read r3 twice.
	var finalAdd *ir.Op
	for i := range out.Ops {
		if out.Ops[i].Dest == 5 {
			finalAdd = &out.Ops[i]
		}
	}
	require.NotNil(t, finalAdd)
	assert.Equal(t, ir.Reg(3), finalAdd.Src1)
	assert.Equal(t, ir.Reg(3), finalAdd.Src2)
}

func TestDCE_RemovesUnreadOps(t *testing.T) {
	b := &ir.Block{
		Ops: []ir.Op{
			{Kind: ir.OpMoveImm, Dest: 1, Imm: 1},
			{Kind: ir.OpMoveImm, Dest: 2, Imm: 2}, // dead: never read
		},
		Term: ir.Terminator{Kind: ir.TermReturn, Cond: 1},
	}
	out, changed := DeadCodeEliminate(b)
	require.True(t, changed)
	require.Len(t, out.Ops, 1)
	assert.Equal(t, ir.Reg(1), out.Ops[0].Dest)
}

func TestDCE_PreservesStores(t *testing.T) {
	b := &ir.Block{
		Ops: []ir.Op{
			{Kind: ir.OpMoveImm, Dest: 1, Imm: 1},
			{Kind: ir.OpMoveImm, Dest: 2, Imm: 2},
			{Kind: ir.OpStore, Base: 1, Src1: 2},
		},
		Term: ir.Terminator{Kind: ir.TermReturn},
	}
	out, changed := DeadCodeEliminate(b)
	assert.False(t, changed)
	assert.Len(t, out.Ops, 3)
}

func TestDCE_Idempotent(t *testing.T) {
	b := &ir.Block{
		Ops: []ir.Op{
			{Kind: ir.OpMoveImm, Dest: 1, Imm: 1},
			{Kind: ir.OpMoveImm, Dest: 2, Imm: 2},
		},
		Term: ir.Terminator{Kind: ir.TermReturn, Cond: 1},
	}
	once, _ := DeadCodeEliminate(b)
	twice, changed := DeadCodeEliminate(once)
	assert.False(t, changed)
	assert.Equal(t, once.Ops, twice.Ops)
}

func TestDCE_ReturnOnlyBlockPreservesTerminator(t *testing.T) {
	b := &ir.Block{Term: ir.Terminator{Kind: ir.TermReturn}}
	out, changed := DeadCodeEliminate(b)
	assert.False(t, changed)
	assert.Equal(t, ir.TermReturn, out.Term.Kind)
}

func TestRun_ConvergesToFixedPoint(t *testing.T) {
	b := &ir.Block{
		Ops: []ir.Op{
			{Kind: ir.OpMoveImm, Dest: 1, Imm: 2},
			{Kind: ir.OpMoveImm, Dest: 2, Imm: 4},
			{Kind: ir.OpMul, Dest: 3, Src1: 1, Src2: 2}, // folded to movi 8; DCE then drops r1 and r2
		},
		Term: ir.Terminator{Kind: ir.TermReturn, Cond: 3},
	}
	out := Run(b)
	require.NotNil(t, out)
	assert.True(t, len(out.Ops) <= len(b.Ops))
}
