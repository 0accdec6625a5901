package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOp_ReadRegs(t *testing.T) {
	add := Op{Kind: OpAdd, Dest: 3, Src1: 1, Src2: 2}
	assert.Equal(t, []Reg{1, 2}, add.ReadRegs())

	load := Op{Kind: OpLoad, Dest: 1, Base: 2, Offset: 8}
	assert.Equal(t, []Reg{2}, load.ReadRegs())

	store := Op{Kind: OpStore, Base: 2, Src1: 3}
	assert.Equal(t, []Reg{2, 3}, store.ReadRegs())

	movi := Op{Kind: OpMoveImm, Dest: 1, Imm: 42}
	assert.Empty(t, movi.ReadRegs())
}

func TestOp_Writes(t *testing.T) {
	assert.True(t, Op{Kind: OpAdd, Dest: 1}.Writes())
	assert.False(t, Op{Kind: OpAdd, Dest: 0}.Writes())
	assert.False(t, Op{Kind: OpStore, Dest: 1}.Writes())
}

func TestBlock_NumVirtualRegs(t *testing.T) {
	b := &Block{
		Ops: []Op{
			{Kind: OpMoveImm, Dest: 5},
			{Kind: OpAdd, Dest: 1, Src1: 5, Src2: 2},
		},
		Term: Terminator{Kind: TermReturn},
	}
	assert.Equal(t, 6, b.NumVirtualRegs())
}
