package tiers

import (
	"bytes"
	"encoding/binary"

	"github.com/dbtcore/rt/ir"
	"github.com/dbtcore/rt/regalloc"
)

// opByte is the one-byte encoding for an op's kind in the emitted stream.
// This reference core targets no real host ISA, so "emitted code" is a
// compact, self-describing record per op (kind, operand locations, and
// immediate) rather than native instructions; the backend differences
// (tier 1 vs 2 vs 3) show up in which ops survive optimization and how
// operands are assigned, which is what spec.md §4.5 actually measures
// (code size, compile time), not ISA encoding.
type opByte byte

const opTerminator opByte = 0xff

// emit encodes b's ops (in the order given by perm, or program order if
// perm is nil) plus its terminator into a byte stream, substituting each
// virtual register's allocated Location so the stream reflects what the
// allocator decided. Indices in order that fall outside b.Ops are
// skipped; the returned error is always nil.
func emit(b *ir.Block, perm []int, alloc *regalloc.Allocation) ([]byte, error) {
	order := perm
	if order == nil {
		order = make([]int, len(b.Ops))
		for i := range order {
			order[i] = i
		}
	}

	var buf bytes.Buffer
	for _, idx := range order {
		if idx < 0 || idx >= len(b.Ops) {
			continue
		}
		op := b.Ops[idx]
		buf.WriteByte(byte(op.Kind))
		writeLoc(&buf, op.Dest, alloc)
		writeLoc(&buf, op.Src1, alloc)
		writeLoc(&buf, op.Src2, alloc)
		var imm [8]byte
		binary.LittleEndian.PutUint64(imm[:], uint64(op.Imm))
		buf.Write(imm[:])
	}
	buf.WriteByte(byte(opTerminator))
	buf.WriteByte(byte(b.Term.Kind))
	writeLoc(&buf, b.Term.Cond, alloc)
	writeLoc(&buf, b.Term.Indirect, alloc)

	return buf.Bytes(), nil
}

// writeLoc encodes a virtual register as the physical register or spill
// offset the allocator assigned it (1 tag byte + 4-byte payload); reg 0
// (unused operand) is encoded as a zero payload with no allocation lookup.
func writeLoc(buf *bytes.Buffer, r ir.Reg, alloc *regalloc.Allocation) {
	if r == 0 || alloc == nil {
		buf.WriteByte(0)
		var z [4]byte
		buf.Write(z[:])
		return
	}
	loc, ok := alloc.Locations[r]
	if !ok {
		buf.WriteByte(0)
		var z [4]byte
		buf.Write(z[:])
		return
	}
	var payload [4]byte
	if loc.Kind == regalloc.LocRegister {
		buf.WriteByte(1)
		binary.LittleEndian.PutUint32(payload[:], uint32(loc.Register))
	} else {
		buf.WriteByte(2)
		binary.LittleEndian.PutUint32(payload[:], uint32(loc.Offset))
	}
	buf.Write(payload[:])
}
