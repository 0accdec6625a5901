// Package tiers implements the four per-tier code backends from spec.md
// §4.5: a uniform "compile(IR, Allocation) -> Artifact" capability selected
// by integer tier level, with no inheritance between tiers — T1/T2/T3 each
// assemble the optimizer, allocator and scheduler packages differently to
// hit their target compile-time/code-size/quality point.
//
// Grounded on the teacher's dispatch-by-capability style in
// eventloop/loop.go (a flat set of handlers selected by an enum, not a
// class hierarchy); the actual code emitted is a self-describing encoded
// instruction stream rather than native machine code, since this module
// targets no particular host ISA.
package tiers

import (
	"time"

	"github.com/dbtcore/rt/internal/rtlog"
	"github.com/dbtcore/rt/ir"
	"github.com/dbtcore/rt/optimize"
	"github.com/dbtcore/rt/regalloc"
	"github.com/dbtcore/rt/rterr"
	"github.com/dbtcore/rt/schedule"
	"github.com/dbtcore/rt/tiers/codemem"
)

// defaultNumPhysRegs is the physical register count handed to the
// allocator by every tier backend; spec.md's own worked example (§8 S2)
// exercises k=31, so 31 is used here rather than a round number.
const defaultNumPhysRegs = 31

// clockNow/sinceClock are an injectable clock seam, the same indirection
// catrate uses (catrate/limiter.go's timeNow) so CompileTime measurement
// is deterministic under test.
var (
	clockNow   = time.Now
	sinceClock = time.Since
)

// Tier is one of the four quality points from spec.md §4.5.
type Tier int

const (
	T0 Tier = iota
	T1
	T2
	T3
)

func (t Tier) String() string {
	switch t {
	case T0:
		return "T0"
	case T1:
		return "T1"
	case T2:
		return "T2"
	case T3:
		return "T3"
	default:
		return "Tunknown"
	}
}

// Artifact is the compiled code produced for one block at one tier
// (spec.md §3 "Compiled Artifact"). CodeSize and CompileTime are recorded
// for profile/policy feedback. DeoptPoints holds op indices for
// deoptimization bookkeeping; no backend in this package fills it, so it
// is always empty.
type Artifact struct {
	PC           uint64
	Tier         Tier
	Region       *codemem.Region
	EntryOffset  int
	CodeSize     int
	CompileTime  time.Duration
	DeoptPoints  []int
	interpreted  *ir.Block // set only for T0: no code is emitted, the block is walked directly
}

// Interpreted reports whether this artifact is a T0 pseudo-artifact that
// carries no code region and must be walked op-by-op.
func (a *Artifact) Interpreted() bool { return a.interpreted != nil }

// Block returns the original IR for a T0 artifact, or nil if Interpreted
// is false.
func (a *Artifact) Block() *ir.Block { return a.interpreted }

// Release unmaps the artifact's code region, if it has one. Safe on a T0
// artifact (no-op).
func (a *Artifact) Release() error {
	if a.Region == nil {
		return nil
	}
	return a.Region.Release()
}

// RegallocOptions carries the externally configurable register-allocation
// knobs from spec.md §6 (regalloc.strategy, regalloc.small_block_threshold)
// down into a backend's Compile call. T1 and T3 are pinned to a fixed
// point on spec.md §4.5's per-tier quality/compile-time table (always
// linear-scan, always graph-coloring) and ignore it; T2 ("balanced") is
// where it's applied, as an operator override on top of that tier's
// table default rather than a replacement for T1/T3's fixed points.
type RegallocOptions struct {
	Strategy            regalloc.Strategy
	SmallBlockThreshold int
}

// DefaultRegallocOptions matches the per-tier table's historical T2
// behavior (always linear-scan), used by Compile for callers that don't
// need the configured strategy.
var DefaultRegallocOptions = RegallocOptions{Strategy: regalloc.StrategyLinearScan}

func (o RegallocOptions) regallocConfig() regalloc.Config {
	return regalloc.Config{Strategy: o.Strategy, Threshold: o.SmallBlockThreshold, NumPhys: defaultNumPhysRegs}
}

// Backend compiles one IR block at a fixed tier. T0 never fails (spec.md
// §4.5); T1–T3 can fail with out-of-code-memory, a verifier/structural
// error, or a backend-internal error, and failure always leaves the block
// at its current tier rather than halting the guest (spec.md §7).
type Backend interface {
	Tier() Tier
	Compile(b *ir.Block, opts RegallocOptions) (*Artifact, error)
}

// Backends is the fixed tier->backend table, indexed by Tier.
var Backends = [4]Backend{
	T0: interpretBackend{},
	T1: fastBackend{},
	T2: balancedBackend{},
	T3: optimizedBackend{},
}

// Compile dispatches to the backend for tier t using DefaultRegallocOptions.
func Compile(t Tier, b *ir.Block) (*Artifact, error) {
	return CompileWithOptions(t, b, DefaultRegallocOptions)
}

// CompileWithOptions dispatches to the backend for tier t, threading opts
// through to whichever backend reads it (spec.md §6's regalloc.* config
// surface).
func CompileWithOptions(t Tier, b *ir.Block, opts RegallocOptions) (*Artifact, error) {
	if int(t) < 0 || int(t) >= len(Backends) || Backends[t] == nil {
		return nil, rterr.New(rterr.KindStructuralIR, "tiers", rterr.ErrBlockMalformed)
	}
	return Backends[t].Compile(b, opts)
}

// interpretBackend implements T0: no compilation, the engine walks the IR
// directly. It cannot fail.
type interpretBackend struct{}

func (interpretBackend) Tier() Tier { return T0 }

func (interpretBackend) Compile(b *ir.Block, _ RegallocOptions) (*Artifact, error) {
	return &Artifact{PC: b.PC, Tier: T0, interpreted: b}, nil
}

// fastBackend implements T1: constant folding only, linear-scan
// allocation, no scheduling (spec.md §4.5 row T1). The allocation
// strategy is fixed regardless of configuration: T1 exists to be cheap to
// produce, and linear-scan is the only algorithm spec.md's table assigns
// to it.
type fastBackend struct{}

func (fastBackend) Tier() Tier { return T1 }

func (fastBackend) Compile(b *ir.Block, _ RegallocOptions) (*Artifact, error) {
	start := clockNow()
	folded, _ := optimize.ConstantFold(b)
	analysis, err := ir.Analyze(folded)
	if err != nil {
		return nil, err
	}
	alloc := regalloc.Allocate(folded, analysis, regalloc.Config{Strategy: regalloc.StrategyLinearScan, NumPhys: defaultNumPhysRegs})
	code, err := emit(folded, nil, alloc)
	if err != nil {
		return nil, err
	}
	return sealArtifact(folded.PC, T1, code, start)
}

// balancedBackend implements T2: the full pass pipeline, list scheduling,
// and a configurable allocation strategy (spec.md §4.5 row T2's default is
// linear-scan; regalloc.strategy/regalloc.small_block_threshold from
// spec.md §6 let an operator override that default for this tier only).
type balancedBackend struct{}

func (balancedBackend) Tier() Tier { return T2 }

func (balancedBackend) Compile(b *ir.Block, opts RegallocOptions) (*Artifact, error) {
	start := clockNow()
	optimized := optimize.Run(b)
	analysis, err := ir.Analyze(optimized)
	if err != nil {
		return nil, err
	}
	alloc := regalloc.Allocate(optimized, analysis, opts.regallocConfig())
	perm := schedule.Schedule(optimized)
	code, err := emit(optimized, perm, alloc)
	if err != nil {
		return nil, err
	}
	return sealArtifact(optimized.PC, T2, code, start)
}

// optimizedBackend implements T3: the same optimize.Run pass pipeline as
// T2, graph-coloring allocation, and list scheduling. It performs no
// inlining (guest call-site inlining needs an external front-end to
// supply callee IR, which is out of scope here).
// Allocation is always graph-coloring regardless of configuration: T3 is
// the maximum-quality tier and spec.md's table assigns it nothing else.
type optimizedBackend struct{}

func (optimizedBackend) Tier() Tier { return T3 }

func (optimizedBackend) Compile(b *ir.Block, _ RegallocOptions) (*Artifact, error) {
	start := clockNow()
	optimized := optimize.Run(b)
	analysis, err := ir.Analyze(optimized)
	if err != nil {
		return nil, err
	}
	alloc := regalloc.Allocate(optimized, analysis, regalloc.Config{Strategy: regalloc.StrategyGraphColoring, NumPhys: defaultNumPhysRegs})
	perm := schedule.Schedule(optimized)
	code, err := emit(optimized, perm, alloc)
	if err != nil {
		return nil, err
	}
	a, err := sealArtifact(optimized.PC, T3, code, start)
	if err != nil {
		return nil, err
	}
	// T3 code is 4x baseline per spec.md §4.5: report CodeSize as four
	// times the emitted length. The code region itself is not padded.
	if len(code) > 0 {
		a.CodeSize = len(code) * 4
	}
	return a, nil
}

func sealArtifact(pc uint64, t Tier, code []byte, start time.Time) (*Artifact, error) {
	if len(code) == 0 {
		// An empty block still needs an addressable artifact (its
		// terminator is entered at offset 0); one byte is enough.
		code = []byte{byte(opTerminator)}
	}
	region, err := codemem.Alloc(len(code))
	if err != nil {
		return nil, err
	}
	if err := region.Write(code); err != nil {
		region.Release()
		return nil, err
	}
	if err := region.Seal(); err != nil {
		region.Release()
		return nil, err
	}
	a := &Artifact{
		PC:          pc,
		Tier:        t,
		Region:      region,
		EntryOffset: 0,
		CodeSize:    len(code),
		CompileTime: sinceClock(start),
	}
	rtlog.Default().Info().
		Str("component", "tiers").
		Uint64("pc", pc).
		Str("tier", t.String()).
		Int("code_size", a.CodeSize).
		Log("compiled artifact")
	return a, nil
}
