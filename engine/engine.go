// Package engine wires every other package into the top-level
// execute_block/notify_* surface from spec.md §6. Its compile-queue
// shape is grounded on the teacher's eventloop.Loop: a bounded ingress
// queue feeding background work, decoupled from the calling (vCPU)
// thread so compilation is never on that thread's critical path
// (spec.md §5: "the vCPU never blocks waiting for a higher tier").
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"golang.org/x/sync/semaphore"

	"github.com/dbtcore/rt/codecache"
	"github.com/dbtcore/rt/config"
	"github.com/dbtcore/rt/gc"
	"github.com/dbtcore/rt/internal/rtlog"
	"github.com/dbtcore/rt/ir"
	"github.com/dbtcore/rt/numa"
	"github.com/dbtcore/rt/policy"
	"github.com/dbtcore/rt/profile"
	"github.com/dbtcore/rt/rterr"
	"github.com/dbtcore/rt/tiers"
	"github.com/dbtcore/rt/tlb"
)

// Decoder is the "consumed from the front-end" decode_block function
// from spec.md §6: out of scope for this core, supplied by the caller.
type Decoder interface {
	Decode(pc uint64) (*ir.Block, error)
}

// ExitReason is returned by ExecuteBlock when guest execution should
// stop dispatching (as opposed to a next_pc continuation).
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitHalt
	ExitFault
)

// compileRequest is one item on the compiler thread pool's queue.
type compileRequest struct {
	pc    uint64
	block *ir.Block
	tier  tiers.Tier
	stale func() bool // cooperative cancellation, per spec.md §6
}

// Engine is the top-level runtime: code cache, per-block profiles, the
// tier-upgrade policy, a bounded compiler worker pool, the GC collector,
// and the TLB, bound together behind the execute_block/notify_*
// dispatcher surface.
type Engine struct {
	cfg     config.Config
	decoder Decoder

	cache *codecache.Cache

	profMu   sync.Mutex
	profiles map[uint64]*profile.Profile

	blocksMu sync.Mutex
	blocks   map[uint64]*ir.Block // original IR per pc, for recompiles past T0 (Artifact.Block is nil once compiled)

	mlEngine  *policy.Engine
	thresholds policy.Thresholds

	compileQueue chan compileRequest
	compileWG    sync.WaitGroup
	compileSem   *semaphore.Weighted
	recompileRate *catrate.Limiter

	collector    *gc.Collector
	tlb          *tlb.TLB
	placement    *numa.Placement
	regallocOpts tiers.RegallocOptions

	closeOnce sync.Once
	done      chan struct{}
}

// New constructs an Engine wired per cfg. heap and t back the GC and TLB
// subsystems respectively; decoder supplies fresh IR on a cache miss.
func New(cfg config.Config, decoder Decoder, heap *gc.Heap, t *tlb.TLB, placement *numa.Placement) *Engine {
	var mlEngine *policy.Engine
	if cfg.ML.Enabled {
		mlEngine = policy.NewEngine(policy.DefaultMLLearningRate)
	}

	gcCfg := gc.Config{
		Workers:     cfg.GC.NumWorkers,
		TargetPause: cfg.GCPauseTarget(),
		MinQuota:    cfg.GCQuotaMin(),
		MaxQuota:    cfg.GCQuotaMax(),
		MajorBatch:  256,
	}

	e := &Engine{
		cfg:      cfg,
		decoder:  decoder,
		cache:    codecache.New(),
		profiles: make(map[uint64]*profile.Profile),
		blocks:   make(map[uint64]*ir.Block),
		mlEngine: mlEngine,
		thresholds: policy.Thresholds{
			T0ToT1:        cfg.Tier0ToTier1,
			T1ToT2:        cfg.Tier1ToTier2,
			T2ToT3:        cfg.Tier2ToTier3,
			MinTimeInTier: cfg.MinTimeInTier(),
		},
		compileQueue: make(chan compileRequest, 256),
		// Recompile requests triggered by a degrading trend are
		// genuinely speculative — bound them to a modest rate per block
		// so a pathologically oscillating block can't flood the
		// compiler pool with redundant same-tier recompiles.
		recompileRate: catrate.NewLimiter(map[time.Duration]int{
			time.Second:      1,
			10 * time.Second: 3,
		}),
		collector: gc.NewCollector(heap, gcCfg),
		tlb:       t,
		placement: placement,
		regallocOpts: tiers.RegallocOptions{
			Strategy:            cfg.RegallocStrategy(),
			SmallBlockThreshold: cfg.Regalloc.SmallBlockThreshold,
		},
		done: make(chan struct{}),
	}
	return e
}

// StartCompilerPool launches the background compile dispatcher: a single
// goroutine drains the compile queue and spawns one goroutine per
// request, with a golang.org/x/sync/semaphore.Weighted of weight n
// bounding how many compiles actually run at once (rather than a fixed
// set of n worker goroutines each blocked on their own channel read,
// this lets a stale request get discarded the instant it's dequeued
// without waiting behind an unrelated slow compile). Call once during
// engine startup.
func (e *Engine) StartCompilerPool(ctx context.Context, n int) {
	if n <= 0 {
		n = 2
	}
	e.compileSem = semaphore.NewWeighted(int64(n))
	e.compileWG.Add(1)
	go e.compileDispatch(ctx)
}

func (e *Engine) compileDispatch(ctx context.Context) {
	defer e.compileWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case req := <-e.compileQueue:
			if req.stale != nil && req.stale() {
				continue
			}
			if err := e.compileSem.Acquire(ctx, 1); err != nil {
				return
			}
			e.compileWG.Add(1)
			go func(req compileRequest) {
				defer e.compileWG.Done()
				defer e.compileSem.Release(1)
				e.runCompile(req)
			}(req)
		}
	}
}

func (e *Engine) runCompile(req compileRequest) {
	artifact, err := tiers.CompileWithOptions(req.tier, req.block, e.regallocOpts)
	if err != nil {
		rtlog.Err(rtlog.Default(), err, "engine: background compile failed")
		return
	}
	e.cache.Install(req.pc, artifact)
}

// ExecuteBlock implements spec.md §6's execute_block: resolve pc against
// the code cache; on a miss, interpret immediately (T0 never fails) while
// asynchronously submitting a T1 compile so the next dispatch hits
// compiled code.
func (e *Engine) ExecuteBlock(ctx context.Context, pc uint64) (nextPC uint64, exit ExitReason, err error) {
	start := clockNow()
	artifact := e.cache.Lookup(pc)
	if artifact == nil {
		block, derr := e.decoder.Decode(pc)
		if derr != nil {
			return 0, ExitFault, derr
		}
		artifact, err = tiers.Compile(tiers.T0, block)
		if err != nil {
			return 0, ExitFault, err
		}
		e.cache.Install(pc, artifact)
		e.blocksMu.Lock()
		e.blocks[pc] = block
		e.blocksMu.Unlock()
		e.submitCompile(pc, block, tiers.T1, nil)
	}

	// A real engine would dispatch into artifact's compiled code or walk
	// its interpreted IR here; that execution surface belongs to the
	// front-end/dispatcher integration, out of this core's scope per
	// spec.md §6. We still record the profiling sample so the tier
	// policy advances correctly.
	e.recordExecution(pc, clockNowSince(start))

	return pc, ExitNone, nil
}

func (e *Engine) recordExecution(pc uint64, d time.Duration) {
	e.profMu.Lock()
	prof, ok := e.profiles[pc]
	if !ok {
		prof = profile.New(pc)
		e.profiles[pc] = prof
	}
	e.profMu.Unlock()

	prof.Record(d)
	snap := prof.Snapshot()
	decision := policy.Evaluate(snap, e.thresholds, e.mlEngine)

	// Artifact.Block only ever returns non-nil for a T0 (interpreted)
	// artifact; every compile past T0 needs the original IR, which the
	// engine retains here since tiers.Artifact deliberately doesn't carry
	// it once sealed.
	e.blocksMu.Lock()
	block := e.blocks[pc]
	e.blocksMu.Unlock()
	if block == nil {
		return
	}

	if decision.Upgrade && decision.TargetTier > snap.Tier {
		prof.Upgrade(decision.TargetTier)
		e.submitCompile(pc, block, decision.TargetTier, nil)
	} else if decision.Recompile {
		if _, allowed := e.recompileRate.Allow(pc); allowed {
			e.submitCompile(pc, block, decision.TargetTier, nil)
		}
	}
}

// submitCompile enqueues a background compile, dropping it with a warning
// log if the queue is full (spec.md's non-blocking tier installation — a
// dropped request just means the block stays at its current tier a
// little longer, never a correctness issue). With a nil stale func, the
// request counts as stale once an artifact of a higher tier is installed
// for pc; the worker checks this when it dequeues the request.
func (e *Engine) submitCompile(pc uint64, block *ir.Block, tier tiers.Tier, stale func() bool) {
	if stale == nil {
		stale = func() bool {
			cur := e.cache.Lookup(pc)
			return cur != nil && cur.Tier > tier
		}
	}
	select {
	case e.compileQueue <- compileRequest{pc: pc, block: block, tier: tier, stale: stale}:
	default:
		rtlog.Default().Warning().
			Str("component", "engine").
			Uint64("pc", pc).
			Str("tier", tier.String()).
			Log("compile queue full, dropping request")
	}
}

// NotifyMappingChange implements spec.md §6's notify_mapping_change.
func (e *Engine) NotifyMappingChange(startVPN, endVPN uint64) int {
	if e.tlb == nil {
		return 0
	}
	return e.tlb.InvalidateRange(startVPN, endVPN)
}

// NotifyWrite implements spec.md §6's notify_write write-barrier entry
// point.
func (e *Engine) NotifyWrite(old, young *gc.Object) {
	e.collector.Barrier().Record(old, young)
}

// GCRequestKind distinguishes a minor from a major collection request.
type GCRequestKind int

const (
	GCMinor GCRequestKind = iota
	GCMajor
)

// RequestGC implements spec.md §6's request_gc(kind). Every collection
// is also a safepoint: all vCPUs are presumed to have yielded by the
// time a collection runs, so this is where the code cache's epoch
// advances and drains artifacts retired before it (spec.md §4.8's
// safepoint-gated reclamation, exercised by the S5 scenario in §8).
func (e *Engine) RequestGC(ctx context.Context, kind GCRequestKind) error {
	var err error
	switch kind {
	case GCMinor:
		_, _, err = e.collector.MinorCollect(ctx)
	case GCMajor:
		_, _, err = e.collector.MajorCollect(ctx)
	default:
		return rterr.New(rterr.KindCollectionFailed, "engine", nil)
	}
	if err != nil {
		return err
	}
	epoch := e.cache.AdvanceEpoch()
	e.cache.RetireDrain(epoch)
	return nil
}

// ProfileSnapshot returns pc's current profile snapshot, if any, for
// observability tooling.
func (e *Engine) ProfileSnapshot(pc uint64) (profile.Snapshot, bool) {
	e.profMu.Lock()
	defer e.profMu.Unlock()
	p, ok := e.profiles[pc]
	if !ok {
		return profile.Snapshot{}, false
	}
	return p.Snapshot(), true
}

// CacheStats reports code cache size and pending-retirement count for
// observability.
func (e *Engine) CacheStats() (size, pendingRetired int) {
	return e.cache.Len(), e.cache.PendingRetired()
}

// TLBHitRates exposes the TLB's per-level hit rates for observability.
func (e *Engine) TLBHitRates() tlb.HitRates {
	if e.tlb == nil {
		return tlb.HitRates{}
	}
	return e.tlb.HitRates()
}

// AllocateGuestMemory reserves size bytes of guest-backing memory,
// preferring the NUMA node vcpu is bound to (spec.md §4.10's node-local
// allocation default, falling back to the least-loaded node).
func (e *Engine) AllocateGuestMemory(vcpu int, size uint64) (node int, err error) {
	if e.placement == nil {
		return -1, rterr.New(rterr.KindOutOfHeapMemory, "engine", nil)
	}
	preferred, _ := e.placement.NodeForVCPU(vcpu)
	return e.placement.Allocate(preferred, size)
}

// Shutdown stops the compiler pool and waits for in-flight compiles to
// drain.
func (e *Engine) Shutdown() {
	e.closeOnce.Do(func() { close(e.done) })
	e.compileWG.Wait()
}

var clockNow = time.Now

func clockNowSince(start time.Time) time.Duration { return clockNow().Sub(start) }
