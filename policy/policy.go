// Package policy implements the tier-upgrade decision engine from spec.md
// §4.7: a base monotonic policy (exec-count threshold + minimum
// time-in-tier) plus an optional ML-guided layer that suggests — but
// never overrides — the monotonic policy's decision.
package policy

import (
	"math"
	"time"

	"github.com/dbtcore/rt/profile"
	"github.com/dbtcore/rt/tiers"
)

// Thresholds holds the base-policy tunables from spec.md §4.7.
type Thresholds struct {
	T0ToT1      uint64
	T1ToT2      uint64
	T2ToT3      uint64
	MinTimeInTier time.Duration
}

// DefaultThresholds matches spec.md §4.7's stated defaults.
var DefaultThresholds = Thresholds{
	T0ToT1:        10,
	T1ToT2:        100,
	T2ToT3:        1000,
	MinTimeInTier: 100 * time.Millisecond,
}

func (t Thresholds) thresholdFor(tier tiers.Tier) (uint64, bool) {
	switch tier {
	case tiers.T0:
		return t.T0ToT1, true
	case tiers.T1:
		return t.T1ToT2, true
	case tiers.T2:
		return t.T2ToT3, true
	default:
		return 0, false
	}
}

// Decision is what Evaluate recommends for one block.
type Decision struct {
	Upgrade     bool
	Recompile   bool // same-tier recompilation, triggered by a degrading trend
	TargetTier  tiers.Tier
}

// Evaluate applies the base monotonic policy from spec.md §4.7 to a
// profile snapshot, then lets the engine's ML layer (if non-nil) suggest
// a tier — the ML suggestion can only move the target tier within the
// monotonic bound already established (never demote, never skip past
// what the feature vector and decision cache allow), per spec.md's "the
// ML layer suggests tiers and never violates the monotonic policy".
func Evaluate(snap profile.Snapshot, t Thresholds, ml *Engine) Decision {
	threshold, ok := t.thresholdFor(snap.Tier)
	if ok && snap.ExecCount >= threshold && snap.TimeInTier >= t.MinTimeInTier {
		target := snap.Tier + 1
		if ml != nil {
			target = ml.Suggest(snap, target)
		}
		return Decision{Upgrade: true, TargetTier: target}
	}

	if snap.Tier >= tiers.T1 && snap.Trend == profile.TrendDegrading {
		return Decision{Recompile: true, TargetTier: snap.Tier}
	}

	return Decision{TargetTier: snap.Tier}
}

// Features is the vector from spec.md §4.7: "size, branch count, loop
// count, call count, memory ops, log-exec-count, log-exec-time".
type Features struct {
	Size       float64
	Branches   float64
	Loops      float64
	Calls      float64
	MemoryOps  float64
	LogExecCnt float64
	LogExecNs  float64
}

func (f Features) vector() [7]float64 {
	return [7]float64{f.Size, f.Branches, f.Loops, f.Calls, f.MemoryOps, f.LogExecCnt, f.LogExecNs}
}

// FeaturesFromSnapshot derives a Features vector from a profile snapshot
// and static block counts the caller already has to hand (ir analysis is
// the natural source for size/branches/loops/calls/memory-ops, but that
// coupling belongs to the caller, not this package).
func FeaturesFromSnapshot(snap profile.Snapshot, size, branches, loops, calls, memOps int) Features {
	logCount := 0.0
	if snap.ExecCount > 0 {
		logCount = math.Log10(float64(snap.ExecCount))
	}
	logTime := 0.0
	if snap.AvgTime > 0 {
		logTime = math.Log10(float64(snap.AvgTime.Nanoseconds()))
	}
	return Features{
		Size:       float64(size),
		Branches:   float64(branches),
		Loops:      float64(loops),
		Calls:      float64(calls),
		MemoryOps:  float64(memOps),
		LogExecCnt: logCount,
		LogExecNs:  logTime,
	}
}

// DefaultMLLearningRate is the bounded-step feedback magnitude from
// spec.md §4.7 ("adjusts model weights with a small bounded step").
// NewEngine takes the rate as an argument, but engine.New always passes
// this constant and no configuration key sets it.
const DefaultMLLearningRate = 0.01

// Engine is the optional ML-guided layer: a small linear model over
// Features, a decision cache keyed by block PC, and bounded-step weight
// feedback. Grounded in spirit on the Maemo32 SUPRAX TAGE predictor's
// saturating-counter feedback loop (proto/tage/tage.go's Update: a small,
// bounded adjustment per observation rather than a full retrain) —
// re-expressed here as a continuous linear model rather than TAGE's
// discrete 3-bit counters, since spec.md asks for a scored tier, not a
// taken/not-taken bit.
type Engine struct {
	weights      [7]float64
	bias         float64
	learningRate float64
	cache        map[uint64]tiers.Tier
}

// NewEngine constructs an ML engine with zero-initialized weights (an
// untrained model defers entirely to the monotonic policy's target,
// since a zero-weight dot product plus bias never crosses any decision
// boundary without explicit feedback).
func NewEngine(learningRate float64) *Engine {
	if learningRate <= 0 {
		learningRate = DefaultMLLearningRate
	}
	return &Engine{learningRate: learningRate, cache: make(map[uint64]tiers.Tier)}
}

// Suggest scores feat against the current model and returns a tier
// clamped to [monotonicTarget-0 .. monotonicTarget], i.e. it may agree
// with the monotonic policy's proposed target but can never exceed it
// or fall below the block's already-reached tier (the caller passes the
// post-upgrade target it would otherwise use). The decision cache
// memoizes the PC's last suggestion between upgrades.
func (e *Engine) Suggest(snap profile.Snapshot, monotonicTarget tiers.Tier) tiers.Tier {
	score := e.score(FeaturesFromSnapshot(snap, 0, 0, 0, 0, 0))
	suggested := scoreToTier(score)
	target := monotonicTarget
	if suggested < target {
		target = suggested
	}
	if target < snap.Tier+1 {
		target = snap.Tier + 1 // never fail to advance past the monotonic floor
	}
	e.cache[snap.PC] = target
	return target
}

func (e *Engine) score(f Features) float64 {
	v := f.vector()
	sum := e.bias
	for i, w := range e.weights {
		sum += w * v[i]
	}
	return sum
}

// scoreToTier maps an unbounded linear score onto the tier range via
// fixed cut points: below 1 is T1, below 2 is T2, anything else T3. A
// completely untrained (zero) model therefore lands on T1, which Suggest
// then raises to at least the tier after the block's current one.
func scoreToTier(score float64) tiers.Tier {
	switch {
	case score < 1:
		return tiers.T1
	case score < 2:
		return tiers.T2
	default:
		return tiers.T3
	}
}

// Feedback nudges the model's weights toward predicting actual (measured
// post-compile time in ns, log10'd) for feat, by at most learningRate per
// weight per call — the "small bounded step" from spec.md §4.7.
func (e *Engine) Feedback(feat Features, actualLogTimeNs float64) {
	predicted := e.score(feat)
	err := actualLogTimeNs - predicted
	step := e.learningRate
	if err < 0 {
		step = -step
	}
	v := feat.vector()
	for i := range e.weights {
		d := step
		if v[i] < 0 {
			d = -d
		}
		e.weights[i] += d
	}
	e.bias += step
}
