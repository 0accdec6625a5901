// Package profile implements the Block Profile from spec.md §3/§4.1:
// per-block execution counters, a streaming latency histogram, hotspot
// scoring, and a windowed trend classification used by the tier-upgrade
// policy (policy package) to decide when to recompile rather than
// upgrade (spec.md §4.7: "a degrading trend ... triggers recompilation
// at the same tier").
package profile

import (
	"math"
	"sync"
	"time"

	"github.com/dbtcore/rt/tiers"
)

// Trend classifies the recent direction of a block's execution time.
type Trend uint8

const (
	TrendStable Trend = iota
	TrendImproving
	TrendDegrading
)

func (t Trend) String() string {
	switch t {
	case TrendImproving:
		return "improving"
	case TrendDegrading:
		return "degrading"
	default:
		return "stable"
	}
}

// trendWindow is the number of recent per-execution timings kept for the
// windowed linear-regression slope that drives Trend.
const trendWindow = 10

// clockNow is an injectable clock seam (catrate/limiter.go's timeNow
// pattern) so LastExec/TimeInTier are deterministic under test.
var clockNow = time.Now

// Profile is the mutable per-block profiling record (spec.md §3 "Block
// Profile"). Safe for concurrent use: execution counting happens on every
// vCPU thread dispatching the block, while the policy/profiler threads
// read it concurrently.
type Profile struct {
	mu sync.Mutex

	pc uint64

	execCount   uint64
	totalTime   time.Duration
	histogram   *pSquareQuantile
	tier        tiers.Tier
	tierSince   time.Time
	lastExec    time.Time
	window      [trendWindow]float64 // recent exec times in ns, ring
	windowLen   int
	windowStart int
	trend       Trend
}

// New creates a Profile for a block first dispatched at T0.
func New(pc uint64) *Profile {
	now := clockNow()
	return &Profile{
		pc:        pc,
		histogram: newPSquareQuantile(0.99),
		tier:      tiers.T0,
		tierSince: now,
		lastExec:  now,
	}
}

// Record reports one execution of the block taking d. Execution count is
// monotonically non-decreasing per spec.md §3's invariant (Record never
// decrements it).
func (p *Profile) Record(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.execCount++
	p.totalTime += d
	p.lastExec = clockNow()
	p.histogram.Update(float64(d.Nanoseconds()))

	p.window[(p.windowStart+p.windowLen)%trendWindow] = float64(d.Nanoseconds())
	if p.windowLen < trendWindow {
		p.windowLen++
	} else {
		p.windowStart = (p.windowStart + 1) % trendWindow
	}
	p.trend = computeTrend(p.windowSlice())
}

func (p *Profile) windowSlice() []float64 {
	out := make([]float64, p.windowLen)
	for i := 0; i < p.windowLen; i++ {
		out[i] = p.window[(p.windowStart+i)%trendWindow]
	}
	return out
}

// computeTrend fits a simple linear regression (least squares) over the
// windowed samples and classifies the slope sign; fewer than 3 samples is
// always stable (not enough signal).
func computeTrend(samples []float64) Trend {
	n := len(samples)
	if n < 3 {
		return TrendStable
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range samples {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	nf := float64(n)
	denom := nf*sumXX - sumX*sumX
	if denom == 0 {
		return TrendStable
	}
	slope := (nf*sumXY - sumX*sumY) / denom
	mean := sumY / nf
	if mean == 0 {
		return TrendStable
	}
	// Normalize slope-per-sample against the mean so the threshold is
	// scale-independent (ns vs us blocks are classified the same way).
	relative := slope / mean
	switch {
	case relative > TrendThreshold:
		return TrendDegrading // execution time trending up
	case relative < -TrendThreshold:
		return TrendImproving
	default:
		return TrendStable
	}
}

// DefaultTrendThreshold is spec.md §4.6's default classification
// threshold ("configurable; default ±5%").
const DefaultTrendThreshold = 0.05

// TrendThreshold is the active classification threshold: a package
// variable, initialized to DefaultTrendThreshold, that a caller may
// override without threading a parameter through every Profile. No
// configuration key or cmd/dbtctl flag sets it.
var TrendThreshold = DefaultTrendThreshold

// Upgrade records a tier transition, resetting TimeInTier per spec.md
// §4.7's "time-in-current-tier" attribute. Panics if newTier is not
// strictly greater than the current tier — callers (policy) must never
// attempt a demotion (spec.md §3 invariant: "current tier monotonically
// non-decreasing").
func (p *Profile) Upgrade(newTier tiers.Tier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if newTier <= p.tier {
		panic("profile: tier must monotonically increase")
	}
	p.tier = newTier
	p.tierSince = clockNow()
}

// Snapshot is a point-in-time, lock-free-to-read copy of a Profile's
// attributes, returned by Profile.Snapshot for policy/cmd consumption.
type Snapshot struct {
	PC          uint64
	ExecCount   uint64
	TotalTime   time.Duration
	AvgTime     time.Duration
	P99Latency  time.Duration
	Tier        tiers.Tier
	TimeInTier  time.Duration
	Trend       Trend
	LastExec    time.Time
}

// Snapshot copies out the profile's current attributes (spec.md §3's
// attribute list) under lock.
func (p *Profile) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	var avg time.Duration
	if p.execCount > 0 {
		avg = p.totalTime / time.Duration(p.execCount)
	}
	return Snapshot{
		PC:         p.pc,
		ExecCount:  p.execCount,
		TotalTime:  p.totalTime,
		AvgTime:    avg,
		P99Latency: time.Duration(p.histogram.Quantile()),
		Tier:       p.tier,
		TimeInTier: clockNow().Sub(p.tierSince),
		Trend:      p.trend,
		LastExec:   p.lastExec,
	}
}

// Hotness scores a snapshot on spec.md §4.1's formula:
// 0.7*log10(count)/10 + 0.3*(1-min(avg_ns/1e6,1)), clamped to [0,1].
func (s Snapshot) Hotness() float64 {
	count := float64(s.ExecCount)
	var countTerm float64
	if count > 0 {
		countTerm = math.Log10(count) / 10
	}
	avgMs := float64(s.AvgTime.Nanoseconds()) / 1e6
	if avgMs > 1 {
		avgMs = 1
	}
	h := 0.7*countTerm + 0.3*(1-avgMs)
	if h < 0 {
		h = 0
	}
	if h > 1 {
		h = 1
	}
	return h
}
