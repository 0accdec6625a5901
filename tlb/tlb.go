package tlb

import (
	"context"
	"sync"

	"github.com/dbtcore/rt/internal/rtlog"
)

// LevelSizes configures the capacity of each TLB level (spec.md §4.10:
// "L1 small & fast, L2 larger, L3 a page-walk-result cache").
type LevelSizes struct {
	L1, L2, L3 int
}

// DefaultLevelSizes are reasonable proportions for a per-vCPU TLB.
var DefaultLevelSizes = LevelSizes{L1: 64, L2: 512, L3: 4096}

// TLB is the multi-level translation lookaside buffer from spec.md
// §4.10. Per-vCPU L1 is unshared (spec.md §5: "per-vCPU L1, no
// contention"); L2/L3 are intended to be shared across vCPUs under a
// reader-writer discipline, which this type provides via its own mutex
// (a production engine would give every vCPU its own TLB instance
// wrapping shared L2/L3 levels; this reference core keeps all three
// levels together for simplicity, still correct for a single vCPU).
type TLB struct {
	mu sync.Mutex
	l1 *level
	l2 *level
	l3 *level

	walker   *Walker
	analyzer *Analyzer

	hits   [3]uint64
	misses uint64
}

// New constructs a TLB backed by walker, with the given level sizes and
// analyzer ring capacity (0 uses defaults for both).
func New(walker *Walker, sizes LevelSizes, ringCapacity int) *TLB {
	if sizes.L1 <= 0 && sizes.L2 <= 0 && sizes.L3 <= 0 {
		sizes = DefaultLevelSizes
	}
	return &TLB{
		l1:       newLevel(sizes.L1),
		l2:       newLevel(sizes.L2),
		l3:       newLevel(sizes.L3),
		walker:   walker,
		analyzer: NewAnalyzer(ringCapacity),
	}
}

// Translate performs a full lookup: L1 -> L2 -> L3, promoting on hit; on
// a total miss it invokes the walker synchronously and installs the
// result into all three levels, per spec.md §4.10. Every access (hit or
// miss) is recorded in the analyzer's ring.
func (t *TLB) Translate(ctx context.Context, vpn uint64, asid ASID, kind Kind) (Entry, error) {
	k := key{vpn: vpn, asid: asid}

	t.mu.Lock()
	if e, ok := t.l1.get(k); ok {
		t.hits[0]++
		t.mu.Unlock()
		t.observe(vpn, kind, true)
		return e, nil
	}
	if e, ok := t.l2.get(k); ok {
		t.hits[1]++
		t.l1.put(k, e)
		t.mu.Unlock()
		t.observe(vpn, kind, true)
		return e, nil
	}
	if e, ok := t.l3.get(k); ok {
		t.hits[2]++
		t.l2.put(k, e)
		t.l1.put(k, e)
		t.mu.Unlock()
		t.observe(vpn, kind, true)
		return e, nil
	}
	t.misses++
	t.mu.Unlock()

	t.observe(vpn, kind, false)

	e, err := t.walker.Resolve(ctx, vpn, asid)
	if err != nil {
		return Entry{}, err
	}

	t.mu.Lock()
	t.l3.put(k, e)
	t.l2.put(k, e)
	t.l1.put(k, e)
	t.mu.Unlock()

	rtlog.Default().Debug().
		Str("component", "tlb").
		Uint64("vpn", vpn).
		Log("walker resolved miss")
	return e, nil
}

func (t *TLB) observe(vaddr uint64, kind Kind, hit bool) {
	t.analyzer.Observe(Record{VAddr: vaddr, Kind: kind, Hit: hit, Timestamp: clockNow()})
}

// InstallPrefetched installs entries produced by the walker's prefetch
// path into L2/L3 only, never L1, per spec.md §4.10.
func (t *TLB) InstallPrefetched(entries []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		k := key{vpn: e.VPN, asid: e.ASID}
		t.l3.put(k, e)
		t.l2.put(k, e)
	}
}

// NextPrefetchRequests asks the analyzer for up to k predicted future
// pages and turns them into walker prefetch requests for asid.
func (t *TLB) NextPrefetchRequests(asid ASID, k int, pageSize uint64) []PrefetchRequest {
	addrs := t.analyzer.PredictNext(k, pageSize)
	reqs := make([]PrefetchRequest, 0, len(addrs))
	for _, a := range addrs {
		reqs = append(reqs, PrefetchRequest{VPN: a / pageSize, ASID: asid})
	}
	return reqs
}

// InvalidateRange flushes every entry across all three levels whose VPN
// falls in [startVPN, endVPN), servicing notify_mapping_change. Per
// spec.md §8 invariant 5, no lookup after this returns can observe a
// stale mapping in that range.
func (t *TLB) InvalidateRange(startVPN, endVPN uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.l1.invalidateRange(startVPN, endVPN) +
		t.l2.invalidateRange(startVPN, endVPN) +
		t.l3.invalidateRange(startVPN, endVPN)
}

// HitRates returns the observed hit rate at each level (L1, L2, L3) plus
// the overall miss rate, reported by cmd/dbtctl run.
type HitRates struct {
	L1, L2, L3 float64
	MissRate   float64
}

func (t *TLB) HitRates() HitRates {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := t.hits[0] + t.hits[1] + t.hits[2] + t.misses
	if total == 0 {
		return HitRates{}
	}
	ft := float64(total)
	return HitRates{
		L1:       float64(t.hits[0]) / ft,
		L2:       float64(t.hits[1]) / ft,
		L3:       float64(t.hits[2]) / ft,
		MissRate: float64(t.misses) / ft,
	}
}

// Classify exposes the analyzer's current pattern classification.
func (t *TLB) Classify() Pattern {
	return t.analyzer.Classify()
}
