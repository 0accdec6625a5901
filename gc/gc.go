package gc

import (
	"context"
	"sync"
	"time"

	"github.com/dbtcore/rt/internal/rtlog"
)

// Config holds the tunables an engine supplies when constructing a
// Collector.
type Config struct {
	Workers       int           // marker goroutine count
	TargetPause   time.Duration // adaptive-quota target
	MinQuota      time.Duration
	MaxQuota      time.Duration
	MajorBatch    int // objects swept per incremental major-collection batch
}

// DefaultConfig matches spec.md §4.9's stated defaults.
var DefaultConfig = Config{
	Workers:     4,
	TargetPause: 2 * time.Millisecond,
	MinQuota:    500 * time.Microsecond,
	MaxQuota:    10 * time.Millisecond,
	MajorBatch:  256,
}

var clockNow = time.Now

// Collector orchestrates minor and major collection cycles over a Heap,
// coordinating the write barrier, the work-stealing marker, and the
// adaptive pause-quota controller.
type Collector struct {
	heap    *Heap
	barrier *Barrier
	marker  *Marker
	quota   *QuotaController

	mu            sync.Mutex
	majorInFlight bool // sweep cursor itself lives in Heap, which spans calls
	cfg           Config
}

// NewCollector wires a Collector around heap using cfg (a zero Config
// falls back to DefaultConfig).
func NewCollector(heap *Heap, cfg Config) *Collector {
	if cfg.Workers <= 0 {
		cfg = DefaultConfig
	}
	return &Collector{
		heap:    heap,
		barrier: NewBarrier(),
		marker:  NewMarker(cfg.Workers),
		quota:   NewQuotaController(cfg.TargetPause, cfg.MinQuota, cfg.MaxQuota),
		cfg:     cfg,
	}
}

// Barrier exposes the collector's write barrier so the engine can wire
// it into compiled stores.
func (c *Collector) Barrier() *Barrier { return c.barrier }

// Quota exposes the current pause-time budget for schedulers that decide
// whether there's room for a collection slice this safepoint.
func (c *Collector) Quota() time.Duration { return c.quota.Quota() }

// MinorCollect runs one nursery collection: mark everything reachable
// from the roots (the marker follows Refs into mature space too), then
// sweep the nursery (promote/copy/reclaim). Returns
// the number of objects promoted and the pause duration actually taken,
// which is fed back into the quota controller.
func (c *Collector) MinorCollect(ctx context.Context) (promoted int, pause time.Duration, err error) {
	start := clockNow()
	roots := c.heap.Roots(c.barrier)

	if _, err = c.marker.Mark(ctx, roots); err != nil {
		return 0, clockNowSince(start), err
	}

	promoted, _ = c.heap.SweepNursery()
	pause = clockNowSince(start)
	c.quota.Observe(pause)

	rtlog.Default().Debug().
		Str("component", "gc").
		Int("promoted", promoted).
		Uint64("pause_ns", uint64(pause.Nanoseconds())).
		Log("minor collection complete")
	return promoted, pause, nil
}

// MajorCollect advances the incremental major collection by one batch
// (spec.md §4.9: "bounded-batch incremental sweep" keeps a single major
// cycle from blowing the pause quota). The first call of a new cycle
// clears the mature marks and marks everything reachable from the roots
// and the nursery, then sweeps one batch; subsequent calls just advance the
// sweep cursor until done is true, at which point the cycle is over and
// the next call starts a fresh one.
func (c *Collector) MajorCollect(ctx context.Context) (freed int, done bool, err error) {
	c.mu.Lock()
	fresh := !c.majorInFlight
	c.mu.Unlock()

	if fresh {
		c.heap.ResetMatureMarks()
		roots := c.heap.Roots(c.barrier)
		roots = append(roots, c.heap.NurserySnapshot()...)
		if _, err = c.marker.Mark(ctx, roots); err != nil {
			return 0, false, err
		}
		c.mu.Lock()
		c.majorInFlight = true
		c.mu.Unlock()
	}

	freed, done = c.heap.SweepMature(c.cfg.MajorBatch)
	if done {
		c.mu.Lock()
		c.majorInFlight = false
		c.mu.Unlock()
	}
	return freed, done, nil
}

func clockNowSince(start time.Time) time.Duration {
	return clockNow().Sub(start)
}
