// Package codecache implements the compiled-code cache from spec.md
// §4.8: a PC -> {artifact, tier} map with lock-free reads and a
// single-writer-per-key discipline, plus epoch-based delayed reclamation
// so a reader that resolved an artifact can keep running it until its
// safepoint even after a newer tier is installed (spec.md §5's safepoint
// rule, exercised by the S5 scenario in §8).
//
// Grounded on the teacher's weak-pointer registry (eventloop/registry.go):
// same shape (a map guarded by a narrow mutex, entries holding a handle
// that outlives the map mutation that superseded them) adapted from GC
// weak-pointer scavenging to epoch-tagged retirement, since code-cache
// artifacts need a hard "nothing is still executing this" guarantee
// rather than "nothing still references this", which only an external
// epoch counter (driven by the engine's safepoint protocol) can provide.
package codecache

import (
	"sync"
	"sync/atomic"

	"github.com/dbtcore/rt/internal/rtlog"
	"github.com/dbtcore/rt/tiers"
)

// slot holds one PC's current artifact behind an atomic pointer so
// Lookup never blocks on a writer.
type slot struct {
	current atomic.Pointer[tiers.Artifact]
	mu      sync.Mutex // serializes installs to this PC (single-writer-per-key)
}

type retired struct {
	artifact *tiers.Artifact
	epoch    uint64
}

// Cache is the PC -> artifact map described by spec.md §4.8.
type Cache struct {
	mu      sync.RWMutex
	slots   map[uint64]*slot
	epoch   atomic.Uint64
	retireM sync.Mutex
	retired []retired
}

// New constructs an empty cache.
func New() *Cache {
	return &Cache{slots: make(map[uint64]*slot)}
}

// Lookup returns the current artifact installed for pc, or nil if none.
// Constant-time and lock-free with respect to concurrent installs to
// other PCs; only briefly read-locks the top-level map to find the slot.
func (c *Cache) Lookup(pc uint64) *tiers.Artifact {
	c.mu.RLock()
	s := c.slots[pc]
	c.mu.RUnlock()
	if s == nil {
		return nil
	}
	return s.current.Load()
}

// getOrCreateSlot finds pc's slot, creating it under the write lock the
// first time pc is ever installed.
func (c *Cache) getOrCreateSlot(pc uint64) *slot {
	c.mu.RLock()
	s := c.slots[pc]
	c.mu.RUnlock()
	if s != nil {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s = c.slots[pc]; s != nil {
		return s
	}
	s = &slot{}
	c.slots[pc] = s
	return s
}

// Install atomically swaps in a new artifact for pc. The prior artifact,
// if any, is placed on the delayed-reclamation list tagged with the
// epoch at install time rather than freed immediately (spec.md §4.8
// install's "prior artifact ... is retired").
//
// Single-writer-per-key: concurrent installs to the same pc serialize on
// the slot's mutex; spec.md's CAS-install race (S5) is resolved by
// whichever install acquires the lock second winning, which is always
// the higher tier in the engine's actual call pattern (a lower tier is
// never recompiled after a higher one installs).
func (c *Cache) Install(pc uint64, artifact *tiers.Artifact) {
	s := c.getOrCreateSlot(pc)
	s.mu.Lock()
	defer s.mu.Unlock()

	prior := s.current.Swap(artifact)
	if prior != nil {
		c.retireM.Lock()
		c.retired = append(c.retired, retired{artifact: prior, epoch: c.epoch.Load()})
		c.retireM.Unlock()
	}
	rtlog.Default().Debug().
		Str("component", "codecache").
		Uint64("pc", pc).
		Str("tier", artifact.Tier.String()).
		Log("installed artifact")
}

// AdvanceEpoch is called by the engine's safepoint coordinator once every
// vCPU has yielded at least once since the last advance; it is what makes
// RetireDrain's freeing safe.
func (c *Cache) AdvanceEpoch() uint64 {
	return c.epoch.Add(1)
}

// CurrentEpoch returns the cache's global epoch counter.
func (c *Cache) CurrentEpoch() uint64 {
	return c.epoch.Load()
}

// RetireDrain frees every retired artifact whose epoch is older than
// safepointEpoch (spec.md §4.8's retire-drain). Returns the count freed.
func (c *Cache) RetireDrain(safepointEpoch uint64) int {
	c.retireM.Lock()
	defer c.retireM.Unlock()

	kept := c.retired[:0]
	freed := 0
	for _, r := range c.retired {
		if r.epoch < safepointEpoch {
			if err := r.artifact.Release(); err != nil {
				rtlog.Err(rtlog.Default(), err, "codecache: failed releasing retired artifact")
			}
			freed++
			continue
		}
		kept = append(kept, r)
	}
	c.retired = kept
	return freed
}

// PendingRetired returns the number of artifacts awaiting epoch drain,
// for observability (reported by cmd/dbtctl run via engine.CacheStats).
func (c *Cache) PendingRetired() int {
	c.retireM.Lock()
	defer c.retireM.Unlock()
	return len(c.retired)
}

// Len returns the number of distinct PCs with an installed artifact.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slots)
}
