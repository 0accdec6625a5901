// Package gc implements the generational collector from spec.md §4.9: a
// nursery/mature heap, a lock-free write barrier, a work-stealing
// parallel marker, and an adaptive pause-quota controller.
package gc

import (
	"sync"
)

// Header is the fixed per-object header from spec.md §3: every
// GC-managed object begins with one.
type Header struct {
	Mark uint32 // fixed-offset mark bit; sweeper reads and clears it
	Age  uint8
	Size uint32
}

// Object is a minimal heap object: a header plus opaque payload bytes.
// A real engine would overlay this on guest memory; this reference core
// models just enough to exercise mark/sweep/promote semantics.
type Object struct {
	Header   Header
	Payload  []byte
	Refs     []*Object // outgoing references, scanned by the marker
}

const (
	markClear uint32 = 0
	markSet   uint32 = 1
)

// IsMarked reports the object's mark bit.
func (o *Object) IsMarked() bool { return o.Header.Mark == markSet }

// SetMark sets the object's mark bit. The header field is a plain write:
// Marker.Mark performs its check-and-set of mark bits under one mutex, so
// concurrent workers never mark or count the same object twice.
func (o *Object) SetMark() { o.Header.Mark = markSet }

// ClearMark resets the mark bit, done by the sweeper at cycle end.
func (o *Object) ClearMark() { o.Header.Mark = markClear }

// PromotionAge is the age threshold from spec.md §4.9's minor-collection
// sweep ("promoted if age >= threshold else copied").
const PromotionAge = 2

// Heap is the generational heap: a nursery (copied every minor cycle) and
// a mature space (swept incrementally by major collection). Per spec.md
// §5's resource discipline, nursery allocation is meant to be per-thread
// arena-local to avoid contention; this reference core models one arena
// plus a coarse-locked mature space; the engine does not add per-vCPU
// arenas on top of this type.
type Heap struct {
	nurseryMu sync.Mutex
	nursery   []*Object

	matureMu sync.Mutex
	mature   []*Object

	roots []*Object // registered roots (active register maps); Roots adds barrier-logged refs

	sweepCursor int       // index into mature already examined by the in-progress incremental sweep
	sweepKeep   []*Object // survivors accumulated so far in the in-progress sweep
}

// NewHeap constructs an empty heap.
func NewHeap() *Heap {
	return &Heap{}
}

// AllocNursery places a freshly constructed object into the nursery.
func (h *Heap) AllocNursery(o *Object) {
	h.nurseryMu.Lock()
	h.nursery = append(h.nursery, o)
	h.nurseryMu.Unlock()
}

// AddRoot registers o as reachable from outside the heap (an active
// register map slot, per spec.md §4.9's minor-collection roots).
func (h *Heap) AddRoot(o *Object) {
	h.nurseryMu.Lock()
	h.roots = append(h.roots, o)
	h.nurseryMu.Unlock()
}

// Roots returns the current root set, combining registered roots with
// anything the write barrier logged as an old-to-new reference.
func (h *Heap) Roots(b *Barrier) []*Object {
	h.nurseryMu.Lock()
	roots := make([]*Object, len(h.roots))
	copy(roots, h.roots)
	h.nurseryMu.Unlock()
	return append(roots, b.Drain()...)
}

// NurserySnapshot returns the current nursery contents for the marker to
// scan/sweep; the caller (Collector) holds exclusivity via the safepoint
// protocol, not this lock (the lock here only protects against concurrent
// allocation from non-paused threads in a partial-safepoint future).
func (h *Heap) NurserySnapshot() []*Object {
	h.nurseryMu.Lock()
	defer h.nurseryMu.Unlock()
	out := make([]*Object, len(h.nursery))
	copy(out, h.nursery)
	return out
}

// SweepNursery implements spec.md §4.9's minor-collection sweep: each
// marked object's age is incremented first; those whose age then reaches
// PromotionAge move to mature space, the other marked objects are copied
// into a fresh nursery, everything else is
// (implicitly) reclaimed by being dropped. Returns the number promoted
// and the number copied.
func (h *Heap) SweepNursery() (promoted, copied int) {
	h.nurseryMu.Lock()
	old := h.nursery
	h.nursery = nil
	h.nurseryMu.Unlock()

	var fresh []*Object
	var toPromote []*Object
	for _, o := range old {
		if !o.IsMarked() {
			continue
		}
		o.Header.Age++
		if o.Header.Age >= PromotionAge {
			toPromote = append(toPromote, o)
		} else {
			fresh = append(fresh, o)
		}
		o.ClearMark()
	}

	h.nurseryMu.Lock()
	h.nursery = append(h.nursery, fresh...)
	h.nurseryMu.Unlock()

	if len(toPromote) > 0 {
		h.matureMu.Lock()
		h.mature = append(h.mature, toPromote...)
		h.matureMu.Unlock()
	}

	return len(toPromote), len(fresh)
}

// ResetMatureMarks clears the mark bit on every mature object. A minor
// collection's mark phase is not scoped to the nursery generation — if a
// nursery root's Refs chain reaches into mature space, those mature
// objects get SetMark()'d too, and SweepNursery only clears marks on
// nursery-resident objects. A fresh major-collection cycle calls this
// before marking so that stale bits left over from an earlier minor
// cycle can't make markOnce treat an already-stale-marked mature object
// as already visited, which would skip re-descending into it and
// wrongly reclaim anything newly linked into that subtree.
func (h *Heap) ResetMatureMarks() {
	h.matureMu.Lock()
	defer h.matureMu.Unlock()
	for _, o := range h.mature {
		o.ClearMark()
	}
}

// MatureSnapshot returns the current mature-space contents for major
// collection's marker.
func (h *Heap) MatureSnapshot() []*Object {
	h.matureMu.Lock()
	defer h.matureMu.Unlock()
	out := make([]*Object, len(h.mature))
	copy(out, h.mature)
	return out
}

// SweepMature implements spec.md §4.9's major-collection incremental
// sweep: unmarked objects are dropped, marked objects survive with their
// mark cleared. batchSize bounds how many NEW objects are examined per
// call (a persistent cursor tracks progress across calls), so a caller
// can interleave sweep batches with other work to keep pauses small; a
// batchSize <= 0 examines the rest of the generation in one pass. Once
// the cursor reaches the end, the survivors replace the generation and
// done is true, ready for the next full cycle.
func (h *Heap) SweepMature(batchSize int) (freed int, done bool) {
	h.matureMu.Lock()
	defer h.matureMu.Unlock()

	n := len(h.mature)
	remaining := n - h.sweepCursor
	if batchSize <= 0 || batchSize > remaining {
		batchSize = remaining
	}

	end := h.sweepCursor + batchSize
	for i := h.sweepCursor; i < end; i++ {
		o := h.mature[i]
		if o.IsMarked() {
			o.ClearMark()
			h.sweepKeep = append(h.sweepKeep, o)
		} else {
			freed++
		}
	}
	h.sweepCursor = end

	if h.sweepCursor >= n {
		h.mature = h.sweepKeep
		h.sweepKeep = nil
		h.sweepCursor = 0
		return freed, true
	}
	return freed, false
}

// NurseryLen and MatureLen report current occupancy, used by the
// allocator's out-of-memory decision and by observability tooling.
func (h *Heap) NurseryLen() int {
	h.nurseryMu.Lock()
	defer h.nurseryMu.Unlock()
	return len(h.nursery)
}

func (h *Heap) MatureLen() int {
	h.matureMu.Lock()
	defer h.matureMu.Unlock()
	return len(h.mature)
}
