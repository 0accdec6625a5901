package gc

import "testing"

func TestSweepNursery_PromotesAtAgeThreshold(t *testing.T) {
	h := NewHeap()
	o := &Object{Header: Header{Age: PromotionAge - 1}}
	o.SetMark()
	h.AllocNursery(o)

	promoted, copied := h.SweepNursery()
	if promoted != 1 || copied != 0 {
		t.Fatalf("got promoted=%d copied=%d, want 1,0", promoted, copied)
	}
	if h.MatureLen() != 1 {
		t.Fatalf("mature len = %d, want 1", h.MatureLen())
	}
	if h.NurseryLen() != 0 {
		t.Fatalf("nursery len = %d, want 0", h.NurseryLen())
	}
}

func TestSweepNursery_CopiesBelowThreshold(t *testing.T) {
	h := NewHeap()
	o := &Object{}
	o.SetMark()
	h.AllocNursery(o)

	promoted, copied := h.SweepNursery()
	if promoted != 0 || copied != 1 {
		t.Fatalf("got promoted=%d copied=%d, want 0,1", promoted, copied)
	}
	if h.NurseryLen() != 1 {
		t.Fatalf("nursery len = %d, want 1", h.NurseryLen())
	}
	if o.IsMarked() {
		t.Fatal("mark bit should be cleared after sweep")
	}
}

func TestSweepNursery_DropsUnmarked(t *testing.T) {
	h := NewHeap()
	h.AllocNursery(&Object{})

	promoted, copied := h.SweepNursery()
	if promoted != 0 || copied != 0 {
		t.Fatalf("got promoted=%d copied=%d, want 0,0", promoted, copied)
	}
	if h.NurseryLen() != 0 {
		t.Fatalf("nursery len = %d, want 0", h.NurseryLen())
	}
}

func TestSweepMature_BatchesAndReportsDone(t *testing.T) {
	h := NewHeap()
	for i := 0; i < 5; i++ {
		h.matureMu.Lock()
		h.mature = append(h.mature, &Object{})
		h.matureMu.Unlock()
	}
	// mark the first three survivors, as a major collection's mark phase would
	for i, o := range h.MatureSnapshot() {
		if i < 3 {
			o.SetMark()
		}
	}

	freed, done := h.SweepMature(2)
	if done {
		t.Fatal("expected not done after a partial batch")
	}
	if freed != 0 {
		t.Fatalf("freed = %d, want 0 (first two objects were marked)", freed)
	}

	freed, done = h.SweepMature(0)
	if !done {
		t.Fatal("expected done after sweeping the remainder")
	}
	if freed != 2 {
		t.Fatalf("freed = %d, want 2 (unmarked objects in the remaining batch)", freed)
	}
	if h.MatureLen() != 3 {
		t.Fatalf("mature len after sweep = %d, want 3", h.MatureLen())
	}
}

func TestRoots_CombinesRegisteredAndBarrierLogged(t *testing.T) {
	h := NewHeap()
	b := NewBarrier()
	root := &Object{}
	young := &Object{}
	h.AddRoot(root)
	b.Record(&Object{}, young)

	roots := h.Roots(b)
	if len(roots) != 2 {
		t.Fatalf("roots = %d, want 2", len(roots))
	}
}
