package tlb

import (
	"context"
	"testing"
)

func newTestTLB(mappings map[uint64]uint64) *TLB {
	pt := &fakePageTable{mappings: mappings}
	return New(NewWalker(pt), LevelSizes{L1: 2, L2: 4, L3: 8}, 16)
}

func TestTLB_MissThenHitPromotesToL1(t *testing.T) {
	tl := newTestTLB(map[uint64]uint64{1: 100})

	e, err := tl.Translate(context.Background(), 1, 0, KindLoad)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if e.PPN != 100 {
		t.Fatalf("PPN = %d, want 100", e.PPN)
	}

	if _, ok := tl.l1.get(key{vpn: 1}); !ok {
		t.Fatal("expected entry installed into L1 after walker resolve")
	}

	rates := tl.HitRates()
	if rates.MissRate <= 0 {
		t.Fatalf("expected a nonzero miss rate, got %+v", rates)
	}
}

func TestTLB_SecondLookupIsL1Hit(t *testing.T) {
	tl := newTestTLB(map[uint64]uint64{1: 100})
	ctx := context.Background()
	tl.Translate(ctx, 1, 0, KindLoad)
	tl.Translate(ctx, 1, 0, KindLoad)

	rates := tl.HitRates()
	if rates.L1 <= 0 {
		t.Fatalf("expected L1 hit rate > 0, got %+v", rates)
	}
}

func TestTLB_TranslationFaultOnUnmappedPage(t *testing.T) {
	tl := newTestTLB(map[uint64]uint64{})
	_, err := tl.Translate(context.Background(), 42, 0, KindLoad)
	if err == nil {
		t.Fatal("expected a translation fault for an unmapped page")
	}
}

func TestTLB_InvalidateRangeFlushesAllLevels(t *testing.T) {
	tl := newTestTLB(map[uint64]uint64{5: 50})
	ctx := context.Background()
	tl.Translate(ctx, 5, 0, KindLoad)

	removed := tl.InvalidateRange(0, 10)
	if removed == 0 {
		t.Fatal("expected at least one entry invalidated")
	}
	if _, ok := tl.l1.get(key{vpn: 5}); ok {
		t.Fatal("expected L1 entry flushed")
	}
}

func TestTLB_InstallPrefetchedNeverTouchesL1(t *testing.T) {
	tl := newTestTLB(nil)
	tl.InstallPrefetched([]Entry{{VPN: 7, PPN: 70, Valid: true}})

	if _, ok := tl.l1.get(key{vpn: 7}); ok {
		t.Fatal("prefetched entries must not install into L1")
	}
	if _, ok := tl.l2.get(key{vpn: 7}); !ok {
		t.Fatal("expected prefetched entry installed into L2")
	}
}

func TestTLB_NextPrefetchRequests(t *testing.T) {
	tl := newTestTLB(map[uint64]uint64{})
	for _, v := range []uint64{0x1000, 0x1040, 0x1080, 0x10c0} {
		tl.observe(v, KindLoad, false)
	}
	reqs := tl.NextPrefetchRequests(0, 3, 0x40)
	if len(reqs) != 3 {
		t.Fatalf("NextPrefetchRequests() = %v, want 3 requests", reqs)
	}
}
