package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dbtcore/rt/regalloc"
)

func TestDefault_MatchesSpecDefaults(t *testing.T) {
	c := Default()
	if c.Tier0ToTier1 != 10 || c.Tier1ToTier2 != 100 || c.Tier2ToTier3 != 1000 {
		t.Fatalf("tier thresholds = %+v, want 10/100/1000", c)
	}
	if c.MinTimeInTier() != 100*time.Millisecond {
		t.Fatalf("MinTimeInTier() = %v, want 100ms", c.MinTimeInTier())
	}
	if c.TLB.L1Size != 64 || c.TLB.L2Size != 512 || c.TLB.L3Size != 4096 {
		t.Fatalf("TLB sizes = %+v, want 64/512/4096", c.TLB)
	}
	if c.Analyzer.HistoryCapacity != 1024 || c.Analyzer.PrefetchCount != 3 {
		t.Fatalf("Analyzer = %+v, want history 1024, prefetch 3", c.Analyzer)
	}
}

func TestNew_AppliesOptionsOverDefaults(t *testing.T) {
	c := New(WithHotspotThreshold(99), WithTierThresholds(1, 2, 3))
	if c.HotspotThreshold != 99 {
		t.Fatalf("HotspotThreshold = %d, want 99", c.HotspotThreshold)
	}
	if c.Tier0ToTier1 != 1 || c.Tier1ToTier2 != 2 || c.Tier2ToTier3 != 3 {
		t.Fatalf("tier thresholds = %+v, want 1/2/3", c)
	}
	// Untouched fields keep their defaults.
	if c.GC.NumWorkers != Default().GC.NumWorkers {
		t.Fatalf("GC.NumWorkers = %d, want unchanged default", c.GC.NumWorkers)
	}
}

func TestNew_IgnoresNilOption(t *testing.T) {
	c := New(nil, WithHotspotThreshold(5))
	if c.HotspotThreshold != 5 {
		t.Fatalf("HotspotThreshold = %d, want 5", c.HotspotThreshold)
	}
}

func TestWithNUMAPreference_InitializesMap(t *testing.T) {
	c := New(WithNUMAPreference(2, 1))
	if got := c.NUMA.PreferredNodePerVCPU[2]; got != 1 {
		t.Fatalf("PreferredNodePerVCPU[2] = %d, want 1", got)
	}
}

func TestRegallocStrategy_MapsNames(t *testing.T) {
	cases := map[string]regalloc.Strategy{
		"":               regalloc.StrategyAdaptive,
		"adaptive":       regalloc.StrategyAdaptive,
		"linear-scan":    regalloc.StrategyLinearScan,
		"graph-coloring": regalloc.StrategyGraphColoring,
	}
	for name, want := range cases {
		c := Config{Regalloc: Regalloc{Strategy: name}}
		if got := c.RegallocStrategy(); got != want {
			t.Fatalf("RegallocStrategy(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestLoad_OverridesOnlyMentionedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("hotspot_threshold: 42\ngc:\n  num_workers: 8\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.HotspotThreshold != 42 {
		t.Fatalf("HotspotThreshold = %d, want 42", c.HotspotThreshold)
	}
	if c.GC.NumWorkers != 8 {
		t.Fatalf("GC.NumWorkers = %d, want 8", c.GC.NumWorkers)
	}
	// Untouched defaults survive partial loading.
	if c.TLB.L1Size != Default().TLB.L1Size {
		t.Fatalf("TLB.L1Size = %d, want unchanged default", c.TLB.L1Size)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
