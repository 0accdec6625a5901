// Package config assembles the runtime's configuration surface from
// spec.md §6, as a functional-options Config mirroring the teacher's
// LoopOption shape (eventloop/options.go: an unexported apply method,
// constructed via With* constructors, resolved by folding over defaults),
// generalized from one options struct to the whole component surface,
// plus YAML loading for the same fields via gopkg.in/yaml.v3.
package config

import (
	"time"
)

// GC holds the garbage collector's tunables (spec.md §6's gc.* keys).
type GC struct {
	PauseTargetUs  int64 `yaml:"pause_target_us"`
	QuotaMinBpms   int64 `yaml:"quota_min_bpms"`
	QuotaMaxBpms   int64 `yaml:"quota_max_bpms"`
	NumWorkers     int   `yaml:"num_workers"`
	PromotionAge   int   `yaml:"promotion_age"`
}

// TLB holds the per-level TLB sizes (spec.md §6's tlb.* keys).
type TLB struct {
	L1Size int `yaml:"l1_size"`
	L2Size int `yaml:"l2_size"`
	L3Size int `yaml:"l3_size"`
}

// Analyzer holds the access-pattern analyzer's tunables.
type Analyzer struct {
	HistoryCapacity int   `yaml:"history_capacity"`
	PrefetchCount   int   `yaml:"prefetch_count"`
	StrideMaxBytes  int64 `yaml:"stride_max_bytes"`
}

// NUMA holds per-vCPU node preferences (spec.md's "a map[int]int in the
// Go Config").
type NUMA struct {
	PreferredNodePerVCPU map[int]int `yaml:"preferred_node_per_vcpu"`
}

// Regalloc holds register-allocation tunables.
type Regalloc struct {
	SmallBlockThreshold int    `yaml:"small_block_threshold"`
	Strategy            string `yaml:"strategy"` // adaptive, linear-scan, graph-coloring
}

// ML holds the tier-prediction ML layer's tunables.
type ML struct {
	Enabled bool       `yaml:"enabled"`
	Weights [7]float64 `yaml:"weights"`
}

// Config is the full configuration surface from spec.md §6.
type Config struct {
	HotspotThreshold  uint64        `yaml:"hotspot_threshold"`
	HotnessThreshold  float64       `yaml:"hotness_threshold"`
	Tier0ToTier1      uint64        `yaml:"tier0_to_tier1"`
	Tier1ToTier2      uint64        `yaml:"tier1_to_tier2"`
	Tier2ToTier3      uint64        `yaml:"tier2_to_tier3"`
	MinTimeInTierUs   int64         `yaml:"min_time_in_tier_us"`
	MaxHotspotsTracked int          `yaml:"max_hotspots_tracked"`

	GC       GC       `yaml:"gc"`
	TLB      TLB      `yaml:"tlb"`
	Analyzer Analyzer `yaml:"analyzer"`
	NUMA     NUMA     `yaml:"numa"`
	Regalloc Regalloc `yaml:"regalloc"`
	ML       ML       `yaml:"ml"`
}

// Default returns spec.md's stated defaults (every field this document
// names one for); fields with no stated default are left at their Go
// zero value and must be set explicitly by the caller or a loaded file.
func Default() Config {
	return Config{
		HotspotThreshold:   10,
		HotnessThreshold:   0.5,
		Tier0ToTier1:       10,
		Tier1ToTier2:       100,
		Tier2ToTier3:       1000,
		MinTimeInTierUs:    (100 * time.Millisecond).Microseconds(),
		MaxHotspotsTracked: 4096,
		GC: GC{
			PauseTargetUs: (2 * time.Millisecond).Microseconds(),
			QuotaMinBpms:  (500 * time.Microsecond).Microseconds(),
			QuotaMaxBpms:  (10 * time.Millisecond).Microseconds(),
			NumWorkers:    4,
			PromotionAge:  2,
		},
		TLB:      TLB{L1Size: 64, L2Size: 512, L3Size: 4096},
		Analyzer: Analyzer{HistoryCapacity: 1024, PrefetchCount: 3, StrideMaxBytes: 32},
		NUMA:     NUMA{PreferredNodePerVCPU: map[int]int{}},
		Regalloc: Regalloc{SmallBlockThreshold: 32, Strategy: "adaptive"},
		ML:       ML{Enabled: false},
	}
}

// Option mutates a Config during construction, mirroring the teacher's
// LoopOption interface (eventloop/options.go) generalized to this
// package's single unexported apply hook.
type Option interface {
	apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

// WithHotspotThreshold overrides the exec-count-to-be-hot threshold.
func WithHotspotThreshold(n uint64) Option {
	return optionFunc(func(c *Config) { c.HotspotThreshold = n })
}

// WithTierThresholds overrides the three tier-upgrade exec-count
// thresholds at once.
func WithTierThresholds(t0t1, t1t2, t2t3 uint64) Option {
	return optionFunc(func(c *Config) {
		c.Tier0ToTier1 = t0t1
		c.Tier1ToTier2 = t1t2
		c.Tier2ToTier3 = t2t3
	})
}

// WithMinTimeInTier overrides the minimum dwell time before a tier can
// upgrade again.
func WithMinTimeInTier(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.MinTimeInTierUs = d.Microseconds() })
}

// WithGC overrides the GC sub-config wholesale.
func WithGC(gc GC) Option {
	return optionFunc(func(c *Config) { c.GC = gc })
}

// WithTLB overrides the TLB sub-config wholesale.
func WithTLB(tlb TLB) Option {
	return optionFunc(func(c *Config) { c.TLB = tlb })
}

// WithNUMAPreference sets vcpu's preferred NUMA node.
func WithNUMAPreference(vcpu, node int) Option {
	return optionFunc(func(c *Config) {
		if c.NUMA.PreferredNodePerVCPU == nil {
			c.NUMA.PreferredNodePerVCPU = map[int]int{}
		}
		c.NUMA.PreferredNodePerVCPU[vcpu] = node
	})
}

// WithML sets ML.Enabled and records the given weights in ML.Weights.
// engine.New builds the ML layer with zero-initialized weights and does
// not read ML.Weights.
func WithML(enabled bool, weights [7]float64) Option {
	return optionFunc(func(c *Config) {
		c.ML.Enabled = enabled
		c.ML.Weights = weights
	})
}

// New resolves Default() folded over opts, matching the teacher's
// resolveLoopOptions fold-over-defaults shape.
func New(opts ...Option) Config {
	cfg := Default()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(&cfg)
	}
	return cfg
}

// MinTimeInTier returns the configured minimum time-in-tier as a
// time.Duration, for callers that want policy.Thresholds directly.
func (c Config) MinTimeInTier() time.Duration {
	return time.Duration(c.MinTimeInTierUs) * time.Microsecond
}

// GCPauseTarget, GCQuotaMin, and GCQuotaMax convert the GC sub-config's
// microsecond fields to time.Duration for gc.Config construction.
func (c Config) GCPauseTarget() time.Duration { return time.Duration(c.GC.PauseTargetUs) * time.Microsecond }
func (c Config) GCQuotaMin() time.Duration    { return time.Duration(c.GC.QuotaMinBpms) * time.Microsecond }
func (c Config) GCQuotaMax() time.Duration    { return time.Duration(c.GC.QuotaMaxBpms) * time.Microsecond }
