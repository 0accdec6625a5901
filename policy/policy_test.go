package policy

import (
	"testing"
	"time"

	"github.com/dbtcore/rt/profile"
	"github.com/dbtcore/rt/tiers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_NoUpgradeBelowCountThreshold(t *testing.T) {
	snap := profile.Snapshot{Tier: tiers.T0, ExecCount: 9, TimeInTier: time.Second}
	d := Evaluate(snap, DefaultThresholds, nil)
	assert.False(t, d.Upgrade)
	assert.Equal(t, tiers.T0, d.TargetTier)
}

func TestEvaluate_NoUpgradeBelowTimeInTier(t *testing.T) {
	snap := profile.Snapshot{Tier: tiers.T0, ExecCount: 100, TimeInTier: time.Millisecond}
	d := Evaluate(snap, DefaultThresholds, nil)
	assert.False(t, d.Upgrade)
}

func TestEvaluate_UpgradesT0ToT1(t *testing.T) {
	snap := profile.Snapshot{Tier: tiers.T0, ExecCount: 10, TimeInTier: 200 * time.Millisecond}
	d := Evaluate(snap, DefaultThresholds, nil)
	require.True(t, d.Upgrade)
	assert.Equal(t, tiers.T1, d.TargetTier)
}

func TestEvaluate_UpgradesT1ToT2(t *testing.T) {
	snap := profile.Snapshot{Tier: tiers.T1, ExecCount: 100, TimeInTier: 200 * time.Millisecond}
	d := Evaluate(snap, DefaultThresholds, nil)
	require.True(t, d.Upgrade)
	assert.Equal(t, tiers.T2, d.TargetTier)
}

func TestEvaluate_NeverUpgradesPastT3(t *testing.T) {
	snap := profile.Snapshot{Tier: tiers.T3, ExecCount: 1_000_000, TimeInTier: time.Hour}
	d := Evaluate(snap, DefaultThresholds, nil)
	assert.False(t, d.Upgrade)
}

func TestEvaluate_DegradingTrendTriggersRecompileNotDemotion(t *testing.T) {
	snap := profile.Snapshot{Tier: tiers.T2, ExecCount: 50, TimeInTier: time.Millisecond, Trend: profile.TrendDegrading}
	d := Evaluate(snap, DefaultThresholds, nil)
	assert.False(t, d.Upgrade)
	assert.True(t, d.Recompile)
	assert.Equal(t, tiers.T2, d.TargetTier)
}

func TestEvaluate_DegradingTrendIgnoredAtT0(t *testing.T) {
	snap := profile.Snapshot{Tier: tiers.T0, ExecCount: 1, TimeInTier: time.Millisecond, Trend: profile.TrendDegrading}
	d := Evaluate(snap, DefaultThresholds, nil)
	assert.False(t, d.Recompile)
}

func TestMLEngine_NeverExceedsMonotonicTarget(t *testing.T) {
	e := NewEngine(0)
	snap := profile.Snapshot{Tier: tiers.T0, ExecCount: 10, TimeInTier: 200 * time.Millisecond}
	d := Evaluate(snap, DefaultThresholds, e)
	require.True(t, d.Upgrade)
	assert.LessOrEqual(t, d.TargetTier, tiers.T1)
}

func TestMLEngine_FeedbackBoundedStep(t *testing.T) {
	e := NewEngine(0.01)
	before := e.weights
	e.Feedback(Features{Size: 100, LogExecNs: 5}, 10)
	for i := range e.weights {
		delta := e.weights[i] - before[i]
		assert.LessOrEqual(t, delta, 0.01)
		assert.GreaterOrEqual(t, delta, -0.01)
	}
}

func TestMLEngine_DecisionCacheMemoizes(t *testing.T) {
	e := NewEngine(0)
	snap := profile.Snapshot{PC: 0x4000, Tier: tiers.T0, ExecCount: 10, TimeInTier: 200 * time.Millisecond}
	Evaluate(snap, DefaultThresholds, e)
	_, ok := e.cache[0x4000]
	assert.True(t, ok)
}
